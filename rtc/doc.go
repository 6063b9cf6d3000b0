// Copyright 2026 The MediCore Authors
// SPDX-License-Identifier: Apache-2.0

// Package rtc maintains one media peer connection per remote
// participant in a room's video grid.
//
// The Orchestrator consumes signaling events (offer, answer, ICE
// candidate) routed by sender id and sends its own signals back through
// a Signaler. A signal referencing an unknown sender creates the peer
// lazily, so a candidate arriving before the participant's join
// notification is tolerated; candidates arriving before the remote
// description are queued and flushed once it is set.
//
// Failure of one peer is isolated: its connection is closed and
// reported through OnPeerDown without touching any sibling. Glare
// (simultaneous offers) is resolved by a fixed tie-break: the
// lexicographically smaller user id is the canonical offerer.
//
// Pion is reached through the narrow MediaConn interface so tests can
// substitute an in-memory fake.
package rtc
