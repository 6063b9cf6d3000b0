// Copyright 2026 The MediCore Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport maintains the duplex websocket connection that
// carries all real-time events for a room session.
//
// The Channel owns every timer it starts: the heartbeat ticker and the
// pending reconnect timer live on the struct and are cancelled on every
// exit path, so no timer outlives a Close. Reconnection is a single
// fixed-delay retry per failure — an abnormal close arms exactly one
// 3-second timer, each attempt re-checks credential validity, and a
// deliberate Close cancels the pending attempt. There is no backoff and
// no attempt cap; a reachable-again server is picked up on the next
// attempt however long the outage lasted.
package transport
