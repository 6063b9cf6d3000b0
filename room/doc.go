// Copyright 2026 The MediCore Authors
// SPDX-License-Identifier: Apache-2.0

// Package room wires one room's real-time state: the transport channel,
// the event router, the typing tracker, the screen-share controller,
// and the peer connection orchestrator, all fed from a shared
// credential manager.
//
// A Session owns everything except the credential manager, which is
// shared across rooms and injected. Close tears the session down in a
// fixed order — reconnect and heartbeat timers first, then typing
// debounce timers, then peer connections — so no timer fires and no
// callback runs afterwards. Terminal credential expiry closes every
// session subscribed to the manager.
package room
