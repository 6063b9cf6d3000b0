// Copyright 2026 The MediCore Authors
// SPDX-License-Identifier: Apache-2.0

// Package screenshare tracks a room's active screen-share session: a
// state machine over pending → active ⇄ paused → ended (with failure
// edges from pending and active), the viewer set, the stream quality,
// and the remote-control request handshake.
//
// Ended and failed are terminal. Once reached, the session processes
// no further viewer or quality events; duplicate stop notifications
// are no-ops.
package screenshare
