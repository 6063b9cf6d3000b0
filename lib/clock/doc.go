// Copyright 2026 The MediCore Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts timers behind an injectable interface so that
// the client's timer-driven behavior (typing debounce, heartbeat probes,
// reconnect delays, credential refresh checks, control-request timeouts)
// is deterministic under test.
//
// Production code injects Real(). Tests inject Fake(initial) and drive
// time explicitly with Advance, using WaitForTimers to synchronize with
// goroutines that register timers.
package clock
