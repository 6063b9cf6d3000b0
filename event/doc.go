// Copyright 2026 The MediCore Authors
// SPDX-License-Identifier: Apache-2.0

// Package event defines the JSON wire envelopes exchanged with the
// collaboration server and the Router that demultiplexes inbound
// payloads into typed domain events.
//
// The Router dispatches on the transport's read goroutine: events are
// delivered to subscribers in arrival order with no buffering, so a
// subscriber callback must never block. Unknown type discriminators are
// logged and dropped — a protocol mismatch must not crash the router or
// a sibling subscriber.
package event
