// Copyright 2026 The MediCore Authors
// SPDX-License-Identifier: Apache-2.0

// Package presence derives "who is typing" from the stream of typing
// start/stop events. Each typing participant owns one debounce timer,
// stored next to the entry it expires, so Stop can cancel every
// outstanding timer and guarantee no callback fires after teardown.
package presence
