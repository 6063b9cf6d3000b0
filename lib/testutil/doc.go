// Copyright 2026 The MediCore Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides channel assertion helpers shared by the
// client's timer- and callback-heavy tests.
package testutil
