// Copyright 2026 The MediCore Authors
// SPDX-License-Identifier: Apache-2.0

// Package auth owns the access/refresh token pair for a signed-in user.
//
// The Manager is the only component that mutates the credential. It is
// constructed once per process and injected into every room session;
// all sessions observe the same token, the same "refreshed"
// notifications, and the same terminal expiry. Refresh is single-flight:
// while one network refresh is in progress, concurrent callers wait for
// that call's outcome instead of issuing their own. This matters
// because the server rotates the refresh token on use — a duplicate
// concurrent refresh would invalidate the sibling's new token.
package auth
