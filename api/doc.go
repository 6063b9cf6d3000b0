// Copyright 2026 The MediCore Authors
// SPDX-License-Identifier: Apache-2.0

// Package api is the REST client for the MediCore platform backend. It
// covers the calls the real-time core depends on: login, token refresh,
// and the room/user metadata lookups needed to resolve references in
// incoming events. Room and profile CRUD beyond that is out of scope.
//
// All server errors unmarshal into *Error, which callers inspect with
// errors.As. A 401-class response is what the credential manager treats
// as terminal.
package api
