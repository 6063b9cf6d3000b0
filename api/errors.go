// Copyright 2026 The MediCore Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"errors"
	"fmt"
)

// Error is the structured error body every platform endpoint returns on
// failure. Extract it with errors.As:
//
//	var apiErr *api.Error
//	if errors.As(err, &apiErr) {
//	    if apiErr.Code == api.CodeTokenExpired { ... }
//	}
type Error struct {
	// Code is the platform error code (e.g., "TOKEN_EXPIRED").
	Code string `json:"code"`
	// Message is the human-readable description from the server.
	Message string `json:"message"`
	// StatusCode is the HTTP status of the response.
	StatusCode int `json:"-"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("api: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// Platform error codes the client branches on.
const (
	CodeTokenExpired   = "TOKEN_EXPIRED"
	CodeTokenInvalid   = "TOKEN_INVALID"
	CodeForbidden      = "FORBIDDEN"
	CodeNotFound       = "NOT_FOUND"
	CodeRoomFull       = "ROOM_FULL"
	CodeRateLimited    = "RATE_LIMITED"
	CodeInternalServer = "INTERNAL_SERVER_ERROR"
)

// IsAuthError reports whether err is a 401-class platform error — the
// sole trigger for terminal credential expiry.
func IsAuthError(err error) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 401
	}
	return false
}

// IsCode reports whether err is a platform error with the given code.
func IsCode(err error, code string) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}
