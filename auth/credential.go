// Copyright 2026 The MediCore Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credential is the stored token pair. ExpiresAt refers to the access
// token; the refresh token's lifetime is server-side state the client
// never sees.
type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Status is a point-in-time view of the credential, computed from the
// stored expiry and the clock alone — never from a network round trip.
type Status struct {
	// Valid is true while the access token has lifetime remaining.
	Valid bool
	// Expired is true once the access token's expiry has passed (and
	// after terminal expiry, when no credential is held at all).
	Expired bool
	// InGracePeriod is true for up to gracePeriod past expiry. During
	// the grace window the token is expired but not yet fatal: one
	// refresh attempt is still worth making before forcing logout.
	InGracePeriod bool
	// Remaining is the access token lifetime left. Zero once expired.
	Remaining time.Duration
	// ShouldRefresh is true while the token is valid but its remaining
	// lifetime has dropped below refreshThreshold.
	ShouldRefresh bool
}

// jwtExpiry extracts the exp claim from an access token without
// verifying the signature. Signature verification is the server's job;
// the client only needs the timestamp for scheduling.
func jwtExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	expiry, err := claims.GetExpirationTime()
	if err != nil || expiry == nil {
		return time.Time{}, false
	}
	return expiry.Time, true
}
