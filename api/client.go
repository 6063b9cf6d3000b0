// Copyright 2026 The MediCore Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// BaseURL is the platform backend base URL (e.g., "https://api.medicore.example").
	BaseURL string
	// HTTPClient is used for all requests. If nil, http.DefaultClient is used.
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Client is the platform REST client. It is unauthenticated by itself;
// authenticated calls take the bearer token as an argument so the
// credential manager stays the only owner of the token pair.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient validates the configuration and returns a Client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("api: BaseURL is required")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("api: invalid BaseURL %q: %w", config.BaseURL, err)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// TokenResponse is the body of login and refresh responses. The refresh
// endpoint may omit RefreshToken (token reuse) and ExpiresAt (the
// caller falls back to the JWT exp claim).
type TokenResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
	UserID       string    `json:"user_id,omitempty"`
}

// Room is the metadata the real-time core resolves for events that
// reference a room.
type Room struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	RoomType     string   `json:"room_type"`
	CreatorID    string   `json:"creator_id"`
	Participants []string `json:"participants"`
	MaxViewers   int      `json:"max_viewers"`
}

// Profile is the user metadata resolved for participant events.
type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Specialty   string `json:"specialty,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// Login authenticates with email and password and returns the initial
// token pair.
func (c *Client) Login(ctx context.Context, email, password string) (*TokenResponse, error) {
	if email == "" {
		return nil, fmt.Errorf("api: email is required for login")
	}
	body, err := c.doRequest(ctx, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return nil, fmt.Errorf("api: login failed: %w", err)
	}

	var response TokenResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("api: failed to parse login response: %w", err)
	}
	c.logger.Info("logged in to platform", "user_id", response.UserID)
	return &response, nil
}

// Refresh exchanges a refresh token for a new token pair. A 401-class
// *Error from this call means the refresh token itself is dead.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("api: refresh token is required")
	}
	body, err := c.doRequest(ctx, http.MethodPost, "/api/auth/refresh", "", map[string]string{
		"refresh_token": refreshToken,
	})
	if err != nil {
		return nil, fmt.Errorf("api: token refresh failed: %w", err)
	}

	var response TokenResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("api: failed to parse refresh response: %w", err)
	}
	return &response, nil
}

// GetRoom fetches metadata for a room.
func (c *Client) GetRoom(ctx context.Context, accessToken, roomID string) (*Room, error) {
	if roomID == "" {
		return nil, fmt.Errorf("api: room ID is required")
	}
	body, err := c.doRequest(ctx, http.MethodGet, "/api/rooms/"+url.PathEscape(roomID), accessToken, nil)
	if err != nil {
		return nil, fmt.Errorf("api: fetching room %s: %w", roomID, err)
	}

	var room Room
	if err := json.Unmarshal(body, &room); err != nil {
		return nil, fmt.Errorf("api: failed to parse room response: %w", err)
	}
	return &room, nil
}

// GetProfile fetches a user's profile.
func (c *Client) GetProfile(ctx context.Context, accessToken, userID string) (*Profile, error) {
	if userID == "" {
		return nil, fmt.Errorf("api: user ID is required")
	}
	body, err := c.doRequest(ctx, http.MethodGet, "/api/users/"+url.PathEscape(userID), accessToken, nil)
	if err != nil {
		return nil, fmt.Errorf("api: fetching profile %s: %w", userID, err)
	}

	var profile Profile
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, fmt.Errorf("api: failed to parse profile response: %w", err)
	}
	return &profile, nil
}

// CloseIdleConnections drops pooled HTTP connections. Call after a
// network disruption so the next request opens a fresh socket instead
// of reusing a poisoned one.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// doRequest performs an HTTP request and returns the response body.
// On 2xx, returns the body. On 4xx/5xx, returns a *Error.
// accessToken may be empty for unauthenticated endpoints.
func (c *Client) doRequest(ctx context.Context, method, path, accessToken string, requestBody any) ([]byte, error) {
	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("api: failed to encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("api: failed to create request: %w", err)
	}
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		request.Header.Set("Authorization", "Bearer "+accessToken)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("api: request to %s %s failed: %w", method, path, err)
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("api: failed to read response body: %w", err)
	}

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return responseBody, nil
	}

	// All platform error responses share the same JSON shape.
	var apiErr Error
	if jsonErr := json.Unmarshal(responseBody, &apiErr); jsonErr != nil || apiErr.Code == "" {
		return nil, fmt.Errorf("api: unexpected %d response from %s %s: %s",
			response.StatusCode, method, path, string(responseBody))
	}
	apiErr.StatusCode = response.StatusCode

	return responseBody, &apiErr
}
