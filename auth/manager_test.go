// Copyright 2026 The MediCore Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/its-amann/MediCore-Ai-Platform--sub001/api"
	"github.com/its-amann/MediCore-Ai-Platform--sub001/lib/clock"
	"github.com/its-amann/MediCore-Ai-Platform--sub001/lib/testutil"
)

func newTestManager(t *testing.T, clk clock.Clock, refresh RefreshFunc) *Manager {
	t.Helper()
	manager, err := NewManager(ManagerConfig{
		Refresh: refresh,
		Clock:   clk,
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return manager
}

func TestStatusLifecycle(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	fake := clock.Fake(start)
	manager := newTestManager(t, fake, func(ctx context.Context, refreshToken string) (Credential, error) {
		return Credential{}, fmt.Errorf("unused")
	})

	t.Run("no credential", func(t *testing.T) {
		status := manager.Status()
		if !status.Expired || status.Valid {
			t.Fatalf("empty manager status = %+v", status)
		}
	})

	manager.SetCredential(Credential{
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresAt:    start.Add(30 * time.Minute),
	})

	t.Run("fresh token", func(t *testing.T) {
		status := manager.Status()
		if !status.Valid || status.ShouldRefresh || status.Expired {
			t.Fatalf("fresh status = %+v", status)
		}
		if status.Remaining != 30*time.Minute {
			t.Fatalf("Remaining = %v", status.Remaining)
		}
	})

	t.Run("near expiry", func(t *testing.T) {
		fake.Advance(21 * time.Minute)
		status := manager.Status()
		if !status.Valid || !status.ShouldRefresh {
			t.Fatalf("near-expiry status = %+v", status)
		}
	})
}

func TestGracePeriodScenario(t *testing.T) {
	expiry := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	fake := clock.Fake(expiry.Add(-time.Hour))
	manager := newTestManager(t, fake, func(ctx context.Context, refreshToken string) (Credential, error) {
		return Credential{}, fmt.Errorf("backend unreachable")
	})
	manager.SetCredential(Credential{
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresAt:    expiry,
	})

	events := make(chan Event, 4)
	unsubscribe := manager.Subscribe(func(event Event) { events <- event })
	defer unsubscribe()

	// T+120s: expired but inside the grace window.
	fake.Advance(time.Hour + 120*time.Second)
	status := manager.Status()
	if !status.Expired || !status.InGracePeriod {
		t.Fatalf("status at T+120s = %+v", status)
	}

	// T+360s: grace window over.
	fake.Advance(240 * time.Second)
	status = manager.Status()
	if !status.Expired || status.InGracePeriod {
		t.Fatalf("status at T+360s = %+v", status)
	}

	// The next background check forces terminal expiry.
	manager.check()
	if event := testutil.RequireReceive(t, events, time.Second, "session end event"); event != EventSessionEnded {
		t.Fatalf("event = %v, want EventSessionEnded", event)
	}
	if _, ok := manager.Token(); ok {
		t.Fatal("Token available after terminal expiry")
	}
}

func TestRefreshSingleFlight(t *testing.T) {
	var networkCalls atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})

	manager := newTestManager(t, clock.Fake(time.Unix(1000, 0)), func(ctx context.Context, refreshToken string) (Credential, error) {
		if networkCalls.Add(1) == 1 {
			close(entered)
		}
		<-release
		return Credential{
			AccessToken:  "access-2",
			RefreshToken: "refresh-2",
			ExpiresAt:    time.Unix(5000, 0),
		}, nil
	})
	manager.SetCredential(Credential{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Unix(2000, 0),
	})

	const callers = 5
	results := make(chan bool, callers)
	go func() { results <- manager.Refresh(context.Background()) }()
	testutil.RequireClosed(t, entered, 5*time.Second, "first refresh in flight")

	var wg sync.WaitGroup
	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- manager.Refresh(context.Background())
		}()
	}
	// Release the network call only once every sibling is parked on the
	// in-flight wait, so a late caller cannot slip past it and issue a
	// second request.
	deadline := time.Now().Add(5 * time.Second)
	for {
		manager.mu.Lock()
		waiting := 0
		if manager.inflight != nil {
			waiting = manager.inflight.waiters
		}
		manager.mu.Unlock()
		if waiting == callers-1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("siblings parked on in-flight refresh = %d, want %d", waiting, callers-1)
		}
		time.Sleep(time.Millisecond)
	}
	close(release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		if !testutil.RequireReceive(t, results, 5*time.Second, "refresh result %d", i) {
			t.Fatalf("caller %d observed failure", i)
		}
	}
	if got := networkCalls.Load(); got != 1 {
		t.Fatalf("network refresh calls = %d, want 1", got)
	}
	token, ok := manager.Token()
	if !ok || token != "access-2" {
		t.Fatalf("Token after refresh = %q, %v", token, ok)
	}
}

func TestRefreshAuthErrorIsTerminal(t *testing.T) {
	manager := newTestManager(t, clock.Fake(time.Unix(1000, 0)), func(ctx context.Context, refreshToken string) (Credential, error) {
		return Credential{}, &api.Error{Code: api.CodeTokenExpired, StatusCode: 401}
	})
	manager.SetCredential(Credential{
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresAt:    time.Unix(2000, 0),
	})

	events := make(chan Event, 4)
	defer manager.Subscribe(func(event Event) { events <- event })()

	if manager.Refresh(context.Background()) {
		t.Fatal("Refresh succeeded against a 401")
	}
	if event := testutil.RequireReceive(t, events, time.Second, "session end"); event != EventSessionEnded {
		t.Fatalf("event = %v", event)
	}

	// Terminal expiry is idempotent: a second Expire emits nothing.
	manager.Expire()
	testutil.RequireNoReceive(t, events, 50*time.Millisecond, "duplicate session end")
}

func TestRefreshTransientError(t *testing.T) {
	manager := newTestManager(t, clock.Fake(time.Unix(1000, 0)), func(ctx context.Context, refreshToken string) (Credential, error) {
		return Credential{}, fmt.Errorf("connection reset")
	})
	manager.SetCredential(Credential{
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresAt:    time.Unix(2000, 0),
	})

	if manager.Refresh(context.Background()) {
		t.Fatal("Refresh reported success on a transient error")
	}
	// The session survives; the old token is still held.
	token, ok := manager.Token()
	if !ok || token != "access" {
		t.Fatalf("Token after transient failure = %q, %v", token, ok)
	}
}

func TestRefreshTokenReuse(t *testing.T) {
	start := time.Unix(1000, 0)
	manager := newTestManager(t, clock.Fake(start), func(ctx context.Context, refreshToken string) (Credential, error) {
		// Server reuses the refresh token and omits expires_at.
		return Credential{AccessToken: "opaque-access"}, nil
	})
	manager.SetCredential(Credential{
		AccessToken:  "access",
		RefreshToken: "refresh-1",
		ExpiresAt:    start.Add(time.Minute),
	})

	if !manager.Refresh(context.Background()) {
		t.Fatal("Refresh failed")
	}

	manager.mu.Lock()
	credential := *manager.cred
	manager.mu.Unlock()
	if credential.RefreshToken != "refresh-1" {
		t.Fatalf("RefreshToken = %q, want reused refresh-1", credential.RefreshToken)
	}
	// Opaque token, no exp claim: default lifetime applies.
	if want := start.Add(defaultLifetime); !credential.ExpiresAt.Equal(want) {
		t.Fatalf("ExpiresAt = %v, want %v", credential.ExpiresAt, want)
	}
}

func TestExpiryFromJWTClaim(t *testing.T) {
	expiry := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u42",
		"exp": expiry.Unix(),
	}).SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("signing test token: %v", err)
	}

	manager := newTestManager(t, clock.Fake(expiry.Add(-time.Hour)), func(ctx context.Context, refreshToken string) (Credential, error) {
		return Credential{}, fmt.Errorf("unused")
	})
	manager.SetCredential(Credential{AccessToken: signed, RefreshToken: "refresh"})

	manager.mu.Lock()
	got := manager.cred.ExpiresAt
	manager.mu.Unlock()
	if !got.Equal(expiry) {
		t.Fatalf("ExpiresAt = %v, want %v from exp claim", got, expiry)
	}
}

func TestBackgroundProactiveRefresh(t *testing.T) {
	start := time.Unix(1000, 0)
	fake := clock.Fake(start)

	refreshed := make(chan struct{}, 1)
	manager := newTestManager(t, fake, func(ctx context.Context, refreshToken string) (Credential, error) {
		refreshed <- struct{}{}
		return Credential{
			AccessToken:  "access-2",
			RefreshToken: "refresh-2",
			ExpiresAt:    fake.Now().Add(time.Hour),
		}, nil
	})
	manager.SetCredential(Credential{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    start.Add(8 * time.Minute), // below the 10 minute threshold
	})

	manager.Start()
	defer manager.Stop()
	fake.WaitForTimers(1)

	fake.Advance(checkInterval)
	testutil.RequireReceive(t, refreshed, 5*time.Second, "proactive refresh")
}

func TestStartStopIdempotent(t *testing.T) {
	fake := clock.Fake(time.Unix(1000, 0))
	manager := newTestManager(t, fake, func(ctx context.Context, refreshToken string) (Credential, error) {
		return Credential{}, fmt.Errorf("unused")
	})

	manager.Start()
	manager.Start()
	if got := fake.PendingCount(); got != 1 {
		t.Fatalf("pending timers after double Start = %d, want 1", got)
	}
	manager.Stop()
	manager.Stop()
	if got := fake.PendingCount(); got != 0 {
		t.Fatalf("pending timers after Stop = %d, want 0", got)
	}
}
