// Copyright 2026 The MediCore Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/its-amann/MediCore-Ai-Platform--sub001/api"
	"github.com/its-amann/MediCore-Ai-Platform--sub001/lib/clock"
)

const (
	// refreshThreshold is how much remaining lifetime triggers a
	// proactive refresh.
	refreshThreshold = 10 * time.Minute

	// gracePeriod is how long past expiry a token is expired but not
	// yet fatal.
	gracePeriod = 5 * time.Minute

	// checkInterval is the background status check cadence.
	checkInterval = 5 * time.Minute

	// refreshTimeout bounds one network refresh attempt.
	refreshTimeout = 15 * time.Second

	// defaultLifetime is assumed when the server omits expires_at and
	// the access token carries no exp claim.
	defaultLifetime = 15 * time.Minute
)

// Event is a credential lifecycle notification.
type Event int

const (
	// EventRefreshed fires after a successful refresh swapped in a new
	// token pair.
	EventRefreshed Event = iota
	// EventSessionEnded fires on terminal expiry. The credential is
	// gone; the user must re-authenticate.
	EventSessionEnded
)

// RefreshFunc performs the network refresh. An error satisfying
// api.IsAuthError marks the refresh token as dead and triggers terminal
// expiry; any other error is transient.
type RefreshFunc func(ctx context.Context, refreshToken string) (Credential, error)

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Refresh performs the network refresh. Required.
	Refresh RefreshFunc
	// Store persists the credential. Optional.
	Store Store
	// Clock is the time source. If nil, clock.Real() is used.
	Clock clock.Clock
	// Logger is used for structured logging. If nil, slog.Default().
	Logger *slog.Logger
}

// Manager owns the credential pair with an explicit Start/Stop
// lifecycle. It is safe for concurrent use by every room session.
type Manager struct {
	refreshFunc RefreshFunc
	store       Store
	clock       clock.Clock
	logger      *slog.Logger

	mu       sync.Mutex
	cred     *Credential
	inflight *refreshCall
	terminal bool
	started  bool
	ticker   *clock.Ticker
	done     chan struct{}
	subs     map[int]func(Event)
	nextSub  int
}

// refreshCall is one in-flight network refresh. Concurrent Refresh
// callers wait on done and share ok. waiters counts the callers parked
// on done and is guarded by the manager's mutex.
type refreshCall struct {
	done    chan struct{}
	ok      bool
	waiters int
}

// NewManager returns a Manager holding no credential. Install one with
// SetCredential (after login) or LoadStored.
func NewManager(config ManagerConfig) (*Manager, error) {
	if config.Refresh == nil {
		return nil, fmt.Errorf("auth: Refresh is required")
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		refreshFunc: config.Refresh,
		store:       config.Store,
		clock:       clk,
		logger:      logger,
		subs:        make(map[int]func(Event)),
	}, nil
}

// SetCredential installs a freshly issued token pair (typically from
// login) and persists it. Missing expiry falls back to the access
// token's exp claim, then to a default lifetime.
func (m *Manager) SetCredential(credential Credential) {
	m.normalizeExpiry(&credential)

	m.mu.Lock()
	m.cred = &credential
	m.terminal = false
	m.mu.Unlock()

	m.persist(credential)
}

// LoadStored installs the persisted credential, if any. Returns true
// when a credential was loaded.
func (m *Manager) LoadStored() (bool, error) {
	if m.store == nil {
		return false, nil
	}
	credential, err := m.store.Load()
	if err != nil {
		return false, err
	}
	if credential == nil {
		return false, nil
	}
	m.mu.Lock()
	m.cred = credential
	m.terminal = false
	m.mu.Unlock()
	return true, nil
}

// Status reports the credential's state from the stored expiry and the
// clock. It never touches the network.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked(m.clock.Now())
}

func (m *Manager) statusLocked(now time.Time) Status {
	if m.terminal || m.cred == nil {
		return Status{Expired: true}
	}
	remaining := m.cred.ExpiresAt.Sub(now)
	if remaining > 0 {
		return Status{
			Valid:         true,
			Remaining:     remaining,
			ShouldRefresh: remaining < refreshThreshold,
		}
	}
	return Status{
		Expired:       true,
		InGracePeriod: -remaining <= gracePeriod,
	}
}

// Token returns the current access token. ok is false after terminal
// expiry or before any credential is installed. An expired-but-in-grace
// token is still returned: the caller's request will fail with a 401
// and trigger a reactive refresh, which is cheaper than blocking every
// caller on a status check.
func (m *Manager) Token() (token string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.terminal || m.cred == nil {
		return "", false
	}
	return m.cred.AccessToken, true
}

// Refresh obtains a new token pair. If a refresh is already in flight,
// the caller waits for that call's outcome instead of issuing a second
// request. Returns true when the credential was replaced.
//
// The network call runs under its own timeout context rather than the
// first caller's ctx: every waiter shares the outcome, so one caller's
// cancellation must not fail the others. ctx only bounds this caller's
// wait.
func (m *Manager) Refresh(ctx context.Context) bool {
	m.mu.Lock()
	if m.terminal || m.cred == nil {
		m.mu.Unlock()
		return false
	}
	if call := m.inflight; call != nil {
		call.waiters++
		m.mu.Unlock()
		select {
		case <-call.done:
			return call.ok
		case <-ctx.Done():
			return false
		}
	}
	call := &refreshCall{done: make(chan struct{})}
	m.inflight = call
	refreshToken := m.cred.RefreshToken
	m.mu.Unlock()

	call.ok = m.doRefresh(refreshToken)

	m.mu.Lock()
	m.inflight = nil
	m.mu.Unlock()
	close(call.done)

	return call.ok
}

func (m *Manager) doRefresh(refreshToken string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	fresh, err := m.refreshFunc(ctx, refreshToken)
	if err != nil {
		if api.IsAuthError(err) {
			m.logger.Warn("refresh token rejected, ending session", "error", err)
			m.Expire()
			return false
		}
		m.logger.Warn("credential refresh failed", "error", err)
		return false
	}

	// The server may reuse the refresh token rather than rotating it.
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = refreshToken
	}
	m.normalizeExpiry(&fresh)

	m.mu.Lock()
	if m.terminal {
		m.mu.Unlock()
		return false
	}
	m.cred = &fresh
	m.mu.Unlock()

	m.persist(fresh)
	m.logger.Info("credential refreshed", "expires_at", fresh.ExpiresAt)
	m.notify(EventRefreshed)
	return true
}

// Expire is terminal: it clears the credential, wipes the store, and
// notifies subscribers that the session has ended. Idempotent.
func (m *Manager) Expire() {
	m.mu.Lock()
	if m.terminal {
		m.mu.Unlock()
		return
	}
	m.terminal = true
	m.cred = nil
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.Clear(); err != nil {
			m.logger.Warn("clearing stored credential failed", "error", err)
		}
	}
	m.logger.Info("session ended, credential cleared")
	m.notify(EventSessionEnded)
}

// Subscribe registers a lifecycle callback and returns its unsubscribe
// handle. Callbacks run outside the manager's lock, on the goroutine
// that triggered the event.
func (m *Manager) Subscribe(fn func(Event)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

func (m *Manager) notify(event Event) {
	m.mu.Lock()
	callbacks := make([]func(Event), 0, len(m.subs))
	for _, fn := range m.subs {
		callbacks = append(callbacks, fn)
	}
	m.mu.Unlock()

	for _, fn := range callbacks {
		fn(event)
	}
}

// Start launches the background check loop: every checkInterval the
// manager re-evaluates Status, refreshing proactively near expiry (and
// once more during the grace window) and forcing terminal expiry once
// the grace period has lapsed.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.started || m.terminal {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.ticker = m.clock.NewTicker(checkInterval)
	m.done = make(chan struct{})
	ticker, done := m.ticker, m.done
	m.mu.Unlock()

	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.check()
			}
		}
	}()
}

// Stop halts the background check loop. It does not clear the
// credential.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	m.ticker.Stop()
	close(m.done)
	m.mu.Unlock()
}

func (m *Manager) check() {
	status := m.Status()
	switch {
	case status.ShouldRefresh:
		m.Refresh(context.Background())
	case status.Expired && status.InGracePeriod:
		// The proactive refresh was missed (laptop slept, network
		// out). One more attempt before the session dies.
		m.Refresh(context.Background())
	case status.Expired:
		m.Expire()
	}
}

func (m *Manager) normalizeExpiry(credential *Credential) {
	if !credential.ExpiresAt.IsZero() {
		return
	}
	if expiry, ok := jwtExpiry(credential.AccessToken); ok {
		credential.ExpiresAt = expiry
		return
	}
	credential.ExpiresAt = m.clock.Now().Add(defaultLifetime)
}

func (m *Manager) persist(credential Credential) {
	if m.store == nil {
		return
	}
	if err := m.store.Save(credential); err != nil {
		m.logger.Warn("persisting credential failed", "error", err)
	}
}
