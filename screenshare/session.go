// Copyright 2026 The MediCore Authors
// SPDX-License-Identifier: Apache-2.0

package screenshare

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/its-amann/MediCore-Ai-Platform--sub001/lib/clock"
)

// Status is the session state machine.
type Status int

const (
	StatusPending Status = iota
	StatusActive
	StatusPaused
	StatusEnded
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusActive:
		return "active"
	case StatusPaused:
		return "paused"
	case StatusEnded:
		return "ended"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Quality is the stream quality level.
type Quality string

const (
	QualityAuto   Quality = "auto"
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
)

// Sentinel errors returned synchronously to callers. None of them
// advance the state machine.
var (
	// ErrSessionOver rejects viewer and quality events on a terminal
	// session.
	ErrSessionOver = errors.New("screenshare: session has ended")
	// ErrViewerLimit rejects a viewer join at capacity.
	ErrViewerLimit = errors.New("screenshare: viewer limit reached")
	// ErrDuplicateQuality rejects a quality change to the current value.
	ErrDuplicateQuality = errors.New("screenshare: quality already set")
	// ErrControlPending rejects a second control request from a viewer
	// whose first request is still unresolved.
	ErrControlPending = errors.New("screenshare: control request already pending")
	// ErrNotActive rejects operations that need a started share.
	ErrNotActive = errors.New("screenshare: session is not active")
	// ErrBadTransition rejects an impossible status edge.
	ErrBadTransition = errors.New("screenshare: invalid status transition")
)

// controlTimeout bounds one outstanding control request.
const controlTimeout = 10 * time.Second

const defaultMaxViewers = 10

// SessionConfig configures a Session.
type SessionConfig struct {
	// MaxViewers caps the viewer set. Zero means the platform default.
	MaxViewers int
	// OnControl observes control-request resolution: granted, denied,
	// or timed out (reported as denied).
	OnControl func(viewerID, requestID string, granted bool)
	// Clock is the time source. If nil, clock.Real() is used.
	Clock clock.Clock
	// Logger is used for structured logging. If nil, slog.Default().
	Logger *slog.Logger
}

// Session is one screen-share session in one room. Created in pending
// when the share is requested, activated by server confirmation, and
// disposed once terminal.
type Session struct {
	roomID    string
	onControl func(string, string, bool)
	clock     clock.Clock
	logger    *slog.Logger

	mu          sync.Mutex
	id          string
	presenterID string
	status      Status
	quality     Quality
	viewers     map[string]struct{}
	maxViewers  int
	control     map[string]*controlRequest
}

type controlRequest struct {
	id    string
	timer *clock.Timer
}

// NewSession returns a pending session for roomID.
func NewSession(roomID string, config SessionConfig) *Session {
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxViewers := config.MaxViewers
	if maxViewers <= 0 {
		maxViewers = defaultMaxViewers
	}
	return &Session{
		roomID:     roomID,
		onControl:  config.OnControl,
		clock:      clk,
		logger:     logger,
		status:     StatusPending,
		quality:    QualityAuto,
		viewers:    make(map[string]struct{}),
		maxViewers: maxViewers,
		control:    make(map[string]*controlRequest),
	}
}

// Activate applies the server's confirmation that the share started.
func (s *Session) Activate(sessionID, presenterID string, quality Quality) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusPending {
		return fmt.Errorf("%w: activate from %s", ErrBadTransition, s.status)
	}
	s.id = sessionID
	s.presenterID = presenterID
	if quality != "" {
		s.quality = quality
	}
	s.status = StatusActive
	s.logger.Info("screen share active",
		"session_id", sessionID,
		"room_id", s.roomID,
		"presenter_id", presenterID,
	)
	return nil
}

// Pause suspends an active share.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusActive {
		return fmt.Errorf("%w: pause from %s", ErrBadTransition, s.status)
	}
	s.status = StatusPaused
	return nil
}

// Resume reactivates a paused share.
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusPaused {
		return fmt.Errorf("%w: resume from %s", ErrBadTransition, s.status)
	}
	s.status = StatusActive
	return nil
}

// End terminates the session. Idempotent: a duplicate stop for an
// already-terminal session is a no-op, not an error.
func (s *Session) End() {
	s.terminate(StatusEnded, "")
}

// Fail marks the session failed after an irrecoverable error. Reaches
// failed only from pending or active; a terminal session is left as is.
func (s *Session) Fail(reason string) {
	s.terminate(StatusFailed, reason)
}

func (s *Session) terminate(to Status, reason string) {
	s.mu.Lock()
	if s.status == StatusEnded || s.status == StatusFailed {
		s.mu.Unlock()
		return
	}
	s.status = to
	id := s.id
	// Outstanding control timers must not fire after termination.
	for viewerID, request := range s.control {
		request.timer.Stop()
		delete(s.control, viewerID)
	}
	s.mu.Unlock()

	if to == StatusFailed {
		s.logger.Warn("screen share failed", "session_id", id, "room_id", s.roomID, "reason", reason)
		return
	}
	s.logger.Info("screen share ended", "session_id", id, "room_id", s.roomID)
}

// AddViewer joins a viewer. Rejected with ErrViewerLimit at capacity;
// joining twice is a no-op.
func (s *Session) AddViewer(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusEnded || s.status == StatusFailed {
		return ErrSessionOver
	}
	if s.status == StatusPending {
		return ErrNotActive
	}
	if _, ok := s.viewers[userID]; ok {
		return nil
	}
	if len(s.viewers) >= s.maxViewers {
		return ErrViewerLimit
	}
	s.viewers[userID] = struct{}{}
	return nil
}

// RemoveViewer leaves a viewer. Removing an unknown viewer is a no-op.
func (s *Session) RemoveViewer(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusEnded || s.status == StatusFailed {
		return ErrSessionOver
	}
	delete(s.viewers, userID)
	if request, ok := s.control[userID]; ok {
		request.timer.Stop()
		delete(s.control, userID)
	}
	return nil
}

// SetQuality changes the stream quality without touching status. A
// repeated identical request is rejected with ErrDuplicateQuality and
// changes nothing.
func (s *Session) SetQuality(quality Quality) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusEnded || s.status == StatusFailed {
		return ErrSessionOver
	}
	if s.status == StatusPending {
		return ErrNotActive
	}
	if s.quality == quality {
		return ErrDuplicateQuality
	}
	s.quality = quality
	return nil
}

// RequestControl opens a control request for a viewer. At most one
// outstanding request per viewer; an unresolved request times out as
// denied after controlTimeout.
func (s *Session) RequestControl(viewerID string) (requestID string, err error) {
	s.mu.Lock()
	if s.status != StatusActive {
		status := s.status
		s.mu.Unlock()
		if status == StatusEnded || status == StatusFailed {
			return "", ErrSessionOver
		}
		return "", ErrNotActive
	}
	if _, ok := s.control[viewerID]; ok {
		s.mu.Unlock()
		return "", ErrControlPending
	}
	requestID = uuid.NewString()
	request := &controlRequest{id: requestID}
	request.timer = s.clock.AfterFunc(controlTimeout, func() {
		s.resolveControl(viewerID, requestID, false, true)
	})
	s.control[viewerID] = request
	s.mu.Unlock()
	return requestID, nil
}

// ResolveControl applies the presenter's grant or denial.
func (s *Session) ResolveControl(viewerID string, granted bool) error {
	s.mu.Lock()
	request, ok := s.control[viewerID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("screenshare: no pending control request for viewer %s", viewerID)
	}
	s.resolveControl(viewerID, request.id, granted, false)
	return nil
}

func (s *Session) resolveControl(viewerID, requestID string, granted, timedOut bool) {
	s.mu.Lock()
	request, ok := s.control[viewerID]
	if !ok || request.id != requestID {
		// Already resolved, or a newer request superseded this one.
		s.mu.Unlock()
		return
	}
	request.timer.Stop()
	delete(s.control, viewerID)
	s.mu.Unlock()

	if timedOut {
		s.logger.Info("control request timed out", "viewer_id", viewerID, "request_id", requestID)
	}
	if s.onControl != nil {
		s.onControl(viewerID, requestID, granted)
	}
}

// Status returns the current state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Quality returns the current stream quality.
func (s *Session) Quality() Quality {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quality
}

// Viewers returns the current viewer set, sorted.
func (s *Session) Viewers() []string {
	s.mu.Lock()
	viewers := make([]string, 0, len(s.viewers))
	for userID := range s.viewers {
		viewers = append(viewers, userID)
	}
	s.mu.Unlock()
	sort.Strings(viewers)
	return viewers
}

// ID returns the server-assigned session id (empty until Activate).
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// PresenterID returns the presenting participant (empty until Activate).
func (s *Session) PresenterID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presenterID
}
