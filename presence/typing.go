// Copyright 2026 The MediCore Authors
// SPDX-License-Identifier: Apache-2.0

package presence

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/its-amann/MediCore-Ai-Platform--sub001/lib/clock"
)

// debounceWindow is how long after the last typing_start a participant
// stays in the typing state without an explicit stop.
const debounceWindow = 3 * time.Second

// TrackerConfig configures a Tracker.
type TrackerConfig struct {
	// OnChange observes transitions: typing=true on idle→typing,
	// typing=false on typing→idle (explicit or debounce expiry).
	OnChange func(userID string, typing bool)
	// Clock is the time source. If nil, clock.Real() is used.
	Clock clock.Clock
	// Logger is used for structured logging. If nil, slog.Default().
	Logger *slog.Logger
}

// Tracker holds the per-participant typing state machine
// (idle → typing → idle) for one room.
type Tracker struct {
	onChange func(string, bool)
	clock    clock.Clock
	logger   *slog.Logger

	mu      sync.Mutex
	timers  map[string]*clock.Timer
	stopped bool
}

// NewTracker returns a Tracker.
func NewTracker(config TrackerConfig) *Tracker {
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		onChange: config.OnChange,
		clock:    clk,
		logger:   logger,
		timers:   make(map[string]*clock.Timer),
	}
}

// TypingStarted handles a typing_start event. A participant already
// typing has their debounce timer reset rather than a second entry
// created, so no intermediate "stopped" transition is emitted.
func (t *Tracker) TypingStarted(userID string) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	if timer, ok := t.timers[userID]; ok {
		timer.Reset(debounceWindow)
		t.mu.Unlock()
		return
	}
	t.timers[userID] = t.clock.AfterFunc(debounceWindow, func() {
		t.expire(userID)
	})
	t.mu.Unlock()

	t.notify(userID, true)
}

// TypingStopped handles an explicit typing_stop event: immediate
// transition to idle. A no-op for a participant not currently typing.
func (t *Tracker) TypingStopped(userID string) {
	t.mu.Lock()
	timer, ok := t.timers[userID]
	if ok {
		timer.Stop()
		delete(t.timers, userID)
	}
	t.mu.Unlock()

	if ok {
		t.notify(userID, false)
	}
}

// expire is the debounce timeout path: no typing_start arrived within
// the window since the last one.
func (t *Tracker) expire(userID string) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	if _, ok := t.timers[userID]; !ok {
		// An explicit stop raced the timer.
		t.mu.Unlock()
		return
	}
	delete(t.timers, userID)
	t.mu.Unlock()

	t.notify(userID, false)
}

// Typing returns the participants currently typing, sorted.
func (t *Tracker) Typing() []string {
	t.mu.Lock()
	users := make([]string, 0, len(t.timers))
	for userID := range t.timers {
		users = append(users, userID)
	}
	t.mu.Unlock()

	sort.Strings(users)
	return users
}

// Stop cancels every outstanding debounce timer and suppresses any
// late callbacks. The tracker accepts no further events afterwards.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	for userID, timer := range t.timers {
		timer.Stop()
		delete(t.timers, userID)
	}
	t.mu.Unlock()
}

func (t *Tracker) notify(userID string, typing bool) {
	if t.onChange != nil {
		t.onChange(userID, typing)
	}
}
