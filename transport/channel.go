// Copyright 2026 The MediCore Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/its-amann/MediCore-Ai-Platform--sub001/lib/clock"
)

// State is the connection state machine.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

const (
	// heartbeatInterval is the ping probe cadence while connected.
	heartbeatInterval = 30 * time.Second

	// reconnectDelay is the fixed delay before the single reconnect
	// attempt scheduled after an abnormal close.
	reconnectDelay = 3 * time.Second

	// connectTimeout bounds one dial attempt.
	connectTimeout = 15 * time.Second

	// writeTimeout bounds one outbound frame.
	writeTimeout = 10 * time.Second

	maxMessageSize = 512 * 1024
)

// TokenSource supplies the bearer token for connecting. ok is false
// once the session has terminally expired, which stops the reconnect
// loop. *auth.Manager satisfies this.
type TokenSource interface {
	Token() (token string, ok bool)
}

// ChannelConfig configures a Channel.
type ChannelConfig struct {
	// URL is the websocket base URL (e.g., "wss://api.medicore.example").
	URL string
	// TokenSource supplies the bearer token at each connect attempt. Required.
	TokenSource TokenSource
	// OnMessage receives every raw inbound payload, invoked on the read
	// goroutine in arrival order. Feed this to an event.Router.
	OnMessage func([]byte)
	// OnStateChange observes connection state transitions.
	OnStateChange func(State)
	// Clock is the time source. If nil, clock.Real() is used.
	Clock clock.Clock
	// Logger is used for structured logging. If nil, slog.Default().
	Logger *slog.Logger
	// Dialer overrides the websocket dialer. If nil, websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

// Channel is one duplex connection to the collaboration server, scoped
// to one room session. Not shared across rooms: each room session owns
// its own Channel.
type Channel struct {
	baseURL   string
	tokens    TokenSource
	onMessage func([]byte)
	onState   func(State)
	clock     clock.Clock
	logger    *slog.Logger
	dialer    *websocket.Dialer

	mu        sync.Mutex
	state     State
	sessionID string
	conn      *websocket.Conn
	// generation invalidates stale read loops: it increments on every
	// successful dial and on Close, and a read loop whose generation no
	// longer matches must not touch channel state.
	generation int
	heartbeat  *clock.Ticker
	hbDone     chan struct{}
	reconnect  *clock.Timer
	closed     bool

	// writeMu serializes data frames; gorilla connections allow at
	// most one concurrent writer.
	writeMu sync.Mutex

	// stateQueue preserves notification order: transitions are queued
	// under mu and drained by a single notifier goroutine, so observers
	// see states in the order they occurred and may call back into the
	// channel without deadlocking.
	stateQueue chan State

	lastPingNanos atomic.Int64
	latencyNanos  atomic.Int64
}

// NewChannel validates the configuration and returns a Channel.
func NewChannel(config ChannelConfig) (*Channel, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("transport: URL is required")
	}
	if config.TokenSource == nil {
		return nil, fmt.Errorf("transport: TokenSource is required")
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dialer := config.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	channel := &Channel{
		baseURL:   strings.TrimRight(config.URL, "/"),
		tokens:    config.TokenSource,
		onMessage: config.OnMessage,
		onState:   config.OnStateChange,
		clock:     clk,
		logger:    logger,
		dialer:    dialer,
	}
	if channel.onState != nil {
		channel.stateQueue = make(chan State, 16)
		go func() {
			for state := range channel.stateQueue {
				channel.onState(state)
			}
		}()
	}
	return channel, nil
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Latency returns the last measured heartbeat round trip. Zero until
// the first pong arrives. Latency is informational only — a missed
// pong never declares the connection dead; the close event does.
func (c *Channel) Latency() time.Duration {
	return time.Duration(c.latencyNanos.Load())
}

// Connect opens the connection for the given room session. A no-op
// when already connected or connecting for the same session.
func (c *Channel) Connect(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("transport: channel is closed")
	}
	if c.sessionID == sessionID && (c.state == StateConnected || c.state == StateConnecting) {
		c.mu.Unlock()
		return nil
	}
	// A session switch retires the previous connection entirely: its
	// reconnect timer, heartbeat, read loop, and socket must not outlive
	// the session they served.
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	c.stopHeartbeatLocked()
	old := c.conn
	c.conn = nil
	c.generation++
	c.sessionID = sessionID
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}

	if err := c.dial(ctx); err != nil {
		c.mu.Lock()
		c.setStateLocked(StateDisconnected)
		c.mu.Unlock()
		return err
	}
	return nil
}

// dial performs one connection attempt against the current session and
// credential. On success it installs the connection and starts the
// heartbeat and read loop.
func (c *Channel) dial(ctx context.Context) error {
	token, ok := c.tokens.Token()
	if !ok {
		return fmt.Errorf("transport: session ended, no credential available")
	}

	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()

	connectURL := fmt.Sprintf("%s/ws/rooms/%s?token=%s",
		c.baseURL, url.PathEscape(sessionID), url.QueryEscape(token))

	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	conn, _, err := c.dialer.DialContext(dialCtx, connectURL, nil)
	if err != nil {
		return fmt.Errorf("transport: connecting to session %s: %w", sessionID, err)
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		if sent := c.lastPingNanos.Load(); sent != 0 {
			c.latencyNanos.Store(time.Since(time.Unix(0, sent)).Nanoseconds())
		}
		return nil
	})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return fmt.Errorf("transport: channel is closed")
	}
	c.generation++
	generation := c.generation
	c.conn = conn
	c.startHeartbeatLocked(conn)
	c.setStateLocked(StateConnected)
	c.mu.Unlock()

	c.logger.Info("transport connected", "session_id", sessionID)
	go c.readLoop(conn, generation)
	return nil
}

// Send marshals v and writes it as one text frame. Returns false, not
// an error, when the channel is not connected or the write fails —
// callers treat false as "not delivered".
func (c *Channel) Send(v any) bool {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()
	if !connected || conn == nil {
		return false
	}

	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("dropping unmarshalable outbound message", "error", err)
		return false
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logger.Warn("transport write failed", "error", err)
		return false
	}
	return true
}

// Close deliberately tears the channel down: it cancels the pending
// reconnect timer and the heartbeat before closing the socket, so no
// timer fires afterwards. Idempotent.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	c.stopHeartbeatLocked()
	conn := c.conn
	c.conn = nil
	c.generation++
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeTimeout))
		c.writeMu.Unlock()
		conn.Close()
	}
	if c.stateQueue != nil {
		close(c.stateQueue)
	}
	return nil
}

// readLoop delivers inbound payloads until the connection dies.
func (c *Channel) readLoop(conn *websocket.Conn, generation int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleReadError(conn, generation, err)
			return
		}
		if c.onMessage != nil {
			c.onMessage(data)
		}
	}
}

// handleReadError classifies a read failure. Normal and going-away
// closes end the connection quietly; anything else is abnormal and
// arms exactly one reconnect attempt.
func (c *Channel) handleReadError(conn *websocket.Conn, generation int, err error) {
	conn.Close()

	c.mu.Lock()
	if generation != c.generation {
		// A newer connection (or Close) superseded this loop.
		c.mu.Unlock()
		return
	}
	c.stopHeartbeatLocked()
	c.conn = nil

	if c.closed || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.setStateLocked(StateDisconnected)
		c.mu.Unlock()
		return
	}

	c.setStateLocked(StateReconnecting)
	c.reconnect = c.clock.AfterFunc(reconnectDelay, c.attemptReconnect)
	sessionID := c.sessionID
	c.mu.Unlock()

	c.logger.Warn("transport connection lost, reconnecting",
		"session_id", sessionID,
		"delay", reconnectDelay,
		"error", err,
	)
}

// attemptReconnect runs when the reconnect timer fires. A failed
// attempt arms the next timer; a dead session stops the loop.
func (c *Channel) attemptReconnect() {
	c.mu.Lock()
	c.reconnect = nil
	if c.closed || c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	sessionID := c.sessionID
	c.mu.Unlock()

	if _, ok := c.tokens.Token(); !ok {
		c.logger.Info("session ended, abandoning reconnect", "session_id", sessionID)
		c.mu.Lock()
		c.setStateLocked(StateDisconnected)
		c.mu.Unlock()
		return
	}

	if err := c.dial(context.Background()); err != nil {
		c.logger.Warn("reconnect attempt failed", "session_id", sessionID, "error", err)
		c.mu.Lock()
		if !c.closed && c.state == StateReconnecting {
			c.reconnect = c.clock.AfterFunc(reconnectDelay, c.attemptReconnect)
		}
		c.mu.Unlock()
	}
}

// startHeartbeatLocked arms the ping ticker for conn. Caller holds mu.
func (c *Channel) startHeartbeatLocked(conn *websocket.Conn) {
	ticker := c.clock.NewTicker(heartbeatInterval)
	done := make(chan struct{})
	c.heartbeat = ticker
	c.hbDone = done

	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				c.lastPingNanos.Store(time.Now().UnixNano())
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
					c.logger.Debug("heartbeat write failed", "error", err)
				}
			}
		}
	}()
}

// stopHeartbeatLocked cancels the ping ticker. Caller holds mu.
func (c *Channel) stopHeartbeatLocked() {
	if c.heartbeat != nil {
		c.heartbeat.Stop()
		c.heartbeat = nil
	}
	if c.hbDone != nil {
		close(c.hbDone)
		c.hbDone = nil
	}
}

// setStateLocked records a transition and queues the notification.
// Caller holds mu.
func (c *Channel) setStateLocked(state State) {
	if c.state == state {
		return
	}
	c.state = state
	if c.stateQueue != nil {
		select {
		case c.stateQueue <- state:
		default:
			// An observer this far behind has already lost the ball;
			// dropping beats blocking the read loop.
		}
	}
}
