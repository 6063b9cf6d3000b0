// Copyright 2026 The MediCore Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/its-amann/MediCore-Ai-Platform--sub001/lib/clock"
	"github.com/its-amann/MediCore-Ai-Platform--sub001/lib/testutil"
)

// staticTokens is a TokenSource with a switchable validity flag.
type staticTokens struct {
	mu    sync.Mutex
	token string
	valid bool
}

func (s *staticTokens) Token() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, s.valid
}

func (s *staticTokens) invalidate() {
	s.mu.Lock()
	s.valid = false
	s.mu.Unlock()
}

// wsServer is a websocket endpoint that hands accepted connections to
// the test over a channel.
type wsServer struct {
	server      *httptest.Server
	connections chan *websocket.Conn
	tokens      chan string
	pings       chan struct{}
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	ws := &wsServer{
		connections: make(chan *websocket.Conn, 4),
		tokens:      make(chan string, 4),
		pings:       make(chan struct{}, 16),
	}
	upgrader := websocket.Upgrader{}
	ws.server = httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if !strings.HasPrefix(request.URL.Path, "/ws/rooms/") {
			writer.WriteHeader(http.StatusNotFound)
			return
		}
		conn, err := upgrader.Upgrade(writer, request, nil)
		if err != nil {
			return
		}
		conn.SetPingHandler(func(data string) error {
			ws.pings <- struct{}{}
			return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		})
		ws.tokens <- request.URL.Query().Get("token")
		ws.connections <- conn
	}))
	t.Cleanup(ws.server.Close)
	return ws
}

func (ws *wsServer) url() string {
	return "ws" + strings.TrimPrefix(ws.server.URL, "http")
}

func newTestChannel(t *testing.T, ws *wsServer, clk clock.Clock, tokens TokenSource) (*Channel, chan State, chan []byte) {
	t.Helper()
	states := make(chan State, 16)
	messages := make(chan []byte, 16)
	channel, err := NewChannel(ChannelConfig{
		URL:           ws.url(),
		TokenSource:   tokens,
		Clock:         clk,
		OnStateChange: func(state State) { states <- state },
		OnMessage:     func(data []byte) { messages <- data },
	})
	if err != nil {
		t.Fatalf("NewChannel failed: %v", err)
	}
	t.Cleanup(func() { channel.Close() })
	return channel, states, messages
}

func requireState(t *testing.T, states chan State, want State) {
	t.Helper()
	got := testutil.RequireReceive(t, states, 5*time.Second, "waiting for state %v", want)
	if got != want {
		t.Fatalf("state = %v, want %v", got, want)
	}
}

func TestConnectAndSend(t *testing.T) {
	ws := newWSServer(t)
	fake := clock.Fake(time.Unix(1000, 0))
	channel, states, _ := newTestChannel(t, ws, fake, &staticTokens{token: "tok-1", valid: true})

	if channel.Send(map[string]string{"type": "typing_start"}) {
		t.Fatal("Send succeeded while disconnected")
	}

	if err := channel.Connect(context.Background(), "room-1"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	requireState(t, states, StateConnecting)
	requireState(t, states, StateConnected)

	if got := testutil.RequireReceive(t, ws.tokens, 5*time.Second, "token"); got != "tok-1" {
		t.Fatalf("server saw token %q", got)
	}
	serverConn := testutil.RequireReceive(t, ws.connections, 5*time.Second, "server connection")

	if !channel.Send(map[string]string{"type": "send_message", "content": "vitals attached"}) {
		t.Fatal("Send failed while connected")
	}
	_, data, err := serverConn.ReadMessage()
	if err != nil {
		t.Fatalf("server read: %v", err)
	}
	var sent map[string]string
	if err := json.Unmarshal(data, &sent); err != nil {
		t.Fatalf("server unmarshal: %v", err)
	}
	if sent["type"] != "send_message" {
		t.Fatalf("server received %v", sent)
	}
}

func TestConnectIdempotent(t *testing.T) {
	ws := newWSServer(t)
	channel, states, _ := newTestChannel(t, ws, clock.Fake(time.Unix(1000, 0)), &staticTokens{token: "tok", valid: true})

	if err := channel.Connect(context.Background(), "room-1"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	requireState(t, states, StateConnecting)
	requireState(t, states, StateConnected)
	testutil.RequireReceive(t, ws.connections, 5*time.Second, "first connection")

	if err := channel.Connect(context.Background(), "room-1"); err != nil {
		t.Fatalf("repeat Connect failed: %v", err)
	}
	testutil.RequireNoReceive(t, ws.connections, 100*time.Millisecond, "duplicate connection")
}

func TestSessionSwitchRetiresOldConnection(t *testing.T) {
	ws := newWSServer(t)
	fake := clock.Fake(time.Unix(1000, 0))
	channel, states, _ := newTestChannel(t, ws, fake, &staticTokens{token: "tok", valid: true})

	if err := channel.Connect(context.Background(), "room-1"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	requireState(t, states, StateConnecting)
	requireState(t, states, StateConnected)
	firstConn := testutil.RequireReceive(t, ws.connections, 5*time.Second, "first connection")

	if err := channel.Connect(context.Background(), "room-2"); err != nil {
		t.Fatalf("Connect to second session failed: %v", err)
	}
	requireState(t, states, StateConnecting)
	requireState(t, states, StateConnected)
	testutil.RequireReceive(t, ws.connections, 5*time.Second, "second connection")

	// The first session's heartbeat was retired with its connection;
	// only the new session's ticker is armed.
	if got := fake.PendingCount(); got != 1 {
		t.Fatalf("pending timers after session switch = %d, want 1", got)
	}

	// The switch closed the first socket.
	firstConn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := firstConn.ReadMessage(); err == nil {
		t.Fatal("old connection still readable after session switch")
	}

	channel.Close()
	if got := fake.PendingCount(); got != 0 {
		t.Fatalf("pending timers after Close = %d, want 0", got)
	}
}

func TestInboundDelivery(t *testing.T) {
	ws := newWSServer(t)
	channel, states, messages := newTestChannel(t, ws, clock.Fake(time.Unix(1000, 0)), &staticTokens{token: "tok", valid: true})

	if err := channel.Connect(context.Background(), "room-1"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	requireState(t, states, StateConnecting)
	requireState(t, states, StateConnected)
	serverConn := testutil.RequireReceive(t, ws.connections, 5*time.Second, "server connection")

	payloads := []string{
		`{"type":"message","sender_id":"u1"}`,
		`{"type":"typing_start","sender_id":"u2"}`,
		`{"type":"message","sender_id":"u3"}`,
	}
	for _, payload := range payloads {
		if err := serverConn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
			t.Fatalf("server write: %v", err)
		}
	}
	for i, want := range payloads {
		got := testutil.RequireReceive(t, messages, 5*time.Second, "payload %d", i)
		if string(got) != want {
			t.Fatalf("payload %d = %s, want %s", i, got, want)
		}
	}
}

func TestAbnormalCloseSchedulesSingleReconnect(t *testing.T) {
	ws := newWSServer(t)
	fake := clock.Fake(time.Unix(1000, 0))
	channel, states, _ := newTestChannel(t, ws, fake, &staticTokens{token: "tok", valid: true})

	if err := channel.Connect(context.Background(), "room-1"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	requireState(t, states, StateConnecting)
	requireState(t, states, StateConnected)
	serverConn := testutil.RequireReceive(t, ws.connections, 5*time.Second, "first connection")

	// Drop the TCP connection without a close handshake.
	serverConn.UnderlyingConn().Close()
	requireState(t, states, StateReconnecting)

	// Exactly one reconnect timer is armed (the heartbeat was stopped).
	fake.WaitForTimers(1)
	if got := fake.PendingCount(); got != 1 {
		t.Fatalf("pending timers = %d, want 1", got)
	}

	fake.Advance(reconnectDelay)
	requireState(t, states, StateConnected)
	testutil.RequireReceive(t, ws.connections, 5*time.Second, "reconnected connection")
}

func TestDeliberateCloseCancelsReconnect(t *testing.T) {
	ws := newWSServer(t)
	fake := clock.Fake(time.Unix(1000, 0))
	channel, states, _ := newTestChannel(t, ws, fake, &staticTokens{token: "tok", valid: true})

	if err := channel.Connect(context.Background(), "room-1"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	requireState(t, states, StateConnecting)
	requireState(t, states, StateConnected)
	serverConn := testutil.RequireReceive(t, ws.connections, 5*time.Second, "server connection")

	serverConn.UnderlyingConn().Close()
	requireState(t, states, StateReconnecting)
	fake.WaitForTimers(1)

	// The abnormal close already scheduled a reconnect; a deliberate
	// Close must cancel it before the timer fires.
	channel.Close()
	if got := fake.PendingCount(); got != 0 {
		t.Fatalf("pending timers after Close = %d, want 0", got)
	}
	fake.Advance(time.Minute)
	testutil.RequireNoReceive(t, ws.connections, 100*time.Millisecond, "reconnect after deliberate close")
}

func TestNormalCloseDoesNotReconnect(t *testing.T) {
	ws := newWSServer(t)
	fake := clock.Fake(time.Unix(1000, 0))
	channel, states, _ := newTestChannel(t, ws, fake, &staticTokens{token: "tok", valid: true})

	if err := channel.Connect(context.Background(), "room-1"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	requireState(t, states, StateConnecting)
	requireState(t, states, StateConnected)
	serverConn := testutil.RequireReceive(t, ws.connections, 5*time.Second, "server connection")

	serverConn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "maintenance"),
		time.Now().Add(time.Second))
	serverConn.Close()

	requireState(t, states, StateDisconnected)
	if got := fake.PendingCount(); got != 0 {
		t.Fatalf("pending timers after going-away close = %d, want 0", got)
	}
}

func TestReconnectStopsWhenSessionDies(t *testing.T) {
	ws := newWSServer(t)
	fake := clock.Fake(time.Unix(1000, 0))
	tokens := &staticTokens{token: "tok", valid: true}
	channel, states, _ := newTestChannel(t, ws, fake, tokens)

	if err := channel.Connect(context.Background(), "room-1"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	requireState(t, states, StateConnecting)
	requireState(t, states, StateConnected)
	serverConn := testutil.RequireReceive(t, ws.connections, 5*time.Second, "server connection")

	tokens.invalidate()
	serverConn.UnderlyingConn().Close()
	requireState(t, states, StateReconnecting)
	fake.WaitForTimers(1)

	// The attempt re-evaluates credential validity and gives up.
	fake.Advance(reconnectDelay)
	requireState(t, states, StateDisconnected)
	testutil.RequireNoReceive(t, ws.connections, 100*time.Millisecond, "reconnect with dead session")
	if got := fake.PendingCount(); got != 0 {
		t.Fatalf("pending timers = %d, want 0", got)
	}
}

func TestHeartbeat(t *testing.T) {
	ws := newWSServer(t)
	fake := clock.Fake(time.Unix(1000, 0))
	channel, states, _ := newTestChannel(t, ws, fake, &staticTokens{token: "tok", valid: true})

	if err := channel.Connect(context.Background(), "room-1"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	requireState(t, states, StateConnecting)
	requireState(t, states, StateConnected)
	serverConn := testutil.RequireReceive(t, ws.connections, 5*time.Second, "server connection")

	// The server must be reading for control frames to be processed.
	go func() {
		for {
			if _, _, err := serverConn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	fake.Advance(heartbeatInterval)
	testutil.RequireReceive(t, ws.pings, 5*time.Second, "heartbeat ping")

	// The pong comes back and updates the latency gauge.
	deadline := time.Now().Add(5 * time.Second)
	for channel.Latency() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("latency never recorded")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
