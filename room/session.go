// Copyright 2026 The MediCore Authors
// SPDX-License-Identifier: Apache-2.0

package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/its-amann/MediCore-Ai-Platform--sub001/auth"
	"github.com/its-amann/MediCore-Ai-Platform--sub001/event"
	"github.com/its-amann/MediCore-Ai-Platform--sub001/lib/clock"
	"github.com/its-amann/MediCore-Ai-Platform--sub001/presence"
	"github.com/its-amann/MediCore-Ai-Platform--sub001/rtc"
	"github.com/its-amann/MediCore-Ai-Platform--sub001/screenshare"
	"github.com/its-amann/MediCore-Ai-Platform--sub001/transport"
)

// SessionConfig configures a Session.
type SessionConfig struct {
	// RoomID identifies the room. Required.
	RoomID string
	// UserID is this client's user id. Required.
	UserID string
	// Credentials is the shared credential manager. Required.
	Credentials *auth.Manager
	// ServerURL is the websocket base URL. Required.
	ServerURL string
	// ICEServers configures peer connections.
	ICEServers []webrtc.ICEServer
	// MaxViewers caps the screen-share viewer set (0 = default).
	MaxViewers int
	// OnStateChange observes transport state transitions.
	OnStateChange func(transport.State)
	// OnTyping observes typing changes derived by the tracker.
	OnTyping func(userID string, typing bool)
	// OnPeerDown observes a single peer's media failure.
	OnPeerDown func(userID string)
	// OnShareControl observes control-request resolution.
	OnShareControl func(viewerID, requestID string, granted bool)
	// Clock is the time source. If nil, clock.Real() is used.
	Clock clock.Clock
	// Logger is used for structured logging. If nil, slog.Default().
	Logger *slog.Logger
	// Dialer overrides the websocket dialer.
	Dialer *websocket.Dialer
	// MediaDial overrides peer connection creation.
	MediaDial func() (rtc.MediaConn, error)
}

// Session is the live state of one joined room.
type Session struct {
	roomID string
	userID string
	clock  clock.Clock
	logger *slog.Logger

	channel      *transport.Channel
	router       *event.Router
	typing       *presence.Tracker
	orchestrator *rtc.Orchestrator

	onShareControl func(viewerID, requestID string, granted bool)

	mu         sync.Mutex
	share      *screenshare.Session
	maxViewers int
	closed     bool

	unsubCred func()
	closeOnce sync.Once
}

// NewSession builds the room session and subscribes its consumers to
// the router. The session is idle until Connect.
func NewSession(config SessionConfig) (*Session, error) {
	if config.RoomID == "" {
		return nil, fmt.Errorf("room: RoomID is required")
	}
	if config.UserID == "" {
		return nil, fmt.Errorf("room: UserID is required")
	}
	if config.Credentials == nil {
		return nil, fmt.Errorf("room: Credentials is required")
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("room_id", config.RoomID)

	s := &Session{
		roomID:         config.RoomID,
		userID:         config.UserID,
		clock:          clk,
		logger:         logger,
		onShareControl: config.OnShareControl,
		maxViewers:     config.MaxViewers,
	}

	s.router = event.NewRouter(logger)

	channel, err := transport.NewChannel(transport.ChannelConfig{
		URL:           config.ServerURL,
		TokenSource:   config.Credentials,
		OnMessage:     s.router.HandleRaw,
		OnStateChange: config.OnStateChange,
		Clock:         clk,
		Logger:        logger,
		Dialer:        config.Dialer,
	})
	if err != nil {
		return nil, err
	}
	s.channel = channel

	s.typing = presence.NewTracker(presence.TrackerConfig{
		OnChange: config.OnTyping,
		Clock:    clk,
		Logger:   logger,
	})

	orchestrator, err := rtc.NewOrchestrator(rtc.OrchestratorConfig{
		LocalID:    config.UserID,
		Signaler:   (*channelSignaler)(s),
		ICEServers: config.ICEServers,
		Dial:       config.MediaDial,
		OnPeerDown: config.OnPeerDown,
		Logger:     logger,
	})
	if err != nil {
		channel.Close()
		return nil, err
	}
	s.orchestrator = orchestrator

	s.router.Subscribe(event.KindTyping, s.handleTyping)
	s.router.Subscribe(event.KindPresence, s.handlePresence)
	s.router.Subscribe(event.KindSignal, s.handleSignal)
	s.router.Subscribe(event.KindScreenShare, s.handleScreenShare)

	// Terminal expiry kills the session; a refresh just means the next
	// reconnect dials with the new token.
	s.unsubCred = config.Credentials.Subscribe(func(ev auth.Event) {
		if ev == auth.EventSessionEnded {
			s.logger.Info("session credential expired, closing room")
			s.Close()
		}
	})

	return s, nil
}

// Connect opens the transport for this room.
func (s *Session) Connect(ctx context.Context) error {
	return s.channel.Connect(ctx, s.roomID)
}

// Subscribe attaches a consumer to one event kind. Delivery is
// synchronous, in arrival order, on the transport read goroutine.
func (s *Session) Subscribe(kind event.Kind, handler event.Handler) (unsubscribe func()) {
	return s.router.Subscribe(kind, handler)
}

// State returns the transport connection state.
func (s *Session) State() transport.State {
	return s.channel.State()
}

// Typing returns the participants currently typing.
func (s *Session) Typing() []string {
	return s.typing.Typing()
}

// Peers returns the participants with an active media connection.
func (s *Session) Peers() []string {
	return s.orchestrator.Peers()
}

// ScreenShare returns the current screen-share session, or nil.
func (s *Session) ScreenShare() *screenshare.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.share
}

// Close tears the session down: transport timers (reconnect,
// heartbeat) stop first, then typing debounce timers, then every peer
// connection. The shared credential manager survives; only this
// session's subscription is released. Safe to call repeatedly.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		share := s.share
		s.mu.Unlock()

		s.unsubCred()
		s.channel.Close()
		s.typing.Stop()
		s.orchestrator.Close()
		if share != nil {
			share.End()
		}
		s.logger.Info("room session closed")
	})
}

// ---- outbound operations ----

type messageOut struct {
	Type      string `json:"type"`
	RoomID    string `json:"room_id"`
	MessageID string `json:"message_id,omitempty"`
	Content   string `json:"content,omitempty"`
	ReplyToID string `json:"reply_to_id,omitempty"`
}

type reactionOut struct {
	Type      string `json:"type"`
	RoomID    string `json:"room_id"`
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

type typingOut struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

type shareOut struct {
	Type      string `json:"type"`
	RoomID    string `json:"room_id"`
	SessionID string `json:"session_id,omitempty"`
	Quality   string `json:"quality,omitempty"`
	ViewerID  string `json:"viewer_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Granted   bool   `json:"granted,omitempty"`
}

type signalOut struct {
	Type      string          `json:"type"`
	RoomID    string          `json:"room_id"`
	TargetID  string          `json:"target_id"`
	SDP       string          `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

type mediaStateOut struct {
	Type          string `json:"type"`
	RoomID        string `json:"room_id"`
	AudioEnabled  bool   `json:"audio_enabled"`
	VideoEnabled  bool   `json:"video_enabled"`
	ScreenSharing bool   `json:"screen_sharing"`
}

type aiOut struct {
	Type      string `json:"type"`
	RoomID    string `json:"room_id"`
	SessionID string `json:"ai_session_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

// SendMessage sends a chat message. The returned bool reports only
// that the frame was handed to a connected transport.
func (s *Session) SendMessage(content, replyToID string) bool {
	return s.channel.Send(messageOut{
		Type: event.TypeSendMessage, RoomID: s.roomID,
		Content: content, ReplyToID: replyToID,
	})
}

// EditMessage replaces a message's content.
func (s *Session) EditMessage(messageID, content string) bool {
	return s.channel.Send(messageOut{
		Type: event.TypeEditMessage, RoomID: s.roomID,
		MessageID: messageID, Content: content,
	})
}

// DeleteMessage removes a message.
func (s *Session) DeleteMessage(messageID string) bool {
	return s.channel.Send(messageOut{
		Type: event.TypeDeleteMessage, RoomID: s.roomID, MessageID: messageID,
	})
}

// ToggleReaction adds or removes an emoji reaction.
func (s *Session) ToggleReaction(messageID, emoji string) bool {
	return s.channel.Send(reactionOut{
		Type: event.TypeToggleReaction, RoomID: s.roomID,
		MessageID: messageID, Emoji: emoji,
	})
}

// SetTyping reports this client's typing indicator. Remote indicators
// are derived by the tracker from inbound events, not from this call.
func (s *Session) SetTyping(typing bool) bool {
	messageType := event.TypeTypingStop
	if typing {
		messageType = event.TypeTypingStart
	}
	return s.channel.Send(typingOut{Type: messageType, RoomID: s.roomID})
}

// StartScreenShare asks the server to begin sharing. The local session
// stays pending until the screen_share_started broadcast confirms it.
func (s *Session) StartScreenShare(quality screenshare.Quality) bool {
	s.mu.Lock()
	if s.share == nil || s.shareOverLocked() {
		s.share = s.newShareLocked()
	}
	s.mu.Unlock()
	return s.channel.Send(shareOut{
		Type: event.TypeShareStart, RoomID: s.roomID, Quality: string(quality),
	})
}

// StopScreenShare ends the local session and notifies the server.
func (s *Session) StopScreenShare() bool {
	s.mu.Lock()
	share := s.share
	s.mu.Unlock()

	var sessionID string
	if share != nil {
		sessionID = share.ID()
		share.End()
	}
	return s.channel.Send(shareOut{
		Type: event.TypeShareStop, RoomID: s.roomID, SessionID: sessionID,
	})
}

// ChangeQuality requests a stream quality change.
func (s *Session) ChangeQuality(quality screenshare.Quality) bool {
	return s.channel.Send(shareOut{
		Type: event.TypeShareQuality, RoomID: s.roomID, Quality: string(quality),
	})
}

// RequestControl asks the presenter for remote control.
func (s *Session) RequestControl() bool {
	return s.channel.Send(shareOut{
		Type: event.TypeShareControlReq, RoomID: s.roomID,
		ViewerID: s.userID, RequestID: uuid.NewString(),
	})
}

// RespondControl resolves a viewer's control request as presenter and
// broadcasts the outcome.
func (s *Session) RespondControl(viewerID string, granted bool) bool {
	s.mu.Lock()
	share := s.share
	s.mu.Unlock()
	if share != nil {
		if err := share.ResolveControl(viewerID, granted); err != nil {
			s.logger.Warn("resolving control request failed", "viewer_id", viewerID, "error", err)
		}
	}
	return s.channel.Send(shareOut{
		Type: event.TypeShareControlResp, RoomID: s.roomID,
		ViewerID: viewerID, Granted: granted,
	})
}

// SetMediaState broadcasts this client's mute/camera/screen flags.
func (s *Session) SetMediaState(audio, video, screen bool) bool {
	return s.channel.Send(mediaStateOut{
		Type: event.TypeMediaState, RoomID: s.roomID,
		AudioEnabled: audio, VideoEnabled: video, ScreenSharing: screen,
	})
}

// StartAISession opens an assistant session in this room.
func (s *Session) StartAISession(sessionID string) bool {
	return s.channel.Send(aiOut{
		Type: event.TypeAISessionStart, RoomID: s.roomID, SessionID: sessionID,
	})
}

// SendAIMessage sends a prompt to the assistant.
func (s *Session) SendAIMessage(sessionID, content string) bool {
	return s.channel.Send(aiOut{
		Type: event.TypeAIMessage, RoomID: s.roomID,
		SessionID: sessionID, Content: content,
	})
}

// EndAISession closes the assistant session.
func (s *Session) EndAISession(sessionID string) bool {
	return s.channel.Send(aiOut{
		Type: event.TypeAISessionEnd, RoomID: s.roomID, SessionID: sessionID,
	})
}

// ---- inbound consumers ----

func (s *Session) handleTyping(ev event.Event) {
	if ev.SenderID == "" || ev.SenderID == s.userID {
		return
	}
	switch ev.Type {
	case event.TypeTypingStart:
		s.typing.TypingStarted(ev.SenderID)
	case event.TypeTypingStop:
		s.typing.TypingStopped(ev.SenderID)
	}
}

func (s *Session) handlePresence(ev event.Event) {
	switch ev.Type {
	case event.TypeParticipantJoin:
		var p event.ParticipantPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			s.logger.Warn("malformed participant payload", "error", err)
			return
		}
		if p.UserID == s.userID {
			return
		}
		if err := s.orchestrator.HandleParticipantJoined(p.UserID, p.HasVideo); err != nil {
			s.logger.Warn("peer setup failed", "user_id", p.UserID, "error", err)
		}
	case event.TypeParticipantLeave:
		var p event.ParticipantPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			s.logger.Warn("malformed participant payload", "error", err)
			return
		}
		s.orchestrator.HandleParticipantLeft(p.UserID)
		s.typing.TypingStopped(p.UserID)
	case event.TypeMediaState:
		var state event.MediaStatePayload
		if err := json.Unmarshal(ev.Data, &state); err != nil {
			s.logger.Warn("malformed media state payload", "error", err)
			return
		}
		s.orchestrator.HandleMediaState(state)
	}
}

func (s *Session) handleSignal(ev event.Event) {
	var signal event.SignalPayload
	if err := json.Unmarshal(ev.Data, &signal); err != nil {
		s.logger.Warn("malformed signal payload", "error", err)
		return
	}
	if signal.To != "" && signal.To != s.userID {
		return
	}
	if err := s.orchestrator.HandleSignal(ev.Type, signal); err != nil {
		// Signaling errors are isolated to the one peer; the room
		// session carries on.
		s.logger.Warn("signal handling failed", "type", ev.Type, "error", err)
	}
}

func (s *Session) handleScreenShare(ev event.Event) {
	var p event.ScreenSharePayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		s.logger.Warn("malformed screen share payload", "error", err)
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if ev.Type == event.TypeShareStarted && (s.share == nil || s.shareOverLocked()) {
		s.share = s.newShareLocked()
	}
	share := s.share
	s.mu.Unlock()

	if share == nil {
		s.logger.Debug("screen share event without a session", "type", ev.Type)
		return
	}

	var err error
	switch ev.Type {
	case event.TypeShareStarted:
		err = share.Activate(p.SessionID, p.PresenterID, screenshare.Quality(p.Quality))
	case event.TypeShareStopped:
		share.End()
	case event.TypeShareQuality:
		err = share.SetQuality(screenshare.Quality(p.Quality))
		if errors.Is(err, screenshare.ErrDuplicateQuality) {
			err = nil
		}
	case event.TypeShareViewerJoin:
		err = share.AddViewer(p.ViewerID)
	case event.TypeShareViewerLeave:
		err = share.RemoveViewer(p.ViewerID)
	case event.TypeShareControlReq:
		_, err = share.RequestControl(p.ViewerID)
	case event.TypeShareControlResp:
		err = share.ResolveControl(p.ViewerID, p.Granted)
	}
	if err != nil && !errors.Is(err, screenshare.ErrSessionOver) {
		s.logger.Warn("screen share event rejected", "type", ev.Type, "error", err)
	}
}

func (s *Session) newShareLocked() *screenshare.Session {
	return screenshare.NewSession(s.roomID, screenshare.SessionConfig{
		MaxViewers: s.maxViewers,
		OnControl:  s.onShareControl,
		Clock:      s.clock,
		Logger:     s.logger,
	})
}

func (s *Session) shareOverLocked() bool {
	status := s.share.Status()
	return status == screenshare.StatusEnded || status == screenshare.StatusFailed
}

// channelSignaler sends the orchestrator's signals through the room's
// transport channel.
type channelSignaler Session

func (cs *channelSignaler) SendOffer(to, sdp string) error {
	return cs.send(signalOut{
		Type: event.TypeSignalOffer, RoomID: cs.roomID, TargetID: to, SDP: sdp,
	})
}

func (cs *channelSignaler) SendAnswer(to, sdp string) error {
	return cs.send(signalOut{
		Type: event.TypeSignalAnswer, RoomID: cs.roomID, TargetID: to, SDP: sdp,
	})
}

func (cs *channelSignaler) SendCandidate(to string, candidate json.RawMessage) error {
	return cs.send(signalOut{
		Type: event.TypeSignalCandidate, RoomID: cs.roomID, TargetID: to, Candidate: candidate,
	})
}

func (cs *channelSignaler) send(v signalOut) error {
	if !cs.channel.Send(v) {
		return fmt.Errorf("room: transport not connected")
	}
	return nil
}
