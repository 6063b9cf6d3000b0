// Copyright 2026 The MediCore Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"encoding/json"
	"time"
)

// Kind is the coarse classification the Router subscribes by.
type Kind string

const (
	KindMessage     Kind = "message"
	KindReaction    Kind = "reaction"
	KindTyping      Kind = "typing"
	KindPresence    Kind = "presence"
	KindScreenShare Kind = "screenshare"
	KindAI          Kind = "ai"
	KindSignal      Kind = "signal"
	KindSystem      Kind = "system"
)

// Wire type discriminators, server → client.
const (
	TypeMessage          = "message"
	TypeMessageEdited    = "message_edited"
	TypeMessageDeleted   = "message_deleted"
	TypeReaction         = "reaction"
	TypeTypingStart      = "typing_start"
	TypeTypingStop       = "typing_stop"
	TypeParticipantJoin  = "participant_joined"
	TypeParticipantLeave = "participant_left"
	TypeMediaState       = "media_state"
	TypeShareStarted     = "screen_share_started"
	TypeShareStopped     = "screen_share_stopped"
	TypeShareQuality     = "screen_share_quality"
	TypeShareViewerJoin  = "screen_share_viewer_joined"
	TypeShareViewerLeave = "screen_share_viewer_left"
	TypeShareControlReq  = "screen_share_control_request"
	TypeShareControlResp = "screen_share_control_response"
	TypeSignalOffer      = "webrtc_offer"
	TypeSignalAnswer     = "webrtc_answer"
	TypeSignalCandidate  = "webrtc_ice_candidate"
	TypeAIResponse       = "ai_response"
	TypeNotification     = "notification"
	TypeSystem           = "system"
)

// Wire type discriminators, client → server. The signaling and typing
// types are symmetric and reuse the inbound constants.
const (
	TypeSendMessage    = "send_message"
	TypeEditMessage    = "edit_message"
	TypeDeleteMessage  = "delete_message"
	TypeToggleReaction = "toggle_reaction"
	TypeShareStart     = "screen_share_start"
	TypeShareStop      = "screen_share_stop"
	TypeAISessionStart = "ai_session_start"
	TypeAIMessage      = "ai_message"
	TypeAISessionEnd   = "ai_session_end"
)

// kinds maps inbound discriminators to their Kind. Absence means the
// payload is dropped.
var kinds = map[string]Kind{
	TypeMessage:          KindMessage,
	TypeMessageEdited:    KindMessage,
	TypeMessageDeleted:   KindMessage,
	TypeReaction:         KindReaction,
	TypeTypingStart:      KindTyping,
	TypeTypingStop:       KindTyping,
	TypeParticipantJoin:  KindPresence,
	TypeParticipantLeave: KindPresence,
	TypeMediaState:       KindPresence,
	TypeShareStarted:     KindScreenShare,
	TypeShareStopped:     KindScreenShare,
	TypeShareQuality:     KindScreenShare,
	TypeShareViewerJoin:  KindScreenShare,
	TypeShareViewerLeave: KindScreenShare,
	TypeShareControlReq:  KindScreenShare,
	TypeShareControlResp: KindScreenShare,
	TypeSignalOffer:      KindSignal,
	TypeSignalAnswer:     KindSignal,
	TypeSignalCandidate:  KindSignal,
	TypeAIResponse:       KindAI,
	TypeNotification:     KindSystem,
	TypeSystem:           KindSystem,
}

// Event is one classified inbound payload. Data holds the full raw
// envelope; subscribers unmarshal the payload struct they need.
type Event struct {
	Kind     Kind
	Type     string
	RoomID   string
	SenderID string
	Data     json.RawMessage
}

// envelope is the common header of every inbound payload.
type envelope struct {
	Type     string `json:"type"`
	RoomID   string `json:"room_id,omitempty"`
	SenderID string `json:"sender_id,omitempty"`
}

// MessagePayload covers message, message_edited, and message_deleted.
type MessagePayload struct {
	MessageID string    `json:"message_id"`
	RoomID    string    `json:"room_id"`
	SenderID  string    `json:"sender_id"`
	Content   string    `json:"content,omitempty"`
	ReplyToID string    `json:"reply_to_id,omitempty"`
	SentAt    time.Time `json:"sent_at,omitempty"`
}

// ReactionPayload is a reaction toggle broadcast.
type ReactionPayload struct {
	MessageID string `json:"message_id"`
	SenderID  string `json:"sender_id"`
	Emoji     string `json:"emoji"`
	Added     bool   `json:"added"`
}

// ParticipantPayload covers participant_joined and participant_left.
type ParticipantPayload struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
	HasVideo    bool   `json:"has_video,omitempty"`
}

// MediaStatePayload is presence metadata — mute, camera, and screen
// flags. It never affects peer connection lifecycle.
type MediaStatePayload struct {
	UserID        string `json:"user_id"`
	AudioEnabled  bool   `json:"audio_enabled"`
	VideoEnabled  bool   `json:"video_enabled"`
	ScreenSharing bool   `json:"screen_sharing"`
}

// ScreenSharePayload covers every screen_share_* discriminator; unused
// fields are zero for a given type.
type ScreenSharePayload struct {
	SessionID   string `json:"session_id"`
	PresenterID string `json:"presenter_id,omitempty"`
	ViewerID    string `json:"viewer_id,omitempty"`
	Quality     string `json:"quality,omitempty"`
	RequestID   string `json:"request_id,omitempty"`
	Granted     bool   `json:"granted,omitempty"`
	MaxViewers  int    `json:"max_viewers,omitempty"`
}

// SignalPayload carries WebRTC signaling. Candidate stays raw so this
// package does not depend on the media stack.
type SignalPayload struct {
	From      string          `json:"sender_id"`
	To        string          `json:"target_id,omitempty"`
	SDP       string          `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// AIPayload is a streamed assistant response chunk.
type AIPayload struct {
	SessionID string `json:"ai_session_id"`
	Content   string `json:"content"`
	Done      bool   `json:"done,omitempty"`
}

// NotificationPayload is a server-pushed notice.
type NotificationPayload struct {
	Title    string `json:"title"`
	Body     string `json:"body,omitempty"`
	Severity string `json:"severity,omitempty"`
}
