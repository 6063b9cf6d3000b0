// Copyright 2026 The MediCore Authors
// SPDX-License-Identifier: Apache-2.0

package rtc

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/its-amann/MediCore-Ai-Platform--sub001/event"
)

// Compile-time interface check.
var _ MediaConn = (*webrtc.PeerConnection)(nil)

// ErrClosed is returned for operations on an orchestrator after Close.
var ErrClosed = errors.New("rtc: orchestrator closed")

// MediaConn is the slice of *webrtc.PeerConnection the orchestrator
// touches. Tests substitute an in-memory fake.
type MediaConn interface {
	CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	OnICECandidate(func(*webrtc.ICECandidate))
	OnICEConnectionStateChange(func(webrtc.ICEConnectionState))
	Close() error
}

// Signaler carries outbound signaling to the remote peers. The room
// session implements it over the transport channel.
type Signaler interface {
	SendOffer(to, sdp string) error
	SendAnswer(to, sdp string) error
	SendCandidate(to string, candidate json.RawMessage) error
}

// OrchestratorConfig configures an Orchestrator.
type OrchestratorConfig struct {
	// LocalID is this client's user id. Required; it decides the glare
	// tie-break (the lexicographically smaller id is the canonical
	// offerer).
	LocalID string
	// Signaler carries outbound signals. Required.
	Signaler Signaler
	// ICEServers configures new peer connections. Ignored when Dial is
	// set.
	ICEServers []webrtc.ICEServer
	// Dial creates a peer connection. If nil, a pion connection is
	// built from ICEServers.
	Dial func() (MediaConn, error)
	// OnPeerDown observes a single peer's irrecoverable ICE failure.
	// The failed peer is already closed and removed when it fires.
	OnPeerDown func(userID string)
	// Logger is used for structured logging. If nil, slog.Default().
	Logger *slog.Logger
}

// Orchestrator keeps one media peer connection per remote participant.
type Orchestrator struct {
	localID    string
	signaler   Signaler
	dial       func() (MediaConn, error)
	onPeerDown func(string)
	logger     *slog.Logger

	mu     sync.Mutex
	peers  map[string]*peer
	media  map[string]event.MediaStatePayload
	closed bool
}

// peer tracks negotiation state for one remote participant. The conn
// and userID fields are immutable after creation; the rest is guarded
// by mu.
type peer struct {
	userID string
	conn   MediaConn

	mu        sync.Mutex
	offered   bool
	remoteSet bool
	pending   []webrtc.ICECandidateInit
	closeOnce sync.Once
}

func (p *peer) close() {
	p.closeOnce.Do(func() {
		p.conn.Close()
	})
}

// NewOrchestrator validates config and returns an Orchestrator.
func NewOrchestrator(config OrchestratorConfig) (*Orchestrator, error) {
	if config.LocalID == "" {
		return nil, fmt.Errorf("rtc: LocalID is required")
	}
	if config.Signaler == nil {
		return nil, fmt.Errorf("rtc: Signaler is required")
	}
	dial := config.Dial
	if dial == nil {
		servers := config.ICEServers
		dial = func() (MediaConn, error) {
			return webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
		}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		localID:    config.LocalID,
		signaler:   config.Signaler,
		dial:       dial,
		onPeerDown: config.OnPeerDown,
		logger:     logger,
		peers:      make(map[string]*peer),
		media:      make(map[string]event.MediaStatePayload),
	}, nil
}

// HandleParticipantJoined creates the peer connection for a
// video-capable participant and, when this client is the canonical
// offerer, starts the offer/answer exchange. If signaling already
// created the peer lazily, the join associates with that connection.
func (o *Orchestrator) HandleParticipantJoined(userID string, hasVideo bool) error {
	if userID == "" || userID == o.localID || !hasVideo {
		return nil
	}
	p, err := o.getOrCreatePeer(userID)
	if err != nil {
		return err
	}
	if o.localID < userID {
		return o.sendOffer(p)
	}
	return nil
}

// HandleParticipantLeft tears down the participant's connection and
// drops their presence metadata.
func (o *Orchestrator) HandleParticipantLeft(userID string) {
	o.mu.Lock()
	p := o.peers[userID]
	delete(o.peers, userID)
	delete(o.media, userID)
	o.mu.Unlock()

	if p != nil {
		p.close()
		o.logger.Info("peer removed", "user_id", userID)
	}
}

// HandleSignal routes one inbound signaling payload by sender id. An
// unknown sender creates the peer lazily so a signal arriving before
// the corresponding join notification is not lost.
func (o *Orchestrator) HandleSignal(signalType string, signal event.SignalPayload) error {
	from := signal.From
	if from == "" || from == o.localID {
		return nil
	}
	switch signalType {
	case event.TypeSignalOffer:
		return o.handleOffer(from, signal.SDP)
	case event.TypeSignalAnswer:
		return o.handleAnswer(from, signal.SDP)
	case event.TypeSignalCandidate:
		return o.handleCandidate(from, signal.Candidate)
	default:
		return fmt.Errorf("rtc: unexpected signal type %q", signalType)
	}
}

// HandleMediaState records mute/camera/screen flags. Presence metadata
// only: it never touches connection lifecycle.
func (o *Orchestrator) HandleMediaState(state event.MediaStatePayload) {
	if state.UserID == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.media[state.UserID] = state
}

// MediaState returns the last recorded media flags for a participant.
func (o *Orchestrator) MediaState(userID string) (event.MediaStatePayload, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	state, ok := o.media[userID]
	return state, ok
}

// Peers returns the connected participant ids, sorted.
func (o *Orchestrator) Peers() []string {
	o.mu.Lock()
	ids := make([]string, 0, len(o.peers))
	for userID := range o.peers {
		ids = append(ids, userID)
	}
	o.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Close tears down every peer connection exactly once. Safe to call
// repeatedly.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	peers := make([]*peer, 0, len(o.peers))
	for userID, p := range o.peers {
		peers = append(peers, p)
		delete(o.peers, userID)
	}
	o.mu.Unlock()

	for _, p := range peers {
		p.close()
	}
}

// getOrCreatePeer returns the peer for userID, dialing a new connection
// if none exists. The new connection is stored before the lock is
// released so concurrent signals find it instead of dialing twice.
func (o *Orchestrator) getOrCreatePeer(userID string) (*peer, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil, ErrClosed
	}
	if p, ok := o.peers[userID]; ok {
		return p, nil
	}

	conn, err := o.dial()
	if err != nil {
		return nil, fmt.Errorf("creating peer connection for %s: %w", userID, err)
	}
	p := &peer{userID: userID, conn: conn}
	conn.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		raw, err := json.Marshal(candidate.ToJSON())
		if err != nil {
			o.logger.Warn("encoding local ICE candidate failed", "user_id", userID, "error", err)
			return
		}
		if err := o.signaler.SendCandidate(userID, raw); err != nil {
			o.logger.Warn("sending ICE candidate failed", "user_id", userID, "error", err)
		}
	})
	conn.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		o.handleICEState(p, state)
	})
	o.peers[userID] = p
	o.logger.Info("peer created", "user_id", userID)
	return p, nil
}

func (o *Orchestrator) sendOffer(p *peer) error {
	p.mu.Lock()
	if p.offered {
		p.mu.Unlock()
		return nil
	}
	p.offered = true
	p.mu.Unlock()

	offer, err := p.conn.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("creating offer for %s: %w", p.userID, err)
	}
	if err := p.conn.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("setting local offer for %s: %w", p.userID, err)
	}
	if err := o.signaler.SendOffer(p.userID, offer.SDP); err != nil {
		return fmt.Errorf("sending offer to %s: %w", p.userID, err)
	}
	o.logger.Info("offer sent", "user_id", p.userID)
	return nil
}

func (o *Orchestrator) handleOffer(from, sdp string) error {
	p, err := o.getOrCreatePeer(from)
	if err != nil {
		return err
	}

	p.mu.Lock()
	offered := p.offered
	p.mu.Unlock()
	if offered {
		// Glare: both sides sent an offer. The lexicographically
		// smaller id is the canonical offerer.
		if from > o.localID {
			// Ours stands; the peer answers it.
			return nil
		}
		// Theirs stands. Drop our attempt and answer as callee.
		o.mu.Lock()
		if current, ok := o.peers[from]; ok && current == p {
			delete(o.peers, from)
		}
		o.mu.Unlock()
		p.close()
		o.logger.Info("yielding glare to canonical offerer", "user_id", from)
		if p, err = o.getOrCreatePeer(from); err != nil {
			return err
		}
	}

	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := p.conn.SetRemoteDescription(remote); err != nil {
		return fmt.Errorf("setting remote offer from %s: %w", from, err)
	}
	o.flushCandidates(p)

	answer, err := p.conn.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("creating answer for %s: %w", from, err)
	}
	if err := p.conn.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("setting local answer for %s: %w", from, err)
	}
	if err := o.signaler.SendAnswer(from, answer.SDP); err != nil {
		return fmt.Errorf("sending answer to %s: %w", from, err)
	}
	o.logger.Info("answer sent", "user_id", from)
	return nil
}

func (o *Orchestrator) handleAnswer(from, sdp string) error {
	p, err := o.getOrCreatePeer(from)
	if err != nil {
		return err
	}
	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := p.conn.SetRemoteDescription(remote); err != nil {
		return fmt.Errorf("setting remote answer from %s: %w", from, err)
	}
	o.flushCandidates(p)
	return nil
}

func (o *Orchestrator) handleCandidate(from string, raw json.RawMessage) error {
	p, err := o.getOrCreatePeer(from)
	if err != nil {
		return err
	}
	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &candidate); err != nil {
		return fmt.Errorf("decoding ICE candidate from %s: %w", from, err)
	}

	p.mu.Lock()
	if !p.remoteSet {
		// Candidates cannot be applied before the remote description;
		// queue until it arrives.
		p.pending = append(p.pending, candidate)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	if err := p.conn.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("adding ICE candidate from %s: %w", from, err)
	}
	return nil
}

// flushCandidates marks the remote description set and applies any
// queued candidates. Apply errors are logged, not returned: one bad
// candidate must not abort negotiation.
func (o *Orchestrator) flushCandidates(p *peer) {
	p.mu.Lock()
	p.remoteSet = true
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, candidate := range pending {
		if err := p.conn.AddICECandidate(candidate); err != nil {
			o.logger.Warn("applying queued ICE candidate failed", "user_id", p.userID, "error", err)
		}
	}
}

// handleICEState isolates per-peer failure: the failed connection is
// closed and removed without touching siblings. The identity check
// ignores callbacks from a connection already replaced or removed.
func (o *Orchestrator) handleICEState(p *peer, state webrtc.ICEConnectionState) {
	switch state {
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		o.logger.Info("peer connected", "user_id", p.userID, "state", state.String())

	case webrtc.ICEConnectionStateFailed:
		o.mu.Lock()
		current, ok := o.peers[p.userID]
		if !ok || current != p {
			o.mu.Unlock()
			return
		}
		delete(o.peers, p.userID)
		closed := o.closed
		o.mu.Unlock()

		p.close()
		o.logger.Warn("peer connection failed", "user_id", p.userID)
		if o.onPeerDown != nil && !closed {
			o.onPeerDown(p.userID)
		}

	case webrtc.ICEConnectionStateClosed:
		o.mu.Lock()
		if current, ok := o.peers[p.userID]; ok && current == p {
			delete(o.peers, p.userID)
		}
		o.mu.Unlock()
	}
}
