// Copyright 2026 The MediCore Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Handler receives classified events. Handlers run synchronously on the
// dispatch goroutine and must not block: a slow handler delays delivery
// to every other subscriber.
type Handler func(Event)

// Router classifies raw transport payloads and fans them out to
// subscribers by kind. Feed it from the transport's OnMessage callback
// so dispatch stays single-threaded and in arrival order.
type Router struct {
	logger *slog.Logger

	mu     sync.Mutex
	subs   []*subscription
	nextID int
}

type subscription struct {
	id      int
	kind    Kind
	handler Handler
}

// NewRouter returns a Router. A nil logger defaults to slog.Default().
func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{logger: logger}
}

// Subscribe registers a handler for one event kind and returns its
// unsubscribe handle. A subscriber added after events have been
// delivered sees only future events.
func (r *Router) Subscribe(kind Kind, handler Handler) (unsubscribe func()) {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.subs = append(r.subs, &subscription{id: id, kind: kind, handler: handler})
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, sub := range r.subs {
			if sub.id == id {
				r.subs = append(r.subs[:i], r.subs[i+1:]...)
				return
			}
		}
	}
}

// HandleRaw classifies one raw payload and delivers it. Malformed JSON
// and unknown discriminators are logged and dropped, never surfaced to
// subscribers as errors.
func (r *Router) HandleRaw(data []byte) {
	var header envelope
	if err := json.Unmarshal(data, &header); err != nil {
		r.logger.Warn("dropping malformed payload", "error", err)
		return
	}
	kind, ok := kinds[header.Type]
	if !ok {
		r.logger.Debug("dropping unknown event type", "type", header.Type)
		return
	}

	r.dispatch(Event{
		Kind:     kind,
		Type:     header.Type,
		RoomID:   header.RoomID,
		SenderID: header.SenderID,
		Data:     data,
	})
}

// dispatch delivers to subscribers in subscription order. The handler
// list is snapshotted so an unsubscribe from within a handler does not
// corrupt iteration.
func (r *Router) dispatch(ev Event) {
	r.mu.Lock()
	matching := make([]Handler, 0, len(r.subs))
	for _, sub := range r.subs {
		if sub.kind == ev.Kind {
			matching = append(matching, sub.handler)
		}
	}
	r.mu.Unlock()

	for _, handler := range matching {
		handler(ev)
	}
}
