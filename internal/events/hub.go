package events

import (
	"sync"

	"go.uber.org/zap"
)

// Envelope is the payload delivered for every dispatched event
type Envelope struct {
	DataType  string `json:"dataType"`
	Data      any    `json:"data,omitempty"`
	SessionID string `json:"sessionId"`
}

const subscriberBuffer = 64

type subscriber struct {
	ch chan Envelope
}

// Hub fans envelopes out to live per-session subscribers.
// Publish never blocks: a subscriber that falls behind loses envelopes.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*subscriber]struct{}
	logger *zap.Logger
}

// NewHub creates an empty hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		subs:   make(map[string]map[*subscriber]struct{}),
		logger: logger.Named("events"),
	}
}

// Subscribe registers a listener for one session. The returned cancel
// func unregisters it and closes the channel.
func (h *Hub) Subscribe(sessionID string) (<-chan Envelope, func()) {
	sub := &subscriber{ch: make(chan Envelope, subscriberBuffer)}

	h.mu.Lock()
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[*subscriber]struct{})
	}
	h.subs[sessionID][sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[sessionID], sub)
			if len(h.subs[sessionID]) == 0 {
				delete(h.subs, sessionID)
			}
			h.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// Publish delivers env to every subscriber of env.SessionID
func (h *Hub) Publish(env Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs[env.SessionID] {
		select {
		case sub.ch <- env:
		default:
			h.logger.Warn("subscriber buffer full, dropping event",
				zap.String("session_id", env.SessionID),
				zap.String("event", env.DataType))
		}
	}
}

// Subscribers returns the number of live subscribers for a session
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}
