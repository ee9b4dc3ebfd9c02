// Package notify delivers registry changes to interested parties: in-process
// subscribers through a Hub and remote ones over MQTT.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"lifxsync/internal/registry"
)

const subscriptionChanSize = 16

var ErrClosed = errors.New("hub closed")

type EventType string

const (
	EventRegistry EventType = "registry"
	EventActive   EventType = "active"
)

// Event is one notification as seen by subscribers.
type Event struct {
	Type   EventType        `json:"type"`
	Change *registry.Change `json:"change,omitempty"`
	Active *bool            `json:"active,omitempty"`
	Time   time.Time        `json:"time"`
}

// Hub fans registry notifications out to any number of subscriptions. A
// subscriber that falls behind loses events instead of stalling the registry.
type Hub struct {
	log logr.Logger

	mu     sync.RWMutex
	subs   map[uuid.UUID]*Subscription
	closed bool
}

func NewHub(log logr.Logger) *Hub {
	return &Hub{
		log:  log.WithName("hub"),
		subs: make(map[uuid.UUID]*Subscription),
	}
}

func (h *Hub) RegistryChanged(_ context.Context, c registry.Change) {
	h.publish(Event{Type: EventRegistry, Change: &c, Time: time.Now()})
}

func (h *Hub) ActiveChanged(_ context.Context, active bool) {
	h.publish(Event{Type: EventActive, Active: &active, Time: time.Now()})
}

func (h *Hub) publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, s := range h.subs {
		select {
		case s.events <- ev:
		default:
			h.log.V(1).Info("Subscriber is behind, event dropped", "subscription", id.String(), "type", string(ev.Type))
		}
	}
}

// Subscribe returns a new subscription. Close it when done.
func (h *Hub) Subscribe() (*Subscription, error) {
	s := &Subscription{
		id:     uuid.New(),
		events: make(chan Event, subscriptionChanSize),
		hub:    h,
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	h.subs[s.id] = s
	return s, nil
}

// Len is the number of open subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close ends every subscription and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, s := range h.subs {
		delete(h.subs, id)
		close(s.events)
	}
}

func (h *Hub) remove(id uuid.UUID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.subs[id]
	if !ok {
		return false
	}
	delete(h.subs, id)
	close(s.events)
	return true
}

// Subscription is a buffered feed of hub events.
type Subscription struct {
	id     uuid.UUID
	events chan Event
	hub    *Hub
}

func (s *Subscription) ID() string {
	return s.id.String()
}

// Events is closed when the subscription or its hub is closed.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

func (s *Subscription) Close() error {
	if !s.hub.remove(s.id) {
		return ErrClosed
	}
	return nil
}
