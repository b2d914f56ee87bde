// Package hub is the in-process notification bus. Every accepted mutation
// publishes one event; every live subscriber sees every event published
// after it subscribed, in publish order. Publishing never blocks: a
// subscriber that falls more than its backlog capacity behind is
// force-dropped and learns of the gap through ErrSlowConsumer.
package hub

import (
	"errors"
	"sync"
)

type EventType string

const (
	EventJob      EventType = "Job"
	EventResource EventType = "Resource"
)

// Event is the payload fanned out to stream subscribers.
type Event struct {
	Type EventType `json:"type"`
	ID   string    `json:"id"`
}

// ErrSlowConsumer marks a subscription that was dropped because its backlog
// overflowed. Resuming would silently skip events, so the subscriber must
// re-subscribe and re-read current state instead.
var ErrSlowConsumer = errors.New("subscriber dropped: event backlog exceeded")

const defaultBacklog = 64

type Hub struct {
	mu      sync.Mutex
	subs    map[*Subscription]struct{}
	backlog int
}

// Subscription receives events from the hub. After the Events channel is
// closed, Err reports why: ErrSlowConsumer for a lag drop, nil for an
// ordinary unsubscribe.
type Subscription struct {
	hub *Hub
	ch  chan Event
	err error
}

func New(backlog int) *Hub {
	if backlog <= 0 {
		backlog = defaultBacklog
	}
	return &Hub{
		subs:    make(map[*Subscription]struct{}),
		backlog: backlog,
	}
}

// Publish delivers the event to every current subscriber. Delivery order is
// the same for all subscribers because publishes are serialized on the hub
// lock. A subscriber with a full backlog is dropped rather than waited on.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		select {
		case s.ch <- ev:
		default:
			s.err = ErrSlowConsumer
			close(s.ch)
			delete(h.subs, s)
		}
	}
}

// Subscribe registers a new subscriber. It observes only events published
// after this call returns; there is no replay.
func (h *Hub) Subscribe() *Subscription {
	s := &Subscription{
		hub: h,
		ch:  make(chan Event, h.backlog),
	}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

// Unsubscribe releases the subscription. Safe to call more than once, and
// safe after a lag drop has already removed the subscriber.
func (h *Hub) Unsubscribe(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; !ok {
		return
	}
	delete(h.subs, s)
	close(s.ch)
}

// Events is the receive channel. It is closed on unsubscribe or lag drop.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Err reports why the Events channel closed. Only meaningful after the
// channel is observed closed.
func (s *Subscription) Err() error {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.err
}

// Close unsubscribes; it exists so a subscription can be released without
// holding a hub reference.
func (s *Subscription) Close() { s.hub.Unsubscribe(s) }

// Close drops every remaining subscriber. Used on shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		delete(h.subs, s)
		close(s.ch)
	}
}

func (h *Hub) subscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
