// Package events provides an in-memory pub/sub bus for live faucet
// activity. The admin dashboard subscribes to it over SSE; publishers
// never block on slow consumers.
package events

import (
	"encoding/json"
	"sync"
	"time"
)

// EventType identifies the kind of event.
type EventType string

const (
	EventDispatchSuccess EventType = "dispatch_success"
	EventDispatchFailed  EventType = "dispatch_failed"
	EventAdmissionDenied EventType = "admission_denied"
	EventHealthChange    EventType = "health_change"
	EventSettingsChanged EventType = "settings_changed"
)

// Event is a single faucet event published on the bus.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	// Dispatch fields (populated for dispatch and denial events).
	RequestID string  `json:"request_id,omitempty"`
	Wallet    string  `json:"wallet,omitempty"`
	TxHash    string  `json:"tx_hash,omitempty"`
	Amount    int64   `json:"amount,omitempty"`
	Mode      string  `json:"mode,omitempty"`
	LatencyMs float64 `json:"latency_ms,omitempty"`
	Code      string  `json:"code,omitempty"`
	ErrorMsg  string  `json:"error_msg,omitempty"`

	// Health fields (populated for health_change events).
	Component string `json:"component,omitempty"`
	OldState  string `json:"old_state,omitempty"`
	NewState  string `json:"new_state,omitempty"`
	Reason    string `json:"reason,omitempty"`

	// Settings fields (populated for settings_changed events).
	Setting  string `json:"setting,omitempty"`
	NewValue string `json:"new_value,omitempty"`
	Actor    string `json:"actor,omitempty"`
}

// JSON returns the event as a JSON byte slice.
func (e *Event) JSON() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Subscriber receives events on a channel.
type Subscriber struct {
	C    chan Event
	done chan struct{}
}

// Bus is an in-memory pub/sub event bus for faucet events.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[*Subscriber]struct{}
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[*Subscriber]struct{}),
	}
}

// Subscribe creates a new subscriber with a buffered channel.
func (b *Bus) Subscribe(bufSize int) *Subscriber {
	if bufSize <= 0 {
		bufSize = 64
	}
	s := &Subscriber{
		C:    make(chan Event, bufSize),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.subscribers[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(s *Subscriber) {
	b.mu.Lock()
	delete(b.subscribers, s)
	b.mu.Unlock()
	close(s.done)
}

// Publish sends an event to all subscribers (non-blocking).
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subscribers {
		select {
		case s.C <- e:
		default:
			// Drop event if subscriber is slow (back-pressure).
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
