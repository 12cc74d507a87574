// Package events provides the in-process publish-subscribe channel that
// carries domain events (for example "tasksUpdated") to UI-facing
// subscribers. The bus is session-scoped and injected, never global.
package events

import (
	"encoding/json"
	"sync"
	"time"
)

// Event is a fire-and-forget broadcast payload.
type Event struct {
	Topic     string          `json:"topic"`
	UserID    string          `json:"userId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// Handler receives published events. Handlers must not block; slow
// consumers should hand off to their own goroutine.
type Handler func(Event)

// UpdatedTopic names the per-collection update topic, e.g.
// "tasksUpdated".
func UpdatedTopic(collection string) string {
	return collection + "Updated"
}

// Bus is a topic-keyed broadcast channel. Multiple subscribers per
// topic receive every published event; there is no delivery queue and
// no persistence.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]Handler
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[int]Handler)}
}

// Subscribe registers a handler for a topic and returns an unsubscribe
// function. Unsubscribing twice is a no-op.
func (b *Bus) Subscribe(topic string, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]Handler)
	}
	id := b.nextID
	b.nextID++
	b.subs[topic][id] = h

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[topic], id)
	}
}

// Publish delivers the event to every subscriber of its topic,
// stamping the publish time.
func (b *Bus) Publish(event Event) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[event.Topic]))
	for _, h := range b.subs[event.Topic] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}
