/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "sync"

// EventType enumerates event categories.
type EventType string

const (
	// EventSlotChanged fires once per key whose record differs from the previous cycle.
	EventSlotChanged EventType = "slot.changed"
	// EventPollCompleted fires after every cycle commit.
	EventPollCompleted EventType = "poll.completed"
	// EventSnapshotCleared fires when an operator wipes the snapshot store.
	EventSnapshotCleared EventType = "snapshot.cleared"
)

// Payload keys shared by publishers and subscribers.
const (
	KeyCategory       = "category"
	KeySlotKey        = "key"
	KeyTime           = "time"
	KeyStatus         = "status"
	KeyPreviousStatus = "previous_status"
	KeyAvailable      = "available"
	KeyTotal          = "total"
	KeyObservedAt     = "observed_at"
	KeyCycleID        = "cycle_id"
	KeyTrigger        = "trigger"
	KeyCategories     = "categories"
	KeyFailed         = "failed"
	KeyDurationMS     = "duration_ms"
	KeyDate           = "date"
)

// Payload generic event payload.
type Payload map[string]any

// String returns the string stored under key, or "".
func (p Payload) String(key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

// IntPtr returns the optional integer stored under key.
func (p Payload) IntPtr(key string) *int {
	switch v := p[key].(type) {
	case int:
		return &v
	case *int:
		return v
	case float64:
		n := int(v)
		return &n
	}
	return nil
}

// Subscriber receives event payloads.
type Subscriber chan Payload

// Bus implements a simple in-process pubsub. Slow subscribers miss events
// rather than stall publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for event type.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	return b.SubscribeBuffered(eventType, 8)
}

// SubscribeBuffered registers a subscriber with a custom buffer size.
func (b *Bus) SubscribeBuffered(eventType EventType, size int) Subscriber {
	ch := make(Subscriber, size)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs[eventType] {
		select {
		case sub <- payload:
		default:
		}
	}
}

// Unsubscribe removes the subscriber and closes its channel.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			b.subs[eventType] = append(subs[:i], subs[i+1:]...)
			close(sub)
			return
		}
	}
}
