// Package memory keeps completion events in-process when no Pub/Sub topic is
// configured.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// DefaultRetain is the number of events kept when New gets a non-positive limit.
const DefaultRetain = 256

// Event is one published message, JSON encoded the same way the Pub/Sub
// publisher encodes it.
type Event struct {
	ID    string
	Topic string
	Data  json.RawMessage
}

// Publisher retains the most recent events up to a fixed limit.
type Publisher struct {
	mu     sync.RWMutex
	events []Event
	retain int
	seq    int
	logger *zap.Logger
}

// New returns a Publisher that keeps at most retain events.
func New(retain int, logger *zap.Logger) *Publisher {
	if retain <= 0 {
		retain = DefaultRetain
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{retain: retain, logger: logger.Named("memory_publisher")}
}

// Publish encodes payload and records it under topic.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	p.mu.Lock()
	p.seq++
	ev := Event{ID: fmt.Sprintf("memory-%d", p.seq), Topic: topic, Data: data}
	if len(p.events) == p.retain {
		copy(p.events, p.events[1:])
		p.events = p.events[:len(p.events)-1]
	}
	p.events = append(p.events, ev)
	p.mu.Unlock()

	p.logger.Debug("event recorded", zap.String("topic", topic), zap.String("message_id", ev.ID))
	return ev.ID, nil
}

// Last returns the newest event for topic.
func (p *Publisher) Last(topic string) (Event, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for i := len(p.events) - 1; i >= 0; i-- {
		if p.events[i].Topic == topic {
			return p.events[i], true
		}
	}
	return Event{}, false
}

// Events returns a copy of the retained events, oldest first.
func (p *Publisher) Events() []Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Event(nil), p.events...)
}
