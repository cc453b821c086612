// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

// Package events implements the in-process progress event bus.
package events

import (
	"sync"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
)

var (
	// Error is the default events errs class.
	Error = errs.Class("events")

	mon = monkit.Package()
)

// Kind describes the kind of a progress event.
type Kind string

// Event kinds.
const (
	KindProgress Kind = "progress"
	KindPhase    Kind = "phase"
	KindComplete Kind = "complete"
	KindError    Kind = "error"
)

// PayloadOverflow is the phase payload published when a topic buffer
// drops events, so that subscribers can detect loss.
const PayloadOverflow = "overflow"

// Event is a single sequenced event on a topic.
type Event struct {
	Topic     string      `json:"topic"`
	Sequence  int64       `json:"sequence"`
	Kind      Kind        `json:"kind"`
	Payload   interface{} `json:"payload"`
	Published time.Time   `json:"published"`
}

// Config contains configurable values for the event bus.
type Config struct {
	BufferSize     int `help:"number of events retained per topic for replay" default:"256"`
	SubscriberSize int `help:"size of each subscriber delivery channel" default:"256"`
}

// Bus is a single-process publish/subscribe bus with per-topic strictly
// monotonic sequences and bounded replay buffers.
type Bus struct {
	log    *zap.Logger
	config Config

	mu     sync.Mutex
	topics map[string]*topic
	closed bool
}

type topic struct {
	sequence    int64
	buffer      []Event // oldest first, len <= BufferSize
	overflowed  bool
	subscribers map[string]*Subscription
}

// Subscription is a live subscriber attached to one topic.
type Subscription struct {
	Topic string
	ID    string

	bus    *Bus
	events chan Event
}

// Events returns the delivery channel. Events arrive in sequence order;
// a gap in sequence numbers means the subscriber fell behind and may
// Replay from the last sequence it has seen.
func (sub *Subscription) Events() <-chan Event { return sub.events }

// Close detaches the subscription from the bus.
func (sub *Subscription) Close() { sub.bus.unsubscribe(sub) }

// NewBus creates an event bus.
func NewBus(log *zap.Logger, config Config) *Bus {
	if config.BufferSize <= 0 {
		config.BufferSize = 256
	}
	if config.SubscriberSize <= 0 {
		config.SubscriberSize = 256
	}
	return &Bus{
		log:    log,
		config: config,
		topics: map[string]*topic{},
	}
}

func (bus *Bus) topicLocked(name string) *topic {
	t, ok := bus.topics[name]
	if !ok {
		t = &topic{subscribers: map[string]*Subscription{}}
		bus.topics[name] = t
	}
	return t
}

// Publish appends an event to the topic and fans it out to subscribers.
// It returns the assigned sequence number.
func (bus *Bus) Publish(topicName string, kind Kind, payload interface{}) int64 {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	if bus.closed {
		return 0
	}

	t := bus.topicLocked(topicName)

	if len(t.buffer) >= bus.config.BufferSize && !t.overflowed {
		t.overflowed = true
		bus.appendLocked(t, topicName, KindPhase, PayloadOverflow)
	}

	return bus.appendLocked(t, topicName, kind, payload)
}

func (bus *Bus) appendLocked(t *topic, topicName string, kind Kind, payload interface{}) int64 {
	t.sequence++
	event := Event{
		Topic:     topicName,
		Sequence:  t.sequence,
		Kind:      kind,
		Payload:   payload,
		Published: time.Now(),
	}

	t.buffer = append(t.buffer, event)
	for len(t.buffer) > bus.config.BufferSize {
		t.buffer = t.buffer[1:]
	}

	for id, sub := range t.subscribers {
		select {
		case sub.events <- event:
		default:
			// subscriber is not draining; it detects the gap from the
			// sequence numbers and replays.
			bus.log.Debug("subscriber lagging",
				zap.String("topic", topicName),
				zap.String("subscriber", id))
			mon.Counter("events_dropped").Inc(1)
		}
	}
	return event.Sequence
}

// Subscribe attaches a subscriber to the topic. Events already buffered
// with sequence > fromSequence are replayed into the channel first, so a
// reconnecting subscriber does not miss retained events.
func (bus *Bus) Subscribe(topicName, subscriberID string, fromSequence int64) (*Subscription, error) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	if bus.closed {
		return nil, Error.New("bus closed")
	}

	t := bus.topicLocked(topicName)
	if _, exists := t.subscribers[subscriberID]; exists {
		return nil, Error.New("subscriber %q already attached to %q", subscriberID, topicName)
	}

	sub := &Subscription{
		Topic:  topicName,
		ID:     subscriberID,
		bus:    bus,
		events: make(chan Event, bus.config.SubscriberSize),
	}

	for _, event := range t.buffer {
		if event.Sequence > fromSequence {
			select {
			case sub.events <- event:
			default:
			}
		}
	}

	t.subscribers[subscriberID] = sub
	return sub, nil
}

// Replay returns the buffered events of the topic with sequence greater
// than fromSequence.
func (bus *Bus) Replay(topicName string, fromSequence int64) []Event {
	bus.mu.Lock()
	defer bus.mu.Unlock()

	t, ok := bus.topics[topicName]
	if !ok {
		return nil
	}
	var replayed []Event
	for _, event := range t.buffer {
		if event.Sequence > fromSequence {
			replayed = append(replayed, event)
		}
	}
	return replayed
}

func (bus *Bus) unsubscribe(sub *Subscription) {
	bus.mu.Lock()
	defer bus.mu.Unlock()

	if t, ok := bus.topics[sub.Topic]; ok {
		delete(t.subscribers, sub.ID)
	}
}

// Close detaches all subscribers and stops accepting events.
func (bus *Bus) Close() error {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	if bus.closed {
		return nil
	}
	bus.closed = true
	for _, t := range bus.topics {
		for _, sub := range t.subscribers {
			close(sub.events)
		}
		t.subscribers = map[string]*Subscription{}
	}
	return nil
}

// ScanTopic returns the canonical topic name for a scan.
func ScanTopic(scanID string) string { return "scan:" + scanID }

// ActionTopic returns the canonical topic name for an action batch.
func ActionTopic(batchID string) string { return "action:" + batchID }
