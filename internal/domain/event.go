package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventStrandPublished    EventType = "strand.published"
	EventStrandRouted       EventType = "strand.routed"
	EventRoutingSkipped     EventType = "routing.skipped"
	EventAgentRegistered    EventType = "agent.registered"
	EventAgentActive        EventType = "agent.active"
	EventAgentInactive      EventType = "agent.inactive"
	EventMessageReceived    EventType = "message.received"
	EventMessageExpired     EventType = "message.expired"
	EventMessageRejected    EventType = "message.rejected"
	EventResponseCorrelated EventType = "response.correlated"
	EventCycleCompleted     EventType = "router.cycle.completed"
)

// Event is the envelope published on the observability bus. It never
// touches the shared log: the log is the system of record, the bus is a
// local tap for operators and tests.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Agent     string          `json:"agent,omitempty"`
	StrandID  string          `json:"strand_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for domain events.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}
