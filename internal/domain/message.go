package domain

import (
	"context"
	"time"
)

// Message types dispatched by the protocol layer. Unknown types are
// acknowledged with an error response rather than silently dropped.
const (
	MessageInformation    = "information"
	MessageActionRequired = "action_required"
	MessageEscalation     = "escalation"
	MessagePerfAlert      = "performance_alert"
	MessageLearning       = "learning_opportunity"
	MessageSystemControl  = "system_control"
	MessageResponse       = "response"
)

// Message priorities. Priority is advisory; the bus never reorders.
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// StrandMessage is a received strand interpreted at the protocol layer.
type StrandMessage struct {
	ID         string
	Type       string
	FromAgent  string
	ToAgent    string
	Content    map[string]any
	Priority   string
	ExpiresAt  *time.Time
	ReceivedAt time.Time
	StrandID   string
}

// Expired reports whether the message's expiry has passed. Expiry is
// checked at consumption time: an expired message is still stored and
// recorded as received, but never dispatched to a handler.
func (m *StrandMessage) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && now.After(*m.ExpiresAt)
}

// AgentResponse links a response strand back to the message it answers.
type AgentResponse struct {
	OriginalMessageID string
	FromAgent         string
	Status            string
	Content           map[string]any
	ReceivedAt        time.Time
}

// MessageHandler processes one received message. A returned error is
// contained to the message: it is logged and acknowledged, never allowed
// to stop the listen loop.
type MessageHandler func(ctx context.Context, msg *StrandMessage) error

// ResponseCallback is invoked at most once when a response correlating
// to a registered message ID arrives.
type ResponseCallback func(ctx context.Context, resp *AgentResponse)
