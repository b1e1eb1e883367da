package protocol

import (
	"context"

	"strandbus/internal/domain"
)

// Default handlers: every built-in message type gets a baseline
// behavior so a freshly constructed instance never rejects well-formed
// traffic. Callers override per type with RegisterHandler.
func (p *Protocol) installDefaultHandlers() {
	p.handlers[domain.MessageInformation] = p.handleInformation
	p.handlers[domain.MessageActionRequired] = p.handleActionRequired
	p.handlers[domain.MessageEscalation] = p.handleEscalation
	p.handlers[domain.MessagePerfAlert] = p.handlePerformanceAlert
	p.handlers[domain.MessageLearning] = p.handleLearning
	p.handlers[domain.MessageSystemControl] = p.handleSystemControl
}

func (p *Protocol) handleInformation(_ context.Context, msg *domain.StrandMessage) error {
	p.logger.Info("information received",
		"from", msg.FromAgent,
		"message_id", msg.ID,
	)
	return nil
}

// handleActionRequired acknowledges receipt so the sender can correlate
// that the action reached a live agent. Acting on it is the overriding
// handler's job.
func (p *Protocol) handleActionRequired(ctx context.Context, msg *domain.StrandMessage) error {
	p.logger.Info("action required",
		"from", msg.FromAgent,
		"message_id", msg.ID,
		"priority", msg.Priority,
	)
	if msg.ID == "" {
		return nil
	}
	_, err := p.RespondToMessage(ctx, msg.ID, "acknowledged", map[string]any{
		"handled_by": p.agent,
	})
	return err
}

func (p *Protocol) handleEscalation(_ context.Context, msg *domain.StrandMessage) error {
	p.logger.Warn("escalation received",
		"from", msg.FromAgent,
		"message_id", msg.ID,
		"reason", msg.Content["reason"],
	)
	return nil
}

func (p *Protocol) handlePerformanceAlert(_ context.Context, msg *domain.StrandMessage) error {
	p.logger.Warn("performance alert",
		"from", msg.FromAgent,
		"metric", msg.Content["metric"],
		"value", msg.Content["value"],
	)
	return nil
}

func (p *Protocol) handleLearning(_ context.Context, msg *domain.StrandMessage) error {
	p.logger.Info("learning opportunity recorded",
		"from", msg.FromAgent,
		"message_id", msg.ID,
	)
	return nil
}

// handleSystemControl answers ping commands; everything else is logged
// for the operator.
func (p *Protocol) handleSystemControl(ctx context.Context, msg *domain.StrandMessage) error {
	command, _ := msg.Content["command"].(string)
	p.logger.Info("system control received",
		"from", msg.FromAgent,
		"command", command,
	)
	if command == "ping" && msg.ID != "" {
		_, err := p.RespondToMessage(ctx, msg.ID, "pong", map[string]any{
			"agent": p.agent,
		})
		return err
	}
	return nil
}
