// Package protocol implements the per-agent communication layer on top
// of the shared strand log: publishing findings, direct tagging,
// response correlation, and the polling listen loop.
package protocol

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"strandbus/internal/domain"
	"strandbus/internal/infra/config"
	"strandbus/internal/infra/tracer"
)

// sentRecord remembers one published message for later correlation.
type sentRecord struct {
	StrandID string
	SentAt   time.Time
}

// pendingResponse is a registered callback awaiting its response.
type pendingResponse struct {
	callback     domain.ResponseCallback
	registeredAt time.Time
}

// Protocol is one agent's connection to the bus. Each instance owns its
// private caches; the log is the only state shared between agents.
type Protocol struct {
	agent   string
	store   domain.StrandStore
	bus     domain.EventBus
	schemas *SchemaSet
	cfg     config.ProtocolConfig
	logger  *slog.Logger

	mu       sync.Mutex
	handlers map[string]domain.MessageHandler
	sent     map[string]sentRecord
	seen     map[string]time.Time // strand ID -> strand CreatedAt
	received []*domain.StrandMessage
	pending  map[string]pendingResponse
	cancel   context.CancelFunc
	done     chan struct{}

	now func() time.Time
}

// New creates a protocol instance for the named agent with the default
// handlers installed.
func New(agent string, store domain.StrandStore, bus domain.EventBus, cfg config.ProtocolConfig, logger *slog.Logger) (*Protocol, error) {
	if agent == "" {
		return nil, fmt.Errorf("%w: empty agent name", domain.ErrInvalidInput)
	}
	schemas, err := NewSchemaSet()
	if err != nil {
		return nil, err
	}

	p := &Protocol{
		agent:    agent,
		store:    store,
		bus:      bus,
		schemas:  schemas,
		cfg:      cfg,
		logger:   logger.With("agent", agent),
		handlers: make(map[string]domain.MessageHandler),
		sent:     make(map[string]sentRecord),
		seen:     make(map[string]time.Time),
		pending:  make(map[string]pendingResponse),
		now:      time.Now,
	}
	p.installDefaultHandlers()
	return p, nil
}

// Agent returns the owning agent's name.
func (p *Protocol) Agent() string { return p.agent }

// PublishOption customizes a published strand.
type PublishOption func(*publishParams)

type publishParams struct {
	tags        string
	target      string
	messageType string
	priority    string
	expiresAt   *time.Time
}

// WithTag overrides the default agent:<self>:finding tag.
func WithTag(tag string) PublishOption {
	return func(o *publishParams) { o.tags = tag }
}

// WithMessageType sets the message type (default information).
func WithMessageType(messageType string) PublishOption {
	return func(o *publishParams) { o.messageType = messageType }
}

// WithPriority sets the advisory priority.
func WithPriority(priority string) PublishOption {
	return func(o *publishParams) { o.priority = priority }
}

// WithExpiry sets the consumption deadline. Expired messages are still
// stored but never dispatched.
func WithExpiry(at time.Time) PublishOption {
	return func(o *publishParams) { o.expiresAt = &at }
}

// PublishFinding writes a finding strand tagged agent:<self>:finding
// (or a caller-supplied tag) and records it for response correlation.
// Returns the strand ID and the assigned message ID.
func (p *Protocol) PublishFinding(ctx context.Context, content map[string]any, opts ...PublishOption) (string, string, error) {
	params := publishParams{
		tags:        domain.AgentTag(p.agent, "finding"),
		messageType: domain.MessageInformation,
		priority:    domain.PriorityNormal,
	}
	for _, opt := range opts {
		opt(&params)
	}
	return p.publish(ctx, content, params)
}

// TagAgent publishes a strand addressed directly to another agent with
// a reason-typed tag agent:<target>:<action>:from:<self>.
func (p *Protocol) TagAgent(ctx context.Context, target, action string, content map[string]any, opts ...PublishOption) (string, string, error) {
	if target == "" || action == "" {
		return "", "", fmt.Errorf("%w: target and action required", domain.ErrInvalidInput)
	}

	messageType := domain.MessageInformation
	switch action {
	case domain.MessageActionRequired, domain.MessageEscalation, domain.MessagePerfAlert,
		domain.MessageLearning, domain.MessageSystemControl:
		messageType = action
	}
	params := publishParams{
		tags:        domain.DirectTag(target, action, p.agent),
		target:      target,
		messageType: messageType,
		priority:    domain.PriorityNormal,
	}
	for _, opt := range opts {
		opt(&params)
	}
	return p.publish(ctx, content, params)
}

// RespondToMessage writes a response strand correlating back to an
// earlier message ID. status becomes the response type segment of the
// tag (e.g. completed, error).
func (p *Protocol) RespondToMessage(ctx context.Context, originalMessageID, status string, content map[string]any) (string, error) {
	if originalMessageID == "" {
		return "", fmt.Errorf("%w: original message ID required", domain.ErrInvalidInput)
	}
	if status == "" {
		status = "completed"
	}

	payload := make(map[string]any, len(content)+2)
	for k, v := range content {
		payload[k] = v
	}
	payload[domain.ContentOriginalMessage] = originalMessageID
	payload["status"] = status

	strandID, _, err := p.publish(ctx, payload, publishParams{
		tags:        domain.ResponseTag(status, originalMessageID),
		messageType: domain.MessageResponse,
		priority:    domain.PriorityNormal,
	})
	return strandID, err
}

func (p *Protocol) publish(ctx context.Context, content map[string]any, params publishParams) (string, string, error) {
	now := p.now()
	messageID := newMessageID(now)

	strand := &domain.Strand{
		Content:     content,
		Tags:        params.tags,
		SourceAgent: p.agent,
		TargetAgent: params.target,
		Metadata: domain.MessageMetadata{
			MessageID:   messageID,
			MessageType: params.messageType,
			Priority:    params.priority,
			ExpiresAt:   params.expiresAt,
			SentAt:      now.UTC(),
		},
	}

	strandID, err := p.store.Insert(ctx, strand)
	if err != nil {
		return "", "", fmt.Errorf("publish strand: %w", err)
	}

	p.mu.Lock()
	p.sent[messageID] = sentRecord{StrandID: strandID, SentAt: now}
	p.mu.Unlock()

	p.logger.Debug("strand published",
		"strand_id", strandID,
		"message_id", messageID,
		"tags", params.tags,
	)
	p.bus.Publish(ctx, domain.Event{
		Type:     domain.EventStrandPublished,
		Agent:    p.agent,
		StrandID: strandID,
	})
	return strandID, messageID, nil
}

// RegisterHandler installs or replaces the handler for a message type.
func (p *Protocol) RegisterHandler(messageType string, handler domain.MessageHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[messageType] = handler
}

// RegisterResponseCallback arms a one-shot callback for the response to
// a sent message ID.
func (p *Protocol) RegisterResponseCallback(messageID string, callback domain.ResponseCallback) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending[messageID] = pendingResponse{callback: callback, registeredAt: p.now()}
}

// Start launches the listen loop. Idempotent.
func (p *Protocol) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	go p.loop(loopCtx, p.done)
	p.logger.Info("listener started", "interval", p.cfg.ListenInterval)
}

// Stop cancels the listen loop and waits for it to exit. Message
// history and pending callbacks survive a stop. Idempotent.
func (p *Protocol) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	p.logger.Info("listener stopped")
}

func (p *Protocol) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	interval := p.cfg.ListenInterval
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if err := p.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			interval *= 2
			p.logger.Error("listen poll failed", "error", err, "next_interval", interval)
		} else {
			interval = p.cfg.ListenInterval
		}
		timer.Reset(interval)
	}
}

// Poll runs one listen pass: consume addressed strands, then correlate
// responses. Exported so tests and CLI tooling can drive the protocol
// without the timer.
func (p *Protocol) Poll(ctx context.Context) error {
	ctx, span := tracer.StartSpan(ctx, "protocol.poll")
	defer span.End()
	span.SetAttributes(tracer.StringAttr("agent", p.agent))

	since := p.now().Add(-p.cfg.RecencyWindow)

	strands, err := p.fetchAddressed(ctx, since)
	if err != nil {
		tracer.RecordError(span, err)
		return err
	}
	for _, strand := range strands {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.consume(ctx, strand)
	}

	if err := p.correlateResponses(ctx, since); err != nil {
		tracer.RecordError(span, err)
		return err
	}
	p.prunePending()
	p.pruneSeen(since)
	return nil
}

// pruneSeen drops dedup entries for strands older than the fetch window.
// The poll query's lower bound guarantees such strands are never returned
// again, so the set stays bounded by the window instead of growing for
// the life of the listener.
func (p *Protocol) pruneSeen(cutoff time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, createdAt := range p.seen {
		if createdAt.Before(cutoff) {
			delete(p.seen, id)
		}
	}
}

// fetchAddressed merges the two address paths — target_agent column and
// agent:<self>:% tags — deduplicated by strand ID, oldest first.
func (p *Protocol) fetchAddressed(ctx context.Context, since time.Time) ([]*domain.Strand, error) {
	byTarget, err := p.store.Query(ctx, domain.StrandQuery{
		TargetAgent: p.agent,
		Since:       since,
		Limit:       p.cfg.MaxBatch,
	})
	if err != nil {
		return nil, fmt.Errorf("query by target: %w", err)
	}
	byTag, err := p.store.Query(ctx, domain.StrandQuery{
		TagsLike: domain.AgentTagPrefix(p.agent),
		Since:    since,
		Limit:    p.cfg.MaxBatch,
	})
	if err != nil {
		return nil, fmt.Errorf("query by tag: %w", err)
	}

	merged := make([]*domain.Strand, 0, len(byTarget)+len(byTag))
	index := make(map[string]struct{}, cap(merged))
	for _, s := range append(byTarget, byTag...) {
		if _, dup := index[s.ID]; dup {
			continue
		}
		index[s.ID] = struct{}{}
		merged = append(merged, s)
	}

	// Store order is newest first; consume oldest first.
	for i, j := 0, len(merged)-1; i < j; i, j = i+1, j-1 {
		merged[i], merged[j] = merged[j], merged[i]
	}
	return merged, nil
}

// consume processes one addressed strand: build the typed message,
// enforce expiry at consumption time, validate, and dispatch.
func (p *Protocol) consume(ctx context.Context, strand *domain.Strand) {
	if strand.SourceAgent == p.agent {
		return
	}

	p.mu.Lock()
	if _, dup := p.seen[strand.ID]; dup {
		p.mu.Unlock()
		return
	}
	p.seen[strand.ID] = strand.CreatedAt
	p.mu.Unlock()

	msg := p.buildMessage(strand)

	p.mu.Lock()
	p.received = append(p.received, msg)
	p.mu.Unlock()
	p.bus.Publish(ctx, domain.Event{
		Type:     domain.EventMessageReceived,
		Agent:    p.agent,
		StrandID: strand.ID,
	})

	// Expiry is checked at consumption, not at write: the message is
	// recorded as received but never dispatched.
	if msg.Expired(p.now()) {
		p.logger.Debug("message expired before consumption",
			"message_id", msg.ID,
			"from", msg.FromAgent,
		)
		p.bus.Publish(ctx, domain.Event{
			Type:     domain.EventMessageExpired,
			Agent:    p.agent,
			StrandID: strand.ID,
		})
		return
	}

	if err := p.schemas.Validate(msg.Type, msg.Content); err != nil {
		p.logger.Warn("message payload rejected",
			"message_id", msg.ID,
			"type", msg.Type,
			"error", err,
		)
		p.reject(ctx, msg, "malformed payload")
		return
	}

	p.mu.Lock()
	handler, ok := p.handlers[msg.Type]
	p.mu.Unlock()
	if !ok {
		p.logger.Warn("unknown message type",
			"message_id", msg.ID,
			"type", msg.Type,
		)
		p.reject(ctx, msg, "unknown message type: "+msg.Type)
		return
	}

	if err := handler(ctx, msg); err != nil {
		// Contained: a failing handler never stops the loop.
		p.logger.Warn("handler failed",
			"message_id", msg.ID,
			"type", msg.Type,
			"error", err,
		)
	}
}

// reject acknowledges an unusable message with an explicit error
// response so the sender can observe protocol-level rejection.
func (p *Protocol) reject(ctx context.Context, msg *domain.StrandMessage, reason string) {
	p.bus.Publish(ctx, domain.Event{
		Type:     domain.EventMessageRejected,
		Agent:    p.agent,
		StrandID: msg.StrandID,
	})
	if msg.ID == "" {
		return
	}
	if _, err := p.RespondToMessage(ctx, msg.ID, "error", map[string]any{
		"error": reason,
	}); err != nil {
		p.logger.Warn("error acknowledgment failed", "message_id", msg.ID, "error", err)
	}
}

// buildMessage interprets a raw strand as a typed message. The tag
// grammar fills gaps the metadata leaves open.
func (p *Protocol) buildMessage(strand *domain.Strand) *domain.StrandMessage {
	addr := domain.ParseTag(strand.Tags)

	msgType := strand.Metadata.MessageType
	if msgType == "" && addr.Kind == domain.KindAgent {
		msgType = addr.Action
	}
	if msgType == "" {
		msgType = domain.MessageInformation
	}

	from := strand.SourceAgent
	if from == "" {
		from = addr.From
	}
	priority := strand.Metadata.Priority
	if priority == "" {
		priority = domain.PriorityNormal
	}

	return &domain.StrandMessage{
		ID:         strand.Metadata.MessageID,
		Type:       msgType,
		FromAgent:  from,
		ToAgent:    p.agent,
		Content:    strand.Content,
		Priority:   priority,
		ExpiresAt:  strand.Metadata.ExpiresAt,
		ReceivedAt: p.now().UTC(),
		StrandID:   strand.ID,
	}
}

// correlateResponses is the second polling pass: scan recent response
// strands, extract the original message ID, and fire the registered
// callback at most once. Unmatched responses are not actioned.
func (p *Protocol) correlateResponses(ctx context.Context, since time.Time) error {
	responses, err := p.store.Query(ctx, domain.StrandQuery{
		TagsLike: domain.ResponseTagPattern,
		Since:    since,
		Limit:    p.cfg.MaxBatch,
	})
	if err != nil {
		return fmt.Errorf("query responses: %w", err)
	}

	for _, strand := range responses {
		if strand.SourceAgent == p.agent {
			continue
		}

		originalID := strand.ContentString(domain.ContentOriginalMessage)
		if originalID == "" {
			originalID = domain.ParseTag(strand.Tags).ResponseTo
		}
		if originalID == "" {
			continue
		}

		p.mu.Lock()
		entry, ok := p.pending[originalID]
		if ok {
			delete(p.pending, originalID)
		}
		p.mu.Unlock()
		if !ok {
			continue
		}

		resp := &domain.AgentResponse{
			OriginalMessageID: originalID,
			FromAgent:         strand.SourceAgent,
			Status:            strand.ContentString("status"),
			Content:           strand.Content,
			ReceivedAt:        p.now().UTC(),
		}
		entry.callback(ctx, resp)

		p.logger.Debug("response correlated",
			"original_message_id", originalID,
			"from", strand.SourceAgent,
		)
		p.bus.Publish(ctx, domain.Event{
			Type:     domain.EventResponseCorrelated,
			Agent:    p.agent,
			StrandID: strand.ID,
		})
	}
	return nil
}

// prunePending drops callbacks older than the response window. Fire and
// forget: no timeout error is surfaced.
func (p *Protocol) prunePending() {
	if p.cfg.ResponseWindow <= 0 {
		return
	}
	cutoff := p.now().Add(-p.cfg.ResponseWindow)

	p.mu.Lock()
	defer p.mu.Unlock()
	for id, entry := range p.pending {
		if entry.registeredAt.Before(cutoff) {
			delete(p.pending, id)
		}
	}
}

// ReceivedMessages returns a snapshot of the consumption history.
func (p *Protocol) ReceivedMessages() []*domain.StrandMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*domain.StrandMessage(nil), p.received...)
}

// SentCount returns how many messages this instance has published.
func (p *Protocol) SentCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

// PendingResponses returns how many callbacks are still armed.
func (p *Protocol) PendingResponses() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// newMessageID returns a ULID for the given time, matching the ID shape
// the store assigns to strands.
func newMessageID(t time.Time) string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
