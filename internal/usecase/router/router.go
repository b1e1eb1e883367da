package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"strandbus/internal/domain"
	"strandbus/internal/infra/config"
	"strandbus/internal/infra/tracer"
)

// Vectorizer attaches context vectors to freshly scanned strands.
type Vectorizer interface {
	VectorizeBatch(ctx context.Context, strands []*domain.Strand) int
}

// Stats is a point-in-time snapshot of router activity.
type Stats struct {
	Cycles          int64     `json:"cycles"`
	CycleErrors     int64     `json:"cycle_errors"`
	StrandsScanned  int64     `json:"strands_scanned"`
	StrandsIndexed  int64     `json:"strands_indexed"`
	StrandsRouted   int64     `json:"strands_routed"`
	RoutingSkipped  int64     `json:"routing_skipped"`
	RegisteredCount int       `json:"registered_agents"`
	LastCycleAt     time.Time `json:"last_cycle_at"`
}

// Router is the central intelligence router. One instance per bus: it
// owns the capability registry and is the only writer of routed strands.
type Router struct {
	store      domain.StrandStore
	contextSys domain.ContextProvider
	vectorizer Vectorizer
	registry   *Registry
	bus        domain.EventBus
	cfg        config.RouterConfig
	logger     *slog.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	lastPoll time.Time
	stats    Stats

	now func() time.Time
}

// New creates a router. The registry is created internally; use
// RegisterAgentCapabilities to populate it.
func New(store domain.StrandStore, contextSys domain.ContextProvider, vectorizer Vectorizer, bus domain.EventBus, cfg config.RouterConfig, logger *slog.Logger) *Router {
	return &Router{
		store:      store,
		contextSys: contextSys,
		vectorizer: vectorizer,
		registry:   NewRegistry(logger),
		bus:        bus,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// Registry exposes the capability table for inspection.
func (r *Router) Registry() *Registry { return r.registry }

// RegisterAgentCapabilities upserts an agent into the registry and
// marks it active. Idempotent.
func (r *Router) RegisterAgentCapabilities(name string, capabilities, specializations []string) bool {
	ok := r.registry.Register(name, capabilities, specializations)
	if ok {
		r.bus.Publish(context.Background(), domain.Event{
			Type:  domain.EventAgentRegistered,
			Agent: name,
		})
	}
	return ok
}

// Start launches the monitoring loop. Idempotent: calling Start on a
// running router is a no-op.
func (r *Router) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.lastPoll = r.now().Add(-r.cfg.ScanWindow)

	go r.loop(loopCtx, r.done)
	r.logger.Info("router started", "poll_interval", r.cfg.PollInterval)
}

// Stop cancels the monitoring loop and waits for it to exit. Idempotent.
func (r *Router) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	r.logger.Info("router stopped")
}

// loop runs routing cycles at the configured interval. A failed cycle
// widens the sleep to the next tick by doubling the interval, resetting
// on the first success.
func (r *Router) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	interval := r.cfg.PollInterval
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if err := r.Cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			interval *= 2
			r.logger.Error("routing cycle failed",
				"error", err,
				"next_interval", interval,
			)
		} else {
			interval = r.cfg.PollInterval
		}
		timer.Reset(interval)
	}
}

// Cycle runs one monitoring pass: scan new strands, index them, route
// the eligible ones, then sweep agent liveness. Exported so the daemon
// and tests can drive the router without the timer.
func (r *Router) Cycle(ctx context.Context) error {
	ctx, span := tracer.StartSpan(ctx, "router.cycle")
	defer span.End()

	now := r.now()
	since := now.Add(-r.cfg.ScanWindow)
	r.mu.Lock()
	if r.lastPoll.After(since) {
		since = r.lastPoll
	}
	r.mu.Unlock()

	strands, err := r.store.Query(ctx, domain.StrandQuery{
		Since: since,
		Limit: r.cfg.MaxBatch,
	})
	if err != nil {
		r.bumpStats(func(s *Stats) { s.CycleErrors++ })
		tracer.RecordError(span, err)
		return fmt.Errorf("scan strands: %w", err)
	}

	indexed := r.vectorizer.VectorizeBatch(ctx, strands)

	routed := 0
	for _, strand := range strands {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !r.needsRouting(strand) {
			continue
		}
		n, err := r.routeStrand(ctx, strand)
		if err != nil {
			// Contained: one bad strand never stops the cycle.
			r.logger.Warn("routing failed for strand",
				"strand_id", strand.ID,
				"error", err,
			)
			continue
		}
		routed += n
	}

	r.sweepLiveness(ctx, now)

	r.mu.Lock()
	r.lastPoll = now
	r.stats.Cycles++
	r.stats.StrandsScanned += int64(len(strands))
	r.stats.StrandsIndexed += int64(indexed)
	r.stats.StrandsRouted += int64(routed)
	r.stats.LastCycleAt = now.UTC()
	r.mu.Unlock()

	span.SetAttributes(
		tracer.IntAttr("cycle.scanned", len(strands)),
		tracer.IntAttr("cycle.routed", routed),
	)
	r.bus.Publish(ctx, domain.Event{Type: domain.EventCycleCompleted})
	return nil
}

// needsRouting is the eligibility gate: never re-route routed or
// router-originated strands, and only consider strands carrying an
// actionable marker.
func (r *Router) needsRouting(s *domain.Strand) bool {
	if s.SourceAgent == domain.RouterAgent {
		return false
	}
	if domain.IsRouted(s.Tags) {
		return false
	}
	for _, marker := range domain.ActionableMarkers {
		if domain.HasMarker(s.Tags, marker) {
			return true
		}
	}
	return false
}

// routeStrand scores all active agents against one strand and writes a
// routed strand per winning decision. Returns the number of routed
// strands written.
func (r *Router) routeStrand(ctx context.Context, strand *domain.Strand) (int, error) {
	ctx, span := tracer.StartSpan(ctx, "router.route_strand")
	defer span.End()
	span.SetAttributes(tracer.StringAttr("strand.id", strand.ID))

	contextResult, err := r.contextSys.RelevantContext(ctx, strand, r.cfg.TopK, r.cfg.SimilarityThreshold)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrRoutingFailed, err)
	}
	avgSimilarity := contextResult.AvgSimilarity()
	patternText := similarPatternText(contextResult)
	strandType := ClassifyStrand(strand)

	candidates := r.scoreAgents(strandType, patternText)
	if len(candidates) == 0 {
		r.bumpStats(func(s *Stats) { s.RoutingSkipped++ })
		r.bus.Publish(ctx, domain.Event{
			Type:     domain.EventRoutingSkipped,
			StrandID: strand.ID,
		})
		return 0, nil
	}

	routed := 0
	for _, cand := range candidates {
		confidence := (avgSimilarity + cand.relevance) / 2
		if confidence < r.cfg.MinConfidence {
			r.bumpStats(func(s *Stats) { s.RoutingSkipped++ })
			continue
		}

		decision := domain.RoutingDecision{
			TargetAgent:     cand.name,
			SourceStrandID:  strand.ID,
			Reason:          string(strandType) + "_match",
			SimilarityScore: avgSimilarity,
			Confidence:      confidence,
			Timestamp:       r.now().UTC(),
		}
		if err := r.executeDecision(ctx, strand, decision, contextResult); err != nil {
			// Dropped, not retried: the next cycle re-evaluates the
			// source strand while it stays inside the scan window.
			r.logger.Warn("routing decision dropped",
				"strand_id", strand.ID,
				"target", cand.name,
				"error", err,
			)
			continue
		}
		routed++
	}
	return routed, nil
}

type scoredAgent struct {
	name      string
	relevance float64
}

// scoreAgents computes relevance for every active agent:
// capability-keyword matches for the strand type, specialization
// keywords found in the similar-pattern text, and the agent's stored
// routing effectiveness, weighted and clamped to [0,1]. Agents at or
// below the minimum relevance are dropped; survivors are sorted
// descending and capped.
func (r *Router) scoreAgents(strandType domain.StrandType, patternText string) []scoredAgent {
	var candidates []scoredAgent
	for _, agent := range r.registry.ActiveAgents() {
		relevance := 0.0
		for _, capability := range agent.Capabilities {
			if capabilityMatches(capability, strandType) {
				relevance += r.cfg.CapabilityWeight
			}
		}
		for _, spec := range agent.Specializations {
			if spec != "" && strings.Contains(patternText, strings.ToLower(spec)) {
				relevance += r.cfg.SpecializationWeight
			}
		}
		relevance += r.cfg.EffectivenessWeight * agent.Effectiveness()
		if relevance > 1 {
			relevance = 1
		}

		if relevance > r.cfg.MinRelevance {
			candidates = append(candidates, scoredAgent{name: agent.AgentName, relevance: relevance})
		}
	}

	// Insertion sort keeps equal scores in name order from ActiveAgents.
	for i := 1; i < len(candidates); i++ {
		for j := i; j > 0 && candidates[j].relevance > candidates[j-1].relevance; j-- {
			candidates[j], candidates[j-1] = candidates[j-1], candidates[j]
		}
	}
	if r.cfg.MaxTargets > 0 && len(candidates) > r.cfg.MaxTargets {
		candidates = candidates[:r.cfg.MaxTargets]
	}
	return candidates
}

// similarPatternText flattens retrieved history into a lowercase
// haystack for specialization matching.
func similarPatternText(result *domain.ContextResult) string {
	var b strings.Builder
	for _, sc := range result.Similar {
		b.WriteString(sc.Strand.Tags)
		b.WriteByte(' ')
		b.WriteString(sc.Strand.ContentString(domain.ContentType))
		b.WriteByte(' ')
		for _, p := range sc.Strand.ContentStrings(domain.ContentPatterns) {
			b.WriteString(p)
			b.WriteByte(' ')
		}
	}
	return strings.ToLower(b.String())
}

// executeDecision writes the routed strand. A successful write is the
// only success criterion.
func (r *Router) executeDecision(ctx context.Context, source *domain.Strand, decision domain.RoutingDecision, contextResult *domain.ContextResult) error {
	supporting := make([]map[string]any, 0, 3)
	for _, sc := range contextResult.Similar {
		if len(supporting) == 3 {
			break
		}
		supporting = append(supporting, map[string]any{
			"strand_id":  sc.Strand.ID,
			"similarity": sc.Similarity,
		})
	}

	routed := &domain.Strand{
		Content: map[string]any{
			"original_content":   source.Content,
			"source_strand_id":   decision.SourceStrandID,
			"routing_reason":     decision.Reason,
			"similarity_score":   decision.SimilarityScore,
			"supporting_matches": supporting,
		},
		Tags:        domain.RoutedTag(decision.TargetAgent, decision.SourceStrandID, decision.Reason),
		SourceAgent: domain.RouterAgent,
		TargetAgent: decision.TargetAgent,
		Metadata: domain.MessageMetadata{
			MessageType: domain.MessageActionRequired,
			Confidence:  decision.Confidence,
			SentAt:      decision.Timestamp,
		},
	}

	id, err := r.store.Insert(ctx, routed)
	if err != nil {
		return fmt.Errorf("%w: write routed strand: %v", domain.ErrRoutingFailed, err)
	}

	r.registry.RecordRouting(decision.TargetAgent, decision.Confidence)
	r.logger.Info("strand routed",
		"source_strand", decision.SourceStrandID,
		"routed_strand", id,
		"target", decision.TargetAgent,
		"confidence", decision.Confidence,
		"reason", decision.Reason,
	)

	payload, _ := json.Marshal(decision)
	r.bus.Publish(ctx, domain.Event{
		Type:     domain.EventStrandRouted,
		Agent:    decision.TargetAgent,
		StrandID: id,
		Payload:  payload,
	})
	return nil
}

// sweepLiveness infers liveness from published strands: any strand from
// an agent inside the liveness window marks it active; agents silent
// beyond the inactivity horizon are demoted and excluded from scoring,
// but never removed.
func (r *Router) sweepLiveness(ctx context.Context, now time.Time) {
	for _, agent := range r.registry.All() {
		recent, err := r.store.Query(ctx, domain.StrandQuery{
			Since:       now.Add(-r.cfg.LivenessWindow),
			SourceAgent: agent.AgentName,
			Limit:       1,
		})
		if err != nil {
			r.logger.Warn("liveness query failed", "agent", agent.AgentName, "error", err)
			continue
		}

		if len(recent) > 0 {
			wasInactive := agent.Status != domain.AgentActive
			r.registry.MarkActive(agent.AgentName, recent[0].CreatedAt)
			if wasInactive {
				r.bus.Publish(ctx, domain.Event{
					Type:  domain.EventAgentActive,
					Agent: agent.AgentName,
				})
			}
			continue
		}

		if agent.Status == domain.AgentActive && now.Sub(agent.LastActive) > r.cfg.InactiveAfter {
			r.registry.MarkInactive(agent.AgentName)
			r.bus.Publish(ctx, domain.Event{
				Type:  domain.EventAgentInactive,
				Agent: agent.AgentName,
			})
		}
	}
}

// Stats returns a snapshot of router counters.
func (r *Router) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats
	s.RegisteredCount = r.registry.Len()
	return s
}

func (r *Router) bumpStats(fn func(*Stats)) {
	r.mu.Lock()
	fn(&r.stats)
	r.mu.Unlock()
}
