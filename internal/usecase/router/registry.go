// Package router implements the central intelligence router: it scans
// the shared log for actionable strands, matches them against
// registered agent capabilities using historical context, and writes
// routed strands for the winning agents.
package router

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"strandbus/internal/domain"
)

// Registry is the capability table for all known agents. It is owned by
// the router: agents never write to it directly, their liveness is
// inferred from the strands they publish.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*domain.AgentCapability
	logger *slog.Logger

	now func() time.Time
}

// NewRegistry creates an empty capability registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		agents: make(map[string]*domain.AgentCapability),
		logger: logger,
		now:    time.Now,
	}
}

// Register upserts an agent's capability entry and marks it active.
// Idempotent: registering an existing name updates capabilities and
// status without duplicating the entry.
func (r *Registry) Register(name string, capabilities, specializations []string) bool {
	if name == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.agents[name]
	if !exists {
		entry = &domain.AgentCapability{
			AgentName:          name,
			PerformanceMetrics: make(map[string]float64),
		}
		r.agents[name] = entry
	}
	entry.Capabilities = append([]string(nil), capabilities...)
	entry.Specializations = append([]string(nil), specializations...)
	entry.Status = domain.AgentActive
	entry.LastActive = r.now().UTC()

	r.logger.Info("agent capabilities registered",
		"agent", name,
		"capabilities", len(capabilities),
		"specializations", len(specializations),
		"updated", exists,
	)
	return true
}

// Get returns a copy of the named agent's entry, or ErrNotFound.
func (r *Registry) Get(name string) (*domain.AgentCapability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.agents[name]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return entry.Clone(), nil
}

// ActiveAgents returns copies of all active entries, sorted by name.
func (r *Registry) ActiveAgents() []*domain.AgentCapability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var active []*domain.AgentCapability
	for _, entry := range r.agents {
		if entry.Status == domain.AgentActive {
			active = append(active, entry.Clone())
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].AgentName < active[j].AgentName
	})
	return active
}

// All returns copies of every entry, sorted by name.
func (r *Registry) All() []*domain.AgentCapability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*domain.AgentCapability, 0, len(r.agents))
	for _, entry := range r.agents {
		all = append(all, entry.Clone())
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].AgentName < all[j].AgentName
	})
	return all
}

// MarkActive updates an agent's liveness timestamp and promotes it to
// active. Unknown names are ignored.
func (r *Registry) MarkActive(name string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.agents[name]
	if !ok {
		return
	}
	entry.LastActive = at.UTC()
	if entry.Status != domain.AgentActive {
		entry.Status = domain.AgentActive
		r.logger.Info("agent promoted to active", "agent", name)
	}
}

// MarkInactive demotes an agent. Entries are never removed.
func (r *Registry) MarkInactive(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.agents[name]
	if !ok || entry.Status == domain.AgentInactive {
		return
	}
	entry.Status = domain.AgentInactive
	r.logger.Info("agent demoted to inactive",
		"agent", name,
		"last_active", entry.LastActive,
	)
}

// RecordRouting bumps an agent's routed-strand counter and folds the
// decision confidence into its rolling routing-effectiveness metric.
func (r *Registry) RecordRouting(name string, confidence float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.agents[name]
	if !ok {
		return
	}

	count := entry.PerformanceMetrics[domain.MetricStrandsRouted] + 1
	entry.PerformanceMetrics[domain.MetricStrandsRouted] = count

	// Running mean of decision confidence.
	prev := entry.PerformanceMetrics[domain.MetricRoutingEffectiveness]
	if count == 1 {
		entry.PerformanceMetrics[domain.MetricRoutingEffectiveness] = confidence
	} else {
		entry.PerformanceMetrics[domain.MetricRoutingEffectiveness] = prev + (confidence-prev)/count
	}
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}
