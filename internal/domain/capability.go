package domain

import "time"

// AgentStatus is the liveness state of a registered agent.
type AgentStatus string

const (
	AgentActive   AgentStatus = "active"
	AgentInactive AgentStatus = "inactive"
	AgentError    AgentStatus = "error"
)

// Metric keys stored in AgentCapability.PerformanceMetrics.
const (
	MetricRoutingEffectiveness = "routing_effectiveness"
	MetricStrandsRouted        = "strands_routed"
)

// AgentCapability is a mutable registry entry describing what one agent
// can do. Entries are created on registration and updated by the router's
// liveness sweep; they are demoted to inactive, never deleted.
type AgentCapability struct {
	AgentName          string             `json:"agent_name"`
	Capabilities       []string           `json:"capabilities"`
	Specializations    []string           `json:"specializations"`
	PerformanceMetrics map[string]float64 `json:"performance_metrics"`
	LastActive         time.Time          `json:"last_active"`
	Status             AgentStatus        `json:"status"`
}

// Effectiveness returns the agent's stored routing-effectiveness metric
// in [0,1], defaulting to 0.5 when the agent has no history yet.
func (c *AgentCapability) Effectiveness() float64 {
	v, ok := c.PerformanceMetrics[MetricRoutingEffectiveness]
	if !ok {
		return 0.5
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Clone returns a deep copy so registry snapshots cannot be mutated by
// callers.
func (c *AgentCapability) Clone() *AgentCapability {
	cp := *c
	cp.Capabilities = append([]string(nil), c.Capabilities...)
	cp.Specializations = append([]string(nil), c.Specializations...)
	cp.PerformanceMetrics = make(map[string]float64, len(c.PerformanceMetrics))
	for k, v := range c.PerformanceMetrics {
		cp.PerformanceMetrics[k] = v
	}
	return &cp
}
