package router

import (
	"errors"
	"testing"
	"time"

	"strandbus/internal/domain"
	"strandbus/internal/infra/logger"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry(logger.Discard())

	if !r.Register("volume_team", []string{"pattern_detection"}, []string{"volume"}) {
		t.Fatal("Register failed")
	}
	entry, err := r.Get("volume_team")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if entry.Status != domain.AgentActive {
		t.Errorf("Status = %s, want active", entry.Status)
	}
	if entry.LastActive.IsZero() {
		t.Error("LastActive not set")
	}

	if _, err := r.Get("unknown"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Get(unknown) = %v, want ErrNotFound", err)
	}
}

func TestRegistryRejectsEmptyName(t *testing.T) {
	r := NewRegistry(logger.Discard())
	if r.Register("", nil, nil) {
		t.Error("Register accepted an empty name")
	}
}

func TestRegistrySnapshotsAreCopies(t *testing.T) {
	r := NewRegistry(logger.Discard())
	r.Register("volume_team", []string{"pattern_detection"}, nil)

	entry, _ := r.Get("volume_team")
	entry.Capabilities[0] = "mutated"
	entry.PerformanceMetrics["x"] = 1

	fresh, _ := r.Get("volume_team")
	if fresh.Capabilities[0] != "pattern_detection" {
		t.Error("mutating a snapshot leaked into the registry")
	}
	if _, ok := fresh.PerformanceMetrics["x"]; ok {
		t.Error("mutating snapshot metrics leaked into the registry")
	}
}

func TestRegistryActiveAgents(t *testing.T) {
	r := NewRegistry(logger.Discard())
	r.Register("b_team", nil, nil)
	r.Register("a_team", nil, nil)
	r.Register("c_team", nil, nil)
	r.MarkInactive("b_team")

	active := r.ActiveAgents()
	if len(active) != 2 {
		t.Fatalf("ActiveAgents = %d entries, want 2", len(active))
	}
	if active[0].AgentName != "a_team" || active[1].AgentName != "c_team" {
		t.Errorf("ActiveAgents order = %s, %s; want a_team, c_team", active[0].AgentName, active[1].AgentName)
	}
}

func TestRegistryMarkActivePromotes(t *testing.T) {
	r := NewRegistry(logger.Discard())
	r.Register("volume_team", nil, nil)
	r.MarkInactive("volume_team")

	at := time.Now().Add(-time.Minute)
	r.MarkActive("volume_team", at)

	entry, _ := r.Get("volume_team")
	if entry.Status != domain.AgentActive {
		t.Errorf("Status = %s, want active", entry.Status)
	}
	if !entry.LastActive.Equal(at.UTC()) {
		t.Errorf("LastActive = %v, want %v", entry.LastActive, at.UTC())
	}

	// Unknown names are ignored, not created.
	r.MarkActive("ghost", time.Now())
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
}

func TestRegistryRecordRouting(t *testing.T) {
	r := NewRegistry(logger.Discard())
	r.Register("volume_team", nil, nil)

	r.RecordRouting("volume_team", 0.6)
	r.RecordRouting("volume_team", 0.8)

	entry, _ := r.Get("volume_team")
	if got := entry.PerformanceMetrics[domain.MetricStrandsRouted]; got != 2 {
		t.Errorf("strands_routed = %f, want 2", got)
	}
	eff := entry.PerformanceMetrics[domain.MetricRoutingEffectiveness]
	if diff := eff - 0.7; diff < -1e-9 || diff > 1e-9 {
		t.Errorf("routing_effectiveness = %f, want 0.7 (running mean)", eff)
	}
}

func TestEffectivenessDefaultsAndClamps(t *testing.T) {
	c := &domain.AgentCapability{PerformanceMetrics: map[string]float64{}}
	if got := c.Effectiveness(); got != 0.5 {
		t.Errorf("default Effectiveness = %f, want 0.5", got)
	}
	c.PerformanceMetrics[domain.MetricRoutingEffectiveness] = 1.7
	if got := c.Effectiveness(); got != 1 {
		t.Errorf("Effectiveness = %f, want clamped to 1", got)
	}
}
