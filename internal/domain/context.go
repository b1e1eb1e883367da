package domain

import (
	"context"
	"time"
)

// ScoredStrand pairs a historical strand with its similarity to the
// current one.
type ScoredStrand struct {
	Strand     *Strand `json:"strand"`
	Similarity float64 `json:"similarity"`
}

// ClusterMetadata aggregates categorical majority values and numeric
// means across a cluster's members.
type ClusterMetadata struct {
	Symbol        string   `json:"symbol,omitempty"`
	Timeframe     string   `json:"timeframe,omitempty"`
	Regime        string   `json:"regime,omitempty"`
	Direction     string   `json:"direction,omitempty"`
	AvgConfidence float64  `json:"avg_confidence"`
	AvgStrength   float64  `json:"avg_strength"`
	PatternTypes  []string `json:"pattern_types,omitempty"`
}

// Cluster groups similar historical strands.
type Cluster struct {
	ID         int             `json:"cluster_id"`
	Size       int             `json:"size"`
	Situations []*Strand       `json:"situations"`
	Metadata   ClusterMetadata `json:"cluster_metadata"`
	Silhouette float64         `json:"silhouette_score"`
}

// MinClusterSize is the smallest cluster used for lesson generation.
const MinClusterSize = 3

// Lesson is a synthesized, rule-based summary derived from a cluster of
// historically similar strands.
type Lesson struct {
	ClusterID       int      `json:"cluster_id"`
	Summary         string   `json:"summary"`
	Insights        []string `json:"insights"`
	Recommendations []string `json:"recommendations"`
	Confidence      float64  `json:"confidence"`
	Relevance       float64  `json:"relevance"`
	SupportSize     int      `json:"support_size"`
}

// ContextResult is the always-well-formed answer to "what similar things
// happened before". Absence of history is a valid, common state: an
// empty result has zero Similar entries and zero Lessons, never an error.
type ContextResult struct {
	CurrentStrandID string         `json:"current_strand_id"`
	Similar         []ScoredStrand `json:"similar_situations"`
	Clusters        []Cluster      `json:"clusters,omitempty"`
	Lessons         []Lesson       `json:"generated_lessons"`
	GeneratedAt     time.Time      `json:"generated_at"`
}

// AvgSimilarity returns the mean similarity of the retrieved history,
// or 0 when none was found.
func (r *ContextResult) AvgSimilarity() float64 {
	if len(r.Similar) == 0 {
		return 0
	}
	var sum float64
	for _, s := range r.Similar {
		sum += s.Similarity
	}
	return sum / float64(len(r.Similar))
}

// Clusterer groups situations into clusters by vector proximity.
// Situations without a context vector are excluded.
type Clusterer interface {
	Cluster(situations []*Strand) []Cluster
}

// ContextProvider answers similarity queries over the shared log.
// Implementations must degrade gracefully: any internal failure yields
// the empty-context shape, never a panic or a half-built result.
type ContextProvider interface {
	RelevantContext(ctx context.Context, current *Strand, topK int, threshold float64) (*ContextResult, error)
}
