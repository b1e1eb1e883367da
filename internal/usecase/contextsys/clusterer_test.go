package contextsys

import (
	"testing"

	"strandbus/internal/domain"
)

func vecStrand(vec []float32, content map[string]any) *domain.Strand {
	return &domain.Strand{Content: content, ContextVector: vec}
}

func TestClustererGroupsByProximity(t *testing.T) {
	c := NewClusterer(0.8)

	// Two tight groups in orthogonal directions.
	situations := []*domain.Strand{
		vecStrand([]float32{1, 0, 0}, nil),
		vecStrand([]float32{0.99, 0.05, 0}, nil),
		vecStrand([]float32{0.98, 0.1, 0}, nil),
		vecStrand([]float32{0, 1, 0}, nil),
		vecStrand([]float32{0.05, 0.99, 0}, nil),
	}

	clusters := c.Cluster(situations)
	if len(clusters) != 2 {
		t.Fatalf("got %d clusters, want 2", len(clusters))
	}
	// Sorted largest first.
	if clusters[0].Size != 3 || clusters[1].Size != 2 {
		t.Errorf("cluster sizes = %d, %d; want 3, 2", clusters[0].Size, clusters[1].Size)
	}
}

func TestClustererSkipsUnindexed(t *testing.T) {
	c := NewClusterer(0.8)

	situations := []*domain.Strand{
		vecStrand([]float32{1, 0}, nil),
		vecStrand(nil, nil), // no vector
	}

	clusters := c.Cluster(situations)
	if len(clusters) != 1 {
		t.Fatalf("got %d clusters, want 1", len(clusters))
	}
	if clusters[0].Size != 1 {
		t.Errorf("cluster size = %d, want 1 (unindexed strand excluded)", clusters[0].Size)
	}
}

func TestClustererEmptyInput(t *testing.T) {
	c := NewClusterer(0.8)
	if clusters := c.Cluster(nil); len(clusters) != 0 {
		t.Errorf("got %d clusters for empty input", len(clusters))
	}
}

func TestClusterMetadataAggregation(t *testing.T) {
	c := NewClusterer(0.8)

	situations := []*domain.Strand{
		vecStrand([]float32{1, 0}, map[string]any{
			domain.ContentSymbol:     "BTCUSDT",
			domain.ContentRegime:     "trending",
			domain.ContentDirection:  "long",
			domain.ContentConfidence: 0.8,
			domain.ContentStrength:   0.6,
			domain.ContentPatterns:   []string{"breakout", "volume_spike"},
		}),
		vecStrand([]float32{0.99, 0.01}, map[string]any{
			domain.ContentSymbol:     "BTCUSDT",
			domain.ContentRegime:     "trending",
			domain.ContentDirection:  "short",
			domain.ContentConfidence: 0.6,
			domain.ContentStrength:   0.4,
			domain.ContentPatterns:   []string{"breakout"},
		}),
		vecStrand([]float32{0.98, 0.02}, map[string]any{
			domain.ContentSymbol:     "ETHUSDT",
			domain.ContentRegime:     "trending",
			domain.ContentDirection:  "long",
			domain.ContentConfidence: 0.7,
			domain.ContentStrength:   0.5,
			domain.ContentPatterns:   []string{"breakout", "divergence"},
		}),
	}

	clusters := c.Cluster(situations)
	if len(clusters) != 1 {
		t.Fatalf("got %d clusters, want 1", len(clusters))
	}

	meta := clusters[0].Metadata
	if meta.Symbol != "BTCUSDT" {
		t.Errorf("Symbol = %q, want BTCUSDT (majority)", meta.Symbol)
	}
	if meta.Regime != "trending" {
		t.Errorf("Regime = %q, want trending", meta.Regime)
	}
	if meta.Direction != "long" {
		t.Errorf("Direction = %q, want long (majority)", meta.Direction)
	}
	if diff := meta.AvgConfidence - 0.7; diff < -1e-9 || diff > 1e-9 {
		t.Errorf("AvgConfidence = %f, want 0.7", meta.AvgConfidence)
	}
	if diff := meta.AvgStrength - 0.5; diff < -1e-9 || diff > 1e-9 {
		t.Errorf("AvgStrength = %f, want 0.5", meta.AvgStrength)
	}
	// breakout appears in all 3; volume_spike and divergence only once each.
	if len(meta.PatternTypes) != 1 || meta.PatternTypes[0] != "breakout" {
		t.Errorf("PatternTypes = %v, want [breakout]", meta.PatternTypes)
	}
}

func TestClustererSilhouette(t *testing.T) {
	c := NewClusterer(0.8)

	situations := []*domain.Strand{
		vecStrand([]float32{1, 0, 0}, nil),
		vecStrand([]float32{0.99, 0.01, 0}, nil),
		vecStrand([]float32{0, 0, 1}, nil),
		vecStrand([]float32{0, 0.01, 0.99}, nil),
	}

	clusters := c.Cluster(situations)
	if len(clusters) != 2 {
		t.Fatalf("got %d clusters, want 2", len(clusters))
	}
	for _, cl := range clusters {
		// Tight, well-separated groups score high.
		if cl.Silhouette < 0.5 {
			t.Errorf("cluster %d silhouette = %f, want >= 0.5", cl.ID, cl.Silhouette)
		}
	}
}
