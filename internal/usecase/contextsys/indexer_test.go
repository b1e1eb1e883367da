package contextsys

import (
	"context"
	"errors"
	"testing"

	"strandbus/internal/adapter/embedding"
	"strandbus/internal/adapter/store/memstore"
	"strandbus/internal/domain"
	"strandbus/internal/infra/logger"
)

func testStrand(content map[string]any) *domain.Strand {
	return &domain.Strand{Content: content, Tags: "marker"}
}

func TestSummaryDeterministicOrder(t *testing.T) {
	idx := NewIndexer(embedding.NewMockProvider(8), memstore.New(), 0, logger.Discard())

	a := testStrand(map[string]any{
		domain.ContentSymbol:    "BTCUSDT",
		domain.ContentTimeframe: "4h",
		domain.ContentRegime:    "trending",
		domain.ContentPatterns:  []string{"double_top", "breakout"},
	})
	b := testStrand(map[string]any{
		domain.ContentPatterns:  []string{"breakout", "double_top"},
		domain.ContentRegime:    "trending",
		domain.ContentSymbol:    "BTCUSDT",
		domain.ContentTimeframe: "4h",
	})

	if got, want := idx.Summary(a), idx.Summary(b); got != want {
		t.Errorf("semantically identical strands summarized differently:\n  %q\n  %q", got, want)
	}
	if idx.Summary(a) == "" {
		t.Error("summary is empty")
	}
}

func TestSummaryFallsBackToTags(t *testing.T) {
	idx := NewIndexer(embedding.NewMockProvider(8), memstore.New(), 0, logger.Discard())

	s := &domain.Strand{Tags: "pattern_detected,agent:scanner:finding"}
	if got := idx.Summary(s); got != "tags: pattern_detected,agent:scanner:finding" {
		t.Errorf("Summary = %q", got)
	}
}

func TestVectorizeBatchAttachesVectors(t *testing.T) {
	store := memstore.New()
	idx := NewIndexer(embedding.NewMockProvider(8), store, 0, logger.Discard())
	ctx := context.Background()

	var strands []*domain.Strand
	for _, symbol := range []string{"AAA", "BBB", "CCC"} {
		s := testStrand(map[string]any{domain.ContentSymbol: symbol})
		if _, err := store.Insert(ctx, s); err != nil {
			t.Fatalf("Insert: %v", err)
		}
		strands = append(strands, s)
	}

	if got := idx.VectorizeBatch(ctx, strands); got != 3 {
		t.Fatalf("VectorizeBatch = %d, want 3", got)
	}
	for _, s := range strands {
		stored, err := store.Get(ctx, s.ID)
		if err != nil {
			t.Fatalf("Get(%s): %v", s.ID, err)
		}
		if len(stored.ContextVector) != 8 {
			t.Errorf("strand %s vector len = %d, want 8", s.ID, len(stored.ContextVector))
		}
	}
}

func TestVectorizeBatchSkipsAlreadyIndexed(t *testing.T) {
	store := memstore.New()
	provider := embedding.NewMockProvider(4)
	idx := NewIndexer(provider, store, 0, logger.Discard())
	ctx := context.Background()

	indexed := testStrand(map[string]any{domain.ContentSymbol: "AAA"})
	indexed.ContextVector = []float32{1, 0, 0, 0}

	if got := idx.VectorizeBatch(ctx, []*domain.Strand{indexed}); got != 0 {
		t.Errorf("VectorizeBatch = %d, want 0 (nothing pending)", got)
	}
	if provider.Calls != 0 {
		t.Errorf("provider called %d times for already-indexed strand", provider.Calls)
	}
}

// failOnceProvider fails the first (batch) call, then delegates.
type failOnceProvider struct {
	inner  *embedding.MockProvider
	failed bool
}

func (p *failOnceProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if !p.failed {
		p.failed = true
		return nil, errors.New("transient backend failure")
	}
	return p.inner.Embed(ctx, texts)
}

func (p *failOnceProvider) Dimensions() int { return p.inner.Dimensions() }
func (p *failOnceProvider) Name() string    { return p.inner.Name() }

func TestVectorizeBatchFallsBackToIndividualRetry(t *testing.T) {
	store := memstore.New()
	idx := NewIndexer(&failOnceProvider{inner: embedding.NewMockProvider(4)}, store, 0, logger.Discard())
	ctx := context.Background()

	var strands []*domain.Strand
	for _, symbol := range []string{"AAA", "BBB"} {
		s := testStrand(map[string]any{domain.ContentSymbol: symbol})
		if _, err := store.Insert(ctx, s); err != nil {
			t.Fatalf("Insert: %v", err)
		}
		strands = append(strands, s)
	}

	// Batch call fails once; individual retries succeed.
	if got := idx.VectorizeBatch(ctx, strands); got != 2 {
		t.Errorf("VectorizeBatch = %d, want 2 after individual retry", got)
	}
}

func TestVectorizeBatchPersistentFailureLeavesUnindexed(t *testing.T) {
	store := memstore.New()
	provider := embedding.NewMockProvider(4)
	provider.Err = errors.New("backend down")
	idx := NewIndexer(provider, store, 0, logger.Discard())
	ctx := context.Background()

	s := testStrand(map[string]any{domain.ContentSymbol: "AAA"})
	if _, err := store.Insert(ctx, s); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if got := idx.VectorizeBatch(ctx, []*domain.Strand{s}); got != 0 {
		t.Errorf("VectorizeBatch = %d, want 0", got)
	}
	stored, err := store.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(stored.ContextVector) != 0 {
		t.Error("failed strand should remain unindexed")
	}
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 1},
		{"orthogonal", []float32{1, 0, 0}, []float32{0, 1, 0}, 0},
		{"opposite clamps to zero", []float32{1, 0, 0}, []float32{-1, 0, 0}, 0},
		{"empty", nil, []float32{1}, 0},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Similarity(tt.a, tt.b); got != tt.want {
				t.Errorf("Similarity = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestSimilarityScaleInvariant(t *testing.T) {
	a := []float32{0.3, 0.4, 0.5}
	b := []float32{0.6, 0.8, 1.0}
	if got := Similarity(a, b); got < 0.9999 {
		t.Errorf("Similarity of scaled vectors = %f, want ~1", got)
	}
}
