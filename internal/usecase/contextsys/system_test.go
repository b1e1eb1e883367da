package contextsys

import (
	"context"
	"errors"
	"testing"
	"time"

	"strandbus/internal/adapter/embedding"
	"strandbus/internal/adapter/store/memstore"
	"strandbus/internal/domain"
	"strandbus/internal/infra/logger"
)

func newTestSystem(store domain.StrandStore, provider domain.EmbeddingProvider) *System {
	idx := NewIndexer(provider, store, 0, logger.Discard())
	return NewSystem(store, idx, NewClusterer(0.8), 30*24*time.Hour, 500, logger.Discard())
}

func insertIndexed(t *testing.T, store *memstore.Store, vec []float32, content map[string]any) *domain.Strand {
	t.Helper()
	s := &domain.Strand{Content: content, Tags: "pattern_detected", ContextVector: vec}
	if _, err := store.Insert(context.Background(), s); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	return s
}

func TestRelevantContextEmptyHistory(t *testing.T) {
	store := memstore.New()
	sys := newTestSystem(store, embedding.NewMockProvider(4))

	current := &domain.Strand{ID: "current", Content: map[string]any{domain.ContentSymbol: "BTCUSDT"}}
	result, err := sys.RelevantContext(context.Background(), current, 10, 0.7)
	if err != nil {
		t.Fatalf("RelevantContext: %v", err)
	}

	if result.CurrentStrandID != "current" {
		t.Errorf("CurrentStrandID = %q", result.CurrentStrandID)
	}
	if len(result.Similar) != 0 {
		t.Errorf("Similar = %d entries, want 0", len(result.Similar))
	}
	if result.Lessons == nil || len(result.Lessons) != 0 {
		t.Errorf("Lessons = %v, want empty non-nil slice", result.Lessons)
	}
	if result.GeneratedAt.IsZero() {
		t.Error("GeneratedAt is zero")
	}
}

func TestRelevantContextEmbeddingFailureDegradesGracefully(t *testing.T) {
	store := memstore.New()
	provider := embedding.NewMockProvider(4)
	provider.Err = errors.New("backend down")
	sys := newTestSystem(store, provider)

	insertIndexed(t, store, []float32{1, 0, 0, 0}, nil)

	current := &domain.Strand{ID: "current"} // no vector; must be embedded
	result, err := sys.RelevantContext(context.Background(), current, 10, 0.7)
	if err != nil {
		t.Fatalf("RelevantContext: %v", err)
	}
	if len(result.Similar) != 0 || len(result.Lessons) != 0 {
		t.Error("failure path must yield the empty-context shape")
	}
}

func TestRelevantContextFiltersAndRanks(t *testing.T) {
	store := memstore.New()
	sys := newTestSystem(store, embedding.NewMockProvider(4))

	near := insertIndexed(t, store, []float32{1, 0, 0, 0}, nil)
	nearer := insertIndexed(t, store, []float32{0.999, 0.01, 0, 0}, nil)
	far := insertIndexed(t, store, []float32{0, 1, 0, 0}, nil)
	unindexed := insertIndexed(t, store, nil, nil)

	current := &domain.Strand{ID: "current", ContextVector: []float32{0.999, 0.01, 0, 0}}
	result, err := sys.RelevantContext(context.Background(), current, 10, 0.7)
	if err != nil {
		t.Fatalf("RelevantContext: %v", err)
	}

	if len(result.Similar) != 2 {
		t.Fatalf("Similar = %d entries, want 2", len(result.Similar))
	}
	if result.Similar[0].Strand.ID != nearer.ID {
		t.Errorf("first match = %s, want %s (descending similarity)", result.Similar[0].Strand.ID, nearer.ID)
	}
	if result.Similar[1].Strand.ID != near.ID {
		t.Errorf("second match = %s, want %s", result.Similar[1].Strand.ID, near.ID)
	}
	for _, sc := range result.Similar {
		if sc.Strand.ID == far.ID || sc.Strand.ID == unindexed.ID {
			t.Errorf("strand %s should have been filtered out", sc.Strand.ID)
		}
	}
}

func TestRelevantContextTopK(t *testing.T) {
	store := memstore.New()
	sys := newTestSystem(store, embedding.NewMockProvider(4))

	for i := 0; i < 5; i++ {
		insertIndexed(t, store, []float32{1, 0, 0, 0}, nil)
	}

	current := &domain.Strand{ID: "current", ContextVector: []float32{1, 0, 0, 0}}
	result, err := sys.RelevantContext(context.Background(), current, 2, 0.7)
	if err != nil {
		t.Fatalf("RelevantContext: %v", err)
	}
	if len(result.Similar) != 2 {
		t.Errorf("Similar = %d entries, want top_k=2", len(result.Similar))
	}
}

func TestRelevantContextExcludesSelf(t *testing.T) {
	store := memstore.New()
	sys := newTestSystem(store, embedding.NewMockProvider(4))

	self := insertIndexed(t, store, []float32{1, 0, 0, 0}, nil)
	self.ContextVector = []float32{1, 0, 0, 0}

	result, err := sys.RelevantContext(context.Background(), self, 10, 0.7)
	if err != nil {
		t.Fatalf("RelevantContext: %v", err)
	}
	for _, sc := range result.Similar {
		if sc.Strand.ID == self.ID {
			t.Error("current strand matched itself")
		}
	}
}

func TestRelevantContextGeneratesLessons(t *testing.T) {
	store := memstore.New()
	sys := newTestSystem(store, embedding.NewMockProvider(4))

	content := map[string]any{
		domain.ContentSymbol:     "BTCUSDT",
		domain.ContentTimeframe:  "4h",
		domain.ContentRegime:     "trending",
		domain.ContentDirection:  "long",
		domain.ContentConfidence: 0.8,
		domain.ContentPatterns:   []string{"breakout"},
	}
	for i := 0; i < 3; i++ {
		insertIndexed(t, store, []float32{1, 0, 0, 0}, content)
	}

	current := &domain.Strand{
		ID:            "current",
		Content:       content,
		ContextVector: []float32{1, 0, 0, 0},
	}
	result, err := sys.RelevantContext(context.Background(), current, 10, 0.7)
	if err != nil {
		t.Fatalf("RelevantContext: %v", err)
	}

	if len(result.Lessons) != 1 {
		t.Fatalf("Lessons = %d, want 1", len(result.Lessons))
	}
	lesson := result.Lessons[0]
	if lesson.SupportSize != 3 {
		t.Errorf("SupportSize = %d, want 3", lesson.SupportSize)
	}
	if lesson.Summary == "" || len(lesson.Insights) == 0 || len(lesson.Recommendations) == 0 {
		t.Errorf("lesson incomplete: %+v", lesson)
	}
	// Perfect categorical match plus 0.8 confidence: (1 + 0.8) / 2.
	if diff := lesson.Relevance - 0.9; diff < -1e-9 || diff > 1e-9 {
		t.Errorf("Relevance = %f, want 0.9", lesson.Relevance)
	}
}

func TestRelevantContextSmallClustersYieldNoLessons(t *testing.T) {
	store := memstore.New()
	sys := newTestSystem(store, embedding.NewMockProvider(4))

	// Two members is below the minimum cluster size for lessons.
	insertIndexed(t, store, []float32{1, 0, 0, 0}, nil)
	insertIndexed(t, store, []float32{0.99, 0.01, 0, 0}, nil)

	current := &domain.Strand{ID: "current", ContextVector: []float32{1, 0, 0, 0}}
	result, err := sys.RelevantContext(context.Background(), current, 10, 0.7)
	if err != nil {
		t.Fatalf("RelevantContext: %v", err)
	}
	if len(result.Similar) != 2 {
		t.Fatalf("Similar = %d, want 2", len(result.Similar))
	}
	if len(result.Lessons) != 0 {
		t.Errorf("Lessons = %d, want 0 for clusters below minimum size", len(result.Lessons))
	}
}
