package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strandbus/internal/domain"
	"strandbus/internal/infra/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "strands.db"), logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestInsertAssignsIDAndTimestamp(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.Insert(ctx, &domain.Strand{
		Content: map[string]any{"type": "pattern_detected", "symbol": "BTCUSDT"},
		Tags:    "agent:scanner:finding",
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "pattern_detected", got.Content["type"])
	assert.Equal(t, "agent:scanner:finding", got.Tags)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestInsertPreservesCallerID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.Insert(ctx, &domain.Strand{
		ID:      "custom-id-1",
		Content: map[string]any{"k": "v"},
	})
	require.NoError(t, err)
	assert.Equal(t, "custom-id-1", id)
}

func TestGetNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestInsertRoundTripsMetadataAndVector(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	expires := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	id, err := store.Insert(ctx, &domain.Strand{
		Content: map[string]any{"type": "alert"},
		Metadata: domain.MessageMetadata{
			MessageID:   "msg-1",
			MessageType: domain.MessageActionRequired,
			Priority:    domain.PriorityHigh,
			ExpiresAt:   &expires,
			Confidence:  0.82,
		},
		ContextVector: []float32{0.1, -0.5, 1.25},
	})
	require.NoError(t, err)

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "msg-1", got.Metadata.MessageID)
	assert.Equal(t, domain.MessageActionRequired, got.Metadata.MessageType)
	assert.Equal(t, domain.PriorityHigh, got.Metadata.Priority)
	require.NotNil(t, got.Metadata.ExpiresAt)
	assert.True(t, expires.Equal(*got.Metadata.ExpiresAt))
	assert.InDelta(t, 0.82, got.Metadata.Confidence, 1e-9)
	assert.Equal(t, []float32{0.1, -0.5, 1.25}, got.ContextVector)
}

func TestQueryFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	insert := func(tags, source, target string, at time.Time) string {
		t.Helper()
		id, err := store.Insert(ctx, &domain.Strand{
			Content:     map[string]any{"k": "v"},
			Tags:        tags,
			SourceAgent: source,
			TargetAgent: target,
			CreatedAt:   at,
		})
		require.NoError(t, err)
		return id
	}

	old := insert("agent:scanner:finding", "scanner", "", base)
	insert("agent:risk_team:alert", "risk_team", "", base.Add(10*time.Minute))
	routed := insert("routed_from:"+old, domain.RouterAgent, "risk_team", base.Add(20*time.Minute))

	t.Run("since excludes older", func(t *testing.T) {
		got, err := store.Query(ctx, domain.StrandQuery{Since: base.Add(5 * time.Minute)})
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("tags like", func(t *testing.T) {
		got, err := store.Query(ctx, domain.StrandQuery{TagsLike: "agent:%"})
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("target agent", func(t *testing.T) {
		got, err := store.Query(ctx, domain.StrandQuery{TargetAgent: "risk_team"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, routed, got[0].ID)
	})

	t.Run("source agent", func(t *testing.T) {
		got, err := store.Query(ctx, domain.StrandQuery{SourceAgent: "scanner"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, old, got[0].ID)
	})

	t.Run("descending order with limit", func(t *testing.T) {
		got, err := store.Query(ctx, domain.StrandQuery{Limit: 2})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, routed, got[0].ID)
		assert.True(t, got[0].CreatedAt.After(got[1].CreatedAt))
	})
}

func TestQuerySubSecondOrdering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Same second, different fractional widths. A trailing-zero-trimming
	// encoding would sort "…00.45Z" after "…00.453Z" as strings.
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	earlier := base.Add(450 * time.Millisecond)
	later := base.Add(453 * time.Millisecond)

	earlierID, err := store.Insert(ctx, &domain.Strand{
		Content:   map[string]any{"k": "v"},
		CreatedAt: earlier,
	})
	require.NoError(t, err)

	laterID, err := store.Insert(ctx, &domain.Strand{
		Content:   map[string]any{"k": "v"},
		CreatedAt: later,
	})
	require.NoError(t, err)

	t.Run("descending order", func(t *testing.T) {
		got, err := store.Query(ctx, domain.StrandQuery{})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, laterID, got[0].ID)
		assert.Equal(t, earlierID, got[1].ID)
	})

	t.Run("since excludes earlier fraction", func(t *testing.T) {
		got, err := store.Query(ctx, domain.StrandQuery{Since: later})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, laterID, got[0].ID)
	})

	t.Run("until excludes later fraction", func(t *testing.T) {
		got, err := store.Query(ctx, domain.StrandQuery{Until: earlier})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, earlierID, got[0].ID)
	})
}

func TestAttachVectorFillsOnlyOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.Insert(ctx, &domain.Strand{Content: map[string]any{"k": "v"}})
	require.NoError(t, err)

	require.NoError(t, store.AttachVector(ctx, id, []float32{1, 2, 3}))

	// Second attach is a no-op, not an overwrite.
	require.NoError(t, store.AttachVector(ctx, id, []float32{9, 9, 9}))

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, got.ContextVector)
}

func TestAttachVectorErrors(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.AttachVector(ctx, "missing", []float32{1})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	id, insErr := store.Insert(ctx, &domain.Strand{Content: map[string]any{"k": "v"}})
	require.NoError(t, insErr)
	assert.ErrorIs(t, store.AttachVector(ctx, id, nil), domain.ErrInvalidInput)
}

func TestPruneRoutedLeavesOriginals(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	old := time.Now().UTC().Add(-48 * time.Hour)

	_, err := store.Insert(ctx, &domain.Strand{
		Content:     map[string]any{"k": "v"},
		SourceAgent: "scanner",
		CreatedAt:   old,
	})
	require.NoError(t, err)

	_, err = store.Insert(ctx, &domain.Strand{
		Content:     map[string]any{"k": "v"},
		SourceAgent: domain.RouterAgent,
		CreatedAt:   old,
	})
	require.NoError(t, err)

	_, err = store.Insert(ctx, &domain.Strand{
		Content:     map[string]any{"k": "v"},
		SourceAgent: domain.RouterAgent,
	})
	require.NoError(t, err)

	pruned, err := store.PruneRouted(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	remaining, err := store.Query(ctx, domain.StrandQuery{})
	require.NoError(t, err)
	assert.Len(t, remaining, 2)
}

func TestNewIDSortsByTime(t *testing.T) {
	a := newID(time.Now().Add(-time.Minute))
	b := newID(time.Now())
	assert.Less(t, a, b)
}

func TestReopenPersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "strands.db")

	store, err := New(path, logger.Discard())
	require.NoError(t, err)
	id, err := store.Insert(context.Background(), &domain.Strand{Content: map[string]any{"k": "v"}})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := New(path, logger.Discard())
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
}
