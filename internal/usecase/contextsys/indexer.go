// Package contextsys answers "what similar things happened before, and
// what can be learned" over the shared strand log. The indexer turns
// strands into context vectors, the clusterer groups retrieved history,
// and the system orchestrates both into lesson-bearing context results.
package contextsys

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"strandbus/internal/domain"
)

// Indexer builds canonical text summaries from strands and obtains
// their embedding vectors.
type Indexer struct {
	provider domain.EmbeddingProvider
	store    domain.StrandStore
	logger   *slog.Logger

	// maxSummaryTokens truncates oversized summaries before embedding.
	// 0 disables the guard.
	maxSummaryTokens int
	encoding         *tiktoken.Tiktoken
}

// NewIndexer creates an indexer. maxSummaryTokens bounds the canonical
// summary length in tokens; pass 0 to disable truncation.
func NewIndexer(provider domain.EmbeddingProvider, store domain.StrandStore, maxSummaryTokens int, logger *slog.Logger) *Indexer {
	idx := &Indexer{
		provider:         provider,
		store:            store,
		logger:           logger,
		maxSummaryTokens: maxSummaryTokens,
	}
	if maxSummaryTokens > 0 {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			logger.Warn("token encoding unavailable, summary guard disabled", "error", err)
		} else {
			idx.encoding = enc
		}
	}
	return idx
}

// Summary builds the deterministic text summary for a strand. Fields
// appear in a fixed order so that semantically identical strands
// produce near-identical strings.
func (idx *Indexer) Summary(s *domain.Strand) string {
	var parts []string
	appendField := func(label, value string) {
		if value != "" {
			parts = append(parts, label+": "+value)
		}
	}

	appendField("symbol", s.ContentString(domain.ContentSymbol))
	appendField("timeframe", s.ContentString(domain.ContentTimeframe))
	appendField("regime", s.ContentString(domain.ContentRegime))
	appendField("direction", s.ContentString(domain.ContentDirection))

	if conf := s.ContentFloat(domain.ContentConfidence); conf > 0 {
		parts = append(parts, fmt.Sprintf("confidence: %.2f", conf))
	}
	if patterns := s.ContentStrings(domain.ContentPatterns); len(patterns) > 0 {
		sorted := append([]string(nil), patterns...)
		sort.Strings(sorted)
		parts = append(parts, "patterns: "+strings.Join(sorted, ", "))
	}
	if features, ok := s.Content[domain.ContentFeatures].(map[string]any); ok {
		parts = append(parts, "features: "+flattenMap(features))
	}
	if conditions, ok := s.Content[domain.ContentMarketConditions].(map[string]any); ok {
		parts = append(parts, "market conditions: "+flattenMap(conditions))
	}

	if len(parts) == 0 {
		// Unstructured strand: fall back to the raw tags so every strand
		// still has a non-empty, deterministic summary.
		return "tags: " + s.Tags
	}
	return idx.truncate(strings.Join(parts, "; "))
}

// flattenMap renders a nested content map as "k=v" pairs in key order.
func flattenMap(m map[string]any) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			pairs = append(pairs, k+"="+v)
		case float64:
			pairs = append(pairs, fmt.Sprintf("%s=%.3f", k, v))
		case bool:
			pairs = append(pairs, fmt.Sprintf("%s=%t", k, v))
		}
	}
	return strings.Join(pairs, " ")
}

// truncate enforces the token budget on a summary.
func (idx *Indexer) truncate(summary string) string {
	if idx.encoding == nil || idx.maxSummaryTokens <= 0 {
		return summary
	}
	tokens := idx.encoding.Encode(summary, nil, nil)
	if len(tokens) <= idx.maxSummaryTokens {
		return summary
	}
	return idx.encoding.Decode(tokens[:idx.maxSummaryTokens])
}

// Vectorize embeds a single strand's summary.
func (idx *Indexer) Vectorize(ctx context.Context, s *domain.Strand) ([]float32, error) {
	vecs, err := idx.provider.Embed(ctx, []string{idx.Summary(s)})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEmbeddingFailed, err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%w: expected 1 vector, got %d", domain.ErrEmbeddingFailed, len(vecs))
	}
	return vecs[0], nil
}

// VectorizeBatch embeds summaries for all strands missing a vector and
// attaches the vectors in the store. One record's embedding failure must
// not abort the batch: when the batch call fails, each strand is retried
// individually and failures are logged and skipped, leaving those
// strands unindexed (and excluded from similarity search) until a later
// pass.
func (idx *Indexer) VectorizeBatch(ctx context.Context, strands []*domain.Strand) int {
	var pending []*domain.Strand
	var summaries []string
	for _, s := range strands {
		if len(s.ContextVector) > 0 {
			continue
		}
		pending = append(pending, s)
		summaries = append(summaries, idx.Summary(s))
	}
	if len(pending) == 0 {
		return 0
	}

	vecs, err := idx.provider.Embed(ctx, summaries)
	if err != nil || len(vecs) != len(pending) {
		if err != nil {
			idx.logger.Warn("batch embed failed, retrying individually",
				"batch_size", len(pending),
				"error", err,
			)
		}
		return idx.vectorizeOneByOne(ctx, pending)
	}

	indexed := 0
	for i, s := range pending {
		if idx.attach(ctx, s, vecs[i]) {
			indexed++
		}
	}
	return indexed
}

func (idx *Indexer) vectorizeOneByOne(ctx context.Context, pending []*domain.Strand) int {
	indexed := 0
	for _, s := range pending {
		vec, err := idx.Vectorize(ctx, s)
		if err != nil {
			idx.logger.Warn("strand left unindexed",
				"strand_id", s.ID,
				"error", err,
			)
			continue
		}
		if idx.attach(ctx, s, vec) {
			indexed++
		}
	}
	return indexed
}

func (idx *Indexer) attach(ctx context.Context, s *domain.Strand, vec []float32) bool {
	if err := idx.store.AttachVector(ctx, s.ID, vec); err != nil {
		idx.logger.Warn("attach vector failed", "strand_id", s.ID, "error", err)
		return false
	}
	s.ContextVector = vec
	return true
}

// Similarity computes cosine similarity between two vectors, clamped to
// [0, 1]. Mismatched or empty vectors score 0.
func Similarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp floating-point overshoot and negative correlation.
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}
