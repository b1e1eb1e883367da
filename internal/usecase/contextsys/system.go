package contextsys

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"strandbus/internal/domain"
	"strandbus/internal/infra/tracer"
)

// maxLessons bounds how many lessons a context result carries.
const maxLessons = 3

// System answers similarity queries over the shared log by combining
// the indexer and the clusterer. Any internal failure degrades to the
// well-formed empty-context shape: callers never receive a half-built
// result or an error for "no history".
type System struct {
	store     domain.StrandStore
	indexer   *Indexer
	clusterer domain.Clusterer
	logger    *slog.Logger

	// window bounds how far back the store is scanned for candidates.
	window time.Duration
	// maxCandidates caps the scanned page.
	maxCandidates int

	now func() time.Time
}

// NewSystem creates a context system. window and maxCandidates bound
// the candidate scan; zero values get sensible defaults.
func NewSystem(store domain.StrandStore, indexer *Indexer, clusterer domain.Clusterer, window time.Duration, maxCandidates int, logger *slog.Logger) *System {
	if window <= 0 {
		window = 30 * 24 * time.Hour
	}
	if maxCandidates <= 0 {
		maxCandidates = 500
	}
	return &System{
		store:         store,
		indexer:       indexer,
		clusterer:     clusterer,
		logger:        logger,
		window:        window,
		maxCandidates: maxCandidates,
		now:           time.Now,
	}
}

// RelevantContext implements domain.ContextProvider.
func (s *System) RelevantContext(ctx context.Context, current *domain.Strand, topK int, threshold float64) (*domain.ContextResult, error) {
	ctx, span := tracer.StartSpan(ctx, "contextsys.relevant_context")
	defer span.End()
	span.SetAttributes(tracer.StringAttr("strand.id", current.ID))

	result := &domain.ContextResult{
		CurrentStrandID: current.ID,
		Similar:         []domain.ScoredStrand{},
		Lessons:         []domain.Lesson{},
		GeneratedAt:     s.now().UTC(),
	}

	queryVec := current.ContextVector
	if len(queryVec) == 0 {
		vec, err := s.indexer.Vectorize(ctx, current)
		if err != nil {
			s.logger.Warn("context vectorize failed, returning empty context",
				"strand_id", current.ID,
				"error", err,
			)
			return result, nil
		}
		queryVec = vec
	}

	candidates, err := s.store.Query(ctx, domain.StrandQuery{
		Since: s.now().Add(-s.window),
		Limit: s.maxCandidates,
	})
	if err != nil {
		s.logger.Warn("context candidate query failed, returning empty context",
			"strand_id", current.ID,
			"error", err,
		)
		return result, nil
	}

	for _, candidate := range candidates {
		if candidate.ID == current.ID || len(candidate.ContextVector) == 0 {
			continue
		}
		sim := Similarity(queryVec, candidate.ContextVector)
		if sim >= threshold {
			result.Similar = append(result.Similar, domain.ScoredStrand{
				Strand:     candidate,
				Similarity: sim,
			})
		}
	}

	sort.SliceStable(result.Similar, func(i, j int) bool {
		return result.Similar[i].Similarity > result.Similar[j].Similarity
	})
	if topK > 0 && len(result.Similar) > topK {
		result.Similar = result.Similar[:topK]
	}

	span.SetAttributes(tracer.IntAttr("context.similar", len(result.Similar)))
	if len(result.Similar) == 0 {
		return result, nil
	}

	similar := make([]*domain.Strand, len(result.Similar))
	for i, sc := range result.Similar {
		similar[i] = sc.Strand
	}
	result.Clusters = s.clusterer.Cluster(similar)

	for _, cluster := range result.Clusters {
		if cluster.Size < domain.MinClusterSize {
			continue
		}
		lesson := synthesizeLesson(cluster)
		lesson.Relevance = lessonRelevance(lesson, cluster, current)
		result.Lessons = append(result.Lessons, lesson)
	}

	sort.SliceStable(result.Lessons, func(i, j int) bool {
		return result.Lessons[i].Relevance > result.Lessons[j].Relevance
	})
	if len(result.Lessons) > maxLessons {
		result.Lessons = result.Lessons[:maxLessons]
	}

	span.SetAttributes(tracer.IntAttr("context.lessons", len(result.Lessons)))
	return result, nil
}

// synthesizeLesson builds a rule-based lesson from a cluster: a short
// summary, extracted insights, and actionable recommendations. No LLM
// involved; an enrichment layer may rewrite these later.
func synthesizeLesson(cluster domain.Cluster) domain.Lesson {
	meta := cluster.Metadata

	var subject []string
	for _, v := range []string{meta.Symbol, meta.Timeframe, meta.Regime, meta.Direction} {
		if v != "" {
			subject = append(subject, v)
		}
	}
	summary := fmt.Sprintf("%d similar situations", cluster.Size)
	if len(subject) > 0 {
		summary += " involving " + strings.Join(subject, " ")
	}

	var insights []string
	minConf, maxConf := confidenceExtremes(cluster.Situations)
	if maxConf > 0 {
		insights = append(insights, fmt.Sprintf("confidence ranged %.2f to %.2f (mean %.2f)", minConf, maxConf, meta.AvgConfidence))
	}
	if meta.AvgStrength > 0 {
		insights = append(insights, fmt.Sprintf("mean strength %.2f", meta.AvgStrength))
	}
	if len(meta.PatternTypes) > 0 {
		insights = append(insights, "recurring patterns: "+strings.Join(meta.PatternTypes, ", "))
	}
	if meta.Regime != "" {
		insights = append(insights, "consistent regime: "+meta.Regime)
	}

	var recommendations []string
	switch {
	case meta.AvgConfidence >= 0.75:
		recommendations = append(recommendations, "historical confidence is high; treat matching signals as actionable")
	case meta.AvgConfidence > 0 && meta.AvgConfidence < 0.5:
		recommendations = append(recommendations, "historical confidence is low; require corroboration before acting")
	}
	if len(meta.PatternTypes) > 0 {
		recommendations = append(recommendations, "watch for "+strings.Join(meta.PatternTypes, ", ")+" recurrence")
	}
	if meta.Direction != "" {
		recommendations = append(recommendations, "historical bias was "+meta.Direction)
	}
	if len(recommendations) == 0 {
		recommendations = append(recommendations, "review cluster members before acting")
	}

	return domain.Lesson{
		ClusterID:       cluster.ID,
		Summary:         summary,
		Insights:        insights,
		Recommendations: recommendations,
		Confidence:      meta.AvgConfidence,
		SupportSize:     cluster.Size,
	}
}

func confidenceExtremes(members []*domain.Strand) (min, max float64) {
	for _, m := range members {
		conf := m.ContentFloat(domain.ContentConfidence)
		if conf == 0 {
			continue
		}
		if min == 0 || conf < min {
			min = conf
		}
		if conf > max {
			max = conf
		}
	}
	return min, max
}

// lessonRelevance scores a lesson against the current strand: string
// containment of the categorical fields plus the lesson's own
// confidence, normalized to [0, 1].
func lessonRelevance(lesson domain.Lesson, cluster domain.Cluster, current *domain.Strand) float64 {
	meta := cluster.Metadata
	var matches, fields float64

	check := func(clusterValue, currentValue string) {
		if clusterValue == "" || currentValue == "" {
			return
		}
		fields++
		if strings.EqualFold(clusterValue, currentValue) {
			matches++
		}
	}
	check(meta.Symbol, current.ContentString(domain.ContentSymbol))
	check(meta.Timeframe, current.ContentString(domain.ContentTimeframe))
	check(meta.Regime, current.ContentString(domain.ContentRegime))
	check(meta.Direction, current.ContentString(domain.ContentDirection))

	containment := 0.0
	if fields > 0 {
		containment = matches / fields
	}
	return (containment + lesson.Confidence) / 2
}

var _ domain.ContextProvider = (*System)(nil)
