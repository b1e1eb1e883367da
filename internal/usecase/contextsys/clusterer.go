package contextsys

import (
	"sort"

	"strandbus/internal/domain"
)

// defaultClusterThreshold is the minimum similarity between a strand
// and a cluster centroid for the strand to join the cluster.
const defaultClusterThreshold = 0.8

// Clusterer groups strands by context-vector proximity using greedy
// centroid assignment: each strand joins the nearest existing cluster
// above the threshold, otherwise it seeds a new one. Strands without a
// vector are excluded.
type Clusterer struct {
	threshold float64
}

// NewClusterer creates a clusterer. If threshold is not in (0, 1], the
// default is used.
func NewClusterer(threshold float64) *Clusterer {
	if threshold <= 0 || threshold > 1 {
		threshold = defaultClusterThreshold
	}
	return &Clusterer{threshold: threshold}
}

type workingCluster struct {
	members  []*domain.Strand
	centroid []float64
}

// Cluster implements domain.Clusterer.
func (c *Clusterer) Cluster(situations []*domain.Strand) []domain.Cluster {
	var clusters []*workingCluster

	for _, s := range situations {
		if len(s.ContextVector) == 0 {
			continue
		}

		best := -1
		bestSim := c.threshold
		for i, wc := range clusters {
			sim := Similarity(s.ContextVector, centroidToFloat32(wc.centroid))
			if sim >= bestSim {
				best = i
				bestSim = sim
			}
		}

		if best >= 0 {
			clusters[best].add(s)
		} else {
			clusters = append(clusters, newWorkingCluster(s))
		}
	}

	result := make([]domain.Cluster, 0, len(clusters))
	for i, wc := range clusters {
		result = append(result, domain.Cluster{
			ID:         i,
			Size:       len(wc.members),
			Situations: wc.members,
			Metadata:   aggregateMetadata(wc.members),
			Silhouette: c.silhouette(wc, clusters),
		})
	}

	// Largest clusters first; they carry the strongest lessons.
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Size > result[j].Size
	})
	return result
}

func newWorkingCluster(s *domain.Strand) *workingCluster {
	centroid := make([]float64, len(s.ContextVector))
	for i, v := range s.ContextVector {
		centroid[i] = float64(v)
	}
	return &workingCluster{members: []*domain.Strand{s}, centroid: centroid}
}

// add appends a member and updates the running mean centroid.
func (wc *workingCluster) add(s *domain.Strand) {
	wc.members = append(wc.members, s)
	n := float64(len(wc.members))
	for i := range wc.centroid {
		if i < len(s.ContextVector) {
			wc.centroid[i] += (float64(s.ContextVector[i]) - wc.centroid[i]) / n
		}
	}
}

func centroidToFloat32(centroid []float64) []float32 {
	out := make([]float32, len(centroid))
	for i, v := range centroid {
		out[i] = float32(v)
	}
	return out
}

// silhouette is a simplified cohesion-vs-separation score in [-1, 1]:
// mean member-to-own-centroid similarity minus the best mean similarity
// to any other centroid. Single-cluster inputs score by cohesion alone.
func (c *Clusterer) silhouette(wc *workingCluster, all []*workingCluster) float64 {
	own := centroidToFloat32(wc.centroid)

	var cohesion float64
	for _, m := range wc.members {
		cohesion += Similarity(m.ContextVector, own)
	}
	cohesion /= float64(len(wc.members))

	var separation float64
	for _, other := range all {
		if other == wc {
			continue
		}
		otherCentroid := centroidToFloat32(other.centroid)
		var sim float64
		for _, m := range wc.members {
			sim += Similarity(m.ContextVector, otherCentroid)
		}
		sim /= float64(len(wc.members))
		if sim > separation {
			separation = sim
		}
	}

	return cohesion - separation
}

// aggregateMetadata computes categorical majorities, numeric means, and
// the pattern types common to at least half the members.
func aggregateMetadata(members []*domain.Strand) domain.ClusterMetadata {
	var meta domain.ClusterMetadata
	if len(members) == 0 {
		return meta
	}

	meta.Symbol = majority(members, domain.ContentSymbol)
	meta.Timeframe = majority(members, domain.ContentTimeframe)
	meta.Regime = majority(members, domain.ContentRegime)
	meta.Direction = majority(members, domain.ContentDirection)

	var confSum, strengthSum float64
	patternCounts := make(map[string]int)
	for _, m := range members {
		confSum += m.ContentFloat(domain.ContentConfidence)
		strengthSum += m.ContentFloat(domain.ContentStrength)
		for _, p := range m.ContentStrings(domain.ContentPatterns) {
			patternCounts[p]++
		}
	}
	n := float64(len(members))
	meta.AvgConfidence = confSum / n
	meta.AvgStrength = strengthSum / n

	half := (len(members) + 1) / 2
	for p, count := range patternCounts {
		if count >= half {
			meta.PatternTypes = append(meta.PatternTypes, p)
		}
	}
	sort.Strings(meta.PatternTypes)

	return meta
}

// majority returns the most frequent non-empty value of a content key.
func majority(members []*domain.Strand, key string) string {
	counts := make(map[string]int)
	for _, m := range members {
		if v := m.ContentString(key); v != "" {
			counts[v]++
		}
	}

	best, bestCount := "", 0
	for v, count := range counts {
		if count > bestCount || (count == bestCount && v < best) {
			best, bestCount = v, count
		}
	}
	return best
}

var _ domain.Clusterer = (*Clusterer)(nil)
