package domain

import "time"

// RouterAgent is the reserved source-agent name used by the central
// router for the strands it writes. Strands from this source are never
// re-routed.
const RouterAgent = "central_router"

// RoutingDecision is the ephemeral outcome of scoring one candidate
// agent against one source strand. It exists only while the router
// computes it; an executed decision becomes a new routed strand.
type RoutingDecision struct {
	TargetAgent     string         `json:"target_agent"`
	SourceStrandID  string         `json:"source_strand_id"`
	Reason          string         `json:"routing_reason"`
	SimilarityScore float64        `json:"similarity_score"`
	Confidence      float64        `json:"confidence"`
	Tags            string         `json:"tags"`
	Content         map[string]any `json:"content"`
	Timestamp       time.Time      `json:"timestamp"`
}

// StrandType classifies a strand for capability matching. Classification
// is a keyword lookup over tags and content, not a schema.
type StrandType string

const (
	StrandPattern     StrandType = "pattern"
	StrandThreshold   StrandType = "threshold"
	StrandParameter   StrandType = "parameter"
	StrandPerformance StrandType = "performance"
	StrandLearning    StrandType = "learning"
	StrandGeneral     StrandType = "general"
)

// Actionable tag markers. Only strands carrying one of these are
// considered for routing — a deliberate precision filter against
// routing storms.
var ActionableMarkers = []string{
	"pattern_detected",
	"threshold_analysis",
	"parameter_update",
	"escalation_required",
	"learning_opportunity",
	"performance_alert",
}
