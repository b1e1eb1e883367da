package router

import (
	"strings"

	"strandbus/internal/domain"
)

// typeKeywords maps strand types to the keywords that indicate them in
// tags or content. Checked in a fixed order so overlapping keywords
// classify deterministically.
var typeKeywords = []struct {
	strandType domain.StrandType
	keywords   []string
}{
	{domain.StrandPattern, []string{"pattern", "pattern_detected"}},
	{domain.StrandThreshold, []string{"threshold", "threshold_analysis"}},
	{domain.StrandParameter, []string{"parameter", "parameter_update"}},
	{domain.StrandPerformance, []string{"performance", "performance_alert"}},
	{domain.StrandLearning, []string{"learning", "learning_opportunity"}},
}

// ClassifyStrand assigns a strand type by keyword lookup over tags and
// the content "type" field. Anything unrecognized is general.
func ClassifyStrand(s *domain.Strand) domain.StrandType {
	haystack := strings.ToLower(s.Tags + " " + s.ContentString(domain.ContentType))

	for _, tk := range typeKeywords {
		for _, kw := range tk.keywords {
			if strings.Contains(haystack, kw) {
				return tk.strandType
			}
		}
	}
	return domain.StrandGeneral
}

// capabilityMatches reports whether a declared capability keyword is
// relevant to the classified strand type. Matching is substring-based
// in both directions so "pattern_detection" matches type "pattern".
func capabilityMatches(capability string, strandType domain.StrandType) bool {
	if capability == "" {
		return false
	}
	capLower := strings.ToLower(capability)
	typeStr := string(strandType)
	return strings.Contains(capLower, typeStr) || strings.Contains(typeStr, capLower)
}
