package domain

import (
	"context"
	"time"
)

// Strand is one immutable record in the shared log — the unit of
// inter-agent communication. A strand is never mutated after creation;
// the only permitted "update" is an idempotent fill of ContextVector by
// the indexer, which never rewrites content.
type Strand struct {
	ID            string          `json:"id"`
	Content       map[string]any  `json:"content"`
	Tags          string          `json:"tags"`
	SourceAgent   string          `json:"source_agent,omitempty"`
	TargetAgent   string          `json:"target_agent,omitempty"`
	Metadata      MessageMetadata `json:"message_metadata"`
	ContextVector []float32       `json:"context_vector,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// MessageMetadata carries the protocol-level envelope of a strand.
type MessageMetadata struct {
	MessageID   string     `json:"message_id,omitempty"`
	MessageType string     `json:"message_type,omitempty"`
	Priority    string     `json:"priority,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Confidence  float64    `json:"routing_confidence,omitempty"`
	SentAt      time.Time  `json:"sent_at,omitzero"`
}

// Expired reports whether the strand's message carried an expiry that has
// passed as of now. Strands without an expiry never expire.
func (m MessageMetadata) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && now.After(*m.ExpiresAt)
}

// StrandQuery filters a store read. Zero-valued fields are ignored.
// Results are always ordered by created_at descending.
type StrandQuery struct {
	Since       time.Time
	Until       time.Time
	TagsLike    string // SQL LIKE pattern over the tags string
	TargetAgent string
	SourceAgent string
	Limit       int
}

// StrandStore is the append-only shared log. Insert assigns the strand ID
// when empty and returns it. AttachVector performs the single permitted
// in-place update: filling a NULL context vector. Implementations must
// treat AttachVector as idempotent — attaching to a strand that already
// has a vector is a no-op, not an error.
type StrandStore interface {
	Insert(ctx context.Context, s *Strand) (string, error)
	Get(ctx context.Context, id string) (*Strand, error)
	Query(ctx context.Context, q StrandQuery) ([]*Strand, error)
	AttachVector(ctx context.Context, id string, vec []float32) error
}

// Well-known content keys used by the analyzers that write strands.
// The bus never requires them, but the indexer and the lesson generator
// read them when present.
const (
	ContentSymbol           = "symbol"
	ContentTimeframe        = "timeframe"
	ContentRegime           = "regime"
	ContentDirection        = "direction"
	ContentConfidence       = "confidence"
	ContentStrength         = "strength"
	ContentPatterns         = "patterns"
	ContentFeatures         = "features"
	ContentMarketConditions = "market_conditions"
	ContentType             = "type"
	ContentOriginalMessage  = "original_message_id"
)

// ContentString returns the string value of a content key, or "".
func (s *Strand) ContentString(key string) string {
	if s.Content == nil {
		return ""
	}
	if v, ok := s.Content[key].(string); ok {
		return v
	}
	return ""
}

// ContentFloat returns the numeric value of a content key, accepting
// float64 (the JSON default) or int, or 0 when absent.
func (s *Strand) ContentFloat(key string) float64 {
	if s.Content == nil {
		return 0
	}
	switch v := s.Content[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	}
	return 0
}

// ContentStrings returns a []string content value, tolerating the
// []any shape that comes back from JSON round-trips.
func (s *Strand) ContentStrings(key string) []string {
	if s.Content == nil {
		return nil
	}
	switch v := s.Content[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if str, ok := e.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}
