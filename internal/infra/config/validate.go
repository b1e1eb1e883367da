package config

import (
	"fmt"
	"strings"
)

// ValidationError aggregates every problem found in one validation pass
// so a misconfigured file reports all issues at once.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return "invalid config:\n  " + strings.Join(e.Errors, "\n  ")
}

var validProviders = map[string]bool{
	"openai":  true,
	"ollama":  true,
	"bedrock": true,
	"mock":    true,
}

var validBackends = map[string]bool{
	"sqlite": true,
	"memory": true,
}

// Validate checks the configuration for structural errors. Heuristic
// values (weights, thresholds) are range-checked but deliberately not
// second-guessed.
func Validate(cfg *Config) error {
	var problems []string

	if !validBackends[cfg.Store.Backend] {
		problems = append(problems, fmt.Sprintf("store.backend: unknown backend %q", cfg.Store.Backend))
	}
	if cfg.Store.Backend == "sqlite" && cfg.Store.Path == "" {
		problems = append(problems, "store.path: required for sqlite backend")
	}

	if !validProviders[cfg.Embedding.Provider] {
		problems = append(problems, fmt.Sprintf("embedding.provider: unknown provider %q", cfg.Embedding.Provider))
	}
	if cfg.Embedding.Provider == "openai" && cfg.Embedding.APIKey == "" {
		problems = append(problems, "embedding.api_key: required for openai provider")
	}

	if cfg.Router.PollInterval <= 0 {
		problems = append(problems, "router.poll_interval: must be positive")
	}
	if cfg.Router.MaxBatch <= 0 {
		problems = append(problems, "router.max_batch: must be positive")
	}
	for name, v := range map[string]float64{
		"router.similarity_threshold": cfg.Router.SimilarityThreshold,
		"router.min_relevance":        cfg.Router.MinRelevance,
		"router.min_confidence":       cfg.Router.MinConfidence,
	} {
		if v < 0 || v > 1 {
			problems = append(problems, fmt.Sprintf("%s: must be in [0,1], got %v", name, v))
		}
	}
	if cfg.Router.MaxTargets <= 0 {
		problems = append(problems, "router.max_targets: must be positive")
	}

	if cfg.Protocol.ListenInterval <= 0 {
		problems = append(problems, "protocol.listen_interval: must be positive")
	}
	if cfg.Protocol.RecencyWindow <= 0 {
		problems = append(problems, "protocol.recency_window: must be positive")
	}

	seen := make(map[string]bool)
	for _, a := range cfg.Agents {
		if a.Name == "" {
			problems = append(problems, "agents: agent with empty name")
			continue
		}
		if seen[a.Name] {
			problems = append(problems, fmt.Sprintf("agents: duplicate agent %q", a.Name))
		}
		seen[a.Name] = true
	}

	if cfg.Tracer.SampleRatio < 0 || cfg.Tracer.SampleRatio > 1 {
		problems = append(problems, fmt.Sprintf("tracer.sample_ratio: must be in [0,1], got %v", cfg.Tracer.SampleRatio))
	}

	switch strings.ToLower(cfg.Logger.Level) {
	case "debug", "info", "warn", "warning", "error", "":
	default:
		problems = append(problems, fmt.Sprintf("logger.level: unknown level %q", cfg.Logger.Level))
	}

	if len(problems) > 0 {
		return &ValidationError{Errors: problems}
	}
	return nil
}
