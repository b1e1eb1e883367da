package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"strandbus/internal/domain"
)

// Default circuit breaker settings.
const (
	defaultBreakerMaxFailures uint32        = 5
	defaultBreakerTimeout     time.Duration = 30 * time.Second
	defaultBreakerInterval    time.Duration = 60 * time.Second
)

// BreakerConfig configures the embedding circuit breaker.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures before the circuit opens.
	MaxFailures uint32
	// Timeout is how long the circuit stays open before transitioning to half-open.
	Timeout time.Duration
	// Interval is the cyclic period of the closed state for clearing failure counts.
	Interval time.Duration
}

// BreakerEmbedder wraps an EmbeddingProvider with circuit breaker
// protection. When the wrapped provider fails repeatedly, the circuit
// opens and subsequent calls fail fast without reaching the provider,
// so a dead embedding backend cannot stall the routing loop.
type BreakerEmbedder struct {
	inner   domain.EmbeddingProvider
	breaker *gobreaker.CircuitBreaker[[][]float32]
	logger  *slog.Logger
}

// NewBreakerEmbedder wraps inner with a circuit breaker.
// Zero-valued config fields fall back to defaults.
func NewBreakerEmbedder(inner domain.EmbeddingProvider, cfg BreakerConfig, logger *slog.Logger) *BreakerEmbedder {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultBreakerMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultBreakerTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultBreakerInterval
	}

	cb := gobreaker.NewCircuitBreaker[[][]float32](gobreaker.Settings{
		Name:        "embedding:" + inner.Name(),
		MaxRequests: 1, // allow 1 probe in half-open state
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	})

	return &BreakerEmbedder{
		inner:   inner,
		breaker: cb,
		logger:  logger,
	}
}

// Embed implements domain.EmbeddingProvider. Calls are routed through
// the circuit breaker.
func (p *BreakerEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	result, err := p.breaker.Execute(func() ([][]float32, error) {
		return p.inner.Embed(ctx, texts)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, fmt.Errorf("%w: provider %q circuit open: %v",
				domain.ErrEmbeddingFailed, p.inner.Name(), err)
		}
		return nil, err
	}
	return result, nil
}

// Dimensions implements domain.EmbeddingProvider.
func (p *BreakerEmbedder) Dimensions() int { return p.inner.Dimensions() }

// Name implements domain.EmbeddingProvider.
func (p *BreakerEmbedder) Name() string { return p.inner.Name() }

var _ domain.EmbeddingProvider = (*BreakerEmbedder)(nil)
