package embedding

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"strandbus/internal/domain"
)

// RateLimitedEmbedder wraps an EmbeddingProvider with a client-side
// token bucket so the router's scan cycles stay under the backend's
// request quota instead of discovering it via 429s.
type RateLimitedEmbedder struct {
	inner   domain.EmbeddingProvider
	limiter *rate.Limiter
}

// NewRateLimitedEmbedder wraps inner with a limiter of requestsPerMin
// sustained rate and burstSize burst. If requestsPerMin <= 0, the inner
// provider is returned directly.
func NewRateLimitedEmbedder(inner domain.EmbeddingProvider, requestsPerMin, burstSize int) domain.EmbeddingProvider {
	if requestsPerMin <= 0 {
		return inner
	}
	if burstSize <= 0 {
		burstSize = 1
	}
	return &RateLimitedEmbedder{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(requestsPerMin)/60.0, burstSize),
	}
}

// Embed implements domain.EmbeddingProvider. It blocks until the
// limiter grants a slot or the context is canceled.
func (p *RateLimitedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limiter: %v", domain.ErrEmbeddingFailed, err)
	}
	return p.inner.Embed(ctx, texts)
}

// Dimensions implements domain.EmbeddingProvider.
func (p *RateLimitedEmbedder) Dimensions() int { return p.inner.Dimensions() }

// Name implements domain.EmbeddingProvider.
func (p *RateLimitedEmbedder) Name() string { return p.inner.Name() }

var _ domain.EmbeddingProvider = (*RateLimitedEmbedder)(nil)
