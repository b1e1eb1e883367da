package embedding

import (
	"context"
	"errors"
	"testing"
	"time"

	"strandbus/internal/domain"
	"strandbus/internal/infra/logger"
)

func TestBreakerEmbedderOpensAfterFailures(t *testing.T) {
	inner := NewMockProvider(4)
	inner.Err = errors.New("backend down")

	be := NewBreakerEmbedder(inner, BreakerConfig{
		MaxFailures: 3,
		Timeout:     time.Minute,
	}, logger.Discard())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := be.Embed(ctx, []string{"x"}); err == nil {
			t.Fatalf("call %d: expected error", i)
		}
	}
	callsBefore := inner.Calls

	// Circuit is open now; inner must not be reached.
	_, err := be.Embed(ctx, []string{"x"})
	if err == nil {
		t.Fatal("expected open-circuit error")
	}
	if !errors.Is(err, domain.ErrEmbeddingFailed) {
		t.Errorf("error = %v, want ErrEmbeddingFailed", err)
	}
	if inner.Calls != callsBefore {
		t.Errorf("inner called %d times after open, want %d", inner.Calls, callsBefore)
	}
}

func TestBreakerEmbedderPassesThroughSuccess(t *testing.T) {
	inner := NewMockProvider(4)
	be := NewBreakerEmbedder(inner, BreakerConfig{}, logger.Discard())

	result, err := be.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(result) != 2 {
		t.Fatalf("len(result) = %d, want 2", len(result))
	}
	if be.Dimensions() != 4 {
		t.Errorf("Dimensions() = %d, want 4", be.Dimensions())
	}
	if be.Name() != "mock" {
		t.Errorf("Name() = %q, want mock", be.Name())
	}
}
