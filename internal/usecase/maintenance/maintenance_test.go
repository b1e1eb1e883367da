package maintenance

import (
	"context"
	"errors"
	"testing"
	"time"

	"strandbus/internal/infra/config"
	"strandbus/internal/infra/logger"
)

type fakePruner struct {
	calls  int
	maxAge time.Duration
	err    error
}

func (f *fakePruner) PruneRouted(_ context.Context, maxAge time.Duration) (int64, error) {
	f.calls++
	f.maxAge = maxAge
	return 3, f.err
}

func TestStartWithoutScheduleIsNoop(t *testing.T) {
	m := New(&fakePruner{}, config.CronConfig{}, logger.Discard())
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	m.Stop()
}

func TestStartRejectsBadSchedule(t *testing.T) {
	m := New(&fakePruner{}, config.CronConfig{
		RetentionPrune:  "not a cron spec",
		RetentionMaxAge: time.Hour,
	}, logger.Discard())
	if err := m.Start(); err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}

func TestPruneRoutedPassesMaxAge(t *testing.T) {
	pruner := &fakePruner{}
	m := New(pruner, config.CronConfig{RetentionMaxAge: 48 * time.Hour}, logger.Discard())

	m.pruneRouted()
	if pruner.calls != 1 {
		t.Fatalf("pruner called %d times, want 1", pruner.calls)
	}
	if pruner.maxAge != 48*time.Hour {
		t.Errorf("maxAge = %v, want 48h", pruner.maxAge)
	}
}

func TestPruneRoutedContainsErrors(t *testing.T) {
	pruner := &fakePruner{err: errors.New("disk full")}
	m := New(pruner, config.CronConfig{RetentionMaxAge: time.Hour}, logger.Discard())

	// Must not panic; the error is logged and the scheduler keeps running.
	m.pruneRouted()
}
