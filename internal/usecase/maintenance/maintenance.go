// Package maintenance runs scheduled housekeeping over the strand
// store. Routing decisions go stale fast, so routed strands are pruned
// on a cron schedule while original agent findings stay untouched.
package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"strandbus/internal/infra/config"
)

// Pruner deletes routed strands older than maxAge, returning how many
// were removed. The sqlite store implements it; the memory backend runs
// without pruning.
type Pruner interface {
	PruneRouted(ctx context.Context, maxAge time.Duration) (int64, error)
}

// Manager owns the cron scheduler for store housekeeping.
type Manager struct {
	cron   *cron.Cron
	pruner Pruner
	cfg    config.CronConfig
	logger *slog.Logger
}

// New creates a maintenance manager. Jobs are registered by Start.
func New(pruner Pruner, cfg config.CronConfig, logger *slog.Logger) *Manager {
	return &Manager{
		cron:   cron.New(),
		pruner: pruner,
		cfg:    cfg,
		logger: logger,
	}
}

// Start registers the configured jobs and launches the scheduler.
// An empty schedule or a nil pruner disables retention pruning.
func (m *Manager) Start() error {
	if m.cfg.RetentionPrune != "" && m.pruner != nil {
		if _, err := m.cron.AddFunc(m.cfg.RetentionPrune, m.pruneRouted); err != nil {
			return err
		}
		m.logger.Info("retention pruning scheduled",
			"schedule", m.cfg.RetentionPrune,
			"max_age", m.cfg.RetentionMaxAge,
		)
	}
	m.cron.Start()
	return nil
}

// Stop halts the scheduler and waits for a running job to finish.
func (m *Manager) Stop() {
	ctx := m.cron.Stop()
	<-ctx.Done()
}

func (m *Manager) pruneRouted() {
	pruned, err := m.pruner.PruneRouted(context.Background(), m.cfg.RetentionMaxAge)
	if err != nil {
		m.logger.Error("retention prune failed", "error", err)
		return
	}
	if pruned > 0 {
		m.logger.Info("routed strands pruned", "count", pruned)
	}
}
