package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/uptimemonitor/internal/clock"
	"github.com/hamed0406/uptimemonitor/internal/repo"
)

const (
	DefaultRetention     = 35 * 24 * time.Hour
	DefaultPruneInterval = 6 * time.Hour
)

// Pruner deletes results older than the retention horizon on its own timer.
type Pruner struct {
	log       *zap.Logger
	results   repo.ResultStore
	clock     clock.Clock
	retention time.Duration
	interval  time.Duration
}

func NewPruner(logger *zap.Logger, results repo.ResultStore, clk clock.Clock, retention, interval time.Duration) *Pruner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	if interval <= 0 {
		interval = DefaultPruneInterval
	}
	return &Pruner{log: logger, results: results, clock: clk, retention: retention, interval: interval}
}

// PruneOnce removes everything checked before now-retention. Running it
// twice in a row deletes nothing the second time.
func (p *Pruner) PruneOnce(ctx context.Context) (int64, error) {
	cutoff := p.clock.Now().Add(-p.retention)
	n, err := p.results.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return n, fmt.Errorf("delete results before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	if n > 0 {
		p.log.Info("pruner_deleted", zap.Int64("rows", n), zap.Time("cutoff", cutoff))
	}
	return n, nil
}

// Run does an immediate pass, then one per interval, until ctx is cancelled.
func (p *Pruner) Run(ctx context.Context) {
	t := time.NewTicker(p.interval)
	defer t.Stop()

	p.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			p.log.Info("pruner_stopped")
			return
		case <-t.C:
			p.runOnce(ctx)
		}
	}
}

func (p *Pruner) runOnce(ctx context.Context) {
	if _, err := p.PruneOnce(ctx); err != nil && ctx.Err() == nil {
		p.log.Warn("pruner_error", zap.Error(err))
	}
}
