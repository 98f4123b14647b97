package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/uptimemonitor/internal/clock"
	"github.com/hamed0406/uptimemonitor/internal/domain"
	"github.com/hamed0406/uptimemonitor/internal/limiter"
	"github.com/hamed0406/uptimemonitor/internal/probe"
	"github.com/hamed0406/uptimemonitor/internal/repo"
)

const (
	DefaultConcurrency   = 20
	DefaultTickPeriod    = time.Second
	DefaultShutdownGrace = 10 * time.Second
)

// Entry is the scheduler's view of one enabled target.
type Entry struct {
	TargetID  domain.TargetID `json:"target_id"`
	NextDueAt time.Time       `json:"next_due_at"`
	InFlight  bool            `json:"in_flight"`

	// target left the enabled set while a probe was running; the entry is
	// dropped once that probe finishes
	retired bool
}

type Config struct {
	Concurrency   int
	ShutdownGrace time.Duration
}

// Stats is a point-in-time snapshot for health reporting.
type Stats struct {
	Targets  int `json:"targets"`
	InFlight int `json:"in_flight"`
	Queued   int `json:"queued"`
	Peak     int `json:"peak"`
	Capacity int `json:"capacity"`
}

// Scheduler decides each tick which enabled targets are due and hands them
// to a bounded limiter. A target is never probed twice at the same time and
// missed intervals are not backfilled.
type Scheduler struct {
	log     *zap.Logger
	targets repo.TargetLister
	results repo.ResultStore
	prober  probe.Prober
	clock   clock.Clock
	limiter *limiter.Limiter
	grace   time.Duration

	mu      sync.Mutex
	entries map[domain.TargetID]*Entry
}

func New(
	logger *zap.Logger,
	targets repo.TargetLister,
	results repo.ResultStore,
	prober probe.Prober,
	clk clock.Clock,
	cfg Config,
) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = DefaultShutdownGrace
	}
	return &Scheduler{
		log:     logger,
		targets: targets,
		results: results,
		prober:  prober,
		clock:   clk,
		limiter: limiter.New(cfg.Concurrency, logger),
		grace:   cfg.ShutdownGrace,
		entries: make(map[domain.TargetID]*Entry),
	}
}

// Tick runs one scheduling pass and returns the tasks it submitted.
// Registry errors are logged; the next tick simply tries again.
func (s *Scheduler) Tick(ctx context.Context) []*limiter.Task {
	tasks, err := s.tick(ctx)
	if err != nil {
		s.log.Warn("scheduler_tick_error", zap.Error(err))
	}
	return tasks
}

func (s *Scheduler) tick(ctx context.Context) ([]*limiter.Task, error) {
	targets, err := s.targets.ListEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("list enabled targets: %w", err)
	}
	s.sync(ctx, targets)

	now := s.clock.Now()
	var due []domain.Target

	s.mu.Lock()
	for _, t := range targets {
		e, ok := s.entries[t.ID]
		if !ok || e.InFlight || now.Before(e.NextDueAt) {
			continue
		}
		e.NextDueAt = now.Add(t.Interval())
		e.InFlight = true
		due = append(due, t)
	}
	s.mu.Unlock()

	tasks := make([]*limiter.Task, 0, len(due))
	for _, t := range due {
		t := t
		tasks = append(tasks, s.limiter.Submit(ctx,
			func(wctx context.Context) { s.execute(wctx, t) },
			func() { s.finish(t.ID) },
		))
	}
	if len(due) > 0 {
		s.log.Debug("scheduler_admitted", zap.Int("count", len(due)), zap.Int("queued", s.limiter.Queued()))
	}
	return tasks, nil
}

// sync reconciles entries with the current enabled set. New targets are
// seeded from their last stored result so a restart does not re-probe
// everything at once.
func (s *Scheduler) sync(ctx context.Context, targets []domain.Target) {
	present := make(map[domain.TargetID]struct{}, len(targets))
	var fresh []domain.Target

	s.mu.Lock()
	for _, t := range targets {
		present[t.ID] = struct{}{}
		if e, ok := s.entries[t.ID]; ok {
			e.retired = false
			continue
		}
		fresh = append(fresh, t)
	}
	for id, e := range s.entries {
		if _, ok := present[id]; ok {
			continue
		}
		if e.InFlight {
			e.retired = true
			continue
		}
		delete(s.entries, id)
	}
	s.mu.Unlock()

	for _, t := range fresh {
		due := s.seed(ctx, t)
		s.mu.Lock()
		if _, ok := s.entries[t.ID]; !ok {
			s.entries[t.ID] = &Entry{TargetID: t.ID, NextDueAt: due}
		}
		s.mu.Unlock()
	}
}

func (s *Scheduler) seed(ctx context.Context, t domain.Target) time.Time {
	now := s.clock.Now()
	last, err := s.results.Latest(ctx, t.ID)
	if err != nil {
		s.log.Warn("scheduler_seed_error", zap.String("target_id", string(t.ID)), zap.Error(err))
		return now
	}
	if last == nil {
		return now
	}
	return last.CheckedAt.Add(t.Interval())
}

func (s *Scheduler) execute(ctx context.Context, t domain.Target) {
	defer s.finish(t.ID)

	res := s.prober.Probe(ctx, t)
	res.TargetID = t.ID
	if err := s.results.Append(ctx, &res); err != nil {
		s.log.Warn("scheduler_append_error",
			zap.String("target_id", string(t.ID)),
			zap.String("url", t.URL),
			zap.Error(err),
		)
		return
	}
	s.log.Debug("scheduler_checked",
		zap.String("target_id", string(t.ID)),
		zap.String("url", t.URL),
		zap.Bool("up", res.Up),
		zap.Int64("status", res.HTTPStatus.Int64),
		zap.Int64("latency_ms", res.LatencyMS.Int64),
		zap.String("error_type", string(res.ErrorType)),
	)
}

// finish returns a target to idle. Runs after a probe completes or when a
// queued task is dropped.
func (s *Scheduler) finish(id domain.TargetID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return
	}
	e.InFlight = false
	if e.retired {
		delete(s.entries, id)
	}
}

// RunOnce performs a single pass and waits for the admitted probes. It
// reports how many of them actually ran.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	tasks, err := s.tick(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, t := range tasks {
		if err := t.Wait(ctx); err != nil {
			return n, err
		}
		if !t.Dropped() {
			n++
		}
	}
	return n, nil
}

// RunForever ticks every period until ctx is cancelled, then stops
// admitting and gives running probes the shutdown grace.
func (s *Scheduler) RunForever(ctx context.Context, period time.Duration) error {
	if period <= 0 {
		period = DefaultTickPeriod
	}
	t := time.NewTicker(period)
	defer t.Stop()

	s.log.Info("scheduler_started",
		zap.Duration("tick", period),
		zap.Int("concurrency", s.limiter.Capacity()),
	)

	// immediate pass
	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler_stopping", zap.Int("in_flight", s.limiter.InFlight()))
			err := s.Close()
			if errors.Is(err, limiter.ErrAbandoned) {
				s.log.Warn("scheduler_abandoned_probes", zap.Duration("grace", s.grace))
				return err
			}
			s.log.Info("scheduler_stopped")
			return nil
		case <-t.C:
			s.Tick(ctx)
		}
	}
}

// Close drops queued probes and waits up to the shutdown grace for running ones.
func (s *Scheduler) Close() error {
	return s.limiter.Shutdown(s.grace)
}

// Entries returns a snapshot sorted by next due time.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, Entry{TargetID: e.TargetID, NextDueAt: e.NextDueAt, InFlight: e.InFlight})
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].NextDueAt.Equal(out[j].NextDueAt) {
			return out[i].TargetID < out[j].TargetID
		}
		return out[i].NextDueAt.Before(out[j].NextDueAt)
	})
	return out
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	n := len(s.entries)
	s.mu.Unlock()
	return Stats{
		Targets:  n,
		InFlight: s.limiter.InFlight(),
		Queued:   s.limiter.Queued(),
		Peak:     s.limiter.Peak(),
		Capacity: s.limiter.Capacity(),
	}
}
