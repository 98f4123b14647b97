package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/guregu/null/v5"
	"go.uber.org/zap"

	"github.com/hamed0406/uptimemonitor/internal/clock"
	"github.com/hamed0406/uptimemonitor/internal/domain"
	"github.com/hamed0406/uptimemonitor/internal/limiter"
	"github.com/hamed0406/uptimemonitor/internal/probe"
	"github.com/hamed0406/uptimemonitor/internal/repo/memory"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// --- fakes ---

func addTarget(t *testing.T, st *memory.Store, url string, intervalS int) domain.Target {
	t.Helper()
	tgt := &domain.Target{
		Name:      url,
		URL:       url,
		Enabled:   true,
		IntervalS: intervalS,
		TimeoutS:  5,
		VerifyTLS: true,
	}
	if err := st.Add(context.Background(), tgt); err != nil {
		t.Fatalf("Add: %v", err)
	}
	return *tgt
}

func upProber(clk clock.Clock) probe.Prober {
	return probe.ProberFunc(func(ctx context.Context, t domain.Target) domain.CheckResult {
		return domain.CheckResult{
			TargetID:   t.ID,
			CheckedAt:  clk.Now(),
			Up:         true,
			HTTPStatus: null.IntFrom(200),
			LatencyMS:  null.IntFrom(5),
		}
	})
}

// gatedProber blocks every probe until release is closed.
type gatedProber struct {
	clk     clock.Clock
	started chan domain.TargetID
	release chan struct{}
	calls   atomic.Int32
}

func newGated(clk clock.Clock) *gatedProber {
	return &gatedProber{clk: clk, started: make(chan domain.TargetID, 16), release: make(chan struct{})}
}

func (g *gatedProber) Probe(ctx context.Context, t domain.Target) domain.CheckResult {
	g.calls.Add(1)
	g.started <- t.ID
	<-g.release
	return domain.CheckResult{TargetID: t.ID, CheckedAt: g.clk.Now(), Up: true}
}

type failingAppend struct {
	*memory.Store
	n atomic.Int32
}

func (f *failingAppend) Append(ctx context.Context, r *domain.CheckResult) error {
	f.n.Add(1)
	return errors.New("disk full")
}

type brokenLister struct{}

func (brokenLister) ListEnabled(ctx context.Context) ([]domain.Target, error) {
	return nil, errors.New("registry down")
}

func waitAll(t *testing.T, tasks []*limiter.Task) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, tk := range tasks {
		if err := tk.Wait(ctx); err != nil {
			t.Fatalf("task did not finish: %v", err)
		}
	}
}

func countResults(t *testing.T, st *memory.Store, id domain.TargetID) int {
	t.Helper()
	rows, err := st.Query(context.Background(), id, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	return len(rows)
}

// --- tests ---

func TestScheduler_OneResultPerInterval(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(t0)
	st := memory.New()
	tgt := addTarget(t, st, "https://example.com", 60)

	s := New(zap.NewNop(), st, st, upProber(clk), clk, Config{Concurrency: 4})
	defer s.Close()

	for i := 0; i < 60; i++ {
		waitAll(t, s.Tick(ctx))
		clk.Advance(time.Second)
	}
	if n := countResults(t, st, tgt.ID); n != 1 {
		t.Fatalf("after 60 one-second ticks want 1 result, got %d", n)
	}

	waitAll(t, s.Tick(ctx))
	if n := countResults(t, st, tgt.ID); n != 2 {
		t.Fatalf("at t0+60s want 2 results, got %d", n)
	}
}

func TestScheduler_DisableWhileInFlight(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(t0)
	st := memory.New()
	tgt := addTarget(t, st, "https://example.com", 10)
	g := newGated(clk)

	s := New(zap.NewNop(), st, st, g, clk, Config{Concurrency: 2})
	defer s.Close()

	tasks := s.Tick(ctx)
	if len(tasks) != 1 {
		t.Fatalf("want 1 admission, got %d", len(tasks))
	}
	<-g.started

	tgt.Enabled = false
	if err := st.Update(ctx, &tgt); err != nil {
		t.Fatalf("Update: %v", err)
	}
	clk.Advance(time.Minute)
	if more := s.Tick(ctx); len(more) != 0 {
		t.Fatalf("disabled target admitted again")
	}

	close(g.release)
	waitAll(t, tasks)

	if n := countResults(t, st, tgt.ID); n != 1 {
		t.Fatalf("in-flight result should still be recorded, got %d", n)
	}
	clk.Advance(time.Minute)
	if more := s.Tick(ctx); len(more) != 0 {
		t.Fatalf("no admissions expected after disable")
	}
	if e := s.Entries(); len(e) != 0 {
		t.Fatalf("entry should be gone, got %+v", e)
	}
}

func TestScheduler_NoOverlap(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(t0)
	st := memory.New()
	tgt := addTarget(t, st, "https://example.com", 10)
	g := newGated(clk)

	s := New(zap.NewNop(), st, st, g, clk, Config{Concurrency: 4})
	defer s.Close()

	first := s.Tick(ctx)
	<-g.started

	// several intervals pass while the probe is stuck
	clk.Advance(35 * time.Second)
	if more := s.Tick(ctx); len(more) != 0 {
		t.Fatalf("overlapping probe admitted")
	}
	entries := s.Entries()
	if len(entries) != 1 || !entries[0].InFlight {
		t.Fatalf("want in-flight entry, got %+v", entries)
	}

	close(g.release)
	waitAll(t, first)

	// missed intervals are not backfilled: exactly one new admission
	next := s.Tick(ctx)
	if len(next) != 1 {
		t.Fatalf("want 1 admission after completion, got %d", len(next))
	}
	waitAll(t, next)
	if got := g.calls.Load(); got != 2 {
		t.Fatalf("want 2 probes total, got %d", got)
	}
	if n := countResults(t, st, tgt.ID); n != 2 {
		t.Fatalf("want 2 results, got %d", n)
	}
}

func TestScheduler_SeedsFromLatestResult(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(t0)
	st := memory.New()
	tgt := addTarget(t, st, "https://example.com", 60)
	_ = st.Append(ctx, &domain.CheckResult{TargetID: tgt.ID, CheckedAt: t0.Add(-20 * time.Second), Up: true})

	s := New(zap.NewNop(), st, st, upProber(clk), clk, Config{})
	defer s.Close()

	if tasks := s.Tick(ctx); len(tasks) != 0 {
		t.Fatalf("recently checked target should not be due yet")
	}
	entries := s.Entries()
	if len(entries) != 1 || !entries[0].NextDueAt.Equal(t0.Add(40*time.Second)) {
		t.Fatalf("unexpected seed: %+v", entries)
	}

	clk.Advance(40 * time.Second)
	tasks := s.Tick(ctx)
	if len(tasks) != 1 {
		t.Fatalf("want admission at seeded due time, got %d", len(tasks))
	}
	waitAll(t, tasks)
}

func TestScheduler_AppendFailureIsSwallowed(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(t0)
	st := memory.New()
	addTarget(t, st, "https://example.com", 10)
	results := &failingAppend{Store: st}

	s := New(zap.NewNop(), st, results, upProber(clk), clk, Config{})
	defer s.Close()

	waitAll(t, s.Tick(ctx))
	if results.n.Load() != 1 {
		t.Fatalf("append not attempted")
	}
	e := s.Entries()
	if len(e) != 1 || e[0].InFlight {
		t.Fatalf("target should be idle after failed append: %+v", e)
	}

	clk.Advance(10 * time.Second)
	waitAll(t, s.Tick(ctx))
	if results.n.Load() != 2 {
		t.Fatalf("scheduling should continue after append failure")
	}
}

func TestScheduler_RespectsConcurrency(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(t0)
	st := memory.New()
	for _, u := range []string{"https://a.test", "https://b.test", "https://c.test", "https://d.test", "https://e.test", "https://f.test"} {
		addTarget(t, st, u, 60)
	}

	var cur, peak atomic.Int32
	slow := probe.ProberFunc(func(ctx context.Context, tg domain.Target) domain.CheckResult {
		n := cur.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		cur.Add(-1)
		return domain.CheckResult{TargetID: tg.ID, CheckedAt: clk.Now(), Up: true}
	})

	s := New(zap.NewNop(), st, st, slow, clk, Config{Concurrency: 2})
	defer s.Close()

	n, err := s.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n != 6 {
		t.Fatalf("want 6 probes, got %d", n)
	}
	if p := peak.Load(); p > 2 {
		t.Fatalf("concurrency exceeded: %d", p)
	}
	if stats := s.Stats(); stats.Peak > 2 || stats.Capacity != 2 {
		t.Fatalf("stats: %+v", stats)
	}
}

func TestScheduler_RegistryErrors(t *testing.T) {
	st := memory.New()
	s := New(zap.NewNop(), brokenLister{}, st, upProber(clock.Real{}), nil, Config{})
	defer s.Close()

	if tasks := s.Tick(context.Background()); len(tasks) != 0 {
		t.Fatalf("no tasks expected")
	}
	if _, err := s.RunOnce(context.Background()); err == nil {
		t.Fatalf("RunOnce should surface the registry error")
	}
}

func TestScheduler_RunForeverStopsOnCancel(t *testing.T) {
	clk := clock.NewFake(t0)
	st := memory.New()
	tgt := addTarget(t, st, "https://example.com", 60)
	s := New(zap.NewNop(), st, st, upProber(clk), clk, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.RunForever(ctx, 5*time.Millisecond) }()

	deadline := time.Now().Add(2 * time.Second)
	for countResults(t, st, tgt.ID) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("no result recorded")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunForever: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("RunForever did not return")
	}
	// clock never moved, so the target was admitted exactly once
	if n := countResults(t, st, tgt.ID); n != 1 {
		t.Fatalf("want 1 result, got %d", n)
	}
}

func TestScheduler_ShutdownAbandonsStuckProbes(t *testing.T) {
	clk := clock.NewFake(t0)
	st := memory.New()
	addTarget(t, st, "https://example.com", 60)

	started := make(chan struct{}, 1)
	stuck := probe.ProberFunc(func(ctx context.Context, tg domain.Target) domain.CheckResult {
		started <- struct{}{}
		<-ctx.Done()
		return domain.CheckResult{TargetID: tg.ID, CheckedAt: clk.Now(), ErrorType: domain.ErrorUnknown}
	})
	s := New(zap.NewNop(), st, st, stuck, clk, Config{ShutdownGrace: 30 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.RunForever(ctx, time.Hour) }()

	<-started
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, limiter.ErrAbandoned) {
			t.Fatalf("want ErrAbandoned, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("RunForever did not return")
	}
}
