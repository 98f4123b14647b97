package limiter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// ErrAbandoned is returned by Shutdown when running tasks outlived the grace period.
var ErrAbandoned = errors.New("limiter: running tasks abandoned after grace period")

const (
	stateQueued int32 = iota
	stateRunning
	stateFinished
	stateDropped
)

// Task is one unit of work submitted to a Limiter.
type Task struct {
	ctx     context.Context
	run     func(context.Context)
	dropped func()
	state   atomic.Int32
	done    chan struct{}
}

// Done is closed once the task has finished running or was dropped.
func (t *Task) Done() <-chan struct{} { return t.done }

// Dropped reports whether the task was discarded before it was admitted.
func (t *Task) Dropped() bool { return t.state.Load() == stateDropped }

func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Limiter admits at most capacity tasks at a time. Waiting tasks are
// admitted in submission order by a single dispatcher goroutine.
type Limiter struct {
	log      *zap.Logger
	sem      *semaphore.Weighted
	capacity int64

	mu     sync.Mutex
	queue  []*Task
	closed bool
	wake   chan struct{}

	closing    context.Context
	stop       context.CancelFunc
	dispatched chan struct{}

	work    context.Context
	abandon context.CancelFunc
	running sync.WaitGroup

	inFlight atomic.Int64
	peak     atomic.Int64
}

func New(capacity int, log *zap.Logger) *Limiter {
	if capacity < 1 {
		capacity = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	closing, stop := context.WithCancel(context.Background())
	work, abandon := context.WithCancel(context.Background())
	l := &Limiter{
		log:        log,
		sem:        semaphore.NewWeighted(int64(capacity)),
		capacity:   int64(capacity),
		wake:       make(chan struct{}, 1),
		closing:    closing,
		stop:       stop,
		dispatched: make(chan struct{}),
		work:       work,
		abandon:    abandon,
	}
	go l.dispatch()
	return l
}

// Submit queues run. The task is dropped (and dropped, if non-nil, is
// called) when ctx ends or the limiter closes before a slot frees up.
// run receives the limiter's work context, which is only cancelled when
// running tasks are abandoned at shutdown.
func (l *Limiter) Submit(ctx context.Context, run func(context.Context), dropped func()) *Task {
	t := &Task{ctx: ctx, run: run, dropped: dropped, done: make(chan struct{})}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		l.drop(t)
		return t
	}
	l.queue = append(l.queue, t)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return t
}

func (l *Limiter) dispatch() {
	defer close(l.dispatched)
	for {
		t, ok := l.next()
		if !ok {
			return
		}
		if err := l.acquire(t); err != nil {
			l.drop(t)
			continue
		}
		l.start(t)
	}
}

func (l *Limiter) next() (*Task, bool) {
	for {
		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			return nil, false
		}
		if len(l.queue) > 0 {
			t := l.queue[0]
			l.queue[0] = nil
			l.queue = l.queue[1:]
			l.mu.Unlock()
			return t, true
		}
		l.mu.Unlock()

		select {
		case <-l.wake:
		case <-l.closing.Done():
			return nil, false
		}
	}
}

func (l *Limiter) acquire(t *Task) error {
	if err := t.ctx.Err(); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(t.ctx)
	defer cancel()
	stop := context.AfterFunc(l.closing, cancel)
	defer stop()
	return l.sem.Acquire(ctx, 1)
}

func (l *Limiter) start(t *Task) {
	l.running.Add(1)
	n := l.inFlight.Add(1)
	for {
		p := l.peak.Load()
		if n <= p || l.peak.CompareAndSwap(p, n) {
			break
		}
	}
	t.state.Store(stateRunning)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				l.log.Error("limiter_task_panic", zap.Any("panic", r))
			}
			l.inFlight.Add(-1)
			l.sem.Release(1)
			t.state.Store(stateFinished)
			close(t.done)
			l.running.Done()
		}()
		t.run(l.work)
	}()
}

func (l *Limiter) drop(t *Task) {
	t.state.Store(stateDropped)
	if t.dropped != nil {
		t.dropped()
	}
	close(t.done)
}

// Close stops admitting and drops everything still queued. Running tasks
// are left alone.
func (l *Limiter) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	pending := l.queue
	l.queue = nil
	l.mu.Unlock()

	l.stop()
	<-l.dispatched
	for _, t := range pending {
		l.drop(t)
	}
}

// Wait blocks until every admitted task has finished or ctx ends.
func (l *Limiter) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		l.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown closes the limiter, gives running tasks grace to finish and
// then cancels their context.
func (l *Limiter) Shutdown(grace time.Duration) error {
	l.Close()
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := l.Wait(ctx); err != nil {
		l.abandon()
		return ErrAbandoned
	}
	l.abandon()
	return nil
}

func (l *Limiter) Capacity() int { return int(l.capacity) }
func (l *Limiter) InFlight() int { return int(l.inFlight.Load()) }

// Peak is the highest number of simultaneously running tasks observed.
func (l *Limiter) Peak() int { return int(l.peak.Load()) }

func (l *Limiter) Queued() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}
