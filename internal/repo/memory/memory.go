package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hamed0406/uptimemonitor/internal/domain"
	"github.com/hamed0406/uptimemonitor/internal/repo"
)

var _ repo.Store = (*Store)(nil)

// Store keeps everything in process memory. Used when no database is configured.
type Store struct {
	mu      sync.RWMutex
	targets map[domain.TargetID]*domain.Target
	results []domain.CheckResult
	alerts  map[domain.TargetID]repo.AlertRecord
	nextID  int64
}

func New() *Store {
	return &Store{
		targets: make(map[domain.TargetID]*domain.Target),
		results: make([]domain.CheckResult, 0, 128),
		alerts:  make(map[domain.TargetID]repo.AlertRecord),
	}
}

func (m *Store) Close() error { return nil }

// ---- TargetStore ----

func (m *Store) Add(ctx context.Context, t *domain.Target) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.targets {
		if strings.EqualFold(existing.URL, t.URL) {
			return repo.ErrDuplicate
		}
	}
	if t.ID == "" {
		t.ID = domain.TargetID(uuid.NewString())
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	cp := *t
	m.targets[t.ID] = &cp
	return nil
}

func (m *Store) Get(ctx context.Context, id domain.TargetID) (*domain.Target, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.targets[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *Store) GetByURL(ctx context.Context, url string) (*domain.Target, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.targets {
		if strings.EqualFold(t.URL, url) {
			cp := *t
			return &cp, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (m *Store) List(ctx context.Context) ([]domain.Target, error) {
	return m.list(false), nil
}

func (m *Store) ListEnabled(ctx context.Context) ([]domain.Target, error) {
	return m.list(true), nil
}

func (m *Store) list(enabledOnly bool) []domain.Target {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Target, 0, len(m.targets))
	for _, t := range m.targets {
		if enabledOnly && !t.Enabled {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (m *Store) Update(ctx context.Context, t *domain.Target) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.targets[t.ID]
	if !ok {
		return repo.ErrNotFound
	}
	for id, existing := range m.targets {
		if id != t.ID && strings.EqualFold(existing.URL, t.URL) {
			return repo.ErrDuplicate
		}
	}
	t.CreatedAt = cur.CreatedAt
	t.UpdatedAt = time.Now().UTC()
	cp := *t
	m.targets[t.ID] = &cp
	return nil
}

func (m *Store) Delete(ctx context.Context, id domain.TargetID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.targets[id]; !ok {
		return repo.ErrNotFound
	}
	delete(m.targets, id)
	delete(m.alerts, id)
	kept := m.results[:0]
	for _, r := range m.results {
		if r.TargetID != id {
			kept = append(kept, r)
		}
	}
	m.results = kept
	return nil
}

// ---- ResultStore ----

func (m *Store) Append(ctx context.Context, r *domain.CheckResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	r.ID = m.nextID
	if r.CheckedAt.IsZero() {
		r.CheckedAt = time.Now().UTC()
	}
	m.results = append(m.results, *r)
	return nil
}

func (m *Store) Latest(ctx context.Context, id domain.TargetID) (*domain.CheckResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latestLocked(id), nil
}

func (m *Store) latestLocked(id domain.TargetID) *domain.CheckResult {
	var latest *domain.CheckResult
	for i := range m.results {
		r := &m.results[i]
		if r.TargetID != id {
			continue
		}
		if latest == nil || r.CheckedAt.After(latest.CheckedAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil
	}
	cp := *latest
	return &cp
}

func (m *Store) Query(ctx context.Context, id domain.TargetID, from, to time.Time) ([]domain.CheckResult, error) {
	return m.Search(ctx, repo.HistoryFilter{TargetID: id, From: from, To: to})
}

func (m *Store) Search(ctx context.Context, f repo.HistoryFilter) ([]domain.CheckResult, error) {
	m.mu.RLock()
	out := make([]domain.CheckResult, 0)
	for _, r := range m.results {
		if f.TargetID != "" && r.TargetID != f.TargetID {
			continue
		}
		if f.Up != nil && r.Up != *f.Up {
			continue
		}
		if !f.From.IsZero() && r.CheckedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && r.CheckedAt.After(f.To) {
			continue
		}
		out = append(out, r)
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CheckedAt.Equal(out[j].CheckedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CheckedAt.After(out[j].CheckedAt)
	})
	return out, nil
}

func (m *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n := m.deleteBatch(cutoff, repo.PruneBatchSize)
		total += n
		if n < repo.PruneBatchSize {
			return total, nil
		}
	}
}

func (m *Store) deleteBatch(cutoff time.Time, limit int) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	kept := m.results[:0]
	for _, r := range m.results {
		if int(n) < limit && r.CheckedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	m.results = kept
	return n
}

// ---- StatusReader ----

func (m *Store) LatestAll(ctx context.Context) ([]repo.LatestRow, error) {
	targets := m.list(false)
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]repo.LatestRow, 0, len(targets))
	for _, t := range targets {
		out = append(out, repo.LatestRow{Target: t, Check: m.latestLocked(t.ID)})
	}
	return out, nil
}

// ---- AlertStore ----

func (m *Store) GetAlert(ctx context.Context, id domain.TargetID) (*repo.AlertRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.alerts[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *Store) SetAlert(ctx context.Context, id domain.TargetID, lastState bool, sentAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ts *time.Time
	if !sentAt.IsZero() {
		ts = &sentAt
	}
	m.alerts[id] = repo.AlertRecord{TargetID: id, LastState: lastState, LastSentAt: ts}
	return nil
}
