package repo

import (
	"context"
	"errors"
	"time"

	"github.com/hamed0406/uptimemonitor/internal/domain"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate")
)

// Ports. The memory, sqlite and postgres adapters implement all of them.

// TargetLister is the part of the registry the scheduler polls each tick.
type TargetLister interface {
	ListEnabled(ctx context.Context) ([]domain.Target, error)
}

type TargetStore interface {
	TargetLister
	Add(ctx context.Context, t *domain.Target) error
	Get(ctx context.Context, id domain.TargetID) (*domain.Target, error)
	GetByURL(ctx context.Context, url string) (*domain.Target, error)
	List(ctx context.Context) ([]domain.Target, error)
	Update(ctx context.Context, t *domain.Target) error
	Delete(ctx context.Context, id domain.TargetID) error
}

// ResultStore is append-only storage for check results.
type ResultStore interface {
	Append(ctx context.Context, r *domain.CheckResult) error
	// Latest returns nil, nil when the target has no results yet.
	Latest(ctx context.Context, id domain.TargetID) (*domain.CheckResult, error)
	// Query returns results with from <= checked_at <= to, newest first.
	Query(ctx context.Context, id domain.TargetID, from, to time.Time) ([]domain.CheckResult, error)
	// DeleteOlderThan removes results with checked_at < cutoff and reports how many.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// LatestRow pairs a target with its most recent result (nil if never checked).
type LatestRow struct {
	Target domain.Target
	Check  *domain.CheckResult
}

type StatusReader interface {
	LatestAll(ctx context.Context) ([]LatestRow, error)
}

type HistoryFilter struct {
	TargetID domain.TargetID // empty means all targets
	Up       *bool
	From     time.Time
	To       time.Time
}

type HistorySearcher interface {
	Search(ctx context.Context, f HistoryFilter) ([]domain.CheckResult, error)
}

// Store is everything a storage backend provides.
type Store interface {
	TargetStore
	ResultStore
	StatusReader
	HistorySearcher
	AlertStore
	Close() error
}

// PruneBatchSize bounds each delete so concurrent appends keep flowing.
const PruneBatchSize = 1000
