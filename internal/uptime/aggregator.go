// Package uptime answers read queries over stored check results: windowed
// uptime, per-day buckets in the configured zone, raw history and current
// status.
package uptime

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/guregu/null/v5"

	"github.com/hamed0406/uptimemonitor/internal/clock"
	"github.com/hamed0406/uptimemonitor/internal/domain"
	"github.com/hamed0406/uptimemonitor/internal/repo"
)

const dateLayout = "2006-01-02"

var ErrInvalidWindow = errors.New("window must be positive")

type Aggregator struct {
	results repo.ResultStore
	status  repo.StatusReader
	clock   clock.Clock
	loc     *time.Location
}

// New builds an Aggregator. Days are bucketed in loc (UTC when nil).
func New(results repo.ResultStore, status repo.StatusReader, clk clock.Clock, loc *time.Location) *Aggregator {
	if clk == nil {
		clk = clock.Real{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Aggregator{results: results, status: status, clock: clk, loc: loc}
}

func (a *Aggregator) Location() *time.Location { return a.loc }

// UptimePercentage covers [now-window, now]. With no rows at all the target
// is reported as fully up.
func (a *Aggregator) UptimePercentage(ctx context.Context, id domain.TargetID, window time.Duration) (domain.Uptime, error) {
	out := domain.Uptime{TargetID: id, UptimePercentage: 100}
	if window <= 0 {
		return out, ErrInvalidWindow
	}
	now := a.clock.Now()
	rows, err := a.results.Query(ctx, id, now.Add(-window), now)
	if err != nil {
		return out, fmt.Errorf("query results for %s: %w", id, err)
	}
	for _, r := range rows {
		out.TotalChecks++
		if r.Up {
			out.UpChecks++
		}
	}
	out.DownChecks = out.TotalChecks - out.UpChecks
	if out.TotalChecks > 0 {
		out.UptimePercentage = 100 * float64(out.UpChecks) / float64(out.TotalChecks)
	}
	return out, nil
}

// DailyAggregates returns one bucket per calendar day for the trailing days
// (today included), oldest first. Days without rows carry a null percentage.
func (a *Aggregator) DailyAggregates(ctx context.Context, id domain.TargetID, days int) ([]domain.DailyAggregate, error) {
	if days < 1 {
		return nil, ErrInvalidWindow
	}
	now := a.clock.Now().In(a.loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, a.loc)
	first := today.AddDate(0, 0, -(days - 1))

	rows, err := a.results.Query(ctx, id, first, now)
	if err != nil {
		return nil, fmt.Errorf("query results for %s: %w", id, err)
	}

	out := make([]domain.DailyAggregate, days)
	index := make(map[string]int, days)
	for i := range out {
		key := first.AddDate(0, 0, i).Format(dateLayout)
		out[i].Date = key
		index[key] = i
	}
	for _, r := range rows {
		i, ok := index[r.CheckedAt.In(a.loc).Format(dateLayout)]
		if !ok {
			continue
		}
		out[i].TotalChecks++
		if r.Up {
			out[i].UpChecks++
		} else {
			out[i].DownChecks++
		}
	}
	for i := range out {
		if out[i].TotalChecks == 0 {
			continue
		}
		pct := 100 * float64(out[i].UpChecks) / float64(out[i].TotalChecks)
		out[i].UptimePercentage = null.FloatFrom(round2(pct))
	}
	return out, nil
}

// History returns the last hours of results, newest first.
func (a *Aggregator) History(ctx context.Context, id domain.TargetID, hours int) ([]domain.CheckResult, error) {
	if hours < 1 {
		return nil, ErrInvalidWindow
	}
	now := a.clock.Now()
	rows, err := a.results.Query(ctx, id, now.Add(-time.Duration(hours)*time.Hour), now)
	if err != nil {
		return nil, fmt.Errorf("query results for %s: %w", id, err)
	}
	return rows, nil
}

// Status returns every target with its latest result (nil if never checked).
func (a *Aggregator) Status(ctx context.Context) ([]repo.LatestRow, error) {
	rows, err := a.status.LatestAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest status: %w", err)
	}
	return rows, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
