package probe

import (
	"context"

	"github.com/hamed0406/uptimemonitor/internal/domain"
)

// Prober performs one check against a target and always returns a result.
// Failures are reported through the result, never as an error or panic.
type Prober interface {
	Probe(ctx context.Context, t domain.Target) domain.CheckResult
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context, t domain.Target) domain.CheckResult

func (f ProberFunc) Probe(ctx context.Context, t domain.Target) domain.CheckResult {
	return f(ctx, t)
}
