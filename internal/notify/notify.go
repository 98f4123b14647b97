// Package notify delivers alert messages. Every sink implements Notifier.
package notify

import (
	"context"

	"go.uber.org/multierr"
)

type Notifier interface {
	Send(ctx context.Context, title, text string) error
}

// Multi fans a message out to every notifier and returns all failures combined.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, title, text string) error {
	var errs error
	for _, n := range m {
		if n == nil {
			continue
		}
		errs = multierr.Append(errs, n.Send(ctx, title, text))
	}
	return errs
}

// Close releases notifiers that hold connections.
func (m Multi) Close() error {
	var errs error
	for _, n := range m {
		if c, ok := n.(interface{ Close() error }); ok {
			errs = multierr.Append(errs, c.Close())
		}
	}
	return errs
}
