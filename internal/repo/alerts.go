package repo

import (
	"context"
	"time"

	"github.com/hamed0406/uptimemonitor/internal/domain"
)

// AlertRecord holds the last up/down state we acted on for a target and the
// last time a notification went out (used for cooldown).
type AlertRecord struct {
	TargetID   domain.TargetID
	LastState  bool
	LastSentAt *time.Time
}

// AlertStore persists alert state between alerter scans.
type AlertStore interface {
	// GetAlert returns nil, nil if there's no record yet.
	GetAlert(ctx context.Context, id domain.TargetID) (*AlertRecord, error)
	// SetAlert upserts the record. A zero sentAt is stored as NULL.
	SetAlert(ctx context.Context, id domain.TargetID, lastState bool, sentAt time.Time) error
}
