//go:build integration

package postgres

// go test -tags=integration ./internal/repo/postgres -run AlertsCRUD -count=1

import (
	"context"
	"testing"
	"time"

	"github.com/hamed0406/uptimemonitor/internal/domain"
)

func TestAlertsCRUD(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	id := domain.TargetID("alerts-crud-T1")
	t.Cleanup(func() { _, _ = store.pool.Exec(ctx, `DELETE FROM alerts WHERE target_id = $1`, string(id)) })

	// none yet
	rec, err := store.GetAlert(ctx, id)
	if err != nil || rec != nil {
		t.Fatalf("expected nil, got %+v err=%v", rec, err)
	}

	// set (no sent time)
	if err := store.SetAlert(ctx, id, false, time.Time{}); err != nil {
		t.Fatalf("set: %v", err)
	}
	rec, err = store.GetAlert(ctx, id)
	if err != nil || rec == nil || rec.LastSentAt != nil || rec.LastState != false {
		t.Fatalf("unexpected: %+v err=%v", rec, err)
	}

	// set with sent time
	now := time.Now()
	if err := store.SetAlert(ctx, id, true, now); err != nil {
		t.Fatalf("set2: %v", err)
	}
	rec, err = store.GetAlert(ctx, id)
	if err != nil || rec == nil || rec.LastSentAt == nil || rec.LastState != true {
		t.Fatalf("unexpected2: %+v err=%v", rec, err)
	}
}
