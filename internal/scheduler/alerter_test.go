package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/guregu/null/v5"
	"go.uber.org/zap"

	"github.com/hamed0406/uptimemonitor/internal/clock"
	"github.com/hamed0406/uptimemonitor/internal/domain"
	"github.com/hamed0406/uptimemonitor/internal/repo"
	"github.com/hamed0406/uptimemonitor/internal/repo/memory"
)

// ---- shared helpers ----

type fakeStatus struct {
	rows []repo.LatestRow
	err  error
}

func (f *fakeStatus) LatestAll(ctx context.Context) ([]repo.LatestRow, error) {
	return f.rows, f.err
}

func row(id, url string, up bool, httpStatus int64, ms int64) repo.LatestRow {
	c := &domain.CheckResult{
		TargetID:   domain.TargetID(id),
		Up:         up,
		HTTPStatus: null.IntFrom(httpStatus),
		LatencyMS:  null.IntFrom(ms),
		CheckedAt:  t0,
	}
	if !up {
		c.ErrorType = domain.ErrorHTTP
	}
	return repo.LatestRow{
		Target: domain.Target{ID: domain.TargetID(id), Name: id, URL: url, Enabled: true},
		Check:  c,
	}
}

type memNotifier struct {
	n      int
	titles []string
	err    error
}

func (m *memNotifier) Send(ctx context.Context, title, text string) error {
	m.n++
	m.titles = append(m.titles, title)
	return m.err
}

// ---- tests ----

func TestAlerter_SendsOnDown_RespectsCooldown(t *testing.T) {
	status := &fakeStatus{rows: []repo.LatestRow{row("A", "https://a", false, 500, 100)}}
	alerts := memory.New()
	nt := &memNotifier{}
	clk := clock.NewFake(t0)
	al := NewAlerter(zap.NewNop(), status, alerts, nt, clk, AlerterConfig{
		AlertOnRecovery: true,
		Cooldown:        time.Minute,
		PollInterval:    10 * time.Millisecond,
	})
	ctx := context.Background()

	// first scan -> should alert
	if err := al.scanOnce(ctx); err != nil {
		t.Fatal(err)
	}
	if nt.n != 1 {
		t.Fatalf("want 1 alert, got %d", nt.n)
	}

	// same DOWN again -> no new alert
	if err := al.scanOnce(ctx); err != nil {
		t.Fatal(err)
	}
	if nt.n != 1 {
		t.Fatalf("want no repeat, got %d", nt.n)
	}

	// flip to UP -> recovery alert allowed
	clk.Advance(10 * time.Second)
	status.rows = []repo.LatestRow{row("A", "https://a", true, 200, 90)}
	if err := al.scanOnce(ctx); err != nil {
		t.Fatal(err)
	}
	if nt.n != 2 || nt.titles[1] != "🟢 Target RECOVERED" {
		t.Fatalf("want recovery alert, got %d %v", nt.n, nt.titles)
	}

	// DOWN again inside the cooldown of the last send -> deferred
	clk.Advance(10 * time.Second)
	status.rows = []repo.LatestRow{row("A", "https://a", false, 503, 80)}
	if err := al.scanOnce(ctx); err != nil {
		t.Fatal(err)
	}
	if nt.n != 2 {
		t.Fatalf("cooldown should suppress, got %d", nt.n)
	}
	rec, _ := alerts.GetAlert(ctx, "A")
	if rec == nil || !rec.LastState {
		t.Fatalf("record should stay on the announced up state: %+v", rec)
	}

	// still down once the cooldown lapses -> announced
	clk.Advance(time.Minute)
	if err := al.scanOnce(ctx); err != nil {
		t.Fatal(err)
	}
	if nt.n != 3 || nt.titles[2] != "🔴 Target DOWN" {
		t.Fatalf("want deferred down alert, got %d %v", nt.n, nt.titles)
	}
}

func TestAlerter_FlappingHonoursCooldown(t *testing.T) {
	for _, recovery := range []bool{false, true} {
		status := &fakeStatus{}
		alerts := memory.New()
		nt := &memNotifier{}
		clk := clock.NewFake(t0)
		al := NewAlerter(zap.NewNop(), status, alerts, nt, clk, AlerterConfig{
			AlertOnRecovery: recovery,
			Cooldown:        10 * time.Minute,
		})
		ctx := context.Background()

		downs, ups := 0, 0
		for i, up := range []bool{false, true, false, true, false, true} {
			clk.Set(t0.Add(time.Duration(i) * time.Minute))
			status.rows = []repo.LatestRow{row("F", "https://f", up, 200, 10)}
			if err := al.scanOnce(ctx); err != nil {
				t.Fatal(err)
			}
		}
		for _, title := range nt.titles {
			switch title {
			case "🔴 Target DOWN":
				downs++
			case "🟢 Target RECOVERED":
				ups++
			}
		}
		if downs != 1 {
			t.Fatalf("recovery=%v: want 1 down alert inside the cooldown, got %d", recovery, downs)
		}
		// only the announced outage may be followed by a recovery
		wantUps := 0
		if recovery {
			wantUps = 1
		}
		if ups != wantUps {
			t.Fatalf("recovery=%v: want %d recovery alerts, got %d (%v)", recovery, wantUps, ups, nt.titles)
		}
	}
}

func TestAlerter_NoRecoveryIfDisabled(t *testing.T) {
	status := &fakeStatus{rows: []repo.LatestRow{row("B", "https://b", true, 200, 50)}}
	nt := &memNotifier{}
	al := NewAlerter(nil, status, memory.New(), nt, clock.NewFake(t0), AlerterConfig{})
	ctx := context.Background()

	// first sighting while up -> nothing to report
	if err := al.scanOnce(ctx); err != nil {
		t.Fatal(err)
	}
	if nt.n != 0 {
		t.Fatalf("unexpected alert: %d", nt.n)
	}

	// go DOWN -> should alert
	status.rows = []repo.LatestRow{row("B", "https://b", false, 500, 120)}
	if err := al.scanOnce(ctx); err != nil {
		t.Fatal(err)
	}
	if nt.n != 1 {
		t.Fatalf("want one down alert, got %d", nt.n)
	}

	// back UP with recovery alerts off -> silent
	status.rows = []repo.LatestRow{row("B", "https://b", true, 200, 40)}
	_ = al.scanOnce(ctx)
	if nt.n != 1 {
		t.Fatalf("recovery alert sent while disabled")
	}
}

func TestAlerter_SkipsUncheckedAndDisabled(t *testing.T) {
	disabled := row("C", "https://c", false, 500, 1)
	disabled.Target.Enabled = false
	status := &fakeStatus{rows: []repo.LatestRow{
		{Target: domain.Target{ID: "N", URL: "https://n", Enabled: true}},
		disabled,
	}}
	nt := &memNotifier{}
	al := NewAlerter(nil, status, memory.New(), nt, nil, AlerterConfig{})
	if err := al.scanOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if nt.n != 0 {
		t.Fatalf("unexpected alerts: %d", nt.n)
	}
}

func TestAlerter_ErrorsDoNotStopScan(t *testing.T) {
	status := &fakeStatus{err: errors.New("db gone")}
	al := NewAlerter(nil, status, memory.New(), &memNotifier{}, nil, AlerterConfig{})
	if err := al.scanOnce(context.Background()); err == nil {
		t.Fatalf("expected read error")
	}

	// a failing notifier still records the state so we don't spam retries
	status = &fakeStatus{rows: []repo.LatestRow{row("D", "https://d", false, 500, 1)}}
	alerts := memory.New()
	nt := &memNotifier{err: errors.New("slack down")}
	al = NewAlerter(nil, status, alerts, nt, clock.NewFake(t0), AlerterConfig{Cooldown: time.Hour})
	_ = al.scanOnce(context.Background())
	_ = al.scanOnce(context.Background())
	if nt.n != 1 {
		t.Fatalf("want a single attempt, got %d", nt.n)
	}
}

func TestAlertMessage_NullFields(t *testing.T) {
	_, text := alertMessage(
		domain.Target{Name: "api", URL: "https://api.test"},
		domain.CheckResult{CheckedAt: t0, ErrorType: domain.ErrorTimeout, ErrorMessage: null.StringFrom("timeout")},
	)
	want := "Name: api\nURL: https://api.test\nHTTP: n/a\nLatency: n/a\nReason: timeout\nChecked: 2025-06-01T12:00:00Z"
	if text != want {
		t.Fatalf("got %q", text)
	}
}
