package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/uptimemonitor/internal/clock"
	"github.com/hamed0406/uptimemonitor/internal/domain"
	"github.com/hamed0406/uptimemonitor/internal/notify"
	"github.com/hamed0406/uptimemonitor/internal/repo"
)

type AlerterConfig struct {
	AlertOnRecovery bool
	Cooldown        time.Duration
	PollInterval    time.Duration
}

// Alerter watches the latest result per target and notifies on up/down
// transitions.
type Alerter struct {
	log      *zap.Logger
	status   repo.StatusReader
	alertDB  repo.AlertStore
	notifier notify.Notifier
	clock    clock.Clock
	cfg      AlerterConfig
}

func NewAlerter(
	logger *zap.Logger,
	status repo.StatusReader,
	alertDB repo.AlertStore,
	notifier notify.Notifier,
	clk clock.Clock,
	cfg AlerterConfig,
) *Alerter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	return &Alerter{
		log:      logger,
		status:   status,
		alertDB:  alertDB,
		notifier: notifier,
		clock:    clk,
		cfg:      cfg,
	}
}

func (a *Alerter) Run(ctx context.Context) error {
	t := time.NewTicker(a.cfg.PollInterval)
	defer t.Stop()

	// initial pass
	a.scan(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			a.scan(ctx)
		}
	}
}

func (a *Alerter) scan(ctx context.Context) {
	if err := a.scanOnce(ctx); err != nil && ctx.Err() == nil {
		a.log.Warn("alerter_scan_error", zap.Error(err))
	}
}

func (a *Alerter) scanOnce(ctx context.Context) error {
	rows, err := a.status.LatestAll(ctx)
	if err != nil {
		return fmt.Errorf("latest status: %w", err)
	}

	now := a.clock.Now()

	for _, r := range rows {
		if r.Check == nil || !r.Target.Enabled {
			continue
		}
		id := r.Target.ID
		up := r.Check.Up

		rec, err := a.alertDB.GetAlert(ctx, id)
		if err != nil {
			a.log.Warn("alerter_state_error", zap.String("target_id", string(id)), zap.Error(err))
			continue
		}

		stateChanged := rec == nil || rec.LastState != up

		// cooldown only gates DOWN alerts
		cooled := true
		if rec != nil && rec.LastSentAt != nil {
			cooled = now.Sub(*rec.LastSentAt) >= a.cfg.Cooldown
		}

		downAlert := stateChanged && !up && cooled
		recoveryAlert := stateChanged && up && rec != nil && a.cfg.AlertOnRecovery

		if downAlert || recoveryAlert {
			title, text := alertMessage(r.Target, *r.Check)
			if err := a.notifier.Send(ctx, title, text); err != nil {
				a.log.Warn("alerter_send_error", zap.String("target_id", string(id)), zap.Error(err))
			} else {
				a.log.Info("alerter_sent", zap.String("target_id", string(id)), zap.Bool("up", up))
			}
			if err := a.alertDB.SetAlert(ctx, id, up, now); err != nil {
				a.log.Warn("alerter_state_error", zap.String("target_id", string(id)), zap.Error(err))
			}
			continue
		}

		switch {
		case !stateChanged:
		case !up:
			// DOWN inside the cooldown: the record stays on the last
			// announced state, so the outage is sent once the cooldown
			// lapses and no recovery follows a silent DOWN
			a.log.Debug("alerter_cooldown", zap.String("target_id", string(id)))
		default:
			// recovery alerts off, or first sighting while up
			var keep time.Time
			if rec != nil && rec.LastSentAt != nil {
				keep = *rec.LastSentAt
			}
			if err := a.alertDB.SetAlert(ctx, id, up, keep); err != nil {
				a.log.Warn("alerter_state_error", zap.String("target_id", string(id)), zap.Error(err))
			}
		}
	}

	return nil
}

func alertMessage(t domain.Target, c domain.CheckResult) (string, string) {
	title := "🔴 Target DOWN"
	if c.Up {
		title = "🟢 Target RECOVERED"
	}

	httpTxt := "n/a"
	if c.HTTPStatus.Valid {
		httpTxt = fmt.Sprintf("%d", c.HTTPStatus.Int64)
	}
	latencyTxt := "n/a"
	if c.LatencyMS.Valid {
		latencyTxt = fmt.Sprintf("%d ms", c.LatencyMS.Int64)
	}
	reason := string(c.ErrorType)
	if c.ErrorMessage.Valid {
		reason = c.ErrorMessage.String
	}
	if reason == "" {
		reason = "ok"
	}

	text := fmt.Sprintf(
		"Name: %s\nURL: %s\nHTTP: %s\nLatency: %s\nReason: %s\nChecked: %s",
		t.Name, t.URL, httpTxt, latencyTxt, reason, c.CheckedAt.Format(time.RFC3339),
	)
	return title, text
}
