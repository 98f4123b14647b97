package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hamed0406/uptimemonitor/internal/clock"
	"github.com/hamed0406/uptimemonitor/internal/config"
	"github.com/hamed0406/uptimemonitor/internal/httpapi"
	apimw "github.com/hamed0406/uptimemonitor/internal/httpapi/middleware"
	"github.com/hamed0406/uptimemonitor/internal/logging"
	"github.com/hamed0406/uptimemonitor/internal/notify"
	"github.com/hamed0406/uptimemonitor/internal/probe"
	"github.com/hamed0406/uptimemonitor/internal/repo"
	"github.com/hamed0406/uptimemonitor/internal/repo/memory"
	"github.com/hamed0406/uptimemonitor/internal/repo/postgres"
	"github.com/hamed0406/uptimemonitor/internal/repo/sqlite"
	"github.com/hamed0406/uptimemonitor/internal/scheduler"
	"github.com/hamed0406/uptimemonitor/internal/uptime"
)

func main() {
	_ = godotenv.Load() // .env is optional

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}
	logger, err := logging.NewLogger(cfg.LogDir, cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("exit_error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (repo.Store, error) {
	switch {
	case cfg.DatabaseURL != "":
		st, err := postgres.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			return nil, multierr.Append(err, st.Close())
		}
		logger.Info("store_opened", zap.String("kind", "postgres"))
		return st, nil
	case cfg.SQLitePath != "":
		st, err := sqlite.Open(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("store_opened", zap.String("kind", "sqlite"), zap.String("path", cfg.SQLitePath))
		return st, nil
	default:
		logger.Warn("store_opened", zap.String("kind", "memory"))
		return memory.New(), nil
	}
}

func buildNotifier(ctx context.Context, cfg config.Config, logger *zap.Logger) (notify.Multi, error) {
	var out notify.Multi
	if s := notify.NewSlack(cfg.SlackWebhookURL); s != nil {
		out = append(out, s)
	}
	if cfg.RedisAddr != "" {
		r, err := notify.NewRedis(ctx, cfg.RedisAddr, cfg.RedisChannel)
		if err != nil {
			return nil, multierr.Append(err, out.Close())
		}
		out = append(out, r)
		logger.Info("redis_notifier", zap.String("addr", cfg.RedisAddr), zap.String("channel", r.Channel()))
	}
	return out, nil
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) (err error) {
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, store.Close()) }()

	clk := clock.Real{}
	sched := scheduler.New(logger, store, store, probe.NewHTTPProber(clk), clk, scheduler.Config{
		Concurrency:   cfg.Concurrency,
		ShutdownGrace: cfg.ShutdownGrace,
	})

	if cfg.CheckOnce {
		n, err := sched.RunOnce(ctx)
		logger.Info("check_once_done", zap.Int("probes", n))
		return err
	}

	notifier, err := buildNotifier(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, notifier.Close()) }()

	agg := uptime.New(store, store, clk, cfg.Location)
	api := httpapi.NewServer(logger, store, store, agg)
	api.Scheduler = sched
	keys := apimw.Keys{Public: cfg.PublicAPIKeys, Admin: cfg.AdminAPIKeys}
	if len(keys.Public) == 0 && len(keys.Admin) == 0 {
		logger.Warn("auth_disabled")
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Router(keys, cfg.AllowedOrigins, cfg.PublicRPM, cfg.PublicBurst, cfg.AdminRPM, cfg.AdminBurst),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.RunForever(gctx, cfg.TickPeriod)
	})
	g.Go(func() error {
		scheduler.NewPruner(logger, store, clk, cfg.Retention(), cfg.PruneInterval).Run(gctx)
		return nil
	})
	if len(notifier) > 0 {
		g.Go(func() error {
			alerter := scheduler.NewAlerter(logger, store, store, notifier, clk, scheduler.AlerterConfig{
				AlertOnRecovery: cfg.AlertOnRecovery,
				Cooldown:        cfg.AlertCooldown,
				PollInterval:    cfg.AlertPollInterval,
			})
			if err := alerter.Run(gctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		logger.Info("api_listen", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace+5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("shutdown_complete")
	return err
}
