// cmd/preflight/main.go
package main

import (
	"fmt"
	"os"
	"strings"
	_ "time/tzdata"

	"github.com/joho/godotenv"

	"github.com/hamed0406/uptimemonitor/internal/config"
)

func main() {
	fail := func(msg string) {
		fmt.Fprintln(os.Stderr, "✖", msg)
		os.Exit(1)
	}
	warn := func(msg string) { fmt.Fprintln(os.Stderr, "⚠", msg) }
	ok := func(msg string) { fmt.Println("✔", msg) }

	_ = godotenv.Load()

	// config.Load validates ranges and APP_TIMEZONE
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fail(err.Error())
	}

	if len(cfg.AdminAPIKeys) == 0 {
		warn("ADMIN_API_KEYS is empty (write routes are open).")
	}
	if len(cfg.PublicAPIKeys) == 0 && len(cfg.AdminAPIKeys) == 0 {
		warn("no API keys configured; all routes are open.")
	}
	for _, name := range []string{"ADMIN_API_KEYS", "PUBLIC_API_KEYS"} {
		if strings.Contains(os.Getenv(name), " ") {
			warn(name + " contains spaces; use comma-separated with no spaces, e.g. key1,key2")
		}
	}

	ok("API_ADDR=" + cfg.Addr)
	ok(fmt.Sprintf("APP_TIMEZONE=%s CONCURRENCY=%d RETENTION_DAYS=%d", cfg.Location, cfg.Concurrency, cfg.RetentionDays))

	switch {
	case cfg.DatabaseURL != "":
		ok("DATABASE_URL present (postgres)")
	case cfg.SQLitePath != "":
		ok("SQLITE_PATH=" + cfg.SQLitePath)
	default:
		warn("DATABASE_URL and SQLITE_PATH empty; results are kept in memory and lost on restart.")
	}

	if len(cfg.AllowedOrigins) == 0 {
		warn("ALLOWED_ORIGINS empty; browsers will be blocked by CORS for cross-origin requests.")
	} else {
		ok("ALLOWED_ORIGINS=" + strings.Join(cfg.AllowedOrigins, ","))
	}

	if cfg.AlertsEnabled() {
		ok("alerts enabled")
	} else {
		warn("no SLACK_WEBHOOK_URL or REDIS_ADDR; alerts are off.")
	}

	ok("preflight passed")
}
