// Package httpapi exposes target management and the read-side reports over
// a chi router.
package httpapi

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/hamed0406/uptimemonitor/internal/clock"
	apimw "github.com/hamed0406/uptimemonitor/internal/httpapi/middleware"
	"github.com/hamed0406/uptimemonitor/internal/repo"
	"github.com/hamed0406/uptimemonitor/internal/scheduler"
	"github.com/hamed0406/uptimemonitor/internal/uptime"
)

// StatsProvider reports scheduler load for /healthz.
type StatsProvider interface {
	Stats() scheduler.Stats
}

type Server struct {
	Logger    *zap.Logger
	Targets   repo.TargetStore
	History   repo.HistorySearcher
	Uptime    *uptime.Aggregator
	Clock     clock.Clock
	Scheduler StatsProvider // optional
}

func NewServer(l *zap.Logger, ts repo.TargetStore, hs repo.HistorySearcher, agg *uptime.Aggregator) *Server {
	return &Server{Logger: l, Targets: ts, History: hs, Uptime: agg, Clock: clock.Real{}}
}

// Router wires routes. Reads need any key, writes need an admin key; each
// group has its own rate limit. With no origins configured no CORS headers
// are sent.
func (s *Server) Router(keys apimw.Keys, origins []string, publicRPM, publicBurst, adminRPM, adminBurst int) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(s.accessLog)
	if len(origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", s.handleHealth)
	r.Get("/api/config", s.handleConfig)

	r.Group(func(r chi.Router) {
		r.Use(apimw.RequireAny(keys))
		r.Use(apimw.RateLimit(publicRPM, publicBurst))

		r.Get("/api/targets", s.handleListTargets)
		r.Get("/api/targets/{id}", s.handleGetTarget)
		r.Get("/api/targets/{id}/history", s.handleTargetHistory)
		r.Get("/api/targets/{id}/uptime", s.handleTargetUptime)
		r.Get("/api/targets/{id}/daily", s.handleTargetDaily)
		r.Get("/api/status", s.handleStatus)
		r.Get("/api/history", s.handleHistory)
	})

	r.Group(func(r chi.Router) {
		r.Use(apimw.RequireAdmin(keys))
		r.Use(apimw.RateLimit(adminRPM, adminBurst))

		r.Post("/api/targets", s.handleAddTarget)
		r.Patch("/api/targets/{id}", s.handleUpdateTarget)
		r.Delete("/api/targets/{id}", s.handleDeleteTarget)
	})

	return r
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.Logger.Debug("http_request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok"}
	if s.Scheduler != nil {
		body["scheduler"] = s.Scheduler.Stats()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"app_timezone": s.Uptime.Location().String()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// serverError logs err and answers 500 without leaking details.
func (s *Server) serverError(w http.ResponseWriter, event string, err error) {
	s.Logger.Error(event, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

// intParam reads an optional integer query parameter bounded to [lo, hi].
func intParam(r *http.Request, name string, def, lo, hi int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < lo || v > hi {
		return 0, false
	}
	return v, true
}

func isValidHTTPURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Hostname() != ""
}

// normalizeHTTPURL lowercases scheme and host, drops default ports and a
// bare trailing slash so "https://EXAMPLE.com:443/" and
// "https://example.com" are stored as one target.
func normalizeHTTPURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host += ":" + port
	}
	u.Host = host
	if u.Path == "/" && u.RawQuery == "" && u.Fragment == "" {
		u.Path = ""
	}
	return u.String()
}
