package httpapi

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/guregu/null/v5"

	"github.com/hamed0406/uptimemonitor/internal/domain"
	"github.com/hamed0406/uptimemonitor/internal/repo"
)

const (
	defaultHistoryHours = 24
	maxHistoryHours     = 720
	defaultUptimeDays   = 30
	maxUptimeDays       = 365
	defaultDailyDays    = 30
	maxDailyDays        = 90
)

// statusRow flattens a target and its latest check. Check fields are null
// until the first probe lands.
type statusRow struct {
	TargetID     domain.TargetID `json:"target_id"`
	Name         string          `json:"name"`
	URL          string          `json:"url"`
	Enabled      bool            `json:"enabled"`
	Up           null.Bool       `json:"up"`
	LastChecked  null.Time       `json:"last_checked"`
	LatencyMS    null.Int        `json:"latency_ms"`
	HTTPStatus   null.Int        `json:"http_status"`
	ErrorType    null.String     `json:"error_type"`
	ErrorMessage null.String     `json:"error_message"`
}

func newStatusRow(row repo.LatestRow) statusRow {
	out := statusRow{
		TargetID: row.Target.ID,
		Name:     row.Target.Name,
		URL:      row.Target.URL,
		Enabled:  row.Target.Enabled,
	}
	if c := row.Check; c != nil {
		out.Up = null.BoolFrom(c.Up)
		out.LastChecked = null.TimeFrom(c.CheckedAt)
		out.LatencyMS = c.LatencyMS
		out.HTTPStatus = c.HTTPStatus
		out.ErrorType = null.NewString(string(c.ErrorType), c.ErrorType != domain.ErrorNone)
		out.ErrorMessage = c.ErrorMessage
	}
	return out
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	rows, err := s.Uptime.Status(r.Context())
	if err != nil {
		s.serverError(w, "status_error", err)
		return
	}
	out := make([]statusRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, newStatusRow(row))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTargetHistory(w http.ResponseWriter, r *http.Request) {
	hours, ok := intParam(r, "hours", defaultHistoryHours, 1, maxHistoryHours)
	if !ok {
		writeError(w, http.StatusBadRequest, "hours must be 1..720")
		return
	}
	t := s.loadTarget(w, r)
	if t == nil {
		return
	}
	rows, err := s.Uptime.History(r.Context(), t.ID, hours)
	if err != nil {
		s.serverError(w, "history_error", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(rows))
}

// handleHistory searches across targets: ?hours=&target_id=&up=
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	hours, ok := intParam(r, "hours", defaultHistoryHours, 1, maxHistoryHours)
	if !ok {
		writeError(w, http.StatusBadRequest, "hours must be 1..720")
		return
	}
	now := s.Clock.Now()
	f := repo.HistoryFilter{
		TargetID: domain.TargetID(r.URL.Query().Get("target_id")),
		From:     now.Add(-time.Duration(hours) * time.Hour),
		To:       now,
	}
	if raw := r.URL.Query().Get("up"); raw != "" {
		up, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "up must be true or false")
			return
		}
		f.Up = &up
	}
	rows, err := s.History.Search(r.Context(), f)
	if err != nil {
		s.serverError(w, "history_search_error", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(rows))
}

type uptimeResponse struct {
	domain.Uptime
	Name string `json:"name"`
	Days int    `json:"days"`
}

func (s *Server) handleTargetUptime(w http.ResponseWriter, r *http.Request) {
	days, ok := intParam(r, "days", defaultUptimeDays, 1, maxUptimeDays)
	if !ok {
		writeError(w, http.StatusBadRequest, "days must be 1..365")
		return
	}
	t := s.loadTarget(w, r)
	if t == nil {
		return
	}
	u, err := s.Uptime.UptimePercentage(r.Context(), t.ID, time.Duration(days)*24*time.Hour)
	if err != nil {
		s.serverError(w, "uptime_error", err)
		return
	}
	u.UptimePercentage = round2(u.UptimePercentage)
	writeJSON(w, http.StatusOK, uptimeResponse{Uptime: u, Name: t.Name, Days: days})
}

func (s *Server) handleTargetDaily(w http.ResponseWriter, r *http.Request) {
	days, ok := intParam(r, "days", defaultDailyDays, 1, maxDailyDays)
	if !ok {
		writeError(w, http.StatusBadRequest, "days must be 1..90")
		return
	}
	t := s.loadTarget(w, r)
	if t == nil {
		return
	}
	buckets, err := s.Uptime.DailyAggregates(r.Context(), t.ID, days)
	if err != nil {
		s.serverError(w, "daily_error", err)
		return
	}
	writeJSON(w, http.StatusOK, buckets)
}

func nonNil(rows []domain.CheckResult) []domain.CheckResult {
	if rows == nil {
		return []domain.CheckResult{}
	}
	return rows
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
