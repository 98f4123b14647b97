package domain

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/guregu/null/v5"
)

type TargetID string

// Target is one monitored endpoint. The scheduler treats it as read-only.
type Target struct {
	ID        TargetID  `json:"id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Enabled   bool      `json:"enabled"`
	IntervalS int       `json:"interval_s"`
	TimeoutS  int       `json:"timeout_s"`
	VerifyTLS bool      `json:"verify_tls"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

const (
	DefaultIntervalS = 60
	DefaultTimeoutS  = 10

	MinIntervalS = 10
	MaxIntervalS = 3600
	MinTimeoutS  = 1
	MaxTimeoutS  = 30
	MaxNameLen   = 255
)

var ErrInvalidTarget = errors.New("invalid target")

func (t Target) Interval() time.Duration { return time.Duration(t.IntervalS) * time.Second }
func (t Target) Timeout() time.Duration  { return time.Duration(t.TimeoutS) * time.Second }

// Validate enforces the registry rules. The scheduler never calls it.
func (t Target) Validate() error {
	name := strings.TrimSpace(t.Name)
	switch {
	case name == "" || len(name) > MaxNameLen:
		return fmt.Errorf("%w: name must be 1..%d characters", ErrInvalidTarget, MaxNameLen)
	case !IsHTTPURL(t.URL):
		return fmt.Errorf("%w: url must be http(s) with a host", ErrInvalidTarget)
	case t.IntervalS < MinIntervalS || t.IntervalS > MaxIntervalS:
		return fmt.Errorf("%w: interval_s must be %d..%d", ErrInvalidTarget, MinIntervalS, MaxIntervalS)
	case t.TimeoutS < MinTimeoutS || t.TimeoutS > MaxTimeoutS:
		return fmt.Errorf("%w: timeout_s must be %d..%d", ErrInvalidTarget, MinTimeoutS, MaxTimeoutS)
	case t.TimeoutS > t.IntervalS:
		return fmt.Errorf("%w: timeout_s must not exceed interval_s", ErrInvalidTarget)
	}
	return nil
}

func IsHTTPURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Hostname() != ""
}

// ErrorType groups probe failures into a fixed vocabulary.
type ErrorType string

const (
	ErrorNone    ErrorType = ""
	ErrorDNS     ErrorType = "dns"
	ErrorConnect ErrorType = "connect"
	ErrorTLS     ErrorType = "tls"
	ErrorTimeout ErrorType = "timeout"
	ErrorHTTP    ErrorType = "http"
	ErrorUnknown ErrorType = "unknown"
)

const MaxErrorMessageLen = 500

// CheckResult is the immutable record of one probe. Up is always set;
// LatencyMS, HTTPStatus and ErrorMessage are null when absent.
type CheckResult struct {
	ID           int64       `json:"id"`
	TargetID     TargetID    `json:"target_id"`
	CheckedAt    time.Time   `json:"checked_at"`
	Up           bool        `json:"up"`
	LatencyMS    null.Int    `json:"latency_ms"`
	HTTPStatus   null.Int    `json:"http_status"`
	ErrorType    ErrorType   `json:"error_type,omitempty"`
	ErrorMessage null.String `json:"error_message"`
}

// DailyAggregate is one calendar day of results. A null UptimePercentage
// means the day has no data.
type DailyAggregate struct {
	Date             string     `json:"date"`
	TotalChecks      int        `json:"total_checks"`
	UpChecks         int        `json:"up_checks"`
	DownChecks       int        `json:"down_checks"`
	UptimePercentage null.Float `json:"uptime_percentage"`
}

func (d DailyAggregate) HasData() bool { return d.TotalChecks > 0 }

type Uptime struct {
	TargetID         TargetID `json:"target_id"`
	UptimePercentage float64  `json:"uptime_percentage"`
	TotalChecks      int      `json:"total_checks"`
	UpChecks         int      `json:"up_checks"`
	DownChecks       int      `json:"down_checks"`
}
