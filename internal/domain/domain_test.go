package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/guregu/null/v5"
)

func validTarget() Target {
	return Target{
		ID:        TargetID("T1"),
		Name:      "example",
		URL:       "https://example.com",
		Enabled:   true,
		IntervalS: 60,
		TimeoutS:  5,
		VerifyTLS: true,
	}
}

func TestTarget_Validate(t *testing.T) {
	if err := validTarget().Validate(); err != nil {
		t.Fatalf("valid target rejected: %v", err)
	}

	cases := map[string]func(*Target){
		"empty name":         func(t *Target) { t.Name = "  " },
		"long name":          func(t *Target) { t.Name = strings.Repeat("x", MaxNameLen+1) },
		"ftp url":            func(t *Target) { t.URL = "ftp://example.com" },
		"no host":            func(t *Target) { t.URL = "https://" },
		"interval too small": func(t *Target) { t.IntervalS = 5 },
		"interval too big":   func(t *Target) { t.IntervalS = 7200 },
		"timeout zero":       func(t *Target) { t.TimeoutS = 0 },
		"timeout too big":    func(t *Target) { t.TimeoutS = 31 },
		"timeout > interval": func(t *Target) { t.IntervalS = 10; t.TimeoutS = 20 },
	}
	for name, mutate := range cases {
		tgt := validTarget()
		mutate(&tgt)
		err := tgt.Validate()
		if !errors.Is(err, ErrInvalidTarget) {
			t.Fatalf("%s: want ErrInvalidTarget, got %v", name, err)
		}
	}
}

func TestTarget_Durations(t *testing.T) {
	tgt := validTarget()
	if tgt.Interval() != time.Minute || tgt.Timeout() != 5*time.Second {
		t.Fatalf("unexpected durations: %v %v", tgt.Interval(), tgt.Timeout())
	}
}

func TestCheckResult_AbsentFieldsEncodeAsNull(t *testing.T) {
	cr := CheckResult{
		TargetID:     "T1",
		CheckedAt:    time.Date(2025, 8, 18, 12, 0, 0, 0, time.UTC),
		Up:           false,
		ErrorType:    ErrorConnect,
		ErrorMessage: null.StringFrom("connection refused"),
	}
	b, err := json.Marshal(cr)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v, ok := m["http_status"]; !ok || v != nil {
		t.Fatalf("http_status should be null, got %v (present=%v)", v, ok)
	}
	if v, ok := m["latency_ms"]; !ok || v != nil {
		t.Fatalf("latency_ms should be null, got %v", v)
	}
	if up, ok := m["up"].(bool); !ok || up {
		t.Fatalf("up should be a concrete false, got %v", m["up"])
	}
	if m["error_message"] != "connection refused" {
		t.Fatalf("unexpected error_message: %v", m["error_message"])
	}
}
