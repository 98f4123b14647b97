package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hamed0406/uptimemonitor/internal/domain"
	"github.com/hamed0406/uptimemonitor/internal/repo"
)

// targetPayload is shared by create and update. On update a nil field keeps
// the stored value; on create it takes the default.
type targetPayload struct {
	Name      *string `json:"name"`
	URL       *string `json:"url"`
	Enabled   *bool   `json:"enabled"`
	IntervalS *int    `json:"interval_s"`
	TimeoutS  *int    `json:"timeout_s"`
	VerifyTLS *bool   `json:"verify_tls"`
}

func (p targetPayload) apply(t *domain.Target) {
	if p.Name != nil {
		t.Name = strings.TrimSpace(*p.Name)
	}
	if p.URL != nil {
		t.URL = normalizeHTTPURL(*p.URL)
	}
	if p.Enabled != nil {
		t.Enabled = *p.Enabled
	}
	if p.IntervalS != nil {
		t.IntervalS = *p.IntervalS
	}
	if p.TimeoutS != nil {
		t.TimeoutS = *p.TimeoutS
	}
	if p.VerifyTLS != nil {
		t.VerifyTLS = *p.VerifyTLS
	}
}

func decodePayload(w http.ResponseWriter, r *http.Request) (targetPayload, error) {
	var p targetPayload
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	err := json.NewDecoder(r.Body).Decode(&p)
	return p, err
}

func (s *Server) handleListTargets(w http.ResponseWriter, r *http.Request) {
	ts, err := s.Targets.List(r.Context())
	if err != nil {
		s.serverError(w, "list_targets_error", err)
		return
	}
	if ts == nil {
		ts = []domain.Target{}
	}
	writeJSON(w, http.StatusOK, ts)
}

// loadTarget resolves {id} and writes 404/500 itself when it returns nil.
func (s *Server) loadTarget(w http.ResponseWriter, r *http.Request) *domain.Target {
	id := domain.TargetID(chi.URLParam(r, "id"))
	t, err := s.Targets.Get(r.Context(), id)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		writeError(w, http.StatusNotFound, "Target not found")
		return nil
	case err != nil:
		s.serverError(w, "get_target_error", err)
		return nil
	}
	return t
}

func (s *Server) handleGetTarget(w http.ResponseWriter, r *http.Request) {
	if t := s.loadTarget(w, r); t != nil {
		writeJSON(w, http.StatusOK, t)
	}
}

func (s *Server) handleAddTarget(w http.ResponseWriter, r *http.Request) {
	p, err := decodePayload(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad payload")
		return
	}
	if p.URL == nil || !isValidHTTPURL(*p.URL) {
		writeError(w, http.StatusBadRequest, "url must be http(s) with a host")
		return
	}

	t := &domain.Target{
		Enabled:   true,
		IntervalS: domain.DefaultIntervalS,
		TimeoutS:  domain.DefaultTimeoutS,
		VerifyTLS: true,
	}
	p.apply(t)
	if err := t.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch err := s.Targets.Add(r.Context(), t); {
	case errors.Is(err, repo.ErrDuplicate):
		writeError(w, http.StatusConflict, "target with this url already exists")
		return
	case err != nil:
		s.serverError(w, "add_target_error", err)
		return
	}

	s.Logger.Info("added_target",
		zap.String("id", string(t.ID)),
		zap.String("url", t.URL),
		zap.Int("interval_s", t.IntervalS),
	)
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleUpdateTarget(w http.ResponseWriter, r *http.Request) {
	t := s.loadTarget(w, r)
	if t == nil {
		return
	}
	p, err := decodePayload(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad payload")
		return
	}
	if p.URL != nil && !isValidHTTPURL(*p.URL) {
		writeError(w, http.StatusBadRequest, "url must be http(s) with a host")
		return
	}
	p.apply(t)
	if err := t.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch err := s.Targets.Update(r.Context(), t); {
	case errors.Is(err, repo.ErrNotFound):
		writeError(w, http.StatusNotFound, "Target not found")
		return
	case errors.Is(err, repo.ErrDuplicate):
		writeError(w, http.StatusConflict, "target with this url already exists")
		return
	case err != nil:
		s.serverError(w, "update_target_error", err)
		return
	}

	s.Logger.Info("updated_target", zap.String("id", string(t.ID)), zap.Bool("enabled", t.Enabled))
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeleteTarget(w http.ResponseWriter, r *http.Request) {
	id := domain.TargetID(chi.URLParam(r, "id"))
	switch err := s.Targets.Delete(r.Context(), id); {
	case errors.Is(err, repo.ErrNotFound):
		writeError(w, http.StatusNotFound, "Target not found")
		return
	case err != nil:
		s.serverError(w, "delete_target_error", err)
		return
	}
	s.Logger.Info("deleted_target", zap.String("id", string(id)))
	w.WriteHeader(http.StatusNoContent)
}
