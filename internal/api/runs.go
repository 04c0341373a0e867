package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/serp-rank-tracker/internal/dispatcher"
	"github.com/JakeFAU/serp-rank-tracker/internal/id/uuid"
	"github.com/JakeFAU/serp-rank-tracker/internal/serp"
)

const (
	defaultRunLimit = 50
	maxRunLimit     = 500
)

type submitRunRequest struct {
	Project string `json:"project"`
	Pages   *int   `json:"pages"`
}

// submitRun handles POST /v1/runs. It answers 202 {"run_id": ...} once the run
// is queued, 400 for a malformed body, and 404 for an unknown project.
func (s *Server) submitRun(w http.ResponseWriter, r *http.Request) {
	var req submitRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Project = strings.TrimSpace(req.Project)
	if req.Project == "" {
		writeError(w, http.StatusBadRequest, "project required")
		return
	}
	if req.Pages != nil && *req.Pages < 1 {
		writeError(w, http.StatusBadRequest, "pages must be at least 1")
		return
	}
	if _, err := s.projects.Get(r.Context(), req.Project); err != nil {
		if errors.Is(err, serp.ErrNotFound) {
			writeError(w, http.StatusNotFound, "project not found")
			return
		}
		s.logger.Error("load project failed", zap.String("project", req.Project), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load project")
		return
	}
	run, err := s.service.Submit(r.Context(), req.Project, req.Pages)
	if err != nil {
		s.logger.Error("submit run failed", zap.String("project", req.Project), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": run.ID})
}

// listRuns handles GET /v1/runs?status=&limit=&offset=, newest first.
func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var status serp.RunStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status, err = parseStatus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	runs, err := s.runs.ListRuns(r.Context())
	if err != nil {
		s.logger.Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	filtered := make([]serp.Run, 0, len(runs))
	for _, run := range runs {
		if status == "" || run.Status == status {
			filtered = append(filtered, run)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": page(filtered, limit, offset)})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := runIDParam(w, r)
	if !ok {
		return
	}
	run, err := s.runs.GetRun(r.Context(), runID)
	if err != nil {
		s.writeRunError(w, runID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run})
}

// cancelRun answers 409 when the run already reached a terminal status.
func (s *Server) cancelRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := runIDParam(w, r)
	if !ok {
		return
	}
	run, err := s.service.Cancel(r.Context(), runID)
	if err != nil {
		if errors.Is(err, dispatcher.ErrNotCancelable) {
			writeJSON(w, http.StatusConflict, map[string]string{
				"error":  "run already finished",
				"run_id": runID,
				"status": string(run.Status),
			})
			return
		}
		s.writeRunError(w, runID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"run_id": runID, "status": string(run.Status)})
}

func (s *Server) writeRunError(w http.ResponseWriter, runID string, err error) {
	if errors.Is(err, serp.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	s.logger.Error("run lookup failed", zap.String("run_id", runID), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "failed to load run")
}

func runIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	runID := chi.URLParam(r, "run_id")
	if !uuid.Valid(runID) {
		writeError(w, http.StatusBadRequest, "invalid run_id")
		return "", false
	}
	return runID, true
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(val, maxLimit)
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseStatus(input string) (serp.RunStatus, error) {
	switch status := serp.RunStatus(strings.ToLower(input)); status {
	case serp.RunStatusQueued, serp.RunStatusRunning, serp.RunStatusSucceeded,
		serp.RunStatusFailed, serp.RunStatusCanceled:
		return status, nil
	default:
		return "", errors.New("invalid status")
	}
}

func page(runs []serp.Run, limit, offset int) []serp.Run {
	if offset >= len(runs) {
		return []serp.Run{}
	}
	end := min(offset+limit, len(runs))
	return runs[offset:end]
}
