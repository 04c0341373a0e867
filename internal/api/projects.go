package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/serp-rank-tracker/internal/serp"
)

// projectDTO hides credentials from API responses.
type projectDTO struct {
	Name          string   `json:"name"`
	Location      string   `json:"location"`
	GL            string   `json:"gl"`
	HL            string   `json:"hl"`
	Credentials   int      `json:"credentials"`
	TargetDomains []string `json:"target_domains"`
	Keywords      []string `json:"keywords"`
	Pages         *int     `json:"pages,omitempty"`
	MaxPositions  *int     `json:"max_positions,omitempty"`
	HistoryFile   string   `json:"history_file,omitempty"`
	OutputPrefix  string   `json:"output_prefix,omitempty"`
}

func toProjectDTO(p serp.Project) projectDTO {
	return projectDTO{
		Name:          p.Name,
		Location:      p.Location,
		GL:            p.GL,
		HL:            p.HL,
		Credentials:   len(p.APIKeys),
		TargetDomains: p.TargetDomains,
		Keywords:      p.Keywords,
		Pages:         p.Pages,
		MaxPositions:  p.MaxPositions,
		HistoryFile:   p.HistoryFile,
		OutputPrefix:  p.OutputPrefix,
	}
}

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.projects.List(r.Context())
	if err != nil {
		s.logger.Error("list projects failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list projects")
		return
	}
	out := make([]projectDTO, 0, len(projects))
	for _, p := range projects {
		out = append(out, toProjectDTO(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": out})
}

func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	p, err := s.projects.Get(r.Context(), name)
	if err != nil {
		s.writeProjectError(w, name, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"project": toProjectDTO(p)})
}

func (s *Server) deleteProject(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.projects.Delete(r.Context(), name); err != nil {
		s.writeProjectError(w, name, err)
		return
	}
	s.logger.Info("project deleted", zap.String("project", name))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeProjectError(w http.ResponseWriter, name string, err error) {
	if errors.Is(err, serp.ErrNotFound) {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	s.logger.Error("project lookup failed", zap.String("project", name), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "failed to load project")
}
