// Package server exposes the document pipeline over HTTP. Processing is
// asynchronous: uploads return a job id and the caller polls the job until
// it reaches completed or failed.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/fieldmark/fieldmark/internal/fill"
	"github.com/fieldmark/fieldmark/internal/pipeline"
	"github.com/fieldmark/fieldmark/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// maxUploadBytes caps document uploads at 25 MB.
const maxUploadBytes = 25 << 20

// Server is the HTTP surface.
type Server struct {
	router chi.Router
	runner *pipeline.Runner
	store  *store.Store
	logger *zap.Logger
}

// New creates and routes the server.
func New(runner *pipeline.Runner, st *store.Store, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{runner: runner, store: st, logger: logger}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/documents/process", s.handleProcess)
		r.Get("/jobs/{jobID}", s.handleJobStatus)
		r.Get("/templates", s.handleListTemplates)
		r.Post("/templates/{templateID}/fill", s.handleFill)
	})

	s.router = r
}

// envelope is the boundary shape for every response. No error type leaks
// past it.
type envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, envelope{Success: false, Error: err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, envelope{Success: true})
}

// handleProcess accepts a DOCX upload and enqueues the template-creation
// job. The body is the raw document; the name comes from the query string.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		name = "document.docx"
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(data) == 0 {
		s.writeError(w, http.StatusBadRequest, errors.New("empty upload"))
		return
	}

	jobID, err := s.runner.EnqueueProcess(name, data)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, envelope{Success: true, Data: map[string]string{"jobId": jobID}})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.GetJob(chi.URLParam(r, "jobID"))
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, envelope{Success: true, Data: map[string]any{
		"id":     job.ID,
		"kind":   job.Kind,
		"status": job.Status,
		"error":  job.Error,
		"result": job.Result,
	}})
}

func (s *Server) handleListTemplates(w http.ResponseWriter, _ *http.Request) {
	templates, err := s.store.ListTemplates()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	type item struct {
		ID          string            `json:"id"`
		Name        string            `json:"name"`
		TagMetadata map[string]string `json:"tagMetadata"`
	}
	items := make([]item, 0, len(templates))
	for _, t := range templates {
		items = append(items, item{ID: t.ID, Name: t.Name, TagMetadata: t.TagMetadata})
	}
	s.writeJSON(w, http.StatusOK, envelope{Success: true, Data: items})
}

// fillRequest is the fill-time input: the OCR-extracted field list.
type fillRequest struct {
	Fields []fill.OCRField `json:"fields"`
}

func (s *Server) handleFill(w http.ResponseWriter, r *http.Request) {
	templateID := chi.URLParam(r, "templateID")

	var req fillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	jobID, err := s.runner.EnqueueFill(templateID, req.Fields)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, envelope{Success: true, Data: map[string]string{"jobId": jobID}})
}
