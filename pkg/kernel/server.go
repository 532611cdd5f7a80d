// Package kernel exposes the generation engine over HTTP: job submission,
// job snapshots, document synchronization, history and SSE event streams.
package kernel

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"genforge/internal/core/domain"
	"genforge/internal/core/ports"
	"genforge/internal/core/services"
)

type Server struct {
	logger    *slog.Logger
	lifecycle *services.GenerationLifecycle
	documents *services.DocumentStore
	eventBus  *services.EventBus
	history   ports.HistoryRepository // nil when history is disabled
}

func NewServer(
	logger *slog.Logger,
	lifecycle *services.GenerationLifecycle,
	documents *services.DocumentStore,
	eventBus *services.EventBus,
	history ports.HistoryRepository,
) *Server {
	return &Server{
		logger:    logger.With("component", "http"),
		lifecycle: lifecycle,
		documents: documents,
		eventBus:  eventBus,
		history:   history,
	}
}

// Handler returns the http.Handler with all routes mounted.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/generations", s.handleSubmitGeneration)
	mux.HandleFunc("GET /v1/generations/{id}", s.handleGetGeneration)
	mux.HandleFunc("GET /v1/generations/{id}/events", s.handleJobSSE)
	mux.HandleFunc("GET /v1/events", s.handleGlobalSSE)
	mux.HandleFunc("GET /v1/backend", s.handleBackendInfo)
	mux.HandleFunc("GET /v1/history", s.handleHistory)
	mux.HandleFunc("POST /v1/documents", s.handleOpenDocument)
	mux.HandleFunc("POST /v1/documents/changes", s.handleChangeDocument)
	mux.HandleFunc("POST /v1/documents/close", s.handleCloseDocument)
	mux.HandleFunc("GET /v1/documents", s.handleListDocuments)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	return mux
}

// jobDTO is the JSON representation of a job snapshot. The target reflects
// shifts applied by sibling completions.
type jobDTO struct {
	ID        domain.JobID      `json:"id"`
	PendingID string            `json:"pending_id,omitempty"`
	File      string            `json:"file"`
	Kind      domain.TargetKind `json:"kind"`
	State     domain.JobState   `json:"state"`
	Target    domain.Range      `json:"target"`

	Result *domain.GenerationResult `json:"result,omitempty"`
}

func toJobDTO(job domain.Job) jobDTO {
	return jobDTO{
		ID:        job.ID,
		PendingID: job.PendingID,
		File:      job.File,
		Kind:      job.Kind,
		State:     job.State,
		Target:    job.Target,
		Result:    job.Result,
	}
}

// handleSubmitGeneration admits a generation job.
// POST /v1/generations
func (s *Server) handleSubmitGeneration(w http.ResponseWriter, r *http.Request) {
	var req services.GenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.File == "" {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	if req.Kind != domain.TargetPoint && req.Kind != domain.TargetRange {
		writeError(w, http.StatusBadRequest, "kind must be POINT or RANGE")
		return
	}

	job, err := s.lifecycle.Submit(r.Context(), req)
	if err != nil {
		var admission *domain.AdmissionError
		switch {
		case errors.As(err, &admission):
			status := http.StatusConflict
			if admission.Reason == domain.RejectLimitExceeded {
				status = http.StatusTooManyRequests
			}
			writeError(w, status, admission.Error())
		case errors.Is(err, domain.ErrDocumentNotFound):
			writeError(w, http.StatusNotFound, "unknown document: "+req.File)
		default:
			s.logger.Error("failed to submit generation", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusCreated, toJobDTO(*job))
}

// handleGetGeneration returns a job snapshot, terminal states included.
// GET /v1/generations/{id}
func (s *Server) handleGetGeneration(w http.ResponseWriter, r *http.Request) {
	id := domain.JobID(r.PathValue("id"))
	job, ok := s.lifecycle.Job(id)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, toJobDTO(job))
}

// handleBackendInfo reports the active generation backend.
// GET /v1/backend
func (s *Server) handleBackendInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"backend": s.lifecycle.BackendName(),
	})
}

// handleHistory returns recent generation records, newest first.
// GET /v1/history?limit=50
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	records := []domain.GenerationRecord{}
	if s.history != nil {
		limit := 50
		if l := r.URL.Query().Get("limit"); l != "" {
			if n, err := strconv.Atoi(l); err == nil && n > 0 {
				limit = min(n, 500)
			}
		}
		fetched, err := s.history.ListRecords(r.Context(), limit)
		if err != nil {
			s.logger.Error("failed to list history", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if fetched != nil {
			records = fetched
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"records": records,
		"count":   len(records),
	})
}

type openDocumentRequest struct {
	File       string `json:"file"`
	Text       string `json:"text"`
	Version    int    `json:"version"`
	LanguageID string `json:"language_id"`
}

// handleOpenDocument opens a document or replaces its full content.
// POST /v1/documents
func (s *Server) handleOpenDocument(w http.ResponseWriter, r *http.Request) {
	var req openDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.File == "" {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	s.documents.Open(req.File, req.Text, req.Version, req.LanguageID)
	w.WriteHeader(http.StatusNoContent)
}

type changeDocumentRequest struct {
	File    string                   `json:"file"`
	Version int                      `json:"version"`
	Changes []services.ContentChange `json:"changes"`
}

// handleChangeDocument applies incremental edits to an open document.
// POST /v1/documents/changes
func (s *Server) handleChangeDocument(w http.ResponseWriter, r *http.Request) {
	var req changeDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := s.documents.Change(req.File, req.Version, req.Changes); err != nil {
		if errors.Is(err, domain.ErrDocumentNotFound) {
			writeError(w, http.StatusNotFound, "unknown document: "+req.File)
			return
		}
		if errors.Is(err, domain.ErrVersionConflict) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCloseDocument drops a document from the store.
// POST /v1/documents/close
func (s *Server) handleCloseDocument(w http.ResponseWriter, r *http.Request) {
	var req struct {
		File string `json:"file"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	s.documents.Close(req.File)
	w.WriteHeader(http.StatusNoContent)
}

// handleListDocuments lists open document paths.
// GET /v1/documents
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	files := s.documents.List()
	if files == nil {
		files = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"documents": files,
		"count":     len(files),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
