// Package web exposes the background audit job surface over HTTP: start an
// audit, poll its status, scrape metrics.
package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rlmd/internal/config"
	"rlmd/internal/engine"
	"rlmd/internal/jobs"
	"rlmd/internal/logging"
)

// Server wires the engine and the job store behind a chi router.
type Server struct {
	engine *engine.Engine
	store  *jobs.Store
	cfg    *config.Config
	router chi.Router
}

// NewServer builds the HTTP surface. The job store is shared with any other
// orchestration entry points the process runs.
func NewServer(eng *engine.Engine, store *jobs.Store, cfg *config.Config) *Server {
	s := &Server{engine: eng, store: store, cfg: cfg}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logRequests)

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/audit/start", s.handleStartAudit)
	r.Get("/audit/status/{jobID}", s.handleAuditStatus)

	s.router = r
	return s
}

// Router returns the handler for mounting or serving.
func (s *Server) Router() http.Handler {
	return s.router
}

// ListenAndServe blocks serving the configured address.
func (s *Server) ListenAndServe() error {
	srv := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	logging.HTTP("serving on %s", s.cfg.Server.Addr)
	return srv.ListenAndServe()
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// startAuditRequest is the POST /audit/start body. Documents and query are
// optional; scenarios fall back to built-in mock data so the surface is
// demoable without a payload.
type startAuditRequest struct {
	Scenario  string   `json:"scenario"`
	Query     string   `json:"query,omitempty"`
	Documents []string `json:"documents,omitempty"`
	Pattern   string   `json:"pattern,omitempty"`
}

func (s *Server) handleStartAudit(w http.ResponseWriter, r *http.Request) {
	var req startAuditRequest
	// An empty body is fine; only malformed JSON is rejected.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}
	if req.Scenario == "" {
		req.Scenario = ScenarioInvoiceAudit
	}
	if !validScenario(req.Scenario) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown scenario: " + req.Scenario})
		return
	}

	jobID := s.store.Create()
	go s.runAuditTask(jobID, req)

	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id":  jobID,
		"status":  string(jobs.StatusQueued),
		"message": "audit started, poll /audit/status/" + jobID,
	})
}

func (s *Server) handleAuditStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	snap, ok := s.store.Get(jobID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.HTTP("failed to encode response: %v", err)
	}
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logging.HTTP("%s %s in %v", r.Method, r.URL.Path, time.Since(start))
	})
}
