// Shoal is a Redfish aggregator service.
// Copyright (C) 2025 Matthew Burns
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package httpapi is the operator HTTP surface: pollNow/runSyncNow
// triggers, metrics scrape endpoint, and a liveness probe.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"jobfeed/internal/httpapi/middleware"
	"jobfeed/internal/ingest/worker"
	"jobfeed/internal/metrics"
	"jobfeed/pkg/jobfeed"
)

// Store is the persistence surface the HTTP handlers need to enqueue
// or directly run a tenant poll.
type Store interface {
	InsertRun(ctx context.Context, r jobfeed.Run) error
	UpdateRun(ctx context.Context, r jobfeed.Run) error
	EnqueueDispatch(ctx context.Context, id, tenantID, runID string) error
	HasActiveRun(ctx context.Context, tenantID string) (bool, error)
	GetRun(ctx context.Context, id string) (*jobfeed.Run, error)
}

// IDGenerator mints a new run/dispatch row ID.
type IDGenerator func() string

// Server serves the operator HTTP surface described in spec.md §6.
type Server struct {
	store       Store
	idGen       IDGenerator
	runner      *worker.Worker
	policy      jobfeed.FilterPolicy
	auth        *Authenticator
	limiter     *middleware.Limiter
	security    middleware.SecurityConfig
	logger      *slog.Logger
	runSyncWait time.Duration
}

// Config bundles the constructor's dependencies.
type Config struct {
	Store          Store
	IDGen          IDGenerator
	Runner         *worker.Worker
	Policy         jobfeed.FilterPolicy
	AuthToken      string
	RateLimit      middleware.RateLimitConfig
	Security       middleware.SecurityConfig
	RunSyncTimeout time.Duration
	Logger         *slog.Logger
}

// NewServer wires the handlers and middleware chain.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RunSyncTimeout <= 0 {
		cfg.RunSyncTimeout = 5 * time.Minute
	}
	auth, err := NewAuthenticator(cfg.AuthToken, cfg.Logger)
	if err != nil {
		return nil, err
	}
	return &Server{
		store:       cfg.Store,
		idGen:       cfg.IDGen,
		runner:      cfg.Runner,
		policy:      cfg.Policy,
		auth:        auth,
		limiter:     middleware.NewLimiter(cfg.RateLimit, cfg.Logger),
		security:    cfg.Security,
		logger:      cfg.Logger,
		runSyncWait: cfg.RunSyncTimeout,
	}, nil
}

// Handler assembles the full mux with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.Handle("POST /api/v1/tenants/{tenantId}/poll", s.limiter.Wrap(s.auth.Middleware(http.HandlerFunc(s.handlePollNow))))
	mux.Handle("POST /api/v1/run-sync", s.limiter.Wrap(s.auth.Middleware(http.HandlerFunc(s.handleRunSyncNow))))

	return middleware.Security(s.security)(mux)
}

// Stop releases background resources (the rate limiter's cleanup loop).
func (s *Server) Stop() {
	s.limiter.Stop()
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handlePollNow enqueues an async run for one tenant (pollNow): it
// returns as soon as the dispatch row is durably queued, matching the
// dispatcher's own completion semantics rather than waiting on it.
func (s *Server) handlePollNow(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenantId")
	if tenantID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing tenantId"})
		return
	}

	ctx := r.Context()
	active, err := s.store.HasActiveRun(ctx, tenantID)
	if err != nil {
		s.logger.Error("poll now: check active run failed", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if active {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "run already in progress for tenant"})
		return
	}

	run := jobfeed.NewRun(s.idGen(), tenantID, jobfeed.RunTypeManual)
	if err := s.store.InsertRun(ctx, run); err != nil {
		s.logger.Error("poll now: insert run failed", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if err := s.store.EnqueueDispatch(ctx, s.idGen(), tenantID, run.ID); err != nil {
		s.logger.Error("poll now: enqueue dispatch failed", "tenant_id", tenantID, "error", err)
		run.Status = jobfeed.RunStatusEnqueueFailed
		finishedAt := time.Now().UTC()
		run.FinishedAt = &finishedAt
		msg := err.Error()
		run.ErrorMessage = &msg
		if uerr := s.store.UpdateRun(ctx, run); uerr != nil {
			s.logger.Error("poll now: mark enqueue_failed failed", "tenant_id", tenantID, "error", uerr)
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": run.ID, "status": string(jobfeed.RunStatusQueued)})
}

// handleRunSyncNow drives a tenant poll to completion within the
// request, returning the run's final status and counters. Intended
// for CLI/cron callers that want a synchronous exit code rather than
// having to poll for run completion.
func (s *Server) handleRunSyncNow(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenantId")
	if tenantID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing tenantId query parameter"})
		return
	}
	if s.runner == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "synchronous runs not configured on this server"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.runSyncWait)
	defer cancel()

	active, err := s.store.HasActiveRun(ctx, tenantID)
	if err != nil {
		s.logger.Error("run sync: check active run failed", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if active {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "run already in progress for tenant"})
		return
	}

	run := jobfeed.NewRun(s.idGen(), tenantID, jobfeed.RunTypeManual)
	if err := s.store.InsertRun(ctx, run); err != nil {
		s.logger.Error("run sync: insert run failed", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	runErr := s.runner.Process(ctx, run, s.policy)

	final, err := s.store.GetRun(ctx, run.ID)
	if err != nil || final == nil {
		s.logger.Error("run sync: reload run failed", "run_id", run.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	status := http.StatusOK
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		status = http.StatusInternalServerError
	}
	if final.Status == jobfeed.RunStatusFailed {
		status = http.StatusInternalServerError
	}

	writeJSON(w, status, final)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
