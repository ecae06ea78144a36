// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package api implements the operator-facing HTTP server for the bulk
// payment dispatcher: upload a dataset, start/stop/resume runs, retry failed
// rows, inspect progress, and reset sessions. It also consumes the engine's
// signal channel, forwarding restart-needed signals to the maintenance
// coordinator so that dispatch and maintenance stay decoupled.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"bulkpay/internal/dispatcher/core"
	"bulkpay/internal/dispatcher/ingest"
	"bulkpay/internal/dispatcher/maintenance"
	"bulkpay/internal/dispatcher/telemetry/runstats"
)

// recentLogCap bounds the in-memory outcome log kept for status queries.
const recentLogCap = 500

// Server handles the operator HTTP requests and owns the currently loaded
// dataset between runs.
type Server struct {
	engine      *core.Engine
	store       core.SessionStore
	coordinator *maintenance.Coordinator

	mu          sync.Mutex
	dataset     *core.Dataset
	skipped     []ingest.SkippedRow
	recent      []core.TransferOutcome
	completedAt time.Time
}

// NewServer creates the server and starts consuming engine signals.
// coordinator may be nil when no restart control endpoint is configured; the
// restart-needed signal is then logged and dropped.
func NewServer(engine *core.Engine, store core.SessionStore, coordinator *maintenance.Coordinator) *Server {
	s := &Server{
		engine:      engine,
		store:       store,
		coordinator: coordinator,
	}
	go s.consumeEvents()
	return s
}

// consumeEvents drains the engine's signal channel for the life of the
// process. Progress batches feed telemetry and the recent-outcome log;
// restart-needed signals trigger the blocking maintenance action on a
// separate goroutine so that event consumption never stalls.
func (s *Server) consumeEvents() {
	for ev := range s.engine.Events() {
		switch ev.Type {
		case core.EventProgress:
			runstats.ObserveBatch(ev.Outcomes)
			runstats.SetActiveWorkers(s.engine.Counts().ActiveWorkers)
			s.mu.Lock()
			s.recent = append(s.recent, ev.Outcomes...)
			if overflow := len(s.recent) - recentLogCap; overflow > 0 {
				s.recent = append(s.recent[:0], s.recent[overflow:]...)
			}
			s.mu.Unlock()

		case core.EventComplete:
			s.mu.Lock()
			s.completedAt = time.Now()
			s.mu.Unlock()
			runstats.SetActiveWorkers(0)
			fmt.Println("Run complete.")

		case core.EventRestartNeeded:
			runstats.RecordRestart()
			if s.coordinator == nil {
				fmt.Println("Restart threshold crossed but no control endpoint configured; skipping maintenance restart.")
				s.engine.AckRestart()
				continue
			}
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
				defer cancel()
				s.coordinator.RequestRestart(ctx)
				s.engine.AckRestart()
			}()
		}
	}
}

// RegisterRoutes sets up the HTTP routes on the given ServeMux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /datasets", s.handleUploadDataset)
	mux.HandleFunc("POST /runs", s.handleStartRun)
	mux.HandleFunc("POST /runs/stop", s.handleStopRun)
	mux.HandleFunc("POST /runs/retry-failed", s.handleRetryFailed)
	mux.HandleFunc("GET /runs/status", s.handleStatus)
	mux.HandleFunc("DELETE /sessions/{fingerprint}", s.handleResetSession)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
}

// handleUploadDataset ingests a payment CSV (request body) and reports
// whether a resumable session already exists for it.
func (s *Server) handleUploadDataset(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		httpError(w, http.StatusBadRequest, "query parameter 'name' is required")
		return
	}

	// The fingerprint derives from the exact byte size, so buffer the body
	// rather than trusting Content-Length.
	raw, err := io.ReadAll(io.LimitReader(r.Body, 64<<20))
	if err != nil {
		httpError(w, http.StatusBadRequest, fmt.Sprintf("reading dataset body: %v", err))
		return
	}
	ds, skipped, err := ingest.ParseCSV(bytes.NewReader(raw), name, int64(len(raw)))
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	s.dataset = &ds
	s.skipped = skipped
	s.recent = nil
	s.completedAt = time.Time{}
	s.mu.Unlock()

	resp := map[string]any{
		"fingerprint": ds.Fingerprint(),
		"totalRows":   len(ds.Rows),
		"skippedRows": len(skipped),
	}
	session, err := s.store.Load(r.Context(), ds.Fingerprint())
	switch {
	case err == nil:
		resp["resumeAvailable"] = true
		resp["processed"] = len(session.ProcessedIndices)
		resp["succeeded"] = session.SuccessCount
		resp["failed"] = session.FailureCount
	case errors.Is(err, core.ErrSessionNotFound):
		resp["resumeAvailable"] = false
	default:
		httpError(w, http.StatusInternalServerError, fmt.Sprintf("checking for saved session: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleStartRun starts (or resumes) dispatch over the loaded dataset.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	ds := s.dataset
	s.mu.Unlock()
	if ds == nil {
		httpError(w, http.StatusConflict, "no dataset loaded; POST /datasets first")
		return
	}

	plan, err := s.engine.Start(context.Background(), *ds)
	s.writePlanResponse(w, plan, err, "started")
}

// handleRetryFailed re-dispatches exactly the rows whose last outcome failed.
func (s *Server) handleRetryFailed(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	ds := s.dataset
	s.mu.Unlock()
	if ds == nil {
		httpError(w, http.StatusConflict, "no dataset loaded; POST /datasets first")
		return
	}

	plan, err := s.engine.RetryFailed(context.Background(), *ds)
	s.writePlanResponse(w, plan, err, "retrying")
}

// writePlanResponse maps the engine's run-planning results onto HTTP. The two
// no-op cases are reported distinctly, per the resume protocol.
func (s *Server) writePlanResponse(w http.ResponseWriter, plan core.RunPlan, err error, startedStatus string) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]any{"status": startedStatus, "plan": plan})
	case errors.Is(err, core.ErrAlreadyRunning):
		httpError(w, http.StatusConflict, err.Error())
	case errors.Is(err, core.ErrAlreadyComplete):
		writeJSON(w, http.StatusOK, map[string]any{"status": "already_complete", "plan": plan})
	case errors.Is(err, core.ErrDatasetEmpty):
		writeJSON(w, http.StatusOK, map[string]any{"status": "dataset_empty", "plan": plan})
	case errors.Is(err, core.ErrNoFailedRows):
		writeJSON(w, http.StatusOK, map[string]any{"status": "no_failed_rows"})
	default:
		httpError(w, http.StatusInternalServerError, err.Error())
	}
}

// handleStopRun requests a drain; in-flight transfers finish naturally.
func (s *Server) handleStopRun(w http.ResponseWriter, r *http.Request) {
	s.engine.Stop()
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "draining"})
}

// handleStatus reports live run counts, the recent outcome log, and whether
// the downstream connector is mid-restart.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	counts := s.engine.Counts()

	s.mu.Lock()
	recent := make([]core.TransferOutcome, len(s.recent))
	copy(recent, s.recent)
	skippedRows := len(s.skipped)
	var fingerprint string
	if s.dataset != nil {
		fingerprint = s.dataset.Fingerprint()
	}
	completedAt := s.completedAt
	s.mu.Unlock()

	resp := map[string]any{
		"counts":      counts,
		"fingerprint": fingerprint,
		"skippedRows": skippedRows,
		"recent":      recent,
	}
	if s.coordinator != nil {
		resp["connectorRestarting"] = s.coordinator.IsRestarting()
	}
	if !completedAt.IsZero() {
		resp["completedAt"] = completedAt
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleResetSession deletes the stored session for a fingerprint, discarding
// all resume state. It refuses while a run is active.
func (s *Server) handleResetSession(w http.ResponseWriter, r *http.Request) {
	if s.engine.State() != core.StateIdle {
		httpError(w, http.StatusConflict, "cannot reset a session while a run is active")
		return
	}
	fingerprint := r.PathValue("fingerprint")
	if err := s.store.Delete(r.Context(), fingerprint); err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "reset", "fingerprint": fingerprint})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "ok")
}

// ListenAndServe starts the HTTP server on the specified address.
func (s *Server) ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	fmt.Printf("Bulk payment dispatcher API listening on %s\n", addr)
	return httpServer.ListenAndServe()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		fmt.Printf("ERROR: encoding response: %v\n", err)
	}
}

func httpError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
