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

// Package main implements connector-sim, a stand-in for the payment
// connector stack used by demos and end-to-end tests.
//
// It exposes the same surface the dispatcher consumes in production:
//
//	POST /transfers    → accepts a transfer, replies with transferId and
//	                     currentState; failure rate and latency are tunable
//	POST /restart-all  → maintenance restart: one at a time, takes
//	                     -restart_duration, 503s all other routes meanwhile
//	GET  /status       → {"isRestarting": bool}
//	GET  /healthz      → liveness probe
//	GET  /metrics      → Prometheus metrics
//
// Usage:
//
//	go run ./cmd/connector-sim -http :3001 -fail_rate 0.05 -max_latency 80ms
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type simState struct {
	restarting  atomic.Bool
	failRate    float64
	minLatency  time.Duration
	maxLatency  time.Duration
	restartTime time.Duration

	transfersTotal *prometheus.CounterVec
	restartsTotal  prometheus.Counter
}

type transferRequest struct {
	Currency          string `json:"currency"`
	Amount            string `json:"amount"`
	HomeTransactionID string `json:"homeTransactionId"`
	To                struct {
		IDType  string `json:"idType"`
		IDValue string `json:"idValue"`
	} `json:"to"`
}

func main() {
	httpAddr := flag.String("http", ":3001", "Listen address")
	failRate := flag.Float64("fail_rate", 0.0, "Fraction of transfers rejected with HTTP 500 (0..1)")
	minLatency := flag.Duration("min_latency", 0, "Minimum simulated transfer latency")
	maxLatency := flag.Duration("max_latency", 0, "Maximum simulated transfer latency")
	restartDuration := flag.Duration("restart_duration", 20*time.Second, "How long a maintenance restart blocks the connector")
	seed := flag.Int64("seed", 0, "Random seed (0 = time-based)")
	flag.Parse()

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(*seed))

	s := &simState{
		failRate:    *failRate,
		minLatency:  *minLatency,
		maxLatency:  *maxLatency,
		restartTime: *restartDuration,
		transfersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "connector_sim_transfers_total",
			Help: "Transfers handled by the simulator, by result",
		}, []string{"result"}),
		restartsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "connector_sim_restarts_total",
			Help: "Maintenance restarts performed",
		}),
	}
	prometheus.MustRegister(s.transfersTotal, s.restartsTotal)

	mux := http.NewServeMux()

	mux.HandleFunc("POST /transfers", func(w http.ResponseWriter, r *http.Request) {
		if s.restarting.Load() {
			s.transfersTotal.WithLabelValues("rejected_restarting").Inc()
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "Services restarting, please wait..."})
			return
		}

		var req transferRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.transfersTotal.WithLabelValues("bad_request").Inc()
			writeJSON(w, http.StatusBadRequest, map[string]any{"message": fmt.Sprintf("invalid body: %v", err)})
			return
		}

		if s.maxLatency > 0 {
			span := s.maxLatency - s.minLatency
			d := s.minLatency
			if span > 0 {
				d += time.Duration(rng.Int63n(int64(span)))
			}
			time.Sleep(d)
		}

		if s.failRate > 0 && rng.Float64() < s.failRate {
			s.transfersTotal.WithLabelValues("failed").Inc()
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"message": "simulated downstream failure",
				"transferState": map[string]any{
					"currentState": "ERROR_OCCURRED",
					"lastError":    map[string]any{"httpStatusCode": 500},
				},
			})
			return
		}

		s.transfersTotal.WithLabelValues("completed").Inc()
		writeJSON(w, http.StatusOK, map[string]any{
			"transferId":   uuid.NewString(),
			"currentState": "COMPLETED",
		})
	})

	mux.HandleFunc("POST /restart-all", func(w http.ResponseWriter, r *http.Request) {
		if !s.restarting.CompareAndSwap(false, true) {
			writeJSON(w, http.StatusOK, map[string]any{"success": false, "message": "Already restarting"})
			return
		}
		fmt.Printf("Restarting simulated connector stack (%s)...\n", s.restartTime)
		s.restartsTotal.Inc()
		// The restart blocks the caller the way docker-compose restart does.
		time.Sleep(s.restartTime)
		s.restarting.Store(false)
		fmt.Println("Simulated connector stack back up.")
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "All containers restarted"})
	})

	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"isRestarting": s.restarting.Load()})
	})

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	mux.Handle("GET /metrics", promhttp.Handler())

	httpServer := &http.Server{Addr: *httpAddr, Handler: mux}
	go func() {
		fmt.Printf("connector-sim listening on %s (fail_rate=%.2f, restart_duration=%s)\n",
			*httpAddr, s.failRate, s.restartTime)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v", *httpAddr, err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	fmt.Println("\nconnector-sim stopped.")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
