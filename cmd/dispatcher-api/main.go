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

// Package main is the entry point for the bulk payment dispatcher service.
//
// The dispatcher executes large lists of payment instructions as independent
// transfers against a payment connector, under a bounded concurrency budget,
// with resumable sessions and periodic connector maintenance restarts.
//
// This file orchestrates the service:
//  1. Load run configuration (YAML file, overridden by flags).
//  2. Build the session store backend (sqlite/file/redis/memory).
//  3. Wire the transfer client, restart coordinator, and dispatch engine.
//  4. Start the operator HTTP API and optional Prometheus telemetry.
//  5. Manage graceful shutdown: drain in-flight transfers and save the
//     session one final time so the run can resume later.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bulkpay/internal/dispatcher/api"
	"bulkpay/internal/dispatcher/config"
	"bulkpay/internal/dispatcher/core"
	"bulkpay/internal/dispatcher/maintenance"
	"bulkpay/internal/dispatcher/persistence"
	"bulkpay/internal/dispatcher/telemetry/runstats"
	"bulkpay/internal/dispatcher/transfer"
)

func main() {
	// Run parameters. The YAML file supplies defaults; flags override.
	// - workers: in-flight transfer bound (per run)
	// - dispatch_delay: pause between successive queue pops (burst throttle)
	// - restart_every: maintenance-restart threshold; 0 disables
	// - restart_basis: what the threshold counts ("run" or "session")
	runConfigPath := flag.String("run_config", "", "Optional YAML file with run defaults")
	workers := flag.Int("workers", 0, "Max concurrent transfer calls (0 = keep config value)")
	dispatchDelay := flag.Duration("dispatch_delay", -1, "Delay between queue pops (-1 = keep config value)")
	restartEvery := flag.Int("restart_every", -1, "Restart connector after every N processed rows (-1 = keep config value, 0 = never)")
	restartBasis := flag.String("restart_basis", "", "Restart counter basis: run|session (empty = keep config value)")
	endpoint := flag.String("endpoint", "", "Transfer submission URL (empty = keep config value)")
	controlURL := flag.String("control_url", "http://localhost:3001/restart-all", "Connector restart control endpoint; empty disables maintenance restarts")

	// Session store backend.
	storeBackend := flag.String("store", "sqlite", "Session store backend: sqlite|file|redis|memory")
	sqlitePath := flag.String("sqlite_path", "bulkpay-sessions.db", "SQLite database path for -store=sqlite")
	fileDir := flag.String("session_dir", "sessions", "Snapshot directory for -store=file")
	redisAddr := flag.String("redis_addr", "", "Redis address for -store=redis (e.g. 127.0.0.1:6379)")
	redisTTL := flag.Duration("redis_ttl", 0, "Optional TTL for Redis sessions (0 = keep until reset)")

	// HTTP / telemetry.
	httpAddr := flag.String("http_addr", ":8080", "Operator API listen address")
	metricsEnabled := flag.Bool("metrics", false, "Enable Prometheus telemetry")
	metricsAddr := flag.String("metrics_addr", "", "If non-empty, expose Prometheus /metrics on this address (e.g. :9090)")
	flag.Parse()

	// 1. Resolve the run configuration.
	cfg, err := config.LoadFile(*runConfigPath)
	if err != nil {
		log.Fatalf("Could not load run config: %v", err)
	}
	if *workers > 0 {
		cfg.MaxConcurrentWorkers = *workers
	}
	if *dispatchDelay >= 0 {
		cfg.InterDispatchDelay = *dispatchDelay
	}
	if *restartEvery >= 0 {
		cfg.RestartEveryNProcessed = *restartEvery
	}
	if *restartBasis != "" {
		cfg.RestartCounterBasis = core.RestartCounterBasis(*restartBasis)
	}
	if *endpoint != "" {
		cfg.Endpoint = *endpoint
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid run config: %v", err)
	}

	// Capture configuration for the final summary.
	core.SetThresholdInt("workers", cfg.MaxConcurrentWorkers)
	core.SetThresholdDuration("dispatch_delay", cfg.InterDispatchDelay)
	core.SetThresholdInt("restart_every", cfg.RestartEveryNProcessed)
	core.SetThreshold("restart_basis", string(cfg.RestartCounterBasis))
	core.SetThreshold("endpoint", cfg.Endpoint)
	core.SetThreshold("store", *storeBackend)
	core.SetThreshold("http_addr", *httpAddr)
	core.SetThresholdBool("metrics", *metricsEnabled)

	// 2. Build the session store.
	store, err := persistence.BuildStore(*storeBackend, persistence.Options{
		FileDir:    *fileDir,
		SQLitePath: *sqlitePath,
		RedisAddr:  *redisAddr,
		RedisTTL:   *redisTTL,
	})
	if err != nil {
		log.Fatalf("Could not build session store: %v", err)
	}

	// 3. Wire restart coordination, transfer client, and the engine.
	var coordinator *maintenance.Coordinator
	var gate transfer.RestartGate
	if *controlURL != "" {
		coordinator = maintenance.NewCoordinator(*controlURL)
		gate = coordinator
	}
	client := transfer.NewClient(cfg, gate)

	engine, err := core.NewEngine(cfg, client, store)
	if err != nil {
		log.Fatalf("Could not create dispatch engine: %v", err)
	}

	// 4. Telemetry (no-op if disabled).
	runstats.Enable(runstats.Config{Enabled: *metricsEnabled, MetricsAddr: *metricsAddr})

	// 5. Operator API. The server consumes the engine's signal channel and
	// forwards restart-needed signals to the coordinator.
	apiServer := api.NewServer(engine, store, coordinator)
	mux := http.NewServeMux()
	apiServer.RegisterRoutes(mux)
	httpServer := &http.Server{
		Addr:    *httpAddr,
		Handler: mux,
	}
	go func() {
		fmt.Printf("Bulk payment dispatcher API listening on %s\n", *httpAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v\n", *httpAddr, err)
		}
	}()

	// 6. Wait for an OS signal.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	fmt.Println("\nShutting down dispatcher...")

	// 7. Drain the engine first: in-flight transfers finish and the session
	// is saved one final time, so the run resumes cleanly next start.
	engine.Stop()
	select {
	case <-engine.Done():
	case <-time.After(2 * time.Minute):
		fmt.Println("WARNING: drain timed out; session may miss the last in-flight outcomes")
	}

	core.PrintRunSummary()

	// 8. Now shut down the HTTP server.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Fatalf("Server shutdown failed: %v", err)
	}

	fmt.Println("Dispatcher gracefully stopped.")
}
