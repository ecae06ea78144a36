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

// Package core provides the core business logic for the bulk payment
// dispatcher. This file implements the bounded-concurrency dispatch engine:
// a single scheduler goroutine that owns the work queue and active-worker
// count, fans out transfer submissions up to the configured worker limit,
// and collects results over a channel.
package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// EngineState is the engine's lifecycle state.
type EngineState int32

const (
	// StateIdle: no active workers; the queue may be non-empty only
	// transiently between runs.
	StateIdle EngineState = iota
	// StateRunning: the scheduler is filling workers and collecting results.
	StateRunning
	// StateDraining: no new work is pulled; in-flight workers finish
	// naturally before the engine returns to Idle.
	StateDraining
)

func (s EngineState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// EventType identifies an engine-to-caller signal.
type EventType string

const (
	// EventProgress carries a batch of completed outcomes.
	EventProgress EventType = "PROGRESS"
	// EventComplete fires exactly once when a run drains its queue with no
	// active workers left. An explicit stop does not produce it.
	EventComplete EventType = "COMPLETE"
	// EventRestartNeeded fires once per restart-threshold crossing. The
	// caller is expected to invoke the maintenance restart.
	EventRestartNeeded EventType = "RESTART_NEEDED"
)

// Event is a message from the engine to its consumer. The engine communicates
// with its caller exclusively by message passing; no engine-internal state is
// shared.
type Event struct {
	Type     EventType
	Outcomes []TransferOutcome // populated for EventProgress
}

// Submitter executes one payment row against the downstream service. It never
// returns an error: every fault is mapped into a failed TransferOutcome so
// that one bad row cannot abort the batch.
type Submitter interface {
	Submit(ctx context.Context, row PaymentRow) TransferOutcome
}

// RunPlan describes what a run will do after the resume filter is applied.
type RunPlan struct {
	Fingerprint      string `json:"fingerprint"`
	Total            int    `json:"total"`
	AlreadyProcessed int    `json:"alreadyProcessed"`
	Remaining        int    `json:"remaining"`
}

// Counts is a point-in-time view of run progress for status reporting.
type Counts struct {
	State          string `json:"state"`
	Total          int    `json:"total"`
	Processed      int    `json:"processed"`
	Succeeded      int    `json:"succeeded"`
	Failed         int    `json:"failed"`
	Remaining      int    `json:"remaining"`
	ActiveWorkers  int    `json:"activeWorkers"`
	RestartPending bool   `json:"restartPending"`
}

var (
	// ErrAlreadyRunning is returned when Start is called while a run is active.
	ErrAlreadyRunning = errors.New("a dispatch run is already active")
	// ErrDatasetEmpty distinguishes "nothing to do because the dataset is
	// empty" from a no-op resume of a finished dataset.
	ErrDatasetEmpty = errors.New("dataset contains no rows")
	// ErrAlreadyComplete is returned when every row of the dataset has
	// already been processed in a prior run.
	ErrAlreadyComplete = errors.New("all rows already processed for this dataset")
	// ErrNoFailedRows is returned by RetryFailed when the session log holds
	// no failed outcomes.
	ErrNoFailedRows = errors.New("session has no failed outcomes to retry")
)

// snapshotInterval is how often the scheduler persists the live session while
// a run is in progress. Snapshot writes happen on the scheduler's timer, never
// inside the per-item hot path.
const snapshotInterval = 5 * time.Second

// eventBuffer bounds the engine-to-caller channel. Progress is already
// batched to ~10 emissions per second, so the buffer only needs to absorb a
// temporarily slow consumer.
const eventBuffer = 1024

// Engine is the bounded-concurrency dispatch scheduler. One Engine instance
// owns its work queue, active-worker count, and live session for the duration
// of a run; all of them are mutated only by the scheduler goroutine, with a
// mutex guarding the session for concurrent status reads.
type Engine struct {
	cfg    DispatchConfig
	client Submitter
	store  SessionStore

	events chan Event

	// mu guards session, queue, and the run-scoped channels for concurrent
	// status reads; the scheduler goroutine remains the only writer of the
	// session contents.
	mu           sync.Mutex
	session      *DispatchSession
	queue        *WorkQueue
	datasetTotal int

	state          atomic.Int32
	activeWorkers  atomic.Int32
	restartPending atomic.Bool

	// processedSession counts all outcomes in the session across runs and
	// backs the "session" restart-counter basis. Scheduler-only.
	processedSession int

	stopCh chan struct{}
	doneCh chan struct{}

	snapshotEvery time.Duration
}

// NewEngine validates the configuration and creates an idle engine. It fails
// fast on configuration violations so a bad run can never start.
func NewEngine(cfg DispatchConfig, client Submitter, store SessionStore) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("dispatch config: %w", err)
	}
	if client == nil {
		return nil, errors.New("transfer client must not be nil")
	}
	if store == nil {
		return nil, errors.New("session store must not be nil")
	}
	return &Engine{
		cfg:           cfg,
		client:        client,
		store:         store,
		events:        make(chan Event, eventBuffer),
		snapshotEvery: snapshotInterval,
	}, nil
}

// Events returns the engine-to-caller signal channel. The consumer must keep
// draining it while a run is active.
func (e *Engine) Events() <-chan Event { return e.events }

// State reports the current lifecycle state.
func (e *Engine) State() EngineState { return EngineState(e.state.Load()) }

// RestartPending reports whether a restart-needed signal has been emitted and
// not yet acknowledged by the caller.
func (e *Engine) RestartPending() bool { return e.restartPending.Load() }

// AckRestart clears the restart-pending flag. The caller invokes it after
// handing the restart to the maintenance coordinator.
func (e *Engine) AckRestart() { e.restartPending.Store(false) }

// Start begins (or resumes) a dispatch run over the dataset. It consults the
// session store to exclude already-processed indices, enqueues only the
// remaining rows, and launches the scheduler goroutine.
//
// The two no-op cases are reported distinctly: ErrDatasetEmpty when the
// dataset has no rows at all, ErrAlreadyComplete when a prior session already
// covers every row. In both cases no run starts.
func (e *Engine) Start(ctx context.Context, ds Dataset) (RunPlan, error) {
	if len(ds.Rows) == 0 {
		return RunPlan{Fingerprint: ds.Fingerprint()}, ErrDatasetEmpty
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.State() != StateIdle {
		return RunPlan{}, ErrAlreadyRunning
	}

	fp := ds.Fingerprint()
	session, err := e.store.Load(ctx, fp)
	switch {
	case errors.Is(err, ErrSessionNotFound):
		session = NewSession(fp, ds.SourceName)
	case err != nil:
		return RunPlan{}, fmt.Errorf("load session %s: %w", fp, err)
	}

	processed := session.ProcessedSet()
	queue := NewWorkQueue()
	queue.EnqueueAll(ds.Rows)
	queue.Remove(func(row PaymentRow) bool { return !processed[row.OriginalIndex] })

	plan := RunPlan{
		Fingerprint:      fp,
		Total:            len(ds.Rows),
		AlreadyProcessed: len(ds.Rows) - queue.Len(),
		Remaining:        queue.Len(),
	}
	if queue.Len() == 0 {
		return plan, ErrAlreadyComplete
	}

	e.session = session
	e.queue = queue
	e.datasetTotal = len(ds.Rows)
	e.processedSession = len(session.Outcomes)
	e.stopCh = make(chan struct{})
	e.doneCh = make(chan struct{})
	e.restartPending.Store(false)
	e.state.Store(int32(StateRunning))

	progress := NewProgressAggregator(func(batch []TransferOutcome) {
		e.events <- Event{Type: EventProgress, Outcomes: batch}
	})

	fmt.Printf("Starting dispatch run %s: %d total, %d already processed, %d remaining\n",
		fp, plan.Total, plan.AlreadyProcessed, plan.Remaining)
	go e.run(ctx, progress)
	return plan, nil
}

// RetryFailed re-dispatches exactly the rows whose most recent outcome
// failed. It removes the failed outcomes and their indices from the stored
// session first (so they are no longer considered done), persists that, and
// then starts an ordinary resume run over the dataset, which now picks up
// precisely the extracted rows.
func (e *Engine) RetryFailed(ctx context.Context, ds Dataset) (RunPlan, error) {
	if e.State() != StateIdle {
		return RunPlan{}, ErrAlreadyRunning
	}
	fp := ds.Fingerprint()
	session, err := e.store.Load(ctx, fp)
	if err != nil {
		return RunPlan{}, fmt.Errorf("load session %s: %w", fp, err)
	}
	retried := session.ExtractFailed()
	if len(retried) == 0 {
		return RunPlan{}, ErrNoFailedRows
	}
	session.LastSavedAt = time.Now()
	if err := e.store.Save(ctx, session); err != nil {
		return RunPlan{}, fmt.Errorf("save session %s after extracting failed rows: %w", fp, err)
	}
	fmt.Printf("Retrying %d failed rows for %s\n", len(retried), fp)
	return e.Start(ctx, ds)
}

// Stop requests a drain: the scheduler stops pulling new work and lets
// in-flight transfers finish naturally (no forced abort of an in-progress
// call, which could leave the downstream service ambiguous about a request it
// may have already accepted). Rows dequeued but never started stay outside
// the session and resume on a later run. Stop is idempotent and returns
// immediately; use Done to wait for the drain.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.state.CompareAndSwap(int32(StateRunning), int32(StateDraining)) {
		return
	}
	close(e.stopCh)
}

// Done returns a channel closed when the current run's scheduler has exited.
// If no run was started, it returns a closed channel.
func (e *Engine) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.doneCh == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return e.doneCh
}

// Counts returns a consistent snapshot of run progress.
func (e *Engine) Counts() Counts {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := Counts{
		State:          e.State().String(),
		ActiveWorkers:  int(e.activeWorkers.Load()),
		RestartPending: e.restartPending.Load(),
	}
	if e.session != nil {
		c.Total = e.datasetTotal
		c.Processed = len(e.session.Outcomes)
		c.Succeeded = e.session.SuccessCount
		c.Failed = e.session.FailureCount
		c.Remaining = e.datasetTotal - len(e.session.ProcessedSet())
	}
	return c
}

// run is the scheduler loop. It is the sole goroutine that touches the queue
// and the live session; workers only ever report back over the completions
// channel.
func (e *Engine) run(ctx context.Context, progress *ProgressAggregator) {
	defer close(e.doneCh)

	completions := make(chan TransferOutcome)
	ticker := time.NewTicker(e.snapshotEvery)
	defer ticker.Stop()

	active := 0
	processedRun := 0
	stop := e.stopCh
	cancelled := ctx.Done()

	for {
		// Fill up workers.
		for e.State() == StateRunning && active < e.cfg.MaxConcurrentWorkers {
			e.mu.Lock()
			row, ok := e.queue.TakeNext()
			e.mu.Unlock()
			if !ok {
				break
			}
			active++
			e.activeWorkers.Store(int32(active))
			RecordDispatched(1)
			go func(r PaymentRow) {
				completions <- e.client.Submit(ctx, r)
			}(row)

			// Throttle burst rate between successive pops, staying
			// responsive to a stop request.
			if e.cfg.InterDispatchDelay > 0 && !e.pause(e.cfg.InterDispatchDelay) {
				break
			}
		}

		if active == 0 {
			e.mu.Lock()
			empty := e.queue.Len() == 0
			e.mu.Unlock()
			if empty || e.State() == StateDraining {
				e.finish(progress, empty && e.State() == StateRunning)
				return
			}
		}

		select {
		case out := <-completions:
			active--
			e.activeWorkers.Store(int32(active))
			processedRun++
			e.handleOutcome(out, progress, processedRun)
			progress.Flush(false)

		case <-ticker.C:
			e.saveSnapshot(false)
			progress.Flush(false)

		case <-stop:
			stop = nil

		case <-cancelled:
			cancelled = nil
			e.state.CompareAndSwap(int32(StateRunning), int32(StateDraining))
		}
	}
}

// handleOutcome records a completed transfer into the session, forwards it to
// the progress aggregator, and fires the restart-needed signal when the
// processed count crosses a threshold multiple.
func (e *Engine) handleOutcome(out TransferOutcome, progress *ProgressAggregator, processedRun int) {
	e.mu.Lock()
	e.session.RecordOutcome(out)
	e.mu.Unlock()

	if out.Succeeded {
		RecordSuccess(1)
	} else {
		RecordFailure(1)
	}
	progress.Record(out)
	e.processedSession++

	n := e.cfg.RestartEveryNProcessed
	if n <= 0 {
		return
	}
	count := processedRun
	if e.cfg.RestartCounterBasis == RestartBasisSession {
		count = e.processedSession
	}
	if count%n == 0 {
		e.restartPending.Store(true)
		RecordRestartSignal(1)
		e.events <- Event{Type: EventRestartNeeded}
	}
}

// finish flushes buffered progress, persists the final session state, emits
// the completion signal for naturally-drained runs, and returns the engine to
// Idle.
func (e *Engine) finish(progress *ProgressAggregator, completed bool) {
	progress.Flush(true)
	e.saveSnapshot(true)
	if completed {
		e.events <- Event{Type: EventComplete}
	}
	e.state.Store(int32(StateIdle))
	fmt.Printf("Dispatch run finished (completed=%t)\n", completed)
}

// saveSnapshot persists a copy of the live session. Mid-run snapshot failures
// are logged and never abort the run (best-effort). The final stop-time save
// is retried once, since losing it would cost resumability for the whole run.
func (e *Engine) saveSnapshot(final bool) {
	e.mu.Lock()
	snap := e.session.Snapshot()
	e.mu.Unlock()
	snap.LastSavedAt = time.Now()

	if err := snap.Validate(); err != nil {
		// A broken invariant is a programming error, not an external fault.
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := e.store.Save(ctx, snap)
	if err != nil && final {
		fmt.Printf("ERROR: final session save failed, retrying once: %v\n", err)
		err = e.store.Save(ctx, snap)
	}
	if err != nil {
		fmt.Printf("ERROR: failed to save session %s: %v\n", snap.Fingerprint, err)
		return
	}
	RecordSnapshot(1)
}

// pause sleeps for d, returning false if the run was asked to stop while
// sleeping.
func (e *Engine) pause(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-e.stopCh:
		return false
	}
}
