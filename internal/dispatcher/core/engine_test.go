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

package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// fakeSubmitter is an in-process Submitter. failIdx marks original indices
// that produce a failed outcome; a non-nil gate makes Submit block until the
// gate channel is closed, which lets tests pin workers in flight.
type fakeSubmitter struct {
	mu        sync.Mutex
	submitted []int
	failIdx   map[int]bool
	gate      chan struct{}

	cur atomic.Int32
	max atomic.Int32
}

func (s *fakeSubmitter) Submit(ctx context.Context, row PaymentRow) TransferOutcome {
	cur := s.cur.Add(1)
	for {
		m := s.max.Load()
		if cur <= m || s.max.CompareAndSwap(m, cur) {
			break
		}
	}
	defer s.cur.Add(-1)

	if s.gate != nil {
		<-s.gate
	}

	s.mu.Lock()
	s.submitted = append(s.submitted, row.OriginalIndex)
	fail := s.failIdx[row.OriginalIndex]
	s.mu.Unlock()

	out := TransferOutcome{
		OriginalIndex:  row.OriginalIndex,
		Succeeded:      !fail,
		HTTPStatusCode: 200,
		AttemptID:      "test-attempt",
		CompletedAt:    time.Now(),
	}
	if fail {
		out.Succeeded = false
		out.HTTPStatusCode = 500
		out.ErrorMessage = "simulated downstream failure"
	}
	return out
}

func (s *fakeSubmitter) submittedIndices() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.submitted...)
}

func testDataset(n int) Dataset {
	rows := make([]PaymentRow, n)
	for i := range rows {
		rows[i] = PaymentRow{
			OriginalIndex:    i,
			RecipientIDType:  "MSISDN",
			RecipientIDValue: fmt.Sprintf("22501%06d", i),
			Amount:           decimal.NewFromInt(1000),
			Currency:         "XOF",
			PayeeName:        fmt.Sprintf("Payee %d", i),
		}
	}
	return Dataset{SourceName: "test.csv", SizeBytes: int64(1000 + n), Rows: rows}
}

func engineConfig(workers, restartEvery int) DispatchConfig {
	return DispatchConfig{
		MaxConcurrentWorkers:   workers,
		InterDispatchDelay:     0,
		RestartEveryNProcessed: restartEvery,
		Endpoint:               "http://localhost:3001/transfers",
	}
}

// waitDone blocks until the engine's scheduler exits, then drains and returns
// every buffered event.
func waitDone(t *testing.T, e *Engine) []Event {
	t.Helper()
	select {
	case <-e.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not finish within 5s")
	}
	var events []Event
	for {
		select {
		case ev := <-e.Events():
			events = append(events, ev)
		default:
			return events
		}
	}
}

func countEvents(events []Event, typ EventType) int {
	n := 0
	for _, ev := range events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func progressTotal(events []Event) int {
	n := 0
	for _, ev := range events {
		if ev.Type == EventProgress {
			n += len(ev.Outcomes)
		}
	}
	return n
}

func TestEngine_AllSucceedEmitsCompleteOnce(t *testing.T) {
	store := NewMemoryStore()
	sub := &fakeSubmitter{}
	e, err := NewEngine(engineConfig(2, 0), sub, store)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	ds := testDataset(3)
	plan, err := e.Start(context.Background(), ds)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if plan.Remaining != 3 || plan.AlreadyProcessed != 0 {
		t.Fatalf("plan = %+v, want 3 remaining, 0 processed", plan)
	}

	events := waitDone(t, e)
	if got := countEvents(events, EventComplete); got != 1 {
		t.Fatalf("COMPLETE emitted %d times, want exactly 1", got)
	}
	if got := progressTotal(events); got != 3 {
		t.Fatalf("progress carried %d outcomes, want 3", got)
	}

	session, err := store.Load(context.Background(), ds.Fingerprint())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if session.SuccessCount != 3 || session.FailureCount != 0 {
		t.Fatalf("persisted counts = %d/%d, want 3/0", session.SuccessCount, session.FailureCount)
	}
	if e.State() != StateIdle {
		t.Fatalf("state = %s after drain, want idle", e.State())
	}
}

func TestEngine_FailureIsIsolatedAndRetryFailedRedispatchesExactlyThose(t *testing.T) {
	store := NewMemoryStore()
	sub := &fakeSubmitter{failIdx: map[int]bool{2: true}}
	e, err := NewEngine(engineConfig(2, 0), sub, store)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	ds := testDataset(4)
	if _, err := e.Start(context.Background(), ds); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, e)

	session, err := store.Load(context.Background(), ds.Fingerprint())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if session.SuccessCount != 3 || session.FailureCount != 1 {
		t.Fatalf("counts = %d/%d, want 3/1", session.SuccessCount, session.FailureCount)
	}

	// Second attempt for the failed row succeeds.
	sub.mu.Lock()
	sub.failIdx = nil
	sub.mu.Unlock()

	plan, err := e.RetryFailed(context.Background(), ds)
	if err != nil {
		t.Fatalf("RetryFailed: %v", err)
	}
	if plan.Remaining != 1 {
		t.Fatalf("retry plan.Remaining = %d, want 1", plan.Remaining)
	}
	waitDone(t, e)

	session, err = store.Load(context.Background(), ds.Fingerprint())
	if err != nil {
		t.Fatalf("Load after retry: %v", err)
	}
	if session.SuccessCount != 4 || session.FailureCount != 0 {
		t.Fatalf("counts after retry = %d/%d, want 4/0", session.SuccessCount, session.FailureCount)
	}

	redispatched := 0
	for _, idx := range sub.submittedIndices() {
		if idx == 2 {
			redispatched++
		}
	}
	if redispatched != 2 {
		t.Fatalf("row 2 submitted %d times, want 2 (original + retry)", redispatched)
	}

	if _, err := e.RetryFailed(context.Background(), ds); !errors.Is(err, ErrNoFailedRows) {
		t.Fatalf("RetryFailed on a clean session = %v, want ErrNoFailedRows", err)
	}
}

func TestEngine_ConcurrencyNeverExceedsWorkerBound(t *testing.T) {
	store := NewMemoryStore()
	gate := make(chan struct{})
	sub := &fakeSubmitter{gate: gate}
	e, err := NewEngine(engineConfig(3, 0), sub, store)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	if _, err := e.Start(context.Background(), testDataset(10)); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Workers pile up at the bound while the gate holds them.
	deadline := time.Now().Add(2 * time.Second)
	for sub.cur.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("in-flight workers = %d, never reached the bound of 3", sub.cur.Load())
		}
		time.Sleep(time.Millisecond)
	}
	close(gate)
	waitDone(t, e)

	if got := sub.max.Load(); got != 3 {
		t.Fatalf("max concurrent submissions = %d, want exactly 3", got)
	}
	if got := len(sub.submittedIndices()); got != 10 {
		t.Fatalf("submitted %d rows, want 10", got)
	}
}

func TestEngine_RestartSignalFiresAtEveryThresholdMultiple(t *testing.T) {
	store := NewMemoryStore()
	sub := &fakeSubmitter{}
	e, err := NewEngine(engineConfig(2, 5), sub, store)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	if _, err := e.Start(context.Background(), testDataset(10)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	events := waitDone(t, e)

	if got := countEvents(events, EventRestartNeeded); got != 2 {
		t.Fatalf("RESTART_NEEDED emitted %d times over 10 rows with threshold 5, want 2", got)
	}
	if !e.RestartPending() {
		t.Fatal("restart-pending flag should be set until acknowledged")
	}
	e.AckRestart()
	if e.RestartPending() {
		t.Fatal("AckRestart did not clear the pending flag")
	}
}

func TestEngine_ZeroThresholdNeverSignalsRestart(t *testing.T) {
	store := NewMemoryStore()
	sub := &fakeSubmitter{}
	e, err := NewEngine(engineConfig(4, 0), sub, store)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	if _, err := e.Start(context.Background(), testDataset(12)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	events := waitDone(t, e)

	if got := countEvents(events, EventRestartNeeded); got != 0 {
		t.Fatalf("RESTART_NEEDED emitted %d times with threshold disabled, want 0", got)
	}
}

func TestEngine_SessionBasisCountsAcrossRuns(t *testing.T) {
	store := NewMemoryStore()

	// Pre-seed three processed rows from an earlier run over the same dataset.
	ds := testDataset(10)
	seed := NewSession(ds.Fingerprint(), ds.SourceName)
	for i := 0; i < 3; i++ {
		seed.RecordOutcome(outcome(i, true))
	}
	if err := store.Save(context.Background(), seed); err != nil {
		t.Fatalf("seed Save: %v", err)
	}

	cfg := engineConfig(2, 5)
	cfg.RestartCounterBasis = RestartBasisSession
	e, err := NewEngine(cfg, &fakeSubmitter{}, store)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	plan, err := e.Start(context.Background(), ds)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if plan.Remaining != 7 {
		t.Fatalf("plan.Remaining = %d, want 7", plan.Remaining)
	}
	events := waitDone(t, e)

	// Session counter runs 4..10 during this run, crossing 5 and 10.
	if got := countEvents(events, EventRestartNeeded); got != 2 {
		t.Fatalf("RESTART_NEEDED emitted %d times on session basis, want 2", got)
	}
}

func TestEngine_StopDrainsInFlightAndLeavesQueueForResume(t *testing.T) {
	store := NewMemoryStore()
	gate := make(chan struct{})
	sub := &fakeSubmitter{gate: gate}
	e, err := NewEngine(engineConfig(2, 0), sub, store)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	ds := testDataset(7)
	if _, err := e.Start(context.Background(), ds); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for sub.cur.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("in-flight workers = %d, want 2 before stopping", sub.cur.Load())
		}
		time.Sleep(time.Millisecond)
	}

	e.Stop()
	e.Stop() // idempotent
	if e.State() != StateDraining {
		t.Fatalf("state = %s after Stop, want draining", e.State())
	}

	close(gate)
	events := waitDone(t, e)

	if got := countEvents(events, EventComplete); got != 0 {
		t.Fatal("an explicit stop must not emit COMPLETE")
	}
	if got := len(sub.submittedIndices()); got != 2 {
		t.Fatalf("submitted %d rows before drain, want only the 2 in flight", got)
	}

	session, err := store.Load(context.Background(), ds.Fingerprint())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(session.Outcomes) != 2 {
		t.Fatalf("session recorded %d outcomes, want the 2 in-flight rows", len(session.Outcomes))
	}

	// Resume picks up exactly the rows the stop left behind.
	plan, err := e.Start(context.Background(), ds)
	if err != nil {
		t.Fatalf("resume Start: %v", err)
	}
	if plan.AlreadyProcessed != 2 || plan.Remaining != 5 {
		t.Fatalf("resume plan = %+v, want 2 processed, 5 remaining", plan)
	}
	waitDone(t, e)
}

func TestEngine_ResumeSkipsProcessedIndices(t *testing.T) {
	store := NewMemoryStore()
	ds := testDataset(4)

	seed := NewSession(ds.Fingerprint(), ds.SourceName)
	seed.RecordOutcome(outcome(0, true))
	seed.RecordOutcome(outcome(1, true))
	if err := store.Save(context.Background(), seed); err != nil {
		t.Fatalf("seed Save: %v", err)
	}

	sub := &fakeSubmitter{}
	e, err := NewEngine(engineConfig(2, 0), sub, store)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	plan, err := e.Start(context.Background(), ds)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if plan.AlreadyProcessed != 2 || plan.Remaining != 2 {
		t.Fatalf("plan = %+v, want 2 already processed, 2 remaining", plan)
	}
	waitDone(t, e)

	got := sub.submittedIndices()
	if len(got) != 2 || (got[0] != 2 && got[0] != 3) || (got[1] != 2 && got[1] != 3) || got[0] == got[1] {
		t.Fatalf("submitted = %v, want exactly rows 2 and 3", got)
	}

	session, err := store.Load(context.Background(), ds.Fingerprint())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if session.SuccessCount != 4 {
		t.Fatalf("SuccessCount = %d, want 4", session.SuccessCount)
	}
}

func TestEngine_StartErrorCases(t *testing.T) {
	store := NewMemoryStore()
	gate := make(chan struct{})
	e, err := NewEngine(engineConfig(1, 0), &fakeSubmitter{gate: gate}, store)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	if _, err := e.Start(context.Background(), Dataset{SourceName: "empty.csv"}); !errors.Is(err, ErrDatasetEmpty) {
		t.Fatalf("empty dataset: err = %v, want ErrDatasetEmpty", err)
	}

	ds := testDataset(2)
	if _, err := e.Start(context.Background(), ds); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := e.Start(context.Background(), ds); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start: err = %v, want ErrAlreadyRunning", err)
	}
	close(gate)
	waitDone(t, e)

	if _, err := e.Start(context.Background(), ds); !errors.Is(err, ErrAlreadyComplete) {
		t.Fatalf("Start over finished dataset: err = %v, want ErrAlreadyComplete", err)
	}
}

func TestEngine_ContextCancellationDrains(t *testing.T) {
	store := NewMemoryStore()
	gate := make(chan struct{})
	sub := &fakeSubmitter{gate: gate}
	e, err := NewEngine(engineConfig(2, 0), sub, store)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if _, err := e.Start(ctx, testDataset(6)); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for sub.cur.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("workers never became active")
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	close(gate)
	events := waitDone(t, e)

	if got := countEvents(events, EventComplete); got != 0 {
		t.Fatal("a cancelled run must not emit COMPLETE")
	}
	if e.State() != StateIdle {
		t.Fatalf("state = %s, want idle after drain", e.State())
	}
}

func TestEngine_CountsReflectRunProgress(t *testing.T) {
	store := NewMemoryStore()
	sub := &fakeSubmitter{failIdx: map[int]bool{1: true}}
	e, err := NewEngine(engineConfig(2, 0), sub, store)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	if c := e.Counts(); c.State != "idle" || c.Total != 0 {
		t.Fatalf("idle counts = %+v", c)
	}

	ds := testDataset(3)
	if _, err := e.Start(context.Background(), ds); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, e)

	c := e.Counts()
	if c.Total != 3 || c.Processed != 3 || c.Succeeded != 2 || c.Failed != 1 || c.Remaining != 0 {
		t.Fatalf("counts = %+v, want total 3, processed 3, succeeded 2, failed 1", c)
	}
}

// failingStore rejects every Save and counts the attempts. Load reports no
// existing session so runs always start fresh.
type failingStore struct {
	saves atomic.Int32
}

func (s *failingStore) Load(ctx context.Context, fingerprint string) (*DispatchSession, error) {
	return nil, ErrSessionNotFound
}

func (s *failingStore) Save(ctx context.Context, session *DispatchSession) error {
	s.saves.Add(1)
	return errors.New("disk full")
}

func (s *failingStore) Delete(ctx context.Context, fingerprint string) error { return nil }

func TestEngine_SaveFailureDoesNotAbortRunAndFinalSaveRetriesOnce(t *testing.T) {
	store := &failingStore{}
	sub := &fakeSubmitter{}
	e, err := NewEngine(engineConfig(2, 0), sub, store)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	if _, err := e.Start(context.Background(), testDataset(4)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	events := waitDone(t, e)

	if got := countEvents(events, EventComplete); got != 1 {
		t.Fatalf("COMPLETE events = %d, want 1", got)
	}
	if got := progressTotal(events); got != 4 {
		t.Fatalf("progress outcomes = %d, want 4", got)
	}
	// The terminal save is the failed write plus exactly one retry.
	if got := store.saves.Load(); got != 2 {
		t.Fatalf("Save attempts = %d, want 2", got)
	}

	c := e.Counts()
	if c.State != "idle" || c.Processed != 4 || c.Succeeded != 4 {
		t.Fatalf("counts after failed saves = %+v", c)
	}
}
