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
// dispatcher. This file defines the data model: payment rows, transfer
// outcomes, and the resumable dispatch session with its invariants.
package core

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentRow is a single instruction to pay one recipient. Rows are immutable
// once created. OriginalIndex is assigned exactly once at ingestion time from
// the source row position and is never renumbered, even when a subset of rows
// is dispatched later. Resumability and retry correctness depend on it.
type PaymentRow struct {
	OriginalIndex    int             `json:"originalIndex"`
	RecipientIDType  string          `json:"recipientIdType"`
	RecipientIDValue string          `json:"recipientIdValue"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	PayeeName        string          `json:"payeeName"`
}

// TransferOutcome is the result of one attempt to execute a PaymentRow.
// A row retried after failure produces a new TransferOutcome with a fresh
// AttemptID; outcomes are never mutated after creation.
//
// The JSON field names match the persisted session format so that snapshots
// written by earlier versions of the operator tooling remain readable.
type TransferOutcome struct {
	OriginalIndex  int       `json:"originalIndex"`
	Succeeded      bool      `json:"success"`
	HTTPStatusCode int       `json:"httpCode"`
	StatusText     string    `json:"httpStatus"`
	TransferID     string    `json:"transferId,omitempty"`
	CurrentState   string    `json:"currentState,omitempty"`
	ErrorMessage   string    `json:"message,omitempty"`
	LastError      string    `json:"lastError,omitempty"`
	DurationMillis int64     `json:"duration"`
	CompletedAt    time.Time `json:"timestamp"`
	AttemptID      string    `json:"txId"`
}

// Dataset is an ordered sequence of payment rows produced by ingestion,
// together with enough source metadata to derive a stable fingerprint.
type Dataset struct {
	SourceName string
	SizeBytes  int64
	Rows       []PaymentRow
}

// Fingerprint derives the stable session key for this dataset from its source
// name and byte size. Re-uploading the same file yields the same key, which is
// what makes resume-after-interruption discoverable.
func (d Dataset) Fingerprint() string {
	return fmt.Sprintf("%s_%d", d.SourceName, d.SizeBytes)
}

// DispatchSession is the resumable unit of work for one dataset. It is
// mutated only by the engine's scheduler goroutine during a run; everything
// persisted is a read-only snapshot taken at save time.
//
// Invariants (checked by Validate):
//   - ProcessedIndices is exactly the set of OriginalIndex values in Outcomes.
//   - SuccessCount + FailureCount == len(Outcomes).
type DispatchSession struct {
	Fingerprint      string            `json:"fileId"`
	SourceName       string            `json:"fileName"`
	Outcomes         []TransferOutcome `json:"outcomes"`
	ProcessedIndices []int             `json:"processedIndices"`
	SuccessCount     int               `json:"successCount"`
	FailureCount     int               `json:"errorCount"`
	LastSavedAt      time.Time         `json:"timestamp"`
}

// NewSession creates an empty session for a dataset.
func NewSession(fingerprint, sourceName string) *DispatchSession {
	return &DispatchSession{
		Fingerprint: fingerprint,
		SourceName:  sourceName,
	}
}

// RecordOutcome appends an outcome and updates the derived counters and the
// processed-index set. Outcomes arrive in completion order, not submission
// order; callers must not assume any relation to OriginalIndex order.
func (s *DispatchSession) RecordOutcome(o TransferOutcome) {
	s.Outcomes = append(s.Outcomes, o)
	s.ProcessedIndices = append(s.ProcessedIndices, o.OriginalIndex)
	if o.Succeeded {
		s.SuccessCount++
	} else {
		s.FailureCount++
	}
}

// ProcessedSet returns the processed indices as a set for O(1) membership
// checks when filtering a dataset on resume.
func (s *DispatchSession) ProcessedSet() map[int]bool {
	set := make(map[int]bool, len(s.ProcessedIndices))
	for _, idx := range s.ProcessedIndices {
		set[idx] = true
	}
	return set
}

// FailedIndices returns the set of original indices whose most recent outcome
// failed.
func (s *DispatchSession) FailedIndices() map[int]bool {
	failed := make(map[int]bool)
	for _, o := range s.Outcomes {
		if !o.Succeeded {
			failed[o.OriginalIndex] = true
		}
	}
	return failed
}

// ExtractFailed implements the retry-failed protocol: it removes every failed
// outcome from the log, removes the corresponding indices from the
// processed-index set, and returns those indices. After this call the failed
// rows are no longer considered done and may be dispatched again. This is the
// only sanctioned way a row is processed more than once within a session.
func (s *DispatchSession) ExtractFailed() []int {
	failed := s.FailedIndices()
	if len(failed) == 0 {
		return nil
	}

	kept := s.Outcomes[:0]
	for _, o := range s.Outcomes {
		if !failed[o.OriginalIndex] {
			kept = append(kept, o)
		}
	}
	s.Outcomes = kept

	keptIdx := s.ProcessedIndices[:0]
	for _, idx := range s.ProcessedIndices {
		if !failed[idx] {
			keptIdx = append(keptIdx, idx)
		}
	}
	s.ProcessedIndices = keptIdx

	s.SuccessCount = 0
	s.FailureCount = 0
	for _, o := range s.Outcomes {
		if o.Succeeded {
			s.SuccessCount++
		} else {
			s.FailureCount++
		}
	}

	out := make([]int, 0, len(failed))
	for idx := range failed {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}

// Snapshot returns a deep copy suitable for handing to a SessionStore while
// the scheduler keeps mutating the live session.
func (s *DispatchSession) Snapshot() *DispatchSession {
	cp := *s
	cp.Outcomes = append([]TransferOutcome(nil), s.Outcomes...)
	cp.ProcessedIndices = append([]int(nil), s.ProcessedIndices...)
	return &cp
}

// Validate checks the session invariants. A violation indicates a programming
// error, not an external fault, so callers treat it as fatal.
func (s *DispatchSession) Validate() error {
	if s.SuccessCount+s.FailureCount != len(s.Outcomes) {
		return fmt.Errorf("session %s: successCount(%d)+failureCount(%d) != |outcomes|(%d)",
			s.Fingerprint, s.SuccessCount, s.FailureCount, len(s.Outcomes))
	}
	fromOutcomes := make(map[int]bool, len(s.Outcomes))
	for _, o := range s.Outcomes {
		fromOutcomes[o.OriginalIndex] = true
	}
	set := s.ProcessedSet()
	if len(set) != len(fromOutcomes) {
		return fmt.Errorf("session %s: processedIndices (%d distinct) does not match outcome indices (%d distinct)",
			s.Fingerprint, len(set), len(fromOutcomes))
	}
	for idx := range fromOutcomes {
		if !set[idx] {
			return fmt.Errorf("session %s: outcome index %d missing from processedIndices", s.Fingerprint, idx)
		}
	}
	return nil
}
