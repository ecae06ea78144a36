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
	"testing"

	"github.com/shopspring/decimal"
)

func outcome(idx int, ok bool) TransferOutcome {
	return TransferOutcome{OriginalIndex: idx, Succeeded: ok, AttemptID: "attempt"}
}

func TestSession_RecordOutcomeMaintainsInvariants(t *testing.T) {
	s := NewSession("pay.csv_100", "pay.csv")
	s.RecordOutcome(outcome(0, true))
	s.RecordOutcome(outcome(2, false))
	s.RecordOutcome(outcome(1, true))

	if err := s.Validate(); err != nil {
		t.Fatalf("invariants violated: %v", err)
	}
	if s.SuccessCount != 2 || s.FailureCount != 1 {
		t.Fatalf("counts = %d/%d, want 2/1", s.SuccessCount, s.FailureCount)
	}
	set := s.ProcessedSet()
	for _, idx := range []int{0, 1, 2} {
		if !set[idx] {
			t.Fatalf("index %d missing from processed set", idx)
		}
	}
}

func TestSession_ExtractFailedRemovesOutcomesAndIndices(t *testing.T) {
	s := NewSession("pay.csv_100", "pay.csv")
	s.RecordOutcome(outcome(0, true))
	s.RecordOutcome(outcome(1, false))
	s.RecordOutcome(outcome(2, true))
	s.RecordOutcome(outcome(3, false))

	retried := s.ExtractFailed()
	if len(retried) != 2 || retried[0] != 1 || retried[1] != 3 {
		t.Fatalf("retried = %v, want [1 3]", retried)
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("invariants violated after extraction: %v", err)
	}
	if len(s.Outcomes) != 2 || s.SuccessCount != 2 || s.FailureCount != 0 {
		t.Fatalf("after extraction: |outcomes|=%d success=%d failure=%d, want 2/2/0",
			len(s.Outcomes), s.SuccessCount, s.FailureCount)
	}
	set := s.ProcessedSet()
	if set[1] || set[3] {
		t.Fatal("extracted indices must leave the processed set")
	}
}

func TestSession_ExtractFailedOnCleanSessionIsNil(t *testing.T) {
	s := NewSession("pay.csv_100", "pay.csv")
	s.RecordOutcome(outcome(0, true))
	if got := s.ExtractFailed(); got != nil {
		t.Fatalf("ExtractFailed = %v on a session without failures", got)
	}
}

func TestSession_SnapshotIsIndependentCopy(t *testing.T) {
	s := NewSession("pay.csv_100", "pay.csv")
	s.RecordOutcome(outcome(0, true))

	snap := s.Snapshot()
	s.RecordOutcome(outcome(1, false))

	if len(snap.Outcomes) != 1 || len(snap.ProcessedIndices) != 1 {
		t.Fatalf("snapshot grew with the live session: %d outcomes", len(snap.Outcomes))
	}
	if err := snap.Validate(); err != nil {
		t.Fatalf("snapshot invariants violated: %v", err)
	}
}

func TestSession_ValidateDetectsCounterDrift(t *testing.T) {
	s := NewSession("pay.csv_100", "pay.csv")
	s.RecordOutcome(outcome(0, true))
	s.SuccessCount = 5
	if err := s.Validate(); err == nil {
		t.Fatal("expected Validate to reject drifted counters")
	}
}

func TestDataset_FingerprintIsStable(t *testing.T) {
	ds := Dataset{SourceName: "april.csv", SizeBytes: 2048, Rows: []PaymentRow{
		{OriginalIndex: 0, Amount: decimal.NewFromInt(100)},
	}}
	if got := ds.Fingerprint(); got != "april.csv_2048" {
		t.Fatalf("Fingerprint() = %q, want %q", got, "april.csv_2048")
	}
}
