package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"bulkpay/internal/dispatcher/core"
)

func sampleSession(fingerprint string) *core.DispatchSession {
	s := core.NewSession(fingerprint, "pensions.csv")
	s.RecordOutcome(core.TransferOutcome{
		OriginalIndex:  0,
		Succeeded:      true,
		HTTPStatusCode: 200,
		TransferID:     "tid-0",
		AttemptID:      "attempt-0",
		CompletedAt:    time.Now().UTC().Truncate(time.Second),
	})
	s.RecordOutcome(core.TransferOutcome{
		OriginalIndex:  3,
		Succeeded:      false,
		HTTPStatusCode: 500,
		ErrorMessage:   "downstream error",
		AttemptID:      "attempt-3",
		CompletedAt:    time.Now().UTC().Truncate(time.Second),
	})
	return s
}

// exerciseStoreContract runs the behavior every SessionStore backend must
// share: round-trip, overwrite, not-found, and idempotent delete.
func exerciseStoreContract(t *testing.T, store core.SessionStore) {
	t.Helper()
	ctx := context.Background()
	fp := "pensions.csv_4096"

	if _, err := store.Load(ctx, fp); !errors.Is(err, core.ErrSessionNotFound) {
		t.Fatalf("Load of absent session = %v, want ErrSessionNotFound", err)
	}

	want := sampleSession(fp)
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Load(ctx, fp)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Fingerprint != fp || got.SourceName != "pensions.csv" {
		t.Fatalf("loaded identity = %q/%q", got.Fingerprint, got.SourceName)
	}
	if len(got.Outcomes) != 2 || got.SuccessCount != 1 || got.FailureCount != 1 {
		t.Fatalf("loaded session = %d outcomes, %d/%d counts, want 2 and 1/1",
			len(got.Outcomes), got.SuccessCount, got.FailureCount)
	}
	if got.Outcomes[1].ErrorMessage != "downstream error" {
		t.Fatalf("outcome detail lost in round trip: %+v", got.Outcomes[1])
	}
	if err := got.Validate(); err != nil {
		t.Fatalf("loaded session violates invariants: %v", err)
	}

	// Last write wins.
	want.RecordOutcome(core.TransferOutcome{OriginalIndex: 5, Succeeded: true, AttemptID: "attempt-5"})
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("overwrite Save: %v", err)
	}
	got, err = store.Load(ctx, fp)
	if err != nil {
		t.Fatalf("Load after overwrite: %v", err)
	}
	if len(got.Outcomes) != 3 {
		t.Fatalf("after overwrite: %d outcomes, want 3", len(got.Outcomes))
	}

	if err := store.Delete(ctx, fp); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Load(ctx, fp); !errors.Is(err, core.ErrSessionNotFound) {
		t.Fatalf("Load after delete = %v, want ErrSessionNotFound", err)
	}
	if err := store.Delete(ctx, fp); err != nil {
		t.Fatalf("second Delete must be a no-op, got %v", err)
	}
}
