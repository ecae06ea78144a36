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

// Package core contains shared, process-level metrics counters used for the
// final end-of-process summary. These are kept lightweight and use atomic
// counters to avoid allocation and locks on the hot path.
package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var (
	dispatched     atomic.Int64
	succeeded      atomic.Int64
	failed         atomic.Int64
	snapshots      atomic.Int64
	restartSignals atomic.Int64

	// thresholds holds human-readable configuration knobs captured at runtime.
	thresholdsMu sync.RWMutex
	thresholds   = make(map[string]string)
)

// RecordDispatched increments the number of rows handed to a worker.
func RecordDispatched(n int64) {
	if n > 0 {
		dispatched.Add(n)
	}
}

// RecordSuccess increments the number of successful transfer outcomes.
func RecordSuccess(n int64) {
	if n > 0 {
		succeeded.Add(n)
	}
}

// RecordFailure increments the number of failed transfer outcomes.
func RecordFailure(n int64) {
	if n > 0 {
		failed.Add(n)
	}
}

// RecordSnapshot increments the number of session snapshots written.
func RecordSnapshot(n int64) {
	if n > 0 {
		snapshots.Add(n)
	}
}

// RecordRestartSignal increments the number of restart-needed signals emitted.
func RecordRestartSignal(n int64) {
	if n > 0 {
		restartSignals.Add(n)
	}
}

// Threshold setters capture important runtime configuration for final printing.
func SetThreshold(name string, value string) {
	thresholdsMu.Lock()
	thresholds[name] = value
	thresholdsMu.Unlock()
}

func SetThresholdInt(name string, v int)                 { SetThreshold(name, fmt.Sprintf("%d", v)) }
func SetThresholdDuration(name string, d time.Duration)  { SetThreshold(name, d.String()) }
func SetThresholdBool(name string, b bool)               { SetThreshold(name, fmt.Sprintf("%t", b)) }

// getEventTotals provides a snapshot of current counters.
func getEventTotals() (dispatchedN, succeededN, failedN, snapshotsN, restartsN int64) {
	return dispatched.Load(), succeeded.Load(), failed.Load(), snapshots.Load(), restartSignals.Load()
}

// getThresholdSnapshot returns a copy of thresholds for stable iteration.
func getThresholdSnapshot() map[string]string {
	thresholdsMu.RLock()
	defer thresholdsMu.RUnlock()
	out := make(map[string]string, len(thresholds))
	for k, v := range thresholds {
		out[k] = v
	}
	return out
}

// resetEventTotals resets counters to zero. Intended for tests only.
func resetEventTotals() {
	dispatched.Store(0)
	succeeded.Store(0)
	failed.Store(0)
	snapshots.Store(0)
	restartSignals.Store(0)
}

// PrintRunSummary prints a single yellow end-of-process summary of the
// dispatch counters and the configured thresholds.
func PrintRunSummary() {
	dispatchedN, succeededN, failedN, snapshotsN, restartsN := getEventTotals()

	th := getThresholdSnapshot()
	keys := make([]string, 0, len(th))
	for k := range th {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	yellow := "\x1b[33m"
	reset := "\x1b[0m"
	now := time.Now().Format(time.RFC3339)

	sep := strings.Repeat("-", 60)
	fmt.Printf("%s[%s] Final dispatch metrics\n", yellow, now)
	fmt.Println(sep)
	fmt.Printf("%-18s %12s\n", "Metric", "Value")
	fmt.Println(sep)
	fmt.Printf("%-18s %12d\n", "Dispatched", dispatchedN)
	fmt.Printf("%-18s %12d\n", "Succeeded", succeededN)
	fmt.Printf("%-18s %12d\n", "Failed", failedN)
	fmt.Printf("%-18s %12d\n", "Snapshots", snapshotsN)
	fmt.Printf("%-18s %12d\n", "Restart signals", restartsN)
	fmt.Println(sep)

	if len(keys) > 0 {
		fmt.Printf("Configured thresholds\n")
		fmt.Println(sep)
		fmt.Printf("%-30s %24s\n", "Name", "Value")
		fmt.Println(sep)
		for _, k := range keys {
			fmt.Printf("%-30s %24s\n", k, th[k])
		}
		fmt.Println(sep)
	}

	fmt.Println("Unprocessed rows stay outside the session and resume on the next run for the same dataset.")
	fmt.Print(reset)
}
