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
// dispatcher. This file implements the ordered work queue the engine
// drains during a run.
package core

// WorkQueue is an ordered collection of pending payment rows with
// constant-time removal of the head. It is intentionally not thread-safe:
// the engine's scheduler goroutine is the only component allowed to touch it
// (single-writer discipline, see Engine).
//
// An empty queue is a normal terminal state, not a failure.
type WorkQueue struct {
	rows []PaymentRow
	head int
}

// NewWorkQueue creates an empty queue.
func NewWorkQueue() *WorkQueue {
	return &WorkQueue{}
}

// EnqueueAll appends rows preserving their relative order.
func (q *WorkQueue) EnqueueAll(rows []PaymentRow) {
	q.rows = append(q.rows, rows...)
}

// TakeNext removes and returns the head row. The second return value is false
// when the queue is empty.
func (q *WorkQueue) TakeNext() (PaymentRow, bool) {
	if q.head >= len(q.rows) {
		return PaymentRow{}, false
	}
	row := q.rows[q.head]
	// Drop the reference so the backing array can be collected as the run
	// progresses through large datasets.
	q.rows[q.head] = PaymentRow{}
	q.head++
	if q.head == len(q.rows) {
		q.rows = q.rows[:0]
		q.head = 0
	}
	return row, true
}

// Remove drops every pending row for which keep returns false. It is used to
// pre-filter already-processed rows before a resumed run starts.
func (q *WorkQueue) Remove(keep func(PaymentRow) bool) {
	kept := q.rows[:0]
	for _, row := range q.rows[q.head:] {
		if keep(row) {
			kept = append(kept, row)
		}
	}
	q.rows = kept
	q.head = 0
}

// Len reports the number of pending rows.
func (q *WorkQueue) Len() int {
	return len(q.rows) - q.head
}
