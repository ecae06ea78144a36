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

import "time"

// defaultEmitInterval bounds progress notifications to roughly ten per second
// regardless of per-item completion rate.
const defaultEmitInterval = 100 * time.Millisecond

// ProgressAggregator buffers completed-item results and emits them as
// discrete batches on a time/force cadence, decoupling per-item completion
// speed from consumer update frequency.
//
// It is used only from the engine's scheduler goroutine and needs no locking.
type ProgressAggregator struct {
	consumer     func([]TransferOutcome)
	buffer       []TransferOutcome
	emitInterval time.Duration
	lastEmit     time.Time
	now          func() time.Time
}

// NewProgressAggregator creates an aggregator delivering batches to consumer.
// A nil consumer is allowed and turns the aggregator into a no-op sink.
func NewProgressAggregator(consumer func([]TransferOutcome)) *ProgressAggregator {
	return &ProgressAggregator{
		consumer:     consumer,
		emitInterval: defaultEmitInterval,
		now:          time.Now,
	}
}

// Record appends an outcome to the internal buffer.
func (p *ProgressAggregator) Record(o TransferOutcome) {
	p.buffer = append(p.buffer, o)
}

// Flush emits the buffered batch and clears the buffer, but only if force is
// true or the emit interval has elapsed since the last emission. The engine
// calls Flush(true) on run termination and on explicit stop, guaranteeing no
// outcome is silently dropped at shutdown.
func (p *ProgressAggregator) Flush(force bool) {
	if len(p.buffer) == 0 {
		return
	}
	now := p.now()
	if !force && now.Sub(p.lastEmit) < p.emitInterval {
		return
	}
	if p.consumer != nil {
		batch := make([]TransferOutcome, len(p.buffer))
		copy(batch, p.buffer)
		p.consumer(batch)
	}
	p.buffer = p.buffer[:0]
	p.lastEmit = now
}

// Pending reports the number of buffered, not yet emitted outcomes.
func (p *ProgressAggregator) Pending() int {
	return len(p.buffer)
}
