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
	"errors"
	"fmt"
	"time"
)

// RestartCounterBasis selects what the restart threshold counts against.
//
// The original tooling counted "processed since dispatch was last started",
// which resets on every resume. That prevents runaway restarts when resuming
// a short tail, but means a session processed across many short runs may
// never trigger maintenance. Both interpretations are supported and the
// choice is explicit configuration rather than an accident of implementation.
type RestartCounterBasis string

const (
	// RestartBasisRun counts items processed since the current run started.
	RestartBasisRun RestartCounterBasis = "run"
	// RestartBasisSession counts all items processed in the session,
	// including previous runs over the same dataset.
	RestartBasisSession RestartCounterBasis = "session"
)

// DispatchConfig holds the parameters for one dispatch run. It is supplied
// per run and is not part of the session identity.
type DispatchConfig struct {
	// MaxConcurrentWorkers bounds the number of in-flight transfer calls.
	MaxConcurrentWorkers int
	// InterDispatchDelay throttles burst rate: it is applied between
	// successive queue pops, not between completions.
	InterDispatchDelay time.Duration
	// RestartEveryNProcessed asks for a connector maintenance restart after
	// every N processed items (success and failure counted together).
	// 0 disables the signal entirely.
	RestartEveryNProcessed int
	// RestartCounterBasis selects the counter the threshold applies to.
	// Empty defaults to RestartBasisRun.
	RestartCounterBasis RestartCounterBasis

	// Payer identity stamped on every outgoing transfer.
	PayerIDType      string
	PayerIDValue     string
	PayerDisplayName string

	// Endpoint is the downstream transfer-submission URL.
	Endpoint string
}

// Validate fails fast on configuration violations so that a bad run never
// starts. It also normalizes the restart counter basis default.
func (c *DispatchConfig) Validate() error {
	if c.MaxConcurrentWorkers < 1 {
		return fmt.Errorf("max_concurrent_workers must be >= 1, got %d", c.MaxConcurrentWorkers)
	}
	if c.InterDispatchDelay < 0 {
		return fmt.Errorf("inter_dispatch_delay must be >= 0, got %s", c.InterDispatchDelay)
	}
	if c.RestartEveryNProcessed < 0 {
		return fmt.Errorf("restart_every_n_processed must be >= 0, got %d", c.RestartEveryNProcessed)
	}
	switch c.RestartCounterBasis {
	case "":
		c.RestartCounterBasis = RestartBasisRun
	case RestartBasisRun, RestartBasisSession:
	default:
		return fmt.Errorf("restart_counter_basis must be %q or %q, got %q",
			RestartBasisRun, RestartBasisSession, c.RestartCounterBasis)
	}
	if c.Endpoint == "" {
		return errors.New("endpoint must not be empty")
	}
	return nil
}
