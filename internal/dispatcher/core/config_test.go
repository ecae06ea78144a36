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
	"time"
)

func validDispatchConfig() DispatchConfig {
	return DispatchConfig{
		MaxConcurrentWorkers:   20,
		InterDispatchDelay:     10 * time.Millisecond,
		RestartEveryNProcessed: 200,
		Endpoint:               "http://localhost:3001/transfers",
	}
}

func TestDispatchConfig_ValidateAcceptsDefaultsAndNormalizesBasis(t *testing.T) {
	cfg := validDispatchConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
	if cfg.RestartCounterBasis != RestartBasisRun {
		t.Fatalf("empty basis normalized to %q, want %q", cfg.RestartCounterBasis, RestartBasisRun)
	}
}

func TestDispatchConfig_ValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*DispatchConfig)
	}{
		{"zero workers", func(c *DispatchConfig) { c.MaxConcurrentWorkers = 0 }},
		{"negative delay", func(c *DispatchConfig) { c.InterDispatchDelay = -time.Millisecond }},
		{"negative restart threshold", func(c *DispatchConfig) { c.RestartEveryNProcessed = -1 }},
		{"unknown basis", func(c *DispatchConfig) { c.RestartCounterBasis = "epoch" }},
		{"empty endpoint", func(c *DispatchConfig) { c.Endpoint = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validDispatchConfig()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestDispatchConfig_SessionBasisIsAccepted(t *testing.T) {
	cfg := validDispatchConfig()
	cfg.RestartCounterBasis = RestartBasisSession
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
}
