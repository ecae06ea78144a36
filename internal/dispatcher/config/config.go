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

// Package config loads dispatch run defaults from a YAML file. Flags on the
// command line override what the file provides; the file spares operators
// from retyping payer identity and endpoint on every invocation.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"bulkpay/internal/dispatcher/core"
)

// Default returns the run configuration used when no file and no flags
// override it. The values mirror the operator tooling this replaces.
func Default() core.DispatchConfig {
	return core.DispatchConfig{
		MaxConcurrentWorkers:   20,
		InterDispatchDelay:     10 * time.Millisecond,
		RestartEveryNProcessed: 200,
		RestartCounterBasis:    core.RestartBasisRun,
		PayerIDType:            "MSISDN",
		PayerIDValue:           "123456789",
		PayerDisplayName:       "Government Pension Fund",
		Endpoint:               "http://localhost:3001/transfers",
	}
}

// fileConfig is the YAML schema. Pointer fields distinguish "absent" from
// "explicitly zero" so a file only overrides the keys it actually sets. The
// delay is an integer millisecond count on the wire.
type fileConfig struct {
	MaxConcurrentWorkers   *int    `yaml:"max_concurrent_workers"`
	InterDispatchDelayMS   *int    `yaml:"inter_dispatch_delay_ms"`
	RestartEveryNProcessed *int    `yaml:"restart_every_n_processed"`
	RestartCounterBasis    *string `yaml:"restart_counter_basis"`
	PayerIDType            *string `yaml:"payer_id_type"`
	PayerIDValue           *string `yaml:"payer_id_value"`
	PayerDisplayName       *string `yaml:"payer_display_name"`
	Endpoint               *string `yaml:"endpoint"`
}

func (f fileConfig) apply(cfg *core.DispatchConfig) {
	if f.MaxConcurrentWorkers != nil {
		cfg.MaxConcurrentWorkers = *f.MaxConcurrentWorkers
	}
	if f.InterDispatchDelayMS != nil {
		cfg.InterDispatchDelay = time.Duration(*f.InterDispatchDelayMS) * time.Millisecond
	}
	if f.RestartEveryNProcessed != nil {
		cfg.RestartEveryNProcessed = *f.RestartEveryNProcessed
	}
	if f.RestartCounterBasis != nil {
		cfg.RestartCounterBasis = core.RestartCounterBasis(*f.RestartCounterBasis)
	}
	if f.PayerIDType != nil {
		cfg.PayerIDType = *f.PayerIDType
	}
	if f.PayerIDValue != nil {
		cfg.PayerIDValue = *f.PayerIDValue
	}
	if f.PayerDisplayName != nil {
		cfg.PayerDisplayName = *f.PayerDisplayName
	}
	if f.Endpoint != nil {
		cfg.Endpoint = *f.Endpoint
	}
}

// LoadFile reads a YAML run configuration, applying it over the defaults.
// A missing path is not an error; the defaults simply stand.
func LoadFile(path string) (core.DispatchConfig, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read run config %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return cfg, fmt.Errorf("parse run config %s: %w", path, err)
	}
	fc.apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("run config %s: %w", path, err)
	}
	return cfg, nil
}
