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

package persistence

import (
	"fmt"
	"time"

	"bulkpay/internal/dispatcher/core"
)

// Options holds the knobs for building a SessionStore backend.
type Options struct {
	// FileDir is the snapshot directory for the "file" backend.
	FileDir string
	// SQLitePath is the database file for the "sqlite" backend.
	SQLitePath string
	// RedisAddr is the server address for the "redis" backend.
	RedisAddr string
	// RedisTTL optionally expires idle sessions; <= 0 keeps them until reset.
	RedisTTL time.Duration
}

// BuildStore constructs a core.SessionStore based on a string selector.
// Supported backends:
//   - "memory": in-process only; no resumability across restarts (tests/demos)
//   - "file":   one JSON snapshot file per fingerprint
//   - "sqlite": single-file SQLite database (default for the operator tool)
//   - "redis":  sessions in Redis, optionally with a TTL
func BuildStore(backend string, opts Options) (core.SessionStore, error) {
	switch backend {
	case "memory":
		return core.NewMemoryStore(), nil
	case "file":
		dir := opts.FileDir
		if dir == "" {
			dir = "sessions"
		}
		return NewFileStore(dir)
	case "", "sqlite":
		path := opts.SQLitePath
		if path == "" {
			path = "bulkpay-sessions.db"
		}
		return NewSQLiteStore(path)
	case "redis":
		if opts.RedisAddr == "" {
			return nil, fmt.Errorf("redis backend requires an address")
		}
		return NewRedisStore(opts.RedisAddr, opts.RedisTTL), nil
	default:
		return nil, fmt.Errorf("unknown session store backend: %s", backend)
	}
}
