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

// Package persistence provides durable SessionStore adapters for the file
// system, Redis, and SQLite. Each adapter persists full-session snapshots
// keyed by dataset fingerprint with last-write-wins semantics, so that an
// interrupted bulk run can resume after a process restart.
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"bulkpay/internal/dispatcher/core"
)

// FileStore persists one JSON snapshot file per fingerprint under a
// directory. Writes go through a temp file and rename so a crash mid-write
// never corrupts the previous snapshot.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed and returns the store.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

// path maps a fingerprint to a file name, replacing separators that would
// escape the session directory.
func (f *FileStore) path(fingerprint string) string {
	safe := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, fingerprint)
	return filepath.Join(f.dir, "session_"+safe+".json")
}

func (f *FileStore) Load(ctx context.Context, fingerprint string) (*core.DispatchSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(f.path(fingerprint))
	if errors.Is(err, os.ErrNotExist) {
		return nil, core.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read session %s: %w", fingerprint, err)
	}
	var session core.DispatchSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", fingerprint, err)
	}
	return &session, nil
}

func (f *FileStore) Save(ctx context.Context, session *core.DispatchSession) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", session.Fingerprint, err)
	}
	final := f.path(session.Fingerprint)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write session %s: %w", session.Fingerprint, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("publish session %s: %w", session.Fingerprint, err)
	}
	return nil
}

func (f *FileStore) Delete(ctx context.Context, fingerprint string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Remove(f.path(fingerprint))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete session %s: %w", fingerprint, err)
	}
	return nil
}
