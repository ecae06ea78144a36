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
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"bulkpay/internal/dispatcher/core"
)

// SQLiteStore keeps session snapshots in a single-file SQLite database. It is
// the default durable backend for the single-operator tool: no external
// service, survives process restarts, and the whole history fits one file.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
    fingerprint TEXT PRIMARY KEY,
    payload     TEXT NOT NULL,
    updated_at  TIMESTAMP NOT NULL
);`

// NewSQLiteStore opens (creating if needed) the database at path and ensures
// the schema exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db %s: %w", path, err)
	}
	// A session store sees one writer; a single connection sidesteps
	// SQLITE_BUSY under concurrent status reads.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sessions table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Load(ctx context.Context, fingerprint string) (*core.DispatchSession, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM sessions WHERE fingerprint = ?`, fingerprint).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite load session %s: %w", fingerprint, err)
	}
	return decodeSession([]byte(payload), fingerprint)
}

func (s *SQLiteStore) Save(ctx context.Context, session *core.DispatchSession) error {
	raw, err := encodeSession(session)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (fingerprint, payload, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(fingerprint) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		session.Fingerprint, string(raw), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("sqlite save session %s: %w", session.Fingerprint, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, fingerprint string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE fingerprint = ?`, fingerprint); err != nil {
		return fmt.Errorf("sqlite delete session %s: %w", fingerprint, err)
	}
	return nil
}
