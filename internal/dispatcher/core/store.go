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
	"context"
	"errors"
	"sync"
)

// ErrSessionNotFound is returned by SessionStore.Load when no snapshot exists
// for the requested fingerprint.
var ErrSessionNotFound = errors.New("session not found")

// SessionStore is the interface for durable session persistence. This allows
// swapping the backend (file, Redis, SQLite) without touching the engine.
//
// Save is last-write-wins with no merge: the caller supplies the full
// up-to-date session snapshot. Concurrent writers to the same fingerprint are
// not expected (single operator, single engine instance); the engine
// serializes its own saves.
type SessionStore interface {
	Load(ctx context.Context, fingerprint string) (*DispatchSession, error)
	Save(ctx context.Context, session *DispatchSession) error
	Delete(ctx context.Context, fingerprint string) error
}

// NewMemoryStore creates an in-process SessionStore. It does not survive a
// process restart and exists for tests and dependency-free demos.
func NewMemoryStore() SessionStore {
	return &memoryStore{sessions: make(map[string]*DispatchSession)}
}

type memoryStore struct {
	mu       sync.Mutex
	sessions map[string]*DispatchSession
}

func (m *memoryStore) Load(ctx context.Context, fingerprint string) (*DispatchSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[fingerprint]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.Snapshot(), nil
}

func (m *memoryStore) Save(ctx context.Context, session *DispatchSession) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.Fingerprint] = session.Snapshot()
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, fingerprint string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, fingerprint)
	return nil
}
