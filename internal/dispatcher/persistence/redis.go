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
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"bulkpay/internal/dispatcher/core"
)

// RedisCmdable abstracts the minimal surface we need from a Redis client.
// Implementations wrap github.com/redis/go-redis/v9 or any equivalent; tests
// substitute an in-memory fake.
type RedisCmdable interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisStore keeps session snapshots as JSON strings under
// "bulkpay:session:<fingerprint>". Sessions live in Redis until explicitly
// reset or until the optional TTL expires.
type RedisStore struct {
	client RedisCmdable
	ttl    time.Duration
}

// NewRedisStore connects to the given address (e.g. "127.0.0.1:6379").
// ttl <= 0 keeps sessions until explicit reset.
func NewRedisStore(addr string, ttl time.Duration) *RedisStore {
	return NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: addr}), ttl)
}

// NewRedisStoreWithClient wraps an existing client, real or fake.
func NewRedisStoreWithClient(client RedisCmdable, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// RedisSessionKey is the key layout, public for interoperability with other
// operator tooling inspecting sessions directly.
func RedisSessionKey(fingerprint string) string {
	return fmt.Sprintf("bulkpay:session:%s", fingerprint)
}

func (r *RedisStore) Load(ctx context.Context, fingerprint string) (*core.DispatchSession, error) {
	raw, err := r.client.Get(ctx, RedisSessionKey(fingerprint)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, core.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get session %s: %w", fingerprint, err)
	}
	return decodeSession([]byte(raw), fingerprint)
}

func (r *RedisStore) Save(ctx context.Context, session *core.DispatchSession) error {
	raw, err := encodeSession(session)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, RedisSessionKey(session.Fingerprint), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set session %s: %w", session.Fingerprint, err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, fingerprint string) error {
	if err := r.client.Del(ctx, RedisSessionKey(fingerprint)).Err(); err != nil {
		return fmt.Errorf("redis del session %s: %w", fingerprint, err)
	}
	return nil
}
