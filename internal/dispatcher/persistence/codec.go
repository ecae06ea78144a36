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
	"encoding/json"
	"fmt"

	"bulkpay/internal/dispatcher/core"
)

// encodeSession and decodeSession share the snapshot wire format across the
// Redis and SQLite adapters. The file adapter uses the same JSON shape.

func encodeSession(session *core.DispatchSession) ([]byte, error) {
	raw, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("encode session %s: %w", session.Fingerprint, err)
	}
	return raw, nil
}

func decodeSession(raw []byte, fingerprint string) (*core.DispatchSession, error) {
	var session core.DispatchSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", fingerprint, err)
	}
	return &session, nil
}
