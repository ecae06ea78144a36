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

// Package maintenance coordinates health-maintenance restarts of the
// downstream payment connector. Sustained bulk load leaks resources in the
// connector stack; restarting it every N requests keeps long runs healthy.
package maintenance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// restartTimeout bounds the blocking control call. The restart itself
// typically completes in ~20s; the bound leaves headroom for slow hosts.
const restartTimeout = 90 * time.Second

// controlResponse is the control endpoint's reply shape.
type controlResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

// Coordinator performs the maintenance restart of the downstream services.
// One restart may be in flight at a time; concurrent requests return false
// immediately rather than queueing. While a restart is pending, IsRestarting
// reports true so transfer submissions can short-circuit.
type Coordinator struct {
	controlURL string
	httpClient *http.Client
	restarting atomic.Bool
}

// NewCoordinator creates a coordinator for the given control endpoint, e.g.
// "http://localhost:3001/restart-all".
func NewCoordinator(controlURL string) *Coordinator {
	return &Coordinator{
		controlURL: controlURL,
		httpClient: &http.Client{Timeout: restartTimeout},
	}
}

// IsRestarting reports whether a restart is currently pending.
func (c *Coordinator) IsRestarting() bool {
	return c.restarting.Load()
}

// RequestRestart performs the blocking maintenance action. It returns false
// without doing anything when another restart is already pending, and
// otherwise reports whether the control endpoint acknowledged success.
func (c *Coordinator) RequestRestart(ctx context.Context) bool {
	if !c.restarting.CompareAndSwap(false, true) {
		return false
	}
	defer c.restarting.Store(false)

	fmt.Printf("Requesting connector maintenance restart via %s...\n", c.controlURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.controlURL, nil)
	if err != nil {
		fmt.Printf("ERROR: building restart request: %v\n", err)
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		fmt.Printf("ERROR: restart request failed: %v\n", err)
		return false
	}
	defer resp.Body.Close()

	var parsed controlResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		fmt.Printf("ERROR: decoding restart response: %v\n", err)
		return false
	}
	if resp.StatusCode != http.StatusOK || !parsed.Success {
		fmt.Printf("Connector restart reported failure: status=%d message=%q error=%q\n",
			resp.StatusCode, parsed.Message, parsed.Error)
		return false
	}
	fmt.Println("Connector restart completed.")
	return true
}
