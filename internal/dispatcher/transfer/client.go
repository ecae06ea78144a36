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

// Package transfer implements the thin synchronous wrapper around the
// downstream payment-processing endpoint. One Submit call maps one payment
// row to one transfer request and always comes back as a TransferOutcome:
// network faults, timeouts, and non-2xx responses are results, never errors,
// so the engine can treat every call uniformly.
package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"bulkpay/internal/dispatcher/core"
)

// submitTimeout bounds each transfer call. A timeout is reported as a failed
// outcome, not a process-level error.
const submitTimeout = 30 * time.Second

// errRestarting marks outcomes rejected because the connector is mid-restart.
// It is deliberately distinct from genuine downstream failures.
const errRestarting = "CONNECTOR_RESTARTING"

// RestartGate reports whether the downstream connector is currently being
// restarted. While true, Submit short-circuits instead of attempting a doomed
// network call.
type RestartGate interface {
	IsRestarting() bool
}

// nopGate admits every call; used when no coordinator is wired.
type nopGate struct{}

func (nopGate) IsRestarting() bool { return false }

// party is one side of a transfer on the wire.
type party struct {
	DisplayName string `json:"displayName,omitempty"`
	IDType      string `json:"idType"`
	IDValue     string `json:"idValue"`
}

// transferRequest is the downstream submission body.
type transferRequest struct {
	From              party  `json:"from"`
	To                party  `json:"to"`
	AmountType        string `json:"amountType"`
	Currency          string `json:"currency"`
	Amount            string `json:"amount"`
	TransactionType   string `json:"transactionType"`
	Note              string `json:"note"`
	HomeTransactionID string `json:"homeTransactionId"`
}

// transferResponse captures the diagnostic fields the downstream may return,
// in both the flat and the transferState-nested shapes. All fields are
// best-effort; their absence is not itself a failure.
type transferResponse struct {
	TransferID    string     `json:"transferId"`
	CurrentState  string     `json:"currentState"`
	Message       string     `json:"message"`
	LastError     *lastError `json:"lastError"`
	TransferState *struct {
		CurrentState string     `json:"currentState"`
		LastError    *lastError `json:"lastError"`
	} `json:"transferState"`
}

type lastError struct {
	HTTPStatusCode int `json:"httpStatusCode"`
}

// Client submits single transfers to the downstream payment endpoint.
type Client struct {
	endpoint   string
	payer      party
	gate       RestartGate
	httpClient *http.Client
}

// NewClient builds a client from the run configuration. gate may be nil when
// no restart coordination is in play.
func NewClient(cfg core.DispatchConfig, gate RestartGate) *Client {
	if gate == nil {
		gate = nopGate{}
	}
	return &Client{
		endpoint: cfg.Endpoint,
		payer: party{
			DisplayName: cfg.PayerDisplayName,
			IDType:      cfg.PayerIDType,
			IDValue:     cfg.PayerIDValue,
		},
		gate: gate,
		httpClient: &http.Client{
			Timeout: submitTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}
}

// Submit executes one transfer. Every attempt mints a fresh idempotency key;
// a retried row therefore produces a new attempt the downstream can
// distinguish from the original.
func (c *Client) Submit(ctx context.Context, row core.PaymentRow) core.TransferOutcome {
	attemptID := uuid.NewString()
	start := time.Now()

	outcome := core.TransferOutcome{
		OriginalIndex: row.OriginalIndex,
		AttemptID:     attemptID,
		CompletedAt:   start,
	}

	if c.gate.IsRestarting() {
		outcome.StatusText = errRestarting
		outcome.ErrorMessage = "connector restart in progress; row left for a later run or retry"
		return outcome
	}

	req := transferRequest{
		From:              c.payer,
		To:                party{IDType: row.RecipientIDType, IDValue: row.RecipientIDValue},
		AmountType:        "SEND",
		Currency:          row.Currency,
		Amount:            row.Amount.String(),
		TransactionType:   "TRANSFER",
		Note:              fmt.Sprintf("Pension - %s", row.PayeeName),
		HomeTransactionID: attemptID,
	}
	body, err := json.Marshal(req)
	if err != nil {
		outcome.ErrorMessage = fmt.Sprintf("encode transfer request: %v", err)
		outcome.DurationMillis = time.Since(start).Milliseconds()
		return outcome
	}

	callCtx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		outcome.ErrorMessage = fmt.Sprintf("build transfer request: %v", err)
		outcome.DurationMillis = time.Since(start).Milliseconds()
		return outcome
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Connection refused, DNS failure, timeout: all reported as a failed
		// outcome with status code 0.
		outcome.StatusText = "NETWORK_ERROR"
		outcome.ErrorMessage = err.Error()
		outcome.DurationMillis = time.Since(start).Milliseconds()
		outcome.CompletedAt = time.Now()
		return outcome
	}
	defer resp.Body.Close()

	outcome.Succeeded = resp.StatusCode >= 200 && resp.StatusCode <= 299
	outcome.HTTPStatusCode = resp.StatusCode
	outcome.StatusText = resp.Status
	outcome.DurationMillis = time.Since(start).Milliseconds()
	outcome.CompletedAt = time.Now()

	// Diagnostic extraction is best-effort: a body that fails to parse does
	// not change the outcome's success.
	var parsed transferResponse
	if raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20)); readErr == nil && len(raw) > 0 {
		if json.Unmarshal(raw, &parsed) == nil {
			outcome.TransferID = parsed.TransferID
			outcome.CurrentState = parsed.CurrentState
			outcome.ErrorMessage = parsed.Message
			if outcome.CurrentState == "" && parsed.TransferState != nil {
				outcome.CurrentState = parsed.TransferState.CurrentState
			}
			// Flat shape wins over the nested one; first non-empty is kept.
			if parsed.LastError != nil {
				outcome.LastError = fmt.Sprintf("%d", parsed.LastError.HTTPStatusCode)
			} else if parsed.TransferState != nil && parsed.TransferState.LastError != nil {
				outcome.LastError = fmt.Sprintf("%d", parsed.TransferState.LastError.HTTPStatusCode)
			}
		}
	}
	return outcome
}
