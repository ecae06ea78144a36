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

// Package ingest parses operator-supplied payment lists into datasets. Each
// data row receives its OriginalIndex from its position in the source file,
// assigned exactly once here and never renumbered afterwards; resume and
// retry correctness hang on that.
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"

	"bulkpay/internal/dispatcher/core"
)

// Payment CSV column layout: type_id, valeur_id, devise, montant, nom_complet.
// The first line is a header and is skipped.
const expectedColumns = 5

// SkippedRow reports a malformed input row rejected at ingestion time,
// before it could ever reach the work queue.
type SkippedRow struct {
	Line   int    // 1-based line number in the source file
	Reason string
}

// ParseCSV reads a payment list and produces the dataset plus the rows it
// had to skip. Malformed rows (wrong column count, empty identifier, bad
// amount) are an ingestion-time concern: they are reported and excluded, and
// the remaining rows keep the indices their file positions dictate.
func ParseCSV(r io.Reader, sourceName string, sizeBytes int64) (core.Dataset, []SkippedRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1 // validated per row so one short line cannot abort the file
	cr.TrimLeadingSpace = true

	ds := core.Dataset{SourceName: sourceName, SizeBytes: sizeBytes}
	var skipped []SkippedRow

	line := 0
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			skipped = append(skipped, SkippedRow{Line: line, Reason: err.Error()})
			continue
		}
		if line == 1 {
			// Header row.
			continue
		}

		idx := line - 2 // 0-based data row position, stable for the file's lifetime
		row, reason := parseRow(record, idx)
		if reason != "" {
			skipped = append(skipped, SkippedRow{Line: line, Reason: reason})
			continue
		}
		ds.Rows = append(ds.Rows, row)
	}

	if line == 0 {
		return ds, skipped, fmt.Errorf("payment list %s is empty", sourceName)
	}
	return ds, skipped, nil
}

// parseRow validates one record. It returns a non-empty reason when the row
// must be rejected.
func parseRow(record []string, idx int) (core.PaymentRow, string) {
	if len(record) != expectedColumns {
		return core.PaymentRow{}, fmt.Sprintf("expected %d columns, got %d", expectedColumns, len(record))
	}
	idType := strings.TrimSpace(record[0])
	idValue := strings.TrimSpace(record[1])
	currency := strings.TrimSpace(record[2])
	amountStr := strings.TrimSpace(record[3])
	payee := strings.TrimSpace(record[4])

	if idType == "" || idValue == "" {
		return core.PaymentRow{}, "missing recipient identifier"
	}
	if currency == "" {
		return core.PaymentRow{}, "missing currency"
	}
	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return core.PaymentRow{}, fmt.Sprintf("invalid amount %q", amountStr)
	}
	if amount.IsNegative() || amount.IsZero() {
		return core.PaymentRow{}, fmt.Sprintf("amount must be positive, got %s", amount)
	}

	return core.PaymentRow{
		OriginalIndex:    idx,
		RecipientIDType:  idType,
		RecipientIDValue: idValue,
		Amount:           amount,
		Currency:         currency,
		PayeeName:        payee,
	}, ""
}
