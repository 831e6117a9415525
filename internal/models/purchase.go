/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PurchaseAttempt is a validated contribution request. It only lives until the
// tracker record it produces.
type PurchaseAttempt struct {
	BaseAmount  decimal.Decimal
	TokenAmount decimal.Decimal
	RequestedAt time.Time
}

// TransactionStatus of a submitted purchase. Confirmed and Failed are terminal.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusConfirmed TransactionStatus = "confirmed"
	StatusFailed    TransactionStatus = "failed"
)

func (s TransactionStatus) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// ParseTransactionStatus maps a stored status string back to a TransactionStatus.
func ParseTransactionStatus(s string) (TransactionStatus, bool) {
	switch TransactionStatus(s) {
	case StatusPending, StatusConfirmed, StatusFailed:
		return TransactionStatus(s), true
	}
	return "", false
}

// TransactionRecord represents one submitted purchase and its lifecycle state
type TransactionRecord struct {
	Id                string            `db:"id"`
	Status            TransactionStatus `db:"status"`
	BaseAmount        decimal.Decimal   `db:"base_amount"`
	TokenAmount       decimal.Decimal   `db:"token_amount"`
	SubmittedAt       time.Time         `db:"submitted_at"`
	ConfirmationBlock *uint64           `db:"confirmation_block"` // set only when Confirmed
	ResolvedAt        time.Time         `db:"resolved_at"`        // zero while Pending
}

// ChainStatus is what the status collaborator reports for a transaction id.
type ChainStatus struct {
	State       TransactionStatus
	BlockNumber uint64
}
