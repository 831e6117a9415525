package store

import (
	"context"
	"errors"
	"time"

	"token-sale-go/internal/models"
)

// Sentinel errors shared across all backend implementations.
var (
	ErrDuplicateTransaction = errors.New("duplicate transaction")
	ErrTransactionNotFound  = errors.New("transaction not found")
	ErrInvalidTransition    = errors.New("invalid status transition")
)

// PurchaseJournal defines the contract that every backend (SQLite, Formance, ...) must satisfy.
// Implementations must treat re-applying the same terminal state as a no-op.
type PurchaseJournal interface {
	RecordPending(ctx context.Context, rec models.TransactionRecord) error
	MarkConfirmed(ctx context.Context, id string, block uint64, at time.Time) error
	MarkFailed(ctx context.Context, id string, at time.Time) error
	// ListPurchases returns records newest first.
	ListPurchases(ctx context.Context, limit, offset int) ([]models.TransactionRecord, error)
	ClearPurchases(ctx context.Context) error

	Close()
}
