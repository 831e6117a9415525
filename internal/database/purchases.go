package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"token-sale-go/internal/models"
	"token-sale-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	eventPending   = "purchase_pending"
	eventConfirmed = "purchase_confirmed"
	eventFailed    = "purchase_failed"
)

// RecordPending inserts a pending purchase. The session data from
// models.PurchaseContext is stored alongside when present.
func (s *Service) RecordPending(ctx context.Context, rec models.TransactionRecord) error {
	var existingId string
	err := s.db.QueryRowContext(ctx, queryCheckDuplicatePurchase, rec.Id).Scan(&existingId)
	if err == nil {
		zap.L().Warn("Duplicate purchase transaction detected, skipping",
			zap.String("tx_id", rec.Id),
			zap.String("existing_row_id", existingId))
		return fmt.Errorf("%w: transaction_id %s already exists", store.ErrDuplicateTransaction, rec.Id)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to check for duplicate purchase: %w", err)
	}

	var sessionId, buyer string
	if pc := models.GetPurchaseContext(ctx); pc != nil {
		sessionId = pc.SessionId
		buyer = pc.BuyerAddress
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, queryInsertPurchase,
		uuid.New().String(), rec.Id, sessionId, buyer,
		rec.BaseAmount.String(), rec.TokenAmount.String(), rec.SubmittedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert purchase: %w", err)
	}
	if err := addEvent(ctx, tx, rec.Id, eventPending, nil, rec.SubmittedAt); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Pending purchase stored",
		zap.String("tx_id", rec.Id),
		zap.String("base_amount", rec.BaseAmount.String()),
		zap.String("session_id", sessionId))
	return nil
}

// MarkConfirmed moves a pending purchase to confirmed.
func (s *Service) MarkConfirmed(ctx context.Context, id string, block uint64, at time.Time) error {
	b := int64(block)
	return s.resolve(ctx, id, models.StatusConfirmed, &b, at)
}

// MarkFailed moves a pending purchase to failed.
func (s *Service) MarkFailed(ctx context.Context, id string, at time.Time) error {
	return s.resolve(ctx, id, models.StatusFailed, nil, at)
}

func (s *Service) resolve(ctx context.Context, id string, status models.TransactionStatus, block *int64, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var result sql.Result
	event := eventFailed
	if status == models.StatusConfirmed {
		event = eventConfirmed
		result, err = tx.ExecContext(ctx, queryConfirmPurchase, *block, at.UTC(), id)
	} else {
		result, err = tx.ExecContext(ctx, queryFailPurchase, at.UTC(), id)
	}
	if err != nil {
		return fmt.Errorf("failed to update purchase: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// Only pending rows are updated; find out why nothing matched.
		return s.checkResolved(ctx, tx, id, status, block)
	}

	if err := addEvent(ctx, tx, id, event, block, at); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Purchase resolved",
		zap.String("tx_id", id),
		zap.String("status", string(status)))
	return nil
}

func (s *Service) checkResolved(ctx context.Context, tx *sql.Tx, id string, want models.TransactionStatus, block *int64) error {
	var current string
	var currentBlock sql.NullInt64
	err := tx.QueryRowContext(ctx, queryGetPurchaseStatus, id).Scan(&current, &currentBlock)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", store.ErrTransactionNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to read purchase status: %w", err)
	}

	if models.TransactionStatus(current) == want {
		if want == models.StatusFailed || (currentBlock.Valid && block != nil && currentBlock.Int64 == *block) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s is %s", store.ErrInvalidTransition, id, current)
}

// ListPurchases returns stored purchases, newest first.
func (s *Service) ListPurchases(ctx context.Context, limit, offset int) ([]models.TransactionRecord, error) {
	rows, err := s.db.QueryContext(ctx, queryListPurchases, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query purchases: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}()

	var result []models.TransactionRecord
	for rows.Next() {
		var rec models.TransactionRecord
		var status, baseStr, tokenStr string
		var block sql.NullInt64
		var resolvedAt sql.NullTime

		if err := rows.Scan(&rec.Id, &status, &baseStr, &tokenStr, &rec.SubmittedAt, &block, &resolvedAt); err != nil {
			return nil, fmt.Errorf("failed to scan purchase: %w", err)
		}

		st, ok := models.ParseTransactionStatus(status)
		if !ok {
			return nil, fmt.Errorf("unknown status %q for purchase %s", status, rec.Id)
		}
		rec.Status = st

		if rec.BaseAmount, err = decimal.NewFromString(baseStr); err != nil {
			return nil, fmt.Errorf("failed to parse base amount '%s': %w", baseStr, err)
		}
		if rec.TokenAmount, err = decimal.NewFromString(tokenStr); err != nil {
			return nil, fmt.Errorf("failed to parse token amount '%s': %w", tokenStr, err)
		}
		if block.Valid && st == models.StatusConfirmed {
			b := uint64(block.Int64)
			rec.ConfirmationBlock = &b
		}
		if resolvedAt.Valid {
			rec.ResolvedAt = resolvedAt.Time
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating purchases: %w", err)
	}
	return result, nil
}

// ClearPurchases deletes all purchases and their events.
func (s *Service) ClearPurchases(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, queryDeletePurchases)
	if err != nil {
		return fmt.Errorf("failed to delete purchases: %w", err)
	}
	if _, err := tx.ExecContext(ctx, queryDeletePurchaseEvents); err != nil {
		return fmt.Errorf("failed to delete purchase events: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	n, _ := result.RowsAffected()
	zap.L().Info("Purchase journal cleared", zap.Int64("purchases", n))
	return nil
}

// purchaseEvents lists the lifecycle events stored for a purchase, oldest first.
func (s *Service) purchaseEvents(ctx context.Context, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, queryListPurchaseEvents, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query purchase events: %w", err)
	}
	defer rows.Close()

	var events []string
	for rows.Next() {
		var e string
		if err := rows.Scan(&e); err != nil {
			return nil, fmt.Errorf("failed to scan purchase event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func addEvent(ctx context.Context, tx *sql.Tx, id, event string, block *int64, at time.Time) error {
	var b sql.NullInt64
	if block != nil {
		b = sql.NullInt64{Int64: *block, Valid: true}
	}
	if _, err := tx.ExecContext(ctx, queryInsertPurchaseEvent, uuid.New().String(), id, event, b, at.UTC()); err != nil {
		return fmt.Errorf("failed to insert purchase event: %w", err)
	}
	return nil
}
