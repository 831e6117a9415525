package formance

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"time"

	"token-sale-go/internal/models"
	"token-sale-go/internal/store"

	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ---------------------------------------------------------------------------
// Numscript templates. All metadata is set inside the script via set_tx_meta()
// so each ledger transaction is fully self-describing.
// ---------------------------------------------------------------------------

const numscriptPurchasePending = `vars {
  asset $asset
  number $amount
  account $buyer
  account $sale_id
  string $tx_id
  string $base_amount
  string $token_amount
  string $submitted_at
  string $buyer_address
}

send [$asset $amount] (
  source = @buyers:$buyer allowing unbounded overdraft
  destination = @sale:$sale_id:pending
)

set_tx_meta("event_type", "purchase_pending")
set_tx_meta("tx_id", $tx_id)
set_tx_meta("sale_id", $sale_id)
set_tx_meta("buyer", $buyer)
set_tx_meta("buyer_address", $buyer_address)
set_tx_meta("base_amount", $base_amount)
set_tx_meta("token_amount", $token_amount)
set_tx_meta("submitted_at", $submitted_at)
`

const numscriptPurchaseConfirmed = `vars {
  asset $asset
  number $amount
  account $sale_id
  string $tx_id
  string $block
  string $resolved_at
}

send [$asset $amount] (
  source = @sale:$sale_id:pending
  destination = @sale:$sale_id:settled
)

set_tx_meta("event_type", "purchase_confirmed")
set_tx_meta("tx_id", $tx_id)
set_tx_meta("sale_id", $sale_id)
set_tx_meta("block", $block)
set_tx_meta("resolved_at", $resolved_at)
`

const numscriptPurchaseFailed = `vars {
  asset $asset
  number $amount
  account $buyer
  account $sale_id
  string $tx_id
  string $resolved_at
}

send [$asset $amount] (
  source = @sale:$sale_id:pending
  destination = @buyers:$buyer
)

set_tx_meta("event_type", "purchase_failed")
set_tx_meta("tx_id", $tx_id)
set_tx_meta("sale_id", $sale_id)
set_tx_meta("resolved_at", $resolved_at)
`

const (
	eventPending   = "purchase_pending"
	eventConfirmed = "purchase_confirmed"
	eventFailed    = "purchase_failed"

	metaClearedAfter = "cleared_after_tx"
	listPageSize     = int64(100)
	anonymousBuyer   = "anonymous"
)

// RecordPending posts the pending leg of a purchase. Session data from
// models.PurchaseContext is stored as metadata when present.
func (s *Service) RecordPending(ctx context.Context, rec models.TransactionRecord) error {
	buyer, buyerAddress := anonymousBuyer, ""
	if pc := models.GetPurchaseContext(ctx); pc != nil {
		if pc.SessionId != "" {
			buyer = pc.SessionId
		}
		buyerAddress = pc.BuyerAddress
	}

	postTx := shared.V2PostTransaction{
		Reference: strPtr(rec.Id + "-pending"),
		Script: &shared.V2PostTransactionScript{
			Plain: numscriptPurchasePending,
			Vars: map[string]string{
				"asset":         baseAsset,
				"amount":        toSmallestUnit(rec.BaseAmount),
				"buyer":         buyer,
				"sale_id":       s.saleId,
				"tx_id":         rec.Id,
				"base_amount":   rec.BaseAmount.String(),
				"token_amount":  rec.TokenAmount.String(),
				"submitted_at":  rec.SubmittedAt.UTC().Format(time.RFC3339Nano),
				"buyer_address": buyerAddress,
			},
		},
	}

	_, err := s.client.Ledger.V2.CreateTransaction(ctx, operations.V2CreateTransactionRequest{
		Ledger:            s.ledger,
		V2PostTransaction: postTx,
	})
	if err != nil {
		if isConflictError(err) {
			return fmt.Errorf("%w: purchase %s already recorded", store.ErrDuplicateTransaction, rec.Id)
		}
		return fmt.Errorf("error recording pending purchase: %w", err)
	}

	zap.L().Info("Purchase pending recorded in Formance",
		zap.String("tx_id", rec.Id),
		zap.String("buyer", buyer),
		zap.String("amount", rec.BaseAmount.String()))
	return nil
}

// MarkConfirmed moves the purchase amount from pending to settled.
func (s *Service) MarkConfirmed(ctx context.Context, id string, block uint64, at time.Time) error {
	p, err := s.lookup(ctx, id)
	if err != nil {
		return err
	}
	switch p.Status {
	case models.StatusConfirmed:
		if p.ConfirmationBlock != nil && *p.ConfirmationBlock == block {
			return nil
		}
		return fmt.Errorf("%w: %s already confirmed at block %d", store.ErrInvalidTransition, id, *p.ConfirmationBlock)
	case models.StatusFailed:
		return fmt.Errorf("%w: %s already failed", store.ErrInvalidTransition, id)
	}

	postTx := shared.V2PostTransaction{
		Reference: strPtr(id + "-confirmed"),
		Script: &shared.V2PostTransactionScript{
			Plain: numscriptPurchaseConfirmed,
			Vars: map[string]string{
				"asset":       baseAsset,
				"amount":      p.amount.String(),
				"sale_id":     s.saleId,
				"tx_id":       id,
				"block":       strconv.FormatUint(block, 10),
				"resolved_at": at.UTC().Format(time.RFC3339Nano),
			},
		},
	}
	if err := s.post(ctx, postTx); err != nil {
		return fmt.Errorf("error confirming purchase %s: %w", id, err)
	}

	zap.L().Info("Purchase confirmed in Formance (pending to settled)",
		zap.String("tx_id", id),
		zap.Uint64("block", block))
	return nil
}

// MarkFailed refunds the pending amount to the buyer account.
func (s *Service) MarkFailed(ctx context.Context, id string, at time.Time) error {
	p, err := s.lookup(ctx, id)
	if err != nil {
		return err
	}
	switch p.Status {
	case models.StatusFailed:
		return nil
	case models.StatusConfirmed:
		return fmt.Errorf("%w: %s already confirmed", store.ErrInvalidTransition, id)
	}

	postTx := shared.V2PostTransaction{
		Reference: strPtr(id + "-failed"),
		Script: &shared.V2PostTransactionScript{
			Plain: numscriptPurchaseFailed,
			Vars: map[string]string{
				"asset":       baseAsset,
				"amount":      p.amount.String(),
				"buyer":       p.buyer,
				"sale_id":     s.saleId,
				"tx_id":       id,
				"resolved_at": at.UTC().Format(time.RFC3339Nano),
			},
		},
	}
	if err := s.post(ctx, postTx); err != nil {
		return fmt.Errorf("error failing purchase %s: %w", id, err)
	}

	zap.L().Info("Purchase failure recorded in Formance (refunded to buyer)",
		zap.String("tx_id", id),
		zap.String("buyer", p.buyer))
	return nil
}

// ListPurchases folds the sale's ledger transactions into records, newest first.
func (s *Service) ListPurchases(ctx context.Context, limit, offset int) ([]models.TransactionRecord, error) {
	cutoff, err := s.clearedAfter(ctx)
	if err != nil {
		return nil, err
	}
	txs, err := s.listTransactions(ctx, map[string]any{
		"$match": map[string]any{"metadata[sale_id]": s.saleId},
	})
	if err != nil {
		return nil, err
	}

	folded := foldPurchases(txs, cutoff)
	if offset >= len(folded) {
		return nil, nil
	}
	end := offset + limit
	if end > len(folded) {
		end = len(folded)
	}

	result := make([]models.TransactionRecord, 0, end-offset)
	for _, p := range folded[offset:end] {
		result = append(result, p.TransactionRecord)
	}
	return result, nil
}

// ClearPurchases hides every purchase recorded so far. Ledger transactions are
// immutable, so the latest transaction id is stored as a cut-off on the sale's
// journal account.
func (s *Service) ClearPurchases(ctx context.Context) error {
	pageSize := int64(1)
	resp, err := s.client.Ledger.V2.ListTransactions(ctx, operations.V2ListTransactionsRequest{
		Ledger:   s.ledger,
		PageSize: &pageSize,
	})
	if err != nil {
		return fmt.Errorf("failed to get latest transaction: %w", err)
	}
	data := resp.V2TransactionsCursorResponse.Cursor.Data
	if len(data) == 0 || data[0].ID == nil {
		return nil
	}
	latest := data[0].ID.String()

	_, err = s.client.Ledger.V2.AddMetadataToAccount(ctx, operations.V2AddMetadataToAccountRequest{
		Ledger:      s.ledger,
		Address:     s.journalAccount(),
		RequestBody: map[string]string{metaClearedAfter: latest},
	})
	if err != nil {
		return fmt.Errorf("failed to store clear cut-off: %w", err)
	}

	zap.L().Info("Purchase journal cleared in Formance",
		zap.String("sale_id", s.saleId),
		zap.String("cleared_after_tx", latest))
	return nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// purchase is a folded record plus the data needed to post its next leg.
type purchase struct {
	models.TransactionRecord
	amount    *big.Int
	buyer     string
	pendingTx *big.Int
}

func (s *Service) post(ctx context.Context, postTx shared.V2PostTransaction) error {
	_, err := s.client.Ledger.V2.CreateTransaction(ctx, operations.V2CreateTransactionRequest{
		Ledger:            s.ledger,
		V2PostTransaction: postTx,
	})
	if err != nil && isConflictError(err) {
		// Same reference already posted by a concurrent writer.
		return nil
	}
	return err
}

func (s *Service) lookup(ctx context.Context, id string) (*purchase, error) {
	cutoff, err := s.clearedAfter(ctx)
	if err != nil {
		return nil, err
	}
	txs, err := s.listTransactions(ctx, map[string]any{
		"$match": map[string]any{"metadata[tx_id]": id},
	})
	if err != nil {
		return nil, err
	}
	for _, p := range foldPurchases(txs, cutoff) {
		if p.Id == id {
			return &p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", store.ErrTransactionNotFound, id)
}

func (s *Service) listTransactions(ctx context.Context, filter map[string]any) ([]shared.V2Transaction, error) {
	pageSize := listPageSize
	req := operations.V2ListTransactionsRequest{
		Ledger:      s.ledger,
		PageSize:    &pageSize,
		RequestBody: filter,
	}

	var all []shared.V2Transaction
	for {
		resp, err := s.client.Ledger.V2.ListTransactions(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("failed to list transactions: %w", err)
		}
		cursor := resp.V2TransactionsCursorResponse.Cursor
		all = append(all, cursor.Data...)
		if !cursor.HasMore || cursor.Next == nil {
			return all, nil
		}
		req = operations.V2ListTransactionsRequest{
			Ledger: s.ledger,
			Cursor: cursor.Next,
		}
	}
}

// clearedAfter returns the clear cut-off transaction id, or nil if the journal was never cleared.
func (s *Service) clearedAfter(ctx context.Context) (*big.Int, error) {
	resp, err := s.client.Ledger.V2.GetAccount(ctx, operations.V2GetAccountRequest{
		Ledger:  s.ledger,
		Address: s.journalAccount(),
	})
	if err != nil {
		if isNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read journal account: %w", err)
	}
	raw, ok := resp.V2AccountResponse.Data.Metadata[metaClearedAfter]
	if !ok || raw == "" {
		return nil, nil
	}
	cutoff, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("invalid %s metadata %q", metaClearedAfter, raw)
	}
	return cutoff, nil
}

// foldPurchases replays lifecycle events into purchases sorted newest first.
// Events at or before cutoff and reverted transactions are ignored.
func foldPurchases(txs []shared.V2Transaction, cutoff *big.Int) []purchase {
	byId := make(map[string]*purchase)
	var terminal []shared.V2Transaction

	for _, tx := range txs {
		if tx.Reverted || (cutoff != nil && tx.ID != nil && tx.ID.Cmp(cutoff) <= 0) {
			continue
		}
		id := tx.Metadata["tx_id"]
		if id == "" {
			continue
		}
		if tx.Metadata["event_type"] != eventPending {
			terminal = append(terminal, tx)
			continue
		}

		p := &purchase{
			TransactionRecord: models.TransactionRecord{
				Id:     id,
				Status: models.StatusPending,
			},
			buyer:     tx.Metadata["buyer"],
			pendingTx: tx.ID,
		}
		for _, posting := range tx.Postings {
			if posting.Asset == baseAsset {
				p.amount = posting.Amount
			}
		}
		if base, err := decimal.NewFromString(tx.Metadata["base_amount"]); err == nil {
			p.BaseAmount = base
		} else {
			p.BaseAmount = fromSmallestUnit(p.amount)
		}
		if tokens, err := decimal.NewFromString(tx.Metadata["token_amount"]); err == nil {
			p.TokenAmount = tokens
		}
		if at, err := time.Parse(time.RFC3339Nano, tx.Metadata["submitted_at"]); err == nil {
			p.SubmittedAt = at
		} else {
			p.SubmittedAt = tx.Timestamp
		}
		byId[id] = p
	}

	for _, tx := range terminal {
		p, ok := byId[tx.Metadata["tx_id"]]
		if !ok || p.Status != models.StatusPending {
			continue
		}
		resolvedAt := tx.Timestamp
		if at, err := time.Parse(time.RFC3339Nano, tx.Metadata["resolved_at"]); err == nil {
			resolvedAt = at
		}
		switch tx.Metadata["event_type"] {
		case eventConfirmed:
			block, err := strconv.ParseUint(tx.Metadata["block"], 10, 64)
			if err != nil {
				zap.L().Warn("Skipping confirmation with invalid block",
					zap.String("tx_id", p.Id),
					zap.String("block", tx.Metadata["block"]))
				continue
			}
			p.Status = models.StatusConfirmed
			p.ConfirmationBlock = &block
			p.ResolvedAt = resolvedAt
		case eventFailed:
			p.Status = models.StatusFailed
			p.ResolvedAt = resolvedAt
		}
	}

	result := make([]purchase, 0, len(byId))
	for _, p := range byId {
		if p.amount == nil {
			p.amount = big.NewInt(0)
		}
		result = append(result, *p)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].SubmittedAt.Equal(result[j].SubmittedAt) {
			return result[i].SubmittedAt.After(result[j].SubmittedAt)
		}
		return compareIds(result[i].pendingTx, result[j].pendingTx) > 0
	})
	return result
}

func compareIds(a, b *big.Int) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return a.Cmp(b)
}
