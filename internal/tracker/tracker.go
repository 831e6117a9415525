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

package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"token-sale-go/internal/models"
	"token-sale-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrDuplicateID       = errors.New("duplicate transaction id")
	ErrUnknownID         = errors.New("unknown transaction id")
	ErrInvalidTransition = errors.New("invalid transaction transition")
)

// Tracker owns the purchase history of one session. Records move from Pending
// to exactly one terminal status and never back.
//
// When a journal is set every change is written through to it. Journal errors
// are logged and do not affect the in-memory history.
type Tracker struct {
	mu      sync.RWMutex
	order   []string // oldest first
	records map[string]*models.TransactionRecord

	journal store.PurchaseJournal
	now     func() time.Time

	subMu  sync.Mutex
	subs   map[int]chan models.TransactionRecord
	nextId int
}

// New creates a Tracker. journal may be nil.
func New(journal store.PurchaseJournal) *Tracker {
	return &Tracker{
		records: make(map[string]*models.TransactionRecord),
		journal: journal,
		now:     time.Now,
		subs:    make(map[int]chan models.TransactionRecord),
	}
}

// Record adds a Pending record at the front of the history.
func (t *Tracker) Record(ctx context.Context, id string, baseAmount, tokenAmount decimal.Decimal, submittedAt time.Time) error {
	t.mu.Lock()
	if _, exists := t.records[id]; exists {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	rec := &models.TransactionRecord{
		Id:          id,
		Status:      models.StatusPending,
		BaseAmount:  baseAmount,
		TokenAmount: tokenAmount,
		SubmittedAt: submittedAt,
	}
	t.records[id] = rec
	t.order = append(t.order, id)
	snapshot := *rec
	t.mu.Unlock()

	zap.L().Info("Purchase recorded as pending",
		zap.String("tx_id", id),
		zap.String("base_amount", baseAmount.String()),
		zap.String("token_amount", tokenAmount.String()))

	// The transaction is on chain already; journal it even if ctx is done.
	if t.journal != nil {
		if err := t.journal.RecordPending(context.WithoutCancel(ctx), snapshot); err != nil {
			zap.L().Warn("Failed to journal pending purchase", zap.String("tx_id", id), zap.Error(err))
		}
	}
	t.publish(snapshot)
	return nil
}

// MarkConfirmed moves a Pending record to Confirmed at block. Repeating the same
// confirmation is a no-op.
func (t *Tracker) MarkConfirmed(ctx context.Context, id string, block uint64) error {
	t.mu.Lock()
	rec, ok := t.records[id]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownID, id)
	}
	switch rec.Status {
	case models.StatusConfirmed:
		same := rec.ConfirmationBlock != nil && *rec.ConfirmationBlock == block
		t.mu.Unlock()
		if same {
			return nil
		}
		return fmt.Errorf("%w: %s already confirmed at another block", ErrInvalidTransition, id)
	case models.StatusFailed:
		t.mu.Unlock()
		return fmt.Errorf("%w: %s already failed", ErrInvalidTransition, id)
	}
	b := block
	rec.Status = models.StatusConfirmed
	rec.ConfirmationBlock = &b
	rec.ResolvedAt = t.now()
	snapshot := *rec
	t.mu.Unlock()

	zap.L().Info("Purchase confirmed", zap.String("tx_id", id), zap.Uint64("block", block))

	if t.journal != nil {
		if err := t.journal.MarkConfirmed(ctx, id, block, snapshot.ResolvedAt); err != nil {
			zap.L().Warn("Failed to journal purchase confirmation", zap.String("tx_id", id), zap.Error(err))
		}
	}
	t.publish(snapshot)
	return nil
}

// MarkFailed moves a Pending record to Failed. Repeating it is a no-op.
func (t *Tracker) MarkFailed(ctx context.Context, id string) error {
	t.mu.Lock()
	rec, ok := t.records[id]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownID, id)
	}
	switch rec.Status {
	case models.StatusFailed:
		t.mu.Unlock()
		return nil
	case models.StatusConfirmed:
		t.mu.Unlock()
		return fmt.Errorf("%w: %s already confirmed", ErrInvalidTransition, id)
	}
	rec.Status = models.StatusFailed
	rec.ResolvedAt = t.now()
	snapshot := *rec
	t.mu.Unlock()

	zap.L().Info("Purchase failed", zap.String("tx_id", id))

	if t.journal != nil {
		if err := t.journal.MarkFailed(ctx, id, snapshot.ResolvedAt); err != nil {
			zap.L().Warn("Failed to journal purchase failure", zap.String("tx_id", id), zap.Error(err))
		}
	}
	t.publish(snapshot)
	return nil
}

// History returns a copy of all records, newest first.
func (t *Tracker) History() []models.TransactionRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]models.TransactionRecord, 0, len(t.order))
	for i := len(t.order) - 1; i >= 0; i-- {
		out = append(out, copyRecord(t.records[t.order[i]]))
	}
	return out
}

// Pending returns the records that have not resolved yet, newest first.
func (t *Tracker) Pending() []models.TransactionRecord {
	var out []models.TransactionRecord
	for _, rec := range t.History() {
		if rec.Status == models.StatusPending {
			out = append(out, rec)
		}
	}
	return out
}

// Get returns a single record by id.
func (t *Tracker) Get(id string) (models.TransactionRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[id]
	if !ok {
		return models.TransactionRecord{}, false
	}
	return copyRecord(rec), true
}

// Clear empties the history, including the journal when one is set.
func (t *Tracker) Clear(ctx context.Context) error {
	t.mu.Lock()
	n := len(t.order)
	t.order = nil
	t.records = make(map[string]*models.TransactionRecord)
	t.mu.Unlock()

	zap.L().Info("Purchase history cleared", zap.Int("records", n))

	if t.journal != nil {
		if err := t.journal.ClearPurchases(ctx); err != nil {
			return fmt.Errorf("failed to clear purchase journal: %w", err)
		}
	}
	return nil
}

// Restore loads up to limit records from the journal. Records already tracked
// in memory are kept as they are.
func (t *Tracker) Restore(ctx context.Context, limit int) (int, error) {
	if t.journal == nil {
		return 0, nil
	}
	recs, err := t.journal.ListPurchases(ctx, limit, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to load purchase journal: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	restored := make([]string, 0, len(recs))
	// Journal order is newest first; walk backwards to keep order oldest first.
	for i := len(recs) - 1; i >= 0; i-- {
		rec := recs[i]
		if _, exists := t.records[rec.Id]; exists {
			continue
		}
		r := copyRecord(&rec)
		t.records[rec.Id] = &r
		restored = append(restored, rec.Id)
	}
	t.order = append(restored, t.order...)

	zap.L().Info("Purchase history restored from journal", zap.Int("records", len(restored)))
	return len(restored), nil
}

// Subscribe returns a channel that receives every record change. A subscriber
// that falls behind by more than buffer updates misses updates. The returned
// func unsubscribes and closes the channel.
func (t *Tracker) Subscribe(buffer int) (<-chan models.TransactionRecord, func()) {
	ch := make(chan models.TransactionRecord, buffer)

	t.subMu.Lock()
	id := t.nextId
	t.nextId++
	t.subs[id] = ch
	t.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.subMu.Lock()
			delete(t.subs, id)
			t.subMu.Unlock()
			close(ch)
		})
	}
}

func (t *Tracker) publish(rec models.TransactionRecord) {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	for _, ch := range t.subs {
		select {
		case ch <- rec:
		default:
			zap.L().Debug("Dropping update for slow subscriber", zap.String("tx_id", rec.Id))
		}
	}
}

func copyRecord(rec *models.TransactionRecord) models.TransactionRecord {
	out := *rec
	if rec.ConfirmationBlock != nil {
		b := *rec.ConfirmationBlock
		out.ConfirmationBlock = &b
	}
	return out
}
