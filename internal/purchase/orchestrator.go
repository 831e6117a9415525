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

package purchase

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"token-sale-go/internal/models"
	"token-sale-go/internal/ratelimit"
	"token-sale-go/internal/sale"
	"token-sale-go/internal/tracker"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	DefaultConfirmationTimeout = 5 * time.Minute
	defaultPollInterval        = 2 * time.Second
	defaultPollMaxInterval     = 15 * time.Second
)

// Submitter sends a purchase and returns the transaction id.
type Submitter interface {
	SubmitPurchase(ctx context.Context, baseAmount decimal.Decimal) (string, error)
}

// StatusQuerier resolves a transaction id. It must be safe to call repeatedly.
type StatusQuerier interface {
	QueryTransactionStatus(ctx context.Context, id string) (models.ChainStatus, error)
}

// Orchestrator runs purchase attempts for one session: validate, rate-check,
// submit, then wait for confirmation with a timeout. It owns the session's
// rate limiter and tracker. Only one attempt runs at a time.
type Orchestrator struct {
	cfg       models.PurchaseConfig
	submitter Submitter
	querier   StatusQuerier
	limiter   *ratelimit.Limiter
	tracker   *tracker.Tracker

	busy atomic.Bool

	// Watchers outlive Execute so late results still reach the tracker.
	ctx      context.Context
	cancel   context.CancelFunc
	watchers sync.WaitGroup
}

// New creates an Orchestrator. Zero config values fall back to defaults;
// a zero LateResolutionWindow stops watching when the timeout fires.
func New(cfg models.PurchaseConfig, submitter Submitter, querier StatusQuerier, t *tracker.Tracker) *Orchestrator {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = ratelimit.DefaultMinInterval
	}
	if cfg.ConfirmationTimeout <= 0 {
		cfg.ConfirmationTimeout = DefaultConfirmationTimeout
	}
	if cfg.StatusPollInterval <= 0 {
		cfg.StatusPollInterval = defaultPollInterval
	}
	if cfg.StatusPollMaxInterval < cfg.StatusPollInterval {
		cfg.StatusPollMaxInterval = defaultPollMaxInterval
		if cfg.StatusPollMaxInterval < cfg.StatusPollInterval {
			cfg.StatusPollMaxInterval = cfg.StatusPollInterval
		}
	}
	if t == nil {
		t = tracker.New(nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:       cfg,
		submitter: submitter,
		querier:   querier,
		limiter:   ratelimit.New(),
		tracker:   t,
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (o *Orchestrator) Tracker() *tracker.Tracker { return o.tracker }

func (o *Orchestrator) Limiter() *ratelimit.Limiter { return o.limiter }

// Validate checks a contribution without side effects.
func (o *Orchestrator) Validate(snapshot models.SaleSnapshot, baseAmount string, now time.Time) sale.Verdict {
	return sale.Validate(snapshot, baseAmount, now)
}

// Execute runs one purchase attempt. Expected conditions are reported through
// the Outcome; the error is non-nil only when the tracker rejects a
// transition, which means the collaborators broke their contract.
//
// A zero confirmationTimeout uses the configured timeout. When the timeout
// fires first the record stays Pending and watching continues in the
// background for up to LateResolutionWindow.
func (o *Orchestrator) Execute(ctx context.Context, snapshot models.SaleSnapshot, baseAmount string, now time.Time, confirmationTimeout time.Duration) (Outcome, error) {
	if !o.busy.CompareAndSwap(false, true) {
		return Outcome{Kind: OutcomeBusy}, nil
	}
	defer o.busy.Store(false)

	verdict := sale.Validate(snapshot, baseAmount, now)
	if !verdict.Ok {
		zap.L().Info("Purchase rejected", zap.String("amount", baseAmount), zap.String("reason", string(verdict.Reason)))
		return Outcome{Kind: OutcomeRejected, Reason: verdict.Reason}, nil
	}
	attempt := verdict.Attempt

	if d := o.limiter.TryAcquire(now, o.cfg.MinInterval); !d.Ok {
		zap.L().Info("Purchase throttled", zap.Duration("remaining", d.Remaining))
		return Outcome{Kind: OutcomeThrottled, Remaining: d.Remaining, Attempt: attempt}, nil
	}

	id, err := o.submitter.SubmitPurchase(ctx, attempt.BaseAmount)
	if err != nil {
		sub := Classify(err)
		zap.L().Warn("Purchase submission failed",
			zap.String("kind", string(sub.Kind)),
			zap.Int("code", sub.Code),
			zap.Error(err))
		return Outcome{Kind: OutcomeSubmissionFailed, Submission: sub, Attempt: attempt}, nil
	}

	if err := o.tracker.Record(ctx, id, attempt.BaseAmount, attempt.TokenAmount, now); err != nil {
		zap.L().Error("Tracker rejected submitted purchase", zap.String("tx_id", id), zap.Error(err))
		return Outcome{}, fmt.Errorf("record purchase %s: %w", id, err)
	}

	if confirmationTimeout <= 0 {
		confirmationTimeout = o.cfg.ConfirmationTimeout
	}
	results := o.watch(id, confirmationTimeout+o.cfg.LateResolutionWindow)

	timer := time.NewTimer(confirmationTimeout)
	defer timer.Stop()

	pending := Outcome{Kind: OutcomeTimedOut, TransactionId: id, Attempt: attempt}
	select {
	case res, ok := <-results:
		if !ok {
			// Watcher gave up or was closed before the timer fired.
			return pending, nil
		}
		if res.err != nil {
			return Outcome{}, res.err
		}
		if res.status.State == models.StatusConfirmed {
			return Outcome{Kind: OutcomeConfirmed, TransactionId: id, BlockNumber: res.status.BlockNumber, Attempt: attempt}, nil
		}
		return Outcome{Kind: OutcomeFailed, TransactionId: id, Attempt: attempt}, nil
	case <-timer.C:
		zap.L().Warn("Confirmation timed out, leaving purchase pending",
			zap.String("tx_id", id),
			zap.Duration("timeout", confirmationTimeout))
		return pending, nil
	case <-ctx.Done():
		zap.L().Warn("Stopped waiting for confirmation", zap.String("tx_id", id), zap.Error(ctx.Err()))
		return pending, nil
	}
}

// Resume watches pending records, such as those restored from a journal, until
// they resolve or window elapses. It returns the number of watchers started.
func (o *Orchestrator) Resume(records []models.TransactionRecord, window time.Duration) int {
	n := 0
	for _, rec := range records {
		if rec.Status != models.StatusPending {
			continue
		}
		o.watch(rec.Id, window)
		n++
	}
	zap.L().Info("Resumed watching pending purchases", zap.Int("count", n))
	return n
}

// Wait blocks until every watcher has finished.
func (o *Orchestrator) Wait() {
	o.watchers.Wait()
}

// Close stops all watchers and waits for them.
func (o *Orchestrator) Close() {
	o.cancel()
	o.watchers.Wait()
}
