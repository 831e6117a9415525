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

package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"token-sale-go/internal/models"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

var ErrNoSnapshot = errors.New("no sale snapshot available")

// Source provides sale snapshots, e.g. the chain client or a StaticSource.
type Source interface {
	FetchSaleSnapshot(ctx context.Context) (models.SaleSnapshot, error)
}

// Refresher keeps the latest snapshot. Each refresh replaces the whole
// snapshot atomically; a failed refresh keeps the previous one.
type Refresher struct {
	source  Source
	current atomic.Pointer[models.SaleSnapshot]

	retryInitial    time.Duration
	retryMaxElapsed time.Duration
}

func NewRefresher(source Source) *Refresher {
	return &Refresher{
		source:          source,
		retryInitial:    500 * time.Millisecond,
		retryMaxElapsed: 20 * time.Second,
	}
}

// Current returns the latest snapshot.
func (r *Refresher) Current() (models.SaleSnapshot, error) {
	snap := r.current.Load()
	if snap == nil {
		return models.SaleSnapshot{}, ErrNoSnapshot
	}
	return *snap, nil
}

// Refresh fetches a new snapshot, retrying transient errors with exponential backoff.
// Snapshots that fail validation are not retried.
func (r *Refresher) Refresh(ctx context.Context) (models.SaleSnapshot, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.retryInitial
	policy.MaxInterval = r.retryInitial * 10

	notify := func(err error, wait time.Duration) {
		zap.L().Warn("Sale snapshot fetch failed, retrying", zap.Error(err), zap.Duration("backoff", wait))
	}

	operation := func() (models.SaleSnapshot, error) {
		snap, err := r.source.FetchSaleSnapshot(ctx)
		if errors.Is(err, models.ErrInvalidSnapshot) {
			return snap, backoff.Permanent(err)
		}
		return snap, err
	}

	snap, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxElapsedTime(r.retryMaxElapsed),
		backoff.WithNotify(notify))
	if err != nil {
		return models.SaleSnapshot{}, fmt.Errorf("failed to refresh sale snapshot: %w", err)
	}

	r.current.Store(&snap)
	zap.L().Debug("Sale snapshot refreshed",
		zap.String("tokens_left", snap.TokensLeft.String()),
		zap.String("price", snap.PricePerToken.String()))
	return snap, nil
}

// Run refreshes on every tick until ctx is cancelled.
func (r *Refresher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Refresh(ctx); err != nil && ctx.Err() == nil {
				zap.L().Error("Keeping previous sale snapshot", zap.Error(err))
			}
		}
	}
}
