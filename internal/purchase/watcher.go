package purchase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"token-sale-go/internal/models"
	"token-sale-go/internal/tracker"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

var errStillPending = errors.New("transaction still pending")

type watchResult struct {
	status models.ChainStatus
	err    error
}

// watch polls the status of id in the background for up to window. A terminal
// status is applied to the tracker before it is sent, so a result that nobody
// waits for any more still lands. The channel is closed when the watcher exits.
func (o *Orchestrator) watch(id string, window time.Duration) <-chan watchResult {
	results := make(chan watchResult, 1)

	o.watchers.Add(1)
	go func() {
		defer o.watchers.Done()
		defer close(results)

		ctx, cancel := context.WithTimeout(o.ctx, window)
		defer cancel()

		status, err := o.poll(ctx, id, window)
		if err != nil {
			zap.L().Warn("Stopped watching purchase before it resolved",
				zap.String("tx_id", id),
				zap.Duration("window", window),
				zap.Error(err))
			return
		}
		results <- watchResult{status: status, err: o.apply(id, status)}
	}()

	return results
}

func (o *Orchestrator) poll(ctx context.Context, id string, window time.Duration) (models.ChainStatus, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = o.cfg.StatusPollInterval
	policy.MaxInterval = o.cfg.StatusPollMaxInterval

	operation := func() (models.ChainStatus, error) {
		status, err := o.querier.QueryTransactionStatus(ctx, id)
		if err != nil {
			return status, err
		}
		if !status.State.Terminal() {
			return status, errStillPending
		}
		return status, nil
	}

	notify := func(err error, wait time.Duration) {
		if errors.Is(err, errStillPending) {
			return
		}
		zap.L().Warn("Status query failed, retrying",
			zap.String("tx_id", id),
			zap.Duration("backoff", wait),
			zap.Error(err))
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxElapsedTime(window),
		backoff.WithNotify(notify))
}

// apply records a terminal status in the tracker. It runs after the caller
// may have returned, so journal writes are not tied to the watcher deadline.
func (o *Orchestrator) apply(id string, status models.ChainStatus) error {
	ctx := context.WithoutCancel(o.ctx)

	var err error
	switch status.State {
	case models.StatusConfirmed:
		err = o.tracker.MarkConfirmed(ctx, id, status.BlockNumber)
	case models.StatusFailed:
		err = o.tracker.MarkFailed(ctx, id)
	default:
		return nil
	}
	if errors.Is(err, tracker.ErrUnknownID) {
		// History was cleared while the purchase was in flight.
		zap.L().Info("Purchase resolved after history was cleared",
			zap.String("tx_id", id),
			zap.String("status", string(status.State)))
		return nil
	}
	if err != nil {
		zap.L().Error("Tracker rejected purchase resolution",
			zap.String("tx_id", id),
			zap.String("status", string(status.State)),
			zap.Error(err))
		return fmt.Errorf("resolve purchase %s: %w", id, err)
	}
	return nil
}
