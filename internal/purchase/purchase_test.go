package purchase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-sale-go/internal/models"
	"token-sale-go/internal/sale"
	"token-sale-go/internal/tracker"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func demoSnapshot(t *testing.T) models.SaleSnapshot {
	t.Helper()
	s, err := models.NewSaleSnapshot(models.SaleSnapshotParams{
		PricePerToken:   decimal.RequireFromString("0.01"),
		TokensLeft:      decimal.RequireFromString("750000"),
		TotalTokens:     decimal.RequireFromString("1000000"),
		MinContribution: decimal.RequireFromString("0.001"),
		MaxContribution: decimal.RequireFromString("10"),
		SaleStart:       testNow.Add(-24 * time.Hour),
		SaleEnd:         testNow.Add(7 * 24 * time.Hour),
	})
	require.NoError(t, err)
	return s
}

// fakeChain submits purchases and answers status queries from an in-memory table.
type fakeChain struct {
	mu        sync.Mutex
	nextId    int
	fixedId   string
	submitErr error
	submitted []decimal.Decimal
	statuses  map[string]models.ChainStatus
	fallback  models.ChainStatus
	queryErrs int
	queries   int

	entered chan struct{}
	release chan struct{}
}

func newFakeChain(fallback models.TransactionStatus) *fakeChain {
	return &fakeChain{
		statuses: make(map[string]models.ChainStatus),
		fallback: models.ChainStatus{State: fallback, BlockNumber: 42},
	}
}

func (f *fakeChain) SubmitPurchase(_ context.Context, base decimal.Decimal) (string, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, base)
	if f.submitErr != nil {
		return "", f.submitErr
	}
	if f.fixedId != "" {
		return f.fixedId, nil
	}
	f.nextId++
	return fmt.Sprintf("0x%04d", f.nextId), nil
}

func (f *fakeChain) QueryTransactionStatus(_ context.Context, id string) (models.ChainStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	if f.queryErrs > 0 {
		f.queryErrs--
		return models.ChainStatus{}, errors.New("connection refused")
	}
	if st, ok := f.statuses[id]; ok {
		return st, nil
	}
	return f.fallback, nil
}

func (f *fakeChain) setFallback(st models.ChainStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fallback = st
}

func (f *fakeChain) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submitted)
}

func testConfig() models.PurchaseConfig {
	return models.PurchaseConfig{
		MinInterval:           30 * time.Second,
		ConfirmationTimeout:   2 * time.Second,
		StatusPollInterval:    2 * time.Millisecond,
		StatusPollMaxInterval: 10 * time.Millisecond,
	}
}

func newTestOrchestrator(t *testing.T, cfg models.PurchaseConfig, chain *fakeChain) *Orchestrator {
	t.Helper()
	o := New(cfg, chain, chain, tracker.New(nil))
	t.Cleanup(o.Close)
	return o
}

func TestExecute_Confirmed(t *testing.T) {
	chain := newFakeChain(models.StatusConfirmed)
	o := newTestOrchestrator(t, testConfig(), chain)

	out, err := o.Execute(context.Background(), demoSnapshot(t), "5", testNow, 0)
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, out.Kind)
	assert.Equal(t, uint64(42), out.BlockNumber)
	assert.True(t, out.Submitted())
	assert.True(t, out.Attempt.TokenAmount.Equal(decimal.NewFromInt(500)))

	rec, ok := o.Tracker().Get(out.TransactionId)
	require.True(t, ok)
	assert.Equal(t, models.StatusConfirmed, rec.Status)
	require.NotNil(t, rec.ConfirmationBlock)
	assert.Equal(t, uint64(42), *rec.ConfirmationBlock)
	assert.True(t, rec.BaseAmount.Equal(decimal.NewFromInt(5)))
}

func TestExecute_Failed(t *testing.T) {
	chain := newFakeChain(models.StatusFailed)
	o := newTestOrchestrator(t, testConfig(), chain)

	out, err := o.Execute(context.Background(), demoSnapshot(t), "1", testNow, 0)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, out.Kind)

	rec, ok := o.Tracker().Get(out.TransactionId)
	require.True(t, ok)
	assert.Equal(t, models.StatusFailed, rec.Status)
	assert.Nil(t, rec.ConfirmationBlock)
}

func TestExecute_RejectedDoesNotSubmitOrConsumeCooldown(t *testing.T) {
	chain := newFakeChain(models.StatusConfirmed)
	o := newTestOrchestrator(t, testConfig(), chain)
	snap := demoSnapshot(t)

	out, err := o.Execute(context.Background(), snap, "0.0001", testNow, 0)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, out.Kind)
	assert.Equal(t, sale.ReasonBelowMinimum, out.Reason)
	assert.False(t, out.Submitted())
	assert.Equal(t, 0, chain.submitCount())
	assert.Empty(t, o.Tracker().History())

	_, primed := o.Limiter().LastAttemptAt()
	assert.False(t, primed)

	out, err = o.Execute(context.Background(), snap, "1", testNow.Add(time.Second), 0)
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, out.Kind)
}

func TestExecute_RejectedWhenSaleNotActive(t *testing.T) {
	chain := newFakeChain(models.StatusConfirmed)
	o := newTestOrchestrator(t, testConfig(), chain)
	snap := demoSnapshot(t)

	out, err := o.Execute(context.Background(), snap, "1", snap.SaleEnd, 0)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, out.Kind)
	assert.Equal(t, sale.ReasonEnded, out.Reason)

	out, err = o.Execute(context.Background(), snap, "1", snap.SaleStart.Add(-time.Minute), 0)
	require.NoError(t, err)
	assert.Equal(t, sale.ReasonNotStarted, out.Reason)
	assert.Equal(t, 0, chain.submitCount())
}

func TestExecute_Throttled(t *testing.T) {
	chain := newFakeChain(models.StatusConfirmed)
	o := newTestOrchestrator(t, testConfig(), chain)
	snap := demoSnapshot(t)

	out, err := o.Execute(context.Background(), snap, "1", testNow, 0)
	require.NoError(t, err)
	require.Equal(t, OutcomeConfirmed, out.Kind)

	out, err = o.Execute(context.Background(), snap, "1", testNow.Add(10*time.Second), 0)
	require.NoError(t, err)
	assert.Equal(t, OutcomeThrottled, out.Kind)
	assert.Equal(t, 20*time.Second, out.Remaining)
	assert.Equal(t, 1, chain.submitCount())

	// A throttled call does not move the window.
	out, err = o.Execute(context.Background(), snap, "1", testNow.Add(30*time.Second), 0)
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, out.Kind)
	assert.Len(t, o.Tracker().History(), 2)
}

func TestExecute_SubmissionFailedKeepsCooldown(t *testing.T) {
	chain := newFakeChain(models.StatusConfirmed)
	chain.submitErr = errors.New("insufficient funds for gas * price + value")
	o := newTestOrchestrator(t, testConfig(), chain)
	snap := demoSnapshot(t)

	out, err := o.Execute(context.Background(), snap, "1", testNow, 0)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSubmissionFailed, out.Kind)
	assert.Equal(t, KindInsufficientFunds, out.Submission.Kind)
	assert.False(t, out.Submitted())
	assert.Empty(t, o.Tracker().History())

	chain.mu.Lock()
	chain.submitErr = nil
	chain.mu.Unlock()

	out, err = o.Execute(context.Background(), snap, "1", testNow.Add(time.Second), 0)
	require.NoError(t, err)
	assert.Equal(t, OutcomeThrottled, out.Kind)
	assert.Equal(t, 29*time.Second, out.Remaining)
}

func TestExecute_TimedOutLeavesPending(t *testing.T) {
	chain := newFakeChain(models.StatusPending)
	o := newTestOrchestrator(t, testConfig(), chain)

	out, err := o.Execute(context.Background(), demoSnapshot(t), "1", testNow, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, OutcomeTimedOut, out.Kind)
	assert.True(t, out.Submitted())

	o.Wait()
	rec, ok := o.Tracker().Get(out.TransactionId)
	require.True(t, ok)
	assert.Equal(t, models.StatusPending, rec.Status)
	assert.Len(t, o.Tracker().Pending(), 1)
}

func TestExecute_LateResolutionAfterTimeout(t *testing.T) {
	chain := newFakeChain(models.StatusPending)
	cfg := testConfig()
	cfg.LateResolutionWindow = 5 * time.Second
	o := newTestOrchestrator(t, cfg, chain)

	out, err := o.Execute(context.Background(), demoSnapshot(t), "1", testNow, 50*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, OutcomeTimedOut, out.Kind)

	updates, cancel := o.Tracker().Subscribe(1)
	defer cancel()

	chain.setFallback(models.ChainStatus{State: models.StatusConfirmed, BlockNumber: 7})
	o.Wait()

	rec, ok := o.Tracker().Get(out.TransactionId)
	require.True(t, ok)
	assert.Equal(t, models.StatusConfirmed, rec.Status)
	require.NotNil(t, rec.ConfirmationBlock)
	assert.Equal(t, uint64(7), *rec.ConfirmationBlock)

	select {
	case update := <-updates:
		assert.Equal(t, out.TransactionId, update.Id)
		assert.Equal(t, models.StatusConfirmed, update.Status)
	default:
		t.Fatal("expected a tracker update for the late confirmation")
	}
}

func TestExecute_CallerCancelReturnsTimedOut(t *testing.T) {
	chain := newFakeChain(models.StatusPending)
	o := newTestOrchestrator(t, testConfig(), chain)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	out, err := o.Execute(ctx, demoSnapshot(t), "1", testNow, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, OutcomeTimedOut, out.Kind)

	rec, ok := o.Tracker().Get(out.TransactionId)
	require.True(t, ok)
	assert.Equal(t, models.StatusPending, rec.Status)
}

func TestExecute_RetriesQueryErrors(t *testing.T) {
	chain := newFakeChain(models.StatusConfirmed)
	chain.queryErrs = 3
	o := newTestOrchestrator(t, testConfig(), chain)

	out, err := o.Execute(context.Background(), demoSnapshot(t), "1", testNow, 0)
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, out.Kind)

	chain.mu.Lock()
	defer chain.mu.Unlock()
	assert.GreaterOrEqual(t, chain.queries, 4)
}

func TestExecute_Busy(t *testing.T) {
	chain := newFakeChain(models.StatusConfirmed)
	chain.entered = make(chan struct{})
	chain.release = make(chan struct{})
	o := newTestOrchestrator(t, testConfig(), chain)
	snap := demoSnapshot(t)

	first := make(chan Outcome, 1)
	go func() {
		out, _ := o.Execute(context.Background(), snap, "1", testNow, 0)
		first <- out
	}()
	<-chain.entered

	out, err := o.Execute(context.Background(), snap, "1", testNow.Add(time.Hour), 0)
	require.NoError(t, err)
	assert.Equal(t, OutcomeBusy, out.Kind)

	close(chain.release)
	assert.Equal(t, OutcomeConfirmed, (<-first).Kind)
	assert.Equal(t, 1, chain.submitCount())
}

func TestExecute_DuplicateIdIsAnError(t *testing.T) {
	chain := newFakeChain(models.StatusConfirmed)
	chain.fixedId = "0xdead"
	o := newTestOrchestrator(t, testConfig(), chain)
	snap := demoSnapshot(t)

	_, err := o.Execute(context.Background(), snap, "1", testNow, 0)
	require.NoError(t, err)

	_, err = o.Execute(context.Background(), snap, "1", testNow.Add(time.Minute), 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, tracker.ErrDuplicateID)
}

func TestResume(t *testing.T) {
	chain := newFakeChain(models.StatusPending)
	chain.statuses["0xa"] = models.ChainStatus{State: models.StatusConfirmed, BlockNumber: 11}
	chain.statuses["0xb"] = models.ChainStatus{State: models.StatusFailed}
	o := newTestOrchestrator(t, testConfig(), chain)

	ctx := context.Background()
	tr := o.Tracker()
	one := decimal.NewFromInt(1)
	require.NoError(t, tr.Record(ctx, "0xa", one, one, testNow))
	require.NoError(t, tr.Record(ctx, "0xb", one, one, testNow))
	require.NoError(t, tr.Record(ctx, "0xc", one, one, testNow))
	require.NoError(t, tr.Record(ctx, "0xd", one, one, testNow))
	require.NoError(t, tr.MarkConfirmed(ctx, "0xd", 3))

	n := o.Resume(tr.History(), 50*time.Millisecond)
	assert.Equal(t, 3, n)
	o.Wait()

	a, _ := tr.Get("0xa")
	b, _ := tr.Get("0xb")
	c, _ := tr.Get("0xc")
	assert.Equal(t, models.StatusConfirmed, a.Status)
	assert.Equal(t, models.StatusFailed, b.Status)
	assert.Equal(t, models.StatusPending, c.Status)
}

func TestClose_StopsWatchers(t *testing.T) {
	chain := newFakeChain(models.StatusPending)
	o := New(testConfig(), chain, chain, nil)

	require.NoError(t, o.Tracker().Record(context.Background(), "0xa", decimal.NewFromInt(1), decimal.NewFromInt(100), testNow))
	o.Resume(o.Tracker().History(), time.Hour)

	done := make(chan struct{})
	go func() {
		o.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not stop the watcher")
	}

	rec, _ := o.Tracker().Get("0xa")
	assert.Equal(t, models.StatusPending, rec.Status)
}

func TestNew_Defaults(t *testing.T) {
	o := New(models.PurchaseConfig{}, nil, nil, nil)
	defer o.Close()

	assert.Equal(t, 30*time.Second, o.cfg.MinInterval)
	assert.Equal(t, DefaultConfirmationTimeout, o.cfg.ConfirmationTimeout)
	assert.Equal(t, defaultPollInterval, o.cfg.StatusPollInterval)
	assert.Equal(t, defaultPollMaxInterval, o.cfg.StatusPollMaxInterval)
	assert.NotNil(t, o.Tracker())
}

type rpcError struct {
	code int
	msg  string
}

func (e rpcError) Error() string  { return e.msg }
func (e rpcError) ErrorCode() int { return e.code }

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		kind   SubmissionKind
		msg    string
		reason sale.Reason
	}{
		{"user rejected code", rpcError{4001, "request rejected"}, KindUserRejected, "Transaction rejected by user", sale.ReasonNone},
		{"user denied text", errors.New("MetaMask Tx Signature: User denied transaction signature."), KindUserRejected, "Transaction rejected by user", sale.ReasonNone},
		{"internal rpc", rpcError{-32603, "execution reverted"}, KindNodeError, "Internal JSON-RPC error", sale.ReasonNone},
		{"insufficient funds", errors.New("insufficient funds for gas * price + value"), KindInsufficientFunds, "Insufficient funds for transaction", sale.ReasonNone},
		{"revert sold out", fmt.Errorf("buy: %w", errors.New("execution reverted: Sold out")), KindSaleRule, "Token sale is sold out", sale.ReasonSoldOut},
		{"revert minimum", errors.New("execution reverted: Below minimum contribution"), KindSaleRule, "Contribution is below the minimum", sale.ReasonBelowMinimum},
		{"gas", errors.New("gas required exceeds allowance"), KindNodeError, "Gas estimation failed", sale.ReasonNone},
		{"network", errors.New("dial tcp: connection refused"), KindNodeError, "Network error occurred", sale.ReasonNone},
		{"deadline", fmt.Errorf("buy: %w", context.DeadlineExceeded), KindNodeError, "Network error occurred", sale.ReasonNone},
		{"other", errors.New("nonce too low"), KindUnclassified, "nonce too low", sale.ReasonNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := Classify(tt.err)
			assert.Equal(t, tt.kind, sub.Kind)
			assert.Equal(t, tt.msg, sub.Message)
			assert.Equal(t, tt.reason, sub.SaleReason)
		})
	}

	assert.Equal(t, Submission{}, Classify(nil))
	assert.Equal(t, 4001, Classify(fmt.Errorf("wrapped: %w", rpcError{4001, "x"})).Code)
}

func TestOutcomeMessage(t *testing.T) {
	snap := demoSnapshot(t)

	tests := []struct {
		name string
		out  Outcome
		want string
	}{
		{"timed out", Outcome{Kind: OutcomeTimedOut}, "Transaction timeout - please check the block explorer for status"},
		{"throttled", Outcome{Kind: OutcomeThrottled, Remaining: 20 * time.Second}, "Please wait 20 seconds before making another purchase"},
		{"throttled rounds up", Outcome{Kind: OutcomeThrottled, Remaining: 1500 * time.Millisecond}, "Please wait 2 seconds before making another purchase"},
		{"rejected", Outcome{Kind: OutcomeRejected, Reason: sale.ReasonBelowMinimum}, "Minimum contribution is 0.001 ETH"},
		{"submission", Outcome{Kind: OutcomeSubmissionFailed, Submission: Submission{Message: "Gas estimation failed"}}, "Gas estimation failed"},
		{"failed", Outcome{Kind: OutcomeFailed}, "Transaction failed"},
		{"busy", Outcome{Kind: OutcomeBusy}, "A purchase is already in progress"},
		{"confirmed", Outcome{Kind: OutcomeConfirmed, BlockNumber: 9, Attempt: models.PurchaseAttempt{TokenAmount: decimal.NewFromInt(1500)}}, "Purchased 1,500 tokens in block 9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.out.Message(snap))
		})
	}
}

func TestExecute_ConfirmedAfterHistoryCleared(t *testing.T) {
	chain := newFakeChain(models.StatusPending)
	o := newTestOrchestrator(t, testConfig(), chain)
	snap := demoSnapshot(t)

	updates, unsubscribe := o.Tracker().Subscribe(4)
	defer unsubscribe()

	results := make(chan Outcome, 1)
	errs := make(chan error, 1)
	go func() {
		out, err := o.Execute(context.Background(), snap, "1", testNow, 2*time.Second)
		results <- out
		errs <- err
	}()

	// Wait for the pending record, then clear while confirmation is outstanding.
	rec := <-updates
	require.Equal(t, models.StatusPending, rec.Status)
	require.NoError(t, o.Tracker().Clear(context.Background()))
	chain.setFallback(models.ChainStatus{State: models.StatusConfirmed, BlockNumber: 5})

	out := <-results
	require.NoError(t, <-errs)
	assert.Equal(t, OutcomeConfirmed, out.Kind)
	assert.Equal(t, rec.Id, out.TransactionId)
	assert.Equal(t, uint64(5), out.BlockNumber)
	assert.Empty(t, o.Tracker().History())
}

func TestExecute_FailedAfterHistoryCleared(t *testing.T) {
	chain := newFakeChain(models.StatusPending)
	o := newTestOrchestrator(t, testConfig(), chain)
	snap := demoSnapshot(t)

	updates, unsubscribe := o.Tracker().Subscribe(4)
	defer unsubscribe()

	results := make(chan Outcome, 1)
	go func() {
		out, err := o.Execute(context.Background(), snap, "1", testNow, 2*time.Second)
		assert.NoError(t, err)
		results <- out
	}()

	rec := <-updates
	require.NoError(t, o.Tracker().Clear(context.Background()))
	chain.setFallback(models.ChainStatus{State: models.StatusFailed})

	out := <-results
	assert.Equal(t, OutcomeFailed, out.Kind)
	assert.Equal(t, rec.Id, out.TransactionId)
}
