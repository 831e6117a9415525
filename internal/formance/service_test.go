package formance

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/formancehq/formance-sdk-go/v3/pkg/models/sdkerrors"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"github.com/shopspring/decimal"

	"token-sale-go/internal/models"
)

// ---------- Unit tests for pure helpers (no Formance stack needed) ----------

func TestSmallestUnitConversion(t *testing.T) {
	tests := []struct {
		eth string
		wei string
	}{
		{"1", "1000000000000000000"},
		{"0.001", "1000000000000000"},
		{"0.000000000000000001", "1"},
		{"5", "5000000000000000000"},
	}
	for _, tt := range tests {
		got := toSmallestUnit(decimal.RequireFromString(tt.eth))
		if got != tt.wei {
			t.Errorf("toSmallestUnit(%s) = %s, want %s", tt.eth, got, tt.wei)
		}
		raw, _ := new(big.Int).SetString(tt.wei, 10)
		if back := fromSmallestUnit(raw); !back.Equal(decimal.RequireFromString(tt.eth)) {
			t.Errorf("fromSmallestUnit(%s) = %s, want %s", tt.wei, back, tt.eth)
		}
	}

	if !fromSmallestUnit(nil).IsZero() {
		t.Error("expected nil to convert to zero")
	}
}

func TestIsConflictError(t *testing.T) {
	conflict := &sdkerrors.V2ErrorResponse{ErrorCode: shared.V2ErrorsEnumConflict}
	if !isConflictError(conflict) {
		t.Error("expected conflict error to be detected")
	}
	if isConflictError(errors.New("boom")) {
		t.Error("plain error should not be a conflict")
	}
	notFound := &sdkerrors.V2ErrorResponse{ErrorCode: shared.V2ErrorsEnumNotFound}
	if !isNotFoundError(notFound) || isNotFoundError(conflict) {
		t.Error("not found detection mismatch")
	}
}

func eventTx(id int64, event, txId string, meta map[string]string) shared.V2Transaction {
	m := map[string]string{"event_type": event, "tx_id": txId, "sale_id": "default"}
	for k, v := range meta {
		m[k] = v
	}
	return shared.V2Transaction{
		ID:        big.NewInt(id),
		Metadata:  m,
		Timestamp: time.Unix(1_700_000_000+id, 0).UTC(),
		Postings: []shared.V2Posting{{
			Asset:  baseAsset,
			Amount: big.NewInt(5_000_000_000_000_000_000 / 1000),
		}},
	}
}

func TestFoldPurchases(t *testing.T) {
	submittedA := "2025-06-01T12:00:00Z"
	submittedB := "2025-06-01T12:05:00Z"
	txs := []shared.V2Transaction{
		eventTx(4, eventConfirmed, "0xa", map[string]string{"block": "77", "resolved_at": "2025-06-01T12:01:00Z"}),
		eventTx(3, eventPending, "0xb", map[string]string{"base_amount": "0.005", "token_amount": "0.5", "submitted_at": submittedB, "buyer": "s1"}),
		eventTx(2, eventPending, "0xa", map[string]string{"base_amount": "0.005", "token_amount": "0.5", "submitted_at": submittedA, "buyer": "s1"}),
		eventTx(1, eventPending, "0xc", map[string]string{"base_amount": "1", "submitted_at": submittedA}),
		eventTx(5, eventFailed, "0xc", nil),
	}

	got := foldPurchases(txs, nil)
	if len(got) != 3 {
		t.Fatalf("expected 3 purchases, got %d", len(got))
	}
	if got[0].Id != "0xb" {
		t.Errorf("expected newest purchase first, got %s", got[0].Id)
	}
	if got[0].Status != models.StatusPending {
		t.Errorf("expected 0xb pending, got %s", got[0].Status)
	}

	byId := map[string]purchase{}
	for _, p := range got {
		byId[p.Id] = p
	}
	a := byId["0xa"]
	if a.Status != models.StatusConfirmed || a.ConfirmationBlock == nil || *a.ConfirmationBlock != 77 {
		t.Errorf("expected 0xa confirmed at 77, got %+v", a.TransactionRecord)
	}
	if !a.BaseAmount.Equal(decimal.RequireFromString("0.005")) || !a.TokenAmount.Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("unexpected amounts for 0xa: %s / %s", a.BaseAmount, a.TokenAmount)
	}
	if a.buyer != "s1" || a.amount == nil {
		t.Errorf("expected buyer and amount to be kept for 0xa")
	}
	if c := byId["0xc"]; c.Status != models.StatusFailed || c.ConfirmationBlock != nil {
		t.Errorf("expected 0xc failed, got %+v", c.TransactionRecord)
	}
}

func TestFoldPurchases_CutoffAndReverted(t *testing.T) {
	reverted := eventTx(6, eventPending, "0xr", map[string]string{"submitted_at": "2025-06-01T12:00:00Z"})
	reverted.Reverted = true

	txs := []shared.V2Transaction{
		eventTx(1, eventPending, "0xold", map[string]string{"submitted_at": "2025-06-01T12:00:00Z"}),
		eventTx(2, eventPending, "0xnew", map[string]string{"submitted_at": "2025-06-01T13:00:00Z"}),
		reverted,
	}

	got := foldPurchases(txs, big.NewInt(1))
	if len(got) != 1 || got[0].Id != "0xnew" {
		t.Fatalf("expected only 0xnew after cut-off, got %+v", got)
	}
}

func TestFoldPurchases_FallsBackToPostingAmount(t *testing.T) {
	txs := []shared.V2Transaction{eventTx(1, eventPending, "0xa", nil)}
	got := foldPurchases(txs, nil)
	if len(got) != 1 {
		t.Fatalf("expected 1 purchase, got %d", len(got))
	}
	if !got[0].BaseAmount.Equal(decimal.RequireFromString("0.005")) {
		t.Errorf("expected base amount from posting, got %s", got[0].BaseAmount)
	}
	if !got[0].SubmittedAt.Equal(time.Unix(1_700_000_001, 0)) {
		t.Errorf("expected ledger timestamp fallback, got %v", got[0].SubmittedAt)
	}
}
