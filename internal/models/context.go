package models

import (
	"context"
)

type purchaseContextKey struct{}

// PurchaseContext carries session data through context so journal backends can
// store it as metadata without widening the PurchaseJournal interface.
type PurchaseContext struct {
	SessionId    string // client session that submitted the purchase
	BuyerAddress string // account that signed the buy transaction
	SaleAddress  string // IDO contract address
	ChainId      int64
}

// WithPurchaseContext attaches purchase session data to a context.
func WithPurchaseContext(ctx context.Context, pc *PurchaseContext) context.Context {
	return context.WithValue(ctx, purchaseContextKey{}, pc)
}

// GetPurchaseContext retrieves purchase session data from context, or nil if absent.
func GetPurchaseContext(ctx context.Context) *PurchaseContext {
	pc, _ := ctx.Value(purchaseContextKey{}).(*PurchaseContext)
	return pc
}
