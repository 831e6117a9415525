package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"token-sale-go/internal/models"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// weiDecimals is the fixed-point scale of ETH and of the sale token.
const weiDecimals = 18

// FetchSaleSnapshot reads all sale parameters concurrently and builds a snapshot.
func (c *Client) FetchSaleSnapshot(ctx context.Context) (models.SaleSnapshot, error) {
	var price, left, sold, hardCap, minC, maxC, start, end *big.Int

	g, gctx := errgroup.WithContext(ctx)
	reads := []struct {
		method string
		dst    **big.Int
	}{
		{"priceWeiPerToken", &price},
		{"tokensLeft", &left},
		{"tokensSold", &sold},
		{"hardCapTokens", &hardCap},
		{"minContribution", &minC},
		{"maxContribution", &maxC},
		{"start", &start},
		{"end", &end},
	}
	for _, r := range reads {
		r := r
		g.Go(func() error {
			v, err := c.callUint(gctx, r.method)
			if err != nil {
				return err
			}
			*r.dst = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return models.SaleSnapshot{}, err
	}

	// The contract reports the hard cap; prefer sold + left when both are known.
	total := new(big.Int).Add(sold, left)
	if total.Sign() == 0 {
		total = hardCap
	}

	saleStart, err := unixTime("start", start)
	if err != nil {
		return models.SaleSnapshot{}, err
	}
	saleEnd, err := unixTime("end", end)
	if err != nil {
		return models.SaleSnapshot{}, err
	}

	return models.NewSaleSnapshot(models.SaleSnapshotParams{
		PricePerToken:   fromWei(price),
		TokensLeft:      fromWei(left),
		TotalTokens:     fromWei(total),
		MinContribution: fromWei(minC),
		MaxContribution: fromWei(maxC),
		SaleStart:       saleStart,
		SaleEnd:         saleEnd,
		FetchedAt:       time.Now().UTC(),
	})
}

// UserContribution returns how much base currency account has contributed so far.
func (c *Client) UserContribution(ctx context.Context, account common.Address) (decimal.Decimal, error) {
	v, err := c.callUint(ctx, "contributions", account)
	if err != nil {
		return decimal.Zero, err
	}
	return fromWei(v), nil
}

func (c *Client) callUint(ctx context.Context, method string, params ...interface{}) (*big.Int, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, method, params...); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNetwork, method, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("%w: %s returned %d values", ErrNetwork, method, len(out))
	}
	v, ok := abi.ConvertType(out[0], new(big.Int)).(*big.Int)
	if !ok || v == nil {
		return nil, fmt.Errorf("%w: %s returned %T", ErrNetwork, method, out[0])
	}
	return v, nil
}

// unixTime converts a contract timestamp in seconds.
func unixTime(name string, v *big.Int) (time.Time, error) {
	if v == nil || v.Sign() < 0 || !v.IsInt64() {
		return time.Time{}, fmt.Errorf("%w: %s timestamp %v out of range", models.ErrInvalidSnapshot, name, v)
	}
	return time.Unix(v.Int64(), 0).UTC(), nil
}

func fromWei(v *big.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -weiDecimals)
}

// toWei converts an 18-decimal amount to its integer wei value. Digits beyond
// 18 decimals are truncated.
func toWei(d decimal.Decimal) *big.Int {
	return d.Shift(weiDecimals).BigInt()
}
