package chain

import (
	"context"
	"errors"
	"fmt"

	"token-sale-go/internal/models"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SubmitPurchase sends a payable buy transaction for baseAmount and returns its hash.
// Node errors are returned unwrapped apart from context so callers can classify them.
func (c *Client) SubmitPurchase(ctx context.Context, baseAmount decimal.Decimal) (string, error) {
	if c.key == nil {
		return "", ErrNoSigner
	}
	if err := c.wait(ctx); err != nil {
		return "", err
	}

	opts, err := bind.NewKeyedTransactorWithChainID(c.key, c.chainId)
	if err != nil {
		return "", fmt.Errorf("unable to create transactor: %w", err)
	}
	opts.Context = ctx
	opts.Value = toWei(baseAmount)

	tx, err := c.contract.Transact(opts, "buy")
	if err != nil {
		zap.L().Warn("Buy transaction rejected",
			zap.String("buyer", c.buyer.Hex()),
			zap.String("amount", baseAmount.String()),
			zap.Error(err))
		return "", fmt.Errorf("buy: %w", err)
	}

	zap.L().Info("Buy transaction submitted",
		zap.String("tx_hash", tx.Hash().Hex()),
		zap.String("buyer", c.buyer.Hex()),
		zap.String("amount", baseAmount.String()),
		zap.Uint64("nonce", tx.Nonce()))
	return tx.Hash().Hex(), nil
}

// QueryTransactionStatus resolves a transaction hash from its receipt. A missing
// receipt means the transaction is still pending. The call has no side effects.
func (c *Client) QueryTransactionStatus(ctx context.Context, id string) (models.ChainStatus, error) {
	if err := c.wait(ctx); err != nil {
		return models.ChainStatus{}, err
	}

	receipt, err := c.eth.TransactionReceipt(ctx, common.HexToHash(id))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return models.ChainStatus{State: models.StatusPending}, nil
		}
		return models.ChainStatus{}, fmt.Errorf("%w: receipt %s: %w", ErrNetwork, id, err)
	}
	return statusFromReceipt(receipt), nil
}

func statusFromReceipt(r *types.Receipt) models.ChainStatus {
	var block uint64
	if r.BlockNumber != nil {
		block = r.BlockNumber.Uint64()
	}
	if r.Status == types.ReceiptStatusSuccessful {
		return models.ChainStatus{State: models.StatusConfirmed, BlockNumber: block}
	}
	return models.ChainStatus{State: models.StatusFailed, BlockNumber: block}
}
