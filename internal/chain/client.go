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

package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"token-sale-go/internal/models"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	// ErrNetwork wraps any failure to reach the node or read the contract.
	ErrNetwork = errors.New("network error")
	// ErrNoSigner is returned by SubmitPurchase when no buyer key is configured.
	ErrNoSigner = errors.New("no buyer key configured")
)

// Client talks to the IDO contract over JSON-RPC. It implements the snapshot,
// submit and status collaborators of the purchase flow.
type Client struct {
	eth      *ethclient.Client
	contract *bind.BoundContract
	address  common.Address
	chainId  *big.Int
	limiter  *rate.Limiter

	key   *ecdsa.PrivateKey
	buyer common.Address
}

// NewClient dials the node. Requests go through a retrying HTTP client and a
// client-side rate limiter.
func NewClient(ctx context.Context, cfg models.ChainConfig) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url cannot be empty")
	}
	if !common.IsHexAddress(cfg.SaleAddress) {
		return nil, fmt.Errorf("invalid sale contract address %q", cfg.SaleAddress)
	}

	httpClient := newHTTPClient(cfg)
	rpcClient, err := rpc.DialOptions(ctx, cfg.RPCURL, rpc.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("%w: unable to dial rpc: %w", ErrNetwork, err)
	}
	eth := ethclient.NewClient(rpcClient)

	c, err := newClient(eth, cfg)
	if err != nil {
		eth.Close()
		return nil, err
	}

	zap.L().Info("Chain client initialized",
		zap.String("rpc_url", cfg.RPCURL),
		zap.String("sale_address", c.address.Hex()),
		zap.Int64("chain_id", cfg.ChainId),
		zap.Bool("can_submit", c.key != nil))
	return c, nil
}

func newClient(eth *ethclient.Client, cfg models.ChainConfig) (*Client, error) {
	parsed, err := abi.JSON(strings.NewReader(saleABI))
	if err != nil {
		return nil, fmt.Errorf("unable to parse sale abi: %w", err)
	}

	address := common.HexToAddress(cfg.SaleAddress)
	c := &Client{
		eth:      eth,
		contract: bind.NewBoundContract(address, parsed, eth, eth, eth),
		address:  address,
		chainId:  big.NewInt(cfg.ChainId),
		limiter:  newLimiter(cfg),
	}

	if cfg.BuyerPrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.BuyerPrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid buyer private key: %w", err)
		}
		c.key = key
		c.buyer = crypto.PubkeyToAddress(key.PublicKey)
	}
	return c, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// SaleAddress is the IDO contract address.
func (c *Client) SaleAddress() common.Address {
	return c.address
}

// BuyerAddress is the account derived from the configured key, if any.
func (c *Client) BuyerAddress() (common.Address, bool) {
	return c.buyer, c.key != nil
}

func newHTTPClient(cfg models.ChainConfig) *http.Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.RetryMax
	retryClient.Backoff = retryablehttp.DefaultBackoff
	retryClient.Logger = zapLeveledLogger{}
	retryClient.HTTPClient.Timeout = cfg.Timeout
	return retryClient.StandardClient()
}

func newLimiter(cfg models.ChainConfig) *rate.Limiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	if cfg.RateLimit <= 0 {
		return rate.NewLimiter(rate.Inf, burst)
	}
	return rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
}

// wait blocks until the rate limiter allows another RPC call.
func (c *Client) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limiter: %w", ErrNetwork, err)
	}
	return nil
}
