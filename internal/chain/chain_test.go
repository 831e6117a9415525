package chain

import (
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-sale-go/internal/models"
)

func TestSaleABIParses(t *testing.T) {
	parsed, err := abi.JSON(strings.NewReader(saleABI))
	require.NoError(t, err)

	for _, m := range []string{"priceWeiPerToken", "tokensLeft", "tokensSold", "hardCapTokens",
		"minContribution", "maxContribution", "start", "end", "contributions", "buy"} {
		_, ok := parsed.Methods[m]
		assert.True(t, ok, "method %s", m)
	}
	assert.True(t, parsed.Methods["buy"].IsPayable())
}

func TestWeiConversion(t *testing.T) {
	oneEth, _ := new(big.Int).SetString("1000000000000000000", 10)
	assert.True(t, fromWei(oneEth).Equal(decimal.NewFromInt(1)))
	assert.True(t, fromWei(nil).IsZero())

	assert.Equal(t, "10000000000000000", toWei(decimal.RequireFromString("0.01")).String())
	assert.Equal(t, "1", toWei(decimal.RequireFromString("0.000000000000000001")).String())
	assert.Equal(t, "0", toWei(decimal.RequireFromString("0.0000000000000000001")).String())
}

func TestStatusFromReceipt(t *testing.T) {
	ok := statusFromReceipt(&types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(1234)})
	assert.Equal(t, models.ChainStatus{State: models.StatusConfirmed, BlockNumber: 1234}, ok)

	reverted := statusFromReceipt(&types.Receipt{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(99)})
	assert.Equal(t, models.StatusFailed, reverted.State)
}

func TestNewClientValidatesKey(t *testing.T) {
	cfg := models.ChainConfig{
		SaleAddress:     "0x1111111111111111111111111111111111111111",
		ChainId:         11155111,
		BuyerPrivateKey: "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318",
		RateLimit:       5,
		Burst:           1,
	}
	c, err := newClient(nil, cfg)
	require.NoError(t, err)

	buyer, canSubmit := c.BuyerAddress()
	assert.True(t, canSubmit)
	assert.Equal(t, "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23", buyer.Hex())
	assert.Equal(t, "0x1111111111111111111111111111111111111111", c.SaleAddress().Hex())

	cfg.BuyerPrivateKey = "zz"
	_, err = newClient(nil, cfg)
	assert.Error(t, err)
}

func TestNewLimiter(t *testing.T) {
	l := newLimiter(models.ChainConfig{RateLimit: 0, Burst: 0})
	assert.True(t, l.Allow())
	assert.True(t, l.Allow())

	l = newLimiter(models.ChainConfig{RateLimit: 1, Burst: 1})
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())
}

func TestUnixTime(t *testing.T) {
	got, err := unixTime("start", big.NewInt(1748779200))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), got)

	huge := new(big.Int).Lsh(big.NewInt(1), 64)
	_, err = unixTime("end", huge)
	assert.ErrorIs(t, err, models.ErrInvalidSnapshot)

	_, err = unixTime("start", big.NewInt(-1))
	assert.ErrorIs(t, err, models.ErrInvalidSnapshot)
}
