package sale

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// AmountPrecision is the number of fractional digits kept for base and token
// amounts. It matches the 18-decimal scale of wei and ERC-20 tokens.
const AmountPrecision int32 = 18

// DisplayBasePrecision is how many fractional digits of the base currency are shown.
const DisplayBasePrecision int32 = 6

var ErrInvalidAmount = errors.New("invalid amount")

// ParseAmount parses a user supplied decimal string. Only positive values that
// fit in AmountPrecision fractional digits are accepted.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	// decimal.NewFromString accepts exponents; a contribution is typed as plain digits.
	if strings.ContainsAny(s, "eE") {
		return decimal.Zero, fmt.Errorf("%w: %q is not a plain decimal", ErrInvalidAmount, s)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q is not numeric", ErrInvalidAmount, s)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %q must be positive", ErrInvalidAmount, s)
	}
	if !representable(d) {
		return decimal.Zero, fmt.Errorf("%w: %q has more than %d fractional digits", ErrInvalidAmount, s, AmountPrecision)
	}
	return d, nil
}

// TokensForBase converts a base-currency amount into tokens at the given price.
// The quotient is rounded to AmountPrecision digits.
func TokensForBase(baseAmount, pricePerToken decimal.Decimal) (decimal.Decimal, error) {
	if err := checkOperands(baseAmount, pricePerToken); err != nil {
		return decimal.Zero, err
	}
	return baseAmount.DivRound(pricePerToken, AmountPrecision), nil
}

// BaseForTokens converts a token amount into the base-currency cost at the given price.
func BaseForTokens(tokenAmount, pricePerToken decimal.Decimal) (decimal.Decimal, error) {
	if err := checkOperands(tokenAmount, pricePerToken); err != nil {
		return decimal.Zero, err
	}
	return tokenAmount.Mul(pricePerToken), nil
}

// DisplayTokens truncates a token amount to whole tokens. Rounding down is the
// display policy; the ledger keeps the exact amount.
func DisplayTokens(tokens decimal.Decimal) decimal.Decimal {
	return tokens.Truncate(0)
}

// DisplayBase truncates a base amount to DisplayBasePrecision digits.
func DisplayBase(base decimal.Decimal) decimal.Decimal {
	return base.Truncate(DisplayBasePrecision)
}

func checkOperands(amount, price decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive, got %s", ErrInvalidAmount, amount)
	}
	if !price.IsPositive() {
		return fmt.Errorf("%w: price must be positive, got %s", ErrInvalidAmount, price)
	}
	return nil
}

func representable(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(AmountPrecision))
}
