package sale

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-sale-go/internal/models"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func demoSnapshot(t *testing.T) models.SaleSnapshot {
	t.Helper()
	s, err := models.NewSaleSnapshot(models.SaleSnapshotParams{
		PricePerToken:   dec("0.01"),
		TokensLeft:      dec("750000"),
		TotalTokens:     dec("1000000"),
		MinContribution: dec("0.001"),
		MaxContribution: dec("10"),
		SaleStart:       testNow.Add(-24 * time.Hour),
		SaleEnd:         testNow.Add(7 * 24 * time.Hour),
	})
	require.NoError(t, err)
	return s
}

func TestValidate_DemoScenarios(t *testing.T) {
	snap := demoSnapshot(t)

	tests := []struct {
		name   string
		amount string
		ok     bool
		reason Reason
	}{
		{"five eth", "5", true, ReasonNone},
		{"below minimum", "0.0001", false, ReasonBelowMinimum},
		{"above maximum", "20", false, ReasonAboveMaximum},
		{"exact minimum", "0.001", true, ReasonNone},
		{"exact maximum", "10", true, ReasonNone},
		{"empty", "", false, ReasonInvalidAmount},
		{"garbage", "abc", false, ReasonInvalidAmount},
		{"negative", "-1", false, ReasonInvalidAmount},
		{"zero", "0", false, ReasonInvalidAmount},
		{"exponent", "1e1", false, ReasonInvalidAmount},
		{"too precise", "1.0000000000000000001", false, ReasonInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Validate(snap, tt.amount, testNow)
			assert.Equal(t, tt.ok, v.Ok)
			assert.Equal(t, tt.reason, v.Reason)
		})
	}
}

func TestValidate_AcceptedAttempt(t *testing.T) {
	v := Validate(demoSnapshot(t), "5", testNow)
	require.True(t, v.Ok)
	assert.True(t, v.Attempt.BaseAmount.Equal(dec("5")))
	assert.True(t, v.Attempt.TokenAmount.Equal(dec("500")), "got %s", v.Attempt.TokenAmount)
	assert.Equal(t, testNow, v.Attempt.RequestedAt)
}

func TestValidate_InsufficientSupply(t *testing.T) {
	snap, err := models.NewSaleSnapshot(models.SaleSnapshotParams{
		PricePerToken:   dec("1"),
		TokensLeft:      dec("10"),
		TotalTokens:     dec("100"),
		MinContribution: dec("1"),
		MaxContribution: dec("100"),
		SaleStart:       testNow.Add(-time.Hour),
		SaleEnd:         testNow.Add(time.Hour),
	})
	require.NoError(t, err)

	assert.Equal(t, ReasonInsufficientSupply, Validate(snap, "50", testNow).Reason)
	// Exactly what is left is still allowed.
	assert.True(t, Validate(snap, "10", testNow).Ok)
}

func TestValidate_PhaseRejectionsIgnoreAmount(t *testing.T) {
	snap := demoSnapshot(t)

	for _, amount := range []string{"5", "0.0001", "20", "junk"} {
		assert.Equal(t, ReasonEnded, Validate(snap, amount, snap.SaleEnd).Reason)
		assert.Equal(t, ReasonEnded, Validate(snap, amount, snap.SaleEnd.Add(time.Second)).Reason)
		assert.Equal(t, ReasonNotStarted, Validate(snap, amount, snap.SaleStart.Add(-time.Nanosecond)).Reason)
	}

	soldOut := snap
	soldOut.TokensLeft = decimal.Zero
	assert.Equal(t, ReasonSoldOut, Validate(soldOut, "5", testNow).Reason)
}

func TestPhaseAt_ExactlyOnePhase(t *testing.T) {
	snap := demoSnapshot(t)
	soldOut := snap
	soldOut.TokensLeft = decimal.Zero

	times := []time.Time{
		snap.SaleStart.Add(-48 * time.Hour),
		snap.SaleStart.Add(-time.Nanosecond),
		snap.SaleStart,
		testNow,
		snap.SaleEnd.Add(-time.Nanosecond),
		snap.SaleEnd,
		snap.SaleEnd.Add(48 * time.Hour),
	}
	want := []models.SalePhase{
		models.PhaseNotStarted, models.PhaseNotStarted,
		models.PhaseActive, models.PhaseActive, models.PhaseActive,
		models.PhaseEnded, models.PhaseEnded,
	}
	wantSoldOut := []models.SalePhase{
		models.PhaseNotStarted, models.PhaseNotStarted,
		models.PhaseSoldOut, models.PhaseSoldOut, models.PhaseSoldOut,
		models.PhaseEnded, models.PhaseEnded,
	}
	for i, at := range times {
		assert.Equal(t, want[i], PhaseAt(snap, at), "at %s", at)
		assert.Equal(t, wantSoldOut[i], PhaseAt(soldOut, at), "sold out at %s", at)
	}
}

func TestTokensForBase(t *testing.T) {
	tokens, err := TokensForBase(dec("5"), dec("0.01"))
	require.NoError(t, err)
	assert.True(t, tokens.Equal(dec("500")))

	_, err = TokensForBase(dec("0"), dec("0.01"))
	assert.True(t, errors.Is(err, ErrInvalidAmount))

	_, err = TokensForBase(dec("5"), dec("-0.01"))
	assert.True(t, errors.Is(err, ErrInvalidAmount))

	_, err = BaseForTokens(dec("5"), decimal.Zero)
	assert.True(t, errors.Is(err, ErrInvalidAmount))
}

func TestConversionRoundTrip(t *testing.T) {
	cases := []struct{ amount, price string }{
		{"500", "0.01"},
		{"1", "1"},
		{"123.456", "0.0025"},
		{"0.000000000000000001", "0.5"},
		{"750000", "0.000001"},
	}
	for _, c := range cases {
		amount, price := dec(c.amount), dec(c.price)

		base, err := BaseForTokens(amount, price)
		require.NoError(t, err)
		back, err := TokensForBase(base, price)
		require.NoError(t, err)
		assert.True(t, back.Equal(amount), "tokens %s at %s came back as %s", amount, price, back)

		tokens, err := TokensForBase(amount, price)
		require.NoError(t, err)
		again, err := BaseForTokens(tokens, price)
		require.NoError(t, err)
		assert.True(t, again.Equal(amount), "base %s at %s came back as %s", amount, price, again)
	}
}

func TestParseAmount(t *testing.T) {
	d, err := ParseAmount("  0.5 ")
	require.NoError(t, err)
	assert.True(t, d.Equal(dec("0.5")))

	d, err = ParseAmount("0.000000000000000001")
	require.NoError(t, err)
	assert.True(t, d.Equal(dec("0.000000000000000001")))

	for _, bad := range []string{"", " ", "1,5", "NaN", "Inf", "0x10", "-0.1", "1e-3"} {
		_, err := ParseAmount(bad)
		assert.ErrorIs(t, err, ErrInvalidAmount, "input %q", bad)
	}
}

func TestDisplayHelpers(t *testing.T) {
	assert.Equal(t, "750,000", FormatTokens(dec("750000.99")))
	assert.Equal(t, "0", FormatTokens(dec("0.9")))
	assert.Equal(t, "0.012345 ETH", FormatBase(dec("0.0123459")))

	snap := demoSnapshot(t)
	assert.Equal(t, "25", Progress(snap).String())
	assert.Equal(t, "7d 0h remaining", TimeRemaining(snap, testNow))
	assert.Equal(t, "Sale Ended", TimeRemaining(snap, snap.SaleEnd))
	assert.Equal(t, "Starts in 1d 2h", TimeRemaining(snap, snap.SaleStart.Add(-26*time.Hour)))
}

func TestReasonMessage(t *testing.T) {
	snap := demoSnapshot(t)
	assert.Equal(t, "Minimum contribution is 0.001 ETH", ReasonBelowMinimum.Message(snap))
	assert.Equal(t, "Maximum contribution is 10 ETH", ReasonAboveMaximum.Message(snap))
	assert.Equal(t, "Only 750,000 tokens left", ReasonInsufficientSupply.Message(snap))
	assert.Empty(t, ReasonNone.Message(snap))
}
