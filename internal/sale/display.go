package sale

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"token-sale-go/internal/models"
)

var printer = message.NewPrinter(language.English)

var hundred = decimal.NewFromInt(100)

// FormatTokens renders whole tokens with thousands separators, e.g. "750,000".
func FormatTokens(tokens decimal.Decimal) string {
	whole := DisplayTokens(tokens)
	if !whole.BigInt().IsInt64() {
		return whole.String()
	}
	return printer.Sprintf("%d", whole.IntPart())
}

// FormatBase renders a base-currency amount truncated to six decimals, e.g. "0.012345 ETH".
func FormatBase(base decimal.Decimal) string {
	return DisplayBase(base).String() + " ETH"
}

// Progress is the sold share of the supply as a percentage with one decimal.
func Progress(s models.SaleSnapshot) decimal.Decimal {
	if !s.TotalTokens.IsPositive() {
		return decimal.Zero
	}
	return s.TokensSold().Mul(hundred).DivRound(s.TotalTokens, 1)
}

// TimeRemaining describes the time left in human terms.
func TimeRemaining(s models.SaleSnapshot, now time.Time) string {
	switch PhaseAt(s, now) {
	case models.PhaseEnded:
		return "Sale Ended"
	case models.PhaseNotStarted:
		return "Starts in " + daysHours(s.SaleStart.Sub(now))
	default:
		return daysHours(s.SaleEnd.Sub(now)) + " remaining"
	}
}

func daysHours(d time.Duration) string {
	days := int(d / (24 * time.Hour))
	hours := int((d % (24 * time.Hour)) / time.Hour)
	return fmt.Sprintf("%dd %dh", days, hours)
}
