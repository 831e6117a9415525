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

package sale

import (
	"fmt"
	"time"

	"token-sale-go/internal/models"
)

// Reason is why a contribution was rejected. ReasonNone means it was accepted.
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonNotStarted         Reason = "not_started"
	ReasonEnded              Reason = "ended"
	ReasonSoldOut            Reason = "sold_out"
	ReasonBelowMinimum       Reason = "below_minimum"
	ReasonAboveMaximum       Reason = "above_maximum"
	ReasonInsufficientSupply Reason = "insufficient_supply"
	ReasonInvalidAmount      Reason = "invalid_amount"
)

// Message renders the reason for the buyer.
func (r Reason) Message(s models.SaleSnapshot) string {
	switch r {
	case ReasonNotStarted:
		return "Sale has not started yet"
	case ReasonEnded:
		return "Sale has ended"
	case ReasonSoldOut:
		return "Sale is sold out"
	case ReasonBelowMinimum:
		return fmt.Sprintf("Minimum contribution is %s ETH", s.MinContribution)
	case ReasonAboveMaximum:
		return fmt.Sprintf("Maximum contribution is %s ETH", s.MaxContribution)
	case ReasonInsufficientSupply:
		return fmt.Sprintf("Only %s tokens left", FormatTokens(s.TokensLeft))
	case ReasonInvalidAmount:
		return "Please enter a valid amount"
	default:
		return ""
	}
}

// Verdict is the result of Validate. Attempt is populated only when Ok.
type Verdict struct {
	Ok      bool
	Reason  Reason
	Attempt models.PurchaseAttempt
}

// PhaseAt derives the sale phase at now. Sold out is only reported inside [start, end).
func PhaseAt(s models.SaleSnapshot, now time.Time) models.SalePhase {
	switch {
	case now.Before(s.SaleStart):
		return models.PhaseNotStarted
	case !now.Before(s.SaleEnd):
		return models.PhaseEnded
	case !s.TokensLeft.IsPositive():
		return models.PhaseSoldOut
	default:
		return models.PhaseActive
	}
}

// Validate checks a contribution against the snapshot at now and reports the
// first failing rule. Rules run in a fixed order: phase, amount format,
// minimum, maximum, remaining supply.
func Validate(s models.SaleSnapshot, baseAmount string, now time.Time) Verdict {
	switch PhaseAt(s, now) {
	case models.PhaseNotStarted:
		return rejected(ReasonNotStarted)
	case models.PhaseEnded:
		return rejected(ReasonEnded)
	case models.PhaseSoldOut:
		return rejected(ReasonSoldOut)
	}

	base, err := ParseAmount(baseAmount)
	if err != nil {
		return rejected(ReasonInvalidAmount)
	}
	if base.LessThan(s.MinContribution) {
		return rejected(ReasonBelowMinimum)
	}
	if base.GreaterThan(s.MaxContribution) {
		return rejected(ReasonAboveMaximum)
	}

	tokens, err := TokensForBase(base, s.PricePerToken)
	if err != nil {
		return rejected(ReasonInvalidAmount)
	}
	if tokens.GreaterThan(s.TokensLeft) {
		return rejected(ReasonInsufficientSupply)
	}

	return Verdict{
		Ok: true,
		Attempt: models.PurchaseAttempt{
			BaseAmount:  base,
			TokenAmount: tokens,
			RequestedAt: now,
		},
	}
}

func rejected(r Reason) Verdict {
	return Verdict{Reason: r}
}
