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

package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var ErrInvalidSnapshot = errors.New("invalid sale snapshot")

// SalePhase is the lifecycle stage of a sale derived from a snapshot and a point in time.
type SalePhase int

const (
	PhaseNotStarted SalePhase = iota
	PhaseActive
	PhaseSoldOut
	PhaseEnded
)

func (p SalePhase) String() string {
	switch p {
	case PhaseNotStarted:
		return "not_started"
	case PhaseActive:
		return "active"
	case PhaseSoldOut:
		return "sold_out"
	case PhaseEnded:
		return "ended"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// SaleSnapshotParams contains the raw parameters read from the sale contract or a static file.
type SaleSnapshotParams struct {
	TokenName       string
	TokenSymbol     string
	PricePerToken   decimal.Decimal
	TokensLeft      decimal.Decimal
	TotalTokens     decimal.Decimal
	MinContribution decimal.Decimal
	MaxContribution decimal.Decimal
	SaleStart       time.Time
	SaleEnd         time.Time
	FetchedAt       time.Time
}

// SaleSnapshot is an immutable view of the sale parameters at FetchedAt.
// A refresh replaces the whole value; fields are never updated in place.
type SaleSnapshot struct {
	TokenName       string
	TokenSymbol     string
	PricePerToken   decimal.Decimal
	TokensLeft      decimal.Decimal
	TotalTokens     decimal.Decimal
	MinContribution decimal.Decimal
	MaxContribution decimal.Decimal
	SaleStart       time.Time
	SaleEnd         time.Time
	FetchedAt       time.Time
}

// NewSaleSnapshot checks the snapshot invariants and returns the snapshot.
func NewSaleSnapshot(p SaleSnapshotParams) (SaleSnapshot, error) {
	switch {
	case !p.PricePerToken.IsPositive():
		return SaleSnapshot{}, fmt.Errorf("%w: price per token must be positive, got %s", ErrInvalidSnapshot, p.PricePerToken)
	case p.TokensLeft.IsNegative():
		return SaleSnapshot{}, fmt.Errorf("%w: tokens left cannot be negative, got %s", ErrInvalidSnapshot, p.TokensLeft)
	case !p.TotalTokens.IsPositive():
		return SaleSnapshot{}, fmt.Errorf("%w: total tokens must be positive, got %s", ErrInvalidSnapshot, p.TotalTokens)
	case p.TokensLeft.GreaterThan(p.TotalTokens):
		return SaleSnapshot{}, fmt.Errorf("%w: tokens left %s exceeds total %s", ErrInvalidSnapshot, p.TokensLeft, p.TotalTokens)
	case !p.SaleStart.Before(p.SaleEnd):
		return SaleSnapshot{}, fmt.Errorf("%w: sale start %s must be before end %s", ErrInvalidSnapshot,
			p.SaleStart.Format(time.RFC3339), p.SaleEnd.Format(time.RFC3339))
	case !p.MinContribution.IsPositive():
		return SaleSnapshot{}, fmt.Errorf("%w: minimum contribution must be positive, got %s", ErrInvalidSnapshot, p.MinContribution)
	case !p.MaxContribution.IsPositive():
		return SaleSnapshot{}, fmt.Errorf("%w: maximum contribution must be positive, got %s", ErrInvalidSnapshot, p.MaxContribution)
	case p.MinContribution.GreaterThan(p.MaxContribution):
		return SaleSnapshot{}, fmt.Errorf("%w: minimum contribution %s exceeds maximum %s", ErrInvalidSnapshot, p.MinContribution, p.MaxContribution)
	}

	return SaleSnapshot{
		TokenName:       p.TokenName,
		TokenSymbol:     p.TokenSymbol,
		PricePerToken:   p.PricePerToken,
		TokensLeft:      p.TokensLeft,
		TotalTokens:     p.TotalTokens,
		MinContribution: p.MinContribution,
		MaxContribution: p.MaxContribution,
		SaleStart:       p.SaleStart,
		SaleEnd:         p.SaleEnd,
		FetchedAt:       p.FetchedAt,
	}, nil
}

// TokensSold is TotalTokens minus TokensLeft.
func (s SaleSnapshot) TokensSold() decimal.Decimal {
	return s.TotalTokens.Sub(s.TokensLeft)
}
