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

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"token-sale-go/internal/common"
	"token-sale-go/internal/config"
	"token-sale-go/internal/models"
	"token-sale-go/internal/sale"

	"go.uber.org/zap"
)

func printSnapshot(s models.SaleSnapshot, now time.Time) {
	common.PrintHeader(fmt.Sprintf("TOKEN SALE: %s (%s)", s.TokenName, s.TokenSymbol), common.DefaultWidth)
	common.PrintField("Phase", sale.PhaseAt(s, now).String(), false)
	common.PrintField("Price per token", sale.FormatBase(s.PricePerToken), false)
	common.PrintField("Tokens left", sale.FormatTokens(s.TokensLeft)+" / "+sale.FormatTokens(s.TotalTokens), false)
	common.PrintField("Progress", sale.Progress(s).StringFixed(1)+"%", false)
	common.PrintField("Contribution", sale.FormatBase(s.MinContribution)+" to "+sale.FormatBase(s.MaxContribution), false)
	common.PrintField("Time", sale.TimeRemaining(s, now), true)
}

func printQuote(s models.SaleSnapshot, amount string, now time.Time) {
	verdict := sale.Validate(s, amount, now)
	common.PrintSeparatorNewline("-", common.DefaultWidth)
	if !verdict.Ok {
		fmt.Printf("✗ %s ETH: %s\n", amount, verdict.Reason.Message(s))
		return
	}
	fmt.Printf("✓ %s buys %s %s\n",
		sale.FormatBase(verdict.Attempt.BaseAmount),
		sale.FormatTokens(verdict.Attempt.TokenAmount),
		s.TokenSymbol)
}

func main() {
	amountFlag := flag.String("amount", "", "Quote and validate a contribution in ETH (optional)")
	watchFlag := flag.Bool("watch", false, "Keep refreshing the snapshot until interrupted")
	flag.Parse()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg.Journal.Backend = "none"
	session, err := common.InitializeSession(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize session", zap.Error(err))
	}
	defer session.Close()

	show := func() {
		snap, err := session.Snapshots.Current()
		if err != nil {
			zap.L().Error("No sale snapshot available", zap.Error(err))
			return
		}
		now := time.Now()
		printSnapshot(snap, now)
		if *amountFlag != "" {
			printQuote(snap, *amountFlag, now)
		}
	}
	show()

	if session.Chain != nil {
		if buyer, ok := session.Chain.BuyerAddress(); ok {
			contributed, err := session.Chain.UserContribution(ctx, buyer)
			if err != nil {
				zap.L().Warn("Unable to read buyer contribution", zap.Error(err))
			} else {
				fmt.Printf("\nContributed by %s: %s\n", buyer.Hex(), sale.FormatBase(contributed))
			}
		}
	}

	if !*watchFlag {
		return
	}

	zap.L().Info("Watching sale snapshot", zap.Duration("interval", cfg.Snapshot.RefreshInterval))
	ticker := time.NewTicker(cfg.Snapshot.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := session.Snapshots.Refresh(ctx); err != nil {
				zap.L().Warn("Keeping previous sale snapshot", zap.Error(err))
			}
			show()
		}
	}
}
