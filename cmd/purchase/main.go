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
	"token-sale-go/internal/purchase"
	"token-sale-go/internal/sale"
	"token-sale-go/internal/tracker"

	"go.uber.org/zap"
)

func printOutcome(out purchase.Outcome, snap models.SaleSnapshot) {
	common.PrintSeparatorNewline("=", common.DefaultWidth)
	switch out.Kind {
	case purchase.OutcomeConfirmed:
		fmt.Printf("✓ %s\n", out.Message(snap))
	case purchase.OutcomeTimedOut:
		fmt.Printf("… %s\n", out.Message(snap))
	default:
		fmt.Printf("✗ %s\n", out.Message(snap))
	}
	if out.Submitted() {
		fmt.Printf("  Transaction: %s\n", out.TransactionId)
	}
	if !out.Attempt.BaseAmount.IsZero() {
		fmt.Printf("  Amount:      %s for %s %s\n",
			sale.FormatBase(out.Attempt.BaseAmount),
			sale.FormatTokens(out.Attempt.TokenAmount),
			snap.TokenSymbol)
	}
	common.PrintSeparator("=", common.DefaultWidth)
}

// waitForLateResult blocks until the tracker resolves id or ctx ends.
func waitForLateResult(ctx context.Context, t *tracker.Tracker, id string) (models.TransactionRecord, bool) {
	updates, unsubscribe := t.Subscribe(4)
	defer unsubscribe()

	if rec, ok := t.Get(id); ok && rec.Status.Terminal() {
		return rec, true
	}
	for {
		select {
		case <-ctx.Done():
			return models.TransactionRecord{}, false
		case rec, ok := <-updates:
			if !ok {
				return models.TransactionRecord{}, false
			}
			if rec.Id == id && rec.Status.Terminal() {
				return rec, true
			}
		}
	}
}

func run() int {
	amountFlag := flag.String("amount", "", "Contribution in ETH (required)")
	timeoutFlag := flag.Duration("timeout", 0, "Confirmation timeout (default: CONFIRMATION_TIMEOUT)")
	flag.Parse()

	if *amountFlag == "" {
		fmt.Fprintln(os.Stderr, "--amount is required")
		flag.Usage()
		return 2
	}

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	cfg, err := config.Load()
	if err != nil {
		zap.L().Error("Failed to load configuration", zap.Error(err))
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	session, err := common.InitializeSession(ctx, cfg)
	if err != nil {
		zap.L().Error("Failed to initialize session", zap.Error(err))
		return 1
	}
	defer session.Close()

	if session.Orchestrator == nil {
		zap.L().Error("Purchases need a chain connection: set RPC_URL and IDO_ADDRESS")
		return 1
	}
	if pending := session.Tracker.Pending(); len(pending) > 0 {
		session.Orchestrator.Resume(pending, cfg.Purchase.LateResolutionWindow)
	}
	go session.Snapshots.Run(ctx, cfg.Snapshot.RefreshInterval)

	snap, err := session.Snapshots.Current()
	if err != nil {
		zap.L().Error("No sale snapshot available", zap.Error(err))
		return 1
	}

	zap.L().Info("Submitting purchase",
		zap.String("amount", *amountFlag),
		zap.String("session_id", session.Purchase.SessionId))

	out, err := session.Orchestrator.Execute(session.WithPurchaseContext(ctx), snap, *amountFlag, time.Now(), *timeoutFlag)
	if err != nil {
		zap.L().Error("Purchase flow failed", zap.Error(err))
		return 1
	}
	printOutcome(out, snap)

	switch out.Kind {
	case purchase.OutcomeConfirmed:
		return 0
	case purchase.OutcomeTimedOut:
		if cfg.Purchase.LateResolutionWindow <= 0 || ctx.Err() != nil {
			return 1
		}
		fmt.Printf("\nStill watching %s for up to %s, press Ctrl+C to stop\n", out.TransactionId, cfg.Purchase.LateResolutionWindow)
		waitCtx, waitCancel := context.WithTimeout(ctx, cfg.Purchase.LateResolutionWindow)
		defer waitCancel()
		rec, ok := waitForLateResult(waitCtx, session.Tracker, out.TransactionId)
		if !ok {
			fmt.Println("Transaction is still pending; run history --watch to keep tracking it")
			return 1
		}
		fmt.Printf("Transaction %s resolved: %s\n", rec.Id, rec.Status)
		if rec.Status == models.StatusConfirmed {
			return 0
		}
		return 1
	default:
		return 1
	}
}

func main() {
	os.Exit(run())
}
