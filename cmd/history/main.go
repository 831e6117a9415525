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

	"token-sale-go/internal/common"
	"token-sale-go/internal/config"
	"token-sale-go/internal/models"
	"token-sale-go/internal/sale"

	"go.uber.org/zap"
)

func printRecord(rec models.TransactionRecord, isLast bool) {
	resolved := "-"
	if !rec.ResolvedAt.IsZero() {
		resolved = rec.ResolvedAt.Format("2006-01-02 15:04:05")
	}
	block := ""
	if rec.ConfirmationBlock != nil {
		block = fmt.Sprintf(" block %d", *rec.ConfirmationBlock)
	}
	fmt.Printf("%s %-17s %-9s %16s %14s tokens  submitted %s  resolved %s%s\n",
		common.BoxPrefix(isLast),
		common.ShortHash(rec.Id),
		rec.Status,
		sale.FormatBase(rec.BaseAmount),
		sale.FormatTokens(rec.TokenAmount),
		rec.SubmittedAt.Format("2006-01-02 15:04:05"),
		resolved,
		block)
}

func printHistory(records []models.TransactionRecord) {
	common.PrintHeader("PURCHASE HISTORY", common.WideWidth)
	for i, rec := range records {
		printRecord(rec, i == len(records)-1)
	}
	common.PrintFooter(fmt.Sprintf("%d purchases", len(records)), common.WideWidth)
}

func run(args []string) int {
	flags := flag.NewFlagSet("history", flag.ContinueOnError)
	limitFlag := flags.Int("limit", 0, "Number of purchases to show (default: JOURNAL_LIMIT)")
	clearFlag := flags.Bool("clear", false, "Delete the purchase history")
	watchFlag := flags.Bool("watch", false, "Watch pending purchases until they resolve")
	if err := flags.Parse(args); err != nil {
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

	if *limitFlag > 0 {
		cfg.Journal.Limit = *limitFlag
	}

	if *watchFlag {
		return watch(ctx, cfg)
	}

	journal, err := common.InitializeJournal(ctx, cfg)
	if err != nil {
		zap.L().Error("Failed to open purchase journal", zap.Error(err))
		return 1
	}
	if journal == nil {
		zap.L().Error("No purchase journal configured", zap.String("backend", cfg.Journal.Backend))
		return 1
	}
	defer journal.Close()

	if *clearFlag {
		if err := journal.ClearPurchases(ctx); err != nil {
			zap.L().Error("Failed to clear purchase history", zap.Error(err))
			return 1
		}
		fmt.Println("✓ Purchase history cleared")
		return 0
	}

	records, err := journal.ListPurchases(ctx, cfg.Journal.Limit, 0)
	if err != nil {
		zap.L().Error("Failed to list purchases", zap.Error(err))
		return 1
	}
	printHistory(records)
	return 0
}

// watch resumes watchers for pending purchases and waits for them or ctx.
func watch(ctx context.Context, cfg *models.Config) int {
	session, err := common.InitializeSession(ctx, cfg)
	if err != nil {
		zap.L().Error("Failed to initialize session", zap.Error(err))
		return 1
	}
	defer session.Close()
	if session.Orchestrator == nil {
		zap.L().Error("Watching needs a chain connection: set RPC_URL and IDO_ADDRESS")
		return 1
	}

	updates, unsubscribe := session.Tracker.Subscribe(16)
	defer unsubscribe()
	go func() {
		for rec := range updates {
			fmt.Printf("→ %s is now %s\n", rec.Id, rec.Status)
		}
	}()

	n := session.Orchestrator.Resume(session.Tracker.Pending(), cfg.Purchase.LateResolutionWindow)
	if n == 0 {
		fmt.Println("No pending purchases")
		printHistory(session.Tracker.History())
		return 0
	}
	fmt.Printf("Watching %d pending purchases, press Ctrl+C to stop\n", n)

	done := make(chan struct{})
	go func() {
		session.Orchestrator.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		zap.L().Info("Shutdown signal received, leaving remaining purchases pending")
	}

	printHistory(session.Tracker.History())
	if len(session.Tracker.Pending()) > 0 {
		return 1
	}
	return 0
}

func main() {
	os.Exit(run(os.Args[1:]))
}
