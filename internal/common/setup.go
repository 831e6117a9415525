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

package common

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"token-sale-go/internal/chain"
	"token-sale-go/internal/config"
	"token-sale-go/internal/database"
	"token-sale-go/internal/formance"
	"token-sale-go/internal/models"
	"token-sale-go/internal/purchase"
	"token-sale-go/internal/snapshot"
	"token-sale-go/internal/store"
	"token-sale-go/internal/tracker"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// init loads environment variables from .env file if it exists
func init() {
	// Environment variables can also be set via shell export, docker, etc.
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
		log.Println("Make sure to set environment variables via export or other means")
	} else {
		log.Println("✓ Loaded environment variables from .env file")
	}
}

// Session holds everything one buyer session needs. Chain and Orchestrator are
// nil when no RPC endpoint is configured; the snapshot then comes from SALE_FILE.
type Session struct {
	Config       *models.Config
	Chain        *chain.Client
	Snapshots    *snapshot.Refresher
	Journal      store.PurchaseJournal
	Tracker      *tracker.Tracker
	Orchestrator *purchase.Orchestrator
	Purchase     *models.PurchaseContext
}

func InitializeLogger() (*zap.Logger, func()) {
	var (
		logger *zap.Logger
		err    error
	)
	if config.LogDevelopment() {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

// InitializeSession connects the snapshot source, journal and chain client,
// restores the purchase history and fetches the first snapshot.
func InitializeSession(ctx context.Context, cfg *models.Config) (*Session, error) {
	s := &Session{Config: cfg}

	if cfg.Chain.RPCURL != "" {
		zap.L().Info("Connecting to sale contract",
			zap.String("address", cfg.Chain.SaleAddress),
			zap.Int64("chain_id", cfg.Chain.ChainId))
		client, err := chain.NewClient(ctx, cfg.Chain)
		if err != nil {
			return nil, err
		}
		s.Chain = client
	}

	source, err := snapshotSource(cfg, s.Chain)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Snapshots = snapshot.NewRefresher(source)

	journal, err := InitializeJournal(ctx, cfg)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Journal = journal

	s.Tracker = tracker.New(journal)
	if journal != nil {
		n, err := s.Tracker.Restore(ctx, cfg.Journal.Limit)
		if err != nil {
			zap.L().Warn("Unable to restore purchase history", zap.Error(err))
		} else {
			zap.L().Info("Restored purchase history", zap.Int("records", n))
		}
	}

	s.Purchase = &models.PurchaseContext{
		SessionId: uuid.New().String(),
		ChainId:   cfg.Chain.ChainId,
	}
	if s.Chain != nil {
		s.Purchase.SaleAddress = s.Chain.SaleAddress().Hex()
		if buyer, ok := s.Chain.BuyerAddress(); ok {
			s.Purchase.BuyerAddress = buyer.Hex()
		}
		s.Orchestrator = purchase.New(cfg.Purchase, s.Chain, s.Chain, s.Tracker)
	}

	if _, err := s.Snapshots.Refresh(ctx); err != nil {
		s.Close()
		return nil, err
	}

	return s, nil
}

// InitializeJournal opens the configured journal backend. It returns nil for "none".
func InitializeJournal(ctx context.Context, cfg *models.Config) (store.PurchaseJournal, error) {
	switch cfg.Journal.Backend {
	case "sqlite":
		zap.L().Info("Opening purchase journal", zap.String("path", cfg.Database.Path))
		db, err := database.NewService(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		return db, nil
	case "formance":
		zap.L().Info("Connecting to Formance ledger",
			zap.String("url", cfg.Formance.StackURL),
			zap.String("ledger", cfg.Formance.LedgerName))
		ledger, err := formance.NewService(ctx, cfg.Formance)
		if err != nil {
			return nil, err
		}
		return ledger, nil
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown journal backend %q", cfg.Journal.Backend)
	}
}

// WithPurchaseContext tags ctx with the session so journals can store it.
func (s *Session) WithPurchaseContext(ctx context.Context) context.Context {
	return models.WithPurchaseContext(ctx, s.Purchase)
}

func (s *Session) Close() {
	if s.Orchestrator != nil {
		s.Orchestrator.Close()
	}
	if s.Journal != nil {
		s.Journal.Close()
	}
	if s.Chain != nil {
		s.Chain.Close()
	}
}

func snapshotSource(cfg *models.Config, client *chain.Client) (snapshot.Source, error) {
	if cfg.Snapshot.File != "" {
		zap.L().Info("Using static sale file", zap.String("file", cfg.Snapshot.File))
		return snapshot.LoadStaticSource(cfg.Snapshot.File, time.Now())
	}
	if client == nil {
		return nil, fmt.Errorf("no sale snapshot source: set RPC_URL or SALE_FILE")
	}
	return client, nil
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
