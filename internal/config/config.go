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

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"token-sale-go/internal/models"

	"github.com/go-playground/validator/v10"
)

var ErrInvalidConfig = errors.New("invalid configuration")

func Load() (*models.Config, error) {
	var errs []error
	duration := func(key string, defaultValue time.Duration) time.Duration {
		d, err := getEnvDuration(key, defaultValue)
		if err != nil {
			errs = append(errs, err)
		}
		return d
	}

	rateLimit, err := getEnvFloat("RPC_RATE_LIMIT", 5)
	if err != nil {
		errs = append(errs, err)
	}
	chainId, err := getEnvInt64("CHAIN_ID", 11155111)
	if err != nil {
		errs = append(errs, err)
	}

	cfg := &models.Config{
		Purchase: models.PurchaseConfig{
			MinInterval:           duration("PURCHASE_MIN_INTERVAL", 30*time.Second),
			ConfirmationTimeout:   duration("CONFIRMATION_TIMEOUT", 5*time.Minute),
			LateResolutionWindow:  duration("LATE_RESOLUTION_WINDOW", 30*time.Minute),
			StatusPollInterval:    duration("STATUS_POLL_INTERVAL", 2*time.Second),
			StatusPollMaxInterval: duration("STATUS_POLL_MAX_INTERVAL", 15*time.Second),
		},
		Chain: models.ChainConfig{
			RPCURL:          getEnvString("RPC_URL", ""),
			ChainId:         chainId,
			SaleAddress:     getEnvString("IDO_ADDRESS", ""),
			BuyerPrivateKey: getEnvString("BUYER_PRIVATE_KEY", ""),
			RateLimit:       rateLimit,
			Burst:           getEnvInt("RPC_BURST", 10),
			RetryMax:        getEnvInt("RPC_RETRY_MAX", 3),
			Timeout:         duration("RPC_TIMEOUT", 15*time.Second),
		},
		Snapshot: models.SnapshotConfig{
			File:            getEnvString("SALE_FILE", ""),
			RefreshInterval: duration("SNAPSHOT_REFRESH_INTERVAL", time.Minute),
		},
		Journal: models.JournalConfig{
			Backend: getEnvString("JOURNAL_BACKEND", "sqlite"),
			Limit:   getEnvInt("JOURNAL_LIMIT", 50),
		},
		Database: models.DatabaseConfig{
			Path:            getEnvString("DATABASE_PATH", "purchases.db"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: duration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: duration("DB_CONN_MAX_IDLE_TIME", 30*time.Second),
			PingTimeout:     duration("DB_PING_TIMEOUT", 5*time.Second),
		},
		Formance: models.FormanceConfig{
			StackURL:     getEnvString("FORMANCE_STACK_URL", ""),
			ClientID:     getEnvString("FORMANCE_CLIENT_ID", ""),
			ClientSecret: getEnvString("FORMANCE_CLIENT_SECRET", ""),
			LedgerName:   getEnvString("FORMANCE_LEDGER", "token-sale"),
			SaleId:       getEnvString("SALE_ID", "default"),
		},
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct tags and the rules that span sections.
func Validate(cfg *models.Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if cfg.Chain.RPCURL == "" && cfg.Snapshot.File == "" {
		return fmt.Errorf("%w: one of RPC_URL or SALE_FILE must be set", ErrInvalidConfig)
	}
	if cfg.Journal.Backend == "formance" && cfg.Formance.StackURL == "" {
		return fmt.Errorf("%w: FORMANCE_STACK_URL is required for the formance journal", ErrInvalidConfig)
	}
	return nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) (int64, error) {
	if value := os.Getenv(key); value != "" {
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid integer for %s: %q (%w)", key, value, err)
		}
		return intValue, nil
	}
	return defaultValue, nil
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	if value := os.Getenv(key); value != "" {
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number for %s: %q (%w)", key, value, err)
		}
		return f, nil
	}
	return defaultValue, nil
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// LogDevelopment reports whether LOG_DEVELOPMENT asks for the console logger.
func LogDevelopment() bool {
	return getEnvBool("LOG_DEVELOPMENT", false)
}
