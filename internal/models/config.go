package models

import "time"

// Config represents the application configuration
type Config struct {
	Purchase PurchaseConfig
	Chain    ChainConfig
	Snapshot SnapshotConfig
	Journal  JournalConfig
	Database DatabaseConfig
	Formance FormanceConfig
}

// PurchaseConfig holds purchase flow settings
type PurchaseConfig struct {
	MinInterval           time.Duration `validate:"gt=0"`
	ConfirmationTimeout   time.Duration `validate:"gt=0"`
	LateResolutionWindow  time.Duration `validate:"gte=0"`
	StatusPollInterval    time.Duration `validate:"gt=0"`
	StatusPollMaxInterval time.Duration `validate:"gtefield=StatusPollInterval"`
}

// ChainConfig holds the JSON-RPC endpoint and sale contract settings
type ChainConfig struct {
	RPCURL          string        `validate:"omitempty,url"`
	ChainId         int64         `validate:"gt=0"`
	SaleAddress     string        `validate:"required_with=RPCURL,omitempty,eth_addr"`
	BuyerPrivateKey string        `validate:"omitempty,hexadecimal"`
	RateLimit       float64       `validate:"gt=0"`
	Burst           int           `validate:"gt=0"`
	RetryMax        int           `validate:"gte=0"`
	Timeout         time.Duration `validate:"gt=0"`
}

// SnapshotConfig holds sale snapshot refresh settings
type SnapshotConfig struct {
	File            string
	RefreshInterval time.Duration `validate:"gt=0"`
}

// JournalConfig selects where purchase history is persisted
type JournalConfig struct {
	Backend string `validate:"oneof=sqlite formance none"`
	Limit   int    `validate:"gt=0"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

// FormanceConfig holds Formance Stack connection settings
type FormanceConfig struct {
	StackURL     string
	ClientID     string
	ClientSecret string
	LedgerName   string
	SaleId       string
}
