// Package config содержит логику чтения конфигурации магазина.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/iwrumi/corebotstore/internal/money"
	"github.com/iwrumi/corebotstore/internal/service"
)

// Драйверы хранилища.
const (
	DriverPgx  = "pgx"
	DriverGorm = "gorm"
)

// DefaultDatabaseURI: файл SQLite, используемый без явного DATABASE_URI.
const DefaultDatabaseURI = "storebot.db"

// Config содержит параметры конфигурации магазина.
type Config struct {
	RunAddress       string `env:"RUN_ADDRESS"`
	DatabaseURI      string `env:"DATABASE_URI"`
	StorageDriver    string `env:"STORAGE_DRIVER"`
	BotToken         string `env:"BOT_TOKEN"`
	WebhookURL       string `env:"WEBHOOK_URL"`
	AdminTokenSecret string `env:"ADMIN_TOKEN_SECRET"`

	WebhookSecret string        `env:"WEBHOOK_SECRET"`
	AdminIDs      []int64       `env:"ADMIN_IDS" envSeparator:","`
	AdminTokenTTL time.Duration `env:"ADMIN_TOKEN_TTL" envDefault:"24h"`

	MinDeposit            money.Money   `env:"MIN_DEPOSIT" envDefault:"20"`
	MaxDeposit            money.Money   `env:"MAX_DEPOSIT" envDefault:"10000"`
	DepositProofTTL       time.Duration `env:"DEPOSIT_PROOF_TTL" envDefault:"30m"`
	DepositExpiryInterval time.Duration `env:"DEPOSIT_EXPIRY_INTERVAL" envDefault:"1m"`
	LowStockThreshold     int           `env:"LOW_STOCK_THRESHOLD" envDefault:"5"`
	VIPThreshold          money.Money   `env:"VIP_THRESHOLD" envDefault:"1000"`

	BroadcastConcurrency int           `env:"BROADCAST_CONCURRENCY" envDefault:"10"`
	BroadcastDelay       time.Duration `env:"BROADCAST_DELAY" envDefault:"100ms"`

	SeedFile       string `env:"SEED_FILE"`
	LogFile        string `env:"LOG_FILE"`
	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	CurrencySymbol string `env:"CURRENCY_SYMBOL" envDefault:"₱"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envCfg := *cfg

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI (postgres DSN or sqlite file)")
	flag.StringVar(&cfg.StorageDriver, "s", "", "storage driver: pgx or gorm (default: inferred from database URI)")
	flag.StringVar(&cfg.BotToken, "t", "", "Telegram bot token")
	flag.StringVar(&cfg.WebhookURL, "w", "", "public webhook URL (empty: long polling)")
	flag.StringVar(&cfg.AdminTokenSecret, "k", "", "admin API token signing secret")

	flag.Parse()

	override(&cfg.RunAddress, envCfg.RunAddress)
	override(&cfg.DatabaseURI, envCfg.DatabaseURI)
	override(&cfg.StorageDriver, envCfg.StorageDriver)
	override(&cfg.BotToken, envCfg.BotToken)
	override(&cfg.WebhookURL, envCfg.WebhookURL)
	override(&cfg.AdminTokenSecret, envCfg.AdminTokenSecret)

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.DatabaseURI == "" {
		cfg.DatabaseURI = DefaultDatabaseURI
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func override(dst *string, envValue string) {
	if envValue != "" {
		*dst = envValue
	}
}

func (c *Config) validate() error {
	switch c.StorageDriver {
	case "", DriverPgx, DriverGorm:
	default:
		return fmt.Errorf("unknown storage driver %q", c.StorageDriver)
	}
	if c.MinDeposit <= 0 || c.MaxDeposit < c.MinDeposit {
		return fmt.Errorf("invalid deposit limits %s..%s", c.MinDeposit, c.MaxDeposit)
	}
	if c.BroadcastConcurrency <= 0 {
		return fmt.Errorf("broadcast concurrency must be positive, got %d", c.BroadcastConcurrency)
	}
	return nil
}

// ServiceOptions возвращает параметры бизнес-правил сервиса.
func (c *Config) ServiceOptions() service.Options {
	opts := service.DefaultOptions()
	opts.MinDeposit = c.MinDeposit
	opts.MaxDeposit = c.MaxDeposit
	opts.DepositProofTTL = c.DepositProofTTL
	if c.DepositExpiryInterval > 0 {
		opts.ExpiryInterval = c.DepositExpiryInterval
	}
	opts.LowStockThreshold = c.LowStockThreshold
	opts.VIPThreshold = c.VIPThreshold
	return opts
}
