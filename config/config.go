// Package config loads service settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/qrbooks/commission-engine/commission"
	"github.com/qrbooks/commission-engine/logger"
	"github.com/shopspring/decimal"
)

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Port int

	// Storage
	DBDriver    string
	DBPath      string
	DatabaseURL string

	// Auth
	JWTSecret string

	// Engine
	TaxRatePercent           decimal.Decimal
	DefaultCommissionPercent decimal.Decimal
	InvoicePrefix            string

	AllowedOrigins []string

	// Background jobs and demo data
	ComplianceSweepInterval time.Duration
	EnableScenarios         bool

	// Logging
	LogLevel      string
	LogFormat     string
	LogTimeFormat string
	LogOutput     string
}

// Load reads the environment. Call godotenv.Load first to pick up a .env file.
func Load() (*Config, error) {
	port, err := strconv.Atoi(getEnv("PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("PORT must be an integer: %w", err)
	}
	taxRate, err := decimal.NewFromString(getEnv("TAX_RATE_PERCENT", "18"))
	if err != nil {
		return nil, fmt.Errorf("TAX_RATE_PERCENT must be a decimal: %w", err)
	}
	commissionPct, err := decimal.NewFromString(getEnv("DEFAULT_COMMISSION_PERCENT", "1"))
	if err != nil {
		return nil, fmt.Errorf("DEFAULT_COMMISSION_PERCENT must be a decimal: %w", err)
	}
	sweep, err := time.ParseDuration(getEnv("COMPLIANCE_SWEEP_INTERVAL", "1h"))
	if err != nil {
		return nil, fmt.Errorf("COMPLIANCE_SWEEP_INTERVAL must be a duration: %w", err)
	}
	scenarios, err := strconv.ParseBool(getEnv("ENABLE_SCENARIOS", "false"))
	if err != nil {
		return nil, fmt.Errorf("ENABLE_SCENARIOS must be a boolean: %w", err)
	}

	config := &Config{
		Port:                     port,
		DBDriver:                 strings.ToLower(getEnv("DB_DRIVER", DriverSQLite)),
		DBPath:                   getEnv("DB_PATH", "commission.db"),
		DatabaseURL:              getEnv("DATABASE_URL", ""),
		JWTSecret:                getEnv("JWT_SECRET", ""),
		TaxRatePercent:           taxRate,
		DefaultCommissionPercent: commissionPct,
		InvoicePrefix:            strings.ToUpper(getEnv("INVOICE_PREFIX", commission.DefaultInvoicePrefix)),
		AllowedOrigins:           splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),
		ComplianceSweepInterval:  sweep,
		EnableScenarios:          scenarios,
		LogLevel:                 getEnv("LOG_LEVEL", "info"),
		LogFormat:                getEnv("LOG_FORMAT", "console"),
		LogTimeFormat:            getEnv("LOG_TIME_FORMAT", "2006-01-02T15:04:05Z07:00"),
		LogOutput:                getEnv("LOG_OUTPUT", "stdout"),
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return config, nil
}

func (c *Config) validate() error {
	switch c.DBDriver {
	case DriverSQLite, DriverMemory:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("DB_DRIVER must be one of sqlite, postgres, memory, got %q", c.DBDriver)
	}
	if c.ComplianceSweepInterval < 0 {
		return fmt.Errorf("COMPLIANCE_SWEEP_INTERVAL must not be negative")
	}
	if err := c.Rates().Validate(); err != nil {
		return err
	}
	return commission.ValidatePrefix(c.InvoicePrefix)
}

// Rates returns the engine rates.
func (c *Config) Rates() commission.Rates {
	return commission.Rates{
		DefaultCommissionPercent: c.DefaultCommissionPercent,
		TaxRatePercent:           c.TaxRatePercent,
	}
}

// Engine returns the commission.Config derived from the environment.
func (c *Config) Engine() commission.Config {
	return commission.Config{Rates: c.Rates(), InvoicePrefix: c.InvoicePrefix}
}

// GetLoggerConfig returns a logger configuration from the main config
func (c *Config) GetLoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		TimeFormat: c.LogTimeFormat,
		Output:     c.LogOutput,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
