package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
)

// Environment represents different deployment environments
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvProduction  Environment = "production"
)

// Store drivers accepted by STORE_DRIVER.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

const defaultDataDir = ".contactsync"

// Config holds the configuration for the contact sync engine.
// Environment variables are parsed with the CONTACTSYNC_ prefix.
type Config struct {
	Environment Environment `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string      `envconfig:"LOG_LEVEL" default:"info"`

	// Remote contact collection
	APIBaseURL     string        `envconfig:"API_BASE_URL" default:"http://localhost:8088"`
	APIToken       string        `envconfig:"API_TOKEN" default:""`
	DevMode        bool          `envconfig:"DEV_MODE" default:"false"`
	HTTPTimeout    time.Duration `envconfig:"HTTP_TIMEOUT" default:"15s"`
	RateLimitRPS   float64       `envconfig:"RATE_LIMIT_RPS" default:"20"`
	RateLimitBurst int           `envconfig:"RATE_LIMIT_BURST" default:"10"`

	// Local persistent store
	StoreDriver string `envconfig:"STORE_DRIVER" default:"sqlite"`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:""`
	PostgresDSN string `envconfig:"POSTGRES_DSN" default:""`

	// Device contacts export consumed by scans
	DeviceExportPath string `envconfig:"DEVICE_EXPORT_PATH" default:""`

	// Phone normalization
	DefaultCountryCode string `envconfig:"DEFAULT_COUNTRY_CODE" default:"+33"`
	MinPhoneDigits     int    `envconfig:"MIN_PHONE_DIGITS" default:"8"`

	// Sync queue retry policy
	RetryBaseDelay   time.Duration `envconfig:"RETRY_BASE_DELAY" default:"5s"`
	RetryMaxDelay    time.Duration `envconfig:"RETRY_MAX_DELAY" default:"5m"`
	RetryMaxAttempts int           `envconfig:"RETRY_MAX_ATTEMPTS" default:"0"`
	RateLimitDelay   time.Duration `envconfig:"RATE_LIMIT_DELAY" default:"30s"`

	// Bulk import
	LocalBatchSize  int           `envconfig:"LOCAL_BATCH_SIZE" default:"500"`
	RemoteBatchSize int           `envconfig:"REMOTE_BATCH_SIZE" default:"100"`
	FallbackFanout  int           `envconfig:"FALLBACK_FANOUT" default:"8"`
	VerifyBatchSize int           `envconfig:"VERIFY_BATCH_SIZE" default:"200"`
	BatchPause      time.Duration `envconfig:"BATCH_PAUSE" default:"0s"`

	StatsTTL time.Duration `envconfig:"STATS_TTL" default:"3s"`

	// Development remote collection
	DevRemotePort int `envconfig:"DEVREMOTE_PORT" default:"8088"`
}

// ResolveDefaults validates StoreDriver and derives the SQLite path when unset.
func (c *Config) ResolveDefaults() error {
	switch c.StoreDriver {
	case "", DriverSQLite:
		c.StoreDriver = DriverSQLite
		if c.SQLitePath == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return fmt.Errorf("cannot determine user home: %w", err)
			}
			c.SQLitePath = filepath.Join(home, defaultDataDir, "state.db")
		}
	case DriverPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("STORE_DRIVER=postgres requires POSTGRES_DSN")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unsupported STORE_DRIVER: %s", c.StoreDriver)
	}

	if c.MinPhoneDigits <= 0 {
		c.MinPhoneDigits = 8
	}
	if c.DefaultCountryCode == "" {
		c.DefaultCountryCode = "+33"
	}
	if c.LocalBatchSize <= 0 {
		c.LocalBatchSize = 500
	}
	if c.RemoteBatchSize <= 0 {
		c.RemoteBatchSize = 100
	}
	if c.RemoteBatchSize > c.LocalBatchSize {
		c.RemoteBatchSize = c.LocalBatchSize
	}
	return nil
}

// New creates a new Config by parsing environment variables
// prefixed with CONTACTSYNC_, e.g. CONTACTSYNC_API_BASE_URL.
func New(log zerolog.Logger) (*Config, error) {
	var cfg Config

	if err := envconfig.Process("CONTACTSYNC", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.ResolveDefaults(); err != nil {
		return nil, err
	}

	log.Info().
		Str("environment", string(cfg.Environment)).
		Str("api_base_url", cfg.APIBaseURL).
		Bool("api_token_present", cfg.APIToken != "").
		Bool("dev_mode", cfg.DevMode).
		Str("store_driver", cfg.StoreDriver).
		Bool("postgres_dsn_present", cfg.PostgresDSN != "").
		Str("device_export_path", cfg.DeviceExportPath).
		Str("country_code", cfg.DefaultCountryCode).
		Dur("retry_base_delay", cfg.RetryBaseDelay).
		Int("retry_max_attempts", cfg.RetryMaxAttempts).
		Int("local_batch", cfg.LocalBatchSize).
		Int("remote_batch", cfg.RemoteBatchSize).
		Msg("Configuration loaded")

	return &cfg, nil
}

// NewForTesting creates a config specifically for testing
func NewForTesting() *Config {
	return &Config{
		Environment:        EnvTesting,
		LogLevel:           "debug",
		APIBaseURL:         "http://localhost:8088",
		DevMode:            true,
		HTTPTimeout:        2 * time.Second,
		RateLimitRPS:       1000,
		RateLimitBurst:     1000,
		StoreDriver:        DriverMemory,
		DefaultCountryCode: "+33",
		MinPhoneDigits:     8,
		RetryBaseDelay:     10 * time.Millisecond,
		RetryMaxDelay:      100 * time.Millisecond,
		RateLimitDelay:     50 * time.Millisecond,
		LocalBatchSize:     500,
		RemoteBatchSize:    100,
		FallbackFanout:     4,
		VerifyBatchSize:    200,
		StatsTTL:           time.Second,
		DevRemotePort:      8088,
	}
}

// IsTesting returns true if the environment is set to testing
func (c *Config) IsTesting() bool {
	return c.Environment == EnvTesting
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// GetDevRemoteAddr returns the dev remote listen address
func (c *Config) GetDevRemoteAddr() string {
	return fmt.Sprintf(":%d", c.DevRemotePort)
}
