// Package config loads server settings from flags, with environment
// variables (optionally from a .env file) as defaults.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Environment variable names.
const (
	EnvHTTPAddr      = "LEDGER_HTTP_ADDR"
	EnvPostgresDSN   = "LEDGER_POSTGRES_DSN"
	EnvClickhouseDSN = "LEDGER_CLICKHOUSE_DSN"
	EnvUseMemory     = "LEDGER_USE_MEMORY"
	EnvDataAccount   = "LEDGER_DATA_ACCOUNT"
	EnvLockTimeout   = "LEDGER_LOCK_TIMEOUT"
	EnvLogLevel      = "LEDGER_LOG_LEVEL"
)

// Config holds server settings.
type Config struct {
	HTTPAddr      string
	PostgresDSN   string
	ClickhouseDSN string
	UseMemory     bool
	DataAccount   string
	LockTimeout   time.Duration
	LogLevel      zapcore.Level
}

// Load reads the .env file at envFile if it exists, then parses args with
// environment values as flag defaults. Variables already set in the
// environment win over the file.
func Load(args []string, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	useMemoryDefault, err := envBool(EnvUseMemory, false)
	if err != nil {
		return nil, err
	}
	lockTimeoutDefault, err := envDuration(EnvLockTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	fs := flag.NewFlagSet("ledger-server", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.HTTPAddr, "http-addr", envString(EnvHTTPAddr, ":8080"), "HTTP API listen address")
	fs.StringVar(&cfg.PostgresDSN, "postgres-dsn", os.Getenv(EnvPostgresDSN), "PostgreSQL connection string")
	fs.StringVar(&cfg.ClickhouseDSN, "clickhouse-dsn", os.Getenv(EnvClickhouseDSN), "ClickHouse connection string")
	fs.BoolVar(&cfg.UseMemory, "use-memory", useMemoryDefault, "Use in-memory storage instead of PostgreSQL and ClickHouse")
	fs.StringVar(&cfg.DataAccount, "data-account", os.Getenv(EnvDataAccount), "Data account of an already initialized ledger")
	fs.DurationVar(&cfg.LockTimeout, "lock-timeout", lockTimeoutDefault, "How long a transaction waits for a record lock")
	logLevel := fs.String("log-level", envString(EnvLogLevel, "info"), "Log level (debug, info, warn, error)")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	if cfg.LogLevel, err = zapcore.ParseLevel(*logLevel); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the settings are usable together.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return errors.New("--http-addr is required")
	}
	if !c.UseMemory && (c.PostgresDSN == "" || c.ClickhouseDSN == "") {
		return errors.New("--postgres-dsn and --clickhouse-dsn are required (use --use-memory for in-memory storage)")
	}
	if c.LockTimeout <= 0 {
		return errors.New("--lock-timeout must be positive")
	}
	return nil
}

// NewLogger builds a production JSON logger at the configured level.
func (c *Config) NewLogger() (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(c.LogLevel)
	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zcfg.Build()
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
