// Package config loads the engine's environment-variable configuration
// per spec.md 6, adapted from referee's viper-based LoadConfig (YAML +
// mapstructure) to a flat AutomaticEnv table since spec.md's external
// interface is env-vars only, with no config file.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/viper"
	"tradesim/internal/apperr"
)

// Config holds every tunable named in spec.md 6.
type Config struct {
	MarketOpen           time.Time // time-of-day; only Hour and Minute are used
	MarketClose          time.Time
	TickInterval         time.Duration
	PriceVolatility      float64
	StrategiesFile       string
	LogLevel             slog.Level
	HealthInterval       time.Duration
	SubscriptionCapacity int
	ShutdownGrace        time.Duration
}

// Load reads and validates configuration from the environment,
// applying the defaults from spec.md 6, then logs a single
// config_loaded summary line, mirroring referee's LoadConfig +
// original_source/config.py's validate/display split.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("")
	v.AutomaticEnv()

	v.SetDefault("TICK_INTERVAL", "1")
	v.SetDefault("PRICE_VOLATILITY", "0.002")
	v.SetDefault("STRATEGIES_FILE", "strategies.json")
	v.SetDefault("LOG_LEVEL", "INFO")
	v.SetDefault("HEALTH_INTERVAL", "30")
	v.SetDefault("SUBSCRIPTION_CAPACITY", "64")
	v.SetDefault("SHUTDOWN_GRACE", "5")
	v.SetDefault("MARKET_OPEN", "00:00")
	v.SetDefault("MARKET_CLOSE", "23:59")

	cfg := &Config{
		StrategiesFile:       v.GetString("STRATEGIES_FILE"),
		PriceVolatility:      v.GetFloat64("PRICE_VOLATILITY"),
		SubscriptionCapacity: v.GetInt("SUBSCRIPTION_CAPACITY"),
	}

	var err error
	if cfg.MarketOpen, err = parseHHMM(v.GetString("MARKET_OPEN")); err != nil {
		return nil, &apperr.ConfigError{Reason: "MARKET_OPEN", Err: err}
	}
	if cfg.MarketClose, err = parseHHMM(v.GetString("MARKET_CLOSE")); err != nil {
		return nil, &apperr.ConfigError{Reason: "MARKET_CLOSE", Err: err}
	}

	tickSeconds := v.GetFloat64("TICK_INTERVAL")
	if tickSeconds <= 0 {
		return nil, &apperr.ConfigError{Reason: "TICK_INTERVAL must be positive"}
	}
	cfg.TickInterval = time.Duration(tickSeconds * float64(time.Second))

	healthSeconds := v.GetFloat64("HEALTH_INTERVAL")
	if healthSeconds <= 0 {
		return nil, &apperr.ConfigError{Reason: "HEALTH_INTERVAL must be positive"}
	}
	cfg.HealthInterval = time.Duration(healthSeconds * float64(time.Second))

	graceSeconds := v.GetFloat64("SHUTDOWN_GRACE")
	if graceSeconds <= 0 {
		return nil, &apperr.ConfigError{Reason: "SHUTDOWN_GRACE must be positive"}
	}
	cfg.ShutdownGrace = time.Duration(graceSeconds * float64(time.Second))

	if cfg.SubscriptionCapacity <= 0 {
		return nil, &apperr.ConfigError{Reason: "SUBSCRIPTION_CAPACITY must be positive"}
	}
	if cfg.PriceVolatility < 0 {
		return nil, &apperr.ConfigError{Reason: "PRICE_VOLATILITY must be non-negative"}
	}
	if cfg.StrategiesFile == "" {
		return nil, &apperr.ConfigError{Reason: "STRATEGIES_FILE must not be empty"}
	}

	level, err := parseLogLevel(v.GetString("LOG_LEVEL"))
	if err != nil {
		return nil, &apperr.ConfigError{Reason: "LOG_LEVEL", Err: err}
	}
	cfg.LogLevel = level

	slog.Info("config_loaded",
		"market_open", cfg.MarketOpen.Format("15:04"),
		"market_close", cfg.MarketClose.Format("15:04"),
		"tick_interval", cfg.TickInterval,
		"price_volatility", cfg.PriceVolatility,
		"strategies_file", cfg.StrategiesFile,
		"log_level", cfg.LogLevel,
		"health_interval", cfg.HealthInterval,
		"subscription_capacity", cfg.SubscriptionCapacity,
		"shutdown_grace", cfg.ShutdownGrace,
	)

	return cfg, nil
}

func parseHHMM(s string) (time.Time, error) {
	t, err := time.ParseInLocation("15:04", s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid HH:MM value %q: %w", s, err)
	}
	return t, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch s {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARN":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unrecognized log level %q", s)
	}
}
