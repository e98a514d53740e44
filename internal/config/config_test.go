package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tradesim/internal/apperr"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{
		"MARKET_OPEN", "MARKET_CLOSE", "TICK_INTERVAL", "PRICE_VOLATILITY",
		"STRATEGIES_FILE", "LOG_LEVEL", "HEALTH_INTERVAL",
		"SUBSCRIPTION_CAPACITY", "SHUTDOWN_GRACE",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "00:00", cfg.MarketOpen.Format("15:04"))
	assert.Equal(t, "23:59", cfg.MarketClose.Format("15:04"))
	assert.Equal(t, time.Second, cfg.TickInterval)
	assert.Equal(t, 0.002, cfg.PriceVolatility)
	assert.Equal(t, "strategies.json", cfg.StrategiesFile)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.HealthInterval)
	assert.Equal(t, 64, cfg.SubscriptionCapacity)
	assert.Equal(t, 5*time.Second, cfg.ShutdownGrace)
}

func TestLoadAppliesOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("MARKET_OPEN", "09:30")
	t.Setenv("MARKET_CLOSE", "16:00")
	t.Setenv("TICK_INTERVAL", "2.5")
	t.Setenv("PRICE_VOLATILITY", "0.01")
	t.Setenv("STRATEGIES_FILE", "custom.json")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("HEALTH_INTERVAL", "15")
	t.Setenv("SUBSCRIPTION_CAPACITY", "8")
	t.Setenv("SHUTDOWN_GRACE", "10")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "09:30", cfg.MarketOpen.Format("15:04"))
	assert.Equal(t, "16:00", cfg.MarketClose.Format("15:04"))
	assert.Equal(t, 2500*time.Millisecond, cfg.TickInterval)
	assert.Equal(t, 0.01, cfg.PriceVolatility)
	assert.Equal(t, "custom.json", cfg.StrategiesFile)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, 15*time.Second, cfg.HealthInterval)
	assert.Equal(t, 8, cfg.SubscriptionCapacity)
	assert.Equal(t, 10*time.Second, cfg.ShutdownGrace)
}

func TestLoadRejectsMalformedMarketOpen(t *testing.T) {
	clearEnv(t)
	t.Setenv("MARKET_OPEN", "9:30am")

	_, err := Load()
	require.Error(t, err)
	var cfgErr *apperr.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "MARKET_OPEN", cfgErr.Reason)
}

func TestLoadRejectsMalformedMarketClose(t *testing.T) {
	clearEnv(t)
	t.Setenv("MARKET_CLOSE", "not-a-time")

	_, err := Load()
	require.Error(t, err)
	var cfgErr *apperr.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "MARKET_CLOSE", cfgErr.Reason)
}

func TestLoadRejectsNonPositiveTickInterval(t *testing.T) {
	clearEnv(t)
	t.Setenv("TICK_INTERVAL", "0")

	_, err := Load()
	require.Error(t, err)
	var cfgErr *apperr.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "TICK_INTERVAL must be positive", cfgErr.Reason)
}

func TestLoadRejectsNonPositiveHealthInterval(t *testing.T) {
	clearEnv(t)
	t.Setenv("HEALTH_INTERVAL", "-1")

	_, err := Load()
	require.Error(t, err)
	var cfgErr *apperr.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "HEALTH_INTERVAL must be positive", cfgErr.Reason)
}

func TestLoadRejectsNonPositiveShutdownGrace(t *testing.T) {
	clearEnv(t)
	t.Setenv("SHUTDOWN_GRACE", "0")

	_, err := Load()
	require.Error(t, err)
	var cfgErr *apperr.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "SHUTDOWN_GRACE must be positive", cfgErr.Reason)
}

func TestLoadRejectsNonPositiveSubscriptionCapacity(t *testing.T) {
	clearEnv(t)
	t.Setenv("SUBSCRIPTION_CAPACITY", "0")

	_, err := Load()
	require.Error(t, err)
	var cfgErr *apperr.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "SUBSCRIPTION_CAPACITY must be positive", cfgErr.Reason)
}

func TestLoadRejectsNegativePriceVolatility(t *testing.T) {
	clearEnv(t)
	t.Setenv("PRICE_VOLATILITY", "-0.01")

	_, err := Load()
	require.Error(t, err)
	var cfgErr *apperr.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "PRICE_VOLATILITY must be non-negative", cfgErr.Reason)
}

func TestLoadRejectsUnrecognizedLogLevel(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOG_LEVEL", "TRACE")

	_, err := Load()
	require.Error(t, err)
	var cfgErr *apperr.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "LOG_LEVEL", cfgErr.Reason)
}
