package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("ETL_INTERVAL", "")

	cfg := Load()
	assert.Equal(t, 6*time.Hour, cfg.ETLInterval)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 10, cfg.BatchSize)
	assert.Equal(t, 100*time.Millisecond, cfg.Sources.CoinPaprika.RateLimit)
	assert.Equal(t, 1500*time.Millisecond, cfg.Sources.CoinGecko.RateLimit)
	assert.False(t, cfg.Sources.XLSX.Enabled)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("ETL_INTERVAL", "30m")
	t.Setenv("ETL_RETRY_MIN", "1")
	t.Setenv("COINGECKO_RATE_LIMIT", "2.5s")
	t.Setenv("XLSX_PATH", "/tmp/coins.xlsx")

	cfg := Load()
	assert.Equal(t, 30*time.Minute, cfg.ETLInterval)
	assert.Equal(t, time.Second, cfg.RetryMin)
	assert.Equal(t, 2500*time.Millisecond, cfg.Sources.CoinGecko.RateLimit)
	assert.True(t, cfg.Sources.XLSX.Enabled)
}

func TestValidate(t *testing.T) {
	cfg := Load()
	cfg.RetryMax = cfg.RetryMin - time.Millisecond
	assert.Error(t, cfg.Validate())

	cfg = Load()
	cfg.BatchSize = 0
	assert.Error(t, cfg.Validate())
}

func TestApplyYAML(t *testing.T) {
	cfg := Load()
	doc := []byte(`
sources:
  coingecko:
    rate_limit: 3s
    coin_limit: 10
  coinpaprika:
    enabled: false
  xlsx:
    path: data/coins.xlsx
`)
	require.NoError(t, cfg.Sources.applyYAML(doc))
	assert.Equal(t, 3*time.Second, cfg.Sources.CoinGecko.RateLimit)
	assert.Equal(t, 10, cfg.Sources.CoinGecko.CoinLimit)
	assert.False(t, cfg.Sources.CoinPaprika.Enabled)
	assert.True(t, cfg.Sources.XLSX.Enabled)
	assert.Equal(t, "data/coins.xlsx", cfg.Sources.XLSX.Path)

	assert.Error(t, cfg.Sources.applyYAML([]byte("sources:\n  binance: {}\n")))
	assert.Error(t, cfg.Sources.applyYAML([]byte("sources:\n  coingecko:\n    rate_limit: soon\n")))
}
