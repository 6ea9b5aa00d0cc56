package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/coachpo/ledgersync/internal/ledger"
)

func TestDefaultProvidesEveryExchange(t *testing.T) {
	cfg := Default()
	require.Equal(t, EnvProd, cfg.Environment)
	require.Equal(t, 15*time.Minute, cfg.SyncInterval)
	require.Equal(t, 24*time.Hour, cfg.SyncWindow)

	for _, ex := range ledger.Exchanges() {
		settings := cfg.Exchange(ex)
		require.NotEmpty(t, settings.BaseURL, "exchange %s needs a base URL", ex)
		require.Equal(t, 50, settings.PageSize)
		require.Equal(t, 30*time.Second, settings.HTTPTimeout)
	}
	require.Equal(t, "https://testnet.binance.vision",
		cfg.Exchange(ledger.ExchangeBinance).TestnetBaseURL)
}

func TestExchangeFallsBackToNormalizedZero(t *testing.T) {
	cfg := Settings{}
	settings := cfg.Exchange(ledger.ExchangeOKX)
	require.Empty(t, settings.BaseURL)
	require.Equal(t, 50, settings.PageSize)
}

func TestFromEnvOverridesValues(t *testing.T) {
	t.Setenv("LEDGERSYNC_ENV", "STAGING")
	t.Setenv("LEDGERSYNC_DATABASE_URL", "postgres://ledger:secret@db:5432/ledger")
	t.Setenv("LEDGERSYNC_SYNC_INTERVAL", "5m")
	t.Setenv("LEDGERSYNC_WORKERS", "8")
	t.Setenv("LEDGERSYNC_ENRICH_MAX_ATTEMPTS", "5")
	t.Setenv("LEDGERSYNC_ENRICH_TIMEOUT", "45s")
	t.Setenv("BINANCE_BASE_URL", "https://binance.test")
	t.Setenv("BINANCE_HTTP_TIMEOUT", "15s")
	t.Setenv("BINANCE_SPOT_SYMBOLS", "BTCUSDT, ETHUSDT")
	t.Setenv("BYBIT_PAGE_INTERVAL", "200ms")
	t.Setenv("OKX_PAGE_SIZE", "25")

	cfg := FromEnv()

	require.Equal(t, EnvStaging, cfg.Environment)
	require.Equal(t, "postgres://ledger:secret@db:5432/ledger", cfg.DatabaseURL)
	require.Equal(t, 5*time.Minute, cfg.SyncInterval)
	require.Equal(t, 8, cfg.Workers)
	require.Equal(t, 5, cfg.EnrichMaxAttempts)
	require.Equal(t, 45*time.Second, cfg.EnrichTimeout)
	require.Equal(t, 200*time.Millisecond, cfg.Exchange(ledger.ExchangeBybit).PageInterval)

	binance := cfg.Exchange(ledger.ExchangeBinance)
	require.Equal(t, "https://binance.test", binance.BaseURL)
	require.Equal(t, 15*time.Second, binance.HTTPTimeout)
	require.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, binance.SpotSymbols)
	require.Equal(t, 25, cfg.Exchange(ledger.ExchangeOKX).PageSize)
}

func TestLoadOverlaysFileThenEnv(t *testing.T) {
	raw := `
environment: dev
databaseURL: postgres://file-host/ledger
syncInterval: 10m
syncWindow: 48h
workers: 2
enrichTimeout: 90s
exchanges:
  bybit:
    baseURL: https://bybit.file.test
    pageSize: 30
    pageInterval: 250ms
  binance:
    spotSymbols: [BTCUSDT]
`
	path := filepath.Join(t.TempDir(), "ledgersync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))
	t.Setenv("LEDGERSYNC_DATABASE_URL", "postgres://env-host/ledger")

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, EnvDev, cfg.Environment)
	// Environment variables win over the file.
	require.Equal(t, "postgres://env-host/ledger", cfg.DatabaseURL)
	require.Equal(t, 10*time.Minute, cfg.SyncInterval)
	require.Equal(t, 48*time.Hour, cfg.SyncWindow)
	require.Equal(t, 2, cfg.Workers)
	require.Equal(t, 90*time.Second, cfg.EnrichTimeout)

	bybit := cfg.Exchange(ledger.ExchangeBybit)
	require.Equal(t, "https://bybit.file.test", bybit.BaseURL)
	require.Equal(t, 30, bybit.PageSize)
	require.Equal(t, 250*time.Millisecond, bybit.PageInterval)
	require.Equal(t, []string{"BTCUSDT"}, cfg.Exchange(ledger.ExchangeBinance).SpotSymbols)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("exchanges: ["), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestDurationUnmarshalsStringsAndIntegers(t *testing.T) {
	var file fileSettings
	require.NoError(t, yaml.Unmarshal([]byte("syncInterval: 30s"), &file))
	require.Equal(t, 30*time.Second, time.Duration(file.SyncInterval))

	require.NoError(t, yaml.Unmarshal([]byte("syncInterval: 1000000000"), &file))
	require.Equal(t, time.Second, time.Duration(file.SyncInterval))

	require.Error(t, yaml.Unmarshal([]byte("syncInterval: soon"), &file))
}
