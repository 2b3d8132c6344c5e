package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade_engine/internal/models"
)

func write(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFileEnvAndSecrets(t *testing.T) {
	path := write(t, "values.yaml", `
logger:
  level: debug
broker:
  kind: okx
  okx:
    td_mode: isolated
    timeout: 3s
events:
  store: none
bots_file: configs/gold.yaml
`)
	t.Setenv("TRADE_SERVICE_ADMIN_PORT", "9090")
	t.Setenv("OKX_API_KEY", "key-from-env")
	t.Setenv("TELEGRAM_TOKEN", "tg-token")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, "okx", cfg.Broker.Kind)
	assert.Equal(t, "isolated", cfg.Broker.OKX.TdMode)
	assert.Equal(t, 3*time.Second, cfg.Broker.OKX.Timeout)
	assert.Equal(t, "key-from-env", cfg.Broker.OKX.APIKey)
	assert.Equal(t, "tg-token", cfg.Telegram.Token)
	assert.Equal(t, 9090, cfg.Service.AdminPort)
	assert.Equal(t, "configs/gold.yaml", cfg.BotsFile)
	// дефолты
	assert.Equal(t, 2*time.Second, cfg.Events.Flush)
	assert.Equal(t, 64, cfg.Events.BatchSize)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "paper", cfg.Broker.Kind)
	assert.Equal(t, "sqlite", cfg.Events.Store)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "unknown broker", body: "broker:\n  kind: mt5\n"},
		{name: "postgres without dsn", body: "events:\n  store: postgres\n"},
		{name: "classifier without model", body: "classifier:\n  enabled: true\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(write(t, "values.yaml", tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadBots(t *testing.T) {
	path := write(t, "bots.yaml", `
bots:
  - name: gold
    symbol: XAU-USDT-SWAP
    volume: 0.1
    min_confidence: 70
    interval: 30s
    auto_start: true
    stops:
      stop_loss_points: 500
      take_profit_points: 1000
  - symbol: BTC-USDT-SWAP
    volume: 0.01
    min_confidence: 0.6
`)
	bots, err := LoadBots(path)
	require.NoError(t, err)
	require.Len(t, bots, 2)

	gold := bots[0]
	assert.InDelta(t, 0.7, gold.MinConfidence, 1e-9)
	assert.Equal(t, 30*time.Second, gold.Interval)
	assert.Equal(t, models.StopModePoints, gold.Stops.Mode)
	assert.True(t, gold.AutoStart)

	btc := bots[1]
	assert.Equal(t, "BTC-USDT-SWAP", btc.Name)
	assert.Equal(t, 0.6, btc.MinConfidence)
	assert.Equal(t, models.StopModePercent, btc.Stops.Mode)
	assert.Equal(t, time.Minute, btc.Interval)
}

func TestLoadBotsErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "zero volume", body: "bots:\n  - symbol: A\n    volume: 0\n"},
		{name: "mixed stops", body: "bots:\n  - symbol: A\n    volume: 1\n    stops:\n      stop_loss_pct: 0.01\n      stop_loss_points: 100\n"},
		{name: "duplicate symbol", body: "bots:\n  - symbol: A\n    volume: 1\n  - symbol: A\n    volume: 2\n"},
		{name: "unknown field", body: "bots:\n  - symbol: A\n    volume: 1\n    lots: 3\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadBots(write(t, "bots.yaml", tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadBotsMissingFile(t *testing.T) {
	bots, err := LoadBots(filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)
	assert.Empty(t, bots)
}
