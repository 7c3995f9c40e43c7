package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketflow/marketflow/internal/domain"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("candles", "")
	require.NoError(t, err)

	assert.Equal(t, "localhost:6379", cfg.Broker.Addr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "trades", cfg.Candles.InputTopic)
	assert.Equal(t, "candles", cfg.Candles.OutputTopic)
	assert.Equal(t, "1m", cfg.Candles.Timeframe)
	assert.Equal(t, "FULL", cfg.Candles.Emission)
	assert.Equal(t, 60, cfg.TA.MaxCandles)
	assert.Equal(t, 10*time.Second, cfg.News.PollInterval)
	assert.Empty(t, cfg.News.HistoricalCSV, "csv replay is off unless a path is configured")
}

func TestFileThenEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := `
log_level: debug
broker:
  addr: redis:6379
candles:
  timeframe: 5m
  emission: LIVE
ta:
  max_candles: 30
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	t.Setenv("CANDLES_TIMEFRAME", "15m")
	t.Setenv("TA_MAX_CANDLES", "90")

	cfg, err := Load("candles", path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel, "file overrides defaults")
	assert.Equal(t, "redis:6379", cfg.Broker.Addr)
	assert.Equal(t, "15m", cfg.Candles.Timeframe, "env overrides the file")
	assert.Equal(t, "LIVE", cfg.Candles.Emission)
	assert.Equal(t, 90, cfg.TA.MaxCandles)
}

func TestServicePrefixBeatsSharedKey(t *testing.T) {
	t.Setenv("BROKER_ADDR", "shared:6379")
	t.Setenv("TRADES_BROKER_ADDR", "trades-only:6379")

	tradesCfg, err := Load("trades", "")
	require.NoError(t, err)
	assert.Equal(t, "trades-only:6379", tradesCfg.Broker.Addr)

	candlesCfg, err := Load("candles", "")
	require.NoError(t, err)
	assert.Equal(t, "shared:6379", candlesCfg.Broker.Addr)
}

func TestSymbolListFromEnv(t *testing.T) {
	t.Setenv("TRADES_SYMBOLS", "xrpusd, BTCUSD")

	cfg, err := Load("trades", "")
	require.NoError(t, err)

	symbols, err := Symbols(cfg.Trades.Symbols)
	require.NoError(t, err)
	assert.Equal(t, []domain.Symbol{domain.SymbolXRPUSD, domain.SymbolBTCUSD}, symbols)
}

func TestInvalidValuesAreRejected(t *testing.T) {
	t.Setenv("NEWS_POLL_INTERVAL", "soon")
	_, err := Load("news", "")
	require.Error(t, err)

	_, err = IngestionMode("SOMETIMES")
	assert.Error(t, err)
	_, err = EmissionMode("PARTIAL")
	assert.Error(t, err)
	_, err = Timeframe("2m")
	assert.Error(t, err)
	_, err = Symbols([]string{"DOGEUSD"})
	assert.Error(t, err)
	_, err = Assets([]string{"SOL"})
	assert.Error(t, err)

	mode, err := IngestionMode("historical")
	require.NoError(t, err)
	assert.Equal(t, domain.IngestionHistorical, mode)
}
