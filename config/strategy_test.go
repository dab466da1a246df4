package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wheel-backtester/interfaces"
)

func TestDefaultStrategyConfigIsValid(t *testing.T) {
	cfg := DefaultStrategyConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, []string{"NVDA", "GOOGL", "TSLA", "QQQ"}, cfg.SymbolNames())
	assert.True(t, cfg.IsBearExcluded("nvda"))
	assert.False(t, cfg.IsBearExcluded("QQQ"))

	nvda, ok := cfg.Symbol("NVDA")
	require.True(t, ok)
	assert.Equal(t, interfaces.DeltaRange{Min: 0.15, Max: 0.20}, nvda.PutDelta)
	_, ok = cfg.Symbol("AAPL")
	assert.False(t, ok)
}

func TestStrategyConfigValidate(t *testing.T) {
	cases := map[string]func(*StrategyConfig){
		"no symbols":          func(c *StrategyConfig) { c.Symbols = nil },
		"duplicate symbol":    func(c *StrategyConfig) { c.Symbols = append(c.Symbols, c.Symbols[0]) },
		"inverted put band":   func(c *StrategyConfig) { c.Symbols[0].PutDelta = interfaces.DeltaRange{Min: 0.3, Max: 0.2} },
		"weights above one":   func(c *StrategyConfig) { c.Symbols[0].Weight = 0.9 },
		"empty dte window":    func(c *StrategyConfig) { c.DTE = interfaces.DTERange{Min: 45, Max: 30} },
		"roll past dte":       func(c *StrategyConfig) { c.RollDTEThreshold = 30 },
		"profit take of one":  func(c *StrategyConfig) { c.ProfitTakeFraction = 1 },
		"zero iv ceiling":     func(c *StrategyConfig) { c.IVRankCeiling = 0 },
		"zero vix threshold":  func(c *StrategyConfig) { c.VIXThreshold = 0 },
		"no index":            func(c *StrategyConfig) { c.IndexSymbol = "" },
		"zero ma window":      func(c *StrategyConfig) { c.IndexMAWindow = 0 },
		"huge ma window":      func(c *StrategyConfig) { c.IndexMAWindow = MaxIndexMAWindow + 1 },
		"zero lot":            func(c *StrategyConfig) { c.LotSize = 0 },
		"allocation mismatch": func(c *StrategyConfig) { c.PutAllocation = 0.7 },
		"negative buffer":     func(c *StrategyConfig) { c.CallStrikeBuffer = -0.1 },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultStrategyConfig()
			mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), interfaces.ErrConfigurationInvalid)
		})
	}
}

func TestValidateRun(t *testing.T) {
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC)

	assert.NoError(t, ValidateRun(start, end, 100000))
	assert.NoError(t, ValidateRun(start, start, 100000))
	assert.ErrorIs(t, ValidateRun(end, start, 100000), interfaces.ErrConfigurationInvalid)
	assert.ErrorIs(t, ValidateRun(start, end, 0), interfaces.ErrConfigurationInvalid)
	assert.ErrorIs(t, ValidateRun(time.Time{}, end, 100000), interfaces.ErrConfigurationInvalid)
}

func TestWithSymbols(t *testing.T) {
	cfg := DefaultStrategyConfig()

	same, err := cfg.WithSymbols(nil)
	require.NoError(t, err)
	assert.Equal(t, cfg.SymbolNames(), same.SymbolNames())

	subset, err := cfg.WithSymbols([]string{" qqq", "nvda"})
	require.NoError(t, err)
	assert.Equal(t, []string{"QQQ", "NVDA"}, subset.SymbolNames())
	assert.Len(t, cfg.Symbols, 4)

	_, err = cfg.WithSymbols([]string{"AAPL"})
	assert.ErrorIs(t, err, interfaces.ErrConfigurationInvalid)
}

func TestLoadStrategyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategy.yaml")
	content := `
symbols:
  - symbol: SPY
    weight: 0.5
    put_delta: {min: 0.2, max: 0.3}
    call_delta: {min: 0.15, max: 0.2}
    max_puts: 1
index_symbol: SPY
vix_threshold: 30
profit_take_fraction: 0.5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadStrategyFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"SPY"}, cfg.SymbolNames())
	assert.Equal(t, "SPY", cfg.IndexSymbol)
	assert.Equal(t, 30.0, cfg.VIXThreshold)
	assert.Equal(t, 0.5, cfg.ProfitTakeFraction)
	// unset keys keep their defaults
	assert.Equal(t, 100, cfg.LotSize)
	assert.Equal(t, interfaces.DTERange{Min: 30, Max: 45}, cfg.DTE)
}

func TestLoadStrategyFileErrors(t *testing.T) {
	_, err := LoadStrategyFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("lot_size: 0\n"), 0644))
	_, err = LoadStrategyFile(path)
	assert.ErrorIs(t, err, interfaces.ErrConfigurationInvalid)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("ALPACA_API_KEY", "key")
	t.Setenv("ALPACA_SECRET_KEY", "secret")
	t.Setenv("DATABASE_PATH", "/tmp/wheel.db")
	t.Setenv("DATA_API_RPS", "5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.HasAlpacaCredentials())
	assert.Equal(t, "/tmp/wheel.db", cfg.DatabasePath)
	assert.Equal(t, 5.0, cfg.DataAPIRPS)

	t.Setenv("DATA_API_RPS", "-1")
	_, err = Load()
	assert.Error(t, err)
}
