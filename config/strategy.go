package config

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"wheel-backtester/interfaces"
)

// SymbolConfig is the per-underlying part of the strategy
type SymbolConfig struct {
	Symbol    string                `yaml:"symbol" json:"symbol"`
	Weight    float64               `yaml:"weight" json:"weight"`
	PutDelta  interfaces.DeltaRange `yaml:"put_delta" json:"put_delta"`
	CallDelta interfaces.DeltaRange `yaml:"call_delta" json:"call_delta"`
	MaxPuts   int                   `yaml:"max_puts" json:"max_puts"`
}

// StrategyConfig is the immutable parameter set of a backtest
type StrategyConfig struct {
	Symbols            []SymbolConfig        `yaml:"symbols" json:"symbols"`
	DTE                interfaces.DTERange   `yaml:"dte" json:"dte"`
	RollDTEThreshold   int                   `yaml:"roll_dte_threshold" json:"roll_dte_threshold"`
	ProfitTakeFraction float64               `yaml:"profit_take_fraction" json:"profit_take_fraction"`
	IVRankCeiling      float64               `yaml:"iv_rank_ceiling" json:"iv_rank_ceiling"`
	VIXThreshold       float64               `yaml:"vix_threshold" json:"vix_threshold"`
	BearPutDelta       interfaces.DeltaRange `yaml:"bear_put_delta" json:"bear_put_delta"`
	BearExcluded       []string              `yaml:"bear_excluded" json:"bear_excluded"`
	IndexSymbol        string                `yaml:"index_symbol" json:"index_symbol"`
	IndexMAWindow      int                   `yaml:"index_ma_window" json:"index_ma_window"`
	CallStrikeBuffer   float64               `yaml:"call_strike_buffer" json:"call_strike_buffer"`
	CallRollTrigger    float64               `yaml:"call_roll_trigger" json:"call_roll_trigger"`
	LotSize            int                   `yaml:"lot_size" json:"lot_size"`
	PutAllocation      float64               `yaml:"put_allocation" json:"put_allocation"`
	CallAllocation     float64               `yaml:"call_allocation" json:"call_allocation"`
}

// MaxIndexMAWindow bounds the index moving average, in trading days
const MaxIndexMAWindow = 1000

// DefaultStrategyConfig returns the four-underlying wheel setup
func DefaultStrategyConfig() StrategyConfig {
	return StrategyConfig{
		Symbols: []SymbolConfig{
			{Symbol: "NVDA", Weight: 0.25, PutDelta: interfaces.DeltaRange{Min: 0.15, Max: 0.20}, CallDelta: interfaces.DeltaRange{Min: 0.15, Max: 0.20}, MaxPuts: 2},
			{Symbol: "GOOGL", Weight: 0.25, PutDelta: interfaces.DeltaRange{Min: 0.20, Max: 0.25}, CallDelta: interfaces.DeltaRange{Min: 0.15, Max: 0.20}, MaxPuts: 2},
			{Symbol: "TSLA", Weight: 0.20, PutDelta: interfaces.DeltaRange{Min: 0.15, Max: 0.20}, CallDelta: interfaces.DeltaRange{Min: 0.15, Max: 0.20}, MaxPuts: 2},
			{Symbol: "QQQ", Weight: 0.30, PutDelta: interfaces.DeltaRange{Min: 0.20, Max: 0.25}, CallDelta: interfaces.DeltaRange{Min: 0.15, Max: 0.20}, MaxPuts: 2},
		},
		DTE:                interfaces.DTERange{Min: 30, Max: 45},
		RollDTEThreshold:   10,
		ProfitTakeFraction: 0.7,
		IVRankCeiling:      0.8,
		VIXThreshold:       35,
		BearPutDelta:       interfaces.DeltaRange{Min: 0.10, Max: 0.15},
		BearExcluded:       []string{"NVDA", "TSLA"},
		IndexSymbol:        "QQQ",
		IndexMAWindow:      200,
		CallStrikeBuffer:   0.10,
		CallRollTrigger:    0.10,
		LotSize:            100,
		PutAllocation:      0.6,
		CallAllocation:     0.4,
	}
}

// LoadStrategyFile overlays a YAML file on the defaults and validates the result
func LoadStrategyFile(path string) (StrategyConfig, error) {
	cfg := DefaultStrategyConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read strategy config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse strategy config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// SymbolNames returns the configured underlyings in order
func (c StrategyConfig) SymbolNames() []string {
	names := make([]string, len(c.Symbols))
	for i, s := range c.Symbols {
		names[i] = s.Symbol
	}
	return names
}

// Symbol looks up the settings of one underlying
func (c StrategyConfig) Symbol(symbol string) (SymbolConfig, bool) {
	for _, s := range c.Symbols {
		if s.Symbol == symbol {
			return s, true
		}
	}
	return SymbolConfig{}, false
}

// IsBearExcluded reports whether symbol sells no puts in a bear market
func (c StrategyConfig) IsBearExcluded(symbol string) bool {
	for _, s := range c.BearExcluded {
		if strings.EqualFold(s, symbol) {
			return true
		}
	}
	return false
}

// WithSymbols keeps only the named underlyings, in the given order
func (c StrategyConfig) WithSymbols(symbols []string) (StrategyConfig, error) {
	if len(symbols) == 0 {
		return c, nil
	}

	out := c
	out.Symbols = make([]SymbolConfig, 0, len(symbols))
	for _, name := range symbols {
		sc, ok := c.Symbol(strings.ToUpper(strings.TrimSpace(name)))
		if !ok {
			return c, fmt.Errorf("%w: symbol %q is not configured", interfaces.ErrConfigurationInvalid, name)
		}
		out.Symbols = append(out.Symbols, sc)
	}

	return out, out.Validate()
}

// Validate rejects malformed strategy settings
func (c StrategyConfig) Validate() error {
	if len(c.Symbols) == 0 {
		return invalid("at least one symbol is required")
	}

	seen := make(map[string]bool, len(c.Symbols))
	totalWeight := 0.0
	for _, s := range c.Symbols {
		if s.Symbol == "" {
			return invalid("symbol name must not be empty")
		}
		if seen[s.Symbol] {
			return invalid("duplicate symbol %s", s.Symbol)
		}
		seen[s.Symbol] = true

		if s.Weight <= 0 || s.Weight > 1 {
			return invalid("weight for %s must be in (0, 1], got %f", s.Symbol, s.Weight)
		}
		totalWeight += s.Weight

		if err := validateBand(s.Symbol+" put_delta", s.PutDelta); err != nil {
			return err
		}
		if err := validateBand(s.Symbol+" call_delta", s.CallDelta); err != nil {
			return err
		}
		if s.MaxPuts < 0 {
			return invalid("max_puts for %s must not be negative", s.Symbol)
		}
	}

	if totalWeight > 1+1e-9 {
		return invalid("symbol weights sum to %.4f, must not exceed 1", totalWeight)
	}

	if c.DTE.Min <= 0 || c.DTE.Max < c.DTE.Min {
		return invalid("dte window [%d, %d] is malformed", c.DTE.Min, c.DTE.Max)
	}
	if c.RollDTEThreshold < 0 || c.RollDTEThreshold >= c.DTE.Min {
		return invalid("roll_dte_threshold must be in [0, %d), got %d", c.DTE.Min, c.RollDTEThreshold)
	}
	if c.ProfitTakeFraction <= 0 || c.ProfitTakeFraction >= 1 {
		return invalid("profit_take_fraction must be in (0, 1), got %f", c.ProfitTakeFraction)
	}
	if c.IVRankCeiling <= 0 || c.IVRankCeiling > 1 {
		return invalid("iv_rank_ceiling must be in (0, 1], got %f", c.IVRankCeiling)
	}
	if c.VIXThreshold <= 0 {
		return invalid("vix_threshold must be positive, got %f", c.VIXThreshold)
	}
	if err := validateBand("bear_put_delta", c.BearPutDelta); err != nil {
		return err
	}
	if c.IndexSymbol == "" {
		return invalid("index_symbol is required")
	}
	if c.IndexMAWindow <= 0 || c.IndexMAWindow > MaxIndexMAWindow {
		return invalid("index_ma_window must be in [1, %d], got %d", MaxIndexMAWindow, c.IndexMAWindow)
	}
	if c.CallStrikeBuffer < 0 || c.CallRollTrigger < 0 {
		return invalid("call strike buffer and roll trigger must not be negative")
	}
	if c.LotSize <= 0 {
		return invalid("lot_size must be positive, got %d", c.LotSize)
	}
	if c.PutAllocation < 0 || c.CallAllocation < 0 || math.Abs(c.PutAllocation+c.CallAllocation-1) > 1e-9 {
		return invalid("put/call allocation must be non-negative and sum to 1")
	}

	return nil
}

// ValidateRun rejects a malformed date range or capital before a run starts
func ValidateRun(start, end time.Time, initialCapital float64) error {
	if start.IsZero() || end.IsZero() {
		return invalid("start and end dates are required")
	}
	if start.After(end) {
		return invalid("start %s is after end %s", start.Format("2006-01-02"), end.Format("2006-01-02"))
	}
	if initialCapital <= 0 || math.IsNaN(initialCapital) || math.IsInf(initialCapital, 0) {
		return invalid("initial capital must be positive, got %f", initialCapital)
	}
	return nil
}

func validateBand(name string, r interfaces.DeltaRange) error {
	if r.Min <= 0 || r.Max >= 1 || r.Min > r.Max {
		return invalid("%s band [%.2f, %.2f] is malformed", name, r.Min, r.Max)
	}
	return nil
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", interfaces.ErrConfigurationInvalid, fmt.Sprintf(format, args...))
}
