package models

import (
	"time"

	"gorm.io/gorm"
)

// DBBar represents historical price data in the database
type DBBar struct {
	gorm.Model
	Symbol    string    `gorm:"uniqueIndex:idx_symbol_timestamp"`
	Timestamp time.Time `gorm:"uniqueIndex:idx_symbol_timestamp"`
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
	VWAP      float64
	Timeframe string
}

// DBBacktestRun represents one completed backtest and its headline metrics
type DBBacktestRun struct {
	gorm.Model
	RunID            string `gorm:"uniqueIndex"`
	Source           string `gorm:"index"` // sim, alpaca
	Seed             uint64
	Symbols          string // comma separated
	StartDate        time.Time
	EndDate          time.Time
	InitialCapital   float64
	FinalValue       float64
	TotalReturn      float64
	AnnualizedReturn float64
	MaxDrawdown      float64
	SharpeRatio      float64
	SortinoRatio     float64
	CalmarRatio      float64
	Volatility       float64
	TradeCount       int
	SkipCount        int
	BearDays         int
	StrategyConfig   string // JSON
	Report           string // JSON
}

// DBTrade represents one simulated option or assignment trade
type DBTrade struct {
	gorm.Model
	RunID      string `gorm:"index"`
	Seq        int
	TradeID    string `gorm:"index"`
	Symbol     string `gorm:"index"`
	Kind       string
	Action     string
	Quantity   int
	Price      float64
	Strike     float64
	Expiration time.Time
	ExecutedAt time.Time
	Premium    float64
	Delta      *float64
	IVRank     *float64
	CashFlow   string // decimal
}

// DBEquityPoint is one day of a run's equity curve
type DBEquityPoint struct {
	gorm.Model
	RunID string    `gorm:"index:idx_run_date"`
	Date  time.Time `gorm:"index:idx_run_date"`
	Value float64
}

// DBPortfolioSnapshot stores the full portfolio of one day as JSON
type DBPortfolioSnapshot struct {
	gorm.Model
	RunID     string    `gorm:"index:idx_snapshot_run_date"`
	Date      time.Time `gorm:"index:idx_snapshot_run_date"`
	Cash      string
	Total     string
	Positions string // JSON
}

// DBSkipEvent records a symbol/day the strategy could not act on
type DBSkipEvent struct {
	gorm.Model
	RunID  string `gorm:"index"`
	Date   time.Time
	Symbol string `gorm:"index"`
	Reason string `gorm:"index"`
	Detail string
}

// TableName overrides for cleaner table names
func (DBBar) TableName() string {
	return "bars"
}

func (DBBacktestRun) TableName() string {
	return "backtest_runs"
}

func (DBTrade) TableName() string {
	return "trades"
}

func (DBEquityPoint) TableName() string {
	return "equity_points"
}

func (DBPortfolioSnapshot) TableName() string {
	return "portfolio_snapshots"
}

func (DBSkipEvent) TableName() string {
	return "skip_events"
}
