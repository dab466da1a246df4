package services

import (
	"time"

	"github.com/shopspring/decimal"

	"wheel-backtester/interfaces"
)

// NewPortfolio opens a cash-only ledger with one CASH position per symbol
func NewPortfolio(symbols []string, initialCapital float64, timestamp time.Time) *interfaces.Portfolio {
	positions := make(map[string]*interfaces.PortfolioPosition, len(symbols))
	for _, symbol := range symbols {
		positions[symbol] = &interfaces.PortfolioPosition{
			Symbol: symbol,
			State:  interfaces.StateCash,
			Trades: make([]interfaces.Trade, 0),
		}
	}

	cash := money(initialCapital)
	return &interfaces.Portfolio{
		Cash:       cash,
		Positions:  positions,
		Symbols:    append([]string(nil), symbols...),
		TotalValue: cash,
		Timestamp:  timestamp,
	}
}

// Revalue recomputes total value as cash plus shares at their last price
// minus the current mark of every short option
func Revalue(p *interfaces.Portfolio, timestamp time.Time) decimal.Decimal {
	total := p.Cash
	for _, symbol := range p.Symbols {
		pos := p.Positions[symbol]
		if pos.Quantity != 0 {
			total = total.Add(money(float64(pos.Quantity) * pos.LastPrice))
		}
		if pos.Option != nil {
			total = total.Sub(money(pos.Option.Mark))
		}
	}

	p.TotalValue = total
	p.Timestamp = timestamp
	return total
}

// ClonePortfolio returns a value copy that shares nothing with p
func ClonePortfolio(p *interfaces.Portfolio) interfaces.Portfolio {
	out := interfaces.Portfolio{
		Cash:       p.Cash,
		Positions:  make(map[string]*interfaces.PortfolioPosition, len(p.Positions)),
		Symbols:    append([]string(nil), p.Symbols...),
		TotalValue: p.TotalValue,
		Timestamp:  p.Timestamp,
	}

	for symbol, pos := range p.Positions {
		cp := *pos
		if pos.Option != nil {
			opt := *pos.Option
			cp.Option = &opt
		}
		cp.Trades = append([]interfaces.Trade(nil), pos.Trades...)
		out.Positions[symbol] = &cp
	}

	return out
}

// committedCollateral is the cash reserved by open short puts, ignoring exclude
func committedCollateral(p *interfaces.Portfolio, lotSize int, exclude string) decimal.Decimal {
	committed := decimal.Zero
	for _, symbol := range p.Symbols {
		if symbol == exclude {
			continue
		}
		pos := p.Positions[symbol]
		if pos.Option != nil && pos.Option.Kind == interfaces.OptionPut {
			committed = committed.Add(money(pos.Option.Strike * float64(lotSize)))
		}
	}
	return committed
}

// money converts a dollar amount to cents precision
func money(amount float64) decimal.Decimal {
	return decimal.NewFromFloat(amount).Round(2)
}
