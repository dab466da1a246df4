package services

import (
	"math"
	"time"

	"wheel-backtester/interfaces"
)

// ChainModel synthesizes a listed option chain from an underlying price and
// a volatility estimate, then picks the contract closest to a delta target
type ChainModel struct {
	RiskFreeRate float64
	HalfSpread   float64
}

// StrikeStep is the listing increment for an underlying trading at price
func StrikeStep(price float64) float64 {
	switch {
	case price < 25:
		return 0.5
	case price < 100:
		return 1
	case price < 250:
		return 2.5
	case price < 1000:
		return 5
	default:
		return 10
	}
}

// Expirations lists the weekly Friday expirations whose DTE is inside window
func Expirations(asOf time.Time, window interfaces.DTERange) []time.Time {
	day := truncateDay(asOf)
	out := make([]time.Time, 0, 3)
	for dte := window.Min; dte <= window.Max; dte++ {
		exp := day.AddDate(0, 0, dte)
		if exp.Weekday() == time.Friday {
			out = append(out, exp)
		}
	}
	return out
}

// Best returns the qualifying contract with the lowest score, nil when none
// qualifies. score = |delta - band mid| - bid
func (m ChainModel) Best(q interfaces.OptionQuery, iv, ivRank float64) *interfaces.OptionCandidate {
	if q.UnderlyingPrice <= 0 || iv <= 0 {
		return nil
	}

	step := StrikeStep(q.UnderlyingPrice)
	lo := math.Ceil(q.UnderlyingPrice*0.5/step) * step
	hi := math.Floor(q.UnderlyingPrice*1.5/step) * step
	if q.MinStrike > 0 {
		lo = math.Max(lo, math.Ceil(q.MinStrike/step)*step)
	}
	mid := q.Delta.Mid()

	var best *interfaces.OptionCandidate
	bestScore := math.Inf(1)

	for _, exp := range Expirations(q.AsOf, q.DTE) {
		dte := daysBetween(q.AsOf, exp)
		years := float64(dte) / 365

		for n := 0; ; n++ {
			strike := roundCents(lo + float64(n)*step)
			if strike > hi+1e-9 {
				break
			}

			res := CalculateBlackScholes(q.Kind, BlackScholesInput{
				S: q.UnderlyingPrice,
				K: strike,
				T: years,
				R: m.RiskFreeRate,
				V: iv,
			})
			delta := math.Abs(res.Delta)
			if !q.Delta.Contains(delta) {
				continue
			}

			bid, ask := m.quote(res.Price)
			score := math.Abs(delta-mid) - bid
			if score < bestScore {
				bestScore = score
				best = &interfaces.OptionCandidate{
					Symbol:     q.Symbol,
					Kind:       q.Kind,
					Strike:     strike,
					Expiration: exp,
					Bid:        bid,
					Ask:        ask,
					Delta:      delta,
					IV:         iv,
					IVRank:     ivRank,
					DTE:        dte,
				}
			}
		}
	}

	return best
}

// Mark is the per-share mid of contract on date, intrinsic once expired
func (m ChainModel) Mark(contract *interfaces.OptionContract, price, iv float64, date time.Time) float64 {
	dte := daysBetween(date, contract.Expiration)
	res := CalculateBlackScholes(contract.Kind, BlackScholesInput{
		S: price,
		K: contract.Strike,
		T: float64(dte) / 365,
		R: m.RiskFreeRate,
		V: iv,
	})
	if dte == 0 {
		return res.Price
	}
	bid, ask := m.quote(res.Price)
	return (bid + ask) / 2
}

func (m ChainModel) quote(theoretical float64) (bid, ask float64) {
	bid = math.Max(0.01, roundCents(theoretical*(1-m.HalfSpread)))
	ask = math.Max(bid+0.01, roundCents(theoretical*(1+m.HalfSpread)))
	return bid, ask
}

func roundCents(x float64) float64 {
	return math.Round(x*100) / 100
}
