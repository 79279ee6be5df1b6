// Package riskgov implements the risk governor of spec §4's component
// table (M): it turns (equity, price, volatility regime) into a sized
// order quantity and a leverage recommendation, the way the teacher's
// percent-of-equity sizer turns (signal, equity) into a position size.
package riskgov

import "github.com/dryrun-futures/engine/internal/fp"

// Regime mirrors metrics.Regime without importing it, to keep this
// package usable without a metrics.Tracker in hand.
type Regime string

const (
	RegimeLow    Regime = "LOW"
	RegimeMedium Regime = "MEDIUM"
	RegimeHigh   Regime = "HIGH"
)

// Config is the governor's tunable parameters.
type Config struct {
	RiskPct            fp.Fp // fraction of equity risked per unit of stop distance
	MinQty             fp.Fp
	MaxNotionalPct     fp.Fp // max fraction of equity committed to one order's notional
	HighVolLeverageCut fp.Fp // leverage multiplier applied in HIGH regime, e.g. 0.5
	LowVolLeverageBoost fp.Fp // leverage multiplier applied in LOW regime, e.g. 1.25
}

// DefaultConfig returns sane defaults in the spirit of the teacher's
// 2%-risk, 25%-notional-cap sizer.
func DefaultConfig() Config {
	return Config{
		RiskPct:             fp.FromFloat(0.02),
		MinQty:              fp.FromFloat(0.001),
		MaxNotionalPct:      fp.FromFloat(0.25),
		HighVolLeverageCut:  fp.FromFloat(0.5),
		LowVolLeverageBoost: fp.FromFloat(1.25),
	}
}

// Size computes a position-sizing quantity from risked-equity over a
// stop distance, then clamps it to the max-notional-pct ceiling.
func Size(cfg Config, equity, price, stopDistance fp.Fp) fp.Fp {
	if !stopDistance.IsPositive() || !price.IsPositive() {
		return cfg.MinQty
	}
	riskAmount := equity.Mul(cfg.RiskPct)
	qty := riskAmount.Div(stopDistance)
	if qty.LessThan(cfg.MinQty) {
		qty = cfg.MinQty
	}
	maxNotional := equity.Mul(cfg.MaxNotionalPct)
	maxQty := maxNotional.Div(price)
	if qty.GreaterThan(maxQty) {
		qty = maxQty
	}
	return qty
}

// RecommendLeverage scales a base leverage by the current volatility
// regime: cut it in HIGH volatility, boost it in LOW, leave it
// unchanged in MEDIUM. Never returns a non-positive leverage.
func RecommendLeverage(cfg Config, baseLeverage fp.Fp, regime Regime) fp.Fp {
	switch regime {
	case RegimeHigh:
		return fp.Max(fp.FromInt(1), baseLeverage.Mul(cfg.HighVolLeverageCut))
	case RegimeLow:
		return baseLeverage.Mul(cfg.LowVolLeverageBoost)
	default:
		return baseLeverage
	}
}
