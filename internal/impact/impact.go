// Package impact implements the market-impact model of spec §4.2: it
// maps a (fill, book) pair to slippage/impact basis points and an
// adjusted VWAP.
package impact

import (
	"math"

	"github.com/dryrun-futures/engine/internal/fp"
)

// Side mirrors engine.Side without importing it, to avoid a cycle.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

func (s Side) sign() int {
	if s == Sell {
		return -1
	}
	return 1
}

// Params are the model's tunable constants, defaulted per spec §4.2.
type Params struct {
	ImpactFactorBps  fp.Fp
	MaxSlippageBps   fp.Fp
	QueuePenaltyBps  fp.Fp
	TopDepthLevels   int
}

// DefaultParams returns the spec's documented defaults.
func DefaultParams() Params {
	return Params{
		ImpactFactorBps: fp.FromInt(18),
		MaxSlippageBps:  fp.FromInt(120),
		QueuePenaltyBps: fp.FromInt(5),
		TopDepthLevels:  10,
	}
}

// Level is a single opposite-side book level used for participation
// sizing.
type Level struct {
	Price fp.Fp
	Qty   fp.Fp
}

// Input is the (fill, book) pair the model adjusts.
type Input struct {
	Side                    Side
	Type                    string // "MARKET" / "LIMIT"
	TIF                     string // "IOC" / "GTC"
	RequestedQty            fp.Fp
	FilledQty               fp.Fp
	AvgFillPrice            fp.Fp
	OppositeLevels          []Level
	// RestingResidual is true when this is a GTC LIMIT that did not
	// cross the book and has qty left resting (queue penalty applies).
	RestingResidual bool
}

// Output is the model's adjustment.
type Output struct {
	AdjustedAvgFillPrice fp.Fp
	SlippageBps          fp.Fp
	MarketImpactBps      fp.Fp
}

// Apply runs the six-step algorithm of spec §4.2.
func Apply(in Input, p Params) Output {
	if in.FilledQty.IsZero() || len(in.OppositeLevels) == 0 {
		return Output{AdjustedAvgFillPrice: in.AvgFillPrice}
	}
	bestOpposite := in.OppositeLevels[0].Price
	if bestOpposite.IsZero() {
		return Output{AdjustedAvgFillPrice: in.AvgFillPrice}
	}

	sideSign := fp.FromInt(int64(in.Side.sign()))

	// Step 2: base slippage in bps.
	baseRatio := in.AvgFillPrice.Sub(bestOpposite).Div(bestOpposite)
	base := fp.Max(fp.Zero, sideSign.Mul(baseRatio).Mul(fp.FromInt(10_000)))

	// Step 3: participation, clamped to [0,5].
	depth := p.TopDepthLevels
	if depth <= 0 || depth > len(in.OppositeLevels) {
		depth = len(in.OppositeLevels)
	}
	sumTopN := fp.Zero
	for _, lvl := range in.OppositeLevels[:depth] {
		sumTopN = sumTopN.Add(lvl.Qty)
	}
	participation := fp.Zero
	if !sumTopN.IsZero() {
		participation = fp.Clamp(in.FilledQty.Div(sumTopN), fp.Zero, fp.FromInt(5))
	}

	// Step 4: impact = impactFactorBps * sqrt(participation); queue
	// penalty added for a non-crossing GTC residual; clamp to [0,max].
	participationF, _ := participation.Decimal().Float64()
	sqrtParticipation := math.Sqrt(participationF)
	impactAmt := p.ImpactFactorBps.Mul(fp.FromFloat(sqrtParticipation))
	if in.TIF == "GTC" && in.RestingResidual {
		impactAmt = impactAmt.Add(p.QueuePenaltyBps)
	}
	impactAmt = fp.Clamp(impactAmt, fp.Zero, p.MaxSlippageBps)

	// Step 5: total, clamped.
	total := fp.Clamp(base.Add(impactAmt), fp.Zero, p.MaxSlippageBps)

	// Step 6: adjusted price, sign by side (BUY pays more, SELL
	// receives less — both adverse to the taker).
	bump := total.Div(fp.FromInt(10_000))
	var adjusted fp.Fp
	if in.Side == Buy {
		adjusted = in.AvgFillPrice.Mul(fp.FromInt(1).Add(bump))
	} else {
		adjusted = in.AvgFillPrice.Mul(fp.FromInt(1).Sub(bump))
	}

	return Output{
		AdjustedAvgFillPrice: adjusted.Round8(),
		SlippageBps:          base.Round8(),
		MarketImpactBps:      impactAmt.Round8(),
	}
}
