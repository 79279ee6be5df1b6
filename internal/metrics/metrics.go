// Package metrics computes the per-symbol derived market metrics of
// spec §4.6: a bounded mark-price ring, rolling ATR/avgATR, a
// volatility regime classification, order-book imbalance, spread
// percentage, and a spread-breach streak counter.
package metrics

import "github.com/dryrun-futures/engine/internal/fp"

// Regime classifies the current volatility state relative to its own
// longer-window baseline.
type Regime string

const (
	RegimeLow    Regime = "LOW"
	RegimeMedium Regime = "MEDIUM"
	RegimeHigh   Regime = "HIGH"
)

// Snapshot is the derived state a session supervisor reads each tick.
type Snapshot struct {
	ATR              fp.Fp
	AvgATR           fp.Fp
	Regime           Regime
	OBI              fp.Fp
	SpreadPct        fp.Fp
	SpreadBreachTicks int
}

// Tracker accumulates a bounded mark-price ring and the derived metrics
// of spec §4.6, one instance per symbol session.
type Tracker struct {
	atrWindow    int
	maxSpreadPct fp.Fp
	topN         int

	ring       []fp.Fp
	ringCap    int
	breachRun  int
}

// NewTracker creates a Tracker; ringCap is widened to at least 4x the
// ATR window and at least 40, per spec §4.6.
func NewTracker(atrWindow int, maxSpreadPct fp.Fp, topN int) *Tracker {
	ringCap := atrWindow * 4
	if ringCap < 40 {
		ringCap = 40
	}
	return &Tracker{
		atrWindow:    atrWindow,
		maxSpreadPct: maxSpreadPct,
		topN:         topN,
		ring:         make([]fp.Fp, 0, ringCap),
		ringCap:      ringCap,
	}
}

// Update pushes a new mark price and order-book snapshot and returns the
// refreshed derived state.
func (t *Tracker) Update(markPrice fp.Fp, bidLevels, askLevels []Level) Snapshot {
	t.push(markPrice)

	atr := meanAbsDiff(t.ring, t.atrWindow)
	avgATR := meanAbsDiff(t.ring, t.atrWindow*2)

	regime := RegimeMedium
	if !avgATR.IsZero() {
		ratio := atr.Div(avgATR)
		switch {
		case ratio.GreaterThan(fp.FromFloat(1.5)):
			regime = RegimeHigh
		case ratio.LessThan(fp.FromFloat(0.7)):
			regime = RegimeLow
		}
	}

	obi := orderBookImbalance(bidLevels, askLevels, t.topN)
	spreadPct := spreadPercent(bidLevels, askLevels)

	if spreadPct.GreaterThan(t.maxSpreadPct) {
		t.breachRun++
	} else {
		t.breachRun = 0
	}

	return Snapshot{
		ATR:               atr,
		AvgATR:            avgATR,
		Regime:            regime,
		OBI:               obi,
		SpreadPct:         spreadPct,
		SpreadBreachTicks: t.breachRun,
	}
}

func (t *Tracker) push(p fp.Fp) {
	t.ring = append(t.ring, p)
	if len(t.ring) > t.ringCap {
		t.ring = t.ring[len(t.ring)-t.ringCap:]
	}
}

// meanAbsDiff computes the mean of absolute successive differences over
// the trailing window elements of the ring (or everything available, if
// fewer).
func meanAbsDiff(ring []fp.Fp, window int) fp.Fp {
	if window < 1 || len(ring) < 2 {
		return fp.Zero
	}
	start := len(ring) - window
	if start < 0 {
		start = 0
	}
	slice := ring[start:]
	if len(slice) < 2 {
		return fp.Zero
	}
	sum := fp.Zero
	for i := 1; i < len(slice); i++ {
		sum = sum.Add(slice[i].Sub(slice[i-1]).Abs())
	}
	return sum.Div(fp.FromInt(int64(len(slice) - 1)))
}

// Level is a minimal book level the metrics package needs; it mirrors
// engine.Level in shape but is kept independent so this package does
// not import engine.
type Level struct {
	Price fp.Fp
	Qty   fp.Fp
}

// orderBookImbalance computes (Σbid_top_n - Σask_top_n) / Σ, in [-1,1].
func orderBookImbalance(bids, asks []Level, topN int) fp.Fp {
	bidSum := sumTopN(bids, topN)
	askSum := sumTopN(asks, topN)
	total := bidSum.Add(askSum)
	if total.IsZero() {
		return fp.Zero
	}
	return bidSum.Sub(askSum).Div(total)
}

func sumTopN(levels []Level, topN int) fp.Fp {
	n := topN
	if n <= 0 || n > len(levels) {
		n = len(levels)
	}
	sum := fp.Zero
	for _, lvl := range levels[:n] {
		sum = sum.Add(lvl.Qty)
	}
	return sum
}

// spreadPercent computes (bestAsk - bestBid) / mid; zero if either side
// is empty.
func spreadPercent(bids, asks []Level) fp.Fp {
	if len(bids) == 0 || len(asks) == 0 {
		return fp.Zero
	}
	bestBid, bestAsk := bids[0].Price, asks[0].Price
	mid := bestBid.Add(bestAsk).Div(fp.FromInt(2))
	if mid.IsZero() {
		return fp.Zero
	}
	return bestAsk.Sub(bestBid).Div(mid)
}
