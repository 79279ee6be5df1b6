// Package flip implements the flip-invalidation governor of spec §4.7:
// a minimum hold time, a deadband/hysteresis OR-condition, and a
// confirmation-tick counter gating whether an opposing signal is
// allowed to reduce or flip the current position.
package flip

import "github.com/dryrun-futures/engine/internal/fp"

// Side mirrors engine.Side without importing it, to avoid a cycle.
type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)

const (
	ReasonBlocked         = "FLIP_BLOCKED"
	ReasonReducePartial   = "REDUCE_PARTIAL"
	ReasonHardInvalidation = "HARD_INVALIDATION"
)

// Config is the governor's tunable parameters, defaulted per spec §4.7.
type Config struct {
	MinHoldMs         int64
	DeadbandPct       fp.Fp
	HysteresisRMult   fp.Fp // scaled by 100 and added to EntryMin: threshold = EntryMin + HysteresisRMult*100
	EntryMin          fp.Fp
	ConfirmTicks      int
	MaxSpreadPct      fp.Fp
	PartialReduceFrac fp.Fp
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		MinHoldMs:         90_000,
		DeadbandPct:       fp.FromFloat(0.004),
		HysteresisRMult:   fp.FromFloat(0.15),
		EntryMin:          fp.FromInt(55),
		ConfirmTicks:      3,
		MaxSpreadPct:      fp.FromFloat(0.002),
		PartialReduceFrac: fp.FromFloat(0.4),
	}
}

// State is the governor's per-position state.
type State struct {
	ConsecutiveOpposing int
	PartialReduced      bool
	PendingFlipSide     Side
	HasPendingFlip      bool
}

// PendingFlipEntry is consumed by the supervisor on the next tick after
// a hard invalidation, per spec §4.4.
type PendingFlipEntry struct {
	Side  Side
	Score fp.Fp
}

// Decision is the governor's output for one evaluation.
type Decision struct {
	Confirmed       bool
	ReasonCode      string
	ReduceQtyFrac   fp.Fp // set only when ReasonCode == REDUCE_PARTIAL
	FullClose       bool  // set only when ReasonCode == HARD_INVALIDATION
	PendingFlip     *PendingFlipEntry
}

// Evaluate is called only when a signal opposes the current position,
// per spec §4.7.
func Evaluate(st *State, cfg Config, positionSide Side, lastEntryOrAddOnTsMs, nowMs int64, unrealizedPnlPct, opposingScore, spreadPct fp.Fp) Decision {
	if spreadPct.GreaterThan(cfg.MaxSpreadPct) {
		st.ConsecutiveOpposing = 0
		return Decision{Confirmed: false, ReasonCode: ReasonBlocked}
	}

	if nowMs-lastEntryOrAddOnTsMs < cfg.MinHoldMs {
		st.ConsecutiveOpposing = 0
		return Decision{Confirmed: false}
	}

	hysteresisThreshold := cfg.EntryMin.Add(cfg.HysteresisRMult.Mul(fp.FromInt(100)))
	deadbandBreached := unrealizedPnlPct.LessThanOrEqual(cfg.DeadbandPct.Neg())
	hysteresisBreached := opposingScore.GreaterThanOrEqual(hysteresisThreshold)
	if !deadbandBreached && !hysteresisBreached {
		st.ConsecutiveOpposing = 0
		return Decision{Confirmed: false}
	}

	// The first opposing tick confirms REDUCE_PARTIAL immediately; the
	// full close then requires ConfirmTicks total consecutive opposing
	// ticks, so HARD_INVALIDATION lands on the ConfirmTicks-th signal
	// (S5: reduce on the 1st, full close on the 3rd with ConfirmTicks=3).
	st.ConsecutiveOpposing++

	opposingSide := positionSide.opposite()
	if !st.PartialReduced {
		st.PartialReduced = true
		return Decision{
			Confirmed:     true,
			ReasonCode:    ReasonReducePartial,
			ReduceQtyFrac: cfg.PartialReduceFrac,
		}
	}

	if st.ConsecutiveOpposing < cfg.ConfirmTicks {
		return Decision{Confirmed: false}
	}

	st.HasPendingFlip = true
	st.PendingFlipSide = opposingSide
	return Decision{
		Confirmed:  true,
		ReasonCode: ReasonHardInvalidation,
		FullClose:  true,
		PendingFlip: &PendingFlipEntry{
			Side:  opposingSide,
			Score: opposingScore,
		},
	}
}

func (s Side) opposite() Side {
	if s == Long {
		return Short
	}
	return Long
}

// Reset clears the governor's per-flip state, called on null->open,
// open->null, and side-flip transitions per spec §4.4.
func (st *State) Reset() {
	st.ConsecutiveOpposing = 0
	st.PartialReduced = false
	st.HasPendingFlip = false
	st.PendingFlipSide = ""
}
