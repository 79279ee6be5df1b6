// Package stopmgr implements the winner/trailing-stop manager of spec
// §4.5: an initial R-multiple stop, monotone profit-lock step-ups, and
// an ATR trailing stop, resolved each tick to a single active stop and
// an optional close action.
package stopmgr

import "github.com/dryrun-futures/engine/internal/fp"

// Side mirrors engine.Side without importing it, to avoid a cycle.
type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)

// Step is one rung of the profit-lock ladder: once the favorable
// excursion reaches RMultiple times the initial stop distance, the
// locked stop is raised to LockFraction of the excursion gained.
type Step struct {
	RMultiple    fp.Fp
	LockFraction fp.Fp
}

// Config is the manager's tunable parameters.
type Config struct {
	MinRDistance fp.Fp
	RAtrMult     fp.Fp
	TrailAtrMult fp.Fp
	Steps        []Step // ascending by RMultiple
}

// CloseReason labels which stop triggered a close.
type CloseReason string

const (
	ReasonNone       CloseReason = ""
	ReasonTrailStop  CloseReason = "TRAIL_STOP"
	ReasonProfitLock CloseReason = "PROFITLOCK"
)

// State is one position's live stop state; re-initialized on open and
// on side flip.
type State struct {
	Side            Side
	EntryPrice      fp.Fp
	InitialStop     fp.Fp
	InitialDistance fp.Fp
	HighWater       fp.Fp
	LowWater        fp.Fp
	ProfitLockStop  fp.Fp
	HasProfitLock   bool
	TrailingStop    fp.Fp
	HasTrailing     bool
}

// Init establishes the initial stop on position open or side flip, per
// spec §4.5's closing paragraph.
func Init(side Side, entryPrice, atr fp.Fp, cfg Config) *State {
	dist := fp.Max(cfg.MinRDistance, cfg.RAtrMult.Mul(atr))
	s := &State{Side: side, EntryPrice: entryPrice, InitialDistance: dist}
	if side == Long {
		s.InitialStop = entryPrice.Sub(dist)
		s.HighWater = entryPrice
	} else {
		s.InitialStop = entryPrice.Add(dist)
		s.LowWater = entryPrice
	}
	return s
}

// Update advances water marks, profit-lock, and trailing stop for a new
// (markPrice, atr) observation, then resolves the binding active stop
// and reports whether it has been breached adversely this tick.
func (s *State) Update(markPrice, atr fp.Fp, cfg Config) (activeStop fp.Fp, reason CloseReason) {
	if s.Side == Long {
		return s.updateLong(markPrice, atr, cfg)
	}
	return s.updateShort(markPrice, atr, cfg)
}

func (s *State) updateLong(markPrice, atr fp.Fp, cfg Config) (fp.Fp, CloseReason) {
	if markPrice.GreaterThan(s.HighWater) {
		s.HighWater = markPrice
	}
	excursion := s.HighWater.Sub(s.EntryPrice)
	s.applyProfitLockLong(excursion, cfg)

	trailCandidate := markPrice.Sub(cfg.TrailAtrMult.Mul(atr))
	if !s.HasTrailing || trailCandidate.GreaterThan(s.TrailingStop) {
		s.TrailingStop = trailCandidate
		s.HasTrailing = true
	}

	active, binding := s.mostProtectiveLong()
	if markPrice.LessThanOrEqual(active) {
		return active, reasonFor(binding)
	}
	return active, ReasonNone
}

func (s *State) updateShort(markPrice, atr fp.Fp, cfg Config) (fp.Fp, CloseReason) {
	if s.LowWater.IsZero() || markPrice.LessThan(s.LowWater) {
		s.LowWater = markPrice
	}
	excursion := s.EntryPrice.Sub(s.LowWater)
	s.applyProfitLockShort(excursion, cfg)

	trailCandidate := markPrice.Add(cfg.TrailAtrMult.Mul(atr))
	if !s.HasTrailing || trailCandidate.LessThan(s.TrailingStop) {
		s.TrailingStop = trailCandidate
		s.HasTrailing = true
	}

	active, binding := s.mostProtectiveShort()
	if markPrice.GreaterThanOrEqual(active) {
		return active, reasonFor(binding)
	}
	return active, ReasonNone
}

type bindingStop int

const (
	bindingInitial bindingStop = iota
	bindingProfitLock
	bindingTrailing
)

func reasonFor(b bindingStop) CloseReason {
	if b == bindingTrailing {
		return ReasonTrailStop
	}
	return ReasonProfitLock
}

func (s *State) applyProfitLockLong(excursion fp.Fp, cfg Config) {
	if s.InitialDistance.IsZero() {
		return
	}
	rMultiple := excursion.Div(s.InitialDistance)
	for _, step := range cfg.Steps {
		if rMultiple.LessThan(step.RMultiple) {
			continue
		}
		candidate := s.EntryPrice.Add(excursion.Mul(step.LockFraction))
		if !s.HasProfitLock || candidate.GreaterThan(s.ProfitLockStop) {
			s.ProfitLockStop = candidate
			s.HasProfitLock = true
		}
	}
}

func (s *State) applyProfitLockShort(excursion fp.Fp, cfg Config) {
	if s.InitialDistance.IsZero() {
		return
	}
	rMultiple := excursion.Div(s.InitialDistance)
	for _, step := range cfg.Steps {
		if rMultiple.LessThan(step.RMultiple) {
			continue
		}
		candidate := s.EntryPrice.Sub(excursion.Mul(step.LockFraction))
		if !s.HasProfitLock || candidate.LessThan(s.ProfitLockStop) {
			s.ProfitLockStop = candidate
			s.HasProfitLock = true
		}
	}
}

// mostProtectiveLong returns the highest (tightest) of the three stops.
func (s *State) mostProtectiveLong() (fp.Fp, bindingStop) {
	active, binding := s.InitialStop, bindingInitial
	if s.HasProfitLock && s.ProfitLockStop.GreaterThan(active) {
		active, binding = s.ProfitLockStop, bindingProfitLock
	}
	if s.HasTrailing && s.TrailingStop.GreaterThan(active) {
		active, binding = s.TrailingStop, bindingTrailing
	}
	return active, binding
}

// mostProtectiveShort returns the lowest (tightest) of the three stops.
func (s *State) mostProtectiveShort() (fp.Fp, bindingStop) {
	active, binding := s.InitialStop, bindingInitial
	if s.HasProfitLock && s.ProfitLockStop.LessThan(active) {
		active, binding = s.ProfitLockStop, bindingProfitLock
	}
	if s.HasTrailing && s.TrailingStop.LessThan(active) {
		active, binding = s.TrailingStop, bindingTrailing
	}
	return active, binding
}
