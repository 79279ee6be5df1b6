package supervisor

import (
	"github.com/dryrun-futures/engine/internal/addon"
	"github.com/dryrun-futures/engine/internal/engine"
	"github.com/dryrun-futures/engine/internal/fp"
	"github.com/dryrun-futures/engine/internal/flip"
	"github.com/dryrun-futures/engine/internal/guard"
	"github.com/dryrun-futures/engine/internal/riskgov"
	"github.com/dryrun-futures/engine/internal/stopmgr"
	"github.com/dryrun-futures/engine/internal/tradelog"
)

// StrategySide is the LONG/SHORT convention strategy decisions use, as
// opposed to the engine's BUY/SELL order side.
type StrategySide string

const (
	StrategyLong  StrategySide = "LONG"
	StrategyShort StrategySide = "SHORT"
)

func (s StrategySide) toEngineSide() engine.Side {
	if s == StrategyShort {
		return engine.Sell
	}
	return engine.Buy
}

func (s StrategySide) toStopSide() stopmgr.Side {
	if s == StrategyShort {
		return stopmgr.Short
	}
	return stopmgr.Long
}

func (s StrategySide) toAddonSide() addon.Side {
	if s == StrategyShort {
		return addon.Short
	}
	return addon.Long
}

func (s StrategySide) toFlipSide() flip.Side {
	if s == StrategyShort {
		return flip.Short
	}
	return flip.Long
}

func positionStrategySide(pos *engine.Position) (StrategySide, bool) {
	if pos == nil {
		return "", false
	}
	if pos.Side() == engine.Sell {
		return StrategyShort, true
	}
	return StrategyLong, true
}

// StrategyActionType is the action kind within a StrategyDecision, per
// spec §6's strategy-decision input shape.
type StrategyActionType string

const (
	ActionEntry  StrategyActionType = "ENTRY"
	ActionAdd    StrategyActionType = "ADD"
	ActionReduce StrategyActionType = "REDUCE"
	ActionExit   StrategyActionType = "EXIT"
	ActionNoop   StrategyActionType = "NOOP"
)

// StrategyAction is a single instruction within a StrategyDecision.
type StrategyAction struct {
	Type           StrategyActionType
	Side           StrategySide
	Reason         string
	ExpectedPrice  fp.Fp
	SizeMultiplier fp.Fp // defaults to 1 when zero
	ReducePct      fp.Fp // REDUCE only; fraction of current position
	Score          fp.Fp // signal strength, consulted by addon/flip gating
}

// StrategyDecision is the supervisor's submitStrategyDecision input,
// per spec §6.
type StrategyDecision struct {
	Symbol      string
	TimestampMs int64
	Regime      string
	DFS         any // opaque decision-feature-state payload; the supervisor does not read it
	Actions     []StrategyAction
}

// ManualOrderRequest is submitManualTestOrder's input, per spec §6.
type ManualOrderRequest struct {
	Symbol string
	Side   engine.Side
}

// DepthEvent is ingestDepthEvent's input, per spec §6.
type DepthEvent struct {
	Symbol           string
	EventTimestampMs int64
	OrderBook        engine.Book
	MarkPrice        fp.Fp // optional; zero means "derive from the book"
}

// LimitStrategy names an entry placement style (spec §4.4 step 2). It is
// carried in Config.EntryLimitStrategy, but order synthesis does not read
// it: every synthesized entry is a MARKET IOC order.
type LimitStrategy string

const (
	LimitMarket     LimitStrategy = "MARKET"
	LimitPassive    LimitStrategy = "PASSIVE"
	LimitSplit      LimitStrategy = "SPLIT"
	LimitAggressive LimitStrategy = "AGGRESSIVE"
)

// Config is one symbol session's full configuration: the engine run
// config plus every ambient/derived-component tunable.
type Config struct {
	Engine engine.Config
	Proxy  guard.Proxy

	MinEventIntervalMs int64 // default 250, per spec §4.4

	ATRWindow    int
	MaxSpreadPct fp.Fp
	TopNLevels   int

	DebugAggressiveEntry   bool
	DebugEntryCooldownMs   int64
	EntryLimitStrategy     LimitStrategy
	ManualTestQty          fp.Fp

	Stop  stopmgr.Config
	Addon addon.Config
	Flip  flip.Config
	Risk  riskgov.Config

	Tradelog tradelog.Config
	StorePath string
}

// DefaultConfig fills in spec-documented defaults for every ambient
// knob a caller does not set explicitly.
func DefaultConfig(runID, symbol string) Config {
	return Config{
		Engine:             engine.DefaultConfig(runID),
		MinEventIntervalMs: 250,
		ATRWindow:          14,
		MaxSpreadPct:       fp.FromFloat(0.002),
		TopNLevels:         10,
		EntryLimitStrategy: LimitMarket,
		ManualTestQty:      fp.FromFloat(0.001),
		Stop: stopmgr.Config{
			MinRDistance: fp.FromFloat(0.5),
			RAtrMult:     fp.FromInt(2),
			TrailAtrMult: fp.FromInt(1),
			Steps: []stopmgr.Step{
				{RMultiple: fp.FromInt(1), LockFraction: fp.FromFloat(0.3)},
				{RMultiple: fp.FromInt(2), LockFraction: fp.FromFloat(0.6)},
			},
		},
		Addon: addon.Config{
			MinUpnlPct:         fp.FromFloat(0.003),
			SignalMin:          fp.FromInt(60),
			CooldownMs:         60_000,
			MaxCount:           3,
			MaxSpreadPct:       fp.FromFloat(0.002),
			MaxNotional:        fp.FromInt(10_000),
			SizeMultiplier:     fp.FromFloat(0.5),
			TTLMs:              15_000,
			MaxRepriceAttempts: 2,
		},
		Flip:      flip.DefaultConfig(),
		Risk:      riskgov.DefaultConfig(),
		Tradelog:  tradelog.DefaultConfig("./dryrun-logs/" + symbol),
		StorePath: "./dryrun-sessions.db",
	}
}

// Status is getStatus's output for one symbol session.
type Status struct {
	Symbol           string
	Running          bool
	Wallet           fp.Fp
	Position         *engine.Position
	MarginHealth     fp.Fp
	Regime           string
	SpreadPct        fp.Fp
	ATR              fp.Fp
	AddonCount       int
	FlipConsecutive  int
	LastEventTs      int64
}
