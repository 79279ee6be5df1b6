// Package engine implements the matching/accounting engine: fixed-point
// order-book matching, position arithmetic, fee/funding application,
// and liquidation, per spec §4.1.
package engine

import (
	"github.com/dryrun-futures/engine/internal/fp"
	"github.com/dryrun-futures/engine/internal/impact"
)

// Side is an order or position side.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Sign returns +1 for BUY, -1 for SELL.
func (s Side) Sign() int {
	if s == Sell {
		return -1
	}
	return 1
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderType is MARKET or LIMIT.
type OrderType string

const (
	Market OrderType = "MARKET"
	Limit  OrderType = "LIMIT"
)

// TIF is the time-in-force: IOC or GTC.
type TIF string

const (
	IOC TIF = "IOC"
	GTC TIF = "GTC"
)

// OrderStatus is the resolved status of an OrderResult.
type OrderStatus string

const (
	StatusFilled    OrderStatus = "FILLED"
	StatusPartial   OrderStatus = "PARTIALLY_FILLED"
	StatusNew       OrderStatus = "NEW"
	StatusCanceled  OrderStatus = "CANCELED"
	StatusRejected  OrderStatus = "REJECTED"
	StatusExpired   OrderStatus = "EXPIRED"
)

// Reason codes a caller may observe, per spec §6.
const (
	ReasonInvalidQty          = "INVALID_QTY"
	ReasonInvalidLimitPrice   = "INVALID_LIMIT_PRICE"
	ReasonReduceOnlyRejected  = "REDUCE_ONLY_REJECTED"
	ReasonPositionLimit       = "POSITION_LIMIT_REJECTED"
	ReasonOrderRejected       = "ORDER_REJECTED"
	ReasonForcedLiquidation   = "FORCED_LIQUIDATION"
	ReasonLimitTTLCancel      = "LIMIT_TTL_CANCEL"
)

// Level is a single order-book price level.
type Level struct {
	Price fp.Fp
	Qty   fp.Fp
}

// Book is a two-sided order book snapshot: bids ordered desc by price,
// asks ordered asc by price.
type Book struct {
	Bids []Level
	Asks []Level
}

// BestBid returns the best bid level, or a zero level if bids is empty.
func (b Book) BestBid() (Level, bool) {
	if len(b.Bids) == 0 {
		return Level{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the best ask level, or a zero level if asks is empty.
func (b Book) BestAsk() (Level, bool) {
	if len(b.Asks) == 0 {
		return Level{}, false
	}
	return b.Asks[0], true
}

// BestSameSide returns the best quote on the side an order of the given
// side would rest on: the best bid for a Buy, the best ask for a Sell.
// Callers outside this package (add-on maker placement) use this instead
// of the unexported sameSide helper.
func (b Book) BestSameSide(side Side) (Level, bool) {
	if side == Buy {
		return b.BestBid()
	}
	return b.BestAsk()
}

// OrderRequest is a single order submission within a processed event.
type OrderRequest struct {
	Side           Side
	Type           OrderType
	TIF            TIF
	Qty            fp.Fp
	Price          fp.Fp // LIMIT only
	ReduceOnly     bool
	PostOnly       bool
	TTLMs          int64
	ReasonCode     string
	ClientOrderID  string
	AddonIndex     int
	RepriceAttempt int
}

// PendingLimitOrder is a resting GTC limit order.
type PendingLimitOrder struct {
	OrderID        string
	Side           Side
	Price          fp.Fp
	RemainingQty   fp.Fp
	RequestedQty   fp.Fp
	ReduceOnly     bool
	CreatedTsMs    int64
	ClientOrderID  string
	ReasonCode     string
	AddonIndex     int
	RepriceAttempt int
	TTLMs          int64
	// MakerConfirmed is set when this order rested fully (zero fill) on
	// the tick it was placed with PostOnly set; subsequent fills of a
	// maker-confirmed order use MakerFeeRate instead of TakerFeeRate,
	// resolving spec §9 Open Question (a).
	MakerConfirmed bool
}

// Position is the single open position for a symbol, at most one.
type Position struct {
	SignedQty        fp.Fp
	EntryPrice       fp.Fp
	EntryTimestampMs int64
}

// Side derives the position's side from the sign of SignedQty. Callers
// must not call this on a nil Position.
func (p *Position) Side() Side {
	if p.SignedQty.IsNegative() {
		return Sell
	}
	return Buy
}

// AbsQty returns the unsigned position size.
func (p *Position) AbsQty() fp.Fp {
	return p.SignedQty.Abs()
}

// OrderResult is the outcome of processing a single order.
type OrderResult struct {
	OrderID         string
	Status          OrderStatus
	Side            Side
	Type            OrderType
	RequestedQty    fp.Fp
	FilledQty       fp.Fp
	RemainingQty    fp.Fp
	AvgFillPrice    fp.Fp
	Fee             fp.Fp
	RealizedPnl     fp.Fp
	SlippageBps     fp.Fp
	MarketImpactBps fp.Fp
	ReasonText      string
	ReasonCode      string
	AddonIndex      int
	RepriceAttempt  int
	ClientOrderID   string
	TradeIDs        []string
}

// EventLogRecord is the per-processed-event audit record, per spec §3.
type EventLogRecord struct {
	RunID                       string
	EventTimestampMs            int64
	Sequence                    int64
	EventID                     string
	WalletBefore                fp.Fp
	WalletAfter                 fp.Fp
	RealizedPnl                 fp.Fp
	Fee                         fp.Fp
	FundingImpact               fp.Fp
	ReconciliationExpectedAfter fp.Fp
	MarginHealth                fp.Fp
	LiquidationTriggered        bool
	OrderResults                []OrderResult
}

// StateSnapshot is the engine's externally observable state.
type StateSnapshot struct {
	Wallet                 fp.Fp
	Position               *Position
	OpenLimits              []PendingLimitOrder
	LastFundingBoundaryMs  int64
	MarginHealth           fp.Fp
}

// ForcedCloseFallback selects the reference price used to synthesize a
// liquidation fill when nothing in the book matched, resolving spec §9
// Open Question (b).
type ForcedCloseFallback int

const (
	FallbackMarkPrice ForcedCloseFallback = iota
	FallbackLastTradePrice
)

// Config is the engine's run configuration, drawn from spec §6's Run
// config shape.
type Config struct {
	RunID                 string
	WalletBalanceStart    fp.Fp
	InitialMarginUsdt     fp.Fp
	Leverage              fp.Fp
	TakerFeeRate          fp.Fp
	MakerFeeRate          fp.Fp
	MaintenanceMarginRate fp.Fp
	FundingRate           fp.Fp
	FundingIntervalMs     int64
	FundingStartBoundaryMs *int64
	BookDepth             int
	ForcedCloseFallback   ForcedCloseFallback
	ImpactParams          impact.Params
}

// DefaultConfig returns sane defaults matching the S1-S6 scenarios'
// implicit fee/funding shape, overridden per-run by callers.
func DefaultConfig(runID string) Config {
	return Config{
		RunID:                 runID,
		WalletBalanceStart:    fp.FromInt(0),
		InitialMarginUsdt:     fp.FromInt(0),
		Leverage:              fp.FromInt(1),
		TakerFeeRate:          fp.FromFloat(0.0004),
		MakerFeeRate:          fp.FromFloat(0.0002),
		MaintenanceMarginRate: fp.FromFloat(0.005),
		FundingRate:           fp.Zero,
		FundingIntervalMs:     3600_000,
		BookDepth:             20,
		ForcedCloseFallback:   FallbackMarkPrice,
		ImpactParams:          impact.DefaultParams(),
	}
}
