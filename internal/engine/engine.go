package engine

import (
	"github.com/rs/zerolog"

	"github.com/dryrun-futures/engine/internal/fp"
	"github.com/dryrun-futures/engine/internal/ids"
	"github.com/dryrun-futures/engine/internal/impact"
)

// Event is a single admitted market/order event, per spec §4.1's input
// shape: (timestampMs, markPrice, orderBook, orders?).
type Event struct {
	TimestampMs int64
	MarkPrice   fp.Fp
	Book        Book
	Orders      []OrderRequest
}

// Engine is the matching/accounting engine for a single symbol run. It
// is not safe for concurrent use — callers must serialize events, per
// spec §5.
type Engine struct {
	cfg   Config
	idGen *ids.Generator
	log   zerolog.Logger

	wallet   fp.Fp
	position *Position

	pending   map[string]*PendingLimitOrder
	pendingFIFO []string // orderId insertion order, for deterministic iteration

	lastEventTs          int64
	lastFundingBoundary  int64
	fundingBoundarySet   bool
	sequence             int64
	leverageOverride     fp.Fp
}

// New constructs an engine for a run, with wallet seeded at
// cfg.WalletBalanceStart.
func New(cfg Config, idGen *ids.Generator, log zerolog.Logger) *Engine {
	return &Engine{
		cfg:              cfg,
		idGen:            idGen,
		log:              log,
		wallet:           cfg.WalletBalanceStart,
		pending:          make(map[string]*PendingLimitOrder),
		leverageOverride: cfg.Leverage,
	}
}

// SetLeverageOverride adjusts the leverage used by the position-cap
// rule; must be > 0.
func (e *Engine) SetLeverageOverride(leverage fp.Fp) error {
	if !leverage.IsPositive() {
		return &AdmissionError{ReasonCode: ErrInvalidLeverage, Msg: "leverage must be positive"}
	}
	e.leverageOverride = leverage
	return nil
}

// GetStateSnapshot derives the engine's externally observable state. If
// markPrice is provided (non-zero), marginHealth is computed against it;
// otherwise the last position entry price is used as a fallback
// reference.
func (e *Engine) GetStateSnapshot(markPrice fp.Fp) StateSnapshot {
	ref := markPrice
	if ref.IsZero() && e.position != nil {
		ref = e.position.EntryPrice
	}
	limits := make([]PendingLimitOrder, 0, len(e.pending))
	for _, id := range e.pendingFIFO {
		if p, ok := e.pending[id]; ok {
			limits = append(limits, *p)
		}
	}
	return StateSnapshot{
		Wallet:                e.wallet,
		Position:              e.copyPosition(),
		OpenLimits:            limits,
		LastFundingBoundaryMs: e.lastFundingBoundary,
		MarginHealth:          e.marginHealth(ref),
	}
}

func (e *Engine) copyPosition() *Position {
	if e.position == nil {
		return nil
	}
	cp := *e.position
	return &cp
}

// RestoreState rehydrates the engine from a previously captured
// snapshot without replaying events.
func (e *Engine) RestoreState(snap StateSnapshot, lastEventTs int64, sequence int64) {
	e.wallet = snap.Wallet
	if snap.Position != nil {
		cp := *snap.Position
		e.position = &cp
	} else {
		e.position = nil
	}
	e.pending = make(map[string]*PendingLimitOrder, len(snap.OpenLimits))
	e.pendingFIFO = e.pendingFIFO[:0]
	for i := range snap.OpenLimits {
		p := snap.OpenLimits[i]
		e.pending[p.OrderID] = &p
		e.pendingFIFO = append(e.pendingFIFO, p.OrderID)
	}
	e.lastFundingBoundary = snap.LastFundingBoundaryMs
	e.fundingBoundarySet = true
	e.lastEventTs = lastEventTs
	e.sequence = sequence
}

// ProcessEvent is the engine's single entry point (spec §4.1).
func (e *Engine) ProcessEvent(ev Event) (EventLogRecord, error) {
	// Step 1: admission.
	if ev.TimestampMs <= 0 {
		return EventLogRecord{}, &AdmissionError{ReasonCode: ErrInvalidEventTimestamp, Msg: "timestampMs must be positive"}
	}
	if e.sequence > 0 && ev.TimestampMs <= e.lastEventTs {
		return EventLogRecord{}, &AdmissionError{ReasonCode: ErrNonMonotonicEventTime, Msg: "timestampMs must exceed the last accepted event"}
	}
	e.lastEventTs = ev.TimestampMs

	// Step 2: book normalization.
	book := normalizeBook(ev.Book, e.cfg.BookDepth)
	if isCrossed(book) {
		return EventLogRecord{}, &FatalError{ReasonCode: ErrCrossedBook, Msg: "best bid >= best ask after normalization"}
	}

	walletBefore := e.wallet
	var realizedTotal, feeTotal fp.Fp
	var results []OrderResult

	// Step 3: funding gap loop.
	fundingImpact := e.applyFunding(ev.TimestampMs, ev.MarkPrice)

	// Step 4: pending-limit matching.
	for _, orderID := range append([]string(nil), e.pendingFIFO...) {
		pend, ok := e.pending[orderID]
		if !ok {
			continue
		}
		res, realized, fee := e.matchPendingLimit(pend, ev.TimestampMs, ev.MarkPrice, &book)
		realizedTotal = realizedTotal.Add(realized)
		feeTotal = feeTotal.Add(fee)
		if res != nil {
			results = append(results, *res)
		}
	}

	// Step 5 & 6: new orders, validated then executed.
	for _, req := range ev.Orders {
		res, realized, fee := e.admitAndExecute(req, ev.TimestampMs, ev.MarkPrice, &book)
		realizedTotal = realizedTotal.Add(realized)
		feeTotal = feeTotal.Add(fee)
		results = append(results, res)
	}

	// Step 7: liquidation check.
	liquidationTriggered := false
	if e.position != nil {
		if triggered, res, realized, fee := e.maybeLiquidate(ev.TimestampMs, ev.MarkPrice, &book); triggered {
			liquidationTriggered = true
			realizedTotal = realizedTotal.Add(realized)
			feeTotal = feeTotal.Add(fee)
			results = append(results, res...)
		}
	}

	// Step 8: reconciliation.
	expectedAfter := walletBefore.Add(fundingImpact).Add(realizedTotal).Sub(feeTotal)
	walletAfter := expectedAfter
	if liquidationTriggered && expectedAfter.IsNegative() {
		walletAfter = fp.Zero
	} else if !expectedAfter.Equal(walletAfter) {
		// Unreachable by construction — walletAfter is computed from
		// the same formula as expectedAfter — kept as an explicit,
		// documented invariant guard per spec §7.
		return EventLogRecord{}, &FatalError{ReasonCode: ErrWalletReconciliation, Msg: "wallet does not reconcile with realized pnl, fee, and funding impact"}
	}
	e.wallet = walletAfter

	// Step 9: emit log.
	e.sequence++
	eventID := e.idGen.NextEventID(ev.TimestampMs)
	for _, res := range results {
		if ids.LooksLikeUUID(res.OrderID) {
			return EventLogRecord{}, &FatalError{ReasonCode: ErrInvalidRandomLikeOrderID, Msg: "generated orderId resembles a UUID"}
		}
	}

	rec := EventLogRecord{
		RunID:                       e.cfg.RunID,
		EventTimestampMs:            ev.TimestampMs,
		Sequence:                    e.sequence,
		EventID:                     eventID,
		WalletBefore:                walletBefore.Round8(),
		WalletAfter:                 walletAfter.Round8(),
		RealizedPnl:                 realizedTotal.Round8(),
		Fee:                         feeTotal.Round8(),
		FundingImpact:               fundingImpact.Round8(),
		ReconciliationExpectedAfter: expectedAfter.Round8(),
		MarginHealth:                e.marginHealth(ev.MarkPrice),
		LiquidationTriggered:        liquidationTriggered,
		OrderResults:                results,
	}

	e.log.Debug().
		Str("event_id", rec.EventID).
		Int64("seq", rec.Sequence).
		Str("wallet_after", rec.WalletAfter.String()).
		Bool("liquidation", rec.LiquidationTriggered).
		Msg("event processed")

	return rec, nil
}

// applyFunding runs the funding gap loop of spec §4.1 step 3.
func (e *Engine) applyFunding(eventTimestampMs int64, markPrice fp.Fp) fp.Fp {
	if !e.fundingBoundarySet {
		if e.cfg.FundingStartBoundaryMs != nil {
			e.lastFundingBoundary = *e.cfg.FundingStartBoundaryMs
		} else if e.cfg.FundingIntervalMs > 0 {
			e.lastFundingBoundary = (eventTimestampMs / e.cfg.FundingIntervalMs) * e.cfg.FundingIntervalMs
		}
		e.fundingBoundarySet = true
	}
	total := fp.Zero
	if e.cfg.FundingIntervalMs <= 0 {
		return total
	}
	for eventTimestampMs >= e.lastFundingBoundary+e.cfg.FundingIntervalMs {
		if e.position != nil {
			signSign := fp.FromInt(int64(e.position.Side().Sign()))
			impactAmt := signSign.Neg().Mul(e.position.AbsQty()).Mul(markPrice).Mul(e.cfg.FundingRate)
			total = total.Add(impactAmt)
		}
		e.lastFundingBoundary += e.cfg.FundingIntervalMs
	}
	return total
}

// marginHealth computes (equity - maintenance) / equity clamped to <=
// 1; -1 encodes non-positive equity, per the glossary.
func (e *Engine) marginHealth(markPrice fp.Fp) fp.Fp {
	if e.position == nil {
		return fp.FromInt(1)
	}
	equity := e.equity(markPrice)
	if !equity.IsPositive() {
		return fp.FromInt(-1)
	}
	maintenance := e.position.AbsQty().Mul(markPrice).Mul(e.cfg.MaintenanceMarginRate)
	health := equity.Sub(maintenance).Div(equity)
	return fp.Min(health, fp.FromInt(1))
}

func (e *Engine) unrealizedPnl(markPrice fp.Fp) fp.Fp {
	if e.position == nil {
		return fp.Zero
	}
	sideSign := fp.FromInt(int64(e.position.Side().Sign()))
	return markPrice.Sub(e.position.EntryPrice).Mul(e.position.AbsQty()).Mul(sideSign)
}

func (e *Engine) equity(markPrice fp.Fp) fp.Fp {
	return e.wallet.Add(e.unrealizedPnl(markPrice))
}

// impactInputFor builds an impact.Input from a just-walked fill.
func impactInputFor(side Side, orderType OrderType, tif TIF, requestedQty, filledQty, avgFillPrice fp.Fp, oppLevels []Level, restingResidual bool) impact.Input {
	lvls := make([]impact.Level, len(oppLevels))
	for i, l := range oppLevels {
		lvls[i] = impact.Level{Price: l.Price, Qty: l.Qty}
	}
	impSide := impact.Buy
	if side == Sell {
		impSide = impact.Sell
	}
	return impact.Input{
		Side:            impSide,
		Type:            string(orderType),
		TIF:             string(tif),
		RequestedQty:    requestedQty,
		FilledQty:       filledQty,
		AvgFillPrice:    avgFillPrice,
		OppositeLevels:  lvls,
		RestingResidual: restingResidual,
	}
}
