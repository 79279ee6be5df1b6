package engine

import (
	"github.com/dryrun-futures/engine/internal/fp"
	"github.com/dryrun-futures/engine/internal/ids"
	"github.com/dryrun-futures/engine/internal/impact"
)

// validate rejects structurally invalid orders before any book or
// position interaction, per spec §4.1 step 5.
func (e *Engine) validate(req OrderRequest) (string, bool) {
	if !req.Qty.IsPositive() {
		return ReasonInvalidQty, false
	}
	if req.Type == Limit && !req.Price.IsPositive() {
		return ReasonInvalidLimitPrice, false
	}
	if req.ReduceOnly {
		if e.position == nil || e.position.Side() != req.Side.Opposite() {
			return ReasonReduceOnlyRejected, false
		}
	}
	return "", true
}

// splitClosingOpening divides a requested qty into the portion that
// closes the existing opposite-side position and the portion that
// would open or extend same-side exposure.
func (e *Engine) splitClosingOpening(side Side, qty fp.Fp) (closingQty, openingQty fp.Fp) {
	if e.position != nil && e.position.Side() == side.Opposite() {
		closingQty = fp.Min(qty, e.position.AbsQty())
	}
	openingQty = qty.Sub(closingQty)
	return closingQty, openingQty
}

// openingCap applies the position-cap rule of spec §4.1 step 6: closing
// qty is always allowed in full; opening qty is capped by remaining
// notional headroom at the reference (mark) price.
func (e *Engine) openingCap(side Side, openingQtyRequested, markPrice fp.Fp) fp.Fp {
	if !markPrice.IsPositive() {
		return fp.Zero
	}
	existingSameSideNotional := fp.Zero
	if e.position != nil && e.position.Side() == side {
		existingSameSideNotional = e.position.AbsQty().Mul(markPrice)
	}
	capacityNotional := e.leverageOverride.Mul(e.cfg.InitialMarginUsdt)
	availableNotional := fp.Max0(capacityNotional.Sub(existingSameSideNotional))
	maxOpeningQty := availableNotional.Div(markPrice)
	return fp.Min(openingQtyRequested, maxOpeningQty)
}

// limitCheckFor returns the acceptance predicate a LIMIT order's price
// implies for the opposite book side; nil (always-accept) for MARKET.
func limitCheckFor(req OrderRequest) func(fp.Fp) bool {
	if req.Type != Limit {
		return nil
	}
	if req.Side == Buy {
		return func(levelPrice fp.Fp) bool { return levelPrice.LessThanOrEqual(req.Price) }
	}
	return func(levelPrice fp.Fp) bool { return levelPrice.GreaterThanOrEqual(req.Price) }
}

// wouldCross reports whether a post-only order's limit price would
// immediately match the opposite side.
func wouldCross(req OrderRequest, book *Book) bool {
	opp := oppositeSide(book, req.Side)
	if len(*opp) == 0 {
		return false
	}
	check := limitCheckFor(req)
	return check == nil || check((*opp)[0].Price)
}

// feeRate selects the maker or taker rate for a fill.
func (e *Engine) feeRate(maker bool) fp.Fp {
	if maker {
		return e.cfg.MakerFeeRate
	}
	return e.cfg.TakerFeeRate
}

// applyFill updates position state for a single directional fill and
// returns the realized PnL recognized on its closing portion, per spec
// §4.1's position-accounting rules (weighted-average add, proportional
// close, flip-with-reset on an over-closing fill).
func (e *Engine) applyFill(side Side, qty, price fp.Fp, tsMs int64) (realized fp.Fp) {
	if qty.IsZero() {
		return fp.Zero
	}
	if e.position == nil {
		e.openPosition(side, qty, price, tsMs)
		return fp.Zero
	}
	if e.position.Side() == side {
		e.addSameSide(qty, price, tsMs)
		return fp.Zero
	}
	// Opposite side: close up to the existing size, flip on any excess.
	closing := fp.Min(qty, e.position.AbsQty())
	sideSign := fp.FromInt(int64(e.position.Side().Sign()))
	realized = price.Sub(e.position.EntryPrice).Mul(closing).Mul(sideSign)
	remainingPositionQty := e.position.AbsQty().Sub(closing)
	leftoverFill := qty.Sub(closing)

	if remainingPositionQty.IsZero() && leftoverFill.IsPositive() {
		// Flip: fully close, then reopen in the new direction.
		e.position = &Position{
			SignedQty:        fp.FromInt(int64(side.Sign())).Mul(leftoverFill),
			EntryPrice:       price,
			EntryTimestampMs: tsMs,
		}
		return realized
	}
	if remainingPositionQty.IsZero() {
		e.position = nil
		return realized
	}
	e.position.SignedQty = fp.FromInt(int64(e.position.Side().Sign())).Mul(remainingPositionQty)
	return realized
}

func (e *Engine) openPosition(side Side, qty, price fp.Fp, tsMs int64) {
	e.position = &Position{
		SignedQty:        fp.FromInt(int64(side.Sign())).Mul(qty),
		EntryPrice:       price,
		EntryTimestampMs: tsMs,
	}
}

func (e *Engine) addSameSide(qty, price fp.Fp, tsMs int64) {
	existingNotional := e.position.AbsQty().Mul(e.position.EntryPrice)
	addNotional := qty.Mul(price)
	newQty := e.position.AbsQty().Add(qty)
	newEntry := existingNotional.Add(addNotional).Div(newQty)
	e.position.SignedQty = fp.FromInt(int64(e.position.Side().Sign())).Mul(newQty)
	e.position.EntryPrice = newEntry
	_ = tsMs // entry timestamp is preserved across same-side adds
}

// fillOutcome bundles the result of walking the book (optionally with a
// forced-close synthetic residual) for one directional request.
type fillOutcome struct {
	filledQty    fp.Fp
	avgFillPrice fp.Fp
	restingLeft  fp.Fp
}

// walkAndMaybeSynthesize takes liquidity from the book up to allowedQty,
// then — when forcedClose is set and liquidity ran out — synthesizes the
// unmatched residual at the matched VWAP; if nothing matched at all it
// uses markPrice, or the position's entry price when ForcedCloseFallback
// is FallbackLastTradePrice, resolving spec §9 Open Question (b).
func (e *Engine) walkAndMaybeSynthesize(req OrderRequest, allowedQty, markPrice fp.Fp, book *Book, forcedClose bool) fillOutcome {
	opp := oppositeSide(book, req.Side)
	check := limitCheckFor(req)
	filled, notional := takeLiquidity(opp, allowedQty, check)

	residual := allowedQty.Sub(filled)
	if forcedClose && residual.IsPositive() {
		fallback := markPrice
		if filled.IsPositive() {
			fallback = notional.Div(filled)
		} else if e.cfg.ForcedCloseFallback == FallbackLastTradePrice && e.position != nil {
			fallback = e.position.EntryPrice
		}
		notional = notional.Add(residual.Mul(fallback))
		filled = filled.Add(residual)
		residual = fp.Zero
	}

	avg := fp.Zero
	if filled.IsPositive() {
		avg = notional.Div(filled)
	}
	return fillOutcome{filledQty: filled, avgFillPrice: avg, restingLeft: residual}
}

// admitAndExecute validates and runs a single newly submitted order for
// this event, returning its result plus realized PnL and fee.
func (e *Engine) admitAndExecute(req OrderRequest, tsMs int64, markPrice fp.Fp, book *Book) (OrderResult, fp.Fp, fp.Fp) {
	orderID := e.idGen.NextOrderID(orderFingerprint(req, tsMs))

	if code, ok := e.validate(req); !ok {
		return rejected(orderID, req, code), fp.Zero, fp.Zero
	}
	if req.PostOnly && wouldCross(req, book) {
		return rejected(orderID, req, ReasonOrderRejected), fp.Zero, fp.Zero
	}

	closingQty, openingQtyRequested := e.splitClosingOpening(req.Side, req.Qty)
	openingAllowed := openingQtyRequested
	if !req.ReduceOnly {
		openingAllowed = e.openingCap(req.Side, openingQtyRequested, markPrice)
	} else {
		openingAllowed = fp.Zero
	}
	allowedQty := closingQty.Add(openingAllowed)

	if allowedQty.IsZero() && closingQty.IsZero() && openingQtyRequested.IsPositive() {
		return rejected(orderID, req, ReasonPositionLimit), fp.Zero, fp.Zero
	}

	if req.PostOnly {
		// A resting post-only order never walks the book on admission.
		e.restOrder(req, orderID, tsMs, allowedQty, true)
		return OrderResult{
			OrderID:        orderID,
			Status:         StatusNew,
			Side:           req.Side,
			Type:           req.Type,
			RequestedQty:   req.Qty,
			RemainingQty:   allowedQty,
			ReasonCode:     req.ReasonCode,
			AddonIndex:     req.AddonIndex,
			RepriceAttempt: req.RepriceAttempt,
			ClientOrderID:  req.ClientOrderID,
		}, fp.Zero, fp.Zero
	}

	out := e.walkAndMaybeSynthesize(req, allowedQty, markPrice, book, false)
	adjusted := e.adjustForImpact(req.Side, req.Type, req.TIF, req.Qty, out, book, false)

	realized, fee := e.settleFill(req.Side, closingQty, out.filledQty, adjusted.AdjustedAvgFillPrice, false, tsMs)

	status, remaining := resolveNewOrderStatus(req, out.filledQty)
	if req.Type == Limit && req.TIF == GTC && remaining.IsPositive() {
		e.restOrder(req, orderID, tsMs, remaining, false)
	}

	res := OrderResult{
		OrderID:         orderID,
		Status:          status,
		Side:            req.Side,
		Type:            req.Type,
		RequestedQty:    req.Qty,
		FilledQty:       out.filledQty,
		RemainingQty:    remaining,
		AvgFillPrice:    adjusted.AdjustedAvgFillPrice,
		Fee:             fee,
		RealizedPnl:     realized,
		SlippageBps:     adjusted.SlippageBps,
		MarketImpactBps: adjusted.MarketImpactBps,
		ReasonCode:      req.ReasonCode,
		AddonIndex:      req.AddonIndex,
		RepriceAttempt:  req.RepriceAttempt,
		ClientOrderID:   req.ClientOrderID,
	}
	if out.filledQty.IsPositive() {
		res.TradeIDs = []string{e.idGen.NextTradeID(tradeFingerprint(req.Side, tsMs, out.filledQty))}
	}
	return res, realized, fee
}

func resolveNewOrderStatus(req OrderRequest, filledQty fp.Fp) (OrderStatus, fp.Fp) {
	remaining := req.Qty.Sub(filledQty)
	switch {
	case remaining.IsZero():
		return StatusFilled, fp.Zero
	case filledQty.IsPositive() && req.TIF == IOC:
		return StatusPartial, fp.Zero
	case filledQty.IsZero() && req.TIF == IOC:
		return StatusCanceled, fp.Zero
	case req.TIF == GTC && filledQty.IsPositive():
		return StatusPartial, remaining
	default:
		return StatusNew, remaining
	}
}

func (e *Engine) restOrder(req OrderRequest, orderID string, tsMs int64, remainingQty fp.Fp, makerConfirmed bool) {
	p := &PendingLimitOrder{
		OrderID:        orderID,
		Side:           req.Side,
		Price:          req.Price,
		RemainingQty:   remainingQty,
		RequestedQty:   req.Qty,
		ReduceOnly:     req.ReduceOnly,
		CreatedTsMs:    tsMs,
		ClientOrderID:  req.ClientOrderID,
		ReasonCode:     req.ReasonCode,
		AddonIndex:     req.AddonIndex,
		RepriceAttempt: req.RepriceAttempt,
		TTLMs:          req.TTLMs,
		MakerConfirmed: makerConfirmed,
	}
	e.pending[orderID] = p
	e.pendingFIFO = append(e.pendingFIFO, orderID)
}

// matchPendingLimit retries a resting GTC limit order against the
// current tick's book, applying TTL expiry after a zero-or-partial
// match attempt.
func (e *Engine) matchPendingLimit(pend *PendingLimitOrder, tsMs int64, markPrice fp.Fp, book *Book) (*OrderResult, fp.Fp, fp.Fp) {
	req := OrderRequest{
		Side:       pend.Side,
		Type:       Limit,
		TIF:        GTC,
		Qty:        pend.RemainingQty,
		Price:      pend.Price,
		ReduceOnly: pend.ReduceOnly,
	}
	closingQty, openingQtyRequested := e.splitClosingOpening(req.Side, req.Qty)
	openingAllowed := fp.Zero
	if !req.ReduceOnly {
		openingAllowed = e.openingCap(req.Side, openingQtyRequested, markPrice)
	}
	allowedQty := closingQty.Add(openingAllowed)

	out := e.walkAndMaybeSynthesize(req, allowedQty, markPrice, book, false)
	adjusted := e.adjustForImpact(req.Side, req.Type, req.TIF, req.Qty, out, book, true)
	realized, fee := e.settleFill(req.Side, closingQty, out.filledQty, adjusted.AdjustedAvgFillPrice, pend.MakerConfirmed, tsMs)

	pend.RemainingQty = pend.RemainingQty.Sub(out.filledQty)

	expired := pend.TTLMs > 0 && tsMs-pend.CreatedTsMs >= pend.TTLMs && pend.RemainingQty.IsPositive()
	done := pend.RemainingQty.IsZero() || expired

	var res *OrderResult
	if out.filledQty.IsPositive() || expired {
		status := StatusPartial
		if pend.RemainingQty.IsZero() {
			status = StatusFilled
		} else if expired {
			status = StatusExpired
		}
		reasonCode := pend.ReasonCode
		if expired {
			reasonCode = ReasonLimitTTLCancel
		}
		r := OrderResult{
			OrderID:         pend.OrderID,
			Status:          status,
			Side:            pend.Side,
			Type:            Limit,
			RequestedQty:    pend.RequestedQty,
			FilledQty:       out.filledQty,
			RemainingQty:    pend.RemainingQty,
			AvgFillPrice:    adjusted.AdjustedAvgFillPrice,
			Fee:             fee,
			RealizedPnl:     realized,
			SlippageBps:     adjusted.SlippageBps,
			MarketImpactBps: adjusted.MarketImpactBps,
			ReasonCode:      reasonCode,
			AddonIndex:      pend.AddonIndex,
			RepriceAttempt:  pend.RepriceAttempt,
			ClientOrderID:   pend.ClientOrderID,
		}
		if out.filledQty.IsPositive() {
			r.TradeIDs = []string{e.idGen.NextTradeID(tradeFingerprint(pend.Side, tsMs, out.filledQty))}
		}
		res = &r
	}

	if done {
		e.removePending(pend.OrderID)
	}
	return res, realized, fee
}

func (e *Engine) removePending(orderID string) {
	delete(e.pending, orderID)
	for i, id := range e.pendingFIFO {
		if id == orderID {
			e.pendingFIFO = append(e.pendingFIFO[:i], e.pendingFIFO[i+1:]...)
			break
		}
	}
}

// adjustForImpact runs the market-impact model over a walked fill.
func (e *Engine) adjustForImpact(side Side, orderType OrderType, tif TIF, requestedQty fp.Fp, out fillOutcome, book *Book, restingResidual bool) impact.Output {
	if out.filledQty.IsZero() {
		return impact.Output{AdjustedAvgFillPrice: out.avgFillPrice}
	}
	opp := *oppositeSide(book, side)
	in := impactInputFor(side, orderType, tif, requestedQty, out.filledQty, out.avgFillPrice, opp, restingResidual && out.restingLeft.IsPositive())
	return impact.Apply(in, e.cfg.ImpactParams)
}

// settleFill applies a filled qty to the position and returns the
// realized PnL and fee it generates.
func (e *Engine) settleFill(side Side, closingQty, filledQty, avgPrice fp.Fp, maker bool, tsMs int64) (realized, fee fp.Fp) {
	realized = e.applyFill(side, filledQty, avgPrice, tsMs)
	feeRate := e.feeRate(maker)
	fee = filledQty.Mul(avgPrice).Mul(feeRate)
	return realized, fee
}

func rejected(orderID string, req OrderRequest, code string) OrderResult {
	return OrderResult{
		OrderID:       orderID,
		Status:        StatusRejected,
		Side:          req.Side,
		Type:          req.Type,
		RequestedQty:  req.Qty,
		ReasonCode:    code,
		ClientOrderID: req.ClientOrderID,
		AddonIndex:    req.AddonIndex,
	}
}

func orderFingerprint(req OrderRequest, tsMs int64) ids.OrderFingerprint {
	return ids.OrderFingerprint{
		TimestampMs: tsMs,
		Side:        string(req.Side),
		Qty:         req.Qty,
		Type:        string(req.Type),
		Price:       req.Price,
	}
}

func tradeFingerprint(side Side, tsMs int64, qty fp.Fp) ids.TradeFingerprint {
	return ids.TradeFingerprint{
		EntryTimestampMs: tsMs,
		CloseTimestampMs: tsMs,
		Side:             string(side),
		Qty:              qty,
	}
}
