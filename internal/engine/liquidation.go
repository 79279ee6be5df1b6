package engine

import "github.com/dryrun-futures/engine/internal/fp"

// maybeLiquidate runs spec §4.1 step 7: if equity has fallen to or
// below maintenance margin plus the estimated taker close fee, the
// entire position is force-closed with a MARKET IOC reduce-only order,
// synthesizing any unmatched residual per the configured fallback.
func (e *Engine) maybeLiquidate(tsMs int64, markPrice fp.Fp, book *Book) (bool, []OrderResult, fp.Fp, fp.Fp) {
	if e.position == nil {
		return false, nil, fp.Zero, fp.Zero
	}
	equity := e.equity(markPrice)
	maintenance := e.position.AbsQty().Mul(markPrice).Mul(e.cfg.MaintenanceMarginRate)
	estimatedCloseFee := e.position.AbsQty().Mul(markPrice).Mul(e.cfg.TakerFeeRate)
	if equity.GreaterThan(maintenance.Add(estimatedCloseFee)) {
		return false, nil, fp.Zero, fp.Zero
	}

	closeSide := e.position.Side().Opposite()
	req := OrderRequest{
		Side:       closeSide,
		Type:       Market,
		TIF:        IOC,
		Qty:        e.position.AbsQty(),
		ReduceOnly: true,
		ReasonCode: ReasonForcedLiquidation,
	}
	orderID := e.idGen.NextOrderID(orderFingerprint(req, tsMs))

	out := e.walkAndMaybeSynthesize(req, req.Qty, markPrice, book, true)
	adjusted := e.adjustForImpact(req.Side, req.Type, req.TIF, req.Qty, out, book, false)
	realized, fee := e.settleFill(req.Side, req.Qty, out.filledQty, adjusted.AdjustedAvgFillPrice, false, tsMs)

	res := OrderResult{
		OrderID:         orderID,
		Status:          StatusFilled,
		Side:            req.Side,
		Type:            req.Type,
		RequestedQty:    req.Qty,
		FilledQty:       out.filledQty,
		RemainingQty:    fp.Zero,
		AvgFillPrice:    adjusted.AdjustedAvgFillPrice,
		Fee:             fee,
		RealizedPnl:     realized,
		SlippageBps:     adjusted.SlippageBps,
		MarketImpactBps: adjusted.MarketImpactBps,
		ReasonCode:      ReasonForcedLiquidation,
	}
	if out.filledQty.IsPositive() {
		res.TradeIDs = []string{e.idGen.NextTradeID(tradeFingerprint(req.Side, tsMs, out.filledQty))}
	}

	e.pending = make(map[string]*PendingLimitOrder)
	e.pendingFIFO = e.pendingFIFO[:0]

	return true, []OrderResult{res}, realized, fee
}
