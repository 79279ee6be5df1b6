// Package supervisor implements the session supervisor of spec §4.4:
// the outward-facing per-symbol state machine that admits depth
// events, synthesizes orders from manual/strategy/winner-stop/add-on/
// flip sources in the documented order of precedence, drives the
// matching engine, and keeps the derived-metrics and governor state in
// sync with the engine's position transitions.
package supervisor

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dryrun-futures/engine/internal/addon"
	"github.com/dryrun-futures/engine/internal/engine"
	"github.com/dryrun-futures/engine/internal/flip"
	"github.com/dryrun-futures/engine/internal/fp"
	"github.com/dryrun-futures/engine/internal/guard"
	"github.com/dryrun-futures/engine/internal/ids"
	"github.com/dryrun-futures/engine/internal/metrics"
	"github.com/dryrun-futures/engine/internal/riskgov"
	"github.com/dryrun-futures/engine/internal/stopmgr"
	"github.com/dryrun-futures/engine/internal/store"
	"github.com/dryrun-futures/engine/internal/tradelog"
)

// session is one symbol's live state: the matching engine plus every
// derived-component state the supervisor must keep synchronized with
// it (§4.4's position-state-change sync).
type session struct {
	symbol string
	cfg    Config

	eng     *engine.Engine
	metrics *metrics.Tracker

	stop  *stopmgr.State // nil when flat
	addon addon.State
	flip  flip.State

	hasPosition     bool
	positionSide    StrategySide
	lastEntryOrAddOnTs int64

	riskEmergencyStreak int

	lastSignal     *StrategyAction // most recent non-NOOP strategy signal, for addon/flip gating
	pendingFlip    *flip.PendingFlipEntry

	queue []engine.OrderRequest

	lastEventTs int64
	running     bool

	lastSnapshot metrics.Snapshot

	tradeLog *tradelog.Logger
}

// Supervisor owns one session per symbol for a single run.
type Supervisor struct {
	mu       sync.Mutex
	runID    string
	log      zerolog.Logger
	sessions map[string]*session
	store    *store.Store
}

// New constructs an empty supervisor bound to runID.
func New(runID string, log zerolog.Logger) *Supervisor {
	return &Supervisor{
		runID:    runID,
		log:      log,
		sessions: make(map[string]*session),
	}
}

// Start admits the given per-symbol configs, running the session-level
// admission checks of spec §6/§7 before any engine is constructed.
func (sup *Supervisor) Start(configs map[string]Config) error {
	sup.mu.Lock()
	defer sup.mu.Unlock()

	if len(configs) == 0 {
		return &SessionError{Code: ErrSymbolsRequired, Msg: "at least one symbol config is required"}
	}

	for _, cfg := range configs {
		if !cfg.Engine.WalletBalanceStart.IsPositive() {
			return &SessionError{Code: ErrWalletBalanceMustBePositive, Msg: "walletBalanceStartUsdt must be > 0"}
		}
		if !cfg.Engine.InitialMarginUsdt.IsPositive() {
			return &SessionError{Code: ErrInitialMarginMustBePositive, Msg: "initialMarginUsdt must be > 0"}
		}
		if !cfg.Engine.Leverage.IsPositive() {
			return &SessionError{Code: ErrLeverageMustBePositive, Msg: "leverage must be > 0"}
		}
		if cfg.Engine.FundingIntervalMs <= 0 {
			return &SessionError{Code: ErrInvalidFundingIntervalMs, Msg: "fundingIntervalMs must be > 0"}
		}
		if err := guard.Validate(cfg.Proxy); err != nil {
			return err
		}
	}

	if sup.store == nil {
		for _, cfg := range configs {
			if cfg.StorePath != "" {
				st, err := store.Open(cfg.StorePath)
				if err != nil {
					return fmt.Errorf("supervisor: open store: %w", err)
				}
				sup.store = st
				break
			}
		}
	}

	for symbol, cfg := range configs {
		idGen := ids.NewGenerator(sup.runID + ":" + symbol)
		if cfg.Tradelog.Dir == "" {
			cfg.Tradelog = tradelog.DefaultConfig("./dryrun-logs/" + symbol)
		}
		tl, err := tradelog.New(cfg.Tradelog, sup.log)
		if err != nil {
			return fmt.Errorf("supervisor: start tradelog for %s: %w", symbol, err)
		}
		sess := &session{
			symbol:  symbol,
			cfg:     cfg,
			eng:     engine.New(cfg.Engine, idGen, sup.log),
			metrics: metrics.NewTracker(cfg.ATRWindow, cfg.MaxSpreadPct, cfg.TopNLevels),
			running: true,
			tradeLog: tl,
		}
		sup.sessions[symbol] = sess
		sess.tradeLogEnqueue(tradelog.KindSnapshot, time.Now().UnixMilli(), map[string]string{"event": "session_started"})
	}
	return nil
}

// Stop halts every session; engines stop accepting events but retain
// their state for inspection.
func (sup *Supervisor) Stop() {
	sup.mu.Lock()
	defer sup.mu.Unlock()
	for _, sess := range sup.sessions {
		sess.running = false
		if sess.tradeLog != nil {
			sess.tradeLog.Shutdown()
		}
	}
}

// Reset clears all session state, requiring a fresh Start.
func (sup *Supervisor) Reset() {
	sup.mu.Lock()
	defer sup.mu.Unlock()
	sup.sessions = make(map[string]*session)
}

func (sess *session) tradeLogEnqueue(kind tradelog.RecordKind, tsMs int64, payload any) {
	if sess.tradeLog == nil {
		return
	}
	sess.tradeLog.Enqueue(tradelog.Record{Kind: kind, Symbol: sess.symbol, TimestampMs: tsMs, Payload: payload})
}

// SubmitManualTestOrder queues a fixed-size MARKET IOC order for a
// symbol's session, per spec §6's manual order request.
func (sup *Supervisor) SubmitManualTestOrder(req ManualOrderRequest) error {
	sup.mu.Lock()
	defer sup.mu.Unlock()

	sess, err := sup.lookupRunning(req.Symbol)
	if err != nil {
		return err
	}
	if !sess.cfg.ManualTestQty.IsPositive() {
		return &SessionError{Code: ErrManualTestQtyInvalid, Msg: "configured manual test qty must be > 0"}
	}
	sess.queue = append(sess.queue, engine.OrderRequest{
		Side:       req.Side,
		Type:       engine.Market,
		TIF:        engine.IOC,
		Qty:        sess.cfg.ManualTestQty,
		ReasonCode: "MANUAL_TEST",
	})
	return nil
}

// SubmitStrategyDecision applies each action in decision, per spec
// §4.4/§6. ENTRY only records the signal for add-on/flip gating and
// queues no order. ADD records the signal and, while a position is open,
// queues a MARKET order sized via the risk governor; REDUCE and EXIT
// queue reduce-only orders only while a position is open. NOOP is
// ignored.
func (sup *Supervisor) SubmitStrategyDecision(decision StrategyDecision) error {
	sup.mu.Lock()
	defer sup.mu.Unlock()

	sess, err := sup.lookupRunning(decision.Symbol)
	if err != nil {
		return err
	}

	for _, action := range decision.Actions {
		switch action.Type {
		case ActionNoop:
			continue
		case ActionEntry:
			sess.lastSignal = cloneAction(action)
		case ActionAdd:
			sess.lastSignal = cloneAction(action)
			if sess.hasPosition {
				sess.enqueueSized(action, action.Side.toEngineSide(), false, action.Reason)
			}
		case ActionReduce:
			if sess.hasPosition {
				sess.enqueueReduce(action)
			}
		case ActionExit:
			if sess.hasPosition {
				sess.enqueueExit(action)
			}
		}
	}
	return nil
}

func cloneAction(a StrategyAction) *StrategyAction {
	cp := a
	return &cp
}

func (sess *session) sizeMultiplier(action StrategyAction) fp.Fp {
	if action.SizeMultiplier.IsPositive() {
		return action.SizeMultiplier
	}
	return fp.FromInt(1)
}

func (sess *session) enqueueSized(action StrategyAction, side engine.Side, reduceOnly bool, reason string) {
	snap := sess.eng.GetStateSnapshot(fp.Zero)
	equity := snap.Wallet
	price := action.ExpectedPrice
	stopDistance := fp.Max(sess.cfg.Stop.MinRDistance, fp.FromFloat(0.5))
	qty := riskgov.Size(sess.cfg.Risk, equity, priceOrOne(price), stopDistance).Mul(sess.sizeMultiplier(action))
	sess.queue = append(sess.queue, engine.OrderRequest{
		Side:       side,
		Type:       engine.Market,
		TIF:        engine.IOC,
		Qty:        qty,
		ReduceOnly: reduceOnly,
		ReasonCode: reason,
	})
}

func priceOrOne(p fp.Fp) fp.Fp {
	if p.IsPositive() {
		return p
	}
	return fp.FromInt(1)
}

func (sess *session) enqueueReduce(action StrategyAction) {
	snap := sess.eng.GetStateSnapshot(fp.Zero)
	if snap.Position == nil {
		return
	}
	pct := action.ReducePct
	if !pct.IsPositive() {
		pct = fp.FromFloat(0.5)
	}
	qty := snap.Position.AbsQty().Mul(pct)
	sess.queue = append(sess.queue, engine.OrderRequest{
		Side:       snap.Position.Side().Opposite(),
		Type:       engine.Market,
		TIF:        engine.IOC,
		Qty:        qty,
		ReduceOnly: true,
		ReasonCode: nonEmpty(action.Reason, "STRATEGY_REDUCE"),
	})
}

func (sess *session) enqueueExit(action StrategyAction) {
	snap := sess.eng.GetStateSnapshot(fp.Zero)
	if snap.Position == nil {
		return
	}
	sess.queue = append(sess.queue, engine.OrderRequest{
		Side:       snap.Position.Side().Opposite(),
		Type:       engine.Market,
		TIF:        engine.IOC,
		Qty:        snap.Position.AbsQty(),
		ReduceOnly: true,
		ReasonCode: nonEmpty(action.Reason, "STRATEGY_EXIT"),
	})
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// IngestDepthEvent runs the full admission → metrics → order
// synthesis → engine → position-sync pipeline of spec §4.4 for one
// depth event.
func (sup *Supervisor) IngestDepthEvent(ev DepthEvent) (engine.EventLogRecord, error) {
	sup.mu.Lock()
	defer sup.mu.Unlock()

	sess, err := sup.lookupRunning(ev.Symbol)
	if err != nil {
		return engine.EventLogRecord{}, err
	}

	if ev.EventTimestampMs <= sess.lastEventTs {
		return engine.EventLogRecord{}, &engine.AdmissionError{ReasonCode: engine.ErrNonMonotonicEventTime, Msg: "eventTimestampMs must exceed the last accepted event"}
	}
	if sess.lastEventTs > 0 && ev.EventTimestampMs < sess.lastEventTs+sess.cfg.MinEventIntervalMs {
		return engine.EventLogRecord{}, &engine.AdmissionError{ReasonCode: "event_too_soon", Msg: "eventTimestampMs arrived before minEventIntervalMs elapsed"}
	}
	if len(ev.OrderBook.Bids) == 0 || len(ev.OrderBook.Asks) == 0 {
		sup.log.Warn().Str("symbol", ev.Symbol).Msg("depth event has an empty book side")
		return engine.EventLogRecord{}, &engine.AdmissionError{ReasonCode: "empty_book_side", Msg: "both book sides must be non-empty"}
	}

	markPrice := ev.MarkPrice
	if !markPrice.IsPositive() {
		bestBid, _ := ev.OrderBook.BestBid()
		bestAsk, _ := ev.OrderBook.BestAsk()
		markPrice = bestBid.Price.Add(bestAsk.Price).Div(fp.FromInt(2)).Round8()
	}

	snap := sess.metrics.Update(markPrice, toMetricsLevels(ev.OrderBook.Bids), toMetricsLevels(ev.OrderBook.Asks))

	orders := sess.synthesizeOrders(ev.EventTimestampMs, markPrice, snap, ev.OrderBook)

	rec, err := sess.eng.ProcessEvent(engine.Event{
		TimestampMs: ev.EventTimestampMs,
		MarkPrice:   markPrice,
		Book:        ev.OrderBook,
		Orders:      orders,
	})
	if err != nil {
		return rec, err
	}

	sess.lastEventTs = ev.EventTimestampMs
	sess.lastSnapshot = snap
	sess.syncPositionState(ev.EventTimestampMs, rec, snap)
	sess.syncAddonPending(orders, rec, ev.OrderBook)
	sess.checkRiskEmergency(snap)

	sess.tradeLogEnqueue(tradelog.KindSnapshot, ev.EventTimestampMs, rec)

	return rec, nil
}

func toMetricsLevels(lvls []engine.Level) []metrics.Level {
	out := make([]metrics.Level, len(lvls))
	for i, l := range lvls {
		out[i] = metrics.Level{Price: l.Price, Qty: l.Qty}
	}
	return out
}

// synthesizeOrders implements spec §4.4's order-synthesis precedence:
// 1. queued manual/strategy orders, 2. flip-entry or debug entry when
// flat, 3. winner-stop / risk-emergency reduce when a position exists.
func (sess *session) synthesizeOrders(tsMs int64, markPrice fp.Fp, snap metrics.Snapshot, book engine.Book) []engine.OrderRequest {
	if len(sess.queue) > 0 {
		out := sess.queue
		sess.queue = nil
		return out
	}

	state := sess.eng.GetStateSnapshot(markPrice)

	if state.Position == nil {
		if sess.pendingFlip != nil {
			side := flipSideToStrategy(sess.pendingFlip.Side)
			sess.pendingFlip = nil
			return []engine.OrderRequest{sess.entryOrder(side, markPrice, "FLIP_ENTRY")}
		}
		if sess.cfg.DebugAggressiveEntry && tsMs >= sess.lastEntryOrAddOnTs+sess.cfg.DebugEntryCooldownMs {
			return []engine.OrderRequest{sess.entryOrder(StrategyLong, markPrice, "DEBUG_AGGRESSIVE_ENTRY")}
		}
		return nil
	}

	posSide, _ := positionStrategySide(state.Position)

	if sess.stop != nil {
		if _, reason := sess.stop.Update(markPrice, snap.ATR, sess.cfg.Stop); reason != stopmgr.ReasonNone {
			return []engine.OrderRequest{{
				Side:       state.Position.Side().Opposite(),
				Type:       engine.Market,
				TIF:        engine.IOC,
				Qty:        state.Position.AbsQty(),
				ReduceOnly: true,
				ReasonCode: string(reason),
			}}
		}
	}

	if req, ok := sess.evaluateRiskEmergency(state, markPrice, snap); ok {
		return []engine.OrderRequest{req}
	}

	if sess.lastSignal != nil {
		if req, ok := sess.evaluateAddon(posSide, state, markPrice, tsMs, snap, book); ok {
			return []engine.OrderRequest{req}
		}
		if req, ok := sess.evaluateFlip(posSide, state, markPrice, tsMs, snap); ok {
			return []engine.OrderRequest{req}
		}
	}

	return nil
}

func flipSideToStrategy(s flip.Side) StrategySide {
	if s == flip.Short {
		return StrategyShort
	}
	return StrategyLong
}

func (sess *session) entryOrder(side StrategySide, markPrice fp.Fp, reason string) engine.OrderRequest {
	equity := sess.eng.GetStateSnapshot(markPrice).Wallet
	stopDistance := fp.Max(sess.cfg.Stop.MinRDistance, fp.FromFloat(0.5))
	qty := riskgov.Size(sess.cfg.Risk, equity, markPrice, stopDistance)
	return engine.OrderRequest{
		Side:       side.toEngineSide(),
		Type:       engine.Market,
		TIF:        engine.IOC,
		Qty:        qty,
		ReasonCode: reason,
	}
}

func (sess *session) evaluateRiskEmergency(state engine.StateSnapshot, markPrice fp.Fp, snap metrics.Snapshot) (engine.OrderRequest, bool) {
	if state.Position == nil {
		return engine.OrderRequest{}, false
	}
	upnlPct := unrealizedPnlPct(state, markPrice)
	deadband := sess.cfg.Flip.DeadbandPct
	emergencyThreshold := fp.Max(deadband.Mul(fp.FromInt(4)), fp.FromFloat(0.012))

	triggered := state.MarginHealth.LessThanOrEqual(fp.FromFloat(0.05)) ||
		upnlPct.LessThanOrEqual(emergencyThreshold.Neg()) ||
		sess.riskEmergencyStreak >= 3

	if !triggered {
		return engine.OrderRequest{}, false
	}
	return engine.OrderRequest{
		Side:       state.Position.Side().Opposite(),
		Type:       engine.Market,
		TIF:        engine.IOC,
		Qty:        state.Position.AbsQty(),
		ReduceOnly: true,
		ReasonCode: "RISK_EMERGENCY",
	}, true
}

func (sess *session) checkRiskEmergency(snap metrics.Snapshot) {
	if snap.SpreadPct.GreaterThan(sess.cfg.MaxSpreadPct) {
		sess.riskEmergencyStreak++
	} else {
		sess.riskEmergencyStreak = 0
	}
}

func unrealizedPnlPct(state engine.StateSnapshot, markPrice fp.Fp) fp.Fp {
	if state.Position == nil || !state.Position.EntryPrice.IsPositive() {
		return fp.Zero
	}
	signSign := fp.FromInt(int64(state.Position.Side().Sign()))
	return signSign.Mul(markPrice.Sub(state.Position.EntryPrice)).Div(state.Position.EntryPrice)
}

func (sess *session) evaluateAddon(posSide StrategySide, state engine.StateSnapshot, markPrice fp.Fp, tsMs int64, snap metrics.Snapshot, book engine.Book) (engine.OrderRequest, bool) {
	sig := sess.lastSignal
	if sig == nil || sig.Side != posSide {
		return engine.OrderRequest{}, false
	}
	upnlPct := unrealizedPnlPct(state, markPrice)
	positionNotional := state.Position.AbsQty().Mul(markPrice)
	equity := state.Wallet
	stopDistance := fp.Max(sess.cfg.Stop.MinRDistance, fp.FromFloat(0.5))
	sizedQty := riskgov.Size(sess.cfg.Risk, equity, markPrice, stopDistance)
	proposedNotional := sizedQty.Mul(sess.cfg.Addon.SizeMultiplier).Mul(markPrice)

	req, ok := addon.Evaluate(sess.symbolRunKey(), sess.symbol, &sess.addon, sess.cfg.Addon,
		posSide.toAddonSide(), addon.Signal{Side: sig.Side.toAddonSide(), Score: sig.Score},
		tsMs, upnlPct, snap.SpreadPct, positionNotional, sizedQty, proposedNotional)
	if !ok {
		return engine.OrderRequest{}, false
	}
	best, ok := book.BestSameSide(posSide.toEngineSide())
	if !ok {
		return engine.OrderRequest{}, false
	}
	return engine.OrderRequest{
		Side:          posSide.toEngineSide(),
		Type:          engine.Limit,
		TIF:           engine.GTC,
		Qty:           req.Qty,
		Price:         best.Price,
		PostOnly:      true,
		TTLMs:         req.TTLMs,
		ReasonCode:    req.ReasonCode,
		ClientOrderID: req.ClientOrderID,
	}, true
}

func (sess *session) evaluateFlip(posSide StrategySide, state engine.StateSnapshot, markPrice fp.Fp, tsMs int64, snap metrics.Snapshot) (engine.OrderRequest, bool) {
	sig := sess.lastSignal
	if sig == nil || sig.Side == posSide {
		return engine.OrderRequest{}, false
	}
	upnlPct := unrealizedPnlPct(state, markPrice)
	decision := flip.Evaluate(&sess.flip, sess.cfg.Flip, posSide.toFlipSide(), sess.lastEntryOrAddOnTs, tsMs, upnlPct, sig.Score, snap.SpreadPct)
	if !decision.Confirmed {
		return engine.OrderRequest{}, false
	}
	if decision.PendingFlip != nil {
		sess.pendingFlip = decision.PendingFlip
	}
	qty := state.Position.AbsQty()
	if decision.ReasonCode == flip.ReasonReducePartial {
		qty = qty.Mul(decision.ReduceQtyFrac)
	}
	return engine.OrderRequest{
		Side:       state.Position.Side().Opposite(),
		Type:       engine.Market,
		TIF:        engine.IOC,
		Qty:        qty,
		ReduceOnly: true,
		ReasonCode: decision.ReasonCode,
	}, true
}

func (sess *session) symbolRunKey() string {
	return sess.cfg.Engine.RunID
}

// syncPositionState applies spec §4.4's position-state-change sync
// rules after an event has been processed.
func (sess *session) syncPositionState(tsMs int64, rec engine.EventLogRecord, snap metrics.Snapshot) {
	state := sess.eng.GetStateSnapshot(fp.Zero)
	newSide, hasPos := positionStrategySide(state.Position)

	switch {
	case !sess.hasPosition && hasPos:
		sess.stop = stopmgr.Init(newSide.toStopSide(), state.Position.EntryPrice, snap.ATR, sess.cfg.Stop)
		sess.addon = addon.State{}
		sess.flip.Reset()
		sess.lastEntryOrAddOnTs = tsMs

	case sess.hasPosition && !hasPos:
		sess.stop = nil
		sess.flip.Reset()
		sess.lastSignal = nil

	case sess.hasPosition && hasPos && newSide != sess.positionSide:
		sess.stop = stopmgr.Init(newSide.toStopSide(), state.Position.EntryPrice, snap.ATR, sess.cfg.Stop)
		sess.flip.Reset()
		sess.lastEntryOrAddOnTs = tsMs

	case sess.hasPosition && hasPos:
		for _, res := range rec.OrderResults {
			if res.ReasonCode == addon.ReasonCodeAddonMaker && res.FilledQty.IsPositive() {
				sess.addon.OnFill(tsMs)
				sess.lastEntryOrAddOnTs = tsMs
			}
		}
	}

	sess.hasPosition = hasPos
	sess.positionSide = newSide
}

// syncAddonPending wires the add-on ladder's pending-order tracking and
// TTL-reprice path into this tick's results, per spec §4.6: a just-
// placed ADDON_MAKER order records its orderId/clientOrderId as pending
// (closing the eligibility gate in addon.Evaluate), and a LIMIT_TTL_CANCEL
// on the pending order triggers addon.Reprice at the refreshed best
// same-side quote, queued for submission on the next tick.
func (sess *session) syncAddonPending(orders []engine.OrderRequest, rec engine.EventLogRecord, book engine.Book) {
	for _, res := range rec.OrderResults {
		switch {
		// matchPendingLimit overwrites ReasonCode to LIMIT_TTL_CANCEL on
		// expiry, so the pending add-on is identified by ClientOrderID here,
		// not by its original ADDON_MAKER reason code.
		case res.Status == engine.StatusExpired && res.ReasonCode == engine.ReasonLimitTTLCancel &&
			sess.addon.PendingClientOrderID != "" && res.ClientOrderID == sess.addon.PendingClientOrderID:
			sess.repriceAddon(res, book)
		case res.Status == engine.StatusNew && res.ReasonCode == addon.ReasonCodeAddonMaker && wasJustPlaced(orders, res.ClientOrderID):
			sess.addon.PendingOrderID = res.OrderID
			sess.addon.PendingAttempt = res.RepriceAttempt
			sess.addon.PendingClientOrderID = res.ClientOrderID
		}
	}
}

func wasJustPlaced(orders []engine.OrderRequest, clientOrderID string) bool {
	for _, req := range orders {
		if req.ClientOrderID == clientOrderID {
			return true
		}
	}
	return false
}

// repriceAddon reissues an expired add-on maker order at the refreshed
// best same-side quote, per §4.6's TTL-repricing paragraph and scenario
// S6. It always clears the stale pending-order fields first, so a
// signal that's no longer aligned (or a repriceAttempt budget that's
// exhausted) correctly reopens the eligibility gate for a fresh rung.
func (sess *session) repriceAddon(res engine.OrderResult, book engine.Book) {
	var req addon.Request
	var ok bool
	if sess.lastSignal != nil {
		sig := addon.Signal{Side: sess.lastSignal.Side.toAddonSide(), Score: sess.lastSignal.Score}
		req, ok = addon.Reprice(sess.symbolRunKey(), sess.symbol, &sess.addon, sess.cfg.Addon,
			sess.positionSide.toAddonSide(), sig, res.RemainingQty)
	}

	sess.addon.PendingOrderID = ""
	sess.addon.PendingAttempt = 0
	sess.addon.PendingClientOrderID = ""
	if !ok {
		return
	}

	best, ok := book.BestSameSide(sess.positionSide.toEngineSide())
	if !ok {
		return
	}
	sess.queue = append(sess.queue, engine.OrderRequest{
		Side:           sess.positionSide.toEngineSide(),
		Type:           engine.Limit,
		TIF:            engine.GTC,
		Qty:            req.Qty,
		Price:          best.Price,
		PostOnly:       true,
		TTLMs:          req.TTLMs,
		ReasonCode:     req.ReasonCode,
		ClientOrderID:  req.ClientOrderID,
		RepriceAttempt: req.RepriceAttempt,
	})
}

// GetStatus reports one symbol session's externally observable state.
func (sup *Supervisor) GetStatus(symbol string) (Status, error) {
	sup.mu.Lock()
	defer sup.mu.Unlock()

	sess, ok := sup.sessions[symbol]
	if !ok {
		return Status{}, &SessionError{Code: ErrDryRunSessionNotFound, Msg: "no session for " + symbol}
	}
	snap := sess.eng.GetStateSnapshot(fp.Zero)
	return Status{
		Symbol:          symbol,
		Running:         sess.running,
		Wallet:          snap.Wallet,
		Position:        snap.Position,
		MarginHealth:    snap.MarginHealth,
		Regime:          string(sess.lastSnapshot.Regime),
		SpreadPct:       sess.lastSnapshot.SpreadPct,
		ATR:             sess.lastSnapshot.ATR,
		AddonCount:      sess.addon.Count,
		FlipConsecutive: sess.flip.ConsecutiveOpposing,
		LastEventTs:     sess.lastEventTs,
	}, nil
}

// SaveSession persists the session's opaque snapshot under the given
// id (or the run's own runID, if id is empty).
func (sup *Supervisor) SaveSession(symbol, id string) error {
	sup.mu.Lock()
	defer sup.mu.Unlock()

	sess, ok := sup.sessions[symbol]
	if !ok {
		return &SessionError{Code: ErrDryRunSessionNotFound, Msg: "no session for " + symbol}
	}
	if sup.store == nil {
		return &SessionError{Code: ErrDryRunSessionInvalid, Msg: "no session store configured"}
	}
	if id == "" {
		id = sess.cfg.Engine.RunID
	}
	return sup.store.Save(id, symbol, sess.eng.GetStateSnapshot(fp.Zero))
}

// LoadSession restores a previously saved snapshot into the symbol's
// engine, without replaying the original event stream.
func (sup *Supervisor) LoadSession(symbol, id string) error {
	sup.mu.Lock()
	defer sup.mu.Unlock()

	sess, ok := sup.sessions[symbol]
	if !ok {
		return &SessionError{Code: ErrDryRunSessionNotFound, Msg: "no session for " + symbol}
	}
	if sup.store == nil {
		return &SessionError{Code: ErrDryRunSessionInvalid, Msg: "no session store configured"}
	}
	var snap engine.StateSnapshot
	found, err := sup.store.Restore(id, symbol, &snap)
	if err != nil {
		return fmt.Errorf("supervisor: load session: %w", err)
	}
	if !found {
		return &SessionError{Code: ErrDryRunSessionNotFound, Msg: "no saved snapshot for " + id + "/" + symbol}
	}
	sess.eng.RestoreState(snap, sess.lastEventTs, 0)
	return nil
}

// ListSessions returns the symbols with a currently live session.
func (sup *Supervisor) ListSessions() []string {
	sup.mu.Lock()
	defer sup.mu.Unlock()
	out := make([]string, 0, len(sup.sessions))
	for symbol := range sup.sessions {
		out = append(out, symbol)
	}
	return out
}

func (sup *Supervisor) lookupRunning(symbol string) (*session, error) {
	sess, ok := sup.sessions[symbol]
	if !ok {
		return nil, &SessionError{Code: ErrDryRunSessionNotFound, Msg: "no session for " + symbol}
	}
	if !sess.running {
		return nil, &SessionError{Code: ErrDryRunNotRunningForSymbol, Msg: "dry run is not running for " + symbol}
	}
	return sess, nil
}
