package supervisor

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/dryrun-futures/engine/internal/addon"
	"github.com/dryrun-futures/engine/internal/engine"
	"github.com/dryrun-futures/engine/internal/fp"
	"github.com/dryrun-futures/engine/internal/guard"
	"github.com/dryrun-futures/engine/internal/tradelog"
)

// tightBook returns a narrow-spread book (0.1 wide) around mid, narrow
// enough to stay under both the session's and the add-on's MaxSpreadPct
// gates so it doesn't starve add-on/flip evaluation or trip the risk
// emergency spread streak.
func tightBook(mid float64) engine.Book {
	return engine.Book{
		Bids: []engine.Level{{Price: fp.FromFloat(mid - 0.05), Qty: fp.FromInt(50)}},
		Asks: []engine.Level{{Price: fp.FromFloat(mid + 0.05), Qty: fp.FromInt(50)}},
	}
}

func testConfig(t *testing.T, runID, symbol string) Config {
	t.Helper()
	cfg := DefaultConfig(runID, symbol)
	cfg.Engine.WalletBalanceStart = fp.FromInt(1000)
	cfg.Engine.InitialMarginUsdt = fp.FromInt(500)
	cfg.Engine.Leverage = fp.FromInt(5)
	cfg.Proxy = guard.Proxy{
		Mode:            "backend-proxy",
		RESTBaseURL:     "https://fapi.binance.com",
		MarketWSBaseURL: "wss://fstream.binance.com/ws",
	}
	cfg.Tradelog = tradelog.DefaultConfig(filepath.Join(t.TempDir(), "logs"))
	cfg.StorePath = ""
	return cfg
}

func testBook(mid float64) engine.Book {
	return engine.Book{
		Bids: []engine.Level{{Price: fp.FromFloat(mid - 0.5), Qty: fp.FromInt(10)}},
		Asks: []engine.Level{{Price: fp.FromFloat(mid + 0.5), Qty: fp.FromInt(10)}},
	}
}

func TestStartRequiresSymbols(t *testing.T) {
	sup := New("run1", zerolog.Nop())
	err := sup.Start(map[string]Config{})
	serr, ok := err.(*SessionError)
	if !ok || serr.Code != ErrSymbolsRequired {
		t.Fatalf("expected %s, got %v", ErrSymbolsRequired, err)
	}
}

func TestStartValidatesWallet(t *testing.T) {
	sup := New("run1", zerolog.Nop())
	cfg := testConfig(t, "run1", "BTCUSDT")
	cfg.Engine.WalletBalanceStart = fp.Zero
	err := sup.Start(map[string]Config{"BTCUSDT": cfg})
	serr, ok := err.(*SessionError)
	if !ok || serr.Code != ErrWalletBalanceMustBePositive {
		t.Fatalf("expected %s, got %v", ErrWalletBalanceMustBePositive, err)
	}
}

func TestStartRejectsBadProxyHost(t *testing.T) {
	sup := New("run1", zerolog.Nop())
	cfg := testConfig(t, "run1", "BTCUSDT")
	cfg.Proxy.RESTBaseURL = "https://api.binance.com"
	err := sup.Start(map[string]Config{"BTCUSDT": cfg})
	if err == nil {
		t.Fatalf("expected upstream guard failure")
	}
}

func TestManualTestOrderFillsOnNextDepthEvent(t *testing.T) {
	sup := New("run1", zerolog.Nop())
	cfg := testConfig(t, "run1", "BTCUSDT")
	if err := sup.Start(map[string]Config{"BTCUSDT": cfg}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sup.Stop()

	if err := sup.SubmitManualTestOrder(ManualOrderRequest{Symbol: "BTCUSDT", Side: engine.Buy}); err != nil {
		t.Fatalf("SubmitManualTestOrder: %v", err)
	}

	rec, err := sup.IngestDepthEvent(DepthEvent{
		Symbol:           "BTCUSDT",
		EventTimestampMs: 1_000,
		OrderBook:        testBook(100),
	})
	if err != nil {
		t.Fatalf("IngestDepthEvent: %v", err)
	}
	if len(rec.OrderResults) != 1 {
		t.Fatalf("expected exactly one order result, got %d", len(rec.OrderResults))
	}
	if rec.OrderResults[0].Status != engine.StatusFilled {
		t.Fatalf("expected manual test order to fill, got status %s", rec.OrderResults[0].Status)
	}

	status, err := sup.GetStatus("BTCUSDT")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status.Position == nil {
		t.Fatalf("expected an open position after the manual BUY filled")
	}
}

func TestDuplicateOrTooSoonEventRejected(t *testing.T) {
	sup := New("run1", zerolog.Nop())
	cfg := testConfig(t, "run1", "BTCUSDT")
	if err := sup.Start(map[string]Config{"BTCUSDT": cfg}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sup.Stop()

	if _, err := sup.IngestDepthEvent(DepthEvent{Symbol: "BTCUSDT", EventTimestampMs: 10_000, OrderBook: testBook(100)}); err != nil {
		t.Fatalf("first event: %v", err)
	}
	if _, err := sup.IngestDepthEvent(DepthEvent{Symbol: "BTCUSDT", EventTimestampMs: 10_050, OrderBook: testBook(100)}); err == nil {
		t.Fatalf("expected admission error for an event inside minEventIntervalMs")
	}
}

func TestIngestRejectsEmptyBookSide(t *testing.T) {
	sup := New("run1", zerolog.Nop())
	cfg := testConfig(t, "run1", "BTCUSDT")
	if err := sup.Start(map[string]Config{"BTCUSDT": cfg}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sup.Stop()

	_, err := sup.IngestDepthEvent(DepthEvent{
		Symbol:           "BTCUSDT",
		EventTimestampMs: 1_000,
		OrderBook:        engine.Book{Bids: nil, Asks: testBook(100).Asks},
	})
	if err == nil {
		t.Fatalf("expected an admission error for an empty book side")
	}
}

func TestSubmitStrategyDecisionWithoutPositionQueuesNothing(t *testing.T) {
	sup := New("run1", zerolog.Nop())
	cfg := testConfig(t, "run1", "BTCUSDT")
	if err := sup.Start(map[string]Config{"BTCUSDT": cfg}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sup.Stop()

	// No position yet: EXIT/REDUCE are no-ops, ENTRY only records a signal.
	err := sup.SubmitStrategyDecision(StrategyDecision{
		Symbol: "BTCUSDT",
		Actions: []StrategyAction{
			{Type: ActionEntry, Side: StrategyLong, Score: fp.FromInt(80)},
			{Type: ActionReduce, Side: StrategyLong},
			{Type: ActionExit, Side: StrategyLong},
		},
	})
	if err != nil {
		t.Fatalf("SubmitStrategyDecision: %v", err)
	}

	sess := sup.sessions["BTCUSDT"]
	if len(sess.queue) != 0 {
		t.Fatalf("expected ENTRY to not queue an order directly, got %d queued", len(sess.queue))
	}
	if sess.lastSignal == nil || sess.lastSignal.Side != StrategyLong {
		t.Fatalf("expected ENTRY to record a LONG signal")
	}
}

// TestAddonTTLExpiryRepricesAtRefreshedBestQuote pins scenario S6: a
// LONG position with sufficient uPnL and signal score gets a post-only
// ADDON_MAKER limit placed at the best bid; when the book moves and the
// order's TTL lapses unfilled, the expiry reprices at the refreshed best
// bid with repriceAttempt=1, and addonCount stays 0 until a fill lands.
func TestAddonTTLExpiryRepricesAtRefreshedBestQuote(t *testing.T) {
	sup := New("run1", zerolog.Nop())
	cfg := testConfig(t, "run1", "BTCUSDT")
	if err := sup.Start(map[string]Config{"BTCUSDT": cfg}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sup.Stop()

	if err := sup.SubmitManualTestOrder(ManualOrderRequest{Symbol: "BTCUSDT", Side: engine.Buy}); err != nil {
		t.Fatalf("SubmitManualTestOrder: %v", err)
	}
	// A large base timestamp keeps the add-on's CooldownMs gate (measured
	// against a zero-valued LastAddOnTs) trivially satisfied.
	t0 := int64(1_000_000)
	if _, err := sup.IngestDepthEvent(DepthEvent{Symbol: "BTCUSDT", EventTimestampMs: t0, OrderBook: tightBook(100)}); err != nil {
		t.Fatalf("entry fill event: %v", err)
	}

	if err := sup.SubmitStrategyDecision(StrategyDecision{
		Symbol:  "BTCUSDT",
		Actions: []StrategyAction{{Type: ActionEntry, Side: StrategyLong, Score: fp.FromInt(70)}},
	}); err != nil {
		t.Fatalf("SubmitStrategyDecision: %v", err)
	}

	sess := sup.sessions["BTCUSDT"]

	t1 := t0 + 300
	rec1, err := sup.IngestDepthEvent(DepthEvent{Symbol: "BTCUSDT", EventTimestampMs: t1, OrderBook: tightBook(101)})
	if err != nil {
		t.Fatalf("add-on placement event: %v", err)
	}
	if len(rec1.OrderResults) != 1 {
		t.Fatalf("expected exactly one order result placing the add-on, got %d", len(rec1.OrderResults))
	}
	placed := rec1.OrderResults[0]
	if placed.Status != engine.StatusNew || placed.ReasonCode != addon.ReasonCodeAddonMaker {
		t.Fatalf("expected a resting ADDON_MAKER order, got %+v", placed)
	}
	if placed.RepriceAttempt != 0 {
		t.Fatalf("expected the initial placement's repriceAttempt to be 0, got %d", placed.RepriceAttempt)
	}

	snap := sess.eng.GetStateSnapshot(fp.Zero)
	if len(snap.OpenLimits) != 1 {
		t.Fatalf("expected exactly one resting limit order, got %d", len(snap.OpenLimits))
	}
	wantBestBid := fp.FromFloat(100.95)
	if !snap.OpenLimits[0].Price.Equal(wantBestBid) {
		t.Fatalf("expected the add-on to rest at the best bid %s, got %s", wantBestBid, snap.OpenLimits[0].Price)
	}
	if sess.addon.PendingOrderID == "" || sess.addon.PendingClientOrderID != placed.ClientOrderID {
		t.Fatalf("expected pending-order tracking to record the placement, got %+v", sess.addon)
	}

	t2 := t1 + 15_100 // past the order's 15s TTL
	rec2, err := sup.IngestDepthEvent(DepthEvent{Symbol: "BTCUSDT", EventTimestampMs: t2, OrderBook: tightBook(102)})
	if err != nil {
		t.Fatalf("TTL expiry event: %v", err)
	}
	if len(rec2.OrderResults) != 1 {
		t.Fatalf("expected exactly one order result for the TTL expiry, got %d", len(rec2.OrderResults))
	}
	expired := rec2.OrderResults[0]
	if expired.Status != engine.StatusExpired || expired.ReasonCode != engine.ReasonLimitTTLCancel {
		t.Fatalf("expected a LIMIT_TTL_CANCEL expiry, got %+v", expired)
	}
	if expired.ClientOrderID != placed.ClientOrderID {
		t.Fatalf("expected the expiry to reference the placed order's clientOrderId, got %s", expired.ClientOrderID)
	}
	if sess.addon.PendingOrderID != "" {
		t.Fatalf("expected pending-order tracking to clear on expiry before repricing, got %+v", sess.addon)
	}
	if len(sess.queue) != 1 {
		t.Fatalf("expected the expiry to queue exactly one repriced order, got %d", len(sess.queue))
	}
	reissue := sess.queue[0]
	if reissue.RepriceAttempt != 1 {
		t.Fatalf("expected the reissued order's repriceAttempt to be 1, got %d", reissue.RepriceAttempt)
	}
	wantRefreshedBid := fp.FromFloat(101.95)
	if !reissue.Price.Equal(wantRefreshedBid) {
		t.Fatalf("expected the reissued order to reprice at the refreshed best bid %s, got %s", wantRefreshedBid, reissue.Price)
	}
	if sess.addon.Count != 0 {
		t.Fatalf("expected addonCount to stay 0 until a fill lands, got %d", sess.addon.Count)
	}

	t3 := t2 + 300
	rec3, err := sup.IngestDepthEvent(DepthEvent{Symbol: "BTCUSDT", EventTimestampMs: t3, OrderBook: tightBook(102)})
	if err != nil {
		t.Fatalf("reissue placement event: %v", err)
	}
	if len(rec3.OrderResults) != 1 {
		t.Fatalf("expected exactly one order result placing the reissued order, got %d", len(rec3.OrderResults))
	}
	reissued := rec3.OrderResults[0]
	if reissued.Status != engine.StatusNew || reissued.RepriceAttempt != 1 {
		t.Fatalf("expected the reissued order to rest with repriceAttempt 1, got %+v", reissued)
	}
	if sess.addon.PendingAttempt != 1 {
		t.Fatalf("expected pending-order tracking to record repriceAttempt 1, got %d", sess.addon.PendingAttempt)
	}
	if sess.addon.Count != 0 {
		t.Fatalf("expected addonCount to still be unchanged with no fill observed, got %d", sess.addon.Count)
	}
}

func TestGetStatusUnknownSymbol(t *testing.T) {
	sup := New("run1", zerolog.Nop())
	_, err := sup.GetStatus("ETHUSDT")
	serr, ok := err.(*SessionError)
	if !ok || serr.Code != ErrDryRunSessionNotFound {
		t.Fatalf("expected %s, got %v", ErrDryRunSessionNotFound, err)
	}
}
