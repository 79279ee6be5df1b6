package engine

import (
	"math"
	"testing"

	"github.com/rs/zerolog"

	"github.com/dryrun-futures/engine/internal/fp"
	"github.com/dryrun-futures/engine/internal/ids"
)

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	return New(cfg, ids.NewGenerator("test-run"), zerolog.Nop())
}

func approxEqual(t *testing.T, got, want fp.Fp, tolerance float64, what string) {
	t.Helper()
	diff := math.Abs(got.ToFloat() - want.ToFloat())
	if diff > tolerance {
		t.Fatalf("%s: got %s want ~%s (tolerance %v)", what, got, want, tolerance)
	}
}

// S1 — simple long round-trip.
func TestScenarioS1SimpleLongRoundTrip(t *testing.T) {
	cfg := Config{
		RunID:                 "s1",
		WalletBalanceStart:    fp.FromInt(1000),
		InitialMarginUsdt:     fp.FromInt(100),
		Leverage:              fp.FromInt(10),
		TakerFeeRate:          fp.FromFloat(0.0004),
		MakerFeeRate:          fp.FromFloat(0.0002),
		MaintenanceMarginRate: fp.FromFloat(0.005),
		FundingRate:           fp.Zero,
		FundingIntervalMs:     3600_000,
		BookDepth:             20,
		ImpactParams:          DefaultConfig("s1").ImpactParams,
	}
	e := newTestEngine(t, cfg)

	rec1, err := e.ProcessEvent(Event{
		TimestampMs: 1000,
		MarkPrice:   fp.FromInt(100),
		Book: Book{
			Bids: []Level{{Price: fp.FromFloat(99.9), Qty: fp.FromInt(10)}},
			Asks: []Level{{Price: fp.FromFloat(100.0), Qty: fp.FromInt(10)}},
		},
		Orders: []OrderRequest{{Side: Buy, Type: Market, TIF: IOC, Qty: fp.FromInt(1)}},
	})
	if err != nil {
		t.Fatalf("e1: unexpected error: %v", err)
	}
	if len(rec1.OrderResults) != 1 || rec1.OrderResults[0].Status != StatusFilled {
		t.Fatalf("e1: expected single FILLED result, got %+v", rec1.OrderResults)
	}
	if !rec1.OrderResults[0].AvgFillPrice.GreaterThan(fp.FromInt(100)) {
		t.Fatalf("e1: buy-side impact should push avgFillPrice above the unadjusted 100, got %s", rec1.OrderResults[0].AvgFillPrice)
	}
	approxEqual(t, rec1.OrderResults[0].AvgFillPrice, fp.FromInt(100), 0.3, "e1 avgFillPrice")
	approxEqual(t, rec1.Fee, fp.FromFloat(0.04), 0.02, "e1 fee")
	approxEqual(t, rec1.WalletAfter, fp.FromFloat(999.96), 0.05, "e1 walletAfter")

	snap := e.GetStateSnapshot(fp.FromInt(100))
	if snap.Position == nil || snap.Position.Side() != Buy {
		t.Fatalf("e1: expected open LONG position, got %+v", snap.Position)
	}
	approxEqual(t, snap.Position.SignedQty, fp.FromInt(1), 1e-8, "e1 position qty")

	rec2, err := e.ProcessEvent(Event{
		TimestampMs: 2000,
		MarkPrice:   fp.FromInt(101),
		Book: Book{
			Bids: []Level{{Price: fp.FromInt(101), Qty: fp.FromInt(10)}},
			Asks: []Level{{Price: fp.FromFloat(101.1), Qty: fp.FromInt(10)}},
		},
		Orders: []OrderRequest{{Side: Sell, Type: Market, TIF: IOC, Qty: fp.FromInt(1), ReduceOnly: true}},
	})
	if err != nil {
		t.Fatalf("e2: unexpected error: %v", err)
	}
	if rec2.LiquidationTriggered {
		t.Fatalf("e2: liquidation should not trigger")
	}
	if !rec2.RealizedPnl.IsPositive() {
		t.Fatalf("e2: expected a positive realized pnl on the round trip, got %s", rec2.RealizedPnl)
	}
	approxEqual(t, rec2.RealizedPnl, fp.FromFloat(0.98), 0.3, "e2 realizedPnl")
	approxEqual(t, rec2.WalletAfter, fp.FromFloat(1000.9), 0.3, "e2 walletAfter")

	snap2 := e.GetStateSnapshot(fp.FromInt(101))
	if snap2.Position != nil {
		t.Fatalf("e2: expected position to be cleared, got %+v", snap2.Position)
	}
}

// S2 — GTC residual.
func TestScenarioS2GTCResidual(t *testing.T) {
	cfg := DefaultConfig("s2")
	cfg.InitialMarginUsdt = fp.FromInt(1000)
	cfg.Leverage = fp.FromInt(10)
	cfg.WalletBalanceStart = fp.FromInt(1000)
	e := newTestEngine(t, cfg)

	rec1, err := e.ProcessEvent(Event{
		TimestampMs: 1000,
		MarkPrice:   fp.FromInt(100),
		Book: Book{
			Asks: []Level{{Price: fp.FromInt(100), Qty: fp.FromInt(1)}},
		},
		Orders: []OrderRequest{{Side: Buy, Type: Limit, TIF: GTC, Price: fp.FromInt(99), Qty: fp.FromInt(2)}},
	})
	if err != nil {
		t.Fatalf("e1: unexpected error: %v", err)
	}
	if len(rec1.OrderResults) != 1 {
		t.Fatalf("e1: expected one order result, got %d", len(rec1.OrderResults))
	}
	r1 := rec1.OrderResults[0]
	if !r1.FilledQty.IsZero() || r1.Status != StatusNew || !r1.RemainingQty.Equal(fp.FromInt(2)) {
		t.Fatalf("e1: expected filled=0 remaining=2 status=NEW, got %+v", r1)
	}
	snap := e.GetStateSnapshot(fp.FromInt(100))
	if len(snap.OpenLimits) != 1 {
		t.Fatalf("e1: expected one pending limit, got %d", len(snap.OpenLimits))
	}

	rec2, err := e.ProcessEvent(Event{
		TimestampMs: 2000,
		MarkPrice:   fp.FromInt(99),
		Book: Book{
			Asks: []Level{{Price: fp.FromInt(99), Qty: fp.FromInt(1)}},
		},
	})
	if err != nil {
		t.Fatalf("e2: unexpected error: %v", err)
	}
	if len(rec2.OrderResults) != 1 {
		t.Fatalf("e2: expected one order result from the retried pending limit, got %d", len(rec2.OrderResults))
	}
	r2 := rec2.OrderResults[0]
	if !r2.FilledQty.Equal(fp.FromInt(1)) || r2.Status != StatusPartial || !r2.RemainingQty.Equal(fp.FromInt(1)) {
		t.Fatalf("e2: expected filled=1 remaining=1 status=PARTIALLY_FILLED, got %+v", r2)
	}
	snap2 := e.GetStateSnapshot(fp.FromInt(99))
	if len(snap2.OpenLimits) != 1 || !snap2.OpenLimits[0].RemainingQty.Equal(fp.FromInt(1)) {
		t.Fatalf("e2: expected pending remaining qty=1, got %+v", snap2.OpenLimits)
	}
}

// S3 — forced liquidation.
func TestScenarioS3ForcedLiquidation(t *testing.T) {
	cfg := Config{
		RunID:                 "s3",
		WalletBalanceStart:    fp.FromInt(50),
		InitialMarginUsdt:     fp.FromInt(50),
		Leverage:              fp.FromInt(20),
		TakerFeeRate:          fp.FromFloat(0.0004),
		MakerFeeRate:          fp.FromFloat(0.0002),
		MaintenanceMarginRate: fp.FromFloat(0.05),
		FundingIntervalMs:     3600_000,
		BookDepth:             20,
		ImpactParams:          DefaultConfig("s3").ImpactParams,
	}
	e := newTestEngine(t, cfg)

	// Short 5 (500 notional): at mark 108 equity falls below maintenance
	// plus the close fee, which a size of 1 would not reach.
	_, err := e.ProcessEvent(Event{
		TimestampMs: 1000,
		MarkPrice:   fp.FromInt(100),
		Book: Book{
			Bids: []Level{{Price: fp.FromInt(100), Qty: fp.FromInt(10)}},
			Asks: []Level{{Price: fp.FromFloat(100.1), Qty: fp.FromInt(10)}},
		},
		Orders: []OrderRequest{{Side: Sell, Type: Market, TIF: IOC, Qty: fp.FromInt(5)}},
	})
	if err != nil {
		t.Fatalf("e1: unexpected error: %v", err)
	}
	snap := e.GetStateSnapshot(fp.FromInt(100))
	if snap.Position == nil || snap.Position.Side() != Sell {
		t.Fatalf("e1: expected open SHORT position, got %+v", snap.Position)
	}

	rec2, err := e.ProcessEvent(Event{
		TimestampMs: 2000,
		MarkPrice:   fp.FromInt(108),
		Book: Book{
			Bids: []Level{{Price: fp.FromInt(108), Qty: fp.FromInt(10)}},
			Asks: []Level{{Price: fp.FromFloat(108.1), Qty: fp.FromInt(10)}},
		},
	})
	if err != nil {
		t.Fatalf("e2: unexpected error: %v", err)
	}
	if !rec2.LiquidationTriggered {
		t.Fatalf("e2: expected liquidation to trigger")
	}
	found := false
	for _, r := range rec2.OrderResults {
		if r.ReasonCode == ReasonForcedLiquidation && r.Side == Buy {
			found = true
		}
	}
	if !found {
		t.Fatalf("e2: expected a synthetic reduce-only BUY liquidation order, got %+v", rec2.OrderResults)
	}
	snap2 := e.GetStateSnapshot(fp.FromInt(108))
	if snap2.Position != nil {
		t.Fatalf("e2: expected position fully closed, got %+v", snap2.Position)
	}
	if rec2.WalletAfter.IsNegative() {
		t.Fatalf("e2: wallet must never go negative, got %s", rec2.WalletAfter)
	}
}

// S4 — funding gap loop.
func TestScenarioS4FundingGapLoop(t *testing.T) {
	cfg := Config{
		RunID:                 "s4",
		WalletBalanceStart:    fp.FromInt(1000),
		InitialMarginUsdt:     fp.FromInt(1000),
		Leverage:              fp.FromInt(10),
		TakerFeeRate:          fp.FromFloat(0.0004),
		MaintenanceMarginRate: fp.FromFloat(0.005),
		FundingRate:           fp.FromFloat(0.0001),
		FundingIntervalMs:     3600_000,
		BookDepth:             20,
		ImpactParams:          DefaultConfig("s4").ImpactParams,
	}
	e := newTestEngine(t, cfg)

	_, err := e.ProcessEvent(Event{
		TimestampMs: 0 + 1,
		MarkPrice:   fp.FromInt(100),
		Book: Book{
			Bids: []Level{{Price: fp.FromFloat(99.9), Qty: fp.FromInt(10)}},
			Asks: []Level{{Price: fp.FromInt(100), Qty: fp.FromInt(10)}},
		},
		Orders: []OrderRequest{{Side: Buy, Type: Market, TIF: IOC, Qty: fp.FromInt(1)}},
	})
	if err != nil {
		t.Fatalf("e1: unexpected error: %v", err)
	}

	rec2, err := e.ProcessEvent(Event{
		TimestampMs: 2 * 3600_000,
		MarkPrice:   fp.FromInt(100),
		Book: Book{
			Bids: []Level{{Price: fp.FromFloat(99.9), Qty: fp.FromInt(10)}},
			Asks: []Level{{Price: fp.FromInt(100), Qty: fp.FromInt(10)}},
		},
	})
	if err != nil {
		t.Fatalf("e2: unexpected error: %v", err)
	}
	approxEqual(t, rec2.FundingImpact, fp.FromFloat(-0.02), 1e-6, "e2 fundingImpact")
	snap := e.GetStateSnapshot(fp.FromInt(100))
	if snap.LastFundingBoundaryMs != 2*3600_000 {
		t.Fatalf("e2: expected lastFundingBoundary to advance by two intervals, got %d", snap.LastFundingBoundaryMs)
	}
}

func TestNonMonotonicTimestampRejected(t *testing.T) {
	e := newTestEngine(t, DefaultConfig("mono"))
	_, err := e.ProcessEvent(Event{TimestampMs: 1000, MarkPrice: fp.FromInt(100)})
	if err != nil {
		t.Fatalf("e1: unexpected error: %v", err)
	}
	_, err = e.ProcessEvent(Event{TimestampMs: 1000, MarkPrice: fp.FromInt(100)})
	if err == nil {
		t.Fatalf("e2: expected non-monotonic timestamp to be rejected")
	}
	var coded CodedError
	if !asCodedError(err, &coded) || coded.Code() != ErrNonMonotonicEventTime {
		t.Fatalf("e2: expected %s, got %v", ErrNonMonotonicEventTime, err)
	}
}

func TestCrossedBookRejected(t *testing.T) {
	e := newTestEngine(t, DefaultConfig("crossed"))
	_, err := e.ProcessEvent(Event{
		TimestampMs: 1000,
		MarkPrice:   fp.FromInt(100),
		Book: Book{
			Bids: []Level{{Price: fp.FromInt(101), Qty: fp.FromInt(1)}},
			Asks: []Level{{Price: fp.FromInt(100), Qty: fp.FromInt(1)}},
		},
	})
	if err == nil {
		t.Fatalf("expected crossed-book fatal error")
	}
}

func TestReduceOnlyRejectedWithoutOppositePosition(t *testing.T) {
	e := newTestEngine(t, DefaultConfig("reduceonly"))
	rec, err := e.ProcessEvent(Event{
		TimestampMs: 1000,
		MarkPrice:   fp.FromInt(100),
		Book: Book{
			Bids: []Level{{Price: fp.FromInt(100), Qty: fp.FromInt(1)}},
			Asks: []Level{{Price: fp.FromFloat(100.1), Qty: fp.FromInt(1)}},
		},
		Orders: []OrderRequest{{Side: Sell, Type: Market, TIF: IOC, Qty: fp.FromInt(1), ReduceOnly: true}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.OrderResults[0].Status != StatusRejected || rec.OrderResults[0].ReasonCode != ReasonReduceOnlyRejected {
		t.Fatalf("expected REDUCE_ONLY_REJECTED, got %+v", rec.OrderResults[0])
	}
}

// asCodedError is a small helper since errors.As needs an addressable
// interface variable of the target type.
func asCodedError(err error, out *CodedError) bool {
	if ce, ok := err.(CodedError); ok {
		*out = ce
		return true
	}
	return false
}
