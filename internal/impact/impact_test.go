package impact

import "testing"

import "github.com/dryrun-futures/engine/internal/fp"

func TestApplyNoLevelsReturnsUnchanged(t *testing.T) {
	out := Apply(Input{
		Side:         Buy,
		FilledQty:    fp.FromInt(1),
		AvgFillPrice: fp.FromInt(100),
	}, DefaultParams())
	if !out.AdjustedAvgFillPrice.Equal(fp.FromInt(100)) {
		t.Fatalf("expected unchanged price, got %s", out.AdjustedAvgFillPrice)
	}
	if !out.SlippageBps.IsZero() || !out.MarketImpactBps.IsZero() {
		t.Fatalf("expected zero bps with no opposite levels")
	}
}

func TestApplyBuyIncreasesAdjustedPrice(t *testing.T) {
	out := Apply(Input{
		Side:           Buy,
		Type:           "MARKET",
		TIF:            "IOC",
		FilledQty:      fp.FromInt(5),
		AvgFillPrice:   fp.FromInt(100),
		OppositeLevels: []Level{{Price: fp.FromInt(100), Qty: fp.FromInt(10)}},
	}, DefaultParams())

	if !out.AdjustedAvgFillPrice.GreaterThanOrEqual(fp.FromInt(100)) {
		t.Fatalf("buy-side adjusted price should never be below the unadjusted fill: got %s", out.AdjustedAvgFillPrice)
	}
}

func TestApplySellDecreasesAdjustedPrice(t *testing.T) {
	out := Apply(Input{
		Side:           Sell,
		Type:           "MARKET",
		TIF:            "IOC",
		FilledQty:      fp.FromInt(5),
		AvgFillPrice:   fp.FromInt(100),
		OppositeLevels: []Level{{Price: fp.FromInt(100), Qty: fp.FromInt(10)}},
	}, DefaultParams())

	if !out.AdjustedAvgFillPrice.LessThanOrEqual(fp.FromInt(100)) {
		t.Fatalf("sell-side adjusted price should never be above the unadjusted fill: got %s", out.AdjustedAvgFillPrice)
	}
}

func TestApplyClampsToMaxSlippage(t *testing.T) {
	p := DefaultParams()
	out := Apply(Input{
		Side:           Buy,
		Type:           "MARKET",
		TIF:            "IOC",
		FilledQty:      fp.FromInt(1000),
		AvgFillPrice:   fp.FromInt(200), // far above bestOpposite -> huge base slippage
		OppositeLevels: []Level{{Price: fp.FromInt(100), Qty: fp.FromInt(1)}},
	}, p)

	maxBump := p.MaxSlippageBps.Div(fp.FromInt(10_000))
	maxAdjusted := fp.FromInt(200).Mul(fp.FromInt(1).Add(maxBump))
	if out.AdjustedAvgFillPrice.GreaterThan(maxAdjusted) {
		t.Fatalf("adjusted price exceeds max-slippage clamp: got %s want <= %s", out.AdjustedAvgFillPrice, maxAdjusted)
	}
}

func TestApplyQueuePenaltyForRestingResidual(t *testing.T) {
	base := Input{
		Side:           Buy,
		Type:           "LIMIT",
		TIF:            "GTC",
		FilledQty:      fp.FromInt(1),
		AvgFillPrice:   fp.FromInt(100),
		OppositeLevels: []Level{{Price: fp.FromInt(100), Qty: fp.FromInt(10)}},
	}
	withoutPenalty := Apply(base, DefaultParams())

	base.RestingResidual = true
	withPenalty := Apply(base, DefaultParams())

	if !withPenalty.MarketImpactBps.GreaterThan(withoutPenalty.MarketImpactBps) {
		t.Fatalf("expected queue penalty to raise market impact bps: without=%s with=%s",
			withoutPenalty.MarketImpactBps, withPenalty.MarketImpactBps)
	}
}
