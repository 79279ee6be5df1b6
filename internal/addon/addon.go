// Package addon implements the add-on ladder of spec §4.6: eligibility
// gating, risk-governor-scaled sizing, post-only maker placement, and
// TTL repricing for scaling into an existing position.
package addon

import (
	"strconv"

	"github.com/dryrun-futures/engine/internal/fp"
)

// Side mirrors engine.Side without importing it, to avoid a cycle.
type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)

const ReasonCodeAddonMaker = "ADDON_MAKER"

// Config gates and sizes the ladder, per spec §4.6.
type Config struct {
	MinUpnlPct      fp.Fp
	SignalMin       fp.Fp
	CooldownMs      int64
	MaxCount        int
	MaxSpreadPct    fp.Fp
	MaxNotional     fp.Fp
	SizeMultiplier  fp.Fp
	TTLMs           int64
	MaxRepriceAttempts int
}

// State is the per-position ladder state.
type State struct {
	Count        int
	LastAddOnTs  int64
	PendingOrderID  string
	PendingAttempt  int
	PendingClientOrderID string
}

// Signal is the minimal strategy input the ladder gates on.
type Signal struct {
	Side  Side
	Score fp.Fp
}

// Request is the resolved order the supervisor should submit.
type Request struct {
	ClientOrderID string
	Qty           fp.Fp
	TTLMs         int64
	ReasonCode    string
	RepriceAttempt int
}

// Evaluate checks eligibility and, if eligible, returns the add-on order
// to place. The Request carries no price; the caller prices it at the
// current same-side best quote.
func Evaluate(
	runID, symbol string,
	st *State,
	cfg Config,
	side Side,
	sig Signal,
	nowMs int64,
	unrealizedPnlPct fp.Fp,
	spreadPct fp.Fp,
	positionNotional fp.Fp,
	sizedQty fp.Fp,
	proposedNotional fp.Fp,
) (Request, bool) {
	if st.PendingOrderID != "" {
		return Request{}, false
	}
	if unrealizedPnlPct.LessThan(cfg.MinUpnlPct) {
		return Request{}, false
	}
	if sig.Score.LessThan(cfg.SignalMin) {
		return Request{}, false
	}
	if nowMs-st.LastAddOnTs < cfg.CooldownMs {
		return Request{}, false
	}
	if st.Count >= cfg.MaxCount {
		return Request{}, false
	}
	if spreadPct.GreaterThan(cfg.MaxSpreadPct) {
		return Request{}, false
	}
	if positionNotional.Add(proposedNotional).GreaterThan(cfg.MaxNotional) {
		return Request{}, false
	}
	if sig.Side != side {
		return Request{}, false
	}

	qty := sizedQty.Mul(cfg.SizeMultiplier)
	clientOrderID := clientOrderID(runID, symbol, st.Count, 0)
	return Request{
		ClientOrderID: clientOrderID,
		Qty:           qty,
		TTLMs:         cfg.TTLMs,
		ReasonCode:    ReasonCodeAddonMaker,
		RepriceAttempt: 0,
	}, true
}

// Reprice handles a LIMIT_TTL_CANCEL for a still-aligned signal, per
// spec §4.6's TTL-repricing paragraph.
func Reprice(runID, symbol string, st *State, cfg Config, side Side, sig Signal, remainingQty fp.Fp) (Request, bool) {
	if remainingQty.IsZero() {
		return Request{}, false
	}
	if st.PendingAttempt >= cfg.MaxRepriceAttempts {
		return Request{}, false
	}
	if sig.Side != side {
		return Request{}, false
	}
	attempt := st.PendingAttempt + 1
	return Request{
		ClientOrderID:  clientOrderID(runID, symbol, st.Count, attempt),
		Qty:            remainingQty,
		TTLMs:          cfg.TTLMs,
		ReasonCode:     ReasonCodeAddonMaker,
		RepriceAttempt: attempt,
	}, true
}

// OnFill increments the ladder count by one on every call and clears the
// pending-order fields. It keeps no record of which clientOrderIds have
// already been counted, so an order reported as filling on several calls
// is counted once per call.
func (st *State) OnFill(nowMs int64) {
	st.Count++
	st.LastAddOnTs = nowMs
	st.PendingOrderID = ""
	st.PendingAttempt = 0
	st.PendingClientOrderID = ""
}

func clientOrderID(runID, symbol string, addonIndex, attempt int) string {
	return "addon-" + runID + "-" + symbol + "-" + strconv.Itoa(addonIndex) + "-" + strconv.Itoa(attempt)
}
