package engine

import (
	"sort"

	"github.com/dryrun-futures/engine/internal/fp"
)

// normalizeBook drops non-positive levels, sorts bids desc / asks asc,
// and truncates to depth, per spec §4.1 step 2. It returns a mutable
// copy the rest of event processing consumes progressively.
func normalizeBook(in Book, depth int) Book {
	bids := filterPositive(in.Bids)
	asks := filterPositive(in.Asks)

	sort.SliceStable(bids, func(i, j int) bool { return bids[i].Price.GreaterThan(bids[j].Price) })
	sort.SliceStable(asks, func(i, j int) bool { return asks[i].Price.LessThan(asks[j].Price) })

	if depth > 0 {
		if len(bids) > depth {
			bids = bids[:depth]
		}
		if len(asks) > depth {
			asks = asks[:depth]
		}
	}
	return Book{Bids: bids, Asks: asks}
}

func filterPositive(levels []Level) []Level {
	out := make([]Level, 0, len(levels))
	for _, lvl := range levels {
		if lvl.Price.IsPositive() && lvl.Qty.IsPositive() {
			out = append(out, lvl)
		}
	}
	return out
}

// isCrossed reports whether the best bid is >= the best ask, the
// critical-integrity condition of spec §3's order-book invariant.
func isCrossed(b Book) bool {
	bb, okB := b.BestBid()
	ba, okA := b.BestAsk()
	if !okB || !okA {
		return false
	}
	return bb.Price.GreaterThanOrEqual(ba.Price)
}

// takeLiquidity walks levels from the front, consuming up to qtyNeeded,
// stopping early if limitCheck rejects the next level's price. Matched
// levels are mutated in place (and removed once exhausted) so repeated
// calls within the same event see reduced depth.
func takeLiquidity(levels *[]Level, qtyNeeded fp.Fp, limitCheck func(levelPrice fp.Fp) bool) (filled, notional fp.Fp) {
	filled, notional = fp.Zero, fp.Zero
	remaining := qtyNeeded
	i := 0
	for i < len(*levels) && remaining.IsPositive() {
		lvl := (*levels)[i]
		if limitCheck != nil && !limitCheck(lvl.Price) {
			break
		}
		take := fp.Min(remaining, lvl.Qty)
		filled = filled.Add(take)
		notional = notional.Add(take.Mul(lvl.Price))
		remaining = remaining.Sub(take)
		lvl.Qty = lvl.Qty.Sub(take)
		if lvl.Qty.IsZero() {
			*levels = append((*levels)[:i], (*levels)[i+1:]...)
			continue
		}
		(*levels)[i] = lvl
		i++
	}
	return filled, notional
}

// oppositeSide returns the book side an order of the given side matches
// against.
func oppositeSide(b *Book, side Side) *[]Level {
	if side == Buy {
		return &b.Asks
	}
	return &b.Bids
}

// sameSide returns the book side an order of the given side rests on
// (used to check post-only crossing and to source best-quote for
// add-on maker placement).
func sameSide(b *Book, side Side) *[]Level {
	if side == Buy {
		return &b.Bids
	}
	return &b.Asks
}
