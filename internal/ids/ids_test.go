package ids

import (
	"testing"

	"github.com/dryrun-futures/engine/internal/fp"
	"github.com/google/uuid"
)

func TestDeterministicAcrossGenerators(t *testing.T) {
	g1 := NewGenerator("run-1")
	g2 := NewGenerator("run-1")

	a := g1.NextEventID(1000)
	b := g2.NextEventID(1000)
	if a != b {
		t.Fatalf("expected identical IDs for identical (runID, counter, input), got %s vs %s", a, b)
	}
}

func TestDifferentRunsDiffer(t *testing.T) {
	g1 := NewGenerator("run-1")
	g2 := NewGenerator("run-2")
	if g1.NextEventID(1000) == g2.NextEventID(1000) {
		t.Fatalf("different runIDs must not collide")
	}
}

func TestCounterAdvances(t *testing.T) {
	g := NewGenerator("run-1")
	a := g.NextEventID(1000)
	b := g.NextEventID(1000)
	if a == b {
		t.Fatalf("the monotonic counter must distinguish identical-input calls")
	}
}

func TestOrderAndTradeIDsDeterministic(t *testing.T) {
	g1 := NewGenerator("run-1")
	g2 := NewGenerator("run-1")

	of := OrderFingerprint{TimestampMs: 1000, Side: "BUY", Qty: fp.FromInt(1), Type: "MARKET", Price: fp.Zero}
	if g1.NextOrderID(of) != g2.NextOrderID(of) {
		t.Fatalf("order IDs must be deterministic")
	}

	tf := TradeFingerprint{EntryTimestampMs: 1000, CloseTimestampMs: 2000, Side: "BUY", Qty: fp.FromInt(1)}
	if g1.NextTradeID(tf) != g2.NextTradeID(tf) {
		t.Fatalf("trade IDs must be deterministic")
	}
}

func TestNeverResemblesUUID(t *testing.T) {
	g := NewGenerator("run-1")
	for i := 0; i < 1000; i++ {
		id := g.NextEventID(int64(i))
		if LooksLikeUUID(id) {
			t.Fatalf("generated id resembles a UUID: %s", id)
		}
	}
}

func TestLooksLikeUUIDDetectsRealUUIDs(t *testing.T) {
	u := uuid.New().String()
	if !LooksLikeUUID(u) {
		t.Fatalf("expected real uuid %s to match the UUID-shaped prefix", u)
	}
}
