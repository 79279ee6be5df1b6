package feed

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/dryrun-futures/engine/internal/fp"
)

func TestApplyDiffUpsertsAndSorts(t *testing.T) {
	levels := applyDiff(nil, [][]string{{"100", "1"}, {"99", "2"}, {"101", "3"}}, true, 10)
	if len(levels) != 3 {
		t.Fatalf("expected 3 levels, got %d", len(levels))
	}
	if !levels[0].Price.Equal(fp.FromInt(101)) {
		t.Fatalf("expected descending sort, highest first, got %v", levels[0].Price)
	}
}

func TestApplyDiffRemovesZeroQty(t *testing.T) {
	levels := applyDiff(nil, [][]string{{"100", "1"}, {"99", "2"}}, false, 10)
	levels = applyDiff(levels, [][]string{{"100", "0"}}, false, 10)
	if len(levels) != 1 {
		t.Fatalf("expected the zero-qty level removed, got %d levels", len(levels))
	}
	if !levels[0].Price.Equal(fp.FromInt(99)) {
		t.Fatalf("expected remaining level at 99, got %v", levels[0].Price)
	}
}

func TestApplyDiffTruncatesToDepth(t *testing.T) {
	updates := [][]string{{"1", "1"}, {"2", "1"}, {"3", "1"}, {"4", "1"}}
	levels := applyDiff(nil, updates, true, 2)
	if len(levels) != 2 {
		t.Fatalf("expected truncation to depth=2, got %d", len(levels))
	}
}

func TestHandleMessageDecodesCombinedStreamEnvelope(t *testing.T) {
	f := New(DefaultConfig([]string{"BTCUSDT"}), zerolog.Nop())

	raw := []byte(`{"stream":"btcusdt@depth@100ms","data":{"e":"depthUpdate","E":1700000000000,"s":"BTCUSDT","b":[["100.0","2.0"]],"a":[["101.0","3.0"]]}}`)
	if err := f.handleMessage(raw); err != nil {
		t.Fatalf("handleMessage: %v", err)
	}

	select {
	case ev := <-f.events:
		if ev.Symbol != "BTCUSDT" {
			t.Fatalf("expected BTCUSDT, got %s", ev.Symbol)
		}
		if len(ev.OrderBook.Bids) != 1 || len(ev.OrderBook.Asks) != 1 {
			t.Fatalf("expected one level per side, got %+v", ev.OrderBook)
		}
	default:
		t.Fatalf("expected a depth event to be published")
	}
}

func TestLowerSymbol(t *testing.T) {
	if got := lowerSymbol("BTCUSDT"); got != "btcusdt" {
		t.Fatalf("expected btcusdt, got %s", got)
	}
}

func TestStreamURLJoinsMultipleSymbols(t *testing.T) {
	f := New(Config{WSBaseURL: "wss://fstream.binance.com/stream", Symbols: []string{"BTCUSDT", "ETHUSDT"}}, zerolog.Nop())
	url := f.streamURL()
	want := "wss://fstream.binance.com/stream?streams=btcusdt@depth@100ms/ethusdt@depth@100ms"
	if url != want {
		t.Fatalf("expected %s, got %s", want, url)
	}
}
