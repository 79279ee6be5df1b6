// Package feed adapts Binance USD-M futures combined depth streams into
// supervisor.DepthEvent values, grounded on internal/binance/client.go's
// Dialer/reconnect-loop pattern but pointed at the futures WS host and
// decoding the futures diff-depth payload shape instead of the spot
// trade stream.
package feed

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/dryrun-futures/engine/internal/engine"
	"github.com/dryrun-futures/engine/internal/fp"
	"github.com/dryrun-futures/engine/internal/supervisor"
)

// Config controls one Feed's connection and book-rebuild behavior.
type Config struct {
	WSBaseURL         string // e.g. wss://fstream.binance.com/ws, validated by internal/guard before Feed is constructed
	Symbols           []string
	Depth             int // levels kept per side after each diff, mirrors engine.Config.BookDepth
	ReconnectInterval time.Duration
	DialTimeout       time.Duration
}

// DefaultConfig mirrors internal/binance/client.go's NewClient defaults,
// adapted to the futures combined-stream host and a configurable
// reconnect backoff.
func DefaultConfig(symbols []string) Config {
	return Config{
		WSBaseURL:         "wss://fstream.binance.com/stream",
		Symbols:           symbols,
		Depth:             20,
		ReconnectInterval: 5 * time.Second,
		DialTimeout:       10 * time.Second,
	}
}

// depthDiffPayload is the futures @depth stream's inner "data" shape:
// https://binance-docs.github.io/apidocs/futures/en/#diff-book-depth-streams
type depthDiffPayload struct {
	EventType     string     `json:"e"`
	EventTimeMs   int64      `json:"E"`
	Symbol        string     `json:"s"`
	Bids          [][]string `json:"b"`
	Asks          [][]string `json:"a"`
}

type combinedStreamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// Feed maintains one resting order book per symbol, rebuilt from the
// futures diff-depth stream, and emits supervisor.DepthEvent values on
// Events() as each diff arrives.
type Feed struct {
	cfg Config
	log zerolog.Logger

	books map[string]engine.Book

	events chan supervisor.DepthEvent
	stopCh chan struct{}
	conn   *websocket.Conn
}

// New constructs a Feed. Callers must validate cfg.WSBaseURL with
// internal/guard.Validate before calling Run, mirroring
// internal/guard's validate-before-connect ordering.
func New(cfg Config, log zerolog.Logger) *Feed {
	return &Feed{
		cfg:    cfg,
		log:    log,
		books:  make(map[string]engine.Book, len(cfg.Symbols)),
		events: make(chan supervisor.DepthEvent, 256),
		stopCh: make(chan struct{}),
	}
}

// Events returns the channel DepthEvents are published on.
func (f *Feed) Events() <-chan supervisor.DepthEvent {
	return f.events
}

// Run connects and streams until ctx-less Stop is called, reconnecting
// on any read/dial error, mirroring internal/binance/client.go's
// runWebSocket retry loop.
func (f *Feed) Run() {
	for {
		select {
		case <-f.stopCh:
			return
		default:
		}

		if err := f.connectAndRead(); err != nil {
			f.log.Error().Err(err).Msg("feed: websocket session ended, reconnecting")
		}

		select {
		case <-f.stopCh:
			return
		case <-time.After(f.cfg.ReconnectInterval):
		}
	}
}

// Stop closes the feed and its connection.
func (f *Feed) Stop() {
	close(f.stopCh)
	if f.conn != nil {
		f.conn.Close()
	}
}

func (f *Feed) streamURL() string {
	if len(f.cfg.Symbols) == 0 {
		return f.cfg.WSBaseURL
	}
	url := f.cfg.WSBaseURL + "?streams="
	for i, s := range f.cfg.Symbols {
		if i > 0 {
			url += "/"
		}
		url += lowerSymbol(s) + "@depth@100ms"
	}
	return url
}

func (f *Feed) connectAndRead() error {
	dialer := websocket.Dialer{HandshakeTimeout: f.cfg.DialTimeout}
	conn, _, err := dialer.Dial(f.streamURL(), nil)
	if err != nil {
		return fmt.Errorf("feed: dial: %w", err)
	}
	f.conn = conn
	f.log.Info().Str("url", f.streamURL()).Msg("feed: connected to futures depth stream")

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: read: %w", err)
		}
		if err := f.handleMessage(msg); err != nil {
			f.log.Warn().Err(err).Msg("feed: dropping malformed depth message")
		}
	}
}

func (f *Feed) handleMessage(raw []byte) error {
	var env combinedStreamEnvelope
	payloadRaw := raw
	if err := json.Unmarshal(raw, &env); err == nil && len(env.Data) > 0 {
		payloadRaw = env.Data
	}

	var diff depthDiffPayload
	if err := json.Unmarshal(payloadRaw, &diff); err != nil {
		return fmt.Errorf("unmarshal depth payload: %w", err)
	}
	if diff.Symbol == "" {
		return nil
	}

	book := f.books[diff.Symbol]
	book.Bids = applyDiff(book.Bids, diff.Bids, true, f.cfg.Depth)
	book.Asks = applyDiff(book.Asks, diff.Asks, false, f.cfg.Depth)
	f.books[diff.Symbol] = book

	ev := supervisor.DepthEvent{
		Symbol:           diff.Symbol,
		EventTimestampMs: diff.EventTimeMs,
		OrderBook:        book,
	}

	select {
	case f.events <- ev:
	default:
		f.log.Warn().Str("symbol", diff.Symbol).Msg("feed: events channel full, dropping depth event")
	}
	return nil
}

// applyDiff merges a set of [price, qty] string-pair updates into a
// sorted level slice: qty=="0" removes the level, otherwise it is
// upserted, then the slice is re-sorted (desc for bids, asc for asks)
// and truncated to depth.
func applyDiff(levels []engine.Level, updates [][]string, descending bool, depth int) []engine.Level {
	byPrice := make(map[string]engine.Level, len(levels))
	order := make([]string, 0, len(levels))
	for _, lvl := range levels {
		key := lvl.Price.String()
		byPrice[key] = lvl
		order = append(order, key)
	}

	for _, u := range updates {
		if len(u) != 2 {
			continue
		}
		price, err := fp.FromString(u[0])
		if err != nil {
			continue
		}
		qty, err := fp.FromString(u[1])
		if err != nil {
			continue
		}
		key := price.String()
		if qty.IsZero() {
			if _, ok := byPrice[key]; ok {
				delete(byPrice, key)
			}
			continue
		}
		if _, existed := byPrice[key]; !existed {
			order = append(order, key)
		}
		byPrice[key] = engine.Level{Price: price, Qty: qty}
	}

	merged := make([]engine.Level, 0, len(order))
	for _, key := range order {
		if lvl, ok := byPrice[key]; ok {
			merged = append(merged, lvl)
		}
	}

	sortLevels(merged, descending)
	if depth > 0 && len(merged) > depth {
		merged = merged[:depth]
	}
	return merged
}

func sortLevels(levels []engine.Level, descending bool) {
	for i := 1; i < len(levels); i++ {
		for j := i; j > 0; j-- {
			var swap bool
			if descending {
				swap = levels[j-1].Price.LessThan(levels[j].Price)
			} else {
				swap = levels[j-1].Price.GreaterThan(levels[j].Price)
			}
			if !swap {
				break
			}
			levels[j-1], levels[j] = levels[j], levels[j-1]
		}
	}
}

func lowerSymbol(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
