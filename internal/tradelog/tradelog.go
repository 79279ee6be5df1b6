// Package tradelog implements the structured trade logger of spec
// §4.9: a single writer goroutine draining a bounded queue of SIGNAL /
// ENTRY / EXIT / ACTION / SNAPSHOT records into daily-rotated JSONL
// files, with drop-counting and a one-shot-per-window spike callback.
package tradelog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// RecordKind is the record's log category, per spec §4.9.
type RecordKind string

const (
	KindSignal   RecordKind = "SIGNAL"
	KindEntry    RecordKind = "ENTRY"
	KindExit     RecordKind = "EXIT"
	KindAction   RecordKind = "ACTION"
	KindSnapshot RecordKind = "SNAPSHOT"
)

// Record is a single append-only log line. Payload is marshaled
// as-is; callers supply whatever shape fits the record Kind.
// TimestampMs is the originating event's timestamp (the engine clock,
// not wall time) and, per spec §6, is what the daily rotation buckets
// on — LoggedAtMs is wall-clock and only for operator diagnostics.
type Record struct {
	Kind        RecordKind  `json:"kind"`
	Symbol      string      `json:"symbol"`
	Payload     interface{} `json:"payload"`
	TimestampMs int64       `json:"timestampMs"`
	LoggedAtMs  int64       `json:"loggedAtMs"`
	loggedAt    time.Time
}

// Config configures queue depth and drop-spike sensitivity.
type Config struct {
	Dir               string
	QueueCap          int
	DropWindow        time.Duration
	DropHaltThreshold int
	OnDropSpike       func(count int)
}

// DefaultConfig returns spec §4.9's documented defaults.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:               dir,
		QueueCap:          10_000,
		DropWindow:        10 * time.Second,
		DropHaltThreshold: 50,
	}
}

// Logger is the single-writer trade logger.
type Logger struct {
	cfg Config
	log zerolog.Logger

	queue chan Record
	done  chan struct{}

	mu            sync.Mutex
	dropCount     int
	dropWindowEnd time.Time
	spikeFired    bool
}

// New starts the logger's writer goroutine.
func New(cfg Config, log zerolog.Logger) (*Logger, error) {
	if cfg.QueueCap <= 0 {
		cfg.QueueCap = 10_000
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("tradelog: create dir: %w", err)
	}
	l := &Logger{
		cfg:   cfg,
		log:   log,
		queue: make(chan Record, cfg.QueueCap),
		done:  make(chan struct{}),
	}
	go l.run()
	return l, nil
}

// Enqueue submits a record for the writer to persist. If the queue is
// at its soft cap, the record is dropped and the drop counter
// increments; a sustained drop spike within DropWindow triggers
// OnDropSpike once per window.
func (l *Logger) Enqueue(r Record) {
	r.loggedAt = time.Now()
	r.LoggedAtMs = r.loggedAt.UnixMilli()
	select {
	case l.queue <- r:
	default:
		l.recordDrop()
	}
}

func (l *Logger) recordDrop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.After(l.dropWindowEnd) {
		l.dropWindowEnd = now.Add(l.cfg.DropWindow)
		l.dropCount = 0
		l.spikeFired = false
	}
	l.dropCount++
	if !l.spikeFired && l.dropCount > l.cfg.DropHaltThreshold {
		l.spikeFired = true
		if l.cfg.OnDropSpike != nil {
			l.cfg.OnDropSpike(l.dropCount)
		}
		l.log.Warn().Int("drop_count", l.dropCount).Msg("trade log drop spike")
	}
}

// run is the single writer goroutine: it owns the current day's file
// handle exclusively, so no locking is needed around writes.
func (l *Logger) run() {
	var current *os.File
	var currentDate string
	defer func() {
		if current != nil {
			current.Close()
		}
		close(l.done)
	}()

	for r := range l.queue {
		date := time.UnixMilli(r.TimestampMs).UTC().Format("20060102")
		if date != currentDate {
			if current != nil {
				current.Close()
			}
			f, err := os.OpenFile(filepath.Join(l.cfg.Dir, "dryrun_"+date+".jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
			if err != nil {
				l.log.Error().Err(err).Str("date", date).Msg("tradelog: rotate failed")
				continue
			}
			current = f
			currentDate = date
		}
		line, err := json.Marshal(r)
		if err != nil {
			l.log.Error().Err(err).Msg("tradelog: marshal failed")
			continue
		}
		line = append(line, '\n')
		if _, err := current.Write(line); err != nil {
			l.log.Error().Err(err).Msg("tradelog: write failed")
		}
	}
}

// Shutdown closes the queue and blocks until the writer drains and
// closes its file handle.
func (l *Logger) Shutdown() {
	close(l.queue)
	<-l.done
}
