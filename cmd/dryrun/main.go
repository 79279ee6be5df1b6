// Command dryrun is the deterministic dry-run futures engine's
// composition root: it loads configuration, builds a logger, starts
// one session supervisor with a session per configured symbol, subscribes to the
// Binance futures depth feed, and drives ingestion until a shutdown
// signal arrives.
//
// Architecture: Feed -> Supervisor -> Engine
//   - the feed decodes futures depth-diff frames into DepthEvents
//   - the supervisor admits each event, synthesizes orders from
//     winner-stop/add-on/flip/strategy state, and drives the engine
//   - the engine performs matching, accounting, funding and liquidation
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dryrun-futures/engine/internal/config"
	"github.com/dryrun-futures/engine/internal/engine"
	"github.com/dryrun-futures/engine/internal/feed"
	"github.com/dryrun-futures/engine/internal/guard"
	"github.com/dryrun-futures/engine/internal/supervisor"
)

const version = "1.0.0"

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	if cfg.LogJSON {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	log.Info().Str("version", version).Str("runId", cfg.RunID).Msg("starting dry-run futures engine")

	if err := guard.Validate(cfg.Proxy); err != nil {
		log.Fatal().Err(err).Msg("configured proxy endpoints failed the upstream guard")
	}

	sup := supervisor.New(cfg.RunID, log.Logger)
	if err := sup.Start(cfg.Symbols); err != nil {
		log.Fatal().Err(err).Msg("failed to start session supervisor")
	}

	symbols := make([]string, 0, len(cfg.Symbols))
	for symbol := range cfg.Symbols {
		symbols = append(symbols, symbol)
	}

	feedCfg := feed.DefaultConfig(symbols)
	feedCfg.WSBaseURL = cfg.Proxy.MarketWSBaseURL
	marketFeed := feed.New(feedCfg, log.Logger)
	go marketFeed.Run()

	log.Info().Strs("symbols", symbols).Msg("session supervisor and market feed started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case ev := <-marketFeed.Events():
			rec, err := sup.IngestDepthEvent(ev)
			if err != nil {
				log.Debug().Err(err).Str("symbol", ev.Symbol).Msg("depth event rejected by supervisor")
				continue
			}
			logEventOutcome(ev.Symbol, rec)
		case <-quit:
			log.Info().Msg("shutdown signal received, stopping")
			marketFeed.Stop()
			sup.Stop()
			log.Info().Msg("dry-run futures engine stopped")
			return
		}
	}
}

func logEventOutcome(symbol string, rec engine.EventLogRecord) {
	if rec.LiquidationTriggered {
		log.Warn().Str("symbol", symbol).Str("eventId", rec.EventID).Msg("forced liquidation triggered")
	}
	filled := 0
	for _, r := range rec.OrderResults {
		if r.Status == engine.StatusFilled {
			filled++
		}
	}
	if filled > 0 {
		log.Info().
			Str("symbol", symbol).
			Str("eventId", rec.EventID).
			Int("filled", filled).
			Str("wallet", rec.WalletAfter.String()).
			Str("marginHealth", rec.MarginHealth.String()).
			Msg("orders filled")
	}
}
