// Package config loads the dry-run engine's runtime configuration from
// the environment, mirroring internal/config/config.go's Load()
// constructor and risk/manager.go's envDecimalRM/envIntRM helper style.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/dryrun-futures/engine/internal/addon"
	"github.com/dryrun-futures/engine/internal/engine"
	"github.com/dryrun-futures/engine/internal/flip"
	"github.com/dryrun-futures/engine/internal/fp"
	"github.com/dryrun-futures/engine/internal/guard"
	"github.com/dryrun-futures/engine/internal/riskgov"
	"github.com/dryrun-futures/engine/internal/stopmgr"
	"github.com/dryrun-futures/engine/internal/supervisor"
	"github.com/dryrun-futures/engine/internal/tradelog"
)

// Config is the composition root's top-level configuration: bot-wide
// settings plus one supervisor.Config per traded symbol.
type Config struct {
	RunID   string
	Debug   bool
	LogJSON bool

	Proxy guard.Proxy

	StorePath string

	Symbols map[string]supervisor.Config
}

// Load reads a .env file (if present) via godotenv, then builds the
// Config from the environment. DRYRUN_SYMBOLS is a comma-separated
// symbol list; every other DRYRUN_* variable applies uniformly across
// all configured symbols, mirroring the single BTCEnabled/BTC* block
// the teacher's config.Load wires into a one-entry Markets slice.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		RunID:   getEnv("DRYRUN_RUN_ID", "local"),
		Debug:   getEnvBool("DEBUG", false),
		LogJSON: getEnvBool("LOG_JSON", false),
		Proxy: guard.Proxy{
			Mode:            getEnv("DRYRUN_PROXY_MODE", "backend-proxy"),
			RESTBaseURL:     getEnv("DRYRUN_REST_BASE_URL", "https://fapi.binance.com"),
			MarketWSBaseURL: getEnv("DRYRUN_WS_BASE_URL", "wss://fstream.binance.com/stream"),
		},
		StorePath: getEnv("DRYRUN_STORE_PATH", "./dryrun-sessions.db"),
	}

	symbolsRaw := getEnv("DRYRUN_SYMBOLS", "BTCUSDT")
	var symbols []string
	for _, s := range strings.Split(symbolsRaw, ",") {
		s = strings.TrimSpace(strings.ToUpper(s))
		if s != "" {
			symbols = append(symbols, s)
		}
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("DRYRUN_SYMBOLS must list at least one symbol")
	}

	walletStart := getEnvDecimal("DRYRUN_WALLET_BALANCE_START", decimal.NewFromInt(10_000))
	initialMargin := getEnvDecimal("DRYRUN_INITIAL_MARGIN", decimal.NewFromInt(1_000))
	leverage := getEnvDecimal("DRYRUN_LEVERAGE", decimal.NewFromInt(10))
	takerFee := getEnvDecimal("DRYRUN_TAKER_FEE_RATE", decimal.NewFromFloat(0.0004))
	makerFee := getEnvDecimal("DRYRUN_MAKER_FEE_RATE", decimal.NewFromFloat(0.0002))
	maintMargin := getEnvDecimal("DRYRUN_MAINTENANCE_MARGIN_RATE", decimal.NewFromFloat(0.005))
	fundingRate := getEnvDecimal("DRYRUN_FUNDING_RATE", decimal.NewFromFloat(0.0001))
	fundingIntervalMs := getEnvInt64("DRYRUN_FUNDING_INTERVAL_MS", 8*60*60*1000)
	bookDepth := getEnvInt("DRYRUN_BOOK_DEPTH", 20)
	minEventIntervalMs := getEnvInt64("DRYRUN_MIN_EVENT_INTERVAL_MS", 250)
	manualTestQty := getEnvDecimal("DRYRUN_MANUAL_TEST_QTY", decimal.NewFromFloat(0.001))
	debugAggressiveEntry := getEnvBool("DRYRUN_DEBUG_AGGRESSIVE_ENTRY", false)
	debugEntryCooldownMs := getEnvInt64("DRYRUN_DEBUG_ENTRY_COOLDOWN_MS", 60_000)
	tradelogDir := getEnv("DRYRUN_TRADELOG_DIR", "./dryrun-logs")
	tradelogQueueCap := getEnvInt("DRYRUN_TRADELOG_QUEUE_CAP", 10_000)

	cfg.Symbols = make(map[string]supervisor.Config, len(symbols))
	for _, symbol := range symbols {
		sc := supervisor.DefaultConfig(cfg.RunID, symbol)
		sc.Proxy = cfg.Proxy
		sc.StorePath = cfg.StorePath

		sc.Engine.RunID = cfg.RunID
		sc.Engine.WalletBalanceStart = fp.FromDecimal(walletStart)
		sc.Engine.InitialMarginUsdt = fp.FromDecimal(initialMargin)
		sc.Engine.Leverage = fp.FromDecimal(leverage)
		sc.Engine.TakerFeeRate = fp.FromDecimal(takerFee)
		sc.Engine.MakerFeeRate = fp.FromDecimal(makerFee)
		sc.Engine.MaintenanceMarginRate = fp.FromDecimal(maintMargin)
		sc.Engine.FundingRate = fp.FromDecimal(fundingRate)
		sc.Engine.FundingIntervalMs = fundingIntervalMs
		sc.Engine.BookDepth = bookDepth

		sc.MinEventIntervalMs = minEventIntervalMs
		sc.ManualTestQty = fp.FromDecimal(manualTestQty)
		sc.DebugAggressiveEntry = debugAggressiveEntry
		sc.DebugEntryCooldownMs = debugEntryCooldownMs

		sc.Tradelog = tradelog.DefaultConfig(tradelogDir + "/" + symbol)
		sc.Tradelog.QueueCap = tradelogQueueCap

		cfg.Symbols[symbol] = sc
	}

	return cfg, nil
}

// Stop, Addon, Flip, Risk and EngineOf keep every sub-component's
// config reachable from a single symbol name without re-reading the
// environment.
func (c *Config) Stop(symbol string) stopmgr.Config    { return c.Symbols[symbol].Stop }
func (c *Config) Addon(symbol string) addon.Config     { return c.Symbols[symbol].Addon }
func (c *Config) Flip(symbol string) flip.Config       { return c.Symbols[symbol].Flip }
func (c *Config) Risk(symbol string) riskgov.Config    { return c.Symbols[symbol].Risk }
func (c *Config) EngineOf(symbol string) engine.Config { return c.Symbols[symbol].Engine }

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
