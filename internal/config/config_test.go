package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dryrun-futures/engine/internal/fp"
)

func clearDryrunEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		key := kv
		for i, c := range kv {
			if c == '=' {
				key = kv[:i]
				break
			}
		}
		if len(key) >= 7 && key[:7] == "DRYRUN_" {
			os.Unsetenv(key)
		}
	}
}

func TestLoadDefaultsToSingleSymbol(t *testing.T) {
	clearDryrunEnv(t)
	defer clearDryrunEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.Len(t, cfg.Symbols, 1)
	require.Contains(t, cfg.Symbols, "BTCUSDT")
}

func TestLoadParsesCommaSeparatedSymbols(t *testing.T) {
	clearDryrunEnv(t)
	defer clearDryrunEnv(t)
	os.Setenv("DRYRUN_SYMBOLS", "btcusdt, ethusdt,solusdt")

	cfg, err := Load()
	require.NoError(t, err)
	for _, want := range []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"} {
		require.Contains(t, cfg.Symbols, want)
	}
}

func TestLoadAppliesWalletOverrideToEverySymbol(t *testing.T) {
	clearDryrunEnv(t)
	defer clearDryrunEnv(t)
	os.Setenv("DRYRUN_SYMBOLS", "BTCUSDT,ETHUSDT")
	os.Setenv("DRYRUN_WALLET_BALANCE_START", "5000")

	cfg, err := Load()
	require.NoError(t, err)

	want := fp.FromInt(5000)
	for symbol, sc := range cfg.Symbols {
		require.Truef(t, sc.Engine.WalletBalanceStart.Equal(want),
			"symbol %s: expected wallet balance 5000, got %s", symbol, sc.Engine.WalletBalanceStart.String())
	}
}

func TestLoadRejectsEmptySymbolList(t *testing.T) {
	clearDryrunEnv(t)
	defer clearDryrunEnv(t)
	os.Setenv("DRYRUN_SYMBOLS", "  , ,")

	_, err := Load()
	require.Error(t, err)
}
