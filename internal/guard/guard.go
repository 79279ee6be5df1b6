// Package guard validates that the proxy endpoints a run config
// declares actually point at the expected mainnet hosts, per spec §6:
// REST must be fapi.binance.com, WS must be fstream.binance.com.
package guard

import (
	"fmt"
	"net/url"
)

const (
	expectedRESTHost = "fapi.binance.com"
	expectedWSHost   = "fstream.binance.com"
)

// Error is a typed admission error carrying the reason code a caller
// can switch on, per spec §6's upstream_guard_fail_{rest|ws} codes.
type Error struct {
	Code string
	Host string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: host %q does not match expected mainnet endpoint", e.Code, e.Host)
}

// Proxy mirrors the run config's proxy block.
type Proxy struct {
	Mode           string
	RESTBaseURL    string
	MarketWSBaseURL string
}

// Validate checks a run's declared proxy endpoints before any network
// client is constructed, mirroring exec/client.go's dry-run gate but
// applied purely against config rather than at call time.
func Validate(p Proxy) error {
	restHost, err := hostOf(p.RESTBaseURL)
	if err != nil || restHost != expectedRESTHost {
		return &Error{Code: "upstream_guard_fail_rest", Host: restHost}
	}
	wsHost, err := hostOf(p.MarketWSBaseURL)
	if err != nil || wsHost != expectedWSHost {
		return &Error{Code: "upstream_guard_fail_ws", Host: wsHost}
	}
	return nil
}

func hostOf(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	return u.Hostname(), nil
}
