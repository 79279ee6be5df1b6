package supervisor

import "fmt"

// SessionError is a typed session-level admission error, distinct from
// the engine's per-event CodedError/AdmissionError: it guards start(),
// submitManualTestOrder, and the session lookup operations, per spec
// §6's session-level reason codes.
type SessionError struct {
	Code string
	Msg  string
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

const (
	ErrSymbolsRequired            = "symbols_required"
	ErrWalletBalanceMustBePositive = "wallet_balance_start_must_be_positive"
	ErrInitialMarginMustBePositive = "initial_margin_must_be_positive"
	ErrLeverageMustBePositive      = "leverage_must_be_positive"
	ErrManualTestQtyInvalid        = "manual_test_qty_invalid"
	ErrDryRunNotRunningForSymbol   = "dry_run_not_running_for_symbol"
	ErrDryRunSessionNotFound       = "dry_run_session_not_found"
	ErrDryRunSessionInvalid        = "dry_run_session_invalid"
	ErrInvalidFundingIntervalMs    = "invalid_funding_interval_ms"
)
