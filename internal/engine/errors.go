package engine

import "fmt"

// CodedError is satisfied by every error the engine returns, so
// callers can switch on the reason code from spec §6 without string
// comparison.
type CodedError interface {
	error
	Code() string
}

// AdmissionError is returned when an event or order is rejected before
// any state mutation occurs (spec §7 "Admission errors").
type AdmissionError struct {
	ReasonCode string
	Msg        string
}

func (e *AdmissionError) Error() string { return fmt.Sprintf("%s: %s", e.ReasonCode, e.Msg) }
func (e *AdmissionError) Code() string  { return e.ReasonCode }

// FatalError represents an invariant violation that aborts the current
// operation; the caller decides the process's fate (spec §7 "Fatal
// invariants").
type FatalError struct {
	ReasonCode string
	Msg        string
}

func (e *FatalError) Error() string { return fmt.Sprintf("fatal: %s: %s", e.ReasonCode, e.Msg) }
func (e *FatalError) Code() string  { return e.ReasonCode }

const (
	ErrInvalidEventTimestamp    = "invalid_event_timestamp"
	ErrNonMonotonicEventTime    = "non_monotonic_event_timestamp"
	ErrCrossedBook              = "crossed_book"
	ErrWalletReconciliation     = "wallet_reconciliation_failed"
	ErrInvalidRandomLikeOrderID = "invalid_random_like_order_id"
	ErrInvalidLeverage          = "invalid_leverage"
	ErrInvalidFundingIntervalMs = "invalid_funding_interval_ms"
)
