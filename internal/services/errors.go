package services

import "fmt"

// ValidationError rejects malformed input before any write.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// NotAllowedError is a business-rule violation: payment exceeds balance due,
// missing GL account configuration, destination not a bank account. Always
// raised before any write and surfaced to the caller as actionable.
type NotAllowedError struct {
	Msg string
}

func (e *NotAllowedError) Error() string { return e.Msg }

// LedgerImbalanceError means a transaction's postings do not net to zero.
// Valid callers can never trigger it; it is a bug-class error, not retried.
type LedgerImbalanceError struct {
	Increase string
	Decrease string
}

func (e *LedgerImbalanceError) Error() string {
	return fmt.Sprintf("ledger imbalance: increase total %s != decrease total %s", e.Increase, e.Decrease)
}

// NotFoundError reports an unknown GL account, invoice or transaction id.
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

func notAllowedf(format string, args ...any) error {
	return &NotAllowedError{Msg: fmt.Sprintf(format, args...)}
}

func validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}
