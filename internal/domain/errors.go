package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrRateLimited        = errors.New("rate limited")
	ErrInvalidOrder       = errors.New("invalid order parameters")
	ErrContextDone        = errors.New("context cancelled")
	ErrLockHeld           = errors.New("lock already held")
	ErrCircularDependency = errors.New("circular dependency")
	ErrVenueRejected      = errors.New("venue rejected order")
	ErrDataUnavailable    = errors.New("market data unavailable")
	ErrRiskVeto           = errors.New("risk veto")
	ErrRollbackPartial    = errors.New("rollback partially failed")
	ErrDuplicate          = errors.New("duplicate request")
	ErrCancelled          = errors.New("cancelled")
)

// ValidationError lists every violation found while validating an order set.
// Nothing has been sent to a venue when it is returned.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", strings.Join(e.Violations, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrInvalidOrder }

// Add appends a formatted violation.
func (e *ValidationError) Add(format string, args ...any) {
	e.Violations = append(e.Violations, fmt.Sprintf(format, args...))
}

// OrNil returns nil when no violation was recorded.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Violations) == 0 {
		return nil
	}
	return e
}

// CircularDependencyError reports a dependency cycle between legs.
type CircularDependencyError struct {
	TransactionID string
	Cycle         []string
}

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("transaction %s: circular dependency: %s", e.TransactionID, strings.Join(e.Cycle, " -> "))
}

func (e *CircularDependencyError) Unwrap() error { return ErrCircularDependency }

// VenueRejectionError is returned once every submission attempt to a venue
// has failed.
type VenueRejectionError struct {
	Venue    string
	Symbol   string
	Attempts int
	Err      error
}

func (e *VenueRejectionError) Error() string {
	return fmt.Sprintf("venue %s rejected %s after %d attempt(s): %v", e.Venue, e.Symbol, e.Attempts, e.Err)
}

func (e *VenueRejectionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrVenueRejected}
	}
	return []error{ErrVenueRejected, e.Err}
}

// RiskVetoError is an explicit cancellation by the slippage gate.
type RiskVetoError struct {
	Symbol string
	Level  RiskLevel
	Score  float64
	Reason string
}

func (e *RiskVetoError) Error() string {
	return fmt.Sprintf("risk veto on %s (%s, score %.2f): %s", e.Symbol, e.Level, e.Score, e.Reason)
}

func (e *RiskVetoError) Unwrap() error { return ErrRiskVeto }

// RollbackPartialError means at least one compensating order did not fill.
// The transaction needs manual reconciliation.
type RollbackPartialError struct {
	TransactionID string
	FailedLegs    []string
}

func (e *RollbackPartialError) Error() string {
	return fmt.Sprintf("transaction %s: compensation failed for legs %s", e.TransactionID, strings.Join(e.FailedLegs, ", "))
}

func (e *RollbackPartialError) Unwrap() error { return ErrRollbackPartial }
