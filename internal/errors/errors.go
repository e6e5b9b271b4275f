// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrStaleData         = errors.New("market data stale")
	ErrSequenceRegressed = errors.New("snapshot sequence did not increase")
	ErrCrossedBook       = errors.New("order book crossed")
	ErrInsufficientData  = errors.New("insufficient data for calculation")
	ErrIntentConsumed    = errors.New("trade intent already consumed")
	ErrIntentExpired     = errors.New("trade intent expired")
	ErrOrderRejected     = errors.New("order rejected")
	ErrTimeout           = errors.New("operation timed out")
	ErrVenueUnknown      = errors.New("unknown venue")
	ErrInstrumentHalted  = errors.New("instrument halted pending intervention")
	ErrConfigInvalid     = errors.New("invalid configuration")
	ErrLedgerClosed      = errors.New("ledger closed")
)

// DataError represents a market-data fault. Data faults are recovered by
// suppression and counting; they are never fatal.
type DataError struct {
	Venue      string
	Instrument string
	Reason     string
	Err        error
}

func (e *DataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("data fault [%s %s]: %s: %v", e.Venue, e.Instrument, e.Reason, e.Err)
	}
	return fmt.Sprintf("data fault [%s %s]: %s", e.Venue, e.Instrument, e.Reason)
}

func (e *DataError) Unwrap() error {
	return e.Err
}

// NewDataError creates a new DataError.
func NewDataError(venue, instrument, reason string, err error) *DataError {
	return &DataError{Venue: venue, Instrument: instrument, Reason: reason, Err: err}
}

// OrderError represents a venue fault on an order slice.
type OrderError struct {
	OrderID    string
	Venue      string
	Instrument string
	Reason     string
	Err        error
}

func (e *OrderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("order error [%s] %s %s: %s: %v", e.OrderID, e.Venue, e.Instrument, e.Reason, e.Err)
	}
	return fmt.Sprintf("order error [%s] %s %s: %s", e.OrderID, e.Venue, e.Instrument, e.Reason)
}

func (e *OrderError) Unwrap() error {
	return e.Err
}

// NewOrderError creates a new OrderError.
func NewOrderError(orderID, venue, instrument, reason string, err error) *OrderError {
	return &OrderError{OrderID: orderID, Venue: venue, Instrument: instrument, Reason: reason, Err: err}
}

// RiskError represents a sizing veto. Vetoes are expected control flow, not
// failures; the reason code is retained for audit.
type RiskError struct {
	Instrument string
	Reason     string
	Current    float64
	Limit      float64
}

func (e *RiskError) Error() string {
	return fmt.Sprintf("risk veto [%s]: %s (current: %.4f, limit: %.4f)", e.Instrument, e.Reason, e.Current, e.Limit)
}

// NewRiskError creates a new RiskError.
func NewRiskError(instrument, reason string, current, limit float64) *RiskError {
	return &RiskError{Instrument: instrument, Reason: reason, Current: current, Limit: limit}
}

// InvariantError indicates a logic defect, not a market condition. It is
// fatal to the affected instrument: intent generation halts pending external
// intervention.
type InvariantError struct {
	Component  string
	Instrument string
	Detail     string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violation [%s %s]: %s", e.Component, e.Instrument, e.Detail)
}

// NewInvariantError creates a new InvariantError.
func NewInvariantError(component, instrument, detail string) *InvariantError {
	return &InvariantError{Component: component, Instrument: instrument, Detail: detail}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
