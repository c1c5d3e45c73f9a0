// Package errors defines the structured error types surfaced by the SDK.
// A run fails in exactly one of two ways: the call itself was malformed
// (invalid argument, nothing executed) or one or more operations failed
// after every operation settled (aggregate failure).
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Machine-readable error codes carried by Error.
const (
	// CodeInvalidArgument indicates a malformed call rejected before any
	// operation was invoked.
	CodeInvalidArgument = "INVALID_ARGUMENT"

	// CodeAggregateFailure indicates one or more operations failed after
	// all of them settled.
	CodeAggregateFailure = "AGGREGATE_FAILURE"
)

// Error represents a structured SDK error
type Error struct {
	// Code is a machine-readable error code
	Code string

	// Message is a human-readable error message
	Message string

	// Err is the underlying error, if any
	Err error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new SDK error
func NewError(code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewInvalidArgument creates an invalid-argument error with the given message.
func NewInvalidArgument(message string) *Error {
	return NewError(CodeInvalidArgument, message, nil)
}

// IsInvalidArgument checks if an error is an invalid-argument error
func IsInvalidArgument(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == CodeInvalidArgument
}

// ItemError records the failure of a single work item together with the
// zero-based position of that item in the input list.
type ItemError struct {
	Index int
	Err   error
}

// Error implements the error interface
func (e ItemError) Error() string {
	return fmt.Sprintf("item %d: %v", e.Index, e.Err)
}

// Unwrap returns the underlying item failure
func (e ItemError) Unwrap() error {
	return e.Err
}

// AggregateError is returned when at least one operation in a run failed.
// It is produced only after every operation has settled, so Failures is
// exhaustive: every failed index appears exactly once. Failures is ordered
// by completion time, not by input index.
type AggregateError struct {
	// Total is the number of items in the run, failed or not.
	Total int

	// Failures holds one entry per failed item, in completion order.
	Failures []ItemError
}

// Error implements the error interface. The message leads with a summary
// of how many of the run's items failed, followed by per-item detail.
func (e *AggregateError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d of %d operations failed", len(e.Failures), e.Total)
	for _, f := range e.Failures {
		sb.WriteString("; ")
		sb.WriteString(f.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying per-item errors so errors.Is and errors.As
// can match against any individual failure.
func (e *AggregateError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

// Indexes returns the input positions of the failed items, in completion order.
func (e *AggregateError) Indexes() []int {
	indexes := make([]int, len(e.Failures))
	for i, f := range e.Failures {
		indexes[i] = f.Index
	}
	return indexes
}

// NewAggregateError creates an aggregate error for a run of total items.
func NewAggregateError(total int, failures []ItemError) *AggregateError {
	return &AggregateError{
		Total:    total,
		Failures: failures,
	}
}

// AsAggregate extracts an AggregateError from err, if it is one.
func AsAggregate(err error) (*AggregateError, bool) {
	var agg *AggregateError
	if errors.As(err, &agg) {
		return agg, true
	}
	return nil, false
}
