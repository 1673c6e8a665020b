// Package errs defines the error taxonomy shared by the valuation packages.
//
// Every failure raised by the engine is an *Error carrying a Kind, so callers
// can decide whether to abort a request (invalid input, bad configuration) or
// record a single failed data point inside a batch (calculation invalid).
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a valuation error
type Kind string

const (
	// InvalidInput: missing field, empty or mismatched series, out-of-range scalar.
	InvalidInput Kind = "invalid_input"
	// CalculationInvalid: Gordon precondition violated, zero capital base, non-finite result.
	CalculationInvalid Kind = "calculation_invalid"
	// ConfigurationInvalid: bad scenario field, unsupported distribution, missing shape parameter.
	ConfigurationInvalid Kind = "configuration_invalid"
)

// Error is the concrete error type returned by the engine
type Error struct {
	Kind    Kind
	Field   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by Kind, so errors.Is(err, &Error{Kind: X}) works
// as a kind check.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Field == "" || t.Field == e.Field)
}

// Invalid builds an InvalidInput error for field
func Invalid(field, format string, args ...interface{}) *Error {
	return &Error{Kind: InvalidInput, Field: field, Message: fmt.Sprintf(format, args...)}
}

// Calculation builds a CalculationInvalid error for field
func Calculation(field, format string, args ...interface{}) *Error {
	return &Error{Kind: CalculationInvalid, Field: field, Message: fmt.Sprintf(format, args...)}
}

// Configuration builds a ConfigurationInvalid error for field
func Configuration(field, format string, args ...interface{}) *Error {
	return &Error{Kind: ConfigurationInvalid, Field: field, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a new error of the given kind
func Wrap(kind Kind, field string, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Field: field, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the Kind of err, or "" if err is not an *Error
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err (or anything it wraps) is an *Error of kind k
func IsKind(err error, k Kind) bool {
	return KindOf(err) == k
}
