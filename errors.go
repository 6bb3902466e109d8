package ibarrow

import (
	"errors"
	"fmt"
)

// Kind classifies an error at the library boundary. The set is closed so
// callers can discriminate connectivity, statement, and data-shape failures
// without matching message text.
type Kind int

const (
	// KindConnection covers failures to open or reach the data source.
	KindConnection Kind = iota
	// KindQuery covers statement execution failures reported by the driver.
	KindQuery
	// KindConversion covers schema mapping, type, oversized-field, and
	// serialization/export failures.
	KindConversion
)

// String returns the kind name as exposed to binding layers.
func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "ConnectionError"
	case KindQuery:
		return "QueryError"
	case KindConversion:
		return "ConversionError"
	default:
		return "UnknownError"
	}
}

// Error is the single error type crossing the library boundary. Column names
// the offending column for mapping and conversion failures; Code carries the
// driver error code when one was reported.
type Error struct {
	Kind   Kind
	Column string
	Code   string
	msg    string
	cause  error
}

func (e *Error) Error() string {
	switch {
	case e.Column != "" && e.cause != nil:
		return fmt.Sprintf("%s: column %q: %s: %v", e.Kind, e.Column, e.msg, e.cause)
	case e.Column != "":
		return fmt.Sprintf("%s: column %q: %s", e.Kind, e.Column, e.msg)
	case e.cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.msg, e.cause)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.msg)
	}
}

// Unwrap exposes the underlying cause for errors.Is / errors.As.
func (e *Error) Unwrap() error { return e.cause }

// ConnectionError wraps err as a connection failure.
func ConnectionError(msg string, err error) *Error {
	return &Error{Kind: KindConnection, msg: msg, cause: err}
}

// QueryError wraps err as a statement execution failure.
func QueryError(msg string, err error) *Error {
	return &Error{Kind: KindQuery, msg: msg, cause: err}
}

// ConversionError wraps err as a conversion failure on the named column.
// column may be empty for failures not attributable to a single column.
func ConversionError(column, msg string, err error) *Error {
	return &Error{Kind: KindConversion, Column: column, msg: msg, cause: err}
}

// KindOf reports the Kind of err if it is (or wraps) an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
