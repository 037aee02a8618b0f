// Package fault defines the error taxonomy shared by every dittodsu layer.
//
// Every error that crosses a package boundary carries a coarse RootCause
// (network, missing-data, business, throttler, data-input, unknown) and an
// optional numeric status code. Callers decide between retry and fail-fast by
// branching on the root cause, never on message text.
//
// Usage Pattern:
//
//	versions, err := persistence.GetAllVersions(ctx, domain, anchorID)
//	if err != nil {
//	    if fault.IsMissingData(err) {
//	        return nil, nil // no versions yet
//	    }
//	    return nil, fault.Wrap(err, "failed to read anchor history")
//	}
//
// Wrapping with fault.Wrap or fmt.Errorf("...: %w", err) preserves the root
// cause of the innermost classified error.
package fault

import (
	"errors"
	"fmt"
	"net/http"
)

// RootCause is the coarse classification used for retry decisions.
type RootCause string

const (
	// Network indicates a transport failure (connection refused, DNS, timeout).
	Network RootCause = "network"

	// MissingData indicates an absent anchor, version, brick or blob (HTTP 404).
	MissingData RootCause = "missing-data"

	// Business indicates a request rejected by domain rules (HTTP 4xx except 404/429).
	Business RootCause = "business"

	// Throttler indicates the remote side is rate limiting (HTTP 429).
	Throttler RootCause = "throttler"

	// DataInput indicates a malformed identifier or a parse failure.
	DataInput RootCause = "data-input"

	// Unknown is used for anything that could not be classified.
	Unknown RootCause = "unknown"
)

// Error is a classified error with an optional status code and cause chain.
type Error struct {
	// Cause is the root cause classification
	Cause RootCause

	// Code is a protocol status code (e.g. 409, 428), 0 when not applicable
	Code int

	// Message is a human-readable description of this layer's failure
	Message string

	// Err is the wrapped error (may be nil)
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Err == nil:
		return e.Message
	case e.Message == "":
		return e.Err.Error()
	default:
		return e.Message + ": " + e.Err.Error()
	}
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error without a wrapped cause.
func New(cause RootCause, message string) *Error {
	return &Error{Cause: cause, Message: message}
}

// Newf creates a classified error with a formatted message.
func Newf(cause RootCause, format string, args ...any) *Error {
	return &Error{Cause: cause, Message: fmt.Sprintf(format, args...)}
}

// WithCode creates a classified error carrying a status code and wrapping err.
func WithCode(cause RootCause, code int, message string, err error) *Error {
	return &Error{Cause: cause, Code: code, Message: message, Err: err}
}

// Classify wraps err with an explicit root cause.
//
// This is used at the boundary where raw errors (driver errors, sentinels)
// first enter the taxonomy. If err already carries a classification, the
// innermost one still wins in RootCauseOf.
func Classify(cause RootCause, err error, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Cause: cause, Code: CodeOf(err), Message: message, Err: err}
}

// Wrap adds a message to err, keeping the root cause and code of the chain.
//
// Returns nil when err is nil so it can be used in return statements.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Cause: RootCauseOf(err), Code: CodeOf(err), Message: message, Err: err}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// RootCauseOf returns the innermost classified root cause in the chain, or
// Unknown when nothing in the chain is classified.
func RootCauseOf(err error) RootCause {
	cause := Unknown
	for err != nil {
		var fe *Error
		if !errors.As(err, &fe) {
			break
		}
		if fe.Cause != "" {
			cause = fe.Cause
		}
		err = fe.Err
	}
	return cause
}

// CodeOf returns the innermost non-zero status code in the chain, or 0.
func CodeOf(err error) int {
	code := 0
	for err != nil {
		var fe *Error
		if !errors.As(err, &fe) {
			break
		}
		if fe.Code != 0 {
			code = fe.Code
		}
		err = fe.Err
	}
	return code
}

// FromStatus classifies an HTTP status code.
//
//   - 404 -> MissingData
//   - 429 -> Throttler
//   - other 4xx -> Business
//   - everything else -> Unknown
func FromStatus(status int, message string) *Error {
	var cause RootCause
	switch {
	case status == http.StatusNotFound:
		cause = MissingData
	case status == http.StatusTooManyRequests:
		cause = Throttler
	case status >= 400 && status < 500:
		cause = Business
	default:
		cause = Unknown
	}
	return &Error{Cause: cause, Code: status, Message: message}
}

// HTTPStatus maps an error back to the HTTP status a server should answer with.
func HTTPStatus(err error) int {
	if code := CodeOf(err); code >= 400 && code < 600 {
		return code
	}
	switch RootCauseOf(err) {
	case MissingData:
		return http.StatusNotFound
	case Throttler:
		return http.StatusTooManyRequests
	case Business:
		return http.StatusConflict
	case DataInput:
		return http.StatusBadRequest
	case Network:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func IsNetwork(err error) bool     { return err != nil && RootCauseOf(err) == Network }
func IsMissingData(err error) bool { return err != nil && RootCauseOf(err) == MissingData }
func IsBusiness(err error) bool    { return err != nil && RootCauseOf(err) == Business }
func IsThrottler(err error) bool   { return err != nil && RootCauseOf(err) == Throttler }
func IsDataInput(err error) bool   { return err != nil && RootCauseOf(err) == DataInput }

// IsRetryable reports whether retrying the same request may succeed.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch RootCauseOf(err) {
	case Network, Throttler, Unknown:
		return true
	default:
		return false
	}
}
