// Package apperr provides the error-kind taxonomy shared by every component
// in this module: stores, the ingestion pipeline, the graph builder, and the
// query engine all classify their failures into one of a fixed set of kinds
// so that callers can decide retry/propagation behavior without depending on
// any single package's sentinel values.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure. Kinds are not Go types; they are a closed
// enumeration carried on Error.
type Kind string

const (
	NotFound            Kind = "not_found"
	Unauthorized        Kind = "unauthorized"
	AlreadyExists       Kind = "already_exists"
	InvalidInput        Kind = "invalid_input"
	InvalidState        Kind = "invalid_state"
	UpstreamUnavailable Kind = "upstream_unavailable"
	UpstreamRateLimited Kind = "upstream_rate_limited"
	UpstreamAuth        Kind = "upstream_auth"
	Timeout             Kind = "timeout"
	Cancelled           Kind = "cancelled"
	Internal            Kind = "internal"
)

// Error is a Kind-tagged error. It wraps an optional cause so errors.Is and
// errors.As continue to work against whatever the cause carries.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds a Kind-tagged error with a formatted message and no cause.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap tags an existing error with a Kind, preserving it as the cause so
// errors.Is/errors.As against the original error still succeed.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func NotFoundf(format string, args ...any) *Error {
	return New(NotFound, format, args...)
}

func Unauthorizedf(format string, args ...any) *Error {
	return New(Unauthorized, format, args...)
}

func AlreadyExistsf(format string, args ...any) *Error {
	return New(AlreadyExists, format, args...)
}

func InvalidInputf(format string, args ...any) *Error {
	return New(InvalidInput, format, args...)
}

func InvalidStatef(format string, args ...any) *Error {
	return New(InvalidState, format, args...)
}

// KindOf extracts the Kind from err, defaulting to Internal when err does
// not carry one (including nil, which is never expected to reach a caller
// that asks for a Kind, but returns Internal rather than panicking).
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return Internal
}

// Is reports whether err carries the given Kind, descending through wrapped
// causes the same way errors.Is does.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
