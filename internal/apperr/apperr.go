// Package apperr defines the gateway's closed error taxonomy. Every error
// surfaced across a component boundary is wrapped in a *Error of one of
// these kinds, so handlers at the HTTP/SSE boundary and the scheduler's
// retry policy can classify failures without string matching.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is one of the taxonomy entries from the gateway's error design.
type Kind string

const (
	Unauthorized        Kind = "unauthorized"
	Forbidden           Kind = "forbidden"
	NotFound            Kind = "not_found"
	Busy                Kind = "busy"
	RateLimited         Kind = "rate_limited"
	UpstreamUnavailable Kind = "upstream_unavailable"
	InvalidArguments    Kind = "invalid_arguments"
	ToolDenied          Kind = "tool_denied"
	ToolTimeout         Kind = "tool_timeout"
	ToolRuntime         Kind = "tool_runtime"
	ToolLoopLimit       Kind = "tool_loop_limit"
	Cancelled           Kind = "cancelled"
	Internal            Kind = "internal"
)

// Error pairs a taxonomy Kind with a human-readable message and optional
// cause. Never include a stack trace or raw provider error body in Message;
// that belongs in the wrapped cause, which is logged but not shown to users.
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

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error of the given kind, preserving cause for logs.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err (or anything it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, defaulting to Internal when err does
// not carry a tagged Kind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Retriable reports whether the scheduler should retry work that failed
// with this error, per the propagation policy: rate limits and upstream
// outages are retried with bounded backoff; everything else terminates the
// turn immediately.
func Retriable(err error) bool {
	switch KindOf(err) {
	case RateLimited, UpstreamUnavailable:
		return true
	case ToolRuntime:
		var e *Error
		if errors.As(err, &e) {
			return e.Message == "retriable"
		}
	}
	return false
}
