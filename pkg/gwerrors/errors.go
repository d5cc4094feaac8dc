// Package gwerrors defines the gateway's error kinds (spec §7) and the
// HTTP/JSON-RPC status mapping shared by the router, the composition
// engine, and both protocol adapters.
package gwerrors

import (
	"errors"
	"net/http"
)

// Kind identifies one of the error kinds from spec §7. It is surfaced to
// both clients (as part of the JSON-RPC/HTTP error body) and telemetry.
type Kind string

// Error kinds, one per spec §7 row.
const (
	KindInvalidRequest       Kind = "invalid_request"
	KindUnauthenticated      Kind = "unauthenticated"
	KindForbidden            Kind = "forbidden"
	KindNotFound             Kind = "not_found"
	KindConflict             Kind = "conflict"
	KindRateLimited          Kind = "rate_limited"
	KindUpstreamUnavailable  Kind = "upstream_unavailable"
	KindUpstreamTimeout      Kind = "upstream_timeout"
	KindCancelled            Kind = "cancelled"
	KindCycle                Kind = "cycle"
	KindValidation           Kind = "validation"
	KindInternal             Kind = "internal"
)

// Error is the gateway's canonical error type. It carries a Kind (for
// status mapping and telemetry), a human-readable Message, and an
// optional underlying Cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return string(e.Kind) + ": " + e.Message + ": " + e.Cause.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given kind.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// NewInvalidRequestError, NewUnauthenticatedError, ... construct an Error
// of the matching kind. One constructor per spec §7 row.
func NewInvalidRequestError(message string, cause error) *Error {
	return New(KindInvalidRequest, message, cause)
}
func NewUnauthenticatedError(message string, cause error) *Error {
	return New(KindUnauthenticated, message, cause)
}
func NewForbiddenError(message string, cause error) *Error {
	return New(KindForbidden, message, cause)
}
func NewNotFoundError(message string, cause error) *Error {
	return New(KindNotFound, message, cause)
}
func NewConflictError(message string, cause error) *Error {
	return New(KindConflict, message, cause)
}
func NewRateLimitedError(message string, cause error) *Error {
	return New(KindRateLimited, message, cause)
}
func NewUpstreamUnavailableError(message string, cause error) *Error {
	return New(KindUpstreamUnavailable, message, cause)
}
func NewUpstreamTimeoutError(message string, cause error) *Error {
	return New(KindUpstreamTimeout, message, cause)
}
func NewCancelledError(message string, cause error) *Error {
	return New(KindCancelled, message, cause)
}
func NewCycleError(message string, cause error) *Error {
	return New(KindCycle, message, cause)
}
func NewValidationError(message string, cause error) *Error {
	return New(KindValidation, message, cause)
}
func NewInternalError(message string, cause error) *Error {
	return New(KindInternal, message, cause)
}

func kindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is<Kind> reports whether err (or anything it wraps) is an *Error of the
// matching kind.
func IsInvalidRequest(err error) bool { k, ok := kindOf(err); return ok && k == KindInvalidRequest }
func IsUnauthenticated(err error) bool { k, ok := kindOf(err); return ok && k == KindUnauthenticated }
func IsForbidden(err error) bool       { k, ok := kindOf(err); return ok && k == KindForbidden }
func IsNotFound(err error) bool        { k, ok := kindOf(err); return ok && k == KindNotFound }
func IsConflict(err error) bool        { k, ok := kindOf(err); return ok && k == KindConflict }
func IsRateLimited(err error) bool     { k, ok := kindOf(err); return ok && k == KindRateLimited }
func IsUpstreamUnavailable(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindUpstreamUnavailable
}
func IsUpstreamTimeout(err error) bool { k, ok := kindOf(err); return ok && k == KindUpstreamTimeout }
func IsCancelled(err error) bool       { k, ok := kindOf(err); return ok && k == KindCancelled }
func IsCycle(err error) bool           { k, ok := kindOf(err); return ok && k == KindCycle }
func IsValidation(err error) bool      { k, ok := kindOf(err); return ok && k == KindValidation }
func IsInternal(err error) bool        { k, ok := kindOf(err); return ok && k == KindInternal }

// Code maps err to its HTTP status code. Errors that are not *Error map to
// 500, matching the teacher's "unexpected error is an internal error"
// default.
func Code(err error) int {
	kind, ok := kindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch kind {
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUpstreamUnavailable:
		return http.StatusBadGateway
	case KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	case KindCancelled:
		return 499 // client closed request; not a standard net/http constant
	case KindCycle, KindValidation:
		return http.StatusBadRequest
	case KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// JSONRPCCode maps err to a JSON-RPC 2.0 error code. invalid_request,
// not_found, validation, and internal reuse the standard codes -32600,
// -32601, -32602, and -32603; the other kinds use slots in the
// -32000..-32099 "server error" range, and errors that are not *Error
// map to -32000.
func JSONRPCCode(err error) int {
	kind, ok := kindOf(err)
	if !ok {
		return -32000
	}
	switch kind {
	case KindInvalidRequest:
		return -32600
	case KindUnauthenticated:
		return -32001
	case KindForbidden:
		return -32002
	case KindNotFound:
		return -32601
	case KindConflict:
		return -32004
	case KindRateLimited:
		return -32005
	case KindUpstreamUnavailable:
		return -32006
	case KindUpstreamTimeout:
		return -32007
	case KindCancelled:
		return -32008
	case KindCycle:
		return -32009
	case KindValidation:
		return -32602
	case KindInternal:
		return -32603
	default:
		return -32000
	}
}
