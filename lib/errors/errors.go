// Package errors provides structured error types for cachepool.
//
// Every failure a caller can observe from the pool unwraps to one of the
// sentinels below, so callers can tell apart:
//   - "try again later" (pool exhausted, acquire timeout, circuit open)
//   - "the target is unreachable" (connect, TLS and negotiation failures)
//   - "the pool is no longer usable" (pool closed)
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Error codes for categorizing errors.
const (
	CodeInternal          = 1000 // Unexpected internal failure
	CodeInvalidInput      = 1001 // Invalid argument
	CodeConfiguration     = 1002 // Invalid configuration
	CodeConnectTimeout    = 1100 // Dial exceeded the connect timeout
	CodeSecurityHandshake = 1101 // TLS handshake failed
	CodeNegotiation       = 1102 // Protocol version negotiation failed
	CodeHandshakeTimeout  = 1103 // Handshake exceeded its budget
	CodeConnection        = 1104 // Other transport error
	CodePoolExhausted     = 1200 // Pending-acquire queue full
	CodeAcquireTimeout    = 1201 // Acquire deadline elapsed
	CodePoolClosed        = 1202 // Pool was closed
	CodeNotBorrowed       = 1203 // Connection not lent out by this pool
	CodeCircuitOpen       = 1300 // Dial circuit breaker open
	CodeRateLimited       = 1301 // Dial rate limit exceeded
)

// Sentinel errors. Use errors.Is() to check for these conditions.
var (
	// ErrConnectTimeout indicates raw connection establishment exceeded its timeout.
	ErrConnectTimeout = errors.New("connect timeout")

	// ErrSecurityHandshake indicates the TLS handshake failed.
	ErrSecurityHandshake = errors.New("security handshake failed")

	// ErrProtocolNegotiation indicates no common protocol version could be agreed.
	ErrProtocolNegotiation = errors.New("protocol negotiation failed")

	// ErrHandshakeTimeout indicates TLS plus negotiation exceeded the connection timeout.
	ErrHandshakeTimeout = errors.New("handshake timeout")

	// ErrConnection indicates any other transport-level failure.
	ErrConnection = errors.New("connection error")

	// ErrPoolExhausted indicates the pending-acquire queue is full.
	ErrPoolExhausted = errors.New("pool exhausted")

	// ErrAcquireTimeout indicates an acquire waited past its deadline.
	ErrAcquireTimeout = errors.New("acquire timeout")

	// ErrPoolClosed indicates the pool has been closed.
	ErrPoolClosed = errors.New("pool closed")

	// ErrNotBorrowed indicates a connection was released or discarded while
	// not lent out, typically a double release.
	ErrNotBorrowed = errors.New("connection not borrowed from pool")

	// ErrInvalidInput indicates invalid input was provided.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConfiguration indicates a configuration error.
	ErrConfiguration = errors.New("configuration error")

	// ErrCircuitOpen indicates the dial circuit breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrRateLimited indicates the dial rate limit was exceeded.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrInternal indicates an internal error.
	ErrInternal = errors.New("internal error")
)

// Error is a structured error with a code and a short message.
type Error struct {
	// Code is the error code for categorization
	Code int `json:"code"`
	// Message is a short, human readable message
	Message string `json:"message"`
	// Err is the underlying error
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a new structured error with the given code and message.
func New(code int, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with a code and message.
func Wrap(code int, message string, err error) *Error {
	if err != nil {
		log.WithField("code", code).WithError(err).Debug("wrapping error")
	}
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// FromSentinel creates a structured error from a sentinel error,
// choosing the code from the sentinel it wraps.
func FromSentinel(err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    CodeOf(err),
		Message: err.Error(),
		Err:     err,
	}
}

// CodeOf maps an error to its code.
func CodeOf(err error) int {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	switch {
	case errors.Is(err, ErrConnectTimeout):
		return CodeConnectTimeout
	case errors.Is(err, ErrSecurityHandshake):
		return CodeSecurityHandshake
	case errors.Is(err, ErrProtocolNegotiation):
		return CodeNegotiation
	case errors.Is(err, ErrHandshakeTimeout):
		return CodeHandshakeTimeout
	case errors.Is(err, ErrConnection):
		return CodeConnection
	case errors.Is(err, ErrPoolExhausted):
		return CodePoolExhausted
	case errors.Is(err, ErrAcquireTimeout):
		return CodeAcquireTimeout
	case errors.Is(err, ErrPoolClosed):
		return CodePoolClosed
	case errors.Is(err, ErrNotBorrowed):
		return CodeNotBorrowed
	case errors.Is(err, ErrInvalidInput):
		return CodeInvalidInput
	case errors.Is(err, ErrConfiguration):
		return CodeConfiguration
	case errors.Is(err, ErrCircuitOpen):
		return CodeCircuitOpen
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	default:
		return CodeInternal
	}
}

// Phase names the step of connection setup a ConnectionError came from.
type Phase string

const (
	PhaseConnect   Phase = "connect"
	PhaseTLS       Phase = "tls"
	PhaseNegotiate Phase = "negotiate"
)

// ConnectionError describes a failure while establishing a connection.
// Kind is the sentinel it unwraps to; Wrapped is the underlying cause.
type ConnectionError struct {
	Addr    string
	Phase   Phase
	Kind    error
	Wrapped error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	msg := fmt.Sprintf("connection(%s) %s: %v", e.Addr, e.Phase, e.Kind)
	if e.Wrapped != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Wrapped)
	}
	return msg
}

// Unwrap exposes both the sentinel kind and the underlying cause.
func (e *ConnectionError) Unwrap() []error {
	if e.Wrapped == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Wrapped}
}

// NewConnectionError builds a ConnectionError.
func NewConnectionError(addr string, phase Phase, kind, cause error) *ConnectionError {
	return &ConnectionError{Addr: addr, Phase: phase, Kind: kind, Wrapped: cause}
}

// AcquireError reports why an acquire could not be satisfied together with
// the pool occupancy at that moment.
type AcquireError struct {
	Kind           error
	Wrapped        error
	MaxConnections int
	Open           int
	Idle           int
	Pending        int
	MaxPending     int
	Waited         time.Duration
}

// Error implements the error interface.
func (e *AcquireError) Error() string {
	msg := e.Kind.Error()
	if e.Wrapped != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Wrapped)
	}
	return fmt.Sprintf(
		"%s; maxConnections: %d, open: %d, idle: %d, pending: %d/%d, waited: %s",
		msg, e.MaxConnections, e.Open, e.Idle, e.Pending, e.MaxPending, e.Waited,
	)
}

// Unwrap exposes both the sentinel kind and the underlying cause.
func (e *AcquireError) Unwrap() []error {
	if e.Wrapped == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Wrapped}
}

// IsRetryable reports whether the caller may simply try again later.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPoolExhausted) ||
		errors.Is(err, ErrAcquireTimeout) ||
		errors.Is(err, ErrCircuitOpen) ||
		errors.Is(err, ErrRateLimited)
}

// IsUnreachable reports whether the error means the target could not be
// connected to or negotiated with.
func IsUnreachable(err error) bool {
	return errors.Is(err, ErrConnectTimeout) ||
		errors.Is(err, ErrSecurityHandshake) ||
		errors.Is(err, ErrProtocolNegotiation) ||
		errors.Is(err, ErrHandshakeTimeout) ||
		errors.Is(err, ErrConnection)
}

// IsClosed returns true if the error indicates the pool is closed.
func IsClosed(err error) bool {
	return errors.Is(err, ErrPoolClosed)
}

// IsTimeout returns true for acquire, connect and handshake timeouts.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrAcquireTimeout) ||
		errors.Is(err, ErrConnectTimeout) ||
		errors.Is(err, ErrHandshakeTimeout)
}

// Join combines multiple errors into a single error.
// Returns nil if all errors are nil.
func Join(errs ...error) error {
	return errors.Join(errs...)
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target,
// and if so, sets target to that error value and returns true.
func As(err error, target any) bool {
	return errors.As(err, target)
}
