// Package perrors provides the structured error vocabulary for the proxy's
// data plane, mirroring the error-kind table the proxy's behavior is defined
// against: each kind carries the HTTP status the bridge synthesizes on the
// client's stream and the local recovery the caller is expected to perform.
package perrors

import (
	"fmt"
	"net/http"
)

// Code identifies one of the proxy's error kinds.
type Code string

const (
	// ConfigInvalid is returned by the config loader/validator.
	ConfigInvalid Code = "CONFIG_INVALID"
	// TlsLoad is returned when the TLS certificate/key pair cannot be read or parsed.
	TlsLoad Code = "TLS_LOAD"
	// Bind is returned when the UDP socket cannot be opened.
	Bind Code = "BIND"
	// QuicProtocol covers handshake/frame errors; the affected connection is closed.
	QuicProtocol Code = "QUIC_PROTOCOL"
	// Http3Stream covers per-stream decode errors; the stream is reset, the connection kept.
	Http3Stream Code = "HTTP3_STREAM"
	// RouteMiss means the router found no candidate pool for the request.
	RouteMiss Code = "ROUTE_MISS"
	// NoHealthyBackend means the load balancer found no healthy backend in the pool.
	NoHealthyBackend Code = "NO_HEALTHY_BACKEND"
	// BridgeBuild covers InvalidMethod/InvalidUri/InvalidHeader translation failures.
	BridgeBuild Code = "BRIDGE_BUILD"
	// BodyTooLarge means the request body exceeded the buffering limit.
	BodyTooLarge Code = "BODY_TOO_LARGE"
	// BackendTimeout means the per-attempt deadline expired before the origin responded.
	BackendTimeout Code = "BACKEND_TIMEOUT"
	// BackendTransport means the H2 pool's RoundTrip failed for a reason other than timeout.
	BackendTransport Code = "BACKEND_TRANSPORT"
	// UnknownBackend means the H2 pool has no client registered for the address.
	UnknownBackend Code = "UNKNOWN_BACKEND"
)

// Error is the proxy's structured error type.
type Error struct {
	Code      Code
	Component string
	Message   string
	Cause     error
}

// New creates an Error with no wrapped cause.
func New(code Code, component, message string) *Error {
	return &Error{Code: code, Component: component, Message: message}
}

// Wrap creates an Error wrapping an underlying cause.
func Wrap(code Code, component string, cause error) *Error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return &Error{Code: code, Component: component, Message: msg, Cause: cause}
}

func (e *Error) Error() string {
	if e.Component != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Component, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap allows errors.Is/errors.As to see through to the cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on error code, letting errors.Is(err, perrors.New(Code, "", "")) work
// without caring about component/message/cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// StatusCode maps an error kind to the HTTP status synthesized on the client stream.
func (e *Error) StatusCode() int {
	switch e.Code {
	case RouteMiss, NoHealthyBackend, BackendTimeout:
		return http.StatusServiceUnavailable
	case BridgeBuild:
		return http.StatusBadRequest
	case BodyTooLarge:
		return http.StatusRequestEntityTooLarge
	case BackendTransport:
		return http.StatusBadGateway
	case UnknownBackend:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// StatusCode maps a plain error to an HTTP status, defaulting to 500 for
// errors that are not a *Error (e.g. unexpected panics recovered upstream).
func StatusCode(err error) int {
	var pe *Error
	if as(err, &pe) {
		return pe.StatusCode()
	}
	return http.StatusInternalServerError
}

func as(err error, target **Error) bool {
	for err != nil {
		if pe, ok := err.(*Error); ok {
			*target = pe
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
