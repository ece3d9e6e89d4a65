package cdp

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the client and connection. Callers are
// expected to test them with errors.Is.
var (
	// ErrNotConnected is returned when a command is issued while the
	// client has no live connection.
	ErrNotConnected = errors.New("not connected to browser")

	// ErrConnecting is returned for commands issued during connection
	// setup or teardown. Only status queries are valid in those states.
	ErrConnecting = errors.New("connection state is transitional")

	// ErrConnectionLost is returned for commands that were in flight
	// when the transport closed.
	ErrConnectionLost = errors.New("connection lost")

	// ErrNoTargets is returned when the debug endpoint reports no
	// attachable page targets.
	ErrNoTargets = errors.New("no browser targets available")
)

// ConnectionError wraps a failure to establish the transport.
type ConnectionError struct {
	Endpoint string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connecting to %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// DomainNotEnabledError is returned when an operation requires a protocol
// domain that has not been enabled. It names the missing domain so the
// caller knows what to enable.
type DomainNotEnabledError struct {
	Domain string
}

func (e *DomainNotEnabledError) Error() string {
	return fmt.Sprintf("%s domain not enabled; call enable for %q first", e.Domain, e.Domain)
}

// ProtocolError is an explicit error object returned by the browser for a
// command. Code and Message are propagated verbatim.
type ProtocolError struct {
	Method  string
	Code    int64
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: browser returned error %d: %s", e.Method, e.Code, e.Message)
}

// TimeoutError is returned when no response arrived within the deadline.
// The command is not retried and any browser-side effect is not rolled
// back; the protocol has no cancel primitive for in-flight commands.
type TimeoutError struct {
	Method  string
	Timeout string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: no response within %s", e.Method, e.Timeout)
}
