package types

import (
	"fmt"
	"time"
)

// ProtocolError reports a malformed or incomplete envelope. It is surfaced
// to the sender as a success:false response; the connection stays open.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s", e.Reason)
}

// RoutingError reports that no handler is registered for a message type.
type RoutingError struct {
	Type string
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("unknown message type %q: no handler registered", e.Type)
}

// HandlerTimeoutError reports that a handler did not settle within its
// dispatch timeout. The handler itself is not cancelled, only ignored.
type HandlerTimeoutError struct {
	Type    string
	Timeout time.Duration
}

func (e *HandlerTimeoutError) Error() string {
	return fmt.Sprintf("handler for %q timed out after %s", e.Type, e.Timeout)
}

// HandlerExecutionError wraps a failure (error or panic) inside a handler.
type HandlerExecutionError struct {
	Type  string
	Cause error
}

func (e *HandlerExecutionError) Error() string {
	return fmt.Sprintf("handler for %q failed: %v", e.Type, e.Cause)
}

func (e *HandlerExecutionError) Unwrap() error { return e.Cause }

// ConnectionLimitError reports that the registry is at capacity. The raw
// connection is refused before a client is admitted.
type ConnectionLimitError struct {
	Max int
}

func (e *ConnectionLimitError) Error() string {
	return fmt.Sprintf("connection limit reached (%d clients)", e.Max)
}

// UpgradeTimeoutError reports an upgrade handshake that did not complete in
// time.
type UpgradeTimeoutError struct {
	Timeout time.Duration
}

func (e *UpgradeTimeoutError) Error() string {
	return fmt.Sprintf("upgrade handshake exceeded %s", e.Timeout)
}

// HandlerConflictError reports a registration collision: the type already
// has a handler and the caller did not set AllowReplace. It is surfaced to
// the registering collaborator at wiring time, never to a client.
type HandlerConflictError struct {
	Type     string
	OwnedBy  string
	Claiming string
}

func (e *HandlerConflictError) Error() string {
	return fmt.Sprintf("message type %q already registered by %q (requested by %q)",
		e.Type, e.OwnedBy, e.Claiming)
}
