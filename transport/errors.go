package transport

import "errors"

// Library-side error taxonomy (§6). Server-side errors are never wrapped
// here; they pass through as *response.Error.
var (
	ErrUnableToInit               = errors.New("unable to init")
	ErrUnableToConnect            = errors.New("unable to connect")
	ErrUnableToDetermineProtocol  = errors.New("unable to determine protocol version")
	ErrUnableToSetKeyspace        = errors.New("unable to set keyspace")
	ErrNoHostsAvailable           = errors.New("no hosts available")
	ErrNoStreams                  = errors.New("no streams available")
	ErrRequestQueueFull           = errors.New("request queue full")
	ErrRequestTimedOut            = errors.New("request timed out")
	ErrExecutionProfileInvalid    = errors.New("execution profile invalid")
	ErrParameterUnset             = errors.New("parameter unset")

	// ErrConnectionClosed marks a connection that is gone (closed or
	// defunct); pending callbacks observe it before the owner's OnClose.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrDefunct marks a connection the owner has declared unusable.
	ErrDefunct = errors.New("connection defunct")
	// ErrCanceled reports an operation canceled before it completed. No
	// code in this module returns it.
	ErrCanceled = errors.New("operation canceled")
)

// ConnectionError wraps a transport-level failure (dial, I/O, handshake) so
// the retry policy can recognize it via the connError interface without
// depending on net package error types directly.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return "connection to " + e.Addr + ": " + e.Err.Error()
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func (e *ConnectionError) isConnectionLevel() bool { return true }

var _ connError = (*ConnectionError)(nil)
