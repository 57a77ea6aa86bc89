package scylla

import "errors"

// Session-facade error taxonomy (§6). Lower-level transport errors surface
// through these calls unwrapped; these sentinels only cover conditions the
// facade itself detects before ever reaching the transport package.
var (
	ErrNoHosts       = errors.New("scylla: no hosts configured")
	ErrSessionClosed = errors.New("scylla: session is closed")
)
