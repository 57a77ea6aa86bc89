package transport

import (
	"errors"

	"github.com/scylladb/go-cql-core/frame"
)

// RetryVerdict is what a RetryDecider tells the caller to do after a
// per-request error (§4.8, §7).
type RetryVerdict int

const (
	RetrySameNode RetryVerdict = iota
	RetryNextNode
	Ignore
	Rethrow
)

// RetryInfo describes the error a RetryDecider must classify.
type RetryInfo struct {
	Error       error
	Idempotent  bool
	Consistency frame.Consistency
	RetryCount  int
}

// RetryDecider is a single query's running retry state; Decide is called
// once per failed attempt. Reset prepares it for reuse across a fresh
// top-level query (e.g. a new page of a paged iterator).
type RetryDecider interface {
	Decide(RetryInfo) RetryVerdict
	Reset()
}

// RetryPolicy constructs a fresh RetryDecider for each new top-level
// request, so per-request retry counters never leak across requests.
type RetryPolicy interface {
	NewRetryDecider() RetryDecider
}

// DefaultRetryPolicy implements the rule named in §7: idempotent requests
// retry on the next host for connection-level errors; read-timeouts and
// unavailables retry once on the next host; write-timeouts retry only when
// the request is idempotent; everything else is rethrown. It never retries
// reads with a weaker consistency and never speculatively executes; both
// are explicitly out of scope (§1) and left to policy plugins this core
// does not provide.
type DefaultRetryPolicy struct {
	MaxRetries int
}

func (p DefaultRetryPolicy) NewRetryDecider() RetryDecider {
	max := p.MaxRetries
	if max <= 0 {
		max = 1
	}
	return &defaultRetryDecider{max: max}
}

type defaultRetryDecider struct {
	max   int
	count int
}

func (d *defaultRetryDecider) Reset() { d.count = 0 }

func (d *defaultRetryDecider) Decide(info RetryInfo) RetryVerdict {
	if d.count >= d.max {
		return Rethrow
	}
	d.count++

	ce, isConnErr := info.Error.(connError)
	if (isConnErr && ce.isConnectionLevel()) ||
		errors.Is(info.Error, ErrConnectionClosed) || errors.Is(info.Error, ErrNoStreams) {
		if info.Idempotent {
			return RetryNextNode
		}
		return Rethrow
	}

	if ce, ok := info.Error.(frame.CodedError); ok {
		switch ce.Code() {
		case 0x1200: // ErrCodeReadTimeout
			return RetryNextNode
		case 0x1000: // ErrCodeUnavailable
			return RetryNextNode
		case 0x1100: // ErrCodeWriteTimeout
			if info.Idempotent {
				return RetryNextNode
			}
			return Rethrow
		}
	}

	return Rethrow
}

// connError is implemented by transport-level (non-server) errors so the
// retry policy can distinguish "connection gone" from "server said no"
// without depending on the transport package's concrete error values.
// The plain sentinels ErrConnectionClosed and ErrNoStreams do not implement
// it; Decide treats them as connection-level directly.
type connError interface {
	error
	isConnectionLevel() bool
}
