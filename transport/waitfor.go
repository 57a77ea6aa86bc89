package transport

import (
	"context"
	"errors"
	"time"

	"github.com/scylladb/go-cql-core/frame"
	"github.com/scylladb/go-cql-core/frame/response"
)

// ErrWaitForTimedOut is returned by WaitForHandler.Wait when Deadline
// elapses without Fetch reporting done.
var ErrWaitForTimedOut = errors.New("wait-for: deadline exceeded without satisfying predicate")

// WaitForHandler polls Fetch on a timer until it reports done, Deadline
// elapses, or ctx is canceled. It generalizes the schema-agreement and
// tracing-retrieval polling loops of §4.7 into one predicate-parameterized
// type: both are "ask again until a condition holds or give up", differing
// only in what they fetch and how the interval evolves between polls.
type WaitForHandler[T any] struct {
	// Fetch performs one poll attempt, reporting the fetched value, whether
	// it satisfies the wait condition, and any hard error (which aborts the
	// wait immediately rather than retrying).
	Fetch func(ctx context.Context) (value T, done bool, err error)

	Interval time.Duration
	Deadline time.Duration

	// BackoffFactor multiplies Interval after every unsatisfied poll, capped
	// at MaxInterval. A zero or 1 factor keeps a fixed interval (schema
	// agreement); tracing retrieval uses >1 since trace rows typically
	// appear shortly after the query but not on the very first poll.
	BackoffFactor float64
	MaxInterval   time.Duration
}

func (w *WaitForHandler[T]) Wait(ctx context.Context) (T, error) {
	var zero T
	deadline := time.Now().Add(w.Deadline)
	interval := w.Interval

	for {
		val, done, err := w.Fetch(ctx)
		if err != nil {
			return zero, err
		}
		if done {
			return val, nil
		}
		if !time.Now().Before(deadline) {
			return zero, ErrWaitForTimedOut
		}

		timer := time.NewTimer(interval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		}

		if w.BackoffFactor > 1 {
			interval = time.Duration(float64(interval) * w.BackoffFactor)
			if w.MaxInterval > 0 && interval > w.MaxInterval {
				interval = w.MaxInterval
			}
		}
	}
}

// SchemaAgreementWait polls Fetch for the schema_version every live peer
// reports and waits until they all agree (§4.7 "schema agreement").
type SchemaAgreementWait struct {
	Fetch       func(ctx context.Context) (map[string]frame.UUID, error)
	MaxWaitTime time.Duration
	RetryWait   time.Duration
}

// Wait returns the agreed schema version, or ErrWaitForTimedOut if the
// cluster never converges within MaxWaitTime.
func (s SchemaAgreementWait) Wait(ctx context.Context) (frame.UUID, error) {
	h := WaitForHandler[frame.UUID]{
		Interval: s.RetryWait,
		Deadline: s.MaxWaitTime,
		Fetch: func(ctx context.Context) (frame.UUID, bool, error) {
			versions, err := s.Fetch(ctx)
			if err != nil {
				return frame.UUID{}, false, err
			}
			return schemaAgreementVersion(versions)
		},
	}
	return h.Wait(ctx)
}

func schemaAgreementVersion(versions map[string]frame.UUID) (frame.UUID, bool, error) {
	var agreed frame.UUID
	seen := false
	for _, v := range versions {
		if !seen {
			agreed, seen = v, true
			continue
		}
		if v != agreed {
			return frame.UUID{}, false, nil
		}
	}
	return agreed, seen, nil
}

// TracingWait polls Fetch for a tracing session's rows in
// system_traces.sessions until a RESULT of kind ROWS comes back (§4.7
// "tracing data retrieval"); the rows themselves are not counted (see below). The starting interval doubles between polls up
// to a 1-second cap, since tracing rows are written asynchronously by the
// server after the traced request completes.
type TracingWait struct {
	Fetch       func(ctx context.Context) (*response.Result, error)
	MaxWaitTime time.Duration
	RetryWait   time.Duration
}

func (t TracingWait) Wait(ctx context.Context) (*response.Result, error) {
	h := WaitForHandler[*response.Result]{
		Interval:      t.RetryWait,
		Deadline:      t.MaxWaitTime,
		BackoffFactor: 2,
		MaxInterval:   time.Second,
		Fetch: func(ctx context.Context) (*response.Result, bool, error) {
			res, err := t.Fetch(ctx)
			if err != nil {
				return nil, false, err
			}
			// Row-count bookkeeping lives in the (excluded) wire codec, so
			// this core can only tell "a tracing row set came back" from "no
			// RESULT yet" by kind, not by counting actual rows.
			if res == nil || res.Kind != response.ResultRows {
				return nil, false, nil
			}
			return res, true, nil
		},
	}
	return h.Wait(ctx)
}
