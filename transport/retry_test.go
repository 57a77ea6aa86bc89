package transport

import (
	"errors"
	"testing"

	"github.com/scylladb/go-cql-core/frame/response"
)

func TestDefaultRetryPolicyConnectionLevelErrorRetriesOnlyIfIdempotent(t *testing.T) {
	t.Parallel()
	ce := &ConnectionError{Err: errors.New("boom")}

	d := DefaultRetryPolicy{}.NewRetryDecider()
	if got := d.Decide(RetryInfo{Error: ce, Idempotent: true}); got != RetryNextNode {
		t.Fatalf("idempotent connection error: got %v, want RetryNextNode", got)
	}

	d = DefaultRetryPolicy{}.NewRetryDecider()
	if got := d.Decide(RetryInfo{Error: ce, Idempotent: false}); got != Rethrow {
		t.Fatalf("non-idempotent connection error: got %v, want Rethrow", got)
	}
}

func TestDefaultRetryPolicyReadTimeoutAndUnavailableRetryNextNode(t *testing.T) {
	t.Parallel()
	for _, code := range []int32{0x1200, 0x1000} {
		d := DefaultRetryPolicy{}.NewRetryDecider()
		err := &response.Error{ErrorCode: code}
		if got := d.Decide(RetryInfo{Error: err}); got != RetryNextNode {
			t.Fatalf("code %#x: got %v, want RetryNextNode", code, got)
		}
	}
}

func TestDefaultRetryPolicyWriteTimeoutRetriesOnlyIfIdempotent(t *testing.T) {
	t.Parallel()
	err := &response.Error{ErrorCode: 0x1100}

	d := DefaultRetryPolicy{}.NewRetryDecider()
	if got := d.Decide(RetryInfo{Error: err, Idempotent: true}); got != RetryNextNode {
		t.Fatalf("idempotent write timeout: got %v, want RetryNextNode", got)
	}

	d = DefaultRetryPolicy{}.NewRetryDecider()
	if got := d.Decide(RetryInfo{Error: err, Idempotent: false}); got != Rethrow {
		t.Fatalf("non-idempotent write timeout: got %v, want Rethrow", got)
	}
}

func TestDefaultRetryPolicyStopsAfterMaxRetries(t *testing.T) {
	t.Parallel()
	d := DefaultRetryPolicy{MaxRetries: 2}.NewRetryDecider()
	err := &response.Error{ErrorCode: 0x1000}

	if got := d.Decide(RetryInfo{Error: err}); got != RetryNextNode {
		t.Fatalf("attempt 1: got %v, want RetryNextNode", got)
	}
	if got := d.Decide(RetryInfo{Error: err}); got != RetryNextNode {
		t.Fatalf("attempt 2: got %v, want RetryNextNode", got)
	}
	if got := d.Decide(RetryInfo{Error: err}); got != Rethrow {
		t.Fatalf("attempt 3: got %v, want Rethrow (max retries exhausted)", got)
	}
}

func TestDefaultRetryPolicyResetClearsCounter(t *testing.T) {
	t.Parallel()
	d := DefaultRetryPolicy{MaxRetries: 1}.NewRetryDecider()
	err := &response.Error{ErrorCode: 0x1000}

	d.Decide(RetryInfo{Error: err})
	d.Reset()
	if got := d.Decide(RetryInfo{Error: err}); got != RetryNextNode {
		t.Fatalf("after Reset: got %v, want RetryNextNode", got)
	}
}

func TestDefaultRetryPolicyUnknownErrorRethrows(t *testing.T) {
	t.Parallel()
	d := DefaultRetryPolicy{}.NewRetryDecider()
	if got := d.Decide(RetryInfo{Error: errors.New("syntax error")}); got != Rethrow {
		t.Fatalf("got %v, want Rethrow", got)
	}
}
