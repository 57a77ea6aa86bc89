package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/scylladb/go-cql-core/frame"
	"github.com/scylladb/go-cql-core/frame/response"
)

func TestWaitForHandlerReturnsOnceDone(t *testing.T) {
	t.Parallel()
	attempts := 0
	h := WaitForHandler[int]{
		Interval: time.Millisecond,
		Deadline: time.Second,
		Fetch: func(ctx context.Context) (int, bool, error) {
			attempts++
			return attempts, attempts >= 3, nil
		},
	}
	got, err := h.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got != 3 {
		t.Fatalf("expected the value from the done-satisfying attempt, got %d", got)
	}
}

func TestWaitForHandlerTimesOut(t *testing.T) {
	t.Parallel()
	h := WaitForHandler[int]{
		Interval: time.Millisecond,
		Deadline: 5 * time.Millisecond,
		Fetch: func(ctx context.Context) (int, bool, error) { return 0, false, nil },
	}
	_, err := h.Wait(context.Background())
	if !errors.Is(err, ErrWaitForTimedOut) {
		t.Fatalf("expected ErrWaitForTimedOut, got %v", err)
	}
}

func TestWaitForHandlerPropagatesFetchError(t *testing.T) {
	t.Parallel()
	wantErr := errors.New("boom")
	h := WaitForHandler[int]{
		Interval: time.Millisecond,
		Deadline: time.Second,
		Fetch:    func(ctx context.Context) (int, bool, error) { return 0, false, wantErr },
	}
	_, err := h.Wait(context.Background())
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected the fetch error to propagate, got %v", err)
	}
}

func TestWaitForHandlerRespectsContextCancellation(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h := WaitForHandler[int]{
		Interval: time.Second,
		Deadline: time.Minute,
		Fetch:    func(ctx context.Context) (int, bool, error) { return 0, false, nil },
	}
	_, err := h.Wait(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestSchemaAgreementWaitSucceedsWhenAllVersionsMatch(t *testing.T) {
	t.Parallel()
	u := frame.UUID{1}
	w := SchemaAgreementWait{
		MaxWaitTime: time.Second,
		RetryWait:   time.Millisecond,
		Fetch: func(ctx context.Context) (map[string]frame.UUID, error) {
			return map[string]frame.UUID{"a": u, "b": u}, nil
		},
	}
	got, err := w.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got != u {
		t.Fatalf("expected the agreed version %v, got %v", u, got)
	}
}

func TestSchemaAgreementWaitConvergesAfterDisagreement(t *testing.T) {
	t.Parallel()
	u1, u2 := frame.UUID{1}, frame.UUID{2}
	calls := 0
	w := SchemaAgreementWait{
		MaxWaitTime: time.Second,
		RetryWait:   time.Millisecond,
		Fetch: func(ctx context.Context) (map[string]frame.UUID, error) {
			calls++
			if calls < 3 {
				return map[string]frame.UUID{"a": u1, "b": u2}, nil
			}
			return map[string]frame.UUID{"a": u2, "b": u2}, nil
		},
	}
	got, err := w.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got != u2 {
		t.Fatalf("expected convergence on %v, got %v", u2, got)
	}
}

func TestTracingWaitWaitsForResultRowsKind(t *testing.T) {
	t.Parallel()
	calls := 0
	tw := TracingWait{
		MaxWaitTime: time.Second,
		RetryWait:   time.Millisecond,
		Fetch: func(ctx context.Context) (*response.Result, error) {
			calls++
			if calls < 2 {
				return nil, nil
			}
			return &response.Result{Kind: response.ResultRows}, nil
		},
	}
	res, err := tw.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if res == nil || res.Kind != response.ResultRows {
		t.Fatalf("expected a Rows result, got %v", res)
	}
}
