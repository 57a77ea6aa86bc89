package transport

import (
	"testing"
	"time"
)

func TestMonotonicTimestampGeneratorStrictlyIncreasing(t *testing.T) {
	t.Parallel()
	g := NewMonotonicTimestampGenerator(nil)

	prev := g.Next()
	for i := 0; i < 10_000; i++ {
		next := g.Next()
		if next <= prev {
			t.Fatalf("timestamp did not strictly increase: prev=%d next=%d", prev, next)
		}
		prev = next
	}
}

func TestMonotonicTimestampGeneratorHandlesFrozenClock(t *testing.T) {
	t.Parallel()
	g := NewMonotonicTimestampGenerator(nil)

	fixed := time.Unix(1000, 0)
	g.nowFunc = func() time.Time { return fixed }

	prev := g.Next()
	for i := 0; i < 5; i++ {
		next := g.Next()
		if next != prev+1 {
			t.Fatalf("expected next = prev+1 under a frozen clock, got prev=%d next=%d", prev, next)
		}
		prev = next
	}
}

func TestServerSideTimestampGeneratorSentinel(t *testing.T) {
	t.Parallel()
	var g ServerSideTimestampGenerator
	if g.Next() != minInt64 {
		t.Fatalf("server-side generator must always return the sentinel")
	}
}
