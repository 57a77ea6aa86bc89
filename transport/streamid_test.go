package transport

import (
	"testing"

	"github.com/scylladb/go-cql-core/frame"
)

func TestStreamManagerUniqueness(t *testing.T) {
	t.Parallel()
	m := newStreamManager()

	seen := make(map[frame.StreamID]bool)
	var ids []frame.StreamID
	for i := 0; i < 100; i++ {
		id, err := m.acquire(make(responseHandler, 1))
		if err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		if seen[id] {
			t.Fatalf("stream id %d acquired twice while still in flight", id)
		}
		seen[id] = true
		ids = append(ids, id)
	}

	if got := m.alloc.InUse(); got != 100 {
		t.Fatalf("InUse = %d, want 100", got)
	}

	for _, id := range ids[:50] {
		m.release(id)
	}
	if got := m.alloc.InUse(); got != 50 {
		t.Fatalf("InUse after releasing half = %d, want 50", got)
	}

	// Released ids must become acquirable again.
	reacquired := make(map[frame.StreamID]bool)
	for i := 0; i < 50; i++ {
		id, err := m.acquire(make(responseHandler, 1))
		if err != nil {
			t.Fatalf("reacquire %d: %v", i, err)
		}
		reacquired[id] = true
	}
	if len(reacquired) != 50 {
		t.Fatalf("reacquired %d distinct ids, want 50", len(reacquired))
	}
}

func TestStreamManagerExhaustion(t *testing.T) {
	t.Parallel()
	m := newStreamManager()
	for i := 0; i < maxStreams; i++ {
		if _, err := m.acquire(make(responseHandler, 1)); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
	if _, err := m.acquire(make(responseHandler, 1)); err != ErrNoStreams {
		t.Fatalf("acquire on exhausted manager = %v, want ErrNoStreams", err)
	}
}

func TestStreamAllocatorDoubleFreeDetected(t *testing.T) {
	t.Parallel()
	a := newStreamIDAllocator()
	id, err := a.Alloc()
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Free(id); err != nil {
		t.Fatalf("first free: %v", err)
	}
	if err := a.Free(id); err == nil {
		t.Fatal("second free of the same id should be detected as an error")
	}
}
