package transport

import (
	"fmt"
	"math/bits"
	"sync"

	"github.com/scylladb/go-cql-core/frame"
)

// maxStreams is the number of usable stream ids, [0, maxStreams). The
// protocol allows the full signed 16-bit range, but real servers and this
// core alike only ever need a small fraction of it in flight at once; we
// size the bitmap for the full range so acquire never has to special-case
// protocol version differences (v2 used a signed byte, v3+ a signed short).
const maxStreams = 1 << 15

const wordBits = 64
const numWords = maxStreams / wordBits

// streamIDAllocator is a per-connection allocator of stream ids. It is not
// safe for concurrent use on its own; callers serialize access
// (streamManager guards it with its mutex).
//
// Invariant (§8): the number of set bits in free equals maxStreams -
// len(pending).
type streamIDAllocator struct {
	free [numWords]uint64 // bit set == id is free
	next int              // rotating word offset, spreads ids across acquisitions
	used int
}

func newStreamIDAllocator() streamIDAllocator {
	var s streamIDAllocator
	for i := range s.free {
		s.free[i] = ^uint64(0)
	}
	return s
}

// Alloc reserves and returns the lowest-numbered free id starting the scan
// from a rotating word offset. It returns ErrNoStreams when exhausted.
func (s *streamIDAllocator) Alloc() (frame.StreamID, error) {
	for i := 0; i < numWords; i++ {
		w := (s.next + i) % numWords
		if s.free[w] == 0 {
			continue
		}
		bit := bits.TrailingZeros64(s.free[w])
		s.free[w] &^= 1 << bit
		s.next = (w + 1) % numWords
		s.used++
		return frame.StreamID(w*wordBits + bit), nil
	}
	return 0, ErrNoStreams
}

// Free releases id back to the pool. Freeing an id that was not held is a
// caller bug; it is detected and returned as an error rather than silently
// corrupting the bitmap.
func (s *streamIDAllocator) Free(id frame.StreamID) error {
	if id < 0 || int(id) >= maxStreams {
		return fmt.Errorf("stream id %d out of range", id)
	}
	w, bit := int(id)/wordBits, uint(id)%wordBits
	if s.free[w]&(1<<bit) != 0 {
		return fmt.Errorf("stream id %d double free", id)
	}
	s.free[w] |= 1 << bit
	s.used--
	return nil
}

// InUse returns the number of currently allocated ids.
func (s *streamIDAllocator) InUse() int { return s.used }

// streamManager is the synchronized, item-carrying wrapper around
// streamIDAllocator described in §4.1: acquire/release/get plus the mapping
// from stream id to the in-flight item (here, a responseHandler).
type streamManager struct {
	mu    sync.Mutex
	alloc streamIDAllocator
	items map[frame.StreamID]responseHandler
}

func newStreamManager() *streamManager {
	return &streamManager{
		alloc: newStreamIDAllocator(),
		items: make(map[frame.StreamID]responseHandler),
	}
}

// acquire reserves a stream id and records item as its pending callback.
func (m *streamManager) acquire(item responseHandler) (frame.StreamID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, err := m.alloc.Alloc()
	if err != nil {
		return 0, err
	}
	m.items[id] = item
	return id, nil
}

// release frees id, forgetting its pending item.
func (m *streamManager) release(id frame.StreamID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, id)
	_ = m.alloc.Free(id)
}

// get retrieves id's pending item without releasing it.
func (m *streamManager) get(id frame.StreamID) (responseHandler, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.items[id]
	return h, ok
}

// drain returns every still-pending item, used when a connection closes and
// every outstanding callback must be notified before OnClose fires (§4.2).
func (m *streamManager) drain() []responseHandler {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]responseHandler, 0, len(m.items))
	for _, h := range m.items {
		out = append(out, h)
	}
	return out
}

// inUse reports the number of currently allocated stream ids, used by
// find_least_busy to rank pooled connections.
func (m *streamManager) inUse() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.alloc.InUse()
}
