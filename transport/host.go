package transport

import (
	"sync"

	"github.com/scylladb/go-cql-core/frame"
	"go.uber.org/atomic"
)

// Distance classifies a host relative to the load-balancing policy's notion
// of "local" (§4.9).
type Distance int

const (
	Local Distance = iota
	Remote
	Ignore
)

// hostStatus mirrors the teacher's atomic.Bool-backed Node status flag.
type hostStatus = atomic.Bool

const (
	statusDown = false
	statusUp   = true
)

// Host is the mutable per-node record described in §3: identity plus the
// attributes the control connection refreshes and the pools/policies read.
// Mutation is restricted to the control-connection event loop, except for
// the atomically-updated counters (status, inflight) any goroutine may touch.
type Host struct {
	Address     string // "ip:port", identity of the node
	HostID      frame.UUID
	Datacenter  string
	Rack        string
	Partitioner string
	Tokens      []Token
	Version     string

	status hostStatus

	// ConnCount is a pool-size field for policies that weight by pool size.
	// No code in this module sets or reads it, so it stays 0.
	ConnCount atomic.Int32

	// latency, if non-nil, is the latency-aware policy's tracker for this
	// host (§4.9).
	latency *latencyTracker
}

// NewHost creates a host in the UP state; callers that discover a host via
// a DOWN status event should call SetUp(false) immediately after.
func NewHost(addr string) *Host {
	h := &Host{Address: addr}
	h.status.Store(statusUp)
	return h
}

func (h *Host) IsUp() bool     { return h.status.Load() }
func (h *Host) SetUp(up bool)  { h.status.Store(up) }

func (h *Host) String() string { return h.Address }

// HostRegistry is the source of truth for hosts and their attributes (§2).
// It is owned by the control connection for mutation and read concurrently
// by pools, policies and query plans.
type HostRegistry struct {
	mu    sync.RWMutex
	hosts map[string]*Host
}

func NewHostRegistry() *HostRegistry {
	return &HostRegistry{hosts: make(map[string]*Host)}
}

// Add registers h if its address is unknown, returning the (possibly
// pre-existing) host for that address.
func (r *HostRegistry) Add(h *Host) *Host {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.hosts[h.Address]; ok {
		return existing
	}
	r.hosts[h.Address] = h
	return h
}

// Remove deletes the host at addr, if any, reporting whether it existed.
func (r *HostRegistry) Remove(addr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.hosts[addr]; !ok {
		return false
	}
	delete(r.hosts, addr)
	return true
}

// Get returns the host at addr, if known.
func (r *HostRegistry) Get(addr string) (*Host, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.hosts[addr]
	return h, ok
}

// All returns a point-in-time snapshot of all known hosts.
func (r *HostRegistry) All() []*Host {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Host, 0, len(r.hosts))
	for _, h := range r.hosts {
		out = append(out, h)
	}
	return out
}
