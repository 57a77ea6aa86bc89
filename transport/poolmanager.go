package transport

import (
	"context"
	"sync"
	"sync/atomic"
)

// PoolManager owns one Pool per live host address and the cluster-wide
// current keyspace (§4.4). It is the layer the request processor and
// control connection both talk to instead of dialing hosts directly.
type PoolManager struct {
	cfg ConnConfig

	mu    sync.RWMutex
	pools map[string]*Pool

	keyspace atomic.Pointer[string]

	listener PoolListener
}

// NewPoolManager creates an empty manager; hosts are added with Add as the
// control connection discovers them.
func NewPoolManager(cfg ConnConfig, listener PoolListener) *PoolManager {
	return &PoolManager{
		cfg:      cfg,
		pools:    make(map[string]*Pool),
		listener: listener,
	}
}

// Add starts a pool for host at addr if one doesn't already exist. Safe to
// call repeatedly for the same host (e.g. on a duplicate NEW_NODE event).
func (m *PoolManager) Add(ctx context.Context, addr string, host *Host) *Pool {
	m.mu.Lock()
	if p, ok := m.pools[addr]; ok {
		m.mu.Unlock()
		return p
	}
	cfg := m.cfg
	if ks := m.keyspace.Load(); ks != nil {
		cfg.Keyspace = *ks
	}
	p := NewPool(ctx, addr, host, cfg, m.listener)
	m.pools[addr] = p
	m.mu.Unlock()
	return p
}

// Remove closes and forgets the pool for addr, if any (§4.4). The control
// connection calls it on a REMOVED_NODE event; a DOWN event leaves the pool
// in place.
func (m *PoolManager) Remove(addr string) {
	m.mu.Lock()
	p, ok := m.pools[addr]
	delete(m.pools, addr)
	m.mu.Unlock()
	if ok {
		p.Close()
	}
}

// Get returns the pool for addr, if one exists.
func (m *PoolManager) Get(addr string) (*Pool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pools[addr]
	return p, ok
}

// FindLeastBusy returns the least-busy READY connection for addr.
func (m *PoolManager) FindLeastBusy(addr string) (*Connection, error) {
	p, ok := m.Get(addr)
	if !ok {
		return nil, ErrNoHostsAvailable
	}
	return p.FindLeastBusy()
}

// Available lists the addresses of every pool currently reporting at least
// one READY connection, the candidate set a query plan may pick from.
func (m *PoolManager) Available() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.pools))
	for addr, p := range m.pools {
		if p.Size() > 0 {
			out = append(out, addr)
		}
	}
	return out
}

// SetKeyspace switches every live pool (and every pool added afterward) to
// keyspace, returning the first error encountered (§4.2, §4.4).
func (m *PoolManager) SetKeyspace(ctx context.Context, keyspace string) error {
	ks := keyspace
	m.keyspace.Store(&ks)

	m.mu.RLock()
	pools := make([]*Pool, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	m.mu.RUnlock()

	var firstErr error
	for _, p := range pools {
		if err := p.SetKeyspace(ctx, keyspace); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Keyspace returns the last keyspace set via SetKeyspace, or "" if none.
func (m *PoolManager) Keyspace() string {
	if ks := m.keyspace.Load(); ks != nil {
		return *ks
	}
	return ""
}

// Close tears down every pool permanently.
func (m *PoolManager) Close() {
	m.mu.Lock()
	pools := m.pools
	m.pools = make(map[string]*Pool)
	m.mu.Unlock()
	for _, p := range pools {
		p.Close()
	}
}
