package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/scylladb/go-cql-core/frame/response"
)

// PoolState is the edge-triggered health summary of a host's connection
// pool (§4.3): NEW until the first connect attempt resolves, UP while at
// least one connection is READY, DOWN when none are, and CRITICAL once
// connect attempts have failed consecutively enough that the pool manager
// should consider the host unreachable rather than merely reconnecting.
type PoolState int32

const (
	PoolNew PoolState = iota
	PoolUp
	PoolDown
	PoolCritical
)

// PoolListener is notified on each edge-triggered pool state transition.
type PoolListener interface {
	OnPoolStateChange(host *Host, state PoolState)
}

const (
	poolIdlePoll          = 5 * time.Second
	poolCriticalThreshold = 5
)

// Pool is one host's connection pool: a target number of READY connections,
// maintained by a background loop that reconnects missing slots through
// ConnConfig.ReconnectPolicy (§4.3).
type Pool struct {
	addr string
	host *Host
	cfg  ConnConfig

	mu    sync.Mutex
	conns []*Connection

	// sem bounds how many connection attempts the pool may have in flight
	// at once to its target size (§4.3 "never more than N simultaneously
	// establishing").
	sem chan struct{}

	state               atomic.Int32
	consecutiveFailures atomic.Int32

	listener PoolListener

	closed    chan struct{}
	closeOnce sync.Once

	keyspace atomic.Pointer[string]
}

var _ ConnectionListener = (*Pool)(nil)

// NewPool starts filling a pool of cfg.NumConnectionsPerHost connections to
// addr in the background and returns immediately; callers observe readiness
// through PoolListener.OnPoolStateChange.
func NewPool(ctx context.Context, addr string, host *Host, cfg ConnConfig, listener PoolListener) *Pool {
	p := &Pool{
		addr:     addr,
		host:     host,
		cfg:      cfg,
		closed:   make(chan struct{}),
		listener: listener,
	}
	p.sem = make(chan struct{}, p.target())
	go p.fill(ctx)
	return p
}

func (p *Pool) target() int {
	if p.cfg.NumConnectionsPerHost > 0 {
		return p.cfg.NumConnectionsPerHost
	}
	return 1
}

// Size reports the current number of live connections.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

func (p *Pool) reconnectPolicy() ReconnectPolicy {
	if p.cfg.ReconnectPolicy != nil {
		return p.cfg.ReconnectPolicy
	}
	return ConstantReconnectPolicy{Delay: time.Second}
}

func (p *Pool) fill(ctx context.Context) {
	attempt := 0
	for {
		select {
		case <-p.closed:
			return
		default:
		}

		missing := p.target() - p.Size()
		if missing <= 0 {
			attempt = 0
			select {
			case <-time.After(poolIdlePoll):
				continue
			case <-p.closed:
				return
			}
		}

		select {
		case p.sem <- struct{}{}:
		case <-p.closed:
			return
		}
		go func() {
			defer func() { <-p.sem }()
			p.connectOne(ctx)
		}()

		delay := p.reconnectPolicy().NextDelay(attempt)
		attempt++
		select {
		case <-time.After(delay):
		case <-p.closed:
			return
		}
	}
}

func (p *Pool) connectOne(ctx context.Context) {
	cfg := p.cfg
	if ks := p.keyspace.Load(); ks != nil {
		cfg.Keyspace = *ks
	}

	c, err := DialConnection(ctx, p.addr, p.host, cfg)
	if err != nil {
		p.cfg.logger().Printf("pool %s: connect failed: %v", p.addr, err)
		if p.consecutiveFailures.Add(1) >= poolCriticalThreshold {
			p.transition(PoolCritical)
		}
		return
	}
	p.consecutiveFailures.Store(0)
	c.SetListener(p)
	p.addConn(c)
}

func (p *Pool) addConn(c *Connection) {
	p.mu.Lock()
	p.conns = append(p.conns, c)
	n := len(p.conns)
	p.mu.Unlock()

	p.cfg.Metrics.setPoolConnections(p.addr, n)
	p.transition(PoolUp)
}

// OnClose implements ConnectionListener: a pool member closing (voluntarily
// or DEFUNCT) is removed from the rotation; fill picks up the slack.
func (p *Pool) OnClose(c *Connection, _ error) {
	p.mu.Lock()
	for i, x := range p.conns {
		if x == c {
			p.conns = append(p.conns[:i], p.conns[i+1:]...)
			break
		}
	}
	n := len(p.conns)
	p.mu.Unlock()

	p.cfg.Metrics.setPoolConnections(p.addr, n)
	p.cfg.Metrics.incConnectionDrops(p.addr)
	if n == 0 {
		p.transition(PoolDown)
	}
}

// OnEvent is a no-op: only the control connection's single registered
// connection is subscribed to server push events (§4.6); ordinary pool
// members never receive them.
func (p *Pool) OnEvent(*Connection, *response.Event) {}

func (p *Pool) transition(s PoolState) {
	old := PoolState(p.state.Swap(int32(s)))
	if old == s {
		return
	}
	if p.listener != nil {
		p.listener.OnPoolStateChange(p.host, s)
	}
}

// FindLeastBusy returns the READY connection with the fewest in-flight
// streams, the load metric described in §4.3/§4.8 for round-robining
// requests across a host's pool.
func (p *Pool) FindLeastBusy() (*Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var best *Connection
	bestBusy := -1
	for _, c := range p.conns {
		if c.State() != stateReady {
			continue
		}
		busy := c.streams.inUse()
		if best == nil || busy < bestBusy {
			best, bestBusy = c, busy
		}
	}
	if best == nil {
		return nil, ErrNoHostsAvailable
	}
	return best, nil
}

// SetKeyspace propagates a keyspace switch to every live connection and
// remembers it for connections established afterward (§4.2 "Keyspace
// safety"). It returns the first error from a live connection; the keyspace
// is remembered for new connections even when a live one failed to switch.
func (p *Pool) SetKeyspace(ctx context.Context, keyspace string) error {
	p.mu.Lock()
	conns := append([]*Connection{}, p.conns...)
	p.mu.Unlock()

	var firstErr error
	for _, c := range conns {
		if err := c.SetKeyspace(ctx, keyspace); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	ks := keyspace
	p.keyspace.Store(&ks)
	return firstErr
}

// Flush closes every current connection; fill reconnects them against the
// pool's current configuration (used after a schema/topology change that
// requires a clean reconnect, e.g. a protocol downgrade decided elsewhere).
func (p *Pool) Flush() {
	p.mu.Lock()
	conns := append([]*Connection{}, p.conns...)
	p.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

// Close tears the pool down permanently; it cannot be reused afterward.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.closed)
		p.mu.Lock()
		conns := append([]*Connection{}, p.conns...)
		p.conns = nil
		p.mu.Unlock()
		for _, c := range conns {
			_ = c.Close()
		}
	})
}
