package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/scylladb/go-cql-core/frame"
	"github.com/scylladb/go-cql-core/frame/request"
	"github.com/scylladb/go-cql-core/frame/response"
)

// eventTypes is the fixed REGISTER subscription list (§4.6): every control
// connection cares about all three kinds of push notification.
var eventTypes = frame.StringList{"TOPOLOGY_CHANGE", "STATUS_CHANGE", "SCHEMA_CHANGE"}

// ControlConnection owns the single connection used to discover cluster
// topology, react to push events, and wait out schema agreement (§4.6). It
// reconnects to a different known host whenever its connection drops, and
// feeds host add/remove/up/down notifications to a PoolManager.
//
// Per-host attributes that would normally come from decoding system.local /
// system.peers rows (datacenter, rack, host_id, tokens) are not populated
// here: frame/response/result.go deliberately leaves RESULT ROWS bytes
// undecoded (the wire codec that would turn them into typed values is out of
// this core's scope). Hosts are instead known two ways: the configured
// contact points, and the inet addresses TOPOLOGY_CHANGE/STATUS_CHANGE
// events carry directly in their own frame fields (§4.6 "peer address
// determination"), neither of which needs row decoding.
type ControlConnection struct {
	cfg           ConnConfig
	registry      *HostRegistry
	pools         *PoolManager
	tokenMap      *TokenMapHolder
	contactPoints []string

	mu   sync.Mutex
	conn *Connection
	addr string

	policy atomic.Pointer[LoadBalancingPolicy]

	onSchemaChange func(ev response.SchemaChangeEvent)

	closed    chan struct{}
	closeOnce sync.Once
}

var _ ConnectionListener = (*ControlConnection)(nil)

// NewControlConnection creates a control connection that will bootstrap
// against contactPoints, populate registry and pools as it discovers and
// loses hosts, and invoke onSchemaChange (optional) for each SCHEMA_CHANGE
// event after the schema-agreement wait ends, whether or not agreement was
// reached.
func NewControlConnection(cfg ConnConfig, registry *HostRegistry, pools *PoolManager, tokenMap *TokenMapHolder, contactPoints []string, onSchemaChange func(response.SchemaChangeEvent)) *ControlConnection {
	return &ControlConnection{
		cfg:            cfg,
		registry:       registry,
		pools:          pools,
		tokenMap:       tokenMap,
		contactPoints:  contactPoints,
		onSchemaChange: onSchemaChange,
		closed:         make(chan struct{}),
	}
}

// Start seeds the host registry from the configured contact points and
// brings up the first working control connection, retrying contact points
// in order (§4.6 bootstrap). It returns once connected or ctx is done.
func (cc *ControlConnection) Start(ctx context.Context) error {
	for _, addr := range cc.contactPoints {
		h := NewHost(addr)
		cc.registry.Add(h)
		cc.pools.Add(ctx, addr, h)
	}

	var lastErr error
	for _, addr := range cc.contactPoints {
		if err := cc.connect(ctx, addr); err != nil {
			lastErr = err
			continue
		}
		go cc.reconnectLoop(ctx)
		return nil
	}
	if lastErr == nil {
		lastErr = ErrNoHostsAvailable
	}
	return fmt.Errorf("control connection bootstrap: %w", lastErr)
}

func (cc *ControlConnection) connect(ctx context.Context, addr string) error {
	host, _ := cc.registry.Get(addr)
	if host == nil {
		host = cc.registry.Add(NewHost(addr))
	}

	conn, err := DialConnection(ctx, addr, host, cc.cfg)
	if err != nil {
		return err
	}
	conn.SetListener(cc)

	if _, err := conn.Execute(ctx, &request.Register{EventTypes: eventTypes}, RequestOptions{}); err != nil {
		_ = conn.Close()
		return err
	}

	cc.mu.Lock()
	cc.conn = conn
	cc.addr = addr
	cc.mu.Unlock()
	return nil
}

// SetPolicy binds the load-balancing policy that should hear about topology,
// status, and pool-state changes (§4.9). It is set once by Session.NewSession
// after the policy's own Init has run; events observed before it is set are
// still applied to the registry and pools, just not to the policy's own view.
func (cc *ControlConnection) SetPolicy(p LoadBalancingPolicy) {
	cc.policy.Store(&p)
}

func (cc *ControlConnection) notifyHostAdded(h *Host) {
	if p := cc.policy.Load(); p != nil {
		(*p).OnHostAdded(h)
	}
}

func (cc *ControlConnection) notifyHostRemoved(h *Host) {
	if p := cc.policy.Load(); p != nil {
		(*p).OnHostRemoved(h)
	}
}

func (cc *ControlConnection) notifyHostUp(h *Host) {
	if p := cc.policy.Load(); p != nil {
		(*p).OnHostUp(h)
	}
}

func (cc *ControlConnection) notifyHostDown(h *Host) {
	if p := cc.policy.Load(); p != nil {
		(*p).OnHostDown(h)
	}
}

// currentConn returns the live control connection, or nil if disconnected.
func (cc *ControlConnection) currentConn() *Connection {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.conn
}

// reconnectLoop rearms the control connection against another known host
// whenever OnClose fires, using the configured ReconnectPolicy for backoff.
func (cc *ControlConnection) reconnectLoop(ctx context.Context) {
	attempt := 0
	policy := cc.cfg.ReconnectPolicy
	if policy == nil {
		policy = ConstantReconnectPolicy{Delay: time.Second}
	}

	for {
		select {
		case <-cc.closed:
			return
		case <-ctx.Done():
			return
		default:
		}

		if cc.currentConn() != nil {
			select {
			case <-time.After(time.Second):
				continue
			case <-cc.closed:
				return
			}
		}

		addr := cc.pickReconnectTarget()
		if addr == "" {
			select {
			case <-time.After(policy.NextDelay(attempt)):
			case <-cc.closed:
				return
			}
			attempt++
			continue
		}

		if err := cc.connect(ctx, addr); err != nil {
			cc.cfg.logger().Printf("control connection: reconnect to %s failed: %v", addr, err)
			select {
			case <-time.After(policy.NextDelay(attempt)):
			case <-cc.closed:
				return
			}
			attempt++
			continue
		}
		cc.cfg.Metrics.incControlReconnects()
		attempt = 0
	}
}

func (cc *ControlConnection) pickReconnectTarget() string {
	for _, h := range cc.registry.All() {
		if h.IsUp() {
			return h.Address
		}
	}
	return ""
}

// OnClose implements ConnectionListener: drops the dead connection so
// reconnectLoop picks a new target.
func (cc *ControlConnection) OnClose(c *Connection, _ error) {
	cc.mu.Lock()
	if cc.conn == c {
		cc.conn = nil
		cc.addr = ""
	}
	cc.mu.Unlock()
}

// OnEvent implements ConnectionListener: routes a server-pushed
// TOPOLOGY_CHANGE/STATUS_CHANGE/SCHEMA_CHANGE notification (§4.6).
func (cc *ControlConnection) OnEvent(_ *Connection, ev *response.Event) {
	switch {
	case ev.Topology != nil:
		cc.handleTopology(*ev.Topology)
	case ev.Status != nil:
		cc.handleStatus(*ev.Status)
	case ev.Schema != nil:
		cc.handleSchema(*ev.Schema)
	}
}

func (cc *ControlConnection) handleTopology(ev response.TopologyChangeEvent) {
	switch ev.Change {
	case "NEW_NODE":
		h := NewHost(ev.Address)
		h = cc.registry.Add(h)
		cc.pools.Add(context.Background(), ev.Address, h)
		cc.notifyHostAdded(h)
	case "REMOVED_NODE":
		h, ok := cc.registry.Get(ev.Address)
		cc.registry.Remove(ev.Address)
		cc.pools.Remove(ev.Address)
		if ok {
			cc.notifyHostRemoved(h)
		}
	case "MOVED_NODE":
		// Token ownership changed for an existing host; without row-decoded
		// schema/token data (see type doc) there is nothing further to
		// recompute here than what a future schema refresh would rebuild.
	}
}

func (cc *ControlConnection) handleStatus(ev response.StatusChangeEvent) {
	h, ok := cc.registry.Get(ev.Address)
	if !ok {
		return
	}
	switch ev.Change {
	case "UP":
		// No-up-after-down ordering (§8): only flip to UP once the host's
		// own pool has re-established at least one connection; a bare
		// STATUS_CHANGE UP event is a hint to reconnect faster, not proof
		// the host is usable yet.
		if p, ok := cc.pools.Get(ev.Address); ok && p.Size() > 0 {
			h.SetUp(true)
			cc.notifyHostUp(h)
		}
	case "DOWN":
		h.SetUp(false)
		cc.notifyHostDown(h)
	}
}

func (cc *ControlConnection) handleSchema(ev response.SchemaChangeEvent) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), cc.cfg.MaxSchemaWaitTime)
		defer cancel()
		if _, err := cc.WaitForSchemaAgreement(ctx); err != nil {
			cc.cfg.Metrics.incSchemaAgreementTimeout()
			cc.cfg.logger().Printf("control connection: schema agreement wait failed: %v", err)
		}
		if cc.onSchemaChange != nil {
			cc.onSchemaChange(ev)
		}
	}()
}

// WaitForSchemaAgreement polls fetchSchemaVersions until its versions agree,
// or MaxSchemaWaitTime elapses (§4.7). Since fetchSchemaVersions reports a
// single entry, agreement holds as soon as one schema_version query succeeds;
// peers' versions are not compared.
func (cc *ControlConnection) WaitForSchemaAgreement(ctx context.Context) (frame.UUID, error) {
	w := SchemaAgreementWait{
		Fetch:       cc.fetchSchemaVersions,
		MaxWaitTime: cc.cfg.MaxSchemaWaitTime,
		RetryWait:   cc.cfg.SchemaAgreementRetryWait,
	}
	return w.Wait(ctx)
}

// fetchSchemaVersions queries the control connection's own host for its
// schema_version. Result rows are not decoded (see
// frame/response/result.go), so the returned map has exactly one entry: the
// control host's address mapped to the zero UUID. system.peers is not
// queried, and the value the host reports is not read.
func (cc *ControlConnection) fetchSchemaVersions(ctx context.Context) (map[string]frame.UUID, error) {
	conn := cc.currentConn()
	if conn == nil {
		return nil, ErrNoHostsAvailable
	}
	_, err := conn.Execute(ctx, &request.Query{
		Content: "SELECT schema_version FROM system.local",
		Params:  request.QueryParams{Consistency: frame.ONE},
	}, RequestOptions{})
	if err != nil {
		return nil, err
	}
	return map[string]frame.UUID{cc.addr: {}}, nil
}

// FetchTracingSession reads back the session row a TRACING-flagged request
// wrote to system_traces.sessions, for callers waiting on TracingWait (§4.8).
// Like fetchSchemaVersions it queries the control connection's own host only;
// decoding the row itself is out of this core's scope (frame/response/result.go),
// so a non-empty ResultRows response is treated as proof the row exists.
func (cc *ControlConnection) FetchTracingSession(ctx context.Context, traceID frame.UUID) (*response.Result, error) {
	conn := cc.currentConn()
	if conn == nil {
		return nil, ErrNoHostsAvailable
	}
	res, err := conn.Execute(ctx, &request.Query{
		Content: fmt.Sprintf("SELECT session_id FROM system_traces.sessions WHERE session_id = %s", traceID.String()),
		Params:  request.QueryParams{Consistency: frame.ONE},
	}, RequestOptions{})
	if err != nil {
		return nil, err
	}
	result, ok := res.(*response.Result)
	if !ok {
		return nil, responseAsError(res)
	}
	return result, nil
}

// Close tears the control connection down permanently.
func (cc *ControlConnection) Close() {
	cc.closeOnce.Do(func() {
		close(cc.closed)
		if c := cc.currentConn(); c != nil {
			_ = c.Close()
		}
	})
}
