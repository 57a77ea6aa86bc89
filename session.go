// Package scylla is the session facade around the transport core: it turns
// a list of contact points and a SessionConfig into a running control
// connection, pool manager and a small fan-out of request processors, and
// exposes Query/Prepare as the entry points for dispatching CQL statements
// (§4.8, "Session facade").
package scylla

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/scylladb/go-cql-core/frame"
	"github.com/scylladb/go-cql-core/transport"
)

// SessionConfig is the root-level configuration surface (§6), following the
// teacher's gocql.ClusterConfig style: every field documents its default.
type SessionConfig struct {
	// Hosts lists contact points as "host" or "host:port"; Port fills in any
	// that name no port.
	Hosts []string
	// Port used for contact points that name none. Default: 9042.
	Port int
	// Keyspace is the initial keyspace; "" means none.
	Keyspace string
	// LocalDC seeds DC-aware load-balancing policies' notion of "local".
	LocalDC string

	// NumProcessors is how many independent transport.Processor instances
	// Session fans requests across (§5 "N independent request processors,
	// one per shard-equivalent goroutine group"). Default: 4.
	NumProcessors int

	// Consistency is the default consistency level for Query/Prepare calls
	// that don't override it. Default: frame.QUORUM.
	Consistency frame.Consistency

	// LoadBalancing is the default execution profile's policy. Default:
	// transport.NewRoundRobinPolicy().
	LoadBalancing transport.LoadBalancingPolicy
	// Retry is the default execution profile's retry policy. Default:
	// transport.DefaultRetryPolicy{}.
	Retry transport.RetryPolicy

	// ConnConfig carries every lower-level connection/pool/control-connection
	// knob described in §6.
	ConnConfig transport.ConnConfig

	// OnPoolStateChange, if set, is invoked every time a host's pool crosses
	// a PoolNew/PoolUp/PoolDown/PoolCritical edge (§8 Scenario 3: "Expect
	// listener on_pool_down(...) ... on_pool_up(...)"), after Session's own
	// bookkeeping has already applied the transition.
	OnPoolStateChange func(host *transport.Host, state transport.PoolState)
}

// DefaultSessionConfig returns a SessionConfig with every default named in
// the field docs above filled in.
func DefaultSessionConfig(keyspace string, hosts ...string) SessionConfig {
	return SessionConfig{
		Hosts:         hosts,
		Port:          9042,
		Keyspace:      keyspace,
		NumProcessors: 4,
		Consistency:   frame.QUORUM,
		LoadBalancing: transport.NewRoundRobinPolicy(),
		Retry:         transport.DefaultRetryPolicy{},
		ConnConfig:    transport.DefaultConnConfig(keyspace),
	}
}

// Session is the facade a caller actually holds: a control connection, a
// pool manager shared by every host, and a small round-robin of request
// processors that all read the same token map and pool manager.
type Session struct {
	cfg SessionConfig

	registry *transport.HostRegistry
	tokenMap *transport.TokenMapHolder
	pools    *transport.PoolManager
	control  *transport.ControlConnection

	processors []*transport.Processor
	next       atomic.Uint32

	closed atomic.Bool
}

var _ transport.PoolListener = (*Session)(nil)

// NewSession connects to cfg.Hosts and returns a ready Session, or an error
// if no contact point could be reached.
func NewSession(ctx context.Context, cfg SessionConfig) (*Session, error) {
	if len(cfg.Hosts) == 0 {
		return nil, ErrNoHosts
	}
	if cfg.NumProcessors <= 0 {
		cfg.NumProcessors = 4
	}
	if cfg.LoadBalancing == nil {
		cfg.LoadBalancing = transport.NewRoundRobinPolicy()
	}
	if cfg.Retry == nil {
		cfg.Retry = transport.DefaultRetryPolicy{}
	}
	port := cfg.Port
	if port == 0 {
		port = 9042
	}
	connCfg := cfg.ConnConfig
	if connCfg.Port == 0 {
		connCfg.Port = port
	}
	if connCfg.Keyspace == "" {
		connCfg.Keyspace = cfg.Keyspace
	}

	addrs := make([]string, len(cfg.Hosts))
	for i, h := range cfg.Hosts {
		addrs[i] = withPort(h, port)
	}

	s := &Session{
		cfg:      cfg,
		registry: transport.NewHostRegistry(),
		tokenMap: &transport.TokenMapHolder{},
	}
	s.pools = transport.NewPoolManager(connCfg, s)
	s.control = transport.NewControlConnection(connCfg, s.registry, s.pools, s.tokenMap, addrs, nil)

	if err := s.control.Start(ctx); err != nil {
		s.pools.Close()
		return nil, fmt.Errorf("scylla: connect: %w", err)
	}

	cfg.LoadBalancing.Init(nil, s.registry.All(), cfg.LocalDC)
	s.control.SetPolicy(cfg.LoadBalancing)

	profile := transport.ExecutionProfile{
		Consistency:    cfg.Consistency,
		RequestTimeout: connCfg.RequestTimeout,
		LoadBalancing:  cfg.LoadBalancing,
		Retry:          cfg.Retry,
	}
	hooks := transport.ProcessorHooks{
		SchemaAgreement:    s.control.WaitForSchemaAgreement,
		TracingFetch:       s.control.FetchTracingSession,
		MaxTracingWaitTime: connCfg.MaxTracingWaitTime,
		TracingRetryWait:   connCfg.TracingRetryWait,
	}
	s.processors = make([]*transport.Processor, cfg.NumProcessors)
	for i := range s.processors {
		s.processors[i] = transport.NewProcessor(s.pools, s.tokenMap, profile, hooks)
	}

	return s, nil
}

func withPort(host string, port int) string {
	for i := len(host) - 1; i >= 0; i-- {
		if host[i] == ':' {
			return host
		}
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// OnPoolStateChange implements transport.PoolListener: keeps the host
// registry's up/down flag in step with what each host's pool actually
// observes, independent of (and more current than) STATUS_CHANGE events, and
// forwards the transition to the load-balancing policy and any user-supplied
// listener (§8 Scenario 3).
func (s *Session) OnPoolStateChange(host *transport.Host, state transport.PoolState) {
	switch state {
	case transport.PoolUp:
		host.SetUp(true)
		s.cfg.LoadBalancing.OnHostUp(host)
	case transport.PoolDown, transport.PoolCritical:
		host.SetUp(false)
		s.cfg.LoadBalancing.OnHostDown(host)
	}
	if s.cfg.OnPoolStateChange != nil {
		s.cfg.OnPoolStateChange(host, state)
	}
}

// execute round-robins stmt across Session's processors (§4.8) and wraps
// the transport-level result for the facade.
func (s *Session) execute(ctx context.Context, stmt transport.Statement) (*Result, error) {
	if s.closed.Load() {
		return nil, ErrSessionClosed
	}
	idx := s.next.Add(1) % uint32(len(s.processors))
	res, err := s.processors[idx].Execute(ctx, stmt)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	return &Result{raw: res}, nil
}

// AddExecutionProfile registers a named execution profile on every
// processor Session fans requests across, so a later Query.WithProfile(name)
// (or BoundQuery.WithProfile) actually reaches it instead of silently
// falling back to the default profile.
func (s *Session) AddExecutionProfile(p transport.ExecutionProfile) {
	for _, pr := range s.processors {
		pr.AddProfile(p)
	}
}

// Prepare registers content against every currently known host (§4.8
// "prepare-all fan-out") and returns a handle reusable across many Bind/Exec
// calls.
func (s *Session) Prepare(ctx context.Context, content string) (*PreparedStatement, error) {
	if s.closed.Load() {
		return nil, ErrSessionClosed
	}
	idx := s.next.Add(1) % uint32(len(s.processors))
	profile := transport.ExecutionProfile{LoadBalancing: s.cfg.LoadBalancing, RequestTimeout: s.cfg.ConnConfig.RequestTimeout}
	id, err := s.processors[idx].PrepareAll(ctx, content, profile)
	if err != nil {
		return nil, err
	}
	return &PreparedStatement{session: s, id: id, content: content}, nil
}

// SetKeyspace switches the current keyspace across every connection in every
// pool (§4.2 "Keyspace safety").
func (s *Session) SetKeyspace(ctx context.Context, keyspace string) error {
	return s.pools.SetKeyspace(ctx, keyspace)
}

// WaitForSchemaAgreement runs the control connection's schema-agreement wait
// (§4.7). It returns once the control host answers its schema_version query
// or MaxSchemaWaitTime elapses; peers' versions are not compared and the
// returned version is the zero UUID (see ControlConnection.fetchSchemaVersions).
func (s *Session) WaitForSchemaAgreement(ctx context.Context) (frame.UUID, error) {
	return s.control.WaitForSchemaAgreement(ctx)
}

// Hosts returns a point-in-time snapshot of every known host.
func (s *Session) Hosts() []*transport.Host { return s.registry.All() }

// Close tears the session down: the control connection, every pool, and
// (if the configured policy supports it) any background goroutines it owns.
func (s *Session) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.control.Close()
	s.pools.Close()
	if stoppable, ok := s.cfg.LoadBalancing.(interface{ Stop() }); ok {
		stoppable.Stop()
	}
}

