package transport

import (
	"context"
	"time"

	"github.com/scylladb/go-cql-core/frame"
	"github.com/scylladb/go-cql-core/frame/request"
	"github.com/scylladb/go-cql-core/frame/response"
)

// ProcessorHooks wires a Processor to capabilities that live on the control
// connection, which Processor itself has no reference to (§4.8 "on
// response"): waiting out schema agreement after a DDL RESULT, and fetching
// back a tracing session after a TRACING-flagged request completes.
type ProcessorHooks struct {
	SchemaAgreement    func(ctx context.Context) (frame.UUID, error)
	TracingFetch       func(ctx context.Context, traceID frame.UUID) (*response.Result, error)
	MaxTracingWaitTime time.Duration
	TracingRetryWait   time.Duration
}

// waitForTracingSession blocks until TracingFetch reports the trace
// session's rows, or MaxTracingWaitTime elapses (§4.7 "tracing data
// retrieval"). A nil TracingFetch makes this a no-op, so hooks can be left
// partially unset in tests.
func (h ProcessorHooks) waitForTracingSession(ctx context.Context, traceID frame.UUID) error {
	if h.TracingFetch == nil {
		return nil
	}
	w := TracingWait{
		Fetch:       func(ctx context.Context) (*response.Result, error) { return h.TracingFetch(ctx, traceID) },
		MaxWaitTime: h.MaxTracingWaitTime,
		RetryWait:   h.TracingRetryWait,
	}
	_, err := w.Wait(ctx)
	return err
}

// waitForSchemaAgreement blocks until SchemaAgreement reports converged
// schema versions (§4.7 "schema agreement", Scenario 6). A nil
// SchemaAgreement makes this a no-op; SchemaAgreement owns its own deadline
// (ControlConnection.WaitForSchemaAgreement bounds it to cfg.MaxSchemaWaitTime).
func (h ProcessorHooks) waitForSchemaAgreement(ctx context.Context) error {
	if h.SchemaAgreement == nil {
		return nil
	}
	_, err := h.SchemaAgreement(ctx)
	return err
}

// ExecutionProfile bundles the per-request knobs a dispatch selects between
// (§4.8 "profile selection"): consistency, which load-balancing/retry
// policy pair governs the attempt, and the per-attempt timeout.
type ExecutionProfile struct {
	Name              string
	Consistency       frame.Consistency
	SerialConsistency frame.Consistency
	RequestTimeout    time.Duration
	LoadBalancing     LoadBalancingPolicy
	Retry             RetryPolicy
	Idempotent        bool
}

// Statement is one request a Processor dispatches: the wire frame itself,
// routing info for a token-aware plan, and which execution profile governs
// it (empty selects the processor's default).
type Statement struct {
	Request     frame.Request
	Keyspace    string
	Token       Token
	HasToken    bool
	Idempotent  bool
	ProfileName string

	// PinnedHost, when set (§4.8 step 5, "set_host"), skips the query plan
	// entirely and sends only to this host's address ("ip:port"), failing
	// with ErrNoHostsAvailable if that host has no connection rather than
	// falling back to any other host.
	PinnedHost string

	// Tracing requests the server record a tracing session for this
	// request (§4.8 "tracing"); Execute waits for the session to land
	// before returning when set.
	Tracing bool
}

// latencyRecorder is implemented by LoadBalancingPolicy wrappers that track
// per-host response latency (LatencyAwarePolicy); the processor reports
// every successful attempt's latency through it when present.
type latencyRecorder interface {
	OnLatency(h *Host, d time.Duration)
}

// Processor implements the dispatch algorithm of §4.8: build a query plan
// from the request's routing info, walk hosts, pick each host's
// least-busy connection, send, and apply the execution profile's retry
// policy to every failure until one attempt succeeds, the plan is
// exhausted, or the policy rethrows.
type Processor struct {
	pools    *PoolManager
	tokenMap *TokenMapHolder
	hooks    ProcessorHooks

	defaultProfile ExecutionProfile
	profiles       map[string]ExecutionProfile
}

// NewProcessor creates a processor dispatching against pools, consulting
// tokenMap for token-aware routing, with defaultProfile used whenever a
// Statement names no profile or an unknown one. hooks supplies the
// schema-agreement and tracing-retrieval callbacks the request path needs
// but cannot reach directly (§4.8 "on response").
func NewProcessor(pools *PoolManager, tokenMap *TokenMapHolder, defaultProfile ExecutionProfile, hooks ProcessorHooks) *Processor {
	return &Processor{
		pools:          pools,
		tokenMap:       tokenMap,
		hooks:          hooks,
		defaultProfile: defaultProfile,
		profiles:       make(map[string]ExecutionProfile),
	}
}

// AddProfile registers a named execution profile for later Statements to
// select via Statement.ProfileName.
func (pr *Processor) AddProfile(p ExecutionProfile) { pr.profiles[p.Name] = p }

func (pr *Processor) profileFor(name string) ExecutionProfile {
	if name == "" {
		return pr.defaultProfile
	}
	if p, ok := pr.profiles[name]; ok {
		return p
	}
	return pr.defaultProfile
}

// Execute runs stmt to completion per §4.8, returning the final
// *response.Result or the error the retry policy ultimately rethrows.
func (pr *Processor) Execute(ctx context.Context, stmt Statement) (*response.Result, error) {
	profile := pr.profileFor(stmt.ProfileName)

	if stmt.PinnedHost != "" {
		return pr.executePinned(ctx, stmt, profile)
	}

	policy := profile.LoadBalancing
	if policy == nil {
		return nil, ErrExecutionProfileInvalid
	}
	retryPolicy := profile.Retry
	if retryPolicy == nil {
		retryPolicy = DefaultRetryPolicy{}
	}
	decider := retryPolicy.NewRetryDecider()
	idempotent := stmt.Idempotent || profile.Idempotent

	info := QueryInfo{
		Keyspace:    stmt.Keyspace,
		Token:       stmt.Token,
		HasToken:    stmt.HasToken,
		Consistency: profile.Consistency,
	}
	plan := policy.NewQueryPlan(info, pr.tokenMap.Load())

	var lastErr error

outer:
	for {
		host := plan.Next()
		if host == nil {
			if lastErr == nil {
				lastErr = ErrNoHostsAvailable
			}
			return nil, lastErr
		}

		for {
			conn, err := pr.pools.FindLeastBusy(host.Address)
			if err != nil {
				lastErr = err
				continue outer
			}

			start := time.Now()
			res, traceID, hasTrace, execErr := conn.ExecuteTraced(ctx, stmt.Request, RequestOptions{
				Timeout: profile.RequestTimeout,
				Tracing: stmt.Tracing,
			})
			elapsed := time.Since(start)

			if mk, ok := plan.(markableHostIter); ok {
				mk.Mark(execErr)
			}

			if execErr == nil {
				if lr, ok := policy.(latencyRecorder); ok {
					lr.OnLatency(host, elapsed)
				}
				result, ok := res.(*response.Result)
				if !ok {
					return nil, responseAsError(res)
				}
				return pr.completeResult(ctx, stmt, result, traceID, hasTrace)
			}

			lastErr = execErr
			verdict := decider.Decide(RetryInfo{
				Error:       execErr,
				Idempotent:  idempotent,
				Consistency: profile.Consistency,
			})

			switch verdict {
			case RetrySameNode:
				continue
			case RetryNextNode:
				continue outer
			case Ignore:
				return nil, nil
			default: // Rethrow
				return nil, execErr
			}
		}
	}
}

// completeResult runs §4.8's "on response" side effects before a successful
// result is handed back to the caller: propagating a USE keyspace switch to
// every pool (§8 "keyspace safety"), waiting for schema agreement after a
// DDL result (Scenario 6), and waiting for the tracing session to land when
// the request asked for tracing.
func (pr *Processor) completeResult(ctx context.Context, stmt Statement, result *response.Result, traceID frame.UUID, hasTrace bool) (*response.Result, error) {
	if result.Kind == response.ResultSetKeyspace {
		if err := pr.pools.SetKeyspace(ctx, result.Keyspace); err != nil {
			return nil, err
		}
	}

	if result.Kind == response.ResultSchemaChange {
		if err := pr.hooks.waitForSchemaAgreement(ctx); err != nil {
			return nil, err
		}
	}

	if stmt.Tracing && hasTrace {
		if err := pr.hooks.waitForTracingSession(ctx, traceID); err != nil {
			return nil, err
		}
	}

	return result, nil
}

// executePinned sends stmt to exactly the host named by stmt.PinnedHost,
// bypassing the query plan and retry machinery entirely (§4.8 step 5,
// "set_host"): a pinned request either lands on that host or fails, it never
// falls back to another one (Scenario 4).
func (pr *Processor) executePinned(ctx context.Context, stmt Statement, profile ExecutionProfile) (*response.Result, error) {
	conn, err := pr.pools.FindLeastBusy(stmt.PinnedHost)
	if err != nil {
		return nil, err
	}

	res, traceID, hasTrace, execErr := conn.ExecuteTraced(ctx, stmt.Request, RequestOptions{
		Timeout: profile.RequestTimeout,
		Tracing: stmt.Tracing,
	})
	if execErr != nil {
		return nil, execErr
	}
	result, ok := res.(*response.Result)
	if !ok {
		return nil, responseAsError(res)
	}
	return pr.completeResult(ctx, stmt, result, traceID, hasTrace)
}

// PrepareAll issues Prepare for content against every host a plan visits,
// so a statement prepared once is usable regardless of which host later
// executes it (§4.8 "prepare-all fan-out"). A failing host does not stop
// the fan-out; the first error is returned only when no host returned a
// prepared id.
func (pr *Processor) PrepareAll(ctx context.Context, content string, profile ExecutionProfile) ([]byte, error) {
	policy := profile.LoadBalancing
	if policy == nil {
		policy = pr.defaultProfile.LoadBalancing
	}
	if policy == nil {
		return nil, ErrExecutionProfileInvalid
	}

	plan := policy.NewQueryPlan(QueryInfo{}, pr.tokenMap.Load())

	var (
		preparedID []byte
		firstErr   error
	)
	for {
		host := plan.Next()
		if host == nil {
			break
		}
		conn, err := pr.pools.FindLeastBusy(host.Address)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		res, err := conn.Execute(ctx, &request.Prepare{Content: content}, RequestOptions{Timeout: profile.RequestTimeout})
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		result, ok := res.(*response.Result)
		if !ok || result.Kind != response.ResultPrepared {
			continue
		}
		preparedID = result.PreparedID
	}
	if preparedID == nil {
		if firstErr == nil {
			firstErr = ErrNoHostsAvailable
		}
		return nil, firstErr
	}
	return preparedID, nil
}
