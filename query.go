package scylla

import (
	"context"

	"github.com/scylladb/go-cql-core/frame"
	"github.com/scylladb/go-cql-core/frame/request"
	"github.com/scylladb/go-cql-core/transport"
)

// Query builds one CQL statement to dispatch through a Session (§4.8). Its
// methods return the receiver so calls chain, matching the teacher's
// gocql-descended builder style.
type Query struct {
	session *Session

	content     string
	params      request.QueryParams
	token       transport.Token
	hasToken    bool
	keyspace    string
	idempotent  bool
	profile     string
	pinnedHost  string
	tracing     bool
}

// Query starts building a statement from raw CQL text.
func (s *Session) Query(content string) *Query {
	return &Query{
		session: s,
		content: content,
		params:  request.QueryParams{Consistency: s.cfg.Consistency},
	}
}

func (q *Query) Consistency(c frame.Consistency) *Query {
	q.params.Consistency = c
	return q
}

func (q *Query) SerialConsistency(c frame.Consistency) *Query {
	q.params.SerialConsistency = c
	return q
}

func (q *Query) PageSize(n int32) *Query {
	q.params.PageSize = n
	return q
}

func (q *Query) PagingState(state frame.Bytes) *Query {
	q.params.PagingState = state
	return q
}

// WithTimestamp pins the write timestamp explicitly instead of letting the
// server assign one. Without it the request carries no client timestamp.
func (q *Query) WithTimestamp(ts int64) *Query {
	q.params.Timestamp = ts
	q.params.HasTimestamp = true
	return q
}

// BindRaw attaches already wire-encoded bound values. Typed Go->CQL value
// marshaling belongs to the excluded wire codec (§1 Non-goals); callers
// that need it layer their own encoder and hand this call the resulting
// frame.Value slice.
func (q *Query) BindRaw(values ...frame.Value) *Query {
	q.params.Values = values
	return q
}

// RoutingToken supplies the partition token used for token-aware routing
// (§4.9); without it, the query plan falls back to the profile's policy
// with no replica preference.
func (q *Query) RoutingToken(t transport.Token) *Query {
	q.token = t
	q.hasToken = true
	return q
}

// Idempotent marks the statement safe to retry against a different host on
// a write-timeout (§7); non-idempotent statements only retry on errors that
// are known not to have applied server-side.
func (q *Query) Idempotent(v bool) *Query {
	q.idempotent = v
	return q
}

// WithKeyspace overrides the routing keyspace used to compute replicas,
// independent of the connection's currently-USEd keyspace.
func (q *Query) WithKeyspace(ks string) *Query {
	q.keyspace = ks
	return q
}

// WithProfile selects a named execution profile registered via
// Session.AddExecutionProfile, overriding the session default.
func (q *Query) WithProfile(name string) *Query {
	q.profile = name
	return q
}

// PinHost forces this statement to addr ("host:port") alone, skipping the
// query plan entirely; it fails with ErrNoHostsAvailable rather than falling
// back to any other host if addr has no live connection (§4.8 step 5,
// "set_host").
func (q *Query) PinHost(addr string) *Query {
	q.pinnedHost = addr
	return q
}

// Tracing requests the server record a tracing session for this statement
// and blocks Exec until it is retrievable (§4.8 "tracing").
func (q *Query) Tracing(v bool) *Query {
	q.tracing = v
	return q
}

// Exec dispatches the statement and returns its result (§4.8).
func (q *Query) Exec(ctx context.Context) (*Result, error) {
	stmt := transport.Statement{
		Request:     &request.Query{Content: q.content, Params: q.params},
		Keyspace:    q.keyspace,
		Token:       q.token,
		HasToken:    q.hasToken,
		Idempotent:  q.idempotent,
		ProfileName: q.profile,
		PinnedHost:  q.pinnedHost,
		Tracing:     q.tracing,
	}
	return q.session.execute(ctx, stmt)
}

// PreparedStatement is the id+metadata handle returned by Session.Prepare,
// reusable across many Bind/Exec calls without re-sending the statement text.
type PreparedStatement struct {
	session *Session
	id      []byte
	content string
}

// Bind starts building an EXECUTE against this prepared statement.
func (p *PreparedStatement) Bind(values ...frame.Value) *BoundQuery {
	return &BoundQuery{
		prepared: p,
		params: request.QueryParams{
			Consistency: p.session.cfg.Consistency,
			Values:      values,
		},
	}
}

// BoundQuery is a prepared statement plus bound parameters, ready to Exec.
type BoundQuery struct {
	prepared   *PreparedStatement
	params     request.QueryParams
	token      transport.Token
	hasToken   bool
	keyspace   string
	idempotent bool
	profile    string
	pinnedHost string
	tracing    bool
}

func (b *BoundQuery) Consistency(c frame.Consistency) *BoundQuery {
	b.params.Consistency = c
	return b
}

func (b *BoundQuery) RoutingToken(t transport.Token) *BoundQuery {
	b.token, b.hasToken = t, true
	return b
}

func (b *BoundQuery) Idempotent(v bool) *BoundQuery {
	b.idempotent = v
	return b
}

func (b *BoundQuery) WithProfile(name string) *BoundQuery {
	b.profile = name
	return b
}

// PinHost forces this statement to addr ("host:port") alone; see
// Query.PinHost.
func (b *BoundQuery) PinHost(addr string) *BoundQuery {
	b.pinnedHost = addr
	return b
}

// Tracing requests the server record a tracing session for this statement
// and blocks Exec until it is retrievable; see Query.Tracing.
func (b *BoundQuery) Tracing(v bool) *BoundQuery {
	b.tracing = v
	return b
}

// Exec dispatches the bound EXECUTE.
func (b *BoundQuery) Exec(ctx context.Context) (*Result, error) {
	stmt := transport.Statement{
		Request:     &request.Execute{ID: b.prepared.id, Params: b.params},
		Keyspace:    b.keyspace,
		Token:       b.token,
		HasToken:    b.hasToken,
		Idempotent:  b.idempotent,
		ProfileName: b.profile,
		PinnedHost:  b.pinnedHost,
		Tracing:     b.tracing,
	}
	return b.prepared.session.execute(ctx, stmt)
}
