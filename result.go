package scylla

import (
	"github.com/scylladb/go-cql-core/frame"
	"github.com/scylladb/go-cql-core/frame/response"
)

// Result wraps a RESULT frame's core-relevant fields (§3). ROWS bodies are
// not decoded by response.ParseResult, so for a ResultRows result the rows,
// metadata and paging state are empty; decoding them is the excluded wire
// codec's job, not this facade's.
type Result struct {
	raw *response.Result
}

// Kind reports the RESULT frame's kind (response.ResultRows, ResultVoid, ...).
func (r *Result) Kind() int32 { return r.raw.Kind }

// HasMorePages reports whether the result carries a non-empty paging state.
// The paging state is not parsed from ROWS bodies, so this is always false.
func (r *Result) HasMorePages() bool { return r.raw.HasMorePages() }

// PagingState is the opaque token to pass to Query.PagingState for the next
// page. The paging state is not parsed from ROWS bodies, so this is nil.
func (r *Result) PagingState() frame.Bytes { return r.raw.Metadata.PagingState }

// Keyspace is populated for a ResultSetKeyspace result (a USE statement).
func (r *Result) Keyspace() string { return r.raw.Keyspace }

// PreparedID is populated for a ResultPrepared result.
func (r *Result) PreparedID() []byte { return r.raw.PreparedID }

// SchemaChange is populated for a ResultSchemaChange result.
func (r *Result) SchemaChange() response.SchemaChangeEvent { return r.raw.SchemaChange }

// Rows returns the result's rows. ROWS bodies are not decoded, so this is
// nil.
func (r *Result) Rows() []frame.Row { return r.raw.Rows }
