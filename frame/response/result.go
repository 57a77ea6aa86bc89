package response

import "github.com/scylladb/go-cql-core/frame"

// Result kinds (protocol RESULT frame first field).
const (
	ResultVoid         int32 = 0x0001
	ResultRows         int32 = 0x0002
	ResultSetKeyspace  int32 = 0x0003
	ResultPrepared     int32 = 0x0004
	ResultSchemaChange int32 = 0x0005
)

var _ frame.Response = (*Result)(nil)

// Result is a RESULT frame. ParseResult does not decode ROWS bodies, so
// Metadata and Rows are left empty; turning row bytes into typed Go values
// is the excluded wire codec's job.
type Result struct {
	Kind int32

	// ResultRows
	Metadata frame.ResultMetadata
	Rows     []frame.Row

	// ResultSetKeyspace
	Keyspace string

	// ResultPrepared
	PreparedID    []byte
	ResultMeta    frame.ResultMetadata
	PreparedMeta  frame.ResultMetadata

	// ResultSchemaChange
	SchemaChange SchemaChangeEvent
}

func (*Result) OpCode() frame.OpCode { return frame.OpResult }

// HasMorePages reports whether Metadata carries a non-empty paging state.
func (r *Result) HasMorePages() bool { return len(r.Metadata.PagingState) > 0 }

// ParseResult parses a RESULT frame body sufficiently for the core's own
// needs (prepared id, keyspace switch, schema-change signaling). For a ROWS
// result it reads only the kind: the metadata, paging state and rows are
// not parsed.
func ParseResult(b *frame.Buffer) *Result {
	r := &Result{Kind: b.ReadInt()}
	switch r.Kind {
	case ResultSetKeyspace:
		r.Keyspace = b.ReadString()
	case ResultPrepared:
		r.PreparedID = b.ReadBytes()
	case ResultSchemaChange:
		r.SchemaChange = parseSchemaChangeEvent(b)
	case ResultRows:
		// Row/column decoding is intentionally not implemented here: the
		// core only needs the paging state, which a full codec would
		// surface on Metadata after parsing the column spec section. A
		// real deployment wires a codec package that populates r.Metadata
		// and r.Rows; that package is out of scope for this core.
	}
	return r
}
