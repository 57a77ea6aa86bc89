package request

import "github.com/scylladb/go-cql-core/frame"

// Query flag bits (protocol v4 layout); only the subset the core itself
// sets is named.
const (
	FlagValues             byte = 0x01
	FlagSkipMetadata       byte = 0x02
	FlagPageSize           byte = 0x04
	FlagWithPagingState    byte = 0x08
	FlagWithSerialConsist  byte = 0x10
	FlagWithDefaultTS      byte = 0x20
)

// QueryParams bundles the per-request parameters common to QUERY and
// EXECUTE bodies.
type QueryParams struct {
	Consistency       frame.Consistency
	Values            []frame.Value
	SkipMetadata      bool
	PageSize          int32
	PagingState       frame.Bytes
	SerialConsistency frame.Consistency
	Timestamp         int64
	HasTimestamp      bool
}

func (p QueryParams) flags() byte {
	var f byte
	if len(p.Values) > 0 {
		f |= FlagValues
	}
	if p.SkipMetadata {
		f |= FlagSkipMetadata
	}
	if p.PageSize > 0 {
		f |= FlagPageSize
	}
	if p.PagingState != nil {
		f |= FlagWithPagingState
	}
	if p.SerialConsistency != 0 {
		f |= FlagWithSerialConsist
	}
	if p.HasTimestamp {
		f |= FlagWithDefaultTS
	}
	return f
}

func (p QueryParams) writeTo(b *frame.Buffer) {
	b.WriteConsistency(p.Consistency)
	b.WriteByte(p.flags())
	if len(p.Values) > 0 {
		b.WriteShort(frame.Short(len(p.Values)))
		for _, v := range p.Values {
			b.WriteBytes(v.Bytes)
		}
	}
	if p.PageSize > 0 {
		b.WriteInt(p.PageSize)
	}
	if p.PagingState != nil {
		b.WriteBytes(p.PagingState)
	}
	if p.SerialConsistency != 0 {
		b.WriteConsistency(p.SerialConsistency)
	}
	if p.HasTimestamp {
		b.WriteLong(p.Timestamp)
	}
}

var _ frame.Request = (*Query)(nil)

// Query executes a CQL statement verbatim (long string + params). Keyspace
// switches (USE "<keyspace>") are also issued through Query, per §6.
type Query struct {
	Content string
	Params  QueryParams
}

func (q *Query) WriteTo(b *frame.Buffer) {
	b.WriteLongString(q.Content)
	q.Params.writeTo(b)
}

func (*Query) OpCode() frame.OpCode {
	return frame.OpQuery
}

var _ frame.Request = (*Prepare)(nil)

// Prepare asks the server to prepare a statement and return its id and
// bind-marker metadata.
type Prepare struct {
	Content string
}

func (p *Prepare) WriteTo(b *frame.Buffer) {
	b.WriteLongString(p.Content)
}

func (*Prepare) OpCode() frame.OpCode {
	return frame.OpPrepare
}

var _ frame.Request = (*Execute)(nil)

// Execute runs a previously prepared statement by id.
type Execute struct {
	ID     []byte
	Params QueryParams
}

func (e *Execute) WriteTo(b *frame.Buffer) {
	b.WriteBytes(e.ID)
	e.Params.writeTo(b)
}

func (*Execute) OpCode() frame.OpCode {
	return frame.OpExecute
}
