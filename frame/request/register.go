package request

import "github.com/scylladb/go-cql-core/frame"

var _ frame.Request = (*Register)(nil)

// Register subscribes the connection to server-pushed event types
// (TOPOLOGY_CHANGE, STATUS_CHANGE, SCHEMA_CHANGE).
type Register struct {
	EventTypes frame.StringList
}

func (r *Register) WriteTo(b *frame.Buffer) {
	b.WriteStringList(r.EventTypes)
}

func (*Register) OpCode() frame.OpCode {
	return frame.OpRegister
}
