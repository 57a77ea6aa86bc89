package response

import "github.com/scylladb/go-cql-core/frame"

var _ frame.Response = (*Event)(nil)

// Event is a server-pushed TOPOLOGY_CHANGE, STATUS_CHANGE or SCHEMA_CHANGE
// notification delivered to a REGISTERed connection.
type Event struct {
	Type string

	Topology *TopologyChangeEvent
	Status   *StatusChangeEvent
	Schema   *SchemaChangeEvent
}

func (*Event) OpCode() frame.OpCode { return frame.OpEvent }

// TopologyChangeEvent signals a node joining, leaving or moving on the ring.
type TopologyChangeEvent struct {
	Change  string // NEW_NODE | REMOVED_NODE | MOVED_NODE
	Address string
}

// StatusChangeEvent signals a node becoming reachable or unreachable.
type StatusChangeEvent struct {
	Change  string // UP | DOWN
	Address string
}

// SchemaChangeEvent signals a keyspace/table/type/function/aggregate schema
// mutation.
type SchemaChangeEvent struct {
	Change   string // CREATED | UPDATED | DROPPED
	Target   string // KEYSPACE | TABLE | TYPE | FUNCTION | AGGREGATE
	Keyspace string
	Object   string // table/type/function/aggregate name, empty for KEYSPACE
	Args     frame.StringList
}

func parseSchemaChangeEvent(b *frame.Buffer) SchemaChangeEvent {
	var e SchemaChangeEvent
	e.Change = b.ReadString()
	e.Target = b.ReadString()
	e.Keyspace = b.ReadString()
	switch e.Target {
	case "KEYSPACE":
	case "FUNCTION", "AGGREGATE":
		e.Object = b.ReadString()
		e.Args = b.ReadStringList()
	default: // TABLE, TYPE
		e.Object = b.ReadString()
	}
	return e
}

// ParseEvent parses an EVENT frame body.
func ParseEvent(b *frame.Buffer) *Event {
	e := &Event{Type: b.ReadString()}
	switch e.Type {
	case "TOPOLOGY_CHANGE":
		e.Topology = &TopologyChangeEvent{
			Change:  b.ReadString(),
			Address: readInet(b),
		}
	case "STATUS_CHANGE":
		e.Status = &StatusChangeEvent{
			Change:  b.ReadString(),
			Address: readInet(b),
		}
	case "SCHEMA_CHANGE":
		sc := parseSchemaChangeEvent(b)
		e.Schema = &sc
	}
	return e
}

// readInet reads a protocol [inet] value ([byte n][n bytes addr][int port])
// and formats it as "ip:port".
func readInet(b *frame.Buffer) string {
	n := int(b.ReadByte())
	addr := make([]byte, n)
	for i := range addr {
		addr[i] = b.ReadByte()
	}
	port := b.ReadInt()
	return formatInet(addr, port)
}
