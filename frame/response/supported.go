package response

import "github.com/scylladb/go-cql-core/frame"

var _ frame.Response = (*Supported)(nil)

// Supported lists the server's supported CQL versions, compression
// algorithms and protocol extensions, replied to an OPTIONS request.
type Supported struct {
	Options map[string]frame.StringList
}

func (*Supported) OpCode() frame.OpCode { return frame.OpSupported }

// ParseSupported parses a SUPPORTED frame body.
func ParseSupported(b *frame.Buffer) *Supported {
	n := int(b.ReadShort())
	out := make(map[string]frame.StringList, n)
	for i := 0; i < n && b.Error() == nil; i++ {
		k := b.ReadString()
		out[k] = b.ReadStringList()
	}
	return &Supported{Options: out}
}
