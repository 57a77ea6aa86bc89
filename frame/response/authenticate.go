package response

import "github.com/scylladb/go-cql-core/frame"

var _ frame.Response = (*Authenticate)(nil)

// Authenticate asks the client to provide credentials naming the server's
// IAuthenticator implementation class.
type Authenticate struct {
	Authenticator string
}

func (*Authenticate) OpCode() frame.OpCode { return frame.OpAuthenticate }

// ParseAuthenticate parses an AUTHENTICATE frame body. It must not panic on
// arbitrary/truncated input: callers feed it directly off the wire before
// any framing validation beyond the header has happened.
func ParseAuthenticate(b *frame.Buffer) *Authenticate {
	a := &Authenticate{Authenticator: b.ReadString()}
	if b.Error() != nil {
		return nil
	}
	return a
}
