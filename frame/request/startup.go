package request

import "github.com/scylladb/go-cql-core/frame"

var _ frame.Request = (*Startup)(nil)

// Startup initiates a connection: CQL_VERSION plus optional driver identity
// and compression fields (§6 wire-protocol table).
type Startup struct {
	Options frame.StartupOptions
}

func (s *Startup) WriteTo(b *frame.Buffer) {
	b.WriteStringMap(s.Options)
}

func (*Startup) OpCode() frame.OpCode {
	return frame.OpStartup
}

var _ frame.Request = (*AuthResponse)(nil)

// AuthResponse carries an opaque authentication token produced by an
// Authenticator in reply to an AUTHENTICATE or AUTH_CHALLENGE response.
type AuthResponse struct {
	Token []byte
}

func (a *AuthResponse) WriteTo(b *frame.Buffer) {
	b.WriteBytes(a.Token)
}

func (*AuthResponse) OpCode() frame.OpCode {
	return frame.OpAuthResponse
}
