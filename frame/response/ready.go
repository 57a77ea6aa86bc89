package response

import "github.com/scylladb/go-cql-core/frame"

var _ frame.Response = (*Ready)(nil)

// Ready is returned when STARTUP succeeds without further authentication.
type Ready struct{}

func (*Ready) OpCode() frame.OpCode { return frame.OpReady }

// ParseReady parses a READY frame body (empty).
func ParseReady(_ *frame.Buffer) *Ready { return &Ready{} }

var _ frame.Response = (*AuthSuccess)(nil)

// AuthSuccess concludes a successful SASL-style authentication exchange.
type AuthSuccess struct {
	Token []byte
}

func (*AuthSuccess) OpCode() frame.OpCode { return frame.OpAuthSuccess }

// ParseAuthSuccess parses an AUTH_SUCCESS frame body.
func ParseAuthSuccess(b *frame.Buffer) *AuthSuccess {
	return &AuthSuccess{Token: b.ReadBytes()}
}

var _ frame.Response = (*AuthChallenge)(nil)

// AuthChallenge carries the server's next SASL challenge token.
type AuthChallenge struct {
	Token []byte
}

func (*AuthChallenge) OpCode() frame.OpCode { return frame.OpAuthChallenge }

// ParseAuthChallenge parses an AUTH_CHALLENGE frame body.
func ParseAuthChallenge(b *frame.Buffer) *AuthChallenge {
	return &AuthChallenge{Token: b.ReadBytes()}
}
