package frame

// OpCode is the protocol's one-byte opcode identifying a frame's body.
type OpCode byte

// Opcodes used by the core. Opcodes used only by the wire codec for
// representing query results in full (e.g. AUTH_CHALLENGE sub-states beyond
// what auth requires here) are omitted.
const (
	OpError        OpCode = 0x00
	OpStartup      OpCode = 0x01
	OpReady        OpCode = 0x02
	OpAuthenticate OpCode = 0x03
	OpOptions      OpCode = 0x05
	OpSupported    OpCode = 0x06
	OpQuery        OpCode = 0x07
	OpResult       OpCode = 0x08
	OpPrepare      OpCode = 0x09
	OpExecute      OpCode = 0x0A
	OpRegister     OpCode = 0x0B
	OpEvent        OpCode = 0x0C
	OpBatch        OpCode = 0x0D
	OpAuthChallenge OpCode = 0x0E
	OpAuthResponse OpCode = 0x0F
	OpAuthSuccess  OpCode = 0x10
)

// Protocol version bytes.
const (
	CQLv3 byte = 0x03
	CQLv4 byte = 0x04
	CQLv5 byte = 0x05

	// MinSupportedProtocol and MaxSupportedProtocol bound negotiation.
	MinSupportedProtocol = CQLv3
	MaxSupportedProtocol = CQLv5

	directionRequest  = 0x00
	directionResponse = 0x80
)

// HeaderSize is the fixed size, in bytes, of a frame header.
const HeaderSize = 9

// Header flag bits.
const (
	FlagCompression byte = 0x01
	FlagTracing     byte = 0x02
	FlagCustomPayload byte = 0x04
	FlagWarning       byte = 0x08
)

// Header is the fixed 9-byte frame header.
type Header struct {
	Version  byte
	Flags    byte
	StreamID StreamID
	OpCode   OpCode
	Length   uint32
}

// WriteTo serializes the header, except for Length, which the caller patches
// in-place after the body has been written (the length is not known until
// then). This mirrors the teacher connection writer's two-pass approach.
func (h Header) WriteTo(b *Buffer) {
	_ = b.WriteByte(h.Version | directionRequest)
	_ = b.WriteByte(h.Flags)
	b.WriteShort(Short(h.StreamID))
	_ = b.WriteByte(byte(h.OpCode))
	b.WriteInt(0) // patched by caller once body length is known
}

// ParseHeader reads a 9-byte header previously appended to b.
func ParseHeader(b *Buffer) Header {
	var h Header
	h.Version = b.ReadByte() &^ directionResponse
	h.Flags = b.ReadByte()
	h.StreamID = StreamID(b.ReadShort())
	h.OpCode = OpCode(b.ReadByte())
	h.Length = uint32(b.ReadInt())
	return h
}

// Request is implemented by every frame body the core writes.
type Request interface {
	WriteTo(b *Buffer)
	OpCode() OpCode
}

// Response is implemented by every frame body the core parses.
type Response interface {
	OpCode() OpCode
}

// CodedError is implemented by response bodies that represent a
// server-returned ERROR frame, so the transport layer can surface them as Go
// errors without a type switch over every possible error subtype.
type CodedError interface {
	error
	Code() int32
}
