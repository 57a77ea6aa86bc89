// Package response holds the frame bodies the core parses from a connection.
package response

import (
	"fmt"

	"github.com/scylladb/go-cql-core/frame"
)

var _ frame.Response = (*Error)(nil)
var _ frame.CodedError = (*Error)(nil)

// Server error codes the core branches on directly (retry/critical
// classification); all others pass through verbatim as Error.Code.
const (
	ErrCodeServer            int32 = 0x0000
	ErrCodeProtocol          int32 = 0x000A
	ErrCodeAuthError         int32 = 0x0100
	ErrCodeUnavailable       int32 = 0x1000
	ErrCodeOverloaded        int32 = 0x1001
	ErrCodeBootstrapping     int32 = 0x1002
	ErrCodeTruncateError     int32 = 0x1003
	ErrCodeWriteTimeout      int32 = 0x1100
	ErrCodeReadTimeout       int32 = 0x1200
	ErrCodeReadFailure       int32 = 0x1300
	ErrCodeFunctionFailure   int32 = 0x1400
	ErrCodeWriteFailure      int32 = 0x1500
	ErrCodeSyntaxError       int32 = 0x2000
	ErrCodeUnauthorized      int32 = 0x2100
	ErrCodeInvalid           int32 = 0x2200
	ErrCodeConfigError       int32 = 0x2300
	ErrCodeAlreadyExists     int32 = 0x2400
	ErrCodeUnprepared        int32 = 0x2500
)

// Error is a server-returned ERROR frame, passed through verbatim per §6
// ("Server-side errors ... are passed through verbatim").
type Error struct {
	ErrorCode    int32
	ErrorMessage string

	// WriteType is set for WRITE_TIMEOUT/WRITE_FAILURE and used by the
	// default retry policy to decide whether a write is safely retriable.
	WriteType string
	// Received/BlockFor are set for *_TIMEOUT/*_FAILURE errors.
	Received  int32
	BlockFor  int32
}

func (e *Error) Code() int32 { return e.ErrorCode }

func (e *Error) Error() string {
	return fmt.Sprintf("server error 0x%04x: %s", e.ErrorCode, e.ErrorMessage)
}

func (*Error) OpCode() frame.OpCode { return frame.OpError }

// ParseError parses an ERROR frame body.
func ParseError(b *frame.Buffer) *Error {
	e := &Error{
		ErrorCode:    b.ReadInt(),
		ErrorMessage: b.ReadString(),
	}
	switch e.ErrorCode {
	case ErrCodeWriteTimeout, ErrCodeWriteFailure:
		_ = b.ReadShort() // consistency level
		e.Received = b.ReadInt()
		e.BlockFor = b.ReadInt()
		if e.ErrorCode == ErrCodeWriteFailure {
			_ = b.ReadInt() // numfailures (protocol v4 layout)
		}
		e.WriteType = b.ReadString()
	case ErrCodeReadTimeout, ErrCodeReadFailure:
		_ = b.ReadShort() // consistency level
		e.Received = b.ReadInt()
		e.BlockFor = b.ReadInt()
	case ErrCodeUnavailable:
		_ = b.ReadShort() // consistency level; not needed by the core, the request already carries it
		e.BlockFor = b.ReadInt()
		e.Received = b.ReadInt()
	}
	return e
}
