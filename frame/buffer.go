// Package frame holds the minimal CQL binary-protocol contracts the
// transport core writes and reads against. It is deliberately not a full
// wire codec: typed value encoding/decoding and result-set parsing are out
// of scope for this core and live behind the small surface declared here.
package frame

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Buffer is a growable byte buffer with big-endian primitive readers and
// writers for the handful of CQL protocol types the core itself touches
// (headers, strings, string maps/lists, consistency levels, UUIDs).
// Read errors are sticky: once set, further reads are no-ops so callers can
// perform an entire frame's worth of reads and check Error() once at the end.
type Buffer struct {
	buf []byte
	pos int
	err error
}

// Reset empties the buffer for reuse without releasing its backing array.
func (b *Buffer) Reset() {
	b.buf = b.buf[:0]
	b.pos = 0
	b.err = nil
}

// Bytes returns the buffer's current contents.
func (b *Buffer) Bytes() []byte { return b.buf }

// Error returns the first error encountered by a Read* call, if any.
func (b *Buffer) Error() error { return b.err }

// Write implements io.Writer, appending p to the buffer.
func (b *Buffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	return len(p), nil
}

// WriteByte appends a single byte.
func (b *Buffer) WriteByte(v byte) error {
	b.buf = append(b.buf, v)
	return nil
}

// WriteShort appends a big-endian uint16.
func (b *Buffer) WriteShort(v Short) {
	b.buf = append(b.buf, byte(v>>8), byte(v))
}

// WriteInt appends a big-endian int32.
func (b *Buffer) WriteInt(v int32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(v))
	b.buf = append(b.buf, tmp[:]...)
}

// WriteLong appends a big-endian int64.
func (b *Buffer) WriteLong(v int64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(v))
	b.buf = append(b.buf, tmp[:]...)
}

// WriteString appends a [short len][bytes] string.
func (b *Buffer) WriteString(s string) {
	b.WriteShort(Short(len(s)))
	b.buf = append(b.buf, s...)
}

// WriteLongString appends a [int len][bytes] string.
func (b *Buffer) WriteLongString(s string) {
	b.WriteInt(int32(len(s)))
	b.buf = append(b.buf, s...)
}

// WriteStringList appends a [short n][string]*n list.
func (b *Buffer) WriteStringList(l StringList) {
	b.WriteShort(Short(len(l)))
	for _, s := range l {
		b.WriteString(s)
	}
}

// WriteStringMap appends a [short n]{[string][string]}*n map.
func (b *Buffer) WriteStringMap(m map[string]string) {
	b.WriteShort(Short(len(m)))
	for k, v := range m {
		b.WriteString(k)
		b.WriteString(v)
	}
}

// WriteBytes appends a [int len][bytes], where len == -1 encodes a null value.
func (b *Buffer) WriteBytes(v Bytes) {
	if v == nil {
		b.WriteInt(-1)
		return
	}
	b.WriteInt(int32(len(v)))
	b.buf = append(b.buf, v...)
}

// WriteConsistency appends a [short] consistency level.
func (b *Buffer) WriteConsistency(c Consistency) { b.WriteShort(Short(c)) }

// WriteUUID appends the 16 raw bytes of a UUID.
func (b *Buffer) WriteUUID(u UUID) { b.buf = append(b.buf, u[:]...) }

func (b *Buffer) read(n int) []byte {
	if b.err != nil {
		return nil
	}
	if b.pos+n > len(b.buf) {
		b.err = fmt.Errorf("frame: short buffer, want %d bytes, have %d", n, len(b.buf)-b.pos)
		return nil
	}
	out := b.buf[b.pos : b.pos+n]
	b.pos += n
	return out
}

// ReadByte reads a single byte.
func (b *Buffer) ReadByte() byte {
	v := b.read(1)
	if v == nil {
		return 0
	}
	return v[0]
}

// ReadShort reads a big-endian uint16.
func (b *Buffer) ReadShort() Short {
	v := b.read(2)
	if v == nil {
		return 0
	}
	return Short(binary.BigEndian.Uint16(v))
}

// ReadInt reads a big-endian int32.
func (b *Buffer) ReadInt() int32 {
	v := b.read(4)
	if v == nil {
		return 0
	}
	return int32(binary.BigEndian.Uint32(v))
}

// ReadLong reads a big-endian int64.
func (b *Buffer) ReadLong() int64 {
	v := b.read(8)
	if v == nil {
		return 0
	}
	return int64(binary.BigEndian.Uint64(v))
}

// ReadString reads a [short len][bytes] string.
func (b *Buffer) ReadString() string {
	n := int(b.ReadShort())
	v := b.read(n)
	if v == nil {
		return ""
	}
	return string(v)
}

// ReadLongString reads a [int len][bytes] string.
func (b *Buffer) ReadLongString() string {
	n := int(b.ReadInt())
	if n < 0 {
		return ""
	}
	v := b.read(n)
	if v == nil {
		return ""
	}
	return string(v)
}

// ReadStringList reads a [short n][string]*n list.
func (b *Buffer) ReadStringList() StringList {
	n := int(b.ReadShort())
	out := make(StringList, 0, n)
	for i := 0; i < n && b.err == nil; i++ {
		out = append(out, b.ReadString())
	}
	return out
}

// ReadStringMap reads a [short n]{[string][string]}*n map.
func (b *Buffer) ReadStringMap() map[string]string {
	n := int(b.ReadShort())
	out := make(map[string]string, n)
	for i := 0; i < n && b.err == nil; i++ {
		k := b.ReadString()
		out[k] = b.ReadString()
	}
	return out
}

// ReadBytes reads a [int len][bytes], where len == -1 denotes a null value.
func (b *Buffer) ReadBytes() Bytes {
	n := int(b.ReadInt())
	if n < 0 || b.err != nil {
		return nil
	}
	v := b.read(n)
	if v == nil {
		return nil
	}
	out := make(Bytes, len(v))
	copy(out, v)
	return out
}

// ReadUUID reads 16 raw bytes as a UUID.
func (b *Buffer) ReadUUID() UUID {
	var u UUID
	v := b.read(16)
	if v == nil {
		return u
	}
	copy(u[:], v)
	return u
}

// BufferWriter returns an io.Writer that appends directly into b, used by
// callers that stream bytes in (e.g. io.CopyN from a socket) rather than
// calling the typed Write* helpers.
func BufferWriter(b *Buffer) io.Writer { return b }

// CopyBuffer copies all of src's current contents to w.
func CopyBuffer(src *Buffer, w io.Writer) (int64, error) {
	n, err := w.Write(src.Bytes())
	return int64(n), err
}
