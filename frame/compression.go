package frame

import (
	"bytes"
	"fmt"
	"io"

	klaupostsnappy "github.com/klauspost/compress/snappy"
	"github.com/pierrec/lz4/v4"
	referencesnappy "github.com/golang/snappy"
)

// Compressor is negotiated during STARTUP (the COMPRESSION option) and
// thereafter wraps every frame body on the wire. Actual typed value encoding
// is out of scope for this core; compression of the opaque frame body is
// not, since it is a connection-level concern negotiated by the core itself.
type Compressor interface {
	// Name is the STARTUP COMPRESSION option value, e.g. "snappy" or "lz4".
	Name() string
	Compress(dst io.Writer, src []byte) error
	Decompress(src []byte) ([]byte, error)
}

// SnappyCompressor compresses frame bodies with Snappy. The native protocol
// wants a single raw compressed block per frame body, not a framed stream,
// so this uses klauspost/compress's block-level Encode (faster, used
// elsewhere in the driver stack) to compress and golang/snappy's Decode to
// decompress, exercising both of the pack's snappy implementations against
// the same wire format.
type SnappyCompressor struct{}

func (SnappyCompressor) Name() string { return "snappy" }

func (SnappyCompressor) Compress(dst io.Writer, src []byte) error {
	_, err := dst.Write(klaupostsnappy.Encode(nil, src))
	if err != nil {
		return fmt.Errorf("snappy compress: %w", err)
	}
	return nil
}

func (SnappyCompressor) Decompress(src []byte) ([]byte, error) {
	out, err := referencesnappy.Decode(nil, src)
	if err != nil {
		return nil, fmt.Errorf("snappy decompress: %w", err)
	}
	return out, nil
}

// LZ4Compressor compresses frame bodies with LZ4. The protocol requires the
// decompressed length to be prefixed as a big-endian uint32 before the
// compressed block.
type LZ4Compressor struct{}

func (LZ4Compressor) Name() string { return "lz4" }

func (LZ4Compressor) Compress(dst io.Writer, src []byte) error {
	var body bytes.Buffer
	w := lz4.NewWriter(&body)
	if _, err := w.Write(src); err != nil {
		return fmt.Errorf("lz4 compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("lz4 compress: %w", err)
	}

	var hdr [4]byte
	n := uint32(len(src))
	hdr[0] = byte(n >> 24)
	hdr[1] = byte(n >> 16)
	hdr[2] = byte(n >> 8)
	hdr[3] = byte(n)
	if _, err := dst.Write(hdr[:]); err != nil {
		return err
	}
	_, err := dst.Write(body.Bytes())
	return err
}

func (LZ4Compressor) Decompress(src []byte) ([]byte, error) {
	if len(src) < 4 {
		return nil, fmt.Errorf("lz4 decompress: frame too short for length prefix")
	}
	n := uint32(src[0])<<24 | uint32(src[1])<<16 | uint32(src[2])<<8 | uint32(src[3])
	out := make([]byte, n)
	r := lz4.NewReader(bytes.NewReader(src[4:]))
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	return out, nil
}
