package frame

import (
	"bytes"
	"testing"
)

func TestSnappyCompressorRoundTrip(t *testing.T) {
	t.Parallel()
	original := []byte("the quick brown fox jumps over the lazy dog, repeated: the quick brown fox jumps over the lazy dog")

	var c SnappyCompressor
	var buf bytes.Buffer
	if err := c.Compress(&buf, original); err != nil {
		t.Fatalf("Compress: %v", err)
	}

	out, err := c.Decompress(buf.Bytes())
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(out, original) {
		t.Fatalf("round trip mismatch: got %q, want %q", out, original)
	}
}

func TestLZ4CompressorRoundTrip(t *testing.T) {
	t.Parallel()
	original := []byte("the quick brown fox jumps over the lazy dog, repeated: the quick brown fox jumps over the lazy dog")

	var c LZ4Compressor
	var buf bytes.Buffer
	if err := c.Compress(&buf, original); err != nil {
		t.Fatalf("Compress: %v", err)
	}

	out, err := c.Decompress(buf.Bytes())
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(out, original) {
		t.Fatalf("round trip mismatch: got %q, want %q", out, original)
	}
}

func TestLZ4CompressorDecompressRejectsTruncatedInput(t *testing.T) {
	t.Parallel()
	var c LZ4Compressor
	if _, err := c.Decompress([]byte{1, 2}); err == nil {
		t.Fatal("expected an error for input shorter than the length prefix")
	}
}

func TestCompressorNames(t *testing.T) {
	t.Parallel()
	if got := (SnappyCompressor{}).Name(); got != "snappy" {
		t.Fatalf("got %q, want snappy", got)
	}
	if got := (LZ4Compressor{}).Name(); got != "lz4" {
		t.Fatalf("got %q, want lz4", got)
	}
}
