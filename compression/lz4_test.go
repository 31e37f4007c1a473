package compression

import (
	"bytes"
	"testing"
)

func TestCompressDecompressRoundTrip(t *testing.T) {
	src := bytes.Repeat([]byte("ubi-core-payload-"), 64)

	var buf bytes.Buffer
	if err := CompressLz4(src, &buf); err != nil {
		t.Fatalf("compress: %v", err)
	}

	got, err := DecompressLz4(buf.Bytes())
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if !bytes.Equal(got, src) {
		t.Fatalf("round trip mismatch")
	}
}

func TestCodecDisabledPassesThrough(t *testing.T) {
	c := New(false)
	src := []byte("hello")

	out, compressed, err := c.Encode(src)
	if err != nil || compressed || !bytes.Equal(out, src) {
		t.Fatalf("expected pass-through when disabled, got %q compressed=%v err=%v", out, compressed, err)
	}
}

func TestCodecEnabledRoundTrip(t *testing.T) {
	c := New(true)
	src := bytes.Repeat([]byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"), 8)

	encoded, compressed, err := c.Encode(src)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !compressed {
		t.Fatalf("expected highly repetitive payload to compress")
	}

	decoded, err := c.Decode(encoded, compressed)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(decoded, src) {
		t.Fatalf("round trip mismatch")
	}
}

func TestCodecSkipsCompressionWhenNotSmaller(t *testing.T) {
	c := New(true)
	src := []byte("x")

	_, compressed, err := c.Encode(src)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if compressed {
		t.Fatalf("expected tiny payload to stay uncompressed")
	}
}
