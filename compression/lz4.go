// Package compression provides the optional lz4 payload codec layered above
// the LEB write engine. Off by default: the on-flash format matches the
// uncompressed layout exactly unless a device is explicitly configured to
// compress payloads.
package compression

import (
	"bytes"
	"io"

	"github.com/pierrec/lz4/v4"
)

func CompressLz4(src []byte, output *bytes.Buffer) error {
	zw := lz4.NewWriter(output)

	zw.Write(src)
	flushErr := zw.Flush()

	if flushErr != nil {
		return flushErr
	}

	return zw.Close()
}

// DecompressLz4 reverses CompressLz4.
func DecompressLz4(src []byte) ([]byte, error) {
	zr := lz4.NewReader(bytes.NewReader(src))
	return io.ReadAll(zr)
}

// Codec switches leb_write/leb_read between plain and lz4-compressed
// payloads without the call sites needing to know which mode is active.
type Codec struct {
	enabled bool
}

func New(enabled bool) *Codec {
	return &Codec{enabled: enabled}
}

func (c *Codec) Enabled() bool { return c.enabled }

// Encode returns the bytes to write to flash and whether they ended up
// compressed (the caller stamps this into the VID header's flags byte). A
// compressed form that doesn't actually save space is discarded in favor of
// the raw bytes, so small or incompressible writes don't pay for a frame
// header that makes them bigger.
func (c *Codec) Encode(buf []byte) (out []byte, compressed bool, err error) {
	if !c.enabled {
		return buf, false, nil
	}
	var b bytes.Buffer
	if err := CompressLz4(buf, &b); err != nil {
		return nil, false, err
	}
	if b.Len() >= len(buf) {
		return buf, false, nil
	}
	return b.Bytes(), true, nil
}

// Decode reverses Encode given the flag stamped in the VID header.
func (c *Codec) Decode(buf []byte, compressed bool) ([]byte, error) {
	if !compressed {
		return buf, nil
	}
	return DecompressLz4(buf)
}
