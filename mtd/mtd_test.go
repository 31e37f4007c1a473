package mtd

import (
	"bytes"
	"testing"
)

func newTestMem() *MemMTD {
	return NewMem(Info{PartitionSize: 4096, EraseBlockSize: 4096, WriteBlockSize: 16})
}

func TestAlignedWriteExactMultiple(t *testing.T) {
	m := newTestMem()
	data := bytes.Repeat([]byte{0xAB}, 32)

	if err := AlignedWrite(m, 0, data, 16); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := make([]byte, 32)
	m.Read(0, out)
	if !bytes.Equal(out, data) {
		t.Fatalf("content mismatch")
	}
}

func TestAlignedWriteShortPadded(t *testing.T) {
	m := newTestMem()
	data := []byte{1, 2, 3}

	if err := AlignedWrite(m, 0, data, 16); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := make([]byte, 16)
	m.Read(0, out)
	want := make([]byte, 16)
	copy(want, data)
	if !bytes.Equal(out, want) {
		t.Fatalf("content mismatch: got %v want %v", out, want)
	}
}

func TestAlignedWriteHeadAndTail(t *testing.T) {
	m := newTestMem()
	data := bytes.Repeat([]byte{0x7}, 20) // 16 head + 4 tail, padded to 16

	if err := AlignedWrite(m, 0, data, 16); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := make([]byte, 32)
	m.Read(0, out)
	want := make([]byte, 32)
	copy(want, data)
	if !bytes.Equal(out, want) {
		t.Fatalf("content mismatch: got %v want %v", out, want)
	}
}

func TestAlignedWriteEmpty(t *testing.T) {
	m := newTestMem()
	if err := AlignedWrite(m, 0, nil, 16); err != nil {
		t.Fatalf("unexpected error on empty write: %v", err)
	}
}
