// Package mtd is the typed wrapper over a raw flash partition, adapted
// from the teacher's io.FileReader: partition-relative read/erase/write
// plus the write-block alignment policy spec.md §4.A requires of every
// LEB payload write. This is the one external collaborator spec.md §1
// carves out of scope for the core itself -- the core only ever talks to
// the MTD interface below, never to a concrete backend.
package mtd

import "fmt"

// Info describes the device-reported geometry of a partition (spec.md §3.1).
type Info struct {
	PartitionSize  int64
	EraseBlockSize int64
	WriteBlockSize int
}

// MTD is the interface the core consumes; offsets are partition-relative.
type MTD interface {
	Read(offset int64, buf []byte) error
	Write(offset int64, buf []byte) error
	Erase(offset int64, length int64) error
	Info() Info
	Close() error
}

// AlignedWrite implements the write-block alignment policy of spec.md
// §4.A: hardware requires writes to be a W-byte-multiple, but callers want
// to write an arbitrary-length payload. This lives in the core (not the
// MTD) because it is part of the write discipline, not the device.
func AlignedWrite(m MTD, offset int64, data []byte, w int) error {
	if w <= 1 {
		return m.Write(offset, data)
	}

	n := len(data)
	head := n - n%w
	if n%w == 0 {
		if n == 0 {
			return nil
		}
		return m.Write(offset, data)
	}
	if n < w {
		staged := make([]byte, w)
		copy(staged, data)
		return m.Write(offset, staged)
	}

	if head > 0 {
		if err := m.Write(offset, data[:head]); err != nil {
			return fmt.Errorf("aligned head write: %w", err)
		}
	}
	tail := data[head:]
	staged := make([]byte, w)
	copy(staged, tail)
	if err := m.Write(offset+int64(head), staged); err != nil {
		return fmt.Errorf("aligned tail write: %w", err)
	}
	return nil
}
