package mtd

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// FileMTD is a flat-file stand-in for a raw flash partition, adapted from
// the teacher's io.FileReader (ReadAt/WriteAt over *os.File with wrapped
// errors). Unlike the teacher's reader, erase and write both need to be
// synchronous with respect to power loss for the dual-bank commit protocol
// (spec.md §4.C.2) to mean anything, so every write/erase ends with an
// explicit fdatasync barrier.
type FileMTD struct {
	f    *os.File
	info Info
}

// OpenFile opens (creating if needed) the flat file backing a partition. A
// file shorter than info.PartitionSize is grown to that size and filled
// with 0xFF throughout; a file of that size or longer is used as is.
func OpenFile(path string, info Info) (*FileMTD, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("mtd: open %s: %w", path, err)
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mtd: stat %s: %w", path, err)
	}
	if stat.Size() < info.PartitionSize {
		if err := f.Truncate(info.PartitionSize); err != nil {
			f.Close()
			return nil, fmt.Errorf("mtd: truncate %s: %w", path, err)
		}
		if fillErr := fillRange(f, 0, info.PartitionSize); fillErr != nil {
			f.Close()
			return nil, fillErr
		}
	}

	return &FileMTD{f: f, info: info}, nil
}

func fillRange(f *os.File, offset, length int64) error {
	const chunk = 1 << 20
	buf := make([]byte, chunk)
	for i := range buf {
		buf[i] = 0xFF
	}
	for length > 0 {
		n := int64(len(buf))
		if length < n {
			n = length
		}
		if _, err := f.WriteAt(buf[:n], offset); err != nil {
			return fmt.Errorf("mtd: fill: %w", err)
		}
		offset += n
		length -= n
	}
	return nil
}

func (m *FileMTD) Info() Info { return m.info }

func (m *FileMTD) Read(offset int64, buf []byte) error {
	n, err := m.f.ReadAt(buf, offset)
	if n != len(buf) {
		return fmt.Errorf("mtd: short read at %d: %w", offset, err)
	}
	return nil
}

func (m *FileMTD) Write(offset int64, buf []byte) error {
	n, err := m.f.WriteAt(buf, offset)
	if n != len(buf) {
		return fmt.Errorf("mtd: short write at %d: %w", offset, err)
	}
	return m.sync()
}

func (m *FileMTD) Erase(offset int64, length int64) error {
	if err := fillRange(m.f, offset, length); err != nil {
		return err
	}
	return m.sync()
}

func (m *FileMTD) sync() error {
	if err := unix.Fdatasync(int(m.f.Fd())); err != nil {
		return fmt.Errorf("mtd: fdatasync: %w", err)
	}
	return nil
}

func (m *FileMTD) Close() error {
	return m.f.Close()
}
