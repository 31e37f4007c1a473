package mtd

import "fmt"

// MemMTD is an in-RAM MTD used by tests, mirroring FileMTD's semantics
// without touching disk -- the same role the teacher's manager/cache
// in-memory helpers play alongside the real disk-backed code.
type MemMTD struct {
	buf  []byte
	info Info
}

func NewMem(info Info) *MemMTD {
	buf := make([]byte, info.PartitionSize)
	for i := range buf {
		buf[i] = 0xFF
	}
	return &MemMTD{buf: buf, info: info}
}

func (m *MemMTD) Info() Info { return m.info }

func (m *MemMTD) Read(offset int64, buf []byte) error {
	if offset < 0 || offset+int64(len(buf)) > int64(len(m.buf)) {
		return fmt.Errorf("mtd: read out of range at %d", offset)
	}
	copy(buf, m.buf[offset:offset+int64(len(buf))])
	return nil
}

func (m *MemMTD) Write(offset int64, buf []byte) error {
	if offset < 0 || offset+int64(len(buf)) > int64(len(m.buf)) {
		return fmt.Errorf("mtd: write out of range at %d", offset)
	}
	copy(m.buf[offset:], buf)
	return nil
}

func (m *MemMTD) Erase(offset int64, length int64) error {
	if offset < 0 || offset+length > int64(len(m.buf)) {
		return fmt.Errorf("mtd: erase out of range at %d", offset)
	}
	for i := offset; i < offset+length; i++ {
		m.buf[i] = 0xFF
	}
	return nil
}

func (m *MemMTD) Close() error { return nil }
