package device

import (
	"fmt"

	"github.com/dot5enko/ubi-core/mtd"
	"github.com/dot5enko/ubi-core/ubierrs"
	"github.com/dot5enko/ubi-core/wire"
)

// LebWrite is leb_write (spec.md §4.G): allocate a new PEB, stamp VID+data,
// retire the old PEB (if any) to dirty.
func (d *UbiDevice) LebWrite(volID, lnum uint32, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	vol, ok := d.volumes.Get(volID)
	if !ok {
		return ubierrs.ErrVolNotFound
	}
	if lnum >= vol.Config.LebCount {
		return ubierrs.ErrLnumRange
	}

	encoded, compressed, err := d.codec().Encode(buf)
	if err != nil {
		return fmt.Errorf("device: leb_write: compress: %w", err)
	}
	if len(encoded) > d.lebDataSize {
		return ubierrs.ErrBufTooBig
	}
	if d.free.Len() == 0 {
		return ubierrs.ErrNoFreePEBs
	}

	// Step 2: retire the old copy in RAM before touching the new PEB
	// (spec.md §4.G ordering rationale -- a crash after this line but
	// before step 6 still leaves one valid copy discoverable at mount).
	if pOld, has := vol.EBA[lnum]; has {
		oldHdr, err := d.readECHeader(pOld)
		oldEC := uint32(0)
		if err == nil {
			oldEC = oldHdr.EC
		}
		delete(vol.EBA, lnum)
		d.dirty.Insert(oldEC, pOld)
	}

	ec, pNew, ok := d.free.PopMin()
	if !ok {
		return ubierrs.ErrNoFreePEBs
	}

	sqnum := d.nextSeqnr()
	var flags wire.VIDFlags
	if compressed {
		flags |= wire.VIDFlagCompressed
	}
	vid := wire.VIDHeader{
		Flags:    flags,
		Lnum:     lnum,
		VolID:    volID,
		Sqnum:    sqnum,
		DataSize: uint32(len(encoded)),
	}
	vidBuf := make([]byte, wire.VIDHeaderSize)
	vid.Serialize(vidBuf)
	if err := mtd.AlignedWrite(d.mtd, d.vidHdrOffset(pNew), vidBuf, d.w); err != nil {
		d.bad.Add(pNew, ec)
		return fmt.Errorf("device: leb_write: write vid header: %w", err)
	}

	if len(encoded) > 0 {
		if err := mtd.AlignedWrite(d.mtd, d.payloadOffset(pNew), encoded, d.w); err != nil {
			d.bad.Add(pNew, ec)
			return fmt.Errorf("device: leb_write: write payload: %w", err)
		}
	}

	vol.EBA[lnum] = pNew
	return nil
}

// LebMap is leb_map: a zero-length write (spec.md §4.G).
func (d *UbiDevice) LebMap(volID, lnum uint32) error {
	return d.LebWrite(volID, lnum, nil)
}

// LebUnmap is leb_unmap: remove the EBA entry and retire the PEB to dirty
// without erasing it yet (spec.md §4.G).
func (d *UbiDevice) LebUnmap(volID, lnum uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	vol, ok := d.volumes.Get(volID)
	if !ok {
		return ubierrs.ErrVolNotFound
	}
	pOld, has := vol.EBA[lnum]
	if !has {
		return nil
	}
	hdr, err := d.readECHeader(pOld)
	ec := uint32(0)
	if err == nil {
		ec = hdr.EC
	}
	delete(vol.EBA, lnum)
	d.dirty.Insert(ec, pOld)
	return nil
}

// LebRead is leb_read: copy len(out) bytes starting at offset within the
// LEB's payload (spec.md §4.G).
func (d *UbiDevice) LebRead(volID, lnum uint32, offset int, out []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	vol, ok := d.volumes.Get(volID)
	if !ok {
		return ubierrs.ErrVolNotFound
	}
	pnum, has := vol.EBA[lnum]
	if !has {
		return ubierrs.ErrLebNotFound
	}

	vidRaw, err := d.readVIDRaw(pnum)
	if err != nil {
		return fmt.Errorf("device: leb_read: %w", err)
	}
	vid, err := wire.ParseVIDHeader(vidRaw)
	if err != nil {
		return fmt.Errorf("device: leb_read: %w", err)
	}

	payload := make([]byte, vid.DataSize)
	if vid.DataSize > 0 {
		if err := d.mtd.Read(d.payloadOffset(pnum), payload); err != nil {
			return fmt.Errorf("device: leb_read: %w", err)
		}
	}
	decoded, err := d.codec().Decode(payload, vid.Flags&wire.VIDFlagCompressed != 0)
	if err != nil {
		return fmt.Errorf("device: leb_read: decompress: %w", err)
	}

	if offset < 0 || offset+len(out) > len(decoded) {
		return ubierrs.ErrLnumRange
	}
	copy(out, decoded[offset:offset+len(out)])
	return nil
}

// LebGetSize is leb_get_size: the logical size the caller originally wrote,
// regardless of whether the payload is stored compressed on flash (spec.md
// §4.G; SPEC_FULL.md §6 keeps this logical even with compression enabled).
func (d *UbiDevice) LebGetSize(volID, lnum uint32) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	vol, ok := d.volumes.Get(volID)
	if !ok {
		return 0, ubierrs.ErrVolNotFound
	}
	pnum, has := vol.EBA[lnum]
	if !has {
		return 0, ubierrs.ErrLebNotFound
	}
	vidRaw, err := d.readVIDRaw(pnum)
	if err != nil {
		return 0, fmt.Errorf("device: leb_get_size: %w", err)
	}
	vid, err := wire.ParseVIDHeader(vidRaw)
	if err != nil {
		return 0, fmt.Errorf("device: leb_get_size: %w", err)
	}
	if vid.Flags&wire.VIDFlagCompressed == 0 {
		return int(vid.DataSize), nil
	}
	payload := make([]byte, vid.DataSize)
	if vid.DataSize > 0 {
		if err := d.mtd.Read(d.payloadOffset(pnum), payload); err != nil {
			return 0, fmt.Errorf("device: leb_get_size: %w", err)
		}
	}
	decoded, err := d.codec().Decode(payload, true)
	if err != nil {
		return 0, fmt.Errorf("device: leb_get_size: decompress: %w", err)
	}
	return len(decoded), nil
}

// LebIsMapped is leb_is_mapped: an EBA lookup (spec.md §4.G).
func (d *UbiDevice) LebIsMapped(volID, lnum uint32) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	vol, ok := d.volumes.Get(volID)
	if !ok {
		return false, ubierrs.ErrVolNotFound
	}
	_, has := vol.EBA[lnum]
	return has, nil
}
