// Package store implements the dual-bank metadata commit protocol of
// spec.md §4.C: PEB 0 and PEB 1 each hold a full copy of
// [device header][volume header table], written via a two-phase
// erase+write sequence so a crash mid-commit leaves a deterministically
// recoverable state.
package store

import (
	"fmt"

	"github.com/dot5enko/ubi-core/mtd"
	"github.com/dot5enko/ubi-core/wire"
)

// MaxVolumes bounds the volume header table size (spec.md §4.C, §6.1;
// CONFIG_UBI_MAX_NR_OF_VOLUMES in the reference).
const MaxVolumes = 128

// Bank 0 and bank 1 occupy PEB 0 and PEB 1 respectively (spec.md §3.1).
const (
	Bank0Pnum = 0
	Bank1Pnum = 1
)

// State is the four-valued dual-bank read state of spec.md §4.C.1.
type State int

const (
	BanksValid State = iota
	Bank1Valid
	Bank2Valid
	BanksInvalid
)

func (s State) String() string {
	switch s {
	case BanksValid:
		return "BANKS_VALID"
	case Bank1Valid:
		return "BANK1_VALID"
	case Bank2Valid:
		return "BANK2_VALID"
	default:
		return "BANKS_INVALID"
	}
}

// Metadata is the decoded contents of one bank: device header plus its
// volume header table.
type Metadata struct {
	Device  wire.DeviceHeader
	Volumes []wire.VolumeHeader
}

func (m Metadata) size() int64 {
	return int64(wire.DeviceHeaderSize) + int64(len(m.Volumes))*int64(wire.VolumeHeaderSize)
}

// Serialize encodes the metadata into a freshly allocated buffer, ready to
// be handed to WriteBoth.
func (m Metadata) Serialize() []byte {
	buf := make([]byte, m.size())
	m.Device.Serialize(buf[:wire.DeviceHeaderSize])
	off := wire.DeviceHeaderSize
	for _, v := range m.Volumes {
		v.Serialize(buf[off : off+wire.VolumeHeaderSize])
		off += wire.VolumeHeaderSize
	}
	return buf
}

// Parse decodes a bank's contents from buf. The device header's VolCount
// field drives how many volume headers follow it.
func Parse(buf []byte) (Metadata, error) {
	var m Metadata
	dev, err := wire.ParseDeviceHeader(buf)
	if err != nil {
		return m, err
	}
	m.Device = dev
	if int(dev.VolCount) > MaxVolumes {
		return m, fmt.Errorf("store: vol_count %d exceeds MaxVolumes", dev.VolCount)
	}
	off := wire.DeviceHeaderSize
	m.Volumes = make([]wire.VolumeHeader, dev.VolCount)
	for i := 0; i < int(dev.VolCount); i++ {
		end := off + wire.VolumeHeaderSize
		if end > len(buf) {
			return m, fmt.Errorf("store: truncated volume header table")
		}
		vh, err := wire.ParseVolumeHeader(buf[off:end])
		if err != nil {
			return m, fmt.Errorf("store: volume header %d: %w", i, err)
		}
		m.Volumes[i] = vh
		off = end
	}
	return m, nil
}

// Store is the dual-bank accessor bound to a specific MTD and erase block
// size (bank 1 lives at offset eraseBlockSize).
type Store struct {
	m   mtd.MTD
	ebs int64
}

func New(m mtd.MTD) *Store {
	return &Store{m: m, ebs: m.Info().EraseBlockSize}
}

func (s *Store) bankOffset(bank int) int64 {
	if bank == Bank0Pnum {
		return 0
	}
	return s.ebs
}

// readBank reads and parses the metadata bank at the given bank index
// (Bank0Pnum/Bank1Pnum), reading the device header first to learn how much
// more to read for the volume table.
func (s *Store) readBank(bank int) (Metadata, error) {
	off := s.bankOffset(bank)
	devBuf := make([]byte, wire.DeviceHeaderSize)
	if err := s.m.Read(off, devBuf); err != nil {
		return Metadata{}, fmt.Errorf("store: read bank %d device header: %w", bank, err)
	}
	dev, err := wire.ParseDeviceHeader(devBuf)
	if err != nil {
		return Metadata{}, err
	}
	if int(dev.VolCount) > MaxVolumes {
		return Metadata{}, fmt.Errorf("store: bank %d vol_count %d exceeds MaxVolumes", bank, dev.VolCount)
	}

	tableSize := int64(dev.VolCount) * int64(wire.VolumeHeaderSize)
	full := make([]byte, int64(wire.DeviceHeaderSize)+tableSize)
	copy(full, devBuf)
	if tableSize > 0 {
		if err := s.m.Read(off+int64(wire.DeviceHeaderSize), full[wire.DeviceHeaderSize:]); err != nil {
			return Metadata{}, fmt.Errorf("store: read bank %d volume table: %w", bank, err)
		}
	}
	return Parse(full)
}

// DualBankState reads both banks and classifies the mount state per
// spec.md §4.C.1, along with whatever metadata each bank decoded (nil on
// parse failure).
func (s *Store) DualBankState() (State, *Metadata, *Metadata) {
	m0, err0 := s.readBank(Bank0Pnum)
	m1, err1 := s.readBank(Bank1Pnum)

	var p0, p1 *Metadata
	if err0 == nil {
		p0 = &m0
	}
	if err1 == nil {
		p1 = &m1
	}

	switch {
	case p0 != nil && p1 != nil:
		if sameCRC(p0, p1) {
			return BanksValid, p0, p1
		}
		// Both banks parse, but disagree: not one of the clean four
		// states a crash-only history would produce. §4.C.3 still
		// specifies the correct recovery (adopt the newer revision) --
		// Recover inspects bank0/bank1 directly for this case rather
		// than relying on the State value here.
		return Bank1Valid, p0, p1
	case p0 != nil:
		return Bank1Valid, p0, nil
	case p1 != nil:
		return Bank2Valid, nil, p1
	default:
		return BanksInvalid, nil, nil
	}
}

// sameCRC reports whether two already-valid banks are byte-identical
// commits (same revision and same serialized content), per spec.md's
// "(hdr_crc, revision) of bank 0 equals bank 1" BANKS_VALID condition.
func sameCRC(a, b *Metadata) bool {
	return string(a.Serialize()) == string(b.Serialize())
}

// WriteBoth performs the two-phase commit of spec.md §4.C.2: erase+write
// bank 1 (transitions to BANK1_VALID), then erase+write bank 2
// (transitions to BANKS_VALID). A failure at any step is returned
// immediately; the next mount's DualBankState/Recover observes and fixes
// whatever intermediate state resulted.
func (s *Store) WriteBoth(md Metadata) error {
	buf := md.Serialize()

	if err := s.m.Erase(s.bankOffset(Bank0Pnum), s.ebs); err != nil {
		return fmt.Errorf("store: erase bank0: %w", err)
	}
	if err := mtd.AlignedWrite(s.m, s.bankOffset(Bank0Pnum), buf, s.m.Info().WriteBlockSize); err != nil {
		return fmt.Errorf("store: write bank0: %w", err)
	}

	if err := s.m.Erase(s.bankOffset(Bank1Pnum), s.ebs); err != nil {
		return fmt.Errorf("store: erase bank1: %w", err)
	}
	if err := mtd.AlignedWrite(s.m, s.bankOffset(Bank1Pnum), buf, s.m.Info().WriteBlockSize); err != nil {
		return fmt.Errorf("store: write bank1: %w", err)
	}

	return nil
}

// writeSingleBank rewrites only one bank (used during recovery, §4.C.3, to
// bring a stale bank in line with the adopted metadata without touching
// the already-good bank).
func (s *Store) writeSingleBank(bank int, md Metadata) error {
	buf := md.Serialize()
	if err := s.m.Erase(s.bankOffset(bank), s.ebs); err != nil {
		return fmt.Errorf("store: erase bank %d: %w", bank, err)
	}
	if err := mtd.AlignedWrite(s.m, s.bankOffset(bank), buf, s.m.Info().WriteBlockSize); err != nil {
		return fmt.Errorf("store: write bank %d: %w", bank, err)
	}
	return nil
}

// Recover implements the dual-bank recovery behavior of spec.md §4.C.3.
// Returns the adopted metadata and whether the partition should be
// treated as freshly formatted (true only when neither bank parses).
func (s *Store) Recover(state State, bank0, bank1 *Metadata) (adopted Metadata, fresh bool, err error) {
	switch {
	case state == BanksValid:
		return *bank0, false, nil

	case bank0 != nil && bank1 != nil:
		// Both parse, but disagree on revision: adopt the newer one
		// and rewrite the older bank (spec.md §4.C.3).
		if bank1.Device.Revision > bank0.Device.Revision {
			if err := s.writeSingleBank(Bank0Pnum, *bank1); err != nil {
				return Metadata{}, false, fmt.Errorf("store: recover bank0 from newer bank1: %w", err)
			}
			return *bank1, false, nil
		}
		if err := s.writeSingleBank(Bank1Pnum, *bank0); err != nil {
			return Metadata{}, false, fmt.Errorf("store: recover bank1 from bank0: %w", err)
		}
		return *bank0, false, nil

	case bank0 != nil:
		if err := s.writeSingleBank(Bank1Pnum, *bank0); err != nil {
			return Metadata{}, false, fmt.Errorf("store: recover bank1 from bank0: %w", err)
		}
		return *bank0, false, nil

	case bank1 != nil:
		if err := s.writeSingleBank(Bank0Pnum, *bank1); err != nil {
			return Metadata{}, false, fmt.Errorf("store: recover bank0 from bank1: %w", err)
		}
		return *bank1, false, nil

	default:
		return Metadata{}, true, nil
	}
}
