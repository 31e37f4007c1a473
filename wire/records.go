package wire

// Magic numbers for the four on-flash record kinds (spec.md §3.2, §6.1).
// Spelled "UBI%", "UBI&", "UBI#", "UBI!" in ASCII.
const (
	MagicDevice = 0x55424925
	MagicVolume = 0x55424926
	MagicEC     = 0x55424923
	MagicVID    = 0x55424921
)

const RecordVersion = 1

const (
	DeviceHeaderSize = 32
	VolumeHeaderSize = 48
	ECHeaderSize     = 16
	VIDHeaderSize    = 32

	VolumeNameMaxLen = 16
)

// VolType distinguishes static (fixed-content, write-once-per-LEB in the
// conventional UBI sense) from dynamic (freely resizable) volumes.
type VolType uint8

const (
	VolTypeDynamic VolType = iota
	VolTypeStatic
)

// DeviceHeader is the 32-byte fixed record persisted at the start of each
// metadata bank (spec.md §3.2, §4.C).
//
// Layout: magic(4) version(2) volCount(2) partitionOffset(4)
// partitionSize(4) revision(4) reserved(8) crc(4) = 32 bytes.
type DeviceHeader struct {
	Version         uint16
	VolCount        uint16
	PartitionOffset uint32
	PartitionSize   uint32
	Revision        uint32
}

func ParseDeviceHeader(buf []byte) (DeviceHeader, error) {
	var h DeviceHeader
	if len(buf) < DeviceHeaderSize {
		return h, ErrShort
	}
	r := NewReader(buf)
	magic := r.U32()
	if magic != MagicDevice {
		return h, ErrMagic
	}
	h.Version = r.U16()
	if h.Version != RecordVersion {
		return h, ErrVersion
	}
	h.VolCount = r.U16()
	h.PartitionOffset = r.U32()
	h.PartitionSize = r.U32()
	h.Revision = r.U32()
	r.Skip(8) // reserved
	crcField := r.Pos()
	gotCRC := r.U32()
	wantCRC := crc32IEEE(buf[:crcField])
	if gotCRC != wantCRC {
		return h, ErrCRC
	}
	return h, nil
}

func (h DeviceHeader) Serialize(buf []byte) {
	w := NewWriter(buf[:DeviceHeaderSize])
	w.PutU32(MagicDevice)
	w.PutU16(RecordVersion)
	w.PutU16(h.VolCount)
	w.PutU32(h.PartitionOffset)
	w.PutU32(h.PartitionSize)
	w.PutU32(h.Revision)
	w.PutZeroes(8)
	crc := crc32IEEE(buf[:w.Pos()])
	w.PutU32(crc)
}

// VolumeHeader is the 48-byte fixed record describing one volume within a
// metadata bank's volume header table (spec.md §3.2, §4.C).
//
// Layout: magic(4) version(2) volType(1) reserved(1) volId(4) lebsCount(4)
// name(16) reserved(12) crc(4) = 48 bytes.
type VolumeHeader struct {
	VolType   VolType
	VolID     uint32
	LebsCount uint32
	Name      [VolumeNameMaxLen]byte
}

func (h VolumeHeader) NameString() string {
	n := 0
	for n < len(h.Name) && h.Name[n] != 0 {
		n++
	}
	return string(h.Name[:n])
}

func NewVolumeName(name string) (out [VolumeNameMaxLen]byte) {
	copy(out[:], name)
	return out
}

func ParseVolumeHeader(buf []byte) (VolumeHeader, error) {
	var h VolumeHeader
	if len(buf) < VolumeHeaderSize {
		return h, ErrShort
	}
	r := NewReader(buf)
	magic := r.U32()
	if magic != MagicVolume {
		return h, ErrMagic
	}
	version := r.U16()
	if version != RecordVersion {
		return h, ErrVersion
	}
	h.VolType = VolType(r.U8())
	r.Skip(1) // reserved
	h.VolID = r.U32()
	h.LebsCount = r.U32()
	copy(h.Name[:], r.Bytes(VolumeNameMaxLen))
	r.Skip(12) // reserved
	crcField := r.Pos()
	gotCRC := r.U32()
	wantCRC := crc32IEEE(buf[:crcField])
	if gotCRC != wantCRC {
		return h, ErrCRC
	}
	return h, nil
}

func (h VolumeHeader) Serialize(buf []byte) {
	w := NewWriter(buf[:VolumeHeaderSize])
	w.PutU32(MagicVolume)
	w.PutU16(RecordVersion)
	w.PutU8(uint8(h.VolType))
	w.PutZeroes(1)
	w.PutU32(h.VolID)
	w.PutU32(h.LebsCount)
	w.PutBytes(h.Name[:])
	w.PutZeroes(12)
	crc := crc32IEEE(buf[:w.Pos()])
	w.PutU32(crc)
}

// ECHeader is the 16-byte erase-counter record rewritten every time a PEB
// is erased (spec.md §3.2, §4.I).
//
// Layout: magic(4) version(2) reserved(2) ec(4) crc(4) = 16 bytes.
type ECHeader struct {
	EC uint32
}

func ParseECHeader(buf []byte) (ECHeader, error) {
	var h ECHeader
	if len(buf) < ECHeaderSize {
		return h, ErrShort
	}
	r := NewReader(buf)
	magic := r.U32()
	if magic != MagicEC {
		return h, ErrMagic
	}
	version := r.U16()
	if version != RecordVersion {
		return h, ErrVersion
	}
	r.Skip(2) // reserved
	h.EC = r.U32()
	crcField := r.Pos()
	gotCRC := r.U32()
	wantCRC := crc32IEEE(buf[:crcField])
	if gotCRC != wantCRC {
		return h, ErrCRC
	}
	return h, nil
}

func (h ECHeader) Serialize(buf []byte) {
	w := NewWriter(buf[:ECHeaderSize])
	w.PutU32(MagicEC)
	w.PutU16(RecordVersion)
	w.PutZeroes(2)
	w.PutU32(h.EC)
	crc := crc32IEEE(buf[:w.Pos()])
	w.PutU32(crc)
}

// IsBlank reports whether every byte of buf is the erased-flash pattern
// (0xFF). Mount uses it on a PEB's VID header slot to spot a free PEB.
func IsBlank(buf []byte) bool {
	for _, b := range buf {
		if b != 0xFF {
			return false
		}
	}
	return true
}

// VIDFlags packs auxiliary per-LEB-write bits into the VID header's
// otherwise-reserved byte. Bit 0 marks an lz4-compressed payload
// (SPEC_FULL.md §6); all other bits are reserved and always zero.
type VIDFlags uint8

const VIDFlagCompressed VIDFlags = 1 << 0

// VIDHeader is the 32-byte per-LEB-write record stamped at the start of a
// data-region PEB's payload area (spec.md §3.2, §4.G).
//
// Layout: magic(4) version(2) flags(1) reserved(1) lnum(4) volId(4)
// sqnum(8) dataSize(4) crc(4) = 32 bytes.
type VIDHeader struct {
	Flags    VIDFlags
	Lnum     uint32
	VolID    uint32
	Sqnum    uint64
	DataSize uint32
}

func ParseVIDHeader(buf []byte) (VIDHeader, error) {
	var h VIDHeader
	if len(buf) < VIDHeaderSize {
		return h, ErrShort
	}
	r := NewReader(buf)
	magic := r.U32()
	if magic != MagicVID {
		return h, ErrMagic
	}
	version := r.U16()
	if version != RecordVersion {
		return h, ErrVersion
	}
	h.Flags = VIDFlags(r.U8())
	r.Skip(1) // reserved
	h.Lnum = r.U32()
	h.VolID = r.U32()
	h.Sqnum = r.U64()
	h.DataSize = r.U32()
	crcField := r.Pos()
	gotCRC := r.U32()
	wantCRC := crc32IEEE(buf[:crcField])
	if gotCRC != wantCRC {
		return h, ErrCRC
	}
	return h, nil
}

func (h VIDHeader) Serialize(buf []byte) {
	w := NewWriter(buf[:VIDHeaderSize])
	w.PutU32(MagicVID)
	w.PutU16(RecordVersion)
	w.PutU8(uint8(h.Flags))
	w.PutZeroes(1)
	w.PutU32(h.Lnum)
	w.PutU32(h.VolID)
	w.PutU64(h.Sqnum)
	w.PutU32(h.DataSize)
	crc := crc32IEEE(buf[:w.Pos()])
	w.PutU32(crc)
}
