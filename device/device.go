// Package device implements UbiDevice (spec.md §3.3): the mount/scan state
// machine, the LEB write engine, the PEB reclaimer, and the volume
// lifecycle operations, all behind the single coarse mutex spec.md §5
// requires. This is where the teacher's manager.Manager (a single struct
// owning pools, caches, and a schema registry) gets reworked into a device
// owning PEB pools, a volume registry, and a dual-bank metadata store --
// same shape, new domain.
package device

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dot5enko/ubi-core/compression"
	"github.com/dot5enko/ubi-core/mtd"
	"github.com/dot5enko/ubi-core/pool"
	"github.com/dot5enko/ubi-core/store"
	"github.com/dot5enko/ubi-core/volume"
	"github.com/dot5enko/ubi-core/wire"
)

// Config configures a device at device_init time.
type Config struct {
	// CompressPayloads opts into the lz4 payload codec (SPEC_FULL.md §6).
	// Default off, which keeps the on-flash format exactly as spec.md
	// describes it.
	CompressPayloads bool
}

// Info is the aggregated snapshot returned by device_get_info (spec.md
// §4.I).
type Info struct {
	LebTotalCount int
	LebSize       int
	Free          int
	Dirty         int
	Bad           int
	Allocated     int
	Volumes       int
}

// PEB 0 and PEB 1 hold the metadata banks (spec.md §3.1); the data region
// starts at pnum 2.
const reservedPEBs = 2

// UbiDevice is the in-RAM root owning the MTD handle, the coarse lock, the
// monotonic counters, and the four pools of spec.md §3.3.
type UbiDevice struct {
	mu sync.Mutex

	mtd mtd.MTD
	st  *store.Store

	ebs         int64 // erase_block_size (E)
	w           int   // write_block_size (W)
	totalPEBs   int   // N
	lebDataSize int   // E - EC_HDR - VID_HDR

	free    *pool.Pool
	dirty   *pool.Pool
	bad     *pool.BadSet
	volumes *volume.Registry

	globalSeqnr atomic.Uint64
	revision    uint32

	cfg Config
}

func (d *UbiDevice) pebOffset(pnum uint32) int64   { return int64(pnum) * d.ebs }
func (d *UbiDevice) ecHdrOffset(pnum uint32) int64 { return d.pebOffset(pnum) }
func (d *UbiDevice) vidHdrOffset(pnum uint32) int64 {
	return d.pebOffset(pnum) + wire.ECHeaderSize
}
func (d *UbiDevice) payloadOffset(pnum uint32) int64 {
	return d.pebOffset(pnum) + wire.ECHeaderSize + wire.VIDHeaderSize
}

func (d *UbiDevice) readECHeader(pnum uint32) (wire.ECHeader, error) {
	buf := make([]byte, wire.ECHeaderSize)
	if err := d.mtd.Read(d.ecHdrOffset(pnum), buf); err != nil {
		return wire.ECHeader{}, fmt.Errorf("device: read ec header at peb %d: %w", pnum, err)
	}
	return wire.ParseECHeader(buf)
}

func (d *UbiDevice) writeECHeader(pnum uint32, ec uint32) error {
	buf := make([]byte, wire.ECHeaderSize)
	wire.ECHeader{EC: ec}.Serialize(buf)
	if err := mtd.AlignedWrite(d.mtd, d.ecHdrOffset(pnum), buf, d.w); err != nil {
		return fmt.Errorf("device: write ec header at peb %d: %w", pnum, err)
	}
	return nil
}

func (d *UbiDevice) readVIDRaw(pnum uint32) ([]byte, error) {
	buf := make([]byte, wire.VIDHeaderSize)
	if err := d.mtd.Read(d.vidHdrOffset(pnum), buf); err != nil {
		return nil, fmt.Errorf("device: read vid header at peb %d: %w", pnum, err)
	}
	return buf, nil
}

// GetInfo returns the aggregated pool/volume snapshot (spec.md §4.I
// device_get_info).
func (d *UbiDevice) GetInfo() Info {
	d.mu.Lock()
	defer d.mu.Unlock()

	allocated := d.totalAllocatedLebs()

	return Info{
		LebTotalCount: d.totalPEBs - reservedPEBs,
		LebSize:       d.lebDataSize,
		Free:          d.free.Len(),
		Dirty:         d.dirty.Len(),
		Bad:           d.bad.Len(),
		Allocated:     allocated,
		Volumes:       d.volumes.Len(),
	}
}

// ECHistogram merges the free and dirty pools' erase-count histograms, for
// debug tooling only (SPEC_FULL.md §1 domain stack).
func (d *UbiDevice) ECHistogram() map[int]int {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := d.free.ECHistogram()
	for bucket, n := range d.dirty.ECHistogram() {
		out[bucket] += n
	}
	return out
}

// GetPebEC returns every data-region PEB's current erase count, for test
// tooling only (spec.md §6.3 device_get_peb_ec).
func (d *UbiDevice) GetPebEC() map[uint32]uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make(map[uint32]uint32, d.totalPEBs-reservedPEBs)
	for _, e := range d.free.Snapshot() {
		out[e.Pnum] = e.EC
	}
	for _, e := range d.dirty.Snapshot() {
		out[e.Pnum] = e.EC
	}
	for pnum, ec := range d.bad.Snapshot() {
		out[pnum] = ec
	}
	for _, v := range d.volumes.All() {
		for _, pnum := range v.EBA {
			if hdr, err := d.readECHeader(pnum); err == nil {
				out[pnum] = hdr.EC
			}
		}
	}
	return out
}

// Deinit closes the underlying MTD handle. The in-RAM state is discarded;
// every mutation that matters is already durable on flash by the time it
// returns to the caller (dual-bank commits, per-write VID stamps).
func (d *UbiDevice) Deinit() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mtd.Close()
}

func (d *UbiDevice) nextSeqnr() uint64 {
	return d.globalSeqnr.Add(1) - 1
}

func (d *UbiDevice) bumpSeqnrAtLeast(v uint64) {
	for {
		cur := d.globalSeqnr.Load()
		if v < cur {
			return
		}
		if d.globalSeqnr.CompareAndSwap(cur, v) {
			return
		}
	}
}

func (d *UbiDevice) codec() *compression.Codec {
	return compression.New(d.cfg.CompressPayloads)
}
