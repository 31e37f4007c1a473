package device

import (
	"fmt"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/dot5enko/ubi-core/mtd"
	"github.com/dot5enko/ubi-core/pool"
	"github.com/dot5enko/ubi-core/store"
	"github.com/dot5enko/ubi-core/volume"
	"github.com/dot5enko/ubi-core/wire"
)

// Init is device_init (spec.md §4.F): it either mounts an existing UBI
// partition or formats a blank one, picking the path from the dual-bank
// state of the metadata banks.
func Init(m mtd.MTD, cfg Config) (*UbiDevice, error) {
	info := m.Info()
	if info.EraseBlockSize <= 0 || info.PartitionSize < 2*info.EraseBlockSize {
		return nil, fmt.Errorf("device: partition too small for reserved banks")
	}

	d := &UbiDevice{
		mtd:         m,
		st:          store.New(m),
		ebs:         info.EraseBlockSize,
		w:           info.WriteBlockSize,
		totalPEBs:   int(info.PartitionSize / info.EraseBlockSize),
		lebDataSize: int(info.EraseBlockSize) - wire.ECHeaderSize - wire.VIDHeaderSize,
		free:        pool.New(),
		dirty:       pool.New(),
		bad:         pool.NewBadSet(),
		volumes:     volume.NewRegistry(),
		cfg:         cfg,
	}

	state, bank0, bank1 := d.st.DualBankState()
	adopted, fresh, err := d.st.Recover(state, bank0, bank1)
	if err != nil {
		return nil, fmt.Errorf("device: dual-bank recovery: %w", err)
	}

	if fresh {
		if err := d.formatFresh(); err != nil {
			return nil, err
		}
		return d, nil
	}

	if err := d.mountExisting(adopted); err != nil {
		return nil, err
	}
	return d, nil
}

// formatFresh implements the fresh-format path (spec.md §4.F.1).
func (d *UbiDevice) formatFresh() error {
	for pnum := reservedPEBs; pnum < d.totalPEBs; pnum++ {
		if err := d.mtd.Erase(d.pebOffset(uint32(pnum)), d.ebs); err != nil {
			return fmt.Errorf("device: format: erase peb %d: %w", pnum, err)
		}
		if err := d.writeECHeader(uint32(pnum), 0); err != nil {
			return fmt.Errorf("device: format: stamp ec header peb %d: %w", pnum, err)
		}
		d.free.Insert(0, uint32(pnum))
	}

	d.revision = 1
	md := store.Metadata{
		Device: wire.DeviceHeader{
			Version:         wire.RecordVersion,
			VolCount:        0,
			PartitionOffset: 0,
			PartitionSize:   uint32(d.mtd.Info().PartitionSize),
			Revision:        d.revision,
		},
	}
	if err := d.st.WriteBoth(md); err != nil {
		return fmt.Errorf("device: format: commit device header: %w", err)
	}
	return nil
}

type pebScan struct {
	pnum   uint32
	ec     uint32
	ecErr  error
	vidRaw []byte
	vidErr error
}

// mountExisting implements the mount-existing path (spec.md §4.F.2).
func (d *UbiDevice) mountExisting(adopted store.Metadata) error {
	d.revision = adopted.Device.Revision

	maxVolID := uint32(0)
	haveVol := false
	for idx, vh := range adopted.Volumes {
		d.volumes.AddAt(idx, vh.VolID, volume.Config{
			Name:     vh.NameString(),
			Type:     vh.VolType,
			LebCount: vh.LebsCount,
		})
		if !haveVol || vh.VolID >= maxVolID {
			maxVolID = vh.VolID
			haveVol = true
		}
	}
	if haveVol {
		d.volumes.SetVolsSeqnr(maxVolID + 1)
	}

	scans := make([]pebScan, d.totalPEBs-reservedPEBs)
	g := new(errgroup.Group)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range scans {
		i := i
		pnum := uint32(reservedPEBs + i)
		scans[i].pnum = pnum
		g.Go(func() error {
			ec, ecErr := d.readECHeader(pnum)
			scans[i].ec = ec.EC
			scans[i].ecErr = ecErr
			if ecErr == nil {
				raw, vidErr := d.readVIDRaw(pnum)
				scans[i].vidRaw = raw
				scans[i].vidErr = vidErr
			}
			return nil
		})
	}
	_ = g.Wait() // every per-PEB scan swallows its own error into the slot

	// First pass: accumulate ec_avg over PEBs with a valid EC header.
	var ecSum uint64
	var ecCount uint64
	for _, s := range scans {
		if s.ecErr == nil {
			ecSum += uint64(s.ec)
			ecCount++
		}
	}
	ecAvg := uint32(0)
	if ecCount > 0 {
		ecAvg = uint32(ecSum / ecCount)
	}

	// Second pass, in ascending pnum order for determinism: classify.
	sort.Slice(scans, func(i, j int) bool { return scans[i].pnum < scans[j].pnum })
	for _, s := range scans {
		d.classifyPeb(s, ecAvg)
	}

	d.globalSeqnr.Store(d.globalSeqnr.Load() + 1)
	return nil
}

// classifyPeb applies the priority ladder of spec.md §4.F.2 step 4 to a
// single already-scanned PEB.
func (d *UbiDevice) classifyPeb(s pebScan, ecAvg uint32) {
	if s.ecErr != nil {
		d.bad.Add(s.pnum, ecAvg)
		return
	}
	if s.vidErr != nil {
		d.bad.Add(s.pnum, s.ec)
		return
	}

	if wire.IsBlank(s.vidRaw) {
		d.free.Insert(s.ec, s.pnum)
		return
	}

	vid, err := wire.ParseVIDHeader(s.vidRaw)
	if err != nil {
		d.bad.Add(s.pnum, s.ec)
		return
	}

	d.bumpSeqnrAtLeast(vid.Sqnum)

	vol, ok := d.volumes.Get(vid.VolID)
	if !ok {
		d.dirty.Insert(s.ec, s.pnum)
		return
	}
	if vid.Lnum >= vol.Config.LebCount {
		d.dirty.Insert(s.ec, s.pnum)
		return
	}

	existing, has := vol.EBA[vid.Lnum]
	if !has {
		vol.EBA[vid.Lnum] = s.pnum
		return
	}

	// Duplicate LEB claim: compare sqnums, newer wins (spec.md §4.F.2.g).
	existingVid, existingErr := d.readVIDAt(existing)
	if existingErr != nil {
		d.bad.Add(existing, s.ec)
		vol.EBA[vid.Lnum] = s.pnum
		return
	}
	if vid.Sqnum > existingVid.Sqnum {
		d.dirty.Insert(existingSeqEC(d, existing), existing)
		vol.EBA[vid.Lnum] = s.pnum
	} else {
		d.dirty.Insert(s.ec, s.pnum)
	}
}

func (d *UbiDevice) readVIDAt(pnum uint32) (wire.VIDHeader, error) {
	raw, err := d.readVIDRaw(pnum)
	if err != nil {
		return wire.VIDHeader{}, err
	}
	return wire.ParseVIDHeader(raw)
}

func existingSeqEC(d *UbiDevice, pnum uint32) uint32 {
	hdr, err := d.readECHeader(pnum)
	if err != nil {
		return 0
	}
	return hdr.EC
}
