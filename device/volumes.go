package device

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/dot5enko/ubi-core/store"
	"github.com/dot5enko/ubi-core/ubierrs"
	"github.com/dot5enko/ubi-core/volume"
	"github.com/dot5enko/ubi-core/wire"
)

// buildCommitBuffer assembles the [device header][all volume headers]
// metadata buffer described by spec.md §4.H step 2, bumping revision by one
// relative to the device's last-known committed revision.
func (d *UbiDevice) buildCommitBuffer() store.Metadata {
	vols := d.volumes.All()
	headers := make([]wire.VolumeHeader, len(vols))
	for i, v := range vols {
		headers[i] = wire.VolumeHeader{
			VolType:   v.Config.Type,
			VolID:     v.VolID,
			LebsCount: v.Config.LebCount,
			Name:      wire.NewVolumeName(v.Config.Name),
		}
	}
	return store.Metadata{
		Device: wire.DeviceHeader{
			Version:         wire.RecordVersion,
			VolCount:        uint16(len(headers)),
			PartitionOffset: 0,
			PartitionSize:   uint32(d.mtd.Info().PartitionSize),
			Revision:        d.revision + 1,
		},
		Volumes: headers,
	}
}

func (d *UbiDevice) commitLocked() error {
	md := d.buildCommitBuffer()
	if err := d.st.WriteBoth(md); err != nil {
		return fmt.Errorf("device: commit: %w", err)
	}
	d.revision = md.Device.Revision
	return nil
}

func (d *UbiDevice) totalAllocatedLebs() int {
	n := 0
	for _, v := range d.volumes.All() {
		n += int(v.Config.LebCount)
	}
	return n
}

// VolumeCreate is volume_create (spec.md §4.H): idempotent on duplicate
// name, otherwise allocates a vol_id and commits a new volume header.
func (d *UbiDevice) VolumeCreate(cfg volume.Config) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if cfg.Name == "" || cfg.LebCount == 0 {
		return 0, ubierrs.ErrBadArg
	}

	if existing, ok := d.volumes.ByName(cfg.Name); ok {
		return existing.VolID, nil
	}

	if d.free.Len() < int(cfg.LebCount)+d.totalAllocatedLebs() {
		return 0, ubierrs.ErrNoSpace
	}

	volID := d.volumes.NextVolID()
	d.volumes.Add(volID, cfg)

	if err := d.commitLocked(); err != nil {
		d.volumes.Remove(volID)
		return 0, err
	}
	return volID, nil
}

// VolumeResize is volume_resize (spec.md §4.H): dynamic volumes only, no
// no-op or zero-size resizes, shrinking retires out-of-range lnums to
// dirty.
func (d *UbiDevice) VolumeResize(volID uint32, newLebCount uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	vol, ok := d.volumes.Get(volID)
	if !ok {
		return ubierrs.ErrVolNotFound
	}
	if vol.Config.Type != wire.VolTypeDynamic {
		return ubierrs.ErrStaticResize
	}
	if newLebCount == vol.Config.LebCount || newLebCount == 0 {
		return ubierrs.ErrNoopResize
	}

	if newLebCount > vol.Config.LebCount {
		grow := newLebCount - vol.Config.LebCount
		if int(grow) > d.totalPEBs-reservedPEBs-d.totalAllocatedLebs() {
			return ubierrs.ErrNoSpace
		}
	} else {
		for lnum := newLebCount; lnum < vol.Config.LebCount; lnum++ {
			pOld, has := vol.EBA[lnum]
			if !has {
				continue
			}
			hdr, err := d.readECHeader(pOld)
			ec := uint32(0)
			if err == nil {
				ec = hdr.EC
			}
			delete(vol.EBA, lnum)
			d.dirty.Insert(ec, pOld)
		}
	}

	oldLebCount := vol.Config.LebCount
	vol.Config.LebCount = newLebCount
	if err := d.commitLocked(); err != nil {
		vol.Config.LebCount = oldLebCount
		return err
	}
	return nil
}

// VolumeRemove is volume_remove (spec.md §4.H): retires every mapped LEB to
// dirty, then deletes the volume header and shifts the table down.
func (d *UbiDevice) VolumeRemove(volID uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	vol, ok := d.volumes.Get(volID)
	if !ok {
		return ubierrs.ErrVolNotFound
	}

	for lnum, pnum := range vol.EBA {
		hdr, err := d.readECHeader(pnum)
		ec := uint32(0)
		if err == nil {
			ec = hdr.EC
		}
		d.dirty.Insert(ec, pnum)
		delete(vol.EBA, lnum)
	}

	d.volumes.Remove(volID)
	if err := d.commitLocked(); err != nil {
		return err
	}
	return nil
}

// VolumeInfo is volume_get_info (spec.md §4.H).
type VolumeInfo struct {
	Config        volume.Config
	AllocatedLebs int
	DebugUID      uuid.UUID
}

func (d *UbiDevice) VolumeGetInfo(volID uint32) (VolumeInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	vol, ok := d.volumes.Get(volID)
	if !ok {
		return VolumeInfo{}, ubierrs.ErrVolNotFound
	}
	return VolumeInfo{Config: vol.Config, AllocatedLebs: vol.AllocatedLebs(), DebugUID: vol.DebugUID}, nil
}
