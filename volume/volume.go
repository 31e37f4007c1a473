// Package volume implements the volume registry and per-volume EBA tables
// of spec.md §3.3, §4.E: a map from vol_id to volume descriptor, each
// descriptor owning an lnum -> pnum association table.
package volume

import (
	"github.com/google/uuid"

	"github.com/dot5enko/ubi-core/wire"
)

// Config is the caller-supplied shape of a volume (spec.md §4.H).
type Config struct {
	Name     string
	Type     wire.VolType
	LebCount uint32
}

// Volume is the in-RAM descriptor of spec.md §3.3: a dense vol_idx
// position in the persisted header table, a stable vol_id, its config,
// and its EBA table.
type Volume struct {
	VolIdx int
	VolID  uint32
	Config Config
	EBA    map[uint32]uint32 // lnum -> pnum

	// DebugUID is an operational label only, handed out for log lines and
	// CLI output -- vol_id stays the real on-flash key (spec.md §3.3), this
	// never touches a persisted record.
	DebugUID uuid.UUID
}

func newVolume(volIdx int, volID uint32, cfg Config) *Volume {
	return &Volume{
		VolIdx:   volIdx,
		VolID:    volID,
		Config:   cfg,
		EBA:      make(map[uint32]uint32),
		DebugUID: uuid.New(),
	}
}

// AllocatedLebs is the number of currently-mapped LEBs in this volume
// (spec.md §4.H get_info).
func (v *Volume) AllocatedLebs() int { return len(v.EBA) }

// Registry owns the vol_id -> Volume map and the next-issued vol_id
// counter (spec.md §3.3 vols_seqnr, invariant I5).
type Registry struct {
	volumes   map[uint32]*Volume
	volsSeqnr uint32
}

func NewRegistry() *Registry {
	return &Registry{volumes: make(map[uint32]*Volume)}
}

func (r *Registry) Get(volID uint32) (*Volume, bool) {
	v, ok := r.volumes[volID]
	return v, ok
}

// ByName finds a volume by its persisted name, used by volume_create's
// idempotent-on-duplicate-name rule (spec.md §4.H, B3).
func (r *Registry) ByName(name string) (*Volume, bool) {
	for _, v := range r.volumes {
		if v.Config.Name == name {
			return v, true
		}
	}
	return nil, false
}

func (r *Registry) Len() int { return len(r.volumes) }

// NextVolID returns and consumes the next vol_id (invariant I5).
func (r *Registry) NextVolID() uint32 {
	id := r.volsSeqnr
	r.volsSeqnr++
	return id
}

// SetVolsSeqnr is used by mount (spec.md §4.F.2 step 2) to restore the
// counter from persisted vol_ids: vols_seqnr = max(persisted vol_ids) + 1.
func (r *Registry) SetVolsSeqnr(n uint32) {
	if n > r.volsSeqnr {
		r.volsSeqnr = n
	}
}

func (r *Registry) VolsSeqnr() uint32 { return r.volsSeqnr }

// Add registers a brand-new volume at the next dense vol_idx (append to
// the header table), returning it.
func (r *Registry) Add(volID uint32, cfg Config) *Volume {
	v := newVolume(len(r.volumes), volID, cfg)
	r.volumes[volID] = v
	return v
}

// AddAt registers a volume at an explicit vol_idx, used when reconstructing
// the registry from a mounted device header table (spec.md §4.F.2 step 1).
func (r *Registry) AddAt(volIdx int, volID uint32, cfg Config) *Volume {
	v := newVolume(volIdx, volID, cfg)
	r.volumes[volID] = v
	return v
}

// Remove deletes vol_id's volume and shifts every volume with a higher
// vol_idx down by one, closing the hole in the dense header table (spec.md
// §4.H volume_remove).
func (r *Registry) Remove(volID uint32) {
	removed, ok := r.volumes[volID]
	if !ok {
		return
	}
	delete(r.volumes, volID)
	for _, v := range r.volumes {
		if v.VolIdx > removed.VolIdx {
			v.VolIdx--
		}
	}
}

// All returns every volume ordered by vol_idx, matching the persisted
// header table order -- used to build a commit buffer (spec.md §4.H) and
// by device_get_info.
func (r *Registry) All() []*Volume {
	out := make([]*Volume, len(r.volumes))
	for _, v := range r.volumes {
		out[v.VolIdx] = v
	}
	return out
}
