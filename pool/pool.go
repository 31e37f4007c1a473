// Package pool implements the free/dirty PEB pools of spec.md §4.D: ordered
// multimaps keyed by erase-count, smallest-EC-first extraction, ties broken
// by ascending pnum (the "natural choice" spec.md §4.D and §9 invite).
//
// The retrieval pack's own ordered-container code (the teacher's lists
// package) only merges already-sorted index arrays; nothing in the pack
// offers a general ordered multimap, so this is built on the standard
// library's container/heap the way the teacher reaches for stdlib when no
// pack library fits (see DESIGN.md).
package pool

import (
	"container/heap"
	"math/bits"
)

type entry struct {
	ec   uint32
	pnum uint32
}

type entryHeap []entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].ec != h[j].ec {
		return h[i].ec < h[j].ec
	}
	return h[i].pnum < h[j].pnum
}
func (h entryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x any)        { *h = append(*h, x.(entry)) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// Pool is a min-heap of (ec, pnum) pairs, used for both free_pebs and
// dirty_pebs (spec.md §3.3).
type Pool struct {
	h entryHeap
}

func New() *Pool {
	p := &Pool{}
	heap.Init(&p.h)
	return p
}

func (p *Pool) Insert(ec, pnum uint32) {
	heap.Push(&p.h, entry{ec: ec, pnum: pnum})
}

// PopMin extracts the PEB with the smallest erase count (ties broken by
// ascending pnum). ok is false if the pool is empty.
func (p *Pool) PopMin() (ec, pnum uint32, ok bool) {
	if len(p.h) == 0 {
		return 0, 0, false
	}
	e := heap.Pop(&p.h).(entry)
	return e.ec, e.pnum, true
}

func (p *Pool) Len() int { return len(p.h) }

// ECHistogram buckets this pool's erase counts by bit length (log2 buckets),
// a cheap wear-spread sanity check: a pool with entries spread across many
// buckets is drifting away from the even wear spec.md §4.D's smallest-EC-
// first allocation is meant to maintain.
func (p *Pool) ECHistogram() map[int]int {
	out := make(map[int]int)
	for _, e := range p.h {
		out[bits.Len32(e.ec)]++
	}
	return out
}

// Snapshot returns a copy of every (ec, pnum) pair currently in the pool,
// in no particular order -- used by device_get_peb_ec, never on the hot
// write path.
func (p *Pool) Snapshot() []struct{ EC, Pnum uint32 } {
	out := make([]struct{ EC, Pnum uint32 }, len(p.h))
	for i, e := range p.h {
		out[i] = struct{ EC, Pnum uint32 }{e.ec, e.pnum}
	}
	return out
}

// BadSet is the set of quarantined PEBs with their last-known erase count
// (spec.md §3.3, §4.I, §7). It is never persisted across reboots (spec.md
// §9 -- a documented reference limitation this module carries forward).
type BadSet struct {
	m map[uint32]uint32
}

func NewBadSet() *BadSet {
	return &BadSet{m: make(map[uint32]uint32)}
}

func (b *BadSet) Add(pnum, lastEC uint32) {
	b.m[pnum] = lastEC
}

func (b *BadSet) Len() int { return len(b.m) }

func (b *BadSet) Contains(pnum uint32) bool {
	_, ok := b.m[pnum]
	return ok
}

func (b *BadSet) Snapshot() map[uint32]uint32 {
	out := make(map[uint32]uint32, len(b.m))
	for k, v := range b.m {
		out[k] = v
	}
	return out
}
