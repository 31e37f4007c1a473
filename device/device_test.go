package device

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/dot5enko/ubi-core/mtd"
	"github.com/dot5enko/ubi-core/ubierrs"
	"github.com/dot5enko/ubi-core/volume"
	"github.com/dot5enko/ubi-core/wire"
)

// faultMTD wraps an mtd.MTD and lets a test arm a single injected write
// failure, for exercising the crash windows spec.md §4.G and §7 describe
// without actually killing the process.
type faultMTD struct {
	mtd.MTD
	armed bool
}

func (f *faultMTD) armFailNextWrite() { f.armed = true }

func (f *faultMTD) Write(offset int64, buf []byte) error {
	if f.armed {
		f.armed = false
		return fmt.Errorf("fault: injected write failure at offset %d", offset)
	}
	return f.MTD.Write(offset, buf)
}

func testInfo() mtd.Info {
	return mtd.Info{PartitionSize: 16 * 8192, EraseBlockSize: 8192, WriteBlockSize: 16}
}

func mustInit(t *testing.T, m mtd.MTD) *UbiDevice {
	t.Helper()
	d, err := Init(m, Config{})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	return d
}

// S1. Format and info.
func TestFormatAndInfo(t *testing.T) {
	m := mtd.NewMem(testInfo())
	d := mustInit(t, m)

	info := d.GetInfo()
	if info.LebTotalCount != 14 || info.LebSize != 8144 {
		t.Fatalf("unexpected geometry: %+v", info)
	}
	if info.Free != 14 || info.Dirty != 0 || info.Bad != 0 || info.Allocated != 0 || info.Volumes != 0 {
		t.Fatalf("unexpected fresh pool state: %+v", info)
	}

	for pnum, ec := range d.GetPebEC() {
		if ec != 0 {
			t.Fatalf("peb %d expected ec 0, got %d", pnum, ec)
		}
	}
}

// S2. Create two volumes.
func TestCreateTwoVolumes(t *testing.T) {
	m := mtd.NewMem(testInfo())
	d := mustInit(t, m)

	id1, err := d.VolumeCreate(volume.Config{Name: "/ubi_0", Type: wire.VolTypeStatic, LebCount: 7})
	if err != nil || id1 != 0 {
		t.Fatalf("create v1: id=%d err=%v", id1, err)
	}
	id2, err := d.VolumeCreate(volume.Config{Name: "/ubi_1", Type: wire.VolTypeStatic, LebCount: 7})
	if err != nil || id2 != 1 {
		t.Fatalf("create v2: id=%d err=%v", id2, err)
	}

	info := d.GetInfo()
	if info.Allocated != 14 || info.Volumes != 2 || info.Free != 14 || info.Dirty != 0 {
		t.Fatalf("unexpected info after create: %+v", info)
	}
}

// S3 (trimmed). Write-cycle, reclaim, mount, re-verify.
func TestWriteReclaimRemount(t *testing.T) {
	m := mtd.NewMem(testInfo())
	d := mustInit(t, m)

	v1, _ := d.VolumeCreate(volume.Config{Name: "/ubi_0", Type: wire.VolTypeStatic, LebCount: 7})
	v2, _ := d.VolumeCreate(volume.Config{Name: "/ubi_1", Type: wire.VolTypeStatic, LebCount: 7})

	sizes := []int{1, 2, 4, 8, 16, 32, 64, 128, 256, 512, 1024, 2048, 4096, 8000}
	payloads := make([][]byte, len(sizes))
	for i, n := range sizes {
		buf := make([]byte, n)
		for j := range buf {
			buf[j] = byte((i*31 + j) % 256)
		}
		payloads[i] = buf
	}

	for i := 0; i < 7; i++ {
		if err := d.LebWrite(v1, uint32(i), payloads[i]); err != nil {
			t.Fatalf("write v1/%d: %v", i, err)
		}
	}
	for i := 7; i < 14; i++ {
		if err := d.LebWrite(v2, uint32(i-7), payloads[i]); err != nil {
			t.Fatalf("write v2/%d: %v", i-7, err)
		}
	}

	info := d.GetInfo()
	if info.Free != 0 || info.Dirty != 0 {
		t.Fatalf("expected all 14 pebs allocated, got %+v", info)
	}

	for i := 0; i < 7; i++ {
		out := make([]byte, len(payloads[i]))
		if err := d.LebRead(v1, uint32(i), 0, out); err != nil {
			t.Fatalf("read v1/%d: %v", i, err)
		}
		if !bytes.Equal(out, payloads[i]) {
			t.Fatalf("readback mismatch v1/%d", i)
		}
		if sz, err := d.LebGetSize(v1, uint32(i)); err != nil || sz != len(payloads[i]) {
			t.Fatalf("leb_get_size v1/%d: %d, %v", i, sz, err)
		}
	}

	for i := 0; i < 7; i++ {
		d.LebUnmap(v1, uint32(i))
	}
	for i := 0; i < 7; i++ {
		d.LebUnmap(v2, uint32(i))
	}

	info = d.GetInfo()
	if info.Free != 0 || info.Dirty != 14 {
		t.Fatalf("expected all unmapped to dirty, got %+v", info)
	}

	for i := 0; i < 14; i++ {
		if err := d.EraseOnePeb(); err != nil {
			t.Fatalf("reclaim %d: %v", i, err)
		}
	}
	info = d.GetInfo()
	if info.Free != 14 || info.Dirty != 0 {
		t.Fatalf("expected all reclaimed, got %+v", info)
	}
	for _, ec := range d.GetPebEC() {
		if ec != 1 {
			t.Fatalf("expected ec 1 after one reclaim cycle, got %d", ec)
		}
	}

	if err := d.Deinit(); err != nil {
		t.Fatalf("deinit: %v", err)
	}
	d2 := mustInit(t, m)
	info2 := d2.GetInfo()
	if info2.Free != 14 || info2.Dirty != 0 || info2.Volumes != 2 {
		t.Fatalf("remount mismatch: %+v", info2)
	}
}

// S4. Overwrite retires.
func TestOverwriteRetires(t *testing.T) {
	m := mtd.NewMem(testInfo())
	d := mustInit(t, m)

	v1, _ := d.VolumeCreate(volume.Config{Name: "/ubi_0", Type: wire.VolTypeStatic, LebCount: 1})

	payload := bytes.Repeat([]byte{0x42}, 256)
	for k := 1; k <= 14; k++ {
		if err := d.LebWrite(v1, 0, payload); err != nil {
			t.Fatalf("write %d: %v", k, err)
		}
		info := d.GetInfo()
		if info.Free != 14-k || info.Dirty != k-1 {
			t.Fatalf("after write %d: expected free=%d dirty=%d, got %+v", k, 14-k, k-1, info)
		}
		out := make([]byte, len(payload))
		if err := d.LebRead(v1, 0, 0, out); err != nil || !bytes.Equal(out, payload) {
			t.Fatalf("readback after write %d failed", k)
		}
	}
}

// S5. Resize dynamic volume.
func TestResizeDynamicVolume(t *testing.T) {
	m := mtd.NewMem(testInfo())
	d := mustInit(t, m)

	v, err := d.VolumeCreate(volume.Config{Name: "/dyn", Type: wire.VolTypeDynamic, LebCount: 2})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := d.LebWrite(v, 0, bytes.Repeat([]byte{1}, 256)); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := d.VolumeResize(v, 4); err != nil {
		t.Fatalf("resize up: %v", err)
	}
	info, err := d.VolumeGetInfo(v)
	if err != nil || info.AllocatedLebs != 1 || info.Config.LebCount != 4 {
		t.Fatalf("unexpected info after grow: %+v, %v", info, err)
	}

	if err := d.LebMap(v, 2); err != nil {
		t.Fatalf("map lnum 2: %v", err)
	}
	if err := d.LebMap(v, 3); err != nil {
		t.Fatalf("map lnum 3: %v", err)
	}

	if err := d.VolumeResize(v, 2); err != nil {
		t.Fatalf("resize down: %v", err)
	}
	info, err = d.VolumeGetInfo(v)
	if err != nil || info.AllocatedLebs != 1 || info.Config.LebCount != 2 {
		t.Fatalf("unexpected info after shrink: %+v, %v", info, err)
	}
}

// B3. volume_create duplicate name is idempotent.
func TestVolumeCreateDuplicateName(t *testing.T) {
	m := mtd.NewMem(testInfo())
	d := mustInit(t, m)

	id1, err := d.VolumeCreate(volume.Config{Name: "/dup", Type: wire.VolTypeStatic, LebCount: 2})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id2, err := d.VolumeCreate(volume.Config{Name: "/dup", Type: wire.VolTypeStatic, LebCount: 2})
	if err != nil || id2 != id1 {
		t.Fatalf("expected idempotent create, got id=%d err=%v", id2, err)
	}
	if d.GetInfo().Volumes != 1 {
		t.Fatalf("expected exactly one volume")
	}
}

// B4. volume_resize of a static volume is rejected.
func TestVolumeResizeStaticRejected(t *testing.T) {
	m := mtd.NewMem(testInfo())
	d := mustInit(t, m)

	v, _ := d.VolumeCreate(volume.Config{Name: "/static", Type: wire.VolTypeStatic, LebCount: 2})
	err := d.VolumeResize(v, 4)
	if ubierrs.CodeOf(err) != ubierrs.ECANCELED {
		t.Fatalf("expected ECANCELED, got %v", err)
	}
}

// B4b. volume_resize to leb_count=0 is rejected, same as a same-size no-op.
func TestVolumeResizeToZeroRejected(t *testing.T) {
	m := mtd.NewMem(testInfo())
	d := mustInit(t, m)

	v, _ := d.VolumeCreate(volume.Config{Name: "/dyn", Type: wire.VolTypeDynamic, LebCount: 2})
	err := d.VolumeResize(v, 0)
	if ubierrs.CodeOf(err) != ubierrs.ECANCELED {
		t.Fatalf("expected ECANCELED, got %v", err)
	}
	info, err := d.VolumeGetInfo(v)
	if err != nil {
		t.Fatalf("volume_get_info: %v", err)
	}
	if info.Config.LebCount != 2 {
		t.Fatalf("expected leb_count to stay at 2, got %d", info.Config.LebCount)
	}
}

// B2. leb_write with lnum >= leb_count returns EACCES.
func TestLebWriteOutOfRange(t *testing.T) {
	m := mtd.NewMem(testInfo())
	d := mustInit(t, m)

	v, _ := d.VolumeCreate(volume.Config{Name: "/v", Type: wire.VolTypeStatic, LebCount: 2})
	err := d.LebWrite(v, 2, []byte("x"))
	if ubierrs.CodeOf(err) != ubierrs.EACCES {
		t.Fatalf("expected EACCES, got %v", err)
	}
}

// B1. leb_write at exactly the LEB payload capacity succeeds; one byte over
// fails with ENOSPC.
func TestLebWriteCapacityBoundary(t *testing.T) {
	m := mtd.NewMem(testInfo())
	d := mustInit(t, m)

	v, _ := d.VolumeCreate(volume.Config{Name: "/v", Type: wire.VolTypeDynamic, LebCount: 1})

	ok := make([]byte, d.lebDataSize)
	if err := d.LebWrite(v, 0, ok); err != nil {
		t.Fatalf("expected capacity write to succeed: %v", err)
	}

	tooBig := make([]byte, d.lebDataSize+1)
	err := d.LebWrite(v, 0, tooBig)
	if ubierrs.CodeOf(err) != ubierrs.ENOSPC {
		t.Fatalf("expected ENOSPC, got %v", err)
	}
}

// P7. Unmap visibility.
func TestUnmapVisibility(t *testing.T) {
	m := mtd.NewMem(testInfo())
	d := mustInit(t, m)

	v, _ := d.VolumeCreate(volume.Config{Name: "/v", Type: wire.VolTypeDynamic, LebCount: 1})
	if err := d.LebWrite(v, 0, []byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := d.LebUnmap(v, 0); err != nil {
		t.Fatalf("unmap: %v", err)
	}
	mapped, err := d.LebIsMapped(v, 0)
	if err != nil || mapped {
		t.Fatalf("expected not mapped, got mapped=%v err=%v", mapped, err)
	}
	err = d.LebRead(v, 0, 0, make([]byte, 1))
	if ubierrs.CodeOf(err) != ubierrs.ENOENT {
		t.Fatalf("expected ENOENT on read after unmap, got %v", err)
	}
}

// S7. Mount with duplicate LEB claim.
func TestMountDuplicateLebClaim(t *testing.T) {
	m := mtd.NewMem(testInfo())
	d := mustInit(t, m)

	v, _ := d.VolumeCreate(volume.Config{Name: "/v", Type: wire.VolTypeDynamic, LebCount: 1})
	if err := d.LebWrite(v, 0, []byte("first")); err != nil {
		t.Fatalf("write 1: %v", err)
	}
	if err := d.LebWrite(v, 0, []byte("second-write")); err != nil {
		t.Fatalf("write 2: %v", err)
	}

	// Both PEBs are still intact on flash (the first was only retired to
	// dirty in RAM, never erased); remount must discover the higher-sqnum
	// claim and park the other as dirty.
	d.Deinit()
	d2 := mustInit(t, m)
	out := make([]byte, len("second-write"))
	if err := d2.LebRead(v, 0, 0, out); err != nil || string(out) != "second-write" {
		t.Fatalf("expected remount to keep newest claim, got %q err=%v", out, err)
	}
	info := d2.GetInfo()
	if info.Dirty != 1 {
		t.Fatalf("expected the superseded peb to be dirty, got %+v", info)
	}
}

// S6. Crash between leb_write's retire-old-in-RAM step and its new-VID-write
// step: the old PEB was never erased, so a remount must still surface it.
func TestCrashDuringLebWriteSurfacesOldCopy(t *testing.T) {
	mem := mtd.NewMem(testInfo())
	fm := &faultMTD{MTD: mem}
	d := mustInit(t, fm)

	v, err := d.VolumeCreate(volume.Config{Name: "/v", Type: wire.VolTypeDynamic, LebCount: 1})
	if err != nil {
		t.Fatalf("create volume: %v", err)
	}
	if err := d.LebWrite(v, 0, []byte("first")); err != nil {
		t.Fatalf("first write: %v", err)
	}

	fm.armFailNextWrite()
	if err := d.LebWrite(v, 0, []byte("second")); err == nil {
		t.Fatalf("expected injected write failure on the new PEB's vid header")
	}

	// The device instance that saw the failed write is discarded here,
	// standing in for the crash; a fresh mount against the same backing
	// store is the only thing that gets to observe durable state.
	d2, err := Init(fm, Config{})
	if err != nil {
		t.Fatalf("remount: %v", err)
	}
	mapped, err := d2.LebIsMapped(v, 0)
	if err != nil || !mapped {
		t.Fatalf("expected lnum 0 still mapped after the crash, mapped=%v err=%v", mapped, err)
	}
	size, err := d2.LebGetSize(v, 0)
	if err != nil {
		t.Fatalf("get size: %v", err)
	}
	out := make([]byte, size)
	if err := d2.LebRead(v, 0, 0, out); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(out) != "first" {
		t.Fatalf("expected the surviving copy %q, got %q", "first", out)
	}
}

// P10. Repeated write/unmap/reclaim cycles over a single LEB drive every
// data PEB's erase count to converge, never drifting more than one erase
// apart, per the smallest-EC-first allocation and reclaim order of
// spec.md §4.D.
func TestECConvergenceOverFullCycle(t *testing.T) {
	m := mtd.NewMem(testInfo())
	d := mustInit(t, m)

	v, err := d.VolumeCreate(volume.Config{Name: "/v", Type: wire.VolTypeDynamic, LebCount: 1})
	if err != nil {
		t.Fatalf("create volume: %v", err)
	}

	total := d.GetInfo().LebTotalCount
	for i := 0; i < total*3; i++ {
		if err := d.LebWrite(v, 0, []byte("x")); err != nil {
			t.Fatalf("cycle %d: write: %v", i, err)
		}
		if err := d.LebUnmap(v, 0); err != nil {
			t.Fatalf("cycle %d: unmap: %v", i, err)
		}
		if err := d.EraseOnePeb(); err != nil {
			t.Fatalf("cycle %d: reclaim: %v", i, err)
		}
	}

	ecs := d.GetPebEC()
	if len(ecs) != total {
		t.Fatalf("expected %d tracked PEBs, got %d", total, len(ecs))
	}
	minEC, maxEC := ^uint32(0), uint32(0)
	for _, ec := range ecs {
		if ec < minEC {
			minEC = ec
		}
		if ec > maxEC {
			maxEC = ec
		}
	}
	if maxEC-minEC > 1 {
		t.Fatalf("expected wear to converge within one erase, got min=%d max=%d (%v)", minEC, maxEC, ecs)
	}
}
