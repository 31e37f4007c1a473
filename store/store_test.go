package store

import (
	"testing"

	"github.com/dot5enko/ubi-core/mtd"
	"github.com/dot5enko/ubi-core/wire"
)

func newMem() mtd.MTD {
	return mtd.NewMem(mtd.Info{PartitionSize: 4 * 8192, EraseBlockSize: 8192, WriteBlockSize: 16})
}

func TestFreshPartitionIsBanksInvalid(t *testing.T) {
	s := New(newMem())
	state, b0, b1 := s.DualBankState()
	if state != BanksInvalid || b0 != nil || b1 != nil {
		t.Fatalf("expected BanksInvalid on blank flash, got %v", state)
	}
}

func TestWriteBothThenReadIsBanksValid(t *testing.T) {
	s := New(newMem())
	md := Metadata{Device: wire.DeviceHeader{Version: wire.RecordVersion, Revision: 1}}
	if err := s.WriteBoth(md); err != nil {
		t.Fatalf("write: %v", err)
	}

	state, b0, b1 := s.DualBankState()
	if state != BanksValid {
		t.Fatalf("expected BanksValid, got %v", state)
	}
	if b0.Device.Revision != 1 || b1.Device.Revision != 1 {
		t.Fatalf("unexpected bank contents: %+v %+v", b0, b1)
	}
}

func TestRecoverFromSingleValidBank(t *testing.T) {
	m := newMem()
	s := New(m)
	md := Metadata{Device: wire.DeviceHeader{Version: wire.RecordVersion, Revision: 3}}
	if err := s.WriteBoth(md); err != nil {
		t.Fatalf("write: %v", err)
	}

	// Corrupt bank 1 only, simulating a crash after bank0's commit step.
	if err := m.Erase(s.bankOffset(Bank1Pnum), s.ebs); err != nil {
		t.Fatalf("corrupt bank1: %v", err)
	}

	state, b0, b1 := s.DualBankState()
	if state != Bank1Valid || b0 == nil || b1 != nil {
		t.Fatalf("expected Bank1Valid with only bank0 parsed, got %v b0=%v b1=%v", state, b0, b1)
	}

	adopted, fresh, err := s.Recover(state, b0, b1)
	if err != nil || fresh || adopted.Device.Revision != 3 {
		t.Fatalf("recover: adopted=%+v fresh=%v err=%v", adopted, fresh, err)
	}

	state2, _, _ := s.DualBankState()
	if state2 != BanksValid {
		t.Fatalf("expected recovery to restore BanksValid, got %v", state2)
	}
}

func TestRecoverAdoptsNewerRevision(t *testing.T) {
	m := newMem()
	s := New(m)

	older := Metadata{Device: wire.DeviceHeader{Version: wire.RecordVersion, Revision: 1}}
	newer := Metadata{Device: wire.DeviceHeader{Version: wire.RecordVersion, Revision: 2}}

	if err := s.writeSingleBank(Bank0Pnum, older); err != nil {
		t.Fatalf("write bank0: %v", err)
	}
	if err := s.writeSingleBank(Bank1Pnum, newer); err != nil {
		t.Fatalf("write bank1: %v", err)
	}

	state, b0, b1 := s.DualBankState()
	if b0 == nil || b1 == nil {
		t.Fatalf("expected both banks to parse, got %v", state)
	}

	adopted, fresh, err := s.Recover(state, b0, b1)
	if err != nil || fresh || adopted.Device.Revision != 2 {
		t.Fatalf("expected recovery to adopt revision 2, got %+v fresh=%v err=%v", adopted, fresh, err)
	}
}
