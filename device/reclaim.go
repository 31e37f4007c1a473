package device

import "fmt"

// EraseOnePeb is device_erase_peb (spec.md §4.I): reclaims at most one
// dirty PEB per call, quarantining it on any failure along the way.
func (d *UbiDevice) EraseOnePeb() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	ec, pnum, ok := d.dirty.PopMin()
	if !ok {
		return nil
	}

	if hdr, err := d.readECHeader(pnum); err == nil {
		ec = hdr.EC
	}

	if err := d.mtd.Erase(d.pebOffset(pnum), d.ebs); err != nil {
		d.bad.Add(pnum, ec)
		return fmt.Errorf("device: reclaim: erase peb %d: %w", pnum, err)
	}

	newEC := ec + 1
	if err := d.writeECHeader(pnum, newEC); err != nil {
		d.bad.Add(pnum, ec)
		return fmt.Errorf("device: reclaim: rewrite ec header peb %d: %w", pnum, err)
	}

	d.free.Insert(newEC, pnum)
	return nil
}
