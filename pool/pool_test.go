package pool

import "testing"

func TestPoolSmallestECFirst(t *testing.T) {
	p := New()
	p.Insert(5, 10)
	p.Insert(2, 20)
	p.Insert(2, 5)
	p.Insert(9, 1)

	ec, pnum, ok := p.PopMin()
	if !ok || ec != 2 || pnum != 5 {
		t.Fatalf("expected (2,5) got (%d,%d,%v)", ec, pnum, ok)
	}

	ec, pnum, ok = p.PopMin()
	if !ok || ec != 2 || pnum != 20 {
		t.Fatalf("expected (2,20) got (%d,%d,%v)", ec, pnum, ok)
	}

	ec, pnum, ok = p.PopMin()
	if !ok || ec != 5 || pnum != 10 {
		t.Fatalf("expected (5,10) got (%d,%d,%v)", ec, pnum, ok)
	}
}

func TestPoolEmpty(t *testing.T) {
	p := New()
	if _, _, ok := p.PopMin(); ok {
		t.Fatalf("expected empty pool to report !ok")
	}
	if p.Len() != 0 {
		t.Fatalf("expected len 0")
	}
}

func TestBadSet(t *testing.T) {
	b := NewBadSet()
	b.Add(3, 7)
	if !b.Contains(3) {
		t.Fatalf("expected bad set to contain pnum 3")
	}
	if b.Len() != 1 {
		t.Fatalf("expected len 1, got %d", b.Len())
	}
}
