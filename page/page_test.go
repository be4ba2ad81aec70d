package page

import (
	"testing"

	"github.com/wrenlabs/lstore/config"
)

type fakeCounter struct {
	n   map[ID]int
	cap int
}

func newFakeCounter(cap int) *fakeCounter {
	return &fakeCounter{n: make(map[ID]int), cap: cap}
}

func (f *fakeCounter) NumRecords(id ID) int       { return f.n[id] }
func (f *fakeCounter) SetNumRecords(id ID, n int) { f.n[id] = n }
func (f *fakeCounter) HasCapacity(id ID) bool      { return f.n[id] < f.cap }

func TestDataPageReadWrite(t *testing.T) {
	id := ID{Table: "t", RawColumn: 0, IsBase: true, PageIndex: 0}
	counter := newFakeCounter(config.PageSize / config.DataSize)
	buf := make(Backing, config.PageSize)
	p := NewDataPage(id, buf, counter)

	off := p.Add(-42)
	if off != 0 {
		t.Fatalf("expected offset 0, got %d", off)
	}
	if got := p.Read(0); got != -42 {
		t.Fatalf("expected -42, got %d", got)
	}
}

func TestDataPageFullReturnsNegativeOne(t *testing.T) {
	id := ID{Table: "t", RawColumn: 0, IsBase: true, PageIndex: 0}
	counter := newFakeCounter(1)
	buf := make(Backing, config.PageSize)
	p := NewDataPage(id, buf, counter)

	if off := p.Add(1); off != 0 {
		t.Fatalf("expected first add at offset 0, got %d", off)
	}
	if off := p.Add(2); off != -1 {
		t.Fatalf("expected second add to fail, got offset %d", off)
	}
}

func TestSchemaEncodingPageRoundTrip(t *testing.T) {
	numCols := 5
	id := ID{Table: "t", RawColumn: 3, IsBase: true, PageIndex: 0}
	colSize := config.SchemaEncodingColSize(numCols)
	counter := newFakeCounter(config.PageSize / colSize)
	buf := make(Backing, config.PageSize)
	p := NewSchemaEncodingPage(id, numCols, buf, counter)

	bm := NewBitmap(numCols)
	bm[1] = true
	bm[4] = true
	off := p.Add(bm)
	if off != 0 {
		t.Fatalf("expected offset 0, got %d", off)
	}
	got := p.Read(0)
	for i := 0; i < numCols; i++ {
		want := i == 1 || i == 4
		if got.Get(i) != want {
			t.Fatalf("bit %d: got %v want %v", i, got.Get(i), want)
		}
	}
}

func TestColumnsOfAndRange(t *testing.T) {
	id := ID{Table: "t", RawColumn: 0, IsBase: false, PageIndex: 7}
	cols := ColumnsOf(id, 3)
	if len(cols) != 3 || cols[2].RawColumn != 2 || cols[2].PageIndex != 7 {
		t.Fatalf("unexpected ColumnsOf result: %+v", cols)
	}
	rng := Range(id, 3)
	if len(rng) != 3 || rng[2].PageIndex != 9 {
		t.Fatalf("unexpected Range result: %+v", rng)
	}
}
