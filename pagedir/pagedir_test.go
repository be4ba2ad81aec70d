package pagedir

import (
	"testing"

	"github.com/wrenlabs/lstore/config"
	"github.com/wrenlabs/lstore/page"
)

func newDir(numDataCols int) *PageDirectory {
	cfg := config.Default()
	return New("t", numDataCols+config.NumMetaCols, cfg)
}

func TestAllocBaseRIDAscends(t *testing.T) {
	d := newDir(3)
	r1, locs1, err := d.AllocBaseRID()
	if err != nil {
		t.Fatal(err)
	}
	r2, _, err := d.AllocBaseRID()
	if err != nil {
		t.Fatal(err)
	}
	if r1 != config.BaseRIDBegin || r2 != config.BaseRIDBegin+1 {
		t.Fatalf("expected ascending base rids starting at %d, got %d, %d", config.BaseRIDBegin, r1, r2)
	}
	if len(locs1) != 3+config.NumMetaCols {
		t.Fatalf("expected %d raw column locations, got %d", 3+config.NumMetaCols, len(locs1))
	}
	if !d.IsBaseRec(r1) {
		t.Fatal("freshly allocated rid should be a base record")
	}
}

func TestAllocTailRIDDescendsAndSkipsColumns(t *testing.T) {
	d := newDir(2)
	base, _, _ := d.AllocBaseRID()

	bm := page.NewBitmap(2)
	bm[0] = true // only column 0 has a new value
	tid, locs, _, err := d.AllocTailRID(base, bm, 0)
	if err != nil {
		t.Fatal(err)
	}
	if tid != config.TailRIDBegin {
		t.Fatalf("expected first tail rid to be %d, got %d", config.TailRIDBegin, tid)
	}
	if locs[config.NumMetaCols] == (page.Location{}) {
		t.Fatal("column touched by the schema bitmap should have a non-zero location")
	}
	if locs[config.NumMetaCols+1] != (page.Location{}) {
		t.Fatal("column skipped by the schema bitmap should have a zero location")
	}
}

func TestAllocTailRIDUnknownBaseFails(t *testing.T) {
	d := newDir(1)
	if _, _, _, err := d.AllocTailRID(999999, page.NewBitmap(1), 0); err == nil {
		t.Fatal("expected an error for an unknown base rid")
	}
}

func TestNotifyMergeReplacesDataOffsetsOnly(t *testing.T) {
	d := newDir(1)
	base, origLocs, _ := d.AllocBaseRID()

	newLoc := page.LocationFromID(page.ID{Table: "t", RawColumn: config.NumMetaCols, IsBase: true, PageIndex: 7}, 3)
	if err := d.NotifyMerge(base, []page.Location{newLoc}, 42); err != nil {
		t.Fatal(err)
	}

	locs, ok := d.Locations(base)
	if !ok {
		t.Fatal("expected locations for base rid")
	}
	if locs[config.NumMetaCols] != newLoc {
		t.Fatal("data column offset should have been replaced")
	}
	if locs[config.IndirectionColumn] != origLocs[config.IndirectionColumn] {
		t.Fatal("metadata column offsets should be untouched by a merge")
	}
	tps, ok := d.TPS(base)
	if !ok || tps != 42 {
		t.Fatalf("expected tps 42, got %d (ok=%v)", tps, ok)
	}
}

func TestNotifyResolveQueuesMergeWhenBothPagesFullyResolved(t *testing.T) {
	d := newDir(1)
	base, _, _ := d.AllocBaseRID()
	tid, _, _, err := d.AllocTailRID(base, page.NewBitmap(1), 0)
	if err != nil {
		t.Fatal(err)
	}

	d.NotifyResolve([]int64{base})
	if len(d.ClearMergeQueue()) != 0 {
		t.Fatal("merge queue should stay empty until the tail side resolves too")
	}

	d.NotifyResolve([]int64{tid})
	q := d.ClearMergeQueue()
	if len(q) != 1 {
		t.Fatalf("expected exactly one queued tail page, got %d", len(q))
	}
	if len(d.ClearMergeQueue()) != 0 {
		t.Fatal("ClearMergeQueue should drain the queue")
	}
}

func TestBaseRIDsListsOnlyBaseRecords(t *testing.T) {
	d := newDir(1)
	b1, _, _ := d.AllocBaseRID()
	b2, _, _ := d.AllocBaseRID()
	if _, _, _, err := d.AllocTailRID(b1, page.NewBitmap(1), 0); err != nil {
		t.Fatal(err)
	}

	rids := d.BaseRIDs()
	if len(rids) != 2 {
		t.Fatalf("expected 2 base rids, got %d", len(rids))
	}
	seen := map[int64]bool{}
	for _, r := range rids {
		seen[r] = true
	}
	if !seen[b1] || !seen[b2] {
		t.Fatal("BaseRIDs should list every allocated base rid")
	}
}
