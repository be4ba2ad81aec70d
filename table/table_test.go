package table

import (
	"testing"

	"github.com/wrenlabs/lstore/bufferpool"
	"github.com/wrenlabs/lstore/config"
	"github.com/wrenlabs/lstore/storage"
)

func newTestTable(t *testing.T, numColumns, key int) *Table {
	t.Helper()
	cfg := config.Default()
	cfg.MergeInterval = 0 // disable background merge unless a test opts in
	store := storage.Open(t.TempDir(), true)
	bp := bufferpool.New(cfg, store, nil)
	return New("people", numColumns, key, cfg, bp, nil)
}

func TestAddBaseRecordAndReadBack(t *testing.T) {
	tbl := newTestTable(t, 3, 0)
	rid, err := tbl.AddBaseRecord([]int64{1, 10, 100}, 111)
	if err != nil {
		t.Fatal(err)
	}

	rec, err := tbl.GetLatestRecord(rid, nil)
	if err != nil {
		t.Fatal(err)
	}
	if rec.DataColumn(0) != 1 || rec.DataColumn(1) != 10 || rec.DataColumn(2) != 100 {
		t.Fatalf("unexpected columns: %v", rec.RawColumns)
	}
}

func TestAddBaseRecordWrongColumnCountFails(t *testing.T) {
	tbl := newTestTable(t, 3, 0)
	if _, err := tbl.AddBaseRecord([]int64{1, 2}, 0); err == nil {
		t.Fatal("expected an error for a short column list")
	}
}

func TestAddTailRecordUpdatesLatestValue(t *testing.T) {
	tbl := newTestTable(t, 3, 0)
	rid, err := tbl.AddBaseRecord([]int64{1, 10, 100}, 0)
	if err != nil {
		t.Fatal(err)
	}

	v := int64(999)
	if _, err := tbl.AddTailRecord(rid, []*int64{nil, &v, nil}, 1, nil); err != nil {
		t.Fatal(err)
	}

	rec, err := tbl.GetLatestRecord(rid, nil)
	if err != nil {
		t.Fatal(err)
	}
	if rec.DataColumn(1) != 999 {
		t.Fatalf("expected column 1 updated to 999, got %d", rec.DataColumn(1))
	}
	if rec.DataColumn(0) != 1 || rec.DataColumn(2) != 100 {
		t.Fatal("untouched columns should retain their original values")
	}
}

func TestGetRecordVersionWalksBack(t *testing.T) {
	tbl := newTestTable(t, 1, 0)
	rid, err := tbl.AddBaseRecord([]int64{0}, 0)
	if err != nil {
		t.Fatal(err)
	}
	for i := int64(1); i <= 3; i++ {
		v := i
		if _, err := tbl.AddTailRecord(rid, []*int64{&v}, i, nil); err != nil {
			t.Fatal(err)
		}
	}

	latest, err := tbl.GetRecordVersion(rid, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if latest.DataColumn(0) != 3 {
		t.Fatalf("expected latest value 3, got %d", latest.DataColumn(0))
	}

	oneBack, err := tbl.GetRecordVersion(rid, -1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if oneBack.DataColumn(0) != 2 {
		t.Fatalf("expected one-update-back value 2, got %d", oneBack.DataColumn(0))
	}
}

func TestDeleteRecordTombstones(t *testing.T) {
	tbl := newTestTable(t, 1, 0)
	rid, err := tbl.AddBaseRecord([]int64{42}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tbl.DeleteRecord(rid, 1, nil); err != nil {
		t.Fatal(err)
	}

	rec, err := tbl.GetLatestRecord(rid, nil)
	if err != nil {
		t.Fatal(err)
	}
	if rec != nil {
		t.Fatal("expected a deleted record to read back as nil")
	}
	if rids := tbl.Index().KeyIndex().Locate(42); len(rids) != 0 {
		t.Fatal("deleted record's key should be removed from the primary index")
	}
}

func TestAddTailRecordOnDeletedRowFails(t *testing.T) {
	tbl := newTestTable(t, 1, 0)
	rid, err := tbl.AddBaseRecord([]int64{1}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tbl.DeleteRecord(rid, 1, nil); err != nil {
		t.Fatal(err)
	}
	v := int64(5)
	if _, err := tbl.AddTailRecord(rid, []*int64{&v}, 2, nil); err == nil {
		t.Fatal("expected update of a deleted record to fail")
	}
}

func TestMergeFoldsTailIntoFreshBasePage(t *testing.T) {
	tbl := newTestTable(t, 1, 0)
	rid, err := tbl.AddBaseRecord([]int64{1}, 0)
	if err != nil {
		t.Fatal(err)
	}
	v := int64(7)
	tid, err := tbl.AddTailRecord(rid, []*int64{&v}, 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	tbl.PageDirectory().NotifyResolve([]int64{rid, tid})

	queue := tbl.dir.ClearMergeQueue()
	if len(queue) != 1 {
		t.Fatalf("expected exactly one queued tail page, got %d", len(queue))
	}
	if err := tbl.mergeTailPage(queue[0]); err != nil {
		t.Fatal(err)
	}

	rec, err := tbl.GetLatestRecord(rid, nil)
	if err != nil {
		t.Fatal(err)
	}
	if rec.DataColumn(0) != 7 {
		t.Fatalf("expected merged value 7, got %d", rec.DataColumn(0))
	}
}
