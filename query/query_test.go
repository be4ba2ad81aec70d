package query

import (
	"path/filepath"
	"testing"

	"github.com/wrenlabs/lstore/bufferpool"
	"github.com/wrenlabs/lstore/config"
	"github.com/wrenlabs/lstore/storage"
	"github.com/wrenlabs/lstore/table"
	"github.com/wrenlabs/lstore/wal"
	"github.com/wrenlabs/lstore/xact"
)

func newTestInterface(t *testing.T, numColumns, key int) (*Interface, *table.Table, *xact.Tracker) {
	t.Helper()
	cfg := config.Default()
	store := storage.Open(t.TempDir(), true)
	bp := bufferpool.New(cfg, store, nil)
	tbl := table.New("people", numColumns, key, cfg, bp, nil)
	w, err := wal.Open(filepath.Join(t.TempDir(), "wal"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { w.Close() })
	tracker := xact.NewTracker()
	return New(tbl, w, tracker), tbl, tracker
}

func ptr(v int64) *int64 { return &v }

func TestInsertSelect(t *testing.T) {
	q, _, _ := newTestInterface(t, 3, 0)
	if !q.Insert([]int64{1, 2, 3}) {
		t.Fatal("insert should succeed")
	}
	rows, ok := q.Select(1, 0, []int{1, 1, 1})
	if !ok || len(rows) != 1 || rows[0][1] != 2 {
		t.Fatalf("unexpected select result: %v (ok=%v)", rows, ok)
	}
}

func TestInsertNotifiesMergeQueueEligibility(t *testing.T) {
	q, tbl, _ := newTestInterface(t, 1, 0)
	q.Insert([]int64{1})
	// A lone insert never queues a merge (no tail yet to resolve), but the
	// base record's resolved counter must have been incremented, or a
	// later update on top of it would never become merge-eligible either.
	if got := tbl.PageDirectory().ClearMergeQueue(); len(got) != 0 {
		t.Fatal("a standalone insert should never queue a merge by itself")
	}
}

func TestUpdateChangesLatestValue(t *testing.T) {
	q, _, _ := newTestInterface(t, 2, 0)
	q.Insert([]int64{1, 100})
	if !q.Update(1, []*int64{nil, ptr(200)}) {
		t.Fatal("update should succeed")
	}
	rows, ok := q.Select(1, 0, []int{1, 1})
	if !ok || rows[0][1] != 200 {
		t.Fatalf("expected updated value 200, got %v", rows)
	}
}

func TestUpdateOfMissingKeyFails(t *testing.T) {
	q, _, _ := newTestInterface(t, 1, 0)
	if q.Update(999, []*int64{ptr(1)}) {
		t.Fatal("update of a nonexistent key should fail")
	}
}

func TestIncrement(t *testing.T) {
	q, _, _ := newTestInterface(t, 1, 0)
	q.Insert([]int64{1})
	// key column itself is column 0, so increment a distinct counter column.
	q2, _, _ := newTestInterface(t, 2, 0)
	q2.Insert([]int64{1, 5})
	if !q2.Increment(1, 1) {
		t.Fatal("increment should succeed")
	}
	rows, _ := q2.Select(1, 0, []int{1, 1})
	if rows[0][1] != 6 {
		t.Fatalf("expected incremented value 6, got %d", rows[0][1])
	}
}

func TestDeleteRemovesRow(t *testing.T) {
	q, _, _ := newTestInterface(t, 1, 0)
	q.Insert([]int64{1})
	if !q.Delete(1) {
		t.Fatal("delete should succeed")
	}
	if _, ok := q.Select(1, 0, []int{1}); ok {
		t.Fatal("deleted row should no longer be selectable")
	}
}

func TestSumOverKeyRange(t *testing.T) {
	q, _, _ := newTestInterface(t, 2, 0)
	for i := int64(1); i <= 5; i++ {
		q.Insert([]int64{i, i * 10})
	}
	total, ok := q.Sum(2, 4, 0, 1)
	if !ok || total != 20+30+40 {
		t.Fatalf("expected sum 90, got %d (ok=%v)", total, ok)
	}
}

func TestCreateIndexBacksPointLookup(t *testing.T) {
	q, tbl, tracker := newTestInterface(t, 2, 0)
	for i := int64(1); i <= 3; i++ {
		q.Insert([]int64{i, 42})
	}
	if err := CreateIndex(tbl, 1, false, tracker); err != nil {
		t.Fatal(err)
	}
	if tbl.Index().Get(1) == nil {
		t.Fatal("expected a secondary index to be registered on column 1")
	}
	rows, ok := q.Select(42, 1, []int{1, 0})
	if !ok || len(rows) != 3 {
		t.Fatalf("expected 3 rows via the new secondary index, got %v (ok=%v)", rows, ok)
	}
}
