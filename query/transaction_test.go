package query

import "testing"

func TestTransactionInsertThenUpdateSeesOwnWrite(t *testing.T) {
	q, _, tracker := newTestInterface(t, 2, 0)

	tx := NewTransaction()
	tx.Insert(q, []int64{1, 100})
	tx.Update(q, 1, []*int64{nil, ptr(200)})

	if !tx.Commit(tracker, q.w) {
		t.Fatal("transaction should commit")
	}

	rows, ok := q.Select(1, 0, []int{1, 1})
	if !ok || rows[0][1] != 200 {
		t.Fatalf("expected the update queued after the insert to have applied, got %v (ok=%v)", rows, ok)
	}
}

func TestTransactionAbortsWholeBatchOnFailure(t *testing.T) {
	q, _, tracker := newTestInterface(t, 1, 0)
	q.Insert([]int64{1})

	tx := NewTransaction()
	tx.Update(q, 1, []*int64{ptr(2)})
	tx.Update(q, 999, []*int64{ptr(3)}) // no such key: should fail and abort the batch

	if tx.Commit(tracker, q.w) {
		t.Fatal("transaction with a failing query should not commit")
	}

	rows, _ := q.Select(1, 0, []int{1})
	if rows[0][0] != 1 {
		t.Fatalf("first update should have been rolled back on abort, got %v", rows)
	}
}

func TestTransactionAcrossTwoTables(t *testing.T) {
	qA, tblA, tracker := newTestInterface(t, 1, 0)
	qB, _, _ := newTestInterface(t, 1, 0)
	qB.t.Name = "other" // distinct identity for the ridTable grouping

	tx := NewTransaction()
	tx.Insert(qA, []int64{1})
	tx.Insert(qB, []int64{2})

	if !tx.Commit(tracker, qA.w) {
		t.Fatal("cross-table transaction should commit")
	}
	if len(tblA.PageDirectory().BaseRIDs()) != 1 {
		t.Fatal("expected one base rid inserted into table A")
	}
}
