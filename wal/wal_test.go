package wal

import (
	"path/filepath"
	"testing"
)

func openTestWAL(t *testing.T) *WAL {
	t.Helper()
	w, err := Open(filepath.Join(t.TempDir(), "wal"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { w.Close() })
	return w
}

func ptr(v int64) *int64 { return &v }

func TestLogAndRecoverRoundTrips(t *testing.T) {
	w := openTestWAL(t)

	xacts := []RedoTransaction{
		{StartTime: 1, Queries: []RedoQuery{
			{Type: Insert, Table: "people", Insert: []int64{1, 2, 3}},
		}},
		{StartTime: 2, Queries: []RedoQuery{
			{Type: Update, Table: "people", Key: 1, Update: []*int64{nil, ptr(20), nil}},
			{Type: Increment, Table: "people", Key: 1, IncColumn: 2},
			{Type: Delete, Table: "people", Key: 1},
		}},
	}
	for _, x := range xacts {
		if err := w.Log(x); err != nil {
			t.Fatal(err)
		}
	}

	recovered, err := w.Recover()
	if err != nil {
		t.Fatal(err)
	}
	if len(recovered) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(recovered))
	}
	if recovered[0].StartTime != 1 || len(recovered[0].Queries) != 1 {
		t.Fatalf("unexpected first transaction: %+v", recovered[0])
	}
	if recovered[1].StartTime != 2 || len(recovered[1].Queries) != 3 {
		t.Fatalf("unexpected second transaction: %+v", recovered[1])
	}

	update := recovered[1].Queries[0]
	if update.Update[0] != nil || update.Update[1] == nil || *update.Update[1] != 20 || update.Update[2] != nil {
		t.Fatalf("update column mask not preserved: %+v", update.Update)
	}
}

func TestCheckpointTruncatesLog(t *testing.T) {
	w := openTestWAL(t)
	if err := w.Log(RedoTransaction{StartTime: 1, Queries: []RedoQuery{
		{Type: Insert, Table: "t", Insert: []int64{1}},
	}}); err != nil {
		t.Fatal(err)
	}
	if err := w.Checkpoint(); err != nil {
		t.Fatal(err)
	}
	recovered, err := w.Recover()
	if err != nil {
		t.Fatal(err)
	}
	if len(recovered) != 0 {
		t.Fatalf("expected an empty log after checkpoint, got %d transactions", len(recovered))
	}
}

func TestRecoverOnEmptyLog(t *testing.T) {
	w := openTestWAL(t)
	recovered, err := w.Recover()
	if err != nil {
		t.Fatal(err)
	}
	if len(recovered) != 0 {
		t.Fatalf("expected no transactions, got %d", len(recovered))
	}
}
