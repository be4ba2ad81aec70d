package lstoredb

import (
	"testing"

	"github.com/wrenlabs/lstore/config"
	"github.com/wrenlabs/lstore/query"
)

func TestCreateTableAndReopen(t *testing.T) {
	dir := t.TempDir()

	db, err := Open(dir, config.Default())
	if err != nil {
		t.Fatal(err)
	}
	tbl, err := db.CreateTable("people", 3, 0)
	if err != nil {
		t.Fatal(err)
	}
	q := query.New(tbl, db.WAL(), db.Tracker())
	if !q.Insert([]int64{1, 20, 300}) {
		t.Fatal("insert should succeed")
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(dir, config.Default())
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	tbl2 := reopened.Table("people")
	if tbl2 == nil {
		t.Fatal("table metadata should survive a reopen")
	}
	q2 := query.New(tbl2, reopened.WAL(), reopened.Tracker())
	rows, ok := q2.Select(1, 0, []int{1, 1, 1})
	if !ok || len(rows) != 1 {
		t.Fatalf("expected the inserted row to survive a clean close/reopen, got %v (ok=%v)", rows, ok)
	}
	if rows[0][0] != 1 || rows[0][1] != 20 || rows[0][2] != 300 {
		t.Fatalf("unexpected row contents after reopen: %v", rows[0])
	}
}

func TestSecondOpenOfSameDirectoryFails(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, config.Default())
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if _, err := Open(dir, config.Default()); err == nil {
		t.Fatal("expected a second concurrent Open of the same directory to fail")
	}
}

func TestCreateTableRejectsOutOfRangeKey(t *testing.T) {
	db, err := Open(t.TempDir(), config.Default())
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if _, err := db.CreateTable("t", 2, 5); err == nil {
		t.Fatal("expected an error for a key index outside the column range")
	}
}

func TestDropTableRemovesRegistration(t *testing.T) {
	db, err := Open(t.TempDir(), config.Default())
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if _, err := db.CreateTable("t", 1, 0); err != nil {
		t.Fatal(err)
	}
	if err := db.DropTable("t"); err != nil {
		t.Fatal(err)
	}
	if db.Table("t") != nil {
		t.Fatal("dropped table should no longer be registered")
	}
}
