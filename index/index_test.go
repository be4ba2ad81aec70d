package index

import "testing"

func TestUniqueIndexRejectsDuplicate(t *testing.T) {
	idx := New(true)
	if err := idx.Insert(42, 1000); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := idx.Insert(42, 1001); err != ErrUniqueKeyViolation {
		t.Fatalf("expected ErrUniqueKeyViolation, got %v", err)
	}
}

func TestRangedIndexLocate(t *testing.T) {
	idx := New(false)
	idx.Insert(5, 1000)
	idx.Insert(5, 1001)
	idx.Insert(10, 1002)
	got := idx.Locate(5)
	if len(got) != 2 || got[0] != 1000 || got[1] != 1001 {
		t.Fatalf("Locate(5) = %v", got)
	}
}

func TestLocateRangeOrdering(t *testing.T) {
	idx := New(false)
	for i, v := range []int64{30, 10, 20, 40} {
		idx.Insert(v, int64(1000+i))
	}
	got := idx.LocateRange(15, 35)
	if len(got) != 2 || got[0] != 1002 || got[1] != 1000 {
		t.Fatalf("LocateRange = %v, want [1002 1000] (values 20 then 30)", got)
	}
}

func TestRemoveErasesBucketWhenEmpty(t *testing.T) {
	idx := New(false)
	idx.Insert(7, 1)
	idx.Remove(7, 1, false)
	if got := idx.Locate(7); len(got) != 0 {
		t.Fatalf("expected empty after remove, got %v", got)
	}
}

func TestManagerKeyIndexUndroppable(t *testing.T) {
	m := NewManager(0)
	if err := m.Drop(0); err == nil {
		t.Fatal("expected error dropping primary key index")
	}
	m.Create(2, false)
	if err := m.Drop(2); err != nil {
		t.Fatalf("unexpected error dropping non-key index: %v", err)
	}
}
