package bufferpool

import (
	"testing"

	"github.com/wrenlabs/lstore/config"
	"github.com/wrenlabs/lstore/page"
	"github.com/wrenlabs/lstore/storage"
)

func newTestPool(t *testing.T, maxFrames int) *Bufferpool {
	t.Helper()
	cfg := config.Default()
	cfg.BufferpoolMaxFrames = maxFrames
	store := storage.Open(t.TempDir(), true)
	return New(cfg, store, nil)
}

func testID(idx int) page.ID {
	return page.ID{Table: "t", RawColumn: 5, IsBase: true, PageIndex: idx}
}

func TestPinLoadsAndCachesFrame(t *testing.T) {
	bp := newTestPool(t, 4)
	f, err := bp.Pin(testID(0))
	if err != nil {
		t.Fatal(err)
	}
	if f.ID != testID(0) {
		t.Fatalf("unexpected frame id %+v", f.ID)
	}
	bp.Unpin(testID(0))

	f2, err := bp.Pin(testID(0))
	if err != nil {
		t.Fatal(err)
	}
	if f2 != f {
		t.Fatal("second pin of the same id should return the same resident frame")
	}
	bp.Unpin(testID(0))
}

func TestMarkDirtyPersistsOnCheckpoint(t *testing.T) {
	bp := newTestPool(t, 4)
	f, err := bp.Pin(testID(1))
	if err != nil {
		t.Fatal(err)
	}
	f.Data[0] = 0x42
	bp.MarkDirty(testID(1))
	bp.Unpin(testID(1))

	if err := bp.Checkpoint(); err != nil {
		t.Fatal(err)
	}

	pages, err := bp.store.ReadPages(testID(1), 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(pages) != 1 || pages[0][0] != 0x42 {
		t.Fatal("checkpoint should have flushed the dirty frame to the store")
	}
}

func TestEvictPageRefusesPinned(t *testing.T) {
	bp := newTestPool(t, 4)
	if _, err := bp.Pin(testID(2)); err != nil {
		t.Fatal(err)
	}
	if err := bp.EvictPage(testID(2)); err == nil {
		t.Fatal("expected eviction of a pinned page to fail")
	}
	bp.Unpin(testID(2))
	if err := bp.EvictPage(testID(2)); err != nil {
		t.Fatalf("eviction after unpin should succeed: %v", err)
	}
}

func TestEvictionUnderCapacityPressure(t *testing.T) {
	bp := newTestPool(t, 2)
	for i := 0; i < 2; i++ {
		f, err := bp.Pin(testID(i))
		if err != nil {
			t.Fatal(err)
		}
		bp.Unpin(f.ID)
	}
	if bp.HasCapacity() {
		t.Fatal("pool should be at capacity")
	}
	// A third distinct page should evict the LRU one (id 0) rather than error.
	if _, err := bp.Pin(testID(2)); err != nil {
		t.Fatal(err)
	}
	bp.Unpin(testID(2))
	if _, ok := bp.elems[testID(0)]; ok {
		t.Fatal("expected the least-recently-used frame to have been evicted")
	}
}

func TestCloseEvictsEverything(t *testing.T) {
	bp := newTestPool(t, 4)
	f, err := bp.Pin(testID(3))
	if err != nil {
		t.Fatal(err)
	}
	bp.Unpin(f.ID)
	if err := bp.Close(); err != nil {
		t.Fatal(err)
	}
	if len(bp.elems) != 0 {
		t.Fatal("Close should evict every resident frame")
	}
}
