// Package bufferpool implements the LRU-evicting, pinning, dirty-tracking
// page cache that sits between the table/page-directory layer and the
// on-disk column files.
package bufferpool

import (
	"container/list"
	"fmt"
	"sync"
	"time"

	"github.com/wrenlabs/lstore/config"
	"github.com/wrenlabs/lstore/logging"
	"github.com/wrenlabs/lstore/metrics"
	"github.com/wrenlabs/lstore/page"
	"github.com/wrenlabs/lstore/rwlock"
	"github.com/wrenlabs/lstore/storage"
)

var log = logging.For("bufferpool")

// Frame holds one resident page plus its per-frame readers-writer lock.
// Frame contents must only be touched while holding Lock for read or write;
// a caller that modifies Data marks the frame via Bufferpool.MarkDirty
// (recorded by the Bufferpool, not the Frame itself, to keep the LRU index
// authoritative about what needs flushing).
type Frame struct {
	ID    page.ID
	Data  []byte
	Lock  rwlock.RWLock
	dirty bool
	pins  int
}

// Bufferpool is a fixed-capacity LRU cache of Frames keyed by page.ID.
type Bufferpool struct {
	cfg   config.Config
	store *storage.Store
	m     *metrics.Metrics

	mu    sync.Mutex
	cond  *sync.Cond
	order *list.List // front = most recently used
	elems map[page.ID]*list.Element
	closed bool
}

// New creates a Bufferpool over store, bounded to cfg.BufferpoolMaxFrames
// resident frames.
func New(cfg config.Config, store *storage.Store, m *metrics.Metrics) *Bufferpool {
	bp := &Bufferpool{cfg: cfg, store: store, m: m, order: list.New(), elems: make(map[page.ID]*list.Element)}
	bp.cond = sync.NewCond(&bp.mu)
	return bp
}

// HasCapacity reports whether another frame could be admitted without
// evicting.
func (bp *Bufferpool) HasCapacity() bool {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return len(bp.elems) < bp.cfg.BufferpoolMaxFrames
}

// Pin loads id into the pool (if absent, evicting the LRU frame first) and
// returns it pinned. Callers must Unpin exactly once per Pin.
func (bp *Bufferpool) Pin(id page.ID) (*Frame, error) {
	bp.mu.Lock()
	if el, ok := bp.elems[id]; ok {
		f := el.Value.(*Frame)
		f.pins++
		bp.order.MoveToFront(el)
		bp.mu.Unlock()
		if bp.m != nil {
			bp.m.BufferpoolHitsTotal.Inc()
		}
		return f, nil
	}
	bp.mu.Unlock()

	if bp.m != nil {
		bp.m.BufferpoolMissesTotal.Inc()
	}
	data, err := bp.load(id)
	if err != nil {
		return nil, err
	}

	bp.mu.Lock()
	defer bp.mu.Unlock()
	if el, ok := bp.elems[id]; ok {
		// Someone else loaded it while we were reading from disk.
		f := el.Value.(*Frame)
		f.pins++
		bp.order.MoveToFront(el)
		return f, nil
	}
	if len(bp.elems) >= bp.cfg.BufferpoolMaxFrames {
		if err := bp.evictLRULocked(); err != nil {
			return nil, err
		}
	}
	f := &Frame{ID: id, Data: data, Lock: rwlock.NewReadPreferring(bp.cfg.BufferpoolLockTimeout), pins: 1}
	el := bp.order.PushFront(f)
	bp.elems[id] = el
	if bp.m != nil {
		bp.m.BufferpoolFramesInUse.Set(float64(len(bp.elems)))
	}
	return f, nil
}

func (bp *Bufferpool) load(id page.ID) ([]byte, error) {
	pages, err := bp.store.ReadPages(id, 1)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return make([]byte, bp.cfg.PageSize), nil
	}
	buf := make([]byte, bp.cfg.PageSize)
	copy(buf, pages[0])
	return buf, nil
}

// Unpin releases one pin on id.
func (bp *Bufferpool) Unpin(id page.ID) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	el, ok := bp.elems[id]
	if !ok {
		return
	}
	f := el.Value.(*Frame)
	if f.pins > 0 {
		f.pins--
	}
	bp.cond.Broadcast()
}

// MarkDirty flags id's resident frame as needing writeback. The caller must
// hold the frame's write lock.
func (bp *Bufferpool) MarkDirty(id page.ID) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	if el, ok := bp.elems[id]; ok {
		el.Value.(*Frame).dirty = true
	}
}

// Fetch prefetches up to count pages starting at start without pinning
// them, clipping count to leave 10 of the currently free slots for
// concurrent pinners (never below 1) and skipping the read entirely if
// every requested page is already resident.
func (bp *Bufferpool) Fetch(start page.ID, count int) error {
	if count <= 0 {
		return nil
	}
	bp.mu.Lock()
	free := bp.cfg.BufferpoolMaxFrames - len(bp.elems)
	clipped := free - 10
	if clipped < 1 {
		clipped = 1
	}
	if count > clipped {
		count = clipped
	}
	ids := page.Range(start, count)
	allResident := true
	for _, id := range ids {
		if _, ok := bp.elems[id]; !ok {
			allResident = false
			break
		}
	}
	bp.mu.Unlock()
	if allResident {
		return nil
	}

	pages, err := bp.store.ReadPages(start, count)
	if err != nil {
		return err
	}
	bp.mu.Lock()
	defer bp.mu.Unlock()
	for i, data := range pages {
		id := ids[i]
		if _, ok := bp.elems[id]; ok {
			continue
		}
		if len(bp.elems) >= bp.cfg.BufferpoolMaxFrames {
			if err := bp.evictLRULocked(); err != nil {
				return err
			}
		}
		buf := make([]byte, bp.cfg.PageSize)
		copy(buf, data)
		f := &Frame{ID: id, Data: buf, Lock: rwlock.NewReadPreferring(bp.cfg.BufferpoolLockTimeout)}
		el := bp.order.PushBack(f) // prefetched pages start as LRU, not MRU
		bp.elems[id] = el
	}
	return nil
}

// EvictPage evicts id, refusing if it is pinned. Writes back first if
// dirty.
func (bp *Bufferpool) EvictPage(id page.ID) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	el, ok := bp.elems[id]
	if !ok {
		return nil
	}
	f := el.Value.(*Frame)
	if f.pins > 0 {
		return fmt.Errorf("bufferpool: cannot evict pinned page %+v", id)
	}
	return bp.evictElemLocked(el)
}

// evictLRULocked evicts the least-recently-used unpinned frame, waiting on
// bp.cond for pins to drop if the LRU candidate is currently pinned. bp.mu
// must be held.
func (bp *Bufferpool) evictLRULocked() error {
	deadline := time.Now().Add(bp.cfg.BufferpoolEvictTimeout)
	for {
		el := bp.lruUnpinnedLocked()
		if el != nil {
			return bp.evictElemLocked(el)
		}
		if bp.cfg.BufferpoolEvictTimeout <= 0 {
			return fmt.Errorf("bufferpool: no unpinned frame to evict and no timeout configured")
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			log.Error().Msg("bufferpool eviction timed out waiting for a pin to release")
			return fmt.Errorf("bufferpool: eviction timeout exceeded, likely a pin leak")
		}
		timer := time.AfterFunc(remaining, func() {
			bp.mu.Lock()
			bp.cond.Broadcast()
			bp.mu.Unlock()
		})
		bp.cond.Wait()
		timer.Stop()
	}
}

func (bp *Bufferpool) lruUnpinnedLocked() *list.Element {
	for el := bp.order.Back(); el != nil; el = el.Prev() {
		if el.Value.(*Frame).pins == 0 {
			return el
		}
	}
	return nil
}

func (bp *Bufferpool) evictElemLocked(el *list.Element) error {
	f := el.Value.(*Frame)
	if f.dirty {
		if err := bp.store.WritePage(f.ID, f.Data); err != nil {
			return err
		}
	}
	bp.order.Remove(el)
	delete(bp.elems, f.ID)
	if bp.m != nil {
		bp.m.BufferpoolEvictionsTotal.Inc()
		bp.m.BufferpoolFramesInUse.Set(float64(len(bp.elems)))
	}
	return nil
}

// Checkpoint flushes every dirty resident frame to disk without evicting
// it.
func (bp *Bufferpool) Checkpoint() error {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	for el := bp.order.Front(); el != nil; el = el.Next() {
		f := el.Value.(*Frame)
		if f.dirty {
			if err := bp.store.WritePage(f.ID, f.Data); err != nil {
				return err
			}
			f.dirty = false
		}
	}
	return nil
}

// Close evicts every resident frame (writing back dirty ones) and latches
// the pool permanently closed.
func (bp *Bufferpool) Close() error {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	for el := bp.order.Front(); el != nil; {
		next := el.Next()
		if err := bp.evictElemLocked(el); err != nil {
			return err
		}
		el = next
	}
	bp.closed = true
	return nil
}
