// Package pagedir implements the page directory: the per-table
// authoritative map from record identifier to physical page offsets, the
// RID allocators, conceptual-page capacity tracking, the resolved-record
// counters that feed the merge queue, and the TPS watermark.
package pagedir

import (
	"fmt"
	"sort"
	"sync"

	"github.com/wrenlabs/lstore/config"
	"github.com/wrenlabs/lstore/page"
	"github.com/wrenlabs/lstore/rwlock"
)

// PageDirectory tracks one table's record-to-offset mapping and page
// allocation bookkeeping. All structural mutation holds the write side of a
// write-preferring RW lock, so structural writers are never starved by a
// steady stream of readers.
type PageDirectory struct {
	table      string
	numRawCols int // NumMetaCols + K
	maxRecs    int // conceptual page capacity, both base and tail

	lock rwlock.RWLock

	unusedBaseRID int64
	unusedTailRID int64
	unusedBPIdx   int
	unusedTPIdx   int

	rangeLastBP    map[int]int          // range id -> open base page index
	conBPLastConTP map[int]int          // base page idx -> attached tail page idx (-1 = none)
	conTPOwner     map[int]int          // tail page idx -> owning base page idx
	conBPNumRecs   map[int]int
	conTPNumRecs   map[int]int
	numRecords     map[page.ID]int
	conBPResolved  map[int]int
	conTPResolved  map[int]int

	offsets map[int64][]page.Location // rid -> one location per raw column (nil entry if column skipped)
	tps     map[int64]int64           // base rid -> tail-RID watermark

	mergeQueue []page.ID

	// recCount guards numRecords reads/writes issued through the
	// page.RecordCounter interface separately from the structural lock,
	// since pages call back into the directory while the bufferpool (not
	// the directory) holds the frame lock.
	recCount sync.Mutex
}

// New creates an empty PageDirectory for a table with numRawCols physical
// columns (metadata + data), sized for cfg's page geometry.
func New(table string, numRawCols int, cfg config.Config) *PageDirectory {
	return &PageDirectory{
		table:          table,
		numRawCols:     numRawCols,
		maxRecs:        cfg.ConceptualPageMaxRecs(numRawCols - config.NumMetaCols),
		lock:           rwlock.NewWritePreferring(-1),
		unusedBaseRID:  config.BaseRIDBegin,
		unusedTailRID:  config.TailRIDBegin,
		rangeLastBP:    make(map[int]int),
		conBPLastConTP: make(map[int]int),
		conTPOwner:     make(map[int]int),
		conBPNumRecs:   make(map[int]int),
		conTPNumRecs:   make(map[int]int),
		numRecords:     make(map[page.ID]int),
		conBPResolved:  make(map[int]int),
		conTPResolved:  make(map[int]int),
		offsets:        make(map[int64][]page.Location),
		tps:            make(map[int64]int64),
	}
}

func (d *PageDirectory) rangeOf(baseRID int64) int {
	return int((baseRID - config.BaseRIDBegin) / int64(d.maxRecs))
}

// AllocBaseRID allocates a new ascending base RID and one physical location
// per raw column, opening a new conceptual base page in the RID's range if
// the current one is full.
func (d *PageDirectory) AllocBaseRID() (int64, []page.Location, error) {
	d.lock.AcquireWrite()
	defer d.lock.ReleaseWrite()

	rid := d.unusedBaseRID
	d.unusedBaseRID++
	rng := d.rangeOf(rid)

	bpIdx, ok := d.rangeLastBP[rng]
	if !ok || d.conBPNumRecs[bpIdx] >= d.maxRecs {
		bpIdx = d.unusedBPIdx
		d.unusedBPIdx++
		d.rangeLastBP[rng] = bpIdx
		d.conBPLastConTP[bpIdx] = -1
	}

	offsets := make([]page.Location, d.numRawCols)
	for col := 0; col < d.numRawCols; col++ {
		id := page.ID{Table: d.table, RawColumn: col, IsBase: true, PageIndex: bpIdx}
		offset := d.conBPNumRecs[bpIdx]
		offsets[col] = page.LocationFromID(id, offset)
		d.numRecords[id] = offset + 1
	}
	d.conBPNumRecs[bpIdx]++
	d.offsets[rid] = offsets
	d.tps[rid] = config.TailRIDBegin // nothing folded in yet: the walker treats a TPS of TailRIDBegin as "no merge" and walks every tail RID
	return rid, offsets, nil
}

// AllocTailRID allocates a new descending tail RID attached to baseRID,
// consuming physical space only in the columns whose bit is set in
// schemaEncoding (skipped columns get a zero Location).
// Triggers a merge notification (via the returned bool) every
// MERGE_INTERVAL tail allocations.
func (d *PageDirectory) AllocTailRID(baseRID int64, schemaEncoding page.Bitmap, mergeInterval int) (int64, []page.Location, bool, error) {
	d.lock.AcquireWrite()
	defer d.lock.ReleaseWrite()

	if _, ok := d.offsets[baseRID]; !ok {
		return 0, nil, false, fmt.Errorf("pagedir: unknown base rid %d", baseRID)
	}

	tid := d.unusedTailRID
	d.unusedTailRID--
	shouldMerge := mergeInterval > 0 && int(config.TailRIDBegin-tid)%mergeInterval == mergeInterval-1

	baseOffsets := d.offsets[baseRID]
	baseBPIdx := baseOffsets[config.IndirectionColumn].PageIndex

	tpIdx, ok := d.conBPLastConTP[baseBPIdx]
	if !ok || tpIdx < 0 || d.conTPNumRecs[tpIdx] >= d.maxRecs {
		tpIdx = d.unusedTPIdx
		d.unusedTPIdx++
		d.conBPLastConTP[baseBPIdx] = tpIdx
		d.conTPOwner[tpIdx] = baseBPIdx
	}

	offsets := make([]page.Location, d.numRawCols)
	numDataCols := d.numRawCols - config.NumMetaCols
	recOffset := d.conTPNumRecs[tpIdx]
	for col := 0; col < config.NumMetaCols; col++ {
		id := page.ID{Table: d.table, RawColumn: col, IsBase: false, PageIndex: tpIdx}
		offsets[col] = page.LocationFromID(id, recOffset)
		d.numRecords[id] = recOffset + 1
	}
	for i := 0; i < numDataCols; i++ {
		col := config.NumMetaCols + i
		if !schemaEncoding.Get(i) {
			continue // no new value for this column; readers fall back to base/prior tail
		}
		id := page.ID{Table: d.table, RawColumn: col, IsBase: false, PageIndex: tpIdx}
		offsets[col] = page.LocationFromID(id, recOffset)
		d.numRecords[id] = recOffset + 1
	}
	d.conTPNumRecs[tpIdx]++
	d.offsets[tid] = offsets
	return tid, offsets, shouldMerge, nil
}

// AllocMergeLocations allocates a fresh conceptual base page of data
// columns only, pre-sized to the conceptual page capacity, for a merge
// worker to write the rebuilt values into.
func (d *PageDirectory) AllocMergeLocations() []page.Location {
	d.lock.AcquireWrite()
	defer d.lock.ReleaseWrite()

	bpIdx := d.unusedBPIdx
	d.unusedBPIdx++
	numDataCols := d.numRawCols - config.NumMetaCols
	offsets := make([]page.Location, numDataCols)
	for i := 0; i < numDataCols; i++ {
		col := config.NumMetaCols + i
		id := page.ID{Table: d.table, RawColumn: col, IsBase: true, PageIndex: bpIdx}
		offsets[i] = page.LocationFromID(id, 0)
	}
	d.conBPNumRecs[bpIdx] = d.maxRecs
	return offsets
}

// NotifyMerge atomically replaces baseRID's data-column offsets with
// newOffsets (one per data column) and advances its TPS watermark. Metadata
// column offsets (indirection, RID, timestamp, schema, base RID) are left
// untouched.
func (d *PageDirectory) NotifyMerge(baseRID int64, newOffsets []page.Location, newTPS int64) error {
	d.lock.AcquireWrite()
	defer d.lock.ReleaseWrite()

	cur, ok := d.offsets[baseRID]
	if !ok {
		return fmt.Errorf("pagedir: unknown base rid %d", baseRID)
	}
	for i, loc := range newOffsets {
		cur[config.NumMetaCols+i] = loc
	}
	d.tps[baseRID] = newTPS
	return nil
}

// NotifyResolve marks each rid's writing transaction outcome as known,
// incrementing the relevant conceptual page's resolved-record counter. When
// both a tail page and the base page it updates have every record
// resolved, the tail page becomes eligible for merging and is queued.
func (d *PageDirectory) NotifyResolve(rids []int64) {
	d.lock.AcquireWrite()
	defer d.lock.ReleaseWrite()

	for _, rid := range rids {
		locs, ok := d.offsets[rid]
		if !ok {
			continue
		}
		pid := locs[config.IndirectionColumn].ID()
		if pid.IsBase {
			d.conBPResolved[pid.PageIndex]++
			continue
		}
		d.conTPResolved[pid.PageIndex]++
		tpIdx := pid.PageIndex
		bpIdx := d.conTPOwner[tpIdx]
		if d.conTPResolved[tpIdx] >= d.conTPNumRecs[tpIdx] && d.conBPResolved[bpIdx] >= d.conBPNumRecs[bpIdx] {
			d.mergeQueue = append(d.mergeQueue, page.ID{Table: d.table, RawColumn: config.BaseRIDColumn, IsBase: false, PageIndex: tpIdx})
		}
	}
}

// ClearMergeQueue atomically drains and returns the merge queue.
func (d *PageDirectory) ClearMergeQueue() []page.ID {
	d.lock.AcquireWrite()
	defer d.lock.ReleaseWrite()
	q := d.mergeQueue
	d.mergeQueue = nil
	return q
}

// IsBaseRec reports whether rid lives in the base image.
func (d *PageDirectory) IsBaseRec(rid int64) bool {
	d.lock.AcquireRead()
	defer d.lock.ReleaseRead()
	locs, ok := d.offsets[rid]
	if !ok {
		return false
	}
	return locs[config.IndirectionColumn].IsBase
}

// Locations returns rid's physical locations, one per raw column (a zero
// Location for columns skipped by that tail record, if any).
func (d *PageDirectory) Locations(rid int64) ([]page.Location, bool) {
	d.lock.AcquireRead()
	defer d.lock.ReleaseRead()
	locs, ok := d.offsets[rid]
	return locs, ok
}

// TPS returns baseRID's tail-RID watermark: after a merge, tail RIDs at or
// above this value (i.e. allocated at or before it, given the descending
// tail counter) have already been folded into the base image. A TPS of
// TailRIDBegin, the value every base RID starts with, means no merge yet.
func (d *PageDirectory) TPS(baseRID int64) (int64, bool) {
	d.lock.AcquireRead()
	defer d.lock.ReleaseRead()
	v, ok := d.tps[baseRID]
	return v, ok
}

// BaseRIDs returns every allocated base RID, ascending, for a full-table
// scan (e.g. building an index over an existing table).
func (d *PageDirectory) BaseRIDs() []int64 {
	d.lock.AcquireRead()
	defer d.lock.ReleaseRead()
	var out []int64
	for rid, locs := range d.offsets {
		if locs[config.IndirectionColumn].IsBase {
			out = append(out, rid)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// --- page.RecordCounter ---

// NumRecords implements page.RecordCounter.
func (d *PageDirectory) NumRecords(id page.ID) int {
	d.recCount.Lock()
	defer d.recCount.Unlock()
	return d.numRecords[id]
}

// SetNumRecords implements page.RecordCounter.
func (d *PageDirectory) SetNumRecords(id page.ID, n int) {
	d.recCount.Lock()
	defer d.recCount.Unlock()
	d.numRecords[id] = n
}

// HasCapacity implements page.RecordCounter: true iff the conceptual page
// owning id still has room for another record.
func (d *PageDirectory) HasCapacity(id page.ID) bool {
	d.lock.AcquireRead()
	defer d.lock.ReleaseRead()
	if id.IsBase {
		return d.conBPNumRecs[id.PageIndex] < d.maxRecs
	}
	return d.conTPNumRecs[id.PageIndex] < d.maxRecs
}

// MaxRecsPerPage returns the conceptual page capacity this directory was
// configured with.
func (d *PageDirectory) MaxRecsPerPage() int { return d.maxRecs }
