// Package table implements the base/tail record writers, the version
// walker, and the background merge that folds resolved tail deltas back
// into rebuilt base pages.
//
// Schema-encoding bitmaps are carried in the SCHEMA_ENCODING metadata
// column as a plain int64 bitmask rather than through page.SchemaEncodingPage:
// every table this engine supports has at most 64 data columns, so a
// single 8-byte DataPage slot already holds the bitmap, and keeping every
// metadata column on one physical page type simplifies the writer and
// merge paths considerably.
package table

import (
	"fmt"
	"sync"

	"github.com/wrenlabs/lstore/bufferpool"
	"github.com/wrenlabs/lstore/config"
	"github.com/wrenlabs/lstore/index"
	"github.com/wrenlabs/lstore/logging"
	"github.com/wrenlabs/lstore/metrics"
	"github.com/wrenlabs/lstore/page"
	"github.com/wrenlabs/lstore/pagedir"
	"github.com/wrenlabs/lstore/record"
	"github.com/wrenlabs/lstore/xact"
)

var log = logging.For("table")

// Table is one table's base/tail writers and merge orchestration. It adds a
// new row's key to the key index and removes a deleted row's key; key
// changes on update, secondary indexes and WAL logging are driven by the
// query layer.
type Table struct {
	Name       string
	NumColumns int
	Key        int
	NumRawCols int

	cfg config.Config
	bp  *bufferpool.Bufferpool
	dir *pagedir.PageDirectory
	idx *index.Manager
	m   *metrics.Metrics

	mergeMu      sync.Mutex
	allowMerge   bool
	mergeRunning bool
}

// New creates a Table backed by bp and a fresh page directory.
func New(name string, numColumns, key int, cfg config.Config, bp *bufferpool.Bufferpool, m *metrics.Metrics) *Table {
	numRawCols := numColumns + config.NumMetaCols
	return &Table{
		Name:       name,
		NumColumns: numColumns,
		Key:        key,
		NumRawCols: numRawCols,
		cfg:        cfg,
		bp:         bp,
		dir:        pagedir.New(name, numRawCols, cfg),
		idx:        index.NewManager(key),
		m:          m,
		allowMerge: true,
	}
}

// PageDirectory exposes the table's directory for lifecycle/persistence code.
func (t *Table) PageDirectory() *pagedir.PageDirectory { return t.dir }

// Index exposes the table's index manager to the query layer.
func (t *Table) Index() *index.Manager { return t.idx }

// Bufferpool exposes the table's bufferpool, for checkpoint/close drivers.
func (t *Table) Bufferpool() *bufferpool.Bufferpool { return t.bp }

func (t *Table) readColumn(loc page.Location) (int64, error) {
	id := loc.ID()
	f, err := t.bp.Pin(id)
	if err != nil {
		return 0, err
	}
	defer t.bp.Unpin(id)
	f.Lock.AcquireRead()
	defer f.Lock.ReleaseRead()
	return page.NewDataPage(id, f.Data, nil).Read(loc.Offset), nil
}

func (t *Table) writeColumn(loc page.Location, value int64) error {
	id := loc.ID()
	f, err := t.bp.Pin(id)
	if err != nil {
		return err
	}
	defer t.bp.Unpin(id)
	f.Lock.AcquireWrite()
	defer f.Lock.ReleaseWrite()
	page.NewDataPage(id, f.Data, nil).Write(value, loc.Offset)
	t.bp.MarkDirty(id)
	return nil
}

// AddBaseRecord inserts a brand-new row, returning its (base) RID.
func (t *Table) AddBaseRecord(cols []int64, timestamp int64) (int64, error) {
	if len(cols) != t.NumColumns {
		return 0, fmt.Errorf("table: expected %d columns, got %d", t.NumColumns, len(cols))
	}
	rid, offsets, err := t.dir.AllocBaseRID()
	if err != nil {
		return 0, err
	}
	meta := []int64{0, rid, timestamp, 0, rid}
	for i, v := range meta {
		if err := t.writeColumn(offsets[i], v); err != nil {
			return 0, err
		}
	}
	for i, v := range cols {
		if err := t.writeColumn(offsets[config.NumMetaCols+i], v); err != nil {
			return 0, err
		}
	}
	if err := t.idx.KeyIndex().Insert(cols[t.Key], rid); err != nil {
		return 0, err
	}
	return rid, nil
}

// getRecordAt reads the full row (metadata + data) at baseRID's current
// location, whatever that rid happens to be (base or tail).
func (t *Table) getRecordAt(rid int64) (*record.Record, error) {
	offsets, ok := t.dir.Locations(rid)
	if !ok {
		return nil, fmt.Errorf("table: unknown rid %d", rid)
	}
	rec := record.New(t.NumColumns)
	for i, loc := range offsets {
		v, err := t.readColumn(loc)
		if err != nil {
			return nil, err
		}
		rec.RawColumns[i] = v
	}
	rec.SchemaEncoding = uint64(rec.RawColumns[config.SchemaEncodingColumn])
	return rec, nil
}

// GetLatestRecord returns the latest committed version of baseRID.
func (t *Table) GetLatestRecord(baseRID int64, tracker *xact.Tracker) (*record.Record, error) {
	return t.GetRecordVersion(baseRID, 0, tracker)
}

// GetRecordVersion walks the indirection chain from baseRID to reconstruct
// the record as of `version` (<= 0; 0 = latest, -k = k updates back),
// skipping tails written by aborted transactions and stopping at the TPS
// boundary or a NULL indirection. Returns nil if the selected version is a
// deletion tombstone.
func (t *Table) GetRecordVersion(baseRID int64, version int, tracker *xact.Tracker) (*record.Record, error) {
	if version > 0 {
		return nil, fmt.Errorf("table: version must be <= 0, got %d", version)
	}
	base, err := t.getRecordAt(baseRID)
	if err != nil {
		return nil, err
	}
	tps, _ := t.dir.TPS(baseRID)
	// A TPS still at TailRIDBegin means no merge has run for this record, so
	// every tail RID, TailRIDBegin itself included, is walked.
	folded := func(rid int64) bool { return tps != config.TailRIDBegin && rid >= tps }

	indirection := base.Indirection()
	if indirection == 0 || indirection == baseRID || folded(indirection) {
		return base, nil
	}

	// Walk the tail chain, collecting every live (non-aborted) tail we pass
	// through, so `version` can select how far back to stop.
	var chain []*record.Record
	cur := indirection
	for cur != 0 && cur != baseRID && !folded(cur) {
		curRec, err := t.getRecordAt(cur)
		if err != nil {
			return nil, err
		}
		if tracker == nil || !tracker.IsAborted(curRec.Timestamp()) {
			chain = append(chain, curRec)
		}
		cur = curRec.Indirection()
	}
	if len(chain) == 0 {
		return base, nil
	}

	steps := -version
	if steps >= len(chain) {
		steps = len(chain) - 1
	}
	target := chain[steps]
	if target.SchemaEncoding == 0 {
		return nil, nil // deletion tombstone
	}

	out := record.New(t.NumColumns)
	copy(out.RawColumns[:config.NumMetaCols], target.RawColumns[:config.NumMetaCols])
	for i := 0; i < t.NumColumns; i++ {
		if base.SchemaBit(i) && target.SchemaBit(i) {
			out.SetDataColumn(i, target.DataColumn(i))
		} else {
			out.SetDataColumn(i, base.DataColumn(i))
		}
	}
	return out, nil
}

// AddTailRecord records an update to baseRID. newValues holds one entry per
// user column; nil means "leave unchanged". Returns the new tail RID.
func (t *Table) AddTailRecord(baseRID int64, newValues []*int64, timestamp int64, tracker *xact.Tracker) (int64, error) {
	latest, err := t.GetLatestRecord(baseRID, tracker)
	if err != nil {
		return 0, err
	}
	if latest == nil {
		return 0, fmt.Errorf("table: cannot update deleted record %d", baseRID)
	}

	base, err := t.getRecordAt(baseRID)
	if err != nil {
		return 0, err
	}

	// First update ever: snapshot the base's current values into an
	// original-copy tail record before the base's schema encoding is reset,
	// so the tail chain always retains pre-merge history.
	if base.Indirection() == 0 {
		copyValues := make([]int64, t.NumColumns)
		for i := 0; i < t.NumColumns; i++ {
			copyValues[i] = base.DataColumn(i)
		}
		tid, err := t.writeTailValues(baseRID, baseRID, copyValues, page.AllOnes(t.NumColumns), timestamp)
		if err != nil {
			return 0, err
		}
		// The copy holds only values already in the base, and callers are
		// handed just the update's own tail RID, so it is resolved here.
		t.dir.NotifyResolve([]int64{tid})
		if err := t.updateBaseIndirectionAndSchema(baseRID, tid, 0); err != nil {
			return 0, err
		}
		base.SetIndirection(tid)
		base.SchemaEncoding = 0
	}

	newSchema := page.NewBitmap(t.NumColumns)
	values := make([]int64, t.NumColumns)
	for i := 0; i < t.NumColumns; i++ {
		if newValues[i] != nil && *newValues[i] != latest.DataColumn(i) {
			newSchema[i] = true
			values[i] = *newValues[i]
		} else {
			values[i] = latest.DataColumn(i)
		}
	}
	cumulative := newSchema.Or(uint64ToBitmap(base.SchemaEncoding, t.NumColumns))

	tid, err := t.writeTailValues(baseRID, base.Indirection(), values, cumulative, timestamp)
	if err != nil {
		return 0, err
	}
	if err := t.updateBaseIndirectionAndSchema(baseRID, tid, int64(bitmapToUint64(cumulative))); err != nil {
		return 0, err
	}
	return tid, nil
}

func (t *Table) writeTailValues(baseRID, prevIndirection int64, values []int64, cumulativeSchema page.Bitmap, timestamp int64) (int64, error) {
	tid, offsets, shouldMerge, err := t.dir.AllocTailRID(baseRID, cumulativeSchema, t.cfg.MergeInterval)
	if err != nil {
		return 0, err
	}
	meta := []int64{prevIndirection, tid, timestamp, int64(bitmapToUint64(cumulativeSchema)), baseRID}
	for i, v := range meta {
		if err := t.writeColumn(offsets[i], v); err != nil {
			return 0, err
		}
	}
	for i, v := range values {
		if !cumulativeSchema.Get(i) {
			continue
		}
		if err := t.writeColumn(offsets[config.NumMetaCols+i], v); err != nil {
			return 0, err
		}
	}
	if shouldMerge {
		t.NotifyMerge()
	}
	return tid, nil
}

func (t *Table) updateBaseIndirectionAndSchema(baseRID, newIndirection, schema int64) error {
	offsets, ok := t.dir.Locations(baseRID)
	if !ok {
		return fmt.Errorf("table: unknown base rid %d", baseRID)
	}
	if err := t.writeColumn(offsets[config.IndirectionColumn], newIndirection); err != nil {
		return err
	}
	return t.writeColumn(offsets[config.SchemaEncodingColumn], schema)
}

// DeleteRecord appends an all-zero-schema tail record marking baseRID
// deleted, and removes it from the key index. Returns the tombstone tail
// RID, so callers can feed it to NotifyResolve.
func (t *Table) DeleteRecord(baseRID int64, timestamp int64, tracker *xact.Tracker) (int64, error) {
	base, err := t.getRecordAt(baseRID)
	if err != nil {
		return 0, err
	}
	tid, err := t.writeTailValues(baseRID, base.Indirection(), make([]int64, t.NumColumns), page.NewBitmap(t.NumColumns), timestamp)
	if err != nil {
		return 0, err
	}
	t.idx.KeyIndex().Remove(base.DataColumn(t.Key), baseRID, true)
	if err := t.updateBaseIndirectionAndSchema(baseRID, tid, int64(base.SchemaEncoding)); err != nil {
		return 0, err
	}
	return tid, nil
}

// NotifyMerge spawns a background merge worker if one isn't already running
// and merging hasn't been disabled by DrainMerge.
func (t *Table) NotifyMerge() {
	t.mergeMu.Lock()
	defer t.mergeMu.Unlock()
	if !t.allowMerge || t.mergeRunning {
		return
	}
	t.mergeRunning = true
	go func() {
		defer func() {
			t.mergeMu.Lock()
			t.mergeRunning = false
			t.mergeMu.Unlock()
		}()
		if err := t.merge(); err != nil {
			log.Error().Err(err).Str("table", t.Name).Msg("merge cycle failed, will retry on next trigger")
		}
	}()
}

// DrainMerge disables future merges and waits for any in-flight one to
// finish.
func (t *Table) DrainMerge() {
	t.mergeMu.Lock()
	t.allowMerge = false
	for t.mergeRunning {
		t.mergeMu.Unlock()
		t.mergeMu.Lock()
	}
	t.mergeMu.Unlock()
}

// merge drains the directory's merge queue and rebuilds a new base page of
// data columns for every base RID touched by each stable tail page,
// processing queued tail pages most-recent-first so the first write seen
// per base RID is always the newest value.
func (t *Table) merge() error {
	queue := t.dir.ClearMergeQueue()
	for i := len(queue) - 1; i >= 0; i-- {
		if err := t.mergeTailPage(queue[i]); err != nil {
			return err
		}
	}
	if t.m != nil {
		t.m.MergeCyclesTotal.WithLabelValues(t.Name).Inc()
	}
	return nil
}

func (t *Table) mergeTailPage(tailPage page.ID) error {
	cols := page.ColumnsOf(tailPage, t.NumRawCols)
	frames := make([]*bufferpool.Frame, len(cols))
	for i, id := range cols {
		f, err := t.bp.Pin(id)
		if err != nil {
			return err
		}
		f.Lock.AcquireRead()
		frames[i] = f
	}
	defer func() {
		for i, id := range cols {
			frames[i].Lock.ReleaseRead()
			t.bp.Unpin(id)
		}
	}()

	baseRIDCol := page.NewDataPage(cols[config.BaseRIDColumn], frames[config.BaseRIDColumn].Data, nil)
	schemaCol := page.NewDataPage(cols[config.SchemaEncodingColumn], frames[config.SchemaEncodingColumn].Data, nil)
	ridCol := page.NewDataPage(cols[config.RIDColumn], frames[config.RIDColumn].Data, nil)

	numRecs := t.cfg.ConceptualPageMaxRecs(t.NumColumns)
	merged := make(map[int64]bool)

	for offset := numRecs - 1; offset >= 0; offset-- {
		tid := ridCol.Read(offset)
		if tid == 0 {
			continue
		}
		baseRID := baseRIDCol.Read(offset)
		if merged[baseRID] {
			continue
		}
		if cur, ok := t.dir.TPS(baseRID); ok && cur < tid {
			continue // a newer tail of this base RID is already folded in
		}
		cumulative := uint64ToBitmap(uint64(schemaCol.Read(offset)), t.NumColumns)

		baseOffsets, ok := t.dir.Locations(baseRID)
		if !ok {
			continue
		}
		newOffsets := t.dir.AllocMergeLocations()
		for i := 0; i < t.NumColumns; i++ {
			var v int64
			var err error
			if cumulative.Get(i) {
				f, ferr := t.bp.Pin(cols[config.NumMetaCols+i])
				if ferr != nil {
					return ferr
				}
				f.Lock.AcquireRead()
				v = page.NewDataPage(cols[config.NumMetaCols+i], f.Data, nil).Read(offset)
				f.Lock.ReleaseRead()
				t.bp.Unpin(cols[config.NumMetaCols+i])
			} else {
				v, err = t.readColumn(baseOffsets[config.NumMetaCols+i])
				if err != nil {
					return err
				}
			}
			if err := t.writeColumn(newOffsets[i], v); err != nil {
				return err
			}
		}
		if err := t.dir.NotifyMerge(baseRID, newOffsets, tid); err != nil {
			return err
		}
		merged[baseRID] = true
		if t.m != nil {
			t.m.MergedPagesTotal.WithLabelValues(t.Name).Inc()
		}
	}
	return nil
}

func bitmapToUint64(b page.Bitmap) uint64 {
	var v uint64
	for i := 0; i < len(b); i++ {
		if b[i] {
			v |= 1 << uint(i)
		}
	}
	return v
}

func uint64ToBitmap(v uint64, numColumns int) page.Bitmap {
	b := page.NewBitmap(numColumns)
	for i := 0; i < numColumns; i++ {
		b[i] = v&(1<<uint(i)) != 0
	}
	return b
}
