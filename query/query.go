// Package query implements the public row-level operations (insert, update,
// select, sum, delete, increment) on top of a table, each able to run
// standalone or as part of an enclosing transaction. Errors reported by the
// table, index and WAL layers surface as a plain false/error return. Panics
// are not recovered: a malformed argument, such as a newValues slice
// shorter than the table's column count or a column number out of range,
// panics.
package query

import (
	"fmt"

	"github.com/wrenlabs/lstore/logging"
	"github.com/wrenlabs/lstore/record"
	"github.com/wrenlabs/lstore/table"
	"github.com/wrenlabs/lstore/wal"
	"github.com/wrenlabs/lstore/xact"
)

var log = logging.For("query")

// Interface wraps a table with the query surface and the WAL/tracker
// plumbing every mutating call needs: a start time, a log entry, and a
// resolved-record notification once the owning transaction's outcome is
// known.
type Interface struct {
	t       *table.Table
	w       *wal.WAL
	tracker *xact.Tracker
}

// New wraps t for querying, logging mutations to w and consulting tracker
// for version visibility.
func New(t *table.Table, w *wal.WAL, tracker *xact.Tracker) *Interface {
	return &Interface{t: t, w: w, tracker: tracker}
}

// Insert appends a new row. Run standalone, it commits immediately under
// its own single-query transaction and is logged to the WAL before
// returning.
func (q *Interface) Insert(cols []int64) bool {
	startTime := uniqueStartTime()
	rid, err := q.t.AddBaseRecord(cols, startTime)
	if err != nil {
		log.Warn().Err(err).Str("table", q.t.Name).Msg("insert failed")
		return false
	}
	q.tracker.MarkCommitted(startTime)
	q.t.PageDirectory().NotifyResolve([]int64{rid})
	if err := q.w.Log(wal.RedoTransaction{StartTime: startTime, Queries: []wal.RedoQuery{
		{Type: wal.Insert, Table: q.t.Name, Insert: cols},
	}}); err != nil {
		log.Error().Err(err).Msg("wal append failed after commit")
	}
	return true
}

// Select returns the projected columns of every row whose key column
// matches keyValue, at the latest committed version.
func (q *Interface) Select(keyValue int64, keyColumn int, projection []int) ([][]int64, bool) {
	return q.SelectVersion(keyValue, keyColumn, projection, 0)
}

// SelectVersion is Select, but reconstructs each row as of the given
// version (<= 0; 0 = latest, -k = k updates back).
func (q *Interface) SelectVersion(keyValue int64, keyColumn int, projection []int, version int) ([][]int64, bool) {
	rids := q.lookup(keyValue, keyColumn)
	if len(rids) == 0 {
		return nil, false
	}
	var out [][]int64
	for _, rid := range rids {
		rec, err := q.t.GetRecordVersion(rid, version, q.tracker)
		if err != nil {
			log.Warn().Err(err).Int64("rid", rid).Msg("select failed")
			return nil, false
		}
		if rec == nil {
			continue // deletion tombstone at this version
		}
		out = append(out, rec.Project(projection))
	}
	return out, true
}

// Sum adds up one column across every row whose key column falls in
// [startRange, endRange], at the latest committed version.
func (q *Interface) Sum(startRange, endRange int64, keyColumn, sumColumn int) (int64, bool) {
	return q.SumVersion(startRange, endRange, keyColumn, sumColumn, 0)
}

// SumVersion is Sum, evaluated as of the given version.
func (q *Interface) SumVersion(startRange, endRange int64, keyColumn, sumColumn int, version int) (int64, bool) {
	rids := q.lookupRange(startRange, endRange, keyColumn)
	var total int64
	for _, rid := range rids {
		rec, err := q.t.GetRecordVersion(rid, version, q.tracker)
		if err != nil {
			return 0, false
		}
		if rec == nil {
			continue
		}
		total += rec.DataColumn(sumColumn)
	}
	return total, true
}

// Update applies newValues (nil entries left unchanged) to the row with the
// given key value.
func (q *Interface) Update(keyValue int64, newValues []*int64) bool {
	rids := q.lookup(keyValue, q.t.Key)
	if len(rids) != 1 {
		return false
	}
	rid := rids[0]
	startTime := uniqueStartTime()

	latest, err := q.t.GetLatestRecord(rid, q.tracker)
	if err != nil || latest == nil {
		return false
	}
	tid, err := q.t.AddTailRecord(rid, newValues, startTime, q.tracker)
	if err != nil {
		log.Warn().Err(err).Int64("rid", rid).Msg("update failed")
		return false
	}
	if newValues[q.t.Key] != nil {
		q.t.Index().KeyIndex().Remove(keyValue, rid, false)
		if err := q.t.Index().KeyIndex().Insert(*newValues[q.t.Key], rid); err != nil {
			log.Warn().Err(err).Int64("rid", rid).Msg("update violated key uniqueness")
			return false
		}
	}
	q.reindexSecondary(rid, latest, newValues)

	q.tracker.MarkCommitted(startTime)
	q.t.PageDirectory().NotifyResolve([]int64{tid})
	if err := q.w.Log(wal.RedoTransaction{StartTime: startTime, Queries: []wal.RedoQuery{
		{Type: wal.Update, Table: q.t.Name, Key: keyValue, Update: newValues},
	}}); err != nil {
		log.Error().Err(err).Msg("wal append failed after commit")
	}
	return true
}

// Increment adds one to a single column of the row with the given key
// value. It writes a tail record the way Update does but does not call
// Update, and is logged to the WAL as an increment.
func (q *Interface) Increment(keyValue int64, column int) bool {
	rids := q.lookup(keyValue, q.t.Key)
	if len(rids) != 1 {
		return false
	}
	latest, err := q.t.GetLatestRecord(rids[0], q.tracker)
	if err != nil || latest == nil {
		return false
	}
	startTime := uniqueStartTime()
	values := make([]*int64, q.t.NumColumns)
	v := latest.DataColumn(column) + 1
	values[column] = &v
	tid, err := q.t.AddTailRecord(rids[0], values, startTime, q.tracker)
	if err != nil {
		return false
	}
	q.tracker.MarkCommitted(startTime)
	q.t.PageDirectory().NotifyResolve([]int64{tid})
	if err := q.w.Log(wal.RedoTransaction{StartTime: startTime, Queries: []wal.RedoQuery{
		{Type: wal.Increment, Table: q.t.Name, Key: keyValue, IncColumn: column},
	}}); err != nil {
		log.Error().Err(err).Msg("wal append failed after commit")
	}
	return true
}

// Delete removes the row with the given key value.
func (q *Interface) Delete(keyValue int64) bool {
	rids := q.lookup(keyValue, q.t.Key)
	if len(rids) != 1 {
		return false
	}
	rid := rids[0]
	startTime := uniqueStartTime()
	tid, err := q.t.DeleteRecord(rid, startTime, q.tracker)
	if err != nil {
		log.Warn().Err(err).Int64("rid", rid).Msg("delete failed")
		return false
	}
	q.tracker.MarkCommitted(startTime)
	q.t.PageDirectory().NotifyResolve([]int64{tid})
	if err := q.w.Log(wal.RedoTransaction{StartTime: startTime, Queries: []wal.RedoQuery{
		{Type: wal.Delete, Table: q.t.Name, Key: keyValue},
	}}); err != nil {
		log.Error().Err(err).Msg("wal append failed after commit")
	}
	return true
}

func (q *Interface) lookup(value int64, column int) []int64 {
	if column == q.t.Key {
		return q.t.Index().KeyIndex().Locate(value)
	}
	idx := q.t.Index().Get(column)
	if idx == nil {
		return q.fullScan(value, column)
	}
	return idx.Locate(value)
}

func (q *Interface) lookupRange(lo, hi int64, column int) []int64 {
	if idx := q.t.Index().Get(column); idx != nil {
		return idx.LocateRange(lo, hi)
	}
	var out []int64
	for _, rid := range q.t.PageDirectory().BaseRIDs() {
		rec, err := q.t.GetLatestRecord(rid, q.tracker)
		if err != nil || rec == nil {
			continue
		}
		if v := rec.DataColumn(column); v >= lo && v <= hi {
			out = append(out, rid)
		}
	}
	return out
}

func (q *Interface) fullScan(value int64, column int) []int64 {
	var out []int64
	for _, rid := range q.t.PageDirectory().BaseRIDs() {
		rec, err := q.t.GetLatestRecord(rid, q.tracker)
		if err != nil || rec == nil {
			continue
		}
		if rec.DataColumn(column) == value {
			out = append(out, rid)
		}
	}
	return out
}

// reindexSecondary keeps every non-key column index consistent with an
// update, independent of whether the key column itself changed.
func (q *Interface) reindexSecondary(rid int64, before *record.Record, newValues []*int64) {
	for col := 0; col < q.t.NumColumns; col++ {
		if col == q.t.Key || newValues[col] == nil {
			continue
		}
		idx := q.t.Index().Get(col)
		if idx == nil {
			continue
		}
		idx.Remove(before.DataColumn(col), rid, false)
		idx.Insert(*newValues[col], rid)
	}
}

// CreateIndex builds a secondary index over an existing column by scanning
// every current base RID.
func CreateIndex(t *table.Table, column int, unique bool, tracker *xact.Tracker) error {
	if column == t.Key {
		return fmt.Errorf("query: column %d is the primary key, already indexed", column)
	}
	t.Index().Create(column, unique)
	idx := t.Index().Get(column)
	for _, rid := range t.PageDirectory().BaseRIDs() {
		rec, err := t.GetLatestRecord(rid, tracker)
		if err != nil {
			return err
		}
		if rec == nil {
			continue
		}
		if err := idx.Insert(rec.DataColumn(column), rid); err != nil {
			return err
		}
	}
	return nil
}

// DropIndex removes a secondary index.
func DropIndex(t *table.Table, column int) error {
	return t.Index().Drop(column)
}

func uniqueStartTime() int64 {
	return nextStartTime()
}
