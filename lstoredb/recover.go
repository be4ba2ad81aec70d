package lstoredb

import (
	"github.com/wrenlabs/lstore/table"
	"github.com/wrenlabs/lstore/wal"
	"github.com/wrenlabs/lstore/xact"
)

// redoQuery replays one logged mutation directly against t, bypassing the
// query package entirely, and on success notifies t's page directory that
// the resulting RID is resolved. The WAL only ever logs the queries of a
// transaction that went on to commit, so a query found here is always
// redone, never second-guessed against the tracker. The caller is
// responsible for marking the enclosing transaction's start time committed
// exactly once, before replaying its queries.
func redoQuery(t *table.Table, q wal.RedoQuery, startTime int64, tracker *xact.Tracker) bool {
	touched, ok := replay(t, q, startTime, tracker)
	if !ok {
		return false
	}
	t.PageDirectory().NotifyResolve([]int64{touched})
	return true
}

func replay(t *table.Table, q wal.RedoQuery, startTime int64, tracker *xact.Tracker) (int64, bool) {
	switch q.Type {
	case wal.Insert:
		rid, err := t.AddBaseRecord(q.Insert, startTime)
		return rid, err == nil

	case wal.Update:
		rid, ok := locateByKey(t, q.Key)
		if !ok {
			return 0, false
		}
		tid, err := t.AddTailRecord(rid, q.Update, startTime, tracker)
		return tid, err == nil

	case wal.Increment:
		rid, ok := locateByKey(t, q.Key)
		if !ok {
			return 0, false
		}
		latest, err := t.GetLatestRecord(rid, tracker)
		if err != nil || latest == nil {
			return 0, false
		}
		values := make([]*int64, t.NumColumns)
		v := latest.DataColumn(q.IncColumn) + 1
		values[q.IncColumn] = &v
		tid, err := t.AddTailRecord(rid, values, startTime, tracker)
		return tid, err == nil

	case wal.Delete:
		rid, ok := locateByKey(t, q.Key)
		if !ok {
			return 0, false
		}
		tid, err := t.DeleteRecord(rid, startTime, tracker)
		return tid, err == nil

	default:
		return 0, false
	}
}

func locateByKey(t *table.Table, key int64) (int64, bool) {
	rids := t.Index().KeyIndex().Locate(key)
	if len(rids) == 0 {
		return 0, false
	}
	return rids[0], true
}
