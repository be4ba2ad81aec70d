package query

import (
	"github.com/wrenlabs/lstore/table"
	"github.com/wrenlabs/lstore/wal"
	"github.com/wrenlabs/lstore/xact"
)

// Transaction batches queries, possibly across several tables, so they
// commit or abort together. Queries are bound lazily: an Update or Delete
// looks its row up only when the transaction actually runs, so a row
// inserted earlier in the same transaction is visible to a later query in
// it. Go has no optional-parameter enclosing-transaction argument the way
// the query layer's standalone methods imply; queuing through a Transaction
// is the explicit alternative.
type Transaction struct {
	xt       *xact.Transaction
	queries  []wal.RedoQuery
	ridTable map[int64]*table.Table
}

// NewTransaction starts an empty transaction.
func NewTransaction() *Transaction {
	return &Transaction{xt: xact.New(nextStartTime()), ridTable: make(map[int64]*table.Table)}
}

func (tx *Transaction) queue(t *table.Table, redo wal.RedoQuery, run func() (int64, error)) {
	tx.xt.AddQuery(xact.StoredQuery{Run: func() (bool, []int64) {
		rid, err := run()
		if err != nil {
			return false, nil
		}
		tx.ridTable[rid] = t
		return true, []int64{rid}
	}})
	tx.queries = append(tx.queries, redo)
}

// Insert queues an insert on q's table.
func (tx *Transaction) Insert(q *Interface, cols []int64) {
	tx.queue(q.t, wal.RedoQuery{Type: wal.Insert, Table: q.t.Name, Insert: cols}, func() (int64, error) {
		return q.t.AddBaseRecord(cols, tx.xt.StartTime)
	})
}

// Update queues an update on q's table, resolved against keyValue when the
// transaction runs.
func (tx *Transaction) Update(q *Interface, keyValue int64, newValues []*int64) {
	tx.queue(q.t, wal.RedoQuery{Type: wal.Update, Table: q.t.Name, Key: keyValue, Update: newValues}, func() (int64, error) {
		rids := q.t.Index().KeyIndex().Locate(keyValue)
		if len(rids) != 1 {
			return 0, errNoSuchKey
		}
		return q.t.AddTailRecord(rids[0], newValues, tx.xt.StartTime, nil)
	})
}

// Increment queues a single-column increment on q's table.
func (tx *Transaction) Increment(q *Interface, keyValue int64, column int) {
	tx.queue(q.t, wal.RedoQuery{Type: wal.Increment, Table: q.t.Name, Key: keyValue, IncColumn: column}, func() (int64, error) {
		rids := q.t.Index().KeyIndex().Locate(keyValue)
		if len(rids) != 1 {
			return 0, errNoSuchKey
		}
		latest, err := q.t.GetLatestRecord(rids[0], nil)
		if err != nil || latest == nil {
			return 0, errNoSuchKey
		}
		values := make([]*int64, q.t.NumColumns)
		v := latest.DataColumn(column) + 1
		values[column] = &v
		return q.t.AddTailRecord(rids[0], values, tx.xt.StartTime, nil)
	})
}

// Delete queues a delete on q's table.
func (tx *Transaction) Delete(q *Interface, keyValue int64) {
	tx.queue(q.t, wal.RedoQuery{Type: wal.Delete, Table: q.t.Name, Key: keyValue}, func() (int64, error) {
		rids := q.t.Index().KeyIndex().Locate(keyValue)
		if len(rids) != 1 {
			return 0, errNoSuchKey
		}
		return q.t.DeleteRecord(rids[0], tx.xt.StartTime, nil)
	})
}

// Commit runs every queued query in order, marking the transaction
// committed and notifying each touched table's page directory, or aborting
// on the first failure. A committed transaction is appended to w as one
// multi-query WAL entry.
func (tx *Transaction) Commit(tracker *xact.Tracker, w *wal.WAL) bool {
	ok := tx.xt.Run(tracker, func(rids []int64) {
		byTable := make(map[*table.Table][]int64)
		for _, rid := range rids {
			if t, ok := tx.ridTable[rid]; ok {
				byTable[t] = append(byTable[t], rid)
			}
		}
		for t, rs := range byTable {
			t.PageDirectory().NotifyResolve(rs)
		}
	})
	if !ok {
		return false
	}
	if err := w.Log(wal.RedoTransaction{StartTime: tx.xt.StartTime, Queries: tx.queries}); err != nil {
		log.Error().Err(err).Msg("wal append failed after transaction commit")
	}
	return true
}
