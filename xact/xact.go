// Package xact implements the transaction envelope (a batch of queries
// committed or aborted atomically) and the tracker that remembers every
// transaction's outcome by start time.
package xact

import (
	"fmt"

	"github.com/wrenlabs/lstore/rwlock"
)

// StoredQuery is one recorded call: the function to run and its name for
// logging, deferred until the enclosing transaction runs.
type StoredQuery struct {
	Name string
	Run  func() (bool, []int64) // returns success and the RIDs it touched
}

// Transaction batches queries so they commit or abort together. start_time
// (nanoseconds) is the tracker key.
type Transaction struct {
	StartTime    int64
	queries      []StoredQuery
	affectedRIDs []int64
}

// New creates a transaction keyed by startTime (nanoseconds).
func New(startTime int64) *Transaction {
	return &Transaction{StartTime: startTime}
}

// AddQuery appends q to the transaction's pending batch.
func (t *Transaction) AddQuery(q StoredQuery) {
	t.queries = append(t.queries, q)
}

// Run executes every query in order. The first failure aborts the whole
// transaction; otherwise it commits. notifyResolve is called once, with
// every RID the executed queries touched, after the outcome has been
// recorded in tracker.
func (t *Transaction) Run(tracker *Tracker, notifyResolve func(rids []int64)) bool {
	for _, q := range t.queries {
		ok, rids := q.Run()
		t.affectedRIDs = append(t.affectedRIDs, rids...)
		if !ok {
			t.abort(tracker, notifyResolve)
			return false
		}
	}
	t.commit(tracker, notifyResolve)
	return true
}

func (t *Transaction) commit(tracker *Tracker, notifyResolve func([]int64)) {
	tracker.MarkCommitted(t.StartTime)
	notifyResolve(t.affectedRIDs)
}

func (t *Transaction) abort(tracker *Tracker, notifyResolve func([]int64)) {
	tracker.MarkAborted(t.StartTime)
	notifyResolve(t.affectedRIDs)
}

// Outcome is the tracker's verdict for a start time.
type Outcome int

const (
	Pending Outcome = iota
	Committed
	Aborted
)

// Tracker maps a transaction's start_time to its commit/abort outcome.
// Absence means pending/unknown. Serialized by a write-preferring RW lock,
// matching the page directory's discipline.
type Tracker struct {
	lock     rwlock.RWLock
	outcomes map[int64]Outcome
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{lock: rwlock.NewWritePreferring(-1), outcomes: make(map[int64]Outcome)}
}

// MarkCommitted records startTime as committed. Marking the same start
// time twice is a programming error.
func (tr *Tracker) MarkCommitted(startTime int64) {
	tr.mark(startTime, Committed)
}

// MarkAborted records startTime as aborted.
func (tr *Tracker) MarkAborted(startTime int64) {
	tr.mark(startTime, Aborted)
}

func (tr *Tracker) mark(startTime int64, outcome Outcome) {
	tr.lock.AcquireWrite()
	defer tr.lock.ReleaseWrite()
	if _, exists := tr.outcomes[startTime]; exists {
		panic(fmt.Sprintf("xact: start_time %d already resolved", startTime))
	}
	tr.outcomes[startTime] = outcome
}

// IsCommitted reports whether startTime is known committed.
func (tr *Tracker) IsCommitted(startTime int64) bool {
	return tr.get(startTime) == Committed
}

// IsAborted reports whether startTime is known aborted.
func (tr *Tracker) IsAborted(startTime int64) bool {
	return tr.get(startTime) == Aborted
}

// IsMaybePending reports whether startTime has no recorded outcome yet.
func (tr *Tracker) IsMaybePending(startTime int64) bool {
	return tr.get(startTime) == Pending
}

func (tr *Tracker) get(startTime int64) Outcome {
	tr.lock.AcquireRead()
	defer tr.lock.ReleaseRead()
	return tr.outcomes[startTime]
}

// Snapshot returns a copy of the full outcome map, for persistence.
func (tr *Tracker) Snapshot() map[int64]Outcome {
	tr.lock.AcquireRead()
	defer tr.lock.ReleaseRead()
	out := make(map[int64]Outcome, len(tr.outcomes))
	for k, v := range tr.outcomes {
		out[k] = v
	}
	return out
}

// Restore replaces the tracker's contents, used when reloading from the
// sidecar file at open.
func (tr *Tracker) Restore(outcomes map[int64]Outcome) {
	tr.lock.AcquireWrite()
	defer tr.lock.ReleaseWrite()
	tr.outcomes = outcomes
}
