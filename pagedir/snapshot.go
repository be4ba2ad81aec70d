package pagedir

import "github.com/wrenlabs/lstore/page"

// Snapshot is the directory's full persisted state. A single structured
// snapshot file (rather than the one-sidecar-per-map layout) is enough to
// survive crash-before-close, as long as it's fully rewritten under a
// temp-and-rename by the caller.
type Snapshot struct {
	UnusedBaseRID int64
	UnusedTailRID int64
	UnusedBPIdx   int
	UnusedTPIdx   int

	RangeLastBP    map[int]int
	ConBPLastConTP map[int]int
	ConTPOwner     map[int]int
	ConBPNumRecs   map[int]int
	ConTPNumRecs   map[int]int
	NumRecords     map[page.ID]int
	ConBPResolved  map[int]int
	ConTPResolved  map[int]int

	Offsets map[int64][]page.Location
	TPS     map[int64]int64

	MergeQueue []page.ID
}

// Snapshot captures the directory's full state for persistence.
func (d *PageDirectory) Snapshot() Snapshot {
	d.lock.AcquireRead()
	defer d.lock.ReleaseRead()
	return Snapshot{
		UnusedBaseRID:  d.unusedBaseRID,
		UnusedTailRID:  d.unusedTailRID,
		UnusedBPIdx:    d.unusedBPIdx,
		UnusedTPIdx:    d.unusedTPIdx,
		RangeLastBP:    d.rangeLastBP,
		ConBPLastConTP: d.conBPLastConTP,
		ConTPOwner:     d.conTPOwner,
		ConBPNumRecs:   d.conBPNumRecs,
		ConTPNumRecs:   d.conTPNumRecs,
		NumRecords:     d.numRecords,
		ConBPResolved:  d.conBPResolved,
		ConTPResolved:  d.conTPResolved,
		Offsets:        d.offsets,
		TPS:            d.tps,
		MergeQueue:     d.mergeQueue,
	}
}

// Restore replaces the directory's state with a previously captured
// Snapshot, used when reopening an existing database.
func (d *PageDirectory) Restore(s Snapshot) {
	d.lock.AcquireWrite()
	defer d.lock.ReleaseWrite()
	d.unusedBaseRID = s.UnusedBaseRID
	d.unusedTailRID = s.UnusedTailRID
	d.unusedBPIdx = s.UnusedBPIdx
	d.unusedTPIdx = s.UnusedTPIdx
	d.rangeLastBP = s.RangeLastBP
	d.conBPLastConTP = s.ConBPLastConTP
	d.conTPOwner = s.ConTPOwner
	d.conBPNumRecs = s.ConBPNumRecs
	d.conTPNumRecs = s.ConTPNumRecs
	d.numRecords = s.NumRecords
	d.conBPResolved = s.ConBPResolved
	d.conTPResolved = s.ConTPResolved
	d.offsets = s.Offsets
	d.tps = s.TPS
	d.mergeQueue = s.MergeQueue
}
