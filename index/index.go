// Package index implements the per-column ordered multimap the query layer
// consults for point and range lookups: value -> set of base RIDs.
package index

import (
	"fmt"
	"sort"
	"sync"
)

// ErrUniqueKeyViolation is returned by Insert on a unique index when the
// value already has an entry, under any RID.
var ErrUniqueKeyViolation = fmt.Errorf("index: unique key violation")

// ColumnIndex is an ordered multimap from a column value to the base RIDs
// currently holding that value. Safe for concurrent use.
type ColumnIndex struct {
	mu     sync.RWMutex
	unique bool
	keys   []int64 // sorted, unique
	rids   map[int64]map[int64]struct{}
}

// New creates an empty index. If unique is true, Insert rejects a value
// that already has an entry.
func New(unique bool) *ColumnIndex {
	return &ColumnIndex{unique: unique, rids: make(map[int64]map[int64]struct{})}
}

func (x *ColumnIndex) search(value int64) int {
	return sort.Search(len(x.keys), func(i int) bool { return x.keys[i] >= value })
}

// Insert records that rid holds value.
func (x *ColumnIndex) Insert(value, rid int64) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	set, ok := x.rids[value]
	if !ok {
		i := x.search(value)
		x.keys = append(x.keys, 0)
		copy(x.keys[i+1:], x.keys[i:])
		x.keys[i] = value
		set = make(map[int64]struct{})
		x.rids[value] = set
	} else if x.unique {
		return ErrUniqueKeyViolation
	}
	set[rid] = struct{}{}
	return nil
}

// Remove erases rid's membership under value. If all is true, or the index
// is unique, the whole bucket for value is erased regardless of rid.
func (x *ColumnIndex) Remove(value, rid int64, all bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	set, ok := x.rids[value]
	if !ok {
		return
	}
	if all || x.unique {
		delete(x.rids, value)
		x.removeKey(value)
		return
	}
	delete(set, rid)
	if len(set) == 0 {
		delete(x.rids, value)
		x.removeKey(value)
	}
}

func (x *ColumnIndex) removeKey(value int64) {
	i := x.search(value)
	if i < len(x.keys) && x.keys[i] == value {
		x.keys = append(x.keys[:i], x.keys[i+1:]...)
	}
}

// Locate returns the base RIDs currently holding value, in ascending order.
func (x *ColumnIndex) Locate(value int64) []int64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	set, ok := x.rids[value]
	if !ok {
		return nil
	}
	out := make([]int64, 0, len(set))
	for rid := range set {
		out = append(out, rid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// LocateRange returns base RIDs for every value in [lo, hi], ordered by
// ascending value then ascending RID.
func (x *ColumnIndex) LocateRange(lo, hi int64) []int64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	start := x.search(lo)
	var out []int64
	for i := start; i < len(x.keys) && x.keys[i] <= hi; i++ {
		set := x.rids[x.keys[i]]
		rids := make([]int64, 0, len(set))
		for rid := range set {
			rids = append(rids, rid)
		}
		sort.Slice(rids, func(a, b int) bool { return rids[a] < rids[b] })
		out = append(out, rids...)
	}
	return out
}

// Manager owns one ColumnIndex per indexed column of a table.
type Manager struct {
	mu      sync.RWMutex
	keyCol  int
	columns map[int]*ColumnIndex
}

// NewManager creates a Manager whose primary key column is keyCol; the key
// column's index is created eagerly and unique.
func NewManager(keyCol int) *Manager {
	m := &Manager{keyCol: keyCol, columns: make(map[int]*ColumnIndex)}
	m.columns[keyCol] = New(true)
	return m
}

// Create adds an index over column c, unique or ranged. No-op if one
// already exists.
func (m *Manager) Create(c int, unique bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.columns[c]; !ok {
		m.columns[c] = New(unique)
	}
}

// Drop removes the index over column c. The primary key index can never be
// dropped.
func (m *Manager) Drop(c int) error {
	if c == m.keyCol {
		return fmt.Errorf("index: cannot drop primary key index on column %d", c)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.columns, c)
	return nil
}

// Get returns the index for column c, or nil if none exists.
func (m *Manager) Get(c int) *ColumnIndex {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.columns[c]
}

// KeyColumn returns the primary key column index.
func (m *Manager) KeyColumn() int { return m.keyCol }

// KeyIndex returns the primary key's (always unique) index.
func (m *Manager) KeyIndex() *ColumnIndex { return m.columns[m.keyCol] }
