// Package lstoredb implements the database lifecycle: open (with crash
// recovery), create_table/drop_table, and close (drain, persist, flush).
package lstoredb

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	"github.com/wrenlabs/lstore/bufferpool"
	"github.com/wrenlabs/lstore/config"
	"github.com/wrenlabs/lstore/logging"
	"github.com/wrenlabs/lstore/metrics"
	"github.com/wrenlabs/lstore/pagedir"
	"github.com/wrenlabs/lstore/storage"
	"github.com/wrenlabs/lstore/table"
	"github.com/wrenlabs/lstore/wal"
	"github.com/wrenlabs/lstore/xact"
)

var log = logging.For("lstoredb")

const (
	markerFile  = config.DBMarker
	walFile     = "wal"
	trackerFile = "xact_aborted"
	metaFile    = "meta.yaml"
)

// tableMeta is the small sidecar persisted alongside each table directory,
// recording the shape that can't be recovered just by counting column
// subdirectories.
type tableMeta struct {
	NumColumns int `yaml:"num_columns"`
	Key        int `yaml:"key"`
}

// Database owns every open table, the shared bufferpool and column-file
// store, the write-ahead log, and the transaction tracker.
type Database struct {
	path string
	cfg  config.Config

	lock  *fileLock
	store *storage.Store
	bp    *bufferpool.Bufferpool
	wal   *wal.WAL
	m     *metrics.Metrics
	reg   *prometheus.Registry

	tracker *xact.Tracker
	tables  map[string]*table.Table
}

// Open opens the database at path, creating it if it doesn't exist, and
// replays the write-ahead log if recovering from an unclean shutdown.
func Open(path string, cfg config.Config) (*Database, error) {
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		return nil, fmt.Errorf("lstoredb: %q exists and is not a directory", path)
	}
	if err := storage.EnsureDir(path); err != nil {
		return nil, err
	}

	lock, err := lockDatabase(path)
	if err != nil {
		return nil, err
	}

	markerPath := filepath.Join(path, markerFile)
	_, existsErr := os.Stat(markerPath)
	existing := existsErr == nil

	reg := prometheus.NewRegistry()
	m := metrics.NewFor(reg)
	store := storage.Open(path, false)
	bp := bufferpool.New(cfg, store, m)
	w, err := wal.Open(filepath.Join(path, walFile), m)
	if err != nil {
		lock.unlock()
		return nil, err
	}

	db := &Database{
		path:    path,
		cfg:     cfg,
		lock:    lock,
		store:   store,
		bp:      bp,
		wal:     w,
		m:       m,
		reg:     reg,
		tracker: xact.NewTracker(),
		tables:  make(map[string]*table.Table),
	}

	if existing {
		if err := db.loadExisting(); err != nil {
			lock.unlock()
			return nil, err
		}
		if err := db.recover(); err != nil {
			lock.unlock()
			return nil, fmt.Errorf("lstoredb: recovery failed, durability violated: %w", err)
		}
	}

	if err := os.WriteFile(markerPath, nil, 0o640); err != nil {
		lock.unlock()
		return nil, err
	}
	return db, nil
}

func (db *Database) loadExisting() error {
	entries, err := os.ReadDir(db.path)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		metaPath := filepath.Join(db.path, name, metaFile)
		raw, err := os.ReadFile(metaPath)
		if os.IsNotExist(err) {
			continue // not a table directory
		}
		if err != nil {
			return err
		}
		var meta tableMeta
		if err := yaml.Unmarshal(raw, &meta); err != nil {
			return fmt.Errorf("lstoredb: corrupt table metadata for %q: %w", name, err)
		}
		t := table.New(name, meta.NumColumns, meta.Key, db.cfg, db.bp, db.m)
		if err := db.restorePageDirectory(t); err != nil {
			return err
		}
		db.tables[name] = t
	}

	if raw, err := os.ReadFile(filepath.Join(db.path, trackerFile)); err == nil {
		dec := gob.NewDecoder(bytes.NewReader(raw))
		var outcomes map[int64]xact.Outcome
		if err := dec.Decode(&outcomes); err != nil {
			return fmt.Errorf("lstoredb: corrupt transaction tracker: %w", err)
		}
		db.tracker.Restore(outcomes)
	}

	// The key index lives only in memory; rebuild it from each row's latest version.
	for _, t := range db.tables {
		for _, rid := range t.PageDirectory().BaseRIDs() {
			rec, err := t.GetLatestRecord(rid, db.tracker)
			if err != nil {
				return err
			}
			if rec == nil {
				continue // deleted
			}
			if err := t.Index().KeyIndex().Insert(rec.DataColumn(t.Key), rid); err != nil {
				return err
			}
		}
	}
	return nil
}

func (db *Database) recover() error {
	xacts, err := db.wal.Recover()
	if err != nil {
		return err
	}
	for _, x := range xacts {
		if db.tracker.IsMaybePending(x.StartTime) {
			db.tracker.MarkCommitted(x.StartTime)
		}
		for _, q := range x.Queries {
			t, ok := db.tables[q.Table]
			if !ok {
				return fmt.Errorf("lstoredb: redo references unknown table %q", q.Table)
			}
			if !redoQuery(t, q, x.StartTime, db.tracker) {
				return fmt.Errorf("lstoredb: redo of %v on table %q failed", q.Type, q.Table)
			}
		}
	}
	if err := db.bp.Checkpoint(); err != nil {
		return err
	}
	return db.wal.Checkpoint()
}

// CreateTable validates and registers a new table, creating its column
// files and metadata sidecar on disk.
func (db *Database) CreateTable(name string, numColumns, key int) (*table.Table, error) {
	if len(name) == 0 || len(name) > config.MaxTableNameLen {
		return nil, fmt.Errorf("lstoredb: invalid table name length")
	}
	if key < 0 || key >= numColumns {
		return nil, fmt.Errorf("lstoredb: key index %d out of range for %d columns", key, numColumns)
	}
	if _, exists := db.tables[name]; exists {
		return nil, fmt.Errorf("lstoredb: table %q already exists", name)
	}

	dir := filepath.Join(db.path, name)
	if err := storage.EnsureDir(dir); err != nil {
		return nil, err
	}
	numRawCols := numColumns + config.NumMetaCols
	for col := 0; col < numRawCols; col++ {
		for _, isBase := range []bool{true, false} {
			path := storage.ColumnPath(db.path, name, col, isBase)
			if err := storage.CreateColumnFile(path); err != nil {
				return nil, err
			}
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "key"), nil, 0o640); err != nil {
		return nil, err
	}
	raw, err := yaml.Marshal(tableMeta{NumColumns: numColumns, Key: key})
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, metaFile), raw, 0o640); err != nil {
		return nil, err
	}

	t := table.New(name, numColumns, key, db.cfg, db.bp, db.m)
	db.tables[name] = t
	log.Info().Str("table", name).Int("columns", numColumns).Int("key", key).Msg("created table")
	return t, nil
}

// Table returns the named table, or nil if it doesn't exist.
func (db *Database) Table(name string) *table.Table { return db.tables[name] }

// Tracker exposes the transaction tracker for the query layer.
func (db *Database) Tracker() *xact.Tracker { return db.tracker }

// WAL exposes the write-ahead log for the query layer's implicit-transaction
// logging.
func (db *Database) WAL() *wal.WAL { return db.wal }

// Registry exposes this database's private Prometheus registry, so a
// server binary can serve it over /metrics.
func (db *Database) Registry() *prometheus.Registry { return db.reg }

// DropTable removes a table's directory and registration.
func (db *Database) DropTable(name string) error {
	if _, ok := db.tables[name]; !ok {
		return fmt.Errorf("lstoredb: table %q not found", name)
	}
	delete(db.tables, name)
	return os.RemoveAll(filepath.Join(db.path, name))
}

// Checkpoint flushes every dirty bufferpool frame and persists each table's
// page directory and the transaction tracker, without draining in-flight
// merges or touching the WAL's own checkpoint (a full Close does both of
// those as well). Safe to call periodically from a background scheduler.
func (db *Database) Checkpoint() error {
	if err := db.bp.Checkpoint(); err != nil {
		return err
	}
	for _, t := range db.tables {
		if err := db.persistPageDirectory(t); err != nil {
			return err
		}
	}
	return db.persistTracker()
}

// Close drains every table's in-flight merge, persists its page directory,
// flushes the bufferpool, checkpoints and closes the WAL, and persists the
// transaction tracker.
func (db *Database) Close() error {
	for _, t := range db.tables {
		t.DrainMerge()
		if err := db.persistPageDirectory(t); err != nil {
			return err
		}
	}
	if err := db.bp.Close(); err != nil {
		return err
	}
	if err := db.wal.Checkpoint(); err != nil {
		return err
	}
	if err := db.wal.Close(); err != nil {
		return err
	}
	if err := db.persistTracker(); err != nil {
		return err
	}
	return db.lock.unlock()
}

func (db *Database) persistPageDirectory(t *table.Table) error {
	snap := t.PageDirectory().Snapshot()
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(db.path, t.Name, "pagedir.gob"), buf.Bytes())
}

func (db *Database) restorePageDirectory(t *table.Table) error {
	raw, err := os.ReadFile(filepath.Join(db.path, t.Name, "pagedir.gob"))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var snap pagedir.Snapshot
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&snap); err != nil {
		return err
	}
	t.PageDirectory().Restore(snap)
	return nil
}

func (db *Database) persistTracker() error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(db.tracker.Snapshot()); err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(db.path, trackerFile), buf.Bytes())
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
