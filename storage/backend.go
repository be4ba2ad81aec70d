// Package storage lays out lstore's on-disk column files and provides raw,
// page-aligned read/write access to them, backed either by a real file (with
// O_DIRECT where the platform supports it) or by an in-memory buffer for
// tests.
package storage

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/wrenlabs/lstore/config"
)

// Backend is anything column file I/O can be performed against.
type Backend interface {
	ReadAt(b []byte, off int64) (int, error)
	WriteAt(b []byte, off int64) (int, error)
	Sync() error
	Close() error
	Size() (int64, error)
}

// ColumnPath returns the on-disk path of a column file for the given table,
// raw column index, and base/tail selector.
func ColumnPath(dbRoot, table string, rawColumn int, isBase bool) string {
	kind := "tail"
	if isBase {
		kind = "base"
	}
	return filepath.Join(dbRoot, table, strconv.Itoa(rawColumn), kind)
}

// PagePath is ColumnPath for a page.ID's column, ignoring its page index
// (every page in a column file shares the same path; the index selects an
// offset within it).
func PagePath(dbRoot string, table string, rawColumn int, isBase bool) string {
	return ColumnPath(dbRoot, table, rawColumn, isBase)
}

// CreateColumnFile creates an empty column file seeded with one zeroed page,
// if it doesn't already exist.
func CreateColumnFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return err
	}
	defer f.Close()
	zero := make([]byte, config.PageSize)
	_, err = f.Write(zero)
	return err
}
