package storage

import (
	"fmt"
	"os"
	"sync"

	"github.com/wrenlabs/lstore/config"
	"github.com/wrenlabs/lstore/page"
)

// Store owns the open Backend handles for every column file under one
// database directory and provides page-granular, fsync'd I/O over them.
type Store struct {
	dbRoot  string
	inMem   bool
	pageSz  int
	mu      sync.Mutex
	files   map[columnKey]Backend
}

type columnKey struct {
	table     string
	rawColumn int
	isBase    bool
}

// Open returns a Store rooted at dbRoot backed by real files. inMem, if
// true, backs every column file with an in-memory buffer instead (used by
// tests).
func Open(dbRoot string, inMem bool) *Store {
	return &Store{dbRoot: dbRoot, inMem: inMem, pageSz: config.PageSize, files: make(map[columnKey]Backend)}
}

func (s *Store) backend(id page.ID) (Backend, error) {
	key := columnKey{id.Table, id.RawColumn, id.IsBase}
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.files[key]; ok {
		return b, nil
	}
	var b Backend
	var err error
	if s.inMem {
		b = NewMemBackend()
	} else {
		path := ColumnPath(s.dbRoot, id.Table, id.RawColumn, id.IsBase)
		if err := CreateColumnFile(path); err != nil {
			return nil, err
		}
		b, err = OpenDiskBackend(path)
		if err != nil {
			return nil, err
		}
	}
	s.files[key] = b
	return b, nil
}

// CreateColumnFile ensures the on-disk column file for id's (table, column,
// base/tail) exists, seeded with one zeroed page. For in-memory stores it
// creates the column's in-memory backend instead.
func (s *Store) CreateColumnFile(id page.ID) error {
	if s.inMem {
		_, err := s.backend(id)
		return err
	}
	path := ColumnPath(s.dbRoot, id.Table, id.RawColumn, id.IsBase)
	return CreateColumnFile(path)
}

// ReadPages reads up to count consecutive pages starting at start.PageIndex,
// returning fewer if the file is shorter (mirrors the original's prefetch
// semantics: never an error, just fewer pages back).
func (s *Store) ReadPages(start page.ID, count int) ([][]byte, error) {
	if count <= 0 {
		return nil, nil
	}
	b, err := s.backend(start)
	if err != nil {
		return nil, err
	}
	size, err := b.Size()
	if err != nil {
		return nil, err
	}
	off := int64(start.PageIndex) * int64(s.pageSz)
	available := (size - off) / int64(s.pageSz)
	if available <= 0 {
		return nil, nil
	}
	if int64(count) > available {
		count = int(available)
	}
	buf := make([]byte, count*s.pageSz)
	n, err := b.ReadAt(buf, off)
	if err != nil && n == 0 {
		return nil, err
	}
	pages := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		begin := i * s.pageSz
		if begin+s.pageSz > n {
			break
		}
		pages = append(pages, buf[begin:begin+s.pageSz])
	}
	return pages, nil
}

// WritePage writes one page's worth of data at id's page index and fsyncs.
func (s *Store) WritePage(id page.ID, data []byte) error {
	if len(data) != s.pageSz {
		return fmt.Errorf("storage: page write for %+v has %d bytes, want %d", id, len(data), s.pageSz)
	}
	b, err := s.backend(id)
	if err != nil {
		return err
	}
	off := int64(id.PageIndex) * int64(s.pageSz)
	if _, err := b.WriteAt(data, off); err != nil {
		return err
	}
	return b.Sync()
}

// Close closes every open column file handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, b := range s.files {
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// EnsureDir creates the database root directory if it doesn't exist.
func EnsureDir(path string) error {
	info, err := os.Stat(path)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("storage: %q exists and is not a directory", path)
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return err
	}
	return os.MkdirAll(path, 0o750)
}
