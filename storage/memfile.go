package storage

import (
	"sync"

	"github.com/dsnet/golib/memfile"
)

// MemBackend is a Backend entirely in RAM, used for tests that don't want
// to touch disk. It
// wraps dsnet/golib/memfile.File, which already gives us a ReaderAt/WriterAt
// over a growable byte slice; we only add the mutex and the Backend-shaped
// Size/Sync/Close methods on top.
type MemBackend struct {
	mu   sync.RWMutex
	file *memfile.File
}

// NewMemBackend creates a new empty in-memory backend.
func NewMemBackend() *MemBackend {
	return &MemBackend{file: memfile.New(nil)}
}

func (m *MemBackend) ReadAt(p []byte, off int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.file.ReadAt(p, off)
}

func (m *MemBackend) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.file.WriteAt(p, off)
}

func (m *MemBackend) Sync() error { return nil }

func (m *MemBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.file.Close()
}

func (m *MemBackend) Size() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, err := m.file.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
