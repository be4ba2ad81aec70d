package storage

import (
	"os"

	"github.com/ncw/directio"
)

// DiskBackend is a Backend over a real file, opened with O_DIRECT through
// directio.OpenFile where that succeeds and with a plain os.OpenFile
// otherwise. ReadAt and WriteAt use the caller's buffers as given; nothing
// here aligns them.
type DiskBackend struct {
	f *os.File
}

// OpenDiskBackend opens (creating if necessary) the column file at path.
func OpenDiskBackend(path string) (*DiskBackend, error) {
	f, err := directio.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o640)
	if err != nil {
		// O_DIRECT isn't supported on every filesystem (tmpfs, for one);
		// fall back to a buffered open rather than fail the whole database.
		f, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o640)
		if err != nil {
			return nil, err
		}
	}
	return &DiskBackend{f: f}, nil
}

func (b *DiskBackend) ReadAt(p []byte, off int64) (int, error)  { return b.f.ReadAt(p, off) }
func (b *DiskBackend) WriteAt(p []byte, off int64) (int, error) { return b.f.WriteAt(p, off) }
func (b *DiskBackend) Sync() error                              { return b.f.Sync() }
func (b *DiskBackend) Close() error                              { return b.f.Close() }

func (b *DiskBackend) Size() (int64, error) {
	info, err := b.f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// AlignedPageBuffer returns a PageSize buffer aligned to directio's block
// size, suitable for O_DIRECT reads and writes of exactly one page.
func AlignedPageBuffer(pageSize int) []byte {
	return directio.AlignedBlock(pageSize)
}
