// Package wal implements the binary write-ahead log: append+fsync of
// committed mutating transactions, checkpoint truncation, and replay parsing
// for crash recovery.
package wal

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/wrenlabs/lstore/logging"
	"github.com/wrenlabs/lstore/metrics"
	"github.com/wrenlabs/lstore/page"
)

var log = logging.For("wal")

// QueryType identifies a mutating operation recorded in the log. Read-only
// operations are never logged.
type QueryType uint8

const (
	Insert QueryType = iota + 1
	Update
	Increment
	Delete
)

// RedoQuery is one logged mutating call, ready to be replayed against a
// table during recovery.
type RedoQuery struct {
	Type      QueryType
	Table     string
	Insert    []int64      // INSERT: full column list
	Update    []*int64      // UPDATE: nil entry means "column not set"
	Key       int64        // UPDATE, INCREMENT, DELETE
	IncColumn int           // INCREMENT
}

// RedoTransaction is one logged transaction: a start time and the ordered
// queries that made it up.
type RedoTransaction struct {
	StartTime int64
	Queries   []RedoQuery
}

// WAL serializes appends behind a single mutex; fsync happens inside the
// lock, mirroring the original's happens-before-commit-return guarantee.
type WAL struct {
	mu   sync.Mutex
	path string
	f    *os.File
	m    *metrics.Metrics
}

// Open opens (creating if necessary) the WAL file at path.
func Open(path string, m *metrics.Metrics) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o640)
	if err != nil {
		return nil, err
	}
	return &WAL{path: path, f: f, m: m}, nil
}

// Log appends xact to the log and fsyncs before returning.
func (w *WAL) Log(xact RedoTransaction) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var buf bytes.Buffer
	writeU64(&buf, uint64(xact.StartTime))
	writeU64(&buf, uint64(len(xact.Queries)))
	for _, q := range xact.Queries {
		if err := writeQuery(&buf, q); err != nil {
			return err
		}
	}
	if _, err := w.f.Write(buf.Bytes()); err != nil {
		return err
	}
	start := time.Now()
	err := w.f.Sync()
	if w.m != nil {
		w.m.WALFsyncDuration.Observe(time.Since(start).Seconds())
		w.m.WALAppendsTotal.Inc()
	}
	return err
}

// Checkpoint truncates the log to zero length and fsyncs. Must only be
// called after a bufferpool checkpoint has made every prior transaction
// durable in the base/tail column files.
func (w *WAL) Checkpoint() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.f.Truncate(0); err != nil {
		return err
	}
	if _, err := w.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if w.m != nil {
		w.m.WALTruncationsTotal.Inc()
	}
	return w.f.Sync()
}

// Close closes the underlying file without truncating it.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

// Recover parses the log file in full and returns every logged transaction,
// in append order, without disturbing the current write cursor.
func (w *WAL) Recover() ([]RedoTransaction, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	orig, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}
	size, err := w.f.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, err
	}
	if _, err := w.f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	defer w.f.Seek(orig, io.SeekStart)

	r := io.NewSectionReader(w.f, 0, size)
	var xacts []RedoTransaction
	var pos int64
	for pos < size {
		xact, n, err := readTransaction(r)
		if err != nil {
			return nil, fmt.Errorf("wal: parse error at offset %d: %w", pos, err)
		}
		xacts = append(xacts, xact)
		pos += n
	}
	log.Info().Int("transactions", len(xacts)).Msg("recovered write-ahead log")
	return xacts, nil
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeI64(buf *bytes.Buffer, v int64) { writeU64(buf, uint64(v)) }

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > 1<<16-1 {
		return fmt.Errorf("wal: table name %q too long", s)
	}
	writeU16(buf, uint16(len(s)))
	buf.WriteString(s)
	return nil
}

func writeQuery(buf *bytes.Buffer, q RedoQuery) error {
	buf.WriteByte(byte(q.Type))
	if err := writeString(buf, q.Table); err != nil {
		return err
	}
	switch q.Type {
	case Insert:
		writeU16(buf, uint16(len(q.Insert)))
		for _, v := range q.Insert {
			writeI64(buf, v)
		}
	case Update:
		writeI64(buf, q.Key)
		writeU16(buf, uint16(len(q.Update)))
		bm := page.NewBitmap(len(q.Update))
		for i, v := range q.Update {
			bm[i] = v != nil
		}
		buf.Write(bm.Bytes((len(q.Update) + 7) / 8))
		for _, v := range q.Update {
			if v != nil {
				writeI64(buf, *v)
			}
		}
	case Increment:
		writeI64(buf, q.Key)
		writeU16(buf, uint16(q.IncColumn))
	case Delete:
		writeI64(buf, q.Key)
	default:
		return fmt.Errorf("wal: unknown query type %d", q.Type)
	}
	return nil
}

func readTransaction(r io.Reader) (RedoTransaction, int64, error) {
	var counter countingReader
	counter.r = r
	var xact RedoTransaction
	startTime, err := readU64(&counter)
	if err != nil {
		return xact, counter.n, err
	}
	xact.StartTime = int64(startTime)
	numQueries, err := readU64(&counter)
	if err != nil {
		return xact, counter.n, err
	}
	for i := uint64(0); i < numQueries; i++ {
		q, err := readQuery(&counter)
		if err != nil {
			return xact, counter.n, err
		}
		xact.Queries = append(xact.Queries, q)
	}
	return xact, counter.n, nil
}

func readQuery(r io.Reader) (RedoQuery, error) {
	var q RedoQuery
	var typeByte [1]byte
	if _, err := io.ReadFull(r, typeByte[:]); err != nil {
		return q, err
	}
	q.Type = QueryType(typeByte[0])

	table, err := readString(r)
	if err != nil {
		return q, err
	}
	q.Table = table

	switch q.Type {
	case Insert:
		numCols, err := readU16(r)
		if err != nil {
			return q, err
		}
		q.Insert = make([]int64, numCols)
		for i := range q.Insert {
			v, err := readI64(r)
			if err != nil {
				return q, err
			}
			q.Insert[i] = v
		}
	case Update:
		key, err := readI64(r)
		if err != nil {
			return q, err
		}
		q.Key = key
		numCols, err := readU16(r)
		if err != nil {
			return q, err
		}
		maskBytes := make([]byte, (int(numCols)+7)/8)
		if _, err := io.ReadFull(r, maskBytes); err != nil {
			return q, err
		}
		mask := page.BitmapFromBytes(maskBytes, int(numCols))
		q.Update = make([]*int64, numCols)
		for i := 0; i < int(numCols); i++ {
			if mask.Get(i) {
				v, err := readI64(r)
				if err != nil {
					return q, err
				}
				vv := v
				q.Update[i] = &vv
			}
		}
	case Increment:
		key, err := readI64(r)
		if err != nil {
			return q, err
		}
		q.Key = key
		col, err := readU16(r)
		if err != nil {
			return q, err
		}
		q.IncColumn = int(col)
	case Delete:
		key, err := readI64(r)
		if err != nil {
			return q, err
		}
		q.Key = key
	default:
		return q, fmt.Errorf("wal: unknown query type %d in log", q.Type)
	}
	return q, nil
}

func readU64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func readI64(r io.Reader) (int64, error) {
	v, err := readU64(r)
	return int64(v), err
}

func readU16(r io.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

func readString(r io.Reader) (string, error) {
	n, err := readU16(r)
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

// countingReader tracks bytes consumed so Recover can advance its file
// position without a second pass.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
