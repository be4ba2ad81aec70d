// Package page defines the fixed-size page types the column store is built
// from: an array of signed 64-bit integers (DataPage) and an array of
// schema-encoding bitmaps (SchemaEncodingPage), plus the identifiers used to
// address them across base/tail column files.
package page

import (
	"encoding/binary"

	"github.com/wrenlabs/lstore/config"
)

// ID identifies a physical page: a single table's single raw column, in
// either the base or tail file, at a given position within that file.
type ID struct {
	Table        string
	RawColumn    int
	IsBase       bool
	PageIndex    int
}

// Location is an ID plus an in-page record offset.
type Location struct {
	Table     string
	RawColumn int
	IsBase    bool
	PageIndex int
	Offset    int
}

// ID strips the offset back off a Location.
func (l Location) ID() ID {
	return ID{Table: l.Table, RawColumn: l.RawColumn, IsBase: l.IsBase, PageIndex: l.PageIndex}
}

// LocationFromID builds a Location by attaching an offset to an ID.
func LocationFromID(id ID, offset int) Location {
	return Location{Table: id.Table, RawColumn: id.RawColumn, IsBase: id.IsBase, PageIndex: id.PageIndex, Offset: offset}
}

// Range yields the `count` page IDs starting at id.PageIndex within the same
// column file.
func Range(id ID, count int) []ID {
	if count <= 0 {
		return nil
	}
	out := make([]ID, count)
	for i := 0; i < count; i++ {
		out[i] = id
		out[i].PageIndex = id.PageIndex + i
	}
	return out
}

// ColumnsOf yields one ID per raw column (0..numRawCols), holding IsBase and
// PageIndex fixed: the set of physical pages making up one conceptual page.
func ColumnsOf(id ID, numRawCols int) []ID {
	if numRawCols <= 0 {
		return nil
	}
	out := make([]ID, numRawCols)
	for i := 0; i < numRawCols; i++ {
		out[i] = id
		out[i].RawColumn = i
	}
	return out
}

// Backing is the raw byte buffer of one page; DataPage/SchemaEncodingPage
// are typed views over it. It is always exactly config.PageSize bytes.
type Backing []byte

// RecordCounter lets a page ask its owning page directory how many records
// it currently holds (and to update that count), since the page itself is
// just a byte slice and can't tell without bookkeeping held elsewhere.
// pagedir.PageDirectory implements this.
type RecordCounter interface {
	NumRecords(id ID) int
	SetNumRecords(id ID, n int)
	HasCapacity(id ID) bool
}

// DataPage is a page holding fixed-width signed 64-bit integers.
type DataPage struct {
	id      ID
	data    Backing
	counter RecordCounter
}

// NewDataPage wraps a raw backing buffer as a DataPage for id.
func NewDataPage(id ID, data Backing, counter RecordCounter) *DataPage {
	return &DataPage{id: id, data: data, counter: counter}
}

// ColSize is the width, in bytes, of one data-page slot.
func (p *DataPage) ColSize() int { return config.DataSize }

// MaxRecords is the number of slots a data page holds.
func (p *DataPage) MaxRecords() int { return len(p.data) / p.ColSize() }

// HasCapacity reports whether another record can be appended.
func (p *DataPage) HasCapacity() bool {
	return p.counter.NumRecords(p.id)*p.ColSize() < len(p.data) && p.counter.HasCapacity(p.id)
}

// Alloc reserves the next slot, returning its offset, or -1 if the page (or
// its owning conceptual page) is full.
func (p *DataPage) Alloc() int {
	if !p.HasCapacity() {
		return -1
	}
	offset := p.counter.NumRecords(p.id)
	p.counter.SetNumRecords(p.id, offset+1)
	return offset
}

// Add allocates a slot and writes value into it, returning the offset or -1.
func (p *DataPage) Add(value int64) int {
	offset := p.Alloc()
	if offset < 0 {
		return -1
	}
	p.Write(value, offset)
	return offset
}

// Read returns the signed 64-bit integer stored at offset.
func (p *DataPage) Read(offset int) int64 {
	begin := offset * p.ColSize()
	return int64(binary.LittleEndian.Uint64(p.data[begin : begin+p.ColSize()]))
}

// Write stores value at offset.
func (p *DataPage) Write(value int64, offset int) {
	begin := offset * p.ColSize()
	binary.LittleEndian.PutUint64(p.data[begin:begin+p.ColSize()], uint64(value))
}

// SchemaEncodingPage is a page holding one schema-encoding bitmap per slot,
// each ceil(numColumns/8) bytes wide.
type SchemaEncodingPage struct {
	id         ID
	numColumns int
	colSize    int
	data       Backing
	counter    RecordCounter
}

// NewSchemaEncodingPage wraps a raw backing buffer as a SchemaEncodingPage
// for a table with numColumns user columns.
func NewSchemaEncodingPage(id ID, numColumns int, data Backing, counter RecordCounter) *SchemaEncodingPage {
	return &SchemaEncodingPage{
		id:         id,
		numColumns: numColumns,
		colSize:    config.SchemaEncodingColSize(numColumns),
		data:       data,
		counter:    counter,
	}
}

// ColSize is the width, in bytes, of one schema-encoding slot.
func (p *SchemaEncodingPage) ColSize() int { return p.colSize }

// MaxRecords is the number of slots a schema-encoding page holds.
func (p *SchemaEncodingPage) MaxRecords() int { return len(p.data) / p.colSize }

// HasCapacity reports whether another record can be appended.
func (p *SchemaEncodingPage) HasCapacity() bool {
	return p.counter.NumRecords(p.id)*p.colSize < len(p.data) && p.counter.HasCapacity(p.id)
}

// Alloc reserves the next slot, returning its offset, or -1 if full.
func (p *SchemaEncodingPage) Alloc() int {
	if !p.HasCapacity() {
		return -1
	}
	offset := p.counter.NumRecords(p.id)
	p.counter.SetNumRecords(p.id, offset+1)
	return offset
}

// Add allocates a slot and writes value into it, returning the offset or -1.
func (p *SchemaEncodingPage) Add(value Bitmap) int {
	offset := p.Alloc()
	if offset < 0 {
		return -1
	}
	p.Write(value, offset)
	return offset
}

// Write stores the bitmap at offset; value is truncated/padded to ColSize bytes.
func (p *SchemaEncodingPage) Write(value Bitmap, offset int) {
	begin := offset * p.colSize
	buf := value.Bytes(p.colSize)
	copy(p.data[begin:begin+p.colSize], buf)
}

// Read returns the numColumns-bit bitmap stored at offset.
func (p *SchemaEncodingPage) Read(offset int) Bitmap {
	begin := offset * p.colSize
	return BitmapFromBytes(p.data[begin:begin+p.colSize], p.numColumns)
}
