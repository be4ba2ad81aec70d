// Package record defines the in-memory row shape shared by the table,
// page directory, and query layers.
package record

import "github.com/wrenlabs/lstore/config"

// Record is a logical row: five metadata columns followed by the table's
// user-defined data columns, all signed 64-bit integers except for the
// schema-encoding bitmap.
type Record struct {
	RawColumns      []int64
	SchemaEncoding  uint64 // bitmap, bit i == column i carries a value
	NumDataColumns  int
}

// New builds a record with numDataCols user columns, all metadata zeroed.
func New(numDataCols int) *Record {
	return &Record{
		RawColumns:     make([]int64, config.NumMetaCols+numDataCols),
		NumDataColumns: numDataCols,
	}
}

func (r *Record) Indirection() int64     { return r.RawColumns[config.IndirectionColumn] }
func (r *Record) RID() int64             { return r.RawColumns[config.RIDColumn] }
func (r *Record) Timestamp() int64       { return r.RawColumns[config.TimestampColumn] }
func (r *Record) BaseRID() int64         { return r.RawColumns[config.BaseRIDColumn] }

func (r *Record) SetIndirection(v int64) { r.RawColumns[config.IndirectionColumn] = v }
func (r *Record) SetRID(v int64)         { r.RawColumns[config.RIDColumn] = v }
func (r *Record) SetTimestamp(v int64)   { r.RawColumns[config.TimestampColumn] = v }
func (r *Record) SetBaseRID(v int64)     { r.RawColumns[config.BaseRIDColumn] = v }

// IsBaseRecord reports whether this record's RID and BaseRID coincide,
// which is only true for a record living in the base image.
func (r *Record) IsBaseRecord() bool { return r.RID() == r.BaseRID() }

// DataColumn returns the value of user column i (0-indexed, post-metadata).
func (r *Record) DataColumn(i int) int64 {
	return r.RawColumns[config.NumMetaCols+i]
}

// SetDataColumn sets the value of user column i.
func (r *Record) SetDataColumn(i int, v int64) {
	r.RawColumns[config.NumMetaCols+i] = v
}

// SchemaBit reports whether column i's bit is set in the schema encoding.
func (r *Record) SchemaBit(i int) bool {
	return r.SchemaEncoding&(1<<uint(i)) != 0
}

// SetSchemaBit sets or clears column i's bit in the schema encoding.
func (r *Record) SetSchemaBit(i int, v bool) {
	if v {
		r.SchemaEncoding |= 1 << uint(i)
	} else {
		r.SchemaEncoding &^= 1 << uint(i)
	}
}

// IsDeleted reports whether this is a tail record recording a deletion: a
// non-base record whose schema encoding carries no set bits.
func (r *Record) IsDeleted() bool {
	return !r.IsBaseRecord() && r.SchemaEncoding == 0
}

// Project returns the user columns selected by mask (one entry per set
// bit position, in column order), mirroring the query layer's projection
// argument.
func (r *Record) Project(mask []int) []int64 {
	out := make([]int64, 0, len(mask))
	for i, bit := range mask {
		if bit != 0 {
			out = append(out, r.DataColumn(i))
		}
	}
	return out
}
