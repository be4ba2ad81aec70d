// Package config holds the tuning parameters for an lstore database.
//
// Everything here used to be free-floating module constants in the original
// implementation; we keep it a plain struct instead so a process can open
// more than one database with different settings and so tests don't fight
// over global state.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Metadata column indices, fixed by the on-disk format.
const (
	IndirectionColumn     = 0
	RIDColumn             = 1
	TimestampColumn       = 2
	SchemaEncodingColumn  = 3
	BaseRIDColumn         = 4
	NumMetaCols           = 5
)

const (
	// PageSize is the size, in bytes, of every physical page.
	PageSize = 4096
	// DataSize is the width, in bytes, of one signed 64-bit data column entry.
	DataSize = 8
	// ColEncoding is the WAL's encoding width for a column count.
	ColEncoding = 2
	// NQueryEncoding is the WAL's encoding width for a transaction's query count.
	NQueryEncoding = 8
	// MaxTableSizeInt is the WAL's encoding width for a table-name length.
	MaxTableSizeInt = 2
	// MaxTableNameLen is the longest table name the WAL format can frame.
	MaxTableNameLen = 65535

	// BaseRIDBegin is the first RID ever handed to a base record; base RIDs
	// increase from here.
	BaseRIDBegin int64 = 1000
	// TailRIDBegin is the first RID ever handed to a tail record; tail RIDs
	// decrease from here, so BaseRIDBegin and TailRIDBegin never collide.
	TailRIDBegin int64 = 1<<63 - 1

	DBMarker = "lstoredb"
)

// Config is the set of tuning parameters governing one database instance.
type Config struct {
	PageSize int `yaml:"page_size"`
	DataSize int `yaml:"data_size"`

	BufferpoolMaxFrames int           `yaml:"bufferpool_max_frames"`
	BufferpoolPreferRead bool         `yaml:"bufferpool_prefer_read"`
	BufferpoolLockTimeout time.Duration `yaml:"bufferpool_lock_timeout"`
	BufferpoolEvictTimeout time.Duration `yaml:"bufferpool_evict_timeout"`

	// MergeInterval is the number of tail RIDs allocated between background
	// merge triggers (a merge is kicked off every time the tail RID counter
	// crosses a multiple of this value).
	MergeInterval int64 `yaml:"merge_interval"`

	MaxTableNameLen int `yaml:"max_table_name_len"`
}

// Default returns the tuning parameters used when no configuration file is
// supplied, matching the values named in the on-disk format documentation.
func Default() Config {
	return Config{
		PageSize:               PageSize,
		DataSize:               DataSize,
		BufferpoolMaxFrames:    1024,
		BufferpoolPreferRead:   false,
		BufferpoolLockTimeout:  -1,
		BufferpoolEvictTimeout: 10 * time.Second,
		MergeInterval:          512,
		MaxTableNameLen:        MaxTableNameLen,
	}
}

// Load reads a YAML configuration file, filling in defaults for any field
// the file omits.
func Load(path string) (Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DataRecsPerPage is the number of fixed-width int64 slots a data page holds.
func (c Config) DataRecsPerPage() int {
	return c.PageSize / c.DataSize
}

// SchemaRecsPerPage is the number of schema-encoding bitmaps a schema page
// holds for a table with numColumns user columns.
func (c Config) SchemaRecsPerPage(numColumns int) int {
	return c.PageSize / SchemaEncodingColSize(numColumns)
}

// SchemaEncodingColSize is the width, in bytes, of one schema-encoding
// bitmap for a table with numColumns user columns.
func SchemaEncodingColSize(numColumns int) int {
	return (numColumns + 7) / 8
}

// ConceptualPageMaxRecs is the capacity of one conceptual page: the minimum
// of the data-page and schema-page capacities, since a conceptual page is
// full exactly when any of its physical columns runs out of room.
func (c Config) ConceptualPageMaxRecs(numColumns int) int {
	d := c.DataRecsPerPage()
	s := c.SchemaRecsPerPage(numColumns)
	if d < s {
		return d
	}
	return s
}
