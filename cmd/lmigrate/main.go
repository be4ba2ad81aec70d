// Command lmigrate copies rows from an external Postgres or MySQL table
// into an lstore table. lstore columns are fixed-width signed 64-bit
// integers, so any text column from the source database is folded into an
// int64 via a normalized-then-hashed encoding rather than dropped: normalize
// first (so "Ada" and "ada" migrate to the same value, matching collation
// behavior source engines apply to indexed text), then hash.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"hash/fnv"
	"os"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/wrenlabs/lstore/config"
	"github.com/wrenlabs/lstore/lstoredb"
	"github.com/wrenlabs/lstore/query"
)

func main() {
	driver := flag.String("driver", "postgres", "source SQL driver: postgres or mysql")
	dsn := flag.String("dsn", "", "source database DSN")
	query_ := flag.String("query", "", "source SELECT statement, columns in table-column order")
	dbPath := flag.String("db", "", "destination lstore database directory")
	table := flag.String("table", "", "destination table name")
	keyCol := flag.Int("key", 0, "destination key column index")
	flag.Parse()

	if *dsn == "" || *query_ == "" || *dbPath == "" || *table == "" {
		fmt.Fprintln(os.Stderr, "usage: lmigrate -driver=postgres|mysql -dsn=... -query=... -db=... -table=... [-key=N]")
		os.Exit(1)
	}

	src, err := sql.Open(*driver, *dsn)
	if err != nil {
		fail(err)
	}
	defer src.Close()

	rows, err := src.Query(*query_)
	if err != nil {
		fail(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		fail(err)
	}

	db, err := lstoredb.Open(*dbPath, config.Default())
	if err != nil {
		fail(err)
	}
	defer db.Close()

	t := db.Table(*table)
	if t == nil {
		t, err = db.CreateTable(*table, len(cols), *keyCol)
		if err != nil {
			fail(err)
		}
	}
	q := query.New(t, db.WAL(), db.Tracker())

	caser := cases.Lower(language.AmericanEnglish)

	scanBuf := make([]interface{}, len(cols))
	raw := make([]sql.RawBytes, len(cols))
	for i := range scanBuf {
		scanBuf[i] = &raw[i]
	}

	var n int
	for rows.Next() {
		if err := rows.Scan(scanBuf...); err != nil {
			fail(err)
		}
		vals := make([]int64, len(cols))
		for i, b := range raw {
			vals[i] = encodeCell(b, caser)
		}
		if !q.Insert(vals) {
			fmt.Fprintf(os.Stderr, "warning: row %d failed to insert\n", n)
		}
		n++
	}
	if err := rows.Err(); err != nil {
		fail(err)
	}
	fmt.Printf("migrated %d rows into %q\n", n, *table)
}

// encodeCell folds and hashes a text cell into an int64, or parses it
// directly if it is already numeric.
func encodeCell(b sql.RawBytes, caser cases.Caser) int64 {
	if len(b) == 0 {
		return 0
	}
	var v int64
	if _, err := fmt.Sscanf(string(b), "%d", &v); err == nil {
		return v
	}
	normalized := caser.String(string(b))
	h := fnv.New64a()
	h.Write([]byte(normalized))
	return int64(h.Sum64())
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
