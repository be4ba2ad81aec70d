// Command lstore is an interactive REPL over a single lstore database: a
// line-buffered prompt, a handful of dot-commands, and everything else
// treated as a row operation against the table named by the first word.
//
// Usage:
//
//	lstore <path>       open or create a database directory
//	lstore              open a temporary, throwaway database
//
// Dot-commands:
//
//	.help                       print a pointer to this comment
//	.tables                     print a placeholder line; tables are not listed
//	.create TABLE NCOLS KEY     create a table
//	.quit / .exit               close and quit
//
// Row commands (TABLE is the table name; there is no update verb):
//
//	TABLE insert v0 v1 v2 ...
//	TABLE select KEY COLNUM
//	TABLE delete KEY
//	TABLE sum LO HI KEYCOL SUMCOL
package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/wrenlabs/lstore/config"
	"github.com/wrenlabs/lstore/lstoredb"
	"github.com/wrenlabs/lstore/query"
)

const version = "0.1.0"

func main() {
	fmt.Printf("lstore v%s\n", version)

	path := ""
	if len(os.Args) > 1 {
		path = os.Args[1]
	} else {
		tmp, err := os.MkdirTemp("", "lstore_*")
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		defer os.RemoveAll(tmp)
		path = tmp
		fmt.Println("temporary database:", path)
	}

	db, err := lstoredb.Open(path, config.Default())
	if err != nil {
		fmt.Fprintln(os.Stderr, "error opening database:", err)
		os.Exit(1)
	}
	defer db.Close()

	queries := make(map[string]*query.Interface)
	queryFor := func(name string) *query.Interface {
		if q, ok := queries[name]; ok {
			return q
		}
		t := db.Table(name)
		if t == nil {
			return nil
		}
		q := query.New(t, db.WAL(), db.Tracker())
		queries[name] = q
		return q
	}

	fmt.Println("Type .help for commands, .quit to exit.")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 1<<20), 1<<20)
	for {
		fmt.Print("lstore> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ".") {
			if dispatchDot(db, line) {
				break
			}
			continue
		}
		dispatchRow(line, queryFor)
	}
}

func dispatchDot(db *lstoredb.Database, line string) (quit bool) {
	fields := strings.Fields(line)
	switch fields[0] {
	case ".quit", ".exit":
		return true
	case ".help":
		fmt.Println("See `lstore -h` usage comment in cmd/lstore/main.go.")
	case ".create":
		if len(fields) != 4 {
			fmt.Println("usage: .create TABLE NCOLS KEY")
			return false
		}
		n, err1 := strconv.Atoi(fields[2])
		k, err2 := strconv.Atoi(fields[3])
		if err1 != nil || err2 != nil {
			fmt.Println("NCOLS and KEY must be integers")
			return false
		}
		if _, err := db.CreateTable(fields[1], n, k); err != nil {
			fmt.Println("error:", err)
		}
	case ".tables":
		fmt.Println("(table listing requires iterating db.Table(name) for known names)")
	default:
		fmt.Println("unknown command:", fields[0])
	}
	return false
}

func dispatchRow(line string, queryFor func(string) *query.Interface) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		fmt.Println("usage: TABLE verb ...")
		return
	}
	q := queryFor(fields[0])
	if q == nil {
		fmt.Println("no such table:", fields[0])
		return
	}
	switch fields[1] {
	case "insert":
		cols, err := parseInts(fields[2:])
		if err != nil {
			fmt.Println("error:", err)
			return
		}
		fmt.Println(q.Insert(cols))
	case "select":
		if len(fields) != 4 {
			fmt.Println("usage: TABLE select KEY COLNUM")
			return
		}
		key, err := strconv.ParseInt(fields[2], 10, 64)
		col, err2 := strconv.Atoi(fields[3])
		if err != nil || err2 != nil {
			fmt.Println("KEY and COLNUM must be integers")
			return
		}
		rows, ok := q.Select(key, col, nil)
		fmt.Println(rows, ok)
	case "delete":
		if len(fields) != 3 {
			fmt.Println("usage: TABLE delete KEY")
			return
		}
		key, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			fmt.Println("KEY must be an integer")
			return
		}
		fmt.Println(q.Delete(key))
	case "sum":
		if len(fields) != 6 {
			fmt.Println("usage: TABLE sum LO HI KEYCOL SUMCOL")
			return
		}
		lo, e1 := strconv.ParseInt(fields[2], 10, 64)
		hi, e2 := strconv.ParseInt(fields[3], 10, 64)
		keyCol, e3 := strconv.Atoi(fields[4])
		sumCol, e4 := strconv.Atoi(fields[5])
		if e1 != nil || e2 != nil || e3 != nil || e4 != nil {
			fmt.Println("arguments must be integers")
			return
		}
		total, ok := q.Sum(lo, hi, keyCol, sumCol)
		fmt.Println(total, ok)
	default:
		fmt.Println("unknown verb:", fields[1])
	}
}

func parseInts(fields []string) ([]int64, error) {
	out := make([]int64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}
