package query

import "fmt"

var errNoSuchKey = fmt.Errorf("query: no row with that key")
