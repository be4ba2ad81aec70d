// Command lbench runs a small insert throughput benchmark
// against a scratch lstore database and renders a latency-over-time chart,
// following the pack's convention of plotting benchmark results with
// fogleman/gg rather than dumping raw numbers.
package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/fogleman/gg"

	"github.com/wrenlabs/lstore/config"
	"github.com/wrenlabs/lstore/lstoredb"
	"github.com/wrenlabs/lstore/query"
)

func main() {
	n := flag.Int("n", 10000, "number of rows to insert")
	out := flag.String("out", "lbench.png", "output PNG path")
	flag.Parse()

	dir, err := os.MkdirTemp("", "lbench_*")
	if err != nil {
		fail(err)
	}
	defer os.RemoveAll(dir)

	db, err := lstoredb.Open(dir, config.Default())
	if err != nil {
		fail(err)
	}
	defer db.Close()

	t, err := db.CreateTable("bench", 3, 0)
	if err != nil {
		fail(err)
	}
	q := query.New(t, db.WAL(), db.Tracker())

	samples := make([]float64, 0, 100)
	bucket := *n / 100
	if bucket == 0 {
		bucket = 1
	}
	start := time.Now()
	var bucketStart time.Time
	for i := 0; i < *n; i++ {
		if i%bucket == 0 {
			bucketStart = time.Now()
		}
		q.Insert([]int64{int64(i), int64(i * 2), int64(i * 3)})
		if (i+1)%bucket == 0 {
			samples = append(samples, time.Since(bucketStart).Seconds()*1000/float64(bucket))
		}
	}
	total := time.Since(start)
	fmt.Printf("inserted %d rows in %s (%.0f rows/sec)\n", *n, total, float64(*n)/total.Seconds())

	if err := renderChart(*out, samples); err != nil {
		fail(err)
	}
	fmt.Println("chart written to", *out)
}

func renderChart(path string, samples []float64) error {
	const w, h = 800, 400
	dc := gg.NewContext(w, h)
	dc.SetRGB(1, 1, 1)
	dc.Clear()
	dc.SetRGB(0.2, 0.2, 0.2)
	dc.DrawString("lstore insert latency per batch (ms)", 10, 20)

	if len(samples) == 0 {
		return dc.SavePNG(path)
	}
	max := 0.0
	for _, s := range samples {
		max = math.Max(max, s)
	}
	if max == 0 {
		max = 1
	}

	margin := 40.0
	plotW := float64(w) - 2*margin
	plotH := float64(h) - 2*margin - 20
	dc.SetRGB(0.1, 0.4, 0.8)
	dc.SetLineWidth(1.5)
	for i, s := range samples {
		x := margin + plotW*float64(i)/float64(len(samples)-1)
		y := margin + 20 + plotH*(1-s/max)
		if i == 0 {
			dc.MoveTo(x, y)
		} else {
			dc.LineTo(x, y)
		}
	}
	dc.Stroke()
	return dc.SavePNG(path)
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
