// Command lstored runs an lstore database as a long-lived process: it
// serves the database's private Prometheus registry over /metrics and runs
// a periodic checkpoint sweep in the background, grounded in the cron-based
// scheduler pattern used elsewhere in the retrieval pack for recurring
// background maintenance.
package main

import (
	"flag"
	"net/http"
	"os"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/wrenlabs/lstore/config"
	"github.com/wrenlabs/lstore/logging"
	"github.com/wrenlabs/lstore/lstoredb"
)

var log = logging.For("lstored")

func main() {
	path := flag.String("db", "", "database directory")
	addr := flag.String("addr", ":8428", "listen address for /metrics")
	checkpointSchedule := flag.String("checkpoint", "@every 1m", "cron schedule for the checkpoint sweep")
	flag.Parse()

	if *path == "" {
		log.Error().Msg("missing -db")
		os.Exit(1)
	}

	instanceID := uuid.New().String()

	db, err := lstoredb.Open(*path, config.Default())
	if err != nil {
		log.Error().Err(err).Msg("failed to open database")
		os.Exit(1)
	}
	defer db.Close()

	log.Info().Str("instance", instanceID).Str("path", *path).Msg("database open")

	sched := cron.New()
	if _, err := sched.AddFunc(*checkpointSchedule, func() {
		if err := db.Checkpoint(); err != nil {
			log.Error().Err(err).Msg("periodic checkpoint failed")
		} else {
			log.Debug().Msg("periodic checkpoint complete")
		}
	}); err != nil {
		log.Error().Err(err).Msg("bad checkpoint schedule")
		os.Exit(1)
	}
	sched.Start()
	defer sched.Stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(db.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})

	log.Info().Str("addr", *addr).Msg("serving /metrics")
	if err := http.ListenAndServe(*addr, mux); err != nil {
		log.Error().Err(err).Msg("http server exited")
		os.Exit(1)
	}
}
