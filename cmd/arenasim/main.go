package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"gridarena.ai/internal/persistence/indexdb"
	persistlog "gridarena.ai/internal/persistence/log"
	"gridarena.ai/internal/persistence/report"
	"gridarena.ai/internal/persistence/snapshot"
	"gridarena.ai/internal/sim/control"
	"gridarena.ai/internal/sim/genome"
	"gridarena.ai/internal/sim/metrics"
	"gridarena.ai/internal/sim/round"
	"gridarena.ai/internal/sim/tuning"
	"gridarena.ai/internal/transport/observer"
)

func main() {
	var (
		genomePath = flag.String("genome", "./configs/genomes.yaml", "genome collection (yaml or json); missing or invalid falls back to defaults")
		modeName   = flag.String("mode", "", "game mode to run (default: the collection's mode, else its first genome)")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		seed       = flag.Int64("seed", 0, "override the genome seed (0 keeps it; a genome seed of 0 picks one from the clock)")
		sessionID  = flag.String("id", "", "session id (default: random uuid)")
		realtime   = flag.Bool("realtime", false, "tick at tuning tick_rate_hz in wall-clock time (forced for user-controlled agents)")
		step       = flag.Float64("step", 0, "headless fixed step in seconds (default: tuning fixed_step)")
		observe    = flag.String("observer", "", "observer http listen address, e.g. 127.0.0.1:8080 (empty to disable)")
		snapshots  = flag.Bool("snapshots", false, "write an arena snapshot at every round start")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite session index")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[arenasim] ", log.LstdFlags|log.Lmicroseconds)

	col, err := genome.Load(*genomePath)
	if err != nil {
		logger.Printf("load genomes: %v (using defaults)", err)
	}
	g, err := col.Resolve(*modeName)
	if err != nil {
		logger.Printf("resolve genome: %v", err)
	}
	if *seed != 0 {
		g.Seed = *seed
	}
	if g.Seed == 0 {
		g.Seed = time.Now().UnixNano()
		logger.Printf("genome seed 0: picked %d", g.Seed)
	}

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Printf("tuning not found (%s); using defaults", *tuningPath)
		} else {
			logger.Printf("load tuning: %v (using defaults)", err)
		}
	}

	id := strings.TrimSpace(*sessionID)
	if id == "" {
		id = uuid.NewString()
	}
	rt := *realtime || g.Agent.UserControl
	dt := *step
	if dt <= 0 || rt {
		dt = tune.FixedStep
	}

	logger.Printf("session %s: mode=%s seed=%d rounds=%d arena=%dx%d realtime=%v step=%.4f",
		id, g.Mode, g.Seed, g.Rules.Rounds, g.Arena.Width, g.Arena.Height, rt, dt)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var sinks []round.Sink
	sinks = append(sinks, progressSink{logger: logger})

	roundLog, err := persistlog.NewRoundLogger(persistlog.RoundLogPath(*dataDir, id), persistlog.SessionHeader{
		SessionID: id,
		Genome:    g,
		Tuning:    tune,
		FixedStep: dt,
		Realtime:  rt,
	}, logger)
	if err != nil {
		logger.Fatalf("open round log: %v", err)
	}
	defer roundLog.Close()
	sinks = append(sinks, roundLog)

	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(*dataDir, "index", "arena.sqlite"))
		if err != nil {
			logger.Fatalf("open index db: %v", err)
		}
		defer idx.Close()
		if err := idx.BeginSession(ctx, id, g, tune); err != nil {
			logger.Printf("index db: begin session: %v", err)
		}
		sinks = append(sinks, idx)
	}

	if *snapshots {
		sinks = append(sinks, snapshot.NewWriter(*dataDir, logger))
	}

	reportSink := report.NewSink(report.Path(*dataDir, id), logger)
	sinks = append(sinks, reportSink)

	input := &control.HeldInput{}
	var httpSrv *http.Server
	if addr := strings.TrimSpace(*observe); addr != "" {
		obs := observer.NewServer(observer.Config{SessionID: id, Genome: g, Tuning: tune, Input: input}, logger)
		if idx != nil {
			obs.AddMetrics(func(w io.Writer) { writeIndexMetrics(w, id, idx.Stats()) })
		}
		sinks = append(sinks, obs)
		httpSrv = &http.Server{Addr: addr, Handler: obs.Routes(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Printf("observer listening on %s", addr)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Printf("observer: %v", err)
			}
		}()
	}

	sess := round.NewSession(g, tune,
		round.WithID(id),
		round.WithLogger(logger),
		round.WithInput(input),
		round.WithSinks(sinks...),
	)

	var rep metrics.Report
	if rt {
		rep, err = sess.Run(ctx)
	} else {
		rep, err = sess.RunHeadless(ctx, dt)
	}

	if httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = httpSrv.Shutdown(shutdownCtx)
		cancel()
	}

	if err != nil {
		logger.Printf("session %s stopped after %d rounds: %v", id, len(sess.Outcomes()), err)
		_ = roundLog.Close()
		if idx != nil {
			_ = idx.Close()
		}
		os.Exit(1)
	}
	if err := roundLog.Err(); err != nil {
		logger.Printf("round log incomplete: %v", err)
	}
	if err := reportSink.Err(); err != nil {
		logger.Printf("report not written: %v", err)
	}
	logger.Printf("session %s done: %s", id, rep.Summary())
	fmt.Println(reportSink.Path())
}

// progressSink logs every resolved round.
type progressSink struct {
	round.NopSink
	logger *log.Logger
}

func (p progressSink) RoundEnded(e round.RoundEnd) {
	o := e.Outcome
	p.logger.Printf("round %d: %s in %.2fs (seed=%d attempts=%d collected=%d)", o.Round, o.Cause, o.Elapsed, e.Seed, e.Attempts, o.Collected)
}

func writeIndexMetrics(w io.Writer, id string, st indexdb.Stats) {
	fmt.Fprintf(w, "# HELP gridarena_index_queue_depth Index writer backlog.\n")
	fmt.Fprintf(w, "# TYPE gridarena_index_queue_depth gauge\n")
	fmt.Fprintf(w, "gridarena_index_queue_depth{session=%q} %d\n", id, st.QueueDepth)

	fmt.Fprintf(w, "# HELP gridarena_index_dropped_total Index writes dropped because the queue was full.\n")
	fmt.Fprintf(w, "# TYPE gridarena_index_dropped_total counter\n")
	fmt.Fprintf(w, "gridarena_index_dropped_total{session=%q,kind=%q} %d\n", id, "round", st.DropRoundTotal)
	fmt.Fprintf(w, "gridarena_index_dropped_total{session=%q,kind=%q} %d\n", id, "session", st.DropSessionTotal)
}
