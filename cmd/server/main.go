package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Arnav-102/UrbanPulse/internal/metrics"
	"github.com/Arnav-102/UrbanPulse/internal/persistence/indexdb"
	persistlog "github.com/Arnav-102/UrbanPulse/internal/persistence/log"
	"github.com/Arnav-102/UrbanPulse/internal/sim/tuning"
	"github.com/Arnav-102/UrbanPulse/internal/sim/world"
	"github.com/Arnav-102/UrbanPulse/internal/transport/control"
	"github.com/Arnav-102/UrbanPulse/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8000", "http listen address")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite history index")
		seed       = flag.Int64("seed", 0, "override the tuning seed (0 keeps the configured one)")
		logLevel   = flag.String("log_level", "info", "log level (debug, info, warn, error)")
	)
	flag.Parse()

	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if lvl, err := logrus.ParseLevel(*logLevel); err == nil {
		logger.SetLevel(lvl)
	} else {
		logger.WithField("level", *logLevel).Warn("unknown log level; using info")
	}

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.WithError(err).Fatal("load tuning")
		}
		logger.WithField("path", *tuningPath).Warn("tuning not found; using defaults")
		tune = tuning.Defaults()
	}
	if *seed != 0 {
		tune.Seed = *seed
	}

	w, err := world.NewFromTuning(tune, logger.WithField("component", "world"))
	if err != nil {
		logger.WithError(err).Fatal("world")
	}

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		logger.WithError(err).WithField("dir", *dataDir).Fatal("create data dir")
	}
	tickLog := persistlog.NewTickLogger(*dataDir)
	auditLog := persistlog.NewAuditLogger(*dataDir)
	defer tickLog.Close()
	defer auditLog.Close()
	w.AddTickLogger(tickLog)
	w.AddAuditLogger(auditLog)

	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(*dataDir, "index", "history.sqlite"))
		if err != nil {
			logger.WithError(err).Fatal("open history index")
		}
		defer idx.Close()
		w.AddSnapshotSink(idx)
		w.AddAuditLogger(idx)
	}

	collector := metrics.NewCollector("urbanpulse")
	w.SetRecorder(collector)

	ctx, cancel := signalContext()
	defer cancel()

	go func() {
		if err := w.Run(ctx); err != nil && err != context.Canceled {
			logger.WithError(err).Error("world stopped")
		}
	}()

	ctl := control.NewServer(w, logger.WithField("component", "control"), control.Options{
		PerSecond: tune.Limits.ControlPerSecond,
		Burst:     tune.Limits.ControlBurst,
		Recorder:  collector,
	})
	mux := buildMux(routes{
		world:   w,
		control: ctl,
		ws:      ws.NewServer(w, ctl.Apply, logger.WithField("component", "ws"), tune.Limits.ObserverQueue),
		metrics: collector,
		history: idx,
		admin:   envBool("UP_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()),
		pprof:   envBool("UP_ENABLE_PPROF_HTTP", false),
		log:     logger,
	})

	srv := &http.Server{
		Addr:              *addr,
		Handler:           withCORS(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.WithFields(logrus.Fields{
		"addr":   *addr,
		"seed":   tune.Seed,
		"period": tune.TickPeriodMs,
	}).Info("listening")
	if err := serve(ctx, srv, w); err != nil {
		logger.WithError(err).Fatal("ListenAndServe")
	}
	logger.Info("stopped")
}

// serve runs srv until ctx is cancelled. On a clean shutdown it returns only
// after the world loop has exited, so the sinks closed by the caller no longer
// receive writes.
func serve(ctx context.Context, srv *http.Server, w *world.World) error {
	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	<-w.Done()
	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
