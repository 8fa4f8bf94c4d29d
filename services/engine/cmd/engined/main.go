package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/enginelink/enginelink/pkg/config"
	"github.com/enginelink/enginelink/pkg/telemetry"
	"github.com/enginelink/enginelink/services/engine/internal/bus"
	"github.com/enginelink/enginelink/services/engine/internal/dispatch"
	"github.com/enginelink/enginelink/services/engine/internal/ops"
	"github.com/enginelink/enginelink/services/engine/internal/server"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Populated by -ldflags in Docker build:
// -X main.version=... -X main.commit=...
var (
	version = "0.0.0"
	commit  = "dev"
)

const serviceName = "engined"

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to YAML config (optional)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		telemetry.NewLogger(os.Stderr, telemetry.Options{Service: serviceName}).
			Error("config load failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	logger := telemetry.NewLogger(os.Stdout, telemetry.Options{
		Service: serviceName,
		Level:   telemetry.Level(cfg.LogLevel),
	})
	counters := telemetry.NewCounterSet()

	logger.Info("service start", map[string]any{
		"version":         version,
		"commit":          commit,
		"addr":            cfg.ListenAddr(),
		"workers":         cfg.Workers,
		"max_events_kept": cfg.MaxEventsKept,
		"ops_addr":        cfg.OpsAddr,
	})

	busOpts := []bus.Option{bus.WithLogger(logger)}
	var journal *bus.SQLJournal
	if cfg.Journal.DSN != "" {
		journal, err = bus.OpenSQLJournal(cfg.Journal.Driver, cfg.Journal.DSN)
		if err != nil {
			logger.Error("journal open failed", map[string]any{
				"driver": cfg.Journal.Driver,
				"error":  err.Error(),
			})
			os.Exit(1)
		}
		defer journal.Close()
		busOpts = append(busOpts, bus.WithJournal(journal))
		logger.Info("journal open", map[string]any{"driver": cfg.Journal.Driver})
	}

	eventBus := bus.New(cfg.MaxEventsKept, busOpts...)
	handler := dispatch.NewHandler(dispatch.NewStateEvaluator(), eventBus, logger, counters)
	srv := server.New(cfg.ListenAddr(), cfg.Workers, handler, logger, counters)
	if err := srv.Start(); err != nil {
		logger.Error("listen failed", map[string]any{"addr": cfg.ListenAddr(), "error": err.Error()})
		os.Exit(1)
	}
	logger.Info("listening", map[string]any{"addr": srv.Addr().String()})

	errCh := make(chan error, 1)
	var opsSrv *http.Server
	if cfg.OpsAddr != "" {
		opsSrv = &http.Server{
			Addr:              cfg.OpsAddr,
			Handler:           ops.NewHandler(eventBus, counters, logger),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := opsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
		logger.Info("ops listening", map[string]any{"addr": cfg.OpsAddr})
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal", map[string]any{"signal": sig.String()})
	case err := <-errCh:
		logger.Error("ops server error", map[string]any{"error": err.Error()})
	}

	if opsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := opsSrv.Shutdown(ctx); err != nil {
			logger.Error("ops shutdown error", map[string]any{"error": err.Error()})
		}
		cancel()
	}
	srv.Stop()
	logger.Info("shutdown complete", map[string]any{"requests": counters.Snapshot()["requests"]})
}
