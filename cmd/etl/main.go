package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crypto-etl/internal/config"
	"crypto-etl/internal/database"
	"crypto-etl/internal/etl"
	"crypto-etl/internal/logging"
	"crypto-etl/internal/metrics"
	"crypto-etl/internal/profiling"
	"crypto-etl/internal/sources"
	"crypto-etl/internal/store"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

var (
	once     = flag.Bool("once", false, "run a single ingestion pass and exit")
	interval = flag.Duration("interval", 0, "pass interval, overrides ETL_INTERVAL")
)

func main() {
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg := config.Load()
	if *interval > 0 {
		cfg.ETLInterval = *interval
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid configuration:", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.Environment)
	if err != nil {
		log.Fatal("Failed to build logger:", err)
	}
	defer logger.Sync()

	os.Exit(run(cfg, logger))
}

func run(cfg *config.Config, logger *zap.Logger) int {
	stopProfiling, err := profiling.Start("crypto-etl.worker", cfg.PyroscopeServer, cfg.Environment, logger)
	if err != nil {
		logger.Warn("profiling disabled", zap.Error(err))
	} else {
		defer stopProfiling()
	}

	db, err := database.Initialize(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", zap.Error(err))
		return 1
	}
	defer database.Close(db)

	st := store.New(db, cfg.BatchSize)
	m := metrics.New()

	srcs := sources.Build(cfg, logger)
	if len(srcs) == 0 {
		logger.Error("no sources enabled")
		return 1
	}

	startedBy := "scheduler"
	if *once {
		startedBy = "manual"
	}
	runner := etl.NewRunner(st, srcs, etl.Options{
		Retry: etl.RetryPolicy{
			MaxAttempts: cfg.MaxRetries,
			MinDelay:    cfg.RetryMin,
			MaxDelay:    cfg.RetryMax,
		},
		StaleRunThreshold: cfg.StaleRunThreshold,
		StartedBy:         startedBy,
		Metrics:           m,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *once {
		result, err := runner.RunOnce(ctx)
		if err != nil {
			logger.Error("ingestion pass aborted", zap.Error(err))
			return 1
		}
		logPass(logger, result)
		return 0
	}

	srv := metricsServer(cfg.MetricsPort, m, st)
	go func() {
		logger.Info("metrics server starting", zap.String("port", cfg.MetricsPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	scheduler := etl.NewScheduler(runner, cfg.ETLInterval, logger.Named("scheduler"))
	scheduler.OnPass = func(p *etl.PassResult) { logPass(logger, p) }

	logger.Info("worker started",
		zap.Int("pid", os.Getpid()),
		zap.Int("sources", len(srcs)),
		zap.Duration("interval", cfg.ETLInterval))
	scheduler.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown failed", zap.Error(err))
	}
	logger.Info("worker stopped")
	return 0
}

// metricsServer exposes /metrics and a liveness probe for the worker process.
func metricsServer(port string, m *metrics.Collector, st *store.Store) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := st.Ping(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func logPass(logger *zap.Logger, p *etl.PassResult) {
	for _, r := range p.Results {
		fields := []zap.Field{
			zap.String("pass_id", p.PassID),
			zap.String("source", r.Source),
			zap.String("status", r.Status),
			zap.Int("processed", r.Processed),
			zap.Int("failed", r.Failed),
			zap.Int("skipped", r.Skipped),
			zap.Int("attempts", r.Attempts),
		}
		if r.Err != nil {
			fields = append(fields, zap.Error(r.Err))
		}
		logger.Info("source summary", fields...)
	}
	logger.Info("pass finished",
		zap.String("pass_id", p.PassID),
		zap.Duration("elapsed", p.FinishedAt.Sub(p.StartedAt)))
}
