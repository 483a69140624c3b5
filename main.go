package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"crypto-etl/internal/api"
	"crypto-etl/internal/config"
	"crypto-etl/internal/database"
	"crypto-etl/internal/logging"
	"crypto-etl/internal/metrics"
	"crypto-etl/internal/profiling"
	"crypto-etl/internal/sources"
	"crypto-etl/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid configuration:", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.Environment)
	if err != nil {
		log.Fatal("Failed to build logger:", err)
	}
	defer logger.Sync()

	stopProfiling, err := profiling.Start("crypto-etl.api", cfg.PyroscopeServer, cfg.Environment, logger)
	if err != nil {
		logger.Warn("profiling disabled", zap.Error(err))
	} else {
		defer stopProfiling()
	}

	db, err := database.Initialize(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close(db)

	st := store.New(db, cfg.BatchSize)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	feed := api.NewRunFeed(st, cfg.RunFeedInterval, logger.Named("feed"))
	go feed.Run(ctx)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()

	names := make([]string, 0, 4)
	for _, src := range sources.Build(cfg, logger) {
		names = append(names, src.Name())
	}
	api.SetupRoutes(r, st, api.Options{
		Sources:           names,
		StaleRunThreshold: cfg.StaleRunThreshold,
		Metrics:           metrics.New(),
		Feed:              feed,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
}
