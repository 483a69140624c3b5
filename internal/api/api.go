package api

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"crypto-etl/internal/metrics"
	"crypto-etl/internal/models"
	"crypto-etl/internal/store"

	"github.com/gin-gonic/gin"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	defaultRunLimit = 10
	maxRunLimit     = 100
)

// Reader is the read side of the store used by the API. *store.Store satisfies it.
type Reader interface {
	Ping(ctx context.Context) error
	ListUnified(ctx context.Context, f store.UnifiedFilter) ([]models.UnifiedCrypto, int64, error)
	RecentRuns(ctx context.Context, source string, limit int) ([]models.Run, error)
	RecentDrift(ctx context.Context, source string, limit int) ([]models.SchemaDrift, error)
	LatestRunPerSource(ctx context.Context) (map[string]models.Run, error)
	Stats(ctx context.Context, sources []string) ([]store.SourceStats, error)
}

type Options struct {
	// Sources are the configured source names, reported even before their first run.
	Sources           []string
	StaleRunThreshold time.Duration
	Metrics           *metrics.Collector
	Feed              *RunFeed
	Version           string
}

type APIHandler struct {
	store      Reader
	sources    []string
	staleAfter time.Duration
	metrics    *metrics.Collector
	feed       *RunFeed
	version    string
	now        func() time.Time
}

func SetupRoutes(r *gin.Engine, st Reader, opts Options) *APIHandler {
	if opts.StaleRunThreshold <= 0 {
		opts.StaleRunThreshold = 2 * time.Hour
	}
	if opts.Version == "" {
		opts.Version = "1.0.0"
	}
	handler := &APIHandler{
		store:      st,
		sources:    opts.Sources,
		staleAfter: opts.StaleRunThreshold,
		metrics:    opts.Metrics,
		feed:       opts.Feed,
		version:    opts.Version,
		now:        func() time.Time { return time.Now().UTC() },
	}

	r.Use(corsMiddleware(), requestIDMiddleware())
	if handler.metrics != nil {
		r.Use(metricsMiddleware(handler.metrics))
		r.GET("/metrics", gin.WrapH(handler.metrics.Handler()))
	}

	r.GET("/", handler.Root)
	r.GET("/health", handler.Health)
	r.GET("/data", handler.ListData)
	r.GET("/stats", handler.Stats)
	r.GET("/runs", handler.ListRuns)
	r.GET("/drift", handler.ListDrift)
	if handler.feed != nil {
		r.GET("/ws/runs", handler.feed.ServeWS)
	}
	return handler
}

func (h *APIHandler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "crypto-etl",
		"version": h.version,
		"endpoints": []string{
			"/health", "/data", "/stats", "/runs", "/drift", "/metrics", "/ws/runs",
		},
	})
}

// Health reports database reachability and the last run status of every source.
// A running row older than the stale threshold is reported as "stale".
func (h *APIHandler) Health(c *gin.Context) {
	ctx := c.Request.Context()

	if err := h.store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":    "unhealthy",
			"database":  "disconnected",
			"error":     err.Error(),
			"timestamp": h.now(),
		})
		return
	}

	latest, err := h.store.LatestRunPerSource(ctx)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":    "unhealthy",
			"database":  "connected",
			"error":     err.Error(),
			"timestamp": h.now(),
		})
		return
	}

	sources := gin.H{}
	for _, name := range h.sourceNames(latest) {
		run, ok := latest[name]
		if !ok {
			sources[name] = gin.H{"status": "never_run"}
			continue
		}
		status := run.Status
		if status == models.RunStatusRunning && h.now().Sub(run.StartedAt) > h.staleAfter {
			status = "stale"
		}
		sources[name] = gin.H{
			"status":       status,
			"last_run_at":  run.StartedAt,
			"completed_at": run.CompletedAt,
			"run_id":       run.RunID,
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"database":  "connected",
		"sources":   sources,
		"timestamp": h.now(),
	})
}

// sourceNames returns configured sources followed by any others seen in run history.
func (h *APIHandler) sourceNames(latest map[string]models.Run) []string {
	names := append([]string(nil), h.sources...)
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		seen[n] = true
	}
	for n := range latest {
		if !seen[n] {
			names = append(names, n)
			seen[n] = true
		}
	}
	return names
}

func (h *APIHandler) ListData(c *gin.Context) {
	start := time.Now()

	page, ok := intQuery(c, "page", 1, 1, math.MaxInt32)
	if !ok {
		return
	}
	pageSize, ok := intQuery(c, "page_size", defaultPageSize, 1, maxPageSize)
	if !ok {
		return
	}

	rows, total, err := h.store.ListUnified(c.Request.Context(), store.UnifiedFilter{
		Source:   c.Query("source"),
		Symbol:   c.Query("symbol"),
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	c.JSON(http.StatusOK, gin.H{
		"data": rows,
		"pagination": gin.H{
			"page":        page,
			"page_size":   pageSize,
			"total":       total,
			"total_pages": totalPages,
			"has_next":    page < totalPages,
		},
		"request_id":     c.GetString(requestIDKey),
		"api_latency_ms": float64(time.Since(start).Microseconds()) / 1000,
	})
}

func (h *APIHandler) Stats(c *gin.Context) {
	latest, err := h.store.LatestRunPerSource(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	stats, err := h.store.Stats(c.Request.Context(), h.sourceNames(latest))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sources":      stats,
		"generated_at": h.now(),
	})
}

func (h *APIHandler) ListRuns(c *gin.Context) {
	limit, ok := intQuery(c, "limit", defaultRunLimit, 1, maxRunLimit)
	if !ok {
		return
	}
	runs, err := h.store.RecentRuns(c.Request.Context(), c.Query("source"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}

func (h *APIHandler) ListDrift(c *gin.Context) {
	limit, ok := intQuery(c, "limit", defaultPageSize, 1, maxPageSize)
	if !ok {
		return
	}
	events, err := h.store.RecentDrift(c.Request.Context(), c.Query("source"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"drift_events": events, "count": len(events)})
}

// intQuery parses an optional integer query parameter and writes a 400 when it is
// malformed or outside [min, max].
func intQuery(c *gin.Context, key string, def, min, max int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": key + " must be an integer"})
		return 0, false
	}
	if v < min || v > max {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": key + " must be between " + strconv.Itoa(min) + " and " + strconv.Itoa(max),
		})
		return 0, false
	}
	return v, true
}
