// Package etl drives ingestion passes: fetch, validate, detect drift, write and
// checkpoint, one source at a time.
package etl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crypto-etl/internal/drift"
	"crypto-etl/internal/metrics"
	"crypto-etl/internal/models"
	"crypto-etl/internal/schema"
	"crypto-etl/internal/sources"
	"crypto-etl/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// ErrStoreUnavailable is the only error that aborts a whole pass.
var ErrStoreUnavailable = errors.New("store unavailable")

// Store is the persistence the runner needs. *store.Store satisfies it.
type Store interface {
	Ping(ctx context.Context) error
	GetCheckpoint(ctx context.Context, source string) (*models.Checkpoint, error)
	SetCheckpoint(ctx context.Context, source string, marker time.Time, lastID string, processed int) error
	BeginRun(ctx context.Context, source, passID string, metadata map[string]string) (*models.Run, error)
	FinishRun(ctx context.Context, run *models.Run, out store.RunOutcome) error
	ReapStale(ctx context.Context, cutoff time.Time) (int64, error)
	AppendRaw(ctx context.Context, rows []models.RawRecord) error
	Upsert(ctx context.Context, rows []models.UnifiedCrypto) (store.UpsertResult, error)
	SourceMarkers(ctx context.Context, source string, coinIDs []string) (map[string]time.Time, error)
	RecordDrift(ctx context.Context, ev *models.SchemaDrift) error
	LoadBaselines(ctx context.Context) (map[string]map[string]string, error)
	SaveBaseline(ctx context.Context, source string, fields map[string]string) error
}

// State is where a source is in its per-run state machine.
type State string

const (
	StateIdle       State = "idle"
	StateFetching   State = "fetching"
	StateValidating State = "validating"
	StateWriting    State = "writing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

type Options struct {
	Retry             RetryPolicy
	StaleRunThreshold time.Duration
	// StartedBy is stored in each run's metadata, e.g. "scheduler" or "manual".
	StartedBy string
	Metrics   *metrics.Collector
}

type Runner struct {
	store      Store
	sources    []sources.Source
	policy     RetryPolicy
	staleAfter time.Duration
	startedBy  string
	metrics    *metrics.Collector
	logger     *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewRunner(st Store, srcs []sources.Source, opts Options, logger *zap.Logger) *Runner {
	if opts.StaleRunThreshold <= 0 {
		opts.StaleRunThreshold = 2 * time.Hour
	}
	if opts.StartedBy == "" {
		opts.StartedBy = "scheduler"
	}
	return &Runner{
		store:      st,
		sources:    srcs,
		policy:     opts.Retry.withDefaults(),
		staleAfter: opts.StaleRunThreshold,
		startedBy:  opts.StartedBy,
		metrics:    opts.Metrics,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		sleep:      sleepContext,
	}
}

// SourceResult is the outcome of one source within a pass.
type SourceResult struct {
	Source    string
	RunID     string
	Status    string
	State     State
	Processed int
	Failed    int
	Skipped   int
	Attempts  int
	Delays    []time.Duration
	Drift     *models.SchemaDrift
	Err       error
}

type PassResult struct {
	PassID     string
	StartedAt  time.Time
	FinishedAt time.Time
	Results    []SourceResult
}

// RunOnce performs one ingestion pass over every source in order. A source that
// fails is recorded and the pass moves on; only an unreachable store aborts it.
func (r *Runner) RunOnce(ctx context.Context) (*PassResult, error) {
	pass := &PassResult{PassID: uuid.NewString(), StartedAt: r.now()}
	log := r.logger.With(zap.String("pass_id", pass.PassID))

	if err := r.store.Ping(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if n, err := r.store.ReapStale(ctx, r.now().Add(-r.staleAfter)); err != nil {
		log.Warn("failed to reap stale runs", zap.Error(err))
	} else if n > 0 {
		log.Warn("marked abandoned runs as failed", zap.Int64("count", n))
	}

	stored, err := r.store.LoadBaselines(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: load baselines: %v", ErrStoreUnavailable, err)
	}
	baselines := make(map[string]drift.Shape, len(stored))
	for src, fields := range stored {
		baselines[src] = drift.Shape(fields)
	}
	detector := drift.NewDetector(baselines)

	log.Info("ingestion pass started", zap.Int("sources", len(r.sources)))
	for _, src := range r.sources {
		if ctx.Err() != nil {
			log.Warn("pass interrupted", zap.Error(ctx.Err()))
			break
		}
		pass.Results = append(pass.Results, r.runSource(ctx, pass.PassID, src, detector))
	}
	pass.FinishedAt = r.now()

	log.Info("ingestion pass finished",
		zap.Int("runs", len(pass.Results)),
		zap.Duration("elapsed", pass.FinishedAt.Sub(pass.StartedAt)),
	)
	return pass, nil
}

type validRecord struct {
	rec    *schema.Record
	marker time.Time
}

func (r *Runner) runSource(ctx context.Context, passID string, src sources.Source, detector *drift.Detector) SourceResult {
	name := src.Name()
	log := r.logger.With(zap.String("source", name), zap.String("pass_id", passID))
	res := SourceResult{Source: name, State: StateIdle}
	started := r.now()

	run, err := r.store.BeginRun(ctx, name, passID, map[string]string{"started_by": r.startedBy})
	if err != nil {
		log.Error("failed to record run start", zap.Error(err))
		res.State = StateFailed
		res.Status = models.RunStatusFailed
		res.Err = err
		return res
	}
	res.RunID = run.RunID
	log = log.With(zap.String("run_id", run.RunID))

	fail := func(err error) SourceResult {
		res.State = StateFailed
		res.Status = models.RunStatusFailed
		res.Err = err
		r.finish(ctx, log, run, &res, started)
		return res
	}

	cp, err := r.store.GetCheckpoint(ctx, name)
	if err != nil {
		return fail(fmt.Errorf("read checkpoint: %w", err))
	}

	// Fetching
	res.State = StateFetching
	fetched := r.fetchWithRetry(ctx, src, cp)
	res.Attempts = fetched.Attempts
	res.Delays = fetched.Delays
	if fetched.Outcome != FetchSucceeded {
		log.Error("fetch failed",
			zap.String("outcome", fetched.Outcome.String()),
			zap.Int("attempts", fetched.Attempts),
			zap.Error(fetched.Err),
		)
		return fail(fetched.Err)
	}
	batch := fetched.Batch

	// Validating
	res.State = StateValidating
	sch := src.Schema()
	valid := make([]validRecord, 0, len(batch.Payloads))
	for _, p := range batch.Payloads {
		rec, err := sch.Validate(p)
		if err != nil {
			res.Failed++
			log.Warn("payload failed validation", zap.Error(err))
			continue
		}
		for _, a := range rec.Anomalies {
			log.Debug("optional field nulled", zap.String("coin_id", rec.CoinID), zap.String("field", a.Field), zap.String("reason", a.Reason))
		}
		valid = append(valid, validRecord{rec: rec, marker: rec.Marker(batch.FetchedAt)})
	}

	valid, err = r.dropStale(ctx, name, valid, &res)
	if err != nil {
		return fail(err)
	}

	if len(batch.Payloads) > 0 {
		r.checkDrift(ctx, log, name, run.RunID, batch.Payloads, sch, detector, &res)
	}

	if len(valid) == 0 {
		// empty or fully skipped batches complete without touching the checkpoint
		res.Status = statusFor(0, res.Failed)
		res.State = StateCompleted
		if res.Status == models.RunStatusFailed {
			res.State = StateFailed
		}
		r.finish(ctx, log, run, &res, started)
		return res
	}

	// Writing
	res.State = StateWriting
	ingested := r.now()
	raw := make([]models.RawRecord, len(valid))
	unified := make([]models.UnifiedCrypto, len(valid))
	var maxMarker time.Time
	var maxCoin string
	for i, v := range valid {
		raw[i] = models.RawRecord{
			Source:     name,
			RunID:      run.RunID,
			CoinID:     v.rec.CoinID,
			Payload:    datatypes.JSONMap(v.rec.Payload),
			IngestedAt: ingested,
		}
		unified[i] = v.rec.ToUnified(name, v.marker)
		if !v.marker.Before(maxMarker) {
			maxMarker = v.marker
			maxCoin = v.rec.CoinID
		}
	}

	if err := r.store.AppendRaw(ctx, raw); err != nil {
		res.Failed += len(valid)
		return fail(err)
	}

	written, err := r.store.Upsert(ctx, unified)
	res.Processed = written.Written
	res.Failed += written.Failed
	if err != nil {
		// rows already committed stay; the checkpoint does not move
		return fail(err)
	}

	if err := r.store.SetCheckpoint(ctx, name, maxMarker, maxCoin, written.Written); err != nil {
		return fail(err)
	}

	res.State = StateCompleted
	res.Status = statusFor(res.Processed, res.Failed)
	r.finish(ctx, log, run, &res, started)
	return res
}

// dropStale removes records whose marker is strictly older than the row already
// stored for the same coin, so a lagging quote never overwrites a newer one.
// Coins without a stored row are always kept.
func (r *Runner) dropStale(ctx context.Context, source string, valid []validRecord, res *SourceResult) ([]validRecord, error) {
	ids := make([]string, 0, len(valid))
	for _, v := range valid {
		ids = append(ids, v.rec.CoinID)
	}
	stored, err := r.store.SourceMarkers(ctx, source, ids)
	if err != nil {
		return nil, fmt.Errorf("read stored markers: %w", err)
	}

	kept := valid[:0]
	for _, v := range valid {
		if prev, ok := stored[v.rec.CoinID]; ok && v.marker.Before(prev) {
			res.Skipped++
			continue
		}
		kept = append(kept, v)
	}
	return kept, nil
}

// checkDrift diffs the fetched shape against the baseline and persists both the
// event and the new baseline. Failures here are logged and never fail the run.
func (r *Runner) checkDrift(ctx context.Context, log *zap.Logger, name, runID string, payloads []schema.Payload, sch *schema.Schema, detector *drift.Detector, res *SourceResult) {
	if ev := detector.Check(name, drift.Observe(payloads), sch.RequiredPaths()); ev != nil {
		ev.RunID = runID
		res.Drift = ev
		log.Warn("schema drift detected",
			zap.Strings("added", ev.AddedFields),
			zap.Strings("missing", ev.MissingFields),
			zap.Strings("type_changed", ev.TypeChangedFields),
			zap.String("severity", ev.Severity),
		)
		if err := r.store.RecordDrift(ctx, ev); err != nil {
			log.Warn("failed to record drift event", zap.Error(err))
		}
		if r.metrics != nil {
			r.metrics.RecordDrift(name)
		}
	}
	if err := r.store.SaveBaseline(ctx, name, detector.Baselines[name]); err != nil {
		log.Warn("failed to save schema baseline", zap.Error(err))
	}
}

// statusFor maps counts to a terminal run status.
func statusFor(processed, failed int) string {
	switch {
	case failed == 0:
		return models.RunStatusSuccess
	case processed == 0:
		return models.RunStatusFailed
	default:
		return models.RunStatusPartial
	}
}

// finish finalizes the run record. It runs on a context detached from ctx so a
// shutdown mid-source still leaves a terminal row behind.
func (r *Runner) finish(ctx context.Context, log *zap.Logger, run *models.Run, res *SourceResult, started time.Time) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	err := r.store.FinishRun(fctx, run, store.RunOutcome{
		Status:    res.Status,
		Processed: res.Processed,
		Failed:    res.Failed,
		Skipped:   res.Skipped,
		Attempts:  res.Attempts,
		Err:       res.Err,
	})
	if err != nil {
		log.Error("failed to finalize run", zap.Error(err))
	}

	elapsed := r.now().Sub(started)
	if r.metrics != nil {
		r.metrics.RecordRun(res.Source, res.Status, res.Processed, res.Failed, elapsed)
	}

	fields := []zap.Field{
		zap.String("status", res.Status),
		zap.Int("processed", res.Processed),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped),
		zap.Int("attempts", res.Attempts),
		zap.Duration("elapsed", elapsed),
	}
	if res.Status == models.RunStatusFailed {
		log.Error("source run failed", append(fields, zap.Error(res.Err))...)
		return
	}
	log.Info("source run finished", fields...)
}

func (r *Runner) recordFetch(source, outcome string) {
	if r.metrics != nil {
		r.metrics.RecordFetch(source, outcome)
	}
}
