package etl

import (
	"context"
	"time"

	"crypto-etl/internal/models"
	"crypto-etl/internal/sources"

	"go.uber.org/zap"
)

// RetryPolicy bounds how often and how patiently a transient fetch failure is retried.
type RetryPolicy struct {
	MaxAttempts int
	MinDelay    time.Duration
	MaxDelay    time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 3
	}
	if p.MinDelay <= 0 {
		p.MinDelay = 2 * time.Second
	}
	if p.MaxDelay < p.MinDelay {
		p.MaxDelay = p.MinDelay
	}
	return p
}

// Delay is the pause after the n-th failed attempt (1-based): MinDelay doubled
// n-1 times, capped at MaxDelay.
func (p RetryPolicy) Delay(n int) time.Duration {
	d := p.MinDelay
	for i := 1; i < n && d < p.MaxDelay; i++ {
		d *= 2
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// FetchOutcome tags how a fetch with retries ended.
type FetchOutcome int

const (
	FetchSucceeded FetchOutcome = iota
	FetchTransientExhausted
	FetchPermanentFailed
	FetchCanceled
)

func (o FetchOutcome) String() string {
	switch o {
	case FetchSucceeded:
		return "succeeded"
	case FetchTransientExhausted:
		return "transient_exhausted"
	case FetchPermanentFailed:
		return "permanent_failed"
	case FetchCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

type FetchResult struct {
	Outcome  FetchOutcome
	Batch    *sources.Batch
	Attempts int
	// Delays holds the pause taken after each failed attempt that was retried.
	Delays []time.Duration
	Err    error
}

// fetchWithRetry calls src.Fetch until it succeeds, fails permanently, runs out of
// attempts or ctx is done.
func (r *Runner) fetchWithRetry(ctx context.Context, src sources.Source, cp *models.Checkpoint) FetchResult {
	var res FetchResult
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		res.Attempts = attempt

		batch, err := src.Fetch(ctx, cp)
		if err == nil {
			r.recordFetch(src.Name(), "ok")
			res.Outcome = FetchSucceeded
			res.Batch = batch
			res.Err = nil
			return res
		}
		res.Err = err

		if ctx.Err() != nil {
			res.Outcome = FetchCanceled
			return res
		}

		kind := sources.KindOf(err)
		r.recordFetch(src.Name(), kind.String())
		if kind == sources.Permanent {
			res.Outcome = FetchPermanentFailed
			return res
		}
		if attempt == r.policy.MaxAttempts {
			break
		}

		delay := r.policy.Delay(attempt)
		res.Delays = append(res.Delays, delay)
		r.logger.Warn("transient fetch failure, retrying",
			zap.String("source", src.Name()),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if err := r.sleep(ctx, delay); err != nil {
			res.Outcome = FetchCanceled
			res.Err = err
			return res
		}
	}

	res.Outcome = FetchTransientExhausted
	return res
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
