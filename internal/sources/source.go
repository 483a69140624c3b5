// Package sources fetches raw market payloads from upstream APIs and local files.
package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"crypto-etl/internal/config"
	"crypto-etl/internal/models"
	"crypto-etl/internal/schema"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Source is one upstream of the pipeline. Implementations pace their own outbound
// calls and never write anywhere.
type Source interface {
	Name() string
	RateLimit() time.Duration
	Schema() *schema.Schema
	// Fetch returns every payload currently available. The checkpoint is the
	// cursor of the last successful run, nil on the first one.
	Fetch(ctx context.Context, cp *models.Checkpoint) (*Batch, error)
}

// Batch is the result of one successful Fetch.
type Batch struct {
	Payloads []schema.Payload
	// FetchedAt is the marker for payloads that carry no timestamp of their own:
	// request time for APIs, modification time for files.
	FetchedAt time.Time
}

// ErrorKind tells the orchestrator whether a failed fetch is worth retrying.
type ErrorKind int

const (
	Transient ErrorKind = iota + 1
	Permanent
)

func (k ErrorKind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

type FetchError struct {
	Kind       ErrorKind
	Source     string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s fetch failed (%s, status %d): %v", e.Source, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s fetch failed (%s): %v", e.Source, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func transient(source string, err error) *FetchError {
	return &FetchError{Kind: Transient, Source: source, Err: err}
}

func permanent(source string, err error) *FetchError {
	return &FetchError{Kind: Permanent, Source: source, Err: err}
}

// KindOf classifies err. Errors that are not FetchErrors are permanent.
func KindOf(err error) ErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Permanent
}

// checkResponse turns a resty result into a FetchError. Cancellation is returned
// as is so the caller can stop instead of retrying.
func checkResponse(ctx context.Context, source string, resp *resty.Response, err error) error {
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return transient(source, err)
	}

	code := resp.StatusCode()
	switch {
	case code == http.StatusTooManyRequests || code >= 500:
		return &FetchError{Kind: Transient, Source: source, StatusCode: code, Err: errors.New(resp.Status())}
	case code >= 400:
		return &FetchError{Kind: Permanent, Source: source, StatusCode: code, Err: errors.New(resp.Status())}
	}
	return nil
}

// pacer enforces a minimum interval between outbound calls of one adapter.
type pacer struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
}

func newPacer(interval time.Duration) *pacer {
	return &pacer{interval: interval}
}

func (p *pacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.interval > 0 && !p.last.IsZero() {
		if wait := p.interval - time.Since(p.last); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	p.last = time.Now()
	return nil
}

func newClient(baseURL string, timeout time.Duration) *resty.Client {
	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetTimeout(timeout)
	client.SetHeader("Accept", "application/json")
	return client
}

// Build returns the enabled sources in their fixed processing order.
func Build(cfg *config.Config, logger *zap.Logger) []Source {
	var out []Source
	if c := cfg.Sources.CoinPaprika; c.Enabled {
		out = append(out, NewCoinPaprika(c, cfg.HTTPTimeout, logger))
	}
	if c := cfg.Sources.CoinGecko; c.Enabled {
		out = append(out, NewCoinGecko(c, cfg.HTTPTimeout))
	}
	if c := cfg.Sources.CSV; c.Enabled {
		out = append(out, NewCSV(c.Path, c.CreateSample, logger))
	}
	if c := cfg.Sources.XLSX; c.Enabled {
		out = append(out, NewSpreadsheet(c.Path))
	}
	return out
}
