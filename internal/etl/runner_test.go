package etl

import (
	"context"
	"errors"
	"testing"
	"time"

	"crypto-etl/internal/database"
	"crypto-etl/internal/models"
	"crypto-etl/internal/schema"
	"crypto-etl/internal/sources"
	"crypto-etl/internal/store"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var fakeSchema = &schema.Schema{
	Source: "fake",
	Fields: []schema.Field{
		{Target: schema.TargetCoinID, Path: "id", Kind: schema.KindString, Required: true},
		{Target: schema.TargetName, Path: "name", Kind: schema.KindString, Required: true},
		{Target: schema.TargetSymbol, Path: "symbol", Kind: schema.KindString, Required: true},
		{Target: schema.TargetPriceUSD, Path: "price", Kind: schema.KindNumber},
		{Target: schema.TargetLastUpdated, Path: "last_updated", Kind: schema.KindTime},
	},
}

type fakeSource struct {
	name  string
	calls int
	fetch func(call int) (*sources.Batch, error)
}

func (f *fakeSource) Name() string { return f.name }
func (f *fakeSource) RateLimit() time.Duration { return 0 }
func (f *fakeSource) Schema() *schema.Schema { return fakeSchema }

func (f *fakeSource) Fetch(ctx context.Context, _ *models.Checkpoint) (*sources.Batch, error) {
	f.calls++
	return f.fetch(f.calls)
}

func payload(id string, price float64, updated time.Time) schema.Payload {
	return schema.Payload{
		"id":           id,
		"name":         id,
		"symbol":       id[:3],
		"price":        price,
		"last_updated": updated.Format(time.RFC3339),
	}
}

func batchOf(payloads ...schema.Payload) func(int) (*sources.Batch, error) {
	return func(int) (*sources.Batch, error) {
		return &sources.Batch{Payloads: payloads, FetchedAt: time.Now().UTC()}, nil
	}
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, database.Migrate(db))
	return store.New(db, 10)
}

type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

func newTestRunner(st Store, srcs ...sources.Source) (*Runner, *sleepRecorder) {
	r := NewRunner(st, srcs, Options{
		Retry: RetryPolicy{MaxAttempts: 3, MinDelay: 2 * time.Second, MaxDelay: 10 * time.Second},
	}, zap.NewNop())
	rec := &sleepRecorder{}
	r.sleep = rec.sleep
	return r, rec
}

var t0 = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

func TestPermanentFailureIsIsolated(t *testing.T) {
	st := newTestStore(t)
	a := &fakeSource{name: "a", fetch: batchOf(payload("bitcoin", 1, t0), payload("ethereum", 2, t0))}
	b := &fakeSource{name: "b", fetch: func(int) (*sources.Batch, error) {
		return nil, &sources.FetchError{Kind: sources.Permanent, Source: "b", StatusCode: 404, Err: errors.New("not found")}
	}}
	c := &fakeSource{name: "c", fetch: batchOf(payload("solana", 3, t0))}

	r, sleeps := newTestRunner(st, a, b, c)
	pass, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, pass.Results, 3)

	assert.Equal(t, models.RunStatusSuccess, pass.Results[0].Status)
	assert.Equal(t, 2, pass.Results[0].Processed)
	assert.Equal(t, models.RunStatusFailed, pass.Results[1].Status)
	assert.Equal(t, StateFailed, pass.Results[1].State)
	assert.Equal(t, 1, pass.Results[1].Attempts)
	assert.Equal(t, 1, b.calls)
	assert.Empty(t, sleeps.delays)
	assert.Equal(t, models.RunStatusSuccess, pass.Results[2].Status)
	assert.Equal(t, StateCompleted, pass.Results[2].State)

	runs, err := st.RecentRuns(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Len(t, runs, 3)
	for _, run := range runs {
		assert.True(t, run.Terminal())
		assert.Equal(t, pass.PassID, run.PassID)
	}
}

func TestTransientFailureRetriesExactlyMaxAttempts(t *testing.T) {
	st := newTestStore(t)
	src := &fakeSource{name: "flaky", fetch: func(int) (*sources.Batch, error) {
		return nil, &sources.FetchError{Kind: sources.Transient, Source: "flaky", StatusCode: 503, Err: errors.New("unavailable")}
	}}

	r, sleeps := newTestRunner(st, src)
	pass, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, pass.Results, 1)

	res := pass.Results[0]
	assert.Equal(t, 3, src.calls)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, models.RunStatusFailed, res.Status)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, sleeps.delays)
	for i := 1; i < len(sleeps.delays); i++ {
		assert.GreaterOrEqual(t, sleeps.delays[i], sleeps.delays[i-1])
	}

	run, err := st.GetRun(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Equal(t, 3, run.Attempts)
	require.NotNil(t, run.ErrorMessage)
}

func TestTransientThenSuccess(t *testing.T) {
	st := newTestStore(t)
	src := &fakeSource{name: "flaky", fetch: func(call int) (*sources.Batch, error) {
		if call == 1 {
			return nil, &sources.FetchError{Kind: sources.Transient, Source: "flaky", StatusCode: 429, Err: errors.New("slow down")}
		}
		return batchOf(payload("bitcoin", 1, t0))(call)
	}}

	r, sleeps := newTestRunner(st, src)
	pass, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSuccess, pass.Results[0].Status)
	assert.Equal(t, 2, pass.Results[0].Attempts)
	assert.Equal(t, []time.Duration{2 * time.Second}, sleeps.delays)
}

func TestRetryDelayIsCapped(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 6, MinDelay: 2 * time.Second, MaxDelay: 10 * time.Second}
	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 4*time.Second, p.Delay(2))
	assert.Equal(t, 8*time.Second, p.Delay(3))
	assert.Equal(t, 10*time.Second, p.Delay(4))
	assert.Equal(t, 10*time.Second, p.Delay(5))
}

func TestInvalidPayloadsMakeRunPartial(t *testing.T) {
	st := newTestStore(t)
	src := &fakeSource{name: "mixed", fetch: batchOf(
		payload("bitcoin", 1, t0),
		schema.Payload{"symbol": "XXX"},
	)}

	r, _ := newTestRunner(st, src)
	pass, err := r.RunOnce(context.Background())
	require.NoError(t, err)

	res := pass.Results[0]
	assert.Equal(t, models.RunStatusPartial, res.Status)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Failed)
}

func TestAllInvalidPayloadsFailRun(t *testing.T) {
	st := newTestStore(t)
	src := &fakeSource{name: "broken", fetch: batchOf(schema.Payload{"symbol": "XXX"})}

	r, _ := newTestRunner(st, src)
	pass, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, pass.Results[0].Status)

	cp, err := st.GetCheckpoint(context.Background(), "broken")
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestEmptyFetchSucceeds(t *testing.T) {
	st := newTestStore(t)
	src := &fakeSource{name: "empty", fetch: batchOf()}

	r, _ := newTestRunner(st, src)
	pass, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSuccess, pass.Results[0].Status)
	assert.Zero(t, pass.Results[0].Processed)
}

type failingUpsertStore struct {
	*store.Store
}

func (f failingUpsertStore) Upsert(ctx context.Context, rows []models.UnifiedCrypto) (store.UpsertResult, error) {
	return store.UpsertResult{Failed: len(rows)}, &store.WriteError{Op: "upsert", Err: errors.New("disk full")}
}

func TestWriteFailureDoesNotAdvanceCheckpoint(t *testing.T) {
	st := newTestStore(t)
	src := &fakeSource{name: "csv", fetch: batchOf(payload("bitcoin", 1, t0), payload("ethereum", 2, t0.Add(time.Hour)))}

	r, _ := newTestRunner(st, src)
	pass, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	cp, err := st.GetCheckpoint(context.Background(), "csv")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.True(t, cp.LastProcessedAt.Equal(t0.Add(time.Hour)))
	assert.Equal(t, "ethereum", cp.LastProcessedID)

	src.fetch = batchOf(payload("bitcoin", 5, t0.Add(2*time.Hour)))
	r, _ = newTestRunner(failingUpsertStore{st}, src)
	pass, err = r.RunOnce(context.Background())
	require.NoError(t, err)

	res := pass.Results[0]
	assert.Equal(t, models.RunStatusFailed, res.Status)
	var we *store.WriteError
	assert.True(t, errors.As(res.Err, &we))

	cp, err = st.GetCheckpoint(context.Background(), "csv")
	require.NoError(t, err)
	assert.True(t, cp.LastProcessedAt.Equal(t0.Add(time.Hour)))
	assert.Equal(t, int64(2), cp.RecordsProcessed)
}

func storedPrice(t *testing.T, st *store.Store, source, coinID string) (float64, bool) {
	t.Helper()
	rows, _, err := st.ListUnified(context.Background(), store.UnifiedFilter{Source: source, Page: 1, PageSize: 100})
	require.NoError(t, err)
	for _, row := range rows {
		if row.CoinID == coinID {
			require.NotNil(t, row.PriceUSD)
			return *row.PriceUSD, true
		}
	}
	return 0, false
}

func TestPerCoinMarkersDecideWhatIsApplied(t *testing.T) {
	st := newTestStore(t)
	src := &fakeSource{name: "csv", fetch: batchOf(
		payload("bitcoin", 1, t0.Add(5*time.Minute)),
		payload("ethereum", 2, t0.Add(3*time.Minute)),
	)}

	r, _ := newTestRunner(st, src)
	_, err := r.RunOnce(context.Background())
	require.NoError(t, err)

	// ethereum moved forward but is still older than bitcoin; solana is new with
	// a marker older than anything stored so far.
	src.fetch = batchOf(
		payload("bitcoin", 1, t0.Add(5*time.Minute)),
		payload("ethereum", 999, t0.Add(4*time.Minute)),
		payload("solana", 3, t0.Add(time.Minute)),
	)
	pass, err := r.RunOnce(context.Background())
	require.NoError(t, err)

	res := pass.Results[0]
	assert.Equal(t, models.RunStatusSuccess, res.Status)
	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, 0, res.Skipped)

	price, ok := storedPrice(t, st, "csv", "ethereum")
	require.True(t, ok)
	assert.Equal(t, 999.0, price)
	_, ok = storedPrice(t, st, "csv", "solana")
	assert.True(t, ok)

	// A quote older than the stored row for the same coin is skipped.
	src.fetch = batchOf(payload("ethereum", 5, t0.Add(2*time.Minute)))
	pass, err = r.RunOnce(context.Background())
	require.NoError(t, err)

	res = pass.Results[0]
	assert.Equal(t, models.RunStatusSuccess, res.Status)
	assert.Equal(t, 0, res.Processed)
	assert.Equal(t, 1, res.Skipped)

	price, _ = storedPrice(t, st, "csv", "ethereum")
	assert.Equal(t, 999.0, price)

	cp, err := st.GetCheckpoint(context.Background(), "csv")
	require.NoError(t, err)
	assert.True(t, cp.LastProcessedAt.Equal(t0.Add(5*time.Minute)))
	assert.Equal(t, "bitcoin", cp.LastProcessedID)
	assert.Equal(t, int64(5), cp.RecordsProcessed)
}

func TestDriftIsRecordedAcrossPasses(t *testing.T) {
	st := newTestStore(t)
	src := &fakeSource{name: "api", fetch: batchOf(payload("bitcoin", 1, t0))}

	r, _ := newTestRunner(st, src)
	pass, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Nil(t, pass.Results[0].Drift)

	changed := payload("bitcoin", 1, t0)
	delete(changed, "price")
	changed["market_cap"] = 100.0
	src.fetch = batchOf(changed)

	pass, err = r.RunOnce(context.Background())
	require.NoError(t, err)
	ev := pass.Results[0].Drift
	require.NotNil(t, ev)
	assert.Equal(t, []string{"market_cap"}, ev.AddedFields)
	assert.Equal(t, []string{"price"}, ev.MissingFields)
	assert.Equal(t, models.RunStatusSuccess, pass.Results[0].Status)

	events, err := st.RecentDrift(context.Background(), "api", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, pass.Results[0].RunID, events[0].RunID)

	pass, err = r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Nil(t, pass.Results[0].Drift)
}

func TestStaleRunsAreReaped(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	stale, err := st.BeginRun(ctx, "csv", "old-pass", nil)
	require.NoError(t, err)

	r, _ := newTestRunner(st)
	r.now = func() time.Time { return time.Now().UTC().Add(3 * time.Hour) }
	_, err = r.RunOnce(ctx)
	require.NoError(t, err)

	got, err := st.GetRun(ctx, stale.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, got.Status)
}

type downStore struct {
	Store
}

func (downStore) Ping(context.Context) error { return errors.New("connection refused") }

func TestUnavailableStoreAbortsPass(t *testing.T) {
	r, _ := newTestRunner(downStore{})
	_, err := r.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}
