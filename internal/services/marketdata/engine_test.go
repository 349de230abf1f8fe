package marketdata

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kdalton/tradesim/internal/common"
	"github.com/kdalton/tradesim/internal/interfaces"
	"github.com/kdalton/tradesim/internal/models"
	"github.com/kdalton/tradesim/internal/storage/hotcache"
)

// stubPriceStore is a minimal in-memory interfaces.PriceRepository for engine tests.
type stubPriceStore struct {
	latest    map[models.Ticker]models.PriceHistoryRow
	hasLatest map[models.Ticker]bool
	ranges    map[models.Ticker][]models.PriceHistoryRow
	upserts   int
}

func newStubPriceStore() *stubPriceStore {
	return &stubPriceStore{
		latest:    make(map[models.Ticker]models.PriceHistoryRow),
		hasLatest: make(map[models.Ticker]bool),
		ranges:    make(map[models.Ticker][]models.PriceHistoryRow),
	}
}

func (s *stubPriceStore) GetLatest(_ context.Context, ticker models.Ticker) (models.PriceHistoryRow, bool, error) {
	return s.latest[ticker], s.hasLatest[ticker], nil
}

func (s *stubPriceStore) GetAt(_ context.Context, ticker models.Ticker, at time.Time) (models.PriceHistoryRow, bool, error) {
	var best models.PriceHistoryRow
	found := false
	for _, r := range s.ranges[ticker] {
		if r.Timestamp.After(at) {
			continue
		}
		if !found || r.Timestamp.After(best.Timestamp) {
			best = r
			found = true
		}
	}
	return best, found, nil
}

func (s *stubPriceStore) GetRange(_ context.Context, ticker models.Ticker, start, end time.Time, _ models.PriceInterval) ([]models.PriceHistoryRow, error) {
	var out []models.PriceHistoryRow
	for _, r := range s.ranges[ticker] {
		if !r.Timestamp.Before(start) && !r.Timestamp.After(end) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *stubPriceStore) Upsert(_ context.Context, rows []models.PriceHistoryRow) error {
	s.upserts++
	for _, r := range rows {
		s.latest[r.Ticker] = r
		s.hasLatest[r.Ticker] = true
		s.ranges[r.Ticker] = append(s.ranges[r.Ticker], r)
	}
	return nil
}

func (s *stubPriceStore) ListActiveTickers(context.Context, time.Duration) ([]models.Ticker, error) {
	return nil, nil
}

// stubRateLimiter lets tests force the TryAcquire outcome.
type stubRateLimiter struct {
	allow bool
	calls int
}

func (r *stubRateLimiter) TryAcquire() bool {
	r.calls++
	return r.allow
}

func (r *stubRateLimiter) WaitAcquire(context.Context, time.Time) error { return nil }

// stubEngineProvider is a MarketDataProvider stub recording call counts.
type stubEngineProvider struct {
	point       models.PricePoint
	err         error
	rows        []models.PriceHistoryRow
	seriesErr   error
	calls       int
	seriesCalls int
}

func (p *stubEngineProvider) Name() string { return "stub" }

func (p *stubEngineProvider) FetchCurrent(context.Context, models.Ticker) (models.PricePoint, error) {
	p.calls++
	return p.point, p.err
}

func (p *stubEngineProvider) FetchDailySeries(context.Context, models.Ticker, time.Time, time.Time) ([]models.PriceHistoryRow, error) {
	p.seriesCalls++
	return p.rows, p.seriesErr
}

var _ interfaces.MarketDataProvider = (*stubEngineProvider)(nil)
var _ interfaces.PriceRepository = (*stubPriceStore)(nil)
var _ interfaces.RateLimiter = (*stubRateLimiter)(nil)

func tuesdayNoon() time.Time {
	// 2024-01-16 is a Tuesday, well clear of holidays.
	return time.Date(2024, time.January, 16, 16, 0, 0, 0, time.UTC)
}

func newTestEngine(t *testing.T, now time.Time, store *stubPriceStore, prov *stubEngineProvider, limiter *stubRateLimiter) *Engine {
	t.Helper()
	clock := common.FixedClock{At: now}
	cache := hotcache.NewMemoryCache(clock)
	calendar := common.DefaultMarketCalendar()
	logger := common.NewSilentLogger()
	return New(cache, store, prov, limiter, calendar, clock, logger, DefaultConfig())
}

func TestGetCurrentPrice_UsesFreshWarmStoreWithoutCallingProvider(t *testing.T) {
	now := tuesdayNoon()
	store := newStubPriceStore()
	store.latest["AAPL"] = models.PriceHistoryRow{
		Ticker:    "AAPL",
		Timestamp: now.Add(-2 * time.Minute),
		Price:     models.MoneyFromFloat(150, "USD"),
		Interval:  models.IntervalRealtime,
	}
	store.hasLatest["AAPL"] = true
	prov := &stubEngineProvider{}
	limiter := &stubRateLimiter{allow: true}

	engine := newTestEngine(t, now, store, prov, limiter)
	point, err := engine.GetCurrentPrice(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, models.SourceWarmStore, point.Source)
	assert.Equal(t, 0, prov.calls)
}

func TestGetCurrentPrice_FallsThroughToProviderWhenStale(t *testing.T) {
	now := tuesdayNoon()
	store := newStubPriceStore()
	store.latest["AAPL"] = models.PriceHistoryRow{
		Ticker:    "AAPL",
		Timestamp: now.Add(-48 * time.Hour),
		Price:     models.MoneyFromFloat(140, "USD"),
	}
	store.hasLatest["AAPL"] = true
	prov := &stubEngineProvider{point: models.PricePoint{Ticker: "AAPL", Price: models.MoneyFromFloat(155, "USD"), Timestamp: now}}
	limiter := &stubRateLimiter{allow: true}

	engine := newTestEngine(t, now, store, prov, limiter)
	point, err := engine.GetCurrentPrice(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, models.SourceProvider, point.Source)
	assert.Equal(t, 1, prov.calls)
	assert.Equal(t, 1, store.upserts)
}

func TestGetCurrentPrice_RateLimitedFallsBackToStaleWarmValue(t *testing.T) {
	now := tuesdayNoon()
	store := newStubPriceStore()
	store.latest["AAPL"] = models.PriceHistoryRow{
		Ticker:    "AAPL",
		Timestamp: now.Add(-48 * time.Hour),
		Price:     models.MoneyFromFloat(140, "USD"),
	}
	store.hasLatest["AAPL"] = true
	prov := &stubEngineProvider{}
	limiter := &stubRateLimiter{allow: false}

	engine := newTestEngine(t, now, store, prov, limiter)
	point, err := engine.GetCurrentPrice(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, models.SourceStale, point.Source)
	assert.True(t, point.Stale)
	assert.Equal(t, 0, prov.calls)
}

func TestGetCurrentPrice_RateLimitedNoWarmDataIsUnavailable(t *testing.T) {
	now := tuesdayNoon()
	store := newStubPriceStore()
	prov := &stubEngineProvider{}
	limiter := &stubRateLimiter{allow: false}

	engine := newTestEngine(t, now, store, prov, limiter)
	_, err := engine.GetCurrentPrice(context.Background(), "ZZZZ")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrMarketDataUnavailable)
}

func TestGetCurrentPrice_ProviderNotFoundSurfacesTickerNotFound(t *testing.T) {
	now := tuesdayNoon()
	store := newStubPriceStore()
	prov := &stubEngineProvider{err: &interfaces.ProviderError{Kind: interfaces.ProviderErrNotFound}}
	limiter := &stubRateLimiter{allow: true}

	engine := newTestEngine(t, now, store, prov, limiter)
	_, err := engine.GetCurrentPrice(context.Background(), "ZZZZ")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrTickerNotFound)
}

func TestGetCurrentPrice_WeekendReadUsesLastExpectedTradingDayWithoutCallingProvider(t *testing.T) {
	// 2024-01-20 is a Saturday.
	now := time.Date(2024, time.January, 20, 15, 0, 0, 0, time.UTC)
	store := newStubPriceStore()
	store.latest["AAPL"] = models.PriceHistoryRow{
		Ticker:    "AAPL",
		Timestamp: time.Date(2024, time.January, 19, 21, 0, 0, 0, time.UTC), // Friday close
		Price:     models.MoneyFromFloat(150, "USD"),
	}
	store.hasLatest["AAPL"] = true
	prov := &stubEngineProvider{}
	limiter := &stubRateLimiter{allow: true}

	engine := newTestEngine(t, now, store, prov, limiter)
	point, err := engine.GetCurrentPrice(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, models.SourceWarmStore, point.Source)
	assert.Equal(t, 0, prov.calls)

	// Repeated reads stay off the provider entirely (property 8).
	_, err = engine.GetCurrentPrice(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 0, prov.calls)
}

func TestGetCurrentPrice_HotCacheHitSkipsWarmStoreAndProvider(t *testing.T) {
	now := tuesdayNoon()
	store := newStubPriceStore()
	store.latest["AAPL"] = models.PriceHistoryRow{
		Ticker:    "AAPL",
		Timestamp: now.Add(-1 * time.Minute),
		Price:     models.MoneyFromFloat(150, "USD"),
	}
	store.hasLatest["AAPL"] = true
	prov := &stubEngineProvider{}
	limiter := &stubRateLimiter{allow: true}

	engine := newTestEngine(t, now, store, prov, limiter)
	_, err := engine.GetCurrentPrice(context.Background(), "AAPL")
	require.NoError(t, err)

	point, err := engine.GetCurrentPrice(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, models.SourceHotCache, point.Source)
	assert.Equal(t, 0, prov.calls)
}

func TestGetCurrentPrice_NonPositiveProviderQuoteFallsBackToStale(t *testing.T) {
	now := tuesdayNoon()
	store := newStubPriceStore()
	store.latest["AAPL"] = models.PriceHistoryRow{
		Ticker:    "AAPL",
		Timestamp: now.Add(-48 * time.Hour),
		Price:     models.MoneyFromFloat(140, "USD"),
	}
	store.hasLatest["AAPL"] = true
	// A zero price violates the quote contract and must never be served.
	prov := &stubEngineProvider{point: models.PricePoint{Ticker: "AAPL", Price: models.MoneyFromFloat(0, "USD"), Timestamp: now}}
	limiter := &stubRateLimiter{allow: true}

	engine := newTestEngine(t, now, store, prov, limiter)
	engine.jitter = func() time.Duration { return 0 }

	point, err := engine.GetCurrentPrice(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, models.SourceStale, point.Source)
	assert.True(t, point.Price.IsPositive())
}

func TestGetCurrentPrice_FutureDatedQuoteIsRejected(t *testing.T) {
	now := tuesdayNoon()
	store := newStubPriceStore()
	prov := &stubEngineProvider{point: models.PricePoint{Ticker: "AAPL", Price: models.MoneyFromFloat(150, "USD"), Timestamp: now.Add(10 * time.Minute)}}
	limiter := &stubRateLimiter{allow: true}

	engine := newTestEngine(t, now, store, prov, limiter)
	engine.jitter = func() time.Duration { return 0 }

	_, err := engine.GetCurrentPrice(context.Background(), "AAPL")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrMarketDataUnavailable)
}

func TestGetCurrentPrice_StaleSchemaEntryIsTreatedAsMiss(t *testing.T) {
	now := tuesdayNoon()
	clock := common.FixedClock{At: now}
	cache := hotcache.NewMemoryCache(clock)
	store := newStubPriceStore()
	store.latest["AAPL"] = models.PriceHistoryRow{
		Ticker:    "AAPL",
		Timestamp: now.Add(-2 * time.Minute),
		Price:     models.MoneyFromFloat(150, "USD"),
		Interval:  models.IntervalRealtime,
	}
	store.hasLatest["AAPL"] = true
	prov := &stubEngineProvider{}
	limiter := &stubRateLimiter{allow: true}
	engine := New(cache, store, prov, limiter, common.DefaultMarketCalendar(), clock, common.NewSilentLogger(), DefaultConfig())

	// An entry written under an older schema version must not be served.
	stale := []byte(`{"data_version":"0.0","data":{"ticker":"AAPL"}}`)
	require.NoError(t, cache.Set(context.Background(), "price:current:AAPL", stale, time.Hour))

	point, err := engine.GetCurrentPrice(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, models.SourceWarmStore, point.Source)
	assert.Equal(t, 0, prov.calls)
}

func TestGetPriceHistory_CompleteWarmRangeSkipsProvider(t *testing.T) {
	now := tuesdayNoon()
	store := newStubPriceStore()
	start := time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC) // Monday
	end := time.Date(2024, time.January, 16, 0, 0, 0, 0, time.UTC)   // Tuesday
	store.ranges["AAPL"] = []models.PriceHistoryRow{
		{Ticker: "AAPL", Timestamp: start, Price: models.MoneyFromFloat(100, "USD"), Interval: models.IntervalDaily},
		{Ticker: "AAPL", Timestamp: end, Price: models.MoneyFromFloat(101, "USD"), Interval: models.IntervalDaily},
	}
	prov := &stubEngineProvider{}
	limiter := &stubRateLimiter{allow: true}

	engine := newTestEngine(t, now, store, prov, limiter)
	points, err := engine.GetPriceHistory(context.Background(), "AAPL", start, end, models.IntervalDaily)
	require.NoError(t, err)
	assert.Len(t, points, 2)
	assert.Equal(t, 0, prov.seriesCalls)
}

func TestGetPriceHistory_IncompleteRangeFetchesFromProvider(t *testing.T) {
	now := tuesdayNoon()
	store := newStubPriceStore()
	// Monday 2024-01-08 through Tuesday 2024-01-16 spans 6 trading days
	// (Jan 15 is MLK Day); an empty warm store misses all of the expected
	// ones, well past rangeTolerance.
	start := time.Date(2024, time.January, 8, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, time.January, 16, 0, 0, 0, 0, time.UTC)
	prov := &stubEngineProvider{rows: []models.PriceHistoryRow{
		{Ticker: "AAPL", Timestamp: start, Price: models.MoneyFromFloat(100, "USD"), Interval: models.IntervalDaily},
		{Ticker: "AAPL", Timestamp: end, Price: models.MoneyFromFloat(101, "USD"), Interval: models.IntervalDaily},
	}}
	limiter := &stubRateLimiter{allow: true}

	engine := newTestEngine(t, now, store, prov, limiter)
	points, err := engine.GetPriceHistory(context.Background(), "AAPL", start, end, models.IntervalDaily)
	require.NoError(t, err)
	assert.Len(t, points, 2)
	assert.Equal(t, 1, prov.seriesCalls)
	assert.Equal(t, 1, store.upserts)
}

func TestGetPriceHistory_RateLimitedPartialWarmDataReturnsStale(t *testing.T) {
	now := tuesdayNoon()
	store := newStubPriceStore()
	start := time.Date(2024, time.January, 8, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, time.January, 16, 0, 0, 0, 0, time.UTC)
	store.ranges["AAPL"] = []models.PriceHistoryRow{
		{Ticker: "AAPL", Timestamp: start, Price: models.MoneyFromFloat(99, "USD"), Interval: models.IntervalDaily},
	}
	prov := &stubEngineProvider{}
	limiter := &stubRateLimiter{allow: false}

	engine := newTestEngine(t, now, store, prov, limiter)
	points, err := engine.GetPriceHistory(context.Background(), "AAPL", start, end, models.IntervalDaily)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.True(t, points[0].Stale)
	assert.Equal(t, models.SourceStale, points[0].Source)
}

func TestGetPriceHistory_RateLimitedNoWarmDataIsUnavailable(t *testing.T) {
	now := tuesdayNoon()
	store := newStubPriceStore()
	start := time.Date(2024, time.January, 8, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, time.January, 16, 0, 0, 0, 0, time.UTC)
	prov := &stubEngineProvider{}
	limiter := &stubRateLimiter{allow: false}

	engine := newTestEngine(t, now, store, prov, limiter)
	_, err := engine.GetPriceHistory(context.Background(), "AAPL", start, end, models.IntervalDaily)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrMarketDataUnavailable)
}

func TestGetPriceAt_UsesWarmStoreWithinTolerance(t *testing.T) {
	now := tuesdayNoon()
	store := newStubPriceStore()
	at := time.Date(2024, time.January, 16, 0, 0, 0, 0, time.UTC)
	store.ranges["AAPL"] = []models.PriceHistoryRow{
		{Ticker: "AAPL", Timestamp: time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC), Price: models.MoneyFromFloat(100, "USD")},
	}
	prov := &stubEngineProvider{}
	limiter := &stubRateLimiter{allow: true}

	engine := newTestEngine(t, now, store, prov, limiter)
	point, err := engine.GetPriceAt(context.Background(), "AAPL", at)
	require.NoError(t, err)
	assert.Equal(t, models.SourceWarmStore, point.Source)
	assert.Equal(t, 0, prov.seriesCalls)
}

func TestGetPriceAt_MissBeyondToleranceBackfillsFromProvider(t *testing.T) {
	now := tuesdayNoon()
	store := newStubPriceStore()
	at := time.Date(2024, time.January, 16, 0, 0, 0, 0, time.UTC)
	prov := &stubEngineProvider{rows: []models.PriceHistoryRow{
		{Ticker: "AAPL", Timestamp: at, Price: models.MoneyFromFloat(123, "USD")},
	}}
	limiter := &stubRateLimiter{allow: true}

	engine := newTestEngine(t, now, store, prov, limiter)
	point, err := engine.GetPriceAt(context.Background(), "AAPL", at)
	require.NoError(t, err)
	assert.Equal(t, models.SourceProvider, point.Source)
	assert.Equal(t, 1, prov.seriesCalls)
}

func TestGetPriceAt_MalformedSeriesIsDroppedNotPersisted(t *testing.T) {
	now := tuesdayNoon()
	store := newStubPriceStore()
	at := time.Date(2024, time.January, 16, 0, 0, 0, 0, time.UTC)
	prov := &stubEngineProvider{rows: []models.PriceHistoryRow{
		{Ticker: "AAPL", Timestamp: at, Price: models.MoneyFromFloat(0, "USD")},
		{Ticker: "AAPL", Timestamp: now.Add(time.Hour), Price: models.MoneyFromFloat(100, "USD")},
	}}
	limiter := &stubRateLimiter{allow: true}

	engine := newTestEngine(t, now, store, prov, limiter)
	_, err := engine.GetPriceAt(context.Background(), "AAPL", at)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrMarketDataUnavailable)
	assert.Empty(t, store.ranges["AAPL"])
}

func TestGetPriceHistory_MalformedRowsAreDropped(t *testing.T) {
	now := tuesdayNoon()
	store := newStubPriceStore()
	start := time.Date(2024, time.January, 8, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, time.January, 16, 0, 0, 0, 0, time.UTC)
	good := models.PriceHistoryRow{Ticker: "AAPL", Timestamp: start, Price: models.MoneyFromFloat(100, "USD"), Interval: models.IntervalDaily}
	prov := &stubEngineProvider{rows: []models.PriceHistoryRow{
		good,
		{Ticker: "AAPL", Timestamp: start.AddDate(0, 0, 1), Price: models.MoneyFromFloat(0, "USD"), Interval: models.IntervalDaily},
		{Ticker: "AAPL", Timestamp: now.Add(time.Hour), Price: models.MoneyFromFloat(101, "USD"), Interval: models.IntervalDaily},
	}}
	limiter := &stubRateLimiter{allow: true}

	engine := newTestEngine(t, now, store, prov, limiter)
	points, err := engine.GetPriceHistory(context.Background(), "AAPL", start, end, models.IntervalDaily)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.True(t, points[0].Timestamp.Equal(good.Timestamp))
	assert.Len(t, store.ranges["AAPL"], 1)
}

func TestGetPriceAt_RateLimitedWithNoDataIsUnavailable(t *testing.T) {
	now := tuesdayNoon()
	store := newStubPriceStore()
	at := time.Date(2024, time.January, 16, 0, 0, 0, 0, time.UTC)
	prov := &stubEngineProvider{}
	limiter := &stubRateLimiter{allow: false}

	engine := newTestEngine(t, now, store, prov, limiter)
	_, err := engine.GetPriceAt(context.Background(), "AAPL", at)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrMarketDataUnavailable)
}

func TestRateLimiter_NeverExceedsAcquireCallsObserved(t *testing.T) {
	// Property 7: every provider call is preceded by a successful acquire.
	now := tuesdayNoon()
	store := newStubPriceStore()
	prov := &stubEngineProvider{point: models.PricePoint{Ticker: "AAPL", Price: models.MoneyFromFloat(1, "USD"), Timestamp: now}}
	limiter := &stubRateLimiter{allow: true}

	engine := newTestEngine(t, now, store, prov, limiter)
	_, err := engine.GetCurrentPrice(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, limiter.calls, prov.calls)
}
