// Package marketdata implements the Market-Data Engine: a
// three-level read-through cache (hot cache, warm store, cold external
// provider) with rate limiting, weekend/holiday-aware freshness rules, and
// graceful degradation to stale data when the provider is unreachable or
// exhausted.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/kdalton/tradesim/internal/common"
	"github.com/kdalton/tradesim/internal/interfaces"
	"github.com/kdalton/tradesim/internal/models"
)

// Config holds engine-level tuning knobs.
type Config struct {
	// CurrentTTL is the hot-cache TTL for a resolved current-price entry
	// (cache.current_ttl_seconds, default 300s) — a flat TTL, distinct
	// from the tiered history TTLs chosen by common.SelectHistoryTTL.
	CurrentTTL time.Duration
	// ProviderTimeout bounds a single outbound provider call
	// (provider.timeout_seconds, default 10s), independent of the
	// caller's own deadline.
	ProviderTimeout time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		CurrentTTL:      300 * time.Second,
		ProviderTimeout: 10 * time.Second,
	}
}

// Engine implements interfaces.MarketDataEngine.
type Engine struct {
	hotCache   interfaces.HotCache
	priceStore interfaces.PriceRepository
	provider   interfaces.MarketDataProvider
	limiter    interfaces.RateLimiter
	calendar   *common.MarketCalendar
	clock      common.Clock
	logger     *common.Logger
	cfg        Config

	// jitter is the injectable randomness source for the single-retry
	// backoff; tests substitute a deterministic source.
	jitter func() time.Duration
}

// New builds a Market-Data Engine from its ports.
func New(hotCache interfaces.HotCache, priceStore interfaces.PriceRepository, provider interfaces.MarketDataProvider, limiter interfaces.RateLimiter, calendar *common.MarketCalendar, clock common.Clock, logger *common.Logger, cfg Config) *Engine {
	if cfg.CurrentTTL <= 0 {
		cfg.CurrentTTL = DefaultConfig().CurrentTTL
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = DefaultConfig().ProviderTimeout
	}
	return &Engine{
		hotCache:   hotCache,
		priceStore: priceStore,
		provider:   provider,
		limiter:    limiter,
		calendar:   calendar,
		clock:      clock,
		logger:     logger,
		cfg:        cfg,
		jitter:     func() time.Duration { return time.Duration(rand.Intn(500)) * time.Millisecond },
	}
}

// GetCurrentPrice implements the tiered read-through for a current price.
func (e *Engine) GetCurrentPrice(ctx context.Context, ticker models.Ticker) (models.PricePoint, error) {
	key := currentCacheKey(ticker)

	if cached, ok, err := e.hotCache.Get(ctx, key); err == nil && ok {
		var point models.PricePoint
		if decodeCached(cached, &point) {
			point.Source = models.SourceHotCache
			return point, nil
		}
	}

	encoded, err := e.hotCache.Coalesce(ctx, key, func() ([]byte, error) {
		return e.resolveCurrentPrice(ctx, ticker)
	})
	if err != nil {
		return models.PricePoint{}, err
	}

	var point models.PricePoint
	if !decodeCached(encoded, &point) {
		return models.PricePoint{}, fmt.Errorf("marketdata: decode resolved price for %s", ticker)
	}
	return point, nil
}

// resolveCurrentPrice runs warm-store-then-provider resolution for a single
// ticker; it is only ever in flight once per ticker at a time, coalesced by
// the hot cache's single-flight group.
func (e *Engine) resolveCurrentPrice(ctx context.Context, ticker models.Ticker) ([]byte, error) {
	now := e.clock.Now()

	warmRow, warmOK, err := e.priceStore.GetLatest(ctx, ticker)
	if err != nil {
		return nil, fmt.Errorf("%w: warm store lookup: %s", models.ErrTransient, err.Error())
	}

	if warmOK && isCurrentPriceFresh(warmRow.Timestamp, now, e.calendar) {
		point := warmRow.ToPricePoint(models.SourceWarmStore)
		e.cacheCurrent(ctx, ticker, point)
		return encodeCached(point)
	}

	if !e.limiter.TryAcquire() {
		return e.fallbackOrUnavailable(ticker, warmRow, warmOK)
	}

	point, err := e.fetchCurrentWithRetry(ctx, ticker)
	if err != nil {
		var perr *interfaces.ProviderError
		if errors.As(err, &perr) && perr.Kind == interfaces.ProviderErrNotFound {
			return nil, fmt.Errorf("%w: %s", models.ErrTickerNotFound, ticker)
		}
		return e.fallbackOrUnavailable(ticker, warmRow, warmOK)
	}

	if err := e.priceStore.Upsert(ctx, []models.PriceHistoryRow{{
		Ticker:     ticker,
		Timestamp:  point.Timestamp,
		Interval:   models.IntervalRealtime,
		Price:      point.Price,
		Source:     models.SourceProvider,
		IngestedAt: now,
	}}); err != nil {
		e.logger.Warn().Err(err).Str("ticker", ticker.String()).Msg("failed to persist provider price to warm store")
	}

	point.Source = models.SourceProvider
	e.cacheCurrent(ctx, ticker, point)
	return encodeCached(point)
}

// fallbackOrUnavailable returns the stale warm value if one exists, else
// raises MarketDataUnavailable.
func (e *Engine) fallbackOrUnavailable(ticker models.Ticker, warmRow models.PriceHistoryRow, warmOK bool) ([]byte, error) {
	if !warmOK {
		return nil, fmt.Errorf("%w: no cached data for %s", models.ErrMarketDataUnavailable, ticker)
	}
	point := warmRow.ToPricePoint(models.SourceStale)
	point.Stale = true
	return encodeCached(point)
}

// fetchCurrentWithRetry performs the provider call under an explicit
// timeout, retrying once (500ms+jitter) on a transient failure.
func (e *Engine) fetchCurrentWithRetry(ctx context.Context, ticker models.Ticker) (models.PricePoint, error) {
	point, err := e.fetchCurrentOnce(ctx, ticker)
	if err == nil {
		return point, nil
	}
	var perr *interfaces.ProviderError
	if !errors.As(err, &perr) || perr.Kind != interfaces.ProviderErrTransient {
		return models.PricePoint{}, err
	}

	select {
	case <-time.After(500*time.Millisecond + e.jitter()):
	case <-ctx.Done():
		return models.PricePoint{}, ctx.Err()
	}
	return e.fetchCurrentOnce(ctx, ticker)
}

func (e *Engine) fetchCurrentOnce(ctx context.Context, ticker models.Ticker) (models.PricePoint, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.ProviderTimeout)
	defer cancel()
	point, err := e.provider.FetchCurrent(callCtx, ticker)
	if err != nil {
		return models.PricePoint{}, err
	}
	if err := e.sanityCheck(point); err != nil {
		return models.PricePoint{}, err
	}
	return point, nil
}

// sanityCheck rejects provider responses that violate the basic quote
// contract: a price must be strictly positive and its timestamp must not
// sit further in the future than the allowed clock skew.
func (e *Engine) sanityCheck(point models.PricePoint) error {
	if !point.Price.IsPositive() {
		return &interfaces.ProviderError{Kind: interfaces.ProviderErrTransient, Message: fmt.Sprintf("non-positive price for %s", point.Ticker)}
	}
	if point.Timestamp.After(e.clock.Now().Add(common.ClockSkewTolerance)) {
		return &interfaces.ProviderError{Kind: interfaces.ProviderErrTransient, Message: fmt.Sprintf("future-dated quote for %s at %s", point.Ticker, point.Timestamp)}
	}
	return nil
}

// sanitizeRows applies the same quote contract to a provider daily series,
// dropping rows with a non-positive price or a timestamp beyond the allowed
// clock skew so they are neither persisted nor returned.
func (e *Engine) sanitizeRows(ticker models.Ticker, rows []models.PriceHistoryRow) []models.PriceHistoryRow {
	cutoff := e.clock.Now().Add(common.ClockSkewTolerance)
	out := make([]models.PriceHistoryRow, 0, len(rows))
	for _, r := range rows {
		if !r.Price.IsPositive() || r.Timestamp.After(cutoff) {
			continue
		}
		out = append(out, r)
	}
	if dropped := len(rows) - len(out); dropped > 0 {
		e.logger.Warn().Str("ticker", ticker.String()).Int("dropped", dropped).Msg("discarded malformed rows from provider series")
	}
	return out
}

func (e *Engine) cacheCurrent(ctx context.Context, ticker models.Ticker, point models.PricePoint) {
	encoded, err := encodeCached(point)
	if err != nil {
		return
	}
	if err := e.hotCache.Set(ctx, currentCacheKey(ticker), encoded, e.cfg.CurrentTTL); err != nil {
		e.logger.Warn().Err(err).Str("ticker", ticker.String()).Msg("failed to write hot cache")
	}
}

// GetPriceAt resolves a historical price at or before a given instant,
// feeding backtest trade execution. A warm-store miss triggers a
// rate-limiter-gated on-demand fetch of the provider's daily series around
// the target date, so a single backtest trade doesn't have to wait for the
// next scheduler run.
func (e *Engine) GetPriceAt(ctx context.Context, ticker models.Ticker, at time.Time) (models.PricePoint, error) {
	row, ok, err := e.priceStore.GetAt(ctx, ticker, at)
	if err != nil {
		return models.PricePoint{}, fmt.Errorf("%w: warm store lookup: %s", models.ErrTransient, err.Error())
	}
	if ok && tradingDaysBetween(row.Timestamp, at, e.calendar) <= 5 {
		return row.ToPricePoint(models.SourceWarmStore), nil
	}

	if !e.limiter.TryAcquire() {
		return models.PricePoint{}, fmt.Errorf("%w: no historical data near %s for %s", models.ErrMarketDataUnavailable, at, ticker)
	}

	start := at.AddDate(0, 0, -10)
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.ProviderTimeout)
	rows, err := e.provider.FetchDailySeries(callCtx, ticker, start, at)
	cancel()
	if err != nil {
		var perr *interfaces.ProviderError
		if errors.As(err, &perr) && perr.Kind == interfaces.ProviderErrNotFound {
			return models.PricePoint{}, fmt.Errorf("%w: %s", models.ErrTickerNotFound, ticker)
		}
		return models.PricePoint{}, fmt.Errorf("%w: no historical data near %s for %s", models.ErrMarketDataUnavailable, at, ticker)
	}

	rows = e.sanitizeRows(ticker, rows)
	if err := e.priceStore.Upsert(ctx, rows); err != nil {
		e.logger.Warn().Err(err).Str("ticker", ticker.String()).Msg("failed to persist backfilled rows")
	}

	row, ok, err = e.priceStore.GetAt(ctx, ticker, at)
	if err != nil || !ok {
		return models.PricePoint{}, fmt.Errorf("%w: no historical data near %s for %s", models.ErrMarketDataUnavailable, at, ticker)
	}
	return row.ToPricePoint(models.SourceProvider), nil
}

func tradingDaysBetween(from, to time.Time, calendar *common.MarketCalendar) int {
	if to.Before(from) {
		from, to = to, from
	}
	return len(calendar.ExpectedTradingDays(from, to))
}

// GetPriceHistory implements the tiered read-through for a historical range.
func (e *Engine) GetPriceHistory(ctx context.Context, ticker models.Ticker, start, end time.Time, interval models.PriceInterval) ([]models.PricePoint, error) {
	key := rangeCacheKey(ticker, start, end, interval)

	if cached, ok, err := e.hotCache.Get(ctx, key); err == nil && ok {
		var points []models.PricePoint
		if decodeCached(cached, &points) {
			for i := range points {
				points[i].Source = models.SourceHotCache
			}
			return points, nil
		}
	}

	encoded, err := e.hotCache.Coalesce(ctx, key, func() ([]byte, error) {
		return e.resolvePriceHistory(ctx, ticker, start, end, interval)
	})
	if err != nil {
		return nil, err
	}

	var points []models.PricePoint
	if !decodeCached(encoded, &points) {
		return nil, fmt.Errorf("marketdata: decode resolved history for %s", ticker)
	}
	return points, nil
}

func (e *Engine) resolvePriceHistory(ctx context.Context, ticker models.Ticker, start, end time.Time, interval models.PriceInterval) ([]byte, error) {
	now := e.clock.Now()

	warmRows, err := e.priceStore.GetRange(ctx, ticker, start, end, interval)
	if err != nil {
		return nil, fmt.Errorf("%w: warm store range query: %s", models.ErrTransient, err.Error())
	}

	if isRangeComplete(warmRows, start, end, e.calendar, now) {
		points := toPoints(warmRows, models.SourceWarmStore)
		e.cacheRange(ctx, ticker, start, end, interval, points, now)
		return encodeCached(points)
	}

	if !e.limiter.TryAcquire() {
		return e.partialOrUnavailable(warmRows, ticker)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.ProviderTimeout)
	providerRows, err := e.provider.FetchDailySeries(callCtx, ticker, start, end)
	cancel()
	if err != nil {
		var perr *interfaces.ProviderError
		if errors.As(err, &perr) && perr.Kind == interfaces.ProviderErrNotFound {
			return nil, fmt.Errorf("%w: %s", models.ErrTickerNotFound, ticker)
		}
		return e.partialOrUnavailable(warmRows, ticker)
	}

	providerRows = e.sanitizeRows(ticker, providerRows)
	if len(providerRows) == 0 {
		// The whole series was malformed; treat it like a failed fetch.
		return e.partialOrUnavailable(warmRows, ticker)
	}
	if err := e.priceStore.Upsert(ctx, providerRows); err != nil {
		e.logger.Warn().Err(err).Str("ticker", ticker.String()).Msg("failed to persist provider series to warm store")
	}

	windowed := windowRows(providerRows, start, end)
	points := toPoints(windowed, models.SourceProvider)
	e.cacheRange(ctx, ticker, start, end, interval, points, now)
	return encodeCached(points)
}

func (e *Engine) partialOrUnavailable(warmRows []models.PriceHistoryRow, ticker models.Ticker) ([]byte, error) {
	if len(warmRows) == 0 {
		return nil, fmt.Errorf("%w: no cached history for %s", models.ErrMarketDataUnavailable, ticker)
	}
	points := toPoints(warmRows, models.SourceStale)
	for i := range points {
		points[i].Stale = true
	}
	return encodeCached(points)
}

func (e *Engine) cacheRange(ctx context.Context, ticker models.Ticker, start, end time.Time, interval models.PriceInterval, points []models.PricePoint, now time.Time) {
	if len(points) == 0 {
		return
	}
	encoded, err := encodeCached(points)
	if err != nil {
		return
	}
	freshest := points[len(points)-1].Timestamp
	lastExpected := e.calendar.LastExpectedTradingDay(now, now)
	previous := e.calendar.PreviousTradingDay(lastExpected)
	ttl := common.SelectHistoryTTL(freshest, lastExpected, previous)

	key := rangeCacheKey(ticker, start, end, interval)
	if err := e.hotCache.Set(ctx, key, encoded, ttl); err != nil {
		e.logger.Warn().Err(err).Str("ticker", ticker.String()).Msg("failed to write range hot cache")
	}
}

func toPoints(rows []models.PriceHistoryRow, source models.PriceSource) []models.PricePoint {
	points := make([]models.PricePoint, 0, len(rows))
	for _, r := range rows {
		points = append(points, r.ToPricePoint(source))
	}
	return points
}

func windowRows(rows []models.PriceHistoryRow, start, end time.Time) []models.PriceHistoryRow {
	out := make([]models.PriceHistoryRow, 0, len(rows))
	for _, r := range rows {
		if !r.Timestamp.Before(start) && !r.Timestamp.After(end) {
			out = append(out, r)
		}
	}
	return out
}

var _ interfaces.MarketDataEngine = (*Engine)(nil)
