package provider

import (
	"context"
	"errors"
	"time"

	"github.com/kdalton/tradesim/internal/common"
	"github.com/kdalton/tradesim/internal/interfaces"
	"github.com/kdalton/tradesim/internal/models"
)

// FallbackProvider tries a primary MarketDataProvider and, if it fails with
// anything other than a definite ProviderErrNotFound, falls through to a
// secondary provider. A NotFound from the primary is trusted: retrying a
// bad symbol elsewhere just burns the secondary's quota.
type FallbackProvider struct {
	primary   interfaces.MarketDataProvider
	secondary interfaces.MarketDataProvider
	logger    *common.Logger
}

// NewFallbackProvider wraps primary with an optional secondary. secondary
// may be nil, in which case this behaves exactly like primary.
func NewFallbackProvider(primary, secondary interfaces.MarketDataProvider, logger *common.Logger) *FallbackProvider {
	return &FallbackProvider{primary: primary, secondary: secondary, logger: logger}
}

// Name reports the primary provider's name; callers distinguish an actual
// fallback occurrence via the log line emitted when it happens.
func (f *FallbackProvider) Name() string { return f.primary.Name() }

func (f *FallbackProvider) FetchCurrent(ctx context.Context, ticker models.Ticker) (models.PricePoint, error) {
	point, err := f.primary.FetchCurrent(ctx, ticker)
	if err == nil || f.secondary == nil || isDefiniteNotFound(err) {
		return point, err
	}

	f.logger.Warn().Err(err).Str("ticker", ticker.String()).Str("primary", f.primary.Name()).Str("secondary", f.secondary.Name()).Msg("primary market-data provider failed, trying secondary")

	secPoint, secErr := f.secondary.FetchCurrent(ctx, ticker)
	if secErr != nil {
		return models.PricePoint{}, err
	}
	return secPoint, nil
}

func (f *FallbackProvider) FetchDailySeries(ctx context.Context, ticker models.Ticker, start, end time.Time) ([]models.PriceHistoryRow, error) {
	rows, err := f.primary.FetchDailySeries(ctx, ticker, start, end)
	if err == nil || f.secondary == nil || isDefiniteNotFound(err) {
		return rows, err
	}

	f.logger.Warn().Err(err).Str("ticker", ticker.String()).Str("primary", f.primary.Name()).Str("secondary", f.secondary.Name()).Msg("primary market-data provider failed, trying secondary")

	secRows, secErr := f.secondary.FetchDailySeries(ctx, ticker, start, end)
	if secErr != nil {
		return nil, err
	}
	return secRows, nil
}

func isDefiniteNotFound(err error) bool {
	var perr *interfaces.ProviderError
	if errors.As(err, &perr) {
		return perr.Kind == interfaces.ProviderErrNotFound
	}
	return false
}

var _ interfaces.MarketDataProvider = (*FallbackProvider)(nil)
