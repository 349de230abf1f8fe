package interfaces

import (
	"context"
	"time"

	"github.com/kdalton/tradesim/internal/models"
)

// ProviderErrorKind classifies a MarketDataProvider failure.
type ProviderErrorKind string

const (
	ProviderErrNotFound    ProviderErrorKind = "NOT_FOUND"
	ProviderErrRateLimited ProviderErrorKind = "RATE_LIMITED"
	ProviderErrTransient   ProviderErrorKind = "TRANSIENT"
	ProviderErrAuth        ProviderErrorKind = "AUTH"
)

// ProviderError is the typed error a MarketDataProvider returns, letting the
// Market-Data Engine distinguish a definite "no such symbol" from a
// transient outage without string-matching.
type ProviderError struct {
	Kind    ProviderErrorKind
	Message string
}

func (e *ProviderError) Error() string { return string(e.Kind) + ": " + e.Message }

// MarketDataProvider is the cold-tier external price source port.
// Implementations do no throttling of their own; the Market-Data Engine
// gates every call through a RateLimiter (internal/ratelimit).
type MarketDataProvider interface {
	Name() string
	FetchCurrent(ctx context.Context, ticker models.Ticker) (models.PricePoint, error)
	FetchDailySeries(ctx context.Context, ticker models.Ticker, start, end time.Time) ([]models.PriceHistoryRow, error)
}
