package marketdata

import (
	"fmt"
	"time"

	"github.com/kdalton/tradesim/internal/models"
)

// currentCacheKey is the hot-cache key for a ticker's current price.
func currentCacheKey(ticker models.Ticker) string {
	return fmt.Sprintf("price:current:%s", ticker)
}

// rangeCacheKey is the hot-cache key for one requested history window.
func rangeCacheKey(ticker models.Ticker, start, end time.Time, interval models.PriceInterval) string {
	return fmt.Sprintf("price:range:%s:%s:%s:%s", ticker, start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339), interval)
}
