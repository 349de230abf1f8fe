package marketdata

import (
	"time"

	"github.com/kdalton/tradesim/internal/common"
	"github.com/kdalton/tradesim/internal/models"
)

// rangeTolerance is the number of missing expected trading days a cached
// daily series may have at its boundaries and still be considered complete.
const rangeTolerance = 1

// isRangeComplete reports whether rows cover every expected trading day in
// [start, min(end, lastExpectedTradingDay)], within rangeTolerance.
func isRangeComplete(rows []models.PriceHistoryRow, start, end time.Time, calendar *common.MarketCalendar, now time.Time) bool {
	bound := end
	lastExpected := calendar.LastExpectedTradingDay(end, now)
	if lastExpected.Before(bound) {
		bound = lastExpected
	}
	if bound.Before(start) {
		// Nothing is expected yet (e.g. the whole range is in the future).
		return true
	}

	expected := calendar.ExpectedTradingDays(start, bound)
	if len(expected) == 0 {
		return true
	}

	present := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		present[dateKey(r.Timestamp)] = struct{}{}
	}

	missing := 0
	for i, day := range expected {
		if _, ok := present[dateKey(day)]; !ok {
			if i != 0 && i != len(expected)-1 {
				// A gap inside the range is never tolerated.
				return false
			}
			missing++
		}
	}
	return missing <= rangeTolerance
}

func dateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// isCurrentPriceFresh decides whether a single cached current price is
// still usable without going back to the provider:
// within the current trading day with the market open and age <= 5 minutes,
// or the market is closed and the timestamp is the last expected trading day.
func isCurrentPriceFresh(ts time.Time, now time.Time, calendar *common.MarketCalendar) bool {
	if calendar.IsMarketOpen(now) {
		return sameDate(ts, now) && now.Sub(ts) <= common.FreshCurrentPriceMaxAge
	}
	lastExpected := calendar.LastExpectedTradingDay(now, now)
	return sameDate(ts, lastExpected)
}

func sameDate(a, b time.Time) bool {
	return dateKey(a) == dateKey(b)
}
