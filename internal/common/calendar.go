package common

import "time"

// MarketCalendar is a deterministic, versioned trading-day predicate: no
// external holiday-feed call, just a weekday check plus a fixed US market
// holiday set with weekend-observation rules.
type MarketCalendar struct {
	// CloseTimeUTC is the hour-of-day (0-23) the market closes, UTC.
	CloseTimeUTC int
	holidays     map[string]struct{}
}

// NewMarketCalendar builds a calendar for the given close hour (UTC) and an
// optional extra set of ISO (YYYY-MM-DD) holiday dates merged with the fixed
// US market holiday set.
func NewMarketCalendar(closeHourUTC int, extraHolidays []string) *MarketCalendar {
	holidays := make(map[string]struct{}, 16)
	for _, d := range extraHolidays {
		holidays[d] = struct{}{}
	}
	return &MarketCalendar{CloseTimeUTC: closeHourUTC, holidays: holidays}
}

// DefaultMarketCalendar uses the NYSE close of 21:00 UTC and the built-in
// US holiday set.
func DefaultMarketCalendar() *MarketCalendar {
	return NewMarketCalendar(21, nil)
}

func observedHolidays(year int) map[string]struct{} {
	set := make(map[string]struct{}, 16)
	add := func(t time.Time) {
		set[observe(t).Format("2006-01-02")] = struct{}{}
	}

	add(time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)) // New Year's Day
	add(nthWeekdayOfMonth(year, time.January, time.Monday, 3))  // MLK Day
	add(nthWeekdayOfMonth(year, time.February, time.Monday, 3)) // Presidents' Day
	add(goodFriday(year))
	add(lastWeekdayOfMonth(year, time.May, time.Monday))          // Memorial Day
	add(time.Date(year, time.June, 19, 0, 0, 0, 0, time.UTC))     // Juneteenth
	add(time.Date(year, time.July, 4, 0, 0, 0, 0, time.UTC))      // Independence Day
	add(nthWeekdayOfMonth(year, time.September, time.Monday, 1))  // Labor Day
	add(nthWeekdayOfMonth(year, time.November, time.Thursday, 4)) // Thanksgiving
	add(time.Date(year, time.December, 25, 0, 0, 0, 0, time.UTC)) // Christmas

	return set
}

// observe applies the Saturday->prior Friday, Sunday->following Monday rule.
func observe(t time.Time) time.Time {
	switch t.Weekday() {
	case time.Saturday:
		return t.AddDate(0, 0, -1)
	case time.Sunday:
		return t.AddDate(0, 0, 1)
	default:
		return t
	}
}

func nthWeekdayOfMonth(year int, month time.Month, weekday time.Weekday, n int) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	offset := (int(weekday) - int(first.Weekday()) + 7) % 7
	day := 1 + offset + (n-1)*7
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func lastWeekdayOfMonth(year int, month time.Month, weekday time.Weekday) time.Time {
	firstNext := time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC)
	last := firstNext.AddDate(0, 0, -1)
	offset := (int(last.Weekday()) - int(weekday) + 7) % 7
	return last.AddDate(0, 0, -offset)
}

// goodFriday computes Easter (Anonymous/Meeus Gregorian algorithm) minus two days.
func goodFriday(year int) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	easter := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	return easter.AddDate(0, 0, -2)
}

// IsTradingDay reports whether t's date (UTC) is a weekday not in the
// observed holiday set.
func (c *MarketCalendar) IsTradingDay(t time.Time) bool {
	t = t.UTC()
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	key := t.Format("2006-01-02")
	if _, ok := c.holidays[key]; ok {
		return false
	}
	if _, ok := observedHolidays(t.Year())[key]; ok {
		return false
	}
	return true
}

// IsMarketOpen reports whether the market is open at instant t: a trading
// day and before CloseTimeUTC.
func (c *MarketCalendar) IsMarketOpen(t time.Time) bool {
	t = t.UTC()
	return c.IsTradingDay(t) && t.Hour() < c.CloseTimeUTC
}

// PreviousTradingDay walks backwards from t (exclusive) to the nearest
// trading day.
func (c *MarketCalendar) PreviousTradingDay(t time.Time) time.Time {
	d := startOfDay(t).AddDate(0, 0, -1)
	for !c.IsTradingDay(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// LastExpectedTradingDay computes the last trading day a complete series
// should include as of now: walk backwards from min(end, now) skipping
// non-trading days; if now is before market close on that date, step back
// one more trading day.
func (c *MarketCalendar) LastExpectedTradingDay(end, now time.Time) time.Time {
	bound := end
	if now.Before(bound) {
		bound = now
	}
	d := startOfDay(bound)
	for !c.IsTradingDay(d) {
		d = d.AddDate(0, 0, -1)
	}
	if sameDay(d, now) && now.UTC().Hour() < c.CloseTimeUTC {
		// now is on this trading day but before close: today doesn't count yet.
		return c.PreviousTradingDay(d)
	}
	return d
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func sameDay(a, b time.Time) bool {
	a, b = a.UTC(), b.UTC()
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}

// ExpectedTradingDays returns every trading day in [start, end] inclusive.
func (c *MarketCalendar) ExpectedTradingDays(start, end time.Time) []time.Time {
	var days []time.Time
	d := startOfDay(start)
	stop := startOfDay(end)
	for !d.After(stop) {
		if c.IsTradingDay(d) {
			days = append(days, d)
		}
		d = d.AddDate(0, 0, 1)
	}
	return days
}
