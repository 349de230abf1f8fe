// Package ratelimit implements the token-bucket budget governing calls to
// the external market-data provider. It layers a calendar-day counter on
// top of golang.org/x/time/rate's per-minute bucket.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kdalton/tradesim/internal/common"
)

// Config holds the per-minute and per-day budgets.
type Config struct {
	PerMinute int
	PerDay    int
}

// Limiter is a process-wide token-bucket gate in front of a
// MarketDataProvider. Its lifecycle is owned by the Market-Data Engine.
type Limiter struct {
	minute *rate.Limiter
	clock  common.Clock

	mu          sync.Mutex
	dayBudget   int
	dayUsed     int
	dayResetsAt time.Time
}

// New builds a Limiter. Budget state is not persisted across restarts — it
// is conservatively re-seeded at construction.
func New(cfg Config, clock common.Clock) *Limiter {
	if cfg.PerMinute <= 0 {
		cfg.PerMinute = 5
	}
	if cfg.PerDay <= 0 {
		cfg.PerDay = 500
	}
	now := clock.Now()
	return &Limiter{
		minute:      rate.NewLimiter(rate.Limit(float64(cfg.PerMinute)/60.0), cfg.PerMinute),
		clock:       clock,
		dayBudget:   cfg.PerDay,
		dayResetsAt: nextMidnightUTC(now),
	}
}

func nextMidnightUTC(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}

// rollDay resets the per-day counter if the day boundary has passed. The
// boundary is fixed at UTC midnight so two processes in different zones
// agree on when the budget resets.
func (l *Limiter) rollDay() {
	now := l.clock.Now()
	if !now.Before(l.dayResetsAt) {
		l.dayUsed = 0
		l.dayResetsAt = nextMidnightUTC(now)
	}
}

// TryAcquire is a non-blocking, atomic acquisition of one token from both
// the per-minute and per-day budgets. It never blocks; the
// engine takes the fallback path on false.
func (l *Limiter) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rollDay()
	if l.dayUsed >= l.dayBudget {
		return false
	}
	if !l.minute.Allow() {
		return false
	}
	l.dayUsed++
	return true
}

// WaitAcquire blocks until a token is available or ctx/deadline expires,
// used by the background refresher.
func (l *Limiter) WaitAcquire(ctx context.Context, deadline time.Time) error {
	for {
		l.mu.Lock()
		l.rollDay()
		dayExhausted := l.dayUsed >= l.dayBudget
		resetsAt := l.dayResetsAt
		l.mu.Unlock()

		if dayExhausted {
			if l.clock.Now().After(deadline) {
				return fmt.Errorf("ratelimit: daily budget exhausted, resets at %s: %w", resetsAt, context.DeadlineExceeded)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(minDuration(time.Second, time.Until(deadline))):
				continue
			}
		}

		waitCtx, cancel := context.WithDeadline(ctx, deadline)
		err := l.minute.Wait(waitCtx)
		cancel()
		if err != nil {
			return err
		}

		l.mu.Lock()
		l.rollDay()
		if l.dayUsed >= l.dayBudget {
			// Lost the day-budget race to a concurrent caller; retry.
			l.mu.Unlock()
			continue
		}
		l.dayUsed++
		l.mu.Unlock()
		return nil
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
