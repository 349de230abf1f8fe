package interfaces

import (
	"context"
	"time"

	"github.com/kdalton/tradesim/internal/models"
)

// MarketDataEngine resolves prices through the tiered hot/warm/provider
// read-through path.
type MarketDataEngine interface {
	GetCurrentPrice(ctx context.Context, ticker models.Ticker) (models.PricePoint, error)
	GetPriceAt(ctx context.Context, ticker models.Ticker, at time.Time) (models.PricePoint, error)
	GetPriceHistory(ctx context.Context, ticker models.Ticker, start, end time.Time, interval models.PriceInterval) ([]models.PricePoint, error)
}

// TradeExecutionService validates trades, resolves an execution price, and
// appends ledger entries.
type TradeExecutionService interface {
	Deposit(ctx context.Context, portfolioID string, amount models.Money) (models.Transaction, error)
	Withdraw(ctx context.Context, portfolioID string, amount models.Money) (models.Transaction, error)
	ExecuteBuy(ctx context.Context, portfolioID string, ticker models.Ticker, quantity models.Quantity, asOf *time.Time) (models.Transaction, error)
	ExecuteSell(ctx context.Context, portfolioID string, ticker models.Ticker, quantity models.Quantity, asOf *time.Time) (models.Transaction, error)
}

// RateLimiter is the token-bucket port the Market-Data Engine and Refresh
// Scheduler share.
type RateLimiter interface {
	TryAcquire() bool
	WaitAcquire(ctx context.Context, deadline time.Time) error
}

// Scheduler is the recurring-job port the Refresh Scheduler runs on:
// submit a cron-style recurrence, cancel to stop it.
type Scheduler interface {
	Submit(cronExpr string, fn func(ctx context.Context)) (cancel func(), err error)
}
