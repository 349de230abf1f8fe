// Package interfaces defines the ports the core depends on: the
// explicit "dependencies" configuration the rest of the module is wired
// against, rather than a global service registry.
package interfaces

import (
	"context"
	"time"

	"github.com/kdalton/tradesim/internal/models"
)

// PortfolioRepository is the Ledger Store port. All writes
// are serializable at the portfolio grain.
type PortfolioRepository interface {
	CreatePortfolio(ctx context.Context, ownerID, name string, initialDeposit models.Money) (models.Portfolio, models.Transaction, error)
	GetPortfolio(ctx context.Context, id string) (models.Portfolio, error)
	ListPortfolios(ctx context.Context, ownerID string) ([]models.Portfolio, error)

	// AppendTransactions atomically writes txns and bumps the stored
	// version, failing with ErrConflict if expectedVersion is stale.
	AppendTransactions(ctx context.Context, portfolioID string, expectedVersion int64, txns []models.Transaction) (newVersion int64, err error)

	ListTransactions(ctx context.Context, portfolioID string, filter TransactionFilter) ([]models.Transaction, error)
	GetTransactionsAtOrBefore(ctx context.Context, portfolioID string, at time.Time) ([]models.Transaction, error)
}

// TransactionFilter narrows ListTransactions by an optional time range and
// optional set of kinds.
type TransactionFilter struct {
	Start *time.Time
	End   *time.Time
	Kinds []models.TxKind
}

// PriceRepository is the Price Store port.
type PriceRepository interface {
	GetLatest(ctx context.Context, ticker models.Ticker) (models.PriceHistoryRow, bool, error)
	GetAt(ctx context.Context, ticker models.Ticker, at time.Time) (models.PriceHistoryRow, bool, error)
	GetRange(ctx context.Context, ticker models.Ticker, start, end time.Time, interval models.PriceInterval) ([]models.PriceHistoryRow, error)
	Upsert(ctx context.Context, rows []models.PriceHistoryRow) error
	// ListActiveTickers returns tickers appearing in any non-zero holding
	// over the lookback window, used by the Refresh Scheduler.
	ListActiveTickers(ctx context.Context, window time.Duration) ([]models.Ticker, error)
}

// HotCache is the capability set {get, set-with-ttl, delete, single-flight}
// — any in-memory or remote KV backend satisfying it is
// swappable behind the Market-Data Engine.
type HotCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Coalesce ensures at most one concurrent fn execution per key; other
	// callers await and share the result.
	Coalesce(ctx context.Context, key string, fn func() ([]byte, error)) ([]byte, error)
	Close() error
}
