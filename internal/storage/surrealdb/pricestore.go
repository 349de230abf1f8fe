package surrealdb

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	surrealdb "github.com/surrealdb/surrealdb.go"

	"github.com/kdalton/tradesim/internal/common"
	"github.com/kdalton/tradesim/internal/interfaces"
	"github.com/kdalton/tradesim/internal/models"
)

// PriceStore implements interfaces.PriceRepository: the
// warm tier behind the Market-Data Engine's hot cache.
type PriceStore struct {
	db     *surrealdb.DB
	logger *common.Logger
	clock  common.Clock
}

// NewPriceStore wraps an already-connected SurrealDB handle.
func NewPriceStore(db *surrealdb.DB, logger *common.Logger, clock common.Clock) *PriceStore {
	return &PriceStore{db: db, logger: logger, clock: clock}
}

type ohlcvRecord struct {
	Open   float64 `json:"open,omitempty"`
	High   float64 `json:"high,omitempty"`
	Low    float64 `json:"low,omitempty"`
	Close  float64 `json:"close,omitempty"`
	Volume int64   `json:"volume,omitempty"`
}

type priceHistoryRecord struct {
	ID            string       `json:"id"`
	Ticker        string       `json:"ticker"`
	Timestamp     time.Time    `json:"timestamp"`
	Interval      string       `json:"interval"`
	PriceAmount   string       `json:"price_amount"`
	PriceCurrency string       `json:"price_currency"`
	OHLCV         *ohlcvRecord `json:"ohlcv,omitempty"`
	Source        string       `json:"source"`
	IngestedAt    time.Time    `json:"ingested_at"`
}

// priceRecordID keys price_history rows on the natural (ticker, timestamp,
// interval) tuple so Upsert is idempotent by construction.
func priceRecordID(ticker models.Ticker, ts time.Time, interval models.PriceInterval) string {
	return fmt.Sprintf("%s_%d_%s", ticker.String(), ts.UTC().Unix(), interval)
}

func toPriceHistoryRecord(row models.PriceHistoryRow) priceHistoryRecord {
	rec := priceHistoryRecord{
		ID:            priceRecordID(row.Ticker, row.Timestamp, row.Interval),
		Ticker:        row.Ticker.String(),
		Timestamp:     row.Timestamp,
		Interval:      string(row.Interval),
		PriceAmount:   row.Price.Decimal().String(),
		PriceCurrency: row.Price.Currency(),
		Source:        string(row.Source),
		IngestedAt:    row.IngestedAt,
	}
	if row.OHLCV != nil {
		rec.OHLCV = &ohlcvRecord{
			Open:   row.OHLCV.Open,
			High:   row.OHLCV.High,
			Low:    row.OHLCV.Low,
			Close:  row.OHLCV.Close,
			Volume: row.OHLCV.Volume,
		}
	}
	return rec
}

func (r priceHistoryRecord) toModel() (models.PriceHistoryRow, error) {
	amt, err := decimal.NewFromString(r.PriceAmount)
	if err != nil {
		return models.PriceHistoryRow{}, fmt.Errorf("surrealdb: parse price_amount: %w", err)
	}
	row := models.PriceHistoryRow{
		Ticker:     models.Ticker(r.Ticker),
		Timestamp:  r.Timestamp,
		Interval:   models.PriceInterval(r.Interval),
		Price:      models.NewMoney(amt, r.PriceCurrency),
		Source:     models.PriceSource(r.Source),
		IngestedAt: r.IngestedAt,
	}
	if r.OHLCV != nil {
		row.OHLCV = &models.OHLCV{
			Open:   r.OHLCV.Open,
			High:   r.OHLCV.High,
			Low:    r.OHLCV.Low,
			Close:  r.OHLCV.Close,
			Volume: r.OHLCV.Volume,
		}
	}
	return row, nil
}

// GetLatest returns the most recent row for ticker, if any.
func (s *PriceStore) GetLatest(ctx context.Context, ticker models.Ticker) (models.PriceHistoryRow, bool, error) {
	sql := "SELECT * FROM price_history WHERE ticker = $ticker ORDER BY timestamp DESC LIMIT 1"
	rows, err := s.queryRows(ctx, sql, map[string]any{"ticker": ticker.String()})
	if err != nil {
		return models.PriceHistoryRow{}, false, err
	}
	if len(rows) == 0 {
		return models.PriceHistoryRow{}, false, nil
	}
	return rows[0], true, nil
}

// GetAt returns the row at or immediately before at, bounded to 5 trading
// days back to avoid scanning unbounded history.
func (s *PriceStore) GetAt(ctx context.Context, ticker models.Ticker, at time.Time) (models.PriceHistoryRow, bool, error) {
	lowerBound := at.AddDate(0, 0, -10) // generous calendar-day margin over 5 trading days
	sql := `SELECT * FROM price_history
WHERE ticker = $ticker AND timestamp <= $at AND timestamp >= $lower_bound
ORDER BY timestamp DESC LIMIT 1`
	rows, err := s.queryRows(ctx, sql, map[string]any{
		"ticker":      ticker.String(),
		"at":          at,
		"lower_bound": lowerBound,
	})
	if err != nil {
		return models.PriceHistoryRow{}, false, err
	}
	if len(rows) == 0 {
		return models.PriceHistoryRow{}, false, nil
	}
	return rows[0], true, nil
}

// maxRangeRows bounds GetRange so a single careless query can't pull an
// unbounded history table into memory.
const maxRangeRows = 10_000

// GetRange returns rows in [start, end] for the given interval, oldest
// first, capped at maxRangeRows.
func (s *PriceStore) GetRange(ctx context.Context, ticker models.Ticker, start, end time.Time, interval models.PriceInterval) ([]models.PriceHistoryRow, error) {
	sql := `SELECT * FROM price_history
WHERE ticker = $ticker AND interval = $interval AND timestamp >= $start AND timestamp <= $end
ORDER BY timestamp ASC LIMIT $limit`
	return s.queryRows(ctx, sql, map[string]any{
		"ticker":   ticker.String(),
		"interval": string(interval),
		"start":    start,
		"end":      end,
		"limit":    maxRangeRows,
	})
}

// Upsert idempotently writes rows keyed on (ticker, timestamp, interval):
// re-ingesting the same bar is a no-op value-wise.
func (s *PriceStore) Upsert(ctx context.Context, rows []models.PriceHistoryRow) error {
	for _, row := range rows {
		rec := toPriceHistoryRecord(row)
		sql := "UPSERT type::thing('price_history', $id) CONTENT $rec"
		if _, err := surrealdb.Query[any](ctx, s.db, sql, map[string]any{"id": rec.ID, "rec": rec}); err != nil {
			return fmt.Errorf("surrealdb: upsert price_history %s: %w", rec.ID, err)
		}
	}
	return nil
}

// ListActiveTickers returns the distinct set of tickers touched by a BUY or
// SELL transaction within window — an approximation of "appears in a
// non-zero holding" that avoids re-deriving full portfolio state here; the
// Refresh Scheduler only needs a candidate set, not exactness.
func (s *PriceStore) ListActiveTickers(ctx context.Context, window time.Duration) ([]models.Ticker, error) {
	since := s.clock.Now().Add(-window)
	sql := `SELECT array::distinct(ticker) AS tickers FROM transaction
WHERE kind IN ['BUY', 'SELL'] AND timestamp >= $since GROUP ALL`
	results, err := surrealdb.Query[[]struct {
		Tickers []string `json:"tickers"`
	}](ctx, s.db, sql, map[string]any{"since": since})
	if err != nil {
		return nil, fmt.Errorf("surrealdb: list active tickers: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	raw := (*results)[0].Result[0].Tickers
	out := make([]models.Ticker, 0, len(raw))
	for _, t := range raw {
		out = append(out, models.Ticker(t))
	}
	return out, nil
}

func (s *PriceStore) queryRows(ctx context.Context, sql string, vars map[string]any) ([]models.PriceHistoryRow, error) {
	results, err := surrealdb.Query[[]priceHistoryRecord](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("surrealdb: query price_history: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return nil, nil
	}
	out := make([]models.PriceHistoryRow, 0, len((*results)[0].Result))
	for _, rec := range (*results)[0].Result {
		row, err := rec.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

var _ interfaces.PriceRepository = (*PriceStore)(nil)
