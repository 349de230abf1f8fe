package surrealdb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	surrealdb "github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/kdalton/tradesim/internal/common"
	"github.com/kdalton/tradesim/internal/interfaces"
	"github.com/kdalton/tradesim/internal/models"
)

// LedgerStore implements interfaces.PortfolioRepository: the
// Ledger Store exclusively owns Portfolio and Transaction rows.
type LedgerStore struct {
	db     *surrealdb.DB
	logger *common.Logger
	clock  common.Clock
}

// NewLedgerStore wraps an already-connected SurrealDB handle.
func NewLedgerStore(db *surrealdb.DB, logger *common.Logger, clock common.Clock) *LedgerStore {
	return &LedgerStore{db: db, logger: logger, clock: clock}
}

type portfolioRecord struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	Currency  string    `json:"currency"`
	CreatedAt time.Time `json:"created_at"`
	Version   int64     `json:"version"`
}

func (r portfolioRecord) toModel() models.Portfolio {
	return models.Portfolio{
		ID:        r.ID,
		OwnerID:   r.OwnerID,
		Name:      r.Name,
		Currency:  r.Currency,
		CreatedAt: r.CreatedAt,
		Version:   r.Version,
	}
}

type transactionRecord struct {
	ID                string    `json:"id"`
	PortfolioID       string    `json:"portfolio_id"`
	Kind              string    `json:"kind"`
	Timestamp         time.Time `json:"timestamp"`
	CashDeltaAmount   string    `json:"cash_delta_amount"`
	CashDeltaCurrency string    `json:"cash_delta_currency"`
	Ticker            string    `json:"ticker,omitempty"`
	Quantity          int64     `json:"quantity,omitempty"`
	UnitPriceAmount   string    `json:"unit_price_amount,omitempty"`
	UnitPriceCurrency string    `json:"unit_price_currency,omitempty"`
	Notes             string    `json:"notes,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

func toTransactionRecord(t models.Transaction) transactionRecord {
	rec := transactionRecord{
		ID:                t.ID,
		PortfolioID:       t.PortfolioID,
		Kind:              string(t.Kind),
		Timestamp:         t.Timestamp,
		CashDeltaAmount:   t.CashDelta.Decimal().String(),
		CashDeltaCurrency: t.CashDelta.Currency(),
		Notes:             t.Notes,
		CreatedAt:         t.CreatedAt,
	}
	if t.IsBuyOrSell() {
		rec.Ticker = t.Ticker.String()
		rec.Quantity = t.Quantity.Int64()
		rec.UnitPriceAmount = t.UnitPrice.Decimal().String()
		rec.UnitPriceCurrency = t.UnitPrice.Currency()
	}
	return rec
}

func (r transactionRecord) toModel() (models.Transaction, error) {
	cashAmt, err := decimal.NewFromString(r.CashDeltaAmount)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("surrealdb: parse cash_delta_amount: %w", err)
	}
	tx := models.Transaction{
		ID:          r.ID,
		PortfolioID: r.PortfolioID,
		Kind:        models.TxKind(r.Kind),
		Timestamp:   r.Timestamp,
		CashDelta:   models.NewMoney(cashAmt, r.CashDeltaCurrency),
		Notes:       r.Notes,
		CreatedAt:   r.CreatedAt,
	}
	if r.Ticker != "" {
		tx.Ticker = models.Ticker(r.Ticker)
		tx.Quantity = models.Quantity(r.Quantity)
		unitAmt, err := decimal.NewFromString(r.UnitPriceAmount)
		if err != nil {
			return models.Transaction{}, fmt.Errorf("surrealdb: parse unit_price_amount: %w", err)
		}
		tx.UnitPrice = models.NewMoney(unitAmt, r.UnitPriceCurrency)
	}
	return tx, nil
}

// CreatePortfolio creates the portfolio row and, atomically in the same unit
// of work, writes the opening DEPOSIT transaction.
func (s *LedgerStore) CreatePortfolio(ctx context.Context, ownerID, name string, initialDeposit models.Money) (models.Portfolio, models.Transaction, error) {
	if !initialDeposit.IsPositive() {
		return models.Portfolio{}, models.Transaction{}, fmt.Errorf("%w: initial_deposit must be > 0", models.ErrInvalidArgument)
	}

	now := s.clock.Now()
	portfolioID := uuid.NewString()
	txID := uuid.NewString()

	portfolio := portfolioRecord{
		ID:        portfolioID,
		OwnerID:   ownerID,
		Name:      name,
		Currency:  initialDeposit.Currency(),
		CreatedAt: now,
		Version:   1,
	}
	deposit := models.Transaction{
		ID:          txID,
		PortfolioID: portfolioID,
		Kind:        models.TxDeposit,
		CashDelta:   initialDeposit,
		Timestamp:   now,
		CreatedAt:   now,
	}

	sql := `BEGIN TRANSACTION;
CREATE type::thing('portfolio', $portfolio_id) CONTENT $portfolio;
CREATE type::thing('transaction', $tx_id) CONTENT $tx;
COMMIT TRANSACTION;`
	vars := map[string]any{
		"portfolio_id": portfolioID,
		"portfolio":    portfolio,
		"tx_id":        txID,
		"tx":           toTransactionRecord(deposit),
	}
	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return models.Portfolio{}, models.Transaction{}, fmt.Errorf("surrealdb: create portfolio: %w", err)
	}

	return portfolio.toModel(), deposit, nil
}

// GetPortfolio fails with ErrNotFound if absent.
func (s *LedgerStore) GetPortfolio(ctx context.Context, id string) (models.Portfolio, error) {
	rec, err := surrealdb.Select[portfolioRecord](ctx, s.db, surrealmodels.NewRecordID("portfolio", id))
	if err != nil {
		return models.Portfolio{}, fmt.Errorf("surrealdb: get portfolio: %w", err)
	}
	if rec == nil {
		return models.Portfolio{}, fmt.Errorf("%w: portfolio %s", models.ErrNotFound, id)
	}
	return rec.toModel(), nil
}

// ListPortfolios is sorted by created_at ascending.
func (s *LedgerStore) ListPortfolios(ctx context.Context, ownerID string) ([]models.Portfolio, error) {
	sql := "SELECT * FROM portfolio WHERE owner_id = $owner_id ORDER BY created_at ASC"
	results, err := surrealdb.Query[[]portfolioRecord](ctx, s.db, sql, map[string]any{"owner_id": ownerID})
	if err != nil {
		return nil, fmt.Errorf("surrealdb: list portfolios: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return nil, nil
	}
	out := make([]models.Portfolio, 0, len((*results)[0].Result))
	for _, rec := range (*results)[0].Result {
		out = append(out, rec.toModel())
	}
	return out, nil
}

// AppendTransactions is a single atomic write of one or more transactions
// together with a version bump. Transaction insertion is
// idempotent when a caller-supplied id collides: the existing row is
// returned unchanged.
func (s *LedgerStore) AppendTransactions(ctx context.Context, portfolioID string, expectedVersion int64, txns []models.Transaction) (int64, error) {
	if len(txns) == 0 {
		return expectedVersion, nil
	}

	current, err := s.GetPortfolio(ctx, portfolioID)
	if err != nil {
		return 0, err
	}

	// Idempotence: if every transaction id already exists, return the
	// stored version unchanged rather than re-applying.
	allSeen := true
	for _, t := range txns {
		existing, err := surrealdb.Select[transactionRecord](ctx, s.db, surrealmodels.NewRecordID("transaction", t.ID))
		if err != nil {
			return 0, fmt.Errorf("surrealdb: check existing transaction %s: %w", t.ID, err)
		}
		if existing == nil {
			allSeen = false
			break
		}
	}
	if allSeen {
		return current.Version, nil
	}

	if current.Version != expectedVersion {
		return 0, fmt.Errorf("%w: portfolio %s expected version %d, stored %d", models.ErrConflict, portfolioID, expectedVersion, current.Version)
	}

	records := make([]transactionRecord, 0, len(txns))
	for _, t := range txns {
		records = append(records, toTransactionRecord(t))
	}

	newVersion := expectedVersion + 1
	sql := `BEGIN TRANSACTION;
LET $p = (SELECT version FROM type::thing('portfolio', $portfolio_id))[0];
IF $p.version != $expected_version THEN THROW "concurrent modification" END;
UPDATE type::thing('portfolio', $portfolio_id) SET version = $new_version;
FOR $tx IN $txns { CREATE type::thing('transaction', $tx.id) CONTENT $tx; };
COMMIT TRANSACTION;`
	vars := map[string]any{
		"portfolio_id":     portfolioID,
		"expected_version": expectedVersion,
		"new_version":      newVersion,
		"txns":             records,
	}
	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		if strings.Contains(err.Error(), "concurrent modification") {
			return 0, fmt.Errorf("%w: portfolio %s", models.ErrConflict, portfolioID)
		}
		return 0, fmt.Errorf("%w: surrealdb append_transactions: %s", models.ErrTransient, err.Error())
	}

	return newVersion, nil
}

// ListTransactions sorts by (timestamp ASC, id ASC) for deterministic replay.
func (s *LedgerStore) ListTransactions(ctx context.Context, portfolioID string, filter interfaces.TransactionFilter) ([]models.Transaction, error) {
	clauses := []string{"portfolio_id = $portfolio_id"}
	vars := map[string]any{"portfolio_id": portfolioID}

	if filter.Start != nil {
		clauses = append(clauses, "timestamp >= $start")
		vars["start"] = *filter.Start
	}
	if filter.End != nil {
		clauses = append(clauses, "timestamp <= $end")
		vars["end"] = *filter.End
	}
	if len(filter.Kinds) > 0 {
		kinds := make([]string, 0, len(filter.Kinds))
		for _, k := range filter.Kinds {
			kinds = append(kinds, string(k))
		}
		clauses = append(clauses, "kind IN $kinds")
		vars["kinds"] = kinds
	}

	sql := fmt.Sprintf("SELECT * FROM transaction WHERE %s ORDER BY timestamp ASC, id ASC", strings.Join(clauses, " AND "))
	return s.queryTransactions(ctx, sql, vars)
}

// GetTransactionsAtOrBefore supports point-in-time projection.
func (s *LedgerStore) GetTransactionsAtOrBefore(ctx context.Context, portfolioID string, at time.Time) ([]models.Transaction, error) {
	sql := "SELECT * FROM transaction WHERE portfolio_id = $portfolio_id AND timestamp <= $at ORDER BY timestamp ASC, id ASC"
	return s.queryTransactions(ctx, sql, map[string]any{"portfolio_id": portfolioID, "at": at})
}

func (s *LedgerStore) queryTransactions(ctx context.Context, sql string, vars map[string]any) ([]models.Transaction, error) {
	results, err := surrealdb.Query[[]transactionRecord](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("surrealdb: query transactions: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return nil, nil
	}
	out := make([]models.Transaction, 0, len((*results)[0].Result))
	for _, rec := range (*results)[0].Result {
		tx, err := rec.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, nil
}

var _ interfaces.PortfolioRepository = (*LedgerStore)(nil)
