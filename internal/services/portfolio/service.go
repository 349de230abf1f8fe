// Package portfolio implements the read-side surface over the ledger:
// portfolio creation and listing pass-throughs plus the derived state
// snapshot (cash, holdings, valuation, realized P/L) the projector folds
// out of the transaction stream.
package portfolio

import (
	"context"
	"fmt"
	"time"

	"github.com/kdalton/tradesim/internal/common"
	"github.com/kdalton/tradesim/internal/interfaces"
	"github.com/kdalton/tradesim/internal/models"
	"github.com/kdalton/tradesim/internal/services/projector"
)

// State is the derived snapshot of a portfolio at an instant. Nothing in
// it is stored; every field is recomputed from the ledger on each call.
type State struct {
	Portfolio   models.Portfolio          `json:"portfolio"`
	AsOf        time.Time                 `json:"as_of"`
	Cash        models.Money              `json:"cash"`
	Holdings    []models.Holding          `json:"holdings"`
	Valuation   models.PortfolioValuation `json:"valuation"`
	RealizedPnL models.Money              `json:"realized_pnl"`
}

// Service composes the Ledger Store, the projector, and the Market-Data
// Engine into the portfolio read operations the HTTP layer consumes.
type Service struct {
	ledger interfaces.PortfolioRepository
	engine interfaces.MarketDataEngine
	clock  common.Clock
	logger *common.Logger
}

// New builds a portfolio service from its ports.
func New(ledger interfaces.PortfolioRepository, engine interfaces.MarketDataEngine, clock common.Clock, logger *common.Logger) *Service {
	return &Service{ledger: ledger, engine: engine, clock: clock, logger: logger}
}

// Create opens a portfolio with its initial deposit.
func (s *Service) Create(ctx context.Context, ownerID, name string, initialDeposit models.Money) (models.Portfolio, error) {
	if ownerID == "" || name == "" {
		return models.Portfolio{}, fmt.Errorf("%w: owner_id and name are required", models.ErrInvalidArgument)
	}
	p, _, err := s.ledger.CreatePortfolio(ctx, ownerID, name, initialDeposit)
	if err != nil {
		return models.Portfolio{}, err
	}
	s.logger.Info().Str("portfolio_id", p.ID).Str("owner_id", ownerID).Msg("portfolio created")
	return p, nil
}

// List returns the owner's portfolios ordered by creation time.
func (s *Service) List(ctx context.Context, ownerID string) ([]models.Portfolio, error) {
	return s.ledger.ListPortfolios(ctx, ownerID)
}

// GetState folds the ledger (truncated at asOf when set) into the derived
// snapshot, pricing holdings live or at the historical instant.
func (s *Service) GetState(ctx context.Context, portfolioID string, asOf *time.Time) (State, error) {
	p, err := s.ledger.GetPortfolio(ctx, portfolioID)
	if err != nil {
		return State{}, err
	}

	at := s.clock.Now()
	if asOf != nil {
		at = *asOf
	}

	txns, err := s.ledger.GetTransactionsAtOrBefore(ctx, portfolioID, at)
	if err != nil {
		return State{}, fmt.Errorf("%w: load ledger: %s", models.ErrTransient, err.Error())
	}

	cash, err := projector.ProjectCash(txns, nil)
	if err != nil {
		return State{}, err
	}
	holdings, err := projector.ProjectHoldings(txns, nil)
	if err != nil {
		return State{}, err
	}

	valuation, err := projector.ProjectValuation(cash, holdings, s.priceLookup(ctx, asOf))
	if err != nil {
		return State{}, err
	}

	pnl, err := projector.RealizedPnL(txns)
	if err != nil {
		return State{}, err
	}

	return State{
		Portfolio:   p,
		AsOf:        at,
		Cash:        cash,
		Holdings:    holdings,
		Valuation:   valuation,
		RealizedPnL: pnl,
	}, nil
}

// ListTransactions returns the portfolio's ledger, optionally narrowed by
// time range and kinds, failing with ErrNotFound for an unknown portfolio.
func (s *Service) ListTransactions(ctx context.Context, portfolioID string, filter interfaces.TransactionFilter) ([]models.Transaction, error) {
	if _, err := s.ledger.GetPortfolio(ctx, portfolioID); err != nil {
		return nil, err
	}
	return s.ledger.ListTransactions(ctx, portfolioID, filter)
}

// priceLookup builds the projector's pricing closure: the engine's current
// price for a live snapshot, its historical price when asOf is set.
func (s *Service) priceLookup(ctx context.Context, asOf *time.Time) projector.PriceLookup {
	return func(ticker models.Ticker) (models.Money, error) {
		if asOf != nil {
			point, err := s.engine.GetPriceAt(ctx, ticker, *asOf)
			if err != nil {
				return models.Money{}, err
			}
			return point.Price, nil
		}
		point, err := s.engine.GetCurrentPrice(ctx, ticker)
		if err != nil {
			return models.Money{}, err
		}
		return point.Price, nil
	}
}
