// Package trade implements the Trade Execution Service:
// deposit, withdraw, and buy/sell order execution, each a validate / resolve
// price / load state / check invariants / construct transaction / commit
// pipeline against the Ledger Store's optimistic-concurrency append.
package trade

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/kdalton/tradesim/internal/common"
	"github.com/kdalton/tradesim/internal/interfaces"
	"github.com/kdalton/tradesim/internal/models"
	"github.com/kdalton/tradesim/internal/services/projector"
)

// maxCommitAttempts bounds the optimistic-lock retry loop.
const maxCommitAttempts = 3

// Service implements interfaces.TradeExecutionService.
type Service struct {
	ledger interfaces.PortfolioRepository
	engine interfaces.MarketDataEngine
	clock  common.Clock
	logger *common.Logger

	// jitter is the injectable randomness source for the commit-conflict
	// backoff (20-200ms).
	jitter func() time.Duration
}

// New builds a trade execution service from its ports.
func New(ledger interfaces.PortfolioRepository, engine interfaces.MarketDataEngine, clock common.Clock, logger *common.Logger) *Service {
	return &Service{
		ledger: ledger,
		engine: engine,
		clock:  clock,
		logger: logger,
		jitter: func() time.Duration { return 20*time.Millisecond + time.Duration(rand.Intn(180))*time.Millisecond },
	}
}

// Deposit credits a portfolio's cash balance.
func (s *Service) Deposit(ctx context.Context, portfolioID string, amount models.Money) (models.Transaction, error) {
	if !amount.IsPositive() {
		return models.Transaction{}, fmt.Errorf("%w: deposit amount must be > 0", models.ErrInvalidArgument)
	}
	return s.commit(ctx, portfolioID, func(p models.Portfolio) (models.Transaction, error) {
		if err := matchCurrency(p, amount); err != nil {
			return models.Transaction{}, err
		}
		now := s.clock.Now()
		return models.Transaction{
			ID:          uuid.NewString(),
			PortfolioID: portfolioID,
			Kind:        models.TxDeposit,
			CashDelta:   amount,
			Timestamp:   now,
			CreatedAt:   now,
		}, nil
	})
}

// Withdraw debits a portfolio's cash balance, rejecting the request with
// ErrInsufficientFunds if it would drive cash negative.
func (s *Service) Withdraw(ctx context.Context, portfolioID string, amount models.Money) (models.Transaction, error) {
	if !amount.IsPositive() {
		return models.Transaction{}, fmt.Errorf("%w: withdraw amount must be > 0", models.ErrInvalidArgument)
	}
	return s.commit(ctx, portfolioID, func(p models.Portfolio) (models.Transaction, error) {
		if err := matchCurrency(p, amount); err != nil {
			return models.Transaction{}, err
		}
		now := s.clock.Now()
		txns, err := s.ledger.GetTransactionsAtOrBefore(ctx, portfolioID, now)
		if err != nil {
			return models.Transaction{}, fmt.Errorf("%w: load ledger: %s", models.ErrTransient, err.Error())
		}
		cash, err := projector.ProjectCash(txns, nil)
		if err != nil {
			return models.Transaction{}, err
		}
		if cash.LessThan(amount) {
			return models.Transaction{}, fmt.Errorf("%w: withdraw %s exceeds cash balance %s", models.ErrInsufficientFunds, amount, cash)
		}
		return models.Transaction{
			ID:          uuid.NewString(),
			PortfolioID: portfolioID,
			Kind:        models.TxWithdraw,
			CashDelta:   amount.Neg(),
			Timestamp:   now,
			CreatedAt:   now,
		}, nil
	})
}

// ExecuteBuy resolves ticker's price (live, or historical when asOf is set
// for a backtest), checks sufficient cash, and appends a BUY transaction.
func (s *Service) ExecuteBuy(ctx context.Context, portfolioID string, ticker models.Ticker, quantity models.Quantity, asOf *time.Time) (models.Transaction, error) {
	return s.executeOrder(ctx, portfolioID, ticker, quantity, asOf, models.TxBuy)
}

// ExecuteSell resolves ticker's price, checks sufficient held shares, and
// appends a SELL transaction.
func (s *Service) ExecuteSell(ctx context.Context, portfolioID string, ticker models.Ticker, quantity models.Quantity, asOf *time.Time) (models.Transaction, error) {
	return s.executeOrder(ctx, portfolioID, ticker, quantity, asOf, models.TxSell)
}

func (s *Service) executeOrder(ctx context.Context, portfolioID string, ticker models.Ticker, quantity models.Quantity, asOf *time.Time, kind models.TxKind) (models.Transaction, error) {
	if err := ticker.Validate(); err != nil {
		return models.Transaction{}, err
	}
	if quantity < 1 {
		return models.Transaction{}, fmt.Errorf("%w: quantity must be >= 1", models.ErrInvalidArgument)
	}
	if asOf != nil && asOf.After(s.clock.Now()) {
		return models.Transaction{}, fmt.Errorf("%w: as_of must not be in the future", models.ErrInvalidArgument)
	}

	txTimestamp := s.clock.Now()
	if asOf != nil {
		txTimestamp = *asOf
	}

	price, err := s.resolvePrice(ctx, ticker, asOf)
	if err != nil {
		return models.Transaction{}, err
	}

	return s.commit(ctx, portfolioID, func(p models.Portfolio) (models.Transaction, error) {
		if err := matchCurrency(p, price); err != nil {
			return models.Transaction{}, err
		}
		txns, err := s.ledger.GetTransactionsAtOrBefore(ctx, portfolioID, txTimestamp)
		if err != nil {
			return models.Transaction{}, fmt.Errorf("%w: load ledger: %s", models.ErrTransient, err.Error())
		}

		cost := price.MulInt64(quantity.Int64())
		cashDelta := cost

		switch kind {
		case models.TxBuy:
			cash, err := projector.ProjectCash(txns, nil)
			if err != nil {
				return models.Transaction{}, err
			}
			if cash.LessThan(cost) {
				return models.Transaction{}, fmt.Errorf("%w: buy cost %s exceeds cash balance %s", models.ErrInsufficientFunds, cost, cash)
			}
			cashDelta = cost.Neg()
		case models.TxSell:
			holdings, err := projector.ProjectHoldings(txns, nil)
			if err != nil {
				return models.Transaction{}, err
			}
			held := heldQuantity(holdings, ticker)
			if quantity.Int64() > held {
				return models.Transaction{}, fmt.Errorf("%w: sell %d %s exceeds held quantity %d", models.ErrInsufficientShares, quantity.Int64(), ticker, held)
			}
		}

		now := s.clock.Now()
		return models.Transaction{
			ID:          uuid.NewString(),
			PortfolioID: portfolioID,
			Kind:        kind,
			CashDelta:   cashDelta,
			Timestamp:   txTimestamp,
			Ticker:      ticker,
			Quantity:    quantity,
			UnitPrice:   price,
			CreatedAt:   now,
		}, nil
	})
}

func (s *Service) resolvePrice(ctx context.Context, ticker models.Ticker, asOf *time.Time) (models.Money, error) {
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

// matchCurrency rejects an amount or resolved price denominated in a
// different currency than the portfolio's.
func matchCurrency(p models.Portfolio, m models.Money) error {
	if p.Currency != "" && m.Currency() != p.Currency {
		return fmt.Errorf("%w: %s does not match portfolio currency %s", models.ErrCurrencyMismatch, m.Currency(), p.Currency)
	}
	return nil
}

func heldQuantity(holdings []models.Holding, ticker models.Ticker) int64 {
	for _, h := range holdings {
		if h.Ticker == ticker {
			return h.Quantity.Int64()
		}
	}
	return 0
}

// commit runs build against the portfolio's current version and appends the
// resulting transaction, retrying on ErrConflict with jittered backoff up to
// maxCommitAttempts times — build re-reads ledger
// state itself so a retry re-validates invariants against the post-conflict
// balance rather than replaying a stale decision.
func (s *Service) commit(ctx context.Context, portfolioID string, build func(models.Portfolio) (models.Transaction, error)) (models.Transaction, error) {
	var lastErr error
	for attempt := 1; attempt <= maxCommitAttempts; attempt++ {
		portfolio, err := s.ledger.GetPortfolio(ctx, portfolioID)
		if err != nil {
			return models.Transaction{}, err
		}

		tx, err := build(portfolio)
		if err != nil {
			return models.Transaction{}, err
		}
		if err := tx.Validate(s.clock.Now()); err != nil {
			return models.Transaction{}, err
		}

		_, err = s.ledger.AppendTransactions(ctx, portfolioID, portfolio.Version, []models.Transaction{tx})
		if err == nil {
			return tx, nil
		}
		if !errors.Is(err, models.ErrConflict) {
			return models.Transaction{}, err
		}

		lastErr = err
		s.logger.Warn().Str("portfolio_id", portfolioID).Int("attempt", attempt).Msg("ledger append conflict, retrying")

		if attempt == maxCommitAttempts {
			break
		}
		select {
		case <-time.After(s.jitter()):
		case <-ctx.Done():
			return models.Transaction{}, ctx.Err()
		}
	}
	return models.Transaction{}, fmt.Errorf("%s: exhausted %d commit attempts for portfolio %s: %w", "trade", maxCommitAttempts, portfolioID, lastErr)
}

var _ interfaces.TradeExecutionService = (*Service)(nil)
