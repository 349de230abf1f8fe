// Package projector implements the Portfolio Projector: pure
// folds over a ledger stream into cash, holdings, and valuation. Every
// function here is deterministic and side-effect-free — no wall-clock reads,
// no I/O — so the same ledger replayed twice always yields the same result,
// whether projecting "now" or a historical as_of for a backtest.
package projector

import (
	"fmt"
	"sort"
	"time"

	"github.com/kdalton/tradesim/internal/models"
)

// avgCostScale is the number of decimal places average cost is rounded to
// using banker's rounding.
const avgCostScale = 4

// truncate returns a copy of txns stably sorted by Timestamp ASC (ties keep
// their input order, which for Ledger Store reads is ID ASC), cut to the
// prefix with Timestamp <= asOf. The input slice is not modified.
func truncate(txns []models.Transaction, asOf *time.Time) []models.Transaction {
	sorted := make([]models.Transaction, len(txns))
	copy(sorted, txns)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	if asOf == nil {
		return sorted
	}
	idx := sort.Search(len(sorted), func(i int) bool {
		return sorted[i].Timestamp.After(*asOf)
	})
	return sorted[:idx]
}

// ProjectCash sums signed cash_delta up to and including asOf.
// Fails with ErrInconsistentLedger if the running sum ever goes negative —
// an invariant violation that should never occur given a correctly
// validated ledger.
func ProjectCash(txns []models.Transaction, asOf *time.Time) (models.Money, error) {
	window := truncate(txns, asOf)
	if len(window) == 0 {
		return models.ZeroMoney(""), nil
	}

	running := models.ZeroMoney(window[0].CashDelta.Currency())
	for _, t := range window {
		running = running.Add(t.CashDelta)
		if running.IsNegative() {
			return models.Money{}, fmt.Errorf("%w: cash balance went negative at transaction %s", models.ErrInconsistentLedger, t.ID)
		}
	}
	return running, nil
}

// lotState tracks a single ticker's running quantity and average cost while
// folding transactions in time order.
type lotState struct {
	quantity    int64
	averageCost models.Money
}

// ProjectHoldings walks BUY/SELL transactions in time order, maintaining a
// running (quantity, average_cost) per ticker:
//
//	BUY(q, p):  new_qty = qty + q; new_avg = (qty*avg + q*p) / new_qty
//	SELL(q, p): new_qty = qty - q; avg_cost unchanged
//
// A holding is dropped once its quantity returns to zero. Fails with
// ErrInsufficientShares if a SELL's quantity exceeds the running quantity at
// that point in the replay.
func ProjectHoldings(txns []models.Transaction, asOf *time.Time) ([]models.Holding, error) {
	window := truncate(txns, asOf)

	order := make([]models.Ticker, 0)
	lots := make(map[models.Ticker]*lotState)

	for _, t := range window {
		if !t.IsBuyOrSell() {
			continue
		}
		lot, ok := lots[t.Ticker]
		if !ok {
			lot = &lotState{averageCost: models.ZeroMoney(t.UnitPrice.Currency())}
			lots[t.Ticker] = lot
			order = append(order, t.Ticker)
		}

		switch t.Kind {
		case models.TxBuy:
			newQty := lot.quantity + t.Quantity.Int64()
			existingCost := lot.averageCost.MulInt64(lot.quantity)
			incomingCost := t.UnitPrice.MulInt64(t.Quantity.Int64())
			lot.averageCost = existingCost.Add(incomingCost).DivInt64(newQty).RoundBank(avgCostScale)
			lot.quantity = newQty
		case models.TxSell:
			if t.Quantity.Int64() > lot.quantity {
				return nil, fmt.Errorf("%w: sell %d %s exceeds held quantity %d at %s", models.ErrInsufficientShares, t.Quantity.Int64(), t.Ticker, lot.quantity, t.Timestamp)
			}
			lot.quantity -= t.Quantity.Int64()
		}
	}

	holdings := make([]models.Holding, 0, len(order))
	for _, ticker := range order {
		lot := lots[ticker]
		if lot.quantity == 0 {
			continue
		}
		holdings = append(holdings, models.Holding{
			Ticker:      ticker,
			Quantity:    models.Quantity(lot.quantity),
			AverageCost: lot.averageCost,
		})
	}
	return holdings, nil
}

// PriceLookup resolves the price to value a holding at, for either the
// current instant (asOf == nil) or a historical instant, letting callers
// supply a live Market-Data Engine or a fixed historical closure.
type PriceLookup func(ticker models.Ticker) (models.Money, error)

// ProjectValuation prices holdings and totals with cash. The
// returned Cash field must equal ProjectCash's result for the same ledger
// and asOf — callers pass the value they already
// computed rather than recomputing it here, since this function has no
// ledger to fold.
func ProjectValuation(cash models.Money, holdings []models.Holding, priceLookup PriceLookup) (models.PortfolioValuation, error) {
	out := models.PortfolioValuation{
		Cash:       cash,
		Holdings:   make([]models.HoldingValuation, 0, len(holdings)),
		TotalValue: cash,
	}

	for _, h := range holdings {
		price, err := priceLookup(h.Ticker)
		if err != nil {
			return models.PortfolioValuation{}, err
		}
		marketValue := price.MulInt64(h.Quantity.Int64())
		costBasis := h.AverageCost.MulInt64(h.Quantity.Int64())
		hv := models.HoldingValuation{
			Holding:       h,
			CurrentPrice:  price,
			MarketValue:   marketValue,
			UnrealizedPnL: marketValue.Sub(costBasis),
		}
		out.Holdings = append(out.Holdings, hv)
		out.TotalValue = out.TotalValue.Add(marketValue)
	}

	return out, nil
}

// RealizedPnL sums, over every SELL, quantity * (unit_price - average cost
// at the time of that sale). It replays the same average-cost
// bookkeeping ProjectHoldings uses so the cost basis at each SELL matches
// exactly what ProjectHoldings would have reported immediately before it.
func RealizedPnL(txns []models.Transaction) (models.Money, error) {
	sorted := truncate(txns, nil)

	lots := make(map[models.Ticker]*lotState)
	var realized models.Money
	haveCurrency := false

	for _, t := range sorted {
		if !t.IsBuyOrSell() {
			continue
		}
		lot, ok := lots[t.Ticker]
		if !ok {
			lot = &lotState{averageCost: models.ZeroMoney(t.UnitPrice.Currency())}
			lots[t.Ticker] = lot
		}

		switch t.Kind {
		case models.TxBuy:
			newQty := lot.quantity + t.Quantity.Int64()
			existingCost := lot.averageCost.MulInt64(lot.quantity)
			incomingCost := t.UnitPrice.MulInt64(t.Quantity.Int64())
			lot.averageCost = existingCost.Add(incomingCost).DivInt64(newQty).RoundBank(avgCostScale)
			lot.quantity = newQty
		case models.TxSell:
			if t.Quantity.Int64() > lot.quantity {
				return models.Money{}, fmt.Errorf("%w: sell %d %s exceeds held quantity %d at %s", models.ErrInsufficientShares, t.Quantity.Int64(), t.Ticker, lot.quantity, t.Timestamp)
			}
			gain := t.UnitPrice.Sub(lot.averageCost).MulInt64(t.Quantity.Int64())
			if !haveCurrency {
				realized = models.ZeroMoney(gain.Currency())
				haveCurrency = true
			}
			realized = realized.Add(gain)
			lot.quantity -= t.Quantity.Int64()
		}
	}

	if !haveCurrency {
		return models.ZeroMoney(""), nil
	}
	return realized, nil
}
