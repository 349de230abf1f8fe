// Package models defines the core data types of the ledger and
// market-data engine: Money, Ticker, Quantity, Portfolio, Transaction,
// Holding, and PricePoint.
package models

import (
	"encoding/json"
	"fmt"

	money "github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Money is an exact decimal amount tagged with an ISO currency code.
// Arithmetic never loses precision — all operations go through
// shopspring/decimal rather than floating point. Mixing currencies at a
// boundary returns ErrCurrencyMismatch instead of panicking; the bare
// arithmetic operators panic only on paths already guarded by validation.
type Money struct {
	value decimal.Decimal
	cur   string
}

// NewMoney builds a Money from a decimal.Decimal and an ISO currency code.
func NewMoney(value decimal.Decimal, currency string) Money {
	return Money{value: value, cur: currency}
}

// MoneyFromFloat builds a Money from a float64, used at I/O boundaries
// (provider responses) where the source format is already lossy.
func MoneyFromFloat(value float64, currency string) Money {
	return Money{value: decimal.NewFromFloat(value), cur: currency}
}

// ZeroMoney returns a zero-value Money in the given currency.
func ZeroMoney(currency string) Money {
	return Money{value: decimal.Zero, cur: currency}
}

// Currency returns the ISO currency code.
func (m Money) Currency() string { return m.cur }

// Decimal returns the underlying exact decimal value.
func (m Money) Decimal() decimal.Decimal { return m.value }

func (m Money) currencyMeta() *money.Currency {
	return money.New(0, m.cur).Currency()
}

// String formats the amount using the currency's standard fraction and symbol.
func (m Money) String() string {
	cur := m.currencyMeta()
	rounded := m.value.Round(int32(cur.Fraction))
	shifted := rounded.Shift(int32(cur.Fraction))
	return cur.Formatter().Format(shifted.IntPart())
}

// IsZero reports whether the amount is exactly zero.
func (m Money) IsZero() bool { return m.value.IsZero() }

// IsPositive reports whether the amount is strictly greater than zero.
func (m Money) IsPositive() bool { return m.value.IsPositive() }

// IsNegative reports whether the amount is strictly less than zero.
func (m Money) IsNegative() bool { return m.value.IsNegative() }

// Equal reports whether two Money values have the same amount and currency.
func (m Money) Equal(n Money) bool { return m.value.Equal(n.value) && m.cur == n.cur }

// LessThan reports m < n. Callers must ensure currencies match; use
// SameCurrency to check first at a boundary.
func (m Money) LessThan(n Money) bool { return m.value.LessThan(n.value) }

// GreaterThanOrEqual reports m >= n.
func (m Money) GreaterThanOrEqual(n Money) bool { return m.value.GreaterThanOrEqual(n.value) }

// SameCurrency reports whether m and n share a currency code.
func (m Money) SameCurrency(n Money) bool { return m.cur == n.cur }

// Neg returns -m.
func (m Money) Neg() Money { return Money{value: m.value.Neg(), cur: m.cur} }

// Add returns m + n. Panics on currency mismatch — callers validate with
// SameCurrency (or rely on ErrCurrencyMismatch at the boundary) first.
func (m Money) Add(n Money) Money {
	return Money{value: m.value.Add(n.value), cur: mustMatchCurrency(m, n)}
}

// Sub returns m - n. Panics on currency mismatch.
func (m Money) Sub(n Money) Money {
	return Money{value: m.value.Sub(n.value), cur: mustMatchCurrency(m, n)}
}

// MulInt64 returns m * q, used to price a Quantity of shares.
func (m Money) MulInt64(q int64) Money {
	return Money{value: m.value.Mul(decimal.NewFromInt(q)), cur: m.cur}
}

// DivInt64 returns m / q.
func (m Money) DivInt64(q int64) Money {
	return Money{value: m.value.Div(decimal.NewFromInt(q)), cur: m.cur}
}

// RoundBank rounds the amount to places decimal places using banker's
// rounding (round-half-to-even), used by the projector's average-cost math.
func (m Money) RoundBank(places int32) Money {
	return Money{value: m.value.RoundBank(places), cur: m.cur}
}

// moneyJSON is the wire shape for Money: its own fields are unexported so
// the default reflection-based (un)marshaler would otherwise emit "{}".
type moneyJSON struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// MarshalJSON encodes Money as {"amount": "<exact decimal>", "currency": "USD"}.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{Amount: m.value.String(), Currency: m.cur})
}

// UnmarshalJSON decodes Money from its wire shape.
func (m *Money) UnmarshalJSON(data []byte) error {
	var wire moneyJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("models: unmarshal money: %w", err)
	}
	if wire.Amount == "" {
		m.value = decimal.Zero
		m.cur = wire.Currency
		return nil
	}
	value, err := decimal.NewFromString(wire.Amount)
	if err != nil {
		return fmt.Errorf("models: parse money amount %q: %w", wire.Amount, err)
	}
	m.value = value
	m.cur = wire.Currency
	return nil
}

func mustMatchCurrency(a, b Money) string {
	if a.cur == "" {
		return b.cur
	}
	if b.cur == "" {
		return a.cur
	}
	if a.cur != b.cur {
		panic(fmt.Sprintf("models: currency mismatch %s != %s", a.cur, b.cur))
	}
	return a.cur
}
