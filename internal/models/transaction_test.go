package models

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestTransactionValidateDeposit(t *testing.T) {
	now := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	tx := Transaction{
		Kind:      TxDeposit,
		CashDelta: NewMoney(decimal.NewFromInt(1000), "USD"),
		Timestamp: now,
	}
	assert.NoError(t, tx.Validate(now))
}

func TestTransactionValidateDepositRejectsNonPositive(t *testing.T) {
	now := time.Now().UTC()
	tx := Transaction{Kind: TxDeposit, CashDelta: ZeroMoney("USD"), Timestamp: now}
	assert.True(t, errors.Is(tx.Validate(now), ErrInvalidArgument))
}

func TestTransactionValidateWithdrawRejectsPositive(t *testing.T) {
	now := time.Now().UTC()
	tx := Transaction{Kind: TxWithdraw, CashDelta: NewMoney(decimal.NewFromInt(5), "USD"), Timestamp: now}
	assert.True(t, errors.Is(tx.Validate(now), ErrInvalidArgument))
}

func TestTransactionValidateBuy(t *testing.T) {
	now := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	tx := Transaction{
		Kind:      TxBuy,
		Ticker:    "AAPL",
		Quantity:  10,
		UnitPrice: NewMoney(decimal.NewFromFloat(150), "USD"),
		CashDelta: NewMoney(decimal.NewFromFloat(1500), "USD").Neg(),
		Timestamp: now,
	}
	assert.NoError(t, tx.Validate(now))
}

func TestTransactionValidateBuyRejectsWrongCashDelta(t *testing.T) {
	now := time.Now().UTC()
	tx := Transaction{
		Kind:      TxBuy,
		Ticker:    "AAPL",
		Quantity:  10,
		UnitPrice: NewMoney(decimal.NewFromFloat(150), "USD"),
		CashDelta: NewMoney(decimal.NewFromFloat(999), "USD").Neg(),
		Timestamp: now,
	}
	assert.True(t, errors.Is(tx.Validate(now), ErrInvalidArgument))
}

func TestTransactionValidateBuyRejectsZeroQuantity(t *testing.T) {
	now := time.Now().UTC()
	tx := Transaction{
		Kind:      TxBuy,
		Ticker:    "AAPL",
		Quantity:  0,
		UnitPrice: NewMoney(decimal.NewFromFloat(150), "USD"),
		CashDelta: ZeroMoney("USD"),
		Timestamp: now,
	}
	assert.True(t, errors.Is(tx.Validate(now), ErrInvalidArgument))
}

func TestTransactionValidateRejectsFutureTimestamp(t *testing.T) {
	now := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	tx := Transaction{
		Kind:      TxDeposit,
		CashDelta: NewMoney(decimal.NewFromInt(100), "USD"),
		Timestamp: future,
	}
	assert.True(t, errors.Is(tx.Validate(now), ErrInvalidArgument))
}

func TestIsBuyOrSell(t *testing.T) {
	assert.True(t, Transaction{Kind: TxBuy}.IsBuyOrSell())
	assert.True(t, Transaction{Kind: TxSell}.IsBuyOrSell())
	assert.False(t, Transaction{Kind: TxDeposit}.IsBuyOrSell())
}
