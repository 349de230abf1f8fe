package models

import "errors"

// Sentinel domain errors. Components wrap these with fmt.Errorf's %w so
// callers can check kind with errors.Is while still getting a
// human-readable message.
var (
	ErrInvalidArgument       = errors.New("invalid argument")
	ErrNotFound              = errors.New("not found")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrInsufficientShares    = errors.New("insufficient shares")
	ErrTickerNotFound        = errors.New("ticker not found")
	ErrMarketDataUnavailable = errors.New("market data unavailable")
	ErrConflict              = errors.New("concurrent modification conflict")
	ErrInconsistentLedger    = errors.New("inconsistent ledger")
	ErrTransient             = errors.New("transient error")
	ErrCurrencyMismatch      = errors.New("currency mismatch")
	ErrRateLimited           = errors.New("rate limited")
)
