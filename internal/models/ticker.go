package models

import (
	"fmt"
	"regexp"
	"strings"
)

// tickerPattern matches an uppercase 1-12 character symbol with an optional
// dot-exchange suffix (.LON, .HK, etc.).
var tickerPattern = regexp.MustCompile(`^[A-Z0-9]{1,12}(\.[A-Z0-9]{1,6})?$`)

// Ticker is a validated, uppercase trading symbol. Equality is symbol-exact.
type Ticker string

// NewTicker normalizes and validates a raw symbol.
func NewTicker(raw string) (Ticker, error) {
	symbol := Ticker(strings.ToUpper(strings.TrimSpace(raw)))
	if err := symbol.Validate(); err != nil {
		return "", err
	}
	return symbol, nil
}

// Validate reports whether the ticker is syntactically well-formed.
func (t Ticker) Validate() error {
	if !tickerPattern.MatchString(string(t)) {
		return fmt.Errorf("%w: ticker %q must be 1-12 uppercase alphanumerics with an optional .EXCH suffix", ErrInvalidArgument, string(t))
	}
	return nil
}

// String returns the raw symbol.
func (t Ticker) String() string { return string(t) }
