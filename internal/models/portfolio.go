package models

import "time"

// Portfolio is the entity row owned exclusively by the Ledger Store. It
// carries no balance fields: cash, holdings, and valuation are always
// derived by folding its Transactions (internal/services/projector).
type Portfolio struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	Currency  string    `json:"currency"`
	CreatedAt time.Time `json:"created_at"`
	// Version is bumped on every append_transactions call and used for
	// optimistic concurrency.
	Version int64 `json:"version"`
}
