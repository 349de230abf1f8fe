// Package surrealdb implements the warm-store ports (PortfolioRepository,
// PriceRepository) against SurrealDB.
package surrealdb

import (
	"context"
	"fmt"

	surrealdb "github.com/surrealdb/surrealdb.go"

	"github.com/kdalton/tradesim/internal/common"
)

// Connect opens a SurrealDB connection, signs in, selects the configured
// namespace/database, and defines the tables the ledger and price stores
// need.
func Connect(ctx context.Context, logger *common.Logger, cfg common.StorageConfig) (*surrealdb.DB, error) {
	db, err := surrealdb.New(cfg.SurrealURL)
	if err != nil {
		return nil, fmt.Errorf("surrealdb: connect: %w", err)
	}

	if cfg.SurrealUsername != "" {
		if _, err := db.SignIn(ctx, map[string]interface{}{
			"user": cfg.SurrealUsername,
			"pass": cfg.SurrealPassword,
		}); err != nil {
			return nil, fmt.Errorf("surrealdb: sign in: %w", err)
		}
	}

	if err := db.Use(ctx, cfg.SurrealNamespace, cfg.SurrealDatabase); err != nil {
		return nil, fmt.Errorf("surrealdb: select namespace/database: %w", err)
	}

	tables := []string{"portfolio", "transaction", "price_history"}
	for _, table := range tables {
		sql := fmt.Sprintf("DEFINE TABLE IF NOT EXISTS %s SCHEMALESS", table)
		if _, err := surrealdb.Query[any](ctx, db, sql, nil); err != nil {
			return nil, fmt.Errorf("surrealdb: define table %s: %w", table, err)
		}
	}

	logger.Info().
		Str("namespace", cfg.SurrealNamespace).
		Str("database", cfg.SurrealDatabase).
		Msg("surrealdb warm store connected")

	return db, nil
}
