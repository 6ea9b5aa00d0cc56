// Package postgres provides pgx-backed implementations of the ledger stores.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coachpo/ledgersync/internal/ledger"
)

// Connect opens a pgx pool against the database URL and verifies connectivity.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return pool, nil
}

const enrichmentColumnSQL = `
SELECT EXISTS (
    SELECT 1
    FROM information_schema.columns
    WHERE table_name = 'transactions' AND column_name = 'enrichment_status'
);
`

// DetectCapabilities probes the live schema for optional columns so stores can
// gate writes on what actually exists.
func DetectCapabilities(ctx context.Context, pool *pgxpool.Pool) (ledger.SchemaCapabilities, error) {
	if pool == nil {
		return ledger.SchemaCapabilities{}, fmt.Errorf("postgres: nil pool")
	}
	var caps ledger.SchemaCapabilities
	if err := pool.QueryRow(ctx, enrichmentColumnSQL).Scan(&caps.EnrichmentStatus); err != nil {
		return ledger.SchemaCapabilities{}, fmt.Errorf("postgres: detect capabilities: %w", err)
	}
	return caps, nil
}
