package health

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists health Records to Postgres, grounded on
// referee's internal/database.PostgresRepository.LogTrade shape (one
// INSERT per record over a shared pgxpool.Pool), generalized from
// trade rows to health snapshot rows. Optional: cmd/tradesim only
// constructs one when HEALTH_DB_URL is configured.
type PostgresStore struct {
	Pool *pgxpool.Pool
}

// NewPostgresStore opens a pool against connStr and ensures the
// health_records table exists.
func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("health store: connect: %w", err)
	}

	const createTableSQL = `
	CREATE TABLE IF NOT EXISTS health_records (
		id UUID PRIMARY KEY,
		recorded_at TIMESTAMPTZ NOT NULL,
		status VARCHAR(16) NOT NULL,
		active_strategies INT NOT NULL,
		total_strategies INT NOT NULL,
		market_feed_active BOOLEAN NOT NULL,
		dropped_ticks_total BIGINT NOT NULL,
		prices JSONB NOT NULL
	);`
	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("health store: create table: %w", err)
	}

	return &PostgresStore{Pool: pool}, nil
}

// Save inserts one row per Record.
func (s *PostgresStore) Save(ctx context.Context, rec Record) error {
	pricesJSON, err := json.Marshal(rec.Prices)
	if err != nil {
		return fmt.Errorf("health store: marshal prices: %w", err)
	}

	_, err = s.Pool.Exec(ctx, `
		INSERT INTO health_records
			(id, recorded_at, status, active_strategies, total_strategies, market_feed_active, dropped_ticks_total, prices)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.Time, string(rec.Status), rec.ActiveStrategies, rec.TotalStrategies,
		rec.MarketFeedActive, rec.DroppedTicksTotal, pricesJSON,
	)
	if err != nil {
		return fmt.Errorf("health store: insert: %w", err)
	}
	return nil
}

// Close releases the underlying pool.
func (s *PostgresStore) Close() { s.Pool.Close() }
