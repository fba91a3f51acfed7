// internal/cache/postgres.go
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// postgres implements Cache on a single JSONB table.
// It lets several store clients on one machine share fetched data.
type postgres struct {
	db *pgxpool.Pool // Connection pool to PostgreSQL database
}

// NewPostgres creates a PostgreSQL-backed cache.
// It establishes a connection pool to the database and initializes the schema.
// Parameters:
//   - dsn: Database connection string in PostgreSQL format
//
// Returns:
//   - Cache: Implementation of the cache interface
//   - error: Any error that occurred during initialization
func NewPostgres(dsn string) (Cache, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid database DSN: %w", err)
	}

	// A desktop client needs very few connections
	config.MaxConns = 4
	config.MinConns = 1
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = time.Minute * 30
	config.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &postgres{db: pool}, nil
}

// initSchema creates the cache table if it doesn't already exist.
func initSchema(ctx context.Context, db *pgxpool.Pool) error {
	schema := `
		CREATE TABLE IF NOT EXISTS store_cache (
		    namespace TEXT NOT NULL,                 -- e.g. apps, reviews, categories
		    key TEXT NOT NULL,                       -- snap or category name
		    value JSONB NOT NULL,                    -- cached document
		    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		    PRIMARY KEY (namespace, key)
		);
	`
	_, err := db.Exec(ctx, schema)
	return err
}

// Close closes the database connection pool
func (p *postgres) Close() {
	p.db.Close()
}

func (p *postgres) Lookup(ctx context.Context, namespace, key string) (json.RawMessage, error) {
	if err := validate(namespace, key); err != nil {
		return nil, err
	}
	var value []byte
	err := p.db.QueryRow(ctx, `SELECT value FROM store_cache WHERE namespace = $1 AND key = $2`, namespace, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to look up cache entry: %w", err)
	}
	return value, nil
}

func (p *postgres) Insert(ctx context.Context, namespace, key string, value json.RawMessage) error {
	if err := validate(namespace, key); err != nil {
		return err
	}
	query := `
		INSERT INTO store_cache (namespace, key, value, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (namespace, key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`
	if _, err := p.db.Exec(ctx, query, namespace, key, []byte(value), time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to insert cache entry: %w", err)
	}
	return nil
}
