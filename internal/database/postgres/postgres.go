// Package postgres implements the database repositories on PostgreSQL with
// the pgvector extension.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/kozaktomas/photo-curator/internal/config"
	"github.com/kozaktomas/photo-curator/internal/database"
	"github.com/kozaktomas/photo-curator/internal/logging"
)

// Pool manages a PostgreSQL connection pool.
type Pool struct {
	db *sql.DB
}

// NewPool creates a new PostgreSQL connection pool.
func NewPool(ctx context.Context, cfg *config.DatabaseConfig) (*Pool, error) {
	if cfg.URL == "" {
		return nil, errors.New("database URL is required")
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Pool{db: db}, nil
}

// Close closes the connection pool.
func (p *Pool) Close() error {
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			return fmt.Errorf("closing database connection: %w", err)
		}
	}
	return nil
}

// QueryRow executes a query that returns a single row.
func (p *Pool) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return p.db.QueryRowContext(ctx, query, args...)
}

// Query executes a query that returns rows.
func (p *Pool) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}
	return rows, nil
}

// Exec executes a query that doesn't return rows.
func (p *Pool) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	result, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing statement: %w", err)
	}
	return result, nil
}

// BeginTx starts a transaction.
func (p *Pool) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	tx, err := p.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	return tx, nil
}

// Initialize connects, runs migrations and registers the repositories as the
// active backend. With an HNSW index path configured the similar-photo index
// is loaded from disk, or rebuilt from the store when the file is stale.
func Initialize(ctx context.Context, cfg *config.DatabaseConfig, enableHNSW bool) (*Pool, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, errors.New("database URL is required")
	}

	pool, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create PostgreSQL pool: %w", err)
	}

	if err := pool.Migrate(ctx); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	photos := NewPhotoRepository(pool)
	runs := NewRunRepository(pool)

	if enableHNSW {
		if err := photos.EnableHNSW(ctx, cfg.HNSWIndexPath); err != nil {
			logging.From(ctx).Warn("HNSW index unavailable, falling back to pgvector", "error", err)
		} else {
			database.RegisterPhotoHNSWRebuilder(photos)
		}
	}

	database.RegisterPostgresBackend(
		func() database.PhotoRepository { return photos },
		func() database.RunRepository { return runs },
	)
	return pool, nil
}
