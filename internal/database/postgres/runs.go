package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kozaktomas/photo-curator/internal/curation"
	"github.com/kozaktomas/photo-curator/internal/database"
)

// RunRepository records pipeline runs in the runs table
type RunRepository struct {
	pool *Pool
}

// NewRunRepository creates a new PostgreSQL run repository
func NewRunRepository(pool *Pool) *RunRepository {
	return &RunRepository{pool: pool}
}

const runColumns = "id, kind, date_from, date_to, status, error, stats, started_at, finished_at"

func scanRun(row rowScanner) (*database.Run, error) {
	var run database.Run
	var stats []byte
	var finished sql.NullTime

	if err := row.Scan(&run.ID, &run.Kind, &run.From, &run.To, &run.Status, &run.Error, &stats, &run.StartedAt, &finished); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(stats, &run.Stats); err != nil {
		return nil, fmt.Errorf("decode run stats: %w", err)
	}
	if finished.Valid {
		run.FinishedAt = &finished.Time
	}
	return &run, nil
}

// CreateRun inserts a run in the running state; StartedAt is filled in.
func (r *RunRepository) CreateRun(ctx context.Context, run *database.Run) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO runs (id, kind, date_from, date_to, status) VALUES ($1, $2, $3, $4, $5) RETURNING started_at`,
		run.ID, run.Kind, run.From, run.To, database.RunRunning,
	).Scan(&run.StartedAt)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	run.Status = database.RunRunning
	return nil
}

// FinishRun stores the final status, stats and error message of a run.
func (r *RunRepository) FinishRun(ctx context.Context, id string, status string, stats curation.RunStats, runErr error) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("encode run stats: %w", err)
	}
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}

	result, err := r.pool.Exec(ctx,
		`UPDATE runs SET status = $2, stats = $3, error = $4, finished_at = NOW() WHERE id = $1`,
		id, status, data, msg)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s: %w", id, database.ErrNotFound)
	}
	return nil
}

// GetRun returns one run by id
func (r *RunRepository) GetRun(ctx context.Context, id string) (*database.Run, error) {
	run, err := scanRun(r.pool.QueryRow(ctx, "SELECT "+runColumns+" FROM runs WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, database.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query run %s: %w", id, err)
	}
	return run, nil
}

// ListRuns returns the most recent runs first
func (r *RunRepository) ListRuns(ctx context.Context, limit int) ([]database.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, "SELECT "+runColumns+" FROM runs ORDER BY started_at DESC LIMIT $1", limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []database.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}
