package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"dcf_valuation/pkg/core/engine"
)

// ErrRunNotFound is returned by Load for an unknown run id
var ErrRunNotFound = errors.New("run not found")

// DB is the subset of *pgxpool.Pool the repository uses
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// StoredRun is a persisted request/response pair
type StoredRun struct {
	RunID     string           `json:"run_id"`
	Request   engine.Request   `json:"request"`
	Response  *engine.Response `json:"response"`
	CreatedAt time.Time        `json:"created_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS valuation_runs (
	run_id     TEXT PRIMARY KEY,
	cache_key  TEXT,
	run_json   JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);`

// RunRepo persists valuation runs as JSONB keyed by run id
type RunRepo struct {
	db DB
}

// NewRunRepo creates a repository over db (usually GetPool())
func NewRunRepo(db DB) *RunRepo {
	return &RunRepo{db: db}
}

// EnsureSchema creates the runs table when missing
func (r *RunRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create valuation_runs: %w", err)
	}
	return nil
}

// Save upserts a run. cacheKey may be empty for uncacheable runs.
func (r *RunRepo) Save(ctx context.Context, req engine.Request, resp *engine.Response, cacheKey string) error {
	if resp == nil || resp.RunID == "" {
		return fmt.Errorf("response has no run id")
	}
	run := StoredRun{
		RunID:     resp.RunID,
		Request:   req,
		Response:  resp,
		CreatedAt: resp.CreatedAt,
	}
	jsonData, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	query := `
		INSERT INTO valuation_runs (run_id, cache_key, run_json, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (run_id)
		DO UPDATE SET
			cache_key = EXCLUDED.cache_key,
			run_json = EXCLUDED.run_json,
			created_at = EXCLUDED.created_at;
	`
	if _, err = r.db.Exec(ctx, query, run.RunID, cacheKey, jsonData, run.CreatedAt); err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.RunID, err)
	}
	return nil
}

// Load retrieves a run by id
func (r *RunRepo) Load(ctx context.Context, runID string) (*StoredRun, error) {
	query := `SELECT run_json FROM valuation_runs WHERE run_id = $1`

	var jsonData []byte
	err := r.db.QueryRow(ctx, query, runID).Scan(&jsonData)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}

	var run StoredRun
	if err := json.Unmarshal(jsonData, &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run %s: %w", runID, err)
	}
	return &run, nil
}
