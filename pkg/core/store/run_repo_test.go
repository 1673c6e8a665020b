package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dcf_valuation/pkg/core/engine"
)

// fakeDB keeps the last saved run_json in memory
type fakeDB struct {
	rows    map[string][]byte
	execErr error
	execs   []string
}

type fakeRow struct {
	data []byte
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*[]byte) = r.data
	return nil
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, sql)
	if f.execErr != nil {
		return pgconn.CommandTag{}, f.execErr
	}
	if len(args) == 4 {
		f.rows[args[0].(string)] = args[2].([]byte)
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (f *fakeDB) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	data, ok := f.rows[args[0].(string)]
	if !ok {
		return fakeRow{err: pgx.ErrNoRows}
	}
	return fakeRow{data: data}
}

func TestRunRepo_SaveLoad(t *testing.T) {
	ctx := context.Background()
	db := &fakeDB{rows: map[string][]byte{}}
	repo := NewRunRepo(db)
	require.NoError(t, repo.EnsureSchema(ctx))
	assert.Contains(t, db.execs[0], "CREATE TABLE IF NOT EXISTS valuation_runs")

	req := request()
	resp, err := engine.New(engine.Config{}).Run(ctx, req)
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, req, resp, "key"))

	run, err := repo.Load(ctx, resp.RunID)
	require.NoError(t, err)
	assert.Equal(t, resp.RunID, run.RunID)
	require.NotNil(t, run.Response.Results.WACC)
	assert.InDelta(t, resp.Results.WACC.EnterpriseValue, run.Response.Results.WACC.EnterpriseValue, 1e-9)
	assert.Equal(t, req.Parameters.Revenue, run.Request.Parameters.Revenue)
	assert.WithinDuration(t, resp.CreatedAt, run.CreatedAt, time.Microsecond)
}

func TestRunRepo_Errors(t *testing.T) {
	ctx := context.Background()
	repo := NewRunRepo(&fakeDB{rows: map[string][]byte{"bad": []byte("{")}})

	_, err := repo.Load(ctx, "nope")
	assert.True(t, errors.Is(err, ErrRunNotFound))

	_, err = repo.Load(ctx, "bad")
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrRunNotFound))

	assert.Error(t, repo.Save(ctx, request(), &engine.Response{}, ""))

	failing := NewRunRepo(&fakeDB{rows: map[string][]byte{}, execErr: errors.New("conn closed")})
	err = failing.Save(ctx, request(), &engine.Response{RunID: "r1"}, "")
	assert.ErrorContains(t, err, "conn closed")
}

func TestStoredRun_JSON(t *testing.T) {
	run := StoredRun{RunID: "r1", Request: request(), Response: &engine.Response{RunID: "r1"}}
	data, err := json.Marshal(run)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"run_id":"r1"`)
}
