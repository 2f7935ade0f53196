package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lzjever/remote-workspace/internal/core"
)

const schema = `
CREATE TABLE IF NOT EXISTS rws_workspaces (
	id TEXT PRIMARY KEY,
	position BIGSERIAL NOT NULL,
	data JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS rws_workspaces_position_idx ON rws_workspaces (position);
`

const uniqueViolation = "23505"

func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	config.MaxConns = 8
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return pool, nil
}

// PGRegistry stores each workspace as a JSONB row. Insertion order is
// kept by a serial position column.
type PGRegistry struct {
	pool *pgxpool.Pool
}

func NewPGRegistry(pool *pgxpool.Pool) *PGRegistry {
	return &PGRegistry{pool: pool}
}

func (r *PGRegistry) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (r *PGRegistry) List(ctx context.Context) ([]core.WorkspaceMetadata, error) {
	rows, err := r.pool.Query(ctx, `SELECT data FROM rws_workspaces ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	return collect(rows)
}

func (r *PGRegistry) Push(ctx context.Context, ws core.WorkspaceMetadata) error {
	data, err := json.Marshal(ws)
	if err != nil {
		return fmt.Errorf("encode workspace: %w", err)
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO rws_workspaces (id, data) VALUES ($1, $2)`, ws.ID, data)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s", ErrDuplicateID, ws.ID)
		}
		return fmt.Errorf("insert workspace: %w", err)
	}
	return nil
}

// Pull evaluates pred in Go under a row lock and deletes the matches in
// the same transaction.
func (r *PGRegistry) Pull(ctx context.Context, pred Predicate) ([]core.WorkspaceMetadata, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `SELECT data FROM rws_workspaces ORDER BY position FOR UPDATE`)
	if err != nil {
		return nil, fmt.Errorf("select workspaces: %w", err)
	}
	all, err := collect(rows)
	if err != nil {
		return nil, err
	}

	var removed []core.WorkspaceMetadata
	var ids []string
	for _, ws := range all {
		if pred(ws) {
			removed = append(removed, ws)
			ids = append(ids, ws.ID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if _, err := tx.Exec(ctx, `DELETE FROM rws_workspaces WHERE id = ANY($1)`, ids); err != nil {
		return nil, fmt.Errorf("delete workspaces: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return removed, nil
}

func (r *PGRegistry) Replace(ctx context.Context, ws core.WorkspaceMetadata) error {
	data, err := json.Marshal(ws)
	if err != nil {
		return fmt.Errorf("encode workspace: %w", err)
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM rws_workspaces WHERE id = $1`, ws.ID); err != nil {
		return fmt.Errorf("delete workspace: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO rws_workspaces (id, data) VALUES ($1, $2)`, ws.ID, data); err != nil {
		return fmt.Errorf("insert workspace: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func collect(rows pgx.Rows) ([]core.WorkspaceMetadata, error) {
	raw, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, fmt.Errorf("scan workspaces: %w", err)
	}
	out := make([]core.WorkspaceMetadata, 0, len(raw))
	for _, data := range raw {
		var ws core.WorkspaceMetadata
		if err := json.Unmarshal(data, &ws); err != nil {
			return nil, fmt.Errorf("decode workspace: %w", err)
		}
		out = append(out, ws)
	}
	return out, nil
}
