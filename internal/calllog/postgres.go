package calllog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is the subset of pgxpool.Pool the store uses; pgxmock satisfies it in tests.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// PostgresRecorder persists call records in Postgres.
type PostgresRecorder struct {
	db   DB
	pool *pgxpool.Pool
}

func NewPostgresRecorder(ctx context.Context, databaseURL string) (*PostgresRecorder, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	r := &PostgresRecorder{db: pool, pool: pool}
	if err := r.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return r, nil
}

// NewPostgresRecorderWithDB wires an existing connection; used by tests.
func NewPostgresRecorderWithDB(db DB) *PostgresRecorder {
	return &PostgresRecorder{db: db}
}

func (r *PostgresRecorder) initSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS call_records (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			lead_id TEXT NOT NULL DEFAULT '',
			call_sid TEXT NOT NULL,
			to_number TEXT NOT NULL,
			from_number TEXT NOT NULL,
			placed_at TIMESTAMPTZ NOT NULL,
			duration_seconds INTEGER NOT NULL DEFAULT 0,
			notes TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_call_records_workspace_placed ON call_records (workspace_id, placed_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_call_records_sid ON call_records (call_sid);`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init call_records schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (r *PostgresRecorder) SaveCallRecord(ctx context.Context, rec Record) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.PlacedAt.IsZero() {
		rec.PlacedAt = time.Now().UTC()
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO call_records (id, workspace_id, lead_id, call_sid, to_number, from_number, placed_at, duration_seconds, notes)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		rec.ID, rec.WorkspaceID, rec.LeadID, rec.CallSID, rec.ToNumber, rec.FromNumber, rec.PlacedAt, rec.DurationSeconds, rec.Notes,
	)
	if err != nil {
		return "", fmt.Errorf("save call record: %w", err)
	}
	return rec.ID, nil
}

func (r *PostgresRecorder) FinishCallRecord(ctx context.Context, callSID string, durationSeconds int, notes string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE call_records SET duration_seconds = $2, notes = CASE WHEN $3 <> '' THEN $3 ELSE notes END WHERE call_sid = $1`,
		callSID, durationSeconds, notes,
	)
	if err != nil {
		return fmt.Errorf("finish call record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRecorder) ListByWorkspace(ctx context.Context, workspaceID, leadID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, workspace_id, lead_id, call_sid, to_number, from_number, placed_at, duration_seconds, notes
		 FROM call_records
		 WHERE workspace_id = $1 AND ($2 = '' OR lead_id = $2)
		 ORDER BY placed_at DESC
		 LIMIT $3`,
		workspaceID, leadID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list call records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.WorkspaceID, &rec.LeadID, &rec.CallSID, &rec.ToNumber, &rec.FromNumber, &rec.PlacedAt, &rec.DurationSeconds, &rec.Notes); err != nil {
			return nil, fmt.Errorf("scan call record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *PostgresRecorder) Close() {
	if r.pool != nil {
		r.pool.Close()
	}
}
