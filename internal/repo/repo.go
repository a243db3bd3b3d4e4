package repo

import (
	"context"
	"database/sql"
	"errors"

	"efileflow/internal/db"
)

type Repo struct {
	DB      *sql.DB
	Dialect db.Dialect
}

var (
	ErrNotFound = errors.New("not found")
	// ErrStaleState is returned when a conditional workflow update loses a race.
	ErrStaleState = errors.New("workflow state changed concurrently")
)

type runner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// on returns tx when non-nil so callers can share one helper for pooled and
// transactional access.
func (r Repo) on(tx *sql.Tx) runner {
	if tx != nil {
		return tx
	}
	return r.DB
}

func (r Repo) q(query string) string {
	return db.Rebind(r.Dialect, query)
}

func (r Repo) exec(ctx context.Context, tx *sql.Tx, query string, args ...any) (sql.Result, error) {
	return r.on(tx).ExecContext(ctx, r.q(query), args...)
}

func (r Repo) query(ctx context.Context, tx *sql.Tx, query string, args ...any) (*sql.Rows, error) {
	return r.on(tx).QueryContext(ctx, r.q(query), args...)
}

func (r Repo) queryRow(ctx context.Context, tx *sql.Tx, query string, args ...any) *sql.Row {
	return r.on(tx).QueryRowContext(ctx, r.q(query), args...)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// boolInt stores booleans as 0/1 so the same schema works on both dialects.
func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
