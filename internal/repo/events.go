package repo

import (
	"context"
	"database/sql"
	"strings"

	"efileflow/internal/domain"
)

type EventFilters struct {
	FileID     string
	Type       string
	EntityKind string
	EntityID   string
	// Before returns only events with a smaller id; 0 means no cursor.
	Before int64
	Limit  int
}

const eventColumns = `id,ts,type,file_id,entity_kind,entity_id,actor_id,payload_json`

func scanEvents(rows *sql.Rows) ([]domain.Event, error) {
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var fileID, entityID sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &fileID, &e.EntityKind, &entityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		e.FileID = fileID.String
		e.EntityID = entityID.String
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEvents returns events newest first.
func (r Repo) LatestEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	clauses := []string{"1=1"}
	var args []any
	if f.FileID != "" {
		clauses = append(clauses, "file_id=?")
		args = append(args, f.FileID)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.Before > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Before)
	}
	args = append(args, f.Limit)
	rows, err := r.query(ctx, nil, `SELECT `+eventColumns+` FROM events WHERE `+strings.Join(clauses, " AND ")+` ORDER BY id DESC LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.query(ctx, nil, `SELECT `+eventColumns+` FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// LatestEventID returns the most recent event ID.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	err := r.queryRow(ctx, nil, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id)
	return id, err
}
