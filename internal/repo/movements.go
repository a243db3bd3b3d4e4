package repo

import (
	"context"
	"database/sql"

	"efileflow/internal/domain"
)

func (r Repo) InsertMovement(ctx context.Context, tx *sql.Tx, m domain.Movement) error {
	var fromState any
	if m.FromState != nil {
		fromState = string(*m.FromState)
	}
	_, err := r.exec(ctx, tx, `INSERT INTO file_movements(id,file_id,from_user_id,to_user_id,from_state,to_state,action,remarks,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		m.ID, m.FileID, nullableStringPtr(m.FromUserID), m.ToUserID, fromState, string(m.ToState), m.Action, nullable(m.Remarks), m.CreatedAt)
	return err
}

// ListMovements returns a file's routing history in insertion order.
func (r Repo) ListMovements(ctx context.Context, fileID string) ([]domain.Movement, error) {
	rows, err := r.query(ctx, nil, `SELECT id,file_id,from_user_id,to_user_id,from_state,to_state,action,remarks,created_at
FROM file_movements WHERE file_id=? ORDER BY seq ASC`, fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Movement
	for rows.Next() {
		var m domain.Movement
		var from, fromState, remarks sql.NullString
		var toState string
		if err := rows.Scan(&m.ID, &m.FileID, &from, &m.ToUserID, &fromState, &toState, &m.Action, &remarks, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.FromUserID = stringPtr(from)
		if fromState.Valid {
			s := domain.State(fromState.String)
			m.FromState = &s
		}
		m.ToState = domain.State(toState)
		m.Remarks = remarks.String
		res = append(res, m)
	}
	return res, rows.Err()
}
