package repo

import (
	"context"
	"database/sql"
	"errors"

	"efileflow/internal/domain"
)

const workflowColumns = `file_id,creator_id,current_assigned_to,current_state,is_within_team,tat_started,tat_started_at,last_external_mark_at,version,created_at,updated_at`

func scanWorkflowState(scan func(dest ...any) error) (domain.WorkflowState, error) {
	var st domain.WorkflowState
	var state string
	var tatAt, lastExt sql.NullString
	err := scan(&st.FileID, &st.CreatorID, &st.CurrentAssignedTo, &state, &st.IsWithinTeam, &st.TATStarted, &tatAt, &lastExt, &st.Version, &st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		return st, err
	}
	st.CurrentState = domain.State(state)
	st.TATStartedAt = stringPtr(tatAt)
	st.LastExternalMarkAt = stringPtr(lastExt)
	return st, nil
}

// UpsertWorkflowState creates the state row for a file. An existing row only
// has its creator and assignee refreshed; routing fields are left alone.
func (r Repo) UpsertWorkflowState(ctx context.Context, tx *sql.Tx, st domain.WorkflowState) error {
	if !st.CurrentState.Valid() {
		return errors.New("invalid workflow state")
	}
	_, err := r.exec(ctx, tx, `INSERT INTO workflow_states(`+workflowColumns+`) VALUES (?,?,?,?,?,0,NULL,NULL,1,?,?)
ON CONFLICT(file_id) DO UPDATE SET creator_id=excluded.creator_id, current_assigned_to=excluded.current_assigned_to, version=workflow_states.version+1, updated_at=excluded.updated_at`,
		st.FileID, st.CreatorID, st.CurrentAssignedTo, string(st.CurrentState), boolInt(st.CurrentState.WithinTeam()), st.CreatedAt, st.UpdatedAt)
	return err
}

func (r Repo) GetWorkflowState(ctx context.Context, fileID string) (domain.WorkflowState, error) {
	return r.GetWorkflowStateTx(ctx, nil, fileID)
}

func (r Repo) GetWorkflowStateTx(ctx context.Context, tx *sql.Tx, fileID string) (domain.WorkflowState, error) {
	st, err := scanWorkflowState(r.queryRow(ctx, tx, `SELECT `+workflowColumns+` FROM workflow_states WHERE file_id=?`, fileID).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return st, ErrNotFound
	}
	return st, err
}

// UpdateWorkflowState writes st if the stored version still equals
// expectedVersion. The statement itself keeps tat_started monotonic and
// tat_started_at write-once.
func (r Repo) UpdateWorkflowState(ctx context.Context, tx *sql.Tx, st domain.WorkflowState, expectedVersion int64) error {
	if !st.CurrentState.Valid() {
		return errors.New("invalid workflow state")
	}
	res, err := r.exec(ctx, tx, `UPDATE workflow_states SET
	current_assigned_to=?,
	current_state=?,
	is_within_team=?,
	tat_started=CASE WHEN tat_started=1 THEN 1 ELSE ? END,
	tat_started_at=COALESCE(tat_started_at, ?),
	last_external_mark_at=?,
	version=version+1,
	updated_at=?
WHERE file_id=? AND version=?`,
		st.CurrentAssignedTo, string(st.CurrentState), boolInt(st.CurrentState.WithinTeam()), boolInt(st.TATStarted),
		nullableStringPtr(st.TATStartedAt), nullableStringPtr(st.LastExternalMarkAt), st.UpdatedAt,
		st.FileID, expectedVersion)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := r.GetWorkflowStateTx(ctx, tx, st.FileID); err != nil {
		return err
	}
	return ErrStaleState
}

// ListTATEntries joins workflow states with their files for the TAT register.
func (r Repo) ListTATEntries(ctx context.Context, onlyStarted bool) ([]domain.TATEntry, error) {
	query := `SELECT f.id, f.file_number, f.subject, ws.creator_id, ws.current_assigned_to, ws.current_state, ws.tat_started, ws.tat_started_at, ws.last_external_mark_at
FROM workflow_states ws
JOIN files f ON f.id = ws.file_id`
	if onlyStarted {
		query += ` WHERE ws.tat_started=1`
	}
	query += ` ORDER BY ws.tat_started_at ASC, f.file_number ASC`
	rows, err := r.query(ctx, nil, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TATEntry
	for rows.Next() {
		var e domain.TATEntry
		var state string
		var tatAt, lastExt sql.NullString
		if err := rows.Scan(&e.FileID, &e.FileNumber, &e.Subject, &e.CreatorID, &e.CurrentAssignedTo, &state, &e.TATStarted, &tatAt, &lastExt); err != nil {
			return nil, err
		}
		e.CurrentState = domain.State(state)
		e.TATStartedAt = stringPtr(tatAt)
		e.LastExternalMarkAt = stringPtr(lastExt)
		res = append(res, e)
	}
	return res, rows.Err()
}
