package repo

import (
	"context"
	"database/sql"
	"errors"

	"efileflow/internal/domain"
)

// UpsertTeamRelation links a member to a manager, reactivating an old link.
func (r Repo) UpsertTeamRelation(ctx context.Context, tx *sql.Tx, rel domain.TeamRelation) error {
	if rel.ManagerID == "" || rel.MemberID == "" {
		return errors.New("manager_id and member_id required")
	}
	_, err := r.exec(ctx, tx, `INSERT INTO team_relations(manager_id,member_id,team_role,is_active,created_at) VALUES (?,?,?,?,?)
ON CONFLICT(manager_id,member_id) DO UPDATE SET team_role=excluded.team_role, is_active=excluded.is_active`,
		rel.ManagerID, rel.MemberID, rel.TeamRole, boolInt(rel.IsActive), rel.CreatedAt)
	return err
}

func (r Repo) DeactivateTeamRelation(ctx context.Context, tx *sql.Tx, managerID, memberID string) error {
	res, err := r.exec(ctx, tx, `UPDATE team_relations SET is_active=0 WHERE manager_id=? AND member_id=?`, managerID, memberID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListTeamMembers returns active members of a manager whose directory entry
// is active, ordered by team role then name.
func (r Repo) ListTeamMembers(ctx context.Context, managerID string) ([]domain.TeamMember, error) {
	rows, err := r.query(ctx, nil, `SELECT u.id, u.name, u.role_code, u.department, tr.team_role, tr.manager_id
FROM team_relations tr
JOIN users u ON u.id = tr.member_id
WHERE tr.manager_id=? AND tr.is_active=1 AND u.is_active=1
ORDER BY tr.team_role ASC, u.name ASC, u.id ASC`, managerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TeamMember
	for rows.Next() {
		var m domain.TeamMember
		if err := rows.Scan(&m.UserID, &m.Name, &m.RoleCode, &m.Department, &m.TeamRole, &m.ManagerID); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// HasActiveTeamRelation reports whether memberID is an active member of managerID's team.
func (r Repo) HasActiveTeamRelation(ctx context.Context, managerID, memberID string) (bool, error) {
	var n int
	err := r.queryRow(ctx, nil, `SELECT 1 FROM team_relations WHERE manager_id=? AND member_id=? AND is_active=1 LIMIT 1`, managerID, memberID).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// ManagerForUser returns the manager userID actively belongs to. When the data
// carries more than one active link the oldest wins.
func (r Repo) ManagerForUser(ctx context.Context, userID string) (domain.ManagerInfo, error) {
	var m domain.ManagerInfo
	err := r.queryRow(ctx, nil, `SELECT u.id, u.name, u.role_code, u.department, tr.team_role
FROM team_relations tr
JOIN users u ON u.id = tr.manager_id
WHERE tr.member_id=? AND tr.is_active=1 AND u.is_active=1
ORDER BY tr.created_at ASC, tr.manager_id ASC
LIMIT 1`, userID).Scan(&m.ManagerID, &m.Name, &m.RoleCode, &m.Department, &m.TeamRole)
	if errors.Is(err, sql.ErrNoRows) {
		return m, ErrNotFound
	}
	return m, err
}
