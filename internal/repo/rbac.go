package repo

import (
	"context"
	"database/sql"
	"errors"

	"efileflow/internal/domain"
)

func (r Repo) GetRole(ctx context.Context, roleID string) (domain.Role, error) {
	role := domain.Role{ID: roleID}
	err := r.queryRow(ctx, nil, `SELECT description FROM roles WHERE id=?`, roleID).Scan(&role.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Role{}, ErrNotFound
	}
	if err != nil {
		return domain.Role{}, err
	}
	role.Permissions, err = r.rolePermissions(ctx, roleID)
	if err != nil {
		return domain.Role{}, err
	}
	return role, nil
}

func (r Repo) ListRoles(ctx context.Context) ([]domain.Role, error) {
	rows, err := r.query(ctx, nil, `SELECT id, description FROM roles ORDER BY id`)
	if err != nil {
		return nil, err
	}
	var roles []domain.Role
	for rows.Next() {
		var role domain.Role
		if err := rows.Scan(&role.ID, &role.Description); err != nil {
			rows.Close()
			return nil, err
		}
		roles = append(roles, role)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range roles {
		if roles[i].Permissions, err = r.rolePermissions(ctx, roles[i].ID); err != nil {
			return nil, err
		}
	}
	return roles, nil
}

func (r Repo) AssignRole(ctx context.Context, tx *sql.Tx, g domain.RoleGrant) error {
	_, err := r.exec(ctx, tx, `INSERT INTO actor_roles(actor_id, role_id, granted_by, created_at) VALUES (?,?,?,?)
ON CONFLICT(actor_id, role_id) DO NOTHING`, g.ActorID, g.RoleID, nullable(g.GrantedBy), g.CreatedAt)
	return err
}

func (r Repo) RevokeRole(ctx context.Context, tx *sql.Tx, actorID, roleID string) error {
	res, err := r.exec(ctx, tx, `DELETE FROM actor_roles WHERE actor_id=? AND role_id=?`, actorID, roleID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ActorRoles returns the role ids granted to actorID.
func (r Repo) ActorRoles(ctx context.Context, actorID string) ([]string, error) {
	return r.queryStrings(ctx, `SELECT role_id FROM actor_roles WHERE actor_id=? ORDER BY role_id`, actorID)
}

// ActorPermissions returns the distinct permissions actorID holds through
// its roles.
func (r Repo) ActorPermissions(ctx context.Context, actorID string) ([]string, error) {
	return r.queryStrings(ctx, `
SELECT DISTINCT rp.permission_id
FROM actor_roles ar
JOIN role_permissions rp ON rp.role_id=ar.role_id
WHERE ar.actor_id=?
ORDER BY rp.permission_id`, actorID)
}

func (r Repo) ActorHasPermission(ctx context.Context, actorID, perm string) (bool, error) {
	var n int
	err := r.queryRow(ctx, nil, `
SELECT 1 FROM actor_roles ar
JOIN role_permissions rp ON rp.role_id=ar.role_id
WHERE ar.actor_id=? AND rp.permission_id=? LIMIT 1`, actorID, perm).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) rolePermissions(ctx context.Context, roleID string) ([]string, error) {
	return r.queryStrings(ctx, `SELECT permission_id FROM role_permissions WHERE role_id=? ORDER BY permission_id`, roleID)
}

func (r Repo) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.query(ctx, nil, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
