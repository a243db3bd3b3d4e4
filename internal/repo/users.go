package repo

import (
	"context"
	"database/sql"
	"errors"

	"efileflow/internal/domain"
)

// UpsertUser inserts or refreshes a directory entry.
func (r Repo) UpsertUser(ctx context.Context, tx *sql.Tx, u domain.User) error {
	if u.ID == "" {
		return errors.New("user id required")
	}
	_, err := r.exec(ctx, tx, `INSERT INTO users(id,name,role_code,department,is_active,created_at,updated_at) VALUES (?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, role_code=excluded.role_code, department=excluded.department, is_active=excluded.is_active, updated_at=excluded.updated_at`,
		u.ID, u.Name, u.RoleCode, u.Department, boolInt(u.IsActive), u.CreatedAt, u.UpdatedAt)
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	err := r.queryRow(ctx, nil, `SELECT id,name,role_code,department,is_active,created_at,updated_at FROM users WHERE id=?`, id).
		Scan(&u.ID, &u.Name, &u.RoleCode, &u.Department, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return u, ErrNotFound
	}
	return u, err
}

func (r Repo) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.query(ctx, nil, `SELECT id,name,role_code,department,is_active,created_at,updated_at FROM users ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Name, &u.RoleCode, &u.Department, &u.IsActive, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}
