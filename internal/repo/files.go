package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"efileflow/internal/domain"
)

const fileColumns = `id,file_number,subject,category,department,creator_id,assigned_to,status,created_at,updated_at`

func (r Repo) InsertFile(ctx context.Context, tx *sql.Tx, f domain.File) error {
	_, err := r.exec(ctx, tx, `INSERT INTO files(`+fileColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		f.ID, f.FileNumber, f.Subject, nullable(f.Category), nullable(f.Department), f.CreatorID,
		nullableStringPtr(f.AssignedTo), f.Status, f.CreatedAt, f.UpdatedAt)
	return err
}

func scanFile(scan func(dest ...any) error) (domain.File, error) {
	var f domain.File
	var category, department, assigned sql.NullString
	err := scan(&f.ID, &f.FileNumber, &f.Subject, &category, &department, &f.CreatorID, &assigned, &f.Status, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return f, err
	}
	f.Category = category.String
	f.Department = department.String
	f.AssignedTo = stringPtr(assigned)
	return f, nil
}

func (r Repo) GetFile(ctx context.Context, id string) (domain.File, error) {
	return r.GetFileTx(ctx, nil, id)
}

func (r Repo) GetFileTx(ctx context.Context, tx *sql.Tx, id string) (domain.File, error) {
	f, err := scanFile(r.queryRow(ctx, tx, `SELECT `+fileColumns+` FROM files WHERE id=?`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return f, ErrNotFound
	}
	return f, err
}

// SetAssignee moves the file record to userID.
func (r Repo) SetAssignee(ctx context.Context, tx *sql.Tx, fileID, userID, now string) error {
	res, err := r.exec(ctx, tx, `UPDATE files SET assigned_to=?, updated_at=? WHERE id=?`, nullable(userID), now, fileID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type FileFilters struct {
	CreatorID  string
	AssignedTo string
	Status     string
	Limit      int
}

func (r Repo) ListFiles(ctx context.Context, f FileFilters) ([]domain.File, error) {
	var clauses []string
	var args []any
	if f.CreatorID != "" {
		clauses = append(clauses, "creator_id=?")
		args = append(args, f.CreatorID)
	}
	if f.AssignedTo != "" {
		clauses = append(clauses, "assigned_to=?")
		args = append(args, f.AssignedTo)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + fileColumns + ` FROM files ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.query(ctx, nil, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.File
	for rows.Next() {
		file, err := scanFile(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, file)
	}
	return res, rows.Err()
}
