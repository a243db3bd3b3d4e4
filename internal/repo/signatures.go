package repo

import (
	"context"
	"database/sql"
	"errors"

	"efileflow/internal/domain"
)

func (r Repo) InsertSignature(ctx context.Context, tx *sql.Tx, s domain.Signature) error {
	if s.ID == "" || s.FileID == "" || s.UserID == "" {
		return errors.New("id, file_id and user_id required")
	}
	_, err := r.exec(ctx, tx, `INSERT INTO signatures(id,file_id,user_id,method,content_hash,is_active,signed_at) VALUES (?,?,?,?,?,?,?)`,
		s.ID, s.FileID, s.UserID, s.Method, nullable(s.ContentHash), boolInt(s.IsActive), s.SignedAt)
	return err
}

// CountActiveSignatures returns how many active signatures userID holds on fileID.
func (r Repo) CountActiveSignatures(ctx context.Context, fileID, userID string) (int, error) {
	var n int
	err := r.queryRow(ctx, nil, `SELECT count(*) FROM signatures WHERE file_id=? AND user_id=? AND is_active=1`, fileID, userID).Scan(&n)
	return n, err
}

// LatestActiveSignature returns the most recent active signature of userID on fileID.
func (r Repo) LatestActiveSignature(ctx context.Context, fileID, userID string) (domain.Signature, error) {
	var s domain.Signature
	var hash sql.NullString
	err := r.queryRow(ctx, nil, `SELECT id,file_id,user_id,method,content_hash,is_active,signed_at FROM signatures
WHERE file_id=? AND user_id=? AND is_active=1 ORDER BY signed_at DESC, id DESC LIMIT 1`, fileID, userID).
		Scan(&s.ID, &s.FileID, &s.UserID, &s.Method, &hash, &s.IsActive, &s.SignedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrNotFound
	}
	s.ContentHash = hash.String
	return s, err
}

// DeactivateSignatures revokes every active signature of userID on fileID.
func (r Repo) DeactivateSignatures(ctx context.Context, tx *sql.Tx, fileID, userID string) (int64, error) {
	res, err := r.exec(ctx, tx, `UPDATE signatures SET is_active=0 WHERE file_id=? AND user_id=? AND is_active=1`, fileID, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
