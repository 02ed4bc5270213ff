package repo

import (
	"context"
	"database/sql"

	"github.com/xxxsen/docchat/internal/model"
	"github.com/xxxsen/docchat/internal/pkg/dbutil"
	appErr "github.com/xxxsen/docchat/internal/pkg/errors"
)

const sessionSelect = "SELECT id, user_id, COALESCE(document_id, ''), document_name, ctime FROM chat_sessions"

type SessionRepo struct {
	db *sql.DB
}

func NewSessionRepo(db *sql.DB) *SessionRepo {
	return &SessionRepo{db: db}
}

func (r *SessionRepo) Create(ctx context.Context, s *model.ChatSession) error {
	sqlStr, args := dbutil.Finalize(
		"INSERT INTO chat_sessions (id, user_id, document_id, document_name, ctime) VALUES (?, ?, NULLIF(?, ''), ?, ?)",
		[]interface{}{s.ID, s.UserID, s.DocumentID, s.DocumentName, s.Ctime},
	)
	if _, err := r.db.ExecContext(ctx, sqlStr, args...); err != nil {
		if dbutil.IsConflict(err) {
			return appErr.ErrConflict
		}
		if dbutil.IsForeignKeyViolation(err) {
			return appErr.ErrNotFound
		}
		return err
	}
	return nil
}

// FindByUserAndDocument returns the newest session binding userID to docID.
func (r *SessionRepo) FindByUserAndDocument(ctx context.Context, userID, docID string) (*model.ChatSession, error) {
	return r.queryOne(ctx, sessionSelect+" WHERE user_id = ? AND document_id = ? ORDER BY ctime DESC LIMIT 1", userID, docID)
}

func (r *SessionRepo) GetForUser(ctx context.Context, userID, sessionID string) (*model.ChatSession, error) {
	return r.queryOne(ctx, sessionSelect+" WHERE id = ? AND user_id = ?", sessionID, userID)
}

func (r *SessionRepo) ListByUser(ctx context.Context, userID string) ([]model.ChatSession, error) {
	return r.query(ctx, sessionSelect+" WHERE user_id = ? ORDER BY ctime DESC", userID)
}

func (r *SessionRepo) queryOne(ctx context.Context, query string, args ...interface{}) (*model.ChatSession, error) {
	items, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, appErr.ErrNotFound
	}
	return &items[0], nil
}

func (r *SessionRepo) query(ctx context.Context, query string, args ...interface{}) ([]model.ChatSession, error) {
	sqlStr, args := dbutil.Finalize(query, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make([]model.ChatSession, 0)
	for rows.Next() {
		var s model.ChatSession
		if err := rows.Scan(&s.ID, &s.UserID, &s.DocumentID, &s.DocumentName, &s.Ctime); err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}
