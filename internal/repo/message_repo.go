package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/docchat/internal/model"
	"github.com/xxxsen/docchat/internal/pkg/dbutil"
)

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

func (r *MessageRepo) Create(ctx context.Context, msg *model.Message) error {
	data := map[string]interface{}{
		"id":         msg.ID,
		"session_id": msg.SessionID,
		"role":       string(msg.Role),
		"content":    msg.Content,
		"ctime":      msg.Ctime,
	}
	sqlStr, args, err := builder.BuildInsert("messages", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

// ListRecent returns up to limit of the newest messages of a session, oldest first.
func (r *MessageRepo) ListRecent(ctx context.Context, sessionID string, limit uint) ([]model.Message, error) {
	where := map[string]interface{}{
		"session_id": sessionID,
		"_orderby":   "ctime desc, seq desc",
	}
	if limit > 0 {
		where["_limit"] = []uint{0, limit}
	}
	sqlStr, args, err := builder.BuildSelect("messages", where, []string{"id", "session_id", "role", "content", "ctime"})
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make([]model.Message, 0)
	for rows.Next() {
		var m model.Message
		var role string
		if err := rows.Scan(&m.ID, &m.SessionID, &role, &m.Content, &m.Ctime); err != nil {
			return nil, err
		}
		m.Role = model.MessageRole(role)
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}
