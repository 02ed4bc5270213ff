package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/docchat/internal/model"
	"github.com/xxxsen/docchat/internal/pkg/dbutil"
	appErr "github.com/xxxsen/docchat/internal/pkg/errors"
)

var documentColumns = []string{
	"id", "user_id", "name", "storage_path", "file_type", "extracted_text",
	"index_state", "chunk_total", "chunk_failed", "index_error", "ctime", "mtime",
}

type DocumentRepo struct {
	db *sql.DB
}

func NewDocumentRepo(db *sql.DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

func (r *DocumentRepo) Create(ctx context.Context, doc *model.Document) error {
	data := map[string]interface{}{
		"id":             doc.ID,
		"user_id":        doc.UserID,
		"name":           doc.Name,
		"storage_path":   doc.StoragePath,
		"file_type":      doc.FileType,
		"extracted_text": doc.ExtractedText,
		"index_state":    int(doc.IndexState),
		"chunk_total":    doc.ChunkTotal,
		"chunk_failed":   doc.ChunkFailed,
		"index_error":    doc.IndexError,
		"ctime":          doc.Ctime,
		"mtime":          doc.Mtime,
	}
	sqlStr, args, err := builder.BuildInsert("documents", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	if _, err := r.db.ExecContext(ctx, sqlStr, args...); err != nil {
		if dbutil.IsConflict(err) {
			return appErr.ErrConflict
		}
		return err
	}
	return nil
}

// Get loads a document regardless of owner; used by background processing.
func (r *DocumentRepo) Get(ctx context.Context, docID string) (*model.Document, error) {
	return r.getOne(ctx, map[string]interface{}{"id": docID})
}

func (r *DocumentRepo) GetForUser(ctx context.Context, userID, docID string) (*model.Document, error) {
	return r.getOne(ctx, map[string]interface{}{"id": docID, "user_id": userID})
}

func (r *DocumentRepo) getOne(ctx context.Context, where map[string]interface{}) (*model.Document, error) {
	where["_limit"] = []uint{0, 1}
	docs, err := r.query(ctx, where)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, appErr.ErrNotFound
	}
	return &docs[0], nil
}

func (r *DocumentRepo) ListByUser(ctx context.Context, userID string, limit, offset uint) ([]model.Document, error) {
	where := map[string]interface{}{
		"user_id":  userID,
		"_orderby": "ctime desc",
	}
	if limit > 0 {
		where["_limit"] = []uint{offset, limit}
	}
	return r.query(ctx, where)
}

// ListRepairable returns the oldest documents in the given states that already
// have extracted text.
func (r *DocumentRepo) ListRepairable(ctx context.Context, states []model.IndexState, limit uint) ([]model.Document, error) {
	if len(states) == 0 {
		return []model.Document{}, nil
	}
	values := make([]interface{}, 0, len(states))
	for _, s := range states {
		values = append(values, int(s))
	}
	where := map[string]interface{}{
		"index_state in":    values,
		"extracted_text !=": "",
		"_orderby":          "mtime asc, id asc",
	}
	if limit > 0 {
		where["_limit"] = []uint{0, limit}
	}
	return r.query(ctx, where)
}

func (r *DocumentRepo) query(ctx context.Context, where map[string]interface{}) ([]model.Document, error) {
	sqlStr, args, err := builder.BuildSelect("documents", where, documentColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	docs := make([]model.Document, 0)
	for rows.Next() {
		var doc model.Document
		var state int
		if err := rows.Scan(&doc.ID, &doc.UserID, &doc.Name, &doc.StoragePath, &doc.FileType, &doc.ExtractedText,
			&state, &doc.ChunkTotal, &doc.ChunkFailed, &doc.IndexError, &doc.Ctime, &doc.Mtime); err != nil {
			return nil, err
		}
		doc.IndexState = model.IndexState(state)
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (r *DocumentRepo) SetExtractedText(ctx context.Context, docID, text string, mtime int64) error {
	return r.update(ctx, map[string]interface{}{"id": docID}, map[string]interface{}{
		"extracted_text": text,
		"mtime":          mtime,
	})
}

type IndexStatus struct {
	State  model.IndexState
	Total  int
	Failed int
	Error  string
}

func (r *DocumentRepo) SetIndexStatus(ctx context.Context, docID string, status IndexStatus, mtime int64) error {
	return r.update(ctx, map[string]interface{}{"id": docID}, map[string]interface{}{
		"index_state":  int(status.State),
		"chunk_total":  status.Total,
		"chunk_failed": status.Failed,
		"index_error":  status.Error,
		"mtime":        mtime,
	})
}

func (r *DocumentRepo) update(ctx context.Context, where, update map[string]interface{}) error {
	sqlStr, args, err := builder.BuildUpdate("documents", where, update)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	result, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrNotFound
	}
	return nil
}

func (r *DocumentRepo) Delete(ctx context.Context, userID, docID string) error {
	sqlStr, args, err := builder.BuildDelete("documents", map[string]interface{}{
		"id":      docID,
		"user_id": userID,
	})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	result, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrNotFound
	}
	return nil
}
