package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pgvector/pgvector-go"

	"github.com/xxxsen/docchat/internal/model"
	"github.com/xxxsen/docchat/internal/pkg/dbutil"
)

// ChunkRepo stores document chunks. Rows are only ever inserted; deletion
// happens through the documents foreign key cascade.
type ChunkRepo struct {
	db *sql.DB
}

func NewChunkRepo(db *sql.DB) *ChunkRepo {
	return &ChunkRepo{db: db}
}

// Insert stores a chunk. An existing (document_id, ordinal) row is left untouched.
func (r *ChunkRepo) Insert(ctx context.Context, chunk *model.Chunk) error {
	const query = `
		INSERT INTO document_chunks (document_id, ordinal, content, embedding, ctime)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (document_id, ordinal) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, query,
		chunk.DocumentID,
		chunk.Ordinal,
		chunk.Content,
		pgvector.NewVector(chunk.Embedding),
		chunk.Ctime,
	)
	return err
}

func (r *ChunkRepo) ListOrdinals(ctx context.Context, docID string) (map[int]struct{}, error) {
	sqlStr, args := dbutil.Finalize("SELECT ordinal FROM document_chunks WHERE document_id = ?", []interface{}{docID})
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := make(map[int]struct{})
	for rows.Next() {
		var ordinal int
		if err := rows.Scan(&ordinal); err != nil {
			return nil, err
		}
		res[ordinal] = struct{}{}
	}
	return res, rows.Err()
}

func (r *ChunkRepo) ListByDocument(ctx context.Context, docID string) ([]model.Chunk, error) {
	sqlStr, args := dbutil.Finalize(
		"SELECT id, document_id, ordinal, content, ctime FROM document_chunks WHERE document_id = ? ORDER BY ordinal ASC",
		[]interface{}{docID},
	)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	chunks := make([]model.Chunk, 0)
	for rows.Next() {
		var c model.Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Ordinal, &c.Content, &c.Ctime); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// Search returns chunks whose cosine similarity to the query vector is at
// least q.Threshold, most similar first.
func (r *ChunkRepo) Search(ctx context.Context, q model.ChunkQuery) ([]model.ScoredChunk, error) {
	if len(q.Vector) == 0 {
		return nil, fmt.Errorf("empty query vector")
	}
	if q.Count <= 0 {
		return []model.ScoredChunk{}, nil
	}
	conds := []string{
		"vector_dims(c.embedding) = ?",
		"1 - (c.embedding <=> ?) >= ?",
	}
	vec := pgvector.NewVector(q.Vector)
	args := []interface{}{len(q.Vector), vec, q.Threshold}
	if q.DocumentID != "" {
		conds = append(conds, "c.document_id = ?")
		args = append(args, q.DocumentID)
	}
	if q.UserID != "" {
		conds = append(conds, "d.user_id = ?")
		args = append(args, q.UserID)
	}
	query := `
		SELECT c.document_id, c.ordinal, c.content, 1 - (c.embedding <=> ?) AS similarity
		FROM document_chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE ` + strings.Join(conds, " AND ") + `
		ORDER BY c.embedding <=> ? ASC
		LIMIT ?
	`
	args = append([]interface{}{vec}, args...)
	args = append(args, vec, q.Count)
	sqlStr, args := dbutil.Finalize(query, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := make([]model.ScoredChunk, 0, q.Count)
	for rows.Next() {
		var item model.ScoredChunk
		if err := rows.Scan(&item.DocumentID, &item.Ordinal, &item.Content, &item.Similarity); err != nil {
			return nil, err
		}
		res = append(res, item)
	}
	return res, rows.Err()
}
