package service

import (
	"context"
	"fmt"

	"github.com/xxxsen/common/logutil"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/xxxsen/docchat/internal/ai"
	"github.com/xxxsen/docchat/internal/model"
	"github.com/xxxsen/docchat/internal/repo"
	"github.com/xxxsen/docchat/internal/telemetry"
)

type ChunkWriter interface {
	Insert(ctx context.Context, chunk *model.Chunk) error
	ListOrdinals(ctx context.Context, docID string) (map[int]struct{}, error)
}

type IndexStatusWriter interface {
	SetIndexStatus(ctx context.Context, docID string, status repo.IndexStatus, mtime int64) error
}

type IndexResult struct {
	Total    int `json:"total"`
	Inserted int `json:"inserted"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// State maps the outcome of a completed run onto the document index state.
func (r *IndexResult) State() model.IndexState {
	if r.Failed > 0 {
		return model.IndexStatePartial
	}
	return model.IndexStateIndexed
}

// Indexer chunks document text, embeds every chunk and stores it. Indexing is
// best-effort: a chunk that fails to insert is logged and counted, and the
// count is recorded on the document so a later Repair can backfill it. An
// embedding failure aborts the run and marks the document failed.
type Indexer struct {
	chunks    ChunkWriter
	status    IndexStatusWriter
	embedder  ai.IEmbedder
	chunkSize int
}

func NewIndexer(chunks ChunkWriter, status IndexStatusWriter, embedder ai.IEmbedder, chunkSize int) *Indexer {
	if chunkSize <= 0 {
		chunkSize = ai.DefaultChunkSize
	}
	return &Indexer{chunks: chunks, status: status, embedder: embedder, chunkSize: chunkSize}
}

func (x *Indexer) Index(ctx context.Context, documentID, text string) (*IndexResult, error) {
	return x.run(ctx, "indexer.index", documentID, text, nil)
}

// Repair re-chunks text and inserts only the ordinals not yet stored.
func (x *Indexer) Repair(ctx context.Context, documentID, text string) (*IndexResult, error) {
	existing, err := x.chunks.ListOrdinals(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("list stored chunks: %w", err)
	}
	return x.run(ctx, "indexer.repair", documentID, text, existing)
}

func (x *Indexer) run(ctx context.Context, spanName, documentID, text string, existing map[int]struct{}) (*IndexResult, error) {
	ctx, span := telemetry.Tracer().Start(ctx, spanName)
	defer span.End()
	logger := logutil.GetLogger(ctx).With(zap.String("document_id", documentID))

	if err := x.setStatus(ctx, documentID, repo.IndexStatus{State: model.IndexStateIndexing}); err != nil {
		return nil, err
	}
	pieces := ai.Chunk(text, x.chunkSize)
	result := &IndexResult{Total: len(pieces)}
	span.SetAttributes(attribute.Int("chunks.total", len(pieces)))

	for ordinal, content := range pieces {
		if _, ok := existing[ordinal]; ok {
			result.Skipped++
			continue
		}
		vec, err := x.embedder.Embed(ctx, content, ai.TaskTypeDocument)
		if err != nil {
			err = fmt.Errorf("embed chunk %d: %w", ordinal, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "embedding failed")
			logger.Error("embedding failed, index aborted", zap.Int("ordinal", ordinal), zap.Error(err))
			failed := result.Total - result.Inserted - result.Skipped
			if serr := x.setStatus(ctx, documentID, repo.IndexStatus{
				State:  model.IndexStateFailed,
				Total:  result.Total,
				Failed: failed,
				Error:  err.Error(),
			}); serr != nil {
				logger.Error("record failed index state", zap.Error(serr))
			}
			return result, err
		}
		chunk := &model.Chunk{
			DocumentID: documentID,
			Ordinal:    ordinal,
			Content:    content,
			Embedding:  vec,
			Ctime:      nowMillis(),
		}
		if err := x.chunks.Insert(ctx, chunk); err != nil {
			logger.Error("insert chunk failed", zap.Int("ordinal", ordinal), zap.Error(err))
			result.Failed++
			continue
		}
		result.Inserted++
	}

	status := repo.IndexStatus{State: result.State(), Total: result.Total, Failed: result.Failed}
	if result.Failed > 0 {
		status.Error = fmt.Sprintf("%d of %d chunks failed to store", result.Failed, result.Total)
	}
	if err := x.setStatus(ctx, documentID, status); err != nil {
		return result, err
	}
	span.SetAttributes(attribute.Int("chunks.inserted", result.Inserted), attribute.Int("chunks.failed", result.Failed))
	logger.Info("document indexed",
		zap.String("state", status.State.String()),
		zap.Int("total", result.Total),
		zap.Int("inserted", result.Inserted),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed))
	return result, nil
}

func (x *Indexer) setStatus(ctx context.Context, documentID string, status repo.IndexStatus) error {
	if err := x.status.SetIndexStatus(ctx, documentID, status, nowMillis()); err != nil {
		return fmt.Errorf("set index status: %w", err)
	}
	return nil
}
