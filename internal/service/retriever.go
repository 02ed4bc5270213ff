package service

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"

	"github.com/xxxsen/docchat/internal/ai"
	"github.com/xxxsen/docchat/internal/model"
	"github.com/xxxsen/docchat/internal/telemetry"
)

const (
	// SimilarityThreshold is the minimum cosine similarity of a returned chunk.
	SimilarityThreshold = 0.12
	// MaxRetrievedChunks caps the grounding context.
	MaxRetrievedChunks = 6
)

type ChunkSearcher interface {
	Search(ctx context.Context, q model.ChunkQuery) ([]model.ScoredChunk, error)
}

type Retriever struct {
	embedder ai.IEmbedder
	searcher ChunkSearcher
}

func NewRetriever(embedder ai.IEmbedder, searcher ChunkSearcher) *Retriever {
	return &Retriever{embedder: embedder, searcher: searcher}
}

// Retrieve returns at most MaxRetrievedChunks chunks of userID's documents
// (only documentID's when set) with similarity >= SimilarityThreshold, most
// similar first.
func (r *Retriever) Retrieve(ctx context.Context, userID, question, documentID string) ([]model.ScoredChunk, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "retriever.retrieve")
	defer span.End()
	span.SetAttributes(attribute.Bool("scoped", documentID != ""))

	vec, err := r.embedder.Embed(ctx, question, ai.TaskTypeQuery)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("embed question: %w", err)
	}
	hits, err := r.searcher.Search(ctx, model.ChunkQuery{
		Vector:     vec,
		Threshold:  SimilarityThreshold,
		Count:      MaxRetrievedChunks,
		DocumentID: documentID,
		UserID:     userID,
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	out := make([]model.ScoredChunk, 0, len(hits))
	for _, h := range hits {
		if h.Similarity < SimilarityThreshold {
			continue
		}
		if documentID != "" && h.DocumentID != documentID {
			continue
		}
		out = append(out, h)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Similarity > out[j].Similarity
	})
	if len(out) > MaxRetrievedChunks {
		out = out[:MaxRetrievedChunks]
	}
	span.SetAttributes(attribute.Int("chunks", len(out)))
	return out, nil
}
