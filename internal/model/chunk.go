package model

type Chunk struct {
	ID         int64     `json:"id"`
	DocumentID string    `json:"document_id"`
	Ordinal    int       `json:"ordinal"`
	Content    string    `json:"content"`
	Embedding  []float32 `json:"-"`
	Ctime      int64     `json:"ctime"`
}

// ScoredChunk is a search hit; Similarity is cosine similarity against the query vector.
type ScoredChunk struct {
	DocumentID string  `json:"document_id"`
	Ordinal    int     `json:"ordinal"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
}

// ChunkQuery parameterises a similarity search. Empty DocumentID searches every
// document of UserID; empty UserID drops the owner filter.
type ChunkQuery struct {
	Vector     []float32
	Threshold  float64
	Count      int
	DocumentID string
	UserID     string
}
