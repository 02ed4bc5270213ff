package model

// EmbeddingCacheKey identifies a stored vector by embedding model, task type
// (query or document) and the sha256 of the embedded text.
type EmbeddingCacheKey struct {
	ModelName   string `json:"model_name"`
	TaskType    string `json:"task_type"`
	ContentHash string `json:"content_hash"`
}

// String is the key used by the in-memory cache.
func (k EmbeddingCacheKey) String() string {
	return "embed:" + k.ModelName + ":" + k.TaskType + ":" + k.ContentHash
}

// EmbeddingCache is a row of embedding_cache. Ctime is unix seconds; the
// cleanup job prunes by it.
type EmbeddingCache struct {
	EmbeddingCacheKey
	Embedding []float32 `json:"embedding"`
	Ctime     int64     `json:"ctime"`
}
