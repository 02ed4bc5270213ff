package model

type IndexState int

const (
	IndexStatePending IndexState = iota
	IndexStateIndexing
	IndexStateIndexed
	IndexStatePartial
	IndexStateFailed
)

func (s IndexState) String() string {
	switch s {
	case IndexStatePending:
		return "pending"
	case IndexStateIndexing:
		return "indexing"
	case IndexStateIndexed:
		return "indexed"
	case IndexStatePartial:
		return "partial"
	case IndexStateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Repairable reports whether missing chunks may be backfilled for a document in this state.
func (s IndexState) Repairable() bool {
	return s == IndexStatePartial || s == IndexStateFailed
}

type Document struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	Name          string     `json:"name"`
	StoragePath   string     `json:"storage_path"`
	FileType      string     `json:"file_type"`
	ExtractedText string     `json:"-"`
	IndexState    IndexState `json:"index_state"`
	ChunkTotal    int        `json:"chunk_total"`
	ChunkFailed   int        `json:"chunk_failed"`
	IndexError    string     `json:"index_error,omitempty"`
	Ctime         int64      `json:"ctime"`
	Mtime         int64      `json:"mtime"`
}
