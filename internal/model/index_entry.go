package model

// IndexEntry is the persisted unit of the vector index, keyed by (DocumentID, Ordinal).
type IndexEntry struct {
	DocumentID  string          `json:"document_id"`
	Ordinal     int             `json:"ordinal"`
	Fingerprint string          `json:"fingerprint"`
	Record      SynthesisRecord `json:"record"`
	Embedding   []float32       `json:"embedding"`
	IngestedAt  int64           `json:"ingested_at"`
}

type ScoredEntry struct {
	Entry IndexEntry `json:"entry"`
	Score float64    `json:"score"`
}

// IndexedDocument tracks the indexed version of a document, including documents
// that produced no records.
type IndexedDocument struct {
	DocumentID  string `json:"document_id"`
	Fingerprint string `json:"fingerprint"`
	Records     int    `json:"records"`
	IngestedAt  int64  `json:"ingested_at"`
}

// EmbeddingCache is one persisted vector of the embedding cache. Ctime is unix seconds.
type EmbeddingCache struct {
	ModelName   string    `json:"model_name"`
	TaskType    string    `json:"task_type"`
	ContentHash string    `json:"content_hash"`
	Embedding   []float32 `json:"embedding"`
	Ctime       int64     `json:"ctime"`
}
