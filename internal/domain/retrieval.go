package domain

// RetrievalResult is one passage returned to the completion step. Never persisted.
type RetrievalResult struct {
	ChunkID        string        `json:"chunkId"`
	Content        string        `json:"content"`
	Source         string        `json:"source"`
	RelevanceScore float64       `json:"relevanceScore"`
	Snippet        string        `json:"snippet"`
	Page           *int          `json:"page,omitempty"`
	Metadata       ChunkMetadata `json:"metadata"`
}

// VectorRecord is a chunk with its embedding, ready for storage.
type VectorRecord struct {
	ID       string
	Vector   []float32
	Content  string
	Metadata ChunkMetadata
}

// Match is a stored chunk returned by a similarity query.
type Match struct {
	ID       string
	Score    float64
	Content  string
	Metadata ChunkMetadata
}
