package ingestion

import (
	"context"

	"github.com/kailas-cloud/ragindex/internal/domain"
	"github.com/kailas-cloud/ragindex/internal/domain/filter"
)

// Chunker splits extracted text into windows.
type Chunker interface {
	Split(text string) []string
}

// Embedder vectorizes chunk texts in order.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Store is the vector store as seen by ingestion.
type Store interface {
	Upsert(ctx context.Context, ns string, records []domain.VectorRecord) error
	DeleteByFilter(ctx context.Context, ns string, f filter.Expression) (int, error)
	MarkDeleted(ctx context.Context, ns string, f filter.Expression) (int, error)
}
