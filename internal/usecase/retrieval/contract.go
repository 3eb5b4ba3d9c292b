package retrieval

import (
	"context"

	"github.com/kailas-cloud/ragindex/internal/domain"
	"github.com/kailas-cloud/ragindex/internal/domain/filter"
	"github.com/kailas-cloud/ragindex/internal/telemetry"
)

// Embedder vectorizes the query.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher runs namespace-scoped similarity queries.
type Searcher interface {
	Query(ctx context.Context, ns string, vec []float32, topK int, f filter.Expression) ([]domain.Match, error)
}

// Publisher receives step progress for telemetry sessions.
type Publisher interface {
	UpdateStep(sessionID string, step telemetry.StepName, status telemetry.StepStatus, data any, errMsg string) error
}
