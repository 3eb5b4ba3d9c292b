package db

import "github.com/kailas-cloud/ragindex/internal/domain/filter"

// KNNQuery is the input for vector similarity search.
type KNNQuery struct {
	IndexName    string
	VectorField  string
	Filters      filter.Expression
	Vector       []float32
	K            int
	ReturnFields []string
}

// ListQuery is the input for a filter-only paginated search.
type ListQuery struct {
	IndexName    string
	Filters      filter.Expression
	Offset       int
	Limit        int
	ReturnFields []string
	// NoContent returns keys only.
	NoContent bool
}

// SearchResult is the output of a search operation.
type SearchResult struct {
	Total   int
	Entries []SearchEntry
}

// SearchEntry is a single document hit from a search.
// For KNN queries Score is cosine similarity in [0, 1].
type SearchEntry struct {
	Key    string
	Score  float64
	Fields map[string]string
}

// Keys returns the entry keys in order.
func (r *SearchResult) Keys() []string {
	keys := make([]string, len(r.Entries))
	for i := range r.Entries {
		keys[i] = r.Entries[i].Key
	}
	return keys
}
