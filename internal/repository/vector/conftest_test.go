package vector

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kailas-cloud/ragindex/internal/db"
	"github.com/kailas-cloud/ragindex/internal/domain"
	"github.com/kailas-cloud/ragindex/internal/retry"
)

// mockStore implements the consumer interface for tests.
type mockStore struct {
	mu sync.Mutex

	hsetMultiFn      func(ctx context.Context, items []db.HashSetItem) error
	delMultiFn       func(ctx context.Context, keys []string) (int, error)
	createIndexFn    func(ctx context.Context, def *db.IndexDefinition) error
	indexInfoFn      func(ctx context.Context, name string) (*db.IndexInfo, error)
	searchKNNFn      func(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	searchFilteredFn func(ctx context.Context, q *db.ListQuery) (*db.SearchResult, error)

	createCalls int
	infoCalls   int
}

func (m *mockStore) HSetMulti(ctx context.Context, items []db.HashSetItem) error {
	if m.hsetMultiFn != nil {
		return m.hsetMultiFn(ctx, items)
	}
	return nil
}

func (m *mockStore) DelMulti(ctx context.Context, keys []string) (int, error) {
	if m.delMultiFn != nil {
		return m.delMultiFn(ctx, keys)
	}
	return len(keys), nil
}

func (m *mockStore) CreateIndex(ctx context.Context, def *db.IndexDefinition) error {
	m.mu.Lock()
	m.createCalls++
	m.mu.Unlock()
	if m.createIndexFn != nil {
		return m.createIndexFn(ctx, def)
	}
	return nil
}

func (m *mockStore) IndexInfo(ctx context.Context, name string) (*db.IndexInfo, error) {
	m.mu.Lock()
	m.infoCalls++
	m.mu.Unlock()
	if m.indexInfoFn != nil {
		return m.indexInfoFn(ctx, name)
	}
	return &db.IndexInfo{Name: name}, nil
}

func (m *mockStore) SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
	if m.searchKNNFn != nil {
		return m.searchKNNFn(ctx, q)
	}
	return &db.SearchResult{}, nil
}

func (m *mockStore) SearchFiltered(ctx context.Context, q *db.ListQuery) (*db.SearchResult, error) {
	if m.searchFilteredFn != nil {
		return m.searchFilteredFn(ctx, q)
	}
	return &db.SearchResult{}, nil
}

func (m *mockStore) creates() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createCalls
}

const testDim = 4

func testConfig() Config {
	return Config{
		KeyPrefix:         "rag:",
		Dimensions:        testDim,
		ReadyTimeout:      200 * time.Millisecond,
		ReadyPollInterval: 5 * time.Millisecond,
		Retry: retry.Policy{
			MaxAttempts: 3,
			BaseDelay:   time.Millisecond,
			MaxDelay:    2 * time.Millisecond,
			Multiplier:  2,
		},
	}
}

func newTestRepo(t *testing.T) (*Repo, *mockStore) {
	t.Helper()
	ms := &mockStore{}
	repo, err := New(ms, testConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return repo, ms
}

func testVector() []float32 {
	vec := make([]float32, testDim)
	for i := range vec {
		vec[i] = 0.1
	}
	return vec
}

func testRecord(owner, filename string, idx, total int) domain.VectorRecord {
	return domain.VectorRecord{
		ID:      domain.ChunkID(owner, filename, idx),
		Vector:  testVector(),
		Content: "chunk content",
		Metadata: domain.ChunkMetadata{
			Source:      filename,
			ChunkIndex:  idx,
			TotalChunks: total,
			FileType:    domain.FileTypeText,
			UploadedAt:  time.UnixMilli(1_700_000_000_000).UTC(),
			OwnerID:     owner,
		},
	}
}

func transientErr(op string) error {
	return &db.Error{Op: op, Err: context.DeadlineExceeded, Transient: true}
}
