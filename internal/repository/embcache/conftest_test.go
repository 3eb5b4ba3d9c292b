package embcache

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragindex/internal/db"
	"github.com/kailas-cloud/ragindex/internal/domain"
)

type mockEmbedder struct {
	result     domain.EmbeddingResult
	err        error
	batchErr   error
	batchCalls int
	batchSeen  [][]string
	// vecFor, when set, derives a vector from the input text.
	vecFor func(text string) []float32
}

func (m *mockEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	if m.err != nil {
		return domain.EmbeddingResult{}, m.err
	}
	if m.vecFor != nil {
		return domain.EmbeddingResult{Embedding: m.vecFor(text), TotalTokens: 1, PromptTokens: 1}, nil
	}
	return m.result, nil
}

func (m *mockEmbedder) BatchEmbed(_ context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	m.batchCalls++
	m.batchSeen = append(m.batchSeen, texts)
	if m.batchErr != nil {
		return domain.BatchEmbeddingResult{}, m.batchErr
	}
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		if m.vecFor != nil {
			embeddings[i] = m.vecFor(text)
		} else {
			embeddings[i] = m.result.Embedding
		}
	}
	return domain.BatchEmbeddingResult{
		Embeddings:   embeddings,
		PromptTokens: len(texts),
		TotalTokens:  len(texts),
	}, nil
}

// mockKVStore is an in-memory store recording writes.
type mockKVStore struct {
	data   map[string][]byte
	ttls   map[string]time.Duration
	getErr error
	setErr error
}

func newMockKVStore() *mockKVStore {
	return &mockKVStore{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *mockKVStore) Get(_ context.Context, key string) ([]byte, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	v, ok := m.data[key]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return v, nil
}

func (m *mockKVStore) Set(_ context.Context, key string, value []byte) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.data[key] = value
	return nil
}

func (m *mockKVStore) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}

func newTestCachedEmbedder(t *testing.T, inner *mockEmbedder, opts Options) (*CachedEmbedder, *mockKVStore) {
	t.Helper()
	ms := newMockKVStore()
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "test:emb:"
	}
	return New(inner, ms, opts, nil, zap.NewNop()), ms
}
