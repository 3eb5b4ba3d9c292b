package chi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kailas-cloud/ragindex/internal/domain"
	"github.com/kailas-cloud/ragindex/internal/domain/indexing"
	"github.com/kailas-cloud/ragindex/internal/telemetry"
	healthuc "github.com/kailas-cloud/ragindex/internal/usecase/health"
	"github.com/kailas-cloud/ragindex/internal/usecase/ingestion"
	"github.com/kailas-cloud/ragindex/internal/usecase/retrieval"
)

type mockIngestor struct {
	indexFn  func(ctx context.Context, req ingestion.Request) (ingestion.Result, error)
	retryFn  func(ctx context.Context, req ingestion.Request) (ingestion.Result, error)
	resetFn  func(ownerID, filename string) error
	statusFn func(ownerID, filename string) (indexing.Snapshot, bool)
	deleteFn func(ctx context.Context, ownerID, filename string, hard bool) (int, error)
}

func (m *mockIngestor) Index(ctx context.Context, req ingestion.Request) (ingestion.Result, error) {
	return m.indexFn(ctx, req)
}

func (m *mockIngestor) Retry(ctx context.Context, req ingestion.Request) (ingestion.Result, error) {
	return m.retryFn(ctx, req)
}

func (m *mockIngestor) Reset(ownerID, filename string) error { return m.resetFn(ownerID, filename) }

func (m *mockIngestor) Status(ownerID, filename string) (indexing.Snapshot, bool) {
	if m.statusFn == nil {
		return indexing.Snapshot{}, false
	}
	return m.statusFn(ownerID, filename)
}

func (m *mockIngestor) Delete(ctx context.Context, ownerID, filename string, hard bool) (int, error) {
	return m.deleteFn(ctx, ownerID, filename, hard)
}

type mockRetriever struct {
	retrieveFn func(ctx context.Context, query, ownerID string, opts retrieval.Options) ([]domain.RetrievalResult, error)
}

func (m *mockRetriever) Retrieve(
	ctx context.Context, query, ownerID string, opts retrieval.Options,
) ([]domain.RetrievalResult, error) {
	return m.retrieveFn(ctx, query, ownerID, opts)
}

func (m *mockRetriever) Assemble(_ string, results []domain.RetrievalResult) retrieval.Payload {
	return retrieval.BuildPayload(results)
}

type mockHealth struct {
	report healthuc.Report
}

func (m *mockHealth) Check(context.Context) healthuc.Report { return m.report }

type testEnv struct {
	ingestion *mockIngestor
	retrieval *mockRetriever
	bus       *telemetry.Bus
	health    *mockHealth
	handler   http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	bus := telemetry.New(telemetry.Config{BufferSize: 16}, nil)
	t.Cleanup(bus.Close)

	env := &testEnv{
		ingestion: &mockIngestor{},
		retrieval: &mockRetriever{},
		bus:       bus,
		health:    &mockHealth{report: healthuc.Report{Status: healthuc.Healthy, Checks: map[string]healthuc.Check{}}},
	}
	srv := NewServer(env.ingestion, env.retrieval, bus, env.health, Config{MaxBodyBytes: 1 << 16}, nil)
	env.handler = srv.Router()
	return env
}

// do sends a request as owner (no X-User-ID when owner is empty).
func (e *testEnv) do(t *testing.T, method, path, owner string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if owner != "" {
		req.Header.Set(UserIDHeader, owner)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return v
}
