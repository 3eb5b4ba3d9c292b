package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragindex/internal/domain"
	"github.com/kailas-cloud/ragindex/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.Register()
	os.Exit(m.Run())
}

type embeddingData struct {
	Object    string    `json:"object"`
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

// embeddingResponse mirrors the OpenAI-compatible API embedding response.
type embeddingResponse struct {
	Object string          `json:"object"`
	Data   []embeddingData `json:"data"`
	Model  string          `json:"model"`
	Usage  struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

func newTestEmbedder(url string) *Embedder {
	return NewEmbedder(&Config{
		APIKey:   "test-key",
		BaseURL:  url,
		Model:    "all-MiniLM-L6-v2",
		Provider: "test",
		Logger:   zap.NewNop(),
	})
}

func serveEmbeddings(t *testing.T, data []embeddingData, tokens int) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected auth header: %s", r.Header.Get("Authorization"))
		}
		resp := embeddingResponse{Object: "list", Model: "all-MiniLM-L6-v2", Data: data}
		resp.Usage.PromptTokens = tokens
		resp.Usage.TotalTokens = tokens
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(server.Close)
	return server
}

func serveError(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestEmbedder_Embed(t *testing.T) {
	expected := []float32{0.1, 0.2, 0.3, 0.4}
	server := serveEmbeddings(t, []embeddingData{{Object: "embedding", Embedding: expected}}, 10)

	result, err := newTestEmbedder(server.URL).Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(result.Embedding) != len(expected) {
		t.Fatalf("expected %d dimensions, got %d", len(expected), len(result.Embedding))
	}
	for i, v := range result.Embedding {
		if v != expected[i] {
			t.Errorf("vec[%d] = %f, expected %f", i, v, expected[i])
		}
	}
	if result.PromptTokens != 10 || result.TotalTokens != 10 {
		t.Errorf("usage = %d/%d, expected 10/10", result.PromptTokens, result.TotalTokens)
	}
}

func TestEmbedder_BatchEmbed_RestoresOrder(t *testing.T) {
	server := serveEmbeddings(t, []embeddingData{
		{Object: "embedding", Embedding: []float32{0.3, 0.4}, Index: 1},
		{Object: "embedding", Embedding: []float32{0.1, 0.2}, Index: 0},
	}, 20)

	result, err := newTestEmbedder(server.URL).BatchEmbed(context.Background(), []string{"hello", "world"})
	if err != nil {
		t.Fatalf("BatchEmbed failed: %v", err)
	}
	if len(result.Embeddings) != 2 {
		t.Fatalf("expected 2 embeddings, got %d", len(result.Embeddings))
	}
	if result.Embeddings[0][0] != 0.1 || result.Embeddings[1][0] != 0.3 {
		t.Errorf("order not restored: %v", result.Embeddings)
	}
	if result.TotalTokens != 20 {
		t.Errorf("expected TotalTokens=20, got %d", result.TotalTokens)
	}
}

func TestEmbedder_BatchEmbed_Empty(t *testing.T) {
	result, err := newTestEmbedder("http://unused").BatchEmbed(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Embeddings != nil {
		t.Errorf("expected nil embeddings for empty input, got %v", result.Embeddings)
	}
}

func TestEmbedder_BatchEmbed_CountMismatchIsPermanent(t *testing.T) {
	server := serveEmbeddings(t, []embeddingData{{Object: "embedding", Embedding: []float32{0.1}}}, 5)

	_, err := newTestEmbedder(server.URL).BatchEmbed(context.Background(), []string{"a", "b"})
	if !errors.Is(err, domain.ErrPermanentProvider) {
		t.Fatalf("expected permanent provider error, got %v", err)
	}
}

func TestEmbedder_BatchEmbed_DuplicateIndex(t *testing.T) {
	server := serveEmbeddings(t, []embeddingData{
		{Object: "embedding", Embedding: []float32{0.1}, Index: 0},
		{Object: "embedding", Embedding: []float32{0.2}, Index: 0},
	}, 5)

	_, err := newTestEmbedder(server.URL).BatchEmbed(context.Background(), []string{"a", "b"})
	if !errors.Is(err, domain.ErrPermanentProvider) {
		t.Fatalf("expected permanent provider error, got %v", err)
	}
}

func TestEmbedder_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		transient bool
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"rate limit exceeded","type":"rate_limit_error"}}`, true},
		{"server error", http.StatusBadGateway, `{"error":{"message":"upstream down"}}`, true},
		{"unavailable plain body", http.StatusServiceUnavailable, `overloaded`, true},
		{"bad request", http.StatusBadRequest, `{"error":{"message":"input too long"}}`, false},
		{"unauthorized", http.StatusUnauthorized, `{"error":{"message":"bad key"}}`, false},
		{"detail body", http.StatusUnprocessableEntity, `{"detail":"model not found"}`, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := serveError(t, tc.status, tc.body)

			_, err := newTestEmbedder(server.URL).Embed(context.Background(), "hello")
			var perr *domain.ProviderError
			if !errors.As(err, &perr) {
				t.Fatalf("expected *domain.ProviderError, got %T: %v", err, err)
			}
			if perr.StatusCode != tc.status {
				t.Errorf("status = %d, want %d", perr.StatusCode, tc.status)
			}
			if got := errors.Is(err, domain.ErrTransientProvider); got != tc.transient {
				t.Errorf("transient = %v, want %v (err=%v)", got, tc.transient, err)
			}
		})
	}
}

func TestEmbedder_NetworkErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := newTestEmbedder(url).Embed(context.Background(), "hello")
	if !errors.Is(err, domain.ErrTransientProvider) {
		t.Fatalf("expected transient error for refused connection, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	if !errors.Is(classify(&openai.APIError{HTTPStatusCode: 500, Message: "x"}), domain.ErrTransientProvider) {
		t.Error("500 should be transient")
	}
	if !errors.Is(classify(&openai.APIError{HTTPStatusCode: 404, Message: "x"}), domain.ErrPermanentProvider) {
		t.Error("404 should be permanent")
	}
	if !errors.Is(classify(context.Canceled), domain.ErrPermanentProvider) {
		t.Error("cancellation should be permanent")
	}
	if !errors.Is(classify(context.DeadlineExceeded), domain.ErrTransientProvider) {
		t.Error("deadline should be transient")
	}
}

func TestEmbedder_HealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[]}`))
	}))
	defer server.Close()

	if err := newTestEmbedder(server.URL).HealthCheck(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
