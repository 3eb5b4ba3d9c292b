// Package openai adapts an OpenAI-compatible /embeddings endpoint to the domain embedding contracts.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragindex/internal/domain"
	"github.com/kailas-cloud/ragindex/internal/metrics"
)

// Embedder is an embedding provider using the OpenAI-compatible API
// (OpenAI, text-embeddings-inference, Ollama, vLLM and similar servers).
type Embedder struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
	user       string
	provider   string
	logger     *zap.Logger
}

// Config holds the embedding provider settings.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int // sent as "dimensions" only when positive
	User       string
	Provider   string
	Timeout    time.Duration
	Logger     *zap.Logger
}

// NewEmbedder creates an OpenAI-compatible embedding provider.
func NewEmbedder(cfg *Config) *Embedder {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Embedder{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      openai.EmbeddingModel(cfg.Model),
		dimensions: cfg.Dimensions,
		user:       cfg.User,
		provider:   cfg.Provider,
		logger:     logger,
	}
}

// Embed implements domain.Embedder.
func (e *Embedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	res, err := e.create(ctx, []string{text})
	if err != nil {
		return domain.EmbeddingResult{}, err
	}
	return domain.EmbeddingResult{
		Embedding:    res.Embeddings[0],
		PromptTokens: res.PromptTokens,
		TotalTokens:  res.TotalTokens,
	}, nil
}

// BatchEmbed implements domain.BatchEmbedder. Embeddings[i] belongs to texts[i]
// regardless of the order the provider lists them in.
func (e *Embedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if len(texts) == 0 {
		return domain.BatchEmbeddingResult{}, nil
	}
	return e.create(ctx, texts)
}

func (e *Embedder) create(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	req := openai.EmbeddingRequest{
		Input:          texts,
		Model:          e.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
		User:           e.user,
	}
	if e.dimensions > 0 {
		req.Dimensions = e.dimensions
	}

	start := time.Now()
	resp, err := e.client.CreateEmbeddings(ctx, req)
	duration := time.Since(start)

	if err != nil {
		perr := classify(err)
		e.fail(errorType(perr))
		e.logger.Debug("embedding request failed",
			zap.String("provider", e.provider),
			zap.Int("inputs", len(texts)),
			zap.Int("status", perr.StatusCode),
			zap.Bool("transient", perr.Kind == domain.ProviderTransient),
			zap.Error(err),
		)
		return domain.BatchEmbeddingResult{}, perr
	}

	if len(resp.Data) != len(texts) {
		e.fail("count_mismatch")
		return domain.BatchEmbeddingResult{}, &domain.ProviderError{
			Kind:    domain.ProviderPermanent,
			Message: fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(resp.Data)),
		}
	}

	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	embeddings := make([][]float32, len(data))
	for i := range data {
		if data[i].Index != i || len(data[i].Embedding) == 0 {
			e.fail("malformed_response")
			return domain.BatchEmbeddingResult{}, &domain.ProviderError{
				Kind:    domain.ProviderPermanent,
				Message: fmt.Sprintf("malformed embedding at position %d", i),
			}
		}
		embeddings[i] = data[i].Embedding
	}

	model := string(e.model)
	metrics.EmbeddingRequestsTotal.WithLabelValues(e.provider, model, "success").Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues(e.provider, model).Observe(duration.Seconds())
	if resp.Usage.TotalTokens > 0 {
		metrics.EmbeddingTokensTotal.WithLabelValues(e.provider, model, "prompt").Add(float64(resp.Usage.PromptTokens))
		metrics.EmbeddingTokensTotal.WithLabelValues(e.provider, model, "total").Add(float64(resp.Usage.TotalTokens))
	}

	return domain.BatchEmbeddingResult{
		Embeddings:   embeddings,
		PromptTokens: resp.Usage.PromptTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}, nil
}

func (e *Embedder) fail(errType string) {
	model := string(e.model)
	metrics.EmbeddingRequestsTotal.WithLabelValues(e.provider, model, "error").Inc()
	metrics.EmbeddingErrorsTotal.WithLabelValues(e.provider, model, errType).Inc()
}

// HealthCheck verifies API availability via ListModels (free endpoint).
func (e *Embedder) HealthCheck(ctx context.Context) error {
	if _, err := e.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// classify turns a client error into a ProviderError. Rate limiting, request
// timeouts, 5xx and network failures are transient; every other HTTP status
// and a cancelled context are permanent.
func classify(err error) *domain.ProviderError {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &domain.ProviderError{
			Kind:       kindForStatus(apiErr.HTTPStatusCode),
			StatusCode: apiErr.HTTPStatusCode,
			Message:    apiErr.Message,
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		msg := extractDetail(reqErr.Body)
		if msg == "" {
			msg = string(reqErr.Body)
		}
		if msg == "" && reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return &domain.ProviderError{
			Kind:       kindForStatus(reqErr.HTTPStatusCode),
			StatusCode: reqErr.HTTPStatusCode,
			Message:    msg,
		}
	}

	if errors.Is(err, context.Canceled) {
		return &domain.ProviderError{Kind: domain.ProviderPermanent, Message: err.Error()}
	}

	// timeouts, refused connections, resets
	return &domain.ProviderError{Kind: domain.ProviderTransient, Message: err.Error()}
}

func kindForStatus(status int) domain.ProviderErrorKind {
	switch {
	case status == 0,
		status == http.StatusRequestTimeout,
		status == http.StatusTooManyRequests,
		status >= http.StatusInternalServerError:
		return domain.ProviderTransient
	}
	return domain.ProviderPermanent
}

func errorType(perr *domain.ProviderError) string {
	switch {
	case perr.StatusCode == http.StatusTooManyRequests:
		return "rate_limited"
	case perr.StatusCode >= http.StatusInternalServerError:
		return "server_error"
	case perr.StatusCode == 0:
		return "network"
	}
	return "api_error"
}

// extractDetail extracts the "detail" field some servers put in error bodies.
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return ""
}
