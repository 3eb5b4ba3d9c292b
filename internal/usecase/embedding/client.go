// Package embedding turns text into validated vectors on top of a provider,
// adding input truncation, sub-batching with pacing, and bounded retries.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kailas-cloud/ragindex/internal/domain"
	"github.com/kailas-cloud/ragindex/internal/metrics"
	"github.com/kailas-cloud/ragindex/internal/retry"
)

// Defaults for Config fields left at zero.
const (
	DefaultBatchSize  = 10
	DefaultBatchDelay = 100 * time.Millisecond
	charsPerToken     = 4
)

// Config tunes the client.
type Config struct {
	Provider       string
	Model          string
	Dimensions     int
	MaxInputTokens int
	BatchSize      int
	// BatchDelay is the minimum spacing between sub-batch requests. Negative disables pacing.
	BatchDelay time.Duration
	// Retry defaults to retry.DefaultPolicy when MaxAttempts is zero.
	Retry retry.Policy
}

// Client is the embedding entry point used by ingestion and retrieval.
type Client struct {
	inner   domain.Embedder
	cfg     Config
	policy  retry.Policy
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewClient wraps inner. When inner also implements domain.BatchEmbedder,
// sub-batches are sent in one request each.
func NewClient(inner domain.Embedder, cfg Config, logger *zap.Logger) *Client {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchDelay == 0 {
		cfg.BatchDelay = DefaultBatchDelay
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	limit := rate.Inf
	if cfg.BatchDelay > 0 {
		limit = rate.Every(cfg.BatchDelay)
	}

	c := &Client{
		inner:   inner,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}
	c.policy = cfg.Retry
	c.policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		metrics.EmbeddingRetriesTotal.Inc()
		c.logger.Warn("Embedding call failed, retrying",
			zap.String("provider", cfg.Provider),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
	}
	return c
}

// Dimensions returns the configured vector size.
func (c *Client) Dimensions() int { return c.cfg.Dimensions }

// Embed vectorizes one text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, domain.NewValidationError("text", "empty_text", "text to embed is empty")
	}
	text = c.truncate(text)

	var res domain.EmbeddingResult
	attempts, err := c.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		res, err = c.inner.Embed(ctx, text)
		return err //nolint:wrapcheck // classified by the retry predicate
	}, isTransient)
	if err != nil {
		return nil, c.providerFailure(attempts, err, 1)
	}

	if err := domain.ValidateVector(res.Embedding, c.cfg.Dimensions); err != nil {
		return nil, fmt.Errorf("embedding: %w", err)
	}
	return res.Embedding, nil
}

// EmbedBatch vectorizes texts, preserving order. Texts are sent in
// sub-batches of BatchSize, spaced by BatchDelay. Any failure aborts the
// whole call; partial results are never returned.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	inputs := make([]string, len(texts))
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, domain.NewValidationError("texts", "empty_text", fmt.Sprintf("text %d is empty", i))
		}
		inputs[i] = c.truncate(t)
	}

	start := time.Now()
	out := make([][]float32, 0, len(inputs))
	tokens := 0

	for offset := 0; offset < len(inputs); offset += c.cfg.BatchSize {
		end := min(offset+c.cfg.BatchSize, len(inputs))

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("embedding pacing: %w", err)
		}

		res, err := c.embedSubBatch(ctx, inputs[offset:end])
		if err != nil {
			c.logger.Error("Batch embedding failed",
				zap.String("provider", c.cfg.Provider),
				zap.Int("offset", offset),
				zap.Int("size", end-offset),
				zap.Error(err),
			)
			return nil, err
		}
		for j, vec := range res.Embeddings {
			if err := domain.ValidateVector(vec, c.cfg.Dimensions); err != nil {
				return nil, fmt.Errorf("embedding %d: %w", offset+j, err)
			}
		}
		out = append(out, res.Embeddings...)
		tokens += res.TotalTokens
	}

	c.logger.Debug("Batch embedding completed",
		zap.String("provider", c.cfg.Provider),
		zap.String("model", c.cfg.Model),
		zap.Int("texts", len(texts)),
		zap.Int("total_tokens", tokens),
		zap.Duration("duration", time.Since(start)),
	)
	return out, nil
}

func (c *Client) embedSubBatch(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	var res domain.BatchEmbeddingResult
	attempts, err := c.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		if be, ok := c.inner.(domain.BatchEmbedder); ok {
			res, err = be.BatchEmbed(ctx, texts)
		} else {
			res, err = domain.BatchFallback(ctx, c.inner, texts)
		}
		if err == nil && len(res.Embeddings) != len(texts) {
			err = &domain.ProviderError{
				Kind:    domain.ProviderPermanent,
				Message: fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(res.Embeddings)),
			}
		}
		return err
	}, isTransient)
	if err != nil {
		return domain.BatchEmbeddingResult{}, c.providerFailure(attempts, err, len(texts))
	}
	return res, nil
}

// providerFailure wraps the last provider error once retries are over.
func (c *Client) providerFailure(attempts int, err error, inputs int) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		var perr *domain.ProviderError
		if !errors.As(err, &perr) {
			return fmt.Errorf("embedding: %w", err)
		}
	}
	c.logger.Warn("Embedding provider failed",
		zap.String("provider", c.cfg.Provider),
		zap.Int("attempts", attempts),
		zap.Int("inputs", inputs),
		zap.Error(err),
	)
	return &domain.EmbeddingProviderError{Attempts: attempts, Err: err}
}

// HealthCheck delegates to the provider when it supports it.
func (c *Client) HealthCheck(ctx context.Context) error {
	if hc, ok := c.inner.(domain.HealthChecker); ok {
		return hc.HealthCheck(ctx) //nolint:wrapcheck // pass-through
	}
	return nil
}

// truncate keeps roughly MaxInputTokens tokens, cutting at the last
// whitespace when one exists in the back half of the allowance.
func (c *Client) truncate(text string) string {
	if c.cfg.MaxInputTokens <= 0 {
		return text
	}
	maxChars := c.cfg.MaxInputTokens * charsPerToken
	if len(text) <= maxChars {
		return text
	}
	r := []rune(text)
	if len(r) <= maxChars {
		return text
	}

	metrics.EmbeddingTruncationsTotal.Inc()
	cut := maxChars
	for i := maxChars; i > maxChars/2; i-- {
		if unicode.IsSpace(r[i]) {
			cut = i
			break
		}
	}
	return strings.TrimRightFunc(string(r[:cut]), unicode.IsSpace)
}

func isTransient(err error) bool {
	return errors.Is(err, domain.ErrTransientProvider)
}
