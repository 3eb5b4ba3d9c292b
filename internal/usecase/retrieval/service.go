// Package retrieval answers queries with the most relevant stored passages.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragindex/internal/domain"
	"github.com/kailas-cloud/ragindex/internal/domain/filter"
	"github.com/kailas-cloud/ragindex/internal/metrics"
	"github.com/kailas-cloud/ragindex/internal/telemetry"
)

// Defaults for Config fields left at zero.
const (
	DefaultMaxDocs       = 5
	DefaultThreshold     = 0.3
	DefaultSnippetLength = 120
	DefaultMaxVariants   = 3
)

// Config holds the retrieval policy.
type Config struct {
	MaxDocs int
	// Threshold is the minimum relevance score kept when a call does not set one.
	Threshold     float64
	SnippetLength int
	MaxVariants   int
}

// Options tune a single Retrieve call.
type Options struct {
	MaxDocs int
	// Threshold overrides Config.Threshold when set.
	Threshold *float64
	Expand    bool
	SessionID string
}

// Service is the retrieval engine.
type Service struct {
	embedder  Embedder
	searcher  Searcher
	publisher Publisher
	cfg       Config
	logger    *zap.Logger
}

// New creates a Service. publisher may be nil.
func New(e Embedder, s Searcher, p Publisher, cfg Config, logger *zap.Logger) *Service {
	if cfg.MaxDocs <= 0 {
		cfg.MaxDocs = DefaultMaxDocs
	}
	if cfg.SnippetLength <= 0 {
		cfg.SnippetLength = DefaultSnippetLength
	}
	if cfg.MaxVariants <= 0 {
		cfg.MaxVariants = DefaultMaxVariants
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{embedder: e, searcher: s, publisher: p, cfg: cfg, logger: logger}
}

// Retrieve returns passages of ownerID relevant to query, best first.
// Failures are logged and yield an empty result with a nil error, so the
// caller can still answer without documents.
func (s *Service) Retrieve(ctx context.Context, query, ownerID string, opts Options) ([]domain.RetrievalResult, error) {
	start := time.Now()
	maxDocs := opts.MaxDocs
	if maxDocs <= 0 {
		maxDocs = s.cfg.MaxDocs
	}
	threshold := s.cfg.Threshold
	if opts.Threshold != nil {
		threshold = *opts.Threshold
	}

	log := s.logger.With(zap.String("owner_id", ownerID), zap.String("session_id", opts.SessionID))

	if strings.TrimSpace(query) == "" {
		return s.degrade(log, opts.SessionID, "", domain.NewValidationError("query", "empty_query", "query is empty"))
	}
	if err := domain.ValidateOwnerID(ownerID); err != nil {
		return s.degrade(log, opts.SessionID, "", err)
	}

	variants := []string{strings.Join(strings.Fields(query), " ")}
	if opts.Expand {
		variants = expandQuery(query, s.cfg.MaxVariants)
	}

	s.step(opts.SessionID, telemetry.StepQueryEmbedding, telemetry.StepInProgress, map[string]any{"variants": len(variants)}, "")
	vectors := make([][]float32, len(variants))
	for i, v := range variants {
		vec, err := s.embedder.Embed(ctx, v)
		if err != nil {
			return s.degrade(log, opts.SessionID, telemetry.StepQueryEmbedding, fmt.Errorf("embed query: %w", err))
		}
		vectors[i] = vec
	}
	s.step(opts.SessionID, telemetry.StepQueryEmbedding, telemetry.StepCompleted,
		map[string]any{"variants": len(variants), "dimensions": len(vectors[0])}, "")

	s.step(opts.SessionID, telemetry.StepDocumentRetrieval, telemetry.StepInProgress, nil, "")
	ns := domain.Namespace(ownerID)
	live := filter.Expression{}.Not(filter.MustEq("deleted", "true"))

	best := make(map[string]domain.Match)
	for _, vec := range vectors {
		matches, err := s.searcher.Query(ctx, ns, vec, maxDocs, live)
		if err != nil {
			return s.degrade(log, opts.SessionID, telemetry.StepDocumentRetrieval, fmt.Errorf("query store: %w", err))
		}
		for _, m := range matches {
			if prev, ok := best[m.ID]; !ok || m.Score > prev.Score {
				best[m.ID] = m
			}
		}
	}

	results := s.rank(best, ownerID, threshold, maxDocs)

	status := "hit"
	if len(results) == 0 {
		status = "empty"
	}
	metrics.RetrievalsTotal.WithLabelValues(status).Inc()
	metrics.RetrievalResults.Observe(float64(len(results)))

	s.step(opts.SessionID, telemetry.StepDocumentRetrieval, telemetry.StepCompleted, map[string]any{
		"candidates": len(best),
		"results":    len(results),
		"threshold":  threshold,
	}, "")

	log.Debug("Retrieval completed",
		zap.Int("variants", len(variants)),
		zap.Int("candidates", len(best)),
		zap.Int("results", len(results)),
		zap.Float64("threshold", threshold),
		zap.Duration("duration", time.Since(start)),
	)
	return results, nil
}

// rank drops deleted, foreign and low-score matches, then sorts by score
// descending and keeps at most maxDocs.
func (s *Service) rank(best map[string]domain.Match, ownerID string, threshold float64, maxDocs int) []domain.RetrievalResult {
	results := make([]domain.RetrievalResult, 0, len(best))
	for _, m := range best {
		if m.Metadata.Deleted || m.Score < threshold {
			continue
		}
		if m.Metadata.OwnerID != "" && m.Metadata.OwnerID != ownerID {
			continue
		}
		results = append(results, domain.RetrievalResult{
			ChunkID:        m.ID,
			Content:        m.Content,
			Source:         m.Metadata.Source,
			RelevanceScore: m.Score,
			Snippet:        Snippet(m.Content, s.cfg.SnippetLength),
			Page:           m.Metadata.Page,
			Metadata:       m.Metadata,
		})
	}

	// ties broken by id so merged results are deterministic
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].RelevanceScore != results[j].RelevanceScore {
			return results[i].RelevanceScore > results[j].RelevanceScore
		}
		return results[i].ChunkID < results[j].ChunkID
	})
	if len(results) > maxDocs {
		results = results[:maxDocs]
	}
	return results
}

func (s *Service) degrade(log *zap.Logger, sessionID string, step telemetry.StepName, err error) ([]domain.RetrievalResult, error) {
	metrics.RetrievalsTotal.WithLabelValues("error").Inc()
	log.Warn("Retrieval failed, continuing without documents", zap.Error(err))
	if step != "" {
		s.step(sessionID, step, telemetry.StepError, nil, err.Error())
	}
	return []domain.RetrievalResult{}, nil
}

// Assemble builds the completion payload and reports the context_assembly step.
func (s *Service) Assemble(sessionID string, results []domain.RetrievalResult) Payload {
	s.step(sessionID, telemetry.StepContextAssembly, telemetry.StepInProgress, nil, "")
	p := BuildPayload(results)
	s.step(sessionID, telemetry.StepContextAssembly, telemetry.StepCompleted, map[string]any{
		"citations":     len(p.Citations),
		"contextLength": len(p.Context),
	}, "")
	return p
}

func (s *Service) step(sessionID string, name telemetry.StepName, status telemetry.StepStatus, data any, errMsg string) {
	if s.publisher == nil || sessionID == "" {
		return
	}
	if err := s.publisher.UpdateStep(sessionID, name, status, data, errMsg); err != nil {
		s.logger.Debug("Telemetry step not recorded",
			zap.String("session_id", sessionID),
			zap.String("step", string(name)),
			zap.Error(err),
		)
	}
}
