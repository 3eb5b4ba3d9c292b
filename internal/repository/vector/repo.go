// Package vector stores chunk embeddings in namespace-isolated hashes and
// searches them through a single FT index.
package vector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kailas-cloud/ragindex/internal/db"
	"github.com/kailas-cloud/ragindex/internal/domain"
	"github.com/kailas-cloud/ragindex/internal/domain/filter"
	"github.com/kailas-cloud/ragindex/internal/metrics"
	"github.com/kailas-cloud/ragindex/internal/retry"
)

// store is the consumer interface for the vector repository (ISP).
type store interface {
	HSetMulti(ctx context.Context, items []db.HashSetItem) error
	DelMulti(ctx context.Context, keys []string) (int, error)
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	IndexInfo(ctx context.Context, name string) (*db.IndexInfo, error)
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	SearchFiltered(ctx context.Context, q *db.ListQuery) (*db.SearchResult, error)
}

const listPageSize = 1000

// Config describes the index and the resilience knobs of the repository.
type Config struct {
	// KeyPrefix namespaces every key and the index name, e.g. "rag:".
	KeyPrefix         string
	Dimensions        int
	Distance          db.DistanceMetric
	Algorithm         db.VectorAlgorithm
	HNSWM             int
	HNSWEFConstruct   int
	ReadyTimeout      time.Duration
	ReadyPollInterval time.Duration
	Retry             retry.Policy
}

func (c *Config) applyDefaults() {
	if c.Distance == "" {
		c.Distance = db.DistanceCosine
	}
	if c.Algorithm == "" {
		c.Algorithm = db.VectorHNSW
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = 60 * time.Second
	}
	if c.ReadyPollInterval <= 0 {
		c.ReadyPollInterval = 500 * time.Millisecond
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = retry.DefaultPolicy()
	}
}

// Repo is the vector store client.
type Repo struct {
	store     store
	cfg       Config
	indexName string
	keyPrefix string
	def       *db.IndexDefinition
	ready     atomic.Bool
	initGroup singleflight.Group
	logger    *zap.Logger
}

// New creates a vector repository. The index is created lazily.
func New(s store, cfg Config, logger *zap.Logger) (*Repo, error) {
	cfg.applyDefaults()
	// Scores are read back as cosine similarity.
	if cfg.Distance != db.DistanceCosine {
		return nil, fmt.Errorf("vector index: unsupported distance %q, only %s", cfg.Distance, db.DistanceCosine)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Repo{
		store:     s,
		cfg:       cfg,
		indexName: cfg.KeyPrefix + "chunks:idx",
		keyPrefix: cfg.KeyPrefix + "chunk:",
		logger:    logger,
	}
	def, err := r.indexDefinition()
	if err != nil {
		return nil, fmt.Errorf("vector index definition: %w", err)
	}
	r.def = def
	return r, nil
}

// IndexName returns the FT index backing the repository.
func (r *Repo) IndexName() string { return r.indexName }

// Upsert writes records into ns in one pipelined batch. Existing ids are overwritten.
func (r *Repo) Upsert(ctx context.Context, ns string, records []domain.VectorRecord) error {
	if err := validateNamespace(ns); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	items := make([]db.HashSetItem, len(records))
	for i := range records {
		rec := &records[i]
		if rec.ID == "" {
			return domain.NewValidationError("id", "missing_id", fmt.Sprintf("record %d has no id", i))
		}
		if err := domain.ValidateVector(rec.Vector, r.cfg.Dimensions); err != nil {
			return fmt.Errorf("record %s: %w", rec.ID, err)
		}
		if rec.Metadata.OwnerID != "" && domain.Namespace(rec.Metadata.OwnerID) != ns {
			return domain.NewValidationError("namespace", "namespace_mismatch",
				fmt.Sprintf("record %s belongs to %s, not %s", rec.ID, domain.Namespace(rec.Metadata.OwnerID), ns))
		}
		items[i] = db.HashSetItem{Key: r.key(ns, rec.ID), Fields: toHash(ns, rec)}
	}

	if err := r.EnsureIndexReady(ctx); err != nil {
		return err
	}
	return r.exec(ctx, "upsert", func(ctx context.Context) error {
		return r.store.HSetMulti(ctx, items) //nolint:wrapcheck // wrapped by exec
	})
}

// Query returns up to topK chunks of ns closest to vec, highest score first.
// The namespace condition is always added to f.
func (r *Repo) Query(ctx context.Context, ns string, vec []float32, topK int, f filter.Expression) ([]domain.Match, error) {
	if err := validateNamespace(ns); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, domain.NewValidationError("top_k", "invalid_top_k", "top_k must be positive")
	}
	if err := domain.ValidateVector(vec, r.cfg.Dimensions); err != nil {
		return nil, fmt.Errorf("query vector: %w", err)
	}

	q := &db.KNNQuery{
		IndexName:    r.indexName,
		VectorField:  fieldVector,
		Filters:      scoped(ns, f),
		Vector:       vec,
		K:            topK,
		ReturnFields: returnFields,
	}

	var res *db.SearchResult
	err := r.withIndex(ctx, func(ctx context.Context) error {
		return r.exec(ctx, "query", func(ctx context.Context) error {
			var err error
			res, err = r.store.SearchKNN(ctx, q)
			return err //nolint:wrapcheck // wrapped by exec
		})
	})
	if err != nil {
		return nil, err
	}

	matches := make([]domain.Match, 0, len(res.Entries))
	for i := range res.Entries {
		e := &res.Entries[i]
		if e.Fields[fieldNamespace] != ns {
			continue
		}
		matches = append(matches, fromEntry(r.keyPrefix, e))
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	return matches, nil
}

// DeleteByIDs removes the given chunk ids from ns and returns how many existed.
func (r *Repo) DeleteByIDs(ctx context.Context, ns string, ids []string) (int, error) {
	if err := validateNamespace(ns); err != nil {
		return 0, err
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.key(ns, id)
	}
	return r.delete(ctx, keys)
}

// DeleteByFilter removes every chunk of ns matching f and returns how many were removed.
func (r *Repo) DeleteByFilter(ctx context.Context, ns string, f filter.Expression) (int, error) {
	if err := validateNamespace(ns); err != nil {
		return 0, err
	}
	keys, err := r.matchingKeys(ctx, ns, f)
	if err != nil {
		return 0, err
	}
	return r.delete(ctx, keys)
}

// MarkDeleted flags every chunk of ns matching f as deleted without removing it.
func (r *Repo) MarkDeleted(ctx context.Context, ns string, f filter.Expression) (int, error) {
	if err := validateNamespace(ns); err != nil {
		return 0, err
	}
	keys, err := r.matchingKeys(ctx, ns, f)
	if err != nil || len(keys) == 0 {
		return 0, err
	}

	items := make([]db.HashSetItem, len(keys))
	for i, k := range keys {
		items[i] = db.HashSetItem{Key: k, Fields: map[string]string{fieldDeleted: "true"}}
	}
	err = r.exec(ctx, "mark_deleted", func(ctx context.Context) error {
		return r.store.HSetMulti(ctx, items) //nolint:wrapcheck // wrapped by exec
	})
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

func (r *Repo) delete(ctx context.Context, keys []string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	var n int
	err := r.exec(ctx, "delete", func(ctx context.Context) error {
		var err error
		n, err = r.store.DelMulti(ctx, keys)
		return err //nolint:wrapcheck // wrapped by exec
	})
	return n, err
}

// matchingKeys collects all keys of ns matching f before anything is
// mutated, so deletions cannot shift later pages.
func (r *Repo) matchingKeys(ctx context.Context, ns string, f filter.Expression) ([]string, error) {
	var keys []string
	expr := scoped(ns, f)

	err := r.withIndex(ctx, func(ctx context.Context) error {
		keys = keys[:0]
		for offset := 0; ; offset += listPageSize {
			var res *db.SearchResult
			err := r.exec(ctx, "list", func(ctx context.Context) error {
				var err error
				res, err = r.store.SearchFiltered(ctx, &db.ListQuery{
					IndexName: r.indexName,
					Filters:   expr,
					Offset:    offset,
					Limit:     listPageSize,
					NoContent: true,
				})
				return err //nolint:wrapcheck // wrapped by exec
			})
			if err != nil {
				return err
			}
			keys = append(keys, res.Keys()...)
			if len(res.Entries) < listPageSize || offset+listPageSize >= res.Total {
				return nil
			}
		}
	})
	return keys, err
}

// exec runs a store call under the retry policy and records metrics.
// Connection-level failures that outlive the retries become StoreUnavailableError.
func (r *Repo) exec(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	start := time.Now()
	attempts, err := r.cfg.Retry.Do(ctx, fn, db.IsTransient)
	metrics.VectorStoreOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.VectorStoreOpsTotal.WithLabelValues(op, "error").Inc()
		if errors.Is(err, db.ErrIndexNotFound) {
			return err //nolint:wrapcheck // sentinel checked by withIndex
		}
		r.logger.Warn("Vector store operation failed",
			zap.String("op", op),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		return r.storeErr(op, err)
	}
	metrics.VectorStoreOpsTotal.WithLabelValues(op, "ok").Inc()
	return nil
}

func (r *Repo) storeErr(op string, err error) error {
	if db.IsTransient(err) {
		return &domain.StoreUnavailableError{Op: op, Err: err}
	}
	return fmt.Errorf("vector store %s: %w", op, err)
}

func (r *Repo) key(ns, id string) string {
	return r.keyPrefix + ns + ":" + id
}

func scoped(ns string, f filter.Expression) filter.Expression {
	return f.And(filter.MustEq(fieldNamespace, ns))
}

func validateNamespace(ns string) error {
	if ns == "" {
		return domain.NewValidationError("namespace", "missing_namespace", "namespace is required")
	}
	return nil
}
