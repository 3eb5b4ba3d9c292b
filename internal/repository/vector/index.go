package vector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragindex/internal/db"
	"github.com/kailas-cloud/ragindex/internal/metrics"
)

// ErrIndexNotReady is returned when the index does not finish building within ReadyTimeout.
var ErrIndexNotReady = errors.New("vector index not ready")

func (r *Repo) indexDefinition() (*db.IndexDefinition, error) {
	return db.NewIndex(r.indexName).
		Prefix(r.keyPrefix).
		ExactTag(fieldNamespace).
		ExactTag(fieldOwnerID).
		ExactTag(fieldChunkID).
		ExactTag(fieldSource).
		Tag(fieldFileType).
		Tag(fieldDeleted).
		Numeric(fieldChunkIndex).
		Numeric(fieldTotalChunks).
		Numeric(fieldUploadedAt).
		Vector(fieldVector, r.cfg.Dimensions, r.cfg.Algorithm, r.cfg.Distance, r.cfg.HNSWM, r.cfg.HNSWEFConstruct).
		Build()
}

// EnsureIndexReady creates the index on first use and blocks until it
// reports ready or ReadyTimeout elapses. Concurrent callers share a single
// initialization; a failed one is retried by the next call.
func (r *Repo) EnsureIndexReady(ctx context.Context) error {
	if r.ready.Load() {
		return nil
	}

	_, err, _ := r.initGroup.Do(r.indexName, func() (any, error) {
		if r.ready.Load() {
			return nil, nil
		}
		if err := r.initIndex(ctx); err != nil {
			metrics.IndexInitTotal.WithLabelValues("error").Inc()
			r.logger.Error("Vector index initialization failed",
				zap.String("index", r.indexName), zap.Error(err))
			return nil, err
		}
		metrics.IndexInitTotal.WithLabelValues("ok").Inc()
		r.ready.Store(true)
		return nil, nil
	})
	return err //nolint:wrapcheck // already wrapped by initIndex
}

func (r *Repo) initIndex(ctx context.Context) error {
	info, err := r.store.IndexInfo(ctx, r.indexName)
	switch {
	case errors.Is(err, db.ErrIndexNotFound):
		if err := r.store.CreateIndex(ctx, r.def); err != nil && !errors.Is(err, db.ErrIndexExists) {
			return r.storeErr("create_index", err)
		}
		r.logger.Info("Vector index created",
			zap.String("index", r.indexName),
			zap.Int("dimensions", r.cfg.Dimensions),
			zap.String("distance", string(r.cfg.Distance)),
		)
	case err != nil:
		return r.storeErr("index_info", err)
	case info.Ready():
		return nil
	}
	return r.waitReady(ctx)
}

func (r *Repo) waitReady(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.ReadyTimeout)
	defer cancel()

	ticker := time.NewTicker(r.cfg.ReadyPollInterval)
	defer ticker.Stop()

	for {
		info, err := r.store.IndexInfo(ctx, r.indexName)
		switch {
		case err == nil && info.Ready():
			return nil
		case err != nil && !errors.Is(err, db.ErrIndexNotFound) && !db.IsTransient(err):
			return r.storeErr("index_info", err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s after %s: %w", r.indexName, r.cfg.ReadyTimeout, ErrIndexNotReady)
		case <-ticker.C:
		}
	}
}

// withIndex runs fn after making sure the index exists. If fn reports a
// missing index (dropped behind our back) the index is recreated and fn
// runs once more.
func (r *Repo) withIndex(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := r.EnsureIndexReady(ctx); err != nil {
		return err
	}
	err := fn(ctx)
	if !errors.Is(err, db.ErrIndexNotFound) {
		return err
	}

	r.logger.Warn("Vector index missing, recreating", zap.String("index", r.indexName))
	r.ready.Store(false)
	if err := r.EnsureIndexReady(ctx); err != nil {
		return err
	}
	return fn(ctx)
}
