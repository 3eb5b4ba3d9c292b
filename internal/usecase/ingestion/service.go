// Package ingestion indexes documents: validate, chunk, embed, store,
// with every stage tracked by a per-document state machine.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragindex/internal/domain"
	"github.com/kailas-cloud/ragindex/internal/domain/filter"
	"github.com/kailas-cloud/ragindex/internal/domain/indexing"
	"github.com/kailas-cloud/ragindex/internal/metrics"
)

const maxFilenameLength = 255

// Request is one document to index. Content is already extracted text.
type Request struct {
	Filename string
	Content  string
	FileType domain.FileType
	OwnerID  string
	// FileSize is the original upload size in bytes; zero means len(Content).
	FileSize int64
	// Pages is recorded in progress when the extractor reports it.
	Pages int
}

// Result reports a successful ingestion.
type Result struct {
	ChunkCount int
}

// Service is the ingestion orchestrator.
type Service struct {
	chunker  Chunker
	embedder Embedder
	store    Store
	tracker  *tracker
	logger   *zap.Logger
	now      func() time.Time
}

// New creates a Service.
func New(c Chunker, e Embedder, s Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &Service{chunker: c, embedder: e, store: s, logger: logger, now: time.Now}
	svc.tracker = newTracker(func() *indexing.Machine {
		return indexing.NewMachine(indexing.WithListener(svc.onTransition))
	})
	return svc
}

func (s *Service) onTransition(tr indexing.Transition) {
	metrics.StateTransitionsTotal.WithLabelValues(string(tr.From), string(tr.To)).Inc()
	fields := []zap.Field{
		zap.String("filename", tr.Session.Filename),
		zap.String("from", string(tr.From)),
		zap.String("to", string(tr.To)),
		zap.String("event", string(tr.Event)),
	}
	if tr.To == indexing.Error && tr.Session.Error != nil {
		fields = append(fields,
			zap.String("stage", tr.Session.Error.Stage),
			zap.String("code", tr.Session.Error.Code),
			zap.Bool("retryable", tr.Session.Error.Retryable),
		)
		s.logger.Warn("Indexing failed", fields...)
		return
	}
	s.logger.Debug("Indexing state changed", fields...)
}

// Index runs the whole pipeline for req. Failures are recorded on the
// document's state machine and returned.
func (s *Service) Index(ctx context.Context, req Request) (Result, error) {
	if err := validateRequest(&req); err != nil {
		metrics.IngestionsTotal.WithLabelValues("error", "validation").Inc()
		return Result{}, err
	}

	m, err := s.tracker.begin(req.OwnerID, req.Filename)
	if err != nil {
		return Result{}, err
	}
	if err := m.StartUpload(req.Filename, req.FileSize, req.FileType); err != nil {
		s.recordFailure(m)
		return Result{}, err
	}
	return s.run(ctx, m, req)
}

// Retry re-runs a failed ingestion whose recorded error is retryable.
func (s *Service) Retry(ctx context.Context, req Request) (Result, error) {
	if err := validateRequest(&req); err != nil {
		return Result{}, err
	}
	m, ok := s.tracker.get(req.OwnerID, req.Filename)
	if !ok {
		return Result{}, fmt.Errorf("indexing session %s: %w", req.Filename, domain.ErrNotFound)
	}
	if err := m.Retry(); err != nil {
		if busy(m.State()) {
			return Result{}, domain.ErrIndexingInProgress
		}
		return Result{}, err
	}
	return s.run(ctx, m, req)
}

// Reset discards the session of a finished or failed document.
func (s *Service) Reset(ownerID, filename string) error {
	m, ok := s.tracker.get(ownerID, filename)
	if !ok {
		return fmt.Errorf("indexing session %s: %w", filename, domain.ErrNotFound)
	}
	if err := m.Reset(); err != nil {
		return err
	}
	s.tracker.remove(ownerID, filename)
	return nil
}

// Status returns the indexing snapshot of a document.
func (s *Service) Status(ownerID, filename string) (indexing.Snapshot, bool) {
	m, ok := s.tracker.get(ownerID, filename)
	if !ok {
		return indexing.Snapshot{}, false
	}
	return m.Snapshot(), true
}

// Delete removes every chunk of a document. A soft delete only flags the
// chunks so retrieval skips them. It returns the number of affected chunks.
func (s *Service) Delete(ctx context.Context, ownerID, filename string, hard bool) (int, error) {
	if err := domain.ValidateOwnerID(ownerID); err != nil {
		return 0, err
	}
	if err := validateFilename(filename); err != nil {
		return 0, err
	}
	if m, ok := s.tracker.get(ownerID, filename); ok && busy(m.State()) {
		return 0, domain.ErrIndexingInProgress
	}

	bySource, err := filter.Eq("source", filename)
	if err != nil {
		return 0, domain.NewValidationError("filename", "invalid_filename", err.Error())
	}
	f := filter.Expression{}.And(bySource)
	ns := domain.Namespace(ownerID)

	var n int
	if hard {
		n, err = s.store.DeleteByFilter(ctx, ns, f)
	} else {
		n, err = s.store.MarkDeleted(ctx, ns, f)
	}
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", filename, err)
	}

	s.tracker.remove(ownerID, filename)
	s.logger.Info("Document deleted",
		zap.String("owner_id", ownerID),
		zap.String("filename", filename),
		zap.Bool("hard", hard),
		zap.Int("chunks", n),
	)
	return n, nil
}

// run drives m from Uploading to Ready.
func (s *Service) run(ctx context.Context, m *indexing.Machine, req Request) (Result, error) {
	start := s.now()

	if err := m.CompleteUpload(); err != nil {
		return s.fail(m, err)
	}
	if err := m.CompleteParsing(utf8.RuneCountInString(req.Content), req.Pages); err != nil {
		return s.fail(m, err)
	}

	chunks := s.chunker.Split(req.Content)
	if err := m.CompleteChunking(len(chunks)); err != nil {
		return s.fail(m, err)
	}

	vectors, err := s.embedder.EmbedBatch(ctx, chunks)
	if err == nil && len(vectors) != len(chunks) {
		err = &domain.StateValidationError{
			Stage:   string(indexing.Embedding),
			Code:    "embedding_count_mismatch",
			Message: fmt.Sprintf("got %d vectors for %d chunks", len(vectors), len(chunks)),
		}
	}
	if err != nil {
		return s.failWith(m, fmt.Errorf("embed chunks: %w", err))
	}
	if err := m.CompleteEmbedding(); err != nil {
		return s.fail(m, err)
	}

	ns := domain.Namespace(req.OwnerID)
	records := buildRecords(req, chunks, vectors, s.now().UTC().Truncate(time.Millisecond))
	if err := s.store.Upsert(ctx, ns, records); err != nil {
		return s.failWith(m, fmt.Errorf("upsert chunks: %w", err))
	}
	if err := s.removeStale(ctx, ns, req.Filename, len(chunks)); err != nil {
		return s.failWith(m, err)
	}
	if err := m.CompleteIndexing(); err != nil {
		return s.fail(m, err)
	}

	metrics.IngestionsTotal.WithLabelValues("ok", "").Inc()
	metrics.IngestedChunksTotal.Add(float64(len(chunks)))
	metrics.IngestionDuration.Observe(s.now().Sub(start).Seconds())

	s.logger.Info("Document indexed",
		zap.String("owner_id", req.OwnerID),
		zap.String("filename", req.Filename),
		zap.Int("chunks", len(chunks)),
		zap.Duration("duration", s.now().Sub(start)),
	)
	return Result{ChunkCount: len(chunks)}, nil
}

// removeStale drops chunks left over from a previous, longer version of the document.
func (s *Service) removeStale(ctx context.Context, ns, filename string, total int) error {
	bySource, err := filter.Eq("source", filename)
	if err != nil {
		return fmt.Errorf("stale filter: %w", err)
	}
	f := filter.Expression{}.And(bySource, filter.AtLeast("chunk_index", float64(total)))

	n, err := s.store.DeleteByFilter(ctx, ns, f)
	if err != nil {
		return fmt.Errorf("remove stale chunks: %w", err)
	}
	if n > 0 {
		s.logger.Debug("Stale chunks removed", zap.String("filename", filename), zap.Int("count", n))
	}
	return nil
}

// failWith records err on m, then reports it.
func (s *Service) failWith(m *indexing.Machine, err error) (Result, error) {
	if ferr := m.Fail(err); ferr != nil {
		s.logger.Error("Recording indexing failure", zap.Error(ferr), zap.NamedError("cause", err))
	}
	return s.fail(m, err)
}

// fail reports an error that is already recorded on m.
func (s *Service) fail(m *indexing.Machine, err error) (Result, error) {
	s.recordFailure(m)
	var it *domain.InvalidTransitionError
	if errors.As(err, &it) {
		s.logger.Error("Unexpected indexing transition", zap.Error(err))
	}
	return Result{}, err
}

func (s *Service) recordFailure(m *indexing.Machine) {
	stage := "unknown"
	if e := m.Snapshot().Session.Error; e != nil {
		stage = e.Stage
	}
	metrics.IngestionsTotal.WithLabelValues("error", stage).Inc()
}

func buildRecords(req Request, chunks []string, vectors [][]float32, uploadedAt time.Time) []domain.VectorRecord {
	records := make([]domain.VectorRecord, len(chunks))
	for i, text := range chunks {
		records[i] = domain.VectorRecord{
			ID:      domain.ChunkID(req.OwnerID, req.Filename, i),
			Vector:  vectors[i],
			Content: text,
			Metadata: domain.ChunkMetadata{
				Source:      req.Filename,
				ChunkIndex:  i,
				TotalChunks: len(chunks),
				FileType:    req.FileType,
				UploadedAt:  uploadedAt,
				OwnerID:     req.OwnerID,
			},
		}
	}
	return records
}

func validateRequest(req *Request) error {
	if err := domain.ValidateOwnerID(req.OwnerID); err != nil {
		return err
	}
	if err := validateFilename(req.Filename); err != nil {
		return err
	}
	if strings.TrimSpace(req.Content) == "" {
		return domain.NewValidationError("content", "empty_content", "document content is empty")
	}
	if req.FileSize <= 0 {
		req.FileSize = int64(len(req.Content))
	}
	return nil
}

func validateFilename(name string) error {
	if strings.TrimSpace(name) == "" {
		return domain.NewValidationError("filename", "missing_filename", "filename is required")
	}
	if len(name) > maxFilenameLength {
		return domain.NewValidationError("filename", "invalid_filename", "filename is too long")
	}
	if strings.ContainsFunc(name, unicode.IsControl) {
		return domain.NewValidationError("filename", "invalid_filename", "filename contains control characters")
	}
	return nil
}
