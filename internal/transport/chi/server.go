// Package chi exposes the indexing, retrieval and telemetry use cases over HTTP.
package chi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragindex/internal/domain"
	"github.com/kailas-cloud/ragindex/internal/domain/indexing"
	"github.com/kailas-cloud/ragindex/internal/metrics"
	"github.com/kailas-cloud/ragindex/internal/telemetry"
	healthuc "github.com/kailas-cloud/ragindex/internal/usecase/health"
	"github.com/kailas-cloud/ragindex/internal/usecase/ingestion"
	"github.com/kailas-cloud/ragindex/internal/usecase/retrieval"
)

// Ingestor is the ingestion orchestrator as seen by the HTTP layer.
type Ingestor interface {
	Index(ctx context.Context, req ingestion.Request) (ingestion.Result, error)
	Retry(ctx context.Context, req ingestion.Request) (ingestion.Result, error)
	Reset(ownerID, filename string) error
	Status(ownerID, filename string) (indexing.Snapshot, bool)
	Delete(ctx context.Context, ownerID, filename string, hard bool) (int, error)
}

// Retriever is the retrieval engine as seen by the HTTP layer.
type Retriever interface {
	Retrieve(ctx context.Context, query, ownerID string, opts retrieval.Options) ([]domain.RetrievalResult, error)
	Assemble(sessionID string, results []domain.RetrievalResult) retrieval.Payload
}

// Telemetry is the event bus as seen by the HTTP layer.
type Telemetry interface {
	CreateSession(sessionID, userID, query string) telemetry.Session
	Session(sessionID string) (telemetry.Session, bool)
	UpdateStep(sessionID string, step telemetry.StepName, status telemetry.StepStatus, data any, errMsg string) error
	CompleteSession(sessionID string, citations []telemetry.Citation) error
	ErrorSession(sessionID, message string) error
	Subscribe(userID string, h telemetry.Handler) (unsubscribe func())
}

// HealthChecker reports component health.
type HealthChecker interface {
	Check(ctx context.Context) healthuc.Report
}

// Config holds router settings.
type Config struct {
	APIKeys      []string
	MaxBodyBytes int64
	// StreamBuffer bounds the per-connection SSE queue.
	StreamBuffer int
	// IndexTimeout bounds an upload or retry once it no longer follows the
	// client connection.
	IndexTimeout time.Duration
}

// Server holds the HTTP handlers.
type Server struct {
	ingestion     Ingestor
	retrieval     Retriever
	telemetry     Telemetry
	health        HealthChecker
	cfg           Config
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(
	ing Ingestor,
	ret Retriever,
	tel Telemetry,
	health HealthChecker,
	cfg Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 2 * domain.MaxFileSize
	}
	if cfg.StreamBuffer <= 0 {
		cfg.StreamBuffer = 64
	}
	if cfg.IndexTimeout <= 0 {
		cfg.IndexTimeout = 5 * time.Minute
	}
	return &Server{
		ingestion:     ing,
		retrieval:     ret,
		telemetry:     tel,
		health:        health,
		cfg:           cfg,
		logger:        logger,
		errorHandlers: defaultErrorHandlers(),
	}
}

// Router builds the chi router with the middleware chain and all routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(JSONRecoverer(s.logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(WideEventMiddleware(s.logger))
	r.Use(BearerAuthMiddleware(s.cfg.APIKeys))
	r.Use(metrics.Middleware())

	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/v1", func(r chi.Router) {
		r.Use(RequireUser)

		r.Post("/documents", s.UploadDocument)
		r.Get("/documents/{filename}/status", s.DocumentStatus)
		r.Post("/documents/{filename}/retry", s.RetryDocument)
		r.Post("/documents/{filename}/reset", s.ResetDocument)
		r.Delete("/documents/{filename}", s.DeleteDocument)

		r.Post("/retrieve", s.Retrieve)

		r.Post("/telemetry/sessions", s.CreateSession)
		r.Get("/telemetry/sessions/{id}", s.GetSession)
		r.Post("/telemetry/sessions/{id}/steps/{step}", s.UpdateStep)
		r.Post("/telemetry/sessions/{id}/complete", s.CompleteSession)
		r.Get("/telemetry/stream", s.Stream)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, codeNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, codeBadRequest, "method not allowed")
	})
	return r
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	type check struct {
		Status    string `json:"status"`
		Error     string `json:"error,omitempty"`
		LatencyMs int64  `json:"latency_ms"`
	}
	checks := make(map[string]check, len(report.Checks))
	for name, c := range report.Checks {
		checks[name] = check{Status: string(c.Result), Error: c.Error, LatencyMs: c.Latency.Milliseconds()}
	}

	status := http.StatusOK
	if report.Status != healthuc.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"status": report.Status, "checks": checks})
}

// decode reads a JSON body bounded by MaxBodyBytes. It writes the error
// response itself and reports whether decoding succeeded.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file_too_large",
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return false
		}
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}
