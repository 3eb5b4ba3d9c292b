package chi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragindex/internal/domain"
	"github.com/kailas-cloud/ragindex/internal/usecase/ingestion"
)

type documentRequest struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
	FileType string `json:"file_type"`
	FileSize int64  `json:"file_size,omitempty"`
	Pages    int    `json:"pages,omitempty"`
}

type documentResponse struct {
	Filename   string `json:"filename"`
	ChunkCount int    `json:"chunk_count"`
}

// UploadDocument handles POST /v1/documents.
func (s *Server) UploadDocument(w http.ResponseWriter, r *http.Request) {
	var body documentRequest
	if !s.decode(w, r, &body) {
		return
	}
	req := toIngestionRequest(ownerFrom(r.Context()), body.Filename, body)

	ctx, cancel := s.indexContext(r)
	defer cancel()
	res, err := s.ingestion.Index(ctx, req)
	if err != nil {
		s.handleIndexError(w, req, err)
		return
	}
	writeJSON(w, http.StatusCreated, documentResponse{Filename: req.Filename, ChunkCount: res.ChunkCount})
}

// RetryDocument handles POST /v1/documents/{filename}/retry. The body
// carries the document again since content is never kept server-side.
func (s *Server) RetryDocument(w http.ResponseWriter, r *http.Request) {
	var body documentRequest
	if !s.decode(w, r, &body) {
		return
	}
	req := toIngestionRequest(ownerFrom(r.Context()), chi.URLParam(r, "filename"), body)

	ctx, cancel := s.indexContext(r)
	defer cancel()
	res, err := s.ingestion.Retry(ctx, req)
	if err != nil {
		s.handleIndexError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, documentResponse{Filename: req.Filename, ChunkCount: res.ChunkCount})
}

// indexContext keeps request values but not cancellation: a client that
// hangs up mid-upload must not leave the document half indexed.
func (s *Server) indexContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(r.Context()), s.cfg.IndexTimeout)
}

// ResetDocument handles POST /v1/documents/{filename}/reset.
func (s *Server) ResetDocument(w http.ResponseWriter, r *http.Request) {
	if err := s.ingestion.Reset(ownerFrom(r.Context()), chi.URLParam(r, "filename")); err != nil {
		s.handleDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DocumentStatus handles GET /v1/documents/{filename}/status.
func (s *Server) DocumentStatus(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	snap, ok := s.ingestion.Status(ownerFrom(r.Context()), filename)
	if !ok {
		writeError(w, http.StatusNotFound, codeNotFound, "no indexing session for "+filename)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// DeleteDocument handles DELETE /v1/documents/{filename}?hard=true|false.
// Deletion is soft unless hard=true.
func (s *Server) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	hard := false
	if v := r.URL.Query().Get("hard"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeBadRequest, "hard must be true or false")
			return
		}
		hard = b
	}

	n, err := s.ingestion.Delete(r.Context(), ownerFrom(r.Context()), chi.URLParam(r, "filename"), hard)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": n, "hard": hard})
}

// handleIndexError reports a pipeline failure with the stage recorded by
// the document's state machine.
func (s *Server) handleIndexError(w http.ResponseWriter, req ingestion.Request, err error) {
	var ve *domain.ValidationError
	if errors.As(err, &ve) || errors.Is(err, domain.ErrIndexingInProgress) || errors.Is(err, domain.ErrNotFound) {
		s.handleDomainError(w, err)
		return
	}

	snap, ok := s.ingestion.Status(req.OwnerID, req.Filename)
	if !ok || snap.Session.Error == nil {
		s.handleDomainError(w, err)
		return
	}

	e := snap.Session.Error
	status := http.StatusInternalServerError
	var sv *domain.StateValidationError
	switch {
	case errors.As(err, &sv):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrEmbeddingProviderError), errors.Is(err, domain.ErrVectorDimMismatch):
		status = http.StatusBadGateway
	case errors.Is(err, domain.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrInvalidTransition):
		status = http.StatusConflict
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("indexing failed", zap.Error(err), zap.String("stage", e.Stage))
	}
	writeJSON(w, status, errorResponse{
		Code:      e.Code,
		Message:   e.Message,
		Stage:     e.Stage,
		Retryable: &e.Retryable,
	})
}

func toIngestionRequest(owner, filename string, body documentRequest) ingestion.Request {
	ft, ok := domain.ParseFileType(body.FileType)
	if !ok {
		// let the state machine reject it at the upload boundary
		ft = domain.FileType(strings.ToLower(strings.TrimSpace(body.FileType)))
	}
	return ingestion.Request{
		Filename: filename,
		Content:  body.Content,
		FileType: ft,
		OwnerID:  owner,
		FileSize: body.FileSize,
		Pages:    body.Pages,
	}
}
