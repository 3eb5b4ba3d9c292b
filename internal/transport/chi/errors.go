package chi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragindex/internal/domain"
	"github.com/kailas-cloud/ragindex/internal/telemetry"
)

// Error codes that are not derived from domain.ErrorCode.
const (
	codeBadRequest     = "bad_request"
	codeUnauthorized   = "unauthorized"
	codeNotFound       = "not_found"
	codeValidation     = "validation_failed"
	codeInternal       = "internal_error"
	codeSessionMissing = "session_not_found"
)

type errorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Field     string `json:"field,omitempty"`
	Stage     string `json:"stage,omitempty"`
	Retryable *bool  `json:"retryable,omitempty"`
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error) bool

func defaultErrorHandlers() []errorHandler {
	return []errorHandler{
		validationHandler,
		stateValidationHandler,
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, codeNotFound),
		sentinelHandler(telemetry.ErrSessionNotFound, http.StatusNotFound, codeSessionMissing),
		sentinelHandler(domain.ErrIndexingInProgress, http.StatusConflict, domain.ErrorCode(domain.ErrIndexingInProgress)),
		sentinelHandler(domain.ErrInvalidTransition, http.StatusConflict, domain.ErrorCode(domain.ErrInvalidTransition)),
		sentinelHandler(domain.ErrEmbeddingProviderError,
			http.StatusBadGateway, domain.ErrorCode(domain.ErrEmbeddingProviderError)),
		sentinelHandler(domain.ErrVectorDimMismatch, http.StatusBadGateway, domain.ErrorCode(domain.ErrVectorDimMismatch)),
		sentinelHandler(domain.ErrStoreUnavailable,
			http.StatusServiceUnavailable, domain.ErrorCode(domain.ErrStoreUnavailable)),
	}
}

func validationHandler(w http.ResponseWriter, err error) bool {
	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		return false
	}
	code := ve.Code
	if code == "" {
		code = codeValidation
	}
	writeJSON(w, http.StatusBadRequest, errorResponse{Code: code, Message: ve.Message, Field: ve.Field})
	return true
}

func stateValidationHandler(w http.ResponseWriter, err error) bool {
	var sv *domain.StateValidationError
	if !errors.As(err, &sv) {
		return false
	}
	retryable := sv.Retryable
	writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
		Code:      sv.Code,
		Message:   sv.Message,
		Stage:     sv.Stage,
		Retryable: &retryable,
	})
	return true
}

func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		retryable := domain.IsRetryable(err)
		writeJSON(w, status, errorResponse{Code: code, Message: sentinel.Error(), Retryable: &retryable})
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	for _, h := range s.errorHandlers {
		if h(w, err) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}
