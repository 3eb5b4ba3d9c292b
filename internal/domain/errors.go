package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrValidation signals bad input shape, size or type.
	ErrValidation = errors.New("validation failed")
	// ErrVectorDimMismatch signals a vector dimension mismatch.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")
	// ErrTransientProvider marks provider failures worth retrying (timeout, 5xx, rate limit).
	ErrTransientProvider = errors.New("transient provider error")
	// ErrPermanentProvider marks provider failures that will not succeed on retry.
	ErrPermanentProvider = errors.New("permanent provider error")
	// ErrEmbeddingProviderError signals an embedding provider failure after retries.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrStoreUnavailable signals the vector store backend is down.
	ErrStoreUnavailable = errors.New("vector store unavailable")
	// ErrInvalidTransition signals a state machine event not allowed in the current state.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrStateValidation signals a stage output that failed its boundary check.
	ErrStateValidation = errors.New("stage validation failed")
	// ErrIndexingInProgress signals a concurrent ingestion of the same document.
	ErrIndexingInProgress = errors.New("indexing already in progress")
)

// ValidationError describes rejected input. Never retryable.
type ValidationError struct {
	Field   string
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrValidation.Error(), e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", ErrValidation.Error(), e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError creates a ValidationError.
func NewValidationError(field, code, message string) error {
	return &ValidationError{Field: field, Code: code, Message: message}
}

// ProviderErrorKind classifies embedding provider failures.
type ProviderErrorKind int

const (
	// ProviderTransient is retryable: timeouts, 5xx, 429, network errors.
	ProviderTransient ProviderErrorKind = iota
	// ProviderPermanent is not retryable: malformed request, auth, bad model.
	ProviderPermanent
)

// ProviderError is the error variant of a provider call, classified at the client boundary.
type ProviderError struct {
	Kind       ProviderErrorKind
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider error %d: %s", e.StatusCode, e.Message)
	}
	return "provider error: " + e.Message
}

// Is matches ErrTransientProvider or ErrPermanentProvider depending on Kind.
func (e *ProviderError) Is(target error) bool {
	switch target {
	case ErrTransientProvider:
		return e.Kind == ProviderTransient
	case ErrPermanentProvider:
		return e.Kind == ProviderPermanent
	}
	return false
}

// EmbeddingProviderError is returned once retries are exhausted or a permanent error occurs.
type EmbeddingProviderError struct {
	Attempts int
	Err      error
}

func (e *EmbeddingProviderError) Error() string {
	return fmt.Sprintf("%s after %d attempt(s): %v", ErrEmbeddingProviderError.Error(), e.Attempts, e.Err)
}

func (e *EmbeddingProviderError) Unwrap() []error { return []error{ErrEmbeddingProviderError, e.Err} }

// StoreUnavailableError wraps a vector store failure that persisted through retries.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrStoreUnavailable.Error(), e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() []error { return []error{ErrStoreUnavailable, e.Err} }

// InvalidTransitionError reports an event fired in a state that has no such transition.
type InvalidTransitionError struct {
	From  string
	Event string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s: %s on %s", ErrInvalidTransition.Error(), e.Event, e.From)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// StateValidationError reports a stage boundary violation.
type StateValidationError struct {
	Stage     string
	Code      string
	Message   string
	Retryable bool
}

func (e *StateValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrStateValidation.Error(), e.Stage, e.Message)
}

func (e *StateValidationError) Unwrap() error { return ErrStateValidation }

// IsRetryable reports whether an error is worth retrying at the pipeline level.
func IsRetryable(err error) bool {
	var sv *StateValidationError
	if errors.As(err, &sv) {
		return sv.Retryable
	}
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrPermanentProvider), errors.Is(err, ErrVectorDimMismatch):
		return false
	case errors.Is(err, ErrTransientProvider),
		errors.Is(err, ErrEmbeddingProviderError),
		errors.Is(err, ErrStoreUnavailable),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return true
	}
	return false
}

// ErrorCode returns a stable machine-readable code for err.
func ErrorCode(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) && ve.Code != "" {
		return ve.Code
	}
	var sv *StateValidationError
	if errors.As(err, &sv) && sv.Code != "" {
		return sv.Code
	}
	switch {
	case errors.Is(err, ErrVectorDimMismatch):
		return "vector_dim_mismatch"
	case errors.Is(err, ErrEmbeddingProviderError), errors.Is(err, ErrTransientProvider),
		errors.Is(err, ErrPermanentProvider):
		return "embedding_provider_error"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrIndexingInProgress):
		return "indexing_in_progress"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}
	return "internal_error"
}

// ErrorInfo is the error record attached to an indexing session.
type ErrorInfo struct {
	Stage     string    `json:"stage"`
	Message   string    `json:"message"`
	Code      string    `json:"code"`
	Timestamp time.Time `json:"timestamp"`
	Retryable bool      `json:"retryable"`
}
