// Package indexing tracks the ingestion lifecycle of one document as an
// explicit finite-state machine with validated stage boundaries.
package indexing

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kailas-cloud/ragindex/internal/domain"
)

// State is a lifecycle state of a document.
type State string

// Lifecycle states. Ready is terminal; Error is terminal until RETRY or RESET.
const (
	Idle      State = "idle"
	Uploading State = "uploading"
	Parsing   State = "parsing"
	Chunking  State = "chunking"
	Embedding State = "embedding"
	Indexing  State = "indexing"
	Ready     State = "ready"
	Error     State = "error"
)

// Active reports whether s is a working stage that may fail.
func (s State) Active() bool {
	switch s {
	case Uploading, Parsing, Chunking, Embedding, Indexing:
		return true
	}
	return false
}

// Event drives a transition.
type Event string

// Events accepted by the machine.
const (
	EventStartUpload       Event = "START_UPLOAD"
	EventUploadComplete    Event = "UPLOAD_COMPLETE"
	EventParsingComplete   Event = "PARSING_COMPLETE"
	EventChunkingComplete  Event = "CHUNKING_COMPLETE"
	EventEmbeddingComplete Event = "EMBEDDING_COMPLETE"
	EventIndexingComplete  Event = "INDEXING_COMPLETE"
	EventError             Event = "ERROR"
	EventRetry             Event = "RETRY"
	EventReset             Event = "RESET"
)

type transitionKey struct {
	from  State
	event Event
}

var transitions = map[transitionKey]State{
	{Idle, EventStartUpload}:            Uploading,
	{Uploading, EventUploadComplete}:    Parsing,
	{Parsing, EventParsingComplete}:     Chunking,
	{Chunking, EventChunkingComplete}:   Embedding,
	{Embedding, EventEmbeddingComplete}: Indexing,
	{Indexing, EventIndexingComplete}:   Ready,

	{Uploading, EventError}: Error,
	{Parsing, EventError}:   Error,
	{Chunking, EventError}:  Error,
	{Embedding, EventError}: Error,
	{Indexing, EventError}:  Error,

	{Error, EventRetry}: Uploading,
	{Error, EventReset}: Idle,
	{Ready, EventReset}: Idle,
}

// Next returns the target of (from, event) and whether the transition exists.
func Next(from State, event Event) (State, bool) {
	to, ok := transitions[transitionKey{from, event}]
	return to, ok
}

// Progress counts what the pipeline produced so far.
type Progress struct {
	Chunks           int   `json:"chunks,omitempty"`
	Pages            int   `json:"pages,omitempty"`
	ProcessingTimeMs int64 `json:"processingTimeMs,omitempty"`
}

// Session is the context carried through the lifecycle of one document.
type Session struct {
	Filename string            `json:"filename"`
	FileSize int64             `json:"fileSize"`
	FileType domain.FileType   `json:"fileType"`
	Progress Progress          `json:"progress"`
	Error    *domain.ErrorInfo `json:"error,omitempty"`
}

// Snapshot is a consistent copy of the machine.
type Snapshot struct {
	State     State     `json:"state"`
	Session   Session   `json:"session"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Transition describes a state change delivered to listeners.
type Transition struct {
	From  State
	To    State
	Event Event
	// Session is the session after the transition.
	Session Session
}

// Listener observes transitions. Listeners run after the machine lock is released.
type Listener func(Transition)

// Option configures a Machine.
type Option func(*Machine)

// WithListener registers l for every transition.
func WithListener(l Listener) Option {
	return func(m *Machine) { m.listeners = append(m.listeners, l) }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// Machine is the state machine of one document. It is safe for concurrent use.
type Machine struct {
	mu        sync.Mutex
	state     State
	session   Session
	startedAt time.Time
	updatedAt time.Time
	listeners []Listener
	now       func() time.Time
}

// NewMachine returns a machine in Idle.
func NewMachine(opts ...Option) *Machine {
	m := &Machine{state: Idle, now: time.Now}
	for _, o := range opts {
		o(m)
	}
	m.updatedAt = m.now()
	return m
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Snapshot returns a copy of the state and session.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Machine) snapshotLocked() Snapshot {
	s := m.session
	if s.Error != nil {
		e := *s.Error
		s.Error = &e
	}
	return Snapshot{State: m.state, Session: s, UpdatedAt: m.updatedAt}
}

// Fire applies event without any stage validation. It fails with
// *domain.InvalidTransitionError, leaving the state unchanged, when the
// transition is not in the table or its guard rejects it.
func (m *Machine) Fire(event Event) error {
	return m.apply(event, nil)
}

// StartUpload begins a session and validates the upload. A rejected upload
// moves the machine to Error with a non-retryable cause.
func (m *Machine) StartUpload(filename string, fileSize int64, fileType domain.FileType) error {
	err := m.apply(EventStartUpload, func(s *Session) {
		*s = Session{Filename: filename, FileSize: fileSize, FileType: fileType}
		m.startedAt = m.now()
	})
	if err != nil {
		return err
	}
	if verr := validateUpload(fileSize, fileType); verr != nil {
		return m.failValidation(verr)
	}
	return nil
}

// Retry leaves Error for Uploading when the recorded error is retryable.
func (m *Machine) Retry() error {
	return m.apply(EventRetry, func(s *Session) {
		s.Error = nil
		s.Progress = Progress{}
		m.startedAt = m.now()
	})
}

// Reset returns a ready or failed machine to Idle and discards the session.
func (m *Machine) Reset() error {
	return m.apply(EventReset, func(s *Session) { *s = Session{} })
}

// CompleteUpload checks the upload boundary and fires UPLOAD_COMPLETE.
func (m *Machine) CompleteUpload() error {
	return m.advance(EventUploadComplete, func(s *Session) *domain.StateValidationError {
		return validateUpload(s.FileSize, s.FileType)
	}, nil)
}

// CompleteParsing checks the extracted content length (in characters) and
// fires PARSING_COMPLETE. pages is recorded when positive.
func (m *Machine) CompleteParsing(contentLength, pages int) error {
	return m.advance(EventParsingComplete, func(*Session) *domain.StateValidationError {
		return validateParsing(contentLength)
	}, func(s *Session) {
		if pages > 0 {
			s.Progress.Pages = pages
		}
	})
}

// CompleteChunking checks the chunk count and fires CHUNKING_COMPLETE.
func (m *Machine) CompleteChunking(chunks int) error {
	return m.advance(EventChunkingComplete, func(*Session) *domain.StateValidationError {
		return validateChunking(chunks)
	}, func(s *Session) { s.Progress.Chunks = chunks })
}

// CompleteEmbedding fires EMBEDDING_COMPLETE.
func (m *Machine) CompleteEmbedding() error {
	return m.apply(EventEmbeddingComplete, nil)
}

// CompleteIndexing fires INDEXING_COMPLETE and records the total processing time.
func (m *Machine) CompleteIndexing() error {
	return m.apply(EventIndexingComplete, func(s *Session) {
		s.Progress.ProcessingTimeMs = m.now().Sub(m.startedAt).Milliseconds()
	})
}

// Fail records err against the current stage and fires ERROR.
// Retryability follows domain.IsRetryable.
func (m *Machine) Fail(err error) error {
	return m.apply(EventError, func(s *Session) {
		s.Error = m.errorInfo(err)
	})
}

// failValidation fires ERROR for a boundary violation and returns the violation.
func (m *Machine) failValidation(verr *domain.StateValidationError) error {
	if err := m.Fail(verr); err != nil {
		return err
	}
	return verr
}

// errorInfo must be called with mu held; the stage is the state being left.
func (m *Machine) errorInfo(err error) *domain.ErrorInfo {
	stage := string(m.state)
	var sv *domain.StateValidationError
	if errors.As(err, &sv) && sv.Stage != "" {
		stage = sv.Stage
	}
	return &domain.ErrorInfo{
		Stage:     stage,
		Message:   err.Error(),
		Code:      domain.ErrorCode(err),
		Timestamp: m.now(),
		Retryable: domain.IsRetryable(err),
	}
}

// apply performs one transition. mutate runs under the lock, after the
// transition is accepted and before listeners are notified.
func (m *Machine) apply(event Event, mutate func(*Session)) error {
	return m.advance(event, nil, mutate)
}

// advance is apply with a boundary check. The table lookup comes first, so an
// event that is not allowed from the current state is rejected untouched; only
// an allowed event whose check fails turns into ERROR, returning the violation.
func (m *Machine) advance(event Event, check func(*Session) *domain.StateValidationError, mutate func(*Session)) error {
	m.mu.Lock()
	from := m.state
	to, ok := Next(from, event)
	if ok && event == EventRetry && (m.session.Error == nil || !m.session.Error.Retryable) {
		ok = false
	}
	if !ok {
		m.mu.Unlock()
		return &domain.InvalidTransitionError{From: string(from), Event: string(event)}
	}

	var result error
	if check != nil {
		if verr := check(&m.session); verr != nil {
			errTo, canFail := Next(from, EventError)
			if !canFail {
				m.mu.Unlock()
				return &domain.InvalidTransitionError{From: string(from), Event: string(EventError)}
			}
			event, to, result = EventError, errTo, verr
			mutate = func(s *Session) { s.Error = m.errorInfo(verr) }
		}
	}

	if mutate != nil {
		mutate(&m.session)
	}
	m.state = to
	m.updatedAt = m.now()
	tr := Transition{From: from, To: to, Event: event, Session: m.snapshotLocked().Session}
	listeners := m.listeners
	m.mu.Unlock()

	for _, l := range listeners {
		l(tr)
	}
	return result
}

// String implements fmt.Stringer for log fields.
func (t Transition) String() string {
	return fmt.Sprintf("%s --%s--> %s", t.From, t.Event, t.To)
}
