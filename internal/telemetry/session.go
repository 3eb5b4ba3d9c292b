package telemetry

import (
	"errors"
	"time"
)

// ErrSessionNotFound is returned for unknown or expired session ids.
var ErrSessionNotFound = errors.New("telemetry session not found")

// Status is the lifecycle status of a session.
type Status string

// Session statuses.
const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// StepName identifies a pipeline step.
type StepName string

// Pipeline steps of one query.
const (
	StepQueryEmbedding     StepName = "query_embedding"
	StepDocumentRetrieval  StepName = "document_retrieval"
	StepContextAssembly    StepName = "context_assembly"
	StepResponseGeneration StepName = "response_generation"
)

// Steps lists the steps in pipeline order.
var Steps = []StepName{StepQueryEmbedding, StepDocumentRetrieval, StepContextAssembly, StepResponseGeneration}

// StepStatus is the status of a single step.
type StepStatus string

// Step statuses.
const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepError      StepStatus = "error"
)

func (s StepStatus) terminal() bool { return s == StepCompleted || s == StepError }

// Step is the progress record of one pipeline step.
type Step struct {
	Status     StepStatus `json:"status"`
	StartTime  *time.Time `json:"startTime,omitempty"`
	EndTime    *time.Time `json:"endTime,omitempty"`
	DurationMs *int64     `json:"duration,omitempty"`
	Data       any        `json:"data,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Citation is a source reported with a completed session.
type Citation struct {
	Index          int     `json:"index"`
	Source         string  `json:"source"`
	CitationID     string  `json:"citationId"`
	RelevanceScore float64 `json:"relevanceScore"`
	Page           *int    `json:"page,omitempty"`
}

// Session is the in-memory record of one query's pipeline progress.
type Session struct {
	ID              string            `json:"sessionId"`
	UserID          string            `json:"userId"`
	Query           string            `json:"query"`
	Timestamp       time.Time         `json:"timestamp"`
	Status          Status            `json:"status"`
	Steps           map[StepName]Step `json:"steps"`
	TotalDurationMs *int64            `json:"totalDuration,omitempty"`
	Citations       []Citation        `json:"citations"`
}

func newSession(id, userID, query string, now time.Time) *Session {
	steps := make(map[StepName]Step, len(Steps))
	for _, name := range Steps {
		steps[name] = Step{Status: StepPending}
	}
	return &Session{
		ID:        id,
		UserID:    userID,
		Query:     query,
		Timestamp: now,
		Status:    StatusActive,
		Steps:     steps,
		Citations: []Citation{},
	}
}

func (s *Session) clone() Session {
	c := *s
	c.Steps = make(map[StepName]Step, len(s.Steps))
	for k, v := range s.Steps {
		c.Steps[k] = v
	}
	c.Citations = append([]Citation(nil), s.Citations...)
	return c
}

// EventType names a stream event.
type EventType string

// Stream event types.
const (
	EventSessionStart    EventType = "session_start"
	EventStepStart       EventType = "step_start"
	EventStepUpdate      EventType = "step_update"
	EventStepComplete    EventType = "step_complete"
	EventStepError       EventType = "step_error"
	EventSessionComplete EventType = "session_complete"
	EventSessionError    EventType = "session_error"
	EventKeepAlive       EventType = "keepalive"
)

// Event is delivered to subscribers.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId,omitempty"`
	StepID    StepName  `json:"stepId,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Handler consumes events of one subscription.
type Handler func(Event)
