package chi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragindex/internal/logger"
	"github.com/kailas-cloud/ragindex/internal/telemetry"
)

type createSessionRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Query     string `json:"query"`
}

type updateStepRequest struct {
	Status telemetry.StepStatus `json:"status"`
	Data   json.RawMessage      `json:"data,omitempty"`
	Error  string               `json:"error,omitempty"`
}

type completeSessionRequest struct {
	Citations []telemetry.Citation `json:"citations,omitempty"`
	Error     string               `json:"error,omitempty"`
}

var stepStatuses = []telemetry.StepStatus{
	telemetry.StepPending,
	telemetry.StepInProgress,
	telemetry.StepCompleted,
	telemetry.StepError,
}

// CreateSession handles POST /v1/telemetry/sessions.
func (s *Server) CreateSession(w http.ResponseWriter, r *http.Request) {
	var body createSessionRequest
	if !s.decode(w, r, &body) {
		return
	}
	owner := ownerFrom(r.Context())
	if body.SessionID != "" {
		if existing, ok := s.telemetry.Session(body.SessionID); ok && existing.UserID != owner {
			writeError(w, http.StatusConflict, codeBadRequest, "session id already in use")
			return
		}
	}
	writeJSON(w, http.StatusCreated, s.telemetry.CreateSession(body.SessionID, owner, body.Query))
}

// GetSession handles GET /v1/telemetry/sessions/{id}.
func (s *Server) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.ownedSession(ownerFrom(r.Context()), chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, codeSessionMissing, "telemetry session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// UpdateStep handles POST /v1/telemetry/sessions/{id}/steps/{step}.
// Steps run outside this service, e.g. response generation, report here.
func (s *Server) UpdateStep(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.ownedSession(ownerFrom(r.Context()), id); !ok {
		writeError(w, http.StatusNotFound, codeSessionMissing, "telemetry session not found")
		return
	}
	step := telemetry.StepName(chi.URLParam(r, "step"))
	if !slices.Contains(telemetry.Steps, step) {
		writeError(w, http.StatusBadRequest, codeValidation, fmt.Sprintf("unknown step %q", step))
		return
	}

	var body updateStepRequest
	if !s.decode(w, r, &body) {
		return
	}
	if !slices.Contains(stepStatuses, body.Status) {
		writeError(w, http.StatusBadRequest, codeValidation, fmt.Sprintf("unknown step status %q", body.Status))
		return
	}

	var data any
	if len(body.Data) > 0 {
		data = body.Data
	}
	if err := s.telemetry.UpdateStep(id, step, body.Status, data, body.Error); err != nil {
		s.handleDomainError(w, err)
		return
	}
	sess, _ := s.telemetry.Session(id)
	writeJSON(w, http.StatusOK, sess)
}

// CompleteSession handles POST /v1/telemetry/sessions/{id}/complete.
// A non-empty error marks the session failed instead.
func (s *Server) CompleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.ownedSession(ownerFrom(r.Context()), id); !ok {
		writeError(w, http.StatusNotFound, codeSessionMissing, "telemetry session not found")
		return
	}

	var body completeSessionRequest
	if !s.decode(w, r, &body) {
		return
	}

	var err error
	if body.Error != "" {
		err = s.telemetry.ErrorSession(id, body.Error)
	} else {
		err = s.telemetry.CompleteSession(id, body.Citations)
	}
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	sess, _ := s.telemetry.Session(id)
	writeJSON(w, http.StatusOK, sess)
}

// Stream handles GET /v1/telemetry/stream as server-sent events carrying
// the caller's session events until the client disconnects.
func (s *Server) Stream(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	log := logger.FromContext(r.Context())

	// the stream outlives the server write timeout
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	events := make(chan telemetry.Event, s.cfg.StreamBuffer)
	unsubscribe := s.telemetry.Subscribe(ownerFrom(r.Context()), func(ev telemetry.Event) {
		select {
		case events <- ev:
		default:
			log.Debug("SSE client too slow, event dropped", zap.String("type", string(ev.Type)))
		}
	})
	defer unsubscribe()

	if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		log.Warn("Streaming not supported", zap.Error(err))
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-events:
			if err := writeEvent(w, ev); err != nil {
				log.Debug("SSE write failed", zap.Error(err))
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, ev telemetry.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}

func (s *Server) ownedSession(owner, id string) (telemetry.Session, bool) {
	sess, ok := s.telemetry.Session(id)
	if !ok || sess.UserID != owner {
		return telemetry.Session{}, false
	}
	return sess, true
}
