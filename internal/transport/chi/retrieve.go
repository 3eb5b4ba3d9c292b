package chi

import (
	"net/http"
	"strings"

	"github.com/kailas-cloud/ragindex/internal/domain"
	"github.com/kailas-cloud/ragindex/internal/usecase/retrieval"
)

const maxRetrieveDocs = 50

type retrieveRequest struct {
	Query     string   `json:"query"`
	MaxDocs   int      `json:"max_docs,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`
	Expand    bool     `json:"expand,omitempty"`
	SessionID string   `json:"session_id,omitempty"`
	// Track opens a telemetry session when SessionID is empty.
	Track bool `json:"track,omitempty"`
}

type retrieveResponse struct {
	SessionID string                   `json:"session_id,omitempty"`
	Results   []domain.RetrievalResult `json:"results"`
	Citations []retrieval.Citation     `json:"citations"`
	Context   string                   `json:"context"`
}

// Retrieve handles POST /v1/retrieve.
func (s *Server) Retrieve(w http.ResponseWriter, r *http.Request) {
	var body retrieveRequest
	if !s.decode(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.Query) == "" {
		writeError(w, http.StatusBadRequest, codeValidation, "query is required")
		return
	}
	if body.MaxDocs < 0 || body.MaxDocs > maxRetrieveDocs {
		writeError(w, http.StatusBadRequest, codeValidation, "max_docs must be between 1 and 50")
		return
	}
	if t := body.Threshold; t != nil && (*t < 0 || *t > 1) {
		writeError(w, http.StatusBadRequest, codeValidation, "threshold must be between 0 and 1")
		return
	}

	owner := ownerFrom(r.Context())
	sessionID := body.SessionID
	switch {
	case sessionID != "":
		if _, ok := s.ownedSession(owner, sessionID); !ok {
			writeError(w, http.StatusNotFound, codeSessionMissing, "telemetry session not found")
			return
		}
	case body.Track:
		sessionID = s.telemetry.CreateSession("", owner, body.Query).ID
	}

	results, err := s.retrieval.Retrieve(r.Context(), body.Query, owner, retrieval.Options{
		MaxDocs:   body.MaxDocs,
		Threshold: body.Threshold,
		Expand:    body.Expand,
		SessionID: sessionID,
	})
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	payload := s.retrieval.Assemble(sessionID, results)
	if payload.Citations == nil {
		payload.Citations = []retrieval.Citation{}
	}
	if results == nil {
		results = []domain.RetrievalResult{}
	}
	writeJSON(w, http.StatusOK, retrieveResponse{
		SessionID: sessionID,
		Results:   results,
		Citations: payload.Citations,
		Context:   payload.Context,
	})
}
