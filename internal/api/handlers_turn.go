package api

import (
	"encoding/json"
	"net/http"

	"conclave/internal/api/response"
	"conclave/internal/orchestrator"
)

// handleTurn runs one turn. With Accept: text/event-stream the reply is an
// SSE stream of init/result/done frames; otherwise a single aggregate JSON
// response.
func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteError(w, http.StatusBadRequest, response.ErrorCodeBadRequest,
			"invalid request body", err.Error())
		return
	}

	if !acceptsSSE(r) {
		resp, err := s.orchestrator.Turn(r.Context(), &req, nil)
		if err != nil {
			response.WriteMappedError(w, err)
			return
		}
		response.WriteJSON(w, http.StatusOK, resp)
		return
	}

	sse, ok := newSSEWriter(w)
	if !ok {
		response.WriteError(w, http.StatusInternalServerError, response.ErrorCodeInternalError,
			"response writer does not support streaming")
		return
	}
	sink := func(event *orchestrator.Event) { sse.send(event) }
	if _, err := s.orchestrator.Turn(r.Context(), &req, sink); err != nil {
		// Headers are long gone; the failure rides the stream instead.
		sse.send(map[string]any{"type": "error", "error": err.Error()})
	}
}

// handlePreviewView returns the exact view a target would receive, without
// calling any adapter.
func (s *Server) handlePreviewView(w http.ResponseWriter, r *http.Request) {
	var req struct {
		orchestrator.TurnRequest
		Provider string `json:"provider"`
		ModelID  string `json:"model_id"`
		AgentID  string `json:"agent_id,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteError(w, http.StatusBadRequest, response.ErrorCodeBadRequest,
			"invalid request body", err.Error())
		return
	}
	if req.Provider == "" {
		response.WriteError(w, http.StatusBadRequest, response.ErrorCodeBadRequest,
			"provider is required")
		return
	}

	view, err := s.orchestrator.PreviewView(r.Context(), &req.TurnRequest,
		req.Provider, req.ModelID, req.AgentID)
	if err != nil {
		response.WriteMappedError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, view)
}
