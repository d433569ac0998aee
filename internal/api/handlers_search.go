package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"conclave/internal/api/response"
	"conclave/internal/search"
)

// handleSearch runs a ranked lexical query over the project's index.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "id")
	if _, err := s.store.GetProject(r.Context(), projectID); err != nil {
		response.WriteMappedError(w, err)
		return
	}

	var req search.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteError(w, http.StatusBadRequest, response.ErrorCodeBadRequest,
			"invalid request body", err.Error())
		return
	}
	req.ProjectID = projectID

	resp, err := s.search.Search(r.Context(), &req)
	if err != nil {
		response.WriteMappedError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, resp)
}

// handleReindex rebuilds the index for every not-yet-indexed file of a
// project.
func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	result, err := s.indexer.ReindexProject(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.WriteMappedError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, result)
}

// handleHealth reports liveness, uptime and the stored conversation count.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	count, err := s.store.ConversationCount(r.Context())
	if err != nil {
		response.WriteError(w, http.StatusServiceUnavailable, response.ErrorCodeInternalError,
			"store unavailable", err.Error())
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
		"conversations":  count,
	})
}
