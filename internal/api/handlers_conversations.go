package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"conclave/internal/api/response"
	"conclave/internal/orchestrator"
)

// handleGetConversation returns the conversation with reconstructed
// rounds.
func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.store.GetConversation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.WriteMappedError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, conv)
}

// handleExportConversation streams the transcript as a download.
func (s *Server) handleExportConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	format := r.URL.Query().Get("format")
	if format == "" {
		format = orchestrator.FormatMarkdown
	}

	conv, err := s.store.GetConversation(r.Context(), id)
	if err != nil {
		response.WriteMappedError(w, err)
		return
	}

	var content []byte
	var contentType string
	switch format {
	case orchestrator.FormatMarkdown:
		content = []byte(orchestrator.MarkdownTranscript(conv))
		contentType = "text/markdown; charset=utf-8"
	case orchestrator.FormatJSON:
		content, err = orchestrator.JSONTranscript(conv)
		if err != nil {
			response.WriteMappedError(w, err)
			return
		}
		contentType = "application/json"
	default:
		response.WriteError(w, http.StatusBadRequest, response.ErrorCodeBadRequest,
			fmt.Sprintf("unknown export format %q", format))
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="conversation-%s.%s"`, conv.ID, format))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content)
}

// handleAutoSave toggles transcript auto-saving; enabling writes one
// transcript immediately.
func (s *Server) handleAutoSave(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Enabled bool   `json:"enabled"`
		Format  string `json:"format,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteError(w, http.StatusBadRequest, response.ErrorCodeBadRequest,
			"invalid request body", err.Error())
		return
	}
	if req.Format != "" && req.Format != orchestrator.FormatMarkdown && req.Format != orchestrator.FormatJSON {
		response.WriteError(w, http.StatusBadRequest, response.ErrorCodeBadRequest,
			fmt.Sprintf("unknown transcript format %q", req.Format))
		return
	}

	// Reject toggles on unknown conversations.
	if _, err := s.store.GetConversation(r.Context(), id); err != nil {
		response.WriteMappedError(w, err)
		return
	}

	s.orchestrator.Registry().SetAutoSave(id, req.Enabled, req.Format)

	result := map[string]any{"enabled": req.Enabled}
	if req.Enabled {
		path, err := s.orchestrator.SaveTranscript(r.Context(), id, req.Format)
		if err != nil {
			response.WriteMappedError(w, err)
			return
		}
		result["path"] = path
	}
	response.WriteJSON(w, http.StatusOK, result)
}
