package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"conclave/internal/api/response"
	"conclave/internal/filestore"
	"conclave/internal/store"
	"conclave/pkg/types"
)

// defaultListLimit applies when a listing request omits limit.
const defaultListLimit = 50

// handleUploadFile validates, stores and upserts a file, then schedules
// background indexing.
func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "id")

	var req struct {
		Path     string         `json:"path"`
		Content  string         `json:"content"`
		Metadata map[string]any `json:"metadata,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteError(w, http.StatusBadRequest, response.ErrorCodeBadRequest,
			"invalid request body", err.Error())
		return
	}
	if int64(len(req.Content)) > s.config.Storage.MaxUploadBytes {
		response.WriteError(w, http.StatusRequestEntityTooLarge, response.ErrorCodePayloadTooLarge,
			"file exceeds upload size cap")
		return
	}

	path, err := filestore.ValidatePath(req.Path)
	if err != nil {
		response.WriteMappedError(w, err)
		return
	}

	put, err := s.files.Put([]byte(req.Content))
	if err != nil {
		response.WriteMappedError(w, err)
		return
	}

	file := &types.ProjectFile{
		ProjectID:       projectID,
		Path:            path,
		Content:         put.InlineText,
		ContentLocation: put.Location,
		ContentHash:     put.Hash,
		MimeType:        filestore.DetectMime(path),
		SizeBytes:       put.Size,
		Metadata:        req.Metadata,
	}
	prevLocation, err := s.store.UpsertFile(r.Context(), file)
	if err != nil {
		// The freshly written blob is orphaned; remove it.
		if cleanupErr := s.files.Delete(put.Location); cleanupErr != nil {
			s.logger.Warn("failed to clean up orphaned blob", "error", cleanupErr.Error())
		}
		response.WriteMappedError(w, err)
		return
	}
	if prevLocation != "" && prevLocation != file.ContentLocation {
		if err := s.files.Delete(prevLocation); err != nil {
			s.logger.Warn("failed to delete displaced blob",
				"location", prevLocation, "error", err.Error())
		}
	}

	s.indexFileAsync(file.ID)

	response.WriteJSON(w, http.StatusCreated, map[string]any{
		"id":           file.ID,
		"path":         file.Path,
		"size_bytes":   file.SizeBytes,
		"content_hash": file.ContentHash,
		"created_at":   file.CreatedAt,
	})
}

// handleListFiles returns a page of a project's files without content
// bodies.
func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "id")
	if _, err := s.store.GetProject(r.Context(), projectID); err != nil {
		response.WriteMappedError(w, err)
		return
	}

	limit := queryInt(r, "limit", defaultListLimit)
	offset := queryInt(r, "offset", 0)
	filter := r.URL.Query().Get("filter")

	files, total, err := s.store.ListFiles(r.Context(), projectID, limit, offset, filter)
	if err != nil {
		response.WriteMappedError(w, err)
		return
	}
	for _, file := range files {
		file.Content = ""
	}
	response.WriteJSON(w, http.StatusOK, map[string]any{
		"files":  files,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// handleGetFile returns one file with its content resolved, disk-backed or
// not.
func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	file, err := s.projectFile(r)
	if err != nil {
		response.WriteMappedError(w, err)
		return
	}

	if file.ContentLocation != "" {
		content, err := s.files.Get("", file.ContentLocation)
		if err != nil {
			response.WriteMappedError(w, err)
			return
		}
		file.Content = string(content)
	}
	response.WriteJSON(w, http.StatusOK, file)
}

// handleDeleteFile removes the row (cascading chunks and index entries)
// and unlinks any disk blob.
func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	file, err := s.projectFile(r)
	if err != nil {
		response.WriteMappedError(w, err)
		return
	}

	location, err := s.store.DeleteFile(r.Context(), file.ID)
	if err != nil {
		response.WriteMappedError(w, err)
		return
	}
	if err := s.files.Delete(location); err != nil {
		s.logger.Warn("failed to delete blob", "location", location, "error", err.Error())
	}
	w.WriteHeader(http.StatusNoContent)
}

// projectFile loads the addressed file and verifies project ownership.
func (s *Server) projectFile(r *http.Request) (*types.ProjectFile, error) {
	file, err := s.store.GetFile(r.Context(), chi.URLParam(r, "file_id"))
	if err != nil {
		return nil, err
	}
	if file.ProjectID != chi.URLParam(r, "id") {
		return nil, err404(file.ID)
	}
	return file, nil
}

// indexFileAsync schedules background indexing after an upsert.
func (s *Server) indexFileAsync(fileID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := s.indexer.IndexFile(ctx, fileID); err != nil {
			s.logger.Warn("file indexing failed", "file_id", fileID, "error", err.Error())
		}
	}()
}

// err404 hides files addressed through the wrong project.
func err404(fileID string) error {
	return fmt.Errorf("file %s: %w", fileID, store.ErrNotFound)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}
