// Package response provides standardized HTTP response structures and
// error mapping for the API layer.
package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"conclave/internal/ai"
	"conclave/internal/filestore"
	"conclave/internal/orchestrator"
	"conclave/internal/store"
)

// ErrorCode represents standardized error codes for the API.
type ErrorCode string

const (
	ErrorCodeBadRequest      ErrorCode = "BAD_REQUEST"
	ErrorCodeNotFound        ErrorCode = "NOT_FOUND"
	ErrorCodeConflict        ErrorCode = "CONFLICT"
	ErrorCodePayloadTooLarge ErrorCode = "PAYLOAD_TOO_LARGE"
	ErrorCodeInternalError   ErrorCode = "INTERNAL_ERROR"
)

// ErrorResponse is the standardized error envelope.
type ErrorResponse struct {
	Error     ErrorDetails `json:"error"`
	Timestamp string       `json:"timestamp"`
	RequestID string       `json:"request_id,omitempty"`
}

// ErrorDetails contains detailed error information.
type ErrorDetails struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// WriteError writes a standardized error response.
func WriteError(w http.ResponseWriter, statusCode int, code ErrorCode, message string, details ...string) {
	errorDetails := ErrorDetails{Code: code, Message: message}
	if len(details) > 0 {
		errorDetails.Details = details[0]
	}
	WriteJSON(w, statusCode, ErrorResponse{
		Error:     errorDetails,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RequestID: w.Header().Get("X-Request-ID"),
	})
}

// WriteMappedError translates domain errors into the HTTP taxonomy.
func WriteMappedError(w http.ResponseWriter, err error) {
	var pathErr *filestore.PathError
	var adapterErr *ai.AdapterError
	switch {
	case errors.Is(err, store.ErrNotFound):
		WriteError(w, http.StatusNotFound, ErrorCodeNotFound, err.Error())
	case errors.Is(err, store.ErrConflict):
		WriteError(w, http.StatusConflict, ErrorCodeConflict, err.Error())
	case errors.Is(err, orchestrator.ErrValidation):
		WriteError(w, http.StatusBadRequest, ErrorCodeBadRequest, err.Error())
	case errors.As(err, &pathErr):
		WriteError(w, http.StatusBadRequest, ErrorCodeBadRequest, pathErr.Error())
	case errors.As(err, &adapterErr):
		// Adapter failures are per-agent payloads; reaching here means a
		// non-turn endpoint tripped one.
		WriteError(w, http.StatusBadGateway, ErrorCodeInternalError, adapterErr.Error())
	default:
		WriteError(w, http.StatusInternalServerError, ErrorCodeInternalError,
			"internal server error")
	}
}
