// Package handlers exposes the engine over HTTP: session CRUD, streaming
// query execution with SSE, gated SQL execution and few-shot curation.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/easysql-ai/easysql-engine/pkg/apperrors"
)

// ErrorResponse writes a JSON error body with the given status code.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// statusFromErr maps application errors onto HTTP status codes.
func statusFromErr(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrConflict),
		errors.Is(err, apperrors.ErrSessionBusy),
		errors.Is(err, apperrors.ErrDuplicateExample):
		return http.StatusConflict
	case errors.Is(err, apperrors.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, apperrors.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
