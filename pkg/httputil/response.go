// Package httputil provides HTTP handler utilities for consistent error
// handling, JSON encoding/decoding, and request parsing.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cloudrounds/rounds/pkg/apperrors"
)

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteErrorMessage writes a JSON error response with a custom message
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// WriteAppError maps a service error onto the wire using the apperrors
// taxonomy. Unrecognized errors become 500s with a generic message so
// internals never leak.
func WriteAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperrors.ErrValidation):
		WriteErrorMessage(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, apperrors.ErrUnauthenticated):
		WriteErrorMessage(w, http.StatusUnauthorized, "unauthenticated")
	case errors.Is(err, apperrors.ErrForbidden):
		WriteErrorMessage(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, apperrors.ErrNotFound):
		WriteErrorMessage(w, http.StatusNotFound, err.Error())
	case errors.Is(err, apperrors.ErrInvalidState), errors.Is(err, apperrors.ErrConflict):
		WriteErrorMessage(w, http.StatusConflict, err.Error())
	case errors.Is(err, apperrors.ErrDependency):
		w.Header().Set("Retry-After", "1")
		WriteErrorMessage(w, http.StatusServiceUnavailable, "temporary backend failure, retry")
	default:
		WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
	}
}

// WriteCreated writes a successful creation response (201 Created) with JSON data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteNoContent writes a successful response with no content (204 No Content)
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// WriteBadRequest writes a bad request error (400)
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusBadRequest, message)
}

// WriteUnauthorized writes an unauthorized error (401)
func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusUnauthorized, message)
}

// WriteForbidden writes a forbidden error (403)
func WriteForbidden(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusForbidden, message)
}

// WriteInternalError writes an internal server error response (500)
func WriteInternalError(w http.ResponseWriter, err error) {
	WriteErrorMessage(w, http.StatusInternalServerError, err.Error())
}
