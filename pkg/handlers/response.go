// Package handlers exposes the HTTP surface and is the single point
// where internal errors become response envelopes.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/barockok/kalla-engine/pkg/apperrors"
	"github.com/barockok/kalla-engine/pkg/llm"
)

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// ErrorResponse writes a JSON error envelope.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteError maps an internal error onto the HTTP taxonomy. Every
// handler funnels its failures through here.
func WriteError(w http.ResponseWriter, err error) error {
	switch {
	case errors.Is(err, apperrors.ErrValidation):
		return ErrorResponse(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, apperrors.ErrNotFound):
		return ErrorResponse(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, apperrors.ErrUpstream):
		return ErrorResponse(w, http.StatusBadGateway, "upstream_unavailable", err.Error())
	case llm.IsModelOutputError(err):
		return ErrorResponse(w, http.StatusBadGateway, "model_output_invalid", err.Error())
	default:
		return ErrorResponse(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}
