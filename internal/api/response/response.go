// Package response writes the JSON envelope every endpoint returns.
package response

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/kiranshivaraju/shopmind/internal/apperr"
)

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data"`
}

type collectionEnvelope struct {
	Success bool           `json:"success"`
	Data    any            `json:"data"`
	Meta    PaginationMeta `json:"meta"`
}

type errorEnvelope struct {
	Success bool     `json:"success"`
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Errors  []string `json:"errors,omitempty"`
}

type PaginationMeta struct {
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	Total   int  `json:"total"`
	HasNext bool `json:"has_next"`
}

// NewMeta computes has_next from the page window.
func NewMeta(page, limit, total int) PaginationMeta {
	return PaginationMeta{Page: page, Limit: limit, Total: total, HasNext: page*limit < total}
}

func JSON(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

// Message is JSON with a human-readable summary line.
func Message(w http.ResponseWriter, message string, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: message, Data: data})
}

func Created(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusCreated, envelope{Success: true, Data: data})
}

func Collection(w http.ResponseWriter, data any, meta PaginationMeta) {
	writeJSON(w, http.StatusOK, collectionEnvelope{Success: true, Data: data, Meta: meta})
}

func Error(w http.ResponseWriter, status int, code, message string, errs []string) {
	writeJSON(w, status, errorEnvelope{
		Code:    code,
		Message: message,
		Errors:  errs,
	})
}

// FromError maps err onto its status and code. Only the public rendering of
// the error reaches the client; untyped errors are logged and hidden.
func FromError(w http.ResponseWriter, r *http.Request, err error) {
	e, ok := apperr.As(err)
	if !ok {
		slog.Error("unhandled error", "method", r.Method, "path", r.URL.Path, "error", err)
		Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
		return
	}

	status := Status(e.Kind)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "kind", e.Kind, "error", err)
	}
	if !e.ResetAt.IsZero() {
		secs := int(time.Until(e.ResetAt).Seconds()) + 1
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}

	msg := apperr.Public(err)
	var details []string
	if e.Kind == apperr.KindValidation && len(e.Details) > 0 {
		msg = e.Message
		details = e.Details
	}
	Error(w, status, apperr.CodeOf(err), msg, details)
}

// Status returns the HTTP status for an error kind.
func Status(k apperr.Kind) int {
	switch k {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindTransport, apperr.KindProvider:
		return http.StatusBadGateway
	case apperr.KindParse:
		return http.StatusUnprocessableEntity
	case apperr.KindCircuitOpen:
		return http.StatusServiceUnavailable
	case apperr.KindRateLimit:
		return http.StatusTooManyRequests
	case apperr.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
