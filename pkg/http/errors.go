package http

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/BradenHooton/bulwark/internal/models"
)

// ErrorResponse represents a standard API error response
type ErrorResponse struct {
	Error      string `json:"error"`                 // Machine-readable error code
	Message    string `json:"message"`               // Human-readable message
	Details    string `json:"details,omitempty"`     // Optional additional context
	RetryAfter int    `json:"retry_after,omitempty"` // Seconds, set on 429 responses
}

// WriteJSON writes v as a JSON body with the given status code
func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes a JSON error response with the given status code
func WriteError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	WriteErrorWithDetails(w, statusCode, errorCode, message, "")
}

// WriteErrorWithDetails writes a JSON error response with additional details
func WriteErrorWithDetails(w http.ResponseWriter, statusCode int, errorCode, message, details string) {
	WriteJSON(w, statusCode, ErrorResponse{
		Error:   errorCode,
		Message: message,
		Details: details,
	})
}

// Common error writers for consistency
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, "bad_request", message)
}

func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, "unauthorized", message)
}

func WriteForbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, "forbidden", message)
}

func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, "not_found", message)
}

func WriteConflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, "conflict", message)
}

func WriteRequestTooLarge(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusRequestEntityTooLarge, "payload_too_large", message)
}

func WriteUnsupportedMediaType(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnsupportedMediaType, "unsupported_media_type", message)
}

func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusTooManyRequests, "rate_limit_exceeded", message)
}

func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, "internal_error", message)
}

// RetryAfterSeconds rounds a retry hint up to whole seconds, minimum 1
func RetryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 1
	}
	return int(math.Ceil(d.Seconds()))
}

// SetRateLimitHeaders publishes the X-RateLimit-* headers for a rate-limit derived decision
func SetRateLimitHeaders(w http.ResponseWriter, d models.Decision) {
	if d.Limit <= 0 {
		return
	}
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	if !d.ResetAt.IsZero() {
		h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	}
}

// WriteDenial renders a deny decision as 429 with a Retry-After header.
// Account lockouts and rate limits share the status code.
func WriteDenial(w http.ResponseWriter, d models.Decision) {
	SetRateLimitHeaders(w, d)
	retry := RetryAfterSeconds(d.RetryAfter)
	w.Header().Set("Retry-After", strconv.Itoa(retry))

	resp := ErrorResponse{
		Error:      "rate_limit_exceeded",
		Message:    "Too many requests, please try again later",
		RetryAfter: retry,
	}
	if d.Reason == models.DenyReasonAccountLocked {
		resp.Error = "account_locked"
		resp.Message = "Too many failed attempts, please try again later"
	}
	WriteJSON(w, http.StatusTooManyRequests, resp)
}

// WriteDenialError renders err with WriteDenial when it wraps a *models.DenialError.
// It reports false and writes nothing otherwise.
func WriteDenialError(w http.ResponseWriter, err error) bool {
	var denial *models.DenialError
	if !errors.As(err, &denial) {
		return false
	}
	WriteDenial(w, models.Deny(denial.Reason, denial.RetryAfter))
	return true
}
