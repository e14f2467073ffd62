package server

import (
	"errors"
	"fmt"
	"net/http"

	designcheck "github.com/anatolykoptev/go-designcheck"
	"github.com/go-chi/render"
)

// Error types
const (
	ErrValidation      = "VALIDATION_ERROR"
	ErrBadRequest      = "BAD_REQUEST"
	ErrUnsupported     = "UNSUPPORTED_FORMAT"
	ErrNotConfigured   = "NOT_CONFIGURED"
	ErrInternalServer  = "INTERNAL_SERVER_ERROR"
	ErrPayloadTooLarge = "PAYLOAD_TOO_LARGE"
)

// AppError is the JSON error body of every failed request.
type AppError struct {
	Type       string `json:"type"`
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s - %s", e.Type, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Render implements render.Renderer.
func (e *AppError) Render(_ http.ResponseWriter, r *http.Request) error {
	e.RequestID = RequestIDFrom(r.Context())
	render.Status(r, e.StatusCode)
	return nil
}

// NewAppError creates a new AppError.
func NewAppError(errorType string, statusCode int, message string, details ...string) *AppError {
	var detail string
	if len(details) > 0 {
		detail = details[0]
	}
	return &AppError{
		Type:       errorType,
		StatusCode: statusCode,
		Message:    message,
		Details:    detail,
	}
}

// fromError maps engine errors onto HTTP errors.
func fromError(err error) *AppError {
	var appErr *AppError
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, designcheck.ErrInvalidThreshold),
		errors.Is(err, designcheck.ErrMalformedFingerprint),
		errors.Is(err, designcheck.ErrAlgorithmMismatch),
		errors.Is(err, designcheck.ErrUnknownFormat):
		return NewAppError(ErrValidation, http.StatusBadRequest, "validation failed", err.Error())
	case errors.Is(err, designcheck.ErrUnsupportedFormat):
		return NewAppError(ErrUnsupported, http.StatusUnprocessableEntity, "format cannot be processed", err.Error())
	case designcheck.IsDecodeError(err):
		return NewAppError(ErrBadRequest, http.StatusUnprocessableEntity, "file could not be decoded", err.Error())
	case errors.Is(err, designcheck.ErrFileTooLarge):
		return NewAppError(ErrPayloadTooLarge, http.StatusRequestEntityTooLarge, "file too large", err.Error())
	}
	return NewAppError(ErrInternalServer, http.StatusInternalServerError, "internal error", err.Error())
}

func sendError(w http.ResponseWriter, r *http.Request, err error) {
	_ = render.Render(w, r, fromError(err))
}
