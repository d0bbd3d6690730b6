package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/sternforth/vantage/internal/models"
)

// apiError is the wire form of every error response:
// {status:"error", error_code?, message}.
type apiError struct {
	Status  string           `json:"status"`
	Code    models.ErrorCode `json:"error_code,omitempty"`
	Message string           `json:"message"`

	httpStatus int
}

func (e *apiError) Error() string { return e.Message }

// GetStatus implements huma.StatusError so handlers can return an apiError
// directly.
func (e *apiError) GetStatus() int { return e.httpStatus }

// ContentType implements huma.ContentTypeFilter; error bodies are plain
// application/json, not problem+json.
func (e *apiError) ContentType(string) string { return "application/json" }

// newAPIError builds an error response for a known error code.
func newAPIError(code models.ErrorCode, message string) *apiError {
	return &apiError{
		Status:     "error",
		Code:       code,
		Message:    message,
		httpStatus: code.HTTPStatus(),
	}
}

// plainAPIError builds an error response with no machine-readable code.
func plainAPIError(status int, message string) *apiError {
	return &apiError{Status: "error", Message: message, httpStatus: status}
}

// translateError maps adapter and proxy error kinds onto wire errors. When
// debug is false, internal failures collapse to a generic message so adapter
// internals never leak to clients.
func translateError(err error, debug bool) *apiError {
	if apiErr := (*apiError)(nil); errors.As(err, &apiErr) {
		return apiErr
	}
	if code, ok := models.CodeForError(err); ok {
		return newAPIError(code, err.Error())
	}

	switch {
	case errors.Is(err, models.ErrNotAvailable):
		return plainAPIError(http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrGeofenced):
		return plainAPIError(http.StatusForbidden, err.Error())
	}

	var svcErr *models.ServiceError
	if errors.As(err, &svcErr) && !debug {
		return plainAPIError(http.StatusInternalServerError, "service operation failed")
	}
	if debug {
		return plainAPIError(http.StatusInternalServerError, err.Error())
	}
	return plainAPIError(http.StatusInternalServerError, "internal server error")
}

// writeError writes a wire error outside of huma handlers (middleware).
func writeError(w http.ResponseWriter, status int, code models.ErrorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiError{Status: "error", Code: code, Message: message})
}

// configureErrorModel makes huma's own errors (validation, routing) use the
// same wire shape as handler errors.
func configureErrorModel() {
	huma.NewError = func(status int, message string, _ ...error) huma.StatusError {
		if message == "" {
			message = http.StatusText(status)
		}
		return &apiError{Status: "error", Message: message, httpStatus: status}
	}
}
