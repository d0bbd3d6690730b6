// Package models defines the domain types shared across the client and the
// remote service server: titles, tracks, chapters, error kinds, and the
// wanted-episode filter.
package models

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode is the machine-readable code carried in API error bodies.
type ErrorCode string

const (
	CodeSessionExpired  ErrorCode = "SESSION_EXPIRED"
	CodeAuthRequired    ErrorCode = "AUTH_REQUIRED"
	CodeInvalidProxy    ErrorCode = "INVALID_PROXY"
	CodeNoAPIKey        ErrorCode = "NO_API_KEY"
	CodePremiumRequired ErrorCode = "PREMIUM_REQUIRED"
	CodeCDMNotAllowed   ErrorCode = "CDM_NOT_ALLOWED"
)

// HTTPStatus maps an error code to its response status.
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case CodeSessionExpired, CodeAuthRequired, CodeNoAPIKey:
		return http.StatusUnauthorized
	case CodeInvalidProxy:
		return http.StatusBadRequest
	case CodePremiumRequired, CodeCDMNotAllowed:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Error kinds raised by service adapters and the remote proxy. Callers match
// with errors.Is; wrapped messages carry the cause.
var (
	ErrAuthRequired    = errors.New("authentication required")
	ErrAuthFailed      = errors.New("authentication failed")
	ErrSessionExpired  = errors.New("session expired")
	ErrNotAvailable    = errors.New("title not available")
	ErrGeofenced       = errors.New("title not reachable from this origin")
	ErrInvalidProxy    = errors.New("proxy must be a fully qualified http(s) URI")
	ErrPremiumRequired = errors.New("premium API key required")
	ErrCDMNotAllowed   = errors.New("CDM not allowed for this API key")
	ErrConnection      = errors.New("connection to remote server failed")
)

// ServiceError wraps an adapter-internal failure. Its message is safe to
// log but must not be surfaced verbatim in API responses.
type ServiceError struct {
	Service string
	Op      string
	Err     error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("service %s: %s: %v", e.Service, e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// CodeForError maps an error kind to its wire code, if it has one.
func CodeForError(err error) (ErrorCode, bool) {
	switch {
	case errors.Is(err, ErrSessionExpired):
		return CodeSessionExpired, true
	case errors.Is(err, ErrAuthRequired), errors.Is(err, ErrAuthFailed):
		return CodeAuthRequired, true
	case errors.Is(err, ErrInvalidProxy):
		return CodeInvalidProxy, true
	case errors.Is(err, ErrPremiumRequired):
		return CodePremiumRequired, true
	case errors.Is(err, ErrCDMNotAllowed):
		return CodeCDMNotAllowed, true
	default:
		return "", false
	}
}
