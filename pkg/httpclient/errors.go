package httpclient

import (
	"errors"
	"fmt"
)

// Common errors returned by the client.
var (
	ErrMaxRetries      = errors.New("max retries exceeded")
	ErrClientClosed    = errors.New("client is closed")
	ErrImmutableConfig = errors.New("backend, proxy and impersonation options cannot be changed on a live client")
)

// NetworkError wraps any transport-level failure (DNS, socket, TLS, timeout)
// so that backend-specific error types never escape the facade.
type NetworkError struct {
	Op    string
	Cause error
}

func (e *NetworkError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("network error during %s", e.Op)
	}
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Cause)
}

func (e *NetworkError) Unwrap() error { return e.Cause }

// NetworkHTTPError is a NetworkError variant carrying the HTTP status that
// exhausted the retry budget.
type NetworkHTTPError struct {
	Status int
	URL    string
}

func (e *NetworkHTTPError) Error() string {
	return fmt.Sprintf("http status %d from %s", e.Status, e.URL)
}

// IsNetworkError reports whether err is a transport failure raised by the facade.
func IsNetworkError(err error) bool {
	var ne *NetworkError
	var he *NetworkHTTPError
	return errors.As(err, &ne) || errors.As(err, &he)
}
