package tracker

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotConfigured is returned before any request is made when the base URL
// or credentials are missing.
var ErrNotConfigured = errors.New("tracker: base URL, username and API token must be configured")

// ErrNoTransition is returned by TransitionIssue in strict mode when no
// workflow transition leads to the requested status.
var ErrNoTransition = errors.New("tracker: no transition to requested status")

// APIError is a non-2xx response from the tracker.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tracker: %s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// DecodeError means the tracker answered successfully but the body could not
// be parsed into the expected shape.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("tracker: decode %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// StatusCode returns the HTTP status of an *APIError in err's chain, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// IsNotFound reports whether err is a 404 from the tracker.
func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}

// IsUnauthorized reports whether the tracker rejected the credentials.
func IsUnauthorized(err error) bool {
	code := StatusCode(err)
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}

// IsDecode reports whether err is a response decoding failure.
func IsDecode(err error) bool {
	var decErr *DecodeError
	return errors.As(err, &decErr)
}
