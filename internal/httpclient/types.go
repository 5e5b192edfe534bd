package httpclient

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a non-2xx response
type Kind int

const (
	// KindFatal is a 4xx that fails the record but not the batch
	KindFatal Kind = iota
	// KindNotFound is a 404, the negative existence signal
	KindNotFound
	// KindUnauthorized is a 401 that survived one token refresh
	KindUnauthorized
	// KindRetryable is a 429 or 5xx
	KindRetryable
)

// String returns the kind name
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	case KindRetryable:
		return "retryable"
	default:
		return "fatal"
	}
}

// classify maps a status code to a Kind; 2xx callers never reach it
func classify(status int) Kind {
	switch {
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusUnauthorized:
		return KindUnauthorized
	case status == http.StatusTooManyRequests, status >= 500:
		return KindRetryable
	default:
		return KindFatal
	}
}

// HTTPError represents a non-2xx response from the OIC API
type HTTPError struct {
	StatusCode int
	Method     string
	URL        string
	// Message is a truncated response body
	Message string
	Kind    Kind
}

// Error returns the error message
func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d for %s %s: %s", e.StatusCode, e.Method, e.URL, e.Message)
}

// NewHTTPError creates a new HTTP error classified by status code
func NewHTTPError(statusCode int, method, url, message string) error {
	return &HTTPError{
		StatusCode: statusCode,
		Method:     method,
		URL:        url,
		Message:    message,
		Kind:       classify(statusCode),
	}
}

// ConnectionError is a transport failure: refused connection, reset, or timeout
type ConnectionError struct {
	Method  string
	URL     string
	Timeout bool
	Err     error
}

// Error returns the error message
func (e *ConnectionError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("timeout calling %s %s: %v", e.Method, e.URL, e.Err)
	}
	return fmt.Sprintf("connection error calling %s %s: %v", e.Method, e.URL, e.Err)
}

// Unwrap returns the underlying error
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is a 404 response
func IsNotFound(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.Kind == KindNotFound
}

// IsRetryable reports whether err may succeed when sent again
func IsRetryable(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Kind == KindRetryable
	}
	var connErr *ConnectionError
	return errors.As(err, &connErr)
}

// StatusCode returns the HTTP status carried by err, or 0
func StatusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}
