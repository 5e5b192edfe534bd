package auth

import (
	"errors"
	"fmt"
)

// maxBodyExcerpt bounds how much of a token endpoint response ends up in errors
const maxBodyExcerpt = 512

// AuthenticationError reports a failure to obtain or use a bearer token.
// It is fatal for the whole run.
type AuthenticationError struct {
	// StatusCode is the token endpoint (or API) status; 0 when no response was received
	StatusCode int
	// Body is an excerpt of the response body
	Body string
	// Message describes the failure when there is no response
	Message string
	Err     error
}

// Error implements the error interface
func (e *AuthenticationError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("authentication failed: HTTP %d: %s", e.StatusCode, e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("authentication failed: HTTP %d", e.StatusCode)
	case e.Message != "":
		return fmt.Sprintf("authentication failed: %s", e.Message)
	case e.Err != nil:
		return fmt.Sprintf("authentication failed: %v", e.Err)
	}
	return "authentication failed"
}

// Unwrap returns the underlying error
func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// IsAuthenticationError reports whether err is or wraps an AuthenticationError
func IsAuthenticationError(err error) bool {
	var authErr *AuthenticationError
	return errors.As(err, &authErr)
}

// Excerpt truncates a response body for diagnostics
func Excerpt(body []byte) string {
	if len(body) <= maxBodyExcerpt {
		return string(body)
	}
	return string(body[:maxBodyExcerpt]) + "...(truncated)"
}
