package sessionsdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ============================================================================
// Sentinel Errors
// ============================================================================

var (
	// ErrInvalidCredentials is matched (errors.Is) by every login rejection
	// with HTTP 401 or 403.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrNoRefreshToken is returned when a refresh is attempted on a session
	// that was issued without a refresh token.
	ErrNoRefreshToken = errors.New("no refresh token available")

	// ErrNoSession is returned by operations that need a stored session.
	ErrNoSession = errors.New("no active session")

	// ErrLoginThrottled is returned when the client-side login limiter
	// rejects an attempt before any request is made.
	ErrLoginThrottled = errors.New("too many login attempts, try again shortly")

	// ErrHeartbeatFailed and ErrEndSessionFailed wrap advisory telemetry
	// failures. They are logged, never surfaced to a caller.
	ErrHeartbeatFailed  = errors.New("heartbeat failed")
	ErrEndSessionFailed = errors.New("end-session failed")
)

// ============================================================================
// Typed Errors
// ============================================================================

// InvalidCredentialsError is returned by Login on HTTP 401/403.
type InvalidCredentialsError struct {
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *InvalidCredentialsError) Error() string {
	if e.Message == "" {
		return ErrInvalidCredentials.Error()
	}
	return fmt.Sprintf("%s: %s", ErrInvalidCredentials.Error(), e.Message)
}

// Is lets errors.Is(err, ErrInvalidCredentials) match.
func (e *InvalidCredentialsError) Is(target error) bool {
	return target == ErrInvalidCredentials
}

// NetworkOrServerError is returned by Login for any failure that is not a
// credential rejection. StatusCode is 0 when no response was received.
type NetworkOrServerError struct {
	StatusCode int
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *NetworkOrServerError) Error() string {
	switch {
	case e.StatusCode == 0 && e.Err != nil:
		return fmt.Sprintf("network error: %v", e.Err)
	case e.Message != "":
		return fmt.Sprintf("server error (HTTP %d): %s", e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("server error (HTTP %d): %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
}

// Unwrap returns the underlying cause.
func (e *NetworkOrServerError) Unwrap() error { return e.Err }

// RefreshError describes a failed token refresh. A refresh failure is fatal
// to the session: by the time a caller sees one, the session has been
// terminated.
type RefreshError struct {
	StatusCode int
	Err        error
}

// Error implements the error interface.
func (e *RefreshError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("token refresh failed (HTTP %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("token refresh failed: %v", e.Err)
}

// Unwrap returns the underlying cause.
func (e *RefreshError) Unwrap() error { return e.Err }

// Permanent reports whether retrying the refresh cannot help: the refresh
// token is missing or the server rejected it outright.
func (e *RefreshError) Permanent() bool {
	if errors.Is(e.Err, ErrNoRefreshToken) {
		return true
	}
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// ============================================================================
// API Error
// ============================================================================

// APIError is a non-2xx (or success:false) answer from the backend. The
// APIClient returns it and the Manager maps it onto the taxonomy above.
type APIError struct {
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// parseErrorResponse builds an APIError from a failed response body.
// Returns nil if the status is 2xx.
func parseErrorResponse(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err == nil {
		msg := env.Message
		if msg == "" {
			msg = env.Error
		}
		return &APIError{StatusCode: statusCode, Message: msg}
	}

	return &APIError{StatusCode: statusCode}
}

// statusOf extracts the HTTP status from an APIError chain, 0 otherwise.
func statusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
