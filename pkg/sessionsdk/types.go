package sessionsdk

import (
	"encoding/json"
	"time"
)

// ============================================================================
// Session Record
// ============================================================================

// User is the profile returned by the identity endpoint. It is immutable for
// the life of a session.
type User struct {
	ID              string    `json:"id"`
	FirstName       string    `json:"firstName"`
	LastName        string    `json:"lastName"`
	Email           string    `json:"email"`
	Role            string    `json:"role"`
	OrganisationID  string    `json:"organisationId,omitempty"`
	ClassAssignment string    `json:"classAssignment,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Record is the single persisted unit holding credentials, profile and the
// timing metadata every background component reads.
type Record struct {
	// AccessToken is the bearer credential used for API calls. Opaque.
	AccessToken string `json:"token"`

	// RefreshToken is exchanged for a new access token. Optional.
	RefreshToken string `json:"refresh_token,omitempty"`

	User User `json:"user"`

	// SessionID correlates heartbeat and end-session calls server-side. Optional.
	SessionID string `json:"session_id,omitempty"`

	// TokenExpiry is the instant after which AccessToken must be treated as invalid.
	TokenExpiry time.Time `json:"tokenExpiry"`

	// LastActivity is the last observed user interaction.
	LastActivity time.Time `json:"lastActivity"`
}

// Idle returns how long the record has gone without activity at now.
func (r Record) Idle(now time.Time) time.Duration {
	return now.Sub(r.LastActivity)
}

// ============================================================================
// Wire Types
// ============================================================================

// envelope is the response shape shared by every backend endpoint.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is the data member of a successful login.
type LoginResponse struct {
	Token        string `json:"token"`
	User         User   `json:"user"`
	SessionID    string `json:"session_id,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// RefreshRequest is the body of POST /auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
	Platform     string `json:"platform"`
}

// RefreshResponse is the data member of a successful refresh. RefreshToken is
// empty when the server did not rotate it.
type RefreshResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// sessionPing is the body of the heartbeat and end-session calls.
type sessionPing struct {
	SessionID string `json:"session_id"`
}
