package sessionsdk

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aussiebroadwan/studyhall/pkg/slogx"
)

// Backend endpoints.
const (
	PathLogin      = "/auth/login"
	PathRefresh    = "/auth/refresh"
	PathHeartbeat  = "/analytics/heartbeat"
	PathEndSession = "/analytics/end-session"
)

// DefaultPlatform is sent with every refresh request.
const DefaultPlatform = "web"

// APIClient talks to the learning platform backend. It is stateless with
// respect to credentials: every call receives the token it should use.
type APIClient struct {
	BaseURL    string
	HTTPClient *http.Client

	// Platform is reported to the refresh endpoint. Default: "web"
	Platform string

	// BeaconTimeout bounds a fire-and-forget Beacon. Default: 5s
	BeaconTimeout time.Duration

	Logger *slog.Logger

	beacons sync.WaitGroup
}

// NewAPIClient creates a new backend client with a 10 second request timeout.
func NewAPIClient(baseURL string) *APIClient {
	return &APIClient{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		Platform:      DefaultPlatform,
		BeaconTimeout: 5 * time.Second,
		Logger:        slogx.Discard(),
	}
}

// Login exchanges credentials for a token pair and user profile.
func (c *APIClient) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	resp, err := c.doJSON(ctx, PathLogin, "", LoginRequest{Email: email, Password: password})
	if err != nil {
		return nil, err
	}

	var out LoginResponse
	if err := decodeEnvelope(resp, &out); err != nil {
		return nil, err
	}
	if out.Token == "" {
		return nil, fmt.Errorf("failed to decode response: missing token")
	}

	return &out, nil
}

// Refresh exchanges a refresh token for a new access token.
func (c *APIClient) Refresh(ctx context.Context, refreshToken string) (*RefreshResponse, error) {
	if refreshToken == "" {
		return nil, ErrNoRefreshToken
	}

	platform := c.Platform
	if platform == "" {
		platform = DefaultPlatform
	}

	resp, err := c.doJSON(ctx, PathRefresh, "", RefreshRequest{RefreshToken: refreshToken, Platform: platform})
	if err != nil {
		return nil, err
	}

	var out RefreshResponse
	if err := decodeEnvelope(resp, &out); err != nil {
		return nil, err
	}
	if out.Token == "" {
		return nil, fmt.Errorf("failed to decode response: missing token")
	}

	return &out, nil
}

// Heartbeat sends a liveness ping for sessionID. The response body is ignored.
func (c *APIClient) Heartbeat(ctx context.Context, token, sessionID string) error {
	resp, err := c.doJSON(ctx, PathHeartbeat, token, sessionPing{SessionID: sessionID})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrHeartbeatFailed, err)
	}
	if err := checkStatus(resp); err != nil {
		return fmt.Errorf("%w: %w", ErrHeartbeatFailed, err)
	}
	return nil
}

// EndSession tells analytics that sessionID is over. token may be empty.
func (c *APIClient) EndSession(ctx context.Context, token, sessionID string) error {
	resp, err := c.doJSON(ctx, PathEndSession, token, sessionPing{SessionID: sessionID})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEndSessionFailed, err)
	}
	if err := checkStatus(resp); err != nil {
		return fmt.Errorf("%w: %w", ErrEndSessionFailed, err)
	}
	return nil
}

// Beacon dispatches an end-session notification without waiting for it. It
// runs detached from any caller context with its own timeout, so it survives
// the caller returning; the outcome is only logged. Use DrainBeacons to give
// outstanding beacons a chance to complete before the process exits.
func (c *APIClient) Beacon(token, sessionID string) {
	if sessionID == "" {
		return
	}

	timeout := c.BeaconTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	c.beacons.Add(1)
	go func() {
		defer c.beacons.Done()

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := c.EndSession(ctx, token, sessionID); err != nil {
			c.logger().Warn("end-session beacon failed", "session_id", sessionID, "error", err)
			return
		}
		c.logger().Debug("end-session beacon delivered", "session_id", sessionID)
	}()
}

// DrainBeacons waits up to timeout for dispatched beacons. It reports whether
// all of them finished.
func (c *APIClient) DrainBeacons(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		c.beacons.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (c *APIClient) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}
