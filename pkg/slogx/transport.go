package slogx

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/studyhall/pkg/idx"
)

// RequestIDHeader carries the correlation id of an outbound request.
const RequestIDHeader = "X-Request-ID"

// Transport logs outbound requests and stamps each one with a request id.
// A logger attached to the request context with WithContext takes precedence
// over Logger, so fields such as session_id carry into the request lines.
type Transport struct {
	Base   http.RoundTripper
	Logger *slog.Logger
}

// NewTransport wraps base (http.DefaultTransport when nil).
func NewTransport(base http.RoundTripper, logger *slog.Logger) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{Base: base, Logger: logger}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(r *http.Request) (*http.Response, error) {
	start := time.Now()

	reqID := r.Header.Get(RequestIDHeader)
	if reqID == "" {
		reqID = idx.New().String()
		// RoundTrippers must not mutate the caller's request
		r = r.Clone(r.Context())
		r.Header.Set(RequestIDHeader, reqID)
	}

	logger := loggerFrom(r.Context(), t.Logger).With(
		"req_id", reqID,
		"method", r.Method,
		"path", r.URL.Path,
	)

	resp, err := t.Base.RoundTrip(r)
	duration := time.Since(start).Milliseconds()
	if err != nil {
		logger.Warn("http_client_request_failed", "duration_ms", duration, "error", err)
		return nil, err
	}

	logger.Debug("http_client_request",
		"status", resp.StatusCode,
		"duration_ms", duration,
	)
	return resp, nil
}
