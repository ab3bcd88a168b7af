package sessionsdk

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAPIClientLogin(t *testing.T) {
	t.Parallel()

	t.Run("decodes the envelope", func(t *testing.T) {
		t.Parallel()

		var got LoginRequest
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, PathLogin, r.URL.Path)
			require.Equal(t, "application/json", r.Header.Get("Content-Type"))
			require.Empty(t, r.Header.Get("Authorization"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			loginOK("T1", "R1", "S1")(w, r)
		}))
		defer srv.Close()

		resp, err := NewAPIClient(srv.URL + "/").Login(t.Context(), "a@b.com", "x")
		require.NoError(t, err)
		require.Equal(t, LoginRequest{Email: "a@b.com", Password: "x"}, got)
		require.Equal(t, "T1", resp.Token)
		require.Equal(t, "R1", resp.RefreshToken)
		require.Equal(t, "S1", resp.SessionID)
		require.Equal(t, "student", resp.User.Role)
	})

	t.Run("non-2xx is an APIError", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(failWith(http.StatusUnauthorized, "Invalid email or password"))
		defer srv.Close()

		_, err := NewAPIClient(srv.URL).Login(t.Context(), "a@b.com", "x")
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
		require.Equal(t, "Invalid email or password", apiErr.Message)
	})

	t.Run("non-json error body", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "upstream gone", http.StatusBadGateway)
		}))
		defer srv.Close()

		_, err := NewAPIClient(srv.URL).Login(t.Context(), "a@b.com", "x")
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
		require.Contains(t, apiErr.Error(), "Bad Gateway")
	})

	t.Run("missing token", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeEnvelope(w, http.StatusOK, true, map[string]any{"user": map[string]any{"id": "u-1"}})
		}))
		defer srv.Close()

		_, err := NewAPIClient(srv.URL).Login(t.Context(), "a@b.com", "x")
		require.ErrorContains(t, err, "missing token")
	})

	t.Run("missing data", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeEnvelope(w, http.StatusOK, true, nil)
		}))
		defer srv.Close()

		_, err := NewAPIClient(srv.URL).Login(t.Context(), "a@b.com", "x")
		require.ErrorContains(t, err, "missing data")
	})
}

func TestAPIClientRefresh(t *testing.T) {
	t.Parallel()

	var got RefreshRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, PathRefresh, r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		refreshOK("T2", "R2")(w, r)
	}))
	defer srv.Close()

	client := NewAPIClient(srv.URL)

	resp, err := client.Refresh(t.Context(), "R1")
	require.NoError(t, err)
	require.Equal(t, RefreshRequest{RefreshToken: "R1", Platform: "web"}, got)
	require.Equal(t, "T2", resp.Token)
	require.Equal(t, "R2", resp.RefreshToken)

	_, err = client.Refresh(t.Context(), "")
	require.ErrorIs(t, err, ErrNoRefreshToken)
}

func TestAPIClientPings(t *testing.T) {
	t.Parallel()

	t.Run("heartbeat carries bearer and session id", func(t *testing.T) {
		t.Parallel()

		b := newFakeBackend(t)
		require.NoError(t, b.client().Heartbeat(t.Context(), "T1", "S1"))

		b.mu.Lock()
		defer b.mu.Unlock()
		require.Equal(t, "Bearer T1", b.lastAuth)
		require.Equal(t, "S1", b.lastPing.SessionID)
	})

	t.Run("heartbeat failure", func(t *testing.T) {
		t.Parallel()

		b := newFakeBackend(t)
		b.set(&b.heartbeat, failWith(http.StatusServiceUnavailable, ""))

		err := b.client().Heartbeat(t.Context(), "T1", "S1")
		require.ErrorIs(t, err, ErrHeartbeatFailed)
		require.Equal(t, http.StatusServiceUnavailable, statusOf(err))
	})

	t.Run("end-session without token", func(t *testing.T) {
		t.Parallel()

		b := newFakeBackend(t)
		require.NoError(t, b.client().EndSession(t.Context(), "", "S1"))

		b.mu.Lock()
		defer b.mu.Unlock()
		require.Empty(t, b.lastAuth)
	})

	t.Run("end-session failure", func(t *testing.T) {
		t.Parallel()

		b := newFakeBackend(t)
		b.set(&b.endSession, failWith(http.StatusInternalServerError, "down"))

		err := b.client().EndSession(t.Context(), "T1", "S1")
		require.ErrorIs(t, err, ErrEndSessionFailed)
	})
}

func TestAPIClientBeacon(t *testing.T) {
	t.Parallel()

	t.Run("delivered after the caller returns", func(t *testing.T) {
		t.Parallel()

		b := newFakeBackend(t)
		client := b.client()

		client.Beacon("T1", "S1")
		require.True(t, client.DrainBeacons(time.Second))
		require.EqualValues(t, 1, b.endSessions.Load())
	})

	t.Run("skipped without a session id", func(t *testing.T) {
		t.Parallel()

		b := newFakeBackend(t)
		client := b.client()

		client.Beacon("T1", "")
		require.True(t, client.DrainBeacons(time.Second))
		require.Zero(t, b.endSessions.Load())
	})

	t.Run("bounded by its own timeout", func(t *testing.T) {
		t.Parallel()

		b := newFakeBackend(t)
		release := make(chan struct{})
		t.Cleanup(func() { close(release) })
		b.set(&b.endSession, func(w http.ResponseWriter, r *http.Request) {
			<-release
		})

		client := b.client()
		client.BeaconTimeout = 30 * time.Millisecond

		client.Beacon("T1", "S1")
		require.False(t, client.DrainBeacons(5*time.Millisecond))
		require.True(t, client.DrainBeacons(time.Second))
	})
}
