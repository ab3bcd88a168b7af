package sessionsdk

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// ============================================================================
// Fake Backend
// ============================================================================

// fakeBackend serves the four session endpoints and counts calls. Handlers
// can be swapped per test; the defaults succeed.
type fakeBackend struct {
	srv *httptest.Server

	mu         sync.Mutex
	login      http.HandlerFunc
	refresh    http.HandlerFunc
	heartbeat  http.HandlerFunc
	endSession http.HandlerFunc

	logins      atomic.Int32
	refreshes   atomic.Int32
	heartbeats  atomic.Int32
	endSessions atomic.Int32

	lastRefresh RefreshRequest
	lastPing    sessionPing
	lastAuth    string
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()

	b := &fakeBackend{
		login:      loginOK("T1", "R1", "S1"),
		refresh:    refreshOK("T2", ""),
		heartbeat:  noContent,
		endSession: noContent,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+PathLogin, func(w http.ResponseWriter, r *http.Request) {
		b.logins.Add(1)
		b.handler(&b.login)(w, r)
	})
	mux.HandleFunc("POST "+PathRefresh, func(w http.ResponseWriter, r *http.Request) {
		b.refreshes.Add(1)
		var req RefreshRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		b.mu.Lock()
		b.lastRefresh = req
		b.mu.Unlock()
		b.handler(&b.refresh)(w, r)
	})
	mux.HandleFunc("POST "+PathHeartbeat, func(w http.ResponseWriter, r *http.Request) {
		b.heartbeats.Add(1)
		b.record(r)
		b.handler(&b.heartbeat)(w, r)
	})
	mux.HandleFunc("POST "+PathEndSession, func(w http.ResponseWriter, r *http.Request) {
		b.endSessions.Add(1)
		b.record(r)
		b.handler(&b.endSession)(w, r)
	})

	b.srv = httptest.NewServer(mux)
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBackend) handler(h *http.HandlerFunc) http.HandlerFunc {
	b.mu.Lock()
	defer b.mu.Unlock()
	return *h
}

func (b *fakeBackend) set(h *http.HandlerFunc, fn http.HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	*h = fn
}

func (b *fakeBackend) record(r *http.Request) {
	var ping sessionPing
	_ = json.NewDecoder(r.Body).Decode(&ping)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastPing = ping
	b.lastAuth = r.Header.Get("Authorization")
}

func (b *fakeBackend) client() *APIClient {
	return NewAPIClient(b.srv.URL)
}

func writeEnvelope(w http.ResponseWriter, status int, success bool, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	env := map[string]any{"success": success}
	if data != nil {
		env["data"] = data
	}
	_ = json.NewEncoder(w).Encode(env)
}

func loginOK(token, refreshToken, sessionID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, true, LoginResponse{
			Token:        token,
			RefreshToken: refreshToken,
			SessionID:    sessionID,
			User: User{
				ID:        "u-1",
				FirstName: "Ada",
				LastName:  "Lovelace",
				Email:     "a@b.com",
				Role:      "student",
			},
		})
	}
}

func refreshOK(token, refreshToken string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, true, RefreshResponse{Token: token, RefreshToken: refreshToken})
	}
}

func failWith(status int, message string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "message": message})
	}
}

func noContent(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// ============================================================================
// Clock and Manager
// ============================================================================

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// endings records every OnLogout call.
type endings struct {
	mu      sync.Mutex
	reasons []Reason
}

func (e *endings) record(r Reason) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reasons = append(e.reasons, r)
}

func (e *endings) list() []Reason {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Reason(nil), e.reasons...)
}

type countingCache struct {
	purges atomic.Int32
}

func (c *countingCache) Purge() { c.purges.Add(1) }

type harness struct {
	backend *fakeBackend
	kv      *MemoryKV
	store   *Store
	mgr     *Manager
	ended   *endings
}

// newHarness builds a Manager against a fake backend. opts.OnLogout and
// opts.Now are filled in when unset; a nil clock means real time.
func newHarness(t *testing.T, clock *fakeClock, opts Options) *harness {
	t.Helper()

	h := &harness{
		backend: newFakeBackend(t),
		kv:      NewMemoryKV(),
		ended:   &endings{},
	}

	var storeOpts []StoreOption
	if clock != nil {
		storeOpts = append(storeOpts, WithStoreClock(clock.Now))
		if opts.Now == nil {
			opts.Now = clock.Now
		}
	}
	h.store = NewStore(h.kv, storeOpts...)

	if opts.OnLogout == nil {
		opts.OnLogout = h.ended.record
	}

	h.mgr = NewManager(h.backend.client(), h.store, opts)
	t.Cleanup(func() {
		h.mgr.mu.Lock()
		h.mgr.stopLocked()
		h.mgr.mu.Unlock()
	})
	return h
}

func (h *harness) login(t *testing.T) {
	t.Helper()
	require.NoError(t, h.mgr.Login(t.Context(), "a@b.com", "x"))
}

func (h *harness) record(t *testing.T) *Record {
	t.Helper()
	rec, err := h.store.Load(t.Context())
	require.NoError(t, err)
	return rec
}
