package sessionsdk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/aussiebroadwan/studyhall/pkg/cryptox"
	"github.com/aussiebroadwan/studyhall/pkg/slogx"
)

// API is the slice of the backend the Manager needs. *APIClient implements it.
type API interface {
	Login(ctx context.Context, email, password string) (*LoginResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*RefreshResponse, error)
	Heartbeat(ctx context.Context, token, sessionID string) error
	EndSession(ctx context.Context, token, sessionID string) error
	Beacon(token, sessionID string)
}

// Purger is a session-scoped cache that must be emptied when a session ends.
type Purger interface {
	Purge()
}

// Timing holds every duration the Manager schedules with. Zero fields take the
// defaults from DefaultTiming.
type Timing struct {
	TokenLifetime           time.Duration // assumed access token lifetime (default: 1h)
	RefreshBuffer           time.Duration // refresh this long before expiry (default: 5m)
	InactivityTimeout       time.Duration // idle time before forced logout (default: 1h)
	InactivityCheckInterval time.Duration // periodic persisted re-check (default: 30s)
	HeartbeatInterval       time.Duration // liveness ping period (default: 60s)
	EndSessionTimeout       time.Duration // bound on the end-session call at logout (default: 5s)
	RefreshTimeout          time.Duration // bound on one refresh, retries included (default: 30s)
}

// DefaultTiming returns the production schedule.
func DefaultTiming() Timing {
	return Timing{
		TokenLifetime:           time.Hour,
		RefreshBuffer:           5 * time.Minute,
		InactivityTimeout:       time.Hour,
		InactivityCheckInterval: 30 * time.Second,
		HeartbeatInterval:       60 * time.Second,
		EndSessionTimeout:       5 * time.Second,
		RefreshTimeout:          30 * time.Second,
	}
}

func (t Timing) withDefaults() Timing {
	def := DefaultTiming()
	if t.TokenLifetime <= 0 {
		t.TokenLifetime = def.TokenLifetime
	}
	if t.RefreshBuffer <= 0 {
		t.RefreshBuffer = def.RefreshBuffer
	}
	if t.InactivityTimeout <= 0 {
		t.InactivityTimeout = def.InactivityTimeout
	}
	if t.InactivityCheckInterval <= 0 {
		t.InactivityCheckInterval = def.InactivityCheckInterval
	}
	if t.HeartbeatInterval <= 0 {
		t.HeartbeatInterval = def.HeartbeatInterval
	}
	if t.EndSessionTimeout <= 0 {
		t.EndSessionTimeout = def.EndSessionTimeout
	}
	if t.RefreshTimeout <= 0 {
		t.RefreshTimeout = def.RefreshTimeout
	}
	return t
}

// Options configures a Manager. Every field is optional.
type Options struct {
	Timing  Timing
	Logger  *slog.Logger
	Metrics *Metrics

	// Caches are purged whenever a session ends.
	Caches []Purger

	// LoginLimiter rejects login attempts client-side when exhausted.
	// Nil means unlimited.
	LoginLimiter *rate.Limiter

	// RefreshRetries is how many times a failed refresh is retried (with
	// exponential back-off) before the session is terminated. Rejections
	// (401/403, missing refresh token) are never retried. Default: 0
	RefreshRetries int

	// OnLogout is called after a session ends, outside any lock.
	OnLogout func(Reason)

	// Now overrides time.Now.
	Now func() time.Time
}

// Manager owns the session lifecycle: login, scheduled refresh, inactivity
// logout, heartbeat and termination. It is safe for concurrent use.
//
// All mutable state is guarded by mu, and every read-modify-write of the
// persisted record happens under it, so activity and refresh writers cannot
// lose each other's updates. Network calls never run under mu.
type Manager struct {
	api   API
	store SessionStore

	timing         Timing
	logger         *slog.Logger
	metrics        *Metrics
	caches         []Purger
	loginLimiter   *rate.Limiter
	refreshRetries int
	onLogout       func(Reason)
	now            func() time.Time

	mu sync.Mutex

	// epoch changes every time a session run starts or ends. Timer callbacks
	// capture it when armed and do nothing if it has moved on.
	epoch   uint64
	running bool
	visible bool

	refreshTimer oneShot
	idleTimer    oneShot
	idleCheck    *ticker
	pulse        *ticker

	heartbeatBusy atomic.Bool
	refreshGroup  singleflight.Group
}

// NewManager creates a Manager over api and store. Call Start to resume a
// persisted session.
func NewManager(api API, store SessionStore, opts Options) *Manager {
	m := &Manager{
		api:            api,
		store:          store,
		timing:         opts.Timing.withDefaults(),
		logger:         opts.Logger,
		metrics:        opts.Metrics,
		caches:         opts.Caches,
		loginLimiter:   opts.LoginLimiter,
		refreshRetries: opts.RefreshRetries,
		onLogout:       opts.OnLogout,
		now:            opts.Now,
		visible:        true,
	}
	if m.logger == nil {
		m.logger = slogx.Discard()
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// ============================================================================
// Consumer Surface
// ============================================================================

// IsAuthenticated reports whether a session record exists.
func (m *Manager) IsAuthenticated() bool {
	return m.CurrentToken() != ""
}

// CurrentToken returns the stored access token, or "" when logged out.
func (m *Manager) CurrentToken() string {
	rec := m.snapshot()
	if rec == nil {
		return ""
	}
	return rec.AccessToken
}

// CurrentUserRole returns the stored user's role, or "" when logged out.
func (m *Manager) CurrentUserRole() string {
	rec := m.snapshot()
	if rec == nil {
		return ""
	}
	return rec.User.Role
}

// CurrentUser returns the stored profile.
func (m *Manager) CurrentUser() (User, bool) {
	rec := m.snapshot()
	if rec == nil {
		return User{}, false
	}
	return rec.User, true
}

// Running reports whether the background components are active.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// snapshot reads the record for a single operation. Read failures are
// logged and reported as "no session".
func (m *Manager) snapshot() *Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.store.Load(context.Background())
	if err != nil {
		m.logger.Error("failed to load session", "error", err)
		return nil
	}
	return rec
}

// ============================================================================
// Login Flow
// ============================================================================

// Login exchanges credentials for a session, persists it and starts the
// background components. A session that already exists is replaced.
//
// Credential rejections (HTTP 401/403) match ErrInvalidCredentials; any other
// failure is a *NetworkOrServerError.
func (m *Manager) Login(ctx context.Context, email, password string) error {
	if m.loginLimiter != nil && !m.loginLimiter.Allow() {
		m.metrics.login(ErrLoginThrottled)
		return ErrLoginThrottled
	}

	resp, err := m.api.Login(ctx, email, password)
	if err != nil {
		err = classifyLoginError(err)
		m.metrics.login(err)
		m.logger.Warn("login failed", "error", err)
		return err
	}

	now := m.now()
	rec := Record{
		AccessToken:  resp.Token,
		RefreshToken: resp.RefreshToken,
		User:         resp.User,
		SessionID:    resp.SessionID,
		TokenExpiry:  tokenExpiry(resp.Token, now, m.timing.TokenLifetime),
		LastActivity: now,
	}

	m.mu.Lock()
	if m.running {
		m.stopLocked()
		m.logger.Info("replacing existing session")
	}
	if err := m.store.Save(ctx, rec); err != nil {
		m.mu.Unlock()
		m.metrics.login(err)
		return fmt.Errorf("failed to persist session: %w", err)
	}
	m.startLocked(rec)
	m.mu.Unlock()

	m.metrics.login(nil)
	m.logger.Info("login succeeded",
		"user_id", rec.User.ID,
		"role", rec.User.Role,
		"session_id", rec.SessionID,
		"token_fp", cryptox.ShortFingerprint(rec.AccessToken),
		"token_expiry", rec.TokenExpiry,
	)
	return nil
}

func classifyLoginError(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 401 || apiErr.StatusCode == 403 {
			return &InvalidCredentialsError{StatusCode: apiErr.StatusCode, Message: apiErr.Message}
		}
		return &NetworkOrServerError{StatusCode: apiErr.StatusCode, Message: apiErr.Message, Err: err}
	}
	return &NetworkOrServerError{Err: err}
}

// ============================================================================
// Host Lifecycle
// ============================================================================

// Start resumes a persisted session, as after a reload. A session that has
// been idle past the inactivity timeout is ended instead. Calling Start on a
// running Manager is a no-op.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}

	rec, err := m.store.Load(ctx)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if rec == nil {
		m.mu.Unlock()
		m.logger.Debug("no persisted session")
		return nil
	}

	if rec.Idle(m.now()) >= m.timing.InactivityTimeout {
		ended := m.endLocked(ctx)
		m.mu.Unlock()
		m.finishEnd(ctx, ended, ReasonInactivity)
		return nil
	}

	m.startLocked(*rec)
	m.mu.Unlock()

	m.logger.Info("session resumed",
		"user_id", rec.User.ID,
		"session_id", rec.SessionID,
		"token_expiry", rec.TokenExpiry,
	)
	return nil
}

// Resync reconciles the running components with the persisted record after
// another process changed it: a vanished record stops everything locally
// without contacting the backend, a new record starts the components, and a
// changed record re-arms the timers.
func (m *Manager) Resync(ctx context.Context) error {
	m.mu.Lock()

	rec, err := m.store.Load(ctx)
	if err != nil {
		m.mu.Unlock()
		return err
	}

	switch {
	case rec == nil && m.running:
		m.stopLocked()
		m.epoch++
		m.mu.Unlock()

		m.purgeCaches()
		m.metrics.terminated(ReasonEndedElsewhere)
		m.logger.Info("session ended by another process")
		if m.onLogout != nil {
			m.onLogout(ReasonEndedElsewhere)
		}
		return nil

	case rec != nil && !m.running:
		m.startLocked(*rec)
		m.logger.Info("session started by another process", "session_id", rec.SessionID)

	case rec != nil && m.running:
		m.armRefreshLocked(*rec)
		m.armIdleLocked(*rec)
	}

	m.mu.Unlock()
	return nil
}

// SetVisible tells the Manager whether the host UI is visible. The heartbeat
// is suspended while hidden and fires immediately when shown again.
func (m *Manager) SetVisible(visible bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.visible == visible {
		return
	}
	m.visible = visible

	if !m.running {
		return
	}
	if visible {
		rec, err := m.store.Load(context.Background())
		if err != nil {
			m.logger.Error("failed to load session", "error", err)
			return
		}
		if rec != nil {
			m.startHeartbeatLocked(*rec, true)
		}
		return
	}
	m.stopHeartbeatLocked()
}

// startLocked begins a new session run. Caller holds mu.
func (m *Manager) startLocked(rec Record) {
	m.epoch++
	m.running = true

	m.armRefreshLocked(rec)
	m.armIdleLocked(rec)
	m.startIdleCheckLocked()
	m.startHeartbeatLocked(rec, false)

	m.metrics.setActive(true)
}

// stopLocked stops every timer owned by the Manager. Caller holds mu.
func (m *Manager) stopLocked() {
	m.refreshTimer.stop()
	m.idleTimer.stop()
	m.idleCheck.stop()
	m.idleCheck = nil
	m.stopHeartbeatLocked()
	m.running = false

	m.metrics.setActive(false)
}
