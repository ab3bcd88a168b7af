package sessionsdk

import (
	"context"
)

// Reason says why a session ended.
type Reason string

const (
	ReasonLogout         Reason = "logout"
	ReasonInactivity     Reason = "inactivity"
	ReasonRefreshFailed  Reason = "refresh_failed"
	ReasonEndedElsewhere Reason = "ended_elsewhere"
)

// Logout ends the current session. It is idempotent: concurrent or repeated
// calls, including one racing a failed refresh, produce a single end-session
// call. Logging out with no session is a no-op.
func (m *Manager) Logout(ctx context.Context) {
	m.terminate(ctx, ReasonLogout, 0)
}

// Teardown is the host-shutdown path. It stops every component and dispatches
// a fire-and-forget end-session beacon, but leaves the persisted record in
// place so Start can resume it.
func (m *Manager) Teardown() {
	m.mu.Lock()
	rec, err := m.store.Load(context.Background())
	m.stopLocked()
	m.epoch++
	m.mu.Unlock()

	if err != nil {
		m.logger.Error("failed to load session at teardown", "error", err)
		return
	}
	if rec == nil {
		return
	}

	m.api.Beacon(rec.AccessToken, rec.SessionID)
	m.logger.Info("session suspended", "session_id", rec.SessionID)
}

// terminate ends the session. A non-zero expectEpoch restricts it to that
// session run; a caller holding a stale epoch does nothing.
func (m *Manager) terminate(ctx context.Context, reason Reason, expectEpoch uint64) {
	m.mu.Lock()
	if expectEpoch != 0 && expectEpoch != m.epoch {
		m.mu.Unlock()
		m.logger.Debug("ignoring termination for stale session", "reason", reason)
		return
	}
	ended := m.endLocked(ctx)
	m.mu.Unlock()

	m.finishEnd(ctx, ended, reason)
}

// endLocked stops every component and clears the store. It returns the record
// that was cleared, or nil if there was none, so exactly one caller goes on
// to finishEnd. Caller holds mu.
func (m *Manager) endLocked(ctx context.Context) *Record {
	m.stopLocked()
	m.epoch++

	rec, err := m.store.Load(ctx)
	if err != nil {
		m.logger.Error("failed to load session", "error", err)
	}
	if err := m.store.Clear(ctx); err != nil {
		m.logger.Error("failed to clear session", "error", err)
	}
	return rec
}

// finishEnd runs the lock-free half of termination for the record endLocked
// cleared: cache purge, the best-effort end-session call and the OnLogout
// hook.
func (m *Manager) finishEnd(ctx context.Context, rec *Record, reason Reason) {
	if rec == nil {
		return
	}

	m.purgeCaches()
	m.metrics.terminated(reason)

	if rec.SessionID != "" && rec.AccessToken != "" {
		callCtx, cancel := context.WithTimeout(m.sessionContext(context.WithoutCancel(ctx), rec.SessionID), m.timing.EndSessionTimeout)
		err := m.api.EndSession(callCtx, rec.AccessToken, rec.SessionID)
		cancel()
		if err != nil {
			m.logger.Warn("end-session failed", "session_id", rec.SessionID, "error", err)
		}
	}

	m.logger.Info("session ended", "reason", reason, "session_id", rec.SessionID)

	if m.onLogout != nil {
		m.onLogout(reason)
	}
}

func (m *Manager) purgeCaches() {
	for _, c := range m.caches {
		c.Purge()
	}
}
