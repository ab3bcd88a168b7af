package sessionsdk

import (
	"context"

	"github.com/aussiebroadwan/studyhall/pkg/slogx"
)

// startHeartbeatLocked starts the liveness ticker if the host is visible and
// rec carries a session id and token. When fireNow is set one ping goes out
// immediately, as when the host becomes visible again. Caller holds mu.
func (m *Manager) startHeartbeatLocked(rec Record, fireNow bool) {
	m.stopHeartbeatLocked()
	if !m.visible || rec.SessionID == "" || rec.AccessToken == "" {
		return
	}

	epoch := m.epoch
	m.pulse = startTicker(m.timing.HeartbeatInterval, func() {
		m.beat(epoch)
	})

	if fireNow {
		m.sendHeartbeat(rec)
	}
}

// stopHeartbeatLocked stops the liveness ticker. A ping already in flight is
// left to finish. Caller holds mu.
func (m *Manager) stopHeartbeatLocked() {
	m.pulse.stop()
	m.pulse = nil
}

// beat is the heartbeat tick for epoch.
func (m *Manager) beat(epoch uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running || !m.visible || m.epoch != epoch {
		return
	}

	rec, err := m.store.Load(context.Background())
	if err != nil {
		m.logger.Error("failed to load session", "error", err)
		return
	}
	if rec == nil {
		return
	}
	m.sendHeartbeat(*rec)
}

// sendHeartbeat dispatches one ping for rec unless one is still in flight.
// The ping runs on its own goroutine, bounded only by the API client's
// timeout. Failures are logged and never affect the session.
func (m *Manager) sendHeartbeat(rec Record) {
	if rec.SessionID == "" || rec.AccessToken == "" {
		return
	}
	if !m.heartbeatBusy.CompareAndSwap(false, true) {
		m.logger.Debug("heartbeat still in flight, skipping tick")
		return
	}

	go func() {
		defer m.heartbeatBusy.Store(false)

		err := m.api.Heartbeat(m.sessionContext(context.Background(), rec.SessionID), rec.AccessToken, rec.SessionID)
		m.metrics.heartbeat(err)
		if err != nil {
			m.logger.Warn("heartbeat failed", "session_id", rec.SessionID, "error", err)
		}
	}()
}

// sessionContext attaches the manager logger, tagged with sessionID, to ctx
// so the HTTP transport logs the request against the session.
func (m *Manager) sessionContext(ctx context.Context, sessionID string) context.Context {
	return slogx.WithSessionID(slogx.WithContext(ctx, m.logger), sessionID)
}
