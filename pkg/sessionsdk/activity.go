package sessionsdk

import (
	"context"
)

// NotifyActivity records user activity: it advances LastActivity in the
// persisted record and pushes the inactivity deadline out. It is a no-op
// when no session is running.
func (m *Manager) NotifyActivity() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	ctx := context.Background()
	rec, err := m.store.Load(ctx)
	if err != nil {
		m.logger.Error("failed to load session", "error", err)
		return
	}
	if rec == nil {
		return
	}

	now := m.now()
	if now.After(rec.LastActivity) {
		rec.LastActivity = now
		if err := m.store.Save(ctx, *rec); err != nil {
			m.logger.Error("failed to record activity", "error", err)
			return
		}
	}

	m.armIdleLocked(*rec)
}

// armIdleLocked (re)schedules the inactivity timer to fire when rec has been
// idle for InactivityTimeout. Caller holds mu.
func (m *Manager) armIdleLocked(rec Record) {
	now := m.now()
	delay := m.timing.InactivityTimeout - rec.Idle(now)

	epoch := m.epoch
	m.idleTimer.arm(now, delay, func() {
		m.checkInactivity(epoch)
	})
}

// startIdleCheckLocked starts the periodic re-check of the persisted record.
// It catches activity written by another process and a record cleared
// elsewhere. Caller holds mu.
func (m *Manager) startIdleCheckLocked() {
	m.idleCheck.stop()

	epoch := m.epoch
	m.idleCheck = startTicker(m.timing.InactivityCheckInterval, func() {
		m.checkInactivity(epoch)
	})
}

// checkInactivity ends the session for epoch when the persisted record has
// been idle past the timeout, and otherwise re-arms the inactivity timer
// against the persisted LastActivity.
func (m *Manager) checkInactivity(epoch uint64) {
	ctx := context.Background()

	m.mu.Lock()
	if !m.running || m.epoch != epoch {
		m.mu.Unlock()
		return
	}

	rec, err := m.store.Load(ctx)
	if err != nil {
		m.mu.Unlock()
		m.logger.Error("failed to load session", "error", err)
		return
	}

	if rec == nil {
		// Cleared out from under us, nothing left to end
		m.stopLocked()
		m.epoch++
		m.mu.Unlock()
		m.logger.Info("session record disappeared, stopping")
		return
	}

	if idle := rec.Idle(m.now()); idle >= m.timing.InactivityTimeout {
		ended := m.endLocked(ctx)
		m.mu.Unlock()

		m.logger.Info("session idle, logging out", "idle", idle)
		m.finishEnd(ctx, ended, ReasonInactivity)
		return
	}

	m.armIdleLocked(*rec)
	m.mu.Unlock()
}
