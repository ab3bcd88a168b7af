package sessionsdk

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/aussiebroadwan/studyhall/pkg/cryptox"
)

// refreshKey is the singleflight key shared by every refresh trigger.
const refreshKey = "refresh"

// armRefreshLocked (re)schedules the single refresh timer for rec. The delay
// is max(0, tokenExpiry - now - RefreshBuffer). Caller holds mu.
func (m *Manager) armRefreshLocked(rec Record) {
	now := m.now()
	delay := rec.TokenExpiry.Sub(now) - m.timing.RefreshBuffer
	if delay < 0 {
		delay = 0
	}

	epoch := m.epoch
	m.refreshTimer.arm(now, delay, func() {
		m.refreshDue(epoch)
	})
	m.logger.Debug("refresh scheduled", "in", delay)
}

// refreshDue is the refresh timer callback.
func (m *Manager) refreshDue(epoch uint64) {
	m.mu.Lock()
	stale := !m.running || m.epoch != epoch
	m.mu.Unlock()
	if stale {
		return
	}

	// Failures are handled inside refresh, nothing is waiting on this one
	_ = m.refresh(context.Background(), epoch)
}

// RefreshTokenNow refreshes the access token immediately. It reports true on
// success. A failed refresh ends the session and returns false with a
// *RefreshError. If ctx ends first its error is returned and the session is
// kept.
func (m *Manager) RefreshTokenNow(ctx context.Context) (bool, error) {
	m.mu.Lock()
	epoch := m.epoch
	rec, err := m.store.Load(ctx)
	m.mu.Unlock()

	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, ErrNoSession
	}

	if err := m.refresh(ctx, epoch); err != nil {
		return false, err
	}
	return true, nil
}

// refresh exchanges the stored refresh token for a new access token. Callers
// racing on the same refresh share one network call. On failure the session
// for epoch is terminated.
//
// The shared call runs detached from ctx, bounded by RefreshTimeout. A caller
// whose ctx ends first gets ctx.Err() back and the session is left alone; the
// call in flight still applies its result.
func (m *Manager) refresh(ctx context.Context, epoch uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ch := m.refreshGroup.DoChan(refreshKey, func() (any, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timing.RefreshTimeout)
		defer cancel()
		return nil, m.doRefresh(callCtx, epoch)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) doRefresh(ctx context.Context, epoch uint64) error {
	m.mu.Lock()
	rec, err := m.store.Load(ctx)
	m.mu.Unlock()
	if err != nil {
		m.logger.Error("failed to load session for refresh", "error", err)
		return err
	}
	if rec == nil {
		return ErrNoSession
	}

	resp, err := m.exchange(ctx, rec.RefreshToken)
	m.metrics.refresh(err)
	if err != nil {
		m.logger.Warn("token refresh failed, ending session", "error", err)
		m.terminate(ctx, ReasonRefreshFailed, epoch)
		return err
	}

	m.mu.Lock()
	if m.epoch != epoch {
		// Logged out or replaced while the call was in flight. The result
		// belongs to a session that no longer exists, so it is dropped
		// rather than written over (or ending) the current one.
		m.mu.Unlock()
		m.logger.Debug("dropping refresh result for stale session")
		return ErrNoSession
	}

	current, err := m.store.Load(ctx)
	if err != nil || current == nil {
		m.mu.Unlock()
		if err == nil {
			err = ErrNoSession
		}
		return err
	}

	current.AccessToken = resp.Token
	if resp.RefreshToken != "" {
		current.RefreshToken = resp.RefreshToken
	}
	current.TokenExpiry = tokenExpiry(resp.Token, m.now(), m.timing.TokenLifetime)

	if err := m.store.Save(ctx, *current); err != nil {
		m.mu.Unlock()
		m.logger.Error("failed to persist refreshed token", "error", err)
		return err
	}
	if m.running {
		m.armRefreshLocked(*current)
	}
	m.mu.Unlock()

	m.logger.Info("token refreshed",
		"token_fp", cryptox.ShortFingerprint(current.AccessToken),
		"token_expiry", current.TokenExpiry,
	)
	return nil
}

// exchange calls the refresh endpoint, retrying transient failures up to
// refreshRetries times. The returned error is always a *RefreshError.
func (m *Manager) exchange(ctx context.Context, refreshToken string) (*RefreshResponse, error) {
	if refreshToken == "" {
		return nil, &RefreshError{Err: ErrNoRefreshToken}
	}

	var resp *RefreshResponse
	op := func() error {
		var err error
		resp, err = m.api.Refresh(ctx, refreshToken)
		if err == nil {
			return nil
		}

		rerr := &RefreshError{StatusCode: statusOf(err), Err: err}
		if rerr.Permanent() {
			return backoff.Permanent(rerr)
		}
		return rerr
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 250 * time.Millisecond
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(max(m.refreshRetries, 0))), ctx)

	err := backoff.RetryNotify(op, policy, func(err error, next time.Duration) {
		m.logger.Warn("token refresh failed, retrying", "error", err, "next", next)
	})
	if err != nil {
		var rerr *RefreshError
		if !errors.As(err, &rerr) {
			rerr = &RefreshError{Err: err}
		}
		return nil, rerr
	}

	return resp, nil
}
