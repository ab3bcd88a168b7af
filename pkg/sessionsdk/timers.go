package sessionsdk

import (
	"sync"
	"sync/atomic"
	"time"
)

// oneShot is a single-shot timer slot. Arming replaces whatever was pending,
// so at most one callback is ever outstanding per slot. Callers serialise
// arm/stop (the Manager does it under its mutex).
type oneShot struct {
	timer *time.Timer
	due   time.Time

	// pending counts timers that were armed and have neither fired nor
	// been stopped. It never exceeds 1.
	pending atomic.Int32
}

// arm stops any pending timer and schedules fn after d (clamped at zero).
func (o *oneShot) arm(now time.Time, d time.Duration, fn func()) {
	o.stop()

	if d < 0 {
		d = 0
	}
	o.due = now.Add(d)
	o.pending.Add(1)
	o.timer = time.AfterFunc(d, func() {
		o.pending.Add(-1)
		fn()
	})
}

// stop cancels the pending timer, if any.
func (o *oneShot) stop() {
	if o.timer == nil {
		return
	}
	if o.timer.Stop() {
		o.pending.Add(-1)
	}
	o.timer = nil
	o.due = time.Time{}
}

// armed reports whether a timer is pending and when it is due.
func (o *oneShot) armed() (time.Time, bool) {
	if o.timer == nil {
		return time.Time{}, false
	}
	return o.due, true
}

// ticker runs fn every interval on its own goroutine until stopped. It
// follows the stopCh worker loop used by the housekeeping service, without
// the done channel: fn may stop its own ticker (a periodic check that ends the
// session), and waiting for ourselves would deadlock.
type ticker struct {
	stopCh chan struct{}
	once   sync.Once
}

func startTicker(interval time.Duration, fn func()) *ticker {
	t := &ticker{stopCh: make(chan struct{})}

	go func() {
		tk := time.NewTicker(interval)
		defer tk.Stop()

		for {
			select {
			case <-tk.C:
				select {
				case <-t.stopCh:
					return
				default:
				}
				fn()
			case <-t.stopCh:
				return
			}
		}
	}()

	return t
}

func (t *ticker) stop() {
	if t == nil {
		return
	}
	t.once.Do(func() { close(t.stopCh) })
}
