package eventhubscope

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// refreshFloor and refreshBuffer implement CalculateRefreshInterval
// (spec.md §4.4), including the "source's observed behaviour" of adding
// the buffer AFTER the stated expiry rather than subtracting it - see
// DESIGN.md's Open Question decision. This is reproduced deliberately, not
// silently "fixed".
const (
	refreshBuffer = 5 * time.Minute
	refreshFloor  = 4 * time.Minute

	// refreshTimeout bounds each scheduled refresh's own CBS round trip.
	refreshTimeout = 3 * time.Minute
)

// CalculateRefreshInterval computes the delay before a link's CBS token
// must be refreshed again, given its current expiry. Always at least
// refreshFloor (spec.md §8: "For any expiryUtc, CalculateRefreshInterval
// >= 4 minutes").
func CalculateRefreshInterval(expiryUTC time.Time) time.Duration {
	interval := time.Until(expiryUTC) + refreshBuffer
	if interval < refreshFloor {
		return refreshFloor
	}
	return interval
}

// refreshFunc performs one CBS refresh round trip for a link, returning the
// new token expiry.
type refreshFunc func(ctx context.Context) (time.Time, error)

// refreshTimer is the one-shot, self-rescheduling timer described in
// spec.md §4.4. Disarming and disposing are both idempotent: the refresh
// callback and an explicit link-close disarm may race (spec.md §5 "the
// design tolerates this because disarming an already-disarmed timer is a
// no-op").
type refreshTimer struct {
	timer    *time.Timer
	disarmed atomic.Bool
	audience string
}

// armRefreshTimer schedules the first refresh for a freshly attached link.
func armRefreshTimer(audience string, initialExpiryUTC time.Time, refresh refreshFunc) *refreshTimer {
	rt := &refreshTimer{audience: audience}

	var fire func()
	fire = func() {
		if rt.disarmed.Load() {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()

		slog.Debug("refresh-start", "audience", rt.audience)
		newExpiry, err := refresh(ctx)
		if err != nil {
			slog.Error("refresh-error", "audience", rt.audience, "error", err)
			slog.Debug("refresh-complete", "audience", rt.audience)
			return
		}

		if newExpiry.Before(time.Now().UTC()) {
			// success-with-past-expiry: leave the timer idle rather than
			// reschedule (spec.md §4.4 step 4 / DESIGN.md Open Question).
			slog.Debug("refresh-complete", "audience", rt.audience)
			return
		}

		if !rt.disarmed.Load() {
			rt.timer.Reset(CalculateRefreshInterval(newExpiry))
		}
		slog.Debug("refresh-complete", "audience", rt.audience)
	}

	rt.timer = time.AfterFunc(CalculateRefreshInterval(initialExpiryUTC), fire)
	return rt
}

// disarmAndDispose stops the timer and marks it inert; safe to call more
// than once and safe to race against a concurrently firing callback.
func (rt *refreshTimer) disarmAndDispose() {
	if rt.disarmed.CompareAndSwap(false, true) {
		rt.timer.Stop()
	}
}

// closableLink is implemented by every public link handle
// (ManagementLink/ProducerLink/ConsumerLink).
type closableLink interface {
	Close(ctx context.Context) error
}

// activeLinkRegistry tracks every live link and its refresh timer (spec.md
// §4.5). Built on sync.Map - a lock-free map per §9's design note - with
// removal implemented as LoadAndDelete so "the removal itself authorises
// disposal" of the associated timer, never a separate inspect-then-dispose
// step.
type activeLinkRegistry struct {
	entries sync.Map // key: closableLink, value: *refreshTimer (nil for management links)
}

func newActiveLinkRegistry() *activeLinkRegistry {
	return &activeLinkRegistry{}
}

// insert registers a newly attached link with its (possibly nil) refresh
// timer. Duplicate insertion is a fatal construction error (spec.md §4.5),
// reported as ErrLinkCreation with the message "could not create link".
func (r *activeLinkRegistry) insert(link closableLink, timer *refreshTimer) error {
	if _, loaded := r.entries.LoadOrStore(link, timer); loaded {
		return wrapLinkCreation("could not create link", nil)
	}
	return nil
}

// remove atomically removes link from the registry and, if present, disarms
// and disposes its refresh timer. Safe to call on a link not (or no longer)
// tracked.
func (r *activeLinkRegistry) remove(link closableLink) {
	v, ok := r.entries.LoadAndDelete(link)
	if !ok {
		return
	}
	if timer, _ := v.(*refreshTimer); timer != nil {
		timer.disarmAndDispose()
	}
}

// count reports how many links are currently tracked; exposed for tests
// exercising spec.md §8's quantified invariants.
func (r *activeLinkRegistry) count() int {
	n := 0
	r.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// closeAll implements the CloseCoordinator (spec.md §4.1 step 6 / §4.5):
// every link present immediately before a connection close receives a
// safe-close call. Order among closures is unspecified, so each is closed
// concurrently; closing an already-closed link must not deadlock. remove()
// (and hence the timer disarm) runs before the link's Close call, so the
// remove() that each Close method performs itself finds no entry and is a
// no-op.
func (r *activeLinkRegistry) closeAll(cause error) {
	var wg sync.WaitGroup
	r.entries.Range(func(k, _ any) bool {
		link, _ := k.(closableLink)
		if link == nil {
			return true
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.remove(link)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := link.Close(ctx); err != nil {
				slog.Debug("safe-close of tracked link after connection close", "error", err, "cause", cause)
			}
		}()
		return true
	})
	wg.Wait()
}
