package health

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// blockingWindow gates the Working status after failed set-power attempts.
//
// Each failure opens a window during which the component is reported
// Uncertain instead of Working. Consecutive failures grow the window
// exponentially from one second, saturating at the configured maximum; the
// growth sequence only resets on an explicit unblock (a succeeded set-power
// report, or recovery from NotWorking through restored valid telemetry).
//
// A window that has merely expired is deliberately not cleared: the next
// failure then continues the sequence instead of starting over, so a
// component that keeps failing right after each window cannot oscillate on
// short windows forever.
type blockingWindow struct {
	backoff      *backoff.ExponentialBackOff
	blockedUntil time.Time
}

func newBlockingWindow(maxDuration time.Duration) blockingWindow {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = maxDuration
	// Never give up: the sequence saturates at MaxInterval instead.
	b.MaxElapsedTime = 0
	b.Reset()
	return blockingWindow{backoff: b}
}

// block opens (or, after expiry, re-opens with the next duration of the
// sequence) the blocking window. While a window is still open, block is a
// no-op and returns zero; otherwise it returns the new window's duration.
func (w *blockingWindow) block(now time.Time) time.Duration {
	if w.isBlocked(now) {
		return 0
	}
	d := w.backoff.NextBackOff()
	w.blockedUntil = now.Add(d)
	return d
}

// unblock closes any window and resets the growth sequence to its start.
func (w *blockingWindow) unblock() {
	w.blockedUntil = time.Time{}
	w.backoff.Reset()
}

// isBlocked reports whether a blocking window is open at the given instant.
func (w *blockingWindow) isBlocked(now time.Time) bool {
	return !w.blockedUntil.IsZero() && now.Before(w.blockedUntil)
}
