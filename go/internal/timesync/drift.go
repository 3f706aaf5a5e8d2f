package timesync

import (
	"fmt"
	"sync"
	"time"
)

// ClockSample pairs a server instant with the local instant it was received at.
type ClockSample struct {
	ServerInstant time.Time
	LocalInstant  time.Time
}

// Drift returns serverInstant - localInstant.
func (s ClockSample) Drift() time.Duration {
	return s.ServerInstant.Sub(s.LocalInstant)
}

// DriftTracker is the receiving side of the sync protocol. Each observed
// sample replaces the previous drift outright; there is no smoothing, so a
// single late sample skews the countdown until the next sync arrives.
type DriftTracker struct {
	mu       sync.RWMutex
	drift    time.Duration
	lastSync time.Time
	samples  int
}

func NewDriftTracker() *DriftTracker {
	return &DriftTracker{}
}

// Observe records a sample and returns the new drift.
func (t *DriftTracker) Observe(sample ClockSample) time.Duration {
	d := sample.Drift()

	t.mu.Lock()
	t.drift = d
	t.lastSync = sample.LocalInstant
	t.samples++
	t.mu.Unlock()

	return d
}

// ObserveMillis is a convenience for the wire format, which carries unix millis.
func (t *DriftTracker) ObserveMillis(serverMillis int64, local time.Time) time.Duration {
	return t.Observe(ClockSample{
		ServerInstant: time.UnixMilli(serverMillis),
		LocalInstant:  local,
	})
}

func (t *DriftTracker) Drift() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.drift
}

// Synced reports whether at least one sample has been observed, and when.
func (t *DriftTracker) Synced() (bool, time.Time) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.samples > 0, t.lastSync
}

// Now maps a local instant onto the server timeline.
func (t *DriftTracker) Now(local time.Time) time.Time {
	return local.Add(t.Drift())
}

// TimeRemaining is the countdown to end as seen from local, floored to whole
// seconds and clamped at zero.
func (t *DriftTracker) TimeRemaining(end, local time.Time) time.Duration {
	remaining := end.Sub(t.Now(local))
	if remaining <= 0 {
		return 0
	}
	return remaining.Truncate(time.Second)
}

// IsEnded mirrors the server rule: an auction is over once end <= now.
func (t *DriftTracker) IsEnded(end, local time.Time) bool {
	return !end.After(t.Now(local))
}

// FormatRemaining renders a countdown as HH:MM:SS.
func FormatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}
