// Package timesync holds the authoritative server clock and the
// synchronization protocol that keeps client countdowns aligned with it.
package timesync

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Oracle is the single source of "now" for end-of-auction decisions.
// Client-supplied instants are never consulted.
type Oracle struct {
	clock clockwork.Clock
}

// NewOracle wraps clock. Pass clockwork.NewRealClock() in production.
func NewOracle(clock clockwork.Clock) *Oracle {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Oracle{clock: clock}
}

// Now returns the authoritative instant in UTC.
func (o *Oracle) Now() time.Time {
	return o.clock.Now().UTC()
}

// Clock exposes the underlying clock for timers and tickers.
func (o *Oracle) Clock() clockwork.Clock {
	return o.clock
}

// Snapshot is the payload of a TIME_SYNC message.
type Snapshot struct {
	ServerTime int64  `json:"server_time"` // unix millis
	Timestamp  string `json:"timestamp"`
}

// Snapshot captures the current server instant for a sync push or reply.
func (o *Oracle) Snapshot() Snapshot {
	now := o.Now()
	return Snapshot{
		ServerTime: now.UnixMilli(),
		Timestamp:  now.Format(time.RFC3339Nano),
	}
}
