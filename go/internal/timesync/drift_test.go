package timesync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDriftTracker_ObserveComputesServerMinusLocal(t *testing.T) {
	tracker := NewDriftTracker()

	local := time.UnixMilli(999_000)
	drift := tracker.ObserveMillis(1_000_000, local)

	assert.Equal(t, 1000*time.Millisecond, drift)
	assert.Equal(t, time.UnixMilli(1_001_000), tracker.Now(time.UnixMilli(1_000_000)))

	synced, at := tracker.Synced()
	assert.True(t, synced)
	assert.Equal(t, local, at)
}

func TestDriftTracker_ReplacesInsteadOfAveraging(t *testing.T) {
	tracker := NewDriftTracker()

	tracker.ObserveMillis(1_000_000, time.UnixMilli(999_000))
	require.Equal(t, time.Second, tracker.Drift())

	// A delayed sample skews the drift until the next one corrects it.
	tracker.ObserveMillis(2_000_000, time.UnixMilli(2_004_000))
	assert.Equal(t, -4*time.Second, tracker.Drift())

	tracker.ObserveMillis(3_000_000, time.UnixMilli(2_999_500))
	assert.Equal(t, 500*time.Millisecond, tracker.Drift())
}

func TestDriftTracker_Countdown(t *testing.T) {
	tracker := NewDriftTracker()
	tracker.ObserveMillis(1_000_000, time.UnixMilli(999_000))

	end := time.UnixMilli(1_010_500)

	tests := []struct {
		name      string
		local     time.Time
		remaining time.Duration
		ended     bool
	}{
		{"uses local plus drift", time.UnixMilli(999_000), 10 * time.Second, false},
		{"floors partial seconds", time.UnixMilli(1_000_900), 8 * time.Second, false},
		{"exactly at end", time.UnixMilli(1_009_500), 0, true},
		{"past end clamps at zero", time.UnixMilli(1_020_000), 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.remaining, tracker.TimeRemaining(end, tt.local))
			assert.Equal(t, tt.ended, tracker.IsEnded(end, tt.local))
		})
	}
}

func TestFormatRemaining(t *testing.T) {
	assert.Equal(t, "00:00:00", FormatRemaining(-time.Second))
	assert.Equal(t, "00:01:05", FormatRemaining(65*time.Second))
	assert.Equal(t, "26:00:01", FormatRemaining(26*time.Hour+time.Second+400*time.Millisecond))
}
