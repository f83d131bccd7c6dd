package notifications

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"netavail/internal/config"
)

// Throttler limits notifications per device and in total over a sliding window.
type Throttler struct {
	config       *config.ThrottleConfig
	clock        clockwork.Clock
	deviceCounts map[string][]time.Time
	totalCounts  []time.Time
	mu           sync.Mutex
}

func NewThrottler(cfg *config.ThrottleConfig, clock clockwork.Clock) *Throttler {
	return &Throttler{
		config:       cfg,
		clock:        clock,
		deviceCounts: make(map[string][]time.Time),
	}
}

func (t *Throttler) IsThrottled(deviceKey string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	windowStart := t.clock.Now().Add(-t.config.Window)
	if countSince(t.deviceCounts[deviceKey], windowStart) >= t.config.MaxPerDevice {
		return true
	}
	return countSince(t.totalCounts, windowStart) >= t.config.MaxTotal
}

func (t *Throttler) RecordNotification(deviceKey string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	t.deviceCounts[deviceKey] = append(t.deviceCounts[deviceKey], now)
	t.totalCounts = append(t.totalCounts, now)
	t.cleanup(now.Add(-t.config.Window))
}

func (t *Throttler) Counts() (devices, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.deviceCounts), len(t.totalCounts)
}

// cleanup drops entries older than windowStart. Callers hold t.mu.
func (t *Throttler) cleanup(windowStart time.Time) {
	for key, times := range t.deviceCounts {
		recent := recentTimes(times, windowStart)
		if len(recent) == 0 {
			delete(t.deviceCounts, key)
		} else {
			t.deviceCounts[key] = recent
		}
	}
	t.totalCounts = recentTimes(t.totalCounts, windowStart)
}

func countSince(times []time.Time, windowStart time.Time) int {
	count := 0
	for _, t := range times {
		if t.After(windowStart) {
			count++
		}
	}
	return count
}

func recentTimes(times []time.Time, windowStart time.Time) []time.Time {
	var recent []time.Time
	for _, t := range times {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}
	return recent
}
