// Package ratelimit tracks failed authentication attempts per client over a
// sliding window.
package ratelimit

import (
	"sync"
	"time"

	"github.com/yattee/server/internal/settings"
)

// SettingsSource supplies the current window and thresholds.
type SettingsSource interface {
	Current() settings.Settings
}

// FailureTracker limits a key once it has accumulated rate_limit_max_failures
// failures inside the last rate_limit_window. It is safe for concurrent use.
type FailureTracker struct {
	cfg SettingsSource
	now func() time.Time

	mu          sync.Mutex
	failures    map[string][]time.Time
	lastCleanup time.Time
}

// NewFailureTracker returns a tracker reading its limits from cfg on every call.
func NewFailureTracker(cfg SettingsSource) *FailureTracker {
	return &FailureTracker{
		cfg:      cfg,
		now:      time.Now,
		failures: make(map[string][]time.Time),
	}
}

// RecordFailure notes one failed attempt for key.
func (t *FailureTracker) RecordFailure(key string) {
	snap := t.cfg.Current()
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.maybeCleanupLocked(snap, now)
	t.failures[key] = append(prune(t.failures[key], now.Add(-snap.RateLimitWindowDuration())), now)
}

// Limited reports whether key has reached the failure threshold.
func (t *FailureTracker) Limited(key string) bool {
	snap := t.cfg.Current()
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.maybeCleanupLocked(snap, now)

	recent := prune(t.failures[key], now.Add(-snap.RateLimitWindowDuration()))
	if len(recent) == 0 {
		delete(t.failures, key)
		return false
	}
	t.failures[key] = recent
	return len(recent) >= snap.RateLimitMaxFailures
}

// Reset forgets key, typically after a successful login.
func (t *FailureTracker) Reset(key string) {
	t.mu.Lock()
	delete(t.failures, key)
	t.mu.Unlock()
}

// Cleanup drops every timestamp outside the window and returns the number of
// keys still tracked.
func (t *FailureTracker) Cleanup() int {
	snap := t.cfg.Current()
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.cleanupLocked(snap, now)
	return len(t.failures)
}

func (t *FailureTracker) maybeCleanupLocked(snap settings.Settings, now time.Time) {
	if now.Sub(t.lastCleanup) < snap.RateLimitCleanupDuration() {
		return
	}
	t.cleanupLocked(snap, now)
}

func (t *FailureTracker) cleanupLocked(snap settings.Settings, now time.Time) {
	cutoff := now.Add(-snap.RateLimitWindowDuration())
	for key, stamps := range t.failures {
		recent := prune(stamps, cutoff)
		if len(recent) == 0 {
			delete(t.failures, key)
			continue
		}
		t.failures[key] = recent
	}
	t.lastCleanup = now
}

// prune keeps stamps strictly after cutoff. Stamps are appended in order.
func prune(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	return stamps[i:]
}
