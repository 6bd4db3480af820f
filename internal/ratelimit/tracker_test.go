package ratelimit

import (
	"testing"
	"time"

	"github.com/yattee/server/internal/settings"
)

type staticSettings struct{ s settings.Settings }

func (s *staticSettings) Current() settings.Settings { return s.s }

func newTracker(t *testing.T, maxFailures, window int) (*FailureTracker, *time.Time) {
	t.Helper()
	s := settings.Defaults()
	s.RateLimitMaxFailures = maxFailures
	s.RateLimitWindow = window
	tracker := NewFailureTracker(&staticSettings{s: s.Normalize()})
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return now }
	return tracker, &now
}

func TestLimitedAfterMaxFailures(t *testing.T) {
	tracker, _ := newTracker(t, 3, 60)

	for i := 0; i < 2; i++ {
		tracker.RecordFailure("10.0.0.1")
	}
	if tracker.Limited("10.0.0.1") {
		t.Fatal("limited before reaching the threshold")
	}
	tracker.RecordFailure("10.0.0.1")
	if !tracker.Limited("10.0.0.1") {
		t.Fatal("expected limited at the threshold")
	}
	if tracker.Limited("10.0.0.2") {
		t.Fatal("other keys must not be affected")
	}
}

func TestWindowSlides(t *testing.T) {
	tracker, now := newTracker(t, 2, 60)

	tracker.RecordFailure("ip")
	*now = now.Add(40 * time.Second)
	tracker.RecordFailure("ip")
	if !tracker.Limited("ip") {
		t.Fatal("expected limited with two failures in window")
	}

	*now = now.Add(30 * time.Second)
	if tracker.Limited("ip") {
		t.Fatal("first failure should have left the window")
	}
}

func TestResetClearsKey(t *testing.T) {
	tracker, _ := newTracker(t, 1, 60)
	tracker.RecordFailure("ip")
	if !tracker.Limited("ip") {
		t.Fatal("expected limited")
	}
	tracker.Reset("ip")
	if tracker.Limited("ip") {
		t.Fatal("expected reset to clear failures")
	}
}

func TestCleanupDropsExpiredKeys(t *testing.T) {
	tracker, now := newTracker(t, 5, 60)
	tracker.RecordFailure("a")
	tracker.RecordFailure("b")
	*now = now.Add(30 * time.Second)
	tracker.RecordFailure("b")

	*now = now.Add(45 * time.Second)
	if remaining := tracker.Cleanup(); remaining != 1 {
		t.Fatalf("expected one key left, got %d", remaining)
	}
	if _, ok := tracker.failures["a"]; ok {
		t.Fatal("expired key still tracked")
	}
}
