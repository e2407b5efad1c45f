// Package timeprovider abstracts time operations for testability.
//
// Production code uses WallClock, which returns the actual system time.
// Tests use FakeClock, which allows controlling time for deterministic
// assertions about published/fetched/scraped timestamps.
package timeprovider

import (
	"sync"
	"time"
)

// TimeProvider abstracts time operations to enable deterministic testing.
type TimeProvider interface {
	// Now returns the current time according to this provider.
	Now() time.Time

	// Since returns the time elapsed since t according to this provider.
	Since(t time.Time) time.Duration
}

// WallClock is the production implementation backed by the system clock.
type WallClock struct{}

func (w WallClock) Now() time.Time                  { return time.Now() }
func (w WallClock) Since(t time.Time) time.Duration { return time.Since(t) }

// FakeClock provides controllable time for testing. Safe for concurrent use.
type FakeClock struct {
	mu      sync.RWMutex
	current time.Time
}

// NewFakeClock creates a FakeClock initialized to the given time.
func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{current: t}
}

func (f *FakeClock) Now() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.current
}

func (f *FakeClock) Since(t time.Time) time.Duration {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.current.Sub(t)
}

// SetTime sets the fake clock to a specific time.
func (f *FakeClock) SetTime(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = t
}

// Advance moves the fake clock forward by the given duration.
func (f *FakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = f.current.Add(d)
}
