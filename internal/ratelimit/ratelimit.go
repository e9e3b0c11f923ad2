// Package ratelimit implements the fixed-window attempt counter that
// throttles demo session activation and validation.
package ratelimit

import (
	"sync"
	"time"

	"github.com/al-bashkir/demo-sessiond/internal/clock"
)

// Record is the window state for one key.
type Record struct {
	Count     int
	ResetTime time.Time
}

// Policy bundles the attempt ceiling with its window length.
type Policy struct {
	MaxAttempts int
	Window      time.Duration
}

// Limiter counts attempts per key in fixed windows. A burst at the end of
// one window followed by a burst at the start of the next is allowed.
// It is safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	records map[string]*Record
	clock   clock.Clock
}

// New creates an empty Limiter. A nil clock selects the wall clock.
func New(c clock.Clock) *Limiter {
	if c == nil {
		c = clock.System{}
	}
	return &Limiter{
		records: make(map[string]*Record),
		clock:   c,
	}
}

// CheckRateLimit records an attempt against key and reports whether it is
// allowed. The first attempt of a window is always allowed; later attempts
// are allowed while the count is below maxAttempts. Denied attempts are not
// counted. A non-positive maxAttempts denies everything.
func (l *Limiter) CheckRateLimit(key string, maxAttempts int, window time.Duration) bool {
	if maxAttempts <= 0 {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	rec, ok := l.records[key]
	if !ok || !now.Before(rec.ResetTime) {
		l.records[key] = &Record{Count: 1, ResetTime: now.Add(window)}
		return true
	}

	if rec.Count >= maxAttempts {
		return false
	}
	rec.Count++
	return true
}

// Allow is CheckRateLimit with a Policy.
func (l *Limiter) Allow(key string, p Policy) bool {
	return l.CheckRateLimit(key, p.MaxAttempts, p.Window)
}

// Lookup returns a copy of the record for key.
func (l *Limiter) Lookup(key string) (Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[key]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Prune drops records whose window has elapsed and returns how many were
// dropped.
func (l *Limiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	n := 0
	for key, rec := range l.records {
		if !now.Before(rec.ResetTime) {
			delete(l.records, key)
			n++
		}
	}
	return n
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}
