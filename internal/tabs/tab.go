// Package tabs keeps one demo session scope per browser tab.
package tabs

import (
	"sync"
	"time"

	"github.com/al-bashkir/demo-sessiond/internal/analytics"
	"github.com/al-bashkir/demo-sessiond/internal/clock"
	"github.com/al-bashkir/demo-sessiond/internal/demo"
	"github.com/al-bashkir/demo-sessiond/internal/lifecycle"
	"github.com/al-bashkir/demo-sessiond/internal/ratelimit"
	"github.com/al-bashkir/demo-sessiond/internal/store"
)

// Tab is the per-client scope: its own store, analytics recorder and
// session controller.
type Tab struct {
	// ID identifies the tab (UUID issued on first contact)
	ID string

	// Controller runs the tab's demo session
	Controller *lifecycle.Controller

	// Recorder owns the tab's analytics session
	Recorder *analytics.Recorder

	// Store is the tab's obfuscated storage
	Store *store.Store

	// CreatedAt is when the tab was first seen
	CreatedAt time.Time

	backend *store.MemoryBackend
	clock   clock.Clock

	// activation counts starts of this tab only, so one client cannot use
	// up another client's budget
	activation *ratelimit.Limiter
	policy     ratelimit.Policy

	mu       sync.Mutex
	lastSeen time.Time
}

// LastSeen returns when the tab last made a request.
func (t *Tab) LastSeen() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastSeen
}

// ActivationAvailable reports whether role has activation attempts left in
// the tab's current window. It does not consume an attempt.
func (t *Tab) ActivationAvailable(role demo.Role) bool {
	if t.policy.MaxAttempts <= 0 {
		return false
	}
	rec, ok := t.activation.Lookup(lifecycle.ActivationKey(role))
	if !ok || !t.clock.Now().Before(rec.ResetTime) {
		return true
	}
	return rec.Count < t.policy.MaxAttempts
}

func (t *Tab) seen(now time.Time) {
	t.mu.Lock()
	if now.After(t.lastSeen) {
		t.lastSeen = now
	}
	t.mu.Unlock()
}

// Info is a point-in-time view of a tab for listings.
type Info struct {
	ID        string
	Status    lifecycle.Status
	CreatedAt time.Time
	LastSeen  time.Time
}
