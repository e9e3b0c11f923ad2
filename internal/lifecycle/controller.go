// Package lifecycle owns the current demo session of one tab: it starts it,
// keeps it validated, counts it down and tears it down.
package lifecycle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/al-bashkir/demo-sessiond/internal/analytics"
	"github.com/al-bashkir/demo-sessiond/internal/clock"
	"github.com/al-bashkir/demo-sessiond/internal/demo"
	"github.com/al-bashkir/demo-sessiond/internal/ratelimit"
	"github.com/al-bashkir/demo-sessiond/internal/store"
	"github.com/al-bashkir/demo-sessiond/internal/validator"
)

// SessionKey is the store key of the resident demo session.
const SessionKey = "session"

// LegacyKeys are unnamespaced keys older clients wrote; teardown removes them.
var LegacyKeys = []string{"isDemoMode", "demoRole", "demoStartTime"}

// Validator checks a session. *validator.Validator implements it.
type Validator interface {
	Validate(ctx context.Context, sess demo.Session, ipAddress string) validator.Result
}

// Options configures a Controller.
type Options struct {
	// MaxDuration is both the countdown length and the hard age ceiling.
	MaxDuration time.Duration

	// RevalidateInterval is the period of background validation.
	RevalidateInterval time.Duration

	// ActivationLimit throttles Start per role.
	ActivationLimit ratelimit.Policy
}

// DefaultOptions returns a 30 minute session revalidated every 30 seconds
// with 3 activations per role every 5 minutes.
func DefaultOptions() Options {
	return Options{
		MaxDuration:        30 * time.Minute,
		RevalidateInterval: 30 * time.Second,
		ActivationLimit:    ratelimit.Policy{MaxAttempts: 3, Window: 5 * time.Minute},
	}
}

// Deps are the collaborators of a Controller.
type Deps struct {
	Clock     clock.Clock
	Limiter   *ratelimit.Limiter
	Factory   *demo.Factory
	Validator Validator
	Store     *store.Store
	Recorder  *analytics.Recorder
}

// Controller is the demo session state machine of one tab. Time advances
// only through Tick, which the owner calls periodically (every second in
// production). It is safe for concurrent use; the lock is released while a
// validation is in flight and a verdict arriving after the session has
// moved on is ignored.
type Controller struct {
	mu        sync.Mutex
	opts      Options
	clock     clock.Clock
	limiter   *ratelimit.Limiter
	factory   *demo.Factory
	validator Validator
	store     *store.Store
	recorder  *analytics.Recorder

	clientIP       string
	state          State
	current        *demo.Session
	deadline       time.Time
	nextValidation time.Time
	generation     uint64
	observers      []Observer
}

// New creates an inactive Controller.
func New(deps Deps, opts Options) *Controller {
	c := deps.Clock
	if c == nil {
		c = clock.System{}
	}
	return &Controller{
		opts:      opts,
		clock:     c,
		limiter:   deps.Limiter,
		factory:   deps.Factory,
		validator: deps.Validator,
		store:     deps.Store,
		recorder:  deps.Recorder,
	}
}

// ActivationKey is the rate limiter key for starting role.
func ActivationKey(role demo.Role) string {
	return "demo_activation_" + string(role)
}

// SetClientIP records the caller address passed to remote validation.
func (c *Controller) SetClientIP(ip string) {
	c.mu.Lock()
	c.clientIP = ip
	c.mu.Unlock()
}

// Subscribe registers o for mode changes.
func (c *Controller) Subscribe(o Observer) {
	c.mu.Lock()
	c.observers = append(c.observers, o)
	c.mu.Unlock()
}

// Start creates, validates and persists a new session for role. A running
// session is replaced once the rate limiter lets the attempt through. On
// any failure nothing is persisted and false is returned.
func (c *Controller) Start(ctx context.Context, role demo.Role, userData map[string]any) bool {
	c.mu.Lock()
	if !c.limiter.Allow(ActivationKey(role), c.opts.ActivationLimit) {
		c.mu.Unlock()
		slog.Warn("demo activation rate limited", "role", role)
		return false
	}

	var changes []ModeChange
	if c.current != nil {
		changes = append(changes, c.teardownLocked(ctx, ReasonReplaced))
	}

	sess, err := c.factory.Create(role)
	if err != nil {
		c.state = StateInactive
		c.mu.Unlock()
		c.notify(changes)
		slog.Error("failed to create demo session", "role", role, "error", err)
		return false
	}

	c.generation++
	gen := c.generation
	ip := c.clientIP
	c.state = StateValidating
	c.mu.Unlock()

	res := c.validator.Validate(ctx, sess, ip)

	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		c.notify(changes)
		slog.Info("demo start superseded while validating", "session_id", sess.ID)
		return false
	}
	if !res.Valid() {
		c.state = StateInactive
		c.mu.Unlock()
		c.notify(changes)
		slog.Warn("demo session rejected at start",
			"session_id", sess.ID,
			"role", role,
			"reason", res.Reason,
		)
		return false
	}
	if err := c.store.Set(SessionKey, sess); err != nil {
		c.state = StateInactive
		c.mu.Unlock()
		c.notify(changes)
		slog.Error("failed to persist demo session", "session_id", sess.ID, "error", err)
		return false
	}

	c.current = &sess
	c.deadline = sess.Started().Add(c.opts.MaxDuration)
	c.nextValidation = c.clock.Now().Add(c.opts.RevalidateInterval)
	c.state = StateActive

	c.recorder.StartSession(userData, string(role))
	c.recorder.TrackEvent(analytics.KindStarted, analytics.Data{
		DemoSessionID: sess.ID,
		Role:          string(role),
		Reason:        res.Outcome.String(),
	})

	changes = append(changes, ModeChange{
		Active:    true,
		SessionID: sess.ID,
		Role:      role,
		At:        c.clock.Now(),
	})
	deadline := c.deadline
	c.mu.Unlock()
	c.notify(changes)

	slog.Info("demo session started",
		"session_id", sess.ID,
		"role", role,
		"validation", res.Outcome.String(),
		"expires_at", deadline,
	)
	return true
}

// Refresh re-validates the running session and, if it is still valid,
// refreshes its last activity and restarts the background validation
// timer. The countdown already runs to the hard age ceiling, so it is left
// as is. A rejected session is torn down. A background validation in
// flight does not block a refresh.
func (c *Controller) Refresh(ctx context.Context) bool {
	c.mu.Lock()
	if c.current == nil {
		c.mu.Unlock()
		return false
	}
	sess, gen, ip := *c.current, c.generation, c.clientIP
	c.mu.Unlock()

	res := c.validator.Validate(ctx, sess, ip)

	c.mu.Lock()
	if c.generation != gen || c.current == nil {
		c.mu.Unlock()
		return false
	}
	if !res.Valid() {
		change := c.failValidationLocked(ctx, res)
		c.mu.Unlock()
		c.notify([]ModeChange{change})
		return false
	}

	now := c.clock.Now()
	c.current.Touch(now)
	c.nextValidation = now.Add(c.opts.RevalidateInterval)
	c.persistLocked()
	c.recorder.TrackEvent(analytics.KindRefreshed, analytics.Data{
		DemoSessionID: c.current.ID,
		Reason:        res.Outcome.String(),
	})
	c.mu.Unlock()
	return true
}

// Touch refreshes the running session's last activity without validating.
func (c *Controller) Touch() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return false
	}
	c.current.Touch(c.clock.Now())
	c.persistLocked()
	return true
}

// Exit ends the running session. Without one it only makes sure no demo
// keys are left in the store.
func (c *Controller) Exit(ctx context.Context, reason string) {
	c.mu.Lock()
	if c.current == nil {
		if c.state != StateInactive {
			// abandon an in-flight start
			c.generation++
			c.state = StateInactive
		}
		c.store.ClearAll()
		c.store.RemoveRaw(LegacyKeys...)
		c.mu.Unlock()
		return
	}
	change := c.teardownLocked(ctx, reason)
	c.mu.Unlock()
	c.notify([]ModeChange{change})
}

// Tick advances the countdown and runs background validation when it is
// due. The countdown is checked first, so a session whose time is up ends
// as expired regardless of what validation would say.
func (c *Controller) Tick(ctx context.Context) {
	c.mu.Lock()
	if c.state != StateActive || c.current == nil {
		c.mu.Unlock()
		return
	}

	now := c.clock.Now()
	if !now.Before(c.deadline) {
		change := c.teardownLocked(ctx, ReasonExpired)
		c.mu.Unlock()
		c.notify([]ModeChange{change})
		return
	}
	if !c.residentLocked() {
		slog.Warn("persisted demo session lost, ending", "session_id", c.current.ID)
		change := c.teardownLocked(ctx, ReasonStateLost)
		c.mu.Unlock()
		c.notify([]ModeChange{change})
		return
	}
	if now.Before(c.nextValidation) {
		c.mu.Unlock()
		return
	}

	c.nextValidation = now.Add(c.opts.RevalidateInterval)
	c.state = StateValidating
	sess, gen, ip := *c.current, c.generation, c.clientIP
	c.mu.Unlock()

	res := c.validator.Validate(ctx, sess, ip)

	c.mu.Lock()
	if c.generation != gen || c.current == nil {
		c.mu.Unlock()
		return
	}
	if !res.Valid() {
		change := c.failValidationLocked(ctx, res)
		c.mu.Unlock()
		c.notify([]ModeChange{change})
		return
	}
	c.state = StateActive
	c.current.Touch(c.clock.Now())
	c.persistLocked()
	c.mu.Unlock()

	slog.Debug("demo session revalidated", "session_id", sess.ID, "validation", res.Outcome.String())
}

// Status returns the current state and countdown.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{State: c.state}
	if c.current == nil {
		return st
	}
	st.SessionID = c.current.ID
	st.Role = c.current.Role
	st.StartTime = c.current.Started()
	st.LastActivity = time.UnixMilli(c.current.LastActivity)
	if remaining := c.deadline.Sub(c.clock.Now()); remaining > 0 {
		st.Remaining = remaining.Truncate(time.Second)
	}
	return st
}

// Current returns a copy of the running session.
func (c *Controller) Current() (demo.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return demo.Session{}, false
	}
	return *c.current, true
}

func (c *Controller) failValidationLocked(ctx context.Context, res validator.Result) ModeChange {
	slog.Warn("demo session failed validation",
		"session_id", c.current.ID,
		"reason", res.Reason,
	)
	c.recorder.TrackEvent(analytics.KindValidationFailed, analytics.Data{
		DemoSessionID: c.current.ID,
		Reason:        string(res.Reason),
	})
	return c.teardownLocked(ctx, ReasonValidationFailed)
}

// teardownLocked ends the current session. Must be called with mu held and
// c.current set.
func (c *Controller) teardownLocked(ctx context.Context, reason string) ModeChange {
	sess := *c.current
	now := c.clock.Now()

	c.generation++
	c.state = StateEnded
	c.current = nil
	c.deadline = time.Time{}
	c.nextValidation = time.Time{}

	c.store.ClearAll()
	c.recorder.EndSession(ctx, reason)
	c.store.RemoveRaw(LegacyKeys...)
	c.state = StateInactive

	slog.Info("demo session ended",
		"session_id", sess.ID,
		"role", sess.Role,
		"reason", reason,
		"duration", sess.Age(now).Truncate(time.Second),
	)

	return ModeChange{
		Active:    false,
		SessionID: sess.ID,
		Role:      sess.Role,
		Reason:    reason,
		At:        now,
	}
}

// residentLocked reports whether the store still holds the current session.
// Undecodable, stale or foreign entries count as lost.
func (c *Controller) residentLocked() bool {
	var stored demo.Session
	return c.store.Get(SessionKey, &stored) && stored.ID == c.current.ID
}

func (c *Controller) persistLocked() {
	if err := c.store.Set(SessionKey, c.current); err != nil {
		slog.Warn("failed to persist demo session", "session_id", c.current.ID, "error", err)
	}
}

func (c *Controller) notify(changes []ModeChange) {
	if len(changes) == 0 {
		return
	}
	c.mu.Lock()
	observers := append([]Observer(nil), c.observers...)
	c.mu.Unlock()

	for _, ch := range changes {
		for _, o := range observers {
			o(ch)
		}
	}
}
