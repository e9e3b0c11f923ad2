// Package validator decides whether a demo session is still authorized,
// asking a remote endpoint first and falling back to local checks when the
// endpoint is unavailable.
package validator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/al-bashkir/demo-sessiond/internal/clock"
	"github.com/al-bashkir/demo-sessiond/internal/demo"
	"github.com/al-bashkir/demo-sessiond/internal/ratelimit"
)

// ErrNoRemote is reported in Result.RemoteErr when no remote endpoint is
// configured.
var ErrNoRemote = errors.New("no remote validation endpoint configured")

// Request is what the remote endpoint receives.
type Request struct {
	SessionID string `json:"sessionId"`
	IPAddress string `json:"ipAddress,omitempty"`
}

// Remote is the authoritative validation endpoint. Any returned error
// triggers the local fallback.
type Remote interface {
	ValidateSession(ctx context.Context, req Request) (bool, error)
}

// Options configures a Validator.
type Options struct {
	// MaxDuration is the hard ceiling on session age.
	MaxDuration time.Duration

	// Timeout bounds each remote call.
	Timeout time.Duration

	// Limit throttles validations per session ID.
	Limit ratelimit.Policy
}

// DefaultOptions returns a 30 minute ceiling, a 5 second remote timeout and
// 10 validations per minute.
func DefaultOptions() Options {
	return Options{
		MaxDuration: 30 * time.Minute,
		Timeout:     5 * time.Second,
		Limit:       ratelimit.Policy{MaxAttempts: 10, Window: time.Minute},
	}
}

// Validator is the dual-path session validator. It never returns errors;
// every failure is folded into a Result.
type Validator struct {
	remote  Remote
	limiter *ratelimit.Limiter
	clock   clock.Clock
	opts    Options
}

// New creates a Validator. remote may be nil, in which case every
// validation takes the local path.
func New(remote Remote, limiter *ratelimit.Limiter, c clock.Clock, opts Options) *Validator {
	if c == nil {
		c = clock.System{}
	}
	return &Validator{remote: remote, limiter: limiter, clock: c, opts: opts}
}

// LimitKey is the rate limiter key used for sessionID.
func LimitKey(sessionID string) string {
	return "demo_validation_" + sessionID
}

// Validate checks sess. The age ceiling is enforced on both paths, so an
// over-age session is rejected even when the remote endpoint would accept
// it.
func (v *Validator) Validate(ctx context.Context, sess demo.Session, ipAddress string) Result {
	if v.limiter != nil && !v.limiter.Allow(LimitKey(sess.ID), v.opts.Limit) {
		slog.Warn("session validation rate limited", "session_id", sess.ID)
		return rejected(ReasonRateLimited, nil)
	}

	if r, ok := v.checkAge(sess); !ok {
		return r
	}

	if v.remote == nil {
		return v.fallback(sess, ErrNoRemote)
	}

	callCtx := ctx
	if v.opts.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, v.opts.Timeout)
		defer cancel()
	}

	valid, err := v.remote.ValidateSession(callCtx, Request{SessionID: sess.ID, IPAddress: ipAddress})
	if err != nil {
		slog.Warn("remote session validation unavailable, using local check",
			"session_id", sess.ID,
			"error", err,
		)
		return v.fallback(sess, err)
	}

	if !valid {
		slog.Info("remote validation rejected session", "session_id", sess.ID)
		return rejected(ReasonRemoteRejected, nil)
	}
	return Result{Outcome: RemoteConfirmed}
}

// LocalCheck runs the structural and age checks alone.
func (v *Validator) LocalCheck(sess demo.Session) Result {
	if r, ok := v.checkAge(sess); !ok {
		return r
	}
	if !demo.ValidToken(sess.Token) {
		return rejected(ReasonMalformedToken, nil)
	}
	return Result{Outcome: RemoteUnavailableLocalConfirmed}
}

func (v *Validator) fallback(sess demo.Session, remoteErr error) Result {
	r := v.LocalCheck(sess)
	r.RemoteErr = remoteErr
	return r
}

func (v *Validator) checkAge(sess demo.Session) (Result, bool) {
	if sess.ID == "" || sess.StartTime <= 0 {
		return rejected(ReasonMalformedSession, nil), false
	}
	age := sess.Age(v.clock.Now())
	if age < 0 {
		return rejected(ReasonMalformedSession, nil), false
	}
	if age > v.opts.MaxDuration {
		return rejected(ReasonExpired, nil), false
	}
	return Result{}, true
}
