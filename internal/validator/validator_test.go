package validator_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/al-bashkir/demo-sessiond/internal/clock"
	"github.com/al-bashkir/demo-sessiond/internal/demo"
	"github.com/al-bashkir/demo-sessiond/internal/ratelimit"
	"github.com/al-bashkir/demo-sessiond/internal/validator"
)

var now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeRemote struct {
	mu    sync.Mutex
	valid bool
	err   error
	hang  bool
	calls []validator.Request
}

func (f *fakeRemote) ValidateSession(ctx context.Context, req validator.Request) (bool, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.hang {
		<-ctx.Done()
		return false, ctx.Err()
	}
	return f.valid, f.err
}

func session(age time.Duration) demo.Session {
	start := now.Add(-age).UnixMilli()
	return demo.Session{
		ID:           "demo_1_abc",
		Role:         demo.RoleVendor,
		Token:        strings.Repeat("0f", 32),
		StartTime:    start,
		LastActivity: start,
	}
}

func newValidator(remote validator.Remote, maxDuration time.Duration) *validator.Validator {
	fake := clock.NewFake(now)
	opts := validator.DefaultOptions()
	opts.MaxDuration = maxDuration
	opts.Timeout = 50 * time.Millisecond
	return validator.New(remote, ratelimit.New(fake), fake, opts)
}

func TestValidate_RemoteConfirmed(t *testing.T) {
	remote := &fakeRemote{valid: true}
	v := newValidator(remote, 10*time.Minute)

	res := v.Validate(context.Background(), session(time.Minute), "192.0.2.10")
	require.True(t, res.Valid())
	require.Equal(t, validator.RemoteConfirmed, res.Outcome)
	require.Equal(t, []validator.Request{{SessionID: "demo_1_abc", IPAddress: "192.0.2.10"}}, remote.calls)
}

func TestValidate_RemoteRejected(t *testing.T) {
	v := newValidator(&fakeRemote{valid: false}, 10*time.Minute)

	res := v.Validate(context.Background(), session(time.Minute), "")
	require.False(t, res.Valid())
	require.Equal(t, validator.ReasonRemoteRejected, res.Reason)
}

func TestValidate_NetworkErrorFallsBackToLocal(t *testing.T) {
	netErr := errors.New("dial tcp: connection refused")
	v := newValidator(&fakeRemote{err: netErr}, 10*time.Minute)

	res := v.Validate(context.Background(), session(0), "")
	require.True(t, res.Valid())
	require.Equal(t, validator.RemoteUnavailableLocalConfirmed, res.Outcome)
	require.ErrorIs(t, res.RemoteErr, netErr)
}

func TestValidate_ExpiredSessionRejectedOffline(t *testing.T) {
	v := newValidator(&fakeRemote{err: errors.New("unreachable")}, 10*time.Minute)

	res := v.Validate(context.Background(), session(11*time.Minute), "")
	require.False(t, res.Valid())
	require.Equal(t, validator.ReasonExpired, res.Reason)
}

func TestValidate_ExpiredSessionRejectedEvenIfRemoteAccepts(t *testing.T) {
	remote := &fakeRemote{valid: true}
	v := newValidator(remote, 10*time.Minute)

	res := v.Validate(context.Background(), session(11*time.Minute), "")
	require.False(t, res.Valid())
	require.Equal(t, validator.ReasonExpired, res.Reason)
	require.Empty(t, remote.calls)
}

func TestValidate_MalformedTokenRejectedOffline(t *testing.T) {
	v := newValidator(&fakeRemote{err: errors.New("503")}, 10*time.Minute)

	sess := session(time.Minute)
	sess.Token = "not-a-token"
	res := v.Validate(context.Background(), sess, "")
	require.False(t, res.Valid())
	require.Equal(t, validator.ReasonMalformedToken, res.Reason)
}

func TestValidate_MalformedSession(t *testing.T) {
	v := newValidator(&fakeRemote{valid: true}, 10*time.Minute)

	res := v.Validate(context.Background(), demo.Session{ID: "x"}, "")
	require.Equal(t, validator.ReasonMalformedSession, res.Reason)

	future := session(-time.Minute)
	res = v.Validate(context.Background(), future, "")
	require.Equal(t, validator.ReasonMalformedSession, res.Reason)
}

func TestValidate_TimeoutFallsBackToLocal(t *testing.T) {
	v := newValidator(&fakeRemote{hang: true}, 10*time.Minute)

	start := time.Now()
	res := v.Validate(context.Background(), session(0), "")
	require.Less(t, time.Since(start), 2*time.Second)
	require.Equal(t, validator.RemoteUnavailableLocalConfirmed, res.Outcome)
	require.ErrorIs(t, res.RemoteErr, context.DeadlineExceeded)
}

func TestValidate_NoRemoteUsesLocal(t *testing.T) {
	v := newValidator(nil, 10*time.Minute)

	res := v.Validate(context.Background(), session(0), "")
	require.Equal(t, validator.RemoteUnavailableLocalConfirmed, res.Outcome)
	require.ErrorIs(t, res.RemoteErr, validator.ErrNoRemote)
}

func TestValidate_RateLimited(t *testing.T) {
	remote := &fakeRemote{valid: true}
	v := newValidator(remote, 10*time.Minute)
	sess := session(0)

	for i := 0; i < 10; i++ {
		require.True(t, v.Validate(context.Background(), sess, "").Valid())
	}
	res := v.Validate(context.Background(), sess, "")
	require.False(t, res.Valid())
	require.Equal(t, validator.ReasonRateLimited, res.Reason)
	require.Len(t, remote.calls, 10)
}

func TestOutcomeString(t *testing.T) {
	require.Equal(t, "rejected", validator.Rejected.String())
	require.Equal(t, "remote_confirmed", validator.RemoteConfirmed.String())
	require.Equal(t, "remote_unavailable_local_confirmed", validator.RemoteUnavailableLocalConfirmed.String())
}
