package demo

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"regexp"

	"github.com/al-bashkir/demo-sessiond/internal/clock"
)

const (
	// TokenLength is the length of a token in hex characters.
	TokenLength = 64

	suffixBytes = 8
)

var tokenPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// ValidToken reports whether token has the shape Factory produces. This is
// a plausibility check only.
func ValidToken(token string) bool {
	return tokenPattern.MatchString(token)
}

// Factory creates demo sessions.
type Factory struct {
	clock  clock.Clock
	random io.Reader
}

// NewFactory creates a Factory. A nil clock selects the wall clock.
func NewFactory(c clock.Clock) *Factory {
	if c == nil {
		c = clock.System{}
	}
	return &Factory{clock: c, random: rand.Reader}
}

// Create mints a new session for role with StartTime and LastActivity set
// to now.
func (f *Factory) Create(role Role) (Session, error) {
	now := f.clock.Now().UnixMilli()

	suffix, err := f.randomHex(suffixBytes)
	if err != nil {
		return Session{}, fmt.Errorf("failed to generate session ID: %w", err)
	}
	token, err := f.randomHex(TokenLength / 2)
	if err != nil {
		return Session{}, fmt.Errorf("failed to generate session token: %w", err)
	}

	return Session{
		ID:           fmt.Sprintf("demo_%d_%s", now, suffix),
		Role:         role,
		Token:        token,
		StartTime:    now,
		LastActivity: now,
	}, nil
}

func (f *Factory) randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(f.random, b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
