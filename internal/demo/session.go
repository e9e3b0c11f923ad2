// Package demo defines the demo session record and the factory that mints
// session identifiers and tokens.
package demo

import (
	"fmt"
	"strings"
	"time"
)

// Role is a demo persona. The set is closed.
type Role string

const (
	RolePartnerAdmin   Role = "Partner Admin"
	RolePartnerManager Role = "Partner Manager"
	RoleVendor         Role = "Vendor"
)

// Roles returns every known role.
func Roles() []Role {
	return []Role{RolePartnerAdmin, RolePartnerManager, RoleVendor}
}

// ParseRole matches s against the known roles, ignoring case and
// surrounding whitespace.
func ParseRole(s string) (Role, error) {
	s = strings.TrimSpace(s)
	for _, r := range Roles() {
		if strings.EqualFold(s, string(r)) {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown demo role %q", s)
}

// Session is the authorization unit of a running demo.
type Session struct {
	// ID is "demo_<start millis>_<16 hex chars>"
	ID string `json:"sessionId"`

	// Role is the persona the demo runs as
	Role Role `json:"role"`

	// Token is an opaque 64-char lowercase hex string. It is only ever
	// format-checked locally; the remote validator is the authority.
	Token string `json:"token"`

	// StartTime is when the session was created (epoch millis)
	StartTime int64 `json:"startTime"`

	// LastActivity is the latest refresh or touch (epoch millis), never
	// before StartTime
	LastActivity int64 `json:"lastActivity"`
}

// Started returns StartTime as a time.Time.
func (s Session) Started() time.Time {
	return time.UnixMilli(s.StartTime)
}

// Age returns how long the session has existed at now.
func (s Session) Age(now time.Time) time.Duration {
	return now.Sub(s.Started())
}

// Touch moves LastActivity to now, clamped to StartTime.
func (s *Session) Touch(now time.Time) {
	ms := now.UnixMilli()
	if ms < s.StartTime {
		ms = s.StartTime
	}
	s.LastActivity = ms
}
