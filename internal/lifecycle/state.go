package lifecycle

import (
	"time"

	"github.com/al-bashkir/demo-sessiond/internal/demo"
)

// State is the controller's position in the session lifecycle.
type State int

const (
	StateInactive State = iota
	StateValidating
	StateActive
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateValidating:
		return "validating"
	case StateActive:
		return "active"
	case StateEnded:
		return "ended"
	default:
		return "inactive"
	}
}

// Reasons a session ends.
const (
	ReasonExpired          = "expired"
	ReasonExit             = "exit"
	ReasonValidationFailed = "validation_failed"
	ReasonReplaced         = "replaced"
	ReasonUnload           = "unload"
	ReasonAdmin            = "admin"
	ReasonStateLost        = "state_lost"
)

// ModeChange is delivered to observers when demo mode turns on or off.
type ModeChange struct {
	Active    bool
	SessionID string
	Role      demo.Role
	Reason    string // empty when Active
	At        time.Time
}

// Observer receives mode changes. It is called without the controller's
// lock held and may call back into the controller.
type Observer func(ModeChange)

// Status is a point-in-time view of the controller.
type Status struct {
	State        State
	SessionID    string
	Role         demo.Role
	Remaining    time.Duration
	StartTime    time.Time
	LastActivity time.Time
}

// Active reports whether a session is running.
func (s Status) Active() bool {
	return s.State == StateActive || (s.State == StateValidating && s.SessionID != "")
}
