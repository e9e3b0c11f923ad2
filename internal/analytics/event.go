// Package analytics records demo session lifecycle and feature-usage events
// in a capped, sanitized log and flushes it to a remote sink when the
// session ends.
package analytics

// Kind is the type tag of an Event.
type Kind string

const (
	KindStarted          Kind = "started"
	KindEnded            Kind = "ended"
	KindRefreshed        Kind = "refreshed"
	KindValidationFailed Kind = "validation_failed"
	KindFeatureUsed      Kind = "feature_used"
	KindPageView         Kind = "page_view"
	KindCustom           Kind = "custom"
)

// ClientKinds are the kinds callers outside the lifecycle may record.
var ClientKinds = []Kind{KindFeatureUsed, KindPageView, KindCustom}

// IsClientKind reports whether k may be recorded by a caller.
func IsClientKind(k Kind) bool {
	for _, c := range ClientKinds {
		if c == k {
			return true
		}
	}
	return false
}

// Data is the payload of an Event. Known kinds use the typed fields; Extra
// carries anything else.
type Data struct {
	DemoSessionID string         `json:"demoSessionId,omitempty"`
	Role          string         `json:"role,omitempty"`
	Feature       string         `json:"feature,omitempty"`
	Page          string         `json:"page,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	DurationMs    int64          `json:"durationMs,omitempty"`
	EventCount    int            `json:"eventCount,omitempty"`
	Extra         map[string]any `json:"extra,omitempty"`

	// Set when the payload was too large and has been dropped.
	Truncated    bool `json:"truncated,omitempty"`
	OriginalSize int  `json:"originalSize,omitempty"`
}

// Event is one entry of the session log.
type Event struct {
	Type      Kind  `json:"type"`
	Data      Data  `json:"data"`
	Timestamp int64 `json:"timestamp"` // epoch millis
}

// Session is the analytics record of one demo session.
type Session struct {
	SessionID    string         `json:"sessionId"`
	Role         string         `json:"role"`
	StartTime    int64          `json:"startTime"`
	LastActivity int64          `json:"lastActivity"`
	Events       []Event        `json:"events"`
	IsActive     bool           `json:"isActive"`
	UserData     map[string]any `json:"userData,omitempty"`

	// TotalEvents counts every tracked event, including evicted ones.
	TotalEvents int `json:"totalEvents"`
}

// Report is the payload sent to the analytics sink.
type Report struct {
	SessionID  string         `json:"sessionId"`
	Role       string         `json:"role"`
	DurationMs int64          `json:"duration"`
	Events     []Event        `json:"events"`
	UserData   map[string]any `json:"userData,omitempty"`
}

// Stats aggregates a resident session for display.
type Stats struct {
	SessionID    string       `json:"sessionId"`
	Role         string       `json:"role"`
	DurationMs   int64        `json:"durationMs"`
	EventCount   int          `json:"eventCount"`
	TotalEvents  int          `json:"totalEvents"`
	ByType       map[Kind]int `json:"byType"`
	LastActivity int64        `json:"lastActivity"`
}
