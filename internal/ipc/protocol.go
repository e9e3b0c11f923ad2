// Package ipc implements the local admin channel: newline-delimited JSON
// over a Unix socket.
package ipc

import "errors"

// MessageType represents the type of IPC message
type MessageType string

const (
	// MessageTypeStatus asks for the state of every tab
	MessageTypeStatus MessageType = "status"
	// MessageTypeEndSession forces the session of one tab to end
	MessageTypeEndSession MessageType = "end_session"
	// MessageTypeResponse is every reply from the daemon
	MessageTypeResponse MessageType = "response"
)

// Request is sent from the admin CLI to the daemon.
type Request struct {
	Type  MessageType `json:"type"`
	TabID string      `json:"tab_id,omitempty"`
}

// TabStatus describes one tab in a status response.
type TabStatus struct {
	TabID            string `json:"tab_id"`
	State            string `json:"state"`
	Role             string `json:"role,omitempty"`
	SessionID        string `json:"session_id,omitempty"`
	RemainingSeconds int64  `json:"remaining_seconds"`
	LastSeen         int64  `json:"last_seen"` // epoch millis
}

// Response is sent from the daemon back to the admin CLI
type Response struct {
	Type   MessageType `json:"type"`
	Status string      `json:"status"` // "ok" or "error"
	Tabs   []TabStatus `json:"tabs,omitempty"`
	Ended  bool        `json:"ended,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// ResponseStatus constants
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// ErrUnknownType is returned by handlers for unsupported request types.
var ErrUnknownType = errors.New("unknown request type")

// Valid reports whether t is a request type the daemon accepts.
func (t MessageType) Valid() bool {
	return t == MessageTypeStatus || t == MessageTypeEndSession
}
