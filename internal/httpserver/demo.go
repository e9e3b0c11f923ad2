package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/al-bashkir/demo-sessiond/internal/analytics"
	"github.com/al-bashkir/demo-sessiond/internal/demo"
	"github.com/al-bashkir/demo-sessiond/internal/lifecycle"
	"github.com/al-bashkir/demo-sessiond/internal/tabs"
)

const (
	// TabHeader carries the tab ID for clients that do not use cookies.
	TabHeader = "X-Demo-Tab"

	// TabCookie carries the tab ID issued on start.
	TabCookie = "demo_tab"

	maxBodyBytes = 16 << 10

	// Start failures are deliberately vague.
	startFailedMessage = "Unable to start demo session"
)

// StartRequest is the body of POST /api/demo/start.
type StartRequest struct {
	Role     string         `json:"role"`
	UserData map[string]any `json:"userData,omitempty"`
}

// EventRequest is the body of POST /api/demo/events.
type EventRequest struct {
	Type    string         `json:"type"`
	Feature string         `json:"feature,omitempty"`
	Page    string         `json:"page,omitempty"`
	Extra   map[string]any `json:"extra,omitempty"`
}

// StatusResponse describes a tab's demo session.
type StatusResponse struct {
	TabID            string `json:"tabId,omitempty"`
	State            string `json:"state"`
	Active           bool   `json:"active"`
	Role             string `json:"role,omitempty"`
	SessionID        string `json:"sessionId,omitempty"`
	RemainingSeconds int64  `json:"remainingSeconds"`
	StartTime        int64  `json:"startTime,omitempty"`
	LastActivity     int64  `json:"lastActivity,omitempty"`
}

// ErrorResponse is the JSON body of every error.
type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	role, err := demo.ParseRole(req.Role)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid role")
		return
	}

	tab, err := s.tabs.Open(tabID(r))
	if err != nil {
		s.writeTabError(w, err)
		return
	}

	if !tab.ActivationAvailable(role) {
		slog.Warn("demo start refused, activation limit reached", // #nosec G706 -- values sanitized via sanitizeLog
			"tab_id", tab.ID,
			"role", role,
			"ip", sanitizeLog(extractIP(r)),
		)
		writeError(w, http.StatusTooManyRequests, startFailedMessage)
		return
	}

	tab.Controller.SetClientIP(extractIP(r))
	if !tab.Controller.Start(r.Context(), role, req.UserData) {
		writeError(w, http.StatusForbidden, startFailedMessage)
		return
	}

	s.setTabCookie(w, r, tab.ID)
	writeJSON(w, http.StatusOK, statusOf(tab))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	tab, ok := s.lookupTab(w, r)
	if !ok {
		return
	}

	tab.Controller.SetClientIP(extractIP(r))
	if !tab.Controller.Refresh(r.Context()) {
		writeError(w, http.StatusConflict, "Demo session could not be extended")
		return
	}
	writeJSON(w, http.StatusOK, statusOf(tab))
}

func (s *Server) handleTouch(w http.ResponseWriter, r *http.Request) {
	tab, ok := s.lookupTab(w, r)
	if !ok {
		return
	}

	if !tab.Controller.Touch() {
		writeError(w, http.StatusConflict, "No active demo session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExit(w http.ResponseWriter, r *http.Request) {
	// Exit is idempotent: an unknown tab has nothing to end.
	tab, err := s.tabs.Get(tabID(r))
	if err == nil {
		tab.Controller.Exit(r.Context(), lifecycle.ReasonExit)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	tab, err := s.tabs.Get(tabID(r))
	if err != nil {
		writeJSON(w, http.StatusOK, StatusResponse{State: lifecycle.StateInactive.String()})
		return
	}
	writeJSON(w, http.StatusOK, statusOf(tab))
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	kind := analytics.Kind(req.Type)
	if !analytics.IsClientKind(kind) {
		writeError(w, http.StatusBadRequest, "Unsupported event type")
		return
	}

	tab, ok := s.lookupTab(w, r)
	if !ok {
		return
	}

	data := analytics.Data{
		Feature: req.Feature,
		Page:    req.Page,
		Extra:   req.Extra,
	}
	if sess, ok := tab.Controller.Current(); ok {
		data.DemoSessionID = sess.ID
	}
	if !tab.Recorder.TrackEvent(kind, data) {
		writeError(w, http.StatusNotFound, "No active demo session")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// EventLogResponse is the body of GET /api/demo/events.
type EventLogResponse struct {
	SessionID   string            `json:"sessionId"`
	Role        string            `json:"role"`
	TotalEvents int               `json:"totalEvents"`
	Events      []analytics.Event `json:"events"`
}

// handleEventLog returns the retained, already sanitized events of the
// tab's analytics session, oldest first.
func (s *Server) handleEventLog(w http.ResponseWriter, r *http.Request) {
	tab, ok := s.lookupTab(w, r)
	if !ok {
		return
	}

	snap, ok := tab.Recorder.Snapshot()
	if !ok {
		writeError(w, http.StatusNotFound, "No active demo session")
		return
	}
	writeJSON(w, http.StatusOK, EventLogResponse{
		SessionID:   snap.SessionID,
		Role:        snap.Role,
		TotalEvents: snap.TotalEvents,
		Events:      snap.Events,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	tab, ok := s.lookupTab(w, r)
	if !ok {
		return
	}

	stats, ok := tab.Recorder.Stats()
	if !ok {
		writeError(w, http.StatusNotFound, "No active demo session")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleUnload(w http.ResponseWriter, r *http.Request) {
	id := tabID(r)
	if err := s.tabs.Unload(r.Context(), id); err != nil && !errors.Is(err, tabs.ErrTabNotFound) {
		slog.Error("failed to unload tab", "tab_id", sanitizeLog(id), "error", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     TabCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

// lookupTab resolves the caller's tab or writes a 404.
func (s *Server) lookupTab(w http.ResponseWriter, r *http.Request) (*tabs.Tab, bool) {
	tab, err := s.tabs.Get(tabID(r))
	if err != nil {
		s.writeTabError(w, err)
		return nil, false
	}
	return tab, true
}

func (s *Server) writeTabError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tabs.ErrTabNotFound):
		writeError(w, http.StatusNotFound, "No active demo session")
	case errors.Is(err, tabs.ErrInvalidTabID):
		writeError(w, http.StatusBadRequest, "Invalid tab id")
	case errors.Is(err, tabs.ErrTooManyTabs):
		writeError(w, http.StatusServiceUnavailable, startFailedMessage)
	default:
		slog.Error("tab lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
	}
}

func (s *Server) setTabCookie(w http.ResponseWriter, r *http.Request, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     TabCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   int(s.cfg.Demo.TabIdleTimeout / time.Second),
		HttpOnly: true,
		Secure:   r.TLS != nil || s.cfg.TLS.Enabled,
		SameSite: http.SameSiteStrictMode,
	})
}

// tabID returns the tab ID from the header, falling back to the cookie.
func tabID(r *http.Request) string {
	if id := r.Header.Get(TabHeader); id != "" {
		return id
	}
	if c, err := r.Cookie(TabCookie); err == nil {
		return c.Value
	}
	return ""
}

func statusOf(tab *tabs.Tab) StatusResponse {
	st := tab.Controller.Status()
	resp := StatusResponse{
		TabID:            tab.ID,
		State:            st.State.String(),
		Active:           st.Active(),
		Role:             string(st.Role),
		SessionID:        st.SessionID,
		RemainingSeconds: int64(st.Remaining / time.Second),
	}
	if st.SessionID != "" {
		resp.StartTime = st.StartTime.UnixMilli()
		resp.LastActivity = st.LastActivity.UnixMilli()
	}
	return resp
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Best-effort: headers/status may already be written.
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
