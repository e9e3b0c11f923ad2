package analytics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/al-bashkir/demo-sessiond/internal/clock"
	"github.com/al-bashkir/demo-sessiond/internal/store"
)

// StoreKey is the store key of the persisted analytics session.
const StoreKey = "analytics_session"

// DefaultCap is the default maximum number of retained events.
const DefaultCap = 100

// Sink receives the report of an ended session.
type Sink interface {
	Send(ctx context.Context, report Report) error
}

// Options configures a Recorder.
type Options struct {
	// Cap is the maximum number of retained events; older ones are evicted.
	Cap int

	// FlushTimeout bounds a single Sink.Send call.
	FlushTimeout time.Duration
}

// Recorder owns the analytics session of one tab and is its only writer.
// It is safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	store   *store.Store
	sink    Sink
	clock   clock.Clock
	opts    Options
	session *Session
	flushes sync.WaitGroup
}

// NewRecorder creates a Recorder persisting to st. sink may be nil, in which
// case reports are only logged.
func NewRecorder(st *store.Store, sink Sink, c clock.Clock, opts Options) *Recorder {
	if c == nil {
		c = clock.System{}
	}
	if opts.Cap <= 0 {
		opts.Cap = DefaultCap
	}
	if opts.FlushTimeout <= 0 {
		opts.FlushTimeout = 10 * time.Second
	}
	return &Recorder{store: st, sink: sink, clock: c, opts: opts}
}

// StartSession opens a new analytics session and returns its ID. A session
// already resident is discarded without a report.
func (r *Recorder) StartSession(userData map[string]any, role string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session != nil {
		slog.Warn("replacing unfinished analytics session", "session_id", r.session.SessionID)
	}

	now := r.clock.Now().UnixMilli()
	r.session = &Session{
		SessionID:    uuid.NewString(),
		Role:         role,
		StartTime:    now,
		LastActivity: now,
		Events:       make([]Event, 0, r.opts.Cap),
		IsActive:     true,
		UserData:     SanitizeMap(userData),
	}
	r.persistLocked()
	return r.session.SessionID
}

// TrackEvent sanitizes data and appends an event. It reports false when no
// session is resident.
func (r *Recorder) TrackEvent(kind Kind, data Data) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session == nil {
		return false
	}
	r.appendLocked(kind, SanitizeData(data))
	r.persistLocked()
	return true
}

// EndSession appends the final ended event and flushes the session to the
// sink in the background. Without a resident session it does nothing.
func (r *Recorder) EndSession(ctx context.Context, reason string) {
	r.mu.Lock()
	sess := r.session
	if sess == nil {
		r.mu.Unlock()
		return
	}

	now := r.clock.Now()
	duration := now.Sub(time.UnixMilli(sess.StartTime)).Milliseconds()
	r.appendLocked(KindEnded, SanitizeData(Data{
		Reason:     reason,
		DurationMs: duration,
		EventCount: sess.TotalEvents,
	}))
	sess.IsActive = false

	report := Report{
		SessionID:  sess.SessionID,
		Role:       sess.Role,
		DurationMs: duration,
		Events:     append([]Event(nil), sess.Events...),
		UserData:   sess.UserData,
	}
	r.session = nil
	r.store.Remove(StoreKey)
	r.mu.Unlock()

	slog.Info("analytics session ended",
		"session_id", report.SessionID,
		"role", report.Role,
		"duration_ms", report.DurationMs,
		"events", len(report.Events),
	)

	if r.sink == nil {
		return
	}
	r.flushes.Add(1)
	go r.flush(context.WithoutCancel(ctx), report)
}

func (r *Recorder) flush(ctx context.Context, report Report) {
	defer r.flushes.Done()

	ctx, cancel := context.WithTimeout(ctx, r.opts.FlushTimeout)
	defer cancel()

	if err := r.sink.Send(ctx, report); err != nil {
		slog.Warn("failed to flush analytics session",
			"session_id", report.SessionID,
			"error", err,
		)
	}
}

// Wait blocks until all pending flushes have finished.
func (r *Recorder) Wait() {
	r.flushes.Wait()
}

// Stats aggregates the resident session. The second result is false when
// no session is resident.
func (r *Recorder) Stats() (Stats, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session == nil {
		return Stats{}, false
	}
	byType := make(map[Kind]int)
	for _, e := range r.session.Events {
		byType[e.Type]++
	}
	return Stats{
		SessionID:    r.session.SessionID,
		Role:         r.session.Role,
		DurationMs:   r.clock.Now().UnixMilli() - r.session.StartTime,
		EventCount:   len(r.session.Events),
		TotalEvents:  r.session.TotalEvents,
		ByType:       byType,
		LastActivity: r.session.LastActivity,
	}, true
}

// Snapshot returns a copy of the resident session.
func (r *Recorder) Snapshot() (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session == nil {
		return Session{}, false
	}
	cp := *r.session
	cp.Events = append([]Event(nil), r.session.Events...)
	return cp, true
}

func (r *Recorder) appendLocked(kind Kind, data Data) {
	now := r.clock.Now().UnixMilli()
	sess := r.session

	if len(sess.Events) >= r.opts.Cap {
		drop := len(sess.Events) - r.opts.Cap + 1
		copy(sess.Events, sess.Events[drop:])
		sess.Events = sess.Events[:len(sess.Events)-drop]
	}
	sess.Events = append(sess.Events, Event{Type: kind, Data: data, Timestamp: now})
	sess.TotalEvents++
	if now > sess.LastActivity {
		sess.LastActivity = now
	}
}

func (r *Recorder) persistLocked() {
	if err := r.store.Set(StoreKey, r.session); err != nil {
		slog.Warn("failed to persist analytics session",
			"session_id", r.session.SessionID,
			"error", err,
		)
	}
}
