package tabs

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/al-bashkir/demo-sessiond/internal/analytics"
	"github.com/al-bashkir/demo-sessiond/internal/clock"
	"github.com/al-bashkir/demo-sessiond/internal/demo"
	"github.com/al-bashkir/demo-sessiond/internal/lifecycle"
	"github.com/al-bashkir/demo-sessiond/internal/ratelimit"
	"github.com/al-bashkir/demo-sessiond/internal/store"
)

var (
	// ErrTabNotFound is returned for unknown tab IDs.
	ErrTabNotFound = errors.New("tab not found")

	// ErrTooManyTabs is returned when MaxTabs tabs are already tracked.
	ErrTooManyTabs = errors.New("too many tabs")

	// ErrInvalidTabID is returned for IDs that are not UUIDs.
	ErrInvalidTabID = errors.New("invalid tab id")
)

// Config tunes the manager and every tab it creates.
type Config struct {
	Controller      lifecycle.Options
	Recorder        analytics.Options
	StaleAfter      time.Duration
	IdleTimeout     time.Duration
	TickInterval    time.Duration
	CleanupInterval time.Duration
	MaxTabs         int
}

// Deps are shared by all tabs. Limiter is the process-wide limiter the
// validator counts per-session attempts in; Cleanup prunes it. Activation
// attempts are counted per tab.
type Deps struct {
	Clock     clock.Clock
	Limiter   *ratelimit.Limiter
	Validator lifecycle.Validator
	Codec     *store.Codec
	Sink      analytics.Sink

	// OnModeChange, if set, is called for every mode change of every tab.
	OnModeChange func(tabID string, change lifecycle.ModeChange)
}

// Manager tracks tabs in memory, drives their countdowns and unloads idle
// ones. It is safe for concurrent use.
type Manager struct {
	mu      sync.RWMutex
	tabs    map[string]*Tab
	cfg     Config
	deps    Deps
	factory *demo.Factory

	stopOnce sync.Once
	stop     chan struct{}
	loops    sync.WaitGroup
}

// NewManager creates a manager. Background loops are started by Start.
func NewManager(deps Deps, cfg Config) *Manager {
	if deps.Clock == nil {
		deps.Clock = clock.System{}
	}
	if deps.Limiter == nil {
		deps.Limiter = ratelimit.New(deps.Clock)
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	return &Manager{
		tabs:    make(map[string]*Tab),
		cfg:     cfg,
		deps:    deps,
		factory: demo.NewFactory(deps.Clock),
		stop:    make(chan struct{}),
	}
}

// Open returns the tab with id, creating it if needed. An empty id gets a
// fresh UUID.
func (m *Manager) Open(id string) (*Tab, error) {
	if id == "" {
		id = uuid.NewString()
	} else if _, err := uuid.Parse(id); err != nil {
		return nil, ErrInvalidTabID
	}

	now := m.deps.Clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.tabs[id]; ok {
		t.seen(now)
		return t, nil
	}
	if m.cfg.MaxTabs > 0 && len(m.tabs) >= m.cfg.MaxTabs {
		return nil, ErrTooManyTabs
	}

	t := m.newTab(id, now)
	m.tabs[id] = t

	slog.Debug("tab opened", "tab_id", id)
	return t, nil
}

// Get returns an existing tab and marks it as seen.
func (m *Manager) Get(id string) (*Tab, error) {
	m.mu.RLock()
	t, ok := m.tabs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrTabNotFound
	}
	t.seen(m.deps.Clock.Now())
	return t, nil
}

// Unload ends the tab's session with reason "unload", wipes its storage and
// forgets the tab.
func (m *Manager) Unload(ctx context.Context, id string) error {
	m.mu.Lock()
	t, ok := m.tabs[id]
	if ok {
		delete(m.tabs, id)
	}
	m.mu.Unlock()
	if !ok {
		return ErrTabNotFound
	}

	m.unload(ctx, t, lifecycle.ReasonUnload)
	return nil
}

// EndSession ends a tab's running session. The tab itself stays.
func (m *Manager) EndSession(ctx context.Context, id, reason string) (bool, error) {
	m.mu.RLock()
	t, ok := m.tabs[id]
	m.mu.RUnlock()
	if !ok {
		return false, ErrTabNotFound
	}

	if !t.Controller.Status().Active() {
		return false, nil
	}
	t.Controller.Exit(ctx, reason)
	return true, nil
}

// List returns all tabs sorted by ID.
func (m *Manager) List() []Info {
	m.mu.RLock()
	tabs := make([]*Tab, 0, len(m.tabs))
	for _, t := range m.tabs {
		tabs = append(tabs, t)
	}
	m.mu.RUnlock()

	infos := make([]Info, 0, len(tabs))
	for _, t := range tabs {
		infos = append(infos, Info{
			ID:        t.ID,
			Status:    t.Controller.Status(),
			CreatedAt: t.CreatedAt,
			LastSeen:  t.LastSeen(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Count returns the number of tracked tabs.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tabs)
}

// ActiveCount returns the number of tabs with a running session.
func (m *Manager) ActiveCount() int {
	n := 0
	for _, info := range m.List() {
		if info.Status.Active() {
			n++
		}
	}
	return n
}

// Tick advances every tab's controller once. Tabs are ticked concurrently
// so one slow remote validation does not stall the others.
func (m *Manager) Tick(ctx context.Context) {
	m.mu.RLock()
	tabs := make([]*Tab, 0, len(m.tabs))
	for _, t := range m.tabs {
		tabs = append(tabs, t)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, t := range tabs {
		if !t.Controller.Status().Active() {
			continue
		}
		wg.Add(1)
		go func(t *Tab) {
			defer wg.Done()
			t.Controller.Tick(ctx)
		}(t)
	}
	wg.Wait()
}

// Close ends every running session and waits for pending analytics
// flushes. Call Stop first.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	tabs := m.tabs
	m.tabs = make(map[string]*Tab)
	m.mu.Unlock()

	for _, t := range tabs {
		m.unload(ctx, t, lifecycle.ReasonUnload)
	}
	for _, t := range tabs {
		t.Recorder.Wait()
	}
}

func (m *Manager) unload(ctx context.Context, t *Tab, reason string) {
	t.Controller.Exit(ctx, reason)
	if n := t.Store.ClearAll(); n > 0 {
		slog.Debug("cleared tab storage", "tab_id", t.ID, "keys", n)
	}
	slog.Debug("tab unloaded", "tab_id", t.ID, "reason", reason)
}

func (m *Manager) newTab(id string, now time.Time) *Tab {
	backend := store.NewMemoryBackend()
	st := store.New(backend, m.deps.Codec,
		store.WithClock(m.deps.Clock),
		store.WithStaleAfter(m.cfg.StaleAfter),
	)

	activation := ratelimit.New(m.deps.Clock)
	rec := analytics.NewRecorder(st, m.deps.Sink, m.deps.Clock, m.cfg.Recorder)
	ctrl := lifecycle.New(lifecycle.Deps{
		Clock:     m.deps.Clock,
		Limiter:   activation,
		Factory:   m.factory,
		Validator: m.deps.Validator,
		Store:     st,
		Recorder:  rec,
	}, m.cfg.Controller)

	ctrl.Subscribe(func(ch lifecycle.ModeChange) {
		if ch.Active {
			slog.Info("demo mode on", "tab_id", id, "session_id", ch.SessionID, "role", ch.Role)
		} else {
			slog.Info("demo mode off", "tab_id", id, "session_id", ch.SessionID, "reason", ch.Reason)
		}
		if m.deps.OnModeChange != nil {
			m.deps.OnModeChange(id, ch)
		}
	})

	return &Tab{
		ID:         id,
		Controller: ctrl,
		Recorder:   rec,
		Store:      st,
		CreatedAt:  now,
		backend:    backend,
		clock:      m.deps.Clock,
		activation: activation,
		policy:     m.cfg.Controller.ActivationLimit,
		lastSeen:   now,
	}
}
