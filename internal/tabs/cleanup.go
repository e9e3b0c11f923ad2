package tabs

import (
	"context"
	"log/slog"
	"time"

	"github.com/al-bashkir/demo-sessiond/internal/lifecycle"
)

// Start launches the tick loop and the cleanup loop. They run until Stop or
// until ctx is done.
func (m *Manager) Start(ctx context.Context) {
	m.loops.Add(2)
	go m.tickLoop(ctx)
	go m.cleanupLoop(ctx)
}

// Stop stops the background loops and waits for them to return.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.loops.Wait()
}

// tickLoop drives every tab's countdown and background validation.
func (m *Manager) tickLoop(ctx context.Context) {
	defer m.loops.Done()

	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Tick(ctx)
		case <-m.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// cleanupLoop periodically unloads idle tabs and prunes the rate limiter.
func (m *Manager) cleanupLoop(ctx context.Context) {
	defer m.loops.Done()

	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Cleanup(ctx)
		case <-m.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Cleanup unloads tabs idle for longer than the idle timeout and drops
// elapsed validation limit windows. It returns the number of unloaded tabs.
func (m *Manager) Cleanup(ctx context.Context) int {
	now := m.deps.Clock.Now()

	m.mu.Lock()
	var idle []*Tab
	for id, t := range m.tabs {
		if now.Sub(t.LastSeen()) >= m.cfg.IdleTimeout {
			idle = append(idle, t)
			delete(m.tabs, id)
		}
	}
	m.mu.Unlock()

	for _, t := range idle {
		slog.Info("unloading idle tab",
			"tab_id", t.ID,
			"idle", now.Sub(t.LastSeen()).Truncate(time.Second),
		)
		m.unload(ctx, t, lifecycle.ReasonUnload)
	}

	pruned := m.deps.Limiter.Prune()

	if len(idle) > 0 || pruned > 0 {
		slog.Info("cleaned up tabs",
			"unloaded", len(idle),
			"pruned_limits", pruned,
			"tracked_limits", m.deps.Limiter.Len(),
		)
	}
	return len(idle)
}
