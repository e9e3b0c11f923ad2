package analytics_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/al-bashkir/demo-sessiond/internal/analytics"
	"github.com/al-bashkir/demo-sessiond/internal/clock"
	"github.com/al-bashkir/demo-sessiond/internal/store"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeSink struct {
	mu      sync.Mutex
	reports []analytics.Report
	err     error
}

func (s *fakeSink) Send(_ context.Context, report analytics.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, report)
	return s.err
}

func (s *fakeSink) Reports() []analytics.Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]analytics.Report(nil), s.reports...)
}

func newRecorder(t *testing.T, sink analytics.Sink, cap int) (*analytics.Recorder, *store.Store, *clock.Fake) {
	t.Helper()
	codec, err := store.NewCodec("")
	require.NoError(t, err)
	fake := clock.NewFake(epoch)
	st := store.New(store.NewMemoryBackend(), codec, store.WithClock(fake))
	return analytics.NewRecorder(st, sink, fake, analytics.Options{Cap: cap}), st, fake
}

func TestRecorder_CapEvictsOldestFirst(t *testing.T) {
	rec, _, fake := newRecorder(t, nil, 100)
	rec.StartSession(nil, "Vendor")

	for i := 0; i < 150; i++ {
		fake.Advance(time.Second)
		require.True(t, rec.TrackEvent(analytics.KindFeatureUsed, analytics.Data{EventCount: i + 1}))
	}

	snap, ok := rec.Snapshot()
	require.True(t, ok)
	require.Len(t, snap.Events, 100)
	require.Equal(t, 150, snap.TotalEvents)
	for i, e := range snap.Events {
		require.Equal(t, 51+i, e.Data.EventCount, "event %d out of order", i)
	}
}

func TestRecorder_TrackWithoutSession(t *testing.T) {
	rec, _, _ := newRecorder(t, nil, 10)
	require.False(t, rec.TrackEvent(analytics.KindPageView, analytics.Data{Page: "/vendors"}))

	_, ok := rec.Stats()
	require.False(t, ok)
}

func TestRecorder_TrackRefreshesLastActivityAndPersists(t *testing.T) {
	rec, st, fake := newRecorder(t, nil, 10)
	rec.StartSession(map[string]any{"source": "landing"}, "Partner Admin")

	fake.Advance(42 * time.Second)
	rec.TrackEvent(analytics.KindPageView, analytics.Data{Page: "/dashboard"})

	var persisted analytics.Session
	require.True(t, st.Get(analytics.StoreKey, &persisted))
	require.Equal(t, epoch.Add(42*time.Second).UnixMilli(), persisted.LastActivity)
	require.Len(t, persisted.Events, 1)
	require.Equal(t, "landing", persisted.UserData["source"])
}

func TestRecorder_EndSessionFlushesReport(t *testing.T) {
	sink := &fakeSink{}
	rec, st, fake := newRecorder(t, sink, 10)
	id := rec.StartSession(map[string]any{"company": "Acme", "password": "hunter2"}, "Vendor")
	rec.TrackEvent(analytics.KindStarted, analytics.Data{DemoSessionID: "demo_1"})
	rec.TrackEvent(analytics.KindFeatureUsed, analytics.Data{Feature: "vendor-onboarding"})

	fake.Advance(10 * time.Minute)
	rec.EndSession(context.Background(), "expired")
	rec.Wait()

	reports := sink.Reports()
	require.Len(t, reports, 1)
	report := reports[0]
	assert.Equal(t, id, report.SessionID)
	assert.Equal(t, "Vendor", report.Role)
	assert.Equal(t, (10 * time.Minute).Milliseconds(), report.DurationMs)
	assert.Equal(t, map[string]any{"company": "Acme"}, report.UserData)
	require.Len(t, report.Events, 3)

	ended := report.Events[2]
	assert.Equal(t, analytics.KindEnded, ended.Type)
	assert.Equal(t, "expired", ended.Data.Reason)
	assert.Equal(t, 2, ended.Data.EventCount)
	assert.Equal(t, (10 * time.Minute).Milliseconds(), ended.Data.DurationMs)

	var persisted analytics.Session
	require.False(t, st.Get(analytics.StoreKey, &persisted))
	_, ok := rec.Stats()
	require.False(t, ok)
}

func TestRecorder_FlushFailureIsSwallowed(t *testing.T) {
	sink := &fakeSink{err: errors.New("sink unavailable")}
	rec, _, _ := newRecorder(t, sink, 10)
	rec.StartSession(nil, "Vendor")

	require.NotPanics(t, func() {
		rec.EndSession(context.Background(), "exit")
		rec.Wait()
	})
	require.Len(t, sink.Reports(), 1)
}

func TestRecorder_EndSessionIdempotent(t *testing.T) {
	sink := &fakeSink{}
	rec, _, _ := newRecorder(t, sink, 10)

	rec.EndSession(context.Background(), "exit")
	rec.StartSession(nil, "Vendor")
	rec.EndSession(context.Background(), "exit")
	rec.EndSession(context.Background(), "exit")
	rec.Wait()

	require.Len(t, sink.Reports(), 1)
}

func TestRecorder_Stats(t *testing.T) {
	rec, _, fake := newRecorder(t, nil, 10)
	rec.StartSession(nil, "Partner Manager")
	rec.TrackEvent(analytics.KindStarted, analytics.Data{})
	rec.TrackEvent(analytics.KindPageView, analytics.Data{Page: "/a"})
	rec.TrackEvent(analytics.KindPageView, analytics.Data{Page: "/b"})
	rec.TrackEvent(analytics.KindFeatureUsed, analytics.Data{Feature: "billing"})
	fake.Advance(3 * time.Minute)

	stats, ok := rec.Stats()
	require.True(t, ok)
	require.Equal(t, "Partner Manager", stats.Role)
	require.Equal(t, 4, stats.EventCount)
	require.Equal(t, (3 * time.Minute).Milliseconds(), stats.DurationMs)
	require.Equal(t, map[analytics.Kind]int{
		analytics.KindStarted:     1,
		analytics.KindPageView:    2,
		analytics.KindFeatureUsed: 1,
	}, stats.ByType)
}

func TestRecorder_SanitizesEventData(t *testing.T) {
	rec, _, _ := newRecorder(t, nil, 10)
	rec.StartSession(nil, "Vendor")

	rec.TrackEvent(analytics.KindCustom, analytics.Data{
		Feature: strings.Repeat("f", 800),
		Extra: map[string]any{
			"accessToken": "abc",
			"note":        "line\nbreak",
		},
	})

	snap, _ := rec.Snapshot()
	data := snap.Events[0].Data
	require.Len(t, data.Feature, analytics.MaxStringLength)
	require.Equal(t, map[string]any{"note": "line_break"}, data.Extra)
}
