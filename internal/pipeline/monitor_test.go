package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vicwatch/vicemergency-monitor/internal/domain"
	"github.com/vicwatch/vicemergency-monitor/internal/history"
	"github.com/vicwatch/vicemergency-monitor/internal/observability"
	"github.com/vicwatch/vicemergency-monitor/internal/state"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeFetcher struct {
	incidents []domain.Incident
	err       error
}

func (f *fakeFetcher) FetchIncidents(_ context.Context) ([]domain.Incident, error) {
	return f.incidents, f.err
}

type fakeWarningFetcher struct {
	warnings []domain.Warning
	err      error
}

func (f *fakeWarningFetcher) FetchWarnings(_ context.Context) ([]domain.Warning, error) {
	return f.warnings, f.err
}

// stubResolver maps known suburb strings to postcodes and everything else to
// the Unknown sentinel.
type stubResolver struct {
	byLocation map[string]string
}

func (r *stubResolver) Resolve(_ context.Context, location string, _, _ float64, _ string) string {
	if pc, ok := r.byLocation[location]; ok {
		return pc
	}
	return domain.UnknownPostcode
}

type fakePublisher struct {
	published [][]domain.EmergencyStatus
	err       error
}

func (p *fakePublisher) PublishChanges(_ context.Context, statuses []domain.EmergencyStatus) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, statuses)
	return nil
}

type fixture struct {
	monitor  *Monitor
	fetcher  *fakeFetcher
	warnings *fakeWarningFetcher
	store    *state.Store
	tracker  *history.Tracker
	clock    *clockwork.FakeClock
}

func newFixture(t *testing.T, publisher ChangePublisher) *fixture {
	t.Helper()
	dir := t.TempDir()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC))
	logger := discardLogger()

	fetcher := &fakeFetcher{}
	warnings := &fakeWarningFetcher{}
	resolver := &stubResolver{byLocation: map[string]string{
		"MELBOURNE":    "3000",
		"CLIFTON HILL": "3068",
	}}
	store := state.NewStore(filepath.Join(dir, "state.json"), clock, logger)
	tracker := history.NewTracker(filepath.Join(dir, "history.json"), clock, logger)

	monitor := NewMonitor(fetcher, warnings, resolver, store, tracker, publisher,
		clock, logger, observability.NewMetricsForTesting())

	return &fixture{
		monitor:  monitor,
		fetcher:  fetcher,
		warnings: warnings,
		store:    store,
		tracker:  tracker,
		clock:    clock,
	}
}

func incident(id int64, originStatus string) domain.Incident {
	return domain.Incident{
		ID:           id,
		Location:     "MELBOURNE",
		Status:       "Not Yet Under Control",
		OriginStatus: originStatus,
		Category2:    "Fire",
		LastUpdate:   "01/02/2026 11:55:00",
	}
}

func TestRunCycle_IncidentLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.fetcher.incidents = []domain.Incident{incident(101, "Going")}
	statuses, err := f.monitor.RunCycle(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, domain.ChangeNew, statuses[0].Change)
	assert.Equal(t, "3000", statuses[0].Postcode)
	assert.Equal(t, "Not Yet Under Control - Fire - Going", statuses[0].Type)
	assert.Empty(t, statuses[0].PreviousStatus)

	f.clock.Advance(10 * time.Minute)
	f.fetcher.incidents = []domain.Incident{incident(101, "Contained")}
	statuses, err = f.monitor.RunCycle(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, domain.ChangeDeescalated, statuses[0].Change)
	assert.Equal(t, "Going", statuses[0].PreviousStatus)

	f.clock.Advance(10 * time.Minute)
	f.fetcher.incidents = []domain.Incident{incident(101, "Safe")}
	statuses, err = f.monitor.RunCycle(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, domain.ChangeResolved, statuses[0].Change)
}

func TestRunCycle_FetchErrorDegradesToEmpty(t *testing.T) {
	f := newFixture(t, nil)
	f.fetcher.err = errors.New("upstream 503")

	statuses, err := f.monitor.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Empty(t, statuses)
}

func TestRunCycle_SortedByPostcode(t *testing.T) {
	f := newFixture(t, nil)
	f.fetcher.incidents = []domain.Incident{
		{ID: 1, Location: "CLIFTON HILL", OriginStatus: "Going", LastUpdate: "01/02/2026 11:00:00"},
		{ID: 2, Location: "MELBOURNE", OriginStatus: "Going", LastUpdate: "01/02/2026 11:00:00"},
		{ID: 3, Location: "NOWHERE", OriginStatus: "Going", LastUpdate: "01/02/2026 11:00:00"},
	}

	statuses, err := f.monitor.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, statuses, 3)
	assert.Equal(t, "3000", statuses[0].Postcode)
	assert.Equal(t, "3068", statuses[1].Postcode)
	assert.Equal(t, domain.UnknownPostcode, statuses[2].Postcode)
}

func TestRunCycle_RecordsSnapshot(t *testing.T) {
	f := newFixture(t, nil)
	f.fetcher.incidents = []domain.Incident{incident(101, "Going")}

	_, err := f.monitor.RunCycle(context.Background())
	require.NoError(t, err)

	snaps := f.tracker.Snapshots()
	require.Len(t, snaps, 1)
	assert.Equal(t, "20260201_120000", snaps[0].ID)
	assert.Equal(t, 1, snaps[0].Count)

	entries := f.tracker.PostcodeHistory("3000")
	require.Len(t, entries, 1)
	assert.Equal(t, "Going", entries[0].Status)
}

func TestRunCycle_WarningsFoldIntoHistory(t *testing.T) {
	f := newFixture(t, nil)
	f.warnings.warnings = []domain.Warning{{
		ID:        "w-1",
		Type:      "Watch and Act - Fire",
		Level:     "Watch and Act",
		Category:  "Fire",
		Status:    "Active",
		Location:  "Clifton Hill area",
		Suburbs:   []string{"CLIFTON HILL"},
		UpdatedAt: time.Date(2026, 2, 1, 11, 50, 0, 0, time.UTC),
	}}

	_, err := f.monitor.RunCycle(context.Background())
	require.NoError(t, err)

	entries := f.tracker.PostcodeHistory("3068")
	require.Len(t, entries, 1)
	assert.Equal(t, "Active", entries[0].Status)
	assert.Equal(t, "Watch and Act", entries[0].Level)
}

func TestRunCycle_WarningFetchErrorIsNonFatal(t *testing.T) {
	f := newFixture(t, nil)
	f.fetcher.incidents = []domain.Incident{incident(101, "Going")}
	f.warnings.err = errors.New("parse failure")

	statuses, err := f.monitor.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Len(t, statuses, 1)
}

func TestRunCycle_PublishesChangesOnly(t *testing.T) {
	pub := &fakePublisher{}
	f := newFixture(t, pub)
	ctx := context.Background()

	f.fetcher.incidents = []domain.Incident{incident(101, "Going")}
	_, err := f.monitor.RunCycle(ctx)
	require.NoError(t, err)
	require.Len(t, pub.published, 1)
	assert.Equal(t, domain.ChangeNew, pub.published[0][0].Change)

	// Second cycle with the same status has no changes to publish.
	_, err = f.monitor.RunCycle(ctx)
	require.NoError(t, err)
	assert.Len(t, pub.published, 1)
}

func TestRunCycle_PublishErrorIsNonFatal(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	f := newFixture(t, pub)
	f.fetcher.incidents = []domain.Incident{incident(101, "Going")}

	_, err := f.monitor.RunCycle(context.Background())
	require.NoError(t, err)
}

func TestStats(t *testing.T) {
	f := newFixture(t, nil)
	assert.True(t, f.monitor.Stats().LastCycle.IsZero())

	f.fetcher.incidents = []domain.Incident{incident(101, "Going")}
	_, err := f.monitor.RunCycle(context.Background())
	require.NoError(t, err)

	stats := f.monitor.Stats()
	assert.Equal(t, 1, stats.TrackedEntities)
	assert.Equal(t, time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC), stats.LastCycle)
}

func TestCheckReadiness(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	assert.Error(t, f.monitor.CheckReadiness(ctx))

	_, err := f.monitor.RunCycle(ctx)
	require.NoError(t, err)
	assert.NoError(t, f.monitor.CheckReadiness(ctx))
}

func TestChangesOnly(t *testing.T) {
	statuses := []domain.EmergencyStatus{
		{IncidentID: 1, Change: domain.ChangeNew},
		{IncidentID: 2, Change: domain.ChangeNone},
		{IncidentID: 3, Change: domain.ChangeResolved},
	}

	changed := ChangesOnly(statuses)
	require.Len(t, changed, 2)
	assert.Equal(t, int64(1), changed[0].IncidentID)
	assert.Equal(t, int64(3), changed[1].IncidentID)
}

func TestBuildTypeString(t *testing.T) {
	tests := []struct {
		name string
		inc  domain.Incident
		want string
	}{
		{"all parts", domain.Incident{Status: "In Progress", Category2: "Fire", OriginStatus: "Going"}, "In Progress - Fire - Going"},
		{"missing category", domain.Incident{Status: "In Progress", OriginStatus: "Going"}, "In Progress - Going"},
		{"status only", domain.Incident{OriginStatus: "Going"}, "Going"},
		{"all empty", domain.Incident{}, "Unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, buildTypeString(tt.inc))
		})
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- f.monitor.Run(ctx, time.Minute, nil)
	}()

	// The first cycle runs immediately; cancelling stops the loop before
	// the next tick.
	require.Eventually(t, func() bool {
		return f.monitor.CheckReadiness(ctx) == nil
	}, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop after cancellation")
	}
}
