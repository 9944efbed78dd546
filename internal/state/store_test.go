package state

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vicwatch/vicemergency-monitor/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testStore(t *testing.T) (*Store, *clockwork.FakeClock, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.json")
	clock := clockwork.NewFakeClockAt(time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC))
	return NewStore(path, clock, discardLogger()), clock, path
}

func incident(id int64, originStatus string) domain.Incident {
	return domain.Incident{
		ID:           id,
		OriginStatus: originStatus,
		Status:       "Active",
		Category2:    "Bushfire",
		Location:     "KINGLAKE",
		LastUpdate:   "01/02/2026 11:55:00",
	}
}

func TestDetectChange_FirstObservationIsNew(t *testing.T) {
	s, _, _ := testStore(t)

	change, prev := s.DetectChange("101", "Going")
	assert.Equal(t, domain.ChangeNew, change)
	assert.Empty(t, prev)
}

func TestDetectChange_IncidentLifecycle(t *testing.T) {
	s, _, _ := testStore(t)

	// First poll: incident 101 appears as Going.
	change, _ := s.DetectChange("101", "Going")
	assert.Equal(t, domain.ChangeNew, change)
	require.NoError(t, s.UpdateState([]domain.Incident{incident(101, "Going")}))

	// Second poll: Contained ranks below Going, so this is a de-escalation.
	change, prev := s.DetectChange("101", "Contained")
	assert.Equal(t, domain.ChangeDeescalated, change)
	assert.Equal(t, "Going", prev)
	require.NoError(t, s.UpdateState([]domain.Incident{incident(101, "Contained")}))

	// Third poll: Safe resolves the incident.
	change, prev = s.DetectChange("101", "Safe")
	assert.Equal(t, domain.ChangeResolved, change)
	assert.Equal(t, "Contained", prev)
}

func TestDetectChange_RespondingToContained(t *testing.T) {
	s, _, _ := testStore(t)
	require.NoError(t, s.UpdateState([]domain.Incident{incident(7, "Responding")}))

	change, prev := s.DetectChange("7", "Contained")
	assert.Equal(t, domain.ChangeDeescalated, change)
	assert.Equal(t, "Responding", prev)
}

func TestDetectChange_Escalation(t *testing.T) {
	s, _, _ := testStore(t)
	require.NoError(t, s.UpdateState([]domain.Incident{incident(7, "Controlled")}))

	change, _ := s.DetectChange("7", "Going")
	assert.Equal(t, domain.ChangeEscalated, change)
}

func TestDetectChange_UnchangedStatus(t *testing.T) {
	s, _, _ := testStore(t)
	require.NoError(t, s.UpdateState([]domain.Incident{incident(7, "Going")}))

	change, prev := s.DetectChange("7", "Going")
	assert.Equal(t, domain.ChangeNone, change)
	assert.Equal(t, "Going", prev)

	// Going and Responding share a priority rank; flipping between them is
	// not a status change.
	change, _ = s.DetectChange("7", "Responding")
	assert.Equal(t, domain.ChangeNone, change)
}

func TestDetectChange_SafeToSafeIsNotResolved(t *testing.T) {
	s, _, _ := testStore(t)
	require.NoError(t, s.UpdateState([]domain.Incident{incident(7, "Safe")}))

	change, _ := s.DetectChange("7", "Safe")
	assert.Equal(t, domain.ChangeNone, change)
}

func TestUpdateState_RetentionWindow(t *testing.T) {
	s, clock, _ := testStore(t)
	require.NoError(t, s.UpdateState([]domain.Incident{incident(101, "Going"), incident(102, "Going")}))
	assert.Equal(t, 2, s.Len())

	// 101 disappears from the feed. Under 24h it is retained.
	clock.Advance(23 * time.Hour)
	require.NoError(t, s.UpdateState([]domain.Incident{incident(102, "Going")}))
	_, ok := s.Entity("101")
	assert.True(t, ok, "absent <24h must be retained")

	// Past 24h since last seen it is purged; 102 was just refreshed.
	clock.Advance(2 * time.Hour)
	require.NoError(t, s.UpdateState([]domain.Incident{incident(102, "Going")}))
	_, ok = s.Entity("101")
	assert.False(t, ok, "absent >24h must be purged")
	_, ok = s.Entity("102")
	assert.True(t, ok)
}

func TestUpdateState_PersistsAcrossRestart(t *testing.T) {
	s, clock, path := testStore(t)
	require.NoError(t, s.UpdateState([]domain.Incident{incident(101, "Going")}))

	reopened := NewStore(path, clock, discardLogger())
	change, prev := reopened.DetectChange("101", "Contained")
	assert.Equal(t, domain.ChangeDeescalated, change)
	assert.Equal(t, "Going", prev)

	st, ok := reopened.Entity("101")
	require.True(t, ok)
	assert.Equal(t, "Bushfire", st.Category)
	assert.Equal(t, "KINGLAKE", st.Location)
}

func TestNewStore_CorruptFileStartsFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	s := NewStore(path, clockwork.NewFakeClock(), discardLogger())
	assert.Equal(t, 0, s.Len())

	change, _ := s.DetectChange("101", "Going")
	assert.Equal(t, domain.ChangeNew, change)
}

func TestWriteFileAtomic_NoTempLeftBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	require.NoError(t, WriteFileAtomic(path, []byte(`{"ok":true}`)))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "state.json", entries[0].Name())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(data))
}
