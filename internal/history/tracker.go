// Package history persists point-in-time snapshots of warning state and a
// per-postcode rolling history, and diffs them across snapshots or time
// windows.
package history

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/vicwatch/vicemergency-monitor/internal/domain"
	"github.com/vicwatch/vicemergency-monitor/internal/state"
)

const (
	// maxSnapshots bounds the snapshot list; the oldest are evicted.
	maxSnapshots = 100
	// maxEntriesPerPostcode bounds each postcode's rolling history.
	maxEntriesPerPostcode = 50

	snapshotIDLayout = "20060102_150405"
)

// Record is one resolved, annotated observation inside a snapshot.
type Record struct {
	Postcode   string    `json:"postcode"`
	Status     string    `json:"status"`
	Level      string    `json:"level,omitempty"`
	Location   string    `json:"location,omitempty"`
	Category   string    `json:"category,omitempty"`
	Type       string    `json:"type,omitempty"`
	UpdateTime time.Time `json:"update_time"`
}

// Snapshot is an immutable, timestamped batch of records. The ID is derived
// from capture time, so snapshot IDs sort in creation order.
type Snapshot struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Records   []Record          `json:"records"`
	Summary   map[string]Record `json:"postcode_summary"`
}

// SnapshotInfo is the list form of a snapshot without its records.
type SnapshotInfo struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Count     int       `json:"record_count"`
}

// Entry is one per-postcode history observation. Consecutive observations
// with the same status and level collapse into a single entry.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status"`
	Level     string    `json:"level,omitempty"`
	Location  string    `json:"location,omitempty"`
	Category  string    `json:"category,omitempty"`
	Type      string    `json:"type,omitempty"`
}

type historyFile struct {
	Snapshots   []Snapshot         `json:"snapshots"`
	ByPostcode  map[string][]Entry `json:"by_postcode"`
	LastUpdated time.Time          `json:"last_updated"`
}

// Tracker owns the persisted snapshot history. Single-writer; the file is
// fully rewritten on every save.
type Tracker struct {
	path   string
	clock  clockwork.Clock
	logger *slog.Logger

	snapshots  []Snapshot
	byPostcode map[string][]Entry
}

// NewTracker loads prior history from path. A missing or corrupt file is
// non-fatal: the tracker starts empty and logs a warning.
func NewTracker(path string, clock clockwork.Clock, logger *slog.Logger) *Tracker {
	t := &Tracker{
		path:       path,
		clock:      clock,
		logger:     logger,
		byPostcode: make(map[string][]Entry),
	}
	t.load()
	return t
}

func (t *Tracker) load() {
	data, err := os.ReadFile(t.path)
	if err != nil {
		if !os.IsNotExist(err) {
			t.logger.Warn("history file unreadable, starting fresh", "path", t.path, "error", err)
		}
		return
	}

	var f historyFile
	if err := json.Unmarshal(data, &f); err != nil {
		t.logger.Warn("history file corrupt, starting fresh", "path", t.path, "error", err)
		return
	}
	t.snapshots = f.Snapshots
	if f.ByPostcode != nil {
		t.byPostcode = f.ByPostcode
	}
}

// SaveSnapshot appends a snapshot of the current records and folds each
// record into its postcode's history, skipping entries whose status and
// level match the postcode's previous observation. Returns the snapshot ID.
func (t *Tracker) SaveSnapshot(records []Record) (string, error) {
	now := t.clock.Now()

	// Normalize before storing: the stored records feed time-window
	// comparisons later, and a postcode is never empty anywhere downstream.
	for i := range records {
		if records[i].Postcode == "" {
			records[i].Postcode = domain.UnknownPostcode
		}
	}

	snap := Snapshot{
		ID:        now.Format(snapshotIDLayout),
		Timestamp: now,
		Records:   records,
		Summary:   make(map[string]Record, len(records)),
	}

	for _, rec := range records {
		// Later records for the same postcode overwrite earlier ones.
		snap.Summary[rec.Postcode] = rec

		t.appendEntry(rec, now)
	}

	t.snapshots = append(t.snapshots, snap)
	if len(t.snapshots) > maxSnapshots {
		t.snapshots = t.snapshots[len(t.snapshots)-maxSnapshots:]
	}

	if err := t.save(now); err != nil {
		return "", err
	}
	return snap.ID, nil
}

func (t *Tracker) appendEntry(rec Record, now time.Time) {
	entries := t.byPostcode[rec.Postcode]
	if n := len(entries); n > 0 {
		last := entries[n-1]
		if last.Status == rec.Status && last.Level == rec.Level {
			return
		}
	}

	entries = append(entries, Entry{
		Timestamp: now,
		Status:    rec.Status,
		Level:     rec.Level,
		Location:  rec.Location,
		Category:  rec.Category,
		Type:      rec.Type,
	})
	if len(entries) > maxEntriesPerPostcode {
		entries = entries[len(entries)-maxEntriesPerPostcode:]
	}
	t.byPostcode[rec.Postcode] = entries
}

// Snapshots lists all retained snapshots, oldest first.
func (t *Tracker) Snapshots() []SnapshotInfo {
	infos := make([]SnapshotInfo, len(t.snapshots))
	for i, s := range t.snapshots {
		infos[i] = SnapshotInfo{ID: s.ID, Timestamp: s.Timestamp, Count: len(s.Records)}
	}
	return infos
}

// Snapshot returns a retained snapshot by ID.
func (t *Tracker) Snapshot(id string) (Snapshot, bool) {
	for _, s := range t.snapshots {
		if s.ID == id {
			return s, true
		}
	}
	return Snapshot{}, false
}

// LatestSnapshotID returns the most recent snapshot's ID, or "" when none.
func (t *Tracker) LatestSnapshotID() string {
	if len(t.snapshots) == 0 {
		return ""
	}
	return t.snapshots[len(t.snapshots)-1].ID
}

// PostcodeHistory returns the rolling history for one postcode.
func (t *Tracker) PostcodeHistory(pc string) []Entry {
	return t.byPostcode[pc]
}

// CompareSnapshots diffs two snapshots by postcode. Postcodes present only
// at the end are New, only at the start Resolved, identical status+level
// unchanged, and anything else classified by combined severity. Results are
// sorted by postcode.
func (t *Tracker) CompareSnapshots(startID, endID string) ([]domain.PostcodeChange, error) {
	start, ok := t.Snapshot(startID)
	if !ok {
		return nil, fmt.Errorf("snapshot %q not found", startID)
	}
	end, ok := t.Snapshot(endID)
	if !ok {
		return nil, fmt.Errorf("snapshot %q not found", endID)
	}

	return diffSummaries(start.Summary, end.Summary), nil
}

// CompareByTimeWindow reconstructs what was visible as of each boundary from
// the latest snapshot, keeping only records whose update time is at or
// before the boundary, and diffs the two views. This answers "what changed
// between T1 and T2" rather than diffing raw captures.
func (t *Tracker) CompareByTimeWindow(startTime, endTime time.Time) []domain.PostcodeChange {
	if len(t.snapshots) == 0 {
		return nil
	}
	records := t.snapshots[len(t.snapshots)-1].Records

	return diffSummaries(summarizeAsOf(records, startTime), summarizeAsOf(records, endTime))
}

// summarizeAsOf builds a per-postcode view of the records visible at the
// boundary. The first record seen for a postcode wins, matching snapshot
// record ordering.
func summarizeAsOf(records []Record, boundary time.Time) map[string]Record {
	view := make(map[string]Record)
	for _, rec := range records {
		if rec.UpdateTime.After(boundary) {
			continue
		}
		if _, ok := view[rec.Postcode]; !ok {
			view[rec.Postcode] = rec
		}
	}
	return view
}

func diffSummaries(start, end map[string]Record) []domain.PostcodeChange {
	postcodes := make(map[string]bool, len(start)+len(end))
	for pc := range start {
		postcodes[pc] = true
	}
	for pc := range end {
		postcodes[pc] = true
	}

	changes := make([]domain.PostcodeChange, 0, len(postcodes))
	for pc := range postcodes {
		s, inStart := start[pc]
		e, inEnd := end[pc]

		change := domain.PostcodeChange{Postcode: pc}
		switch {
		case !inStart:
			change.Change = domain.ChangeNew
			change.StatusStart = "No Warning"
			change.StatusEnd = e.Status
			change.LevelEnd = e.Level
			change.Suburbs = e.Location
			change.Category = e.Category
		case !inEnd:
			change.Change = domain.ChangeResolved
			change.StatusStart = s.Status
			change.StatusEnd = "No Warning"
			change.LevelStart = s.Level
			change.Suburbs = s.Location
			change.Category = s.Category
		default:
			change.StatusStart = s.Status
			change.StatusEnd = e.Status
			change.LevelStart = s.Level
			change.LevelEnd = e.Level
			change.Suburbs = e.Location
			change.Category = e.Category
			if s.Status == e.Status && s.Level == e.Level {
				change.Change = domain.ChangeNone
			} else {
				change.Change = domain.ClassifyScores(
					domain.CombinedScore(s.Status, s.Level),
					domain.CombinedScore(e.Status, e.Level),
				)
			}
		}
		changes = append(changes, change)
	}

	sort.Slice(changes, func(i, j int) bool { return changes[i].Postcode < changes[j].Postcode })
	return changes
}

func (t *Tracker) save(now time.Time) error {
	f := historyFile{
		Snapshots:   t.snapshots,
		ByPostcode:  t.byPostcode,
		LastUpdated: now,
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	if err := state.WriteFileAtomic(t.path, data); err != nil {
		return fmt.Errorf("write history file: %w", err)
	}
	return nil
}
