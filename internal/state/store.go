// Package state persists per-incident status between polls and classifies
// status transitions.
package state

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/vicwatch/vicemergency-monitor/internal/domain"
)

// RetentionWindow is how long an entity absent from the feed is retained
// before being purged. Incidents get a grace period to reappear before they
// are treated as gone.
const RetentionWindow = 24 * time.Hour

// EntityState is the last-observed attributes of one tracked incident.
type EntityState struct {
	OriginStatus   string    `json:"origin_status"`
	IncidentStatus string    `json:"incident_status,omitempty"`
	Category       string    `json:"category,omitempty"`
	Location       string    `json:"location,omitempty"`
	LastUpdate     string    `json:"last_update,omitempty"`
	LastSeen       time.Time `json:"last_seen"`
}

type stateFile struct {
	LastUpdated time.Time              `json:"last_updated"`
	Incidents   map[string]EntityState `json:"incidents"`
}

// Store owns the persisted entity state. It is the only writer of the state
// file; DetectChange reads prior state but never mutates it. UpdateState
// applies the new observations afterwards.
type Store struct {
	path   string
	clock  clockwork.Clock
	logger *slog.Logger

	previous map[string]EntityState
}

// NewStore loads prior state from path. A missing or corrupt file is
// non-fatal: the store starts fresh and logs a warning.
func NewStore(path string, clock clockwork.Clock, logger *slog.Logger) *Store {
	s := &Store{
		path:     path,
		clock:    clock,
		logger:   logger,
		previous: make(map[string]EntityState),
	}
	s.load()
	return s
}

func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("state file unreadable, starting fresh", "path", s.path, "error", err)
		}
		return
	}

	var f stateFile
	if err := json.Unmarshal(data, &f); err != nil {
		s.logger.Warn("state file corrupt, starting fresh", "path", s.path, "error", err)
		return
	}
	if f.Incidents != nil {
		s.previous = f.Incidents
	}
}

// DetectChange classifies the transition for one entity given its current
// origin status. First observation is New; a move into the terminal "Safe"
// status is Resolved; otherwise the origin-status priority table decides
// between Escalated, De-escalated, and no change. The previous status is
// returned alongside ("" for a new entity).
func (s *Store) DetectChange(id string, currentStatus string) (domain.ChangeType, string) {
	prev, ok := s.previous[id]
	if !ok {
		return domain.ChangeNew, ""
	}

	if domain.IsTerminalStatus(currentStatus) && !domain.IsTerminalStatus(prev.OriginStatus) {
		return domain.ChangeResolved, prev.OriginStatus
	}

	currentPriority := domain.StatusPriority(currentStatus)
	previousPriority := domain.StatusPriority(prev.OriginStatus)

	switch {
	case currentPriority < previousPriority:
		return domain.ChangeEscalated, prev.OriginStatus
	case currentPriority > previousPriority:
		return domain.ChangeDeescalated, prev.OriginStatus
	default:
		return domain.ChangeNone, prev.OriginStatus
	}
}

// UpdateState overwrites stored state for every entity in the batch with its
// latest attributes and a refreshed last-seen time. Entities absent from the
// batch are retained until their last-seen exceeds the retention window,
// then purged. The file is rewritten on every call.
func (s *Store) UpdateState(incidents []domain.Incident) error {
	now := s.clock.Now()
	seen := make(map[string]bool, len(incidents))

	for _, inc := range incidents {
		id := domain.IncidentKey(inc.ID)
		seen[id] = true
		s.previous[id] = EntityState{
			OriginStatus:   inc.OriginStatus,
			IncidentStatus: inc.Status,
			Category:       inc.Category2,
			Location:       inc.Location,
			LastUpdate:     inc.LastUpdate,
			LastSeen:       now,
		}
	}

	for id, st := range s.previous {
		if seen[id] {
			continue
		}
		if now.Sub(st.LastSeen) > RetentionWindow {
			delete(s.previous, id)
		}
	}

	return s.save(now)
}

// Len reports the number of tracked entities.
func (s *Store) Len() int {
	return len(s.previous)
}

// Entity returns the stored state for an id, if tracked.
func (s *Store) Entity(id string) (EntityState, bool) {
	st, ok := s.previous[id]
	return st, ok
}

func (s *Store) save(now time.Time) error {
	f := stateFile{
		LastUpdated: now,
		Incidents:   s.previous,
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := WriteFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	return nil
}

// WriteFileAtomic rewrites path via a temp file and rename so a crash mid
// write can never leave a truncated document behind.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
