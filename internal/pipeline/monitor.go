// Package pipeline orchestrates the poll cycle: fetch raw incidents, resolve
// postcodes, classify status changes, persist state, and record a snapshot.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/vicwatch/vicemergency-monitor/internal/domain"
	"github.com/vicwatch/vicemergency-monitor/internal/history"
	"github.com/vicwatch/vicemergency-monitor/internal/observability"
	"github.com/vicwatch/vicemergency-monitor/internal/state"
)

// IncidentFetcher retrieves the current raw incident batch from upstream.
type IncidentFetcher interface {
	FetchIncidents(ctx context.Context) ([]domain.Incident, error)
}

// WarningFetcher retrieves the current warnings from the text-only page.
type WarningFetcher interface {
	FetchWarnings(ctx context.Context) ([]domain.Warning, error)
}

// Resolver attaches a postcode to an incident's location data.
type Resolver interface {
	Resolve(ctx context.Context, location string, lat, lon float64, municipality string) string
}

// ChangePublisher forwards classified records to an external sink.
type ChangePublisher interface {
	PublishChanges(ctx context.Context, statuses []domain.EmergencyStatus) error
}

// Monitor runs the poll cycle. Single-threaded: one full cycle completes
// before the next begins.
type Monitor struct {
	fetcher   IncidentFetcher
	warnings  WarningFetcher // nil when the text-only page is not polled
	resolver  Resolver
	store     *state.Store
	tracker   *history.Tracker
	publisher ChangePublisher // nil when no sink is configured
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics
	ready     atomic.Bool
	lastCycle atomic.Int64 // unix nanos of the last completed cycle
	tracked   atomic.Int64
}

// Stats is a point-in-time view of the monitor for the ops endpoints.
type Stats struct {
	LastCycle       time.Time
	TrackedEntities int
}

// NewMonitor wires the pipeline stages together. warnings and publisher may
// be nil.
func NewMonitor(
	fetcher IncidentFetcher,
	warnings WarningFetcher,
	resolver Resolver,
	store *state.Store,
	tracker *history.Tracker,
	publisher ChangePublisher,
	clock clockwork.Clock,
	logger *slog.Logger,
	metrics *observability.Metrics,
) *Monitor {
	return &Monitor{
		fetcher:   fetcher,
		warnings:  warnings,
		resolver:  resolver,
		store:     store,
		tracker:   tracker,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
		metrics:   metrics,
	}
}

// Stats reports the last completed cycle time and the tracked entity count.
// Safe to call from the ops server goroutine while a cycle runs.
func (m *Monitor) Stats() Stats {
	s := Stats{TrackedEntities: int(m.tracked.Load())}
	if ns := m.lastCycle.Load(); ns != 0 {
		s.LastCycle = time.Unix(0, ns).UTC()
	}
	return s
}

// CheckReadiness returns nil once at least one cycle has completed.
func (m *Monitor) CheckReadiness(_ context.Context) error {
	if !m.ready.Load() {
		return errors.New("monitor has not completed a poll cycle yet")
	}
	return nil
}

// RunCycle executes one full check: fetch, resolve, classify, persist,
// snapshot. A fetch failure degrades to an empty result set rather than an
// error; persistence failures are the only errors surfaced. Results are
// sorted by postcode.
func (m *Monitor) RunCycle(ctx context.Context) ([]domain.EmergencyStatus, error) {
	start := time.Now()
	m.metrics.PollCycles.Inc()

	incidents, err := m.fetcher.FetchIncidents(ctx)
	if err != nil {
		m.metrics.FetchErrors.Inc()
		m.logger.Warn("incident fetch failed, continuing with empty batch", "error", err)
		incidents = nil
	}
	m.logger.Info("incidents fetched", "count", len(incidents))

	statuses := make([]domain.EmergencyStatus, 0, len(incidents))
	records := make([]history.Record, 0, len(incidents))
	now := m.clock.Now()

	for _, inc := range incidents {
		change, prevStatus := m.store.DetectChange(domain.IncidentKey(inc.ID), inc.OriginStatus)
		m.metrics.ChangeClassifications.WithLabelValues(string(change)).Inc()

		pc := m.resolver.Resolve(ctx, inc.Location, inc.Latitude, inc.Longitude, inc.Municipality)

		locationName := inc.Location
		if locationName == "" {
			locationName = inc.Name
		}

		status := domain.EmergencyStatus{
			Postcode:       pc,
			Type:           buildTypeString(inc),
			LocationName:   locationName,
			UpdateTime:     domain.ParseUpdateTime(inc.LastUpdate, now),
			IncidentID:     inc.ID,
			PreviousStatus: prevStatus,
			Change:         change,
		}
		statuses = append(statuses, status)

		records = append(records, history.Record{
			Postcode:   pc,
			Status:     inc.OriginStatus,
			Location:   locationName,
			Category:   inc.Category2,
			Type:       status.Type,
			UpdateTime: status.UpdateTime,
		})

		m.metrics.IncidentsProcessed.Inc()
	}

	records = append(records, m.warningRecords(ctx, now)...)

	if err := m.store.UpdateState(incidents); err != nil {
		return nil, err
	}
	m.metrics.TrackedEntities.Set(float64(m.store.Len()))
	m.tracked.Store(int64(m.store.Len()))

	if len(records) > 0 {
		snapshotID, err := m.tracker.SaveSnapshot(records)
		if err != nil {
			return nil, err
		}
		m.metrics.SnapshotsSaved.Inc()
		m.logger.Info("snapshot saved", "snapshot_id", snapshotID, "records", len(records))
	}

	m.publish(ctx, statuses)

	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Postcode < statuses[j].Postcode })

	m.metrics.CycleDuration.Observe(time.Since(start).Seconds())
	m.lastCycle.Store(m.clock.Now().UnixNano())
	m.ready.Store(true)
	return statuses, nil
}

// warningRecords fetches the text-only warnings page and resolves each
// warning into history records, one per listed suburb. Fetch failures
// degrade to an empty contribution.
func (m *Monitor) warningRecords(ctx context.Context, now time.Time) []history.Record {
	if m.warnings == nil {
		return nil
	}
	warnings, err := m.warnings.FetchWarnings(ctx)
	if err != nil {
		m.metrics.FetchErrors.Inc()
		m.logger.Warn("warnings fetch failed, skipping", "error", err)
		return nil
	}

	var records []history.Record
	for _, w := range warnings {
		suburbs := w.Suburbs
		if len(suburbs) == 0 {
			suburbs = []string{w.Location}
		}
		updateTime := w.UpdatedAt
		if updateTime.IsZero() {
			updateTime = now
		}
		for _, suburb := range suburbs {
			records = append(records, history.Record{
				Postcode:   m.resolver.Resolve(ctx, suburb, 0, 0, ""),
				Status:     w.Status,
				Level:      w.Level,
				Location:   w.Location,
				Category:   w.Category,
				Type:       w.Type,
				UpdateTime: updateTime,
			})
		}
	}
	return records
}

// publish forwards changed records to the sink. Publish failures are logged,
// never fatal to the cycle.
func (m *Monitor) publish(ctx context.Context, statuses []domain.EmergencyStatus) {
	if m.publisher == nil {
		return
	}
	changed := ChangesOnly(statuses)
	if len(changed) == 0 {
		return
	}
	if err := m.publisher.PublishChanges(ctx, changed); err != nil {
		m.logger.Warn("change publish failed", "error", err, "count", len(changed))
		return
	}
	m.metrics.ChangesPublished.Add(float64(len(changed)))
}

// Run polls on a fixed interval until the context is cancelled. The first
// cycle runs immediately. Cancellation stops the loop between cycles, never
// mid-cycle.
func (m *Monitor) Run(ctx context.Context, interval time.Duration, onResult func([]domain.EmergencyStatus)) error {
	m.logger.Info("monitor started", "interval", interval)
	m.metrics.MonitorRunning.Set(1)
	defer m.metrics.MonitorRunning.Set(0)

	ticker := m.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		statuses, err := m.RunCycle(ctx)
		if err != nil {
			m.logger.Error("poll cycle failed", "error", err)
		} else if onResult != nil {
			onResult(statuses)
		}

		select {
		case <-ctx.Done():
			m.logger.Info("monitor stopping", "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
		}
	}
}

// ChangesOnly filters a result set to the records with a change annotation.
func ChangesOnly(statuses []domain.EmergencyStatus) []domain.EmergencyStatus {
	var changed []domain.EmergencyStatus
	for _, s := range statuses {
		if s.Change != domain.ChangeNone {
			changed = append(changed, s)
		}
	}
	return changed
}

// buildTypeString assembles the output Type field from the non-empty parts
// of "{IncidentStatus} - {Category2} - {OriginStatus}".
func buildTypeString(inc domain.Incident) string {
	var parts []string
	if inc.Status != "" {
		parts = append(parts, inc.Status)
	}
	if inc.Category2 != "" {
		parts = append(parts, inc.Category2)
	}
	if inc.OriginStatus != "" {
		parts = append(parts, inc.OriginStatus)
	}
	if len(parts) == 0 {
		return "Unknown"
	}
	return strings.Join(parts, " - ")
}
