package domain

import (
	"strconv"
	"time"
)

// Incident is a raw record from the incident JSON feed. Immutable once
// parsed; the pipeline only reads it.
type Incident struct {
	ID            int64   `json:"incident_no"`
	IncidentType  string  `json:"incident_type,omitempty"`
	Category1     string  `json:"category1,omitempty"`
	Category2     string  `json:"category2,omitempty"`
	Name          string  `json:"name,omitempty"`
	Location      string  `json:"location"`
	Municipality  string  `json:"municipality,omitempty"`
	Latitude      float64 `json:"latitude,omitempty"`
	Longitude     float64 `json:"longitude,omitempty"`
	Status        string  `json:"incident_status"`
	OriginStatus  string  `json:"origin_status"`
	Size          string  `json:"incident_size,omitempty"`
	LastUpdate    string  `json:"last_update"` // feed format "DD/MM/YYYY HH:MM:SS"
	ResourceCount int     `json:"resource_count,omitempty"`
	Territory     string  `json:"territory,omitempty"`
}

// Warning is a raw record from the text-only warnings page.
type Warning struct {
	ID        string    `json:"warning_id"`
	Type      string    `json:"type"` // composite, e.g. "Watch and Act - Fire - Monitor Conditions"
	Level     string    `json:"warning_level"`
	Category  string    `json:"category"`
	Condition string    `json:"condition,omitempty"`
	Status    string    `json:"status"`
	Location  string    `json:"location"`
	Suburbs   []string  `json:"suburbs,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
	URL       string    `json:"url,omitempty"`
}

// ChangeType classifies a status transition between successive polls.
type ChangeType string

const (
	ChangeNew         ChangeType = "NEW"
	ChangeEscalated   ChangeType = "ESCALATED"
	ChangeDeescalated ChangeType = "DE-ESCALATED"
	ChangeResolved    ChangeType = "RESOLVED"
	ChangeNone        ChangeType = "NO CHANGE"
)

// EmergencyStatus is the resolved, classified output record for one incident.
type EmergencyStatus struct {
	Postcode       string     `json:"postcode"`
	Type           string     `json:"type"` // "{IncidentStatus} - {Category2} - {OriginStatus}"
	LocationName   string     `json:"location_name"`
	UpdateTime     time.Time  `json:"update_time"`
	IncidentID     int64      `json:"incident_no"`
	PreviousStatus string     `json:"previous_status,omitempty"`
	Change         ChangeType `json:"change"`
}

// PostcodeChange describes how one postcode's standing moved between two
// points in time. Produced by snapshot and time-window comparisons.
type PostcodeChange struct {
	Postcode    string     `json:"postcode"`
	Suburbs     string     `json:"suburbs,omitempty"`
	StatusStart string     `json:"status_start"`
	StatusEnd   string     `json:"status_end"`
	LevelStart  string     `json:"level_start,omitempty"`
	LevelEnd    string     `json:"level_end,omitempty"`
	Change      ChangeType `json:"change"`
	Category    string     `json:"category,omitempty"`
}

// UnknownPostcode is the sentinel attached when no resolution strategy
// succeeds. Every postcode-bearing record carries either an index postcode
// or this value, never an empty string.
const UnknownPostcode = "Unknown"

// IncidentKey renders an incident's numeric id as the string identity used
// by the state store and the change feed. Warning ids are already strings.
func IncidentKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

const feedTimeLayout = "02/01/2006 15:04:05"

// ParseUpdateTime parses the feed's "DD/MM/YYYY HH:MM:SS" timestamp.
// Unparseable or empty input falls back to the supplied default so a
// malformed row never drops a record.
func ParseUpdateTime(s string, fallback time.Time) time.Time {
	if s == "" {
		return fallback
	}
	t, err := time.Parse(feedTimeLayout, s)
	if err != nil {
		return fallback
	}
	return t
}
