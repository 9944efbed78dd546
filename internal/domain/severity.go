package domain

import "strings"

// UnrankedSeverity is assigned to any status or level missing from the rank
// tables. It sorts after every known value so novel upstream strings are
// treated as least urgent, never most.
const UnrankedSeverity = 99

// statusRank orders incident/warning statuses, lower = more severe. The
// table covers every status string the two upstream sources are known to
// emit; keep it in sync with the feed rather than guessing at new values.
var statusRank = map[string]int{
	"Extreme":                1,
	"Moderate":               2,
	"Minor":                  3,
	"Not Yet Under Control":  4,
	"Going":                  5,
	"Responding":             6,
	"On Scene":               7,
	"Request For Assistance": 8,
	"Contained":              9,
	"Under Control":          10,
	"Controlled":             11,
	"Safe":                   12,
	"Complete":               13,
	"Not Declared":           14,
	"Unknown":                15,
}

// levelRank orders formal warning levels and the incident types the
// text-only page reports in the level position.
var levelRank = map[string]int{
	"Emergency Warning": 1,
	"Watch and Act":     2,
	"Advice":            3,
	"Flooding":          4,
	"Fire":              5,
	"Rescue":            6,
	"Accident / Rescue": 7,
	"Community Update":  8,
	"Building Damage":   9,
	"Tree Down":         10,
	"Other":             11,
	"Incident":          12,
}

// StatusRank returns the severity rank for a status string.
func StatusRank(status string) int {
	if r, ok := statusRank[status]; ok {
		return r
	}
	return UnrankedSeverity
}

// LevelRank returns the severity rank for a warning level string.
func LevelRank(level string) int {
	if r, ok := levelRank[level]; ok {
		return r
	}
	return UnrankedSeverity
}

// CombinedScore folds status and level into one comparable severity score.
// Status dominates; level breaks ties within a status. Unranked levels are
// clamped to the table width so the 0.1 weighting cannot spill into the
// next status integer.
func CombinedScore(status, level string) float64 {
	lr := LevelRank(level)
	if lr == UnrankedSeverity {
		lr = len(levelRank) + 1
	}
	return float64(StatusRank(status)) + float64(lr)*0.1
}

// ClassifyScores compares two combined scores: a move to a lower score is an
// escalation, to a higher one a de-escalation.
func ClassifyScores(start, end float64) ChangeType {
	switch {
	case end < start:
		return ChangeEscalated
	case end > start:
		return ChangeDeescalated
	default:
		return ChangeNone
	}
}

// originPriority orders the incident feed's origin statuses for per-incident
// change detection. Going and Responding share rank 1: the feed flips
// between them for the same active incident and neither flip is a real
// status change.
var originPriority = map[string]int{
	"GOING":      1,
	"RESPONDING": 1,
	"CONTAINED":  2,
	"CONTROLLED": 3,
	"SAFE":       4,
}

const unrankedPriority = 5

// StatusPriority returns the change-detection priority for an origin status,
// lower = more severe. Lookup is case-insensitive; unknown statuses rank
// below every known one.
func StatusPriority(status string) int {
	if p, ok := originPriority[strings.ToUpper(strings.TrimSpace(status))]; ok {
		return p
	}
	return unrankedPriority
}

// IsTerminalStatus reports whether a status marks an incident as over.
func IsTerminalStatus(status string) bool {
	return strings.EqualFold(strings.TrimSpace(status), "Safe")
}
