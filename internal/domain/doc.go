// Package domain models Victorian emergency incident and warning data.
//
// # Data Sources
//
// Incident records come from the VIC Emergency incident JSON feed
// (https://data.emergency.vic.gov.au/Show?pageId=getIncidentJSON). Warning
// records come from the text-only incident page
// (https://emergency.vic.gov.au/public/textonly.html). Both are polled
// periodically by the upstream adapter; the domain treats parsed records as
// read-only input.
//
// # Feed Conventions
//
// Location format varies between sources:
//
//	"KINGLAKE"                       bare suburb name
//	"FOREST ROAD, KINGLAKE WEST"     street then suburb, comma separated
//	"3.2KM SW OF KINGLAKE"           relative to a suburb
//
// Suburb names are matched case-insensitively after upper-casing and
// trimming. Trailing "VIC"/"VICTORIA" qualifiers are not part of the name.
//
// Update timestamps appear as "DD/MM/YYYY HH:MM:SS" in the JSON feed and as
// epoch-millisecond strings on the text-only page.
//
// # Severity Ordering
//
// Two rank tables order statuses and formal warning levels, lower rank being
// more severe. "Going" outranks "Contained"; "Emergency Warning" outranks
// "Advice". Strings absent from a table sort last (rank 99) so an unexpected
// status can never masquerade as the most severe. The combined score
// statusRank + levelRank*0.1 lets status dominate with level breaking ties;
// see [CombinedScore].
//
// Incident-level change detection uses the smaller origin-status priority
// table ([StatusPriority]): Going and Responding share the top rank because
// the feed uses them interchangeably for active fires. "Safe" is terminal; a
// transition into it is a resolution, not a de-escalation.
package domain
