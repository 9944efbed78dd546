package postcode

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/vicwatch/vicemergency-monitor/internal/domain"
	"github.com/vicwatch/vicemergency-monitor/internal/observability"
)

// MinGeocodeInterval is the minimum spacing between reverse geocoding
// requests. Nominatim's usage policy requires at least one second; 1.1s
// leaves headroom for clock skew.
const MinGeocodeInterval = 1100 * time.Millisecond

var (
	// distanceOfRe matches relative locations like "3.2KM SW OF KINGLAKE";
	// the suburb is everything after "OF".
	distanceOfRe = regexp.MustCompile(`(?i)\d+\.?\d*\s*KM\s+[NSEW]+\s+OF\s+(.+)`)

	// distancePrefixRe strips a leading distance qualifier from a token.
	distancePrefixRe = regexp.MustCompile(`(?i)^\d+\.?\d*\s*KM\s+[NSEW]+\s+OF\s+`)

	// stateSuffixRe strips trailing "VIC"/"VICTORIA" qualifiers from a
	// comma-extracted suburb.
	stateSuffixRe = regexp.MustCompile(`(?i)\s+(VIC|VICTORIA).*$`)

	// roadSuffixRe strips a trailing road-type word so "WELLINGTON ROAD"
	// can still match the suburb "WELLINGTON".
	roadSuffixRe = regexp.MustCompile(`\s+(ROAD|RD|STREET|ST|AVENUE|AVE|HIGHWAY|HWY|DRIVE|DR|LANE|LN|COURT|CT|PLACE|PL|CRESCENT|CR|BOULEVARD|BLVD)$`)
)

// partDelimiters are the separators used to break a location string into
// candidate suburb tokens.
var partDelimiters = []string{",", " - ", "/", " AT ", " NEAR "}

// Resolver turns free-text locations and coordinates into postcodes using an
// ordered strategy chain, falling back to rate-limited reverse geocoding and
// nearest-neighbor lookup. Resolve never fails; the worst outcome is the
// "Unknown" sentinel.
type Resolver struct {
	index    *Index
	geocoder domain.ReverseGeocoder // nil disables the geocoding strategy
	limiter  *rate.Limiter
	logger   *slog.Logger
	metrics  *observability.Metrics

	mu    sync.Mutex
	cache map[string]string // rounded "lat,lon" -> postcode, process lifetime
}

// NewResolver creates a resolver over the given index. geocoder may be nil,
// in which case the reverse geocoding strategy is skipped.
func NewResolver(index *Index, geocoder domain.ReverseGeocoder, logger *slog.Logger, metrics *observability.Metrics) *Resolver {
	if geocoder != nil {
		metrics.GeocodeEnabled.Set(1)
	}
	return &Resolver{
		index:    index,
		geocoder: geocoder,
		limiter:  rate.NewLimiter(rate.Every(MinGeocodeInterval), 1),
		logger:   logger,
		metrics:  metrics,
		cache:    make(map[string]string),
	}
}

// Resolve produces the best-effort postcode for an incident. Strategies are
// tried in order: suburb extracted from the location text, the municipality
// hint, tokenized location parts, reverse geocoding of the coordinates, and
// nearest reference point by distance. It always returns a postcode or
// domain.UnknownPostcode.
func (r *Resolver) Resolve(ctx context.Context, location string, lat, lon float64, municipality string) string {
	if suburb := ExtractSuburb(location); suburb != "" {
		if pc, ok := r.index.BySuburb(suburb); ok {
			r.metrics.ResolveOutcomes.WithLabelValues("suburb").Inc()
			return pc
		}
	}

	if municipality != "" {
		if pc, ok := r.index.BySuburb(municipality); ok {
			r.metrics.ResolveOutcomes.WithLabelValues("municipality").Inc()
			return pc
		}
	}

	for _, part := range ExtractLocationParts(location) {
		if pc, ok := r.index.BySuburb(part); ok {
			r.metrics.ResolveOutcomes.WithLabelValues("parts").Inc()
			return pc
		}
	}

	if lat != 0 && lon != 0 {
		if pc := r.reverseGeocode(ctx, lat, lon); pc != "" {
			r.metrics.ResolveOutcomes.WithLabelValues("geocode").Inc()
			return pc
		}

		if pc, ok := r.index.Nearest(lat, lon); ok {
			r.metrics.ResolveOutcomes.WithLabelValues("nearest").Inc()
			return pc
		}
	}

	r.metrics.ResolveOutcomes.WithLabelValues("unknown").Inc()
	return domain.UnknownPostcode
}

// reverseGeocode looks up a postcode for the coordinates via the external
// service. Results are cached by a 4-decimal rounded key (roughly 11m of
// precision) for the life of the process, and calls are throttled by the
// limiter: callers block until their slot, they are never dropped. Any
// service error is logged and treated as a miss.
func (r *Resolver) reverseGeocode(ctx context.Context, lat, lon float64) string {
	if r.geocoder == nil {
		return ""
	}

	key := fmt.Sprintf("%.4f,%.4f", lat, lon)

	r.mu.Lock()
	pc, ok := r.cache[key]
	r.mu.Unlock()
	if ok {
		r.metrics.GeocodeCache.WithLabelValues("hit").Inc()
		return pc
	}
	r.metrics.GeocodeCache.WithLabelValues("miss").Inc()

	if err := r.limiter.Wait(ctx); err != nil {
		r.logger.Warn("geocode rate limit wait aborted", "error", err)
		return ""
	}

	pc, err := r.geocoder.ReversePostcode(ctx, lat, lon)
	if err != nil {
		r.metrics.GeocodeRequests.WithLabelValues("error").Inc()
		r.logger.Warn("reverse geocoding failed", "lat", lat, "lon", lon, "error", err)
		return ""
	}
	if pc == "" {
		r.metrics.GeocodeRequests.WithLabelValues("empty").Inc()
		return ""
	}
	r.metrics.GeocodeRequests.WithLabelValues("success").Inc()

	r.mu.Lock()
	r.cache[key] = pc
	r.mu.Unlock()

	return pc
}

// ExtractSuburb pulls the most likely suburb name out of a location string.
// Relative locations ("3.2KM SW OF KINGLAKE") yield the text after "OF";
// comma-separated locations yield the last segment with trailing VIC
// qualifiers removed; anything else is returned whole. The result is
// trimmed and upper-cased, empty input yields "".
func ExtractSuburb(location string) string {
	location = strings.TrimSpace(location)
	if location == "" {
		return ""
	}

	if m := distanceOfRe.FindStringSubmatch(location); m != nil {
		return strings.ToUpper(strings.TrimSpace(m[1]))
	}

	if strings.Contains(location, ",") {
		parts := strings.Split(location, ",")
		suburb := strings.ToUpper(strings.TrimSpace(parts[len(parts)-1]))
		suburb = strings.TrimSpace(stateSuffixRe.ReplaceAllString(suburb, ""))
		if suburb != "" {
			return suburb
		}
	}

	return strings.ToUpper(location)
}

// ExtractLocationParts tokenizes a location string into every candidate
// suburb substring: the upper-cased text is split on each delimiter, and
// each token loses any distance prefix and trailing road-type word. Tokens
// shorter than three characters are dropped.
func ExtractLocationParts(location string) []string {
	if strings.TrimSpace(location) == "" {
		return nil
	}

	upper := strings.ToUpper(location)
	var parts []string
	for _, delim := range partDelimiters {
		for _, part := range strings.Split(upper, delim) {
			part = strings.TrimSpace(part)
			part = distancePrefixRe.ReplaceAllString(part, "")
			part = roadSuffixRe.ReplaceAllString(part, "")
			if len(part) > 2 {
				parts = append(parts, part)
			}
		}
	}
	return parts
}
