// Package vicemergency fetches and parses the two public VIC Emergency
// sources: the incident JSON feed and the text-only warnings page.
package vicemergency

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/jonboulle/clockwork"

	"github.com/vicwatch/vicemergency-monitor/internal/domain"
)

const (
	// DefaultFeedURL serves all current incidents as JSON.
	DefaultFeedURL = "https://data.emergency.vic.gov.au/Show?pageId=getIncidentJSON"
	// DefaultTextOnlyURL is the text-only incident/warning page.
	DefaultTextOnlyURL = "https://emergency.vic.gov.au/public/textonly.html"

	userAgent = "vicemergency-monitor/1.0"
)

// Client fetches incidents and warnings from the upstream sources.
type Client struct {
	http        *resty.Client
	feedURL     string
	textOnlyURL string
	clock       clockwork.Clock
	logger      *slog.Logger
}

// NewClient creates a feed client with retrying HTTP transport. The clock
// supplies the fallback update time for warning rows without a usable
// lastUpdated value.
func NewClient(feedURL, textOnlyURL string, timeout time.Duration, clock clockwork.Clock, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(1*time.Second).
		SetRetryMaxWaitTime(5*time.Second).
		SetHeader("User-Agent", userAgent)

	return &Client{
		http:        httpClient,
		feedURL:     feedURL,
		textOnlyURL: textOnlyURL,
		clock:       clock,
		logger:      logger,
	}
}

// feedResponse is the top-level JSON feed shape.
type feedResponse struct {
	Results []feedIncident `json:"results"`
}

// feedIncident mirrors one feed record. Numeric fields arrive as numbers or
// strings depending on the upstream serializer, so they are decoded loosely
// and coerced afterwards.
type feedIncident struct {
	IncidentNo     any    `json:"incidentNo"`
	IncidentType   string `json:"incidentType"`
	Category1      string `json:"category1"`
	Category2      string `json:"category2"`
	Name           string `json:"name"`
	Location       string `json:"incidentLocation"`
	Municipality   string `json:"municipality"`
	Latitude       any    `json:"latitude"`
	Longitude      any    `json:"longitude"`
	IncidentStatus string `json:"incidentStatus"`
	OriginStatus   string `json:"originStatus"`
	IncidentSize   string `json:"incidentSize"`
	LastUpdate     string `json:"lastUpdateDateTime"`
	ResourceCount  any    `json:"resourceCount"`
	Territory      string `json:"territory"`
}

// FetchIncidents retrieves all current incidents from the JSON feed.
// Records without usable coordinates are skipped; the feed includes
// placeholder rows at (0,0) that carry no location signal. Individual
// malformed records are logged and skipped, never fatal.
func (c *Client) FetchIncidents(ctx context.Context) ([]domain.Incident, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		Get(c.feedURL)
	if err != nil {
		return nil, fmt.Errorf("fetch incident feed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("incident feed: status %d", resp.StatusCode())
	}

	var feed feedResponse
	if err := json.Unmarshal(resp.Body(), &feed); err != nil {
		return nil, fmt.Errorf("decode incident feed: %w", err)
	}

	incidents := make([]domain.Incident, 0, len(feed.Results))
	for _, rec := range feed.Results {
		inc := domain.Incident{
			ID:            toInt64(rec.IncidentNo),
			IncidentType:  rec.IncidentType,
			Category1:     rec.Category1,
			Category2:     rec.Category2,
			Name:          rec.Name,
			Location:      rec.Location,
			Municipality:  rec.Municipality,
			Latitude:      toFloat64(rec.Latitude),
			Longitude:     toFloat64(rec.Longitude),
			Status:        rec.IncidentStatus,
			OriginStatus:  rec.OriginStatus,
			Size:          rec.IncidentSize,
			LastUpdate:    rec.LastUpdate,
			ResourceCount: int(toInt64(rec.ResourceCount)),
			Territory:     rec.Territory,
		}
		if inc.Latitude == 0 || inc.Longitude == 0 {
			continue
		}
		incidents = append(incidents, inc)
	}

	return incidents, nil
}

// toFloat64 coerces the feed's loosely typed numerics (float64, string, or
// absent) to a float, zero on failure.
func toFloat64(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0
		}
		return i
	default:
		return 0
	}
}
