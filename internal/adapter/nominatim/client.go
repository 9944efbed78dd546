// Package nominatim implements reverse geocoding against the OpenStreetMap
// Nominatim API.
package nominatim

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// DefaultBaseURL is the public Nominatim endpoint. The usage policy requires
// an identifying User-Agent and at most one request per second; the caller
// (the location resolver) enforces the spacing.
const DefaultBaseURL = "https://nominatim.openstreetmap.org"

// Client implements domain.ReverseGeocoder using Nominatim's /reverse endpoint.
type Client struct {
	userAgent  string
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// NewClient creates a Nominatim client. userAgent identifies this service to
// the API as its policy requires.
func NewClient(userAgent string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		userAgent: userAgent,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: DefaultBaseURL,
		logger:  logger,
	}
}

// ReversePostcode resolves coordinates to the postal code of the containing
// address. An empty string with a nil error means Nominatim found no
// address or the address carries no postcode.
func (c *Client) ReversePostcode(ctx context.Context, lat, lon float64) (string, error) {
	params := url.Values{
		"format":          {"jsonv2"},
		"lat":             {fmt.Sprintf("%.6f", lat)},
		"lon":             {fmt.Sprintf("%.6f", lon)},
		"addressdetails":  {"1"},
		"accept-language": {"en"},
	}
	fullURL := c.baseURL + "/reverse?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("reverse geocode request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("nominatim API error: status %d: %s", resp.StatusCode, body)
	}

	var nr response
	if err := json.NewDecoder(resp.Body).Decode(&nr); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	return nr.Address.Postcode, nil
}

// Nominatim API response types.

type response struct {
	Address address `json:"address"`
}

type address struct {
	Postcode string `json:"postcode"`
	Suburb   string `json:"suburb"`
	State    string `json:"state"`
}
