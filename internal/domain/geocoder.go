package domain

import "context"

// ReverseGeocoder resolves a coordinate pair to a postal code.
type ReverseGeocoder interface {
	// ReversePostcode returns the postal code containing (lat, lon).
	// An empty string with a nil error means the provider had no answer.
	ReversePostcode(ctx context.Context, lat, lon float64) (string, error)
}
