// Package postcode resolves free-text incident locations and coordinate
// pairs to Victorian postal codes.
package postcode

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
)

// Coordinate is a WGS-84 latitude/longitude pair.
type Coordinate struct {
	Lat float64
	Lon float64
}

type refPoint struct {
	postcode string
	coord    Coordinate
}

// Index is the static suburb/postcode lookup built from the reference
// dataset. Built once at startup and read-only afterwards.
type Index struct {
	suburbToPostcode map[string]string
	postcodeCoords   map[string]Coordinate
	points           []refPoint // reference-data order, for stable nearest lookup
}

// NewIndex builds an index from (postcode, locality, longitude, latitude)
// CSV rows. Rows with fewer than 4 fields or non-numeric coordinates are
// skipped. Suburb names are upper-cased and trimmed; the first occurrence of
// a suburb or postcode wins, later duplicates are ignored.
func NewIndex(r io.Reader) (*Index, error) {
	idx := &Index{
		suburbToPostcode: make(map[string]string),
		postcodeCoords:   make(map[string]Coordinate),
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // row length validated below

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read reference row: %w", err)
		}
		if len(row) < 4 {
			continue
		}

		pc := strings.TrimSpace(row[0])
		locality := strings.ToUpper(strings.TrimSpace(row[1]))
		lon, errLon := strconv.ParseFloat(strings.TrimSpace(row[2]), 64)
		lat, errLat := strconv.ParseFloat(strings.TrimSpace(row[3]), 64)
		if pc == "" || errLon != nil || errLat != nil {
			continue
		}

		if locality != "" {
			if _, ok := idx.suburbToPostcode[locality]; !ok {
				idx.suburbToPostcode[locality] = pc
			}
		}
		if _, ok := idx.postcodeCoords[pc]; !ok {
			idx.postcodeCoords[pc] = Coordinate{Lat: lat, Lon: lon}
		}
		idx.points = append(idx.points, refPoint{postcode: pc, coord: Coordinate{Lat: lat, Lon: lon}})
	}

	return idx, nil
}

// LoadIndex builds the index from the reference CSV at path. A missing file
// is non-fatal: the monitor degrades to an empty index and every lookup
// fails until the dataset is provided.
func LoadIndex(path string, logger *slog.Logger) *Index {
	f, err := os.Open(path)
	if err != nil {
		logger.Warn("postcode reference dataset unavailable, index empty", "path", path, "error", err)
		return &Index{
			suburbToPostcode: make(map[string]string),
			postcodeCoords:   make(map[string]Coordinate),
		}
	}
	defer f.Close()

	idx, err := NewIndex(f)
	if err != nil {
		logger.Warn("postcode reference dataset unreadable, index empty", "path", path, "error", err)
		return &Index{
			suburbToPostcode: make(map[string]string),
			postcodeCoords:   make(map[string]Coordinate),
		}
	}

	logger.Info("postcode index loaded",
		"suburbs", len(idx.suburbToPostcode),
		"postcodes", len(idx.postcodeCoords),
	)
	return idx
}

// BySuburb looks up the postcode for a suburb name. Matching is exact after
// trimming and upper-casing.
func (idx *Index) BySuburb(name string) (string, bool) {
	name = strings.ToUpper(strings.TrimSpace(name))
	if name == "" {
		return "", false
	}
	pc, ok := idx.suburbToPostcode[name]
	return pc, ok
}

// Nearest returns the postcode of the reference point closest to (lat, lon)
// by haversine distance. (0,0) coordinates and an empty index yield no
// result. Ties resolve to the first minimum in reference-data order.
func (idx *Index) Nearest(lat, lon float64) (string, bool) {
	if len(idx.points) == 0 || lat == 0 || lon == 0 {
		return "", false
	}

	minDist := math.Inf(1)
	var nearest string
	for _, p := range idx.points {
		d := haversine(lat, lon, p.coord.Lat, p.coord.Lon)
		if d < minDist {
			minDist = d
			nearest = p.postcode
		}
	}
	return nearest, true
}

// Coordinate returns the representative coordinate recorded for a postcode:
// the first coordinate seen for it in the reference data.
func (idx *Index) Coordinate(pc string) (Coordinate, bool) {
	c, ok := idx.postcodeCoords[pc]
	return c, ok
}

// Len reports the number of distinct suburbs indexed.
func (idx *Index) Len() int {
	return len(idx.suburbToPostcode)
}

const earthRadiusKm = 6371

// haversine computes the great-circle distance between two points in km.
func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Asin(math.Sqrt(a))

	return earthRadiusKm * c
}
