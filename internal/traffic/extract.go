package traffic

import (
	"math"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"

	"github.com/sells-group/traffic-score/internal/source"
)

// Observation is one located volume, measured or synthetic.
type Observation struct {
	Lon       float64
	Lat       float64
	Volume    float64
	Synthetic bool
}

// ExtractStats counts what happened to each input record.
type ExtractStats struct {
	Records     int
	Accepted    int
	NoGeometry  int
	NoVolume    int
	FieldCounts map[string]int
}

// Location resolves a geometry to one coordinate: a point yields itself,
// lines yield their centroid. Other kinds report false.
func Location(g geom.T) (lon, lat float64, ok bool) {
	switch t := g.(type) {
	case *geom.Point:
		if t == nil || t.Empty() {
			return 0, 0, false
		}
		lon, lat = t.X(), t.Y()
	case *geom.LineString:
		if t == nil || t.Empty() {
			return 0, 0, false
		}
		lon, lat = lineCentroid(t, t.FlatCoords(), t.Stride())
	case *geom.MultiLineString:
		if t == nil || t.Empty() {
			return 0, 0, false
		}
		lon, lat = lineCentroid(t, t.FlatCoords(), t.Stride())
	default:
		return 0, 0, false
	}
	if !finite(lon) || !finite(lat) {
		return 0, 0, false
	}
	return lon, lat, true
}

// ExtractObservations keeps every feature with a resolvable location and a
// positive volume. Dropped features get no entry.
func ExtractObservations(features []source.Feature, rules []VolumeRule) ([]Observation, ExtractStats) {
	stats := ExtractStats{Records: len(features), FieldCounts: make(map[string]int)}
	obs := make([]Observation, 0, len(features))

	for _, f := range features {
		lon, lat, ok := Location(f.Geometry)
		if !ok {
			stats.NoGeometry++
			continue
		}
		vol, field, ok := ResolveVolume(f.Attributes, rules)
		if !ok {
			stats.NoVolume++
			continue
		}
		stats.FieldCounts[field]++
		obs = append(obs, Observation{Lon: lon, Lat: lat, Volume: vol})
	}
	stats.Accepted = len(obs)
	return obs, stats
}

// lineCentroid returns the length-weighted centroid. A zero-length line
// collapses to its first vertex.
func lineCentroid(g geom.T, flat []float64, stride int) (float64, float64) {
	c, err := xy.Centroid(g)
	if err == nil && len(c) >= 2 && finite(c.X()) && finite(c.Y()) {
		return c.X(), c.Y()
	}
	if len(flat) < 2 || stride < 2 {
		return math.NaN(), math.NaN()
	}
	return flat[0], flat[1]
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
