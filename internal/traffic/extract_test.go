package traffic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/traffic-score/internal/source"
)

func point(lon, lat float64) geom.T {
	return geom.NewPointFlat(geom.XY, []float64{lon, lat})
}

func line(coords ...float64) geom.T {
	return geom.NewLineStringFlat(geom.XY, coords)
}

func TestLocation(t *testing.T) {
	mls := geom.NewMultiLineString(geom.XY)
	require.NoError(t, mls.Push(geom.NewLineStringFlat(geom.XY, []float64{0, 0, 2, 0})))
	require.NoError(t, mls.Push(geom.NewLineStringFlat(geom.XY, []float64{0, 2, 2, 2})))

	tests := []struct {
		name   string
		g      geom.T
		lon    float64
		lat    float64
		wantOK bool
	}{
		{"point", point(-79.7, 43.7), -79.7, 43.7, true},
		{"line centroid", line(0, 0, 2, 0), 1, 0, true},
		{"bent line is length weighted", line(0, 0, 4, 0, 4, 2), 8.0 / 3, 1.0 / 3, true},
		{"multi line", mls, 1, 1, true},
		{"zero-length line", line(3, 4, 3, 4), 3, 4, true},
		{"polygon skipped", geom.NewPolygonFlat(geom.XY, []float64{0, 0, 1, 0, 1, 1, 0, 0}, []int{8}), 0, 0, false},
		{"empty point", geom.NewPointEmpty(geom.XY), 0, 0, false},
		{"nil", nil, 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lon, lat, ok := Location(tt.g)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.InDelta(t, tt.lon, lon, 1e-12)
				assert.InDelta(t, tt.lat, lat, 1e-12)
			}
		})
	}
}

func TestExtractObservations(t *testing.T) {
	features := []source.Feature{
		{Geometry: point(-79.70, 43.70), Attributes: source.Attributes{"YEAR2023": 100.0}},
		{Geometry: line(-79.76, 43.65, -79.74, 43.65), Attributes: source.Attributes{"AADT": "10"}},
		{Geometry: nil, Attributes: source.Attributes{"AADT": 5.0}},
		{Geometry: point(-79.71, 43.71), Attributes: source.Attributes{"AADT": 0.0}},
		{Geometry: point(-79.72, 43.72), Attributes: source.Attributes{"Street": "Main"}},
	}

	obs, stats := ExtractObservations(features, DefaultVolumeRules(2024))
	require.Len(t, obs, 2)
	assert.Equal(t, Observation{Lon: -79.70, Lat: 43.70, Volume: 100}, obs[0])
	assert.InDelta(t, -79.75, obs[1].Lon, 1e-12)
	assert.Equal(t, 10.0, obs[1].Volume)
	assert.False(t, obs[1].Synthetic)

	assert.Equal(t, 5, stats.Records)
	assert.Equal(t, 2, stats.Accepted)
	assert.Equal(t, 1, stats.NoGeometry)
	assert.Equal(t, 2, stats.NoVolume)
	assert.Equal(t, map[string]int{"YEAR2023": 1, "AADT": 1}, stats.FieldCounts)
}
