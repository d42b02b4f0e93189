package source

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
)

const sampleGeoJSON = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "id": 7,
     "geometry": {"type": "Point", "coordinates": [-79.70, 43.70]},
     "properties": {"AADT": 12000, "YEAR2023": null, "Street": "Queen St"}},
    {"type": "Feature",
     "geometry": {"type": "LineString", "coordinates": [[-79.75, 43.65], [-79.74, 43.66]]},
     "properties": {"Volume": "850"}},
    {"type": "Feature", "geometry": null, "properties": {"AADT": 5}},
    {"type": "Feature", "geometry": {"type": "Point", "coordinates": "bad"}, "properties": {}}
  ]
}`

func TestDecodeGeoJSON(t *testing.T) {
	features, err := DecodeGeoJSON(strings.NewReader(sampleGeoJSON))
	require.NoError(t, err)
	require.Len(t, features, 3, "malformed geometry is dropped, null geometry kept")

	pt, ok := features[0].Geometry.(*geom.Point)
	require.True(t, ok)
	assert.InDelta(t, -79.70, pt.X(), 1e-12)
	assert.InDelta(t, 43.70, pt.Y(), 1e-12)

	v, ok := features[0].Attributes.Lookup("AADT")
	require.True(t, ok)
	assert.Equal(t, json.Number("12000"), v)

	_, ok = features[0].Attributes.Lookup("YEAR2023")
	assert.False(t, ok, "null attribute counts as absent")

	_, ok = features[1].Geometry.(*geom.LineString)
	assert.True(t, ok)

	assert.Nil(t, features[2].Geometry)
}

func TestDecodeGeoJSON_NotACollection(t *testing.T) {
	_, err := DecodeGeoJSON(strings.NewReader(`{"type":"Feature","geometry":null}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected FeatureCollection")
}

func TestDecodeGeoJSON_InvalidJSON(t *testing.T) {
	_, err := DecodeGeoJSON(strings.NewReader(`<html>`))
	require.Error(t, err)
}

func TestGeoJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traffic.geojson")
	require.NoError(t, os.WriteFile(path, []byte(sampleGeoJSON), 0o644))

	src := &GeoJSONFile{Path: path}
	features, err := src.Features(context.Background())
	require.NoError(t, err)
	assert.Len(t, features, 3)

	fp1, err := src.Fingerprint(context.Background())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(fp1, "file:"))

	require.NoError(t, os.WriteFile(path, []byte(sampleGeoJSON+"\n"), 0o644))
	fp2, err := src.Fingerprint(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, fp1, fp2, "size change alters fingerprint")
}

func TestGeoJSONFile_Missing(t *testing.T) {
	src := &GeoJSONFile{Path: filepath.Join(t.TempDir(), "none.geojson")}
	_, err := src.Features(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = src.Fingerprint(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}
