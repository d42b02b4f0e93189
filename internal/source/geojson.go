package source

import (
	"bytes"
	"context"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/sells-group/traffic-score/internal/fetcher"
)

type featureCollection struct {
	Type     string       `json:"type"`
	Features []rawFeature `json:"features"`
}

type rawFeature struct {
	Geometry   json.RawMessage `json:"geometry"`
	Properties map[string]any  `json:"properties"`
}

// GeoJSONFile reads a GeoJSON FeatureCollection from disk.
type GeoJSONFile struct {
	Path string
}

// Name implements Source.
func (g *GeoJSONFile) Name() string { return "geojson:" + g.Path }

// Features implements Source.
func (g *GeoJSONFile) Features(_ context.Context) ([]Feature, error) {
	f, err := openFile(g.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close() //nolint:errcheck

	features, err := DecodeGeoJSON(f)
	if err != nil {
		return nil, eris.Wrapf(err, "source: read %s", g.Path)
	}
	return features, nil
}

// Fingerprint implements Fingerprinter.
func (g *GeoJSONFile) Fingerprint(_ context.Context) (string, error) {
	return fileFingerprint(g.Path)
}

// DecodeGeoJSON parses a FeatureCollection. Features with a null geometry
// are kept with a nil Geometry; features whose geometry cannot be parsed
// are dropped.
func DecodeGeoJSON(r io.Reader) ([]Feature, error) {
	fc, err := fetcher.DecodeJSONObject[featureCollection](r)
	if err != nil {
		return nil, eris.Wrap(err, "geojson: decode")
	}
	if fc.Type != "FeatureCollection" {
		return nil, eris.Errorf("geojson: expected FeatureCollection, got %q", fc.Type)
	}

	features := make([]Feature, 0, len(fc.Features))
	var malformed int
	for _, rf := range fc.Features {
		var g geom.T
		raw := bytes.TrimSpace(rf.Geometry)
		if len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
			if err := geojson.Unmarshal(raw, &g); err != nil {
				malformed++
				continue
			}
		}
		features = append(features, Feature{Geometry: g, Attributes: Attributes(rf.Properties)})
	}
	if malformed > 0 {
		zap.L().Warn("geojson: dropped features with malformed geometry", zap.Int("count", malformed))
	}
	return features, nil
}
