package source

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/traffic-score/internal/fetcher"
)

// Shapefile reads an ESRI shapefile, either a bare .shp with its sidecar
// files or a .zip bundle containing one.
type Shapefile struct {
	Path string
}

// Name implements Source.
func (s *Shapefile) Name() string { return "shapefile:" + s.Path }

// Fingerprint implements Fingerprinter.
func (s *Shapefile) Fingerprint(_ context.Context) (string, error) {
	return fileFingerprint(s.Path)
}

// Features implements Source.
func (s *Shapefile) Features(ctx context.Context) ([]Feature, error) {
	if _, err := os.Stat(s.Path); err != nil {
		if os.IsNotExist(err) {
			return nil, eris.Wrapf(ErrNotFound, "source: open %s", s.Path)
		}
		return nil, eris.Wrapf(err, "source: stat %s", s.Path)
	}

	shpPath := s.Path
	if strings.EqualFold(filepath.Ext(s.Path), ".zip") {
		tmpDir, err := os.MkdirTemp("", "traffic-shp-*")
		if err != nil {
			return nil, eris.Wrap(err, "shapefile: create temp dir")
		}
		defer os.RemoveAll(tmpDir) //nolint:errcheck

		shpPath, err = fetcher.ExtractShapefile(s.Path, tmpDir)
		if err != nil {
			return nil, eris.Wrapf(err, "shapefile: extract %s", s.Path)
		}
	}

	return readShapefile(ctx, shpPath)
}

func readShapefile(ctx context.Context, shpPath string) ([]Feature, error) {
	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, eris.Wrapf(err, "shapefile: open %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = strings.TrimRight(f.String(), "\x00")
	}

	var features []Feature
	var unsupported int
	for reader.Next() {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "shapefile: context cancelled")
		}
		_, shape := reader.Shape()

		attrs := make(Attributes, len(names))
		for i, name := range names {
			val := strings.TrimSpace(strings.TrimRight(reader.Attribute(i), "\x00"))
			if val == "" {
				attrs[name] = nil
			} else {
				attrs[name] = val
			}
		}

		g := shapeToGeom(shape)
		if g == nil && shape != nil {
			unsupported++
		}
		features = append(features, Feature{Geometry: g, Attributes: attrs})
	}

	if unsupported > 0 {
		zap.L().Debug("shapefile: records with unsupported shape types",
			zap.String("path", shpPath),
			zap.Int("count", unsupported),
		)
	}
	return features, nil
}

// shapeToGeom converts point and polyline shapes. Other shape types yield nil.
func shapeToGeom(shape shp.Shape) geom.T {
	switch s := shape.(type) {
	case *shp.Point:
		return geom.NewPointFlat(geom.XY, []float64{s.X, s.Y})
	case *shp.PointZ:
		return geom.NewPointFlat(geom.XY, []float64{s.X, s.Y})
	case *shp.PolyLine:
		return partsToLines(s.Parts, s.Points)
	case *shp.PolyLineZ:
		return partsToLines(s.Parts, s.Points)
	default:
		return nil
	}
}

// partsToLines returns a LineString for a single part and a MultiLineString
// otherwise.
func partsToLines(parts []int32, points []shp.Point) geom.T {
	if len(parts) == 0 || len(points) == 0 {
		return nil
	}

	mls := geom.NewMultiLineString(geom.XY)
	for i, start := range parts {
		end := int32(len(points))
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		if start < 0 || end > int32(len(points)) || start >= end {
			continue
		}
		flat := make([]float64, 0, 2*(end-start))
		for _, p := range points[start:end] {
			flat = append(flat, p.X, p.Y)
		}
		if err := mls.Push(geom.NewLineStringFlat(geom.XY, flat)); err != nil {
			continue
		}
	}

	switch mls.NumLineStrings() {
	case 0:
		return nil
	case 1:
		return mls.LineString(0)
	default:
		return mls
	}
}
