package source

import (
	"context"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/traffic-score/internal/fetcher"
)

// Column names recognised as point coordinates, matched case-insensitively.
var (
	latitudeColumns  = []string{"latitude", "lat", "y"}
	longitudeColumns = []string{"longitude", "lon", "long", "x"}
)

// CSVFile reads point records from a CSV file with latitude and longitude
// columns.
type CSVFile struct {
	Path      string
	Encoding  string
	Delimiter rune
}

// Name implements Source.
func (c *CSVFile) Name() string { return "csv:" + c.Path }

// Features implements Source.
func (c *CSVFile) Features(ctx context.Context) ([]Feature, error) {
	f, err := openFile(c.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close() //nolint:errcheck

	rowCh, errCh := fetcher.StreamCSV(ctx, f, fetcher.CSVOptions{
		Delimiter:  c.Delimiter,
		Encoding:   c.Encoding,
		LazyQuotes: true,
		TrimSpace:  true,
	})
	features, err := pointsFromRows(rowCh, errCh)
	if err != nil {
		return nil, eris.Wrapf(err, "source: read %s", c.Path)
	}
	return features, nil
}

// Fingerprint implements Fingerprinter.
func (c *CSVFile) Fingerprint(_ context.Context) (string, error) {
	return fileFingerprint(c.Path)
}

// XLSXFile reads point records from one worksheet of an Excel workbook.
type XLSXFile struct {
	Path  string
	Sheet string
}

// Name implements Source.
func (x *XLSXFile) Name() string { return "xlsx:" + x.Path }

// Features implements Source.
func (x *XLSXFile) Features(ctx context.Context) ([]Feature, error) {
	if _, err := fileFingerprint(x.Path); err != nil {
		return nil, err
	}
	rowCh, errCh := fetcher.StreamXLSX(ctx, x.Path, fetcher.XLSXOptions{SheetName: x.Sheet})
	features, err := pointsFromRows(rowCh, errCh)
	if err != nil {
		return nil, eris.Wrapf(err, "source: read %s", x.Path)
	}
	return features, nil
}

// Fingerprint implements Fingerprinter.
func (x *XLSXFile) Fingerprint(_ context.Context) (string, error) {
	return fileFingerprint(x.Path)
}

// pointsFromRows turns a header row plus data rows into point features.
// Rows whose coordinates do not parse are skipped. Empty cells become null
// attributes.
func pointsFromRows(rowCh <-chan []string, errCh <-chan error) ([]Feature, error) {
	var (
		header   []string
		latIdx   = -1
		lonIdx   = -1
		features []Feature
		skipped  int
	)

	for row := range rowCh {
		if header == nil {
			header = make([]string, len(row))
			for i, name := range row {
				header[i] = strings.TrimSpace(name)
			}
			latIdx = findColumn(header, latitudeColumns)
			lonIdx = findColumn(header, longitudeColumns)
			continue
		}
		if latIdx < 0 || lonIdx < 0 {
			continue
		}
		if latIdx >= len(row) || lonIdx >= len(row) {
			skipped++
			continue
		}
		lat, errLat := strconv.ParseFloat(strings.TrimSpace(row[latIdx]), 64)
		lon, errLon := strconv.ParseFloat(strings.TrimSpace(row[lonIdx]), 64)
		if errLat != nil || errLon != nil {
			skipped++
			continue
		}

		attrs := make(Attributes, len(header))
		for i, name := range header {
			if i < len(row) && strings.TrimSpace(row[i]) != "" {
				attrs[name] = row[i]
			} else {
				attrs[name] = nil
			}
		}
		features = append(features, Feature{
			Geometry:   geom.NewPointFlat(geom.XY, []float64{lon, lat}),
			Attributes: attrs,
		})
	}
	for err := range errCh {
		if err != nil {
			return nil, err
		}
	}

	if header == nil {
		return nil, eris.New("tabular: missing header row")
	}
	if latIdx < 0 || lonIdx < 0 {
		return nil, eris.Errorf("tabular: no latitude/longitude columns in %v", header)
	}
	if skipped > 0 {
		zap.L().Debug("tabular: skipped rows without usable coordinates", zap.Int("count", skipped))
	}
	return features, nil
}

// findColumn returns the index of the first header matching any candidate,
// in header order.
func findColumn(header []string, candidates []string) int {
	for i, name := range header {
		lower := strings.ToLower(name)
		for _, c := range candidates {
			if lower == c {
				return i
			}
		}
	}
	return -1
}
