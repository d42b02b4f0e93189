package source

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/sells-group/traffic-score/internal/fetcher"
)

// Pool is the subset of a pgx pool used by PostGIS.
type Pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// PostGIS reads features from a table with a geometry column. All
// non-geometry columns become attributes.
type PostGIS struct {
	Pool       Pool
	Table      string // optionally schema-qualified
	GeomColumn string // default "geom"
}

// Name implements Source.
func (p *PostGIS) Name() string { return "postgis:" + p.Table }

func (p *PostGIS) identifiers() (table, column string, err error) {
	parts := strings.Split(p.Table, ".")
	if len(parts) > 2 {
		return "", "", eris.Errorf("postgis: invalid table name %q", p.Table)
	}
	for _, part := range parts {
		if !identPattern.MatchString(part) {
			return "", "", eris.Errorf("postgis: invalid table name %q", p.Table)
		}
	}
	col := p.GeomColumn
	if col == "" {
		col = "geom"
	}
	if !identPattern.MatchString(col) {
		return "", "", eris.Errorf("postgis: invalid geometry column %q", col)
	}
	return pgx.Identifier(parts).Sanitize(), pgx.Identifier{col}.Sanitize(), nil
}

// Features implements Source.
func (p *PostGIS) Features(ctx context.Context) ([]Feature, error) {
	table, col, err := p.identifiers()
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(
		`SELECT ST_AsEWKB(t.%[2]s), to_jsonb(t) - '%[3]s' FROM %[1]s t`,
		table, col, strings.Trim(col, `"`),
	)
	rows, err := p.Pool.Query(ctx, query)
	if err != nil {
		return nil, eris.Wrapf(err, "postgis: query %s", p.Table)
	}
	defer rows.Close()

	var features []Feature
	for rows.Next() {
		var (
			geomBytes []byte
			propBytes []byte
		)
		if err := rows.Scan(&geomBytes, &propBytes); err != nil {
			return nil, eris.Wrapf(err, "postgis: scan %s", p.Table)
		}

		var g geom.T
		if len(geomBytes) > 0 {
			g, err = ewkb.Unmarshal(geomBytes)
			if err != nil {
				return nil, eris.Wrapf(err, "postgis: decode geometry in %s", p.Table)
			}
		}

		attrs := Attributes{}
		if len(propBytes) > 0 {
			decoded, err := fetcher.DecodeJSONObject[Attributes](bytes.NewReader(propBytes))
			if err != nil {
				return nil, eris.Wrapf(err, "postgis: decode attributes in %s", p.Table)
			}
			attrs = *decoded
		}
		features = append(features, Feature{Geometry: g, Attributes: attrs})
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(err, "postgis: iterate %s", p.Table)
	}
	return features, nil
}

// Fingerprint implements Fingerprinter using the row count and an md5 over
// the table's text representation.
func (p *PostGIS) Fingerprint(ctx context.Context) (string, error) {
	table, _, err := p.identifiers()
	if err != nil {
		return "", err
	}

	var (
		count int64
		sum   string
	)
	query := fmt.Sprintf(
		`SELECT count(*), coalesce(md5(string_agg(t::text, '|' ORDER BY t::text)), '') FROM %s t`,
		table,
	)
	if err := p.Pool.QueryRow(ctx, query).Scan(&count, &sum); err != nil {
		return "", eris.Wrapf(err, "postgis: fingerprint %s", p.Table)
	}
	return fmt.Sprintf("postgis:%s:%d:%s", p.Table, count, sum), nil
}
