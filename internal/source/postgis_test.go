package source

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
)

func TestPostGIS_Features(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	pt, err := ewkb.Marshal(geom.NewPointFlat(geom.XY, []float64{-79.7, 43.7}).SetSRID(4326), ewkb.NDR)
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT ST_AsEWKB\(t\."geom"\), to_jsonb\(t\) - 'geom' FROM "traffic"\."counts" t`).
		WillReturnRows(mock.NewRows([]string{"geom", "props"}).
			AddRow(pt, []byte(`{"AADT": 1200, "station": "A"}`)).
			AddRow(nil, []byte(`{"AADT": 5}`)))

	src := &PostGIS{Pool: mock, Table: "traffic.counts"}
	features, err := src.Features(context.Background())
	require.NoError(t, err)
	require.Len(t, features, 2)

	p, ok := features[0].Geometry.(*geom.Point)
	require.True(t, ok)
	assert.InDelta(t, -79.7, p.X(), 1e-12)
	v, ok := features[0].Attributes.Lookup("AADT")
	require.True(t, ok)
	assert.Equal(t, json.Number("1200"), v)

	assert.Nil(t, features[1].Geometry)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostGIS_QueryError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT ST_AsEWKB`).WillReturnError(errors.New("relation does not exist"))

	_, err = (&PostGIS{Pool: mock, Table: "counts", GeomColumn: "shape"}).Features(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgis: query counts")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostGIS_Fingerprint(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT count\(\*\), coalesce\(md5`).
		WillReturnRows(mock.NewRows([]string{"count", "md5"}).AddRow(int64(42), "abc"))

	fp, err := (&PostGIS{Pool: mock, Table: "counts"}).Fingerprint(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "postgis:counts:42:abc", fp)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostGIS_InvalidIdentifiers(t *testing.T) {
	tests := []struct {
		name  string
		table string
		col   string
	}{
		{"injection in table", "counts; DROP TABLE x", ""},
		{"three part name", "a.b.c", ""},
		{"bad column", "counts", "geom--"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &PostGIS{Table: tt.table, GeomColumn: tt.col}
			_, err := src.Features(context.Background())
			require.Error(t, err)
			assert.Contains(t, err.Error(), "postgis: invalid")
		})
	}
}
