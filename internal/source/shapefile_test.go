package source

import (
	"archive/zip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
)

func writeRoadShapefile(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "roads.shp")
	w, err := shp.Create(path, shp.POLYLINE)
	require.NoError(t, err)

	require.NoError(t, w.SetFields([]shp.Field{
		shp.StringField("highway", 20),
		shp.StringField("name", 20),
	}))

	w.Write(shp.NewPolyLine([][]shp.Point{{{X: 0, Y: 0}, {X: 2, Y: 0}}}))
	require.NoError(t, w.WriteAttribute(0, 0, "primary"))
	require.NoError(t, w.WriteAttribute(0, 1, "Main St"))

	w.Write(shp.NewPolyLine([][]shp.Point{
		{{X: 0, Y: 0}, {X: 0, Y: 1}},
		{{X: 5, Y: 5}, {X: 6, Y: 5}},
	}))
	require.NoError(t, w.WriteAttribute(1, 0, "residential"))

	w.Close()
	return path
}

func TestShapefile_PolyLines(t *testing.T) {
	path := writeRoadShapefile(t, t.TempDir())

	features, err := (&Shapefile{Path: path}).Features(context.Background())
	require.NoError(t, err)
	require.Len(t, features, 2)

	ls, ok := features[0].Geometry.(*geom.LineString)
	require.True(t, ok, "single part becomes a LineString")
	assert.Equal(t, 2, ls.NumCoords())

	v, ok := features[0].Attributes.Lookup("highway")
	require.True(t, ok)
	assert.Equal(t, "primary", v)

	mls, ok := features[1].Geometry.(*geom.MultiLineString)
	require.True(t, ok, "two parts become a MultiLineString")
	assert.Equal(t, 2, mls.NumLineStrings())

	_, ok = features[1].Attributes.Lookup("name")
	assert.False(t, ok, "blank attribute is null")
}

func TestShapefile_Zip(t *testing.T) {
	dir := t.TempDir()
	shpPath := writeRoadShapefile(t, dir)
	base := shpPath[:len(shpPath)-len(".shp")]

	zipPath := filepath.Join(t.TempDir(), "roads.zip")
	zf, err := os.Create(zipPath)
	require.NoError(t, err)
	zw := zip.NewWriter(zf)
	for _, ext := range []string{".shp", ".shx", ".dbf"} {
		src, err := os.Open(base + ext)
		require.NoError(t, err)
		dst, err := zw.Create("export/ROADS" + strings.ToUpper(ext))
		require.NoError(t, err)
		_, err = io.Copy(dst, src)
		require.NoError(t, err)
		require.NoError(t, src.Close())
	}
	require.NoError(t, zw.Close())
	require.NoError(t, zf.Close())

	features, err := (&Shapefile{Path: zipPath}).Features(context.Background())
	require.NoError(t, err)
	assert.Len(t, features, 2)
}

func TestShapefile_Points(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counts.shp")
	w, err := shp.Create(path, shp.POINT)
	require.NoError(t, err)
	require.NoError(t, w.SetFields([]shp.Field{shp.StringField("AADT", 10)}))
	w.Write(&shp.Point{X: -79.7, Y: 43.7})
	require.NoError(t, w.WriteAttribute(0, 0, "1200"))
	w.Close()

	features, err := (&Shapefile{Path: path}).Features(context.Background())
	require.NoError(t, err)
	require.Len(t, features, 1)

	pt, ok := features[0].Geometry.(*geom.Point)
	require.True(t, ok)
	assert.InDelta(t, -79.7, pt.X(), 1e-12)
	v, _ := features[0].Attributes.Lookup("AADT")
	assert.Equal(t, "1200", v)
}

func TestShapefile_Missing(t *testing.T) {
	_, err := (&Shapefile{Path: filepath.Join(t.TempDir(), "none.shp")}).Features(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPartsToLines_Invalid(t *testing.T) {
	assert.Nil(t, partsToLines(nil, nil))
	assert.Nil(t, partsToLines([]int32{3}, []shp.Point{{X: 0, Y: 0}}))
}
