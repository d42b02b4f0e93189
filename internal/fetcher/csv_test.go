package fetcher

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectRows(t *testing.T, rowCh <-chan []string, errCh <-chan error) ([][]string, error) {
	t.Helper()
	var rows [][]string
	for row := range rowCh {
		rows = append(rows, row)
	}
	for err := range errCh {
		if err != nil {
			return rows, err
		}
	}
	return rows, nil
}

func TestStreamCSV_Basic(t *testing.T) {
	input := "lon,lat,AADT\n-79.7,43.7,1200\n-79.75,43.65,800\n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"lon", "lat", "AADT"}, rows[0])
	assert.Equal(t, []string{"-79.7", "43.7", "1200"}, rows[1])
}

func TestStreamCSV_TrimAndDelimiter(t *testing.T) {
	input := " lon ; lat \n -79.7 ; 43.7 \n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{
		Delimiter: ';',
		TrimSpace: true,
	})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"lon", "lat"}, rows[0])
	assert.Equal(t, []string{"-79.7", "43.7"}, rows[1])
}

func TestStreamCSV_Windows1252(t *testing.T) {
	// 0xE9 is "é" in windows-1252.
	input := "name,AADT\nRue Ren\xe9,100\n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{
		Encoding: "windows-1252",
	})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Rue René", rows[1][0])
}

func TestStreamCSV_ByteOrderMark(t *testing.T) {
	tests := []struct {
		name  string
		input string
		opts  CSVOptions
	}{
		{"utf-8", "\xef\xbb\xbflon,lat\n-79.7,43.7\n", CSVOptions{}},
		{"utf-8 overrides label", "\xef\xbb\xbflon,lat\n-79.7,43.7\n", CSVOptions{Encoding: "windows-1252"}},
		{"utf-16le", "\xff\xfel\x00o\x00n\x00,\x00l\x00a\x00t\x00\n\x00-\x007\x009\x00.\x007\x00,\x004\x003\x00.\x007\x00\n\x00", CSVOptions{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(tt.input), tt.opts)
			rows, err := collectRows(t, rowCh, errCh)
			require.NoError(t, err)
			require.Len(t, rows, 2)
			assert.Equal(t, []string{"lon", "lat"}, rows[0])
			assert.Equal(t, []string{"-79.7", "43.7"}, rows[1])
		})
	}
}

func TestStreamCSV_UnknownEncoding(t *testing.T) {
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader("a\n"), CSVOptions{
		Encoding: "klingon-8",
	})
	_, err := collectRows(t, rowCh, errCh)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported encoding")
}

func TestStreamCSV_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rowCh, errCh := StreamCSV(ctx, strings.NewReader("a,b\n1,2\n"), CSVOptions{})
	_, err := collectRows(t, rowCh, errCh)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
