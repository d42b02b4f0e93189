// Package source reads geometry+attribute records (traffic counts, road
// segments) from files, remote portals and PostGIS tables.
package source

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// ErrNotFound is returned by file-backed sources whose file does not exist.
var ErrNotFound = eris.New("source: not found")

// Attributes holds the named fields of one record. A nil value means the
// field is present but null.
type Attributes map[string]any

// Lookup returns the named field when it is present and not null.
func (a Attributes) Lookup(name string) (any, bool) {
	v, ok := a[name]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// Feature is one geometry with its attribute record. Geometry may be nil.
type Feature struct {
	Geometry   geom.T
	Attributes Attributes
}

// Source supplies a collection of features.
type Source interface {
	// Name identifies the source in logs and errors.
	Name() string

	// Features loads every record of the source.
	Features(ctx context.Context) ([]Feature, error)
}

// Fingerprinter is implemented by sources that can describe the current
// version of their data without loading it.
type Fingerprinter interface {
	Fingerprint(ctx context.Context) (string, error)
}

// FileOptions configures the file-backed sources built by FromPath.
type FileOptions struct {
	CSVEncoding  string
	CSVDelimiter rune
	XLSXSheet    string
}

// FromPath picks a file-backed source by extension.
func FromPath(path string, opts FileOptions) (Source, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".geojson", ".json":
		return &GeoJSONFile{Path: path}, nil
	case ".csv":
		return &CSVFile{Path: path, Encoding: opts.CSVEncoding, Delimiter: opts.CSVDelimiter}, nil
	case ".xlsx":
		return &XLSXFile{Path: path, Sheet: opts.XLSXSheet}, nil
	case ".shp", ".zip":
		return &Shapefile{Path: path}, nil
	default:
		return nil, eris.Errorf("source: unsupported file type %q", path)
	}
}

// fileFingerprint hashes the path, size and modification time of a file.
func fileFingerprint(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", eris.Wrapf(ErrNotFound, "source: stat %s", path)
		}
		return "", eris.Wrapf(err, "source: stat %s", path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%d", abs, info.Size(), info.ModTime().UnixNano())))
	return fmt.Sprintf("file:%x", h[:16]), nil
}

// openFile opens path, mapping a missing file to ErrNotFound.
func openFile(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, eris.Wrapf(ErrNotFound, "source: open %s", path)
		}
		return nil, eris.Wrapf(err, "source: open %s", path)
	}
	return f, nil
}
