package fetcher

import (
	"archive/zip"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// shapefileParts are the members of a shapefile layer worth extracting.
var shapefileParts = map[string]bool{
	".shp": true,
	".shx": true,
	".dbf": true,
	".prj": true,
	".cpg": true,
}

// ExtractShapefile extracts one shapefile layer from a ZIP bundle into destDir
// and returns the path of its .shp. When the bundle holds several layers the
// largest .shp wins. Extensions are lowercased on the way out because the
// shapefile reader derives sidecar names in lower case.
func ExtractShapefile(zipPath, destDir string) (string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return "", eris.Wrap(err, "zip: open archive")
	}
	defer r.Close() //nolint:errcheck

	var layer *zip.File
	for _, f := range r.File {
		if skipEntry(f) || !strings.EqualFold(path.Ext(f.Name), ".shp") {
			continue
		}
		if layer == nil || f.UncompressedSize64 > layer.UncompressedSize64 {
			layer = f
		}
	}
	if layer == nil {
		return "", eris.Errorf("zip: no .shp file in %s", filepath.Base(zipPath))
	}
	stem := strings.TrimSuffix(layer.Name, path.Ext(layer.Name))

	var shpPath string
	var hasDBF bool
	for _, f := range r.File {
		ext := strings.ToLower(path.Ext(f.Name))
		if skipEntry(f) || !shapefileParts[ext] || strings.TrimSuffix(f.Name, path.Ext(f.Name)) != stem {
			continue
		}
		dest, err := extractEntry(f, destDir, stem+ext)
		if err != nil {
			return "", err
		}
		switch ext {
		case ".shp":
			shpPath = dest
		case ".dbf":
			hasDBF = true
		}
	}
	if !hasDBF {
		return "", eris.Errorf("zip: layer %s has no .dbf attribute table", layer.Name)
	}
	return shpPath, nil
}

// skipEntry filters directories and macOS resource forks.
func skipEntry(f *zip.File) bool {
	return f.FileInfo().IsDir() ||
		strings.HasPrefix(f.Name, "__MACOSX/") ||
		strings.HasPrefix(path.Base(f.Name), "._")
}

// extractEntry writes f to destDir/name, rejecting names that escape destDir.
func extractEntry(f *zip.File, destDir, name string) (string, error) {
	destPath := filepath.Join(destDir, filepath.FromSlash(name))
	if !strings.HasPrefix(filepath.Clean(destPath), filepath.Clean(destDir)+string(os.PathSeparator)) {
		return "", eris.Errorf("zip: illegal path %q (zip slip attempt)", f.Name)
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return "", eris.Wrap(err, "zip: create parent directory")
	}

	rc, err := f.Open()
	if err != nil {
		return "", eris.Wrap(err, "zip: open entry")
	}
	defer rc.Close() //nolint:errcheck

	out, err := os.Create(destPath)
	if err != nil {
		return "", eris.Wrap(err, "zip: create file")
	}
	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		return "", eris.Wrapf(err, "zip: write %s", name)
	}
	return destPath, eris.Wrap(out.Close(), "zip: close file")
}
