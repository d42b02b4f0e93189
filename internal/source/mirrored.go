package source

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/traffic-score/internal/fetcher"
)

// Mirrored reads a local file, downloading it from URL first when it is not
// present yet. The file type is picked from Path's extension.
type Mirrored struct {
	Fetcher fetcher.Fetcher
	URL     string
	Path    string
	Options FileOptions
}

// Name implements Source.
func (m *Mirrored) Name() string { return "mirror:" + m.Path }

// Features implements Source.
func (m *Mirrored) Features(ctx context.Context) ([]Feature, error) {
	local, err := FromPath(m.Path, m.Options)
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(m.Path); os.IsNotExist(err) {
		if m.URL == "" {
			return nil, eris.Wrapf(ErrNotFound, "mirror: %s", m.Path)
		}
		if err := os.MkdirAll(filepath.Dir(m.Path), 0o755); err != nil {
			return nil, eris.Wrap(err, "mirror: create data dir")
		}
		n, err := m.Fetcher.DownloadToFile(ctx, m.URL, m.Path)
		if err != nil {
			return nil, eris.Wrapf(err, "mirror: download %s", m.URL)
		}
		zap.L().Info("mirrored remote file",
			zap.String("url", m.URL),
			zap.String("path", m.Path),
			zap.Int64("bytes", n),
		)
	}

	return local.Features(ctx)
}

// Fingerprint implements Fingerprinter. A file that has not been mirrored
// yet reports the remote revision.
func (m *Mirrored) Fingerprint(ctx context.Context) (string, error) {
	fp, err := fileFingerprint(m.Path)
	if err == nil || m.URL == "" {
		return fp, err
	}
	rev, err := m.Fetcher.Revision(ctx, m.URL)
	if err != nil {
		return "", eris.Wrap(err, "mirror: fingerprint")
	}
	if rev == "" {
		return "", eris.Errorf("mirror: %s reports no revision", m.URL)
	}
	return "mirror:" + m.URL + ":" + rev, nil
}
