package source

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/traffic-score/internal/fetcher"
)

// Endpoint is one remote location that may serve a GeoJSON
// FeatureCollection.
type Endpoint struct {
	Name   string
	URL    string
	Params map[string]string
}

// Resolve returns the endpoint URL with its query parameters applied.
func (e Endpoint) Resolve() (string, error) {
	u, err := url.Parse(e.URL)
	if err != nil {
		return "", eris.Wrapf(err, "remote: parse url %q", e.URL)
	}
	if len(e.Params) > 0 {
		q := u.Query()
		for k, v := range e.Params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Remote downloads GeoJSON from the first endpoint that answers with a
// parseable FeatureCollection. When SavePath is set the successful payload
// is kept there so later runs can read it locally.
type Remote struct {
	Fetcher   fetcher.Fetcher
	Endpoints []Endpoint
	SavePath  string
}

// Name implements Source.
func (r *Remote) Name() string { return "remote" }

// Features implements Source.
func (r *Remote) Features(ctx context.Context) ([]Feature, error) {
	if len(r.Endpoints) == 0 {
		return nil, eris.New("remote: no endpoints configured")
	}

	log := zap.L().With(zap.String("component", "source.remote"))
	var errs []string
	for _, ep := range r.Endpoints {
		features, err := r.try(ctx, ep)
		if err == nil {
			log.Info("downloaded traffic data",
				zap.String("endpoint", ep.Name),
				zap.Int("features", len(features)),
			)
			return features, nil
		}
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "remote: context cancelled")
		}
		log.Warn("endpoint failed", zap.String("endpoint", ep.Name), zap.Error(err))
		errs = append(errs, ep.Name+": "+err.Error())
	}
	return nil, eris.Errorf("remote: all %d endpoints failed: %s", len(r.Endpoints), strings.Join(errs, "; "))
}

func (r *Remote) try(ctx context.Context, ep Endpoint) ([]Feature, error) {
	target, err := ep.Resolve()
	if err != nil {
		return nil, err
	}

	if r.SavePath == "" {
		body, err := r.Fetcher.Download(ctx, target)
		if err != nil {
			return nil, err
		}
		defer body.Close() //nolint:errcheck
		return DecodeGeoJSON(body)
	}

	if err := os.MkdirAll(filepath.Dir(r.SavePath), 0o755); err != nil {
		return nil, eris.Wrap(err, "remote: create data dir")
	}
	partial := r.SavePath + ".download"
	if _, err := r.Fetcher.DownloadToFile(ctx, target, partial); err != nil {
		return nil, err
	}

	features, err := (&GeoJSONFile{Path: partial}).Features(ctx)
	if err != nil {
		_ = os.Remove(partial)
		return nil, err
	}
	if err := os.Rename(partial, r.SavePath); err != nil {
		_ = os.Remove(partial)
		return nil, eris.Wrap(err, "remote: save download")
	}
	return features, nil
}

// Fingerprint implements Fingerprinter. Once a download has been saved the
// saved file is fingerprinted, otherwise the revision of the first endpoint
// that reports one.
func (r *Remote) Fingerprint(ctx context.Context) (string, error) {
	if r.SavePath != "" {
		if fp, err := fileFingerprint(r.SavePath); err == nil {
			return fp, nil
		}
	}
	for _, ep := range r.Endpoints {
		target, err := ep.Resolve()
		if err != nil {
			continue
		}
		rev, err := r.Fetcher.Revision(ctx, target)
		if err != nil || rev == "" {
			continue
		}
		return "remote:" + ep.Name + ":" + rev, nil
	}
	return "", eris.New("remote: no endpoint reported a revision")
}
