package fetcher

import (
	"context"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	acceptDatasets = "application/geo+json, application/json;q=0.9, text/csv;q=0.8, */*;q=0.5"
	maxBackoff     = 30 * time.Second
)

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent    string
	Timeout      time.Duration
	MaxRetries   int
	BaseBackoff  time.Duration
	RateLimiters map[string]*rate.Limiter
}

// HTTPFetcher implements Fetcher with retries, Retry-After support and
// per-host rate limiting.
type HTTPFetcher struct {
	client   *http.Client
	opts     HTTPOptions
	limiters map[string]*rate.Limiter
	fallback *rate.Limiter
}

// DefaultRateLimiters returns per-host limits for the open-data portals
// traffic counts are usually published on.
func DefaultRateLimiters() map[string]*rate.Limiter {
	return map[string]*rate.Limiter{
		"geohub.brampton.ca":   rate.NewLimiter(2, 2),
		"services.arcgis.com":  rate.NewLimiter(5, 5),
		"services1.arcgis.com": rate.NewLimiter(5, 5),
		"www2.census.gov":      rate.NewLimiter(5, 5),
	}
}

// NewHTTPFetcher creates an HTTPFetcher, filling unset options with defaults.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "traffic-score/1.0"
	}
	limiters := make(map[string]*rate.Limiter, len(opts.RateLimiters))
	for host, lim := range opts.RateLimiters {
		limiters[host] = lim
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		opts:     opts,
		limiters: limiters,
		fallback: rate.NewLimiter(20, 20),
	}
}

func (f *HTTPFetcher) limiterFor(u *url.URL) *rate.Limiter {
	if lim, ok := f.limiters[u.Hostname()]; ok {
		return lim
	}
	return f.fallback
}

// retryable reports whether a response status is worth another attempt.
func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500
}

// send issues method against rawURL, retrying transport errors and
// retryable statuses. Any other status is returned to the caller.
func (f *HTTPFetcher) send(ctx context.Context, method, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "http: build %s request", method)
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", acceptDatasets)
	lim := f.limiterFor(req.URL)

	var lastErr error
	for attempt := range f.opts.MaxRetries {
		if attempt > 0 && ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "http: cancelled")
		}
		if err := lim.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "http: rate limiter wait")
		}

		resp, err := f.client.Do(req.Clone(ctx))
		if err != nil {
			lastErr = err
			zap.L().Warn("http: request failed",
				zap.String("url", rawURL),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			f.wait(ctx, f.backoff(attempt))
			continue
		}
		if !retryable(resp.StatusCode) {
			return resp, nil
		}

		delay, hinted := retryAfter(resp.Header.Get("Retry-After"), time.Now())
		_ = resp.Body.Close()
		lastErr = eris.Errorf("http %d from %s", resp.StatusCode, rawURL)
		if !hinted {
			delay = f.backoff(attempt)
		}
		zap.L().Warn("http: server refused, retrying",
			zap.String("url", rawURL),
			zap.Int("status", resp.StatusCode),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
		)
		if attempt+1 < f.opts.MaxRetries {
			f.wait(ctx, delay)
		}
	}

	return nil, eris.Wrapf(lastErr, "http: %d attempts exhausted", f.opts.MaxRetries)
}

// backoff is exponential in attempt with up to 50% jitter, capped at 30s.
func (f *HTTPFetcher) backoff(attempt int) time.Duration {
	d := time.Duration(float64(f.opts.BaseBackoff) * math.Pow(2, float64(attempt)))
	if d > maxBackoff {
		d = maxBackoff
	}
	if half := int64(d) / 2; half > 0 {
		d += time.Duration(rand.Int64N(half))
	}
	return d
}

func (f *HTTPFetcher) wait(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// retryAfter parses a Retry-After header given as seconds or an HTTP date.
// The delay is capped at 30s.
func retryAfter(v string, now time.Time) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	var d time.Duration
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		d = time.Duration(secs) * time.Second
	} else if at, err := http.ParseTime(v); err == nil {
		d = max(at.Sub(now), 0)
	} else {
		return 0, false
	}
	return min(d, maxBackoff), true
}

// Download fetches the URL and returns the response body.
func (f *HTTPFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	resp, err := f.send(ctx, http.MethodGet, rawURL)
	if err != nil {
		return nil, eris.Wrap(err, "download")
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, eris.Errorf("download: unexpected status %d from %s", resp.StatusCode, rawURL)
	}
	return resp.Body, nil
}

// DownloadToFile fetches the URL and writes it to path. The body goes to a
// sibling temp file that is renamed into place after a complete read, so a
// failed download never clobbers an earlier copy.
func (f *HTTPFetcher) DownloadToFile(ctx context.Context, rawURL string, path string) (int64, error) {
	body, err := f.Download(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	defer body.Close() //nolint:errcheck

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, eris.Wrap(err, "download: create dir")
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.part")
	if err != nil {
		return 0, eris.Wrap(err, "download: create file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	n, err := io.Copy(tmp, body)
	if err != nil {
		_ = tmp.Close()
		return n, eris.Wrapf(err, "download: write %s", path)
	}
	if err := tmp.Close(); err != nil {
		return n, eris.Wrap(err, "download: close file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return n, eris.Wrap(err, "download: rename file")
	}

	zap.L().Debug("download: saved", zap.String("url", rawURL), zap.String("path", path), zap.Int64("bytes", n))
	return n, nil
}

// Revision identifies the current version of a remote resource without
// downloading it. It prefers the ETag, then Last-Modified, then
// Content-Length, and returns "" when the server reports none of them.
func (f *HTTPFetcher) Revision(ctx context.Context, rawURL string) (string, error) {
	resp, err := f.send(ctx, http.MethodHead, rawURL)
	if err != nil {
		return "", eris.Wrap(err, "revision")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return "", eris.Errorf("revision: unexpected status %d from %s", resp.StatusCode, rawURL)
	}

	switch {
	case resp.Header.Get("ETag") != "":
		return "etag:" + resp.Header.Get("ETag"), nil
	case resp.Header.Get("Last-Modified") != "":
		return "modified:" + resp.Header.Get("Last-Modified"), nil
	case resp.ContentLength > 0:
		return "size:" + strconv.FormatInt(resp.ContentLength, 10), nil
	}
	return "", nil
}
