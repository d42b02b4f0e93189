// Package fetcher downloads traffic datasets over HTTP and parses the tabular
// and archive formats municipal open-data portals publish them in.
package fetcher

import (
	"context"
	"io"
)

// Fetcher retrieves remote datasets.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL into path and returns the bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)

	// Revision returns a validator for the resource's current version, or ""
	// when the server exposes none.
	Revision(ctx context.Context, url string) (string, error)
}

var _ Fetcher = (*HTTPFetcher)(nil)
