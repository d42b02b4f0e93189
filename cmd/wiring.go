package main

import (
	"context"
	"errors"
	"net/url"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/traffic-score/internal/config"
	"github.com/sells-group/traffic-score/internal/fetcher"
	"github.com/sells-group/traffic-score/internal/source"
	"github.com/sells-group/traffic-score/internal/store"
	"github.com/sells-group/traffic-score/internal/traffic"
)

func newFetcher(c *config.Config) *fetcher.HTTPFetcher {
	return fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:    c.Fetch.UserAgent,
		Timeout:      time.Duration(c.Fetch.TimeoutSecs) * time.Second,
		MaxRetries:   c.Fetch.MaxRetries,
		RateLimiters: fetcher.DefaultRateLimiters(),
	})
}

func fileOptions(c *config.Config) source.FileOptions {
	opts := source.FileOptions{
		CSVEncoding: c.Source.CSVEncoding,
		XLSXSheet:   c.Source.XLSXSheet,
	}
	if c.Source.CSVDelimiter != "" {
		opts.CSVDelimiter, _ = utf8.DecodeRuneInString(c.Source.CSVDelimiter)
	}
	return opts
}

// manualPaths lists the local files the observation chain looks for.
func manualPaths(c *config.Config) []string {
	paths := make([]string, 0, len(c.Source.ManualFiles))
	for _, name := range c.Source.ManualFiles {
		if filepath.IsAbs(name) {
			paths = append(paths, name)
			continue
		}
		paths = append(paths, filepath.Join(c.Data.Dir, name))
	}
	return paths
}

// observationSource assembles the fallback chain: manual files, then PostGIS,
// then the remote endpoints.
func observationSource(c *config.Config, f fetcher.Fetcher, pool source.Pool) (*source.Chain, error) {
	chain := &source.Chain{Label: "observations"}
	opts := fileOptions(c)

	for _, p := range manualPaths(c) {
		s, err := source.FromPath(p, opts)
		if err != nil {
			return nil, eris.Wrapf(err, "source.manual_files: %s", p)
		}
		chain.Sources = append(chain.Sources, s)
	}

	if c.Source.PostGIS.Table != "" && pool != nil {
		chain.Sources = append(chain.Sources, &source.PostGIS{
			Pool:       pool,
			Table:      c.Source.PostGIS.Table,
			GeomColumn: c.Source.PostGIS.GeomColumn,
		})
	}

	if c.Source.Download && len(c.Source.Remote) > 0 {
		remote := &source.Remote{Fetcher: f}
		for _, ep := range c.Source.Remote {
			remote.Endpoints = append(remote.Endpoints, source.Endpoint{
				Name:   ep.Name,
				URL:    ep.URL,
				Params: ep.Params,
			})
		}
		if c.Source.SaveAs != "" {
			remote.SavePath = filepath.Join(c.Data.Dir, c.Source.SaveAs)
		}
		chain.Sources = append(chain.Sources, remote)
	}

	if len(chain.Sources) == 0 {
		return nil, eris.New("no observation sources configured")
	}
	return chain, nil
}

// roadSource returns the road network for hybrid mode. A URL without a path
// is mirrored into data_dir under its own file extension.
func roadSource(c *config.Config, f fetcher.Fetcher) (source.Source, error) {
	path := c.Roads.Path
	if path == "" {
		if c.Roads.URL == "" {
			return nil, eris.New("roads.path or roads.url is required in hybrid mode")
		}
		u, err := url.Parse(c.Roads.URL)
		if err != nil {
			return nil, eris.Wrap(err, "roads.url")
		}
		ext := strings.ToLower(filepath.Ext(u.Path))
		if ext == "" {
			ext = ".geojson"
		}
		path = filepath.Join(c.Data.Dir, "roads"+ext)
	}
	return &source.Mirrored{
		Fetcher: f,
		URL:     c.Roads.URL,
		Path:    path,
		Options: fileOptions(c),
	}, nil
}

// prepareOptions maps the configuration onto traffic.PrepareOptions. The
// returned cleanup releases the database pool, if one was opened.
func prepareOptions(ctx context.Context, c *config.Config, rebuild bool) (traffic.PrepareOptions, func(), error) {
	cleanup := func() {}
	f := newFetcher(c)

	var pool *pgxpool.Pool
	if c.Source.PostGIS.Table != "" {
		p, err := pgxpool.New(ctx, c.Source.PostGIS.DatabaseURL)
		if err != nil {
			return traffic.PrepareOptions{}, cleanup, eris.Wrap(err, "postgis: connect")
		}
		pool = p
		cleanup = p.Close
	}

	var poolSrc source.Pool
	if pool != nil {
		poolSrc = pool
	}
	obs, err := observationSource(c, f, poolSrc)
	if err != nil {
		return traffic.PrepareOptions{}, cleanup, err
	}

	opts := traffic.PrepareOptions{
		Mode:                  traffic.Mode(c.Data.Mode),
		Observations:          obs,
		RoadClassField:        c.Roads.ClassField,
		VolumeRules:           traffic.DefaultVolumeRules(c.Volume.LatestYear),
		CachePath:             c.CachePath(),
		ValidateFingerprint:   c.Cache.ValidateFingerprint,
		FallbackOnSourceError: c.Cache.FallbackOnSourceError,
		Rebuild:               rebuild,
		Query:                 traffic.QueryOptions{K: c.Query.K, MaxDistance: c.Query.MaxDistance},
	}

	if opts.Mode == traffic.ModeHybrid {
		roads, err := roadSource(c, f)
		if err != nil {
			return traffic.PrepareOptions{}, cleanup, err
		}
		opts.Roads = roads
		if c.Roads.ClassTable != "" {
			classes, err := traffic.LoadRoadClasses(c.Roads.ClassTable)
			if err != nil {
				return traffic.PrepareOptions{}, cleanup, err
			}
			opts.RoadClasses = classes
		}
	}

	return opts, cleanup, nil
}

// prepareScorer runs traffic.Prepare from the configuration, adding a
// manual-download hint when no source could be reached.
func prepareScorer(ctx context.Context, c *config.Config, rebuild bool) (*traffic.Scorer, error) {
	opts, cleanup, err := prepareOptions(ctx, c, rebuild)
	defer cleanup()
	if err != nil {
		return nil, err
	}

	s, err := traffic.Prepare(ctx, opts)
	if errors.Is(err, traffic.ErrSourceUnavailable) {
		zap.L().Error("traffic data could not be loaded; download it manually and place it in the data directory",
			zap.Strings("expected_files", manualPaths(c)),
			zap.String("portal", "https://geohub.brampton.ca/datasets/brampton::city-of-brampton-traffic-volumes"),
		)
	}
	return s, err
}

// openStore returns nil when no store is configured.
func openStore(ctx context.Context, c *config.Config) (store.Store, error) {
	if c.Store.Path == "" {
		return nil, nil
	}
	st, err := store.NewSQLite(c.Store.Path)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

func buildRecord(m *traffic.Model) store.Build {
	return store.Build{
		ID:           m.BuildID.String(),
		Fingerprint:  m.Fingerprint,
		Mode:         string(m.Mode),
		Observations: m.Stats.Observations,
		RoadPoints:   m.Stats.RoadPoints,
		MinVolume:    m.Stats.MinVolume,
		MaxVolume:    m.Stats.MaxVolume,
		Ceiling:      m.Stats.Ceiling,
		CreatedAt:    m.CreatedAt,
	}
}
