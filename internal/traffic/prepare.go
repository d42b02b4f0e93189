package traffic

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/traffic-score/internal/source"
)

// PrepareOptions configures Prepare.
type PrepareOptions struct {
	Mode         Mode
	Observations source.Source

	// Roads is read in hybrid mode only.
	Roads          source.Source
	RoadClassField string
	RoadClasses    RoadClasses

	// VolumeRules defaults to DefaultVolumeRules(0).
	VolumeRules []VolumeRule

	// CachePath disables caching when empty.
	CachePath string

	// ValidateFingerprint rebuilds when the cached source fingerprint no
	// longer matches. When false a present cache is always used.
	ValidateFingerprint bool

	// FallbackOnSourceError serves a stale cache if the rebuild cannot
	// reach its sources.
	FallbackOnSourceError bool

	// Rebuild ignores any existing cache.
	Rebuild bool

	Query QueryOptions
}

func (o *PrepareOptions) setDefaults() {
	if o.Mode == "" {
		o.Mode = ModeSimple
	}
	if o.RoadClassField == "" {
		o.RoadClassField = DefaultRoadClassField
	}
	if o.RoadClasses.Volumes == nil {
		o.RoadClasses = DefaultRoadClasses()
	}
	if len(o.VolumeRules) == 0 {
		o.VolumeRules = DefaultVolumeRules(0)
	}
	if o.Query.K == 0 {
		o.Query.K = DefaultK
	}
	if o.Query.MaxDistance == 0 {
		o.Query.MaxDistance = DefaultMaxDistance(o.Mode)
	}
}

func (o *PrepareOptions) checkSources() error {
	if o.Observations == nil {
		return eris.New("traffic: no observation source configured")
	}
	if o.Mode == ModeHybrid && o.Roads == nil {
		return eris.New("traffic: hybrid mode needs a road source")
	}
	return nil
}

// Prepare returns a scorer with a model installed, loading it from the
// cache when possible and building it from the sources otherwise.
func Prepare(ctx context.Context, opts PrepareOptions) (*Scorer, error) {
	opts.setDefaults()
	if !opts.Mode.Valid() {
		return nil, eris.Errorf("traffic: unknown mode %q", opts.Mode)
	}
	if err := opts.Query.validate(); err != nil {
		return nil, err
	}
	if err := opts.checkSources(); err != nil {
		return nil, err
	}
	log := zap.L().With(zap.String("component", "traffic.prepare"), zap.String("mode", string(opts.Mode)))

	fingerprint, fpErr := SourceFingerprint(ctx, opts)
	if fpErr != nil {
		log.Debug("source fingerprint unavailable", zap.Error(fpErr))
	}

	var stale *Model
	if opts.CachePath != "" && !opts.Rebuild {
		m, err := LoadCache(opts.CachePath)
		switch {
		case err == nil:
			if !opts.ValidateFingerprint || m.Fingerprint == fingerprint {
				return serve(m, opts, log, "cache"), nil
			}
			if fpErr != nil {
				log.Warn("cannot verify cache against sources; using it", zap.Error(fpErr))
				return serve(m, opts, log, "cache"), nil
			}
			log.Info("cache is stale, rebuilding",
				zap.String("cached_fingerprint", m.Fingerprint),
				zap.String("current_fingerprint", fingerprint),
			)
			stale = m
		case errors.Is(err, ErrCacheNotFound):
			log.Info("no cache found, building", zap.String("path", opts.CachePath))
		case errors.Is(err, ErrCorruptCache):
			log.Warn("discarding corrupt cache", zap.String("path", opts.CachePath), zap.Error(err))
			if rmErr := os.Remove(opts.CachePath); rmErr != nil && !os.IsNotExist(rmErr) {
				log.Warn("remove corrupt cache", zap.Error(rmErr))
			}
		default:
			log.Warn("cache unreadable, building", zap.Error(err))
		}
	}

	m, err := Build(ctx, opts)
	if err != nil {
		if stale != nil && opts.FallbackOnSourceError && errors.Is(err, ErrSourceUnavailable) {
			log.Warn("sources unavailable; serving stale cache", zap.Error(err))
			return serve(stale, opts, log, "stale cache"), nil
		}
		return nil, err
	}
	// Sources can change while building, e.g. a download saved into a
	// manual file path, so the fingerprint is taken again.
	if after, err := SourceFingerprint(ctx, opts); err == nil {
		m.Fingerprint = after
	} else if fpErr == nil {
		m.Fingerprint = fingerprint
	}

	if opts.CachePath != "" {
		if err := SaveCache(opts.CachePath, m); err != nil {
			log.Warn("failed to save cache", zap.String("path", opts.CachePath), zap.Error(err))
		} else {
			log.Info("saved cache", zap.String("path", opts.CachePath))
		}
	}
	return serve(m, opts, log, "build"), nil
}

func serve(m *Model, opts PrepareOptions, log *zap.Logger, origin string) *Scorer {
	s := NewScorer(opts.Query)
	s.Install(m)
	log.Info("scorer ready",
		zap.String("origin", origin),
		zap.String("build_id", m.BuildID.String()),
		zap.Int("points", m.Len()),
		zap.Float64("ceiling", m.Stats.Ceiling),
	)
	return s
}

// Build reads the sources and constructs a new model without touching any
// cache.
func Build(ctx context.Context, opts PrepareOptions) (*Model, error) {
	opts.setDefaults()
	if err := opts.checkSources(); err != nil {
		return nil, err
	}
	log := zap.L().With(zap.String("component", "traffic.build"))

	features, err := opts.Observations.Features(ctx)
	if err != nil {
		return nil, &SourceError{Source: opts.Observations.Name(), Err: err}
	}
	obs, stats := ExtractObservations(features, opts.VolumeRules)
	log.Info("extracted observations",
		zap.Int("records", stats.Records),
		zap.Int("accepted", stats.Accepted),
		zap.Int("no_geometry", stats.NoGeometry),
		zap.Int("no_volume", stats.NoVolume),
		zap.Any("fields", stats.FieldCounts),
	)

	if opts.Mode == ModeHybrid {
		roads, err := opts.Roads.Features(ctx)
		if err != nil {
			return nil, &SourceError{Source: opts.Roads.Name(), Err: err}
		}
		roadObs, classes := ExtractRoadObservations(roads, opts.RoadClassField, opts.RoadClasses)
		log.Info("added road estimates",
			zap.Int("segments", len(roads)),
			zap.Int("points", len(roadObs)),
			zap.Any("classes", classes),
		)
		obs = append(obs, roadObs...)
	}

	m, err := BuildModel(obs, opts.Mode)
	if err != nil {
		return nil, err
	}
	log.Info("built model",
		zap.Int("points", m.Len()),
		zap.Float64("min_volume", m.Stats.MinVolume),
		zap.Float64("max_volume", m.Stats.MaxVolume),
		zap.Float64("ceiling", m.Stats.Ceiling),
	)
	return m, nil
}

// SourceFingerprint combines the fingerprints of the configured sources with
// a digest of the build settings. It fails when a source cannot report one.
func SourceFingerprint(ctx context.Context, opts PrepareOptions) (string, error) {
	opts.setDefaults()

	parts := []string{"cfg:" + settingsDigest(opts)}
	obsFP, err := fingerprintOf(ctx, opts.Observations)
	if err != nil {
		return "", err
	}
	parts = append(parts, "obs:"+obsFP)

	if opts.Mode == ModeHybrid && opts.Roads != nil {
		roadFP, err := fingerprintOf(ctx, opts.Roads)
		if err != nil {
			return "", err
		}
		parts = append(parts, "roads:"+roadFP)
	}
	return strings.Join(parts, "|"), nil
}

func fingerprintOf(ctx context.Context, s source.Source) (string, error) {
	if s == nil {
		return "", eris.New("traffic: no source")
	}
	fp, ok := s.(source.Fingerprinter)
	if !ok {
		return "", eris.Errorf("traffic: source %s cannot be fingerprinted", s.Name())
	}
	return fp.Fingerprint(ctx)
}

// settingsDigest hashes everything besides source data that changes the
// built model.
func settingsDigest(opts PrepareOptions) string {
	fields := make([]string, len(opts.VolumeRules))
	for i, r := range opts.VolumeRules {
		fields[i] = r.Field
	}
	var classes []string
	if opts.Mode == ModeHybrid {
		for c, v := range opts.RoadClasses.Volumes {
			classes = append(classes, fmt.Sprintf("%s=%g", c, v))
		}
		sort.Strings(classes)
	} else {
		opts.RoadClassField = ""
		opts.RoadClasses.Default = 0
	}

	data, _ := json.Marshal(struct {
		Mode         Mode
		Fields       []string
		ClassField   string
		Classes      []string
		ClassDefault float64
	}{opts.Mode, fields, opts.RoadClassField, classes, opts.RoadClasses.Default})
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}
