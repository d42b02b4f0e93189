// Package traffic turns sparse traffic-volume observations into a queryable
// model that answers "how busy is it here?" with a score in [0,1].
package traffic

import (
	"math"
	"sync/atomic"

	"github.com/rotisserie/eris"
)

const (
	// DefaultK is the neighbor count used when QueryOptions.K is zero.
	DefaultK = 5

	// Epsilon keeps inverse-distance weights finite at zero distance.
	Epsilon = 1e-6

	// Default cutoffs in degrees for each mode.
	DefaultSimpleMaxDistance = 0.02
	DefaultHybridMaxDistance = 0.01
)

// DefaultMaxDistance returns the cutoff used for mode.
func DefaultMaxDistance(mode Mode) float64 {
	if mode == ModeHybrid {
		return DefaultHybridMaxDistance
	}
	return DefaultSimpleMaxDistance
}

// QueryOptions tunes a single lookup.
type QueryOptions struct {
	K           int
	MaxDistance float64
}

func (o QueryOptions) validate() error {
	if o.K < 1 {
		return eris.Wrapf(ErrInvalidK, "traffic: k=%d", o.K)
	}
	if !(o.MaxDistance >= 0) || math.IsInf(o.MaxDistance, 0) {
		return eris.Wrapf(ErrInvalidMaxDistance, "traffic: max_distance=%v", o.MaxDistance)
	}
	return nil
}

// Scorer answers queries against the currently installed model. It is safe
// for concurrent use; Install swaps the model atomically.
type Scorer struct {
	model    atomic.Pointer[Model]
	defaults QueryOptions
}

// NewScorer returns a scorer with no model. Zero fields in defaults take
// DefaultK and DefaultSimpleMaxDistance.
func NewScorer(defaults QueryOptions) *Scorer {
	if defaults.K == 0 {
		defaults.K = DefaultK
	}
	if defaults.MaxDistance == 0 {
		defaults.MaxDistance = DefaultSimpleMaxDistance
	}
	return &Scorer{defaults: defaults}
}

// Install makes m the model served by subsequent queries.
func (s *Scorer) Install(m *Model) { s.model.Store(m) }

// Model returns the installed model, or nil.
func (s *Scorer) Model() *Model { return s.model.Load() }

// Defaults returns the query options used by Score and BatchScore.
func (s *Scorer) Defaults() QueryOptions { return s.defaults }

// Score returns the score at (lon, lat) using the scorer's defaults.
func (s *Scorer) Score(lon, lat float64) (float64, error) {
	return s.ScoreWithOptions(lon, lat, s.defaults)
}

// ScoreWithOptions returns the score at (lon, lat) with explicit options.
func (s *Scorer) ScoreWithOptions(lon, lat float64, opts QueryOptions) (float64, error) {
	m := s.model.Load()
	if m == nil {
		return 0, ErrNotPrepared
	}
	return m.Score(lon, lat, opts)
}

// Score interpolates the k nearest scores by inverse distance. When the
// nearest point is farther than MaxDistance the result is 0.
func (m *Model) Score(lon, lat float64, opts QueryOptions) (float64, error) {
	if err := opts.validate(); err != nil {
		return 0, err
	}
	if err := ValidateCoordinate(lon, lat); err != nil {
		return 0, err
	}
	neighbors, err := m.index.Nearest(lon, lat, opts.K)
	if err != nil {
		return 0, eris.Wrap(err, "traffic: nearest neighbors")
	}
	if neighbors[0].Distance > opts.MaxDistance {
		return 0, nil
	}

	var wsum, acc float64
	for _, n := range neighbors {
		w := 1 / (n.Distance + Epsilon)
		wsum += w
		acc += w * m.scores[n.Index]
	}
	return clamp01(acc / wsum), nil
}

// ValidateCoordinate rejects non-finite or out-of-range lon/lat.
func ValidateCoordinate(lon, lat float64) error {
	if !finite(lon) || !finite(lat) || lon < -180 || lon > 180 || lat < -90 || lat > 90 {
		return eris.Wrapf(ErrInvalidCoordinate, "traffic: (%v, %v)", lon, lat)
	}
	return nil
}
