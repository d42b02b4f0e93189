package traffic

import (
	"context"
	"math"
	"runtime"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"
)

// minChunk is the smallest slice of coordinates handed to one worker.
const minChunk = 256

// Coordinate is a (lon, lat) pair in degrees.
type Coordinate struct {
	Lon float64
	Lat float64
}

// IsSkipped reports whether a batch result is the sentinel for a rejected
// coordinate.
func IsSkipped(score float64) bool { return math.IsNaN(score) }

// BatchScore scores every coordinate with the scorer's defaults. The result
// is index-aligned with coords; a coordinate that cannot be scored gets NaN
// and does not affect the others.
func (s *Scorer) BatchScore(coords []Coordinate) ([]float64, error) {
	m := s.model.Load()
	if m == nil {
		return nil, ErrNotPrepared
	}
	if err := s.defaults.validate(); err != nil {
		return nil, err
	}
	out := make([]float64, len(coords))
	m.scoreRange(coords, out, s.defaults)
	return out, nil
}

// BatchScoreParallel is BatchScore split across up to workers goroutines.
// workers <= 0 uses GOMAXPROCS. Results are identical to BatchScore.
func (s *Scorer) BatchScoreParallel(ctx context.Context, coords []Coordinate, workers int) ([]float64, error) {
	m := s.model.Load()
	if m == nil {
		return nil, ErrNotPrepared
	}
	opts := s.defaults
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	out := make([]float64, len(coords))
	chunk := max(minChunk, (len(coords)+workers-1)/workers)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for lo := 0; lo < len(coords); lo += chunk {
		hi := min(lo+chunk, len(coords))
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			m.scoreRange(coords[lo:hi], out[lo:hi], opts)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "traffic: batch score")
	}
	return out, nil
}

func (m *Model) scoreRange(coords []Coordinate, out []float64, opts QueryOptions) {
	for i, c := range coords {
		v, err := m.Score(c.Lon, c.Lat, opts)
		if err != nil {
			out[i] = math.NaN()
			continue
		}
		out[i] = v
	}
}
