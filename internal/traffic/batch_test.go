package traffic

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomCoordinates(rng *rand.Rand, n int) []Coordinate {
	coords := make([]Coordinate, n)
	for i := range coords {
		coords[i] = Coordinate{Lon: -80 + rng.Float64()*0.5, Lat: 43.5 + rng.Float64()*0.4}
	}
	return coords
}

func TestBatchScore_MatchesSingle(t *testing.T) {
	rng := rand.New(rand.NewPCG(9, 10))
	s := newTestScorer(t, randomObservations(rng, 300), QueryOptions{})

	coords := randomCoordinates(rng, 400)
	coords[10] = Coordinate{Lon: math.NaN(), Lat: 43.7}
	coords[20] = Coordinate{Lon: -79.7, Lat: 95}

	got, err := s.BatchScore(coords)
	require.NoError(t, err)
	require.Len(t, got, len(coords))

	for i, c := range coords {
		want, err := s.Score(c.Lon, c.Lat)
		if err != nil {
			assert.True(t, IsSkipped(got[i]), "coordinate %d should be skipped", i)
			continue
		}
		assert.Equal(t, want, got[i], "coordinate %d", i)
	}
	assert.True(t, IsSkipped(got[10]))
	assert.True(t, IsSkipped(got[20]))
	assert.False(t, IsSkipped(got[11]), "invalid siblings do not affect neighbors")
}

func TestBatchScore_Empty(t *testing.T) {
	s := newTestScorer(t, exampleObservations(), QueryOptions{})
	got, err := s.BatchScore(nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestBatchScore_NotPrepared(t *testing.T) {
	s := NewScorer(QueryOptions{})
	_, err := s.BatchScore([]Coordinate{{Lon: 0, Lat: 0}})
	assert.ErrorIs(t, err, ErrNotPrepared)

	_, err = s.BatchScoreParallel(context.Background(), []Coordinate{{Lon: 0, Lat: 0}}, 2)
	assert.ErrorIs(t, err, ErrNotPrepared)
}

func TestBatchScoreParallel_MatchesSequential(t *testing.T) {
	rng := rand.New(rand.NewPCG(11, 12))
	s := newTestScorer(t, randomObservations(rng, 1000), QueryOptions{K: 7, MaxDistance: 0.03})

	coords := randomCoordinates(rng, 5000)
	coords[4321] = Coordinate{Lon: math.Inf(-1), Lat: 0}

	seq, err := s.BatchScore(coords)
	require.NoError(t, err)

	for _, workers := range []int{0, 1, 3, 16} {
		par, err := s.BatchScoreParallel(context.Background(), coords, workers)
		require.NoError(t, err)
		require.Len(t, par, len(seq))
		for i := range seq {
			if IsSkipped(seq[i]) {
				assert.True(t, IsSkipped(par[i]))
				continue
			}
			assert.Equal(t, seq[i], par[i], "workers=%d index=%d", workers, i)
		}
	}
}

func TestBatchScoreParallel_Cancelled(t *testing.T) {
	rng := rand.New(rand.NewPCG(13, 14))
	s := newTestScorer(t, randomObservations(rng, 50), QueryOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.BatchScoreParallel(ctx, randomCoordinates(rng, 2000), 4)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
