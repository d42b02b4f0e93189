package traffic

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"
)

// CeilingPercentile is the percentile of raw volumes that maps to score 1.
const CeilingPercentile = 95

// Percentile returns the p-th percentile of values using linear
// interpolation between closest ranks.
func Percentile(values []float64, p float64) (float64, error) {
	if len(values) == 0 {
		return 0, ErrNoData
	}
	if p < 0 || p > 100 || math.IsNaN(p) {
		return 0, eris.Errorf("traffic: percentile %v out of range", p)
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo], nil
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(rank-float64(lo)), nil
}

// Normalize maps raw volumes to [0,1] against their 95th percentile.
func Normalize(volumes []float64) (scores []float64, ceiling float64, err error) {
	if len(volumes) == 0 {
		return nil, 0, eris.Wrap(ErrNoData, "traffic: normalize")
	}
	ceiling, err = Percentile(volumes, CeilingPercentile)
	if err != nil {
		return nil, 0, err
	}
	if !(ceiling > 0) || math.IsInf(ceiling, 0) {
		return nil, 0, eris.Wrapf(ErrNoData, "traffic: normalize: unusable ceiling %v", ceiling)
	}

	scores = make([]float64, len(volumes))
	for i, v := range volumes {
		scores[i] = clamp01(v / ceiling)
	}
	return scores, ceiling, nil
}

// clamp01 clips to [0,1]; NaN maps to 0.
func clamp01(v float64) float64 {
	switch {
	case v > 1:
		return 1
	case v >= 0:
		return v
	default:
		return 0
	}
}
