package traffic

import (
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/traffic-score/internal/spatial"
)

// Mode selects which sources feed a model.
type Mode string

const (
	// ModeSimple uses measured observations only.
	ModeSimple Mode = "simple"
	// ModeHybrid adds synthetic observations from the road network.
	ModeHybrid Mode = "hybrid"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool { return m == ModeSimple || m == ModeHybrid }

// Stats summarizes the inputs of a build.
type Stats struct {
	Observations int
	RoadPoints   int
	MinVolume    float64
	MaxVolume    float64
	Ceiling      float64
}

// Model is an immutable score set with its spatial index. Replace it as a
// whole; never modify one that a Scorer has installed.
type Model struct {
	BuildID     uuid.UUID
	Fingerprint string
	Mode        Mode
	CreatedAt   time.Time
	Stats       Stats

	locations []spatial.Point
	scores    []float64
	index     *spatial.KDTree
}

// BuildModel normalizes the observation volumes and indexes their locations.
func BuildModel(obs []Observation, mode Mode) (*Model, error) {
	if len(obs) == 0 {
		return nil, eris.Wrap(ErrNoData, "traffic: build model")
	}

	locations := make([]spatial.Point, len(obs))
	volumes := make([]float64, len(obs))
	stats := Stats{MinVolume: obs[0].Volume, MaxVolume: obs[0].Volume}
	for i, o := range obs {
		locations[i] = spatial.Point{X: o.Lon, Y: o.Lat}
		volumes[i] = o.Volume
		if o.Synthetic {
			stats.RoadPoints++
		} else {
			stats.Observations++
		}
		stats.MinVolume = min(stats.MinVolume, o.Volume)
		stats.MaxVolume = max(stats.MaxVolume, o.Volume)
	}

	scores, ceiling, err := Normalize(volumes)
	if err != nil {
		return nil, err
	}
	stats.Ceiling = ceiling

	return &Model{
		BuildID:   uuid.New(),
		Mode:      mode,
		CreatedAt: time.Now().UTC(),
		Stats:     stats,
		locations: locations,
		scores:    scores,
		index:     spatial.Build(locations),
	}, nil
}

// restoreModel reassembles a model from persisted parts, checking every
// invariant a freshly built model satisfies.
func restoreModel(locations []spatial.Point, scores []float64, perm []int32) (*Model, error) {
	if len(locations) == 0 {
		return nil, eris.New("traffic: model has no points")
	}
	if len(locations) != len(scores) {
		return nil, eris.Errorf("traffic: %d locations but %d scores", len(locations), len(scores))
	}
	for i, s := range scores {
		if !(s >= 0 && s <= 1) {
			return nil, eris.Errorf("traffic: score %d out of range: %v", i, s)
		}
		if !finite(locations[i].X) || !finite(locations[i].Y) {
			return nil, eris.Errorf("traffic: location %d is not finite", i)
		}
	}
	index, err := spatial.Restore(locations, perm)
	if err != nil {
		return nil, err
	}
	return &Model{locations: locations, scores: scores, index: index}, nil
}

// Len returns the number of indexed points.
func (m *Model) Len() int { return len(m.locations) }

// Location returns the i-th indexed coordinate.
func (m *Model) Location(i int) (lon, lat float64) {
	p := m.locations[i]
	return p.X, p.Y
}

// PointScore returns the normalized score stored for the i-th point.
func (m *Model) PointScore(i int) float64 { return m.scores[i] }
