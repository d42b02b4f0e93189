package store

import (
	"context"
	"time"
)

// Build is the metadata of one prepared scoring model.
type Build struct {
	ID           string    `json:"id"`
	Fingerprint  string    `json:"fingerprint"`
	Mode         string    `json:"mode"`
	Observations int       `json:"observations"`
	RoadPoints   int       `json:"road_points"`
	MinVolume    float64   `json:"min_volume"`
	MaxVolume    float64   `json:"max_volume"`
	Ceiling      float64   `json:"ceiling"`
	CreatedAt    time.Time `json:"created_at"`
}

// ScoreRun tracks one bulk scoring job.
type ScoreRun struct {
	ID         string     `json:"id"`
	BuildID    string     `json:"build_id"`
	Input      string     `json:"input"`
	Rows       int        `json:"rows"`
	Scored     int        `json:"scored"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// ScoreRecord is one scored input row. Score is nil when the row could not
// be scored; Lon and Lat are NaN when the input cells did not parse.
type ScoreRecord struct {
	Row   int      `json:"row"`
	Lon   float64  `json:"lon"`
	Lat   float64  `json:"lat"`
	Score *float64 `json:"score,omitempty"`
}

// Store persists build history and bulk scoring output.
type Store interface {
	// Builds
	RecordBuild(ctx context.Context, b Build) error
	GetBuild(ctx context.Context, id string) (*Build, error)
	ListBuilds(ctx context.Context, limit int) ([]Build, error)

	// Score runs
	CreateScoreRun(ctx context.Context, buildID, input string) (*ScoreRun, error)
	InsertScores(ctx context.Context, runID string, records []ScoreRecord) error
	CompleteScoreRun(ctx context.Context, runID string, rows, scored int) error
	GetScoreRun(ctx context.Context, runID string) (*ScoreRun, error)
	ListScores(ctx context.Context, runID string, limit int) ([]ScoreRecord, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
