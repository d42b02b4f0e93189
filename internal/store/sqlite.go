package store

import (
	"context"
	"database/sql"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS builds (
	id           TEXT PRIMARY KEY,
	fingerprint  TEXT NOT NULL,
	mode         TEXT NOT NULL,
	observations INTEGER NOT NULL,
	road_points  INTEGER NOT NULL DEFAULT 0,
	min_volume   REAL NOT NULL,
	max_volume   REAL NOT NULL,
	ceiling      REAL NOT NULL,
	created_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS score_runs (
	id          TEXT PRIMARY KEY,
	build_id    TEXT NOT NULL REFERENCES builds(id),
	input       TEXT NOT NULL,
	row_count   INTEGER NOT NULL DEFAULT 0,
	scored      INTEGER NOT NULL DEFAULT 0,
	started_at  DATETIME NOT NULL,
	finished_at DATETIME
);

CREATE TABLE IF NOT EXISTS traffic_scores (
	run_id  TEXT NOT NULL REFERENCES score_runs(id) ON DELETE CASCADE,
	row_num INTEGER NOT NULL,
	lon     REAL,
	lat     REAL,
	score   REAL,
	PRIMARY KEY (run_id, row_num)
);

CREATE INDEX IF NOT EXISTS idx_builds_created_at ON builds(created_at);
CREATE INDEX IF NOT EXISTS idx_score_runs_build_id ON score_runs(build_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RecordBuild inserts a build, leaving an existing row with the same ID untouched.
func (s *SQLiteStore) RecordBuild(ctx context.Context, b Build) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO builds (id, fingerprint, mode, observations, road_points, min_volume, max_volume, ceiling, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		b.ID, b.Fingerprint, b.Mode, b.Observations, b.RoadPoints, b.MinVolume, b.MaxVolume, b.Ceiling, b.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: record build %s", b.ID)
}

// GetBuild returns nil when the build is unknown.
func (s *SQLiteStore) GetBuild(ctx context.Context, id string) (*Build, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, fingerprint, mode, observations, road_points, min_volume, max_volume, ceiling, created_at
		 FROM builds WHERE id = ?`,
		id,
	)
	b, err := scanBuild(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get build %s", id)
	}
	return b, nil
}

// ListBuilds returns the most recent builds first.
func (s *SQLiteStore) ListBuilds(ctx context.Context, limit int) ([]Build, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, fingerprint, mode, observations, road_points, min_volume, max_volume, ceiling, created_at
		 FROM builds ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list builds")
	}
	defer rows.Close()

	var builds []Build
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan build")
		}
		builds = append(builds, *b)
	}
	return builds, eris.Wrap(rows.Err(), "sqlite: list builds iterate")
}

func (s *SQLiteStore) CreateScoreRun(ctx context.Context, buildID, input string) (*ScoreRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO score_runs (id, build_id, input, started_at) VALUES (?, ?, ?, ?)`,
		id, buildID, input, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert score run for build %s", buildID)
	}

	return &ScoreRun{
		ID:        id,
		BuildID:   buildID,
		Input:     input,
		StartedAt: now,
	}, nil
}

// InsertScores writes one chunk of scored rows in a single transaction.
func (s *SQLiteStore) InsertScores(ctx context.Context, runID string, records []ScoreRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin insert scores")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO traffic_scores (run_id, row_num, lon, lat, score) VALUES (?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert scores")
	}
	defer stmt.Close()

	for _, r := range records {
		var score sql.NullFloat64
		if r.Score != nil {
			score = sql.NullFloat64{Float64: *r.Score, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, runID, r.Row, nullFloat(r.Lon), nullFloat(r.Lat), score); err != nil {
			return eris.Wrapf(err, "sqlite: insert score row %d", r.Row)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit scores")
}

func (s *SQLiteStore) CompleteScoreRun(ctx context.Context, runID string, rows, scored int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE score_runs SET row_count = ?, scored = ?, finished_at = ? WHERE id = ?`,
		rows, scored, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete score run %s", runID)
	}
	return checkRowsAffected(res, "score run", runID)
}

func (s *SQLiteStore) GetScoreRun(ctx context.Context, runID string) (*ScoreRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, build_id, input, row_count, scored, started_at, finished_at FROM score_runs WHERE id = ?`,
		runID,
	)

	var r ScoreRun
	var finished sql.NullTime
	err := row.Scan(&r.ID, &r.BuildID, &r.Input, &r.Rows, &r.Scored, &r.StartedAt, &finished)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("score run not found: %s", runID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan score run")
	}
	if finished.Valid {
		r.FinishedAt = &finished.Time
	}
	return &r, nil
}

// ListScores returns a run's rows in input order.
func (s *SQLiteStore) ListScores(ctx context.Context, runID string, limit int) ([]ScoreRecord, error) {
	query := `SELECT row_num, lon, lat, score FROM traffic_scores WHERE run_id = ? ORDER BY row_num`
	args := []any{runID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list scores")
	}
	defer rows.Close()

	var records []ScoreRecord
	for rows.Next() {
		var r ScoreRecord
		var lon, lat, score sql.NullFloat64
		if err := rows.Scan(&r.Row, &lon, &lat, &score); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan score")
		}
		r.Lon, r.Lat = floatOrNaN(lon), floatOrNaN(lat)
		if score.Valid {
			v := score.Float64
			r.Score = &v
		}
		records = append(records, r)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: list scores iterate")
}

// helpers

// nullFloat maps NaN and infinities to NULL.
func nullFloat(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func floatOrNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanBuild(row scannable) (*Build, error) {
	var b Build
	err := row.Scan(&b.ID, &b.Fingerprint, &b.Mode, &b.Observations, &b.RoadPoints,
		&b.MinVolume, &b.MaxVolume, &b.Ceiling, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

var _ Store = (*SQLiteStore)(nil)
