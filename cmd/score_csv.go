package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"math"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/traffic-score/internal/fetcher"
	"github.com/sells-group/traffic-score/internal/store"
	"github.com/sells-group/traffic-score/internal/traffic"
)

var scoreCSVCmd = &cobra.Command{
	Use:   "score-csv",
	Short: "Score every row of a CSV file",
	Long: `Reads a CSV with longitude and latitude columns, scores each row and
writes the input with a score column appended.

Rows are processed in chunks (batch.chunk_size) on a worker pool. Rows whose
coordinates cannot be parsed or are out of range get an empty score cell.
When store.path is set the scores are also written to SQLite.

Examples:
  traffic-score score-csv --input parcels.csv --output parcels_scored.csv
  traffic-score score-csv --input parcels.csv --output out.csv --lon-column x --lat-column y`,
	RunE: runScoreCSV,
}

func init() {
	f := scoreCSVCmd.Flags()
	f.String("input", "", "input CSV path")
	f.String("output", "", "output CSV path")
	f.String("lon-column", "", "longitude column (default from config)")
	f.String("lat-column", "", "latitude column (default from config)")
	f.Int("workers", 0, "scoring goroutines (default from config)")
	f.Int("k", 0, "neighbors to average (default from config)")
	f.Float64("max-distance", 0, "nearest-neighbor cutoff in degrees (default from config)")
	_ = scoreCSVCmd.MarkFlagRequired("input")
	_ = scoreCSVCmd.MarkFlagRequired("output")

	rootCmd.AddCommand(scoreCSVCmd)
}

// csvScoreOptions configures scoreCSV.
type csvScoreOptions struct {
	LonColumn   string
	LatColumn   string
	ScoreColumn string
	ChunkSize   int
	Workers     int
	// Total is the expected data row count, used for progress ETA. 0 = unknown.
	Total int
	// Sink receives every scored chunk. Row numbers are 0-based data rows.
	Sink func(ctx context.Context, records []store.ScoreRecord) error
}

// csvScoreResult summarizes a scoreCSV run.
type csvScoreResult struct {
	Rows    int
	Scored  int
	Skipped int
}

func runScoreCSV(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	flags := cmd.Flags()
	if v, _ := flags.GetString("lon-column"); v != "" {
		cfg.Batch.LonColumn = v
	}
	if v, _ := flags.GetString("lat-column"); v != "" {
		cfg.Batch.LatColumn = v
	}
	if flags.Changed("workers") {
		cfg.Query.Workers, _ = flags.GetInt("workers")
	}
	if err := cfg.Validate("score-csv"); err != nil {
		return err
	}

	inputPath, _ := flags.GetString("input")
	outputPath, _ := flags.GetString("output")
	log := zap.L().With(zap.String("command", "score-csv"), zap.String("input", inputPath))

	total, err := countDataRows(inputPath)
	if err != nil {
		return err
	}

	prepared, err := prepareScorer(ctx, cfg, false)
	if err != nil {
		return err
	}
	// A dedicated scorer carries the flag overrides as its defaults.
	s := traffic.NewScorer(queryOverrides(cmd, prepared.Defaults()))
	s.Install(prepared.Model())

	in, err := os.Open(inputPath)
	if err != nil {
		return eris.Wrap(err, "score-csv: open input")
	}
	defer in.Close()

	out, err := os.Create(outputPath)
	if err != nil {
		return eris.Wrap(err, "score-csv: create output")
	}
	defer out.Close()

	opts := csvScoreOptions{
		LonColumn:   cfg.Batch.LonColumn,
		LatColumn:   cfg.Batch.LatColumn,
		ScoreColumn: cfg.Batch.ScoreColumn,
		ChunkSize:   cfg.Batch.ChunkSize,
		Workers:     cfg.Query.Workers,
		Total:       total,
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	var run *store.ScoreRun
	if st != nil {
		defer st.Close() //nolint:errcheck
		run, opts.Sink, err = startScoreRun(ctx, st, s.Model(), inputPath)
		if err != nil {
			return err
		}
	}

	start := time.Now()
	res, err := scoreCSV(ctx, s, in, out, opts)
	if err != nil {
		return err
	}
	if err := out.Close(); err != nil {
		return eris.Wrap(err, "score-csv: close output")
	}

	if run != nil {
		if err := st.CompleteScoreRun(ctx, run.ID, res.Rows, res.Scored); err != nil {
			return err
		}
	}

	log.Info("score-csv complete",
		zap.String("output", outputPath),
		zap.Int("rows", res.Rows),
		zap.Int("scored", res.Scored),
		zap.Int("skipped", res.Skipped),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// scoreCSV streams r to w in chunks, appending a score column.
func scoreCSV(ctx context.Context, s *traffic.Scorer, r io.Reader, w io.Writer, opts csvScoreOptions) (csvScoreResult, error) {
	var res csvScoreResult
	log := zap.L().With(zap.String("component", "score-csv"))

	if opts.ScoreColumn == "" {
		opts.ScoreColumn = "traffic_score"
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 10000
	}

	reader, err := fetcher.NewCSVReader(r, fetcher.CSVOptions{})
	if err != nil {
		return res, err
	}
	header, err := reader.Read()
	if err == io.EOF {
		return res, eris.New("score-csv: input is empty")
	}
	if err != nil {
		return res, eris.Wrap(err, "score-csv: read header")
	}

	lonIdx := columnIndex(header, opts.LonColumn)
	latIdx := columnIndex(header, opts.LatColumn)
	if lonIdx < 0 || latIdx < 0 {
		return res, eris.Errorf("score-csv: columns %q and %q required, header is %v", opts.LonColumn, opts.LatColumn, header)
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(append(header, opts.ScoreColumn)); err != nil {
		return res, eris.Wrap(err, "score-csv: write header")
	}

	start := time.Now()
	rows := make([][]string, 0, opts.ChunkSize)
	coords := make([]traffic.Coordinate, 0, opts.ChunkSize)

	flush := func() error {
		if len(rows) == 0 {
			return nil
		}
		scores, err := s.BatchScoreParallel(ctx, coords, opts.Workers)
		if err != nil {
			return err
		}

		records := make([]store.ScoreRecord, len(rows))
		for i, row := range rows {
			rec := store.ScoreRecord{Row: res.Rows + i, Lon: coords[i].Lon, Lat: coords[i].Lat}
			cell := ""
			if !traffic.IsSkipped(scores[i]) {
				score := scores[i]
				rec.Score = &score
				cell = strconv.FormatFloat(score, 'f', 6, 64)
				res.Scored++
			} else {
				res.Skipped++
			}
			records[i] = rec
			for len(row) < len(header) {
				row = append(row, "")
			}
			if err := writer.Write(append(row, cell)); err != nil {
				return eris.Wrap(err, "score-csv: write row")
			}
		}
		writer.Flush()
		if err := writer.Error(); err != nil {
			return eris.Wrap(err, "score-csv: flush")
		}

		if opts.Sink != nil {
			if err := opts.Sink(ctx, records); err != nil {
				return err
			}
		}

		res.Rows += len(rows)
		logProgress(log, res.Rows, opts.Total, time.Since(start))
		rows = rows[:0]
		coords = coords[:0]
		return nil
	}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return res, eris.Wrapf(err, "score-csv: read row %d", res.Rows+len(rows)+1)
		}
		rows = append(rows, record)
		coords = append(coords, rowCoordinate(record, lonIdx, latIdx))

		if len(rows) == opts.ChunkSize {
			if err := flush(); err != nil {
				return res, err
			}
		}
	}
	if err := flush(); err != nil {
		return res, err
	}
	return res, nil
}

// startScoreRun records the model's build and opens a score run whose sink
// writes each chunk to st.
func startScoreRun(ctx context.Context, st store.Store, m *traffic.Model, input string) (*store.ScoreRun, func(context.Context, []store.ScoreRecord) error, error) {
	if err := st.RecordBuild(ctx, buildRecord(m)); err != nil {
		return nil, nil, err
	}
	run, err := st.CreateScoreRun(ctx, m.BuildID.String(), input)
	if err != nil {
		return nil, nil, err
	}
	sink := func(ctx context.Context, records []store.ScoreRecord) error {
		return st.InsertScores(ctx, run.ID, records)
	}
	return run, sink, nil
}

// rowCoordinate parses a row's coordinate. Unparseable cells become NaN,
// which the batch scorer skips.
func rowCoordinate(record []string, lonIdx, latIdx int) traffic.Coordinate {
	return traffic.Coordinate{
		Lon: parseCell(record, lonIdx),
		Lat: parseCell(record, latIdx),
	}
}

func parseCell(record []string, idx int) float64 {
	if idx >= len(record) {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(record[idx]), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

func columnIndex(header []string, name string) int {
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), name) {
			return i
		}
	}
	return -1
}

func logProgress(log *zap.Logger, done, total int, elapsed time.Duration) {
	var rate float64
	if elapsed > 0 {
		rate = float64(done) / elapsed.Seconds()
	}
	fields := []zap.Field{
		zap.Int("rows", done),
		zap.Float64("rows_per_sec", rate),
	}
	if total > 0 {
		fields = append(fields, zap.Float64("percent", float64(done)/float64(total)*100))
		if rate > 0 && done < total {
			eta := time.Duration(float64(total-done) / rate * float64(time.Second))
			fields = append(fields, zap.Duration("eta", eta.Round(time.Second)))
		}
	}
	log.Info("score-csv progress", fields...)
}

// countDataRows counts the lines after the header, for progress reporting.
// Quoted fields with embedded newlines make this an overestimate.
func countDataRows(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, eris.Wrap(err, "score-csv: open input")
	}
	defer f.Close()

	var lines int
	var last byte
	buf := make([]byte, 64*1024)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			lines += bytes.Count(buf[:n], []byte{'\n'})
			last = buf[n-1]
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, eris.Wrap(err, "score-csv: count rows")
		}
	}
	if last != 0 && last != '\n' {
		lines++
	}
	if lines > 0 {
		lines-- // header
	}
	return lines, nil
}
