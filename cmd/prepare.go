package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/traffic-score/internal/traffic"
)

var prepareCmd = &cobra.Command{
	Use:   "prepare",
	Short: "Load traffic data and build the scoring model",
	Long: `Loads the traffic-volume observations, normalizes them against the
95th-percentile volume, builds the spatial index and writes the model cache.

An existing cache is reused when its source fingerprint still matches.

Examples:
  # Build or reuse the simple model
  traffic-score prepare

  # Force a rebuild of the hybrid model (observations + road network)
  TRAFFIC_DATA_MODE=hybrid traffic-score prepare --rebuild`,
	RunE: runPrepare,
}

func init() {
	prepareCmd.Flags().Bool("rebuild", false, "ignore the cache and rebuild from the sources")
	rootCmd.AddCommand(prepareCmd)
}

func runPrepare(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.Validate("prepare"); err != nil {
		return err
	}
	rebuild, _ := cmd.Flags().GetBool("rebuild")

	s, err := prepareScorer(ctx, cfg, rebuild)
	if err != nil {
		return err
	}
	m := s.Model()

	recordBuild(ctx, m)
	printModel(os.Stdout, m, cfg.CachePath())
	return nil
}

// recordBuild logs the build to the store when one is configured.
func recordBuild(ctx context.Context, m *traffic.Model) {
	st, err := openStore(ctx, cfg)
	if err != nil {
		zap.L().Warn("store unavailable", zap.Error(err))
		return
	}
	if st == nil {
		return
	}
	defer st.Close() //nolint:errcheck

	if err := st.RecordBuild(ctx, buildRecord(m)); err != nil {
		zap.L().Warn("record build failed", zap.Error(err))
	}
}

func printModel(w io.Writer, m *traffic.Model, cachePath string) {
	fmt.Fprintf(w, "Build:        %s\n", m.BuildID)
	fmt.Fprintf(w, "Mode:         %s\n", m.Mode)
	fmt.Fprintf(w, "Created:      %s\n", m.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(w, "Points:       %d (%d observed, %d road)\n", m.Len(), m.Stats.Observations, m.Stats.RoadPoints)
	fmt.Fprintf(w, "Volume range: %.0f - %.0f\n", m.Stats.MinVolume, m.Stats.MaxVolume)
	fmt.Fprintf(w, "Ceiling:      %.1f (p%d)\n", m.Stats.Ceiling, traffic.CeilingPercentile)
	fmt.Fprintf(w, "Fingerprint:  %s\n", m.Fingerprint)
	if cachePath != "" {
		fmt.Fprintf(w, "Cache:        %s\n", cachePath)
	}
}
