package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/traffic-score/internal/traffic"
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score a single coordinate",
	Long: `Prints the traffic score of one coordinate, between 0 and 1.

The model is loaded from the cache, or built first if there is none.

Examples:
  traffic-score score --lon -79.7624 --lat 43.7315
  traffic-score score --lon -79.7624 --lat 43.7315 --k 8 --max-distance 0.015`,
	RunE: runScore,
}

func init() {
	f := scoreCmd.Flags()
	f.Float64("lon", 0, "longitude in decimal degrees")
	f.Float64("lat", 0, "latitude in decimal degrees")
	f.Int("k", 0, "neighbors to average (default from config)")
	f.Float64("max-distance", 0, "nearest-neighbor cutoff in degrees (default from config)")
	_ = scoreCmd.MarkFlagRequired("lon")
	_ = scoreCmd.MarkFlagRequired("lat")

	rootCmd.AddCommand(scoreCmd)
}

func runScore(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.Validate("score"); err != nil {
		return err
	}

	lon, _ := cmd.Flags().GetFloat64("lon")
	lat, _ := cmd.Flags().GetFloat64("lat")
	if err := traffic.ValidateCoordinate(lon, lat); err != nil {
		return err
	}

	s, err := prepareScorer(ctx, cfg, false)
	if err != nil {
		return err
	}

	opts := queryOverrides(cmd, s.Defaults())
	score, err := s.ScoreWithOptions(lon, lat, opts)
	if err != nil {
		return eris.Wrap(err, "score")
	}

	zap.L().Debug("scored coordinate",
		zap.Float64("lon", lon),
		zap.Float64("lat", lat),
		zap.Int("k", opts.K),
		zap.Float64("max_distance", opts.MaxDistance),
		zap.Float64("score", score),
	)
	fmt.Fprintf(cmd.OutOrStdout(), "%.6f\n", score)
	return nil
}

// queryOverrides applies the --k and --max-distance flags that were set.
func queryOverrides(cmd *cobra.Command, base traffic.QueryOptions) traffic.QueryOptions {
	if cmd.Flags().Changed("k") {
		base.K, _ = cmd.Flags().GetInt("k")
	}
	if cmd.Flags().Changed("max-distance") {
		base.MaxDistance, _ = cmd.Flags().GetFloat64("max-distance")
	}
	return base
}
