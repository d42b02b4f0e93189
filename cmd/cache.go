package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/traffic-score/internal/traffic"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or remove the model cache",
}

var cacheInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the cached model and recent builds",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("cache"); err != nil {
			return err
		}
		return cacheInfo(cmd.Context(), cmd.OutOrStdout(), cfg.CachePath())
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the model cache so the next run rebuilds it",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("cache"); err != nil {
			return err
		}
		removed, err := clearCache(cfg.CachePath())
		if err != nil {
			return err
		}
		if removed {
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", cfg.CachePath())
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "No cache at %s\n", cfg.CachePath())
		}
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheInfoCmd, cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}

func cacheInfo(ctx context.Context, w io.Writer, path string) error {
	m, err := traffic.LoadCache(path)
	switch {
	case errors.Is(err, traffic.ErrCacheNotFound):
		fmt.Fprintf(w, "No cache at %s\n", path)
	case err != nil:
		return err
	default:
		printModel(w, m, path)
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		zap.L().Warn("store unavailable", zap.Error(err))
		return nil
	}
	if st == nil {
		return nil
	}
	defer st.Close() //nolint:errcheck

	builds, err := st.ListBuilds(ctx, 10)
	if err != nil {
		return err
	}
	if len(builds) == 0 {
		return nil
	}
	fmt.Fprintf(w, "\n--- Recent builds ---\n")
	for _, b := range builds {
		fmt.Fprintf(w, "%s  %-6s  %s  obs=%d roads=%d ceiling=%.1f\n",
			b.CreatedAt.Format("2006-01-02 15:04"), b.Mode, b.ID, b.Observations, b.RoadPoints, b.Ceiling)
	}
	return nil
}

// clearCache removes the cache file, reporting whether one existed.
func clearCache(path string) (bool, error) {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "cache: remove %s", path)
	}
	zap.L().Info("cache removed", zap.String("path", path))
	return true, nil
}
