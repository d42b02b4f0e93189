package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"prepare", "score", "score-csv", "cache"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "traffic-score", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestPrepareCommand_Flags(t *testing.T) {
	flag := prepareCmd.Flags().Lookup("rebuild")
	require.NotNil(t, flag, "prepare command should have --rebuild flag")
	assert.Equal(t, "false", flag.DefValue)
}

func TestScoreCommand_Flags(t *testing.T) {
	for _, name := range []string{"lon", "lat", "k", "max-distance"} {
		assert.NotNil(t, scoreCmd.Flags().Lookup(name), "score should have --%s flag", name)
	}
}

func TestScoreCSVCommand_Flags(t *testing.T) {
	for _, name := range []string{"input", "output", "lon-column", "lat-column", "workers", "k", "max-distance"} {
		assert.NotNil(t, scoreCSVCmd.Flags().Lookup(name), "score-csv should have --%s flag", name)
	}
}

func TestCacheCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range cacheCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["info"])
	assert.True(t, names["clear"])
}

func TestQueryOverrides(t *testing.T) {
	base := scoreCmd.Flags()
	t.Cleanup(func() {
		_ = base.Set("k", "0")
		_ = base.Set("max-distance", "0")
		base.Lookup("k").Changed = false
		base.Lookup("max-distance").Changed = false
	})

	got := queryOverrides(scoreCmd, defaultsForTest())
	assert.Equal(t, defaultsForTest(), got, "unset flags keep the defaults")

	require.NoError(t, base.Set("k", "9"))
	got = queryOverrides(scoreCmd, defaultsForTest())
	assert.Equal(t, 9, got.K)
	assert.InDelta(t, defaultsForTest().MaxDistance, got.MaxDistance, 1e-12)

	require.NoError(t, base.Set("max-distance", "0.005"))
	got = queryOverrides(scoreCmd, defaultsForTest())
	assert.InDelta(t, 0.005, got.MaxDistance, 1e-12)
}
