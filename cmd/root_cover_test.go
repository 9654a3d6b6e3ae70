//go:build !integration

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdirTemp moves into a fresh temp dir for the duration of the test.
func chdirTemp(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(tmpDir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return tmpDir
}

// preRun runs the root pre-run hook in a temp dir holding config.yaml
// (skipped when yaml is empty) and restores the package globals afterwards.
func preRun(t *testing.T, yaml string, flags ...string) error {
	t.Helper()
	dir := chdirTemp(t)
	if yaml != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))
	}

	oldCfg, oldPath, oldLevel := cfg, configPath, logLevel
	t.Cleanup(func() { cfg, configPath, logLevel = oldCfg, oldPath, oldLevel })
	cfg, configPath, logLevel = nil, "", ""
	require.NoError(t, rootCmd.PersistentFlags().Parse(flags))

	return rootCmd.PersistentPreRunE(rootCmd, nil)
}

func TestRootPreRun_ConfigFile(t *testing.T) {
	err := preRun(t, "store:\n  driver: sqlite\n  database_url: buoys.db\nlog:\n  level: info\n  format: console\n")
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "buoys.db", cfg.Store.DatabaseURL)
}

func TestRootPreRun_Defaults(t *testing.T) {
	require.NoError(t, preRun(t, ""))
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "harvest.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestRootPreRun_ExplicitConfigFlag(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coastal.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  database_url: coastal.db\n"), 0o644))

	require.NoError(t, preRun(t, "", "--config", path))
	assert.Equal(t, "coastal.db", cfg.Store.DatabaseURL)
}

func TestRootPreRun_MissingConfigFlagFile(t *testing.T) {
	err := preRun(t, "", "--config", filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestRootPreRun_LogLevelFlag(t *testing.T) {
	require.NoError(t, preRun(t, "log:\n  level: info\n  format: console\n", "--log-level", "debug"))
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestRootPreRun_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad log level", "log:\n  level: NOT_A_LEVEL\n  format: console\n", "init logger"},
		{"invalid config", "log:\n  format: xml\n", "load config"},
		{"invalid yaml", "invalid: [yaml: bad", "load config"},
		{"unknown store driver", "store:\n  driver: mysql\n", "load config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := preRun(t, tt.yaml)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRootPostRun_DoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		rootCmd.PersistentPostRun(rootCmd, nil)
	})
}
