package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_FromFlagPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("transfer_workers = 8\n"), 0o600))

	flagConfigPath = path
	defer func() { flagConfigPath = "" }()

	require.NoError(t, loadConfig())
	assert.Equal(t, 8, cfg.TransferWorkers)
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	flagConfigPath = filepath.Join(t.TempDir(), "absent.toml")
	defer func() { flagConfigPath = "" }()

	require.NoError(t, loadConfig())
	assert.Equal(t, int64(150*1024*1024), cfg.ThresholdBytes)
}

func TestLoadConfig_BadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("transfer_workers = 0\n"), 0o600))

	flagConfigPath = path
	defer func() { flagConfigPath = "" }()

	assert.Error(t, loadConfig())
}

func TestBuildLogger_Levels(t *testing.T) {
	defer func() { flagVerbose, flagQuiet = false, false }()

	flagVerbose, flagQuiet = false, false
	assert.NotNil(t, buildLogger())

	// --verbose wins over --quiet when both are set.
	flagVerbose, flagQuiet = true, true
	logger := buildLogger()
	assert.True(t, logger.Enabled(t.Context(), slog.LevelDebug))
}

func TestNewRootCmd_RegistersCommands(t *testing.T) {
	cmd := newRootCmd()

	names := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	for _, want := range []string{
		"login", "logout", "whoami",
		"ls", "get", "put", "rm", "mv", "cp", "mkdir", "stat",
	} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}
