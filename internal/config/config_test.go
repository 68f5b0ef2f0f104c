package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)

	assert.Equal(t, int64(150*1024*1024), cfg.ThresholdBytes)
	assert.Equal(t, int64(4*1024*1024), cfg.ChunkSizeBytes)
	assert.Equal(t, 4, cfg.TransferWorkers)
	assert.Equal(t, 3, cfg.MaxChunkRetries)
	assert.False(t, cfg.DisableKeyring)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("transfer_workers = 8\ndisable_keyring = true\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.TransferWorkers)
	assert.True(t, cfg.DisableKeyring)
	assert.Equal(t, int64(150*1024*1024), cfg.ThresholdBytes)
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("thresold_bytes = 1\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown key")
}

func TestLoad_InvalidValues(t *testing.T) {
	cases := map[string]string{
		"zero threshold":   "threshold_bytes = 0\n",
		"negative chunk":   "chunk_size_bytes = -1\n",
		"zero workers":     "transfer_workers = 0\n",
		"negative retries": "max_chunk_retries = -2\n",
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoad_MalformedTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("not == toml"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestHTTPTimeout(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 30*time.Second, cfg.HTTPTimeout())
}

func TestReadEnvOverrides(t *testing.T) {
	t.Setenv(EnvConfig, "/tmp/custom.toml")
	t.Setenv(EnvAppKey, "key123")
	t.Setenv(EnvAppSecret, "secret456")
	t.Setenv(EnvDisableKeyring, "1")

	env := ReadEnvOverrides()
	assert.Equal(t, "/tmp/custom.toml", env.ConfigPath)
	assert.Equal(t, "key123", env.AppKey)
	assert.Equal(t, "secret456", env.AppSecret)
	assert.True(t, env.DisableKeyring)
}

func TestReadEnvOverrides_Unset(t *testing.T) {
	t.Setenv(EnvDisableKeyring, "")

	env := ReadEnvOverrides()
	assert.False(t, env.DisableKeyring)
}

func TestDefaultConfigDir_XDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdgtest")

	dir := DefaultConfigDir()
	if dir != "" {
		// Only meaningful on Linux; other platforms ignore XDG.
		assert.NotEmpty(t, dir)
	}
}
