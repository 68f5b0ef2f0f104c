// Package config handles configuration loading for dropbox-go: defaults,
// the TOML config file, and environment variable overrides, applied in
// that order (CLI flags sit on top, applied by the command layer).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/BurntSushi/toml"
)

// Default values for configuration options. Chosen to be safe starting
// points that work without any config file.
const (
	// defaultThresholdBytes separates simple from chunked transfers (150 MiB).
	defaultThresholdBytes = 150 * 1024 * 1024

	// defaultChunkSizeBytes is the window size for chunked transfers (4 MiB).
	defaultChunkSizeBytes = 4 * 1024 * 1024

	defaultTransferWorkers    = 4
	defaultMaxChunkRetries    = 3
	defaultHTTPTimeoutSeconds = 30
)

// Config is the full application configuration.
type Config struct {
	// ThresholdBytes is the size boundary between simple and chunked
	// transfers. Files of exactly this size still use simple transfer.
	ThresholdBytes int64 `toml:"threshold_bytes"`

	// ChunkSizeBytes is the window size for chunked transfers.
	ChunkSizeBytes int64 `toml:"chunk_size_bytes"`

	// TransferWorkers bounds concurrent leaf transfers during directory
	// uploads and downloads.
	TransferWorkers int `toml:"transfer_workers"`

	// MaxChunkRetries bounds retry attempts per chunk window.
	MaxChunkRetries int `toml:"max_chunk_retries"`

	// HTTPTimeoutSeconds applies to metadata requests. Transfer requests
	// use no timeout since large chunks may legitimately take minutes.
	HTTPTimeoutSeconds int `toml:"http_timeout_seconds"`

	// DisableKeyring forces the encrypted-file credential backend even
	// when the system keyring is available.
	DisableKeyring bool `toml:"disable_keyring"`
}

// DefaultConfig returns a Config populated with all default values.
// Used as the starting point for TOML decoding so unset fields retain
// defaults, and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		ThresholdBytes:     defaultThresholdBytes,
		ChunkSizeBytes:     defaultChunkSizeBytes,
		TransferWorkers:    defaultTransferWorkers,
		MaxChunkRetries:    defaultMaxChunkRetries,
		HTTPTimeoutSeconds: defaultHTTPTimeoutSeconds,
	}
}

// Load reads the config file at path, layered over defaults. A missing
// file is not an error, defaults are returned. Unknown keys are rejected
// so typos surface instead of being silently ignored.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	meta, err := toml.DecodeFile(path, cfg)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}

	if err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config: unknown key %q in %s", undecoded[0].String(), path)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}

	return cfg, nil
}

// validate rejects configurations that would misbehave at runtime.
func (c *Config) validate() error {
	if c.ThresholdBytes <= 0 {
		return fmt.Errorf("threshold_bytes must be positive, got %d", c.ThresholdBytes)
	}

	if c.ChunkSizeBytes <= 0 {
		return fmt.Errorf("chunk_size_bytes must be positive, got %d", c.ChunkSizeBytes)
	}

	if c.TransferWorkers < 1 {
		return fmt.Errorf("transfer_workers must be at least 1, got %d", c.TransferWorkers)
	}

	if c.MaxChunkRetries < 0 {
		return fmt.Errorf("max_chunk_retries must not be negative, got %d", c.MaxChunkRetries)
	}

	return nil
}

// HTTPTimeout returns the metadata request timeout as a duration.
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}
