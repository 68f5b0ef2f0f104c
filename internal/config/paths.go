package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Platform identifiers.
const (
	platformLinux  = "linux"
	platformDarwin = "darwin"
)

// Application directory name used across all platforms.
const appName = "dropbox-go"

// Config file name.
const configFileName = "config.toml"

// DefaultConfigDir returns the platform-specific directory for config files.
// On Linux, respects XDG_CONFIG_HOME (defaults to ~/.config/dropbox-go).
// On macOS, uses ~/Library/Application Support/dropbox-go per Apple guidelines.
// Other platforms fall back to ~/.config/dropbox-go.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return xdgDir("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".config", appName)
	}
}

// DefaultDataDir returns the platform-specific directory for application data
// (credential fallback files, upload session records).
// On Linux, respects XDG_DATA_HOME (defaults to ~/.local/share/dropbox-go).
// On macOS, config and data collapse into one directory per convention.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return xdgDir("XDG_DATA_HOME", filepath.Join(home, ".local", "share"))
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".local", "share", appName)
	}
}

// xdgDir resolves an XDG base directory variable, falling back to def when
// the variable is unset, and appends the application directory name.
func xdgDir(envVar, def string) string {
	if base := os.Getenv(envVar); base != "" {
		return filepath.Join(base, appName)
	}

	return filepath.Join(def, appName)
}

// DefaultConfigPath returns the full path to the default config file.
// Used as the fallback when neither DROPBOX_GO_CONFIG nor --config is set.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, configFileName)
}
