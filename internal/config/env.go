package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig         = "DROPBOX_GO_CONFIG"
	EnvAppKey         = "DROPBOX_GO_APP_KEY"
	EnvAppSecret      = "DROPBOX_GO_APP_SECRET"
	EnvDisableKeyring = "DROPBOX_GO_DISABLE_KEYRING"
)

// EnvOverrides holds values derived from environment variables.
// These sit between config-file values and CLI flags in the override chain.
type EnvOverrides struct {
	ConfigPath     string // DROPBOX_GO_CONFIG: override config file path
	AppKey         string // DROPBOX_GO_APP_KEY: Dropbox app key
	AppSecret      string // DROPBOX_GO_APP_SECRET: Dropbox app secret
	DisableKeyring bool   // DROPBOX_GO_DISABLE_KEYRING: force encrypted-file credential storage
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; callers apply the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:     os.Getenv(EnvConfig),
		AppKey:         os.Getenv(EnvAppKey),
		AppSecret:      os.Getenv(EnvAppSecret),
		DisableKeyring: os.Getenv(EnvDisableKeyring) != "",
	}
}
