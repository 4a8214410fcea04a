package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig    = "GRAPHFILES_CONFIG"
	EnvAppID     = "GRAPHFILES_APP_ID"
	EnvAppSecret = "GRAPHFILES_APP_SECRET" //nolint:gosec // G101: variable name, not a credential
	EnvListen    = "GRAPHFILES_LISTEN"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // GRAPHFILES_CONFIG: override config file path
	AppID      string // GRAPHFILES_APP_ID: identity.app_id
	AppSecret  string // GRAPHFILES_APP_SECRET: identity.app_secret
	Listen     string // GRAPHFILES_LISTEN: server.listen
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; Resolve applies them.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		AppID:      os.Getenv(EnvAppID),
		AppSecret:  os.Getenv(EnvAppSecret),
		Listen:     os.Getenv(EnvListen),
	}
}
