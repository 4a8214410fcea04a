// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for graphfiles. It supports a four-layer
// override chain (defaults -> config file -> environment -> CLI flags).
package config

import "time"

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Identity IdentityConfig `toml:"identity"`
	Graph    GraphConfig    `toml:"graph"`
	Cache    CacheConfig    `toml:"cache"`
	Server   ServerConfig   `toml:"server"`
	Logging  LoggingConfig  `toml:"logging"`
}

// IdentityConfig describes the application registration at the identity
// provider. Authority, when set, replaces the tenant-derived Azure AD
// authority (e.g. a sovereign cloud or a local test provider).
type IdentityConfig struct {
	AppID       string   `toml:"app_id"`
	AppSecret   string   `toml:"app_secret"`
	Tenant      string   `toml:"tenant"`
	Authority   string   `toml:"authority"`
	RedirectURL string   `toml:"redirect_url"`
	Scopes      []string `toml:"scopes"`
}

// GraphConfig controls the drive API client.
type GraphConfig struct {
	BaseURL         string `toml:"base_url"`
	DefaultPageSize int    `toml:"default_page_size"`
	RequestTimeout  string `toml:"request_timeout"`
}

// Cache backends.
const (
	CacheMemory  = "memory"
	CacheSession = "session"
	CacheFile    = "file"
	CacheSQLite  = "sqlite"
)

// CacheConfig selects where delegated credentials are kept. Path is the
// directory (file backend) or database file (sqlite backend); empty means
// the platform data directory.
type CacheConfig struct {
	Backend string `toml:"backend"`
	Path    string `toml:"path"`
}

// ServerConfig controls the HTTP server started by "serve". RateLimit is
// requests per second per client IP.
type ServerConfig struct {
	Listen          string  `toml:"listen"`
	SessionLifetime string  `toml:"session_lifetime"`
	RateLimit       float64 `toml:"rate_limit"`
	RateBurst       int     `toml:"rate_burst"`
	CookieSecure    bool    `toml:"cookie_secure"`
}

// LoggingConfig controls log output: level and handler format.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to zero value".
type CLIOverrides struct {
	ConfigPath   string  // --config flag (empty = use default)
	Listen       *string // serve --listen
	CacheBackend *string // --cache
}

// Timeout returns the parsed request timeout. Only valid after Validate.
func (g GraphConfig) Timeout() time.Duration {
	d, _ := time.ParseDuration(g.RequestTimeout)
	return d
}

// Lifetime returns the parsed session lifetime. Only valid after Validate.
func (s ServerConfig) Lifetime() time.Duration {
	d, _ := time.ParseDuration(s.SessionLifetime)
	return d
}
