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
const appName = "graphfiles"

// Config file name.
const configFileName = "config.toml"

// DefaultConfigDir returns the platform-specific directory for config files.
// On Linux, respects XDG_CONFIG_HOME (defaults to ~/.config/graphfiles).
// On macOS, uses ~/Library/Application Support/graphfiles per Apple guidelines.
// Other platforms fall back to ~/.config/graphfiles.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return linuxConfigDir(home)
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".config", appName)
	}
}

// linuxConfigDir returns the XDG-compliant config directory for Linux.
func linuxConfigDir(home string) string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	return filepath.Join(home, ".config", appName)
}

// DefaultDataDir returns the platform-specific directory for application data
// (the durable token cache).
// On Linux, respects XDG_DATA_HOME (defaults to ~/.local/share/graphfiles).
// On macOS, uses ~/Library/Application Support/graphfiles (macOS convention
// collapses config and data into one directory).
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return linuxDataDir(home)
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".local", "share", appName)
	}
}

// linuxDataDir returns the XDG-compliant data directory for Linux.
func linuxDataDir(home string) string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	return filepath.Join(home, ".local", "share", appName)
}

// DefaultConfigPath returns the full path to the default config file.
// This is used as the fallback when neither GRAPHFILES_CONFIG nor
// --config is specified.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, configFileName)
}

// Default durable cache locations under the data directory.
const (
	tokenDirName = "tokens"
	tokenDBName  = "tokens.db"
)

// CachePath returns where a durable cache backend keeps its data: the
// configured path, or a default under DefaultDataDir. Memory and session
// backends have no path.
func (c CacheConfig) CachePath() string {
	if c.Path != "" {
		return c.Path
	}

	switch c.Backend {
	case CacheFile:
		return filepath.Join(DefaultDataDir(), tokenDirName)
	case CacheSQLite:
		return filepath.Join(DefaultDataDir(), tokenDBName)
	default:
		return ""
	}
}

// Durable returns the cache settings to use outside an HTTP session, e.g.
// from the CLI. Memory and session backends fall back to sqlite at its
// default location.
func (c CacheConfig) Durable() CacheConfig {
	switch c.Backend {
	case CacheFile, CacheSQLite:
		return c
	default:
		return CacheConfig{Backend: CacheSQLite}
	}
}
