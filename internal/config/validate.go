package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"
)

// Validation range constants.
const (
	minPageSize        = 1
	maxPageSize        = 200 // Graph API cap on $top
	minRequestTimeout  = 1 * time.Second
	minSessionLifetime = 1 * time.Minute
	minRateBurst       = 1
)

// ErrMissingAppID is returned by RequireIdentity when no application id is
// configured.
var ErrMissingAppID = errors.New("identity.app_id: required (set it in the config file or " + EnvAppID + ")")

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateIdentity(&cfg.Identity)...)
	errs = append(errs, validateGraph(&cfg.Graph)...)
	errs = append(errs, validateCache(&cfg.Cache)...)
	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	return errors.Join(errs...)
}

// RequireIdentity checks that a real identity provider can be used. Dev
// mode, which runs against a local fake, skips it.
func RequireIdentity(cfg *Config) error {
	if cfg.Identity.AppID == "" {
		return ErrMissingAppID
	}

	return nil
}

func validateIdentity(c *IdentityConfig) []error {
	var errs []error

	if c.Tenant == "" && c.Authority == "" {
		errs = append(errs, errors.New("identity.tenant: must not be empty unless identity.authority is set"))
	}

	if c.Authority != "" {
		if err := validateAbsoluteURL(c.Authority); err != nil {
			errs = append(errs, fmt.Errorf("identity.authority: %w", err))
		}
	}

	if err := validateAbsoluteURL(c.RedirectURL); err != nil {
		errs = append(errs, fmt.Errorf("identity.redirect_url: %w", err))
	}

	return errs
}

func validateGraph(c *GraphConfig) []error {
	var errs []error

	if err := validateAbsoluteURL(c.BaseURL); err != nil {
		errs = append(errs, fmt.Errorf("graph.base_url: %w", err))
	}

	if c.DefaultPageSize < minPageSize || c.DefaultPageSize > maxPageSize {
		errs = append(errs, fmt.Errorf("graph.default_page_size: must be between %d and %d, got %d",
			minPageSize, maxPageSize, c.DefaultPageSize))
	}

	if err := validateDurationMin(c.RequestTimeout, minRequestTimeout); err != nil {
		errs = append(errs, fmt.Errorf("graph.request_timeout: %w", err))
	}

	return errs
}

func validateCache(c *CacheConfig) []error {
	switch c.Backend {
	case CacheMemory, CacheSession, CacheFile, CacheSQLite:
		return nil
	default:
		return []error{fmt.Errorf("cache.backend: must be one of %s, %s, %s, %s; got %q",
			CacheMemory, CacheSession, CacheFile, CacheSQLite, c.Backend)}
	}
}

func validateServer(c *ServerConfig) []error {
	var errs []error

	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		errs = append(errs, fmt.Errorf("server.listen: must be host:port, got %q", c.Listen))
	}

	if err := validateDurationMin(c.SessionLifetime, minSessionLifetime); err != nil {
		errs = append(errs, fmt.Errorf("server.session_lifetime: %w", err))
	}

	if c.RateLimit <= 0 {
		errs = append(errs, fmt.Errorf("server.rate_limit: must be positive, got %v", c.RateLimit))
	}

	if c.RateBurst < minRateBurst {
		errs = append(errs, fmt.Errorf("server.rate_burst: must be at least %d, got %d", minRateBurst, c.RateBurst))
	}

	return errs
}

func validateLogging(c *LoggingConfig) []error {
	var errs []error

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.log_level: must be debug, info, warn or error; got %q", c.LogLevel))
	}

	switch c.LogFormat {
	case "auto", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.log_format: must be auto, text or json; got %q", c.LogFormat))
	}

	return errs
}

func validateAbsoluteURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}

	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("must be an absolute http(s) URL, got %q", raw)
	}

	return nil
}

func validateDurationMin(raw string, floor time.Duration) error {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}

	if d < floor {
		return fmt.Errorf("must be at least %s, got %s", floor, d)
	}

	return nil
}
