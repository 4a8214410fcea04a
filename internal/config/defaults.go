package config

// Default values for configuration options. These represent the "layer 0"
// of the four-layer override chain and work for a local deployment
// without any config file.
const (
	defaultTenant          = "common"
	defaultRedirectURL     = "http://localhost:8080/auth/callback"
	defaultGraphBaseURL    = "https://graph.microsoft.com/v1.0"
	defaultPageSize        = 10
	defaultRequestTimeout  = "30s"
	defaultCacheBackend    = CacheSession
	defaultListen          = "localhost:8080"
	defaultSessionLifetime = "24h"
	defaultRateLimit       = 10
	defaultRateBurst       = 20
	defaultLogLevel        = "info"
	defaultLogFormat       = "auto"
)

// DefaultConfig returns a Config populated with all default values.
// This is used both as the starting point for TOML decoding (so unset
// fields retain defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Identity: IdentityConfig{
			Tenant:      defaultTenant,
			RedirectURL: defaultRedirectURL,
		},
		Graph: GraphConfig{
			BaseURL:         defaultGraphBaseURL,
			DefaultPageSize: defaultPageSize,
			RequestTimeout:  defaultRequestTimeout,
		},
		Cache: CacheConfig{
			Backend: defaultCacheBackend,
		},
		Server: ServerConfig{
			Listen:          defaultListen,
			SessionLifetime: defaultSessionLifetime,
			RateLimit:       defaultRateLimit,
			RateBurst:       defaultRateBurst,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
	}
}
