package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Default values for the engine configuration.
const (
	DefaultTTL          = 180 * time.Second
	DefaultFetchTimeout = 10 * time.Second
	DefaultHTTPPort     = 8080
)

// Config is the root of the parsed configuration file.
type Config struct {
	Engine   EngineConfig   `yaml:"engine"`
	Source   SourceConfig   `yaml:"source"`
	Identity IdentityConfig `yaml:"identity"`
	Server   ServerConfig   `yaml:"server"`
}

// EngineConfig tunes the collection cache.
type EngineConfig struct {
	// TTL is the validity window of a snapshot. A snapshot older than TTL is
	// served as stale until a refresh replaces it. Default: 180s.
	TTL time.Duration `yaml:"ttl"`

	// FetchTimeout bounds a single remote fetch. A fetch exceeding it fails
	// as a network error. Default: 10s.
	FetchTimeout time.Duration `yaml:"fetch_timeout"`

	// MaxConcurrentFetches is the in-flight fetch ceiling. The engine
	// de-duplicates concurrent callers onto one fetch, so the only accepted
	// value is 1 (or 0, which means 1).
	MaxConcurrentFetches int `yaml:"max_concurrent_fetches"`
}

// SourceConfig describes the remote catalog backend.
type SourceConfig struct {
	// Endpoint is the URL the collection list is fetched from.
	Endpoint string `yaml:"endpoint" env:"SHELFSYNC_SOURCE_ENDPOINT"`

	// Auth configures how outgoing fetches authenticate to the backend.
	Auth AuthConfig `yaml:"auth"`

	// TLS holds transport security options for the fetch client.
	TLS TLSConfig `yaml:"tls"`

	// LocalCatalog optionally names a YAML file consulted when the network
	// source fails, for offline bootstrap. Empty disables the fallback.
	LocalCatalog string `yaml:"local_catalog"`
}

// AuthConfig controls outgoing authentication on fetches.
type AuthConfig struct {
	// Mode is one of: apikey | bearer | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable holding the API key.
	// Used when Mode == "apikey".
	KeyEnv string `yaml:"key_env"`

	// TokenEnv is the name of the environment variable holding the bearer
	// token. Used when Mode == "bearer".
	TokenEnv string `yaml:"token_env"`

	// Header is the header name the API key is sent in.
	// Defaults to "x-api-key" if empty.
	Header string `yaml:"header"`
}

// Key returns the API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// Token returns the bearer token resolved from the environment.
func (a AuthConfig) Token() string {
	if a.TokenEnv == "" {
		return ""
	}
	return os.Getenv(a.TokenEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// TLSConfig holds transport security options.
type TLSConfig struct {
	// InsecureSkipVerify disables certificate verification. Test use only.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// IdentityConfig points at the watched session file.
type IdentityConfig struct {
	// SessionFile is the YAML file describing the current viewer. The file
	// is watched for changes; an empty path means the engine runs anonymous.
	SessionFile string `yaml:"session_file" env:"SHELFSYNC_SESSION_FILE"`
}

// ServerConfig holds the serving surface settings.
type ServerConfig struct {
	// HTTPPort is the port the REST API and WebSocket stream listen on.
	HTTPPort int `yaml:"http_port" env:"SHELFSYNC_HTTP_PORT"`
}

// Load reads and parses the config file at path. Missing fields are filled
// with defaults, environment overrides are applied, then the result is
// validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse env overrides: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Engine: EngineConfig{
			TTL:                  DefaultTTL,
			FetchTimeout:         DefaultFetchTimeout,
			MaxConcurrentFetches: 1,
		},
		Server: ServerConfig{
			HTTPPort: DefaultHTTPPort,
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	if cfg.Engine.TTL <= 0 {
		return fmt.Errorf("engine.ttl must be positive, got %s", cfg.Engine.TTL)
	}
	if cfg.Engine.FetchTimeout <= 0 {
		return fmt.Errorf("engine.fetch_timeout must be positive, got %s", cfg.Engine.FetchTimeout)
	}
	if n := cfg.Engine.MaxConcurrentFetches; n != 0 && n != 1 {
		return fmt.Errorf("engine.max_concurrent_fetches %d unsupported: fetches are de-duplicated onto one in-flight operation", n)
	}
	if cfg.Source.Endpoint == "" {
		return fmt.Errorf("source.endpoint is required")
	}
	switch cfg.Source.Auth.Mode {
	case "apikey", "bearer", "none", "":
	default:
		return fmt.Errorf("source.auth.mode %q unknown: want apikey|bearer|none", cfg.Source.Auth.Mode)
	}
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", cfg.Server.HTTPPort)
	}
	return nil
}
