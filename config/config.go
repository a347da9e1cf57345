package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jonwraymond/querysync/observe"
	"github.com/jonwraymond/querysync/resilience"
	"github.com/jonwraymond/querysync/secret"
)

// Storage kinds for the persisted cache.
const (
	StorageMemory = "memory"
	StorageFile   = "file"
	StorageRedis  = "redis"
)

// Config is the root configuration.
type Config struct {
	Backend   BackendConfig   `yaml:"backend"`
	Realtime  RealtimeConfig  `yaml:"realtime"`
	Cache     CacheConfig     `yaml:"cache"`
	Functions FunctionsConfig `yaml:"functions"`
	Observe   observe.Config  `yaml:"observe"`

	// Secrets configures secret providers by name, e.g. file: {dir: /run/secrets}.
	// The env provider is always available.
	Secrets map[string]map[string]any `yaml:"secrets"`
}

// BackendConfig configures the hosted backend client.
type BackendConfig struct {
	URL        string            `yaml:"url"`
	AnonKey    string            `yaml:"anon_key"`
	ServiceKey string            `yaml:"service_key"`
	Timeout    time.Duration     `yaml:"timeout"`
	Resilience resilience.Config `yaml:"resilience"`
}

// RealtimeConfig configures the change feed.
type RealtimeConfig struct {
	// URL is the websocket endpoint. Empty disables the feed.
	URL     string `yaml:"url"`
	Channel string `yaml:"channel"`
}

// CacheConfig configures the query cache and its persistence.
type CacheConfig struct {
	PersistKey string        `yaml:"persist_key"`
	MaxAge     time.Duration `yaml:"max_age"`
	Storage    string        `yaml:"storage"` // memory|file|redis
	Dir        string        `yaml:"dir"`
	Redis      RedisConfig   `yaml:"redis"`
	GCInterval time.Duration `yaml:"gc_interval"`
	Throttle   time.Duration `yaml:"throttle"`
}

// RedisConfig locates the Redis server used by the redis storage.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// FunctionsConfig configures the serverless function server.
type FunctionsConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	JWTSecret      string   `yaml:"jwt_secret"`
	JWTIssuer      string   `yaml:"jwt_issuer"`
	AIModel        string   `yaml:"ai_model"`
	AIAPIKey       string   `yaml:"ai_api_key"`
}

// Default returns the configuration used for keys absent from the file.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			Timeout: 30 * time.Second,
		},
		Realtime: RealtimeConfig{
			Channel: "realtime:public",
		},
		Cache: CacheConfig{
			PersistKey: "querysync-cache",
			MaxAge:     24 * time.Hour,
			Storage:    StorageMemory,
			Redis:      RedisConfig{Prefix: "querysync:"},
			GCInterval: time.Minute,
			Throttle:   time.Second,
		},
		Functions: FunctionsConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"*"},
			AIModel:        "gemini-2.5-flash",
		},
		Observe: observe.DefaultConfig("querysync"),
	}
}

// Load reads path over Default and resolves secret-bearing values. When
// resolver is nil one is built from the secrets section. An empty path
// resolves the defaults only.
func Load(ctx context.Context, path string, resolver *secret.Resolver) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := Parse(data, cfg); err != nil {
			return nil, err
		}
	}

	if resolver == nil {
		settings, err := cfg.secretSettings()
		if err != nil {
			return nil, err
		}
		r, err := secret.NewResolverFromRegistry(secret.DefaultRegistry, settings)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		defer r.Close()
		resolver = r
	}
	if err := cfg.Resolve(ctx, resolver); err != nil {
		return nil, err
	}
	return cfg, nil
}

// secretSettings returns the provider settings with the environment
// expanded in string values. The env provider is always present.
func (c *Config) secretSettings() (map[string]map[string]any, error) {
	out := map[string]map[string]any{"env": nil}
	for name, settings := range c.Secrets {
		expanded := make(map[string]any, len(settings))
		for k, v := range settings {
			if s, ok := v.(string); ok {
				e, err := secret.ExpandEnvStrict(s)
				if err != nil {
					return nil, fmt.Errorf("config: resolve secrets.%s.%s: %w", name, k, err)
				}
				v = e
			}
			expanded[k] = v
		}
		out[name] = expanded
	}
	return out, nil
}

// Parse decodes YAML into cfg. Unknown keys are rejected.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: parse: %w", err)
	}
	return nil
}

// Resolve expands the environment and secret references in every
// secret-bearing value.
func (c *Config) Resolve(ctx context.Context, r *secret.Resolver) error {
	fields := []struct {
		name string
		ptr  *string
	}{
		{"backend.url", &c.Backend.URL},
		{"backend.anon_key", &c.Backend.AnonKey},
		{"backend.service_key", &c.Backend.ServiceKey},
		{"realtime.url", &c.Realtime.URL},
		{"cache.dir", &c.Cache.Dir},
		{"cache.redis.addr", &c.Cache.Redis.Addr},
		{"cache.redis.password", &c.Cache.Redis.Password},
		{"functions.jwt_secret", &c.Functions.JWTSecret},
		{"functions.ai_api_key", &c.Functions.AIAPIKey},
	}
	for _, f := range fields {
		if *f.ptr == "" {
			continue
		}
		v, err := r.ResolveValue(ctx, *f.ptr)
		if err != nil {
			return fmt.Errorf("config: resolve %s: %w", f.name, err)
		}
		*f.ptr = v
	}
	return nil
}

// Validate checks the configuration. Every error wraps ErrInvalidConfig.
func (c *Config) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if c.Backend.URL == "" {
		invalid("backend.url is required")
	} else if u, err := url.Parse(c.Backend.URL); err != nil || u.Scheme == "" || u.Host == "" {
		invalid("backend.url %q is not an absolute URL", c.Backend.URL)
	}
	if c.Backend.AnonKey == "" {
		invalid("backend.anon_key is required")
	}
	if c.Backend.Timeout < 0 {
		invalid("backend.timeout must not be negative")
	}
	if err := c.Backend.Resilience.Validate(); err != nil {
		invalid("backend.resilience: %v", err)
	}

	if c.Realtime.URL != "" {
		if u, err := url.Parse(c.Realtime.URL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			invalid("realtime.url %q must be a ws:// or wss:// URL", c.Realtime.URL)
		}
	}

	switch c.Cache.Storage {
	case StorageMemory:
	case StorageFile:
		if c.Cache.Dir == "" {
			invalid("cache.dir is required for file storage")
		}
	case StorageRedis:
		if c.Cache.Redis.Addr == "" {
			invalid("cache.redis.addr is required for redis storage")
		}
	default:
		invalid("cache.storage %q must be one of %v", c.Cache.Storage, []string{StorageMemory, StorageFile, StorageRedis})
	}
	if c.Cache.MaxAge < 0 || c.Cache.GCInterval < 0 || c.Cache.Throttle < 0 {
		invalid("cache durations must not be negative")
	}

	if c.Functions.Enabled {
		if c.Functions.Addr == "" {
			invalid("functions.addr is required")
		}
		if c.Functions.JWTSecret == "" {
			invalid("functions.jwt_secret is required")
		}
		if slices.Contains(c.Functions.AllowedOrigins, "") {
			invalid("functions.allowed_origins contains an empty origin")
		}
	}

	if err := c.Observe.Validate(); err != nil {
		invalid("observe: %v", err)
	}
	return errors.Join(errs...)
}
