package config

import (
	"context"
	"fmt"

	"github.com/jonwraymond/querysync/backend"
	"github.com/jonwraymond/querysync/observe"
	"github.com/jonwraymond/querysync/persist"
	"github.com/jonwraymond/querysync/realtime"
)

// ClientConfig returns the backend client settings. The service key, when
// set, replaces the anon key as the bearer token.
func (b BackendConfig) ClientConfig() backend.Config {
	cfg := backend.Config{
		BaseURL:    b.URL,
		APIKey:     b.AnonKey,
		Timeout:    b.Timeout,
		Resilience: b.Resilience,
	}
	if b.ServiceKey != "" {
		cfg.Token = backend.StaticToken(b.ServiceKey)
	}
	return cfg
}

// WSConfig returns the change feed settings. apiKey is the backend anon key.
func (r RealtimeConfig) WSConfig(apiKey string, logger observe.Logger) realtime.WSConfig {
	return realtime.WSConfig{URL: r.URL, APIKey: apiKey, Logger: logger}
}

// PersistConfig returns the persister settings.
func (c CacheConfig) PersistConfig(logger observe.Logger) persist.Config {
	return persist.Config{
		Key:      c.PersistKey,
		MaxAge:   c.MaxAge,
		Throttle: c.Throttle,
		Logger:   logger,
	}
}

// OpenStorage opens the configured storage. The caller closes a redis
// storage.
func (c CacheConfig) OpenStorage(ctx context.Context) (persist.Storage, error) {
	switch c.Storage {
	case StorageMemory, "":
		return persist.NewMemoryStorage(0), nil
	case StorageFile:
		fs, err := persist.NewFileStorage(c.Dir)
		if err != nil {
			return nil, err
		}
		return fs, nil
	case StorageRedis:
		rs, err := persist.NewRedisStorage(ctx, persist.RedisConfig{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
			Prefix:   c.Redis.Prefix,
			TTL:      c.MaxAge,
		})
		if err != nil {
			return nil, err
		}
		return rs, nil
	default:
		return nil, fmt.Errorf("%w: unknown cache storage %q", ErrInvalidConfig, c.Storage)
	}
}
