// Package config loads the dashboard client configuration from the
// environment.
package config

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-envconfig"
)

const (
	StorageBadger = "badger"
	StorageRedis  = "redis"

	TransportWebSocket = "websocket"
	TransportSSE       = "sse"
	TransportRedis     = "redis"
	TransportOff       = "off"

	LogFormatText = "text"
	LogFormatJSON = "json"
)

type Config struct {
	APIURL     string `env:"API_URL,     default=http://localhost:8080"`
	ListenAddr string `env:"LISTEN_ADDR, default=:8090"`
	Debug      bool   `env:"DEBUG,       default=false"`
	LogFormat  string `env:"LOG_FORMAT,  default=text"`

	Storage  StorageConfig
	Realtime RealtimeConfig
	Cache    CacheConfig
	Tracing  TracingConfig
}

type StorageConfig struct {
	Backend string `env:"SESSION_STORAGE,   default=badger"`
	Dir     string `env:"SESSION_DIR"`
	// RedisConnectionString is a redis:// URL or host:port,password=...,ssl=true.
	RedisConnectionString string `env:"REDIS_CONNECTION_STRING"`
	Namespace             string `env:"SESSION_NAMESPACE, default=prism-dashboard"`
}

type RealtimeConfig struct {
	Transport string `env:"REALTIME_TRANSPORT, default=websocket"`
	// URL overrides the endpoint derived from the API URL.
	URL     string `env:"REALTIME_URL"`
	Channel string `env:"REALTIME_CHANNEL,   default=prism:changes"`
}

type CacheConfig struct {
	StaleTime       time.Duration `env:"CACHE_STALE_TIME,    default=30s"`
	GCTime          time.Duration `env:"CACHE_GC_TIME,       default=5m"`
	FetchTimeout    time.Duration `env:"CACHE_FETCH_TIMEOUT, default=30s"`
	JanitorInterval time.Duration `env:"CACHE_JANITOR,       default=1m"`
}

type TracingConfig struct {
	// Endpoint is an OTLP/gRPC collector address. Spans are not exported
	// when it is empty.
	Endpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName string `env:"OTEL_SERVICE_NAME, default=prism-dashboard"`
}

// Load reads the configuration from the process environment.
func Load(ctx context.Context) (*Config, error) {
	return LoadFrom(ctx, envconfig.OsLookuper())
}

// LoadFrom reads the configuration through l and validates it.
func LoadFrom(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: l}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	u, err := url.Parse(c.APIURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("config: API_URL %q must be an absolute url", c.APIURL)
	}
	switch c.LogFormat {
	case LogFormatText, LogFormatJSON:
	default:
		return fmt.Errorf("config: unsupported LOG_FORMAT %q", c.LogFormat)
	}
	switch c.Storage.Backend {
	case StorageBadger:
	case StorageRedis:
		if c.Storage.RedisConnectionString == "" {
			return errors.New("config: REDIS_CONNECTION_STRING is required for redis session storage")
		}
	default:
		return fmt.Errorf("config: unsupported SESSION_STORAGE %q", c.Storage.Backend)
	}
	switch c.Realtime.Transport {
	case TransportWebSocket, TransportSSE, TransportOff:
	case TransportRedis:
		if c.Storage.RedisConnectionString == "" {
			return errors.New("config: REDIS_CONNECTION_STRING is required for the redis realtime transport")
		}
	default:
		return fmt.Errorf("config: unsupported REALTIME_TRANSPORT %q", c.Realtime.Transport)
	}
	if c.Cache.StaleTime < 0 || c.Cache.GCTime <= 0 || c.Cache.FetchTimeout <= 0 || c.Cache.JanitorInterval <= 0 {
		return errors.New("config: cache durations must be positive")
	}
	return nil
}

// ParseRedisOptions accepts a redis:// URL or the host:port,password=...,ssl=true
// form.
func ParseRedisOptions(conn string) (*redis.Options, error) {
	if conn == "" {
		return nil, errors.New("missing redis connection string")
	}
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	if strings.TrimSpace(parts[0]) == "" {
		return nil, fmt.Errorf("redis connection string %q has no address", conn)
	}
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(strings.TrimSpace(kv[1])) == "true" {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts, nil
}
