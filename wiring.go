package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"prism-dashboard/config"
	"prism-dashboard/dashboard"
	"prism-dashboard/querycache"
	"prism-dashboard/realtime"
	"prism-dashboard/storage"
)

func newLogger(cfg *config.Config) *log.Logger {
	logger := log.New()
	logger.SetOutput(os.Stderr)
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	if cfg.LogFormat == config.LogFormatJSON {
		logger.SetFormatter(&log.JSONFormatter{})
	} else {
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return logger
}

// setupTracing installs the global tracer provider. The returned function
// flushes and stops it.
func setupTracing(ctx context.Context, cfg config.TracingConfig) (func(context.Context), error) {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName))),
	}
	if cfg.Endpoint != "" {
		exporter, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithInsecure())
		if err != nil {
			return nil, fmt.Errorf("otlp exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}
	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.WithError(err).Warn("failed to shut down tracer provider")
		}
	}, nil
}

// app owns everything a command needs; Close releases it.
type app struct {
	cfg       *config.Config
	logger    *log.Logger
	dashboard *dashboard.Dashboard
	// redis is set when a connection string is configured.
	redis   *redis.Client
	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// newApp builds the dashboard from cfg and restores the persisted
// session. Realtime invalidation is only started when withRealtime is set.
func newApp(ctx context.Context, cfg *config.Config, logger *log.Logger, withRealtime bool) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	var rc *redis.Client
	if cfg.Storage.RedisConnectionString != "" {
		opts, err := config.ParseRedisOptions(cfg.Storage.RedisConnectionString)
		if err != nil {
			return nil, err
		}
		rc = redis.NewClient(opts)
		a.redis = rc
		a.closers = append(a.closers, func() { rc.Close() })
	}

	store, err := openStorage(cfg.Storage, rc, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	// A redis store shares rc, which has its own closer.
	if _, shared := store.(*storage.RedisStore); !shared {
		a.closers = append(a.closers, func() {
			if err := store.Close(); err != nil {
				logger.WithError(err).Warn("close session storage")
			}
		})
	}

	var source func(string) realtime.Source
	if withRealtime {
		if source, err = realtimeFactory(cfg, rc); err != nil {
			a.Close()
			return nil, err
		}
	}

	d, err := dashboard.New(dashboard.Options{
		APIURL:   cfg.APIURL,
		Storage:  store,
		Realtime: source,
		Cache: querycache.Config{
			StaleTime:    cfg.Cache.StaleTime,
			GCTime:       cfg.Cache.GCTime,
			FetchTimeout: cfg.Cache.FetchTimeout,
		},
		JanitorInterval: cfg.Cache.JanitorInterval,
		Logger:          logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	d.Start(ctx)
	a.dashboard = d
	a.closers = append(a.closers, d.Stop)
	return a, nil
}

func openStorage(cfg config.StorageConfig, rc *redis.Client, logger *log.Logger) (storage.Store, error) {
	switch cfg.Backend {
	case config.StorageRedis:
		if rc == nil {
			return nil, errors.New("redis session storage needs a connection string")
		}
		return storage.NewRedisStore(rc, cfg.Namespace), nil
	default:
		dir := cfg.Dir
		if dir == "" {
			base, err := os.UserConfigDir()
			if err != nil {
				return nil, fmt.Errorf("resolve session dir: %w", err)
			}
			dir = filepath.Join(base, cfg.Namespace, "session")
		}
		st, err := storage.OpenBadger(storage.BadgerConfig{Path: dir, Logger: logger})
		if err != nil {
			return nil, err
		}
		return st, nil
	}
}

// realtimeFactory returns the source constructor for the configured
// transport, or nil when realtime is off.
func realtimeFactory(cfg *config.Config, rc *redis.Client) (func(string) realtime.Source, error) {
	switch cfg.Realtime.Transport {
	case config.TransportOff:
		return nil, nil
	case config.TransportRedis:
		if rc == nil {
			return nil, errors.New("redis realtime transport needs a connection string")
		}
		channel := cfg.Realtime.Channel
		return func(string) realtime.Source {
			return &realtime.RedisSource{Client: rc, Channel: channel}
		}, nil
	case config.TransportSSE:
		url := cfg.Realtime.URL
		if url == "" {
			url = cfg.APIURL + "/events"
		}
		return func(token string) realtime.Source {
			return &realtime.SSESource{URL: url, Token: token}
		}, nil
	default:
		url := cfg.Realtime.URL
		if url == "" {
			var err error
			if url, err = realtime.SocketIOURL(cfg.APIURL); err != nil {
				return nil, err
			}
		}
		return func(token string) realtime.Source {
			return &realtime.WebSocketSource{URL: url, Token: token}
		}, nil
	}
}
