// Package app assembles the components shared by the Fairweather binaries:
// the event store selected by configuration, the cached OpenWeather provider,
// the alternatives finder, the events service and the metrics publisher.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/sony/gobreaker/v2"

	"fairweather/internal/alternatives"
	"fairweather/internal/config"
	"fairweather/internal/core"
	"fairweather/internal/db"
	"fairweather/internal/events"
	"fairweather/internal/external"
	"fairweather/internal/forecasts"
	"fairweather/internal/telemetry"
)

// Metrics is the union of the recorder interfaces the components report to.
type Metrics interface {
	core.MetricsCollector
	alternatives.MetricsRecorder
	RecordRescore(ctx context.Context, scored, unknown, failed int)
	io.Closer
}

// Components holds the wired dependencies. Close releases them in reverse
// order of construction.
type Components struct {
	Config   *config.Config
	Logger   *slog.Logger
	Store    events.Store
	Weather  *external.OpenWeatherClient
	Provider *forecasts.CachedProvider
	Finder   *alternatives.Finder
	Events   *events.Service
	Metrics  Metrics

	closers []io.Closer
	stop    context.CancelFunc
}

// Build wires every component from cfg. On failure, anything already opened
// is closed before returning.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Components, error) {
	c := &Components{Config: cfg, Logger: logger}

	store, closer, err := OpenStore(ctx, cfg.Store, logger)
	if err != nil {
		return nil, err
	}
	c.Store = store
	if closer != nil {
		c.closers = append(c.closers, closer)
	}

	metrics, err := c.newMetrics(ctx)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	c.Metrics = metrics

	c.Weather = external.NewOpenWeatherClient(
		&http.Client{Timeout: cfg.Weather.Timeout},
		external.OpenWeatherConfig{
			APIKey:  cfg.Weather.APIKey,
			BaseURL: cfg.Weather.BaseURL,
			Horizon: cfg.Weather.Horizon(),
			Retry:   retryPolicy(cfg.Weather.MaxRetries),
			Logger:  logger,
		},
	)
	c.Provider = forecasts.NewCachedProvider(c.Weather, forecasts.CacheOptions{
		TTL:          cfg.Weather.CacheTTL,
		MaximumSize:  cfg.Weather.CacheSize,
		FetchTimeout: cfg.Weather.FetchTimeout,
	}, logger)

	c.Finder = alternatives.NewFinder(c.Provider, logger,
		alternatives.WithConcurrency(cfg.Finder.Concurrency),
		alternatives.WithMetrics(c.Metrics),
	)
	c.Events = events.NewService(c.Store, c.Provider, c.Finder, logger,
		events.WithDefaults(events.Defaults{
			WindowDays:         cfg.Finder.WindowDays,
			MinImprovement:     cfg.Finder.MinImprovement,
			Limit:              cfg.Finder.Limit,
			RescoreConcurrency: cfg.Finder.Concurrency,
		}),
	)
	return c, nil
}

func (c *Components) newMetrics(ctx context.Context) (Metrics, error) {
	obs := c.Config.Observability
	if !obs.MetricsEnabled {
		return telemetry.Noop{}, nil
	}
	client, err := telemetry.NewCloudWatchClient(ctx, obs)
	if err != nil {
		return nil, fmt.Errorf("creating cloudwatch client: %w", err)
	}
	m := telemetry.NewCloudWatchMetrics(client, obs.MetricNamespace, c.Logger)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(runCtx, telemetry.DefaultFlushInterval)
	}()
	c.stop = func() {
		cancel()
		<-done
	}
	return m, nil
}

// HealthProbes reports the store and the forecast provider's circuit breaker.
func (c *Components) HealthProbes() []core.HealthProbe {
	probes := []core.HealthProbe{
		core.NewProbe("store", c.Store.Ping),
	}
	if c.Weather != nil {
		base := c.Weather.Base()
		probes = append(probes, core.NewProbe("openweather", func(context.Context) error {
			if base.BreakerState() == gobreaker.StateOpen {
				return errors.New("circuit breaker open")
			}
			return nil
		}))
	}
	return probes
}

// Close stops the metrics loop and releases the store. It is safe to call
// more than once.
func (c *Components) Close() error {
	var errs []error
	if c.stop != nil {
		c.stop()
		c.stop = nil
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// OpenStore returns the event store selected by cfg.Driver and, for drivers
// holding connections, a closer for it.
func OpenStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (events.Store, io.Closer, error) {
	switch cfg.Driver {
	case config.DriverMemory, "":
		logger.Warn("using in-memory event store; events are lost on restart")
		return events.NewMemoryStore(), nil, nil

	case config.DriverSQLite:
		s, err := db.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		logger.Info("using sqlite event store", "path", cfg.SQLitePath)
		return s, s, nil

	case config.DriverPostgres:
		if cfg.MigrateOnStart {
			if err := db.Migrate(cfg.URL.Unmask(), logger); err != nil {
				return nil, nil, fmt.Errorf("migrating database: %w", err)
			}
		}
		pool, err := db.NewPool(ctx, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to database: %w", err)
		}
		logger.Info("using postgres event store", "max_conns", cfg.MaxConns)
		return db.NewEventRepository(pool), closerFunc(func() error {
			pool.Close()
			return nil
		}), nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func retryPolicy(maxRetries int) external.RetryPolicy {
	p := external.DefaultRetryPolicy()
	p.MaxRetries = maxRetries
	return p
}

// NewLogger creates a JSON slog.Logger writing to w (stdout when nil) at the
// given level. Unknown levels fall back to info.
func NewLogger(level string, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}
