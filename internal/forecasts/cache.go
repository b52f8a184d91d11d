package forecasts

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/maypok86/otter/v2"
	"golang.org/x/sync/singleflight"

	"fairweather/internal/types"
)

// Cache defaults used when CacheOptions leaves a field zero.
const (
	DefaultCacheTTL     = 30 * time.Minute
	DefaultCacheSize    = 10_000
	DefaultFetchTimeout = 30 * time.Second
)

// CacheOptions configures a CachedProvider.
type CacheOptions struct {
	TTL         time.Duration
	MaximumSize int

	// FetchTimeout bounds a shared upstream fetch. It is independent of any
	// single caller's deadline.
	FetchTimeout time.Duration
}

// CacheStats reports cache effectiveness counters.
type CacheStats struct {
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
	Entries int    `json:"entries"`
}

// CachedProvider decorates a Provider with a TTL cache. Entries are keyed by
// normalized location, UTC date and hour, so lookups for the same place and
// slot share one upstream call. Concurrent misses for a key are collapsed
// into a single fetch that outlives any one caller's cancellation; each
// caller stops waiting when its own context ends. Errors are never cached.
type CachedProvider struct {
	next          Provider
	points        *otter.Cache[string, types.ForecastRecord]
	series        *otter.Cache[string, []types.ForecastRecord]
	pointFetches  singleflight.Group
	seriesFetches singleflight.Group
	fetchTimeout  time.Duration
	logger        *slog.Logger

	hits   atomic.Uint64
	misses atomic.Uint64
}

var (
	_ Provider        = (*CachedProvider)(nil)
	_ HorizonReporter = (*CachedProvider)(nil)
)

// NewCachedProvider wraps next with an in-memory cache.
func NewCachedProvider(next Provider, opts CacheOptions, logger *slog.Logger) *CachedProvider {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultCacheTTL
	}
	if opts.MaximumSize <= 0 {
		opts.MaximumSize = DefaultCacheSize
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}

	return &CachedProvider{
		next: next,
		points: otter.Must(&otter.Options[string, types.ForecastRecord]{
			MaximumSize:      opts.MaximumSize,
			ExpiryCalculator: otter.ExpiryWriting[string, types.ForecastRecord](opts.TTL),
		}),
		series: otter.Must(&otter.Options[string, []types.ForecastRecord]{
			MaximumSize:      max(opts.MaximumSize/10, 16),
			ExpiryCalculator: otter.ExpiryWriting[string, []types.ForecastRecord](opts.TTL),
		}),
		fetchTimeout: opts.FetchTimeout,
		logger:       logger,
	}
}

// GetForecast returns a cached forecast or fetches it from the wrapped provider.
func (c *CachedProvider) GetForecast(ctx context.Context, location string, when time.Time) (*types.ForecastRecord, error) {
	key := PointKey(location, when)

	if rec, ok := c.points.GetIfPresent(key); ok {
		c.hits.Add(1)
		c.logger.Debug("forecast cache hit", "key", key)
		return &rec, nil
	}
	c.misses.Add(1)

	v, joined, err := c.shared(ctx, &c.pointFetches, key, func(fetchCtx context.Context) (any, error) {
		rec, err := c.next.GetForecast(fetchCtx, location, when)
		if err != nil {
			return nil, err
		}
		c.points.Set(key, *rec)
		return *rec, nil
	})
	if err != nil {
		return nil, err
	}
	if joined {
		c.logger.Debug("forecast fetch shared", "key", key)
	}
	rec := v.(types.ForecastRecord)
	return &rec, nil
}

// GetForecastSeries returns a cached series or fetches it from the wrapped provider.
func (c *CachedProvider) GetForecastSeries(ctx context.Context, location string, days int) ([]types.ForecastRecord, error) {
	key := fmt.Sprintf("series|%s|%d", NormalizeLocation(location), days)

	if recs, ok := c.series.GetIfPresent(key); ok {
		c.hits.Add(1)
		return cloneSeries(recs), nil
	}
	c.misses.Add(1)

	v, _, err := c.shared(ctx, &c.seriesFetches, key, func(fetchCtx context.Context) (any, error) {
		recs, err := c.next.GetForecastSeries(fetchCtx, location, days)
		if err != nil {
			return nil, err
		}
		c.series.Set(key, recs)
		return recs, nil
	})
	if err != nil {
		return nil, err
	}
	return cloneSeries(v.([]types.ForecastRecord)), nil
}

// shared runs fetch once per key across concurrent callers. The fetch keeps
// ctx's values but not its cancellation, so one caller giving up does not
// fail the others; a caller whose ctx ends returns ctx.Err() without waiting.
func (c *CachedProvider) shared(ctx context.Context, g *singleflight.Group, key string, fetch func(context.Context) (any, error)) (any, bool, error) {
	ch := g.DoChan(key, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()
		return fetch(fetchCtx)
	})
	select {
	case res := <-ch:
		return res.Val, res.Shared, res.Err
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Horizon passes through the wrapped provider's horizon.
func (c *CachedProvider) Horizon() time.Duration {
	return HorizonOf(c.next)
}

// Stats returns a snapshot of the cache counters.
func (c *CachedProvider) Stats() CacheStats {
	return CacheStats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: c.points.EstimatedSize() + c.series.EstimatedSize(),
	}
}

// Invalidate drops the cached point forecast for location at when.
func (c *CachedProvider) Invalidate(location string, when time.Time) {
	c.points.Invalidate(PointKey(location, when))
}

// NormalizeLocation trims, lower-cases and collapses internal whitespace so
// that "  New  York" and "new york" share a cache entry.
func NormalizeLocation(location string) string {
	return strings.Join(strings.Fields(strings.ToLower(location)), " ")
}

// PointKey builds the cache key for a point forecast.
func PointKey(location string, when time.Time) string {
	u := when.UTC()
	return fmt.Sprintf("%s|%s|%02d", NormalizeLocation(location), u.Format(time.DateOnly), u.Hour())
}

func cloneSeries(in []types.ForecastRecord) []types.ForecastRecord {
	out := make([]types.ForecastRecord, len(in))
	copy(out, in)
	return out
}
