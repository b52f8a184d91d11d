package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/maypok86/otter/v2"

	"fairweather/internal/forecasts"
	"fairweather/internal/types"
)

const (
	openWeatherAPIBase = "https://api.openweathermap.org"

	// DefaultForecastHorizon matches the free 5-day / 3-hour forecast product.
	DefaultForecastHorizon = 5 * 24 * time.Hour

	// maxSlotGap is the widest distance between a requested time and the
	// nearest 3-hourly entry that still counts as a forecast for that time.
	maxSlotGap = 3 * time.Hour

	geocodeTTL   = 24 * time.Hour
	forecastTTL  = 10 * time.Minute
	lookupsLimit = 5_000
)

// OpenWeatherConfig holds the configuration for creating an OpenWeatherClient.
type OpenWeatherConfig struct {
	APIKey  types.SecretString
	BaseURL string // defaults to openWeatherAPIBase
	Horizon time.Duration
	Retry   RetryPolicy
	Clock   types.Clock
	Logger  *slog.Logger
}

// Coordinates is a geocoded location.
type Coordinates struct {
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Name    string  `json:"name"`
	Country string  `json:"country,omitempty"`
}

// OpenWeatherClient implements forecasts.Provider against the OpenWeatherMap
// current-weather (for geocoding) and 5-day/3-hour forecast endpoints.
type OpenWeatherClient struct {
	base    *BaseClient
	apiKey  types.SecretString
	baseURL string
	horizon time.Duration
	clock   types.Clock
	logger  *slog.Logger

	coords *otter.Cache[string, Coordinates]
	lists  *otter.Cache[string, []types.ForecastRecord]
}

var (
	_ forecasts.Provider        = (*OpenWeatherClient)(nil)
	_ forecasts.HorizonReporter = (*OpenWeatherClient)(nil)
)

// NewOpenWeatherClient creates a client. The httpClient timeout bounds each
// individual attempt; retries are governed by cfg.Retry.
func NewOpenWeatherClient(httpClient *http.Client, cfg OpenWeatherConfig) *OpenWeatherClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = openWeatherAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	horizon := cfg.Horizon
	if horizon <= 0 {
		horizon = DefaultForecastHorizon
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	policy := cfg.Retry
	if policy == (RetryPolicy{}) {
		policy = DefaultRetryPolicy()
	}

	return &OpenWeatherClient{
		base:    NewBaseClient(httpClient, "openweather", policy, "Fairweather/1.0", WithLogger(logger)),
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		horizon: horizon,
		clock:   clock,
		logger:  logger,
		coords: otter.Must(&otter.Options[string, Coordinates]{
			MaximumSize:      lookupsLimit,
			ExpiryCalculator: otter.ExpiryWriting[string, Coordinates](geocodeTTL),
		}),
		lists: otter.Must(&otter.Options[string, []types.ForecastRecord]{
			MaximumSize:      lookupsLimit,
			ExpiryCalculator: otter.ExpiryWriting[string, []types.ForecastRecord](forecastTTL),
		}),
	}
}

// Horizon reports how far ahead forecasts are available.
func (c *OpenWeatherClient) Horizon() time.Duration { return c.horizon }

// Base exposes the underlying BaseClient, for health checks.
func (c *OpenWeatherClient) Base() *BaseClient { return c.base }

// GetForecast returns the 3-hourly entry closest to when. Times beyond the
// horizon, or before the start of the current UTC day, are not_found_forecast
// without contacting the API.
func (c *OpenWeatherClient) GetForecast(ctx context.Context, location string, when time.Time) (*types.ForecastRecord, error) {
	now := c.clock.Now()
	when = when.UTC()
	startOfToday := now.UTC().Truncate(24 * time.Hour)
	if when.After(now.Add(c.horizon)) || when.Before(startOfToday) {
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeNotFoundForecast,
			"no forecast available for the requested date",
			nil,
			map[string]any{
				"location":     location,
				"date":         when.Format(time.DateOnly),
				"horizon_days": int(c.horizon.Hours() / 24),
			},
		)
	}

	list, err := c.forecastList(ctx, location)
	if err != nil {
		return nil, err
	}

	best, ok := closest(list, when)
	if !ok {
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeNotFoundForecast,
			"no forecast entry near the requested time",
			nil,
			map[string]any{"location": location, "date": when.Format(time.DateOnly)},
		)
	}
	return &best, nil
}

// GetForecastSeries returns every 3-hourly entry within the next days days.
// days is clipped to the horizon.
func (c *OpenWeatherClient) GetForecastSeries(ctx context.Context, location string, days int) ([]types.ForecastRecord, error) {
	if days < 1 {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeValidationWindow, "days must be at least 1", nil,
			map[string]any{"days": days})
	}
	if maxDays := int(c.horizon.Hours() / 24); days > maxDays {
		days = maxDays
	}

	list, err := c.forecastList(ctx, location)
	if err != nil {
		return nil, err
	}

	cutoff := c.clock.Now().Add(time.Duration(days) * 24 * time.Hour)
	out := make([]types.ForecastRecord, 0, len(list))
	for _, rec := range list {
		if rec.Timestamp.After(cutoff) {
			break
		}
		out = append(out, rec)
	}
	return out, nil
}

// Geocode resolves a free-text location to coordinates.
func (c *OpenWeatherClient) Geocode(ctx context.Context, location string) (Coordinates, error) {
	key := forecasts.NormalizeLocation(location)
	if key == "" {
		return Coordinates{}, types.NewAppError(types.ErrCodeValidationInvalidLocation, "location is required", nil)
	}
	if co, ok := c.coords.GetIfPresent(key); ok {
		return co, nil
	}

	q := url.Values{}
	q.Set("q", strings.TrimSpace(location))
	q.Set("units", "metric")

	var payload owmWeatherResponse
	if err := c.getJSON(ctx, "/data/2.5/weather", q, location, &payload); err != nil {
		return Coordinates{}, err
	}

	co := Coordinates{
		Lat:     payload.Coord.Lat,
		Lon:     payload.Coord.Lon,
		Name:    payload.Name,
		Country: payload.Sys.Country,
	}
	c.coords.Set(key, co)
	return co, nil
}

func (c *OpenWeatherClient) forecastList(ctx context.Context, location string) ([]types.ForecastRecord, error) {
	co, err := c.Geocode(ctx, location)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%.4f,%.4f", co.Lat, co.Lon)
	if list, ok := c.lists.GetIfPresent(key); ok {
		return list, nil
	}

	q := url.Values{}
	q.Set("lat", fmt.Sprintf("%f", co.Lat))
	q.Set("lon", fmt.Sprintf("%f", co.Lon))
	q.Set("units", "metric")

	var payload owmForecastResponse
	if err := c.getJSON(ctx, "/data/2.5/forecast", q, location, &payload); err != nil {
		return nil, err
	}

	list := make([]types.ForecastRecord, 0, len(payload.List))
	for _, e := range payload.List {
		list = append(list, e.record())
	}
	c.lists.Set(key, list)

	c.logger.Debug("fetched forecast list",
		"location", location,
		"entries", len(list),
	)
	return list, nil
}

func (c *OpenWeatherClient) getJSON(ctx context.Context, path string, q url.Values, location string, dest any) error {
	q.Set("appid", c.apiKey.Unmask())
	reqURL := c.baseURL + path + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create forecast request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.base.Do(req)
	if err != nil {
		return upstreamError(err, location)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return types.NewAppErrorWithDetails(types.ErrCodeNotFoundLocation,
			fmt.Sprintf("location %q not found", location), nil,
			map[string]any{"location": location})
	case resp.StatusCode == http.StatusUnauthorized:
		return types.NewAppError(types.ErrCodeUpstreamForecast, "forecast provider rejected the API key", nil)
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return types.NewAppErrorWithDetails(types.ErrCodeUpstreamForecast,
			fmt.Sprintf("forecast provider returned %d", resp.StatusCode), nil,
			map[string]any{"location": location, "body": string(body)})
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamForecast, "failed to decode forecast provider response", err)
	}
	return nil
}

// upstreamError narrows BaseClient failures to the provider-level codes.
func upstreamError(err error, location string) error {
	switch types.CodeOf(err) {
	case types.ErrCodeUpstreamRateLimited, types.ErrCodeUpstreamTimeout:
		return err
	}
	return types.NewAppErrorWithDetails(types.ErrCodeUpstreamForecast, "forecast provider unavailable", err,
		map[string]any{"location": location})
}

// closest returns the entry nearest to when, if one lies within maxSlotGap.
func closest(list []types.ForecastRecord, when time.Time) (types.ForecastRecord, bool) {
	var best types.ForecastRecord
	bestGap := time.Duration(-1)
	for _, rec := range list {
		gap := rec.Timestamp.Sub(when).Abs()
		if bestGap < 0 || gap < bestGap {
			best, bestGap = rec, gap
		}
	}
	if bestGap < 0 || bestGap > maxSlotGap {
		return types.ForecastRecord{}, false
	}
	return best, true
}

type owmWeatherResponse struct {
	Coord struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"coord"`
	Name string `json:"name"`
	Sys  struct {
		Country string `json:"country"`
	} `json:"sys"`
}

type owmForecastResponse struct {
	List []owmEntry `json:"list"`
}

type owmEntry struct {
	Dt   int64 `json:"dt"`
	Main struct {
		Temp     *float64 `json:"temp"`
		Humidity *float64 `json:"humidity"`
	} `json:"main"`
	Wind struct {
		Speed *float64 `json:"speed"`
	} `json:"wind"`
	Clouds struct {
		All *float64 `json:"all"`
	} `json:"clouds"`
	Rain *struct {
		ThreeHour float64 `json:"3h"`
	} `json:"rain"`
	Snow *struct {
		ThreeHour float64 `json:"3h"`
	} `json:"snow"`
	Visibility *float64 `json:"visibility"`
	Weather    []struct {
		Description string `json:"description"`
	} `json:"weather"`
}

// record converts an API entry. OpenWeatherMap omits rain and snow when none
// fell, so absent precipitation is reported as zero.
func (e owmEntry) record() types.ForecastRecord {
	var precip float64
	if e.Rain != nil {
		precip += e.Rain.ThreeHour
	}
	if e.Snow != nil {
		precip += e.Snow.ThreeHour
	}
	rec := types.ForecastRecord{
		Temperature:   e.Main.Temp,
		Humidity:      e.Main.Humidity,
		WindSpeed:     e.Wind.Speed,
		CloudCover:    e.Clouds.All,
		Precipitation: types.Float(precip),
		Visibility:    e.Visibility,
		Timestamp:     time.Unix(e.Dt, 0).UTC(),
	}
	if len(e.Weather) > 0 {
		rec.Description = e.Weather[0].Description
	}
	return rec
}
