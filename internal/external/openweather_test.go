package external

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fairweather/internal/types"
)

var owmNow = time.Date(2026, 10, 20, 9, 0, 0, 0, time.UTC)

type owmFake struct {
	server        *httptest.Server
	weatherCalls  atomic.Int32
	forecastCalls atomic.Int32
	forecastCode  int
}

func newOWMFake(t *testing.T) *owmFake {
	t.Helper()
	f := &owmFake{forecastCode: http.StatusOK}
	mux := http.NewServeMux()
	mux.HandleFunc("/data/2.5/weather", func(w http.ResponseWriter, r *http.Request) {
		f.weatherCalls.Add(1)
		assert.Equal(t, "test-key", r.URL.Query().Get("appid"))
		if r.URL.Query().Get("q") != "Paris" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"cod":"404","message":"city not found"}`))
			return
		}
		_, _ = w.Write([]byte(`{"coord":{"lon":2.35,"lat":48.85},"name":"Paris","sys":{"country":"FR"}}`))
	})
	mux.HandleFunc("/data/2.5/forecast", func(w http.ResponseWriter, r *http.Request) {
		f.forecastCalls.Add(1)
		assert.Equal(t, "metric", r.URL.Query().Get("units"))
		if f.forecastCode != http.StatusOK {
			w.WriteHeader(f.forecastCode)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"list": forecastEntries()})
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

// forecastEntries builds 40 3-hourly entries starting at owmNow. Entries
// at 12:00 carry rain; others omit the rain and visibility blocks.
func forecastEntries() []map[string]any {
	entries := make([]map[string]any, 0, 40)
	for i := 0; i < 40; i++ {
		ts := owmNow.Add(time.Duration(i) * 3 * time.Hour)
		e := map[string]any{
			"dt":      ts.Unix(),
			"main":    map[string]any{"temp": 15.0 + float64(i%8), "humidity": 60},
			"wind":    map[string]any{"speed": 4.5},
			"clouds":  map[string]any{"all": 20},
			"weather": []map[string]any{{"description": "scattered clouds"}},
		}
		if ts.Hour() == 12 {
			e["rain"] = map[string]any{"3h": 1.5}
			e["visibility"] = 10000
		}
		entries = append(entries, e)
	}
	return entries
}

func newOWMClient(f *owmFake) *OpenWeatherClient {
	return NewOpenWeatherClient(&http.Client{Timeout: 2 * time.Second}, OpenWeatherConfig{
		APIKey:  "test-key",
		BaseURL: f.server.URL,
		Clock:   types.FixedClock(owmNow),
		Retry:   fastPolicy(1),
	})
}

func TestOpenWeather_GetForecastPicksClosestEntry(t *testing.T) {
	f := newOWMFake(t)
	c := newOWMClient(f)

	want := time.Date(2026, 10, 21, 12, 0, 0, 0, time.UTC)
	rec, err := c.GetForecast(context.Background(), "Paris", want)
	require.NoError(t, err)

	assert.True(t, rec.Timestamp.Equal(want))
	require.NotNil(t, rec.Precipitation)
	assert.Equal(t, 1.5, *rec.Precipitation)
	require.NotNil(t, rec.Visibility)
	assert.Equal(t, 10000.0, *rec.Visibility)
	assert.Equal(t, 60.0, *rec.Humidity)
	assert.Equal(t, "scattered clouds", rec.Description)
}

func TestOpenWeather_MissingRainIsZeroAndVisibilityNil(t *testing.T) {
	f := newOWMFake(t)
	c := newOWMClient(f)

	rec, err := c.GetForecast(context.Background(), "Paris", time.Date(2026, 10, 21, 15, 10, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 15, rec.Timestamp.Hour())
	require.NotNil(t, rec.Precipitation)
	assert.Equal(t, 0.0, *rec.Precipitation)
	assert.Nil(t, rec.Visibility)
}

func TestOpenWeather_BeyondHorizonIsForecastUnavailable(t *testing.T) {
	f := newOWMFake(t)
	c := newOWMClient(f)

	_, err := c.GetForecast(context.Background(), "Paris", owmNow.AddDate(0, 0, 20))
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeNotFoundForecast, types.CodeOf(err))
	assert.Equal(t, int32(0), f.weatherCalls.Load()+f.forecastCalls.Load())
	assert.Equal(t, 5*24*time.Hour, c.Horizon())
}

func TestOpenWeather_PastDateIsForecastUnavailable(t *testing.T) {
	c := newOWMClient(newOWMFake(t))

	_, err := c.GetForecast(context.Background(), "Paris", owmNow.AddDate(0, 0, -2))
	assert.Equal(t, types.ErrCodeNotFoundForecast, types.CodeOf(err))
}

func TestOpenWeather_UnknownLocation(t *testing.T) {
	c := newOWMClient(newOWMFake(t))

	_, err := c.GetForecast(context.Background(), "Atlantis", owmNow.Add(24*time.Hour))
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeNotFoundLocation, types.CodeOf(err))
}

func TestOpenWeather_CachesGeocodeAndList(t *testing.T) {
	f := newOWMFake(t)
	c := newOWMClient(f)

	for d := 1; d <= 4; d++ {
		_, err := c.GetForecast(context.Background(), "Paris", owmNow.AddDate(0, 0, d))
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), f.weatherCalls.Load())
	assert.Equal(t, int32(1), f.forecastCalls.Load())
}

func TestOpenWeather_SeriesClipsToHorizon(t *testing.T) {
	c := newOWMClient(newOWMFake(t))

	two, err := c.GetForecastSeries(context.Background(), "Paris", 2)
	require.NoError(t, err)
	assert.Len(t, two, 17)

	all, err := c.GetForecastSeries(context.Background(), "Paris", 30)
	require.NoError(t, err)
	assert.Len(t, all, 40)

	_, err = c.GetForecastSeries(context.Background(), "Paris", 0)
	assert.Equal(t, types.ErrCodeValidationWindow, types.CodeOf(err))
}

func TestOpenWeather_UnauthorizedMapsToUpstream(t *testing.T) {
	f := newOWMFake(t)
	f.forecastCode = http.StatusUnauthorized
	c := newOWMClient(f)

	_, err := c.GetForecast(context.Background(), "Paris", owmNow.Add(24*time.Hour))
	assert.Equal(t, types.ErrCodeUpstreamForecast, types.CodeOf(err))
}

func TestOpenWeather_ServerErrorsMapToUpstreamForecast(t *testing.T) {
	f := newOWMFake(t)
	f.forecastCode = http.StatusServiceUnavailable
	c := newOWMClient(f)

	_, err := c.GetForecast(context.Background(), "Paris", owmNow.Add(24*time.Hour))
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeUpstreamForecast, types.CodeOf(err))
	assert.Equal(t, int32(2), f.forecastCalls.Load())
}

func TestClosestRejectsDistantEntries(t *testing.T) {
	list := []types.ForecastRecord{{Timestamp: owmNow}}
	_, ok := closest(list, owmNow.Add(4*time.Hour))
	assert.False(t, ok)
	_, ok = closest(nil, owmNow)
	assert.False(t, ok)
}
