// Package forecasts defines the forecast provider contract used by the
// scoring pipeline and a caching decorator for it.
package forecasts

import (
	"context"
	"time"

	"fairweather/internal/types"
)

// Provider returns weather forecasts for a free-text location.
//
// GetForecast returns a not_found_location AppError when the location cannot
// be resolved and not_found_forecast when no forecast exists for the
// requested time (for example, beyond the provider's horizon). Transport or
// upstream failures are reported as upstream_* codes.
type Provider interface {
	GetForecast(ctx context.Context, location string, when time.Time) (*types.ForecastRecord, error)
	GetForecastSeries(ctx context.Context, location string, days int) ([]types.ForecastRecord, error)
}

// HorizonReporter is implemented by providers with a fixed forecast horizon.
// Callers may use it to avoid requesting dates that can never succeed.
type HorizonReporter interface {
	Horizon() time.Duration
}

// HorizonOf returns the provider's horizon, or zero if it does not report one.
func HorizonOf(p Provider) time.Duration {
	if h, ok := p.(HorizonReporter); ok {
		return h.Horizon()
	}
	return 0
}
