package handlers

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"fairweather/internal/core"
	"fairweather/internal/forecasts"
	"fairweather/internal/scoring"
	"fairweather/internal/types"
)

const (
	defaultSeriesDays = 5
	maxSeriesDays     = 16
)

// ForecastScore is the response of GET /v1/weather/{location}/{date}.
type ForecastScore struct {
	Location  string                  `json:"location"`
	Date      time.Time               `json:"date"`
	EventType types.EventType         `json:"event_type"`
	Forecast  *types.ForecastRecord   `json:"forecast"`
	Result    types.SuitabilityResult `json:"result"`
}

// WeatherHandler serves ad-hoc forecast lookups that are not tied to a
// stored event.
type WeatherHandler struct {
	provider forecasts.Provider
	logger   *slog.Logger
}

// NewWeatherHandler creates a WeatherHandler.
func NewWeatherHandler(provider forecasts.Provider, logger *slog.Logger) *WeatherHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WeatherHandler{provider: provider, logger: logger}
}

// RegisterRoutes mounts the weather endpoints. The static series segment
// takes precedence over the date parameter.
func (h *WeatherHandler) RegisterRoutes(r chi.Router) {
	r.Get("/{location}/series", h.HandleSeries)
	r.Get("/{location}/{date}", h.HandleForecast)
}

// HandleForecast handles GET /v1/weather/{location}/{date}?event_type=.
func (h *WeatherHandler) HandleForecast(w http.ResponseWriter, r *http.Request) {
	location, err := locationParam(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	date, err := types.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	raw := r.URL.Query().Get("event_type")
	if raw == "" {
		raw = string(types.EventTypeGeneral)
	}
	profile, err := scoring.Lookup(raw)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	f, err := h.provider.GetForecast(r.Context(), location, date)
	if err != nil {
		logFailure(h.logger, r, "get forecast", err)
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, ForecastScore{
		Location:  location,
		Date:      date,
		EventType: profile.EventType(),
		Forecast:  f,
		Result:    scoring.Score(f, profile),
	})
}

// HandleSeries handles GET /v1/weather/{location}/series?days=.
func (h *WeatherHandler) HandleSeries(w http.ResponseWriter, r *http.Request) {
	location, err := locationParam(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	days, err := intParam(r.URL.Query().Get("days"), defaultSeriesDays, 1, maxSeriesDays, "days", types.ErrCodeValidationFailed)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	series, err := h.provider.GetForecastSeries(r.Context(), location, days)
	if err != nil {
		logFailure(h.logger, r, "get forecast series", err)
		core.Error(w, r, err)
		return
	}
	core.List(w, r, series)
}

// HandleEventTypes handles GET /v1/event-types.
func HandleEventTypes(w http.ResponseWriter, r *http.Request) {
	core.List(w, r, scoring.Profiles())
}

func locationParam(r *http.Request) (string, error) {
	raw := chi.URLParam(r, "location")
	loc, err := url.PathUnescape(raw)
	if err != nil {
		loc = raw
	}
	loc = strings.TrimSpace(loc)
	if loc == "" {
		return "", types.NewAppError(types.ErrCodeValidationInvalidLocation, "location is required", nil)
	}
	return loc, nil
}
