package types

import (
	"fmt"
	"time"
)

// Parameter names a weather measurement that a profile can score.
type Parameter string

const (
	ParamTemperature   Parameter = "temperature"
	ParamHumidity      Parameter = "humidity"
	ParamWindSpeed     Parameter = "wind_speed"
	ParamCloudCover    Parameter = "cloud_cover"
	ParamPrecipitation Parameter = "precipitation"
	ParamVisibility    Parameter = "visibility"
)

// AllParameters lists every scoreable parameter in display order.
var AllParameters = []Parameter{
	ParamTemperature,
	ParamHumidity,
	ParamWindSpeed,
	ParamCloudCover,
	ParamPrecipitation,
	ParamVisibility,
}

// EventType identifies the kind of event being planned. The set is closed;
// each value has exactly one scoring profile.
type EventType string

const (
	EventTypeOutdoorSports EventType = "outdoor_sports"
	EventTypeFormalEvents  EventType = "formal_events"
	EventTypeHiking        EventType = "hiking"
	EventTypeGeneral       EventType = "general"
)

// EventTypes lists the supported event types in a stable order.
var EventTypes = []EventType{
	EventTypeOutdoorSports,
	EventTypeFormalEvents,
	EventTypeHiking,
	EventTypeGeneral,
}

// ParseEventType converts a raw string into a known EventType.
// Unknown values return a validation_unknown_event_type AppError.
func ParseEventType(s string) (EventType, error) {
	for _, et := range EventTypes {
		if string(et) == s {
			return et, nil
		}
	}
	return "", NewAppErrorWithDetails(
		ErrCodeValidationUnknownType,
		fmt.Sprintf("unknown event type %q", s),
		nil,
		map[string]any{"event_type": s},
	)
}

// ForecastRecord is a single forecast observation for a location and time.
// Measurement fields are nil when the provider did not report them.
type ForecastRecord struct {
	Temperature   *float64  `json:"temperature,omitempty"`    // Celsius
	Humidity      *float64  `json:"humidity,omitempty"`       // percent
	WindSpeed     *float64  `json:"wind_speed,omitempty"`     // m/s
	CloudCover    *float64  `json:"cloud_cover,omitempty"`    // percent
	Precipitation *float64  `json:"precipitation,omitempty"`  // mm
	Visibility    *float64  `json:"visibility,omitempty"`     // meters
	Description   string    `json:"description,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Measurement returns the reported value for p, or nil if absent.
func (f *ForecastRecord) Measurement(p Parameter) *float64 {
	if f == nil {
		return nil
	}
	switch p {
	case ParamTemperature:
		return f.Temperature
	case ParamHumidity:
		return f.Humidity
	case ParamWindSpeed:
		return f.WindSpeed
	case ParamCloudCover:
		return f.CloudCover
	case ParamPrecipitation:
		return f.Precipitation
	case ParamVisibility:
		return f.Visibility
	}
	return nil
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Event is a planned event whose weather suitability is tracked.
// Score is nil when no forecast could be obtained for the event date.
type Event struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Location    string          `json:"location"`
	Date        time.Time       `json:"date"`
	EventType   EventType       `json:"event_type"`
	Description string          `json:"description,omitempty"`
	Forecast    *ForecastRecord `json:"forecast,omitempty"`
	Score       *int            `json:"score"`
	Condition   Condition       `json:"condition"`
	Analysis    WeatherAnalysis `json:"analysis,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// ApplyResult records a scoring outcome on the event. A nil result clears
// the forecast and marks the condition unknown.
func (e *Event) ApplyResult(f *ForecastRecord, r *SuitabilityResult) {
	if f == nil || r == nil {
		e.Forecast = nil
		e.Score = nil
		e.Condition = ConditionUnknown
		e.Analysis = nil
		return
	}
	score := r.Score
	e.Forecast = f
	e.Score = &score
	e.Condition = r.Condition
	e.Analysis = r.Analysis
}

// EventFilter narrows event listings. Zero values mean unbounded.
type EventFilter struct {
	From  time.Time
	To    time.Time
	Limit int
}

// Matches reports whether e falls inside the filter's date range.
func (f EventFilter) Matches(e *Event) bool {
	if !f.From.IsZero() && e.Date.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Date.After(f.To) {
		return false
	}
	return true
}

// EventTimeOfDay is the hour used when an event date is given without a time.
const EventTimeOfDay = 12

// ParseDate accepts an RFC 3339 timestamp or a YYYY-MM-DD date. Date-only
// values resolve to midday UTC, the slot forecasts are matched against.
func ParseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t.Add(EventTimeOfDay * time.Hour), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, NewAppErrorWithDetails(
			ErrCodeValidationInvalidDate,
			"date must be YYYY-MM-DD or RFC 3339",
			err,
			map[string]any{"date": s},
		)
	}
	return t.UTC(), nil
}
