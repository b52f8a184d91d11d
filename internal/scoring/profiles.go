package scoring

import (
	"encoding/json"
	"fmt"
	"math"

	"fairweather/internal/types"
)

// Rule describes how a single parameter is scored. Values inside
// [IdealMin, IdealMax] score 100; outside, the score decays linearly to 0 over
// Tolerance units of deviation. Neutral is substituted when the forecast does
// not report the parameter and must lie inside the ideal range.
type Rule struct {
	Weight    float64 `json:"weight"`
	IdealMin  float64 `json:"ideal_min"`
	IdealMax  float64 `json:"ideal_max"`
	Tolerance float64 `json:"tolerance"`
	Neutral   float64 `json:"neutral"`
}

// Profile is the immutable scoring configuration for one event type.
type Profile struct {
	eventType types.EventType
	rules     map[types.Parameter]Rule
}

// EventType returns the event type this profile scores.
func (p Profile) EventType() types.EventType { return p.eventType }

// Rule returns the rule for param and whether the profile scores it.
func (p Profile) Rule(param types.Parameter) (Rule, bool) {
	r, ok := p.rules[param]
	return r, ok
}

// Rules returns a copy of the profile's rules.
func (p Profile) Rules() map[types.Parameter]Rule {
	out := make(map[types.Parameter]Rule, len(p.rules))
	for k, v := range p.rules {
		out[k] = v
	}
	return out
}

// TotalWeight returns the sum of all rule weights.
func (p Profile) TotalWeight() float64 {
	var sum float64
	for _, r := range p.rules {
		sum += r.Weight
	}
	return sum
}

// MarshalJSON renders the profile for the event-types listing.
func (p Profile) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		EventType types.EventType          `json:"event_type"`
		Rules     map[types.Parameter]Rule `json:"rules"`
	}{p.eventType, p.rules})
}

const weightEpsilon = 1e-9

func mustProfile(et types.EventType, rules map[types.Parameter]Rule) Profile {
	var sum float64
	for param, r := range rules {
		if r.IdealMin > r.IdealMax {
			panic(fmt.Sprintf("scoring: %s.%s ideal range inverted", et, param))
		}
		if r.Tolerance < 0 {
			panic(fmt.Sprintf("scoring: %s.%s negative tolerance", et, param))
		}
		if r.Neutral < r.IdealMin || r.Neutral > r.IdealMax {
			panic(fmt.Sprintf("scoring: %s.%s neutral value outside ideal range", et, param))
		}
		sum += r.Weight
	}
	if math.Abs(sum-1.0) > weightEpsilon {
		panic(fmt.Sprintf("scoring: %s weights sum to %v", et, sum))
	}
	return Profile{eventType: et, rules: rules}
}

var profiles = map[types.EventType]Profile{
	types.EventTypeOutdoorSports: mustProfile(types.EventTypeOutdoorSports, map[types.Parameter]Rule{
		types.ParamTemperature:   {Weight: 0.30, IdealMin: 18, IdealMax: 25, Tolerance: 10, Neutral: 21.5},
		types.ParamWindSpeed:     {Weight: 0.20, IdealMin: 0, IdealMax: 15, Tolerance: 10, Neutral: 0},
		types.ParamPrecipitation: {Weight: 0.30, IdealMin: 0, IdealMax: 0, Tolerance: 5, Neutral: 0},
		types.ParamCloudCover:    {Weight: 0.10, IdealMin: 0, IdealMax: 30, Tolerance: 40, Neutral: 0},
		types.ParamVisibility:    {Weight: 0.05, IdealMin: 8000, IdealMax: 100000, Tolerance: 5000, Neutral: 10000},
		types.ParamHumidity:      {Weight: 0.05, IdealMin: 30, IdealMax: 70, Tolerance: 30, Neutral: 50},
	}),
	types.EventTypeFormalEvents: mustProfile(types.EventTypeFormalEvents, map[types.Parameter]Rule{
		types.ParamTemperature:   {Weight: 0.30, IdealMin: 20, IdealMax: 24, Tolerance: 8, Neutral: 22},
		types.ParamPrecipitation: {Weight: 0.35, IdealMin: 0, IdealMax: 0, Tolerance: 3, Neutral: 0},
		types.ParamWindSpeed:     {Weight: 0.10, IdealMin: 0, IdealMax: 10, Tolerance: 15, Neutral: 0},
		types.ParamCloudCover:    {Weight: 0.10, IdealMin: 0, IdealMax: 40, Tolerance: 40, Neutral: 0},
		types.ParamHumidity:      {Weight: 0.10, IdealMin: 30, IdealMax: 65, Tolerance: 25, Neutral: 50},
		types.ParamVisibility:    {Weight: 0.05, IdealMin: 5000, IdealMax: 100000, Tolerance: 4000, Neutral: 10000},
	}),
	types.EventTypeHiking: mustProfile(types.EventTypeHiking, map[types.Parameter]Rule{
		types.ParamTemperature:   {Weight: 0.25, IdealMin: 10, IdealMax: 20, Tolerance: 10, Neutral: 15},
		types.ParamWindSpeed:     {Weight: 0.20, IdealMin: 0, IdealMax: 10, Tolerance: 10, Neutral: 0},
		types.ParamPrecipitation: {Weight: 0.25, IdealMin: 0, IdealMax: 0, Tolerance: 4, Neutral: 0},
		types.ParamCloudCover:    {Weight: 0.10, IdealMin: 0, IdealMax: 60, Tolerance: 40, Neutral: 0},
		types.ParamVisibility:    {Weight: 0.15, IdealMin: 10000, IdealMax: 100000, Tolerance: 8000, Neutral: 15000},
		types.ParamHumidity:      {Weight: 0.05, IdealMin: 30, IdealMax: 75, Tolerance: 25, Neutral: 50},
	}),
	types.EventTypeGeneral: mustProfile(types.EventTypeGeneral, map[types.Parameter]Rule{
		types.ParamTemperature:   {Weight: 0.30, IdealMin: 15, IdealMax: 27, Tolerance: 12, Neutral: 21},
		types.ParamWindSpeed:     {Weight: 0.15, IdealMin: 0, IdealMax: 12, Tolerance: 12, Neutral: 0},
		types.ParamPrecipitation: {Weight: 0.30, IdealMin: 0, IdealMax: 0.5, Tolerance: 5, Neutral: 0},
		types.ParamCloudCover:    {Weight: 0.10, IdealMin: 0, IdealMax: 50, Tolerance: 50, Neutral: 0},
		types.ParamVisibility:    {Weight: 0.05, IdealMin: 5000, IdealMax: 100000, Tolerance: 5000, Neutral: 10000},
		types.ParamHumidity:      {Weight: 0.10, IdealMin: 25, IdealMax: 75, Tolerance: 30, Neutral: 50},
	}),
}

// ProfileFor returns the profile for et. Unsupported event types return a
// validation_unknown_event_type AppError.
func ProfileFor(et types.EventType) (Profile, error) {
	p, ok := profiles[et]
	if !ok {
		return Profile{}, types.NewAppErrorWithDetails(
			types.ErrCodeValidationUnknownType,
			fmt.Sprintf("unknown event type %q", et),
			nil,
			map[string]any{"event_type": string(et)},
		)
	}
	return p, nil
}

// Lookup parses a raw event type string and returns its profile.
func Lookup(raw string) (Profile, error) {
	et, err := types.ParseEventType(raw)
	if err != nil {
		return Profile{}, err
	}
	return ProfileFor(et)
}

// Profiles returns every built-in profile in a stable order.
func Profiles() []Profile {
	out := make([]Profile, 0, len(types.EventTypes))
	for _, et := range types.EventTypes {
		out = append(out, profiles[et])
	}
	return out
}
