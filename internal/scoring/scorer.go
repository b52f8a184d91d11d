// Package scoring computes weather suitability scores for event types.
//
// Scoring is pure: the same forecast and profile always produce the same
// result, and no state is shared between calls.
package scoring

import (
	"math"

	"fairweather/internal/types"
)

// Score evaluates forecast against profile. Parameters the forecast does not
// report are scored at the rule's neutral value and flagged as imputed.
func Score(forecast *types.ForecastRecord, profile Profile) types.SuitabilityResult {
	analysis := make(types.WeatherAnalysis, len(profile.rules))
	var total float64

	// Fixed iteration order keeps the floating-point sum reproducible.
	for _, param := range types.AllParameters {
		rule, ok := profile.rules[param]
		if !ok {
			continue
		}
		value := rule.Neutral
		imputed := true
		if v := forecast.Measurement(param); v != nil && !math.IsNaN(*v) {
			value = *v
			imputed = false
		}

		s := ScoreValue(value, rule)
		contribution := s * rule.Weight
		total += contribution

		analysis[param] = types.ParameterScore{
			Value:        value,
			Imputed:      imputed,
			Score:        s,
			Weight:       rule.Weight,
			Contribution: contribution,
		}
	}

	total = clamp(total, 0, 100)
	rounded := int(math.Round(total))

	return types.SuitabilityResult{
		Score:     rounded,
		Raw:       total,
		Condition: types.ConditionFor(rounded),
		Analysis:  analysis,
	}
}

// ScoreValue scores a single value against rule on a 0-100 scale.
func ScoreValue(value float64, rule Rule) float64 {
	var deviation float64
	switch {
	case value < rule.IdealMin:
		deviation = rule.IdealMin - value
	case value > rule.IdealMax:
		deviation = value - rule.IdealMax
	default:
		return 100
	}
	if rule.Tolerance <= 0 {
		return 0
	}
	return clamp(100*(1-deviation/rule.Tolerance), 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
