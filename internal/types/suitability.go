package types

// Condition is the human-readable label for a suitability score.
type Condition string

const (
	ConditionExcellent Condition = "excellent"
	ConditionGood      Condition = "good"
	ConditionFair      Condition = "fair"
	ConditionPoor      Condition = "poor"
	ConditionUnknown   Condition = "unknown"
)

// ConditionFor maps a rounded 0-100 score to its label.
func ConditionFor(score int) Condition {
	switch {
	case score >= 80:
		return ConditionExcellent
	case score >= 60:
		return ConditionGood
	case score >= 40:
		return ConditionFair
	default:
		return ConditionPoor
	}
}

// ParameterScore is the per-parameter breakdown of a suitability score.
// Imputed is set when the forecast lacked the value and the profile's
// neutral value was used instead.
type ParameterScore struct {
	Value        float64 `json:"value"`
	Imputed      bool    `json:"imputed,omitempty"`
	Score        float64 `json:"score"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
}

// WeatherAnalysis maps each scored parameter to its breakdown.
type WeatherAnalysis map[Parameter]ParameterScore

// SuitabilityResult is the outcome of scoring a forecast against a profile.
// Raw is the unrounded weighted sum used for ranking and comparisons.
type SuitabilityResult struct {
	Score     int             `json:"score"`
	Raw       float64         `json:"raw_score"`
	Condition Condition       `json:"condition"`
	Analysis  WeatherAnalysis `json:"analysis"`
}
