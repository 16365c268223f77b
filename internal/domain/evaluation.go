package domain

import (
	"time"
)

// RiskFactor is one weighted input to the raw risk score.
type RiskFactor struct {
	Name   string  `json:"name" validate:"required"`
	Value  float64 `json:"value"`  // 0 to 100
	Weight float64 `json:"weight"` // 0.0 to 1.0
}

// Evidence is everything known about a subject at evaluation time.
// Attributes are exposed to rule expressions as the `evidence` map.
type Evidence struct {
	SubjectID  string         `json:"subjectId"`
	Factors    []RiskFactor   `json:"factors"`
	Category   RuleCategory   `json:"category,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// FactorValues returns factor values keyed by name. Later duplicates win.
func (e *Evidence) FactorValues() map[string]float64 {
	out := make(map[string]float64, len(e.Factors))
	for _, f := range e.Factors {
		out[f.Name] = f.Value
	}
	return out
}

// RiskLevel is the band a final score falls into.
type RiskLevel string

const (
	LevelMinimal RiskLevel = "minimal"
	LevelLow     RiskLevel = "low"
	LevelMedium  RiskLevel = "medium"
	LevelHigh    RiskLevel = "high"
)

// LevelForScore maps a score in [0,100] to its level.
// Bands are lower-inclusive: 25 is low, 75 is high.
func LevelForScore(score float64) RiskLevel {
	switch {
	case score < 25:
		return LevelMinimal
	case score < 50:
		return LevelLow
	case score < 75:
		return LevelMedium
	default:
		return LevelHigh
	}
}

// ClampScore bounds a score to [0,100].
func ClampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// RiskAssessmentResult is one immutable evaluation outcome.
type RiskAssessmentResult struct {
	ID           string      `json:"id"`
	SubjectID    string      `json:"subjectId"`
	RawScore     float64     `json:"rawScore"`
	Score        float64     `json:"score"`
	Level        RiskLevel   `json:"level"`
	MatchedRules []RuleMatch `json:"matchedRules"`
	EvaluatedAt  time.Time   `json:"evaluatedAt"`
}

// CategoryContributions sums contributed scores per rule category.
func (r *RiskAssessmentResult) CategoryContributions() map[RuleCategory]int {
	out := make(map[RuleCategory]int)
	for _, m := range r.MatchedRules {
		out[m.Category] += m.ContributedScore
	}
	return out
}
