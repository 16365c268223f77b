// Package risk turns subject evidence into a scored, leveled assessment.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/metrics"
	"github.com/opensource-finance/heron/internal/rules"
)

// RuleSource supplies rules in a stable order.
type RuleSource interface {
	GetRules(category domain.RuleCategory) []domain.Rule
}

// Evaluator scores evidence against a rule source. It holds no mutable state.
type Evaluator struct {
	rules RuleSource
	now   func() time.Time
}

// NewEvaluator creates an evaluator over rules.
func NewEvaluator(rules RuleSource) *Evaluator {
	return &Evaluator{
		rules: rules,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// WithClock returns a copy of the evaluator that stamps results with now.
func (e *Evaluator) WithClock(now func() time.Time) *Evaluator {
	c := *e
	c.now = now
	return &c
}

// Evaluate scores evidence.
//
// The raw score is the weight-normalised mean of the factor values. Every
// enabled rule in scope whose trigger is satisfied adds its risk score on top.
// Rules without a trigger never match. A failing trigger fails the evaluation.
func (e *Evaluator) Evaluate(ctx context.Context, ev *domain.Evidence, triggers rules.Triggers) (*domain.RiskAssessmentResult, error) {
	if ev == nil {
		return nil, fmt.Errorf("%w: evidence is required", domain.ErrInvalidEvidence)
	}
	if err := ValidateFactors(ev.Factors); err != nil {
		return nil, err
	}

	raw := WeightedScore(ev.Factors)
	now := e.now()

	result := &domain.RiskAssessmentResult{
		SubjectID:    ev.SubjectID,
		RawScore:     raw,
		MatchedRules: []domain.RuleMatch{},
		EvaluatedAt:  now,
	}

	total := raw
	for _, rule := range e.rules.GetRules(ev.Category) {
		if !rule.Enabled {
			continue
		}
		trigger, ok := triggers[rule.RuleID]
		if !ok || trigger == nil {
			continue
		}

		matched, err := trigger(ctx, ev)
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate rule %s: %w", rule.RuleID, err)
		}
		if !matched {
			continue
		}

		result.MatchedRules = append(result.MatchedRules, domain.RuleMatch{
			RuleID:           rule.RuleID,
			RuleName:         rule.RuleName,
			Category:         rule.Category,
			MatchedAt:        now,
			ContributedScore: rule.RiskScore,
		})
		total += float64(rule.RiskScore)
	}

	result.Score = domain.ClampScore(total)
	result.Level = domain.LevelForScore(result.Score)
	return result, nil
}

// ValidateFactors rejects negative weights and values outside [0,100].
func ValidateFactors(factors []domain.RiskFactor) error {
	for _, f := range factors {
		if math.IsNaN(f.Weight) || math.IsInf(f.Weight, 0) || f.Weight < 0 {
			return fmt.Errorf("%w: factor %q has invalid weight %v", domain.ErrInvalidEvidence, f.Name, f.Weight)
		}
		if math.IsNaN(f.Value) || f.Value < 0 || f.Value > 100 {
			return fmt.Errorf("%w: factor %q value %v outside [0,100]", domain.ErrInvalidEvidence, f.Name, f.Value)
		}
	}
	return nil
}

// WeightedScore computes Σ(value·weight)/Σ(weight), clamped to [0,100].
// It is 0 when there are no factors or every weight is 0.
func WeightedScore(factors []domain.RiskFactor) float64 {
	var sum, weights float64
	for _, f := range factors {
		sum += f.Value * f.Weight
		weights += f.Weight
	}
	if weights == 0 {
		return 0
	}
	return domain.ClampScore(sum / weights)
}

// Service evaluates evidence and keeps the assessment history.
type Service struct {
	evaluator *Evaluator
	repo      domain.Repository
	audit     domain.AuditLogger
	metrics   *metrics.Metrics
}

// NewService creates an assessment service.
func NewService(evaluator *Evaluator, repo domain.Repository, audit domain.AuditLogger, m *metrics.Metrics) *Service {
	return &Service{
		evaluator: evaluator,
		repo:      repo,
		audit:     audit,
		metrics:   m,
	}
}

// Assess evaluates evidence and appends the result to the subject's history.
func (s *Service) Assess(ctx context.Context, ev *domain.Evidence, triggers rules.Triggers, actor domain.Actor) (*domain.RiskAssessmentResult, error) {
	result, err := s.evaluator.Evaluate(ctx, ev, triggers)
	if err != nil {
		return nil, err
	}
	result.ID = uuid.New().String()

	if err := s.repo.SaveAssessment(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to save assessment: %w", err)
	}

	s.metrics.AssessmentRecorded(string(result.Level))

	matched := make([]string, len(result.MatchedRules))
	for i, m := range result.MatchedRules {
		matched[i] = m.RuleID
	}
	s.audit.Record(ctx, domain.AuditEntry{
		ActorID:    actor.ID,
		Action:     "assess",
		EntityType: domain.EntityAssessment,
		EntityID:   result.ID,
		SubjectID:  result.SubjectID,
		Details: map[string]any{
			"score":        result.Score,
			"level":        result.Level,
			"matchedRules": matched,
		},
	})

	slog.Debug("assessment recorded",
		"assessment_id", result.ID,
		"subject_id", result.SubjectID,
		"score", result.Score,
		"level", result.Level,
		"matched_rules", len(result.MatchedRules),
	)

	return result, nil
}

// History returns the subject's assessments, newest first.
func (s *Service) History(ctx context.Context, subjectID string) ([]*domain.RiskAssessmentResult, error) {
	return s.repo.ListAssessmentsBySubject(ctx, subjectID)
}
