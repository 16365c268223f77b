// Package cases implements the compliance case lifecycle.
package cases

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/metrics"
)

// Legal status targets per current status. Reopening a resolved case
// (resolved -> under_review) additionally needs a privileged actor.
var transitions = map[domain.CaseStatus][]domain.CaseStatus{
	domain.CaseOpen:        {domain.CaseUnderReview, domain.CaseEscalated, domain.CaseResolved, domain.CaseClosed},
	domain.CaseUnderReview: {domain.CaseEscalated, domain.CaseResolved, domain.CaseClosed},
	domain.CaseEscalated:   {domain.CaseUnderReview, domain.CaseResolved, domain.CaseClosed},
	domain.CaseResolved:    {domain.CaseClosed, domain.CaseUnderReview},
	domain.CaseClosed:      {},
}

// Audit actions.
const (
	ActionCreate     = "create"
	ActionTransition = "transition"
	ActionAssign     = "assign"
)

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to domain.CaseStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Targets returns the statuses the actor may move a case in from to.
func Targets(from domain.CaseStatus, actor domain.Actor) []domain.CaseStatus {
	out := []domain.CaseStatus{}
	for _, s := range transitions[from] {
		if isReopen(from, s) && !actor.CanReopen() {
			continue
		}
		out = append(out, s)
	}
	return out
}

func isReopen(from, to domain.CaseStatus) bool {
	return from == domain.CaseResolved && to == domain.CaseUnderReview
}

func validStatus(s domain.CaseStatus) bool {
	_, ok := transitions[s]
	return ok
}

// Workflow drives case creation and status changes.
type Workflow struct {
	repo    domain.Repository
	audit   domain.AuditLogger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewWorkflow creates a case workflow.
func NewWorkflow(repo domain.Repository, audit domain.AuditLogger, m *metrics.Metrics) *Workflow {
	return &Workflow{
		repo:    repo,
		audit:   audit,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock returns a copy of the workflow using now for timestamps.
func (w *Workflow) WithClock(now func() time.Time) *Workflow {
	c := *w
	c.now = now
	return &c
}

// Get returns a case by id.
func (w *Workflow) Get(ctx context.Context, id string) (*domain.ComplianceCase, error) {
	return w.repo.GetCase(ctx, id)
}

// Create opens a case by hand for a registered subject.
func (w *Workflow) Create(ctx context.Context, req domain.CaseRequest, actor domain.Actor) (*domain.ComplianceCase, error) {
	switch req.Type {
	case domain.CaseKYC, domain.CaseAML, domain.CaseSanctions:
	default:
		return nil, fmt.Errorf("%w: unknown case type %q", domain.ErrInvalidInput, req.Type)
	}
	if strings.TrimSpace(req.Description) == "" {
		return nil, fmt.Errorf("%w: description is required", domain.ErrInvalidInput)
	}
	if req.RiskScore < 0 || req.RiskScore > 100 {
		return nil, fmt.Errorf("%w: risk score %v outside [0,100]", domain.ErrInvalidInput, req.RiskScore)
	}

	subject, err := w.repo.GetSubject(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	priority := req.Priority
	if priority == "" {
		priority = domain.PriorityForScore(req.RiskScore)
	}
	name := req.UserName
	if name == "" {
		name = subject.Name
	}

	now := w.now()
	c := &domain.ComplianceCase{
		ID:          uuid.New().String(),
		Type:        req.Type,
		Status:      domain.CaseOpen,
		Priority:    priority,
		RiskScore:   req.RiskScore,
		UserID:      subject.ID,
		UserName:    name,
		Description: req.Description,
		Source:      domain.SourceManual,
		AssignedTo:  req.AssignedTo,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := w.repo.CreateCase(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to create case: %w", err)
	}

	w.Created(ctx, c, actor)
	return c, nil
}

// CreateFromAlert opens an AML case for an escalated alert using repo, so
// the caller can run it inside its own store transaction. It does not write
// the audit log; the caller calls Created once its transaction commits.
func (w *Workflow) CreateFromAlert(ctx context.Context, repo domain.Repository, alert *domain.TransactionAlert, actor domain.Actor) (*domain.ComplianceCase, error) {
	tx, err := repo.GetTransaction(ctx, alert.TransactionID)
	if err != nil {
		return nil, err
	}

	now := w.now()
	c := &domain.ComplianceCase{
		ID:        uuid.New().String(),
		Type:      domain.CaseAML,
		Status:    domain.CaseOpen,
		Priority:  domain.PriorityForScore(tx.RiskScore),
		RiskScore: tx.RiskScore,
		UserID:    alert.UserID,
		UserName:  alert.UserName,
		Description: fmt.Sprintf("Escalated from alert %s on transaction %s (%s %s via %s)",
			alert.ID, tx.ID, tx.SenderAmount.StringFixed(2), tx.SenderCurrency, tx.Method),
		Source:    domain.SourceAlert,
		SourceID:  alert.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if alert.Description != "" {
		c.Description += ": " + alert.Description
	}

	if err := repo.CreateCase(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to create case: %w", err)
	}
	return c, nil
}

// CreateFromAssessment opens a case for a stored assessment of subjectID.
func (w *Workflow) CreateFromAssessment(ctx context.Context, subjectID, assessmentID string, actor domain.Actor) (*domain.ComplianceCase, error) {
	subject, err := w.repo.GetSubject(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	history, err := w.repo.ListAssessmentsBySubject(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assessments: %w", err)
	}
	var result *domain.RiskAssessmentResult
	for _, a := range history {
		if a.ID == assessmentID {
			result = a
			break
		}
	}
	if result == nil {
		return nil, fmt.Errorf("%w: assessment %s for subject %s", domain.ErrNotFound, assessmentID, subjectID)
	}

	c := FromAssessment(result, subject, w.now())
	if err := w.repo.CreateCase(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to create case: %w", err)
	}

	w.Created(ctx, c, actor)
	return c, nil
}

// FromAssessment builds an open case from an assessment result.
func FromAssessment(result *domain.RiskAssessmentResult, subject *domain.Subject, now time.Time) *domain.ComplianceCase {
	names := make([]string, len(result.MatchedRules))
	for i, m := range result.MatchedRules {
		names[i] = m.RuleID
	}
	matched := "no rules matched"
	if len(names) > 0 {
		matched = "matched rules: " + strings.Join(names, ", ")
	}

	return &domain.ComplianceCase{
		ID:          uuid.New().String(),
		Type:        TypeForAssessment(result, subject),
		Status:      domain.CaseOpen,
		Priority:    domain.PriorityForScore(result.Score),
		RiskScore:   result.Score,
		UserID:      subject.ID,
		UserName:    subject.Name,
		Description: fmt.Sprintf("Risk assessment scored %.1f (%s); %s", result.Score, result.Level, matched),
		Source:      domain.SourceAssessment,
		SourceID:    result.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// categoryOrder breaks ties between equally weighted categories.
var categoryOrder = []domain.RuleCategory{
	domain.CategoryTransaction,
	domain.CategoryBehavioral,
	domain.CategoryKYC,
}

// TypeForAssessment picks the case type for an assessment. Sanctioned
// subjects always get a sanctions case. Otherwise the category with the
// largest summed contribution decides: kyc gives a kyc case, anything else
// an aml case.
func TypeForAssessment(result *domain.RiskAssessmentResult, subject *domain.Subject) domain.CaseType {
	if subject != nil && subject.IsSanctioned {
		return domain.CaseSanctions
	}

	contributions := result.CategoryContributions()
	best, bestScore := domain.RuleCategory(""), -1
	for _, cat := range categoryOrder {
		score, ok := contributions[cat]
		if ok && score > bestScore {
			best, bestScore = cat, score
		}
	}

	if best == domain.CategoryKYC {
		return domain.CaseKYC
	}
	return domain.CaseAML
}

// Transition moves a case to target. Moving to the current status is a
// no-op that writes nothing.
func (w *Workflow) Transition(ctx context.Context, id string, target domain.CaseStatus, actor domain.Actor) (*domain.ComplianceCase, error) {
	if !validStatus(target) {
		return nil, fmt.Errorf("%w: unknown case status %q", domain.ErrInvalidInput, target)
	}

	c, err := w.repo.GetCase(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status == target {
		return c, nil
	}

	from := c.Status
	action := "to_" + string(target)

	if err := w.checkTransition(c, target, actor); err != nil {
		w.metrics.TransitionResult(domain.EntityCase, action, err)
		return nil, err
	}

	now := w.now()
	c.Status = target
	c.UpdatedAt = now
	if (target == domain.CaseResolved || target == domain.CaseClosed) && c.ResolvedAt == nil {
		c.ResolvedAt = &now
	}

	err = w.repo.UpdateCase(ctx, c)
	w.metrics.TransitionResult(domain.EntityCase, action, err)
	if err != nil {
		return nil, err
	}

	w.audit.Record(ctx, domain.AuditEntry{
		ActorID:    actor.ID,
		Action:     ActionTransition,
		EntityType: domain.EntityCase,
		EntityID:   c.ID,
		SubjectID:  c.UserID,
		Details:    map[string]any{"from": from, "to": target},
	})

	slog.Info("case transitioned",
		"case_id", c.ID,
		"from", from,
		"to", target,
		"actor_id", actor.ID,
	)
	return c, nil
}

func (w *Workflow) checkTransition(c *domain.ComplianceCase, target domain.CaseStatus, actor domain.Actor) error {
	action := "to_" + string(target)
	if !CanTransition(c.Status, target) {
		reason := ""
		if c.Status == domain.CaseClosed {
			reason = "closed cases are final"
		}
		return domain.NewTransitionError(domain.EntityCase, c.ID, string(c.Status), action, reason)
	}
	if isReopen(c.Status, target) && !actor.CanReopen() {
		return domain.NewTransitionError(domain.EntityCase, c.ID, string(c.Status), action,
			"reopening a resolved case requires an officer or admin")
	}
	return nil
}

// Assign sets the investigator of an open case.
func (w *Workflow) Assign(ctx context.Context, id, assignee string, actor domain.Actor) (*domain.ComplianceCase, error) {
	assignee = strings.TrimSpace(assignee)
	if assignee == "" {
		return nil, fmt.Errorf("%w: assignee is required", domain.ErrInvalidInput)
	}

	c, err := w.repo.GetCase(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status == domain.CaseClosed {
		err := domain.NewTransitionError(domain.EntityCase, c.ID, string(c.Status), ActionAssign, "closed cases are final")
		w.metrics.TransitionResult(domain.EntityCase, ActionAssign, err)
		return nil, err
	}

	previous := c.AssignedTo
	c.AssignedTo = assignee
	c.UpdatedAt = w.now()

	err = w.repo.UpdateCase(ctx, c)
	w.metrics.TransitionResult(domain.EntityCase, ActionAssign, err)
	if err != nil {
		return nil, err
	}

	w.audit.Record(ctx, domain.AuditEntry{
		ActorID:    actor.ID,
		Action:     ActionAssign,
		EntityType: domain.EntityCase,
		EntityID:   c.ID,
		SubjectID:  c.UserID,
		Details:    map[string]any{"from": previous, "to": assignee},
	})
	return c, nil
}

// Created writes the audit entry and metric for a new case.
func (w *Workflow) Created(ctx context.Context, c *domain.ComplianceCase, actor domain.Actor) {
	w.metrics.Transition(domain.EntityCase, ActionCreate, metrics.OutcomeAccepted)
	w.audit.Record(ctx, domain.AuditEntry{
		ActorID:    actor.ID,
		Action:     ActionCreate,
		EntityType: domain.EntityCase,
		EntityID:   c.ID,
		SubjectID:  c.UserID,
		Details: map[string]any{
			"type":     c.Type,
			"priority": c.Priority,
			"source":   c.Source,
			"sourceId": c.SourceID,
		},
	})
}
