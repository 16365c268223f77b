// Package alerts manages transaction alerts from flagging to escalation or
// dismissal.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/metrics"
)

// Audit actions.
const (
	ActionFlag        = "flag"
	ActionAddNote     = "add_note"
	ActionInvestigate = "investigate"
	ActionEscalate    = "escalate"
	ActionDismiss     = "dismiss"
)

// CaseCreator opens the case an escalated alert hands over to.
// CreateFromAlert must only use repo, which is bound to the escalation's
// store transaction. Created is called once that transaction commits.
type CaseCreator interface {
	CreateFromAlert(ctx context.Context, repo domain.Repository, alert *domain.TransactionAlert, actor domain.Actor) (*domain.ComplianceCase, error)
	Created(ctx context.Context, c *domain.ComplianceCase, actor domain.Actor)
}

// Manager applies alert actions.
type Manager struct {
	repo    domain.Repository
	cases   CaseCreator
	audit   domain.AuditLogger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewManager creates an alert manager.
func NewManager(repo domain.Repository, cases CaseCreator, audit domain.AuditLogger, m *metrics.Metrics) *Manager {
	return &Manager{
		repo:    repo,
		cases:   cases,
		audit:   audit,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock returns a copy of the manager using now for timestamps.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	c := *m
	c.now = now
	return &c
}

// Get returns an alert by id.
func (m *Manager) Get(ctx context.Context, id string) (*domain.TransactionAlert, error) {
	return m.repo.GetAlert(ctx, id)
}

// Flag raises an alert on a transaction by hand. When the transaction already
// has an open or investigating alert, that alert is returned unchanged and
// created is false.
func (m *Manager) Flag(ctx context.Context, txID string, req domain.FlagRequest, actor domain.Actor) (alert *domain.TransactionAlert, created bool, err error) {
	if strings.TrimSpace(req.Description) == "" {
		return nil, false, fmt.Errorf("%w: description is required", domain.ErrInvalidInput)
	}
	typ := req.Type
	if typ == "" {
		typ = domain.AlertTypeManual
	}
	return m.flag(ctx, txID, typ, req.Description, nil, actor)
}

// FlagAssessment raises a risk_threshold alert for a transaction whose
// assessment crossed the alert threshold, and stores the score on the
// transaction.
func (m *Manager) FlagAssessment(ctx context.Context, txID string, result *domain.RiskAssessmentResult, actor domain.Actor) (*domain.TransactionAlert, bool, error) {
	ids := make([]string, len(result.MatchedRules))
	for i, r := range result.MatchedRules {
		ids[i] = r.RuleID
	}
	desc := fmt.Sprintf("Risk score %.1f (%s)", result.Score, result.Level)
	if len(ids) > 0 {
		desc += ": " + strings.Join(ids, ", ")
	}

	score := result.Score
	return m.flag(ctx, txID, domain.AlertTypeRiskThreshold, desc, &score, actor)
}

func (m *Manager) flag(ctx context.Context, txID, typ, desc string, score *float64, actor domain.Actor) (*domain.TransactionAlert, bool, error) {
	var alert *domain.TransactionAlert
	created := false

	err := m.repo.WithinTx(ctx, func(repo domain.Repository) error {
		existing, err := repo.FindActiveAlertByTransaction(ctx, txID)
		if err == nil {
			alert = existing
			return nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		tx, err := repo.GetTransaction(ctx, txID)
		if err != nil {
			return err
		}
		name := ""
		subject, err := repo.GetSubject(ctx, tx.SenderUserID)
		switch {
		case err == nil:
			name = subject.Name
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}

		tx.Status = domain.TxFlagged
		tx.IsSuspect = true
		if score != nil {
			tx.RiskScore = *score
		}
		if err := repo.UpdateTransaction(ctx, tx); err != nil {
			return err
		}

		now := m.now()
		alert = &domain.TransactionAlert{
			ID:            uuid.New().String(),
			TransactionID: tx.ID,
			UserID:        tx.SenderUserID,
			UserName:      name,
			Type:          typ,
			Description:   desc,
			Status:        domain.AlertOpen,
			Notes:         []string{},
			Timestamp:     now,
			UpdatedAt:     now,
		}
		if err := repo.CreateAlert(ctx, alert); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		m.metrics.TransitionResult(domain.EntityAlert, ActionFlag, err)
		return nil, false, err
	}
	if !created {
		return alert, false, nil
	}

	m.metrics.Transition(domain.EntityAlert, ActionFlag, metrics.OutcomeAccepted)
	m.audit.Record(ctx, domain.AuditEntry{
		ActorID:    actor.ID,
		Action:     ActionFlag,
		EntityType: domain.EntityTransaction,
		EntityID:   alert.TransactionID,
		SubjectID:  alert.UserID,
		Details:    map[string]any{"alertId": alert.ID, "status": domain.TxFlagged},
	})
	m.audit.Record(ctx, domain.AuditEntry{
		ActorID:    actor.ID,
		Action:     ActionFlag,
		EntityType: domain.EntityAlert,
		EntityID:   alert.ID,
		SubjectID:  alert.UserID,
		Details:    map[string]any{"type": alert.Type, "transactionId": alert.TransactionID},
	})

	slog.Info("transaction flagged",
		"transaction_id", alert.TransactionID,
		"alert_id", alert.ID,
		"type", alert.Type,
		"actor_id", actor.ID,
	)
	return alert, true, nil
}

// AddNote appends a note to an active alert.
func (m *Manager) AddNote(ctx context.Context, id, text string, actor domain.Actor) (*domain.TransactionAlert, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: note text is required", domain.ErrInvalidInput)
	}

	return m.update(ctx, id, ActionAddNote, actor, func(a *domain.TransactionAlert) error {
		a.Notes = append(a.Notes, text)
		return nil
	})
}

// Investigate moves an open alert to investigating.
func (m *Manager) Investigate(ctx context.Context, id string, actor domain.Actor) (*domain.TransactionAlert, error) {
	return m.update(ctx, id, ActionInvestigate, actor, func(a *domain.TransactionAlert) error {
		if a.Status != domain.AlertOpen {
			return domain.NewTransitionError(domain.EntityAlert, a.ID, string(a.Status), ActionInvestigate,
				"only open alerts can be investigated")
		}
		a.Status = domain.AlertInvestigating
		return nil
	})
}

// update runs one single-record action against an active alert.
func (m *Manager) update(ctx context.Context, id, action string, actor domain.Actor, apply func(*domain.TransactionAlert) error) (*domain.TransactionAlert, error) {
	a, err := m.repo.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}
	from := a.Status

	err = checkActive(a, action)
	if err == nil {
		err = apply(a)
	}
	if err == nil {
		a.UpdatedAt = m.now()
		err = m.repo.UpdateAlert(ctx, a)
	}
	m.metrics.TransitionResult(domain.EntityAlert, action, err)
	if err != nil {
		return nil, err
	}

	m.audit.Record(ctx, domain.AuditEntry{
		ActorID:    actor.ID,
		Action:     action,
		EntityType: domain.EntityAlert,
		EntityID:   a.ID,
		SubjectID:  a.UserID,
		Details:    map[string]any{"from": from, "to": a.Status},
	})
	return a, nil
}

// Escalate closes an active alert and opens a case for it. Both happen in
// one store transaction; on any failure the alert is left as it was.
func (m *Manager) Escalate(ctx context.Context, id string, actor domain.Actor) (*domain.TransactionAlert, *domain.ComplianceCase, error) {
	var (
		alert *domain.TransactionAlert
		c     *domain.ComplianceCase
	)

	err := m.repo.WithinTx(ctx, func(repo domain.Repository) error {
		a, err := repo.GetAlert(ctx, id)
		if err != nil {
			return err
		}
		if err := checkActive(a, ActionEscalate); err != nil {
			return err
		}

		created, err := m.cases.CreateFromAlert(ctx, repo, a, actor)
		if err != nil {
			return fmt.Errorf("failed to open case: %w", err)
		}

		a.Status = domain.AlertClosed
		a.Resolution = domain.ResolutionEscalated
		a.CaseID = created.ID
		a.UpdatedAt = m.now()
		if err := repo.UpdateAlert(ctx, a); err != nil {
			return err
		}

		alert, c = a, created
		return nil
	})
	m.metrics.TransitionResult(domain.EntityAlert, ActionEscalate, err)
	if err != nil {
		return nil, nil, err
	}

	m.audit.Record(ctx, domain.AuditEntry{
		ActorID:    actor.ID,
		Action:     ActionEscalate,
		EntityType: domain.EntityAlert,
		EntityID:   alert.ID,
		SubjectID:  alert.UserID,
		Details:    map[string]any{"caseId": c.ID},
	})
	m.cases.Created(ctx, c, actor)

	slog.Info("alert escalated",
		"alert_id", alert.ID,
		"case_id", c.ID,
		"actor_id", actor.ID,
	)
	return alert, c, nil
}

// Dismiss closes an active alert as a false positive and clears the suspect
// flag on its transaction.
func (m *Manager) Dismiss(ctx context.Context, id, reason string, actor domain.Actor) (*domain.TransactionAlert, error) {
	var alert *domain.TransactionAlert

	err := m.repo.WithinTx(ctx, func(repo domain.Repository) error {
		a, err := repo.GetAlert(ctx, id)
		if err != nil {
			return err
		}
		if err := checkActive(a, ActionDismiss); err != nil {
			return err
		}

		tx, err := repo.GetTransaction(ctx, a.TransactionID)
		if err != nil {
			return err
		}
		tx.IsSuspect = false
		if tx.Status == domain.TxFlagged {
			tx.Status = domain.TxCompleted
		}
		if err := repo.UpdateTransaction(ctx, tx); err != nil {
			return err
		}

		a.Status = domain.AlertClosed
		a.Resolution = domain.ResolutionDismissed
		if reason = strings.TrimSpace(reason); reason != "" {
			a.Notes = append(a.Notes, "Dismissed: "+reason)
		}
		a.UpdatedAt = m.now()
		if err := repo.UpdateAlert(ctx, a); err != nil {
			return err
		}
		alert = a
		return nil
	})
	m.metrics.TransitionResult(domain.EntityAlert, ActionDismiss, err)
	if err != nil {
		return nil, err
	}

	m.audit.Record(ctx, domain.AuditEntry{
		ActorID:    actor.ID,
		Action:     ActionDismiss,
		EntityType: domain.EntityAlert,
		EntityID:   alert.ID,
		SubjectID:  alert.UserID,
		Details:    map[string]any{"reason": reason, "transactionId": alert.TransactionID},
	})
	return alert, nil
}

func checkActive(a *domain.TransactionAlert, action string) error {
	if a.Status.Active() {
		return nil
	}
	return domain.NewTransitionError(domain.EntityAlert, a.ID, string(a.Status), action, "closed alerts are final")
}
