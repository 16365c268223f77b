// Package sar implements the suspicious activity report filing workflow.
package sar

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

type edge struct {
	from   domain.SARStatus
	action domain.SARAction
}

var transitions = map[edge]domain.SARStatus{
	{domain.SARDraft, domain.SARSubmit}:            domain.SARSubmitted,
	{domain.SARSubmitted, domain.SARApprove}:       domain.SARFiled,
	{domain.SARSubmitted, domain.SARReject}:        domain.SARRejected,
	{domain.SARSubmitted, domain.SARReturnToDraft}: domain.SARDraft,
	{domain.SARRejected, domain.SARResubmit}:       domain.SARSubmitted,
	{domain.SARRejected, domain.SARReturnToDraft}:  domain.SARDraft,
	{domain.SARFiled, domain.SARReopen}:            domain.SARSubmitted,
}

// actionOrder is the order AvailableActions reports actions in.
var actionOrder = []domain.SARAction{
	domain.SARSubmit,
	domain.SARApprove,
	domain.SARReject,
	domain.SARReturnToDraft,
	domain.SARResubmit,
	domain.SARReopen,
}

// Audit actions besides the workflow actions themselves.
const (
	ActionCreate = "create"
	ActionLink   = "link_transactions"
)

// Next returns the status action leads to from from.
func Next(from domain.SARStatus, action domain.SARAction) (domain.SARStatus, bool) {
	to, ok := transitions[edge{from, action}]
	return to, ok
}

// AvailableActions lists the actions actor may apply to a SAR in status from.
func AvailableActions(from domain.SARStatus, actor domain.Actor) []domain.SARAction {
	out := []domain.SARAction{}
	for _, a := range actionOrder {
		if _, ok := Next(from, a); !ok {
			continue
		}
		if a == domain.SARReopen && !actor.CanReopen() {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Workflow creates SARs and applies filing actions to them.
type Workflow struct {
	repo    domain.Repository
	audit   domain.AuditLogger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewWorkflow creates a SAR workflow.
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

// Get returns a SAR by id.
func (w *Workflow) Get(ctx context.Context, id string) (*domain.SAR, error) {
	return w.repo.GetSAR(ctx, id)
}

// History returns the accepted actions of a SAR, oldest first.
func (w *Workflow) History(ctx context.Context, id string) ([]*domain.SARHistoryEntry, error) {
	if _, err := w.repo.GetSAR(ctx, id); err != nil {
		return nil, err
	}
	return w.repo.ListSARHistory(ctx, id)
}

// Apply performs action on a SAR. The action must be legal from the current
// status, reopen needs a privileged actor, and notes must not be blank.
// A rejected action writes nothing.
func (w *Workflow) Apply(ctx context.Context, id string, action domain.SARAction, notes string, actor domain.Actor) (*domain.SAR, error) {
	s, err := w.repo.GetSAR(ctx, id)
	if err != nil {
		return nil, err
	}

	from := s.Status
	to, err := w.check(s, action, notes, actor)
	if err != nil {
		w.metrics.TransitionResult(domain.EntitySAR, string(action), err)
		return nil, err
	}

	now := w.now()
	s.Status = to
	s.UpdatedAt = now
	switch action {
	case domain.SARApprove:
		s.FiledAt = &now
	case domain.SARReopen:
		s.FiledAt = nil
	}

	entry := &domain.SARHistoryEntry{
		ID:         uuid.New().String(),
		SARID:      s.ID,
		Action:     action,
		FromStatus: from,
		ToStatus:   to,
		Notes:      notes,
		ActorID:    actor.ID,
		CreatedAt:  now,
	}

	err = w.repo.WithinTx(ctx, func(repo domain.Repository) error {
		if err := repo.UpdateSAR(ctx, s); err != nil {
			return err
		}
		return repo.AppendSARHistory(ctx, entry)
	})
	w.metrics.TransitionResult(domain.EntitySAR, string(action), err)
	if err != nil {
		return nil, err
	}

	w.audit.Record(ctx, domain.AuditEntry{
		ActorID:    actor.ID,
		Action:     string(action),
		EntityType: domain.EntitySAR,
		EntityID:   s.ID,
		SubjectID:  s.SubjectID,
		Details:    map[string]any{"from": from, "to": to, "notes": notes},
	})

	slog.Info("sar transitioned",
		"sar_id", s.ID,
		"action", action,
		"from", from,
		"to", to,
		"actor_id", actor.ID,
	)
	return s, nil
}

func (w *Workflow) check(s *domain.SAR, action domain.SARAction, notes string, actor domain.Actor) (domain.SARStatus, error) {
	to, ok := Next(s.Status, action)
	if !ok {
		return "", domain.NewTransitionError(domain.EntitySAR, s.ID, string(s.Status), string(action), "")
	}
	if action == domain.SARReopen && !actor.CanReopen() {
		return "", domain.NewTransitionError(domain.EntitySAR, s.ID, string(s.Status), string(action),
			"reopening a filed SAR requires an officer or admin")
	}
	if strings.TrimSpace(notes) == "" {
		return "", &domain.TransitionError{
			Entity: domain.EntitySAR,
			ID:     s.ID,
			From:   string(s.Status),
			Action: string(action),
			Reason: "every SAR action needs notes",
			Err:    domain.ErrNotesRequired,
		}
	}
	return to, nil
}

// Create opens a draft SAR by hand. Linked transactions must exist and be
// sent by the subject.
func (w *Workflow) Create(ctx context.Context, req domain.SARRequest, actor domain.Actor) (*domain.SAR, error) {
	subject, err := w.repo.GetSubject(ctx, req.SubjectID)
	if err != nil {
		return nil, err
	}
	txIDs, err := w.checkTransactions(ctx, subject.ID, req.TransactionIDs)
	if err != nil {
		return nil, err
	}

	s := w.draft(domain.OriginManual, subject.ID, txIDs, req.Notes)
	return w.create(ctx, s, actor)
}

// CreateFromCase opens a draft SAR for a case's subject. When the case was
// escalated from an alert, the alert's transaction is linked.
func (w *Workflow) CreateFromCase(ctx context.Context, caseID, notes string, actor domain.Actor) (*domain.SAR, error) {
	c, err := w.repo.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}

	txIDs := []string{}
	if c.Source == domain.SourceAlert && c.SourceID != "" {
		alert, err := w.repo.GetAlert(ctx, c.SourceID)
		if err != nil {
			return nil, fmt.Errorf("failed to load source alert: %w", err)
		}
		txIDs = append(txIDs, alert.TransactionID)
	}

	if notes == "" {
		notes = c.Description
	}
	s := w.draft(domain.OriginCase, c.UserID, txIDs, notes)
	s.LinkedCase = c.ID
	return w.create(ctx, s, actor)
}

// CreateFromPattern opens a draft SAR for a detected pattern spanning
// transactions of a single sender, who becomes the subject.
func (w *Workflow) CreateFromPattern(ctx context.Context, pattern string, transactionIDs []string, notes string, actor domain.Actor) (*domain.SAR, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, fmt.Errorf("%w: pattern is required", domain.ErrInvalidInput)
	}
	if len(transactionIDs) == 0 {
		return nil, fmt.Errorf("%w: a pattern needs at least one transaction", domain.ErrInvalidInput)
	}

	first, err := w.repo.GetTransaction(ctx, transactionIDs[0])
	if err != nil {
		return nil, err
	}
	txIDs, err := w.checkTransactions(ctx, first.SenderUserID, transactionIDs)
	if err != nil {
		return nil, err
	}

	s := w.draft(domain.OriginPattern, first.SenderUserID, txIDs, notes)
	s.Pattern = pattern
	return w.create(ctx, s, actor)
}

// LinkTransactions adds transactions to a SAR. Already linked ids are
// ignored and the set never shrinks. Filed SARs are frozen.
func (w *Workflow) LinkTransactions(ctx context.Context, id string, transactionIDs []string, actor domain.Actor) (*domain.SAR, error) {
	s, err := w.repo.GetSAR(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Status == domain.SARFiled {
		err := domain.NewTransitionError(domain.EntitySAR, s.ID, string(s.Status), ActionLink, "filed SARs cannot change")
		w.metrics.TransitionResult(domain.EntitySAR, ActionLink, err)
		return nil, err
	}

	ids, err := w.checkTransactions(ctx, s.SubjectID, transactionIDs)
	if err != nil {
		return nil, err
	}

	linked := make(map[string]bool, len(s.LinkedTransactions))
	for _, txID := range s.LinkedTransactions {
		linked[txID] = true
	}
	var added []string
	for _, txID := range ids {
		if !linked[txID] {
			added = append(added, txID)
			s.LinkedTransactions = append(s.LinkedTransactions, txID)
		}
	}
	if len(added) == 0 {
		return s, nil
	}

	s.UpdatedAt = w.now()
	err = w.repo.UpdateSAR(ctx, s)
	w.metrics.TransitionResult(domain.EntitySAR, ActionLink, err)
	if err != nil {
		return nil, err
	}

	w.audit.Record(ctx, domain.AuditEntry{
		ActorID:    actor.ID,
		Action:     ActionLink,
		EntityType: domain.EntitySAR,
		EntityID:   s.ID,
		SubjectID:  s.SubjectID,
		Details:    map[string]any{"added": added},
	})
	return s, nil
}

// checkTransactions verifies every id names a transaction sent by subjectID
// and returns the ids deduplicated in their original order.
func (w *Workflow) checkTransactions(ctx context.Context, subjectID string, ids []string) ([]string, error) {
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, txID := range ids {
		if seen[txID] {
			continue
		}
		seen[txID] = true

		tx, err := w.repo.GetTransaction(ctx, txID)
		if err != nil {
			return nil, err
		}
		if tx.SenderUserID != subjectID {
			return nil, fmt.Errorf("%w: transaction %s was sent by %s, not %s",
				domain.ErrInvalidInput, txID, tx.SenderUserID, subjectID)
		}
		out = append(out, txID)
	}
	return out, nil
}

func (w *Workflow) draft(origin domain.SAROrigin, subjectID string, txIDs []string, notes string) *domain.SAR {
	now := w.now()
	return &domain.SAR{
		ID:                 uuid.New().String(),
		Status:             domain.SARDraft,
		SubjectID:          subjectID,
		Origin:             origin,
		LinkedTransactions: txIDs,
		Notes:              notes,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func (w *Workflow) create(ctx context.Context, s *domain.SAR, actor domain.Actor) (*domain.SAR, error) {
	if err := w.repo.CreateSAR(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to create sar: %w", err)
	}

	w.metrics.Transition(domain.EntitySAR, ActionCreate, metrics.OutcomeAccepted)
	w.audit.Record(ctx, domain.AuditEntry{
		ActorID:    actor.ID,
		Action:     ActionCreate,
		EntityType: domain.EntitySAR,
		EntityID:   s.ID,
		SubjectID:  s.SubjectID,
		Details: map[string]any{
			"origin":             s.Origin,
			"linkedCase":         s.LinkedCase,
			"linkedTransactions": s.LinkedTransactions,
		},
	})
	return s, nil
}
