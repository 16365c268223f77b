package cases

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/metrics"
	"github.com/opensource-finance/heron/internal/repository"
)

var fixedTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var (
	analyst = domain.Actor{ID: "analyst-1", Role: domain.RoleAnalyst}
	officer = domain.Actor{ID: "officer-1", Role: domain.RoleOfficer}
)

type recordingAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (a *recordingAudit) Record(_ context.Context, e domain.AuditEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
}

func (a *recordingAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.entries))
	for i, e := range a.entries {
		out[i] = e.Action
	}
	return out
}

func setup(t *testing.T) (*Workflow, *repository.MemoryRepository, *recordingAudit) {
	t.Helper()
	repo := repository.NewMemoryRepository()
	if err := repo.CreateSubject(context.Background(), &domain.Subject{
		ID: "user-001", Name: "Ada Lovelace", KYCStatus: domain.KYCApproved,
		CreatedAt: fixedTime, UpdatedAt: fixedTime,
	}); err != nil {
		t.Fatalf("CreateSubject failed: %v", err)
	}
	audit := &recordingAudit{}
	w := NewWorkflow(repo, audit, metrics.New()).WithClock(func() time.Time { return fixedTime })
	return w, repo, audit
}

func openCase(t *testing.T, w *Workflow) *domain.ComplianceCase {
	t.Helper()
	c, err := w.Create(context.Background(), domain.CaseRequest{
		Type:        domain.CaseAML,
		RiskScore:   80,
		UserID:      "user-001",
		Description: "Structuring below reporting threshold",
	}, analyst)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return c
}

func TestCreate(t *testing.T) {
	w, _, audit := setup(t)
	ctx := context.Background()

	c := openCase(t, w)
	if c.Status != domain.CaseOpen {
		t.Errorf("expected open, got %s", c.Status)
	}
	if c.Priority != domain.PriorityHigh {
		t.Errorf("expected priority derived from score 80, got %s", c.Priority)
	}
	if c.UserName != "Ada Lovelace" || c.Source != domain.SourceManual {
		t.Errorf("unexpected case: %+v", c)
	}
	if len(audit.entries) != 1 || audit.entries[0].Action != ActionCreate {
		t.Errorf("expected create audit entry, got %v", audit.actions())
	}

	t.Run("ExplicitPriority", func(t *testing.T) {
		c, err := w.Create(ctx, domain.CaseRequest{
			Type: domain.CaseKYC, Priority: domain.PriorityCritical, UserID: "user-001", Description: "Forged passport",
		}, analyst)
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if c.Priority != domain.PriorityCritical {
			t.Errorf("expected critical, got %s", c.Priority)
		}
	})

	t.Run("UnknownSubject", func(t *testing.T) {
		_, err := w.Create(ctx, domain.CaseRequest{Type: domain.CaseAML, UserID: "ghost", Description: "x"}, analyst)
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("InvalidRequests", func(t *testing.T) {
		bad := []domain.CaseRequest{
			{Type: "fraud", UserID: "user-001", Description: "x"},
			{Type: domain.CaseAML, UserID: "user-001", Description: "   "},
			{Type: domain.CaseAML, UserID: "user-001", Description: "x", RiskScore: 120},
		}
		for _, req := range bad {
			if _, err := w.Create(ctx, req, analyst); !errors.Is(err, domain.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput for %+v, got %v", req, err)
			}
		}
	})
}

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		from, to domain.CaseStatus
		want     bool
	}{
		{domain.CaseOpen, domain.CaseUnderReview, true},
		{domain.CaseOpen, domain.CaseClosed, true},
		{domain.CaseUnderReview, domain.CaseOpen, false},
		{domain.CaseEscalated, domain.CaseUnderReview, true},
		{domain.CaseResolved, domain.CaseClosed, true},
		{domain.CaseResolved, domain.CaseUnderReview, true},
		{domain.CaseResolved, domain.CaseEscalated, false},
		{domain.CaseClosed, domain.CaseOpen, false},
		{domain.CaseClosed, domain.CaseUnderReview, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}

	if len(Targets(domain.CaseResolved, analyst)) != 1 {
		t.Errorf("analyst should only be able to close a resolved case, got %v", Targets(domain.CaseResolved, analyst))
	}
	if len(Targets(domain.CaseResolved, officer)) != 2 {
		t.Errorf("officer should be able to close or reopen, got %v", Targets(domain.CaseResolved, officer))
	}
	if len(Targets(domain.CaseClosed, officer)) != 0 {
		t.Error("closed cases have no targets")
	}
}

func TestTransition(t *testing.T) {
	w, repo, audit := setup(t)
	ctx := context.Background()
	c := openCase(t, w)

	for _, target := range []domain.CaseStatus{domain.CaseUnderReview, domain.CaseEscalated, domain.CaseResolved} {
		if _, err := w.Transition(ctx, c.ID, target, analyst); err != nil {
			t.Fatalf("Transition to %s failed: %v", target, err)
		}
	}

	stored, err := repo.GetCase(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetCase failed: %v", err)
	}
	if stored.Status != domain.CaseResolved {
		t.Errorf("expected resolved, got %s", stored.Status)
	}
	if stored.ResolvedAt == nil || !stored.ResolvedAt.Equal(fixedTime) {
		t.Errorf("expected resolvedAt stamped, got %v", stored.ResolvedAt)
	}

	t.Run("ReopenRequiresPrivilege", func(t *testing.T) {
		_, err := w.Transition(ctx, c.ID, domain.CaseUnderReview, analyst)
		var te *domain.TransitionError
		if !errors.As(err, &te) || !errors.Is(err, domain.ErrIllegalTransition) {
			t.Fatalf("expected transition error, got %v", err)
		}
		if te.From != string(domain.CaseResolved) {
			t.Errorf("expected from resolved, got %s", te.From)
		}
	})

	t.Run("ResolutionStampedOnce", func(t *testing.T) {
		later := fixedTime.Add(48 * time.Hour)
		w2 := w.WithClock(func() time.Time { return later })

		if _, err := w2.Transition(ctx, c.ID, domain.CaseUnderReview, officer); err != nil {
			t.Fatalf("reopen failed: %v", err)
		}
		closed, err := w2.Transition(ctx, c.ID, domain.CaseClosed, officer)
		if err != nil {
			t.Fatalf("close failed: %v", err)
		}
		if !closed.ResolvedAt.Equal(fixedTime) {
			t.Errorf("resolvedAt should keep its first value, got %v", closed.ResolvedAt)
		}
		if !closed.UpdatedAt.Equal(later) {
			t.Errorf("expected updatedAt %v, got %v", later, closed.UpdatedAt)
		}
	})

	t.Run("ClosedIsFinal", func(t *testing.T) {
		for _, target := range []domain.CaseStatus{domain.CaseOpen, domain.CaseUnderReview, domain.CaseResolved} {
			if _, err := w.Transition(ctx, c.ID, target, officer); !errors.Is(err, domain.ErrIllegalTransition) {
				t.Errorf("expected illegal transition to %s, got %v", target, err)
			}
		}
		if _, err := w.Assign(ctx, c.ID, "analyst-2", officer); !errors.Is(err, domain.ErrIllegalTransition) {
			t.Errorf("expected assign on closed case to fail, got %v", err)
		}
	})

	t.Run("SameStatusIsNoop", func(t *testing.T) {
		before := len(audit.entries)
		got, err := w.Transition(ctx, c.ID, domain.CaseClosed, analyst)
		if err != nil {
			t.Fatalf("expected no-op, got %v", err)
		}
		if got.Status != domain.CaseClosed || len(audit.entries) != before {
			t.Error("same-status transition should not write")
		}
	})

	t.Run("UnknownStatus", func(t *testing.T) {
		if _, err := w.Transition(ctx, c.ID, "archived", officer); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		if _, err := w.Transition(ctx, "missing", domain.CaseClosed, officer); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestAssign(t *testing.T) {
	w, _, audit := setup(t)
	ctx := context.Background()
	c := openCase(t, w)

	got, err := w.Assign(ctx, c.ID, "analyst-7", officer)
	if err != nil {
		t.Fatalf("Assign failed: %v", err)
	}
	if got.AssignedTo != "analyst-7" {
		t.Errorf("expected assignee, got %q", got.AssignedTo)
	}
	last := audit.entries[len(audit.entries)-1]
	if last.Action != ActionAssign || last.Details["to"] != "analyst-7" {
		t.Errorf("unexpected audit entry: %+v", last)
	}

	if _, err := w.Assign(ctx, c.ID, " ", officer); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestCreateFromAlert(t *testing.T) {
	w, repo, audit := setup(t)
	ctx := context.Background()

	if err := repo.CreateTransaction(ctx, &domain.AMLTransaction{
		ID: "tx-1", SenderUserID: "user-001", SenderAmount: decimal.RequireFromString("12500"),
		SenderCurrency: "USD", Method: "wire", Status: domain.TxFlagged, RiskScore: 92, Timestamp: fixedTime,
	}); err != nil {
		t.Fatalf("CreateTransaction failed: %v", err)
	}
	alert := &domain.TransactionAlert{
		ID: "al-1", TransactionID: "tx-1", UserID: "user-001", UserName: "Ada Lovelace",
		Type: domain.AlertTypeManual, Description: "Unusual destination", Status: domain.AlertInvestigating,
	}

	c, err := w.CreateFromAlert(ctx, repo, alert, analyst)
	if err != nil {
		t.Fatalf("CreateFromAlert failed: %v", err)
	}
	if c.Type != domain.CaseAML || c.Source != domain.SourceAlert || c.SourceID != "al-1" {
		t.Errorf("unexpected provenance: %+v", c)
	}
	if c.RiskScore != 92 || c.Priority != domain.PriorityCritical {
		t.Errorf("expected score 92 and critical priority, got %v %s", c.RiskScore, c.Priority)
	}
	if c.UserName != "Ada Lovelace" || c.Description == "" {
		t.Errorf("expected alert details copied: %+v", c)
	}
	if len(audit.entries) != 0 {
		t.Error("CreateFromAlert should leave auditing to the caller")
	}

	if _, err := repo.GetCase(ctx, c.ID); err != nil {
		t.Errorf("case should be stored: %v", err)
	}
}

func TestTypeForAssessment(t *testing.T) {
	match := func(cat domain.RuleCategory, score int) domain.RuleMatch {
		return domain.RuleMatch{RuleID: string(cat), Category: cat, ContributedScore: score}
	}
	subject := &domain.Subject{ID: "user-001"}

	tests := []struct {
		name    string
		matches []domain.RuleMatch
		subject *domain.Subject
		want    domain.CaseType
	}{
		{"NoMatches", nil, subject, domain.CaseAML},
		{"KYCDominant", []domain.RuleMatch{match(domain.CategoryKYC, 30), match(domain.CategoryTransaction, 10)}, subject, domain.CaseKYC},
		{"TransactionDominant", []domain.RuleMatch{match(domain.CategoryKYC, 10), match(domain.CategoryTransaction, 30)}, subject, domain.CaseAML},
		{"TieFavoursTransaction", []domain.RuleMatch{match(domain.CategoryKYC, 20), match(domain.CategoryTransaction, 20)}, subject, domain.CaseAML},
		{"Sanctioned", []domain.RuleMatch{match(domain.CategoryKYC, 40)}, &domain.Subject{IsSanctioned: true}, domain.CaseSanctions},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := &domain.RiskAssessmentResult{MatchedRules: tt.matches}
			if got := TypeForAssessment(result, tt.subject); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestCreateFromAssessment(t *testing.T) {
	w, repo, _ := setup(t)
	ctx := context.Background()

	result := &domain.RiskAssessmentResult{
		ID: "as-1", SubjectID: "user-001", RawScore: 50, Score: 70, Level: domain.LevelMedium,
		MatchedRules: []domain.RuleMatch{{RuleID: "KYC-ADDR", Category: domain.CategoryKYC, ContributedScore: 20}},
		EvaluatedAt:  fixedTime,
	}
	if err := repo.SaveAssessment(ctx, result); err != nil {
		t.Fatalf("SaveAssessment failed: %v", err)
	}

	c, err := w.CreateFromAssessment(ctx, "user-001", "as-1", analyst)
	if err != nil {
		t.Fatalf("CreateFromAssessment failed: %v", err)
	}
	if c.Type != domain.CaseKYC || c.Priority != domain.PriorityMedium || c.RiskScore != 70 {
		t.Errorf("unexpected case: %+v", c)
	}
	if c.Source != domain.SourceAssessment || c.SourceID != "as-1" {
		t.Errorf("unexpected provenance: %+v", c)
	}

	if _, err := w.CreateFromAssessment(ctx, "user-001", "as-404", analyst); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
