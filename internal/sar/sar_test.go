package sar

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

// failingHistory rejects history writes made inside a store transaction.
type failingHistory struct {
	*repository.MemoryRepository
}

func (f failingHistory) WithinTx(ctx context.Context, fn func(domain.Repository) error) error {
	return f.MemoryRepository.WithinTx(ctx, func(r domain.Repository) error {
		return fn(failingHistory{r.(*repository.MemoryRepository)})
	})
}

func (failingHistory) AppendSARHistory(context.Context, *domain.SARHistoryEntry) error {
	return errors.New("disk full")
}

func seed(t *testing.T) *repository.MemoryRepository {
	t.Helper()
	ctx := context.Background()
	repo := repository.NewMemoryRepository()

	for _, id := range []string{"user-001", "user-002"} {
		if err := repo.CreateSubject(ctx, &domain.Subject{ID: id, Name: id, KYCStatus: domain.KYCApproved}); err != nil {
			t.Fatalf("CreateSubject failed: %v", err)
		}
	}
	txs := []struct{ id, sender string }{
		{"tx-1", "user-001"},
		{"tx-2", "user-001"},
		{"tx-3", "user-001"},
		{"tx-9", "user-002"},
	}
	for _, tx := range txs {
		if err := repo.CreateTransaction(ctx, &domain.AMLTransaction{
			ID: tx.id, SenderUserID: tx.sender, SenderAmount: decimal.NewFromInt(9500),
			SenderCurrency: "USD", Method: "cash", Status: domain.TxCompleted, Timestamp: fixedTime,
		}); err != nil {
			t.Fatalf("CreateTransaction failed: %v", err)
		}
	}
	return repo
}

func newTestWorkflow(repo domain.Repository) (*Workflow, *recordingAudit) {
	audit := &recordingAudit{}
	return NewWorkflow(repo, audit, metrics.New()).WithClock(func() time.Time { return fixedTime }), audit
}

func draft(t *testing.T, w *Workflow) *domain.SAR {
	t.Helper()
	s, err := w.Create(context.Background(), domain.SARRequest{
		SubjectID:      "user-001",
		TransactionIDs: []string{"tx-1", "tx-2", "tx-1"},
		Notes:          "Repeated cash deposits just below the threshold",
	}, analyst)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return s
}

func TestTransitionClosure(t *testing.T) {
	statuses := []domain.SARStatus{domain.SARDraft, domain.SARSubmitted, domain.SARFiled, domain.SARRejected}
	known := map[domain.SARStatus]bool{}
	for _, s := range statuses {
		known[s] = true
	}

	legal := 0
	for _, from := range statuses {
		for _, action := range actionOrder {
			to, ok := Next(from, action)
			if !ok {
				continue
			}
			legal++
			if !known[to] {
				t.Errorf("%s --%s--> %s leaves the status set", from, action, to)
			}
		}
	}
	if legal != 7 {
		t.Errorf("expected 7 legal pairs, got %d", legal)
	}

	if _, ok := Next(domain.SARDraft, domain.SARApprove); ok {
		t.Error("draft cannot be approved")
	}
	if to, _ := Next(domain.SARFiled, domain.SARReopen); to != domain.SARSubmitted {
		t.Errorf("reopen should lead to submitted, got %s", to)
	}

	if got := AvailableActions(domain.SARFiled, analyst); len(got) != 0 {
		t.Errorf("analyst has no actions on a filed SAR, got %v", got)
	}
	if got := AvailableActions(domain.SARFiled, officer); len(got) != 1 || got[0] != domain.SARReopen {
		t.Errorf("officer should be able to reopen, got %v", got)
	}
	got := AvailableActions(domain.SARSubmitted, analyst)
	want := []domain.SARAction{domain.SARApprove, domain.SARReject, domain.SARReturnToDraft}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("expected %v, got %v", want, got)
		}
	}
}

func TestApply(t *testing.T) {
	repo := seed(t)
	w, audit := newTestWorkflow(repo)
	ctx := context.Background()
	s := draft(t, w)

	steps := []struct {
		action domain.SARAction
		notes  string
		want   domain.SARStatus
	}{
		{domain.SARSubmit, "ready for review", domain.SARSubmitted},
		{domain.SARReject, "narrative too thin", domain.SARRejected},
		{domain.SARResubmit, "addressed feedback", domain.SARSubmitted},
	}
	for _, step := range steps {
		got, err := w.Apply(ctx, s.ID, step.action, step.notes, analyst)
		if err != nil {
			t.Fatalf("%s failed: %v", step.action, err)
		}
		if got.Status != step.want {
			t.Fatalf("%s: expected %s, got %s", step.action, step.want, got.Status)
		}
	}

	history, err := w.History(ctx, s.ID)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 history entries, got %d", len(history))
	}
	last := history[2]
	if last.Action != domain.SARResubmit || last.FromStatus != domain.SARRejected ||
		last.ToStatus != domain.SARSubmitted || last.Notes != "addressed feedback" || last.ActorID != "analyst-1" {
		t.Errorf("unexpected history entry: %+v", last)
	}

	stored, err := repo.GetSAR(ctx, s.ID)
	if err != nil {
		t.Fatalf("GetSAR failed: %v", err)
	}
	if len(stored.LinkedTransactions) != 2 {
		t.Errorf("actions must not touch linked transactions, got %v", stored.LinkedTransactions)
	}
	if stored.Notes != "Repeated cash deposits just below the threshold" {
		t.Errorf("creation narrative changed: %q", stored.Notes)
	}

	// create + three actions
	if len(audit.entries) != 4 {
		t.Errorf("expected 4 audit entries, got %d", len(audit.entries))
	}

	t.Run("ApproveFiles", func(t *testing.T) {
		filed, err := w.Apply(ctx, s.ID, domain.SARApprove, "approved by MLRO", officer)
		if err != nil {
			t.Fatalf("approve failed: %v", err)
		}
		if filed.Status != domain.SARFiled || filed.FiledAt == nil || !filed.FiledAt.Equal(fixedTime) {
			t.Errorf("unexpected filed SAR: %+v", filed)
		}
	})

	t.Run("ReopenRequiresPrivilege", func(t *testing.T) {
		_, err := w.Apply(ctx, s.ID, domain.SARReopen, "new evidence", analyst)
		var te *domain.TransitionError
		if !errors.As(err, &te) || !errors.Is(err, domain.ErrIllegalTransition) {
			t.Fatalf("expected illegal transition, got %v", err)
		}
		if te.Reason == "" {
			t.Error("expected a reason for the rejection")
		}

		reopened, err := w.Apply(ctx, s.ID, domain.SARReopen, "new evidence", officer)
		if err != nil {
			t.Fatalf("officer reopen failed: %v", err)
		}
		if reopened.Status != domain.SARSubmitted || reopened.FiledAt != nil {
			t.Errorf("unexpected reopened SAR: %+v", reopened)
		}
	})
}

func TestApplyRejections(t *testing.T) {
	repo := seed(t)
	w, _ := newTestWorkflow(repo)
	ctx := context.Background()
	s := draft(t, w)

	t.Run("IllegalAction", func(t *testing.T) {
		_, err := w.Apply(ctx, s.ID, domain.SARApprove, "skip review", officer)
		var te *domain.TransitionError
		if !errors.As(err, &te) {
			t.Fatalf("expected TransitionError, got %v", err)
		}
		if !errors.Is(err, domain.ErrIllegalTransition) || te.From != "draft" || te.Action != "approve" {
			t.Errorf("unexpected error: %+v", te)
		}
	})

	t.Run("IllegalBeatsMissingNotes", func(t *testing.T) {
		_, err := w.Apply(ctx, s.ID, domain.SARApprove, "", officer)
		if !errors.Is(err, domain.ErrIllegalTransition) {
			t.Errorf("expected illegal transition first, got %v", err)
		}
	})

	t.Run("NotesGate", func(t *testing.T) {
		later := w.WithClock(func() time.Time { return fixedTime.Add(time.Hour) })
		for _, notes := range []string{"", "   "} {
			_, err := later.Apply(ctx, s.ID, domain.SARSubmit, notes, analyst)
			if !errors.Is(err, domain.ErrNotesRequired) {
				t.Fatalf("expected ErrNotesRequired, got %v", err)
			}
		}

		stored, err := repo.GetSAR(ctx, s.ID)
		if err != nil {
			t.Fatalf("GetSAR failed: %v", err)
		}
		if stored.Status != domain.SARDraft || !stored.UpdatedAt.Equal(s.UpdatedAt) {
			t.Errorf("rejected action changed the SAR: %+v", stored)
		}
		history, _ := w.History(ctx, s.ID)
		if len(history) != 0 {
			t.Errorf("rejected action wrote history: %v", history)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		if _, err := w.Apply(ctx, "missing", domain.SARSubmit, "x", analyst); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestApplyIsAtomic(t *testing.T) {
	mem := seed(t)
	good, _ := newTestWorkflow(mem)
	s := draft(t, good)

	w, audit := newTestWorkflow(failingHistory{mem})
	if _, err := w.Apply(context.Background(), s.ID, domain.SARSubmit, "ready", analyst); err == nil {
		t.Fatal("expected history failure to fail the action")
	}

	stored, err := mem.GetSAR(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("GetSAR failed: %v", err)
	}
	if stored.Status != domain.SARDraft || stored.Version != s.Version {
		t.Errorf("status update should roll back with the history write: %+v", stored)
	}
	if len(audit.entries) != 0 {
		t.Error("failed action should not be audited")
	}
}

func TestCreate(t *testing.T) {
	repo := seed(t)
	w, _ := newTestWorkflow(repo)
	ctx := context.Background()

	s := draft(t, w)
	if s.Status != domain.SARDraft || s.Origin != domain.OriginManual || s.SubjectID != "user-001" {
		t.Errorf("unexpected SAR: %+v", s)
	}
	if len(s.LinkedTransactions) != 2 || s.LinkedTransactions[0] != "tx-1" || s.LinkedTransactions[1] != "tx-2" {
		t.Errorf("expected deduplicated links in order, got %v", s.LinkedTransactions)
	}

	t.Run("ForeignTransaction", func(t *testing.T) {
		_, err := w.Create(ctx, domain.SARRequest{SubjectID: "user-001", TransactionIDs: []string{"tx-9"}}, analyst)
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("MissingReferences", func(t *testing.T) {
		if _, err := w.Create(ctx, domain.SARRequest{SubjectID: "ghost"}, analyst); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound for subject, got %v", err)
		}
		_, err := w.Create(ctx, domain.SARRequest{SubjectID: "user-001", TransactionIDs: []string{"tx-404"}}, analyst)
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound for transaction, got %v", err)
		}
	})

	t.Run("FromPattern", func(t *testing.T) {
		s, err := w.CreateFromPattern(ctx, "structuring", []string{"tx-2", "tx-3"}, "two deposits", analyst)
		if err != nil {
			t.Fatalf("CreateFromPattern failed: %v", err)
		}
		if s.Origin != domain.OriginPattern || s.Pattern != "structuring" || s.SubjectID != "user-001" {
			t.Errorf("unexpected SAR: %+v", s)
		}

		if _, err := w.CreateFromPattern(ctx, "structuring", []string{"tx-1", "tx-9"}, "", analyst); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("mixed senders should be rejected, got %v", err)
		}
		if _, err := w.CreateFromPattern(ctx, "structuring", nil, "", analyst); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("empty pattern should be rejected, got %v", err)
		}
	})

	t.Run("FromCase", func(t *testing.T) {
		alert := &domain.TransactionAlert{
			ID: "al-1", TransactionID: "tx-3", UserID: "user-001", Type: domain.AlertTypeManual,
			Status: domain.AlertClosed, Resolution: domain.ResolutionEscalated, CaseID: "case-1", Timestamp: fixedTime,
		}
		if err := repo.CreateAlert(ctx, alert); err != nil {
			t.Fatalf("CreateAlert failed: %v", err)
		}
		c := &domain.ComplianceCase{
			ID: "case-1", Type: domain.CaseAML, Status: domain.CaseEscalated, Priority: domain.PriorityHigh,
			UserID: "user-001", Description: "Escalated structuring", Source: domain.SourceAlert, SourceID: "al-1",
			CreatedAt: fixedTime, UpdatedAt: fixedTime,
		}
		if err := repo.CreateCase(ctx, c); err != nil {
			t.Fatalf("CreateCase failed: %v", err)
		}

		s, err := w.CreateFromCase(ctx, "case-1", "", analyst)
		if err != nil {
			t.Fatalf("CreateFromCase failed: %v", err)
		}
		if s.LinkedCase != "case-1" || s.SubjectID != "user-001" || s.Origin != domain.OriginCase {
			t.Errorf("unexpected SAR: %+v", s)
		}
		if len(s.LinkedTransactions) != 1 || s.LinkedTransactions[0] != "tx-3" {
			t.Errorf("expected the alert's transaction linked, got %v", s.LinkedTransactions)
		}
		if s.Notes != "Escalated structuring" {
			t.Errorf("expected case description as narrative, got %q", s.Notes)
		}

		if _, err := w.CreateFromCase(ctx, "case-404", "", analyst); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestLinkTransactions(t *testing.T) {
	repo := seed(t)
	w, _ := newTestWorkflow(repo)
	ctx := context.Background()
	s := draft(t, w)

	got, err := w.LinkTransactions(ctx, s.ID, []string{"tx-2", "tx-3"}, analyst)
	if err != nil {
		t.Fatalf("LinkTransactions failed: %v", err)
	}
	want := []string{"tx-1", "tx-2", "tx-3"}
	if len(got.LinkedTransactions) != len(want) {
		t.Fatalf("expected %v, got %v", want, got.LinkedTransactions)
	}
	for i := range want {
		if got.LinkedTransactions[i] != want[i] {
			t.Errorf("expected %v, got %v", want, got.LinkedTransactions)
		}
	}

	if _, err := w.LinkTransactions(ctx, s.ID, []string{"tx-9"}, analyst); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected foreign transaction rejected, got %v", err)
	}

	for _, step := range []domain.SARAction{domain.SARSubmit, domain.SARApprove} {
		if _, err := w.Apply(ctx, s.ID, step, "moving on", officer); err != nil {
			t.Fatalf("%s failed: %v", step, err)
		}
	}
	if _, err := w.LinkTransactions(ctx, s.ID, []string{"tx-3"}, analyst); !errors.Is(err, domain.ErrIllegalTransition) {
		t.Errorf("expected filed SAR to reject links, got %v", err)
	}

	stored, _ := repo.GetSAR(ctx, s.ID)
	if len(stored.LinkedTransactions) != 3 {
		t.Errorf("linked set should never shrink, got %v", stored.LinkedTransactions)
	}
}
