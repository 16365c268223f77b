package domain

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestLevelForScore(t *testing.T) {
	tests := []struct {
		score float64
		want  RiskLevel
	}{
		{0, LevelMinimal},
		{24.999, LevelMinimal},
		{25, LevelLow},
		{49.9, LevelLow},
		{50, LevelMedium},
		{74.999, LevelMedium},
		{75, LevelHigh},
		{100, LevelHigh},
	}

	for _, tt := range tests {
		if got := LevelForScore(tt.score); got != tt.want {
			t.Errorf("LevelForScore(%v) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestClampScore(t *testing.T) {
	if ClampScore(-3) != 0 || ClampScore(130) != 100 || ClampScore(42.5) != 42.5 {
		t.Error("ClampScore must bound scores to [0,100]")
	}
}

func TestPriorityForScore(t *testing.T) {
	tests := []struct {
		score float64
		want  CasePriority
	}{
		{10, PriorityLow},
		{50, PriorityMedium},
		{75, PriorityHigh},
		{89.9, PriorityHigh},
		{90, PriorityCritical},
	}

	for _, tt := range tests {
		if got := PriorityForScore(tt.score); got != tt.want {
			t.Errorf("PriorityForScore(%v) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestCategoryContributions(t *testing.T) {
	r := &RiskAssessmentResult{MatchedRules: []RuleMatch{
		{RuleID: "A", Category: CategoryKYC, ContributedScore: 10},
		{RuleID: "B", Category: CategoryKYC, ContributedScore: 15},
		{RuleID: "C", Category: CategoryTransaction, ContributedScore: 20},
	}}

	got := r.CategoryContributions()
	if got[CategoryKYC] != 25 || got[CategoryTransaction] != 20 || got[CategoryBehavioral] != 0 {
		t.Errorf("unexpected contributions: %v", got)
	}
}

func TestDocumentValidate(t *testing.T) {
	reason := "blurry scan"
	blank := "  "
	identity := &IdentityDetails{DocumentNumber: "X123", IssuingCountry: "GB", FullName: "Ada", ExpiresAt: time.Now().AddDate(5, 0, 0)}
	address := &AddressDetails{Line1: "1 Main St", City: "London", Country: "GB"}

	tests := []struct {
		name    string
		doc     Document
		wantErr bool
	}{
		{"Passport", Document{Kind: DocPassport, Status: DocVerified, Identity: identity}, false},
		{"ProofOfAddress", Document{Kind: DocProofOfAddress, Status: DocPending, Address: address}, false},
		{"Rejected", Document{Kind: DocNationalID, Status: DocRejected, RejectionReason: &reason, Identity: identity}, false},
		{"NoPayload", Document{Kind: DocPassport, Status: DocPending}, true},
		{"TwoPayloads", Document{Kind: DocPassport, Status: DocPending, Identity: identity, Address: address}, true},
		{"WrongPayload", Document{Kind: DocBankStatement, Status: DocPending, Address: address}, true},
		{"UnknownKind", Document{Kind: "selfie", Status: DocPending, Identity: identity}, true},
		{"RejectedWithoutReason", Document{Kind: DocPassport, Status: DocRejected, Identity: identity}, true},
		{"RejectedBlankReason", Document{Kind: DocPassport, Status: DocRejected, RejectionReason: &blank, Identity: identity}, true},
		{"ReasonOnVerified", Document{Kind: DocPassport, Status: DocVerified, RejectionReason: &reason, Identity: identity}, true},
		{"UnknownStatus", Document{Kind: DocPassport, Status: "lost", Identity: identity}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.doc.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestTransitionError(t *testing.T) {
	err := NewTransitionError(EntitySAR, "sar-1", "draft", "approve", "")
	if !errors.Is(err, ErrIllegalTransition) {
		t.Error("expected TransitionError to wrap ErrIllegalTransition")
	}
	if !strings.Contains(err.Error(), `approve from "draft"`) {
		t.Errorf("unexpected message: %s", err.Error())
	}

	var te *TransitionError
	wrapped := errors.Join(errors.New("context"), err)
	if !errors.As(wrapped, &te) || te.From != "draft" || te.Action != "approve" {
		t.Errorf("expected to recover the TransitionError, got %+v", te)
	}

	withReason := NewTransitionError(EntityCase, "case-1", "resolved", "to_under_review", "reopening needs an officer")
	if !strings.HasSuffix(withReason.Error(), "(reopening needs an officer)") {
		t.Errorf("expected reason in message: %s", withReason.Error())
	}
}

func TestActorCanReopen(t *testing.T) {
	for role, want := range map[Role]bool{RoleAnalyst: false, RoleOfficer: true, RoleAdmin: true} {
		if got := (Actor{ID: "a", Role: role}).CanReopen(); got != want {
			t.Errorf("CanReopen for %s = %v, want %v", role, got, want)
		}
	}
}

func TestTransactionRequestDefaults(t *testing.T) {
	req := &TransactionRequest{SenderUserID: "user-001", SenderCurrency: "USD", Method: "card"}
	if tx := req.ToTransaction(); tx.Status != TxCompleted || tx.Timestamp.IsZero() {
		t.Errorf("unexpected defaults: %+v", tx)
	}
	req.Status = "pending"
	if tx := req.ToTransaction(); tx.Status != TxPending {
		t.Errorf("expected pending, got %s", tx.Status)
	}
}

func TestAlertClone(t *testing.T) {
	a := &TransactionAlert{ID: "a", Notes: []string{"first"}}
	c := a.Clone()
	c.Notes[0] = "changed"
	c.Notes = append(c.Notes, "second")
	if a.Notes[0] != "first" || len(a.Notes) != 1 {
		t.Errorf("clone shares notes with original: %v", a.Notes)
	}
}
