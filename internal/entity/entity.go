// Package entity assembles the read-side view of one subject across
// documents, transactions, alerts, cases and SARs.
package entity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/heron/internal/audit"
	"github.com/opensource-finance/heron/internal/cache"
	"github.com/opensource-finance/heron/internal/domain"
)

// Filter narrows an assembled view. The zero value hides closed alerts,
// closed cases and filed SARs; use All for everything.
type Filter struct {
	// Since drops transactions, alerts, cases and SARs older than this.
	Since time.Time `json:"since,omitempty"`

	// TransactionStatus keeps only transactions in this status.
	TransactionStatus domain.TransactionStatus `json:"transactionStatus,omitempty"`

	// SuspectOnly keeps only transactions marked suspect.
	SuspectOnly bool `json:"suspectOnly,omitempty"`

	// IncludeClosed keeps closed alerts and cases and filed SARs.
	IncludeClosed bool `json:"includeClosed,omitempty"`
}

// All is the unfiltered view. Only this view is cached.
func All() Filter {
	return Filter{IncludeClosed: true}
}

// View is everything on record about one subject.
type View struct {
	Subject      *domain.Subject            `json:"subject"`
	Documents    []*domain.Document         `json:"documents"`
	Transactions []*domain.AMLTransaction   `json:"transactions"`
	Alerts       []*domain.TransactionAlert `json:"alerts"`
	Cases        []*domain.ComplianceCase   `json:"cases"`
	SARs         []*domain.SAR              `json:"sars"`
	AssembledAt  time.Time                  `json:"assembledAt"`
}

// ConsistencyViolation reports a record whose reference disagrees with the
// subject or with the record it points at. It is a finding, not an error.
type ConsistencyViolation struct {
	EntityType string `json:"entityType"`
	EntityID   string `json:"entityId"`
	Field      string `json:"field"`
	Expected   string `json:"expected"`
	Actual     string `json:"actual"`
}

func (v ConsistencyViolation) String() string {
	return fmt.Sprintf("%s %s: %s is %q, expected %q", v.EntityType, v.EntityID, v.Field, v.Actual, v.Expected)
}

// missing is the Actual value reported for dangling references.
const missing = "<missing>"

// Assembler builds views from the store. It keeps no state besides the
// optional view cache.
type Assembler struct {
	repo  domain.Repository
	cache domain.Cache
	ttl   time.Duration
	now   func() time.Time
}

// NewAssembler creates an assembler. c may be nil to disable caching.
func NewAssembler(repo domain.Repository, c domain.Cache, ttl time.Duration) *Assembler {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Assembler{
		repo:  repo,
		cache: c,
		ttl:   ttl,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func cacheKey(subjectID string) string {
	return "view:" + subjectID
}

// Assemble returns the subject's view narrowed by filter.
func (a *Assembler) Assemble(ctx context.Context, subjectID string, filter Filter) (*View, error) {
	cacheable := a.cache != nil && filter == All()
	if cacheable {
		var cached View
		hit, err := cache.GetJSON(ctx, a.cache, cacheKey(subjectID), &cached)
		if err != nil {
			slog.Warn("entity view cache read failed", "subject_id", subjectID, "error", err)
		}
		if hit {
			return &cached, nil
		}
	}

	view, err := a.load(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	view.apply(filter)

	if cacheable {
		if err := cache.SetJSON(ctx, a.cache, cacheKey(subjectID), view, a.ttl); err != nil {
			slog.Warn("entity view cache write failed", "subject_id", subjectID, "error", err)
		}
	}
	return view, nil
}

// load reads every record referencing the subject. SARs are found both by
// subject and through the subject's cases.
func (a *Assembler) load(ctx context.Context, subjectID string) (*View, error) {
	subject, err := a.repo.GetSubject(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	view := &View{Subject: subject, AssembledAt: a.now()}

	if view.Documents, err = a.repo.ListDocumentsBySubject(ctx, subjectID); err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	if view.Transactions, err = a.repo.ListTransactionsBySubject(ctx, subjectID, time.Time{}); err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	if view.Alerts, err = a.repo.ListAlertsBySubject(ctx, subjectID); err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	if view.Cases, err = a.repo.ListCasesBySubject(ctx, subjectID); err != nil {
		return nil, fmt.Errorf("failed to list cases: %w", err)
	}
	if view.SARs, err = a.sars(ctx, subjectID, view.Cases); err != nil {
		return nil, err
	}

	return view, nil
}

func (a *Assembler) sars(ctx context.Context, subjectID string, cases []*domain.ComplianceCase) ([]*domain.SAR, error) {
	out, err := a.repo.ListSARsBySubject(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sars: %w", err)
	}

	seen := make(map[string]bool, len(out))
	for _, s := range out {
		seen[s.ID] = true
	}
	for _, c := range cases {
		linked, err := a.repo.ListSARsByCase(ctx, c.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list sars of case %s: %w", c.ID, err)
		}
		for _, s := range linked {
			if !seen[s.ID] {
				seen[s.ID] = true
				out = append(out, s)
			}
		}
	}
	return out, nil
}

func (v *View) apply(f Filter) {
	txs := make([]*domain.AMLTransaction, 0, len(v.Transactions))
	for _, tx := range v.Transactions {
		if tx.Timestamp.Before(f.Since) {
			continue
		}
		if f.TransactionStatus != "" && tx.Status != f.TransactionStatus {
			continue
		}
		if f.SuspectOnly && !tx.IsSuspect {
			continue
		}
		txs = append(txs, tx)
	}
	v.Transactions = txs

	alerts := make([]*domain.TransactionAlert, 0, len(v.Alerts))
	for _, al := range v.Alerts {
		if al.Timestamp.Before(f.Since) || (!f.IncludeClosed && al.Status == domain.AlertClosed) {
			continue
		}
		alerts = append(alerts, al)
	}
	v.Alerts = alerts

	cases := make([]*domain.ComplianceCase, 0, len(v.Cases))
	for _, c := range v.Cases {
		if c.CreatedAt.Before(f.Since) || (!f.IncludeClosed && c.Status == domain.CaseClosed) {
			continue
		}
		cases = append(cases, c)
	}
	v.Cases = cases

	sars := make([]*domain.SAR, 0, len(v.SARs))
	for _, s := range v.SARs {
		if s.CreatedAt.Before(f.Since) || (!f.IncludeClosed && s.Status == domain.SARFiled) {
			continue
		}
		sars = append(sars, s)
	}
	v.SARs = sars

	if v.Documents == nil {
		v.Documents = []*domain.Document{}
	}
}

// Invalidate drops the cached view of a subject.
func (a *Assembler) Invalidate(ctx context.Context, subjectID string) error {
	if a.cache == nil {
		return nil
	}
	return a.cache.Delete(ctx, cacheKey(subjectID))
}

// Observe drops the cached view of the entry's subject. Registered with the
// local audit recorder it runs before the write's caller returns, so a read
// that follows a write on this node never sees the old view.
func (a *Assembler) Observe(ctx context.Context, entry domain.AuditEntry) {
	if entry.SubjectID == "" {
		return
	}
	if err := a.Invalidate(ctx, entry.SubjectID); err != nil {
		slog.Warn("entity view invalidation failed",
			"subject_id", entry.SubjectID,
			"action", entry.Action,
			"error", err,
		)
	}
}

// Subscribe invalidates cached views whenever an audit entry for their
// subject appears on the bus. It keeps views fresh on nodes that did not
// perform the write.
func (a *Assembler) Subscribe(ctx context.Context, bus domain.EventBus) (domain.Subscription, error) {
	return bus.Subscribe(ctx, domain.TopicAudit, func(ctx context.Context, msg *domain.Message) error {
		entry, err := audit.Decode(msg)
		if err != nil {
			return fmt.Errorf("failed to decode audit entry: %w", err)
		}
		if entry.SubjectID == "" {
			return nil
		}
		return a.Invalidate(ctx, entry.SubjectID)
	})
}

// ValidateConsistency rechecks every reference reachable from the subject and
// returns all violations found. Only store failures are returned as errors.
func (a *Assembler) ValidateConsistency(ctx context.Context, subjectID string) ([]ConsistencyViolation, error) {
	view, err := a.load(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	c := &checker{repo: a.repo, subjectID: subjectID, violations: []ConsistencyViolation{}}

	for _, d := range view.Documents {
		c.expect(domain.EntityDocument, d.ID, "subjectId", subjectID, d.SubjectID)
	}
	for _, tx := range view.Transactions {
		c.expect(domain.EntityTransaction, tx.ID, "senderUserId", subjectID, tx.SenderUserID)
	}
	for _, al := range view.Alerts {
		if err := c.alert(ctx, al); err != nil {
			return nil, err
		}
	}
	for _, cs := range view.Cases {
		if err := c.caseRefs(ctx, cs); err != nil {
			return nil, err
		}
	}
	for _, s := range view.SARs {
		if err := c.sar(ctx, s); err != nil {
			return nil, err
		}
	}

	return c.violations, nil
}

type checker struct {
	repo       domain.Repository
	subjectID  string
	violations []ConsistencyViolation
}

func (c *checker) expect(entityType, id, field, expected, actual string) {
	if expected != actual {
		c.violations = append(c.violations, ConsistencyViolation{
			EntityType: entityType,
			EntityID:   id,
			Field:      field,
			Expected:   expected,
			Actual:     actual,
		})
	}
}

func (c *checker) alert(ctx context.Context, al *domain.TransactionAlert) error {
	c.expect(domain.EntityAlert, al.ID, "userId", c.subjectID, al.UserID)

	tx, err := lookup(c.repo.GetTransaction(ctx, al.TransactionID))
	if err != nil {
		return err
	}
	if tx == nil {
		c.expect(domain.EntityAlert, al.ID, "transactionId", al.TransactionID, missing)
	} else {
		c.expect(domain.EntityAlert, al.ID, "transaction.senderUserId", al.UserID, tx.SenderUserID)
	}

	if al.Resolution != domain.ResolutionEscalated {
		return nil
	}
	if al.CaseID == "" {
		c.expect(domain.EntityAlert, al.ID, "caseId", "<escalation case>", missing)
		return nil
	}
	cs, err := lookup(c.repo.GetCase(ctx, al.CaseID))
	if err != nil {
		return err
	}
	if cs == nil {
		c.expect(domain.EntityAlert, al.ID, "caseId", al.CaseID, missing)
	} else {
		c.expect(domain.EntityAlert, al.ID, "case.userId", al.UserID, cs.UserID)
	}
	return nil
}

func (c *checker) caseRefs(ctx context.Context, cs *domain.ComplianceCase) error {
	c.expect(domain.EntityCase, cs.ID, "userId", c.subjectID, cs.UserID)

	if cs.Source != domain.SourceAlert || cs.SourceID == "" {
		return nil
	}
	al, err := lookup(c.repo.GetAlert(ctx, cs.SourceID))
	if err != nil {
		return err
	}
	if al == nil {
		c.expect(domain.EntityCase, cs.ID, "sourceId", cs.SourceID, missing)
	} else {
		c.expect(domain.EntityCase, cs.ID, "alert.userId", cs.UserID, al.UserID)
	}
	return nil
}

func (c *checker) sar(ctx context.Context, s *domain.SAR) error {
	c.expect(domain.EntitySAR, s.ID, "subjectId", c.subjectID, s.SubjectID)

	if s.LinkedCase != "" {
		cs, err := lookup(c.repo.GetCase(ctx, s.LinkedCase))
		if err != nil {
			return err
		}
		if cs == nil {
			c.expect(domain.EntitySAR, s.ID, "linkedCase", s.LinkedCase, missing)
		} else {
			c.expect(domain.EntitySAR, s.ID, "linkedCase.userId", s.SubjectID, cs.UserID)
		}
	}

	for _, txID := range s.LinkedTransactions {
		tx, err := lookup(c.repo.GetTransaction(ctx, txID))
		if err != nil {
			return err
		}
		if tx == nil {
			c.expect(domain.EntitySAR, s.ID, "linkedTransactions", txID, missing)
			continue
		}
		c.expect(domain.EntitySAR, s.ID, "linkedTransactions["+txID+"].senderUserId", s.SubjectID, tx.SenderUserID)
	}
	return nil
}

// lookup turns ErrNotFound into a nil record.
func lookup[T any](rec *T, err error) (*T, error) {
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}
