package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
)

// MemoryRepository implements domain.Repository in process memory.
// It keeps the same ordering and version semantics as SQLRepository and is
// used by tests and the "memory" driver.
type MemoryRepository struct {
	mu   *sync.RWMutex
	st   *memState
	inTx bool
}

type memState struct {
	subjects     map[string]*domain.Subject
	documents    map[string]*domain.Document
	transactions map[string]*domain.AMLTransaction
	rules        map[string]*domain.Rule
	assessments  map[string][]*domain.RiskAssessmentResult
	matched      map[string]bool // rule ids referenced by an assessment
	alerts       map[string]*domain.TransactionAlert
	cases        map[string]*domain.ComplianceCase
	sars         map[string]*domain.SAR
	history      map[string][]*domain.SARHistoryEntry
	audit        []*domain.AuditEntry
}

func newMemState() *memState {
	return &memState{
		subjects:     make(map[string]*domain.Subject),
		documents:    make(map[string]*domain.Document),
		transactions: make(map[string]*domain.AMLTransaction),
		rules:        make(map[string]*domain.Rule),
		assessments:  make(map[string][]*domain.RiskAssessmentResult),
		matched:      make(map[string]bool),
		alerts:       make(map[string]*domain.TransactionAlert),
		cases:        make(map[string]*domain.ComplianceCase),
		sars:         make(map[string]*domain.SAR),
		history:      make(map[string][]*domain.SARHistoryEntry),
	}
}

// clone copies the indexes. Stored records are never mutated in place, so
// sharing the pointers between snapshots is safe.
func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.subjects {
		c.subjects[k] = v
	}
	for k, v := range s.documents {
		c.documents[k] = v
	}
	for k, v := range s.transactions {
		c.transactions[k] = v
	}
	for k, v := range s.rules {
		c.rules[k] = v
	}
	for k, v := range s.assessments {
		c.assessments[k] = v[:len(v):len(v)]
	}
	for k, v := range s.matched {
		c.matched[k] = v
	}
	for k, v := range s.alerts {
		c.alerts[k] = v
	}
	for k, v := range s.cases {
		c.cases[k] = v
	}
	for k, v := range s.sars {
		c.sars[k] = v
	}
	for k, v := range s.history {
		c.history[k] = v[:len(v):len(v)]
	}
	c.audit = s.audit[:len(s.audit):len(s.audit)]
	return c
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		mu: &sync.RWMutex{},
		st: newMemState(),
	}
}

func (r *MemoryRepository) read(fn func(st *memState)) {
	if !r.inTx {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}
	fn(r.st)
}

func (r *MemoryRepository) write(fn func(st *memState) error) error {
	if !r.inTx {
		r.mu.Lock()
		defer r.mu.Unlock()
	}
	return fn(r.st)
}

// WithinTx runs fn against a snapshot of the store and publishes the
// snapshot only if fn succeeds. fn must use the repository it is given;
// calling back into r from fn deadlocks.
func (r *MemoryRepository) WithinTx(ctx context.Context, fn func(domain.Repository) error) error {
	if r.inTx {
		return fn(r)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	child := &MemoryRepository{mu: r.mu, st: r.st.clone(), inTx: true}
	if err := fn(child); err != nil {
		return err
	}
	r.st = child.st
	return nil
}

// Ping always succeeds.
func (r *MemoryRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close is a no-op.
func (r *MemoryRepository) Close() error {
	return nil
}

func notFound(kind, id string) error {
	return fmt.Errorf("%w: %s %s", domain.ErrNotFound, kind, id)
}

func duplicate(kind, id string) error {
	return fmt.Errorf("%w: %s %s already exists", domain.ErrConflictingState, kind, id)
}

func referencedRule(ruleID string) error {
	return fmt.Errorf("%w: rule %s is referenced by stored assessments; only enabled may change", domain.ErrConflictingState, ruleID)
}

// checkVersion mirrors the guarded UPDATE of the SQL store.
func checkVersion(kind, id string, stored, given int) error {
	if stored != given {
		return fmt.Errorf("%w: %s %s was modified concurrently", domain.ErrConflictingState, kind, id)
	}
	return nil
}

// newestFirst orders by time descending, then id ascending.
func newestFirst(a, b time.Time, idA, idB string) bool {
	if !a.Equal(b) {
		return a.After(b)
	}
	return idA < idB
}

// --- Subjects and documents ---

func (r *MemoryRepository) CreateSubject(ctx context.Context, s *domain.Subject) error {
	return r.write(func(st *memState) error {
		if _, ok := st.subjects[s.ID]; ok {
			return duplicate("subject", s.ID)
		}
		s.Version = 1
		c := *s
		st.subjects[s.ID] = &c
		return nil
	})
}

func (r *MemoryRepository) GetSubject(ctx context.Context, id string) (*domain.Subject, error) {
	var out *domain.Subject
	r.read(func(st *memState) {
		if s, ok := st.subjects[id]; ok {
			c := *s
			out = &c
		}
	})
	if out == nil {
		return nil, notFound("subject", id)
	}
	return out, nil
}

func (r *MemoryRepository) UpdateSubject(ctx context.Context, s *domain.Subject) error {
	return r.write(func(st *memState) error {
		cur, ok := st.subjects[s.ID]
		if !ok {
			return notFound("subjects", s.ID)
		}
		if err := checkVersion("subjects", s.ID, cur.Version, s.Version); err != nil {
			return err
		}
		s.Version++
		c := *s
		st.subjects[s.ID] = &c
		return nil
	})
}

func cloneDocument(d *domain.Document) *domain.Document {
	c := *d
	if d.RejectionReason != nil {
		v := *d.RejectionReason
		c.RejectionReason = &v
	}
	if d.Identity != nil {
		v := *d.Identity
		c.Identity = &v
	}
	if d.Address != nil {
		v := *d.Address
		c.Address = &v
	}
	if d.Statement != nil {
		v := *d.Statement
		c.Statement = &v
	}
	return &c
}

func (r *MemoryRepository) SaveDocument(ctx context.Context, d *domain.Document) error {
	return r.write(func(st *memState) error {
		c := cloneDocument(d)
		if cur, ok := st.documents[d.ID]; ok {
			// Ownership, kind and upload time are fixed once stored.
			c.SubjectID, c.Kind, c.UploadedAt = cur.SubjectID, cur.Kind, cur.UploadedAt
		}
		st.documents[d.ID] = c
		return nil
	})
}

func (r *MemoryRepository) ListDocumentsBySubject(ctx context.Context, subjectID string) ([]*domain.Document, error) {
	var out []*domain.Document
	r.read(func(st *memState) {
		for _, d := range st.documents {
			if d.SubjectID == subjectID {
				out = append(out, cloneDocument(d))
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		return newestFirst(out[i].UploadedAt, out[j].UploadedAt, out[i].ID, out[j].ID)
	})
	return out, nil
}

// --- Transactions ---

func (r *MemoryRepository) CreateTransaction(ctx context.Context, tx *domain.AMLTransaction) error {
	return r.write(func(st *memState) error {
		if _, ok := st.transactions[tx.ID]; ok {
			return duplicate("transaction", tx.ID)
		}
		tx.Version = 1
		c := *tx
		st.transactions[tx.ID] = &c
		return nil
	})
}

func (r *MemoryRepository) GetTransaction(ctx context.Context, id string) (*domain.AMLTransaction, error) {
	var out *domain.AMLTransaction
	r.read(func(st *memState) {
		if tx, ok := st.transactions[id]; ok {
			c := *tx
			out = &c
		}
	})
	if out == nil {
		return nil, notFound("transaction", id)
	}
	return out, nil
}

func (r *MemoryRepository) UpdateTransaction(ctx context.Context, tx *domain.AMLTransaction) error {
	return r.write(func(st *memState) error {
		cur, ok := st.transactions[tx.ID]
		if !ok {
			return notFound("transactions", tx.ID)
		}
		if err := checkVersion("transactions", tx.ID, cur.Version, tx.Version); err != nil {
			return err
		}
		tx.Version++
		c := *cur
		c.Status, c.RiskScore, c.IsSuspect, c.Version = tx.Status, tx.RiskScore, tx.IsSuspect, tx.Version
		st.transactions[tx.ID] = &c
		return nil
	})
}

func (r *MemoryRepository) ListTransactionsBySubject(ctx context.Context, subjectID string, since time.Time) ([]*domain.AMLTransaction, error) {
	var out []*domain.AMLTransaction
	r.read(func(st *memState) {
		for _, tx := range st.transactions {
			if tx.SenderUserID == subjectID && !tx.Timestamp.Before(since) {
				c := *tx
				out = append(out, &c)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		return newestFirst(out[i].Timestamp, out[j].Timestamp, out[i].ID, out[j].ID)
	})
	return out, nil
}

// --- Rules ---

func (r *MemoryRepository) SaveRule(ctx context.Context, rule *domain.Rule) error {
	return r.write(func(st *memState) error {
		now := time.Now().UTC()
		if rule.CreatedAt.IsZero() {
			rule.CreatedAt = now
		}
		rule.UpdatedAt = now

		c := *rule
		if cur, ok := st.rules[rule.RuleID]; ok {
			if st.matched[rule.RuleID] && !cur.SameDefinition(*rule) {
				return referencedRule(rule.RuleID)
			}
			c.ID, c.CreatedAt = cur.ID, cur.CreatedAt
		}
		st.rules[rule.RuleID] = &c
		return nil
	})
}

func (r *MemoryRepository) GetRule(ctx context.Context, ruleID string) (*domain.Rule, error) {
	var out *domain.Rule
	r.read(func(st *memState) {
		if rule, ok := st.rules[ruleID]; ok {
			c := *rule
			out = &c
		}
	})
	if out == nil {
		return nil, notFound("rule", ruleID)
	}
	return out, nil
}

func (r *MemoryRepository) ListRules(ctx context.Context) ([]*domain.Rule, error) {
	var out []*domain.Rule
	r.read(func(st *memState) {
		for _, rule := range st.rules {
			c := *rule
			out = append(out, &c)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].RuleID < out[j].RuleID })
	return out, nil
}

// --- Assessments ---

func cloneAssessment(a *domain.RiskAssessmentResult) *domain.RiskAssessmentResult {
	c := *a
	c.MatchedRules = append([]domain.RuleMatch{}, a.MatchedRules...)
	return &c
}

func (r *MemoryRepository) SaveAssessment(ctx context.Context, result *domain.RiskAssessmentResult) error {
	return r.write(func(st *memState) error {
		st.assessments[result.SubjectID] = append(st.assessments[result.SubjectID], cloneAssessment(result))
		for _, m := range result.MatchedRules {
			st.matched[m.RuleID] = true
		}
		return nil
	})
}

func (r *MemoryRepository) ListAssessmentsBySubject(ctx context.Context, subjectID string) ([]*domain.RiskAssessmentResult, error) {
	var out []*domain.RiskAssessmentResult
	r.read(func(st *memState) {
		for _, a := range st.assessments[subjectID] {
			out = append(out, cloneAssessment(a))
		}
	})
	sort.SliceStable(out, func(i, j int) bool {
		return newestFirst(out[i].EvaluatedAt, out[j].EvaluatedAt, out[i].ID, out[j].ID)
	})
	return out, nil
}

// --- Alerts ---

func (r *MemoryRepository) CreateAlert(ctx context.Context, a *domain.TransactionAlert) error {
	return r.write(func(st *memState) error {
		if _, ok := st.alerts[a.ID]; ok {
			return duplicate("alert", a.ID)
		}
		a.Version = 1
		st.alerts[a.ID] = a.Clone()
		return nil
	})
}

func (r *MemoryRepository) GetAlert(ctx context.Context, id string) (*domain.TransactionAlert, error) {
	var out *domain.TransactionAlert
	r.read(func(st *memState) {
		if a, ok := st.alerts[id]; ok {
			out = a.Clone()
		}
	})
	if out == nil {
		return nil, notFound("alert", id)
	}
	return out, nil
}

func (r *MemoryRepository) UpdateAlert(ctx context.Context, a *domain.TransactionAlert) error {
	return r.write(func(st *memState) error {
		cur, ok := st.alerts[a.ID]
		if !ok {
			return notFound("alerts", a.ID)
		}
		if err := checkVersion("alerts", a.ID, cur.Version, a.Version); err != nil {
			return err
		}
		a.Version++
		st.alerts[a.ID] = a.Clone()
		return nil
	})
}

func (r *MemoryRepository) FindActiveAlertByTransaction(ctx context.Context, txID string) (*domain.TransactionAlert, error) {
	var out *domain.TransactionAlert
	r.read(func(st *memState) {
		for _, a := range st.alerts {
			if a.TransactionID != txID || !a.Status.Active() {
				continue
			}
			if out == nil || a.Timestamp.Before(out.Timestamp) ||
				(a.Timestamp.Equal(out.Timestamp) && a.ID < out.ID) {
				out = a
			}
		}
		if out != nil {
			out = out.Clone()
		}
	})
	if out == nil {
		return nil, fmt.Errorf("%w: no active alert for transaction %s", domain.ErrNotFound, txID)
	}
	return out, nil
}

func (r *MemoryRepository) ListAlertsBySubject(ctx context.Context, subjectID string) ([]*domain.TransactionAlert, error) {
	var out []*domain.TransactionAlert
	r.read(func(st *memState) {
		for _, a := range st.alerts {
			if a.UserID == subjectID {
				out = append(out, a.Clone())
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		return newestFirst(out[i].Timestamp, out[j].Timestamp, out[i].ID, out[j].ID)
	})
	return out, nil
}

// --- Cases ---

func cloneCase(c *domain.ComplianceCase) *domain.ComplianceCase {
	out := *c
	if c.ResolvedAt != nil {
		t := *c.ResolvedAt
		out.ResolvedAt = &t
	}
	return &out
}

func (r *MemoryRepository) CreateCase(ctx context.Context, c *domain.ComplianceCase) error {
	return r.write(func(st *memState) error {
		if _, ok := st.cases[c.ID]; ok {
			return duplicate("case", c.ID)
		}
		c.Version = 1
		st.cases[c.ID] = cloneCase(c)
		return nil
	})
}

func (r *MemoryRepository) GetCase(ctx context.Context, id string) (*domain.ComplianceCase, error) {
	var out *domain.ComplianceCase
	r.read(func(st *memState) {
		if c, ok := st.cases[id]; ok {
			out = cloneCase(c)
		}
	})
	if out == nil {
		return nil, notFound("case", id)
	}
	return out, nil
}

func (r *MemoryRepository) UpdateCase(ctx context.Context, c *domain.ComplianceCase) error {
	return r.write(func(st *memState) error {
		cur, ok := st.cases[c.ID]
		if !ok {
			return notFound("cases", c.ID)
		}
		if err := checkVersion("cases", c.ID, cur.Version, c.Version); err != nil {
			return err
		}
		c.Version++
		st.cases[c.ID] = cloneCase(c)
		return nil
	})
}

func (r *MemoryRepository) ListCasesBySubject(ctx context.Context, subjectID string) ([]*domain.ComplianceCase, error) {
	var out []*domain.ComplianceCase
	r.read(func(st *memState) {
		for _, c := range st.cases {
			if c.UserID == subjectID {
				out = append(out, cloneCase(c))
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		return newestFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID)
	})
	return out, nil
}

// --- SARs ---

func (r *MemoryRepository) CreateSAR(ctx context.Context, s *domain.SAR) error {
	return r.write(func(st *memState) error {
		if _, ok := st.sars[s.ID]; ok {
			return duplicate("sar", s.ID)
		}
		s.Version = 1
		st.sars[s.ID] = s.Clone()
		return nil
	})
}

func (r *MemoryRepository) GetSAR(ctx context.Context, id string) (*domain.SAR, error) {
	var out *domain.SAR
	r.read(func(st *memState) {
		if s, ok := st.sars[id]; ok {
			out = s.Clone()
		}
	})
	if out == nil {
		return nil, notFound("sar", id)
	}
	return out, nil
}

func (r *MemoryRepository) UpdateSAR(ctx context.Context, s *domain.SAR) error {
	return r.write(func(st *memState) error {
		cur, ok := st.sars[s.ID]
		if !ok {
			return notFound("sars", s.ID)
		}
		if err := checkVersion("sars", s.ID, cur.Version, s.Version); err != nil {
			return err
		}
		s.Version++
		st.sars[s.ID] = s.Clone()
		return nil
	})
}

func (r *MemoryRepository) listSARs(match func(*domain.SAR) bool) []*domain.SAR {
	var out []*domain.SAR
	r.read(func(st *memState) {
		for _, s := range st.sars {
			if match(s) {
				out = append(out, s.Clone())
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		return newestFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID)
	})
	return out
}

func (r *MemoryRepository) ListSARsBySubject(ctx context.Context, subjectID string) ([]*domain.SAR, error) {
	return r.listSARs(func(s *domain.SAR) bool { return s.SubjectID == subjectID }), nil
}

func (r *MemoryRepository) ListSARsByCase(ctx context.Context, caseID string) ([]*domain.SAR, error) {
	return r.listSARs(func(s *domain.SAR) bool { return caseID != "" && s.LinkedCase == caseID }), nil
}

func (r *MemoryRepository) AppendSARHistory(ctx context.Context, e *domain.SARHistoryEntry) error {
	return r.write(func(st *memState) error {
		c := *e
		st.history[e.SARID] = append(st.history[e.SARID], &c)
		return nil
	})
}

func (r *MemoryRepository) ListSARHistory(ctx context.Context, sarID string) ([]*domain.SARHistoryEntry, error) {
	var out []*domain.SARHistoryEntry
	r.read(func(st *memState) {
		for _, e := range st.history[sarID] {
			c := *e
			out = append(out, &c)
		}
	})
	return out, nil
}

// --- Audit ---

func (r *MemoryRepository) SaveAuditEntry(ctx context.Context, e *domain.AuditEntry) error {
	return r.write(func(st *memState) error {
		c := *e
		if e.Details != nil {
			c.Details = make(map[string]any, len(e.Details))
			for k, v := range e.Details {
				c.Details[k] = v
			}
		}
		st.audit = append(st.audit, &c)
		return nil
	})
}

func (r *MemoryRepository) ListAuditEntries(ctx context.Context, entityType, entityID string) ([]*domain.AuditEntry, error) {
	var out []*domain.AuditEntry
	r.read(func(st *memState) {
		for _, e := range st.audit {
			if e.EntityType == entityType && e.EntityID == entityID {
				c := *e
				out = append(out, &c)
			}
		}
	})
	return out, nil
}

var _ domain.Repository = (*MemoryRepository)(nil)
