// Package evidence assembles risk evidence for subjects and transactions
// from what the store already knows about them.
package evidence

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/heron/internal/domain"
)

// Attribute keys exposed to rule expressions as evidence.<key>.
const (
	AttrIsPEP             = "is_pep"
	AttrIsSanctioned      = "is_sanctioned"
	AttrKYCStatus         = "kyc_status"
	AttrRejectedDocuments = "rejected_documents"
	AttrTxCount           = "tx_count"
	AttrTxTotal           = "tx_total"
	AttrTxMax             = "tx_max"
	AttrReceiverCountries = "receiver_countries"
	AttrAmount            = "amount"
	AttrCurrency          = "currency"
	AttrMethod            = "method"
	AttrSenderCountry     = "sender_country"
	AttrReceiverCountry   = "receiver_country"
)

// Factor names produced by the builder.
const (
	FactorAmount       = "amount"
	FactorVelocity     = "velocity"
	FactorJurisdiction = "jurisdiction"
	FactorPEP          = "pep"
	FactorSanctions    = "sanctions"
	FactorKYC          = "kyc"
	FactorDocuments    = "documents"
)

// Options tunes how raw data maps onto factor values.
type Options struct {
	Window            time.Duration
	LargeAmount       float64
	VelocityLimit     int
	HighRiskCountries []string
}

// OptionsFromConfig derives builder options from the risk configuration.
func OptionsFromConfig(cfg domain.RiskConfig) Options {
	return Options{
		Window:            cfg.VelocityWindow,
		LargeAmount:       cfg.LargeAmount,
		VelocityLimit:     cfg.VelocityLimit,
		HighRiskCountries: cfg.HighRiskCountries,
	}
}

// Builder reads subjects, documents and transaction history and turns them
// into domain.Evidence.
type Builder struct {
	repo     domain.Repository
	opts     Options
	highRisk map[string]bool
	now      func() time.Time
}

// NewBuilder creates a builder over repo.
func NewBuilder(repo domain.Repository, opts Options) *Builder {
	if opts.Window <= 0 {
		opts.Window = 24 * time.Hour
	}
	if opts.LargeAmount <= 0 {
		opts.LargeAmount = 10000
	}
	if opts.VelocityLimit <= 0 {
		opts.VelocityLimit = 10
	}

	highRisk := make(map[string]bool, len(opts.HighRiskCountries))
	for _, c := range opts.HighRiskCountries {
		highRisk[strings.ToUpper(c)] = true
	}

	return &Builder{
		repo:     repo,
		opts:     opts,
		highRisk: highRisk,
		now:      time.Now,
	}
}

// WindowStats summarises a subject's transactions inside the velocity window.
type WindowStats struct {
	Count             int
	Total             decimal.Decimal
	Max               decimal.Decimal
	ReceiverCountries []string
}

// Window computes statistics over the subject's transactions sent within the
// configured window ending now.
func (b *Builder) Window(ctx context.Context, subjectID string) (WindowStats, error) {
	since := b.now().Add(-b.opts.Window)
	txs, err := b.repo.ListTransactionsBySubject(ctx, subjectID, since)
	if err != nil {
		return WindowStats{}, fmt.Errorf("failed to list transactions: %w", err)
	}

	stats := WindowStats{Total: decimal.Zero, Max: decimal.Zero, ReceiverCountries: []string{}}
	seen := make(map[string]bool)
	for _, tx := range txs {
		if tx.Status == domain.TxFailed {
			continue
		}
		stats.Count++
		stats.Total = stats.Total.Add(tx.SenderAmount)
		if tx.SenderAmount.GreaterThan(stats.Max) {
			stats.Max = tx.SenderAmount
		}
		if c := tx.ReceiverCountryCode; c != "" && !seen[c] {
			seen[c] = true
			stats.ReceiverCountries = append(stats.ReceiverCountries, c)
		}
	}
	sort.Strings(stats.ReceiverCountries)
	return stats, nil
}

// ForSubject builds evidence for a subject: flags, document state and recent
// activity. It carries no category, so every rule in the catalog is in scope
// unless the caller narrows it. Transaction attributes are absent.
func (b *Builder) ForSubject(ctx context.Context, subjectID string) (*domain.Evidence, error) {
	subject, err := b.repo.GetSubject(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	docs, err := b.repo.ListDocumentsBySubject(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	stats, err := b.Window(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	rejected := 0
	for _, d := range docs {
		if d.Status == domain.DocRejected {
			rejected++
		}
	}

	attrs := subjectAttributes(subject)
	addWindowAttributes(attrs, stats)
	attrs[AttrRejectedDocuments] = int64(rejected)

	docScore := 0.0
	if len(docs) > 0 {
		docScore = 100 * float64(rejected) / float64(len(docs))
	}

	return &domain.Evidence{
		SubjectID: subjectID,
		Factors: []domain.RiskFactor{
			{Name: FactorPEP, Value: flagValue(subject.IsPEP), Weight: 0.3},
			{Name: FactorSanctions, Value: flagValue(subject.IsSanctioned), Weight: 0.4},
			{Name: FactorKYC, Value: kycValue(subject.KYCStatus), Weight: 0.2},
			{Name: FactorDocuments, Value: docScore, Weight: 0.1},
		},
		Attributes: attrs,
	}, nil
}

// ForTransaction builds transaction evidence: the payment itself plus the
// sender's recent activity. A sender unknown to the store contributes no
// subject attributes.
func (b *Builder) ForTransaction(ctx context.Context, tx *domain.AMLTransaction) (*domain.Evidence, error) {
	stats, err := b.Window(ctx, tx.SenderUserID)
	if err != nil {
		return nil, err
	}

	attrs := map[string]any{}
	subject, err := b.repo.GetSubject(ctx, tx.SenderUserID)
	switch {
	case err == nil:
		attrs = subjectAttributes(subject)
	case !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}
	addWindowAttributes(attrs, stats)

	amount, _ := tx.SenderAmount.Float64()
	attrs[AttrAmount] = amount
	attrs[AttrCurrency] = tx.SenderCurrency
	attrs[AttrMethod] = tx.Method
	attrs[AttrSenderCountry] = tx.SenderCountryCode
	attrs[AttrReceiverCountry] = tx.ReceiverCountryCode

	jurisdiction := 0.0
	if b.highRisk[strings.ToUpper(tx.ReceiverCountryCode)] || b.highRisk[strings.ToUpper(tx.SenderCountryCode)] {
		jurisdiction = 100
	}

	return &domain.Evidence{
		SubjectID: tx.SenderUserID,
		Category:  domain.CategoryTransaction,
		Factors: []domain.RiskFactor{
			{Name: FactorAmount, Value: ratio(amount, b.opts.LargeAmount), Weight: 0.5},
			{Name: FactorVelocity, Value: ratio(float64(stats.Count), float64(b.opts.VelocityLimit)), Weight: 0.3},
			{Name: FactorJurisdiction, Value: jurisdiction, Weight: 0.2},
		},
		Attributes: attrs,
	}, nil
}

func subjectAttributes(s *domain.Subject) map[string]any {
	return map[string]any{
		AttrIsPEP:        s.IsPEP,
		AttrIsSanctioned: s.IsSanctioned,
		AttrKYCStatus:    string(s.KYCStatus),
	}
}

func addWindowAttributes(attrs map[string]any, stats WindowStats) {
	total, _ := stats.Total.Float64()
	largest, _ := stats.Max.Float64()
	attrs[AttrTxCount] = int64(stats.Count)
	attrs[AttrTxTotal] = total
	attrs[AttrTxMax] = largest
	attrs[AttrReceiverCountries] = stats.ReceiverCountries
}

// ratio maps v onto [0,100] where limit scores 100.
func ratio(v, limit float64) float64 {
	if limit <= 0 || v <= 0 || math.IsNaN(v) {
		return 0
	}
	return math.Min(100, 100*v/limit)
}

func flagValue(b bool) float64 {
	if b {
		return 100
	}
	return 0
}

func kycValue(s domain.KYCStatus) float64 {
	switch s {
	case domain.KYCApproved:
		return 0
	case domain.KYCPending:
		return 50
	case domain.KYCInformationRequested:
		return 60
	case domain.KYCRejected:
		return 100
	default:
		return 50
	}
}
