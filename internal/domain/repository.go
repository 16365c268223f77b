// Package domain defines the core interfaces and types for Heron.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
//
// Create methods set Version to 1. Update methods only write when the stored
// version equals the record's Version, bump it on success, and return
// ErrConflictingState otherwise. Get methods return ErrNotFound for missing
// records.
type Repository interface {
	// Subjects and documents
	CreateSubject(ctx context.Context, s *Subject) error
	GetSubject(ctx context.Context, id string) (*Subject, error)
	UpdateSubject(ctx context.Context, s *Subject) error
	SaveDocument(ctx context.Context, d *Document) error
	ListDocumentsBySubject(ctx context.Context, subjectID string) ([]*Document, error)

	// Transactions
	CreateTransaction(ctx context.Context, tx *AMLTransaction) error
	GetTransaction(ctx context.Context, id string) (*AMLTransaction, error)
	UpdateTransaction(ctx context.Context, tx *AMLTransaction) error
	ListTransactionsBySubject(ctx context.Context, subjectID string, since time.Time) ([]*AMLTransaction, error)

	// Rule catalog, ordered by rule id. SaveRule returns ErrConflictingState
	// when it would change the definition of a rule an assessment matched.
	SaveRule(ctx context.Context, rule *Rule) error
	GetRule(ctx context.Context, ruleID string) (*Rule, error)
	ListRules(ctx context.Context) ([]*Rule, error)

	// Assessment history, append-only, newest first
	SaveAssessment(ctx context.Context, result *RiskAssessmentResult) error
	ListAssessmentsBySubject(ctx context.Context, subjectID string) ([]*RiskAssessmentResult, error)

	// Alerts
	CreateAlert(ctx context.Context, alert *TransactionAlert) error
	GetAlert(ctx context.Context, id string) (*TransactionAlert, error)
	UpdateAlert(ctx context.Context, alert *TransactionAlert) error
	FindActiveAlertByTransaction(ctx context.Context, txID string) (*TransactionAlert, error)
	ListAlertsBySubject(ctx context.Context, subjectID string) ([]*TransactionAlert, error)

	// Cases
	CreateCase(ctx context.Context, c *ComplianceCase) error
	GetCase(ctx context.Context, id string) (*ComplianceCase, error)
	UpdateCase(ctx context.Context, c *ComplianceCase) error
	ListCasesBySubject(ctx context.Context, subjectID string) ([]*ComplianceCase, error)

	// SARs and their history
	CreateSAR(ctx context.Context, sar *SAR) error
	GetSAR(ctx context.Context, id string) (*SAR, error)
	UpdateSAR(ctx context.Context, sar *SAR) error
	ListSARsBySubject(ctx context.Context, subjectID string) ([]*SAR, error)
	ListSARsByCase(ctx context.Context, caseID string) ([]*SAR, error)
	AppendSARHistory(ctx context.Context, entry *SARHistoryEntry) error
	ListSARHistory(ctx context.Context, sarID string) ([]*SARHistoryEntry, error)

	// Audit log
	SaveAuditEntry(ctx context.Context, entry *AuditEntry) error
	ListAuditEntries(ctx context.Context, entityType, entityID string) ([]*AuditEntry, error)

	// WithinTx runs fn against a repository bound to one store transaction.
	// The transaction commits when fn returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(Repository) error) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the store driver: "sqlite", "postgres" or "memory"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
