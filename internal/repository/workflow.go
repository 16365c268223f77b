package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opensource-finance/heron/internal/domain"
)

const alertColumns = `
	id, transaction_id, user_id, user_name, type, description, status,
	resolution, case_id, notes, timestamp, updated_at, version
`

func scanAlert(row rowScanner) (*domain.TransactionAlert, error) {
	var a domain.TransactionAlert
	var notes string

	if err := row.Scan(
		&a.ID, &a.TransactionID, &a.UserID, &a.UserName, &a.Type, &a.Description, &a.Status,
		&a.Resolution, &a.CaseID, &notes, &a.Timestamp, &a.UpdatedAt, &a.Version,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(notes), &a.Notes); err != nil {
		return nil, fmt.Errorf("failed to parse alert %s notes: %w", a.ID, err)
	}
	if a.Notes == nil {
		a.Notes = []string{}
	}
	return &a, nil
}

func encodeStrings(v []string) (string, error) {
	if v == nil {
		v = []string{}
	}
	b, err := json.Marshal(v)
	return string(b), err
}

// CreateAlert stores a new alert.
func (r *SQLRepository) CreateAlert(ctx context.Context, a *domain.TransactionAlert) error {
	notes, err := encodeStrings(a.Notes)
	if err != nil {
		return err
	}
	a.Version = 1

	query := `INSERT INTO alerts (` + alertColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.q.ExecContext(ctx, r.rebind(query),
		a.ID, a.TransactionID, a.UserID, a.UserName, a.Type, a.Description, a.Status,
		a.Resolution, a.CaseID, notes, a.Timestamp, a.UpdatedAt, a.Version,
	)
	return err
}

// GetAlert retrieves an alert by ID.
func (r *SQLRepository) GetAlert(ctx context.Context, id string) (*domain.TransactionAlert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = ?`

	a, err := scanAlert(r.q.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: alert %s", domain.ErrNotFound, id)
	}
	return a, err
}

// UpdateAlert writes an alert if its version is current.
func (r *SQLRepository) UpdateAlert(ctx context.Context, a *domain.TransactionAlert) error {
	notes, err := encodeStrings(a.Notes)
	if err != nil {
		return err
	}

	query := `
		UPDATE alerts SET
			description = ?, status = ?, resolution = ?, case_id = ?, notes = ?,
			updated_at = ?, version = ?
		WHERE id = ? AND version = ?
	`

	res, err := r.q.ExecContext(ctx, r.rebind(query),
		a.Description, a.Status, a.Resolution, a.CaseID, notes,
		a.UpdatedAt, a.Version+1,
		a.ID, a.Version,
	)
	if err != nil {
		return err
	}
	return r.checkUpdated(ctx, res, "alerts", a.ID, &a.Version)
}

// FindActiveAlertByTransaction returns the open or investigating alert for a
// transaction, or ErrNotFound.
func (r *SQLRepository) FindActiveAlertByTransaction(ctx context.Context, txID string) (*domain.TransactionAlert, error) {
	query := `
		SELECT ` + alertColumns + `
		FROM alerts
		WHERE transaction_id = ? AND status IN (?, ?)
		ORDER BY timestamp, id
		LIMIT 1
	`

	a, err := scanAlert(r.q.QueryRowContext(ctx, r.rebind(query), txID, domain.AlertOpen, domain.AlertInvestigating))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no active alert for transaction %s", domain.ErrNotFound, txID)
	}
	return a, err
}

// ListAlertsBySubject returns a subject's alerts, newest first.
func (r *SQLRepository) ListAlertsBySubject(ctx context.Context, subjectID string) ([]*domain.TransactionAlert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE user_id = ? ORDER BY timestamp DESC, id`

	rows, err := r.q.QueryContext(ctx, r.rebind(query), subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.TransactionAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const caseColumns = `
	id, type, status, priority, risk_score, user_id, user_name, description,
	source, source_id, assigned_to, created_at, updated_at, resolved_at, version
`

func scanCase(row rowScanner) (*domain.ComplianceCase, error) {
	var c domain.ComplianceCase
	var resolvedAt sql.NullTime

	if err := row.Scan(
		&c.ID, &c.Type, &c.Status, &c.Priority, &c.RiskScore, &c.UserID, &c.UserName, &c.Description,
		&c.Source, &c.SourceID, &c.AssignedTo, &c.CreatedAt, &c.UpdatedAt, &resolvedAt, &c.Version,
	); err != nil {
		return nil, err
	}
	c.ResolvedAt = nullTime(resolvedAt)
	return &c, nil
}

// CreateCase stores a new case.
func (r *SQLRepository) CreateCase(ctx context.Context, c *domain.ComplianceCase) error {
	c.Version = 1

	query := `INSERT INTO cases (` + caseColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.q.ExecContext(ctx, r.rebind(query),
		c.ID, c.Type, c.Status, c.Priority, c.RiskScore, c.UserID, c.UserName, c.Description,
		c.Source, c.SourceID, c.AssignedTo, c.CreatedAt, c.UpdatedAt, toNullTime(c.ResolvedAt), c.Version,
	)
	return err
}

// GetCase retrieves a case by ID.
func (r *SQLRepository) GetCase(ctx context.Context, id string) (*domain.ComplianceCase, error) {
	query := `SELECT ` + caseColumns + ` FROM cases WHERE id = ?`

	c, err := scanCase(r.q.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: case %s", domain.ErrNotFound, id)
	}
	return c, err
}

// UpdateCase writes a case if its version is current.
func (r *SQLRepository) UpdateCase(ctx context.Context, c *domain.ComplianceCase) error {
	query := `
		UPDATE cases SET
			status = ?, priority = ?, description = ?, assigned_to = ?,
			updated_at = ?, resolved_at = ?, version = ?
		WHERE id = ? AND version = ?
	`

	res, err := r.q.ExecContext(ctx, r.rebind(query),
		c.Status, c.Priority, c.Description, c.AssignedTo,
		c.UpdatedAt, toNullTime(c.ResolvedAt), c.Version+1,
		c.ID, c.Version,
	)
	if err != nil {
		return err
	}
	return r.checkUpdated(ctx, res, "cases", c.ID, &c.Version)
}

// ListCasesBySubject returns a subject's cases, newest first.
func (r *SQLRepository) ListCasesBySubject(ctx context.Context, subjectID string) ([]*domain.ComplianceCase, error) {
	query := `SELECT ` + caseColumns + ` FROM cases WHERE user_id = ? ORDER BY created_at DESC, id`

	rows, err := r.q.QueryContext(ctx, r.rebind(query), subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.ComplianceCase
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const sarColumns = `
	id, status, subject_id, origin, pattern, linked_transactions, linked_case,
	notes, created_at, updated_at, filed_at, version
`

func scanSAR(row rowScanner) (*domain.SAR, error) {
	var s domain.SAR
	var linked string
	var filedAt sql.NullTime

	if err := row.Scan(
		&s.ID, &s.Status, &s.SubjectID, &s.Origin, &s.Pattern, &linked, &s.LinkedCase,
		&s.Notes, &s.CreatedAt, &s.UpdatedAt, &filedAt, &s.Version,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(linked), &s.LinkedTransactions); err != nil {
		return nil, fmt.Errorf("failed to parse sar %s transactions: %w", s.ID, err)
	}
	if s.LinkedTransactions == nil {
		s.LinkedTransactions = []string{}
	}
	s.FiledAt = nullTime(filedAt)
	return &s, nil
}

// CreateSAR stores a new SAR.
func (r *SQLRepository) CreateSAR(ctx context.Context, s *domain.SAR) error {
	linked, err := encodeStrings(s.LinkedTransactions)
	if err != nil {
		return err
	}
	s.Version = 1

	query := `INSERT INTO sars (` + sarColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.q.ExecContext(ctx, r.rebind(query),
		s.ID, s.Status, s.SubjectID, s.Origin, s.Pattern, linked, s.LinkedCase,
		s.Notes, s.CreatedAt, s.UpdatedAt, toNullTime(s.FiledAt), s.Version,
	)
	return err
}

// GetSAR retrieves a SAR by ID.
func (r *SQLRepository) GetSAR(ctx context.Context, id string) (*domain.SAR, error) {
	query := `SELECT ` + sarColumns + ` FROM sars WHERE id = ?`

	s, err := scanSAR(r.q.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: sar %s", domain.ErrNotFound, id)
	}
	return s, err
}

// UpdateSAR writes a SAR if its version is current.
func (r *SQLRepository) UpdateSAR(ctx context.Context, s *domain.SAR) error {
	linked, err := encodeStrings(s.LinkedTransactions)
	if err != nil {
		return err
	}

	query := `
		UPDATE sars SET
			status = ?, linked_transactions = ?, linked_case = ?,
			updated_at = ?, filed_at = ?, version = ?
		WHERE id = ? AND version = ?
	`

	res, err := r.q.ExecContext(ctx, r.rebind(query),
		s.Status, linked, s.LinkedCase,
		s.UpdatedAt, toNullTime(s.FiledAt), s.Version+1,
		s.ID, s.Version,
	)
	if err != nil {
		return err
	}
	return r.checkUpdated(ctx, res, "sars", s.ID, &s.Version)
}

func (r *SQLRepository) listSARs(ctx context.Context, where string, arg string) ([]*domain.SAR, error) {
	query := `SELECT ` + sarColumns + ` FROM sars WHERE ` + where + ` = ? ORDER BY created_at DESC, id`

	rows, err := r.q.QueryContext(ctx, r.rebind(query), arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.SAR
	for rows.Next() {
		s, err := scanSAR(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListSARsBySubject returns SARs filed about a subject, newest first.
func (r *SQLRepository) ListSARsBySubject(ctx context.Context, subjectID string) ([]*domain.SAR, error) {
	return r.listSARs(ctx, "subject_id", subjectID)
}

// ListSARsByCase returns SARs linked to a case, newest first.
func (r *SQLRepository) ListSARsByCase(ctx context.Context, caseID string) ([]*domain.SAR, error) {
	return r.listSARs(ctx, "linked_case", caseID)
}

// AppendSARHistory appends an entry to a SAR's history.
func (r *SQLRepository) AppendSARHistory(ctx context.Context, e *domain.SARHistoryEntry) error {
	query := `
		INSERT INTO sar_history (
			id, sar_id, action, from_status, to_status, notes, actor_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.q.ExecContext(ctx, r.rebind(query),
		e.ID, e.SARID, e.Action, e.FromStatus, e.ToStatus, e.Notes, e.ActorID, e.CreatedAt,
	)
	return err
}

// ListSARHistory returns a SAR's history, oldest first.
func (r *SQLRepository) ListSARHistory(ctx context.Context, sarID string) ([]*domain.SARHistoryEntry, error) {
	query := `
		SELECT id, sar_id, action, from_status, to_status, notes, actor_id, created_at
		FROM sar_history
		WHERE sar_id = ?
		ORDER BY created_at, id
	`

	rows, err := r.q.QueryContext(ctx, r.rebind(query), sarID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.SARHistoryEntry
	for rows.Next() {
		var e domain.SARHistoryEntry
		if err := rows.Scan(
			&e.ID, &e.SARID, &e.Action, &e.FromStatus, &e.ToStatus, &e.Notes, &e.ActorID, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// SaveAuditEntry appends an audit entry.
func (r *SQLRepository) SaveAuditEntry(ctx context.Context, e *domain.AuditEntry) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("failed to encode audit details: %w", err)
	}

	query := `
		INSERT INTO audit_log (
			id, actor_id, action, entity_type, entity_id, subject_id, details, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.q.ExecContext(ctx, r.rebind(query),
		e.ID, e.ActorID, e.Action, e.EntityType, e.EntityID, e.SubjectID, string(details), e.CreatedAt,
	)
	return err
}

// ListAuditEntries returns the audit trail of one entity, oldest first.
func (r *SQLRepository) ListAuditEntries(ctx context.Context, entityType, entityID string) ([]*domain.AuditEntry, error) {
	query := `
		SELECT id, actor_id, action, entity_type, entity_id, subject_id, details, created_at
		FROM audit_log
		WHERE entity_type = ? AND entity_id = ?
		ORDER BY created_at, id
	`

	rows, err := r.q.QueryContext(ctx, r.rebind(query), entityType, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var details sql.NullString
		if err := rows.Scan(
			&e.ID, &e.ActorID, &e.Action, &e.EntityType, &e.EntityID, &e.SubjectID, &details, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
				return nil, fmt.Errorf("failed to parse audit %s details: %w", e.ID, err)
			}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
