package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opensource-finance/heron/internal/domain"
)

// CreateSubject stores a new subject.
func (r *SQLRepository) CreateSubject(ctx context.Context, s *domain.Subject) error {
	s.Version = 1

	query := `
		INSERT INTO subjects (
			id, name, email, country, kyc_status, is_pep, is_sanctioned,
			created_at, updated_at, version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.q.ExecContext(ctx, r.rebind(query),
		s.ID, s.Name, s.Email, s.Country, s.KYCStatus,
		boolToInt(s.IsPEP), boolToInt(s.IsSanctioned),
		s.CreatedAt, s.UpdatedAt, s.Version,
	)
	return err
}

// GetSubject retrieves a subject by ID.
func (r *SQLRepository) GetSubject(ctx context.Context, id string) (*domain.Subject, error) {
	query := `
		SELECT id, name, email, country, kyc_status, is_pep, is_sanctioned,
			   created_at, updated_at, version
		FROM subjects
		WHERE id = ?
	`

	var s domain.Subject
	var pep, sanctioned int

	err := r.q.QueryRowContext(ctx, r.rebind(query), id).Scan(
		&s.ID, &s.Name, &s.Email, &s.Country, &s.KYCStatus,
		&pep, &sanctioned,
		&s.CreatedAt, &s.UpdatedAt, &s.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: subject %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	s.IsPEP = pep == 1
	s.IsSanctioned = sanctioned == 1
	return &s, nil
}

// UpdateSubject writes a subject if its version is current.
func (r *SQLRepository) UpdateSubject(ctx context.Context, s *domain.Subject) error {
	query := `
		UPDATE subjects SET
			name = ?, email = ?, country = ?, kyc_status = ?,
			is_pep = ?, is_sanctioned = ?, updated_at = ?, version = ?
		WHERE id = ? AND version = ?
	`

	res, err := r.q.ExecContext(ctx, r.rebind(query),
		s.Name, s.Email, s.Country, s.KYCStatus,
		boolToInt(s.IsPEP), boolToInt(s.IsSanctioned), s.UpdatedAt, s.Version+1,
		s.ID, s.Version,
	)
	if err != nil {
		return err
	}
	return r.checkUpdated(ctx, res, "subjects", s.ID, &s.Version)
}

type documentDetails struct {
	Identity  *domain.IdentityDetails  `json:"identity,omitempty"`
	Address   *domain.AddressDetails   `json:"address,omitempty"`
	Statement *domain.StatementDetails `json:"statement,omitempty"`
}

// SaveDocument inserts or replaces a document.
func (r *SQLRepository) SaveDocument(ctx context.Context, d *domain.Document) error {
	details, err := json.Marshal(documentDetails{
		Identity:  d.Identity,
		Address:   d.Address,
		Statement: d.Statement,
	})
	if err != nil {
		return fmt.Errorf("failed to encode document details: %w", err)
	}

	var reason sql.NullString
	if d.RejectionReason != nil {
		reason = sql.NullString{String: *d.RejectionReason, Valid: true}
	}

	query := `
		INSERT INTO documents (
			id, subject_id, kind, status, rejection_reason, details, uploaded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			rejection_reason = excluded.rejection_reason,
			details = excluded.details
	`

	_, err = r.q.ExecContext(ctx, r.rebind(query),
		d.ID, d.SubjectID, d.Kind, d.Status, reason, string(details), d.UploadedAt,
	)
	return err
}

// ListDocumentsBySubject returns a subject's documents, newest first.
func (r *SQLRepository) ListDocumentsBySubject(ctx context.Context, subjectID string) ([]*domain.Document, error) {
	query := `
		SELECT id, subject_id, kind, status, rejection_reason, details, uploaded_at
		FROM documents
		WHERE subject_id = ?
		ORDER BY uploaded_at DESC, id
	`

	rows, err := r.q.QueryContext(ctx, r.rebind(query), subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*domain.Document
	for rows.Next() {
		var d domain.Document
		var reason sql.NullString
		var details string

		if err := rows.Scan(
			&d.ID, &d.SubjectID, &d.Kind, &d.Status, &reason, &details, &d.UploadedAt,
		); err != nil {
			return nil, err
		}

		if reason.Valid {
			v := reason.String
			d.RejectionReason = &v
		}
		var dd documentDetails
		if err := json.Unmarshal([]byte(details), &dd); err != nil {
			return nil, fmt.Errorf("failed to parse document %s details: %w", d.ID, err)
		}
		d.Identity, d.Address, d.Statement = dd.Identity, dd.Address, dd.Statement

		docs = append(docs, &d)
	}

	return docs, rows.Err()
}
