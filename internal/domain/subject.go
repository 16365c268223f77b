package domain

import (
	"fmt"
	"strings"
	"time"
)

// KYCStatus is the onboarding verification state of a subject.
// It is set explicitly and never derived from PEP or sanctions flags.
type KYCStatus string

const (
	KYCPending              KYCStatus = "pending"
	KYCInformationRequested KYCStatus = "information_requested"
	KYCApproved             KYCStatus = "approved"
	KYCRejected             KYCStatus = "rejected"
)

// Subject is a customer under monitoring.
type Subject struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Country      string    `json:"country"`
	KYCStatus    KYCStatus `json:"kycStatus"`
	IsPEP        bool      `json:"isPep"`
	IsSanctioned bool      `json:"isSanctioned"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	Version      int       `json:"version"`
}

// SubjectRequest is the API payload for registering a subject.
type SubjectRequest struct {
	ID           string    `json:"id"`
	Name         string    `json:"name" validate:"required"`
	Email        string    `json:"email" validate:"omitempty,email"`
	Country      string    `json:"country" validate:"omitempty,len=2"`
	KYCStatus    KYCStatus `json:"kycStatus" validate:"omitempty,oneof=pending information_requested approved rejected"`
	IsPEP        bool      `json:"isPep"`
	IsSanctioned bool      `json:"isSanctioned"`
}

// DocumentKind is the discriminator of a document variant.
type DocumentKind string

const (
	DocPassport       DocumentKind = "passport"
	DocNationalID     DocumentKind = "national_id"
	DocProofOfAddress DocumentKind = "proof_of_address"
	DocBankStatement  DocumentKind = "bank_statement"
)

// DocumentStatus is the review state of a document.
type DocumentStatus string

const (
	DocPending  DocumentStatus = "pending"
	DocVerified DocumentStatus = "verified"
	DocRejected DocumentStatus = "rejected"
)

// IdentityDetails is the payload of passport and national ID documents.
type IdentityDetails struct {
	DocumentNumber string    `json:"documentNumber"`
	IssuingCountry string    `json:"issuingCountry"`
	FullName       string    `json:"fullName"`
	DateOfBirth    string    `json:"dateOfBirth,omitempty"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

// AddressDetails is the payload of proof-of-address documents.
type AddressDetails struct {
	Line1      string    `json:"line1"`
	City       string    `json:"city"`
	PostalCode string    `json:"postalCode"`
	Country    string    `json:"country"`
	IssuedAt   time.Time `json:"issuedAt"`
}

// StatementDetails is the payload of bank statements.
type StatementDetails struct {
	BankName    string    `json:"bankName"`
	AccountMask string    `json:"accountMask"`
	PeriodStart time.Time `json:"periodStart"`
	PeriodEnd   time.Time `json:"periodEnd"`
}

// Document is a KYC document. Exactly one detail payload is set and it
// must match Kind.
type Document struct {
	ID              string            `json:"id"`
	SubjectID       string            `json:"subjectId"`
	Kind            DocumentKind      `json:"kind"`
	Status          DocumentStatus    `json:"status"`
	RejectionReason *string           `json:"rejectionReason,omitempty"`
	Identity        *IdentityDetails  `json:"identity,omitempty"`
	Address         *AddressDetails   `json:"address,omitempty"`
	Statement       *StatementDetails `json:"statement,omitempty"`
	UploadedAt      time.Time         `json:"uploadedAt"`
}

// Validate checks the variant invariants.
func (d *Document) Validate() error {
	set := 0
	if d.Identity != nil {
		set++
	}
	if d.Address != nil {
		set++
	}
	if d.Statement != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("%w: document must carry exactly one detail payload, got %d", ErrInvalidInput, set)
	}

	switch d.Kind {
	case DocPassport, DocNationalID:
		if d.Identity == nil {
			return fmt.Errorf("%w: %s requires identity details", ErrInvalidInput, d.Kind)
		}
	case DocProofOfAddress:
		if d.Address == nil {
			return fmt.Errorf("%w: %s requires address details", ErrInvalidInput, d.Kind)
		}
	case DocBankStatement:
		if d.Statement == nil {
			return fmt.Errorf("%w: %s requires statement details", ErrInvalidInput, d.Kind)
		}
	default:
		return fmt.Errorf("%w: unknown document kind %q", ErrInvalidInput, d.Kind)
	}

	switch d.Status {
	case DocPending, DocVerified:
		if d.RejectionReason != nil {
			return fmt.Errorf("%w: rejection reason only allowed on rejected documents", ErrInvalidInput)
		}
	case DocRejected:
		if d.RejectionReason == nil || strings.TrimSpace(*d.RejectionReason) == "" {
			return fmt.Errorf("%w: rejected document requires a rejection reason", ErrInvalidInput)
		}
	default:
		return fmt.Errorf("%w: unknown document status %q", ErrInvalidInput, d.Status)
	}
	return nil
}
