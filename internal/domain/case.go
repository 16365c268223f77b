package domain

import "time"

// CaseType is the compliance area a case belongs to.
type CaseType string

const (
	CaseKYC       CaseType = "kyc"
	CaseAML       CaseType = "aml"
	CaseSanctions CaseType = "sanctions"
)

// CaseStatus is the investigation state of a compliance case.
type CaseStatus string

const (
	CaseOpen        CaseStatus = "open"
	CaseUnderReview CaseStatus = "under_review"
	CaseEscalated   CaseStatus = "escalated"
	CaseResolved    CaseStatus = "resolved"
	CaseClosed      CaseStatus = "closed"
)

// CasePriority orders the investigation queue.
type CasePriority string

const (
	PriorityLow      CasePriority = "low"
	PriorityMedium   CasePriority = "medium"
	PriorityHigh     CasePriority = "high"
	PriorityCritical CasePriority = "critical"
)

// PriorityForScore derives a case priority from a risk score.
func PriorityForScore(score float64) CasePriority {
	switch {
	case score >= 90:
		return PriorityCritical
	case score >= 75:
		return PriorityHigh
	case score >= 50:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// CaseSource records what spawned a case.
type CaseSource string

const (
	SourceManual     CaseSource = "manual"
	SourceAlert      CaseSource = "alert"
	SourceAssessment CaseSource = "assessment"
)

// ComplianceCase is an investigation record.
type ComplianceCase struct {
	ID          string       `json:"id"`
	Type        CaseType     `json:"type"`
	Status      CaseStatus   `json:"status"`
	Priority    CasePriority `json:"priority"`
	RiskScore   float64      `json:"riskScore"`
	UserID      string       `json:"userId"`
	UserName    string       `json:"userName"`
	Description string       `json:"description"`
	Source      CaseSource   `json:"source"`
	SourceID    string       `json:"sourceId,omitempty"`
	AssignedTo  string       `json:"assignedTo,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
	ResolvedAt  *time.Time   `json:"resolvedAt,omitempty"`
	Version     int          `json:"version"`
}

// CaseRequest is the API payload for opening a case manually.
type CaseRequest struct {
	Type        CaseType     `json:"type" validate:"required,oneof=kyc aml sanctions"`
	Priority    CasePriority `json:"priority" validate:"omitempty,oneof=low medium high critical"`
	RiskScore   float64      `json:"riskScore" validate:"gte=0,lte=100"`
	UserID      string       `json:"userId" validate:"required"`
	UserName    string       `json:"userName"`
	Description string       `json:"description" validate:"required"`
	AssignedTo  string       `json:"assignedTo"`
}
