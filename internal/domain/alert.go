package domain

import "time"

// AlertStatus is the state of a transaction alert.
type AlertStatus string

const (
	AlertOpen          AlertStatus = "open"
	AlertInvestigating AlertStatus = "investigating"
	AlertClosed        AlertStatus = "closed"
)

// Active reports whether the alert still accepts work.
func (s AlertStatus) Active() bool {
	return s == AlertOpen || s == AlertInvestigating
}

// AlertResolution records how a closed alert ended.
type AlertResolution string

const (
	ResolutionEscalated AlertResolution = "escalated"
	ResolutionDismissed AlertResolution = "dismissed"
)

// Alert types raised by Heron itself.
const (
	AlertTypeManual        = "manual"
	AlertTypeRiskThreshold = "risk_threshold"
)

// TransactionAlert signals that a transaction needs investigation.
type TransactionAlert struct {
	ID            string          `json:"id"`
	TransactionID string          `json:"transactionId"`
	UserID        string          `json:"userId"`
	UserName      string          `json:"userName"`
	Type          string          `json:"type"`
	Description   string          `json:"description"`
	Status        AlertStatus     `json:"status"`
	Resolution    AlertResolution `json:"resolution,omitempty"`
	CaseID        string          `json:"caseId,omitempty"`
	Notes         []string        `json:"notes"`
	Timestamp     time.Time       `json:"timestamp"`
	UpdatedAt     time.Time       `json:"updatedAt"`
	Version       int             `json:"version"`
}

// Clone returns a deep copy so callers can mutate without sharing notes.
func (a *TransactionAlert) Clone() *TransactionAlert {
	c := *a
	c.Notes = append([]string(nil), a.Notes...)
	return &c
}

// FlagRequest is the API payload for flagging a transaction by hand.
type FlagRequest struct {
	Type        string `json:"type"`
	Description string `json:"description" validate:"required"`
}
