package domain

import "time"

// SARStatus is the filing state of a suspicious activity report.
type SARStatus string

const (
	SARDraft     SARStatus = "draft"
	SARSubmitted SARStatus = "submitted"
	SARFiled     SARStatus = "filed"
	SARRejected  SARStatus = "rejected"
)

// SARAction is a workflow action applied to a SAR.
type SARAction string

const (
	SARSubmit        SARAction = "submit"
	SARApprove       SARAction = "approve"
	SARReject        SARAction = "reject"
	SARReturnToDraft SARAction = "return_to_draft"
	SARResubmit      SARAction = "resubmit"
	SARReopen        SARAction = "reopen"
)

// SAROrigin records how a SAR came to exist.
type SAROrigin string

const (
	OriginCase    SAROrigin = "case"
	OriginPattern SAROrigin = "pattern"
	OriginManual  SAROrigin = "manual"
)

// SAR is a suspicious activity report. Notes holds the narrative written at
// creation; per-action notes live in the history.
type SAR struct {
	ID                 string     `json:"id"`
	Status             SARStatus  `json:"status"`
	SubjectID          string     `json:"subjectId"`
	Origin             SAROrigin  `json:"origin"`
	Pattern            string     `json:"pattern,omitempty"`
	LinkedTransactions []string   `json:"linkedTransactions"`
	LinkedCase         string     `json:"linkedCase,omitempty"`
	Notes              string     `json:"notes"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
	FiledAt            *time.Time `json:"filedAt,omitempty"`
	Version            int        `json:"version"`
}

// Clone returns a deep copy.
func (s *SAR) Clone() *SAR {
	c := *s
	c.LinkedTransactions = append([]string(nil), s.LinkedTransactions...)
	if s.FiledAt != nil {
		t := *s.FiledAt
		c.FiledAt = &t
	}
	return &c
}

// SARHistoryEntry is one accepted SAR action. Entries are append-only.
type SARHistoryEntry struct {
	ID         string    `json:"id"`
	SARID      string    `json:"sarId"`
	Action     SARAction `json:"action"`
	FromStatus SARStatus `json:"fromStatus"`
	ToStatus   SARStatus `json:"toStatus"`
	Notes      string    `json:"notes"`
	ActorID    string    `json:"actorId"`
	CreatedAt  time.Time `json:"createdAt"`
}

// SARRequest is the API payload for filing a SAR by hand.
type SARRequest struct {
	SubjectID      string   `json:"subjectId" validate:"required"`
	TransactionIDs []string `json:"transactionIds" validate:"dive,required"`
	Notes          string   `json:"notes"`
}
