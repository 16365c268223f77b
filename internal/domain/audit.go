package domain

import (
	"context"
	"time"
)

// Role is the permission level of an actor.
type Role string

const (
	RoleAnalyst Role = "analyst"
	RoleOfficer Role = "officer"
	RoleAdmin   Role = "admin"
)

// Actor is the identity performing an action. Heron never authenticates
// actors itself; it reads them from the request.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// CanReopen reports whether the actor may reopen filed SARs and resolved cases.
func (a Actor) CanReopen() bool {
	return a.Role == RoleOfficer || a.Role == RoleAdmin
}

// SystemActor is used for actions taken by the transaction monitor.
var SystemActor = Actor{ID: "system", Role: RoleAdmin}

// AuditEntry records one accepted state change.
type AuditEntry struct {
	ID         string         `json:"id"`
	ActorID    string         `json:"actorId"`
	Action     string         `json:"action"`
	EntityType string         `json:"entityType"`
	EntityID   string         `json:"entityId"`
	SubjectID  string         `json:"subjectId,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// Entity type names used in audit entries and transition errors.
const (
	EntityTransaction = "transaction"
	EntityAlert       = "alert"
	EntityCase        = "case"
	EntitySAR         = "sar"
	EntitySubject     = "subject"
	EntityDocument    = "document"
	EntityAssessment  = "assessment"
)

// AuditLogger records audit entries. Record is fire-and-forget: failures
// are logged by the implementation and never surface to the caller.
type AuditLogger interface {
	Record(ctx context.Context, entry AuditEntry)
}
