// Package audit records accepted state changes in the store and announces
// them on the event bus.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/heron/internal/domain"
)

// Observer is told about every stored entry before it is published.
type Observer func(ctx context.Context, entry domain.AuditEntry)

// Recorder implements domain.AuditLogger.
type Recorder struct {
	repo      domain.Repository
	bus       domain.EventBus
	observers []Observer
	now       func() time.Time
}

// NewRecorder creates a recorder. bus may be nil, in which case entries are
// only stored.
func NewRecorder(repo domain.Repository, bus domain.EventBus) *Recorder {
	return &Recorder{
		repo: repo,
		bus:  bus,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Observe registers fn to run synchronously inside Record on this node.
// Register observers before the recorder is shared.
func (r *Recorder) Observe(fn Observer) {
	r.observers = append(r.observers, fn)
}

// Record stores entry, runs the local observers and publishes it on
// domain.TopicAudit. Failures are logged and never returned.
func (r *Recorder) Record(ctx context.Context, entry domain.AuditEntry) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.now()
	}

	if err := r.repo.SaveAuditEntry(ctx, &entry); err != nil {
		slog.Error("failed to store audit entry",
			"action", entry.Action,
			"entity_type", entry.EntityType,
			"entity_id", entry.EntityID,
			"error", err,
		)
	}

	for _, fn := range r.observers {
		fn(ctx, entry)
	}

	if r.bus == nil {
		return
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		slog.Error("failed to encode audit entry", "entity_id", entry.EntityID, "error", err)
		return
	}
	if err := r.bus.Publish(ctx, domain.TopicAudit, payload); err != nil {
		slog.Warn("failed to publish audit entry",
			"entity_type", entry.EntityType,
			"entity_id", entry.EntityID,
			"error", err,
		)
	}
}

// Trail returns the audit entries of one entity, oldest first.
func (r *Recorder) Trail(ctx context.Context, entityType, entityID string) ([]*domain.AuditEntry, error) {
	return r.repo.ListAuditEntries(ctx, entityType, entityID)
}

// Decode parses an audit bus message payload.
func Decode(msg *domain.Message) (*domain.AuditEntry, error) {
	var entry domain.AuditEntry
	if err := json.Unmarshal(msg.Payload, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

var _ domain.AuditLogger = (*Recorder)(nil)
