package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opensource-finance/heron/internal/bus"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/repository"
)

type failingRepo struct {
	*repository.MemoryRepository
}

func (failingRepo) SaveAuditEntry(context.Context, *domain.AuditEntry) error {
	return errors.New("disk full")
}

func TestRecord(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	b := bus.NewChannelBus(10)
	defer b.Close()

	received := make(chan *domain.AuditEntry, 1)
	if _, err := b.Subscribe(ctx, domain.TopicAudit, func(ctx context.Context, msg *domain.Message) error {
		entry, err := Decode(msg)
		if err != nil {
			return err
		}
		received <- entry
		return nil
	}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	r := NewRecorder(repo, b)
	r.Record(ctx, domain.AuditEntry{
		ActorID:    "analyst-1",
		Action:     "investigate",
		EntityType: domain.EntityAlert,
		EntityID:   "al-1",
		SubjectID:  "sub-1",
	})

	t.Run("Stored", func(t *testing.T) {
		trail, err := r.Trail(ctx, domain.EntityAlert, "al-1")
		if err != nil {
			t.Fatalf("Trail failed: %v", err)
		}
		if len(trail) != 1 {
			t.Fatalf("expected 1 entry, got %d", len(trail))
		}
		if trail[0].ID == "" || trail[0].CreatedAt.IsZero() {
			t.Errorf("expected id and timestamp to be assigned: %+v", trail[0])
		}
	})

	t.Run("Published", func(t *testing.T) {
		select {
		case entry := <-received:
			if entry.EntityID != "al-1" || entry.SubjectID != "sub-1" || entry.Action != "investigate" {
				t.Errorf("unexpected published entry: %+v", entry)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for audit message")
		}
	})
}

func TestRecordNeverFails(t *testing.T) {
	ctx := context.Background()

	closed := bus.NewChannelBus(1)
	closed.Close()

	// Neither a store failure nor a closed bus reaches the caller.
	r := NewRecorder(failingRepo{repository.NewMemoryRepository()}, closed)
	r.Record(ctx, domain.AuditEntry{Action: "flag", EntityType: domain.EntityTransaction, EntityID: "tx-1"})

	r = NewRecorder(repository.NewMemoryRepository(), nil)
	r.Record(ctx, domain.AuditEntry{Action: "flag", EntityType: domain.EntityTransaction, EntityID: "tx-1"})
	trail, _ := r.Trail(ctx, domain.EntityTransaction, "tx-1")
	if len(trail) != 1 {
		t.Errorf("expected entry stored without a bus, got %d", len(trail))
	}
}

func TestObservers(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	r := NewRecorder(repo, nil)

	var seen []domain.AuditEntry
	r.Observe(func(ctx context.Context, e domain.AuditEntry) {
		// Observers run after the entry is stored.
		trail, _ := repo.ListAuditEntries(ctx, e.EntityType, e.EntityID)
		if len(trail) != 1 {
			t.Errorf("expected the entry stored before observers run, got %d", len(trail))
		}
		seen = append(seen, e)
	})

	r.Record(ctx, domain.AuditEntry{Action: "escalate", EntityType: domain.EntityAlert, EntityID: "al-1", SubjectID: "user-001"})
	if len(seen) != 1 || seen[0].ID == "" || seen[0].SubjectID != "user-001" {
		t.Errorf("expected one observed entry with an id, got %+v", seen)
	}
}
