// Package worker monitors recorded transactions asynchronously from the
// EventBus: every transaction is scored and, above the alert threshold,
// flagged for investigation.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/evidence"
	"github.com/opensource-finance/heron/internal/rules"
)

var tracer = otel.Tracer("heron-worker")

// Assessor scores evidence and stores the result.
type Assessor interface {
	Assess(ctx context.Context, ev *domain.Evidence, triggers rules.Triggers, actor domain.Actor) (*domain.RiskAssessmentResult, error)
}

// TriggerSource supplies the current rule predicates.
type TriggerSource interface {
	Triggers() rules.Triggers
}

// Flagger raises alerts for transactions whose assessment crossed the threshold.
type Flagger interface {
	FlagAssessment(ctx context.Context, txID string, result *domain.RiskAssessmentResult, actor domain.Actor) (*domain.TransactionAlert, bool, error)
}

// Config holds worker configuration.
type Config struct {
	// AlertThreshold is the final score at or above which a transaction is flagged.
	AlertThreshold float64

	// Group is the queue group monitors join; each transaction is scored by
	// one member.
	Group string
}

// Worker processes recorded transactions from the EventBus.
type Worker struct {
	bus      domain.EventBus
	repo     domain.Repository
	evidence *evidence.Builder
	triggers TriggerSource
	assessor Assessor
	flagger  Flagger
	audit    domain.AuditLogger
	cfg      Config

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a new transaction monitor.
func NewWorker(bus domain.EventBus, repo domain.Repository, ev *evidence.Builder, triggers TriggerSource, assessor Assessor, flagger Flagger, cfg Config) *Worker {
	if cfg.AlertThreshold <= 0 {
		cfg.AlertThreshold = 75
	}
	if cfg.Group == "" {
		cfg.Group = domain.DefaultMonitorGroup
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		repo:     repo,
		evidence: ev,
		triggers: triggers,
		assessor: assessor,
		flagger:  flagger,
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// WithAudit records the score of transactions that stay below the alert
// threshold. Flagged transactions are audited by the flagger.
func (w *Worker) WithAudit(a domain.AuditLogger) *Worker {
	w.audit = a
	return w
}

// Start joins the monitor queue group for recorded transactions.
func (w *Worker) Start() error {
	sub, err := w.bus.QueueSubscribe(w.ctx, domain.TopicTransactionRecorded, w.cfg.Group, w.handleMessage)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Info("transaction monitor started",
		"topic", domain.TopicTransactionRecorded,
		"group", w.cfg.Group,
		"alert_threshold", w.cfg.AlertThreshold,
	)
	return nil
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var event domain.TransactionEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		slog.Error("failed to parse transaction event",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if event.TraceID == "" {
		event.TraceID = msg.Metadata["trace_id"]
	}

	_, err := w.Process(ctx, event)
	return err
}

// Process scores one recorded transaction. Below the threshold the score is
// stored on the transaction; at or above it the transaction is flagged,
// which stores the score as part of the flag.
func (w *Worker) Process(ctx context.Context, event domain.TransactionEvent) (*domain.RiskAssessmentResult, error) {
	start := time.Now()

	ctx, span := tracer.Start(ctx, "monitor transaction",
		trace.WithAttributes(
			attribute.String("transaction.id", event.TransactionID),
			attribute.String("trace.parent", event.TraceID),
		),
	)
	defer span.End()

	tx, err := w.repo.GetTransaction(ctx, event.TransactionID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to load transaction %s: %w", event.TransactionID, err)
	}

	ev, err := w.evidence.ForTransaction(ctx, tx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to build evidence: %w", err)
	}

	result, err := w.assessor.Assess(ctx, ev, w.triggers.Triggers(), domain.SystemActor)
	if err != nil {
		span.RecordError(err)
		slog.Error("transaction assessment failed",
			"transaction_id", tx.ID,
			"trace_id", event.TraceID,
			"error", err,
		)
		return nil, err
	}

	flagged := result.Score >= w.cfg.AlertThreshold
	if flagged {
		_, _, err = w.flagger.FlagAssessment(ctx, tx.ID, result, domain.SystemActor)
	} else {
		tx.RiskScore = result.Score
		err = w.repo.UpdateTransaction(ctx, tx)
	}
	if err != nil {
		span.RecordError(err)
		slog.Error("failed to record transaction score",
			"transaction_id", tx.ID,
			"score", result.Score,
			"error", err,
		)
		return nil, err
	}
	if !flagged && w.audit != nil {
		w.audit.Record(ctx, domain.AuditEntry{
			ActorID:    domain.SystemActor.ID,
			Action:     "score",
			EntityType: domain.EntityTransaction,
			EntityID:   tx.ID,
			SubjectID:  tx.SenderUserID,
			Details:    map[string]any{"score": result.Score, "assessmentId": result.ID},
		})
	}

	span.SetAttributes(
		attribute.Float64("risk.score", result.Score),
		attribute.Bool("risk.flagged", flagged),
	)

	slog.Info("transaction monitored",
		"transaction_id", tx.ID,
		"subject_id", tx.SenderUserID,
		"trace_id", event.TraceID,
		"score", result.Score,
		"level", result.Level,
		"matched_rules", len(result.MatchedRules),
		"flagged", flagged,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

// Stop gracefully stops the monitor.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("transaction monitor stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
