package domain

import (
	"context"
)

// EventBus carries transaction and audit events between Heron components.
// Channels back the community tier and NATS the pro tier.
type EventBus interface {
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe delivers every message on topic to handler.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// QueueSubscribe delivers each message on topic to exactly one member
	// of group. Monitors on several nodes share a group so a transaction
	// is scored once.
	QueueSubscribe(ctx context.Context, topic, group string, handler MessageHandler) (Subscription, error)

	Ping(ctx context.Context) error
	Close() error
}

// MessageHandler handles one delivered message. Returned errors are logged
// by the bus, never retried.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message is the envelope both bus implementations put on the wire.
// Metadata carries the publisher's trace_id when one is active.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription is a live Subscribe or QueueSubscribe registration.
type Subscription interface {
	Unsubscribe() error
	Topic() string
}

// EventBusConfig selects and tunes the bus. Type is "channel" or "nats".
type EventBusConfig struct {
	Type string

	// ChannelBufferSize is the per-subscriber backlog before messages drop.
	ChannelBufferSize int

	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds

	// MonitorGroup is the queue group shared by transaction monitors.
	MonitorGroup string
}

// DefaultMonitorGroup is used when EventBusConfig.MonitorGroup is empty.
const DefaultMonitorGroup = "heron-monitor"

// Topics published by Heron.
const (
	// TopicTransactionRecorded carries a TransactionEvent for every stored transaction.
	TopicTransactionRecorded = "heron.transaction.recorded"

	// TopicAudit carries every AuditEntry after it is stored.
	TopicAudit = "heron.audit"
)

// TransactionEvent is the payload of TopicTransactionRecorded.
type TransactionEvent struct {
	TransactionID string `json:"transactionId"`
	SubjectID     string `json:"subjectId"`
	TraceID       string `json:"traceId,omitempty"`
}
