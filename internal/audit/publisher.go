// Package audit provides the optional, best-effort fan-out of control-plane
// audit events to an external bus (§11.1). The orchestrator's own audit
// trail lives in ControlStore; this package never competes with it — it is
// purely an additional sink, wired off by default.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/sipsa-ingest/ingestor/internal/ingestion"
)

// EventPublisher fans an AuditEvent out to an external sink. Publish must
// never return an error the caller is expected to escalate — implementations
// that can fail (KafkaPublisher) log the failure and also return it, so tests
// can assert on failure without a live broker; callers only log it.
type EventPublisher interface {
	Publish(ctx context.Context, event ingestion.AuditEvent) error
	Close() error
}

// NoopPublisher is the default EventPublisher: audit fan-out is off unless
// SIPSA_KAFKA_BROKERS is configured.
type NoopPublisher struct{}

var _ EventPublisher = NoopPublisher{}

func (NoopPublisher) Publish(context.Context, ingestion.AuditEvent) error { return nil }
func (NoopPublisher) Close() error                                       { return nil }

// message is the JSON shape published to the configured topic, keyed by
// runId so a consumer can group a run's timeline back together.
type message struct {
	AuditID       string `json:"auditId"`
	RunID         string `json:"runId,omitempty"`
	RequestID     string `json:"requestId"`
	RequestSource string `json:"requestSource"`
	EventType     string `json:"eventType"`
	Message       string `json:"message"`
	OccurredAt    string `json:"occurredAt"`
}

func toMessage(event ingestion.AuditEvent) message {
	return message{
		AuditID:       event.AuditID,
		RunID:         event.RunID,
		RequestID:     event.RequestID,
		RequestSource: string(event.RequestSource),
		EventType:     string(event.EventType),
		Message:       event.Message,
		OccurredAt:    event.OccurredAt.Format("2006-01-02T15:04:05.000Z07:00"),
	}
}

func (m message) key() string {
	if m.RunID != "" {
		return m.RunID
	}

	return m.RequestID
}

func marshalEvent(event ingestion.AuditEvent) ([]byte, string, error) {
	m := toMessage(event)

	payload, err := json.Marshal(m)
	if err != nil {
		return nil, "", fmt.Errorf("audit: marshal event: %w", err)
	}

	return payload, m.key(), nil
}

// logSwallowed records a publish failure at warn level. Matching §7's
// "audit subsystem must never break ingestion" principle, callers never
// propagate this upward into run failure.
func logSwallowed(logger *slog.Logger, err error) {
	logger.Warn("audit: publish to external sink failed", slog.String("error", err.Error()))
}
