package audit

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/segmentio/kafka-go"

	"github.com/sipsa-ingest/ingestor/internal/ingestion"
)

const defaultTopic = "sipsa.ingestion.audit"

// KafkaConfig configures the optional Kafka audit fan-out (§11.1).
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// LoadKafkaConfig reads SIPSA_KAFKA_BROKERS (comma-separated) and
// SIPSA_KAFKA_AUDIT_TOPIC. An empty Brokers slice means fan-out is
// disabled; callers should construct a NoopPublisher in that case.
func LoadKafkaConfig() KafkaConfig {
	cfg := KafkaConfig{Topic: defaultTopic}

	if raw := os.Getenv("SIPSA_KAFKA_BROKERS"); raw != "" {
		for _, b := range strings.Split(raw, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.Brokers = append(cfg.Brokers, b)
			}
		}
	}

	if topic := os.Getenv("SIPSA_KAFKA_AUDIT_TOPIC"); topic != "" {
		cfg.Topic = topic
	}

	return cfg
}

// writer is the subset of *kafka.Writer this package depends on, so tests
// can substitute an in-memory stub without a live broker.
type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publishes every AuditEvent as a JSON message keyed by
// runId to a Kafka topic, best-effort (§11.1). A write failure is logged
// and returned; the orchestrator's audit path logs the returned error and
// carries on.
type KafkaPublisher struct {
	w      writer
	logger *slog.Logger
}

var _ EventPublisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher builds a KafkaPublisher over cfg.
func NewKafkaPublisher(cfg KafkaConfig, logger *slog.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}

	return &KafkaPublisher{w: w, logger: logger}
}

// Publish marshals event and writes it to the configured topic. Errors are
// logged via logSwallowed and also returned, so unit tests against a stub
// writer can assert on the failure path directly.
func (p *KafkaPublisher) Publish(ctx context.Context, event ingestion.AuditEvent) error {
	payload, key, err := marshalEvent(event)
	if err != nil {
		logSwallowed(p.logger, err)

		return err
	}

	if err := p.w.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: payload}); err != nil {
		logSwallowed(p.logger, err)

		return err
	}

	return nil
}

// Close flushes and closes the underlying Kafka writer.
func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}
