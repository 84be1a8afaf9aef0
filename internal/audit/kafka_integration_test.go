package audit

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/testcontainers/testcontainers-go"
	kafkacontainer "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/sipsa-ingest/ingestor/internal/ingestion"
)

// TestKafkaPublisher_PublishAgainstLiveBroker exercises the real
// segmentio/kafka-go writer against a containerized broker, complementing
// the fakeWriter unit tests that never touch the network.
func TestKafkaPublisher_PublishAgainstLiveBroker(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	container, err := kafkacontainer.Run(ctx, "confluentinc/confluent-local:7.6.1")
	if err != nil {
		t.Fatalf("failed to start kafka container: %v", err)
	}

	t.Cleanup(func() {
		_ = testcontainers.TerminateContainer(container)
	})

	brokers, err := container.Brokers(ctx)
	if err != nil {
		t.Fatalf("failed to get kafka brokers: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	publisher := NewKafkaPublisher(KafkaConfig{Brokers: brokers, Topic: "sipsa.ingestion.audit.test"}, logger)

	t.Cleanup(func() {
		_ = publisher.Close()
	})

	event := ingestion.AuditEvent{
		AuditID:       "audit-live-1",
		RunID:         "run-live-1",
		RequestID:     "req-live-1",
		RequestSource: ingestion.RequestSourceScheduled,
		EventType:     ingestion.AuditIngestionSucceeded,
		Message:       "seen=10 inserted=10",
		OccurredAt:    time.Now().UTC(),
	}

	if err := publisher.Publish(ctx, event); err != nil {
		t.Fatalf("Publish() against live broker error = %v", err)
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   "sipsa.ingestion.audit.test",
		GroupID: "sipsa-test-reader",
	})

	t.Cleanup(func() {
		_ = reader.Close()
	})

	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	msg, err := reader.ReadMessage(readCtx)
	if err != nil {
		t.Fatalf("failed to read back published message: %v", err)
	}

	if string(msg.Key) != "run-live-1" {
		t.Errorf("message key = %q, want %q", msg.Key, "run-live-1")
	}

	var decoded message
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("failed to decode published message: %v", err)
	}

	if decoded.RequestID != "req-live-1" {
		t.Errorf("decoded RequestID = %q, want %q", decoded.RequestID, "req-live-1")
	}
}
