package audit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sipsa-ingest/ingestor/internal/ingestion"
)

type fakeWriter struct {
	written []kafka.Message
	failNext bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.failNext {
		return errors.New("broker unreachable")
	}

	f.written = append(f.written, msgs...)

	return nil
}

func (f *fakeWriter) Close() error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestKafkaPublisher_PublishMarshalsKeyedMessage(t *testing.T) {
	fw := &fakeWriter{}
	p := &KafkaPublisher{w: fw, logger: testLogger()}

	event := ingestion.AuditEvent{
		AuditID:       "audit-1",
		RunID:         "run-1",
		RequestID:     "req-1",
		RequestSource: ingestion.RequestSourceScheduled,
		EventType:     ingestion.AuditIngestionSucceeded,
		Message:       "seen=3 inserted=3",
		OccurredAt:    time.Date(2026, 1, 2, 14, 30, 0, 0, time.UTC),
	}

	require.NoError(t, p.Publish(context.Background(), event))
	require.Len(t, fw.written, 1)

	assert.Equal(t, "run-1", string(fw.written[0].Key))

	var decoded message
	require.NoError(t, json.Unmarshal(fw.written[0].Value, &decoded))
	assert.Equal(t, "INGESTION_SUCCEEDED", decoded.EventType)
	assert.Equal(t, "req-1", decoded.RequestID)
}

func TestKafkaPublisher_PublishSwallowsWriteFailure(t *testing.T) {
	fw := &fakeWriter{failNext: true}
	p := &KafkaPublisher{w: fw, logger: testLogger()}

	err := p.Publish(context.Background(), ingestion.AuditEvent{RunID: "run-1"})
	require.Error(t, err)
	assert.Empty(t, fw.written)
}

func TestNoopPublisher_AlwaysSucceeds(t *testing.T) {
	var p NoopPublisher

	assert.NoError(t, p.Publish(context.Background(), ingestion.AuditEvent{}))
	assert.NoError(t, p.Close())
}
