package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/sipsa-ingest/ingestor/internal/ingestion"
)

const pqUniqueViolation = "23505"

// ControlStore implements ingestion.ControlStore with a PostgreSQL backend
// (§4.2). Every exported method opens its own top-level transaction so a
// caller-side rollback never erases a run's audit trail (§9).
type ControlStore struct {
	conn   *Connection
	logger *slog.Logger
}

var _ ingestion.ControlStore = (*ControlStore)(nil)

// NewControlStore builds a ControlStore over conn.
func NewControlStore(conn *Connection) (*ControlStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &ControlStore{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: getEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}, nil
}

// HealthCheck verifies the database connection is reachable.
func (s *ControlStore) HealthCheck(ctx context.Context) error {
	if s.conn == nil {
		return ErrNoDatabaseConnection
	}

	return s.conn.HealthCheck(ctx)
}

// CreateOrRestartRun implements the §4.2 create-or-restart rule.
func (s *ControlStore) CreateOrRestartRun(ctx context.Context, req ingestion.CreateRunRequest) (string, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("control store: begin tx: %w", err)
	}

	defer func() { _ = tx.Rollback() }()

	var (
		existingID     string
		existingStatus string
	)

	err = tx.QueryRowContext(ctx, `
		SELECT run_id, status FROM runs
		WHERE method_name = $1 AND window_key = $2
		FOR UPDATE
	`, req.MethodName, req.WindowKey).Scan(&existingID, &existingStatus)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		runID := uuid.NewString()

		_, err = tx.ExecContext(ctx, `
			INSERT INTO runs (run_id, method_name, window_key, request_id, request_source, status, start_time, seen, inserted, updated, rejected)
			VALUES ($1, $2, $3, $4, $5, $6, $7, 0, 0, 0, 0)
		`, runID, req.MethodName, req.WindowKey, req.RequestID, string(req.RequestSource), string(ingestion.RunStatusStarted), time.Now().UTC())
		if err != nil {
			if isUniqueViolation(err) {
				return "", ingestion.ErrAlreadyExists
			}

			return "", fmt.Errorf("control store: insert run: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return "", fmt.Errorf("control store: commit: %w", err)
		}

		return runID, nil

	case err != nil:
		return "", fmt.Errorf("control store: lookup run: %w", err)
	}

	// A row already exists for (method, window).
	if ingestion.RunStatus(existingStatus) == ingestion.RunStatusSucceeded && !req.Force {
		return "", ingestion.ErrAlreadySucceeded
	}

	if ingestion.RunStatus(existingStatus) != ingestion.RunStatusFailed && !req.Force {
		return "", ingestion.ErrInProgressOrCompleted
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE runs
		SET request_id = $1, request_source = $2, status = $3, start_time = $4, end_time = NULL,
		    seen = 0, inserted = 0, updated = 0, rejected = 0,
		    last_error_message = NULL, last_error_http_status = NULL, last_error_soap_fault_code = NULL
		WHERE run_id = $5
	`, req.RequestID, string(req.RequestSource), string(ingestion.RunStatusStarted), time.Now().UTC(), existingID)
	if err != nil {
		return "", fmt.Errorf("control store: restart run: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("control store: commit: %w", err)
	}

	return existingID, nil
}

// UpdateStatus transitions a run, validating against the lifecycle FSM and
// stamping EndTime on terminal transitions.
func (s *ControlStore) UpdateStatus(ctx context.Context, runID string, status ingestion.RunStatus) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("control store: begin tx: %w", err)
	}

	defer func() { _ = tx.Rollback() }()

	var current string

	if err := tx.QueryRowContext(ctx, `SELECT status FROM runs WHERE run_id = $1 FOR UPDATE`, runID).Scan(&current); err != nil {
		return fmt.Errorf("control store: lookup run status: %w", err)
	}

	if err := ingestion.ValidateStateTransition(ingestion.RunStatus(current), status); err != nil {
		return err
	}

	var endTime interface{}
	if status.IsTerminal() {
		endTime = time.Now().UTC()
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE runs SET status = $1, end_time = COALESCE($2, end_time) WHERE run_id = $3
	`, string(status), endTime, runID); err != nil {
		return fmt.Errorf("control store: update status: %w", err)
	}

	return tx.Commit()
}

// UpdateMetrics overwrites a run's counters in its own transaction.
func (s *ControlStore) UpdateMetrics(ctx context.Context, runID string, metrics ingestion.RunMetrics) error {
	_, err := s.conn.ExecContext(ctx, `
		UPDATE runs SET seen = $1, inserted = $2, updated = $3, rejected = $4 WHERE run_id = $5
	`, metrics.Seen, metrics.Inserted, metrics.Updated, metrics.Rejected, runID)
	if err != nil {
		return fmt.Errorf("control store: update metrics: %w", err)
	}

	return nil
}

// LogError records the last failure observed against a run.
func (s *ControlStore) LogError(ctx context.Context, runID string, runErr ingestion.RunError) error {
	var httpStatus interface{}
	if runErr.HTTPStatus != 0 {
		httpStatus = runErr.HTTPStatus
	}

	var faultCode interface{}
	if runErr.SoapFaultCode != "" {
		faultCode = runErr.SoapFaultCode
	}

	_, err := s.conn.ExecContext(ctx, `
		UPDATE runs SET last_error_message = $1, last_error_http_status = $2, last_error_soap_fault_code = $3
		WHERE run_id = $4
	`, runErr.Message, httpStatus, faultCode, runID)
	if err != nil {
		return fmt.Errorf("control store: log error: %w", err)
	}

	return nil
}

// AppendReject persists one rejected record in its own transaction.
func (s *ControlStore) AppendReject(ctx context.Context, runID string, rawData, reason string, isParseError bool) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO rejects (reject_id, run_id, raw_data, reason, is_parse_error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.NewString(), runID, rawData, reason, isParseError, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("control store: append reject: %w", err)
	}

	return nil
}

// IsWindowComplete reports whether a SUCCEEDED run already owns this
// (methodName, windowKey).
func (s *ControlStore) IsWindowComplete(ctx context.Context, methodName, windowKey string) (bool, error) {
	var exists bool

	err := s.conn.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM runs WHERE method_name = $1 AND window_key = $2 AND status = $3)
	`, methodName, windowKey, string(ingestion.RunStatusSucceeded)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("control store: check window complete: %w", err)
	}

	return exists, nil
}

// RecordAudit appends one audit event in its own transaction.
func (s *ControlStore) RecordAudit(ctx context.Context, event ingestion.AuditEvent) error {
	var runID interface{}
	if event.RunID != "" {
		runID = event.RunID
	}

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO audit (audit_id, run_id, request_id, request_source, event_type, message, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, uuid.NewString(), runID, event.RequestID, string(event.RequestSource), string(event.EventType), event.Message, occurredAt)
	if err != nil {
		return fmt.Errorf("control store: record audit: %w", err)
	}

	return nil
}

// AuditByRequestID returns the full trail for one requestId.
func (s *ControlStore) AuditByRequestID(ctx context.Context, requestID string) (*ingestion.AuditTrail, error) {
	events, err := s.queryAudit(ctx, `
		SELECT audit_id, COALESCE(run_id, ''), request_id, request_source, event_type, message, occurred_at
		FROM audit WHERE request_id = $1 ORDER BY occurred_at ASC
	`, requestID)
	if err != nil {
		return nil, err
	}

	if len(events) == 0 {
		return nil, nil
	}

	return &ingestion.AuditTrail{
		RequestID:  requestID,
		EventCount: len(events),
		FirstEvent: events[0].OccurredAt,
		LastEvent:  events[len(events)-1].OccurredAt,
		Events:     events,
	}, nil
}

// AuditByRunID returns every event recorded against one run.
func (s *ControlStore) AuditByRunID(ctx context.Context, runID string) ([]ingestion.AuditEvent, error) {
	return s.queryAudit(ctx, `
		SELECT audit_id, COALESCE(run_id, ''), request_id, request_source, event_type, message, occurred_at
		FROM audit WHERE run_id = $1 ORDER BY occurred_at ASC
	`, runID)
}

// RecentAudit returns the most recent events across all runs, newest
// first, bounded by limit.
func (s *ControlStore) RecentAudit(ctx context.Context, limit int) ([]ingestion.AuditEvent, error) {
	return s.queryAudit(ctx, `
		SELECT audit_id, COALESCE(run_id, ''), request_id, request_source, event_type, message, occurred_at
		FROM audit ORDER BY occurred_at DESC LIMIT $1
	`, limit)
}

func (s *ControlStore) queryAudit(ctx context.Context, query string, arg interface{}) ([]ingestion.AuditEvent, error) {
	rows, err := s.conn.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("control store: query audit: %w", err)
	}

	defer func() { _ = rows.Close() }()

	var events []ingestion.AuditEvent

	for rows.Next() {
		var e ingestion.AuditEvent

		var requestSource, eventType string

		if err := rows.Scan(&e.AuditID, &e.RunID, &e.RequestID, &requestSource, &eventType, &e.Message, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("control store: scan audit row: %w", err)
		}

		e.RequestSource = ingestion.RequestSource(requestSource)
		e.EventType = ingestion.AuditEventType(eventType)
		events = append(events, e)
	}

	return events, rows.Err()
}

// isUniqueViolation reports whether err is a Postgres unique_violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqUniqueViolation
	}

	return false
}
