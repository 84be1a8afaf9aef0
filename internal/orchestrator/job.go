// Package orchestrator implements the IngestionJob state machine (§4.6):
// the single component that decides whether a pull may run, advances a Run
// through its lifecycle, and ties together WindowPolicy, SoapSource,
// RecordParsers, the method registry, UpsertStore, and ControlStore.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/sipsa-ingest/ingestor/internal/audit"
	"github.com/sipsa-ingest/ingestor/internal/ingestion"
	"github.com/sipsa-ingest/ingestor/internal/methods"
	"github.com/sipsa-ingest/ingestor/internal/parsers"
	"github.com/sipsa-ingest/ingestor/internal/soap"
	"github.com/sipsa-ingest/ingestor/internal/storage"
	"github.com/sipsa-ingest/ingestor/internal/window"
)

// ErrThresholdExceeded re-exports ingestion.ErrThresholdExceeded so callers
// need not import internal/ingestion just to check this one sentinel.
var ErrThresholdExceeded = ingestion.ErrThresholdExceeded

// upserter is the subset of *storage.UpsertStore the orchestrator depends
// on, so unit tests can substitute an in-memory fake instead of a real
// Postgres-backed UpsertStore.
type upserter interface {
	Flush(ctx context.Context, table, runID string, rows []storage.CuratedRow) (inserted, skipped int, err error)
}

// IngestionJob wires the leaves of §2's component list into the single
// state machine described in §4.6. One instance is shared across every
// run — it carries no per-run mutable state; that lives in runContext.
type IngestionJob struct {
	policy    *window.Policy
	source    soap.Source
	control   ingestion.ControlStore
	upserts   upserter
	validator *ingestion.RequiredFieldsValidator
	publisher audit.EventPublisher
	cfg       Config
	logger    *slog.Logger
}

// New builds an IngestionJob. publisher may be audit.NoopPublisher{} to
// disable external audit fan-out (§11.1).
func New(
	policy *window.Policy,
	source soap.Source,
	control ingestion.ControlStore,
	upserts upserter,
	publisher audit.EventPublisher,
	cfg Config,
	logger *slog.Logger,
) *IngestionJob {
	return &IngestionJob{
		policy:    policy,
		source:    source,
		control:   control,
		upserts:   upserts,
		validator: ingestion.NewRequiredFieldsValidator(),
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run drives one execution of methodName to a terminal outcome, per the
// §4.6 flowchart. A skipped window, a duplicate, and a FAILED run are all
// expected, logged outcomes and return nil; callers that need the result
// inspect the audit trail via ControlStore. It returns an error only for an
// unknown method name or when the control store fails before a run exists
// (the window-completion check or run creation).
func (j *IngestionJob) Run(ctx context.Context, methodName string, force bool, requestID string, source ingestion.RequestSource) error {
	logger := j.logger.With(
		slog.String("method", methodName),
		slog.String("request_id", requestID),
	)

	spec, err := methods.Lookup(methodName)
	if err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}

	windowKey, err := j.policy.ValidateAndGetKey(methodName, force, time.Now())
	if err != nil {
		logger.Info("window validation failed", slog.String("error", err.Error()))
		j.audit(ctx, ingestion.AuditEvent{
			RequestID:     requestID,
			RequestSource: source,
			EventType:     ingestion.AuditIngestionSkippedWindow,
			Message:       err.Error(),
		}, logger)

		return nil
	}

	logger = logger.With(slog.String("window_key", windowKey))

	if !force {
		complete, err := j.control.IsWindowComplete(ctx, methodName, windowKey)
		if err != nil {
			return fmt.Errorf("orchestrator: check window complete: %w", err)
		}

		if complete {
			logger.Info("window already succeeded, skipping")
			j.audit(ctx, ingestion.AuditEvent{
				RequestID:     requestID,
				RequestSource: source,
				EventType:     ingestion.AuditIngestionSkippedDuplicate,
				Message:       "window already succeeded",
			}, logger)

			return nil
		}
	}

	runID, err := j.control.CreateOrRestartRun(ctx, ingestion.CreateRunRequest{
		MethodName:    methodName,
		WindowKey:     windowKey,
		RequestID:     requestID,
		RequestSource: source,
		Force:         force,
	})
	if err != nil {
		if errors.Is(err, ingestion.ErrAlreadySucceeded) || errors.Is(err, ingestion.ErrInProgressOrCompleted) || errors.Is(err, ingestion.ErrAlreadyExists) {
			logger.Info("duplicate run, skipping", slog.String("reason", err.Error()))
			j.audit(ctx, ingestion.AuditEvent{
				RequestID:     requestID,
				RequestSource: source,
				EventType:     ingestion.AuditIngestionSkippedDuplicate,
				Message:       err.Error(),
			}, logger)

			return nil
		}

		return fmt.Errorf("orchestrator: create run: %w", err)
	}

	logger = logger.With(slog.String("run_id", runID))

	j.audit(ctx, ingestion.AuditEvent{
		RunID: runID, RequestID: requestID, RequestSource: source,
		EventType: ingestion.AuditIngestionStarted, Message: "run started",
	}, logger)

	rc := newRunContext(methodName, windowKey, runID, requestID, spec.Table)

	j.execute(ctx, spec, rc, source, logger)

	return nil
}

// execute runs the RUNNING→terminal portion of §4.6 and always performs
// the FINALLY block regardless of how it exits.
func (j *IngestionJob) execute(
	ctx context.Context,
	spec methods.Spec,
	rc *runContext,
	source ingestion.RequestSource,
	logger *slog.Logger,
) {
	runErr := j.runBody(ctx, spec, rc, source, logger)

	j.finalize(ctx, rc, source, runErr, logger)
}

// runBody transitions STARTED→RUNNING, streams and processes every record,
// and validates thresholds. Its return value is nil for SUCCEEDED, or the
// cause of FAILED.
func (j *IngestionJob) runBody(
	ctx context.Context,
	spec methods.Spec,
	rc *runContext,
	source ingestion.RequestSource,
	logger *slog.Logger,
) error {
	if err := j.control.UpdateStatus(ctx, rc.runID, ingestion.RunStatusRunning); err != nil {
		return fmt.Errorf("orchestrator: transition to running: %w", err)
	}

	j.audit(ctx, ingestion.AuditEvent{
		RunID: rc.runID, RequestID: rc.requestID, RequestSource: source,
		EventType: ingestion.AuditIngestionRunning, Message: "processing started",
	}, logger)

	body, err := j.source.Stream(ctx, spec.Name)
	if err != nil {
		return err
	}

	defer func() { _ = body.Close() }()

	parser := parsers.New(body, 0)

	if err := j.processStream(ctx, parser, spec, rc); err != nil {
		return err
	}

	if err := j.validateThresholds(rc); err != nil {
		return err
	}

	return nil
}

// processStream pulls every record from parser, validates it, routes it to
// a reject or to the curated batch, and flushes full batches as it goes.
func (j *IngestionJob) processStream(ctx context.Context, parser *parsers.Parser, spec methods.Spec, rc *runContext) error {
	for {
		rec, err := parser.Next()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			var parseErr *parsers.ParseError
			if errors.As(err, &parseErr) {
				return parseErr
			}

			var fault *parsers.SoapFault
			if errors.As(err, &fault) {
				return fault
			}

			return err
		}

		rc.seen++

		if verr := j.validator.Validate(spec, rec); verr != nil {
			rc.addReject(rec.Dump(), verr.Error(), false)

			continue
		}

		row := buildRow(spec, rec)

		if flushable := rc.enqueue(row, j.cfg.BatchSize); flushable != nil {
			if err := j.flush(ctx, rc, flushable); err != nil {
				return err
			}
		}
	}

	if remaining := rc.drain(); len(remaining) > 0 {
		if err := j.flush(ctx, rc, remaining); err != nil {
			return err
		}
	}

	return nil
}

func (j *IngestionJob) flush(ctx context.Context, rc *runContext, rows []storage.CuratedRow) error {
	inserted, _, err := j.upserts.Flush(ctx, rc.table, rc.runID, rows)
	if err != nil {
		return fmt.Errorf("orchestrator: flush curated batch: %w", err)
	}

	rc.inserted += inserted

	return nil
}

// validateThresholds implements §4.6's breach rule.
func (j *IngestionJob) validateThresholds(rc *runContext) error {
	if rc.rejected > j.cfg.MaxRejectCount {
		return fmt.Errorf("%w: %d rejects exceeds max %d", ErrThresholdExceeded, rc.rejected, j.cfg.MaxRejectCount)
	}

	if rc.seen > 0 && float64(rc.rejected)/float64(rc.seen) > j.cfg.MaxRejectRate {
		return fmt.Errorf("%w: reject rate %.4f exceeds max %.4f",
			ErrThresholdExceeded, float64(rc.rejected)/float64(rc.seen), j.cfg.MaxRejectRate)
	}

	return nil
}

// finalize implements the §4.6 FINALLY block: it always runs, regardless of
// runErr, and its own failures are logged, never escalated.
func (j *IngestionJob) finalize(
	ctx context.Context,
	rc *runContext,
	source ingestion.RequestSource,
	runErr error,
	logger *slog.Logger,
) {
	status := ingestion.RunStatusSucceeded
	eventType := ingestion.AuditIngestionSucceeded
	message := fmt.Sprintf("seen=%d inserted=%d updated=%d rejected=%d", rc.seen, rc.inserted, rc.updated, rc.rejected)

	if runErr != nil {
		status = ingestion.RunStatusFailed
		eventType = ingestion.AuditIngestionFailed
		message = runErr.Error()

		if err := j.control.LogError(ctx, rc.runID, toRunError(runErr)); err != nil {
			logger.Warn("failed to record run error", slog.String("error", err.Error()))
		}
	}

	if err := j.control.UpdateStatus(ctx, rc.runID, status); err != nil {
		logger.Warn("failed to finalize run status", slog.String("error", err.Error()))
	}

	j.audit(ctx, ingestion.AuditEvent{
		RunID: rc.runID, RequestID: rc.requestID, RequestSource: source,
		EventType: eventType, Message: message,
	}, logger)

	metrics := ingestion.RunMetrics{Seen: rc.seen, Inserted: rc.inserted, Updated: rc.updated, Rejected: rc.rejected}
	if err := j.control.UpdateMetrics(ctx, rc.runID, metrics); err != nil {
		logger.Warn("failed to update run metrics", slog.String("error", err.Error()))
	}

	for _, r := range rc.pendingRejects {
		if err := j.control.AppendReject(ctx, rc.runID, r.rawData, r.reason, r.isParseError); err != nil {
			logger.Warn("failed to flush reject", slog.String("error", err.Error()))
		}
	}

	j.audit(ctx, ingestion.AuditEvent{
		RunID: rc.runID, RequestID: rc.requestID, RequestSource: source,
		EventType: ingestion.AuditMetricsUpdated, Message: message,
	}, logger)
}

// toRunError classifies runErr into the RunError shape ControlStore.LogError
// persists, surfacing a SOAP fault code when applicable (§7).
func toRunError(runErr error) ingestion.RunError {
	var fault *parsers.SoapFault
	if errors.As(runErr, &fault) {
		return ingestion.RunError{Message: fault.Message, SoapFaultCode: "SOAP_FAULT"}
	}

	if errors.Is(runErr, soap.ErrExternalUnavailable) {
		return ingestion.RunError{Message: runErr.Error(), HTTPStatus: 0}
	}

	return ingestion.RunError{Message: runErr.Error()}
}

// audit records event via ControlStore and, best-effort, fans it out
// through the configured publisher (§11.1). A failure in either path is
// logged, never escalated (§7).
func (j *IngestionJob) audit(ctx context.Context, event ingestion.AuditEvent, logger *slog.Logger) {
	event.OccurredAt = time.Now().UTC()

	if err := j.control.RecordAudit(ctx, event); err != nil {
		logger.Warn("failed to record audit event", slog.String("error", err.Error()), slog.String("event_type", string(event.EventType)))
	}

	if err := j.publisher.Publish(ctx, event); err != nil {
		logger.Warn("failed to publish audit event", slog.String("error", err.Error()), slog.String("event_type", string(event.EventType)))
	}
}
