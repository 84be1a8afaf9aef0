package ingestion

import "context"

// ControlStore is what the orchestrator needs for run bookkeeping, audit
// writes, and reject persistence (§4.2). The domain package defines this
// interface; internal/storage provides the Postgres implementation. Every
// operation here opens its own top-level transaction independent of the
// caller's — a rollback of the ingestion's logical unit must never erase
// the audit trail that explains it (§9).
type ControlStore interface {
	// CreateOrRestartRun inserts a new STARTED run for (MethodName,
	// WindowKey), or — when req.Force is set and the existing row is not
	// SUCCEEDED — resets it in place and returns its reused runId.
	//
	// Returns ErrAlreadySucceeded, ErrInProgressOrCompleted, or
	// ErrAlreadyExists per the rules in §4.2; any of these means the
	// caller must not proceed.
	CreateOrRestartRun(ctx context.Context, req CreateRunRequest) (runID string, err error)

	// UpdateStatus transitions a run. Implementations set EndTime when
	// status is terminal and must reject invalid transitions per
	// ValidateStateTransition.
	UpdateStatus(ctx context.Context, runID string, status RunStatus) error

	// UpdateMetrics overwrites a run's counters.
	UpdateMetrics(ctx context.Context, runID string, metrics RunMetrics) error

	// LogError records the last failure observed against a run.
	LogError(ctx context.Context, runID string, runErr RunError) error

	// AppendReject persists one rejected record.
	AppendReject(ctx context.Context, runID string, rawData, reason string, isParseError bool) error

	// IsWindowComplete reports whether a SUCCEEDED run already owns this
	// (methodName, windowKey).
	IsWindowComplete(ctx context.Context, methodName, windowKey string) (bool, error)

	// RecordAudit appends one audit event. Best-effort from the caller's
	// point of view: a failure here is logged by the orchestrator, never
	// escalated into a run failure (§7).
	RecordAudit(ctx context.Context, event AuditEvent) error

	// AuditByRequestID returns the full trail for one requestId, or
	// (nil, nil) if no events exist for it.
	AuditByRequestID(ctx context.Context, requestID string) (*AuditTrail, error)

	// AuditByRunID returns every event recorded against one run.
	AuditByRunID(ctx context.Context, runID string) ([]AuditEvent, error)

	// RecentAudit returns the most recent events across all runs, newest
	// first, bounded by limit.
	RecentAudit(ctx context.Context, limit int) ([]AuditEvent, error)

	// HealthCheck verifies the storage backend is reachable.
	HealthCheck(ctx context.Context) error
}
