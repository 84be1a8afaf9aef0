// Package ingestion holds the control-plane domain models for a SIPSA
// ingestion run: the Run itself, its append-only audit timeline, and the
// per-record rejects accumulated while processing it. The ControlStore
// interface (store.go) is the dependency-inversion seam the orchestrator
// codes against; concrete Postgres storage lives in internal/storage.
package ingestion

import (
	"errors"
	"time"
)

// RequestSource identifies who asked for a run.
type RequestSource string

const (
	RequestSourceManual    RequestSource = "MANUAL"
	RequestSourceScheduled RequestSource = "SCHEDULED"
	RequestSourceSystem    RequestSource = "SYSTEM"
)

// RunStatus is the run's position in its lifecycle (lifecycle.go).
type RunStatus string

const (
	RunStatusStarted   RunStatus = "STARTED"
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusSucceeded RunStatus = "SUCCEEDED"
	RunStatusFailed    RunStatus = "FAILED"
)

// IsTerminal reports whether no further transition is possible.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed
}

// RunMetrics are the record counters tracked across a run. Updated is kept
// for forward compatibility with a future update-on-conflict policy; under
// the current skip-on-conflict upsert semantics it is always zero (§9).
type RunMetrics struct {
	Seen     int
	Inserted int
	Updated  int
	Rejected int
}

// RunError captures the last failure recorded against a run, if any.
type RunError struct {
	Message       string
	HTTPStatus    int
	SoapFaultCode string
}

// Run is one execution attempt bound to (MethodName, WindowKey) — at most
// one SUCCEEDED row may ever exist for that pair (§3.1).
type Run struct {
	RunID         string
	MethodName    string
	WindowKey     string
	RequestID     string
	RequestSource RequestSource
	Status        RunStatus
	StartTime     time.Time
	EndTime       time.Time
	Metrics       RunMetrics
	LastError     *RunError
}

// CreateRunRequest is the input to ControlStore.CreateOrRestartRun.
type CreateRunRequest struct {
	MethodName    string
	WindowKey     string
	RequestID     string
	RequestSource RequestSource
	Force         bool
}

// AuditEventType is a member of the closed taxonomy in §4.6.
type AuditEventType string

const (
	AuditRequestReceived       AuditEventType = "REQUEST_RECEIVED"
	AuditRequestAccepted       AuditEventType = "REQUEST_ACCEPTED"
	AuditRequestRejected       AuditEventType = "REQUEST_REJECTED"
	AuditIngestionStarted      AuditEventType = "INGESTION_STARTED"
	AuditIngestionRunning      AuditEventType = "INGESTION_RUNNING"
	AuditIngestionSucceeded    AuditEventType = "INGESTION_SUCCEEDED"
	AuditIngestionFailed       AuditEventType = "INGESTION_FAILED"
	AuditIngestionSkippedWindow    AuditEventType = "INGESTION_SKIPPED_WINDOW"
	AuditIngestionSkippedDuplicate AuditEventType = "INGESTION_SKIPPED_DUPLICATE"
	AuditMetricsUpdated        AuditEventType = "METRICS_UPDATED"
	AuditForceRestart          AuditEventType = "FORCE_RESTART"
)

// AuditEvent is one row of the append-only timeline (§3.1). Rows are never
// modified or deleted, and are written in a transaction independent of the
// run's own state transitions (§9 — a failed run must not erase its audit).
type AuditEvent struct {
	AuditID       string
	RunID         string // empty when no run was ever created (e.g. window violation)
	RequestID     string
	RequestSource RequestSource
	EventType     AuditEventType
	Message       string
	OccurredAt    time.Time
}

// AuditTrail is the §6.2 response shape for a request-scoped audit query.
type AuditTrail struct {
	RequestID  string
	EventCount int
	FirstEvent time.Time
	LastEvent  time.Time
	Events     []AuditEvent
}

// Reject is one rejected input record (§3.1). Rejects accumulate in memory
// during a run and are flushed once at finalization regardless of outcome.
type Reject struct {
	RejectID     string
	RunID        string
	RawData      string
	Reason       string
	IsParseError bool
	CreatedAt    time.Time
}

// Orchestrator-level error taxonomy (§7). These are sentinels the HTTP and
// orchestrator layers branch on with errors.Is; they are not exhaustive of
// every failure mode (storage errors propagate as-is).
var (
	// ErrWindowViolation means the call arrived outside the method's
	// configured window without force; no run is created.
	ErrWindowViolation = errors.New("ingestion: window violation")

	// ErrAlreadySucceeded means a SUCCEEDED run already owns this
	// (method, windowKey) and force was not set.
	ErrAlreadySucceeded = errors.New("ingestion: window already succeeded")

	// ErrInProgressOrCompleted means a non-FAILED run already owns this
	// (method, windowKey) and force was not set.
	ErrInProgressOrCompleted = errors.New("ingestion: run in progress or completed")

	// ErrAlreadyExists means a concurrent CreateOrRestartRun beat this one
	// to the unique (method, windowKey) constraint.
	ErrAlreadyExists = errors.New("ingestion: run already exists")

	// ErrThresholdExceeded means the reject count or rate breached the
	// configured limits; the run is finalized FAILED.
	ErrThresholdExceeded = errors.New("ingestion: reject threshold exceeded")

	// ErrUnknownMethod means the requested method is not in the registry.
	ErrUnknownMethod = errors.New("ingestion: unknown method")
)
