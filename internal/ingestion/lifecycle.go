package ingestion

import (
	"errors"
	"fmt"
)

// Sentinel errors for run-status transition validation, usable with
// errors.Is.
var (
	// ErrInvalidTransition indicates a transition not covered by the FSM.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrTerminalStateImmutable indicates an attempt to move a run out of
	// a terminal status.
	ErrTerminalStateImmutable = errors.New("terminal state is immutable")

	// ErrDuplicateStart indicates a second STARTED transition on a run
	// that is already STARTED or past it.
	ErrDuplicateStart = errors.New("duplicate START transition")

	// ErrBackwardTransition indicates an attempt to move a run to an
	// earlier point in the lifecycle (e.g. RUNNING → STARTED).
	ErrBackwardTransition = errors.New("cannot transition backwards")
)

// order gives each non-terminal status its position in the forward
// sequence STARTED → RUNNING, used to detect backward moves.
var order = map[RunStatus]int{
	RunStatusStarted: 0,
	RunStatusRunning: 1,
}

// ValidateStateTransition checks whether a run may move from `from` to
// `to`, per the simplified STARTED → RUNNING → {SUCCEEDED, FAILED} machine
// (§3.1, §4.6). Unlike a general event-sourced lifecycle, a SIPSA run has
// exactly one writer driving it forward in-process, so there is no
// out-of-order arrival to reconcile — this function is a single guard
// called at each orchestrator step, not a batch reducer.
func ValidateStateTransition(from, to RunStatus) error {
	if from.IsTerminal() {
		if from != to {
			return fmt.Errorf("%w: %s → %s", ErrTerminalStateImmutable, from, to)
		}

		return nil
	}

	if from == RunStatusStarted && to == RunStatusStarted {
		return fmt.Errorf("%w: run already STARTED", ErrDuplicateStart)
	}

	fromRank, fromKnown := order[from]
	toRank, toKnown := order[to]

	if fromKnown && toKnown && toRank < fromRank {
		return fmt.Errorf("%w: %s → %s", ErrBackwardTransition, from, to)
	}

	switch from {
	case RunStatusStarted:
		switch to {
		case RunStatusRunning, RunStatusSucceeded, RunStatusFailed:
			return nil
		}
	case RunStatusRunning:
		switch to {
		case RunStatusSucceeded, RunStatusFailed:
			return nil
		}
	}

	return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, from, to)
}
