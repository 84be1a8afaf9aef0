package orchestrator

import "github.com/sipsa-ingest/ingestor/internal/storage"

// pendingReject is one record buffered in memory until the run reaches a
// terminal state, per §3.1's "accumulated in memory, flushed once at
// finalization" lifecycle.
type pendingReject struct {
	rawData      string
	reason       string
	isParseError bool
}

// runContext is the shared accumulator threaded through one IngestionJob
// execution (§4.6, §9's "shared RunContext accumulator"). It is not safe
// for concurrent use — exactly one goroutine drives a single run.
type runContext struct {
	methodName    string
	windowKey     string
	runID         string
	requestID     string
	table         string
	seen          int
	inserted      int
	updated       int
	rejected      int
	batch         []storage.CuratedRow
	pendingRejects []pendingReject
}

func newRunContext(methodName, windowKey, runID, requestID, table string) *runContext {
	return &runContext{
		methodName: methodName,
		windowKey:  windowKey,
		runID:      runID,
		requestID:  requestID,
		table:      table,
	}
}

func (rc *runContext) addReject(rawData, reason string, isParseError bool) {
	rc.rejected++
	rc.pendingRejects = append(rc.pendingRejects, pendingReject{
		rawData:      rawData,
		reason:       reason,
		isParseError: isParseError,
	})
}

func (rc *runContext) enqueue(row storage.CuratedRow, batchSize int) []storage.CuratedRow {
	rc.batch = append(rc.batch, row)

	if len(rc.batch) >= batchSize {
		flushable := rc.batch
		rc.batch = nil

		return flushable
	}

	return nil
}

func (rc *runContext) drain() []storage.CuratedRow {
	flushable := rc.batch
	rc.batch = nil

	return flushable
}
