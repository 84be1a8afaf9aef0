package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/sipsa-ingest/ingestor/internal/methods"
)

// ErrNoDatabaseConnection is returned by constructors given a nil Connection.
var ErrNoDatabaseConnection = errors.New("storage: no database connection")

// Field is one column/value pair for a curated row insert. A slice of
// Field (rather than a map) keeps column order deterministic across a
// batch, since the five curated tables each have their own column set and
// a single generic flush path has no compile-time struct to range over.
type Field struct {
	Name  string
	Value interface{}
}

// CuratedRow is one record queued for upsert into a curated table (§4.5).
// DedupKey is the business-key or hash-key string; TmpID is set only for
// dual-strategy tables and, when present, takes priority over DedupKey.
type CuratedRow struct {
	DedupKey string
	TmpID    sql.NullString
	Fields   []Field
}

// effectiveKey returns the key this row competes on: the temporary id when
// present (dual strategy), otherwise the dedup key.
func (r CuratedRow) effectiveKey() (column, value string) {
	if r.TmpID.Valid && r.TmpID.String != "" {
		return "tmp_id", r.TmpID.String
	}

	return "dedup_key", r.DedupKey
}

// UpsertStore implements the insert-if-absent, skip-if-present algorithm
// shared by all five curated tables (§4.5). One instance serves every
// table; callers select the table by name and the dedup behavior by
// methods.DedupStrategy, so this package carries a single flush
// implementation instead of five near-duplicates (§9's registry-driven
// strategy selection applies here, at the storage layer).
type UpsertStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewUpsertStore builds an UpsertStore over conn.
func NewUpsertStore(conn *Connection) (*UpsertStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &UpsertStore{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: getEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}, nil
}

// Flush applies the §4.5 algorithm to rows against table, within one
// transaction: in-batch dedup (keeping the last occurrence per key),
// a single existence probe, then a single multi-row insert for the rest.
func (s *UpsertStore) Flush(
	ctx context.Context,
	table string,
	runID string,
	rows []CuratedRow,
) (inserted int, skipped int, err error) {
	if len(rows) == 0 {
		return 0, 0, nil
	}

	deduped := dedupInBatch(rows)

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("storage: begin upsert tx: %w", err)
	}

	defer func() { _ = tx.Rollback() }()

	existingTmp, existingDedup, err := s.probeExisting(ctx, tx, table, deduped)
	if err != nil {
		return 0, 0, fmt.Errorf("storage: existence probe: %w", err)
	}

	var toInsert []CuratedRow

	for _, row := range deduped {
		column, value := row.effectiveKey()

		if column == "tmp_id" && existingTmp[value] {
			skipped++

			continue
		}

		if column == "dedup_key" && existingDedup[value] {
			skipped++

			continue
		}

		toInsert = append(toInsert, row)
	}

	if len(toInsert) > 0 {
		n, err := s.bulkInsert(ctx, tx, table, runID, toInsert)
		if err != nil {
			return 0, 0, fmt.Errorf("storage: bulk insert into %s: %w", table, err)
		}

		inserted = n
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("storage: commit upsert tx: %w", err)
	}

	s.logger.Info("curated batch flushed",
		slog.String("table", table),
		slog.Int("inserted", inserted),
		slog.Int("skipped", skipped),
	)

	return inserted, skipped, nil
}

// dedupInBatch collapses rows to unique effective keys, keeping the last
// occurrence — §4.5 step 1.
func dedupInBatch(rows []CuratedRow) []CuratedRow {
	order := make([]string, 0, len(rows))
	byKey := make(map[string]CuratedRow, len(rows))

	for _, row := range rows {
		_, value := row.effectiveKey()
		if _, seen := byKey[value]; !seen {
			order = append(order, value)
		}

		byKey[value] = row
	}

	out := make([]CuratedRow, 0, len(order))
	for _, key := range order {
		out = append(out, byKey[key])
	}

	return out
}

// probeExisting issues one query per key column in use, returning the set
// of keys already present in table (§4.5 step 2).
func (s *UpsertStore) probeExisting(
	ctx context.Context,
	tx *sql.Tx,
	table string,
	rows []CuratedRow,
) (existingTmp, existingDedup map[string]bool, err error) {
	existingTmp = map[string]bool{}
	existingDedup = map[string]bool{}

	var tmpKeys, dedupKeys []string

	for _, row := range rows {
		column, value := row.effectiveKey()
		if column == "tmp_id" {
			tmpKeys = append(tmpKeys, value)
		} else {
			dedupKeys = append(dedupKeys, value)
		}
	}

	if len(tmpKeys) > 0 {
		//nolint:gosec // table is selected from the closed methods.Registry, never user input.
		query := fmt.Sprintf(`SELECT tmp_id FROM %s WHERE tmp_id = ANY($1)`, table)

		if err := scanExistingKeys(ctx, tx, query, tmpKeys, existingTmp); err != nil {
			return nil, nil, err
		}
	}

	if len(dedupKeys) > 0 {
		//nolint:gosec // table is selected from the closed methods.Registry, never user input.
		query := fmt.Sprintf(`SELECT dedup_key FROM %s WHERE dedup_key = ANY($1)`, table)

		if err := scanExistingKeys(ctx, tx, query, dedupKeys, existingDedup); err != nil {
			return nil, nil, err
		}
	}

	return existingTmp, existingDedup, nil
}

func scanExistingKeys(ctx context.Context, tx *sql.Tx, query string, keys []string, out map[string]bool) error {
	rows, err := tx.QueryContext(ctx, query, pq.Array(keys))
	if err != nil {
		return err
	}

	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return err
		}

		out[key] = true
	}

	return rows.Err()
}

// bulkInsert persists toInsert in a single parameterized multi-row
// statement, stamping last_updated at flush time (§4.5 step 4, §3.2). The
// ON CONFLICT DO NOTHING guards against a concurrent run racing past the
// probe between steps 2 and 4 (§5 — the unique constraint is the real
// serialization point, the probe is only an optimization).
func (s *UpsertStore) bulkInsert(
	ctx context.Context,
	tx *sql.Tx,
	table string,
	runID string,
	rows []CuratedRow,
) (int, error) {
	now := time.Now().UTC()

	columnNames := []string{"ingestion_run_id", "dedup_key", "tmp_id", "last_updated"}
	for _, f := range rows[0].Fields {
		columnNames = append(columnNames, f.Name)
	}

	var (
		placeholders []string
		args         []interface{}
		argN         int
	)

	for _, row := range rows {
		rowPlaceholders := make([]string, 0, len(columnNames))
		rowArgs := []interface{}{runID, row.DedupKey, row.TmpID, now}

		for _, f := range row.Fields {
			rowArgs = append(rowArgs, f.Value)
		}

		for range rowArgs {
			argN++
			rowPlaceholders = append(rowPlaceholders, fmt.Sprintf("$%d", argN))
		}

		placeholders = append(placeholders, "("+strings.Join(rowPlaceholders, ", ")+")")
		args = append(args, rowArgs...)
	}

	//nolint:gosec // table/columnNames come from the closed methods.Registry + caller-controlled Field names, never user input.
	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES %s ON CONFLICT DO NOTHING",
		table,
		strings.Join(columnNames, ", "),
		strings.Join(placeholders, ", "),
	)

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	return int(affected), nil
}

// TableFor is a thin convenience wrapper so callers don't need to import
// methods.Registry directly just to resolve a table name.
func TableFor(methodName string) (string, error) {
	spec, err := methods.Lookup(methodName)
	if err != nil {
		return "", err
	}

	return spec.Table, nil
}
