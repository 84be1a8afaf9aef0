// Package curated implements the read-side query surface over the five
// curated tables (§6.3): date-range and business-key filtering with
// 1-based, envelope-wrapped pagination. It never writes — internal/storage's
// UpsertStore owns every insert — and it shares that package's justification
// for building SQL from method-derived names: table and column identifiers
// come from the closed internal/methods registry, never from request input.
package curated

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultPageSize is used when the caller omits a page size.
	DefaultPageSize = 50
	// MaxPageSize caps the page size a caller may request (§6.3).
	MaxPageSize = 500
)

// Filter narrows a curated query by date range and/or exact-match business
// keys. Date and (StartDate, EndDate) are mutually exclusive uses: a single
// Date is translated to [Date, Date+1day); a range uses StartDate inclusive
// and EndDate+1day exclusive (§6.3's half-open end-date rule). Both are
// expressed as full local-zone days already converted to UTC by the caller
// (the API layer owns time-zone interpretation; this package only ever
// sees UTC instants).
type Filter struct {
	Date      *time.Time
	StartDate *time.Time
	EndDate   *time.Time
	Equals    map[string]string
}

// Pagination is the caller's requested page; normalize clamps it to valid,
// non-zero bounds.
type Pagination struct {
	Page     int
	PageSize int
}

// normalize returns a copy with Page >= 1 and 1 <= PageSize <= MaxPageSize.
func (p Pagination) normalize() Pagination {
	out := p
	if out.Page < 1 {
		out.Page = 1
	}

	if out.PageSize <= 0 {
		out.PageSize = DefaultPageSize
	}

	if out.PageSize > MaxPageSize {
		out.PageSize = MaxPageSize
	}

	return out
}

func (p Pagination) offset() int {
	return (p.Page - 1) * p.PageSize
}

// Envelope is the §6.3 response shape: total count, 1-based prev/next page
// numbers (nil at the boundaries), total page count, and the page's rows as
// generic column maps — the five curated tables have disjoint column sets,
// so there is no single struct to decode into at this layer; the API
// package re-shapes Results per endpoint as needed.
type Envelope struct {
	Count   int
	Next    *int
	Prev    *int
	Pages   int
	Results []map[string]interface{}
}

// Store queries the curated tables. It holds no table-specific state: the
// table name and the column that carries its date dimension are supplied
// per call by the API handler, which knows them from methods.Registry.
type Store struct {
	conn *sql.DB
}

// NewStore builds a Store over conn.
func NewStore(conn *sql.DB) *Store {
	return &Store{conn: conn}
}

// Query runs a filtered, paginated read against table, treating dateColumn
// as the column Filter's date bounds apply to.
func (s *Store) Query(ctx context.Context, table, dateColumn string, filter Filter, page Pagination) (*Envelope, error) {
	page = page.normalize()

	where, args := buildWhere(dateColumn, filter)

	total, err := s.count(ctx, table, where, args)
	if err != nil {
		return nil, fmt.Errorf("curated: count %s: %w", table, err)
	}

	rows, err := s.selectPage(ctx, table, where, args, page)
	if err != nil {
		return nil, fmt.Errorf("curated: select %s: %w", table, err)
	}

	return buildEnvelope(total, page, rows), nil
}

// buildWhere renders Filter into a "WHERE ..." clause (or "" if
// unconstrained) plus its positional args, in the order: date bound(s),
// then equality filters in sorted column order. Table/column names never
// originate here — only dateColumn and the keys of Equals, both of which
// the caller sources from methods.Registry/methods.Columns, a closed set
// fixed at compile time.
func buildWhere(dateColumn string, filter Filter) (string, []interface{}) {
	var (
		clauses []string
		args    []interface{}
	)

	switch {
	case filter.Date != nil:
		start := filter.Date.UTC()
		end := start.AddDate(0, 0, 1)
		args = append(args, start, end)
		//nolint:gosec // dateColumn is sourced from methods.Columns, a closed compile-time set.
		clauses = append(clauses, fmt.Sprintf("%s >= $%d AND %s < $%d", dateColumn, len(args)-1, dateColumn, len(args)))
	case filter.StartDate != nil || filter.EndDate != nil:
		if filter.StartDate != nil {
			args = append(args, filter.StartDate.UTC())
			//nolint:gosec // dateColumn is sourced from methods.Columns, a closed compile-time set.
			clauses = append(clauses, fmt.Sprintf("%s >= $%d", dateColumn, len(args)))
		}

		if filter.EndDate != nil {
			end := filter.EndDate.UTC().AddDate(0, 0, 1)
			args = append(args, end)
			//nolint:gosec // dateColumn is sourced from methods.Columns, a closed compile-time set.
			clauses = append(clauses, fmt.Sprintf("%s < $%d", dateColumn, len(args)))
		}
	}

	for _, column := range sortedKeys(filter.Equals) {
		args = append(args, filter.Equals[column])
		//nolint:gosec // column is sourced from methods.Columns, a closed compile-time set.
		clauses = append(clauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if len(clauses) == 0 {
		return "", nil
	}

	return "WHERE " + strings.Join(clauses, " AND "), args
}

// sortedKeys gives a stable column order so generated SQL (and therefore
// placeholder numbering) is deterministic across calls with the same
// filter, which in turn keeps query-plan caching and tests reproducible.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}

	return keys
}

func (s *Store) count(ctx context.Context, table, where string, args []interface{}) (int, error) {
	//nolint:gosec // table is sourced from methods.Registry, a closed compile-time set.
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s %s", table, where)

	var total int
	if err := s.conn.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, err
	}

	return total, nil
}

func (s *Store) selectPage(
	ctx context.Context,
	table, where string,
	args []interface{},
	page Pagination,
) ([]map[string]interface{}, error) {
	limitArg := len(args) + 1
	offsetArg := len(args) + 2

	//nolint:gosec // table is sourced from methods.Registry, a closed compile-time set.
	query := fmt.Sprintf("SELECT * FROM %s %s ORDER BY last_updated DESC LIMIT $%d OFFSET $%d",
		table, where, limitArg, offsetArg)

	queryArgs := append(append([]interface{}{}, args...), page.PageSize, page.offset())

	rows, err := s.conn.QueryContext(ctx, query, queryArgs...)
	if err != nil {
		return nil, err
	}

	defer func() { _ = rows.Close() }()

	return scanRows(rows)
}

// scanRows decodes an arbitrary result set into generic column maps, since
// the five curated tables don't share a Go struct to scan into.
func scanRows(rows *sql.Rows) ([]map[string]interface{}, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []map[string]interface{}

	for rows.Next() {
		values := make([]interface{}, len(columns))
		pointers := make([]interface{}, len(columns))

		for i := range values {
			pointers[i] = &values[i]
		}

		if err := rows.Scan(pointers...); err != nil {
			return nil, err
		}

		record := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			record[col] = values[i]
		}

		out = append(out, record)
	}

	return out, rows.Err()
}

// buildEnvelope derives the §6.3 pagination metadata from a known total
// and the page that was actually fetched.
func buildEnvelope(total int, page Pagination, rows []map[string]interface{}) *Envelope {
	pages := total / page.PageSize
	if total%page.PageSize != 0 {
		pages++
	}

	env := &Envelope{
		Count:   total,
		Pages:   pages,
		Results: rows,
	}

	if page.Page > 1 {
		prev := page.Page - 1
		env.Prev = &prev
	}

	if page.Page < pages {
		next := page.Page + 1
		env.Next = &next
	}

	return env
}
