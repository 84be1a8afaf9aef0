package parsers

import (
	"strconv"
	"strings"
	"time"
)

// Record is one `<return>` element decoded into its child elements' trimmed
// text, keyed by lowercased local name. Field parsing is deliberately kept
// raw and lazy: typed accessors below convert on demand and are
// null-tolerant, matching §4.4's "best-effort and null-tolerant" contract —
// a record with a garbled integer field is still a usable record, just
// missing that one value.
type Record struct {
	Fields map[string]string
}

// newRecord returns an empty, ready-to-populate Record.
func newRecord() *Record {
	return &Record{Fields: make(map[string]string)}
}

// Raw returns the trimmed text for name and whether it was present and
// non-blank.
func (r *Record) Raw(name string) (string, bool) {
	v, ok := r.Fields[strings.ToLower(name)]
	if !ok || v == "" {
		return "", false
	}

	return v, true
}

// Int64 parses name as a base-10 integer. Returns (0, false) if the field is
// absent, blank, or not a valid integer — it never errors.
func (r *Record) Int64(name string) (int64, bool) {
	raw, ok := r.Raw(name)
	if !ok {
		return 0, false
	}

	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}

	return v, true
}

// Float64 parses name as a decimal. Returns (0, false) on absence or
// malformed input.
func (r *Record) Float64(name string) (float64, bool) {
	raw, ok := r.Raw(name)
	if !ok {
		return 0, false
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}

	return v, true
}

// Time parses name as an absolute instant. It tries RFC3339 first, then
// falls back to an epoch-milliseconds numeric string, per §4.4. Returns
// (zero, false) if neither parse succeeds.
func (r *Record) Time(name string) (time.Time, bool) {
	raw, ok := r.Raw(name)
	if !ok {
		return time.Time{}, false
	}

	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, true
	}

	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms), true
	}

	return time.Time{}, false
}

// Dump renders the record as a single line for reject persistence
// (`rawData` in §3.1's Reject entity).
func (r *Record) Dump() string {
	var b strings.Builder

	first := true

	for k, v := range r.Fields {
		if !first {
			b.WriteString(", ")
		}

		first = false

		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(v)
	}

	return b.String()
}
