package orchestrator

import (
	"database/sql"

	"github.com/sipsa-ingest/ingestor/internal/canonicalization"
	"github.com/sipsa-ingest/ingestor/internal/methods"
	"github.com/sipsa-ingest/ingestor/internal/parsers"
	"github.com/sipsa-ingest/ingestor/internal/storage"
)

// buildRow converts a validated record into the CuratedRow its method's
// UpsertStore.Flush call expects, selecting the dedup-key construction per
// methods.Spec.Strategy (§3.2, §4.5's dual-strategy routing).
func buildRow(spec methods.Spec, rec *parsers.Record) storage.CuratedRow {
	row := storage.CuratedRow{
		Fields: columnsFor(spec.Name, rec),
	}

	switch spec.Strategy {
	case methods.BusinessKey:
		row.DedupKey = canonicalization.BusinessKey(rawTuple(rec, methods.DedupFields[spec.Name])...)
	case methods.HashKey:
		row.DedupKey = canonicalization.HashKey(rawTuple(rec, methods.DedupFields[spec.Name])...)
	case methods.DualStrategy:
		tmpField := methods.TmpIDField[spec.Name]
		if tmp, ok := rec.Raw(tmpField); ok {
			row.TmpID = sql.NullString{String: tmp, Valid: true}
		}

		row.DedupKey = canonicalization.BusinessKey(rawTuple(rec, methods.FallbackFields[spec.Name])...)
	}

	return row
}

// rawTuple reads each named field's raw text in order, substituting "" for
// an absent field — required fields are already guaranteed present by
// ingestion.RequiredFieldsValidator before buildRow is ever called on a
// given record.
func rawTuple(rec *parsers.Record, names []string) []string {
	out := make([]string, len(names))

	for i, name := range names {
		v, _ := rec.Raw(name)
		out[i] = v
	}

	return out
}

// columnsFor projects rec through spec's registered ColumnSpecs into
// storage.Field values, leaving a column nil when its source field is
// absent rather than coercing it to a zero value.
func columnsFor(methodName string, rec *parsers.Record) []storage.Field {
	specs := methods.Columns[methodName]
	fields := make([]storage.Field, 0, len(specs))

	for _, c := range specs {
		fields = append(fields, storage.Field{Name: c.Column, Value: columnValue(rec, c)})
	}

	return fields
}

func columnValue(rec *parsers.Record, c methods.ColumnSpec) interface{} {
	switch c.Kind {
	case methods.KindInt:
		if v, ok := rec.Int64(c.Record); ok {
			return v
		}
	case methods.KindFloat:
		if v, ok := rec.Float64(c.Record); ok {
			return v
		}
	case methods.KindTime:
		if v, ok := rec.Time(c.Record); ok {
			return v
		}
	default:
		if v, ok := rec.Raw(c.Record); ok {
			return v
		}
	}

	return nil
}
