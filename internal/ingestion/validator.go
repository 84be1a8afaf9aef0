package ingestion

import (
	"fmt"
	"strings"

	"github.com/sipsa-ingest/ingestor/internal/methods"
	"github.com/sipsa-ingest/ingestor/internal/parsers"
)

// RequiredFieldsValidator checks a parsed record against a method's
// required-field list before it reaches the upsert path (§4.6's
// per-record validation step). A missing field never aborts the run — the
// caller turns a non-nil error here into a Reject.
type RequiredFieldsValidator struct{}

// NewRequiredFieldsValidator returns a ready-to-use validator. It holds no
// state: required fields come from the method registry at call time.
func NewRequiredFieldsValidator() *RequiredFieldsValidator {
	return &RequiredFieldsValidator{}
}

// Validate returns nil if every field in spec.RequiredFields is present
// and non-blank in rec, or a descriptive error naming the missing fields
// otherwise ("Missing: <fields>", matching §4.6's reject reason format).
func (v *RequiredFieldsValidator) Validate(spec methods.Spec, rec *parsers.Record) error {
	var missing []string

	for _, field := range spec.RequiredFields {
		if _, ok := rec.Raw(field); !ok {
			missing = append(missing, field)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("Missing: %s", strings.Join(missing, ", "))
	}

	return nil
}
