// Package methods is the strategy registry from SPEC_FULL.md §9: a tagged
// variant for the method name plus a small map selecting, per method, its
// window classification, required fields, dedup strategy, and curated
// table. This replaces an abstract-job/per-method-handler class hierarchy
// with data plus the five upsert-strategy implementations in
// internal/storage choosing behavior off Strategy.
package methods

import "errors"

// DedupStrategy identifies which upsert algorithm a curated table uses (§3.2, §4.5).
type DedupStrategy int

const (
	// BusinessKey dedups on a fixed tuple of business fields.
	BusinessKey DedupStrategy = iota
	// HashKey dedups on a SHA-256 hash of concatenated business fields.
	HashKey
	// DualStrategy routes to a temporary-id branch when present, else a
	// business-key fallback branch.
	DualStrategy
)

// Spec describes everything the orchestrator and storage layer need to know
// about one ingestion method.
type Spec struct {
	Name            string
	RequiredFields  []string // lowercased field names, checked before mapping (§4.6)
	Strategy        DedupStrategy
	Table           string
}

// ErrUnknownMethod is returned by Lookup for a method not in the registry.
var ErrUnknownMethod = errors.New("methods: unknown method")

// Registry is the closed set of ingestible methods (§6.4's "availableMethods").
var Registry = map[string]Spec{
	"promediosSipsaCiudad": {
		Name:           "promediosSipsaCiudad",
		RequiredFields: []string{"regid", "codproducto", "fechacaptura"},
		Strategy:       BusinessKey,
		Table:          "city_prices",
	},
	"promediosSipsaParcial": {
		Name:           "promediosSipsaParcial",
		RequiredFields: []string{"muniid", "fuenid", "futiid", "idartisemana", "enmafecha"},
		Strategy:       HashKey,
		Table:          "partial_market_prices",
	},
	"promediosSipsaMayoristaSemanal": {
		Name:           "promediosSipsaMayoristaSemanal",
		RequiredFields: []string{"artiid", "fuenid", "fechaini"},
		Strategy:       DualStrategy,
		Table:          "weekly_wholesale_prices",
	},
	"promedioMayoristaSipsaMesMadr": {
		Name:           "promedioMayoristaSipsaMesMadr",
		RequiredFields: []string{"artiid", "fuenid", "fechamesini"},
		Strategy:       DualStrategy,
		Table:          "monthly_wholesale_prices",
	},
	"promedioAbasSipsaMesMadr": {
		Name:           "promedioAbasSipsaMesMadr",
		RequiredFields: []string{"artiid", "fuenid", "fechames"},
		Strategy:       DualStrategy,
		Table:          "monthly_supply",
	},
}

// DailyBatch lists the methods the scheduler's daily trigger fires, in
// dispatch order: city, partial, then weekly wholesale. Each is started in
// its own goroutine, so they run concurrently, not one after another.
var DailyBatch = []string{
	"promediosSipsaCiudad",
	"promediosSipsaParcial",
	"promediosSipsaMayoristaSemanal",
}

// MonthlyMethods are fired one-per-trigger on their configured day (§4.7).
var MonthlyMethods = []string{
	"promedioMayoristaSipsaMesMadr",
	"promedioAbasSipsaMesMadr",
}

// Lookup returns the Spec for name, or ErrUnknownMethod.
func Lookup(name string) (Spec, error) {
	spec, ok := Registry[name]
	if !ok {
		return Spec{}, ErrUnknownMethod
	}

	return spec, nil
}

// Names returns the registered method names in a stable order, for the
// GET /internal/ingestion/methods response (§6.1).
func Names() []string {
	// Registration order mirrors §3.2's table: city, partial, weekly,
	// monthly wholesale, monthly supply.
	return []string{
		"promediosSipsaCiudad",
		"promediosSipsaParcial",
		"promediosSipsaMayoristaSemanal",
		"promedioMayoristaSipsaMesMadr",
		"promedioAbasSipsaMesMadr",
	}
}
