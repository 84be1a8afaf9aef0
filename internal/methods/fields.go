package methods

// FieldKind selects which typed Record accessor a ColumnSpec pulls its
// value through before it becomes a storage.Field.
type FieldKind int

const (
	KindString FieldKind = iota
	KindInt
	KindFloat
	KindTime
)

// ColumnSpec maps one curated-table column to the lowercase record field
// that fills it, and the accessor used to convert it (§4.4's fixed
// lowercase field names; §3.2's per-entity column sets).
type ColumnSpec struct {
	Column string
	Record string
	Kind   FieldKind
}

// Columns gives the orchestrator the column list for one method's curated
// table, in the order curated rows are built. The dedup/tmp-id fields
// themselves are addressed separately via DedupFields/TmpIDField/
// FallbackFields since they feed key construction rather than a plain
// column copy.
var Columns = map[string][]ColumnSpec{ //nolint:gochecknoglobals
	"promediosSipsaCiudad": {
		{Column: "reg_id", Record: "regid", Kind: KindString},
		{Column: "cod_producto", Record: "codproducto", Kind: KindString},
		{Column: "ciud_nombre", Record: "ciudnombre", Kind: KindString},
		{Column: "arti_nombre", Record: "artinombre", Kind: KindString},
		{Column: "fecha_captura", Record: "fechacaptura", Kind: KindTime},
		{Column: "precio_promedio", Record: "preciopromedio", Kind: KindFloat},
		{Column: "precio_minimo", Record: "preciominimo", Kind: KindFloat},
		{Column: "precio_maximo", Record: "preciomaximo", Kind: KindFloat},
	},
	"promediosSipsaParcial": {
		{Column: "muni_id", Record: "muniid", Kind: KindString},
		{Column: "fuen_id", Record: "fuenid", Kind: KindString},
		{Column: "futi_id", Record: "futiid", Kind: KindString},
		{Column: "id_arti_semana", Record: "idartisemana", Kind: KindString},
		{Column: "arti_nombre", Record: "artinombre", Kind: KindString},
		{Column: "enma_fecha", Record: "enmafecha", Kind: KindTime},
		{Column: "precio_promedio", Record: "preciopromedio", Kind: KindFloat},
	},
	"promediosSipsaMayoristaSemanal": {
		{Column: "tmp_mayo_sem_id", Record: "tmpmayosemid", Kind: KindString},
		{Column: "arti_id", Record: "artiid", Kind: KindString},
		{Column: "fuen_id", Record: "fuenid", Kind: KindString},
		{Column: "fuen_nombre", Record: "fuennombre", Kind: KindString},
		{Column: "arti_nombre", Record: "artinombre", Kind: KindString},
		{Column: "fecha_ini", Record: "fechaini", Kind: KindTime},
		{Column: "fecha_fin", Record: "fechafin", Kind: KindTime},
		{Column: "promedio_kg", Record: "promediokg", Kind: KindFloat},
	},
	"promedioMayoristaSipsaMesMadr": {
		{Column: "tmp_mayo_mes_id", Record: "tmpmayomesid", Kind: KindString},
		{Column: "arti_id", Record: "artiid", Kind: KindString},
		{Column: "fuen_id", Record: "fuenid", Kind: KindString},
		{Column: "fuen_nombre", Record: "fuennombre", Kind: KindString},
		{Column: "arti_nombre", Record: "artinombre", Kind: KindString},
		{Column: "fecha_mes_ini", Record: "fechamesini", Kind: KindTime},
		{Column: "fecha_mes_fin", Record: "fechamesfin", Kind: KindTime},
		{Column: "promedio_kg", Record: "promediokg", Kind: KindFloat},
	},
	"promedioAbasSipsaMesMadr": {
		{Column: "tmp_abas_mes_id", Record: "tmpabasmesid", Kind: KindString},
		{Column: "arti_id", Record: "artiid", Kind: KindString},
		{Column: "fuen_id", Record: "fuenid", Kind: KindString},
		{Column: "fuen_nombre", Record: "fuennombre", Kind: KindString},
		{Column: "arti_nombre", Record: "artinombre", Kind: KindString},
		{Column: "fecha_mes", Record: "fechames", Kind: KindTime},
		{Column: "abastecimiento_kg", Record: "abastecimientokg", Kind: KindFloat},
	},
}

// DedupFields gives the ordered tuple of lowercase record fields fed to
// canonicalization.BusinessKey or canonicalization.HashKey for a method
// using the BusinessKey or HashKey strategy (§3.2). Not consulted for
// DualStrategy methods — see FallbackFields for their non-tmp branch.
var DedupFields = map[string][]string{ //nolint:gochecknoglobals
	"promediosSipsaCiudad":  {"regid", "codproducto"},
	"promediosSipsaParcial": {"muniid", "fuenid", "futiid", "idartisemana", "enmafecha", "artinombre"},
}

// TmpIDField names the lowercase record field holding a DualStrategy
// method's temporary id, consulted first at flush time (§3.2, §4.5).
var TmpIDField = map[string]string{ //nolint:gochecknoglobals
	"promediosSipsaMayoristaSemanal": "tmpmayosemid",
	"promedioMayoristaSipsaMesMadr":  "tmpmayomesid",
	"promedioAbasSipsaMesMadr":       "tmpabasmesid",
}

// FallbackFields gives the (artiId, fuenId, fechaXxx) tuple a DualStrategy
// method dedups on when its temporary id is absent (§3.2).
var FallbackFields = map[string][]string{ //nolint:gochecknoglobals
	"promediosSipsaMayoristaSemanal": {"artiid", "fuenid", "fechaini"},
	"promedioMayoristaSipsaMesMadr":  {"artiid", "fuenid", "fechamesini"},
	"promedioAbasSipsaMesMadr":       {"artiid", "fuenid", "fechames"},
}
