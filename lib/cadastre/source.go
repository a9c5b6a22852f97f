package cadastre

// SourceName identifies one external portal contributing to an index.
type SourceName string

const (
	SOURCE_BASIC_PLAN        SourceName = "basic_plan"
	SOURCE_PROJECT           SourceName = "project"
	SOURCE_CADASTRAL_MAPPING SourceName = "cadastral_mapping"
	SOURCE_IMAGERY           SourceName = "imagery"
)

// Sources is the order in which sources run for every index. Imagery is
// last because it is looked up with the address found by the others.
var Sources = []SourceName{
	SOURCE_BASIC_PLAN,
	SOURCE_PROJECT,
	SOURCE_CADASTRAL_MAPPING,
	SOURCE_IMAGERY,
}

func (s SourceName) Title() string {
	switch s {
	case SOURCE_BASIC_PLAN:
		return "SIATU - Planta Básica"
	case SOURCE_PROJECT:
		return "Urbano - Projetos"
	case SOURCE_CADASTRAL_MAPPING:
		return "SISCTM - Mapeamento Cadastral"
	case SOURCE_IMAGERY:
		return "Google Maps - Imagens"
	}
	return string(s)
}

type FieldKind int

const (
	FIELD_TEXT FieldKind = iota
	FIELD_AREA
)

type Field struct {
	Key   string
	Label string
	Kind  FieldKind
}

const (
	FieldBuiltArea       = "area_construida"
	FieldFiscalYear      = "exercicio"
	FieldUsageType       = "tipo_uso"
	FieldPropertyAddress = "endereco_imovel"
	FieldRegistryNumber  = "matricula_registro"
	FieldNotary          = "cartorio"

	FieldProjectType = "tipo"
	FieldRequest     = "requerimento"
	FieldLastChange  = "ultima_alteracao"
	FieldLotArea     = "area_lotes"

	FieldCtmGeoArea     = "iptu_ctm_geo_area"
	FieldCtmGeoLandArea = "iptu_ctm_geo_area_terreno"
	FieldLotCpArea      = "lote_cp_ativo_area_informada"
	FieldCtmGeoAddress  = "endereco_ctmgeo"

	FieldSearchedAddress = "endereco_consultado"
)

var schemas = map[SourceName][]Field{
	SOURCE_BASIC_PLAN: {
		{Key: FieldBuiltArea, Label: "Área Construída Total", Kind: FIELD_AREA},
		{Key: FieldFiscalYear, Label: "Exercício"},
		{Key: FieldUsageType, Label: "Tipo de uso"},
		{Key: FieldPropertyAddress, Label: "Endereço do imóvel"},
		{Key: FieldRegistryNumber, Label: "Número da matrícula"},
		{Key: FieldNotary, Label: "Cartório"},
	},
	SOURCE_PROJECT: {
		{Key: FieldProjectType, Label: "Tipo"},
		{Key: FieldRequest, Label: "Requerimento"},
		{Key: FieldLastChange, Label: "Última Alteração"},
		{Key: FieldLotArea, Label: "Área do(s) lote(s)", Kind: FIELD_AREA},
	},
	SOURCE_CADASTRAL_MAPPING: {
		{Key: FieldCtmGeoArea, Label: "IPTU CTM GEO - Área", Kind: FIELD_AREA},
		{Key: FieldCtmGeoLandArea, Label: "IPTU CTM GEO - Área do terreno", Kind: FIELD_AREA},
		{Key: FieldLotCpArea, Label: "Lote CP ativo - Área informada", Kind: FIELD_AREA},
		{Key: FieldCtmGeoAddress, Label: "Endereço CTM GEO"},
	},
	SOURCE_IMAGERY: {
		{Key: FieldSearchedAddress, Label: "Endereço consultado"},
	},
}

// Schema returns the ordered fields a source is expected to provide.
func Schema(source SourceName) []Field {
	return schemas[source]
}

// SourceRecord is what one source produced for one index. Every field of
// the source's schema is always present, set to NotInformed until a value
// is read.
type SourceRecord struct {
	Source SourceName
	// Found is false when the source contributed nothing.
	Found bool
	// Attempts is how many sessions were opened against the source.
	Attempts int
	// Err is the last failure when Found is false.
	Err error

	values map[string]Value
}

func NewSourceRecord(source SourceName) *SourceRecord {
	r := &SourceRecord{
		Source: source,
		values: map[string]Value{},
	}
	for _, f := range schemas[source] {
		r.values[f.Key] = NotInformed()
	}
	return r
}

// Set stores a value, keys outside of the schema are ignored.
func (r *SourceRecord) Set(key string, v Value) bool {
	if _, ok := r.values[key]; !ok {
		return false
	}
	r.values[key] = v
	return true
}

func (r *SourceRecord) Get(key string) Value {
	if r == nil {
		return NotInformed()
	}
	return r.values[key]
}

// Has reports whether the record carries a field under key.
func (r *SourceRecord) Has(key string) bool {
	_, ok := r.values[key]
	return ok
}

type FieldValue struct {
	Field Field
	Value Value
}

// Fields returns the schema fields in order along with their values.
func (r *SourceRecord) Fields() []FieldValue {
	schema := schemas[r.Source]
	out := make([]FieldValue, len(schema))
	for i, f := range schema {
		out[i] = FieldValue{Field: f, Value: r.values[f.Key]}
	}
	return out
}
