package labs

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/webdiabetes/diabetes-api/internal/platform/apperr"
	"github.com/webdiabetes/diabetes-api/pkg/optional"
)

// CatalogLab maps to the catalogo_labs table.
type CatalogLab struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Nombre      string    `db:"nombre" json:"nombre"`
	Unidad      *string   `db:"unidad" json:"unidad"`
	RangoRefMin *float64  `db:"rango_ref_min" json:"rango_ref_min"`
	RangoRefMax *float64  `db:"rango_ref_max" json:"rango_ref_max"`
	Categoria   string    `db:"categoria" json:"categoria"`
	Orden       int       `db:"orden" json:"orden"`
	Activo      bool      `db:"activo" json:"activo"`
}

// Result maps to the consulta_labs table. Unit and range are copied from
// the catalog when the row is written and never follow later edits.
type Result struct {
	ID               uuid.UUID `db:"id" json:"id"`
	ConsultaID       uuid.UUID `db:"consulta_id" json:"consulta_id"`
	LabID            uuid.UUID `db:"lab_id" json:"lab_id"`
	LabNombre        string    `db:"-" json:"lab_nombre"`
	ValorNum         *float64  `db:"valor_num" json:"valor_num"`
	ValorTexto       *string   `db:"valor_texto" json:"valor_texto"`
	UnidadSnapshot   *string   `db:"unidad_snapshot" json:"unidad_snapshot"`
	RangoRefSnapshot *string   `db:"rango_ref_snapshot" json:"rango_ref_snapshot"`
	CreadoEn         time.Time `db:"creado_en" json:"creado_en"`
}

// -- Inputs --

const defaultCategoria = "general"

type CatalogLabCreate struct {
	Nombre      string   `json:"nombre"`
	Unidad      *string  `json:"unidad"`
	RangoRefMin *float64 `json:"rango_ref_min"`
	RangoRefMax *float64 `json:"rango_ref_max"`
	Categoria   *string  `json:"categoria"`
	Orden       *int     `json:"orden"`
	Activo      *bool    `json:"activo"`
}

func (in *CatalogLabCreate) Validate() error {
	in.Nombre = strings.TrimSpace(in.Nombre)
	if in.Nombre == "" {
		return apperr.BadRequest("nombre is required")
	}
	return validateRange(in.RangoRefMin, in.RangoRefMax)
}

func (in *CatalogLabCreate) toLab() *CatalogLab {
	lab := &CatalogLab{
		Nombre:      in.Nombre,
		Unidad:      in.Unidad,
		RangoRefMin: in.RangoRefMin,
		RangoRefMax: in.RangoRefMax,
		Categoria:   defaultCategoria,
		Activo:      true,
	}
	if in.Categoria != nil && strings.TrimSpace(*in.Categoria) != "" {
		lab.Categoria = strings.TrimSpace(*in.Categoria)
	}
	if in.Orden != nil {
		lab.Orden = *in.Orden
	}
	if in.Activo != nil {
		lab.Activo = *in.Activo
	}
	return lab
}

// CatalogLabUpdate edits the fields present in the request.
type CatalogLabUpdate struct {
	Nombre      optional.Field[string]  `json:"nombre"`
	Unidad      optional.Field[string]  `json:"unidad"`
	RangoRefMin optional.Field[float64] `json:"rango_ref_min"`
	RangoRefMax optional.Field[float64] `json:"rango_ref_max"`
	Categoria   optional.Field[string]  `json:"categoria"`
	Orden       optional.Field[int]     `json:"orden"`
	Activo      optional.Field[bool]    `json:"activo"`
}

func (u *CatalogLabUpdate) Validate() error {
	if u.Nombre.IsNull() || (u.Nombre.V != nil && strings.TrimSpace(*u.Nombre.V) == "") {
		return apperr.BadRequest("nombre is required")
	}
	if u.Categoria.IsNull() || u.Orden.IsNull() || u.Activo.IsNull() {
		return apperr.BadRequest("categoria, orden and activo must not be null")
	}
	return nil
}

func (u *CatalogLabUpdate) Apply(lab *CatalogLab) error {
	if u.Nombre.V != nil {
		lab.Nombre = strings.TrimSpace(*u.Nombre.V)
	}
	u.Unidad.ApplyNullable(&lab.Unidad)
	u.RangoRefMin.ApplyNullable(&lab.RangoRefMin)
	u.RangoRefMax.ApplyNullable(&lab.RangoRefMax)
	u.Categoria.Apply(&lab.Categoria)
	u.Orden.Apply(&lab.Orden)
	u.Activo.Apply(&lab.Activo)
	return validateRange(lab.RangoRefMin, lab.RangoRefMax)
}

func validateRange(lo, hi *float64) error {
	if lo != nil && hi != nil && *lo > *hi {
		return apperr.BadRequest("rango_ref_min must not exceed rango_ref_max")
	}
	return nil
}

// Value is a lab reading sent either as a JSON number or as a numeric
// string, which may use a comma as decimal separator.
type Value struct {
	num *float64
	raw *string
}

func (v *Value) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*v = Value{}
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = Value{raw: &s}
	default:
		var f float64
		if err := json.Unmarshal(b, &f); err != nil {
			return err
		}
		*v = Value{num: &f}
	}
	return nil
}

func (v Value) MarshalJSON() ([]byte, error) {
	f, err := v.Float()
	if err != nil || f == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*f)
}

// NumericValue wraps f for building inputs in code.
func NumericValue(f float64) Value { return Value{num: &f} }

// TextValue wraps a value as received in a string.
func TextValue(s string) Value { return Value{raw: &s} }

// Float returns the parsed number, or nil for a null or blank value.
func (v Value) Float() (*float64, error) {
	if v.num != nil {
		return v.num, nil
	}
	if v.raw == nil {
		return nil, nil
	}
	cleaned := strings.ReplaceAll(strings.TrimSpace(*v.raw), ",", ".")
	if cleaned == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return nil, apperr.BadRequest("El valor debe ser numerico")
	}
	return &f, nil
}

// ResultInput is one reading to save. LabID is a catalog id or name.
type ResultInput struct {
	LabID      string  `json:"lab_id"`
	ValorNum   Value   `json:"valor_num"`
	ValorTexto *string `json:"valor_texto"`
}

// parsed is a validated ResultInput.
type parsed struct {
	ref   string
	num   *float64
	texto *string
}

func (in *ResultInput) parse() (parsed, error) {
	ref := strings.TrimSpace(in.LabID)
	if ref == "" {
		return parsed{}, apperr.BadRequest("Laboratorio requerido")
	}
	num, err := in.ValorNum.Float()
	if err != nil {
		return parsed{}, err
	}
	var texto *string
	if in.ValorTexto != nil && strings.TrimSpace(*in.ValorTexto) != "" {
		t := strings.TrimSpace(*in.ValorTexto)
		texto = &t
	}
	if num == nil && texto == nil {
		return parsed{}, apperr.BadRequest("El valor es requerido")
	}
	return parsed{ref: ref, num: num, texto: texto}, nil
}

// NormalizeName trims a lab name and collapses inner whitespace.
func NormalizeName(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// FormatRange renders a reference range as "min - max", ">= min" or
// "<= max". It returns nil when both bounds are absent.
func FormatRange(lo, hi *float64) *string {
	var s string
	switch {
	case lo == nil && hi == nil:
		return nil
	case lo == nil:
		s = "<= " + formatFloat(*hi)
	case hi == nil:
		s = ">= " + formatFloat(*lo)
	default:
		s = formatFloat(*lo) + " - " + formatFloat(*hi)
	}
	return &s
}

// formatFloat always keeps a fractional part, so 70 renders as "70.0".
// Magnitudes below 1e-4 or from 1e16 up use exponent form, e.g. "1e-05".
func formatFloat(f float64) string {
	format := byte('f')
	if abs := math.Abs(f); abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		format = 'e'
	}
	s := strconv.FormatFloat(f, format, -1, 64)
	if !strings.ContainsAny(s, ".eEIN") {
		s += ".0"
	}
	return s
}
