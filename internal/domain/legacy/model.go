// Package legacy serves the older consulta, visit and medication catalog
// records. They are kept readable and writable for existing clients and are
// not reconciled with the consultation package.
package legacy

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/webdiabetes/diabetes-api/internal/platform/apperr"
	"github.com/webdiabetes/diabetes-api/pkg/civil"
	"github.com/webdiabetes/diabetes-api/pkg/optional"
)

// -- Consultas --

// Consulta maps to the consultas table. The patient is a users row.
type Consulta struct {
	ID                    uuid.UUID      `db:"id" json:"id"`
	PatientUserID         uuid.UUID      `db:"patient_user_id" json:"patient_user_id"`
	CreatedByAdminID      uuid.UUID      `db:"created_by_admin_id" json:"created_by_admin_id"`
	Fecha                 time.Time      `db:"fecha" json:"fecha"`
	Diagnostico           *string        `db:"diagnostico" json:"diagnostico"`
	NotasMedicas          *string        `db:"notas_medicas" json:"notas_medicas"`
	IndicacionesGenerales *string        `db:"indicaciones_generales" json:"indicaciones_generales"`
	Medicamentos          []*Medicamento `db:"-" json:"medicamentos"`
}

type Medicamento struct {
	ID         uuid.UUID `db:"id" json:"id"`
	ConsultaID uuid.UUID `db:"consulta_id" json:"-"`
	Nombre     string    `db:"nombre" json:"nombre"`
	Dosis      string    `db:"dosis" json:"dosis"`
	Horario    string    `db:"horario" json:"horario"`
	Via        string    `db:"via" json:"via"`
	Duracion   string    `db:"duracion" json:"duracion"`
	Notas      *string   `db:"notas" json:"notas"`
}

type ConsultaSummary struct {
	ID          uuid.UUID `json:"id"`
	Fecha       time.Time `json:"fecha"`
	Diagnostico *string   `json:"diagnostico"`
}

func (c *Consulta) Summary() ConsultaSummary {
	return ConsultaSummary{ID: c.ID, Fecha: c.Fecha, Diagnostico: c.Diagnostico}
}

type MedicamentoInput struct {
	Nombre   string  `json:"nombre"`
	Dosis    string  `json:"dosis"`
	Horario  string  `json:"horario"`
	Via      string  `json:"via"`
	Duracion string  `json:"duracion"`
	Notas    *string `json:"notas"`
}

func (in *MedicamentoInput) Validate() error {
	for _, f := range []struct {
		name  string
		value *string
	}{
		{"nombre", &in.Nombre},
		{"dosis", &in.Dosis},
		{"horario", &in.Horario},
		{"via", &in.Via},
		{"duracion", &in.Duracion},
	} {
		*f.value = strings.TrimSpace(*f.value)
		if *f.value == "" {
			return apperr.BadRequest("%s is required", f.name)
		}
	}
	return nil
}

type ConsultaCreate struct {
	Diagnostico           *string            `json:"diagnostico"`
	NotasMedicas          *string            `json:"notas_medicas"`
	IndicacionesGenerales *string            `json:"indicaciones_generales"`
	Medicamentos          []MedicamentoInput `json:"medicamentos"`
}

func (in *ConsultaCreate) Validate() error {
	if in.Medicamentos == nil {
		return apperr.BadRequest("medicamentos is required")
	}
	for i := range in.Medicamentos {
		if err := in.Medicamentos[i].Validate(); err != nil {
			return apperr.BadRequest("medicamentos[%d]: %v", i, err)
		}
	}
	return nil
}

// -- Visits --

// Visit maps to the visits table. The patient is a patients row.
type Visit struct {
	ID            uuid.UUID           `db:"id" json:"id"`
	PatientID     uuid.UUID           `db:"patient_id" json:"patient_id"`
	FechaConsulta civil.Date          `db:"fecha_consulta" json:"fecha_consulta"`
	Diagnostico   string              `db:"diagnostico" json:"diagnostico"`
	NotasMedico   *string             `db:"notas_medico" json:"notas_medico"`
	CreatedAt     time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time           `db:"updated_at" json:"updated_at"`
	Items         []*PrescriptionItem `db:"-" json:"items"`
}

// PrescriptionItem references a catalog medication, carries free text, or
// both. MedicationNombre is read from the catalog.
type PrescriptionItem struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	VisitID          uuid.UUID  `db:"visit_id" json:"-"`
	MedicationID     *uuid.UUID `db:"medication_id" json:"medication_id"`
	MedicationNombre *string    `db:"-" json:"medication_nombre"`
	MedicamentoTexto *string    `db:"medicamento_texto" json:"medicamento_texto"`
	Dosis            string     `db:"dosis" json:"dosis"`
	Horario          string     `db:"horario" json:"horario"`
	Via              string     `db:"via" json:"via"`
	Duracion         string     `db:"duracion" json:"duracion"`
	Instrucciones    *string    `db:"instrucciones" json:"instrucciones"`
}

type VisitListItem struct {
	ID            uuid.UUID  `json:"id"`
	FechaConsulta civil.Date `json:"fecha_consulta"`
	Diagnostico   string     `json:"diagnostico"`
}

func (v *Visit) ListItem() VisitListItem {
	return VisitListItem{ID: v.ID, FechaConsulta: v.FechaConsulta, Diagnostico: v.Diagnostico}
}

type PrescriptionItemInput struct {
	MedicationID     *uuid.UUID `json:"medication_id"`
	MedicamentoTexto *string    `json:"medicamento_texto"`
	Dosis            string     `json:"dosis"`
	Horario          string     `json:"horario"`
	Via              string     `json:"via"`
	Duracion         string     `json:"duracion"`
	Instrucciones    *string    `json:"instrucciones"`
}

func (in *PrescriptionItemInput) Validate() error {
	if in.MedicamentoTexto != nil && strings.TrimSpace(*in.MedicamentoTexto) == "" {
		in.MedicamentoTexto = nil
	}
	if in.MedicationID == nil && in.MedicamentoTexto == nil {
		return apperr.BadRequest("Medication or free text required")
	}
	for _, f := range []struct {
		name  string
		value *string
	}{
		{"dosis", &in.Dosis},
		{"horario", &in.Horario},
		{"via", &in.Via},
		{"duracion", &in.Duracion},
	} {
		*f.value = strings.TrimSpace(*f.value)
		if *f.value == "" {
			return apperr.BadRequest("%s is required", f.name)
		}
	}
	return nil
}

type VisitCreate struct {
	FechaConsulta *civil.Date             `json:"fecha_consulta"`
	Diagnostico   string                  `json:"diagnostico"`
	NotasMedico   *string                 `json:"notas_medico"`
	Items         []PrescriptionItemInput `json:"items"`
}

func (in *VisitCreate) Validate() error {
	if in.FechaConsulta == nil || in.FechaConsulta.IsZero() {
		return apperr.BadRequest("fecha_consulta is required")
	}
	in.Diagnostico = strings.TrimSpace(in.Diagnostico)
	if in.Diagnostico == "" {
		return apperr.BadRequest("diagnostico is required")
	}
	if in.Items == nil {
		return apperr.BadRequest("items is required")
	}
	for i := range in.Items {
		if err := in.Items[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// -- Medication catalog --

// CatalogMedication maps to the medication_catalog table.
type CatalogMedication struct {
	ID             uuid.UUID `db:"id" json:"id"`
	NombreGenerico string    `db:"nombre_generico" json:"nombre_generico"`
	Presentacion   *string   `db:"presentacion" json:"presentacion"`
	Forma          *string   `db:"forma" json:"forma"`
	Activo         bool      `db:"activo" json:"activo"`
}

type CatalogMedicationCreate struct {
	NombreGenerico string  `json:"nombre_generico"`
	Presentacion   *string `json:"presentacion"`
	Forma          *string `json:"forma"`
	Activo         *bool   `json:"activo"`
}

func (in *CatalogMedicationCreate) Validate() error {
	in.NombreGenerico = strings.TrimSpace(in.NombreGenerico)
	if in.NombreGenerico == "" {
		return apperr.BadRequest("nombre_generico is required")
	}
	return nil
}

type CatalogMedicationUpdate struct {
	NombreGenerico optional.Field[string] `json:"nombre_generico"`
	Presentacion   optional.Field[string] `json:"presentacion"`
	Forma          optional.Field[string] `json:"forma"`
	Activo         optional.Field[bool]   `json:"activo"`
}

func (u *CatalogMedicationUpdate) Validate() error {
	if u.NombreGenerico.IsNull() || (u.NombreGenerico.V != nil && strings.TrimSpace(*u.NombreGenerico.V) == "") {
		return apperr.BadRequest("nombre_generico is required")
	}
	if u.Activo.IsNull() {
		return apperr.BadRequest("activo must not be null")
	}
	return nil
}

func (u *CatalogMedicationUpdate) Apply(m *CatalogMedication) {
	if u.NombreGenerico.V != nil {
		m.NombreGenerico = strings.TrimSpace(*u.NombreGenerico.V)
	}
	u.Presentacion.ApplyNullable(&m.Presentacion)
	u.Forma.ApplyNullable(&m.Forma)
	u.Activo.Apply(&m.Activo)
}
